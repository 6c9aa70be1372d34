package search

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/spetr/semindex/pkg/types"
)

// FuzzyMatch represents a fuzzy name match.
type FuzzyMatch struct {
	Entity    *types.Entity `json:"entity"`
	Score     float32       `json:"score"`      // 0-1, higher is better
	MatchType string        `json:"match_type"` // exact, prefix, contains, fuzzy, token
}

// FuzzySearchEntities matches entity names in the model stored at
// location without touching the vector index. Useful when the caller
// knows part of a name rather than what the entity means.
func (e *Engine) FuzzySearchEntities(ctx context.Context, location, query string, kind types.EntityKind, limit int) ([]*FuzzyMatch, error) {
	if limit == 0 {
		limit = 20
	}

	model, err := e.repo.LoadModel(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}

	queryLower := strings.ToLower(query)
	queryTokens := tokenize(query)

	var matches []*FuzzyMatch

	for _, ent := range model.AllEntities() {
		if kind != "" && ent.Kind != kind {
			continue
		}

		nameLower := strings.ToLower(ent.Name)
		qualifiedLower := strings.ToLower(ent.QualifiedName())

		var score float32
		var matchType string

		switch {
		case nameLower == queryLower || qualifiedLower == queryLower:
			score = 1.0
			matchType = "exact"
		case strings.HasPrefix(nameLower, queryLower):
			score = 0.9
			matchType = "prefix"
		case strings.Contains(nameLower, queryLower) || strings.Contains(qualifiedLower, queryLower):
			score = 0.7
			matchType = "contains"
		default:
			if fuzzyScore := fuzzyMatch(queryLower, nameLower); fuzzyScore > 0.3 {
				score = fuzzyScore * 0.6
				matchType = "fuzzy"
			}

			// CamelCase/snake_case token matching catches queries like
			// "cust order" against CustomerOrders.
			if tokenScore := tokenMatch(queryTokens, tokenize(ent.Name)); tokenScore*0.8 > score {
				score = tokenScore * 0.8
				matchType = "token"
			}
		}

		if score > 0.3 {
			matches = append(matches, &FuzzyMatch{
				Entity:    ent,
				Score:     score,
				MatchType: matchType,
			})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})

	if len(matches) > limit {
		matches = matches[:limit]
	}

	return matches, nil
}

// FuzzySearchModels matches persisted model locations under root.
func (e *Engine) FuzzySearchModels(ctx context.Context, root, query string, limit int) ([]string, error) {
	if limit == 0 {
		limit = 20
	}

	locations, err := e.repo.ListModels(ctx, root)
	if err != nil {
		return nil, err
	}

	queryLower := strings.ToLower(query)

	type modelMatch struct {
		location string
		score    float32
	}

	var matches []modelMatch
	for _, location := range locations {
		locationLower := strings.ToLower(location)

		var score float32
		switch {
		case locationLower == queryLower:
			score = 1.0
		case strings.HasPrefix(locationLower, queryLower):
			score = 0.9
		case strings.Contains(locationLower, queryLower):
			score = 0.7
		default:
			score = fuzzyMatch(queryLower, locationLower) * 0.4
		}

		if score > 0.2 {
			matches = append(matches, modelMatch{location: location, score: score})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].score > matches[j].score
	})

	result := make([]string, 0, limit)
	for i := 0; i < len(matches) && i < limit; i++ {
		result = append(result, matches[i].location)
	}
	return result, nil
}

// fuzzyMatch scores similarity using the longest common subsequence,
// with a bonus for consecutive matched characters.
func fuzzyMatch(query, target string) float32 {
	if len(query) == 0 || len(target) == 0 {
		return 0
	}

	lcs, indices := longestCommonSubsequence(query, target)
	if len(lcs) == 0 {
		return 0
	}

	matchRatio := float32(len(lcs)) / float32(len(query))
	targetRatio := float32(len(lcs)) / float32(len(target))

	consecutiveBonus := float32(0)
	for i := 1; i < len(indices); i++ {
		if indices[i] == indices[i-1]+1 {
			consecutiveBonus += 0.05
		}
	}

	score := matchRatio*0.6 + targetRatio*0.3 + consecutiveBonus*0.1
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// longestCommonSubsequence finds the LCS and returns matched indices in
// target.
func longestCommonSubsequence(s1, s2 string) (string, []int) {
	m, n := len(s1), len(s2)
	if m == 0 || n == 0 {
		return "", nil
	}

	dp := make([][]int, m+1)
	for i := range dp {
		dp[i] = make([]int, n+1)
	}

	for i := 1; i <= m; i++ {
		for j := 1; j <= n; j++ {
			if s1[i-1] == s2[j-1] {
				dp[i][j] = dp[i-1][j-1] + 1
			} else {
				dp[i][j] = max(dp[i-1][j], dp[i][j-1])
			}
		}
	}

	lcs := make([]byte, 0, dp[m][n])
	indices := make([]int, 0, dp[m][n])
	i, j := m, n
	for i > 0 && j > 0 {
		if s1[i-1] == s2[j-1] {
			lcs = append([]byte{s1[i-1]}, lcs...)
			indices = append([]int{j - 1}, indices...)
			i--
			j--
		} else if dp[i-1][j] > dp[i][j-1] {
			i--
		} else {
			j--
		}
	}

	return string(lcs), indices
}

// tokenize splits a name into tokens (handles CamelCase and snake_case).
func tokenize(name string) []string {
	var tokens []string
	var current strings.Builder

	for i, r := range name {
		if r == '_' || r == '-' || r == '.' || r == ' ' {
			if current.Len() > 0 {
				tokens = append(tokens, current.String())
				current.Reset()
			}
			continue
		}

		if unicode.IsUpper(r) && i > 0 {
			if current.Len() > 0 {
				tokens = append(tokens, current.String())
				current.Reset()
			}
		}

		current.WriteRune(unicode.ToLower(r))
	}

	if current.Len() > 0 {
		tokens = append(tokens, current.String())
	}

	return tokens
}

// tokenMatch calculates how well query tokens match target tokens.
func tokenMatch(queryTokens, targetTokens []string) float32 {
	if len(queryTokens) == 0 || len(targetTokens) == 0 {
		return 0
	}

	matched := 0
	for _, qt := range queryTokens {
		for _, tt := range targetTokens {
			if strings.HasPrefix(tt, qt) {
				matched++
				break
			}
		}
	}

	return float32(matched) / float32(len(queryTokens))
}
