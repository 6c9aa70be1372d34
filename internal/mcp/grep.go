package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/spetr/semindex/pkg/types"
)

// DefinitionMatch represents a single match from grep_definitions.
type DefinitionMatch struct {
	Kind          types.EntityKind `json:"kind"`
	Schema        string           `json:"schema"`
	Name          string           `json:"name"`
	Field         string           `json:"field"` // "definition", "description" or "ai_description"
	Line          int              `json:"line"`
	Content       string           `json:"content"`
	ContextBefore []string         `json:"context_before,omitempty"`
	ContextAfter  []string         `json:"context_after,omitempty"`
}

// DefinitionGrepResult represents the result of grep_definitions.
type DefinitionGrepResult struct {
	Matches    []DefinitionMatch `json:"matches"`
	TotalCount int               `json:"total_count"`
	Truncated  bool              `json:"truncated"`
}

// handleGrepDefinitions handles the grep_definitions tool.
func (s *Server) handleGrepDefinitions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pattern := req.GetString("pattern", "")
	if pattern == "" {
		return mcp.NewToolResultError("pattern is required"), nil
	}

	schemaFilter := req.GetString("schema", "")
	contextLines := req.GetInt("context_lines", 2)
	maxResults := req.GetInt("max_results", 50)
	caseSensitive := req.GetBool("case_sensitive", false)
	literal := req.GetBool("literal", false)

	var kind types.EntityKind
	if kindStr := req.GetString("kind", ""); kindStr != "" {
		k, err := types.ParseEntityKind(kindStr)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		kind = k
	}

	re, err := compileGrepPattern(pattern, caseSensitive, literal)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid pattern: %v", err)), nil
	}

	model, err := s.repo.LoadModel(ctx, s.location(req))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load model: %v", err)), nil
	}

	result := GrepDefinitions(model, re, GrepOptions{
		Kind:         kind,
		Schema:       schemaFilter,
		ContextLines: contextLines,
		MaxResults:   maxResults,
	})

	jsonResult, _ := json.MarshalIndent(result, "", "  ")
	return mcp.NewToolResultText(string(jsonResult)), nil
}

// GrepOptions narrows and sizes a definition grep.
type GrepOptions struct {
	Kind         types.EntityKind // empty matches every kind
	Schema       string           // empty matches every schema
	ContextLines int
	MaxResults   int
}

// compileGrepPattern builds the regexp for a grep request.
func compileGrepPattern(pattern string, caseSensitive, literal bool) (*regexp.Regexp, error) {
	if literal {
		pattern = regexp.QuoteMeta(pattern)
	}
	if !caseSensitive {
		pattern = "(?i)" + pattern
	}
	return regexp.Compile(pattern)
}

// GrepDefinitions searches entity definitions and descriptions line by
// line.
func GrepDefinitions(model *types.SemanticModel, re *regexp.Regexp, opts GrepOptions) *DefinitionGrepResult {
	if opts.MaxResults <= 0 {
		opts.MaxResults = 50
	}

	result := &DefinitionGrepResult{Matches: []DefinitionMatch{}}

	for _, e := range model.AllEntities() {
		if opts.Kind != "" && e.Kind != opts.Kind {
			continue
		}
		if opts.Schema != "" && !strings.EqualFold(e.Schema, opts.Schema) {
			continue
		}

		remaining := opts.MaxResults - len(result.Matches)
		if remaining <= 0 {
			result.Truncated = true
			break
		}

		result.Matches = append(result.Matches, grepEntity(e, re, opts.ContextLines, remaining)...)
	}

	if len(result.Matches) >= opts.MaxResults {
		result.Truncated = true
	}
	result.TotalCount = len(result.Matches)
	return result
}

// grepEntity scans the entity's text fields for matches.
func grepEntity(e *types.Entity, re *regexp.Regexp, contextLines, maxMatches int) []DefinitionMatch {
	fields := []struct {
		name string
		text string
	}{
		{"definition", e.Definition},
		{"description", e.Description},
		{"ai_description", e.AIDescription},
	}

	var matches []DefinitionMatch
	for _, f := range fields {
		if f.text == "" || len(matches) >= maxMatches {
			continue
		}
		matches = append(matches, grepLines(e, f.name, f.text, re, contextLines, maxMatches-len(matches))...)
	}
	return matches
}

// grepLines searches one text field line by line, capturing context.
func grepLines(e *types.Entity, field, text string, re *regexp.Regexp, contextLines, maxMatches int) []DefinitionMatch {
	lines := strings.Split(text, "\n")

	var matches []DefinitionMatch
	for i, line := range lines {
		if len(matches) >= maxMatches {
			break
		}
		if !re.MatchString(line) {
			continue
		}

		match := DefinitionMatch{
			Kind:    e.Kind,
			Schema:  e.Schema,
			Name:    e.Name,
			Field:   field,
			Line:    i + 1, // 1-indexed
			Content: line,
		}

		if contextLines > 0 {
			start := i - contextLines
			if start < 0 {
				start = 0
			}
			match.ContextBefore = append(match.ContextBefore, lines[start:i]...)

			end := i + contextLines + 1
			if end > len(lines) {
				end = len(lines)
			}
			match.ContextAfter = append(match.ContextAfter, lines[i+1:end]...)
		}

		matches = append(matches, match)
	}

	return matches
}
