package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/spetr/semindex/pkg/types"
)

// TreeNode represents a node in the model tree.
type TreeNode struct {
	Name string `json:"name"`
	Type string `json:"type"` // "model", "schema", "kind" or "entity"

	// Entity leaves only.
	Kind       types.EntityKind `json:"kind,omitempty"`
	Described  bool             `json:"described,omitempty"` // has an AI description
	Columns    int              `json:"columns,omitempty"`
	Parameters int              `json:"parameters,omitempty"`

	Children []*TreeNode `json:"children,omitempty"`

	// Aggregated stats for container nodes.
	EntityCount    int `json:"entity_count,omitempty"`
	DescribedCount int `json:"described_count,omitempty"`
}

// TreeResult represents the result of get_model_tree.
type TreeResult struct {
	Root          *TreeNode `json:"root"`
	TotalEntities int       `json:"total_entities"`
	Described     int       `json:"described"`
}

// handleGetModelTree handles the get_model_tree tool.
func (s *Server) handleGetModelTree(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	schemaFilter := req.GetString("schema", "")
	includeEntities := req.GetBool("include_entities", true)
	format := req.GetString("format", "json")

	model, err := s.repo.LoadModel(ctx, s.location(req))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load model: %v", err)), nil
	}

	result := BuildModelTree(model, schemaFilter, includeEntities)

	switch format {
	case "text":
		return mcp.NewToolResultText(FormatTreeText(result.Root)), nil
	case "markdown":
		return mcp.NewToolResultText(FormatTreeMarkdown(result.Root, 0)), nil
	default: // json
		jsonResult, _ := json.MarshalIndent(result, "", "  ")
		return mcp.NewToolResultText(string(jsonResult)), nil
	}
}

// BuildModelTree groups the model's entities into a tree: model, then
// schema, then kind, then entity leaves. An empty schemaFilter keeps
// every schema. With includeEntities false the leaves are dropped but
// the aggregated counts remain.
func BuildModelTree(model *types.SemanticModel, schemaFilter string, includeEntities bool) *TreeResult {
	bySchema := make(map[string]map[types.EntityKind][]*types.Entity)
	for _, e := range model.AllEntities() {
		if schemaFilter != "" && !strings.EqualFold(e.Schema, schemaFilter) {
			continue
		}
		if bySchema[e.Schema] == nil {
			bySchema[e.Schema] = make(map[types.EntityKind][]*types.Entity)
		}
		bySchema[e.Schema][e.Kind] = append(bySchema[e.Schema][e.Kind], e)
	}

	schemas := make([]string, 0, len(bySchema))
	for schema := range bySchema {
		schemas = append(schemas, schema)
	}
	sort.Slice(schemas, func(i, j int) bool {
		return strings.ToLower(schemas[i]) < strings.ToLower(schemas[j])
	})

	root := &TreeNode{Name: model.Name, Type: "model"}
	result := &TreeResult{Root: root}

	for _, schema := range schemas {
		schemaNode := &TreeNode{Name: schema, Type: "schema"}

		for _, kind := range types.EntityKinds {
			entities := bySchema[schema][kind]
			if len(entities) == 0 {
				continue
			}
			sort.Slice(entities, func(i, j int) bool {
				return strings.ToLower(entities[i].Name) < strings.ToLower(entities[j].Name)
			})

			kindNode := &TreeNode{Name: kind.Folder(), Type: "kind"}
			for _, e := range entities {
				described := e.AIDescription != ""
				kindNode.EntityCount++
				if described {
					kindNode.DescribedCount++
				}
				if includeEntities {
					kindNode.Children = append(kindNode.Children, &TreeNode{
						Name:       e.Name,
						Type:       "entity",
						Kind:       e.Kind,
						Described:  described,
						Columns:    len(e.Columns),
						Parameters: len(e.Parameters),
					})
				}
			}

			schemaNode.EntityCount += kindNode.EntityCount
			schemaNode.DescribedCount += kindNode.DescribedCount
			schemaNode.Children = append(schemaNode.Children, kindNode)
		}

		root.EntityCount += schemaNode.EntityCount
		root.DescribedCount += schemaNode.DescribedCount
		root.Children = append(root.Children, schemaNode)
	}

	result.TotalEntities = root.EntityCount
	result.Described = root.DescribedCount
	return result
}

// FormatTreeText formats the tree as ASCII art.
func FormatTreeText(node *TreeNode) string {
	var sb strings.Builder
	writeTreeText(&sb, node, "", true)
	return sb.String()
}

func writeTreeText(sb *strings.Builder, node *TreeNode, prefix string, isLast bool) {
	connector := "├── "
	if isLast {
		connector = "└── "
	}
	if prefix == "" && node.Type == "model" {
		connector = ""
	}

	name := node.Name
	switch node.Type {
	case "entity":
		if node.Described {
			name += " ✓"
		}
	default:
		name += "/"
		if node.EntityCount > 0 {
			name += fmt.Sprintf(" (%d entities", node.EntityCount)
			if node.DescribedCount > 0 {
				name += fmt.Sprintf(", %d described", node.DescribedCount)
			}
			name += ")"
		}
	}

	sb.WriteString(prefix + connector + name + "\n")

	if len(node.Children) == 0 {
		return
	}

	childPrefix := prefix
	if !(prefix == "" && node.Type == "model") {
		if isLast {
			childPrefix += "    "
		} else {
			childPrefix += "│   "
		}
	}

	for i, child := range node.Children {
		writeTreeText(sb, child, childPrefix, i == len(node.Children)-1)
	}
}

// FormatTreeMarkdown formats the tree as nested Markdown lists.
func FormatTreeMarkdown(node *TreeNode, depth int) string {
	var sb strings.Builder
	indent := strings.Repeat("  ", depth)

	if node.Type == "entity" {
		sb.WriteString(fmt.Sprintf("%s- %s", indent, node.Name))
		if node.Described {
			sb.WriteString(" ✓")
		}
		sb.WriteString("\n")
		return sb.String()
	}

	sb.WriteString(fmt.Sprintf("%s- **%s/**", indent, node.Name))
	if node.EntityCount > 0 {
		sb.WriteString(fmt.Sprintf(" *(%d entities)*", node.EntityCount))
	}
	sb.WriteString("\n")

	for _, child := range node.Children {
		sb.WriteString(FormatTreeMarkdown(child, depth+1))
	}

	return sb.String()
}
