// Package mcp implements the MCP server for semantic model search and
// vector generation.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/spetr/semindex/internal/config"
	"github.com/spetr/semindex/internal/search"
	"github.com/spetr/semindex/internal/vectorize"
	"github.com/spetr/semindex/pkg/provider"
	"github.com/spetr/semindex/pkg/types"
)

// Server implements the MCP server.
type Server struct {
	mcpServer    *server.MCPServer
	config       *config.Config
	repo         provider.ModelRepository
	index        provider.VectorIndex
	embedding    provider.EmbeddingProvider
	descriptor   *types.VectorInfrastructure
	orchestrator *vectorize.Orchestrator
	search       *search.Engine
}

// Config contains server configuration.
type Config struct {
	Config     *config.Config
	Repository provider.ModelRepository
	Index      provider.VectorIndex
	Embedding  provider.EmbeddingProvider
	Descriptor *types.VectorInfrastructure
}

// New creates a new MCP server.
func New(cfg Config) (*Server, error) {
	s := &Server{
		config:     cfg.Config,
		repo:       cfg.Repository,
		index:      cfg.Index,
		embedding:  cfg.Embedding,
		descriptor: cfg.Descriptor,
	}

	s.orchestrator = vectorize.New(vectorize.Config{
		Repository:     cfg.Repository,
		Index:          cfg.Index,
		Embedding:      cfg.Embedding,
		Descriptor:     cfg.Descriptor,
		EmbeddingModel: cfg.Config.Embedding.Model,
		OnProgress: func(p types.GenerateProgress) {
			slog.Debug("progress",
				"processed", p.Processed,
				"skipped", p.Skipped,
				"failed", p.Failed,
				"entity", p.CurrentEntity)
		},
	})

	s.search = search.New(search.Config{
		Repository: cfg.Repository,
		Index:      cfg.Index,
		Embedding:  cfg.Embedding,
		Descriptor: cfg.Descriptor,
	})

	mcpServer := server.NewMCPServer(
		"semindex",
		"0.1.0",
		server.WithLogging(),
	)

	s.registerTools(mcpServer)

	s.mcpServer = mcpServer
	return s, nil
}

// registerTools registers all MCP tools.
func (s *Server) registerTools(mcpServer *server.MCPServer) {
	// search_model - Semantic entity search
	mcpServer.AddTool(mcp.NewTool("search_model",
		mcp.WithDescription("Search model entities using semantic similarity"),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query")),
		mcp.WithNumber("limit", mcp.Description("Maximum results (default 10)")),
		mcp.WithString("model", mcp.Description("Restrict results to one model name")),
		mcp.WithArray("kinds", mcp.Description("Filter by entity kind: table, view, storedprocedure")),
	), s.handleSearchModel)

	// fuzzy_search - Name-based entity search
	mcpServer.AddTool(mcp.NewTool("fuzzy_search",
		mcp.WithDescription("Find entities by approximate name - e.g. 'custorder' finds 'CustomerOrders'"),
		mcp.WithString("query", mcp.Required(), mcp.Description("Entity name or fragment")),
		mcp.WithString("kind", mcp.Description("Filter by entity kind: table, view, storedprocedure")),
		mcp.WithNumber("limit", mcp.Description("Maximum results (default 20)")),
		mcp.WithString("location", mcp.Description("Model location (default from config)")),
	), s.handleFuzzySearch)

	// generate_vectors - Generate embeddings for model entities
	mcpServer.AddTool(mcp.NewTool("generate_vectors",
		mcp.WithDescription("Generate embedding vectors for model entities and store them"),
		mcp.WithString("location", mcp.Description("Model location (default from config)")),
		mcp.WithBoolean("force", mcp.Description("Regenerate even when entity content is unchanged")),
		mcp.WithBoolean("dry_run", mcp.Description("Report what would be generated without writing anything")),
		mcp.WithArray("kinds", mcp.Description("Restrict to entity kinds")),
		mcp.WithString("schema", mcp.Description("Restrict to one schema")),
		mcp.WithString("name", mcp.Description("Restrict to one entity name")),
		mcp.WithNumber("workers", mcp.Description("Parallel workers (default from config)")),
	), s.handleGenerateVectors)

	// reconcile_index - Rebuild the index from persisted embeddings
	mcpServer.AddTool(mcp.NewTool("reconcile_index",
		mcp.WithDescription("Rebuild the vector index from persisted embeddings without calling the embedding service"),
		mcp.WithString("location", mcp.Description("Model location (default from config)")),
	), s.handleReconcileIndex)

	// get_model_status - Entity and index statistics
	mcpServer.AddTool(mcp.NewTool("get_model_status",
		mcp.WithDescription("Get entity counts and vector index statistics for a model"),
		mcp.WithString("location", mcp.Description("Model location (default from config)")),
	), s.handleGetModelStatus)

	// list_models - Enumerate stored models
	mcpServer.AddTool(mcp.NewTool("list_models",
		mcp.WithDescription("List model locations present in the repository"),
		mcp.WithString("root", mcp.Description("Root location to list under")),
	), s.handleListModels)

	// get_entity - One entity with embedding metadata
	mcpServer.AddTool(mcp.NewTool("get_entity",
		mcp.WithDescription("Get one entity with its persisted embedding metadata"),
		mcp.WithString("kind", mcp.Required(), mcp.Description("Entity kind: table, view, storedprocedure")),
		mcp.WithString("schema", mcp.Required(), mcp.Description("Schema name")),
		mcp.WithString("name", mcp.Required(), mcp.Description("Entity name")),
		mcp.WithString("location", mcp.Description("Model location (default from config)")),
	), s.handleGetEntity)

	// get_model_tree - Model structure as a tree
	mcpServer.AddTool(mcp.NewTool("get_model_tree",
		mcp.WithDescription("Get the model structure as a tree (json/text/markdown)"),
		mcp.WithString("location", mcp.Description("Model location (default from config)")),
		mcp.WithString("schema", mcp.Description("Restrict to one schema")),
		mcp.WithBoolean("include_entities", mcp.Description("Include entity leaves (default true)")),
		mcp.WithString("format", mcp.Description("Output format: json, text, markdown (default json)")),
	), s.handleGetModelTree)

	// grep_definitions - Exact text search over entity text
	mcpServer.AddTool(mcp.NewTool("grep_definitions",
		mcp.WithDescription("Exact text/regex search over entity definitions and descriptions"),
		mcp.WithString("pattern", mcp.Required(), mcp.Description("Regex pattern")),
		mcp.WithString("kind", mcp.Description("Filter by entity kind")),
		mcp.WithString("schema", mcp.Description("Filter by schema")),
		mcp.WithNumber("context_lines", mcp.Description("Lines of context (default 2)")),
		mcp.WithNumber("max_results", mcp.Description("Maximum matches (default 50)")),
		mcp.WithBoolean("case_sensitive", mcp.Description("Case sensitive matching")),
		mcp.WithBoolean("literal", mcp.Description("Treat pattern as a literal string")),
		mcp.WithString("location", mcp.Description("Model location (default from config)")),
	), s.handleGrepDefinitions)
}

// location resolves the location argument, falling back to the
// configured default model.
func (s *Server) location(req mcp.CallToolRequest) string {
	return req.GetString("location", s.config.ModelLocation())
}

// parseKinds converts kind names into entity kinds.
func parseKinds(names []string) ([]types.EntityKind, error) {
	kinds := make([]types.EntityKind, 0, len(names))
	for _, n := range names {
		k, err := types.ParseEntityKind(n)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

func (s *Server) handleSearchModel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := req.GetString("query", "")
	if query == "" {
		return mcp.NewToolResultError("query is required"), nil
	}

	limit := req.GetInt("limit", 10)
	model := req.GetString("model", "")

	kinds, err := parseKinds(req.GetStringSlice("kinds", nil))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	results, err := s.search.Search(ctx, &search.Request{
		Query:     query,
		Limit:     limit,
		ModelName: model,
		Kinds:     kinds,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}

	jsonResult, _ := json.MarshalIndent(results, "", "  ")
	return mcp.NewToolResultText(string(jsonResult)), nil
}

func (s *Server) handleFuzzySearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := req.GetString("query", "")
	if query == "" {
		return mcp.NewToolResultError("query is required"), nil
	}

	limit := req.GetInt("limit", 20)

	var kind types.EntityKind
	if kindStr := req.GetString("kind", ""); kindStr != "" {
		k, err := types.ParseEntityKind(kindStr)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		kind = k
	}

	matches, err := s.search.FuzzySearchEntities(ctx, s.location(req), query, kind, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("fuzzy search failed: %v", err)), nil
	}

	var formatted []map[string]any
	for _, m := range matches {
		formatted = append(formatted, map[string]any{
			"kind":        m.Entity.Kind,
			"schema":      m.Entity.Schema,
			"name":        m.Entity.Name,
			"description": m.Entity.Description,
			"score":       m.Score,
			"match_type":  m.MatchType,
		})
	}

	jsonResult, _ := json.MarshalIndent(formatted, "", "  ")
	return mcp.NewToolResultText(string(jsonResult)), nil
}

func (s *Server) handleGenerateVectors(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	location := s.location(req)
	force := req.GetBool("force", false)
	dryRun := req.GetBool("dry_run", false)

	kinds, err := parseKinds(req.GetStringSlice("kinds", nil))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	slog.Info("starting vector generation", "location", location, "force", force, "dry_run", dryRun)

	result, err := s.orchestrator.Generate(ctx, location, &types.GenerateRequest{
		Overwrite: force,
		DryRun:    dryRun,
		Kinds:     kinds,
		Schema:    req.GetString("schema", ""),
		Name:      req.GetString("name", ""),
		Workers:   req.GetInt("workers", s.config.Generation.Workers),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("generation failed: %v", err)), nil
	}

	out := map[string]any{
		"run_id":    result.RunID,
		"processed": result.Processed,
		"skipped":   result.Skipped,
		"failed":    result.Failed,
		"dry_run":   result.DryRun,
		"duration":  result.Duration.Round(time.Millisecond).String(),
	}

	jsonResult, _ := json.MarshalIndent(out, "", "  ")
	return mcp.NewToolResultText(string(jsonResult)), nil
}

func (s *Server) handleReconcileIndex(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := s.orchestrator.Reconcile(ctx, s.location(req))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("reconcile failed: %v", err)), nil
	}

	out := map[string]any{
		"restored": result.Restored,
		"missing":  result.Missing,
		"failed":   result.Failed,
		"duration": result.Duration.Round(time.Millisecond).String(),
	}

	jsonResult, _ := json.MarshalIndent(out, "", "  ")
	return mcp.NewToolResultText(string(jsonResult)), nil
}

func (s *Server) handleGetModelStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.orchestrator.Stats(ctx, s.location(req))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get status: %v", err)), nil
	}

	result := map[string]any{
		"model":             stats.ModelName,
		"tables":            stats.Tables,
		"views":             stats.Views,
		"stored_procedures": stats.StoredProcedures,
		"entities":          stats.Tables + stats.Views + stats.StoredProcedures,
		"indexed_vectors":   stats.IndexedVectors,
		"repository":        s.repo.Name(),
		"vector_index":      s.descriptor.Provider,
		"embedding_model":   fmt.Sprintf("%s/%s", s.config.Embedding.Provider, s.config.Embedding.Model),
	}

	jsonResult, _ := json.MarshalIndent(result, "", "  ")
	return mcp.NewToolResultText(string(jsonResult)), nil
}

func (s *Server) handleListModels(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	locations, err := s.repo.ListModels(ctx, req.GetString("root", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list models: %v", err)), nil
	}

	result := map[string]any{
		"models": locations,
		"count":  len(locations),
	}

	jsonResult, _ := json.MarshalIndent(result, "", "  ")
	return mcp.NewToolResultText(string(jsonResult)), nil
}

func (s *Server) handleGetEntity(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	kindStr := req.GetString("kind", "")
	schema := req.GetString("schema", "")
	name := req.GetString("name", "")
	if kindStr == "" || schema == "" || name == "" {
		return mcp.NewToolResultError("kind, schema and name are required"), nil
	}

	kind, err := types.ParseEntityKind(kindStr)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	env, err := s.repo.LoadEntityEnvelope(ctx, s.location(req), kind, schema, name)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("entity not found: %s %s.%s", kind, schema, name)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("failed to load entity: %v", err)), nil
	}

	result := map[string]any{
		"entity": env.Data,
	}
	if env.Embedding != nil && env.Embedding.Metadata != nil {
		m := env.Embedding.Metadata
		result["embedding"] = map[string]any{
			"service":      m.Service,
			"model":        m.Model,
			"dimensions":   m.Dimensions,
			"content_hash": m.ContentHash,
			"generated_at": m.GeneratedAt.Format(time.RFC3339),
		}
		result["has_vector"] = len(env.Embedding.Vector) > 0
	}

	jsonResult, _ := json.MarshalIndent(result, "", "  ")
	return mcp.NewToolResultText(string(jsonResult)), nil
}

// ServeStdio serves MCP over stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}
