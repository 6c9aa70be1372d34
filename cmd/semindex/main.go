package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	_ "github.com/spetr/semindex/builtin"
	"github.com/spetr/semindex/internal/config"
	"github.com/spetr/semindex/internal/mcp"
	"github.com/spetr/semindex/internal/perf"
	"github.com/spetr/semindex/internal/scaffold"
	"github.com/spetr/semindex/internal/search"
	"github.com/spetr/semindex/internal/vectorize"
	"github.com/spetr/semindex/pkg/plugin/host"
	"github.com/spetr/semindex/pkg/provider"
	"github.com/spetr/semindex/pkg/types"
)

var (
	version = "0.1.0"

	cfgFile      string
	logLevel     string
	logFormat    string
	logLevelSet  bool
	logFormatSet bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "semindex",
	Short: "Semantic model store with a derived vector index",
	Long: `semindex persists hierarchical semantic models of SQL databases and
maintains a vector index derived from them for similarity search.

Models are stored under a pluggable repository strategy (localdisk,
s3blob, postgres); entity vectors live in a memory, sqlitevec or
pgvector index selected by policy from the strategy.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logLevelSet = cmd.Flags().Changed("log-level")
		logFormatSet = cmd.Flags().Changed("log-format")
		setupLogging()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("semindex %s\n", version)
		fmt.Printf("Go version: %s\n", runtime.Version())
		fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

var initCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Initialize a project for model indexing",
	Long: `Initialize a project: detect available services, write the config
file and environment template, and create the model directory skeleton
for the localdisk strategy.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		path := "."
		if len(args) > 0 {
			path = args[0]
		}
		modelName, _ := cmd.Flags().GetString("model")
		strategy, _ := cmd.Flags().GetString("strategy")
		force, _ := cmd.Flags().GetBool("force")
		runInit(path, modelName, strategy, force)
	},
}

var generateCmd = &cobra.Command{
	Use:   "generate [location]",
	Short: "Generate embedding vectors for model entities",
	Long: `Generate embedding vectors for the entities of a persisted model.
Unchanged entities are skipped by content hash; --overwrite regenerates
everything and --dry-run reports intended actions without calling the
embedding provider or writing anything.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		location := ""
		if len(args) > 0 {
			location = args[0]
		}
		overwrite, _ := cmd.Flags().GetBool("overwrite")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		kinds, _ := cmd.Flags().GetStringSlice("kind")
		schema, _ := cmd.Flags().GetString("schema")
		name, _ := cmd.Flags().GetString("name")
		workers, _ := cmd.Flags().GetInt("workers")
		runGenerate(location, overwrite, dryRun, kinds, schema, name, workers)
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile [location]",
	Short: "Re-upsert stored vectors into the index",
	Long: `Reconcile pushes the vectors stored with a persisted model back into
the vector index without calling the embedding provider. Use it after
an index was dropped or rebuilt, or when an index write failed after
the entity was persisted.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		location := ""
		if len(args) > 0 {
			location = args[0]
		}
		runReconcile(location)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status [location]",
	Short: "Show model and index statistics",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		location := ""
		if len(args) > 0 {
			location = args[0]
		}
		verbose, _ := cmd.Flags().GetBool("verbose")
		runStatus(location, verbose)
	},
}

var modelsCmd = &cobra.Command{
	Use:   "models [root]",
	Short: "List persisted models",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		root := ""
		if len(args) > 0 {
			root = args[0]
		}
		runModels(root)
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search model entities by meaning",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		limit, _ := cmd.Flags().GetInt("limit")
		model, _ := cmd.Flags().GetString("model")
		kinds, _ := cmd.Flags().GetStringSlice("kind")
		runSearch(args[0], limit, model, kinds)
	},
}

var fuzzyCmd = &cobra.Command{
	Use:   "fuzzy <query>",
	Short: "Fuzzy search for entities or models by name",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		kind, _ := cmd.Flags().GetString("kind")
		searchType, _ := cmd.Flags().GetString("type")
		limit, _ := cmd.Flags().GetInt("limit")
		location, _ := cmd.Flags().GetString("location")
		runFuzzy(args[0], kind, searchType, limit, location)
	},
}

var entityCmd = &cobra.Command{
	Use:   "entity <kind> <schema> <name>",
	Short: "Show one persisted entity",
	Args:  cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		location, _ := cmd.Flags().GetString("location")
		runEntity(args[0], args[1], args[2], location)
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch [path]",
	Short: "Watch the model root and regenerate on change",
	Long: `Watch the localdisk model root for entity file changes and run a
hash-gated generation pass when they settle. Only available with the
localdisk repository strategy.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		path := "."
		if len(args) > 0 {
			path = args[0]
		}
		debounce, _ := cmd.Flags().GetInt("debounce")
		runWatch(path, debounce)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server",
	Run: func(cmd *cobra.Command, args []string) {
		stdio, _ := cmd.Flags().GetBool("stdio")
		runServe(stdio)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default config file",
	Run: func(cmd *cobra.Command, args []string) {
		runConfigInit()
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Run: func(cmd *cobra.Command, args []string) {
		runConfigValidate()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Run: func(cmd *cobra.Command, args []string) {
		runConfigShow()
	},
}

var pluginCmd = &cobra.Command{
	Use:   "plugin",
	Short: "Plugin management",
}

var pluginListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available plugins",
	Run: func(cmd *cobra.Command, args []string) {
		runPluginList()
	},
}

var pluginLoadCmd = &cobra.Command{
	Use:   "load <name>",
	Short: "Load and test an embedding plugin",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runPluginLoad(args[0])
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .semindex/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	initCmd.Flags().String("model", "", "default model name")
	initCmd.Flags().String("strategy", "", "repository strategy (localdisk, s3blob, postgres)")
	initCmd.Flags().BoolP("force", "f", false, "overwrite an existing config file")

	generateCmd.Flags().Bool("overwrite", false, "regenerate even when the content hash matches")
	generateCmd.Flags().Bool("dry-run", false, "show what would be generated")
	generateCmd.Flags().StringSlice("kind", nil, "restrict to entity kinds (table, view, storedprocedure)")
	generateCmd.Flags().String("schema", "", "restrict to one entity schema (with --name)")
	generateCmd.Flags().String("name", "", "restrict to one entity name (with --schema)")
	generateCmd.Flags().IntP("workers", "w", 0, "parallel workers (0 = from config)")

	statusCmd.Flags().BoolP("verbose", "v", false, "show configuration and operation statistics")

	searchCmd.Flags().IntP("limit", "l", 10, "maximum results")
	searchCmd.Flags().StringP("model", "m", "", "restrict results to one model name")
	searchCmd.Flags().StringSlice("kind", nil, "restrict to entity kinds (table, view, storedprocedure)")

	fuzzyCmd.Flags().StringP("kind", "k", "", "entity kind filter (table, view, storedprocedure)")
	fuzzyCmd.Flags().StringP("type", "t", "entities", "search type (entities, models)")
	fuzzyCmd.Flags().IntP("limit", "l", 20, "maximum results")
	fuzzyCmd.Flags().String("location", "", "model location (default from config)")

	entityCmd.Flags().String("location", "", "model location (default from config)")

	watchCmd.Flags().Int("debounce", 500, "debounce time in milliseconds")

	serveCmd.Flags().Bool("stdio", false, "use stdio transport (for MCP)")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)

	pluginCmd.AddCommand(pluginListCmd)
	pluginCmd.AddCommand(pluginLoadCmd)

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(fuzzyCmd)
	rootCmd.AddCommand(entityCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(pluginCmd)
}

func setupLogging() {
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))
}

// loadConfigFile reads the configuration, honoring a --config override.
func loadConfigFile(projectRoot string) (*config.Config, []string, error) {
	if cfgFile == "" {
		return config.Load(projectRoot)
	}
	path, err := filepath.Abs(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	if _, err := os.Stat(path); err != nil {
		return nil, nil, fmt.Errorf("config file not accessible: %w", err)
	}
	return config.LoadAt(projectRoot, path)
}

// loadConfig loads the project configuration and applies its logging
// settings unless the flags overrode them.
func loadConfig(projectRoot string) *config.Config {
	cfg, warnings, err := loadConfigFile(projectRoot)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	for _, w := range warnings {
		slog.Warn(w)
	}

	if !logLevelSet && cfg.Logging.Level != "" {
		logLevel = cfg.Logging.Level
	}
	if !logFormatSet && cfg.Logging.Format != "" {
		logFormat = cfg.Logging.Format
	}
	setupLogging()

	return cfg
}

// repositoryConfig maps the config for the repository factory with the
// localdisk root resolved against the project root.
func repositoryConfig(cfg *config.Config, projectRoot string) provider.RepositoryConfig {
	repoCfg := cfg.ProviderRepositoryConfig()
	if repoCfg.Strategy == vectorize.StrategyLocalDisk && !filepath.IsAbs(repoCfg.Root) {
		repoCfg.Root = filepath.Join(projectRoot, repoCfg.Root)
	}
	return repoCfg
}

// pluginsDir resolves the plugins directory against the project root.
func pluginsDir(cfg *config.Config, projectRoot string) string {
	dir := cfg.Plugins.Dir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(projectRoot, dir)
	}
	return dir
}

// openInfra resolves and opens the repository, vector index and
// embedding provider selected by the configuration.
func openInfra(cfg *config.Config, projectRoot string) *vectorize.Infra {
	inf, err := vectorize.OpenInfra(vectorize.InfraOptions{
		Repository: repositoryConfig(cfg, projectRoot),
		Embedding:  cfg.ProviderEmbeddingConfig(),
		Settings:   cfg.VectorSettings(),
		PluginsDir: pluginsDir(cfg, projectRoot),
	})
	if err != nil {
		slog.Error("failed to open infrastructure", "error", err)
		os.Exit(1)
	}
	return inf
}

// openRepository opens only the repository strategy, for commands that
// never touch the index or the embedding provider.
func openRepository(cfg *config.Config, projectRoot string) provider.ModelRepository {
	repo, err := provider.OpenRepository(cfg.Repository.Strategy, repositoryConfig(cfg, projectRoot))
	if err != nil {
		slog.Error("failed to open repository", "error", err)
		os.Exit(1)
	}
	return repo
}

func closeProviders() {
	if err := provider.CloseAll(); err != nil {
		slog.Warn("failed to close providers", "error", err)
	}
}

func parseEntityKinds(raw []string) ([]types.EntityKind, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	kinds := make([]types.EntityKind, 0, len(raw))
	for _, s := range raw {
		kind, err := types.ParseEntityKind(s)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, kind)
	}
	return kinds, nil
}

func runInit(path, modelName, strategy string, force bool) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		slog.Error("invalid path", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	fmt.Print("Detecting environment... ")
	env := scaffold.DetectEnvironment(ctx)
	fmt.Println("done")
	fmt.Println()
	fmt.Println(env.Summary())

	result, err := scaffold.Init(ctx, absPath, scaffold.Options{
		ModelName:   modelName,
		Strategy:    strategy,
		Force:       force,
		Environment: &env,
	})
	if err != nil {
		if errors.Is(err, scaffold.ErrConfigExists) {
			fmt.Printf("%v\n", err)
			fmt.Println("Use --force to overwrite it.")
			os.Exit(1)
		}
		slog.Error("initialization failed", "error", err)
		os.Exit(1)
	}

	fmt.Println(result.Summary())
}

func runGenerate(location string, overwrite, dryRun bool, rawKinds []string, schema, name string, workers int) {
	cwd, _ := os.Getwd()
	cfg := loadConfig(cwd)

	if location == "" {
		location = cfg.ModelLocation()
	}

	kinds, err := parseEntityKinds(rawKinds)
	if err != nil {
		slog.Error("invalid kind filter", "error", err)
		os.Exit(1)
	}

	slog.Info("generating vectors",
		"location", location,
		"strategy", cfg.Repository.Strategy,
		"embedding", cfg.Embedding.Provider+"/"+cfg.Embedding.Model,
		"overwrite", overwrite,
		"dry_run", dryRun,
	)

	inf := openInfra(cfg, cwd)
	defer inf.Close()
	defer closeProviders()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Generation.Timeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, cfg.Generation.Timeout)
		defer cancelTimeout()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		sig := <-sigChan
		slog.Info("received interrupt signal, stopping generation...", "signal", sig)
		cancel()
	}()

	if !dryRun {
		if err := inf.Embedding.Warmup(ctx); err != nil {
			slog.Warn("embedding warmup failed", "error", err)
		}
	}

	orchestrator := vectorize.NewFromInfra(inf, cfg.Embedding.Model, func(p types.GenerateProgress) {
		done := p.Processed + p.Skipped + p.Failed
		fmt.Printf("\rEntities: %d/%d (processed %d, skipped %d, failed %d)",
			done, p.Total, p.Processed, p.Skipped, p.Failed)
	})

	req := &types.GenerateRequest{
		Overwrite: overwrite,
		DryRun:    dryRun,
		Kinds:     kinds,
		Schema:    schema,
		Name:      name,
		Workers:   workers,
	}
	if req.Workers == 0 {
		req.Workers = cfg.Generation.Workers
	}

	result, err := orchestrator.Generate(ctx, location, req)
	if err != nil {
		if ctx.Err() != nil && result != nil {
			fmt.Printf("\n\nGeneration interrupted. Processed: %d, Skipped: %d, Failed: %d\n",
				result.Processed, result.Skipped, result.Failed)
			fmt.Println("Completed entities are persisted - run again to resume.")
			return
		}
		fmt.Println()
		slog.Error("generation failed", "error", err)
		os.Exit(1)
	}

	if result.DryRun {
		fmt.Printf("\n\nDry run: %d to generate, %d unchanged (%s)\n",
			result.Processed, result.Skipped, result.Duration.Round(time.Millisecond))
		return
	}

	fmt.Println("\n\nGeneration complete!")
	fmt.Printf("Processed: %d, Skipped: %d, Failed: %d (%s)\n",
		result.Processed, result.Skipped, result.Failed,
		result.Duration.Round(time.Millisecond))

	if result.Failed > 0 {
		fmt.Println("Run 'semindex reconcile' to repair entities whose index write failed.")
	}
}

func runReconcile(location string) {
	cwd, _ := os.Getwd()
	cfg := loadConfig(cwd)

	if location == "" {
		location = cfg.ModelLocation()
	}

	inf := openInfra(cfg, cwd)
	defer inf.Close()
	defer closeProviders()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		sig := <-sigChan
		slog.Info("received interrupt signal, stopping reconcile...", "signal", sig)
		cancel()
	}()

	orchestrator := vectorize.NewFromInfra(inf, cfg.Embedding.Model, nil)

	result, err := orchestrator.Reconcile(ctx, location)
	if err != nil {
		if ctx.Err() != nil && result != nil {
			fmt.Printf("Reconcile interrupted. Restored: %d, Missing: %d, Failed: %d\n",
				result.Restored, result.Missing, result.Failed)
			return
		}
		slog.Error("reconcile failed", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Restored: %d, Missing: %d, Failed: %d (%s)\n",
		result.Restored, result.Missing, result.Failed,
		result.Duration.Round(time.Millisecond))

	if result.Missing > 0 {
		fmt.Println("Missing entities have no stored vector. Run 'semindex generate' to embed them.")
	}
}

func runStatus(location string, verbose bool) {
	cwd, _ := os.Getwd()
	cfg := loadConfig(cwd)

	if location == "" {
		location = cfg.ModelLocation()
	}

	inf := openInfra(cfg, cwd)
	defer inf.Close()
	defer closeProviders()

	orchestrator := vectorize.NewFromInfra(inf, cfg.Embedding.Model, nil)

	stats, err := orchestrator.Stats(context.Background(), location)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			fmt.Printf("No model found at %q.\n", location)
			return
		}
		slog.Error("failed to read status", "error", err)
		os.Exit(1)
	}

	fmt.Println("=== Model Status ===")
	fmt.Printf("Model:             %s\n", stats.ModelName)
	fmt.Printf("Tables:            %d\n", stats.Tables)
	fmt.Printf("Views:             %d\n", stats.Views)
	fmt.Printf("Stored procedures: %d\n", stats.StoredProcedures)
	fmt.Printf("Indexed vectors:   %d\n", stats.IndexedVectors)
	fmt.Printf("Repository:        %s\n", inf.Repository.Name())
	fmt.Printf("Vector index:      %s (collection %s)\n", inf.Descriptor.Provider, inf.Descriptor.Collection)
	fmt.Printf("Embedding:         %s/%s\n", cfg.Embedding.Provider, cfg.Embedding.Model)

	if verbose {
		fmt.Println("\n=== Configuration ===")
		fmt.Printf("Strategy:    %s\n", cfg.Repository.Strategy)
		fmt.Printf("Collection:  %s\n", cfg.VectorIndex.Collection)
		fmt.Printf("Workers:     %d\n", cfg.Generation.Workers)
		fmt.Printf("Timeout:     %s\n", cfg.Generation.Timeout)
		fmt.Printf("Config hash: %s\n", cfg.Hash())

		if snapshot := perf.Snapshot(); len(snapshot) > 0 {
			fmt.Println("\n=== Operations ===")
			for _, op := range snapshot {
				fmt.Printf("%s/%s: %d calls, %d failures, avg %s\n",
					op.Component, op.Operation, op.Count, op.Failures,
					op.Avg().Round(time.Millisecond))
			}
		}
	}
}

func runModels(root string) {
	cwd, _ := os.Getwd()
	cfg := loadConfig(cwd)

	repo := openRepository(cfg, cwd)
	defer closeProviders()

	locations, err := repo.ListModels(context.Background(), root)
	if err != nil {
		slog.Error("failed to list models", "error", err)
		os.Exit(1)
	}

	if len(locations) == 0 {
		fmt.Println("No models found.")
		return
	}

	for _, location := range locations {
		fmt.Println(location)
	}
}

func runSearch(query string, limit int, modelName string, rawKinds []string) {
	cwd, _ := os.Getwd()
	cfg := loadConfig(cwd)

	kinds, err := parseEntityKinds(rawKinds)
	if err != nil {
		slog.Error("invalid kind filter", "error", err)
		os.Exit(1)
	}

	inf := openInfra(cfg, cwd)
	defer inf.Close()
	defer closeProviders()

	engine := search.New(search.Config{
		Repository: inf.Repository,
		Index:      inf.Index,
		Embedding:  inf.Embedding,
		Descriptor: inf.Descriptor,
	})

	results, err := engine.Search(context.Background(), &search.Request{
		Query:     query,
		Limit:     limit,
		ModelName: modelName,
		Kinds:     kinds,
	})
	if err != nil {
		slog.Error("search failed", "error", err)
		os.Exit(1)
	}

	if len(results) == 0 {
		fmt.Println("No results found")
		return
	}

	for i, r := range results {
		fmt.Printf("\n=== Result %d (score: %.3f) ===\n", i+1, r.Score)
		fmt.Printf("Entity: %s %s.%s (model %s)\n", r.Kind, r.Schema, r.Name, r.Model)
		if r.Text != "" {
			fmt.Printf("\n%s\n", r.Text)
		}
	}
}

func runFuzzy(query, kindStr, searchType string, limit int, location string) {
	cwd, _ := os.Getwd()
	cfg := loadConfig(cwd)

	repo := openRepository(cfg, cwd)
	defer closeProviders()

	engine := search.New(search.Config{Repository: repo})
	ctx := context.Background()

	if searchType == "models" {
		locations, err := engine.FuzzySearchModels(ctx, "", query, limit)
		if err != nil {
			slog.Error("fuzzy search failed", "error", err)
			os.Exit(1)
		}
		if len(locations) == 0 {
			fmt.Println("No matches found")
			return
		}
		for _, loc := range locations {
			fmt.Println(loc)
		}
		return
	}

	var kind types.EntityKind
	if kindStr != "" {
		parsed, err := types.ParseEntityKind(kindStr)
		if err != nil {
			slog.Error("invalid kind filter", "error", err)
			os.Exit(1)
		}
		kind = parsed
	}

	if location == "" {
		location = cfg.ModelLocation()
	}

	matches, err := engine.FuzzySearchEntities(ctx, location, query, kind, limit)
	if err != nil {
		slog.Error("fuzzy search failed", "error", err)
		os.Exit(1)
	}

	if len(matches) == 0 {
		fmt.Println("No matches found")
		return
	}

	for _, m := range matches {
		fmt.Printf("%-16s %-40s %.2f (%s)\n",
			m.Entity.Kind, m.Entity.QualifiedName(), m.Score, m.MatchType)
	}
}

func runEntity(kindStr, schema, name, location string) {
	cwd, _ := os.Getwd()
	cfg := loadConfig(cwd)

	kind, err := types.ParseEntityKind(kindStr)
	if err != nil {
		slog.Error("invalid entity kind", "error", err)
		os.Exit(1)
	}

	if location == "" {
		location = cfg.ModelLocation()
	}

	repo := openRepository(cfg, cwd)
	defer closeProviders()

	env, err := repo.LoadEntityEnvelope(context.Background(), location, kind, schema, name)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			fmt.Printf("Entity not found: %s %s.%s\n", kind, schema, name)
			os.Exit(1)
		}
		slog.Error("failed to load entity", "error", err)
		os.Exit(1)
	}

	output, _ := json.MarshalIndent(env.Data, "", "  ")
	fmt.Println(string(output))

	if env.Embedding != nil && env.Embedding.Metadata != nil {
		meta := env.Embedding.Metadata
		fmt.Printf("\nEmbedding: %s/%s, %d dimensions\n", meta.Service, meta.Model, meta.Dimensions)
		fmt.Printf("Content hash: %s\n", meta.ContentHash)
		fmt.Printf("Generated:    %s\n", meta.GeneratedAt.Format("2006-01-02 15:04:05"))
	} else {
		fmt.Println("\nNo stored embedding. Run 'semindex generate' to create one.")
	}
}

func runWatch(path string, debounceMs int) {
	absPath, _ := filepath.Abs(path)
	cfg := loadConfig(absPath)

	if cfg.Repository.Strategy != vectorize.StrategyLocalDisk {
		slog.Error("watch requires the localdisk repository strategy", "strategy", cfg.Repository.Strategy)
		os.Exit(1)
	}

	location := cfg.ModelLocation()
	rootDir := cfg.Repository.Root
	if !filepath.IsAbs(rootDir) {
		rootDir = filepath.Join(absPath, rootDir)
	}
	rootDir = filepath.Join(rootDir, location)

	inf := openInfra(cfg, absPath)
	defer inf.Close()
	defer closeProviders()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		sig := <-sigChan
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	if err := inf.Embedding.Warmup(ctx); err != nil {
		slog.Warn("embedding warmup failed", "error", err)
	}

	orchestrator := vectorize.NewFromInfra(inf, cfg.Embedding.Model, nil)

	watcher, err := vectorize.NewWatcher(vectorize.WatcherConfig{
		Orchestrator: orchestrator,
		Location:     location,
		Root:         rootDir,
		DebounceTime: time.Duration(debounceMs) * time.Millisecond,
	})
	if err != nil {
		slog.Error("failed to create watcher", "error", err)
		os.Exit(1)
	}
	defer watcher.Close()

	fmt.Printf("Watching %s for changes (press Ctrl+C to stop)\n", rootDir)

	if err := watcher.Watch(ctx); err != nil {
		if ctx.Err() != nil {
			slog.Info("watcher stopped")
		} else {
			slog.Error("watcher error", "error", err)
			os.Exit(1)
		}
	}
}

func runServe(stdio bool) {
	cwd, _ := os.Getwd()
	slog.Info("starting MCP server", "stdio", stdio)

	cfg := loadConfig(cwd)

	inf := openInfra(cfg, cwd)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		slog.Info("received shutdown signal", "signal", sig)
		cancel()

		slog.Info("closing providers...")
		inf.Close()
		closeProviders()
		slog.Info("shutdown complete")
		os.Exit(0)
	}()

	defer func() {
		signal.Stop(sigChan)
		inf.Close()
		closeProviders()
	}()

	if err := inf.Embedding.Warmup(ctx); err != nil {
		slog.Warn("embedding warmup failed", "error", err)
	}

	server, err := mcp.New(mcp.Config{
		Config:     cfg,
		Repository: inf.Repository,
		Index:      inf.Index,
		Embedding:  inf.Embedding,
		Descriptor: inf.Descriptor,
	})
	if err != nil {
		slog.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	if stdio {
		slog.Info("MCP server running (press Ctrl+C to stop)")
		if err := server.ServeStdio(); err != nil {
			if ctx.Err() != nil {
				slog.Info("server stopped")
			} else {
				slog.Error("server error", "error", err)
				os.Exit(1)
			}
		}
	} else {
		fmt.Println("HTTP transport not implemented. Use --stdio for MCP.")
		os.Exit(1)
	}
}

func runConfigInit() {
	cwd, _ := os.Getwd()
	cfg := config.DefaultConfig()

	if err := config.Save(cwd, cfg); err != nil {
		slog.Error("failed to save config", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Created config at %s\n", config.ConfigPath(cwd))
}

func runConfigValidate() {
	cwd, _ := os.Getwd()

	cfg, warnings, err := loadConfigFile(cwd)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	for _, w := range warnings {
		fmt.Printf("Warning: %s\n", w)
	}

	errs := config.Validate(cfg)
	if len(errs) > 0 {
		for _, e := range errs {
			fmt.Printf("Error: %v\n", e)
		}
		os.Exit(1)
	}

	resolved := vectorize.ResolveProvider(cfg.VectorSettings(), cfg.Repository.Strategy)
	fmt.Printf("Vector index resolves to %q for the %q strategy\n", resolved, cfg.Repository.Strategy)
	fmt.Println("\nConfiguration is valid")
}

func runConfigShow() {
	cwd, _ := os.Getwd()
	cfg := loadConfig(cwd)

	shown := cfg.Copy()
	if shown.Embedding.APIKey != "" {
		shown.Embedding.APIKey = "****"
	}
	if shown.Repository.Postgres.DSN != "" {
		shown.Repository.Postgres.DSN = "****"
	}
	if shown.Repository.S3.SecretKey != "" {
		shown.Repository.S3.SecretKey = "****"
	}
	if shown.VectorIndex.DSN != "" {
		shown.VectorIndex.DSN = "****"
	}

	output, _ := json.MarshalIndent(shown, "", "  ")
	fmt.Println(string(output))
}

func runPluginList() {
	cwd, _ := os.Getwd()
	cfg := loadConfig(cwd)
	dir := pluginsDir(cfg, cwd)

	manager := host.NewManager(dir)

	available, err := manager.DiscoverPlugins()
	if err != nil {
		slog.Error("failed to discover plugins", "error", err)
		os.Exit(1)
	}

	fmt.Println("=== Available Plugins ===")
	fmt.Printf("Plugins directory: %s\n\n", dir)

	if len(available) == 0 {
		fmt.Println("No plugins found.")
		fmt.Println("\nTo install a plugin:")
		fmt.Println("  1. Build or download a plugin binary")
		fmt.Println("  2. Copy it to the plugins directory")
		fmt.Println("  3. Make it executable (chmod +x)")
		return
	}

	for _, name := range available {
		fmt.Printf("  - %s\n", name)
	}

	fmt.Println("\nTo use a plugin as the embedding provider, set:")
	fmt.Println("  embedding.provider: plugin:<name>")
}

func runPluginLoad(name string) {
	cwd, _ := os.Getwd()
	cfg := loadConfig(cwd)
	dir := pluginsDir(cfg, cwd)

	manager := host.NewManager(dir)
	defer manager.UnloadAll()

	loaded, err := manager.LoadPlugin(name)
	if err != nil {
		slog.Error("failed to load plugin", "name", name, "error", err)
		os.Exit(1)
	}

	fmt.Printf("Plugin loaded: %s\n", name)

	if loaded.Embedding != nil {
		fmt.Printf("  Name: %s\n", loaded.Embedding.Name())
		fmt.Printf("  Dimensions: %d\n", loaded.Embedding.Dimensions())
		fmt.Printf("  Max batch size: %d\n", loaded.Embedding.MaxBatchSize())

		fmt.Println("\nTesting embedding...")
		embeddings, err := loaded.Embedding.Embed([]string{"Hello, world!"})
		if err != nil {
			fmt.Printf("  Error: %v\n", err)
		} else {
			fmt.Printf("  Generated %d embedding(s) of dimension %d\n", len(embeddings), len(embeddings[0]))
		}
	}

	fmt.Println("\nPlugin test complete.")
}
