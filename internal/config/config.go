// Package config handles configuration loading and validation.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/spetr/semindex/internal/vectorize"
	"github.com/spetr/semindex/pkg/provider"
	"github.com/spetr/semindex/pkg/types"
)

// Config represents the complete configuration.
type Config struct {
	Model       ModelConfig       `mapstructure:"model" yaml:"model"`
	Repository  RepositoryConfig  `mapstructure:"repository" yaml:"repository"`
	VectorIndex VectorIndexConfig `mapstructure:"vectorindex" yaml:"vectorindex"`
	Embedding   EmbeddingConfig   `mapstructure:"embedding" yaml:"embedding"`
	Generation  GenerationConfig  `mapstructure:"generation" yaml:"generation"`
	Plugins     PluginsConfig     `mapstructure:"plugins" yaml:"plugins"`
	Logging     LoggingConfig     `mapstructure:"logging" yaml:"logging"`
}

// ModelConfig identifies the default semantic model.
type ModelConfig struct {
	Name     string `mapstructure:"name" yaml:"name"`         // model name
	Location string `mapstructure:"location" yaml:"location"` // default location, empty = name
}

// RepositoryConfig selects and parameterizes the persistence strategy.
type RepositoryConfig struct {
	Strategy string         `mapstructure:"strategy" yaml:"strategy"` // localdisk, s3blob, postgres
	Root     string         `mapstructure:"root" yaml:"root"`         // localdisk models root
	S3       S3Config       `mapstructure:"s3" yaml:"s3"`
	Postgres PostgresConfig `mapstructure:"postgres" yaml:"postgres"`
}

// S3Config contains s3blob strategy settings. Static keys are for
// S3-compatible stores; left empty, the AWS default chain applies.
type S3Config struct {
	Bucket    string `mapstructure:"bucket" yaml:"bucket"`
	Region    string `mapstructure:"region" yaml:"region"`
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint"` // S3-compatible endpoint
	Prefix    string `mapstructure:"prefix" yaml:"prefix"`     // key prefix inside the bucket
	AccessKey string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key"`
}

// PostgresConfig contains postgres strategy settings.
type PostgresConfig struct {
	DSN         string `mapstructure:"dsn" yaml:"dsn"`
	TablePrefix string `mapstructure:"table_prefix" yaml:"table_prefix"`
}

// VectorIndexConfig contains vector index settings.
type VectorIndexConfig struct {
	Provider           string              `mapstructure:"provider" yaml:"provider"` // auto, memory, sqlitevec, pgvector
	Collection         string              `mapstructure:"collection" yaml:"collection"`
	EmbeddingService   string              `mapstructure:"embedding_service" yaml:"embedding_service"`
	ExpectedDimensions int                 `mapstructure:"expected_dimensions" yaml:"expected_dimensions"`
	AllowedProviders   map[string][]string `mapstructure:"allowed_providers" yaml:"allowed_providers"`
	Path               string              `mapstructure:"path" yaml:"path"` // sqlitevec database file
	DSN                string              `mapstructure:"dsn" yaml:"dsn"`   // pgvector, defaults to repository postgres dsn
}

// EmbeddingConfig contains embedding provider configuration.
type EmbeddingConfig struct {
	Provider  string `mapstructure:"provider" yaml:"provider"`     // ollama, openai, plugin:<name>
	Model     string `mapstructure:"model" yaml:"model"`           // model name
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint"`     // API endpoint
	APIKey    string `mapstructure:"api_key" yaml:"api_key"`       // API key
	BatchSize int    `mapstructure:"batch_size" yaml:"batch_size"` // texts per batch
}

// GenerationConfig contains vector generation settings.
type GenerationConfig struct {
	Workers int           `mapstructure:"workers" yaml:"workers"` // 0 = runtime.NumCPU()
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// PluginsConfig contains plugin host settings.
type PluginsConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`   // debug, info, warn, error
	Format string `mapstructure:"format" yaml:"format"` // text, json
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			Name: "semanticmodel",
		},
		Repository: RepositoryConfig{
			Strategy: "localdisk",
			Root:     "./models",
		},
		VectorIndex: VectorIndexConfig{
			Provider:   "auto",
			Collection: "model_entities",
		},
		Embedding: EmbeddingConfig{
			Provider:  "ollama",
			Model:     "nomic-embed-text",
			Endpoint:  "http://localhost:11434",
			BatchSize: 32,
		},
		Generation: GenerationConfig{
			Workers: 0,
			Timeout: 30 * time.Minute,
		},
		Plugins: PluginsConfig{
			Dir: filepath.Join(".semindex", "plugins"),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// ConfigDir returns the path to the .semindex directory.
func ConfigDir(projectRoot string) string {
	return filepath.Join(projectRoot, ".semindex")
}

// ConfigPath returns the path to config.yaml.
func ConfigPath(projectRoot string) string {
	return filepath.Join(ConfigDir(projectRoot), "config.yaml")
}

// VectorDBPath returns the path to the sqlitevec database file.
func VectorDBPath(projectRoot string) string {
	return filepath.Join(ConfigDir(projectRoot), "vectors.db")
}

// Load loads configuration from the project's default config file,
// falling back to defaults.
func Load(projectRoot string) (*Config, []string, error) {
	return LoadAt(projectRoot, ConfigPath(projectRoot))
}

// LoadAt loads configuration from an explicit config file path. A .env
// file in the project root is loaded first so the environment can fill
// API keys and connection strings.
func LoadAt(projectRoot, configPath string) (*Config, []string, error) {
	cfg := DefaultConfig()
	warnings := []string{}

	// Missing .env is fine, variables may come from the real environment.
	_ = godotenv.Load(filepath.Join(projectRoot, ".env"))

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		warnings = append(warnings, "No config file found, using defaults")
		applyEnvironment(cfg, projectRoot)
		return cfg, warnings, nil
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Apply defaults for missing values
	if cfg.Repository.Strategy == "" {
		cfg.Repository.Strategy = "localdisk"
		warnings = append(warnings, "Using default repository strategy: localdisk")
	}
	if cfg.Repository.Strategy == "localdisk" && cfg.Repository.Root == "" {
		cfg.Repository.Root = "./models"
	}
	if cfg.VectorIndex.Provider == "" {
		cfg.VectorIndex.Provider = "auto"
	}
	if cfg.VectorIndex.Collection == "" {
		cfg.VectorIndex.Collection = "model_entities"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "ollama"
		warnings = append(warnings, "Using default embedding provider: ollama")
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "nomic-embed-text"
	}
	if cfg.Embedding.Endpoint == "" && cfg.Embedding.Provider == "ollama" {
		cfg.Embedding.Endpoint = "http://localhost:11434"
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 32
	}
	if cfg.Generation.Timeout == 0 {
		cfg.Generation.Timeout = 30 * time.Minute
	}
	if cfg.Plugins.Dir == "" {
		cfg.Plugins.Dir = filepath.Join(".semindex", "plugins")
	}

	applyEnvironment(cfg, projectRoot)
	return cfg, warnings, nil
}

// applyEnvironment fills secrets and derived paths the config file
// usually leaves out.
func applyEnvironment(cfg *Config, projectRoot string) {
	if cfg.Embedding.APIKey == "" {
		if key := os.Getenv("SEMINDEX_OPENAI_API_KEY"); key != "" {
			cfg.Embedding.APIKey = key
		} else {
			cfg.Embedding.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
	if cfg.Repository.Postgres.DSN == "" {
		cfg.Repository.Postgres.DSN = os.Getenv("SEMINDEX_POSTGRES_DSN")
	}
	if cfg.Repository.S3.AccessKey == "" {
		cfg.Repository.S3.AccessKey = os.Getenv("SEMINDEX_S3_ACCESS_KEY")
	}
	if cfg.Repository.S3.SecretKey == "" {
		cfg.Repository.S3.SecretKey = os.Getenv("SEMINDEX_S3_SECRET_KEY")
	}
	if cfg.VectorIndex.DSN == "" {
		cfg.VectorIndex.DSN = cfg.Repository.Postgres.DSN
	}
	if cfg.VectorIndex.Path == "" {
		cfg.VectorIndex.Path = VectorDBPath(projectRoot)
	}
}

// Save saves configuration to file.
func Save(projectRoot string, cfg *Config) error {
	configDir := ConfigDir(projectRoot)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(ConfigPath(projectRoot))
	v.SetConfigType("yaml")

	v.Set("model", cfg.Model)
	v.Set("repository", cfg.Repository)
	v.Set("vectorindex", cfg.VectorIndex)
	v.Set("embedding", cfg.Embedding)
	v.Set("generation", cfg.Generation)
	v.Set("plugins", cfg.Plugins)
	v.Set("logging", cfg.Logging)

	return v.WriteConfig()
}

// Validate validates the configuration, including the vector index
// pairing policy.
func Validate(cfg *Config) []error {
	var errs []error

	validStrategies := map[string]bool{
		"localdisk": true, "s3blob": true, "postgres": true,
	}
	if !validStrategies[cfg.Repository.Strategy] {
		errs = append(errs, fmt.Errorf("invalid repository strategy: %s", cfg.Repository.Strategy))
	}
	if cfg.Repository.Strategy == "s3blob" && cfg.Repository.S3.Bucket == "" {
		errs = append(errs, fmt.Errorf("s3blob strategy requires a bucket"))
	}
	if cfg.Repository.Strategy == "postgres" && cfg.Repository.Postgres.DSN == "" {
		errs = append(errs, fmt.Errorf("postgres strategy requires a connection string"))
	}

	validVectorProviders := map[string]bool{
		"auto": true, "memory": true, "sqlitevec": true, "pgvector": true,
	}
	if !validVectorProviders[cfg.VectorIndex.Provider] {
		errs = append(errs, fmt.Errorf("invalid vector index provider: %s", cfg.VectorIndex.Provider))
	}

	if !strings.HasPrefix(cfg.Embedding.Provider, "plugin:") {
		validEmbeddingProviders := map[string]bool{
			"ollama": true, "openai": true,
		}
		if !validEmbeddingProviders[cfg.Embedding.Provider] {
			errs = append(errs, fmt.Errorf("invalid embedding provider: %s", cfg.Embedding.Provider))
		}
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "": true,
	}
	if !validLevels[cfg.Logging.Level] {
		errs = append(errs, fmt.Errorf("invalid log level: %s", cfg.Logging.Level))
	}
	validFormats := map[string]bool{
		"text": true, "json": true, "": true,
	}
	if !validFormats[cfg.Logging.Format] {
		errs = append(errs, fmt.Errorf("invalid log format: %s", cfg.Logging.Format))
	}

	if validStrategies[cfg.Repository.Strategy] && validVectorProviders[cfg.VectorIndex.Provider] {
		if err := vectorize.ValidatePolicy(cfg.VectorSettings(), cfg.Repository.Strategy); err != nil {
			errs = append(errs, err)
		}
	}

	return errs
}

// VectorSettings maps the config into the settings consumed by the
// vector index policy and providers.
func (c *Config) VectorSettings() types.VectorIndexSettings {
	service := c.VectorIndex.EmbeddingService
	if service == "" {
		service = c.Embedding.Provider
	}
	return types.VectorIndexSettings{
		Provider:           c.VectorIndex.Provider,
		Collection:         c.VectorIndex.Collection,
		EmbeddingService:   service,
		ExpectedDimensions: c.VectorIndex.ExpectedDimensions,
		AllowedProviders:   c.VectorIndex.AllowedProviders,
		Path:               c.VectorIndex.Path,
		DSN:                c.VectorIndex.DSN,
	}
}

// ProviderRepositoryConfig maps the config for the repository factory.
func (c *Config) ProviderRepositoryConfig() provider.RepositoryConfig {
	return provider.RepositoryConfig{
		Strategy:    c.Repository.Strategy,
		Root:        c.Repository.Root,
		Bucket:      c.Repository.S3.Bucket,
		Prefix:      c.Repository.S3.Prefix,
		Region:      c.Repository.S3.Region,
		Endpoint:    c.Repository.S3.Endpoint,
		AccessKey:   c.Repository.S3.AccessKey,
		SecretKey:   c.Repository.S3.SecretKey,
		DSN:         c.Repository.Postgres.DSN,
		TablePrefix: c.Repository.Postgres.TablePrefix,
	}
}

// ProviderEmbeddingConfig maps the config for the embedding factory.
func (c *Config) ProviderEmbeddingConfig() provider.EmbeddingConfig {
	return provider.EmbeddingConfig{
		Provider:  c.Embedding.Provider,
		Model:     c.Embedding.Model,
		Endpoint:  c.Embedding.Endpoint,
		APIKey:    c.Embedding.APIKey,
		BatchSize: c.Embedding.BatchSize,
	}
}

// ProviderVectorIndexConfig maps the config for the vector index
// factory. The provider name should already be resolved from auto.
func (c *Config) ProviderVectorIndexConfig(resolvedProvider string) provider.VectorIndexConfig {
	return provider.VectorIndexConfig{
		Provider:   resolvedProvider,
		Collection: c.VectorIndex.Collection,
		Dimensions: c.VectorIndex.ExpectedDimensions,
		Path:       c.VectorIndex.Path,
		DSN:        c.VectorIndex.DSN,
	}
}

// ModelLocation returns the location argument for the configured model.
func (c *Config) ModelLocation() string {
	if c.Model.Location != "" {
		return c.Model.Location
	}
	return c.Model.Name
}

// Hash returns a hash of configuration that affects the vector index.
// Used for detecting when regeneration is needed.
func (c *Config) Hash() string {
	data := fmt.Sprintf("%s:%s:%s:%s:%d",
		c.Embedding.Provider,
		c.Embedding.Model,
		c.VectorIndex.Provider,
		c.VectorIndex.Collection,
		c.VectorIndex.ExpectedDimensions,
	)
	h := sha256.Sum256([]byte(data))
	return hex.EncodeToString(h[:])
}

// Copy creates a deep copy of the config.
// Used for runtime modifications without affecting the original.
func (c *Config) Copy() *Config {
	copied := *c

	if c.VectorIndex.AllowedProviders != nil {
		copied.VectorIndex.AllowedProviders = make(map[string][]string, len(c.VectorIndex.AllowedProviders))
		for strategy, providers := range c.VectorIndex.AllowedProviders {
			list := make([]string, len(providers))
			copy(list, providers)
			copied.VectorIndex.AllowedProviders[strategy] = list
		}
	}

	return &copied
}
