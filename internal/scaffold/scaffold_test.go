package scaffold

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spetr/semindex/internal/config"
	"github.com/spetr/semindex/pkg/types"
)

func ollamaEnv() *Environment {
	return &Environment{OllamaAvailable: true, OllamaEndpoint: "http://localhost:11434"}
}

func TestInitCreatesProjectLayout(t *testing.T) {
	dir := t.TempDir()

	res, err := Init(context.Background(), dir, Options{ModelName: "sales", Environment: ollamaEnv()})
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	if _, err := os.Stat(res.ConfigPath); err != nil {
		t.Fatalf("config file missing: %v", err)
	}
	raw, err := os.ReadFile(res.EnvPath)
	if err != nil {
		t.Fatalf("env template missing: %v", err)
	}
	if !strings.Contains(string(raw), "SEMINDEX_OPENAI_API_KEY") {
		t.Error("env template should mention SEMINDEX_OPENAI_API_KEY")
	}

	wantRoot := filepath.Join(dir, "models", "sales")
	if res.ModelRoot != wantRoot {
		t.Errorf("ModelRoot = %q, want %q", res.ModelRoot, wantRoot)
	}
	for _, kind := range types.EntityKinds {
		folder := filepath.Join(wantRoot, kind.Folder())
		info, err := os.Stat(folder)
		if err != nil || !info.IsDir() {
			t.Errorf("skeleton folder %s missing", folder)
		}
	}

	cfg, _, err := config.Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Model.Name != "sales" {
		t.Errorf("Model.Name = %q, want sales", cfg.Model.Name)
	}
	if cfg.Repository.Strategy != "localdisk" {
		t.Errorf("Repository.Strategy = %q, want localdisk", cfg.Repository.Strategy)
	}
	if cfg.Embedding.Provider != "ollama" {
		t.Errorf("Embedding.Provider = %q, want ollama", cfg.Embedding.Provider)
	}
}

func TestInitRefusesExistingConfig(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	if _, err := Init(ctx, dir, Options{Environment: ollamaEnv()}); err != nil {
		t.Fatalf("first Init() error = %v", err)
	}
	_, err := Init(ctx, dir, Options{Environment: ollamaEnv()})
	if !errors.Is(err, ErrConfigExists) {
		t.Fatalf("second Init() error = %v, want ErrConfigExists", err)
	}
}

func TestInitForcePreservesEnvFile(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	if _, err := Init(ctx, dir, Options{ModelName: "first", Environment: ollamaEnv()}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("SEMINDEX_OPENAI_API_KEY=sk-local-placeholder\n"), 0600); err != nil {
		t.Fatal(err)
	}

	res, err := Init(ctx, dir, Options{ModelName: "second", Force: true, Environment: ollamaEnv()})
	if err != nil {
		t.Fatalf("forced Init() error = %v", err)
	}

	raw, err := os.ReadFile(envPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), "sk-local-placeholder") {
		t.Error("forced init must not replace an existing .env")
	}
	kept := false
	for _, p := range res.Skipped {
		if p == envPath {
			kept = true
		}
	}
	if !kept {
		t.Errorf("Skipped = %v, want %s listed", res.Skipped, envPath)
	}

	cfg, _, err := config.Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Model.Name != "second" {
		t.Errorf("Model.Name = %q, want second", cfg.Model.Name)
	}
}

func TestInitOpenAIFallback(t *testing.T) {
	res, err := Init(context.Background(), t.TempDir(), Options{
		Environment: &Environment{OpenAIKeySet: true},
	})
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	if res.Config.Embedding.Provider != "openai" {
		t.Errorf("Embedding.Provider = %q, want openai", res.Config.Embedding.Provider)
	}
	if res.Config.Embedding.Model != "text-embedding-3-small" {
		t.Errorf("Embedding.Model = %q, want text-embedding-3-small", res.Config.Embedding.Model)
	}
	if res.Config.Embedding.Endpoint != "" {
		t.Errorf("Embedding.Endpoint = %q, want empty", res.Config.Embedding.Endpoint)
	}
}

func TestInitUnknownStrategy(t *testing.T) {
	_, err := Init(context.Background(), t.TempDir(), Options{
		Strategy:    "ftp",
		Environment: ollamaEnv(),
	})
	if !errors.Is(err, types.ErrInvalidConfig) {
		t.Fatalf("Init() error = %v, want ErrInvalidConfig", err)
	}
}

func TestInitPostgresSkipsSkeleton(t *testing.T) {
	dir := t.TempDir()

	res, err := Init(context.Background(), dir, Options{
		Strategy:    "postgres",
		Environment: &Environment{OllamaAvailable: true, PostgresDSNSet: true},
	})
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	if res.ModelRoot != "" {
		t.Errorf("ModelRoot = %q, want empty for postgres", res.ModelRoot)
	}
	if _, err := os.Stat(filepath.Join(dir, "models")); !os.IsNotExist(err) {
		t.Error("postgres init should not create a models directory")
	}
}

func TestSummaryNextSteps(t *testing.T) {
	res, err := Init(context.Background(), t.TempDir(), Options{Environment: &Environment{}})
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	out := res.Summary()
	if !strings.Contains(out, "Start Ollama") {
		t.Errorf("summary should tell the user to start Ollama:\n%s", out)
	}
	if !strings.Contains(out, "semindex generate") {
		t.Errorf("summary should point at generate:\n%s", out)
	}

	env := res.Environment.Summary()
	if !strings.Contains(env, "Ollama: ✗") {
		t.Errorf("environment summary should flag Ollama:\n%s", env)
	}
}
