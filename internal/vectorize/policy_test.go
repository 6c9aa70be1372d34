package vectorize

import (
	"errors"
	"testing"

	"github.com/spetr/semindex/pkg/types"
)

func TestResolveProvider(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		strategy string
		want     string
	}{
		{"auto with postgres", "auto", StrategyPostgres, ProviderPgvector},
		{"auto with localdisk", "auto", StrategyLocalDisk, ProviderMemory},
		{"auto with s3blob", "auto", StrategyS3Blob, ProviderMemory},
		{"empty with postgres", "", StrategyPostgres, ProviderPgvector},
		{"explicit memory", ProviderMemory, StrategyLocalDisk, ProviderMemory},
		{"explicit sqlitevec", ProviderSQLiteVec, StrategyS3Blob, ProviderSQLiteVec},
		{"explicit pgvector", ProviderPgvector, StrategyLocalDisk, ProviderPgvector},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := types.VectorIndexSettings{Provider: tt.provider}
			if got := ResolveProvider(settings, tt.strategy); got != tt.want {
				t.Errorf("ResolveProvider(%q, %q) = %q, want %q", tt.provider, tt.strategy, got, tt.want)
			}
		})
	}
}

func TestValidatePolicyPostgresRequiresPgvector(t *testing.T) {
	settings := types.VectorIndexSettings{Provider: ProviderMemory}
	err := ValidatePolicy(settings, StrategyPostgres)
	if !errors.Is(err, types.ErrInvalidConfig) {
		t.Errorf("ValidatePolicy(postgres+memory) error = %v, want ErrInvalidConfig", err)
	}

	settings.Provider = ProviderPgvector
	if err := ValidatePolicy(settings, StrategyPostgres); err != nil {
		t.Errorf("ValidatePolicy(postgres+pgvector) error = %v", err)
	}

	settings.Provider = ProviderAuto
	if err := ValidatePolicy(settings, StrategyPostgres); err != nil {
		t.Errorf("ValidatePolicy(postgres+auto) error = %v", err)
	}
}

func TestValidatePolicyUnknownProvider(t *testing.T) {
	settings := types.VectorIndexSettings{Provider: "faiss"}
	if err := ValidatePolicy(settings, StrategyLocalDisk); !errors.Is(err, types.ErrInvalidConfig) {
		t.Errorf("ValidatePolicy(faiss) error = %v, want ErrInvalidConfig", err)
	}
}

func TestValidatePolicyDimensions(t *testing.T) {
	settings := types.VectorIndexSettings{Provider: ProviderMemory, ExpectedDimensions: -1}
	if err := ValidatePolicy(settings, StrategyLocalDisk); !errors.Is(err, types.ErrInvalidConfig) {
		t.Errorf("ValidatePolicy(dims=-1) error = %v, want ErrInvalidConfig", err)
	}

	settings.ExpectedDimensions = 768
	if err := ValidatePolicy(settings, StrategyLocalDisk); err != nil {
		t.Errorf("ValidatePolicy(dims=768) error = %v", err)
	}
}

func TestValidatePolicyAllowList(t *testing.T) {
	settings := types.VectorIndexSettings{
		Provider: ProviderSQLiteVec,
		AllowedProviders: map[string][]string{
			StrategyLocalDisk: {ProviderMemory},
		},
	}

	if err := ValidatePolicy(settings, StrategyLocalDisk); !errors.Is(err, types.ErrInvalidConfig) {
		t.Errorf("ValidatePolicy(disallowed provider) error = %v, want ErrInvalidConfig", err)
	}

	// Strategies without an allow-list entry are unconstrained.
	if err := ValidatePolicy(settings, StrategyS3Blob); err != nil {
		t.Errorf("ValidatePolicy(unlisted strategy) error = %v", err)
	}

	settings.Provider = ProviderMemory
	if err := ValidatePolicy(settings, StrategyLocalDisk); err != nil {
		t.Errorf("ValidatePolicy(allowed provider) error = %v", err)
	}
}

func TestResolveInfrastructure(t *testing.T) {
	settings := types.VectorIndexSettings{Provider: ProviderAuto, EmbeddingService: "ollama"}

	infra, err := ResolveInfrastructure(settings, StrategyPostgres)
	if err != nil {
		t.Fatalf("ResolveInfrastructure() error = %v", err)
	}
	if infra.Provider != ProviderPgvector {
		t.Errorf("infra.Provider = %q, want %q", infra.Provider, ProviderPgvector)
	}
	if infra.Collection != "model_entities" {
		t.Errorf("infra.Collection = %q, want default", infra.Collection)
	}
	if infra.EmbeddingService != "ollama" {
		t.Errorf("infra.EmbeddingService = %q, want %q", infra.EmbeddingService, "ollama")
	}
	if infra.Settings.Provider != ProviderPgvector {
		t.Errorf("infra.Settings.Provider = %q, want resolved value", infra.Settings.Provider)
	}
}

func TestResolveInfrastructureRejectsBadPolicy(t *testing.T) {
	settings := types.VectorIndexSettings{Provider: ProviderMemory}
	if _, err := ResolveInfrastructure(settings, StrategyPostgres); !errors.Is(err, types.ErrInvalidConfig) {
		t.Errorf("ResolveInfrastructure(postgres+memory) error = %v, want ErrInvalidConfig", err)
	}
}
