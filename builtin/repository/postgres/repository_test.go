package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/spetr/semindex/pkg/provider"
	"github.com/spetr/semindex/pkg/types"
)

// testRepo builds a Repository without a database connection. Only
// paths that reject input before touching the connection are exercised
// here.
func testRepo() *Repository {
	return &Repository{
		modelsTable:   "semantic_models",
		entitiesTable: "model_entities",
	}
}

func TestNewRequiresDSN(t *testing.T) {
	_, err := New(provider.RepositoryConfig{})
	if !errors.Is(err, types.ErrInvalidConfig) {
		t.Errorf("New() error = %v, want ErrInvalidConfig", err)
	}
}

func TestNewRejectsBadTablePrefix(t *testing.T) {
	bad := []string{"has space", "has-dash", "1leading", "semi;colon", `quoted"prefix`}
	for _, prefix := range bad {
		_, err := New(provider.RepositoryConfig{DSN: "postgres://localhost/semindex", TablePrefix: prefix})
		if !errors.Is(err, types.ErrInvalidConfig) {
			t.Errorf("New(prefix=%q) error = %v, want ErrInvalidConfig", prefix, err)
		}
	}
}

func TestSaveModelRejectsBadModels(t *testing.T) {
	repo := testRepo()
	ctx := context.Background()

	tests := []struct {
		name  string
		model *types.SemanticModel
	}{
		{"nil model", nil},
		{"blank name", &types.SemanticModel{}},
		{"duplicate entities", &types.SemanticModel{
			Name: "sales",
			Tables: []*types.Entity{
				{Schema: "dbo", Name: "Customer"},
				{Schema: "dbo", Name: "Customer"},
			},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := repo.SaveModel(ctx, tt.model, "sales")
			if !errors.Is(err, types.ErrStoreFailed) {
				t.Errorf("SaveModel() error = %v, want ErrStoreFailed", err)
			}
		})
	}
}

func TestSaveEntityRejectsBadEntities(t *testing.T) {
	repo := testRepo()
	ctx := context.Background()

	if err := repo.SaveEntity(ctx, "sales", nil, nil); !errors.Is(err, types.ErrStoreFailed) {
		t.Errorf("SaveEntity(nil) error = %v, want ErrStoreFailed", err)
	}
	blank := &types.Entity{Kind: types.EntityKindTable, Schema: "dbo"}
	if err := repo.SaveEntity(ctx, "sales", blank, nil); !errors.Is(err, types.ErrStoreFailed) {
		t.Errorf("SaveEntity(blank name) error = %v, want ErrStoreFailed", err)
	}
}

func TestModelNamePrefersLocation(t *testing.T) {
	repo := testRepo()
	model := &types.SemanticModel{Name: "sales"}

	if got := repo.modelName(model, "hr"); got != "hr" {
		t.Errorf("modelName() = %q, want %q", got, "hr")
	}
	if got := repo.modelName(model, ""); got != "sales" {
		t.Errorf("modelName() = %q, want %q", got, "sales")
	}
}

func TestName(t *testing.T) {
	if got := testRepo().Name(); got != "postgres" {
		t.Errorf("Name() = %q, want %q", got, "postgres")
	}
}
