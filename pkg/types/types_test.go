package types

import (
	"testing"
)

func sampleModel() *SemanticModel {
	return &SemanticModel{
		Name:   "adventureworks",
		Source: "sqlserver://localhost/AdventureWorks",
		Tables: []*Entity{
			{Schema: "dbo", Name: "Customer"},
			{Schema: "sales", Name: "Order"},
		},
		Views: []*Entity{
			{Schema: "dbo", Name: "v_CustomerOrders"},
		},
		StoredProcedures: []*Entity{
			{Schema: "dbo", Name: "usp_GetOrders"},
		},
	}
}

func TestAllEntitiesSetsKinds(t *testing.T) {
	m := sampleModel()
	all := m.AllEntities()

	if len(all) != 4 {
		t.Fatalf("AllEntities returned %d entities, want 4", len(all))
	}
	if all[0].Kind != EntityKindTable {
		t.Errorf("first entity kind = %q, want table", all[0].Kind)
	}
	if all[2].Kind != EntityKindView {
		t.Errorf("third entity kind = %q, want view", all[2].Kind)
	}
	if all[3].Kind != EntityKindStoredProcedure {
		t.Errorf("fourth entity kind = %q, want storedprocedure", all[3].Kind)
	}
}

func TestFindEntity(t *testing.T) {
	m := sampleModel()

	tests := []struct {
		name   string
		kind   EntityKind
		schema string
		entity string
		found  bool
	}{
		{"exact", EntityKindTable, "dbo", "Customer", true},
		{"case insensitive", EntityKindTable, "DBO", "customer", true},
		{"wrong kind", EntityKindView, "dbo", "Customer", false},
		{"absent", EntityKindTable, "dbo", "Supplier", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.FindEntity(tt.kind, tt.schema, tt.entity)
			if (got != nil) != tt.found {
				t.Errorf("FindEntity(%s, %s, %s) found=%v, want %v", tt.kind, tt.schema, tt.entity, got != nil, tt.found)
			}
		})
	}
}

func TestValidateRejectsDuplicates(t *testing.T) {
	m := sampleModel()
	if err := m.Validate(); err != nil {
		t.Fatalf("valid model rejected: %v", err)
	}

	m.Tables = append(m.Tables, &Entity{Schema: "DBO", Name: "customer"})
	if err := m.Validate(); err == nil {
		t.Error("duplicate identity (case variant) not rejected")
	}
}

func TestValidateRejectsBlankIdentity(t *testing.T) {
	m := &SemanticModel{Name: "m", Tables: []*Entity{{Schema: "", Name: "Customer"}}}
	if err := m.Validate(); err == nil {
		t.Error("blank schema not rejected")
	}

	m2 := &SemanticModel{Name: "  "}
	if err := m2.Validate(); err == nil {
		t.Error("blank model name not rejected")
	}
}

func TestParseEntityKind(t *testing.T) {
	tests := []struct {
		in      string
		want    EntityKind
		wantErr bool
	}{
		{"table", EntityKindTable, false},
		{"Tables", EntityKindTable, false},
		{"view", EntityKindView, false},
		{"storedprocedure", EntityKindStoredProcedure, false},
		{"proc", EntityKindStoredProcedure, false},
		{"trigger", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseEntityKind(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseEntityKind(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseEntityKind(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestGenerateRequestSelection(t *testing.T) {
	table := &Entity{Kind: EntityKindTable, Schema: "dbo", Name: "Customer"}
	view := &Entity{Kind: EntityKindView, Schema: "dbo", Name: "v_Orders"}

	all := &GenerateRequest{}
	if !all.WantsEntity(table) || !all.WantsEntity(view) {
		t.Error("empty request should select every entity")
	}

	kindFiltered := &GenerateRequest{Kinds: []EntityKind{EntityKindView}}
	if kindFiltered.WantsEntity(table) {
		t.Error("kind filter admitted a table")
	}
	if !kindFiltered.WantsEntity(view) {
		t.Error("kind filter rejected a view")
	}

	single := &GenerateRequest{Schema: "DBO", Name: "customer"}
	if !single.WantsEntity(table) {
		t.Error("single target should match case-insensitively")
	}
	if single.WantsEntity(view) {
		t.Error("single target admitted a different entity")
	}
}

func TestEmbeddingPayloadContentHash(t *testing.T) {
	var nilPayload *EmbeddingPayload
	if got := nilPayload.ContentHash(); got != "" {
		t.Errorf("nil payload hash = %q, want empty", got)
	}

	p := &EmbeddingPayload{Metadata: &EmbeddingMetadata{ContentHash: "abc"}}
	if got := p.ContentHash(); got != "abc" {
		t.Errorf("payload hash = %q, want abc", got)
	}
}

func TestEntityKindFolder(t *testing.T) {
	tests := []struct {
		kind EntityKind
		want string
	}{
		{EntityKindTable, "tables"},
		{EntityKindView, "views"},
		{EntityKindStoredProcedure, "storedprocedures"},
	}
	for _, tt := range tests {
		if got := tt.kind.Folder(); got != tt.want {
			t.Errorf("%s.Folder() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}
