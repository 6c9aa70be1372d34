package envelope

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/spetr/semindex/pkg/types"
)

func testEntity() *types.Entity {
	return &types.Entity{
		Kind:        types.EntityKindTable,
		Schema:      "dbo",
		Name:        "Customer",
		Description: "Registered customers",
		Columns: []types.Column{
			{Name: "Id", Type: "int", IsPrimaryKey: true},
			{Name: "Email", Type: "nvarchar(200)"},
		},
	}
}

func testPayload() *types.EmbeddingPayload {
	return &types.EmbeddingPayload{
		Vector: []float32{0.1, 0.2, 0.3},
		Metadata: &types.EmbeddingMetadata{
			Service:       "openai",
			Model:         "text-embedding-3-small",
			Dimensions:    3,
			ContentHash:   "abc123",
			GeneratedAt:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
			SchemaVersion: types.EnvelopeSchemaVersion,
		},
	}
}

func TestRoundTripWithoutPayload(t *testing.T) {
	e := testEntity()
	raw, err := Marshal(Wrap(e, nil))
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	// Without an embedding the persisted body is the bare entity.
	if strings.Contains(string(raw), `"data"`) {
		t.Errorf("payload-less entity serialized as envelope:\n%s", raw)
	}

	env, err := Unmarshal(raw)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if env.Embedding != nil {
		t.Error("unwrapped envelope has embedding, want none")
	}
	if !reflect.DeepEqual(env.Data, e) {
		t.Errorf("round-trip changed the entity:\ngot  %+v\nwant %+v", env.Data, e)
	}
}

func TestRoundTripWithPayload(t *testing.T) {
	e := testEntity()
	p := testPayload()

	raw, err := Marshal(Wrap(e, p))
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if !strings.Contains(string(raw), `"schema_version"`) {
		t.Error("envelope missing schema_version tag")
	}

	env, err := Unmarshal(raw)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if !reflect.DeepEqual(env.Data, e) {
		t.Errorf("round-trip changed the entity:\ngot  %+v\nwant %+v", env.Data, e)
	}
	if !reflect.DeepEqual(env.Embedding.Vector, p.Vector) {
		t.Errorf("round-trip changed the vector: got %v, want %v", env.Embedding.Vector, p.Vector)
	}
	if env.Embedding.ContentHash() != "abc123" {
		t.Errorf("content hash = %q, want abc123", env.Embedding.ContentHash())
	}
}

func TestUnmarshalAcceptsBareEntity(t *testing.T) {
	raw := []byte(`{"kind":"view","schema":"dbo","name":"v_Orders","description":"open orders"}`)

	env, err := Unmarshal(raw)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if env.Data.Name != "v_Orders" {
		t.Errorf("entity name = %q, want v_Orders", env.Data.Name)
	}
	if env.Embedding != nil {
		t.Error("bare entity produced an embedding payload")
	}
}

func TestUnmarshalRejectsCorruptData(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", "not json at all"},
		{"truncated", `{"data": {"name":`},
		{"empty object", `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Unmarshal([]byte(tt.raw))
			if !errors.Is(err, types.ErrCorruptData) {
				t.Errorf("expected ErrCorruptData, got %v", err)
			}
		})
	}
}

func TestEntityJSONUnwraps(t *testing.T) {
	e := testEntity()
	body, err := EntityJSON(Wrap(e, testPayload()))
	if err != nil {
		t.Fatalf("EntityJSON failed: %v", err)
	}

	if strings.Contains(body, `"vector"`) || strings.Contains(body, `"data"`) {
		t.Errorf("unwrapped body leaks envelope fields:\n%s", body)
	}

	var got types.Entity
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatalf("unwrapped body is not valid entity JSON: %v", err)
	}
	if got.Name != e.Name || len(got.Columns) != len(e.Columns) {
		t.Errorf("unwrapped entity differs: %+v", got)
	}
}

func TestToDocumentEntityNeverCarriesVector(t *testing.T) {
	e := testEntity()
	doc := ToDocumentEntity("sales", e, testPayload().Metadata)

	if doc.ID != "sales_table_dbo.Customer" {
		t.Errorf("document key = %q, want sales_table_dbo.Customer", doc.ID)
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), `"vector"`) {
		t.Errorf("document shape carries vector floats:\n%s", raw)
	}
	if !strings.Contains(string(raw), `"content_hash":"abc123"`) {
		t.Errorf("document shape missing embedding metadata:\n%s", raw)
	}
}

func TestEntityRelPath(t *testing.T) {
	tests := []struct {
		kind   types.EntityKind
		schema string
		name   string
		want   string
	}{
		{types.EntityKindTable, "dbo", "Customer", "tables/dbo.Customer.json"},
		{types.EntityKindView, "sales", "v_Orders", "views/sales.v_Orders.json"},
		{types.EntityKindStoredProcedure, "dbo", "usp_Report", "storedprocedures/dbo.usp_Report.json"},
		{types.EntityKindTable, "dbo", "bad/name", "tables/dbo.bad_name.json"},
	}

	for _, tt := range tests {
		if got := EntityRelPath(tt.kind, tt.schema, tt.name); got != tt.want {
			t.Errorf("EntityRelPath(%s, %s, %s) = %q, want %q", tt.kind, tt.schema, tt.name, got, tt.want)
		}
	}
}

func TestBuildModelIndex(t *testing.T) {
	m := &types.SemanticModel{
		Name:   "sales",
		Source: "sqlserver://db/Sales",
		Tables: []*types.Entity{
			{Schema: "dbo", Name: "Customer"},
			{Schema: "dbo", Name: "Order"},
		},
		Views: []*types.Entity{{Schema: "dbo", Name: "v_Orders"}},
	}

	idx := BuildModelIndex(m)
	if idx.Name != "sales" || idx.SchemaVersion != types.EnvelopeSchemaVersion {
		t.Errorf("index header: %+v", idx)
	}
	if len(idx.Tables) != 2 || len(idx.Views) != 1 || len(idx.StoredProcedures) != 0 {
		t.Errorf("index counts: %d tables, %d views, %d procedures", len(idx.Tables), len(idx.Views), len(idx.StoredProcedures))
	}
	if idx.Tables[0].Path != "tables/dbo.Customer.json" {
		t.Errorf("first table path = %q", idx.Tables[0].Path)
	}

	refs := idx.Refs()
	if len(refs) != 3 {
		t.Fatalf("Refs returned %d entries, want 3", len(refs))
	}
	if refs[2].Kind != types.EntityKindView {
		t.Errorf("last ref kind = %q, want view", refs[2].Kind)
	}
}
