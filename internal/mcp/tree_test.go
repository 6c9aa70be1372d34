package mcp

import (
	"strings"
	"testing"

	"github.com/spetr/semindex/pkg/types"
)

func treeTestModel() *types.SemanticModel {
	return &types.SemanticModel{
		Name: "sales",
		Tables: []*types.Entity{
			{Schema: "dbo", Name: "Orders", AIDescription: "Order headers.", Columns: []types.Column{{Name: "OrderID"}, {Name: "CustomerID"}}},
			{Schema: "dbo", Name: "Customers", AIDescription: "Customer master data.", Columns: []types.Column{{Name: "CustomerID"}}},
			{Schema: "audit", Name: "ChangeLog"},
		},
		Views: []*types.Entity{
			{Schema: "dbo", Name: "ActiveCustomers", AIDescription: "Customers with active status."},
		},
		StoredProcedures: []*types.Entity{
			{Schema: "dbo", Name: "GetOrderTotals", Parameters: []types.Parameter{{Name: "@OrderID"}}},
		},
	}
}

func TestBuildModelTree(t *testing.T) {
	result := BuildModelTree(treeTestModel(), "", true)

	if result.TotalEntities != 5 {
		t.Errorf("TotalEntities = %d, want 5", result.TotalEntities)
	}
	if result.Described != 3 {
		t.Errorf("Described = %d, want 3", result.Described)
	}

	root := result.Root
	if root.Type != "model" || root.Name != "sales" {
		t.Fatalf("root = %s %q, want model sales", root.Type, root.Name)
	}
	if len(root.Children) != 2 {
		t.Fatalf("schemas = %d, want 2", len(root.Children))
	}

	// Schemas sort case-insensitively, audit before dbo.
	if root.Children[0].Name != "audit" || root.Children[1].Name != "dbo" {
		t.Errorf("schema order = [%s %s], want [audit dbo]", root.Children[0].Name, root.Children[1].Name)
	}

	dbo := root.Children[1]
	if dbo.EntityCount != 4 || dbo.DescribedCount != 3 {
		t.Errorf("dbo counts = %d/%d, want 4/3", dbo.EntityCount, dbo.DescribedCount)
	}
	if len(dbo.Children) != 3 {
		t.Fatalf("dbo kind groups = %d, want 3", len(dbo.Children))
	}

	// Kind groups follow persistence order.
	wantKinds := []string{"tables", "views", "storedprocedures"}
	for i, want := range wantKinds {
		if dbo.Children[i].Name != want {
			t.Errorf("kind group %d = %q, want %q", i, dbo.Children[i].Name, want)
		}
	}

	tables := dbo.Children[0]
	if len(tables.Children) != 2 {
		t.Fatalf("dbo tables = %d, want 2", len(tables.Children))
	}
	if tables.Children[0].Name != "Customers" || tables.Children[1].Name != "Orders" {
		t.Errorf("table order = [%s %s], want [Customers Orders]",
			tables.Children[0].Name, tables.Children[1].Name)
	}
	if tables.Children[1].Columns != 2 {
		t.Errorf("Orders columns = %d, want 2", tables.Children[1].Columns)
	}

	procs := dbo.Children[2]
	if procs.Children[0].Parameters != 1 {
		t.Errorf("GetOrderTotals parameters = %d, want 1", procs.Children[0].Parameters)
	}
}

func TestBuildModelTreeSchemaFilter(t *testing.T) {
	result := BuildModelTree(treeTestModel(), "AUDIT", true)

	if result.TotalEntities != 1 {
		t.Errorf("TotalEntities = %d, want 1", result.TotalEntities)
	}
	if len(result.Root.Children) != 1 || result.Root.Children[0].Name != "audit" {
		t.Fatalf("expected only the audit schema, got %+v", result.Root.Children)
	}
}

func TestBuildModelTreeWithoutEntities(t *testing.T) {
	result := BuildModelTree(treeTestModel(), "", false)

	if result.TotalEntities != 5 {
		t.Errorf("TotalEntities = %d, want 5", result.TotalEntities)
	}
	for _, schema := range result.Root.Children {
		for _, kindGroup := range schema.Children {
			if len(kindGroup.Children) != 0 {
				t.Errorf("kind group %s should have no leaves", kindGroup.Name)
			}
			if kindGroup.EntityCount == 0 {
				t.Errorf("kind group %s lost its entity count", kindGroup.Name)
			}
		}
	}
}

func TestFormatTreeText(t *testing.T) {
	result := BuildModelTree(treeTestModel(), "", true)
	text := FormatTreeText(result.Root)

	if !strings.HasPrefix(text, "sales/") {
		t.Errorf("text tree should start with the model name:\n%s", text)
	}
	if !strings.Contains(text, "├── ") || !strings.Contains(text, "└── ") {
		t.Errorf("text tree should use branch connectors:\n%s", text)
	}
	if !strings.Contains(text, "Customers ✓") {
		t.Errorf("described entities should be marked:\n%s", text)
	}
	if !strings.Contains(text, "ChangeLog\n") || strings.Contains(text, "ChangeLog ✓") {
		t.Errorf("undescribed entities should be unmarked:\n%s", text)
	}
	if !strings.Contains(text, "(4 entities, 3 described)") {
		t.Errorf("schema line should carry counts:\n%s", text)
	}
}

func TestFormatTreeMarkdown(t *testing.T) {
	result := BuildModelTree(treeTestModel(), "dbo", true)
	md := FormatTreeMarkdown(result.Root, 0)

	if !strings.Contains(md, "- **sales/**") {
		t.Errorf("markdown tree should bold containers:\n%s", md)
	}
	if !strings.Contains(md, "*(4 entities)*") {
		t.Errorf("markdown tree should carry counts:\n%s", md)
	}
	if !strings.Contains(md, "- ActiveCustomers ✓") {
		t.Errorf("markdown tree should mark described entities:\n%s", md)
	}
}
