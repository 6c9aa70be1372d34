package types

import (
	"sort"
	"strings"
)

// CanonicalText builds the deterministic textual projection of an entity
// used as embedding input and hash source. Structural members are sorted
// by name, so two entities that differ only in member order yield
// byte-identical text.
func CanonicalText(e *Entity) string {
	var b strings.Builder

	b.WriteString(string(e.Kind))
	b.WriteString(" ")
	b.WriteString(strings.TrimSpace(e.Schema))
	b.WriteString(".")
	b.WriteString(strings.TrimSpace(e.Name))
	b.WriteString("\n")

	if d := strings.TrimSpace(e.Description); d != "" {
		b.WriteString("description: ")
		b.WriteString(d)
		b.WriteString("\n")
	}
	if d := strings.TrimSpace(e.AIDescription); d != "" {
		b.WriteString("ai description: ")
		b.WriteString(d)
		b.WriteString("\n")
	}

	for _, c := range sortedColumns(e.Columns) {
		b.WriteString("column ")
		b.WriteString(c.Name)
		if c.Type != "" {
			b.WriteString(" (")
			b.WriteString(c.Type)
			b.WriteString(")")
		}
		if c.IsPrimaryKey {
			b.WriteString(" primary key")
		}
		if c.IsNullable {
			b.WriteString(" nullable")
		}
		if c.ReferencedTable != "" {
			b.WriteString(" -> ")
			b.WriteString(c.ReferencedTable)
			if c.ReferencedColumn != "" {
				b.WriteString(".")
				b.WriteString(c.ReferencedColumn)
			}
		}
		if d := strings.TrimSpace(c.Description); d != "" {
			b.WriteString(": ")
			b.WriteString(d)
		}
		b.WriteString("\n")
	}

	for _, p := range sortedParameters(e.Parameters) {
		b.WriteString("parameter ")
		b.WriteString(p.Name)
		if p.Type != "" {
			b.WriteString(" (")
			b.WriteString(p.Type)
			b.WriteString(")")
		}
		if p.Direction != "" {
			b.WriteString(" ")
			b.WriteString(p.Direction)
		}
		b.WriteString("\n")
	}

	if d := strings.TrimSpace(e.Definition); d != "" {
		b.WriteString("definition:\n")
		b.WriteString(d)
		b.WriteString("\n")
	}

	return b.String()
}

func sortedColumns(cols []Column) []Column {
	out := make([]Column, len(cols))
	copy(out, cols)
	sort.Slice(out, func(i, j int) bool {
		li, lj := strings.ToLower(out[i].Name), strings.ToLower(out[j].Name)
		if li != lj {
			return li < lj
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func sortedParameters(params []Parameter) []Parameter {
	out := make([]Parameter, len(params))
	copy(out, params)
	sort.Slice(out, func(i, j int) bool {
		li, lj := strings.ToLower(out[i].Name), strings.ToLower(out[j].Name)
		if li != lj {
			return li < lj
		}
		return out[i].Name < out[j].Name
	})
	return out
}
