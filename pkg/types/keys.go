package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// BuildEntityKey builds the normalized identity key for an entity:
// each component is lower-cased, runs of whitespace collapse to a single
// underscore, characters outside [a-z0-9_:.-] are stripped, and the
// components are joined with ":". A component that is blank, or that
// normalizes to nothing, is rejected.
func BuildEntityKey(model string, kind EntityKind, schema, name string) (string, error) {
	components := []string{model, string(kind), schema, name}
	parts := make([]string, 0, len(components))
	for _, c := range components {
		p := normalizeKeyPart(c)
		if p == "" {
			return "", fmt.Errorf("%w: blank component in (%q, %q, %q, %q)", ErrInvalidKey, model, kind, schema, name)
		}
		parts = append(parts, p)
	}
	return strings.Join(parts, ":"), nil
}

// BuildVectorID returns the deterministic composite id used for vector
// index upserts. Identical to BuildEntityKey; re-computable from identity
// alone so repeated generation overwrites instead of duplicating.
func BuildVectorID(model string, kind EntityKind, schema, name string) (string, error) {
	return BuildEntityKey(model, kind, schema, name)
}

// BuildContentHash returns the lowercase hex SHA-256 of text. Blank input
// is rejected: hashing nothing would poison the idempotence check.
func BuildContentHash(text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: blank content", ErrInvalidKey)
	}
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:]), nil
}

func normalizeKeyPart(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	b.Grow(len(s))
	inSpace := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			inSpace = true
			continue
		}
		if inSpace {
			b.WriteByte('_')
			inSpace = false
		}
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') ||
			r == '_' || r == ':' || r == '.' || r == '-' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
