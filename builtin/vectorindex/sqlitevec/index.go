// Package sqlitevec implements a persistent local vector index using
// sqlite-vec.
package sqlitevec

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/spetr/semindex/pkg/provider"
	"github.com/spetr/semindex/pkg/types"
)

var (
	// Ensure sqlite-vec Auto() is called exactly once before any db connection
	vecAutoOnce sync.Once

	identifierRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
)

// Index stores entity vectors in a local SQLite database. Each
// collection gets a records table plus a vec0 virtual table for the
// embeddings.
type Index struct {
	db   *sql.DB
	path string

	mu   sync.Mutex
	dims map[string]int // collection -> embedding dimensions seen this process
}

// New opens (or creates) the index database at config.Path.
func New(config provider.VectorIndexConfig) (*Index, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("%w: sqlitevec index requires a database path", types.ErrInvalidConfig)
	}

	// Register sqlite-vec extension before opening any database connection.
	// This must be called once before sql.Open() to ensure vec_* functions are available.
	vecAutoOnce.Do(func() {
		sqlite_vec.Auto()
	})

	dir := filepath.Dir(config.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	// WAL mode for concurrent reads, busy_timeout to wait for locks instead of failing immediately
	db, err := sql.Open("sqlite3", config.Path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("SELECT vec_version()"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite-vec extension not available: %w", err)
	}

	return &Index{
		db:   db,
		path: config.Path,
		dims: make(map[string]int),
	}, nil
}

// Name returns the provider name.
func (i *Index) Name() string {
	return "sqlitevec"
}

// ensureCollection creates the records and embeddings tables for a
// collection. When a running process sees the embedding dimensions
// change, the embeddings table is rebuilt; existing rows cannot be
// converted between dimensions.
func (i *Index) ensureCollection(collection string, dimensions int) error {
	if !identifierRe.MatchString(collection) {
		return fmt.Errorf("%w: invalid collection name %q", types.ErrInvalidConfig, collection)
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	seen, ok := i.dims[collection]
	if ok && seen == dimensions {
		return nil
	}
	if ok && seen != dimensions {
		if _, err := i.db.Exec(fmt.Sprintf("DROP TABLE IF EXISTS %s_embeddings", collection)); err != nil {
			return fmt.Errorf("failed to drop embeddings table: %w", err)
		}
	}

	_, err := i.db.Exec(fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s_records (
			id TEXT PRIMARY KEY,
			model_name TEXT NOT NULL,
			entity_kind TEXT NOT NULL,
			schema_name TEXT NOT NULL,
			entity_name TEXT NOT NULL,
			content TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)
	`, collection))
	if err != nil {
		return fmt.Errorf("failed to create records table: %w", err)
	}

	_, err = i.db.Exec(fmt.Sprintf(`
		CREATE VIRTUAL TABLE IF NOT EXISTS %s_embeddings USING vec0(
			record_id TEXT PRIMARY KEY,
			embedding float[%d]
		)
	`, collection, dimensions))
	if err != nil {
		return fmt.Errorf("failed to create vector table: %w", err)
	}

	i.dims[collection] = dimensions
	return nil
}

// Upsert writes one record, overwriting any previous record with the
// same id. The records row and the embedding row are written in one
// transaction.
func (i *Index) Upsert(ctx context.Context, record *types.EntityVectorRecord, infra *types.VectorInfrastructure) error {
	if record == nil || record.ID == "" {
		return fmt.Errorf("%w: record has no id", types.ErrIndexWriteFailed)
	}
	if len(record.Vector) == 0 {
		return fmt.Errorf("%w: record %s has an empty vector", types.ErrIndexWriteFailed, record.ID)
	}
	if err := i.ensureCollection(infra.Collection, len(record.Vector)); err != nil {
		return err
	}

	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s_records
		(id, model_name, entity_kind, schema_name, entity_name, content, content_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, unixepoch(), unixepoch())
		ON CONFLICT(id) DO UPDATE SET
			model_name = excluded.model_name,
			entity_kind = excluded.entity_kind,
			schema_name = excluded.schema_name,
			entity_name = excluded.entity_name,
			content = excluded.content,
			content_hash = excluded.content_hash,
			updated_at = unixepoch()
	`, infra.Collection),
		record.ID, record.ModelName, string(record.Kind), record.Schema,
		record.Name, record.Text, record.ContentHash,
	)
	if err != nil {
		return fmt.Errorf("%w: store record %s: %v", types.ErrIndexWriteFailed, record.ID, err)
	}

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT OR REPLACE INTO %s_embeddings (record_id, embedding)
		VALUES (?, ?)
	`, infra.Collection),
		record.ID, floatsToBytes(record.Vector),
	)
	if err != nil {
		return fmt.Errorf("%w: store embedding for %s: %v", types.ErrIndexWriteFailed, record.ID, err)
	}

	return tx.Commit()
}

// Search returns the topK records closest to queryVector by cosine
// distance, converted to similarity. Ties keep insertion order.
func (i *Index) Search(ctx context.Context, queryVector []float32, topK int, infra *types.VectorInfrastructure) ([]*types.VectorMatch, error) {
	if len(queryVector) == 0 {
		return nil, fmt.Errorf("%w: query vector is empty", types.ErrSearchFailed)
	}
	if topK <= 0 {
		return nil, nil
	}
	exists, err := i.collectionExists(ctx, infra.Collection)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	query := fmt.Sprintf(`
		SELECT
			r.id, r.model_name, r.entity_kind, r.schema_name, r.entity_name,
			r.content, r.content_hash, e.embedding,
			vec_distance_cosine(e.embedding, ?) AS distance
		FROM %s_embeddings e
		JOIN %s_records r ON e.record_id = r.id
		ORDER BY distance ASC, r.created_at ASC
		LIMIT ?
	`, infra.Collection, infra.Collection)

	rows, err := i.db.QueryContext(ctx, query, floatsToBytes(queryVector), topK)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrSearchFailed, err)
	}
	defer rows.Close()

	var matches []*types.VectorMatch
	for rows.Next() {
		var (
			rec      types.EntityVectorRecord
			kind     string
			embBytes []byte
			distance float64
		)
		if err := rows.Scan(&rec.ID, &rec.ModelName, &kind, &rec.Schema, &rec.Name,
			&rec.Text, &rec.ContentHash, &embBytes, &distance); err != nil {
			return nil, fmt.Errorf("%w: scan row: %v", types.ErrSearchFailed, err)
		}
		rec.Kind = types.EntityKind(kind)
		rec.Vector = bytesToFloats(embBytes)

		// Cosine distance to similarity score.
		matches = append(matches, &types.VectorMatch{
			Record: &rec,
			Score:  float32(1.0 - distance),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrSearchFailed, err)
	}
	return matches, nil
}

// Count returns the number of records in the collection.
func (i *Index) Count(ctx context.Context, infra *types.VectorInfrastructure) (int, error) {
	exists, err := i.collectionExists(ctx, infra.Collection)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}

	var count int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s_records", infra.Collection)
	if err := i.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count collection %s: %w", infra.Collection, err)
	}
	return count, nil
}

// collectionExists reports whether the collection has been provisioned,
// here or by an earlier process.
func (i *Index) collectionExists(ctx context.Context, collection string) (bool, error) {
	if !identifierRe.MatchString(collection) {
		return false, fmt.Errorf("%w: invalid collection name %q", types.ErrInvalidConfig, collection)
	}

	var name string
	err := i.db.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?",
		collection+"_records",
	).Scan(&name)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Close closes the database.
func (i *Index) Close() error {
	if i.db == nil {
		return nil
	}
	return i.db.Close()
}

func floatsToBytes(floats []float32) []byte {
	bytes := make([]byte, len(floats)*4)
	for i, f := range floats {
		bits := math.Float32bits(f)
		bytes[i*4] = byte(bits)
		bytes[i*4+1] = byte(bits >> 8)
		bytes[i*4+2] = byte(bits >> 16)
		bytes[i*4+3] = byte(bits >> 24)
	}
	return bytes
}

func bytesToFloats(data []byte) []float32 {
	floats := make([]float32, len(data)/4)
	for i := range floats {
		bits := uint32(data[i*4]) |
			uint32(data[i*4+1])<<8 |
			uint32(data[i*4+2])<<16 |
			uint32(data[i*4+3])<<24
		floats[i] = math.Float32frombits(bits)
	}
	return floats
}

// Ensure Index implements VectorIndex interface
var _ provider.VectorIndex = (*Index)(nil)
