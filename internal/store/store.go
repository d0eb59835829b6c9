package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/andresmejia3/facewatch/internal/logger"
	"github.com/andresmejia3/facewatch/internal/types"
)

// Store manages the PostgreSQL connection holding the reference embedding cache.
type Store struct {
	conn *pgx.Conn
}

// CachedEmbedding is one cache row without its vector.
type CachedEmbedding struct {
	Recognizer string
	Digest     string
	Name       string
	Dim        int
	Chip       int
	CachedAt   time.Time
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the cache table and vector extension if they don't exist.
// The vector column is unconstrained so recognizers with different
// descriptor sizes can share a database. Rows cached before embeddings were
// keyed by recognizer cannot be attributed, so that table is dropped.
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	var legacy bool
	err := conn.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = 'reference_embeddings')
		   AND NOT EXISTS (SELECT 1 FROM information_schema.columns
		                   WHERE table_name = 'reference_embeddings' AND column_name = 'recognizer')
	`).Scan(&legacy)
	if err != nil {
		return err
	}
	if legacy {
		logger.Warn(nil, "[store.initSchema] dropping embedding cache without recognizer column")
		if _, err := conn.Exec(ctx, `DROP TABLE reference_embeddings`); err != nil {
			return err
		}
	}

	query := `
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS reference_embeddings (
			recognizer TEXT NOT NULL,
			digest TEXT NOT NULL,
			name TEXT NOT NULL,
			dim INT NOT NULL,
			chip INT NOT NULL DEFAULT 0,
			embedding VECTOR NOT NULL,
			cached_at TIMESTAMPTZ DEFAULT NOW(),
			PRIMARY KEY (recognizer, digest)
		);
		CREATE INDEX IF NOT EXISTS reference_embeddings_name_idx ON reference_embeddings (name);
	`
	_, err = conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// Lookup returns the embedding cached for a file digest by the given recognizer.
func (s *Store) Lookup(ctx context.Context, recognizer, digest string) (types.Embedding, bool, error) {
	var (
		vec  pgvector.Vector
		chip int
	)
	err := s.conn.QueryRow(ctx,
		"SELECT embedding::text, chip FROM reference_embeddings WHERE recognizer = $1 AND digest = $2", recognizer, digest,
	).Scan(&vec, &chip)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.Embedding{}, false, nil
	}
	if err != nil {
		return types.Embedding{}, false, err
	}
	return types.Embedding{Vec: vec.Slice(), Chip: chip}, true, nil
}

// Save caches an embedding, replacing any previous row for the recognizer and digest.
func (s *Store) Save(ctx context.Context, recognizer, digest, name string, emb types.Embedding) error {
	if emb.Dim() == 0 {
		return fmt.Errorf("refusing to cache empty embedding for %s", name)
	}
	_, err := s.conn.Exec(ctx, `
		INSERT INTO reference_embeddings (recognizer, digest, name, dim, chip, embedding, cached_at)
		VALUES ($1, $2, $3, $4, $5, $6::vector, NOW())
		ON CONFLICT (recognizer, digest) DO UPDATE
		SET name = EXCLUDED.name, dim = EXCLUDED.dim, chip = EXCLUDED.chip,
		    embedding = EXCLUDED.embedding, cached_at = NOW()
	`, recognizer, digest, name, emb.Dim(), emb.Chip, pgvector.NewVector(emb.Vec))
	return err
}

// List returns every cached row ordered by name.
func (s *Store) List(ctx context.Context) ([]CachedEmbedding, error) {
	rows, err := s.conn.Query(ctx, "SELECT recognizer, digest, name, dim, chip, cached_at FROM reference_embeddings ORDER BY name, recognizer, digest")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CachedEmbedding
	for rows.Next() {
		var c CachedEmbedding
		if err := rows.Scan(&c.Recognizer, &c.Digest, &c.Name, &c.Dim, &c.Chip, &c.CachedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Prune deletes the recognizer's rows whose digest is not in keep and returns
// how many went. Other recognizers' rows are untouched.
func (s *Store) Prune(ctx context.Context, recognizer string, keep []string) (int64, error) {
	tag, err := s.conn.Exec(ctx, "DELETE FROM reference_embeddings WHERE recognizer = $1 AND NOT (digest = ANY($2))", recognizer, keep)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `DROP TABLE IF EXISTS reference_embeddings CASCADE;`)
	return err
}
