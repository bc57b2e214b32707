package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/cluster-sorter/internal/cluster"
)

// PostgresPersistence implements Persistence on top of Postgres +
// pgvector, grounded on the teacher's EmbeddingRepository: an upsert-by-key
// table plus a single manifest row per project.
type PostgresPersistence struct {
	pool *pgxpool.Pool
}

// NewPostgresPersistence wraps an already-connected pool.
func NewPostgresPersistence(pool *pgxpool.Pool) *PostgresPersistence {
	return &PostgresPersistence{pool: pool}
}

// Migrate creates the embeddings and manifests tables, and the pgvector
// extension, for the given embedding dimension.
func (p *PostgresPersistence) Migrate(ctx context.Context, dim int) error {
	if _, err := p.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createEmbeddings := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS embeddings (
			project    TEXT NOT NULL,
			path       TEXT NOT NULL,
			embedding  vector(%d) NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			PRIMARY KEY (project, path)
		)
	`, dim)
	if _, err := p.pool.Exec(ctx, createEmbeddings); err != nil {
		return fmt.Errorf("failed to create embeddings table: %w", err)
	}

	createManifests := `
		CREATE TABLE IF NOT EXISTS manifests (
			project            TEXT PRIMARY KEY,
			processed_count    INTEGER NOT NULL,
			total_images_found INTEGER NOT NULL,
			excluded_images    JSONB NOT NULL,
			failed_images      JSONB NOT NULL DEFAULT '[]',
			last_updated       BIGINT NOT NULL
		)
	`
	if _, err := p.pool.Exec(ctx, createManifests); err != nil {
		return fmt.Errorf("failed to create manifests table: %w", err)
	}

	return nil
}

// CreateVectorIndex builds the IVFFlat cosine-distance index. Call after
// the table has data for a representative index.
func (p *PostgresPersistence) CreateVectorIndex(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS embeddings_vector_idx
		ON embeddings USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)
	`)
	if err != nil {
		return fmt.Errorf("failed to create vector index: %w", err)
	}
	return nil
}

// PutRecords upserts every record for project by (project, path). This is
// an append-only-by-key operation: existing rows for the same path are
// replaced, rows for other paths are untouched — never a full-table
// rewrite, per the Design Note on idempotent flush.
func (p *PostgresPersistence) PutRecords(ctx context.Context, project string, records []cluster.EmbeddingRecord) error {
	for _, r := range records {
		vec := pgvector.NewVector(r.Vector)
		_, err := p.pool.Exec(ctx, `
			INSERT INTO embeddings (project, path, embedding, created_at)
			VALUES ($1, $2, $3, NOW())
			ON CONFLICT (project, path)
			DO UPDATE SET embedding = $3, created_at = NOW()
		`, project, r.Path, vec)
		if err != nil {
			return fmt.Errorf("failed to upsert embedding for %q: %w", r.Path, err)
		}
	}
	return nil
}

// AllRecords returns every record stored for project.
func (p *PostgresPersistence) AllRecords(ctx context.Context, project string) ([]cluster.EmbeddingRecord, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT path, embedding FROM embeddings WHERE project = $1
	`, project)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer rows.Close()

	var out []cluster.EmbeddingRecord
	for rows.Next() {
		var path string
		var vec pgvector.Vector
		if err := rows.Scan(&path, &vec); err != nil {
			return nil, fmt.Errorf("failed to scan embedding row: %w", err)
		}
		out = append(out, cluster.EmbeddingRecord{Path: path, Vector: vec.Slice()})
	}
	return out, rows.Err()
}

// PutManifest upserts the single manifest row for project.
func (p *PostgresPersistence) PutManifest(ctx context.Context, project string, manifest Manifest) error {
	excludedJSON, err := json.Marshal(manifest.ExcludedImages)
	if err != nil {
		return fmt.Errorf("failed to marshal excluded images: %w", err)
	}
	failedJSON, err := json.Marshal(manifest.FailedImages)
	if err != nil {
		return fmt.Errorf("failed to marshal failed images: %w", err)
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO manifests (project, processed_count, total_images_found, excluded_images, failed_images, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (project)
		DO UPDATE SET processed_count = $2, total_images_found = $3, excluded_images = $4, failed_images = $5, last_updated = $6
	`, project, manifest.ProcessedCount, manifest.TotalImagesFound, excludedJSON, failedJSON, manifest.LastUpdated)
	if err != nil {
		return fmt.Errorf("failed to upsert manifest: %w", err)
	}
	return nil
}

// GetManifest returns the manifest for project. A missing row, or a row
// whose excluded_images column fails to unmarshal, is reported as
// found=false (no prior session) rather than an error.
func (p *PostgresPersistence) GetManifest(ctx context.Context, project string) (Manifest, bool, error) {
	var m Manifest
	var excludedJSON, failedJSON []byte

	err := p.pool.QueryRow(ctx, `
		SELECT processed_count, total_images_found, excluded_images, failed_images, last_updated
		FROM manifests WHERE project = $1
	`, project).Scan(&m.ProcessedCount, &m.TotalImagesFound, &excludedJSON, &failedJSON, &m.LastUpdated)

	if err == pgx.ErrNoRows {
		return Manifest{}, false, nil
	}
	if err != nil {
		return Manifest{}, false, fmt.Errorf("failed to query manifest: %w", err)
	}

	if err := json.Unmarshal(excludedJSON, &m.ExcludedImages); err != nil {
		return Manifest{}, false, nil
	}
	if err := json.Unmarshal(failedJSON, &m.FailedImages); err != nil {
		return Manifest{}, false, nil
	}

	return m, true, nil
}

// FindSimilar returns the n nearest stored embeddings to query by cosine
// distance, alongside their distances, backing the "similar" CLI
// convenience command.
func (p *PostgresPersistence) FindSimilar(ctx context.Context, project string, query []float32, n int) ([]cluster.EmbeddingRecord, []float64, error) {
	vec := pgvector.NewVector(query)

	rows, err := p.pool.Query(ctx, `
		SELECT path, embedding, embedding <=> $2 AS distance
		FROM embeddings
		WHERE project = $1
		ORDER BY embedding <=> $2
		LIMIT $3
	`, project, vec, n)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query similar embeddings: %w", err)
	}
	defer rows.Close()

	var records []cluster.EmbeddingRecord
	var distances []float64
	for rows.Next() {
		var path string
		var v pgvector.Vector
		var distance float64
		if err := rows.Scan(&path, &v, &distance); err != nil {
			return nil, nil, fmt.Errorf("failed to scan similar row: %w", err)
		}
		records = append(records, cluster.EmbeddingRecord{Path: path, Vector: v.Slice()})
		distances = append(distances, distance)
	}
	return records, distances, rows.Err()
}
