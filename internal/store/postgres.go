package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/stratgate/stratgate/internal/manifest"
)

const schema = `
CREATE TABLE IF NOT EXISTS manifest_index (
	manifest_id TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL,
	stage       TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	path        TEXT NOT NULL,
	best_score  DOUBLE PRECISION,
	candidates  INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS manifest_index_stage_idx ON manifest_index (stage, created_at DESC);
`

// postgresIndex implements ManifestIndex on PostgreSQL.
type postgresIndex struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewPostgres connects, ensures the schema, and returns a ManifestIndex.
func NewPostgres(dsn string, timeout time.Duration) (ManifestIndex, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect manifest index: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure manifest index schema: %w", err)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &postgresIndex{db: db, timeout: timeout}, nil
}

// Record inserts the manifest header. Re-recording the same manifest id is
// a no-op: manifests are immutable, so the first row is always correct.
func (p *postgresIndex) Record(ctx context.Context, m *manifest.Manifest, path string) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var bestScore *float64
	if m.Results.BestTrial != nil {
		s := m.Results.BestTrial.Score
		bestScore = &s
	}

	query := `
		INSERT INTO manifest_index (manifest_id, run_id, stage, created_at, path, best_score, candidates)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (manifest_id) DO NOTHING`

	_, err := p.db.ExecContext(ctx, query,
		m.ID(), m.RunID, string(m.Stage), m.CreatedAt, path, bestScore, len(m.Results.Candidates))
	if err != nil {
		return fmt.Errorf("failed to record manifest %s: %w", m.ID(), err)
	}

	log.Debug().Str("manifest_id", m.ID()).Str("stage", string(m.Stage)).Msg("Manifest indexed")
	return nil
}

// ListByStage returns the most recent rows for a stage.
func (p *postgresIndex) ListByStage(ctx context.Context, stage manifest.Stage, limit int) ([]ManifestRow, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}

	var rows []ManifestRow
	query := `
		SELECT manifest_id, run_id, stage, created_at, path, best_score, candidates
		FROM manifest_index
		WHERE stage = $1
		ORDER BY created_at DESC
		LIMIT $2`
	if err := p.db.SelectContext(ctx, &rows, query, string(stage), limit); err != nil {
		return nil, fmt.Errorf("failed to list manifests for stage %s: %w", stage, err)
	}
	return rows, nil
}

// Close releases the connection pool.
func (p *postgresIndex) Close() error { return p.db.Close() }
