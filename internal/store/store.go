// Package store persists manifest header rows in PostgreSQL for fleet-wide
// audit queries. The JSON manifest on disk stays the source of truth; this
// index only answers "which runs reached which stage, when".
package store

import (
	"context"
	"time"

	"github.com/stratgate/stratgate/internal/manifest"
)

// ManifestRow is one indexed promotion attempt.
type ManifestRow struct {
	ManifestID string    `db:"manifest_id" json:"manifest_id"`
	RunID      string    `db:"run_id" json:"run_id"`
	Stage      string    `db:"stage" json:"stage"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	Path       string    `db:"path" json:"path"`
	BestScore  *float64  `db:"best_score" json:"best_score,omitempty"`
	Candidates int       `db:"candidates" json:"candidates"`
}

// ManifestIndex records and queries promotion attempts.
type ManifestIndex interface {
	Record(ctx context.Context, m *manifest.Manifest, path string) error
	ListByStage(ctx context.Context, stage manifest.Stage, limit int) ([]ManifestRow, error)
	Close() error
}
