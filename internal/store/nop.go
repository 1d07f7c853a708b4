package store

import (
	"context"

	"github.com/stratgate/stratgate/internal/manifest"
)

// nopIndex is used when no database DSN is configured.
type nopIndex struct{}

// NewNop returns a ManifestIndex that discards records.
func NewNop() ManifestIndex { return nopIndex{} }

func (nopIndex) Record(ctx context.Context, m *manifest.Manifest, path string) error { return nil }

func (nopIndex) ListByStage(ctx context.Context, stage manifest.Stage, limit int) ([]ManifestRow, error) {
	return nil, nil
}

func (nopIndex) Close() error { return nil }
