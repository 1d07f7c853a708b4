package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratgate/stratgate/internal/manifest"
)

func TestNopIndexSatisfiesInterface(t *testing.T) {
	idx := NewNop()
	defer idx.Close()

	err := idx.Record(context.Background(), &manifest.Manifest{}, "/tmp/x.json")
	require.NoError(t, err)

	rows, err := idx.ListByStage(context.Background(), manifest.StageTuning, 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestPostgresIndexRejectsBadDSN(t *testing.T) {
	_, err := NewPostgres("postgres://nobody@127.0.0.1:1/none?sslmode=disable&connect_timeout=1", 0)
	assert.Error(t, err)
}
