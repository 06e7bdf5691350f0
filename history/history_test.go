package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airheartdev/docsync"
)

func TestRecordAndList(t *testing.T) {
	ctx := context.Background()
	log, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer log.Close()

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	first, err := log.Record(ctx, docsync.Report{
		Source:      "mem:a",
		Target:      "http://couch.local/b",
		Created:     true,
		DocsRead:    3,
		MissingRevs: 2,
		DocsWritten: 2,
		StartedAt:   start,
		Duration:    1500 * time.Millisecond,
	}, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)

	_, err = log.Record(ctx, docsync.Report{
		Source:    "mem:a",
		Target:    "http://couch.local/b",
		StartedAt: start.Add(time.Minute),
	}, errors.New("transport -1001: connection refused"))
	require.NoError(t, err)

	entries, err := log.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "transport -1001: connection refused", entries[0].Error)
	assert.Equal(t, first.ID, entries[1].ID)
	assert.True(t, entries[1].Created)
	assert.Equal(t, 2, entries[1].DocsWritten)
	assert.Equal(t, 1500*time.Millisecond, entries[1].Duration)
	assert.True(t, start.Equal(entries[1].StartedAt))
	assert.Empty(t, entries[1].Error)

	entries, err = log.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestReopenKeepsPasses(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")

	log, err := Open(path)
	require.NoError(t, err)
	_, err = log.Record(ctx, docsync.Report{Source: "a", Target: "b"}, nil)
	require.NoError(t, err)
	require.NoError(t, log.Close())

	log, err = Open(path)
	require.NoError(t, err)
	defer log.Close()
	entries, err := log.List(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
