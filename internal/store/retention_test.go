package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sammcj/batchserve/internal/logging"
)

type fakeBlobDeleter struct {
	deleted []string
}

func (d *fakeBlobDeleter) Delete(path string) error {
	d.deleted = append(d.deleted, path)
	return nil
}

func TestRetentionSweepDeletesOldSoftDeletedFiles(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	old := &File{ID: "old", Purpose: "batch_input", Filename: "old", Path: "/old", CreatedAt: time.Now().Add(-60 * 24 * time.Hour)}
	require.NoError(t, st.CreateFile(ctx, old))
	require.NoError(t, st.SoftDeleteFile(ctx, "old"))

	fresh := &File{ID: "fresh", Purpose: "batch_input", Filename: "fresh", Path: "/fresh"}
	require.NoError(t, st.CreateFile(ctx, fresh))
	require.NoError(t, st.SoftDeleteFile(ctx, "fresh"))

	blobs := &fakeBlobDeleter{}
	logger := logging.NewDefaultLogger(logging.LogLevelError, logging.OutputTypeJSON)
	r := NewRetention(st, blobs, 30, logger)

	r.sweep(ctx)

	assert.Contains(t, blobs.deleted, "/old")
	assert.NotContains(t, blobs.deleted, "/fresh")
}

func TestRetentionStartStopIsIdempotent(t *testing.T) {
	st := newTestStore(t)
	blobs := &fakeBlobDeleter{}
	logger := logging.NewDefaultLogger(logging.LogLevelError, logging.OutputTypeJSON)
	r := NewRetention(st, blobs, 30, logger)

	r.Start()
	r.Start() // second Start before Stop must be a no-op, not a double-close panic
	r.Stop()
	assert.NotPanics(t, func() { r.Stop() })
}

func TestNextRunDelayWithinExpectedRange(t *testing.T) {
	d := nextRunDelay()
	assert.GreaterOrEqual(t, d, retentionCheckInterval+retentionMinJitter)
	assert.Less(t, d, retentionCheckInterval+retentionMaxJitter)
}
