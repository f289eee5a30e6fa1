package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sammcj/batchserve/internal/logging"
)

func newTestStore(t *testing.T) MetadataStore {
	t.Helper()
	logger := logging.NewDefaultLogger(logging.LogLevelError, logging.OutputTypeJSON)
	st, err := NewSQLiteStore(context.Background(), SQLiteConfig{Path: filepath.Join(t.TempDir(), "test.db")}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close(context.Background()) })
	return st
}

func TestFileCreateGetSoftDelete(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	f := &File{ID: "file_1", Purpose: "batch_input", Filename: "in.jsonl", Bytes: 10, Path: "/tmp/in.jsonl"}
	require.NoError(t, st.CreateFile(ctx, f))

	got, err := st.GetFile(ctx, "file_1")
	require.NoError(t, err)
	assert.Equal(t, "in.jsonl", got.Filename)

	require.NoError(t, st.SoftDeleteFile(ctx, "file_1"))
	_, err = st.GetFile(ctx, "file_1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetFileNotFound(t *testing.T) {
	st := newTestStore(t)
	_, err := st.GetFile(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListFilesFiltersByPurposeAndDeleted(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.CreateFile(ctx, &File{ID: "f1", Purpose: "batch_input", Filename: "a", Path: "/a"}))
	require.NoError(t, st.CreateFile(ctx, &File{ID: "f2", Purpose: "batch_output", Filename: "b", Path: "/b"}))
	require.NoError(t, st.CreateFile(ctx, &File{ID: "f3", Purpose: "batch_input", Filename: "c", Path: "/c"}))
	require.NoError(t, st.SoftDeleteFile(ctx, "f3"))

	files, err := st.ListFiles(ctx, "batch_input", 10, 0)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "f1", files[0].ID)
}

func TestDeleteFilesOlderThanInvokesCallback(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	f := &File{ID: "old_file", Purpose: "batch_input", Filename: "old", Path: "/old", CreatedAt: time.Now().Add(-48 * time.Hour)}
	require.NoError(t, st.CreateFile(ctx, f))
	require.NoError(t, st.SoftDeleteFile(ctx, "old_file"))

	var deletedPaths []string
	n, err := st.DeleteFilesOlderThan(ctx, time.Now().Add(-24*time.Hour), 10, func(path string) {
		deletedPaths = append(deletedPaths, path)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, []string{"/old"}, deletedPaths)
}

func seedBatch(t *testing.T, st MetadataStore, id string, status BatchStatus) *BatchJob {
	t.Helper()
	b := &BatchJob{
		ID:            id,
		Endpoint:      BatchEndpointChatCompletions,
		InputFileID:   "file_in",
		Status:        status,
		RequestCounts: RequestCounts{Total: 10},
		ExpiresAt:     time.Now().Add(time.Hour),
	}
	require.NoError(t, st.CreateBatch(context.Background(), b))
	return b
}

func TestBatchCreateAndGet(t *testing.T) {
	st := newTestStore(t)
	seedBatch(t, st, "batch_1", BatchStatusValidating)

	got, err := st.GetBatch(context.Background(), "batch_1")
	require.NoError(t, err)
	assert.Equal(t, BatchStatusValidating, got.Status)
	assert.Equal(t, 10, got.RequestCounts.Total)
}

func TestTransitionBatchSucceedsOnMatchingFrom(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedBatch(t, st, "batch_1", BatchStatusValidating)

	require.NoError(t, st.TransitionBatch(ctx, "batch_1", BatchStatusValidating, BatchStatusInProgress, nil))

	got, err := st.GetBatch(ctx, "batch_1")
	require.NoError(t, err)
	assert.Equal(t, BatchStatusInProgress, got.Status)
	assert.NotNil(t, got.InProgressAt)
}

func TestTransitionBatchConflictsOnMismatchedFrom(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedBatch(t, st, "batch_1", BatchStatusValidating)

	err := st.TransitionBatch(ctx, "batch_1", BatchStatusInProgress, BatchStatusFinalizing, nil)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestTransitionBatchRejectsIllegalTransition(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedBatch(t, st, "batch_1", BatchStatusValidating)

	err := st.TransitionBatch(ctx, "batch_1", BatchStatusValidating, BatchStatusCompleted, nil)
	assert.Error(t, err)
}

func TestBumpCountsAccumulates(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedBatch(t, st, "batch_1", BatchStatusInProgress)

	require.NoError(t, st.BumpCounts(ctx, "batch_1", 3, 1))
	require.NoError(t, st.BumpCounts(ctx, "batch_1", 2, 0))

	got, err := st.GetBatch(ctx, "batch_1")
	require.NoError(t, err)
	assert.Equal(t, 5, got.RequestCounts.Completed)
	assert.Equal(t, 1, got.RequestCounts.Failed)
}

func TestFindResumableReturnsAllNonTerminalOrderedByCreatedAt(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	mk := func(id string, status BatchStatus, age time.Duration) {
		b := seedBatch(t, st, id, status)
		b.CreatedAt = time.Now().Add(-age)
		require.NoError(t, st.(*gormStore).db.WithContext(ctx).Save(b).Error)
	}
	mk("batch_validating", BatchStatusValidating, 3*time.Hour)
	mk("batch_running", BatchStatusInProgress, 2*time.Hour)
	mk("batch_finalizing", BatchStatusFinalizing, time.Hour)
	mk("batch_cancelling", BatchStatusCancelling, 30*time.Minute)
	seedBatch(t, st, "batch_done", BatchStatusCompleted)
	seedBatch(t, st, "batch_cancelled", BatchStatusCancelled)

	resumable, err := st.FindResumable(ctx)
	require.NoError(t, err)
	require.Len(t, resumable, 4)
	ids := make([]string, len(resumable))
	for i, b := range resumable {
		ids[i] = b.ID
	}
	assert.Equal(t, []string{"batch_validating", "batch_running", "batch_finalizing", "batch_cancelling"}, ids)
}

func TestFindExpiringReturnsPastDeadline(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	b := seedBatch(t, st, "batch_expired", BatchStatusInProgress)
	b.ExpiresAt = time.Now().Add(-time.Hour)
	require.NoError(t, st.(*gormStore).db.WithContext(ctx).Save(b).Error)

	seedBatch(t, st, "batch_fresh", BatchStatusInProgress)

	expiring, err := st.FindExpiring(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, expiring, 1)
	assert.Equal(t, "batch_expired", expiring[0].ID)
}
