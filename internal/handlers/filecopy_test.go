package handlers

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileCopyHandlerEnabledOnlyWithPath(t *testing.T) {
	h := NewFileCopyHandler(testLogger())
	assert.False(t, h.Enabled(`{}`))
	assert.True(t, h.Enabled(`{"filecopy_path":"/tmp/x.jsonl"}`))
}

func TestFileCopyHandlerAppendsLine(t *testing.T) {
	h := NewFileCopyHandler(testLogger())
	path := filepath.Join(t.TempDir(), "sink.jsonl")

	err := h.Handle(context.Background(), Result{
		BatchID:      "batch_1",
		Status:       "completed",
		MetadataJSON: `{"filecopy_path":"` + strings.ReplaceAll(path, `\`, `\\`) + `"}`,
	})
	require.NoError(t, err)

	err = h.Handle(context.Background(), Result{
		BatchID:      "batch_2",
		Status:       "failed",
		MetadataJSON: `{"filecopy_path":"` + strings.ReplaceAll(path, `\`, `\\`) + `"}`,
	})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "batch_1")
	assert.Contains(t, lines[1], "batch_2")
}

func TestFileCopyHandlerNoOpWithoutPath(t *testing.T) {
	h := NewFileCopyHandler(testLogger())
	err := h.Handle(context.Background(), Result{MetadataJSON: `{}`})
	assert.NoError(t, err)
}
