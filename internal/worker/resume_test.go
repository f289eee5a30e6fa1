package worker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCustomIDSetMissingFilesAreEmpty(t *testing.T) {
	dir := t.TempDir()
	set, err := loadCustomIDSet(filepath.Join(dir, "nope.jsonl"), filepath.Join(dir, "also-nope.jsonl"))
	require.NoError(t, err)
	assert.Empty(t, set)
}

func TestLoadCustomIDSetUnionsOutputAndError(t *testing.T) {
	dir := t.TempDir()
	outPath := filepath.Join(dir, "output.jsonl")
	errPath := filepath.Join(dir, "error.jsonl")

	require.NoError(t, os.WriteFile(outPath, []byte(
		`{"id":"r1","custom_id":"req-1","response":{"status_code":200,"body":{}}}`+"\n"+
			`{"id":"r2","custom_id":"req-2","response":{"status_code":200,"body":{}}}`+"\n",
	), 0o644))
	require.NoError(t, os.WriteFile(errPath, []byte(
		`{"id":"r3","custom_id":"req-3","error":{"message":"boom"}}`+"\n",
	), 0o644))

	set, err := loadCustomIDSet(outPath, errPath)
	require.NoError(t, err)
	assert.True(t, set["req-1"])
	assert.True(t, set["req-2"])
	assert.True(t, set["req-3"])
	assert.False(t, set["req-4"])
}

func TestLoadCustomIDSetPropagatesParseError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("not json\n"), 0o644))

	_, err := loadCustomIDSet(path)
	assert.Error(t, err)
}
