package httpapi

import (
	"bytes"
	"context"
	"mime/multipart"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/sammcj/batchserve/internal/blobstore"
	"github.com/sammcj/batchserve/internal/config"
	"github.com/sammcj/batchserve/internal/logging"
	"github.com/sammcj/batchserve/internal/store"
)

func newTestStore(t *testing.T) store.MetadataStore {
	t.Helper()
	logger := logging.NewDefaultLogger(logging.LogLevelError, logging.OutputTypeJSON)
	st, err := store.NewSQLiteStore(context.Background(), store.SQLiteConfig{Path: filepath.Join(t.TempDir(), "test.db")}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close(context.Background()) })
	return st
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	st := newTestStore(t)
	blobs, err := blobstore.New(t.TempDir())
	require.NoError(t, err)
	cfg := config.Config{MaxBatchFileSizeMB: 1, MaxRequestsPerJob: 1000}
	return NewServer(cfg, st, blobs, nil, nil, testLogger())
}

func multipartCtx(t *testing.T, fields map[string]string, filename string, content []byte) *fasthttp.RequestCtx {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if filename != "" {
		part, err := w.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	var ctx fasthttp.RequestCtx
	ctx.Request.Header.SetMethod("POST")
	ctx.Request.Header.SetContentType(w.FormDataContentType())
	ctx.Request.SetBody(buf.Bytes())
	return &ctx
}

func TestUploadFileRejectsMissingPurpose(t *testing.T) {
	s := newTestServer(t)
	ctx := multipartCtx(t, map[string]string{}, "in.jsonl", []byte(`{}`))
	s.uploadFile(ctx)
	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())
}

func TestUploadFileRejectsMissingFilePart(t *testing.T) {
	s := newTestServer(t)
	ctx := multipartCtx(t, map[string]string{"purpose": "batch"}, "", nil)
	s.uploadFile(ctx)
	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())
}

func TestUploadFileRejectsOversizedFile(t *testing.T) {
	s := newTestServer(t)
	big := bytes.Repeat([]byte("x"), 2*1024*1024) // 2MB, over the 1MB test config limit
	ctx := multipartCtx(t, map[string]string{"purpose": "batch"}, "in.jsonl", big)
	s.uploadFile(ctx)
	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())
}

func TestUploadFileSucceeds(t *testing.T) {
	s := newTestServer(t)
	ctx := multipartCtx(t, map[string]string{"purpose": "batch"}, "in.jsonl", []byte(`{"custom_id":"1"}`))
	s.uploadFile(ctx)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Contains(t, string(ctx.Response.Body()), `"purpose":"batch"`)
	assert.Contains(t, string(ctx.Response.Body()), `"filename":"in.jsonl"`)
}

func TestGetFileReturnsViewOrNotFound(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.store.CreateFile(context.Background(), &store.File{ID: "file_1", Purpose: "batch", Filename: "a.jsonl", Path: "/a"}))

	var ctx fasthttp.RequestCtx
	ctx.SetUserValue("id", "file_1")
	s.getFile(&ctx)
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	var missing fasthttp.RequestCtx
	missing.SetUserValue("id", "nope")
	s.getFile(&missing)
	assert.Equal(t, fasthttp.StatusNotFound, missing.Response.StatusCode())
}

func TestGetFileContentStreamsBlob(t *testing.T) {
	s := newTestServer(t)
	id := s.blobs.NewID("file")
	path, err := s.blobs.PathFor(id)
	require.NoError(t, err)
	_, err = s.blobs.Put(path, bytes.NewReader([]byte("hello world")))
	require.NoError(t, err)
	require.NoError(t, s.store.CreateFile(context.Background(), &store.File{ID: id, Purpose: "batch", Filename: "a.jsonl", Path: path}))

	var ctx fasthttp.RequestCtx
	ctx.SetUserValue("id", id)
	s.getFileContent(&ctx)
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
}

func TestListFilesFiltersByPurpose(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.store.CreateFile(context.Background(), &store.File{ID: "f1", Purpose: "batch", Filename: "a", Path: "/a"}))
	require.NoError(t, s.store.CreateFile(context.Background(), &store.File{ID: "f2", Purpose: "batch_output", Filename: "b", Path: "/b"}))

	var ctx fasthttp.RequestCtx
	ctx.Request.SetRequestURI("/v1/files?purpose=batch")
	s.listFiles(&ctx)
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Contains(t, string(ctx.Response.Body()), `"f1"`)
	assert.NotContains(t, string(ctx.Response.Body()), `"f2"`)
}

func TestDeleteFileSoftDeletes(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.store.CreateFile(context.Background(), &store.File{ID: "f1", Purpose: "batch", Filename: "a", Path: "/a"}))

	var ctx fasthttp.RequestCtx
	ctx.SetUserValue("id", "f1")
	s.deleteFile(&ctx)
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Contains(t, string(ctx.Response.Body()), `"deleted":true`)

	_, err := s.store.GetFile(context.Background(), "f1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestQueryIntFallsBackOnMissingOrBadValue(t *testing.T) {
	var ctx fasthttp.RequestCtx
	ctx.Request.SetRequestURI("/v1/files?limit=notanumber")
	assert.Equal(t, 20, queryInt(&ctx, "limit", 20))

	var empty fasthttp.RequestCtx
	assert.Equal(t, 5, queryInt(&empty, "after", 5))
}
