package httpapi

import (
	"strconv"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/sammcj/batchserve/internal/apierrors"
	"github.com/sammcj/batchserve/internal/store"
)

// fileView is the OpenAI-shaped File object returned to clients.
type fileView struct {
	ID        string `json:"id"`
	Object    string `json:"object"`
	Purpose   string `json:"purpose"`
	Filename  string `json:"filename"`
	Bytes     int64  `json:"bytes"`
	CreatedAt int64  `json:"created_at"`
}

func toFileView(f *store.File) fileView {
	return fileView{
		ID:        f.ID,
		Object:    "file",
		Purpose:   f.Purpose,
		Filename:  f.Filename,
		Bytes:     f.Bytes,
		CreatedAt: f.CreatedAt.Unix(),
	}
}

// uploadFile handles POST /v1/files: a multipart upload with a "file"
// part and a "purpose" field (must be "batch"). The blob is written
// atomically via the blob store before the metadata row is created, so
// a crash mid-upload never leaves a File row pointing at a partial
// file.
func (s *Server) uploadFile(ctx *fasthttp.RequestCtx) {
	form, err := ctx.MultipartForm()
	if err != nil {
		sendError(ctx, s.logger, apierrors.InvalidRequest("invalid multipart form: %v", err))
		return
	}

	purposeValues := form.Value["purpose"]
	if len(purposeValues) == 0 || purposeValues[0] != "batch" {
		sendError(ctx, s.logger, apierrors.InvalidRequest("purpose must be \"batch\""))
		return
	}

	fileHeaders := form.File["file"]
	if len(fileHeaders) == 0 {
		sendError(ctx, s.logger, apierrors.InvalidRequest("missing file part"))
		return
	}
	fh := fileHeaders[0]

	maxBytes := int64(s.cfg.MaxBatchFileSizeMB) * 1024 * 1024
	if maxBytes > 0 && fh.Size > maxBytes {
		sendError(ctx, s.logger, apierrors.InvalidRequest("file exceeds max_batch_file_size_mb=%d", s.cfg.MaxBatchFileSizeMB))
		return
	}

	src, err := fh.Open()
	if err != nil {
		sendError(ctx, s.logger, apierrors.Internal("open uploaded file", err))
		return
	}
	defer src.Close()

	id := s.blobs.NewID("file")
	path, err := s.blobs.PathFor(id)
	if err != nil {
		sendError(ctx, s.logger, apierrors.Internal("allocate blob path", err))
		return
	}
	written, err := s.blobs.Put(path, src)
	if err != nil {
		sendError(ctx, s.logger, apierrors.Internal("write uploaded file", err))
		return
	}

	record := &store.File{
		ID:        id,
		Purpose:   "batch",
		Filename:  fh.Filename,
		Bytes:     written,
		Path:      path,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateFile(ctx, record); err != nil {
		sendError(ctx, s.logger, apierrors.Internal("persist file metadata", err))
		return
	}

	sendJSONStatus(ctx, fasthttp.StatusOK, toFileView(record))
}

func (s *Server) getFile(ctx *fasthttp.RequestCtx) {
	id, _ := ctx.UserValue("id").(string)
	f, err := s.store.GetFile(ctx, id)
	if err != nil {
		sendError(ctx, s.logger, notFoundOrInternal(err, "file", id))
		return
	}
	sendJSON(ctx, toFileView(f))
}

func (s *Server) getFileContent(ctx *fasthttp.RequestCtx) {
	id, _ := ctx.UserValue("id").(string)
	f, err := s.store.GetFile(ctx, id)
	if err != nil {
		sendError(ctx, s.logger, notFoundOrInternal(err, "file", id))
		return
	}
	blob, err := s.blobs.Open(f.Path)
	if err != nil {
		sendError(ctx, s.logger, apierrors.Internal("open file blob", err))
		return
	}
	defer blob.Close()
	ctx.SetContentType("application/octet-stream")
	ctx.SetBodyStream(blob, -1)
}

func (s *Server) listFiles(ctx *fasthttp.RequestCtx) {
	purpose := string(ctx.QueryArgs().Peek("purpose"))
	limit := queryInt(ctx, "limit", 20)
	offset := queryInt(ctx, "after", 0)

	files, err := s.store.ListFiles(ctx, purpose, limit, offset)
	if err != nil {
		sendError(ctx, s.logger, apierrors.Internal("list files", err))
		return
	}
	views := make([]fileView, 0, len(files))
	for _, f := range files {
		views = append(views, toFileView(f))
	}
	sendJSON(ctx, map[string]any{"object": "list", "data": views})
}

func (s *Server) deleteFile(ctx *fasthttp.RequestCtx) {
	id, _ := ctx.UserValue("id").(string)
	if err := s.store.SoftDeleteFile(ctx, id); err != nil {
		sendError(ctx, s.logger, notFoundOrInternal(err, "file", id))
		return
	}
	sendJSON(ctx, map[string]any{"id": id, "object": "file", "deleted": true})
}

func notFoundOrInternal(err error, kind, id string) error {
	if err == store.ErrNotFound {
		return apierrors.NotFound(kind, id)
	}
	return apierrors.Internal("store error", err)
}

func queryInt(ctx *fasthttp.RequestCtx, key string, fallback int) int {
	raw := string(ctx.QueryArgs().Peek(key))
	if raw == "" {
		return fallback
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return n
	}
	return fallback
}
