package httpapi

import (
	"os"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"github.com/sammcj/batchserve/internal/apierrors"
	"github.com/sammcj/batchserve/internal/jsonl"
	"github.com/sammcj/batchserve/internal/store"
)

// batchView is the OpenAI-shaped Batch object returned to clients.
type batchView struct {
	ID              string            `json:"id"`
	Object          string            `json:"object"`
	Endpoint        string            `json:"endpoint"`
	InputFileID     string            `json:"input_file_id"`
	OutputFileID    *string           `json:"output_file_id,omitempty"`
	ErrorFileID     *string           `json:"error_file_id,omitempty"`
	Status          string            `json:"status"`
	RequestCounts   store.RequestCounts `json:"request_counts"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	CreatedAt       int64             `json:"created_at"`
	InProgressAt    *int64            `json:"in_progress_at,omitempty"`
	FinalizingAt    *int64            `json:"finalizing_at,omitempty"`
	CompletedAt     *int64            `json:"completed_at,omitempty"`
	FailedAt        *int64            `json:"failed_at,omitempty"`
	ExpiredAt       *int64            `json:"expired_at,omitempty"`
	CancellingAt    *int64            `json:"cancelling_at,omitempty"`
	CancelledAt     *int64            `json:"cancelled_at,omitempty"`
	ExpiresAt       int64             `json:"expires_at"`
}

func unixPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	u := t.Unix()
	return &u
}

func toBatchView(b *store.BatchJob) batchView {
	return batchView{
		ID:            b.ID,
		Object:        "batch",
		Endpoint:      string(b.Endpoint),
		InputFileID:   b.InputFileID,
		OutputFileID:  b.OutputFileID,
		ErrorFileID:   b.ErrorFileID,
		Status:        string(b.Status),
		RequestCounts: b.RequestCounts,
		Metadata:      b.Metadata,
		CreatedAt:     b.CreatedAt.Unix(),
		InProgressAt:  unixPtr(b.InProgressAt),
		FinalizingAt:  unixPtr(b.FinalizingAt),
		CompletedAt:   unixPtr(b.CompletedAt),
		FailedAt:      unixPtr(b.FailedAt),
		ExpiredAt:     unixPtr(b.ExpiredAt),
		CancellingAt:  unixPtr(b.CancellingAt),
		CancelledAt:   unixPtr(b.CancelledAt),
		ExpiresAt:     b.ExpiresAt.Unix(),
	}
}

type createBatchRequest struct {
	InputFileID      string            `json:"input_file_id"`
	Endpoint         string            `json:"endpoint"`
	CompletionWindow string            `json:"completion_window"`
	Metadata         map[string]string `json:"metadata"`
}

// createBatch handles POST /v1/batches: validates the input file,
// counts its lines for admission, and admits the batch into the
// scheduler's bounded queue. output_file_id/error_file_id stay null
// until the worker finalizes the batch; no output/error File rows
// exist before then.
func (s *Server) createBatch(ctx *fasthttp.RequestCtx) {
	var req createBatchRequest
	if err := sonic.Unmarshal(ctx.PostBody(), &req); err != nil {
		sendError(ctx, s.logger, apierrors.InvalidRequest("invalid JSON body: %v", err))
		return
	}
	if req.InputFileID == "" {
		sendError(ctx, s.logger, apierrors.InvalidRequest("input_file_id is required"))
		return
	}
	endpoint := req.Endpoint
	if endpoint == "" {
		endpoint = string(store.BatchEndpointChatCompletions)
	}
	if endpoint != string(store.BatchEndpointChatCompletions) {
		sendError(ctx, s.logger, apierrors.InvalidRequest("unsupported endpoint %q", endpoint))
		return
	}

	inputFile, err := s.store.GetFile(ctx, req.InputFileID)
	if err != nil {
		sendError(ctx, s.logger, notFoundOrInternal(err, "file", req.InputFileID))
		return
	}
	if inputFile.Purpose != "batch" || inputFile.Deleted {
		sendError(ctx, s.logger, apierrors.InvalidRequest("input_file_id %q is not an active batch file", req.InputFileID))
		return
	}

	requestCount, err := s.countLines(inputFile.Path)
	if err != nil {
		sendError(ctx, s.logger, apierrors.Internal("scan input file", err))
		return
	}
	if requestCount > s.cfg.MaxRequestsPerJob {
		sendError(ctx, s.logger, apierrors.InvalidRequest("batch has %d requests, exceeds max_requests_per_job=%d", requestCount, s.cfg.MaxRequestsPerJob))
		return
	}

	window := s.cfg.CompletionWindow
	now := time.Now().UTC()
	batch := &store.BatchJob{
		ID:            "batch_" + uuid.New().String(),
		Endpoint:      store.BatchEndpoint(endpoint),
		InputFileID:   req.InputFileID,
		Status:        store.BatchStatusValidating,
		RequestCounts: store.RequestCounts{Total: requestCount},
		Metadata:      req.Metadata,
		CreatedAt:     now,
		ExpiresAt:     now.Add(window),
	}
	if err := s.store.CreateBatch(ctx, batch); err != nil {
		sendError(ctx, s.logger, apierrors.Internal("persist batch", err))
		return
	}

	if err := s.scheduler.Admit(ctx, batch.ID, requestCount); err != nil {
		// The row is already visible to a concurrent dispatcher, but
		// admission was rejected so it will never be queued; fail it
		// outright rather than leave an orphaned validating row behind.
		if tErr := s.store.TransitionBatch(ctx, batch.ID, store.BatchStatusValidating, store.BatchStatusFailed, nil); tErr != nil && tErr != store.ErrConflict {
			s.logger.Error(tErr, "failed to mark rejected batch as failed", "batch_id", batch.ID)
		}
		sendError(ctx, s.logger, err)
		return
	}

	sendJSONStatus(ctx, fasthttp.StatusOK, toBatchView(batch))
}

func (s *Server) countLines(path string) (int, error) {
	f, err := s.blobs.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	defer f.Close()
	count := 0
	err = jsonl.ForEachLine(f, func(_ int, _ jsonl.RequestLine) error {
		count++
		return nil
	})
	return count, err
}

func (s *Server) getBatch(ctx *fasthttp.RequestCtx) {
	id, _ := ctx.UserValue("id").(string)
	b, err := s.store.GetBatch(ctx, id)
	if err != nil {
		sendError(ctx, s.logger, notFoundOrInternal(err, "batch", id))
		return
	}
	sendJSON(ctx, toBatchView(b))
}

func (s *Server) listBatches(ctx *fasthttp.RequestCtx) {
	limit := queryInt(ctx, "limit", 20)
	offset := queryInt(ctx, "after", 0)
	batches, err := s.store.ListBatches(ctx, limit, offset)
	if err != nil {
		sendError(ctx, s.logger, apierrors.Internal("list batches", err))
		return
	}
	views := make([]batchView, 0, len(batches))
	for _, b := range batches {
		views = append(views, toBatchView(b))
	}
	sendJSON(ctx, map[string]any{"object": "list", "data": views})
}

// cancelBatch transitions {validating,in_progress} -> cancelling and
// interrupts any in-flight worker run; the worker observes cancelling
// at the next chunk boundary and finishes the move to cancelled.
func (s *Server) cancelBatch(ctx *fasthttp.RequestCtx) {
	id, _ := ctx.UserValue("id").(string)
	b, err := s.store.GetBatch(ctx, id)
	if err != nil {
		sendError(ctx, s.logger, notFoundOrInternal(err, "batch", id))
		return
	}
	if b.Status != store.BatchStatusValidating && b.Status != store.BatchStatusInProgress {
		sendError(ctx, s.logger, apierrors.StateConflict("batch %s cannot be cancelled from status %s", id, b.Status))
		return
	}
	if err := s.store.TransitionBatch(ctx, id, b.Status, store.BatchStatusCancelling, nil); err != nil {
		if err == store.ErrConflict {
			sendError(ctx, s.logger, apierrors.StateConflict("batch %s status changed concurrently", id))
			return
		}
		sendError(ctx, s.logger, apierrors.Internal("transition batch", err))
		return
	}
	s.scheduler.Cancel(id)

	updated, err := s.store.GetBatch(ctx, id)
	if err != nil {
		sendError(ctx, s.logger, apierrors.Internal("reload batch", err))
		return
	}
	sendJSON(ctx, toBatchView(updated))
}

// getBatchResults streams the batch's output JSONL, matching the
// client-visible contract that /results becomes available as soon as
// finalization commits, before the webhook (if any) fires.
func (s *Server) getBatchResults(ctx *fasthttp.RequestCtx) {
	id, _ := ctx.UserValue("id").(string)
	b, err := s.store.GetBatch(ctx, id)
	if err != nil {
		sendError(ctx, s.logger, notFoundOrInternal(err, "batch", id))
		return
	}
	if b.OutputFileID == nil {
		sendError(ctx, s.logger, apierrors.NotFound("batch results", id))
		return
	}
	outFile, err := s.store.GetFile(ctx, *b.OutputFileID)
	if err != nil {
		sendError(ctx, s.logger, apierrors.Internal("load output file", err))
		return
	}
	blob, err := s.blobs.Open(outFile.Path)
	if err != nil {
		sendError(ctx, s.logger, apierrors.Internal("open output blob", err))
		return
	}
	defer blob.Close()
	ctx.SetContentType("application/jsonl")
	ctx.SetBodyStream(blob, -1)
}
