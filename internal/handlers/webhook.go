package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/tidwall/gjson"
	"github.com/valyala/fasthttp"

	"github.com/sammcj/batchserve/internal/jsonl"
	"github.com/sammcj/batchserve/internal/logging"
	"github.com/sammcj/batchserve/internal/retry"
)

// WebhookHandler POSTs a finished batch's summary to a per-batch
// webhook URL taken from its metadata. It is always enabled; whether
// it actually fires is gated by the batch opting in via
// metadata.webhook_url, matching the source handler's contract exactly
// (enabled() always true, individual batches opt in via metadata).
type WebhookHandler struct {
	client     *fasthttp.Client
	timeout    time.Duration
	retryPolicy retry.Policy
	logger     logging.Logger
}

// successStatusCodes are the HTTP statuses the source implementation
// treats as a delivered webhook.
var successStatusCodes = map[int]bool{200: true, 201: true, 202: true, 204: true}

func NewWebhookHandler(logger logging.Logger) *WebhookHandler {
	return &WebhookHandler{
		client:  &fasthttp.Client{ReadTimeout: 30 * time.Second, WriteTimeout: 30 * time.Second},
		timeout: 30 * time.Second,
		retryPolicy: retry.Policy{
			MaxAttempts: 3,
			BaseDelay:   1 * time.Second,
			MaxDelay:    4 * time.Second,
		},
		logger: logger,
	}
}

func (h *WebhookHandler) Name() string { return "webhook" }

func (h *WebhookHandler) Enabled(metadataJSON string) bool {
	return true
}

func (h *WebhookHandler) OnError(err error) {
	h.logger.Warn("webhook delivery ultimately failed", "err", err.Error())
}

// Handle builds the delivery payload and POSTs it with up to three
// attempts. The waits come from retry.Do with a 1s base delay and are
// jittered: 0.5-1s before the second attempt and 1-2s before the third,
// not fixed 1s/2s/4s steps.
func (h *WebhookHandler) Handle(ctx context.Context, result Result) error {
	url := gjson.Get(result.MetadataJSON, "webhook_url").String()
	if url == "" {
		return nil
	}

	filtered, err := jsonl.FilterMetadata(result.MetadataJSON, "webhook_url", "status", "created_at", "completed_at")
	if err != nil {
		return fmt.Errorf("webhook: filter metadata: %w", err)
	}
	var metadata map[string]any
	if filtered != "" {
		if err := sonic.Unmarshal([]byte(filtered), &metadata); err != nil {
			return fmt.Errorf("webhook: decode filtered metadata: %w", err)
		}
	}

	payload, err := sonic.Marshal(map[string]any{
		"id":              result.BatchID,
		"object":          "batch",
		"status":          result.Status,
		"created_at":      result.CreatedAt,
		"completed_at":    result.CompletedAt,
		"request_counts": map[string]int{
			"total":     result.RequestCounts.Total,
			"completed": result.RequestCounts.Completed,
			"failed":    result.RequestCounts.Failed,
		},
		"metadata":        metadata,
		"output_file_url": result.OutputFileURL,
	})
	if err != nil {
		return fmt.Errorf("webhook: build payload: %w", err)
	}

	return retry.Do(ctx, h.retryPolicy, nil, func(ctx context.Context) error {
		return h.deliver(ctx, url, payload)
	})
}

func (h *WebhookHandler) deliver(ctx context.Context, url string, payload []byte) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(payload)

	deadline := time.Now().Add(h.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := h.client.DoDeadline(req, resp, deadline); err != nil {
		return fmt.Errorf("webhook: request failed: %w", err)
	}
	if !successStatusCodes[resp.StatusCode()] {
		return fmt.Errorf("webhook: unexpected status %d", resp.StatusCode())
	}
	return nil
}
