// Package handlers implements the pluggable result-handler pipeline: a
// small interface any post-processing step implements, dispatched by a
// registry in registration order, with per-handler failure isolation.
package handlers

import (
	"context"

	"github.com/sammcj/batchserve/internal/logging"
)

// Result is what a finished batch hands to every registered handler.
type Result struct {
	BatchID       string
	Status        string
	CreatedAt     int64
	CompletedAt   int64
	RequestCounts RequestCounts
	MetadataJSON  string // raw JSON object, handlers filter out their own keys
	OutputFileURL string
}

type RequestCounts struct {
	Total     int
	Completed int
	Failed    int
}

// Handler is a single pluggable result post-processing step: name
// identifies it for logging, enabled lets a handler opt out per-batch
// (e.g. the webhook handler only fires when metadata carries a
// webhook_url), handle does the work, and on_error observes a failure
// handle returned without that failure aborting the remaining handlers.
type Handler interface {
	Name() string
	Enabled(metadataJSON string) bool
	Handle(ctx context.Context, result Result) error
	OnError(err error)
}

// Registry dispatches a finished batch's result to every registered
// handler in registration order, isolating each handler's failure so
// one broken webhook endpoint never blocks another handler from
// running.
type Registry struct {
	handlers []Handler
	logger   logging.Logger
}

func NewRegistry(logger logging.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register appends a handler to the dispatch order.
func (r *Registry) Register(h Handler) {
	r.handlers = append(r.handlers, h)
	r.logger.Info("registered result handler", "name", h.Name())
}

// Process runs every enabled handler against result, in registration
// order, and returns a per-handler success map. A handler's error is
// logged and reported to its own OnError but never aborts later
// handlers.
func (r *Registry) Process(ctx context.Context, result Result) map[string]bool {
	outcomes := make(map[string]bool, len(r.handlers))
	for _, h := range r.handlers {
		if !h.Enabled(result.MetadataJSON) {
			continue
		}
		if err := h.Handle(ctx, result); err != nil {
			r.logger.Error(err, "result handler failed", "name", h.Name(), "batch_id", result.BatchID)
			h.OnError(err)
			outcomes[h.Name()] = false
			continue
		}
		outcomes[h.Name()] = true
	}
	return outcomes
}
