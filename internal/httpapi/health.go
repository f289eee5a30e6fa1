package httpapi

import (
	"github.com/valyala/fasthttp"
)

// getHealth reports worker heartbeat status and store reachability,
// grounded on this codebase's health handler pattern of pinging every
// backing store and aggregating failures into one response.
func (s *Server) getHealth(ctx *fasthttp.RequestCtx) {
	lastSeen, loadedModel, status, dead := s.heartbeat.Snapshot()

	storeErr := s.store.Ping(ctx)
	body := map[string]any{
		"status":       "ok",
		"worker": map[string]any{
			"status":       string(status),
			"loaded_model": loadedModel,
			"last_seen":    lastSeen.Unix(),
			"dead":         dead,
		},
	}
	if storeErr != nil || dead {
		body["status"] = "degraded"
		if storeErr != nil {
			body["store_error"] = storeErr.Error()
		}
		sendJSONStatus(ctx, fasthttp.StatusServiceUnavailable, body)
		return
	}
	sendJSON(ctx, body)
}

// getLiveness is a minimal process-alive check: it never touches the
// store or the worker, so it cannot itself hang.
func (s *Server) getLiveness(ctx *fasthttp.RequestCtx) {
	ctx.SetStatusCode(fasthttp.StatusOK)
}

// getReadiness additionally requires the metadata store to answer.
func (s *Server) getReadiness(ctx *fasthttp.RequestCtx) {
	if err := s.store.Ping(ctx); err != nil {
		ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusOK)
}
