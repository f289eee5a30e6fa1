package httpapi

import (
	"time"

	"github.com/valyala/fasthttp"
)

type modelView struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// listModels returns an OpenAI-shaped /v1/models list with exactly one
// entry: the model the heartbeat reports as loaded, or cfg.ModelName
// when none is loaded. Multi-model catalogues are out of scope: the
// worker hot-swaps one model at a time (spec section 4.4).
func (s *Server) listModels(ctx *fasthttp.RequestCtx) {
	loaded := s.engineModel()
	if loaded == "" {
		loaded = s.cfg.ModelName
	}
	sendJSON(ctx, map[string]any{
		"object": "list",
		"data": []modelView{
			{ID: loaded, Object: "model", Created: time.Now().Unix(), OwnedBy: "batchserve"},
		},
	})
}
