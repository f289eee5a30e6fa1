package httpapi

import (
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/sammcj/batchserve/internal/logging"
)

// middleware matches the source's BifrostHTTPMiddleware shape: a
// function wrapping a handler with another handler.
type middleware func(fasthttp.RequestHandler) fasthttp.RequestHandler

func chainMiddlewares(h fasthttp.RequestHandler, mws ...middleware) fasthttp.RequestHandler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// loggingMiddleware logs method, path and status for every request.
func loggingMiddleware(logger logging.Logger) middleware {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			start := time.Now()
			next(ctx)
			logger.Debug("request",
				"method", string(ctx.Method()),
				"path", string(ctx.Path()),
				"status", ctx.Response.StatusCode(),
				"duration_ms", time.Since(start).Milliseconds(),
			)
		}
	}
}

// authMiddleware enforces the optional static bearer key from spec
// section 6 (API_KEY). When apiKey is empty, auth is disabled entirely
// — matching the non-goal "authentication beyond an optional static
// key".
func authMiddleware(apiKey string, logger logging.Logger) middleware {
	if apiKey == "" {
		return func(next fasthttp.RequestHandler) fasthttp.RequestHandler { return next }
	}
	whitelisted := map[string]bool{"/health": true, "/liveness": true, "/readiness": true}
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			if whitelisted[string(ctx.Path())] {
				next(ctx)
				return
			}
			auth := string(ctx.Request.Header.Peek("Authorization"))
			scheme, token, ok := strings.Cut(auth, " ")
			if !ok || scheme != "Bearer" || token != apiKey {
				sendJSONStatus(ctx, fasthttp.StatusUnauthorized, newErrorEnvelope("invalid or missing API key", "invalid_request"))
				return
			}
			next(ctx)
		}
	}
}
