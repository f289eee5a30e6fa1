// Package httpapi exposes the OpenAI-compatible HTTP surface: files,
// batches, models, and health endpoints, routed through fasthttp and
// fasthttp/router the same way this codebase's other HTTP transport
// does.
package httpapi

import (
	"errors"

	"github.com/bytedance/sonic"
	"github.com/valyala/fasthttp"

	"github.com/sammcj/batchserve/internal/apierrors"
	"github.com/sammcj/batchserve/internal/logging"
)

// errorEnvelope matches spec section 6's {error:{message,type,code}} shape.
type errorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

func newErrorEnvelope(message, typ string) errorEnvelope {
	var env errorEnvelope
	env.Error.Message = message
	env.Error.Type = typ
	env.Error.Code = typ
	return env
}

func sendJSON(ctx *fasthttp.RequestCtx, data any) {
	sendJSONStatus(ctx, fasthttp.StatusOK, data)
}

func sendJSONStatus(ctx *fasthttp.RequestCtx, status int, data any) {
	ctx.SetContentType("application/json")
	ctx.SetStatusCode(status)
	body, err := sonic.Marshal(data)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		ctx.SetBodyString(`{"error":{"message":"failed to encode response","type":"internal_error"}}`)
		return
	}
	ctx.SetBody(body)
}

// sendError renders err as the standard error envelope, mapping an
// *apierrors.APIError to its declared status/type and falling back to
// 500/internal_error for anything else.
func sendError(ctx *fasthttp.RequestCtx, logger logging.Logger, err error) {
	var apiErr *apierrors.APIError
	if !errors.As(err, &apiErr) {
		apiErr = apierrors.Internal(err.Error(), err)
	}
	if apiErr.Code == apierrors.CodeInternalError {
		logger.Error(err, "internal error serving request")
	}

	var env errorEnvelope
	env.Error.Message = apiErr.Message
	env.Error.Type = string(apiErr.Code)
	env.Error.Code = string(apiErr.Code)
	sendJSONStatus(ctx, apiErr.StatusCode(), env)
}
