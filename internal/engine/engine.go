// Package engine defines the boundary between the worker's chunked
// execution loop and the local inference backend. spec.md explicitly
// excludes the inference engine itself from this repository's scope;
// this package is the thin client the worker calls into, not an engine
// implementation.
package engine

import (
	"context"

	"github.com/sammcj/batchserve/internal/jsonl"
	"github.com/sammcj/batchserve/internal/optimizer"
)

// Engine is the worker's blocking call into the single-threaded local
// inference backend. Load/Unload implement model hot-swap; Generate
// processes one chunk synchronously, matching "async/engine
// interaction -> blocking call in single-threaded worker loop" from
// spec.md's design notes.
type Engine interface {
	Load(ctx context.Context, modelID string, cfg optimizer.EngineConfig) error
	Unload(ctx context.Context) error
	LoadedModel() string
	Generate(ctx context.Context, endpoint string, requests []jsonl.RequestLine) ([]jsonl.ResultLine, error)
}
