package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sammcj/batchserve/internal/jsonl"
	"github.com/sammcj/batchserve/internal/optimizer"
)

func TestHTTPEngineLoadSkipsWhenAlreadyLoaded(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e := NewHTTPEngine(srv.URL)
	require.NoError(t, e.Load(context.Background(), "model-a", optimizer.EngineConfig{}))
	require.NoError(t, e.Load(context.Background(), "model-a", optimizer.EngineConfig{}))
	assert.Equal(t, 1, calls)
	assert.Equal(t, "model-a", e.LoadedModel())
}

func TestHTTPEngineLoadErrorsOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := NewHTTPEngine(srv.URL)
	err := e.Load(context.Background(), "model-a", optimizer.EngineConfig{})
	assert.Error(t, err)
	assert.Equal(t, "", e.LoadedModel())
}

func TestHTTPEngineUnloadResetsLoaded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e := NewHTTPEngine(srv.URL)
	require.NoError(t, e.Load(context.Background(), "model-a", optimizer.EngineConfig{}))
	require.NoError(t, e.Unload(context.Background()))
	assert.Equal(t, "", e.LoadedModel())
}

func TestHTTPEngineGenerateTranslatesBadResponsesToResultErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("bad request body"))
	}))
	defer srv.Close()

	e := NewHTTPEngine(srv.URL)
	results, err := e.Generate(context.Background(), "/v1/chat/completions", []jsonl.RequestLine{
		{CustomID: "req-1", Body: map[string]any{"model": "m"}},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "req-1", results[0].CustomID)
	require.NotNil(t, results[0].Error)
	assert.Equal(t, "http_400", results[0].Error.Code)
}

func TestHTTPEngineGenerateSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"text":"hi"}]}`))
	}))
	defer srv.Close()

	e := NewHTTPEngine(srv.URL)
	results, err := e.Generate(context.Background(), "/v1/chat/completions", []jsonl.RequestLine{
		{CustomID: "req-1", Body: map[string]any{"model": "m"}},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Nil(t, results[0].Error)
	require.NotNil(t, results[0].Response)
	assert.Equal(t, 200, results[0].Response.StatusCode)
}
