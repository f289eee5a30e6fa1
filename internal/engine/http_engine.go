package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/valyala/fasthttp"

	"github.com/sammcj/batchserve/internal/jsonl"
	"github.com/sammcj/batchserve/internal/optimizer"
)

// defaultClientConfig mirrors the read/write timeout and connection
// pooling defaults used for every fasthttp client in this codebase.
var defaultClientConfig = struct {
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	MaxIdleConnDuration time.Duration
	MaxConnsPerHost     int
}{
	ReadTimeout:         60 * time.Second,
	WriteTimeout:        60 * time.Second,
	MaxIdleConnDuration: 30 * time.Second,
	MaxConnsPerHost:     200,
}

// HTTPEngine talks to a local OpenAI-compatible inference server
// (e.g. a vLLM/Ollama process) over HTTP. Load/Unload call the
// backend's model-management endpoints; Generate posts each request in
// the chunk to the backend's completion endpoint.
type HTTPEngine struct {
	baseURL string
	client  *fasthttp.Client

	mu     sync.RWMutex
	loaded string
}

func NewHTTPEngine(baseURL string) *HTTPEngine {
	return &HTTPEngine{
		baseURL: baseURL,
		client: &fasthttp.Client{
			ReadTimeout:         defaultClientConfig.ReadTimeout,
			WriteTimeout:        defaultClientConfig.WriteTimeout,
			MaxIdleConnDuration: defaultClientConfig.MaxIdleConnDuration,
			MaxConnsPerHost:     defaultClientConfig.MaxConnsPerHost,
		},
	}
}

func (e *HTTPEngine) LoadedModel() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.loaded
}

// Load asks the backend to load modelID with the given tuning hints.
// Loading a model that is already loaded is a no-op hot-swap skip.
func (e *HTTPEngine) Load(ctx context.Context, modelID string, cfg optimizer.EngineConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loaded == modelID {
		return nil
	}

	payload, err := sonic.Marshal(map[string]any{
		"model":                  modelID,
		"gpu_memory_utilization": cfg.GPUMemoryUtilization,
		"max_model_len":          cfg.MaxModelLen,
		"max_num_seqs":           cfg.MaxNumSeqs,
		"enforce_eager":          cfg.EnforceEager,
		"enable_prefix_caching":  cfg.EnablePrefixCaching,
		"kv_cache_dtype":         cfg.KVCacheDType,
	})
	if err != nil {
		return err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(e.baseURL + "/load_model")
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(payload)

	if err := e.client.DoDeadline(req, resp, deadlineFrom(ctx)); err != nil {
		return fmt.Errorf("engine: load model %s: %w", modelID, err)
	}
	if resp.StatusCode() >= 300 {
		return fmt.Errorf("engine: load model %s: status %d", modelID, resp.StatusCode())
	}
	e.loaded = modelID
	return nil
}

func (e *HTTPEngine) Unload(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loaded == "" {
		return nil
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(e.baseURL + "/unload_model")
	req.Header.SetMethod(fasthttp.MethodPost)

	if err := e.client.DoDeadline(req, resp, deadlineFrom(ctx)); err != nil {
		return fmt.Errorf("engine: unload model: %w", err)
	}
	e.loaded = ""
	return nil
}

// Generate posts each request line to the backend sequentially,
// translating a non-2xx response or transport error into a
// jsonl.ResultLine error entry instead of aborting the whole chunk, so
// one bad request in a chunk doesn't lose its siblings' results.
func (e *HTTPEngine) Generate(ctx context.Context, endpoint string, requests []jsonl.RequestLine) ([]jsonl.ResultLine, error) {
	results := make([]jsonl.ResultLine, 0, len(requests))
	for _, line := range requests {
		result, err := e.generateOne(ctx, endpoint, line)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, nil
}

func (e *HTTPEngine) generateOne(ctx context.Context, endpoint string, line jsonl.RequestLine) (jsonl.ResultLine, error) {
	body, err := sonic.Marshal(line.Body)
	if err != nil {
		return jsonl.ResultLine{}, err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(e.baseURL + endpoint)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	if err := e.client.DoDeadline(req, resp, deadlineFrom(ctx)); err != nil {
		return jsonl.ResultLine{
			CustomID: line.CustomID,
			Error:    &jsonl.ResultError{Code: "transport_error", Message: err.Error()},
		}, nil
	}

	status := resp.StatusCode()
	if status >= 300 {
		return jsonl.ResultLine{
			CustomID: line.CustomID,
			Error:    &jsonl.ResultError{Code: fmt.Sprintf("http_%d", status), Message: string(resp.Body())},
		}, nil
	}

	var respBody map[string]any
	if err := sonic.Unmarshal(resp.Body(), &respBody); err != nil {
		return jsonl.ResultLine{}, fmt.Errorf("engine: decode response for %s: %w", line.CustomID, err)
	}

	return jsonl.ResultLine{
		CustomID: line.CustomID,
		Response: &jsonl.ResultResponse{StatusCode: status, Body: respBody},
	}, nil
}

func deadlineFrom(ctx context.Context) time.Time {
	if dl, ok := ctx.Deadline(); ok {
		return dl
	}
	return time.Now().Add(2 * time.Minute)
}
