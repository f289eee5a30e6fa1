package worker

// ChunkContext carries the per-request token budget estimate used to
// derive an optional dynamic chunk size, grounded on the source
// implementation's ChunkConfig: a fixed context window is divided among
// an estimated per-exchange token cost (system prompt + user message +
// assistant response), leaving headroom via two safety margins rather
// than one.
type ChunkContext struct {
	MaxContextTokens     int // model's context window, e.g. 128000
	VRAMPerTokenMB       float64
	SystemPromptTokens   int
	UserMessageTokens    int
	AssistantRespTokens  int
	ContextSafetyMargin  float64 // e.g. 0.8: only use 80% of the context window
	ChunkSafetyMargin    float64 // e.g. 0.8: only use 80% of the resulting budget
}

// DefaultChunkContext mirrors chunked_processor.py's ChunkConfig defaults.
func DefaultChunkContext() ChunkContext {
	return ChunkContext{
		MaxContextTokens:    128000,
		VRAMPerTokenMB:      0.0001,
		SystemPromptTokens:  2400,
		UserMessageTokens:   600,
		AssistantRespTokens: 300,
		ContextSafetyMargin: 0.8,
		ChunkSafetyMargin:   0.8,
	}
}

// ComputeChunkSize derives a request-per-chunk count from a token
// budget instead of spec.md's flat default (100), for deployments that
// want chunk size to track the model's actual context window. It is
// opt-in: the worker defaults to the flat ChunkSize from config unless
// a caller explicitly asks for this estimate.
func ComputeChunkSize(cc ChunkContext) int {
	if cc.MaxContextTokens <= 0 {
		cc = DefaultChunkContext()
	}
	tokensPerExchange := cc.SystemPromptTokens + cc.UserMessageTokens + cc.AssistantRespTokens
	if tokensPerExchange <= 0 {
		return 100
	}
	safeMaxContext := float64(cc.MaxContextTokens) * cc.ContextSafetyMargin
	availableForExchanges := safeMaxContext * cc.ChunkSafetyMargin
	size := int(availableForExchanges / float64(tokensPerExchange))
	if size < 1 {
		return 1
	}
	return size
}
