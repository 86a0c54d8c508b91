package resilience

import (
	"context"

	"github.com/vivavox/vivavox/pkg/provider/llm"
)

var _ llm.Provider = (*LLMFallback)(nil)

// LLMFallback is an [llm.Provider] that fails over across several chat
// backends, each guarded by its own circuit breaker. The exam evaluator uses
// it so an answer verdict still arrives when the hosted model is down and a
// local one has to step in.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

// NewLLMFallback builds a chain with primary as the preferred backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback appends another provider to the end of the chain.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Complete asks the first healthy provider for a completion, moving down the
// chain on failure.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// StreamCompletion opens a chunk stream on the first healthy provider.
// Failover covers only the initial attempt; once a stream is established,
// mid-stream errors belong to the caller.
func (f *LLMFallback) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (<-chan llm.Chunk, error) {
		return p.StreamCompletion(ctx, req)
	})
}

// CountTokens delegates to the first healthy provider's tokenizer.
func (f *LLMFallback) CountTokens(messages []llm.Message) (int, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (int, error) {
		return p.CountTokens(messages)
	})
}

// Capabilities reports the primary's static metadata and never fails over.
func (f *LLMFallback) Capabilities() llm.ModelCapabilities {
	if len(f.group.entries) == 0 {
		return llm.ModelCapabilities{}
	}
	return f.group.entries[0].value.Capabilities()
}
