// Package mock provides a canned-response test double for llm.Provider, so
// evaluator and fallback tests can feed controlled completions without a
// live model.
package mock

import (
	"context"
	"sync"

	"github.com/vivavox/vivavox/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// StreamCall records one StreamCompletion invocation.
type StreamCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// CompleteCall records one Complete invocation.
type CompleteCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// CountTokensCall records one CountTokens invocation. Messages is a copy of
// the caller's slice.
type CountTokensCall struct {
	Messages []llm.Message
}

// Provider returns its configured fields and records every call. Configure
// the response fields before use; methods are safe for concurrent use.
type Provider struct {
	mu sync.Mutex

	// Canned responses. Err fields, when set, win over their result
	// counterparts.
	StreamChunks      []llm.Chunk
	StreamErr         error
	CompleteResponse  *llm.CompletionResponse
	CompleteErr       error
	TokenCount        int
	CountTokensErr    error
	ModelCapabilities llm.ModelCapabilities

	// Call records, in order.
	StreamCalls           []StreamCall
	CompleteCalls         []CompleteCall
	CountTokensCalls      []CountTokensCall
	CapabilitiesCallCount int
}

// StreamCompletion emits StreamChunks on a channel that closes after the
// last chunk, or fails immediately with StreamErr.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.StreamCalls = append(p.StreamCalls, StreamCall{Ctx: ctx, Req: req})
	err := p.StreamErr
	chunks := append([]llm.Chunk(nil), p.StreamChunks...)
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}

	ch := make(chan llm.Chunk, len(chunks))
	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case <-ctx.Done():
				return
			case ch <- c:
			}
		}
	}()
	return ch, nil
}

func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})
	if p.CompleteErr != nil {
		return nil, p.CompleteErr
	}
	return p.CompleteResponse, nil
}

func (p *Provider) CountTokens(messages []llm.Message) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CountTokensCalls = append(p.CountTokensCalls, CountTokensCall{
		Messages: append([]llm.Message(nil), messages...),
	})
	if p.CountTokensErr != nil {
		return 0, p.CountTokensErr
	}
	return p.TokenCount, nil
}

func (p *Provider) Capabilities() llm.ModelCapabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CapabilitiesCallCount++
	return p.ModelCapabilities
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StreamCalls = nil
	p.CompleteCalls = nil
	p.CountTokensCalls = nil
	p.CapabilitiesCallCount = 0
}
