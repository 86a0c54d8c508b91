// Package mock provides a canned-response test double for
// embeddings.Provider, so evaluator and store tests can run without a live
// embedding model.
package mock

import (
	"context"
	"sync"

	"github.com/vivavox/vivavox/pkg/provider/embeddings"
)

var _ embeddings.Provider = (*Provider)(nil)

// EmbedCall records one Embed invocation.
type EmbedCall struct {
	Ctx  context.Context
	Text string
}

// EmbedBatchCall records one EmbedBatch invocation. Texts is a copy of the
// caller's slice.
type EmbedBatchCall struct {
	Ctx   context.Context
	Texts []string
}

// Provider returns its configured fields and records every call. The zero
// value is usable; all methods are safe for concurrent use.
type Provider struct {
	mu sync.Mutex

	// Canned responses. A nil EmbedBatchResult makes EmbedBatch return one
	// nil vector per input text so callers still see the right length.
	EmbedResult      []float32
	EmbedErr         error
	EmbedBatchResult [][]float32
	EmbedBatchErr    error
	DimensionsValue  int
	ModelIDValue     string

	// Call records, in order.
	EmbedCalls          []EmbedCall
	EmbedBatchCalls     []EmbedBatchCall
	DimensionsCallCount int
	ModelIDCallCount    int
}

func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = append(p.EmbedCalls, EmbedCall{Ctx: ctx, Text: text})
	if p.EmbedErr != nil {
		return nil, p.EmbedErr
	}
	return p.EmbedResult, nil
}

func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedBatchCalls = append(p.EmbedBatchCalls, EmbedBatchCall{
		Ctx:   ctx,
		Texts: append([]string(nil), texts...),
	})
	switch {
	case p.EmbedBatchErr != nil:
		return nil, p.EmbedBatchErr
	case p.EmbedBatchResult != nil:
		return p.EmbedBatchResult, nil
	default:
		return make([][]float32, len(texts)), nil
	}
}

func (p *Provider) Dimensions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.DimensionsCallCount++
	return p.DimensionsValue
}

func (p *Provider) ModelID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ModelIDCallCount++
	return p.ModelIDValue
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = nil
	p.EmbedBatchCalls = nil
	p.DimensionsCallCount = 0
	p.ModelIDCallCount = 0
}
