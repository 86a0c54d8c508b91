// Package mock provides a scriptable double for tts.Provider. Tests feed it
// canned PCM chunks and inspect what text and voice reached the backend; the
// Block channel holds chunk emission open so barge-in cancellation paths can
// be exercised deterministically.
package mock

import (
	"context"
	"sync"

	"github.com/vivavox/vivavox/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

// SynthesizeCall is one recorded Synthesize invocation. Ctx is retained so
// tests can assert it was cancelled on barge-in.
type SynthesizeCall struct {
	Ctx   context.Context
	Text  string
	Voice tts.VoiceProfile
}

// Provider implements tts.Provider with canned responses.
type Provider struct {
	mu sync.Mutex

	// SynthesizeChunks are emitted in order on the channel Synthesize
	// returns, which then closes.
	SynthesizeChunks [][]byte

	// SynthesizeErr, when non-nil, fails Synthesize before any channel is
	// opened.
	SynthesizeErr error

	// Block, when non-nil, stalls chunk emission until the channel is
	// closed. Cancelling the Synthesize context unblocks too.
	Block chan struct{}

	// ListVoicesResult and ListVoicesErr are returned by ListVoices;
	// ListVoicesErr wins.
	ListVoicesResult []tts.VoiceProfile
	ListVoicesErr    error

	// SynthesizeCalls records every Synthesize call in order.
	SynthesizeCalls []SynthesizeCall

	// ListVoicesCount counts ListVoices calls.
	ListVoicesCount int
}

func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (<-chan []byte, error) {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Ctx: ctx, Text: text, Voice: voice})
	err := p.SynthesizeErr
	chunks := append([][]byte(nil), p.SynthesizeChunks...)
	block := p.Block
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}

	ch := make(chan []byte, len(chunks))
	go func() {
		defer close(ch)
		if block != nil {
			select {
			case <-block:
			case <-ctx.Done():
				return
			}
		}
		for _, audio := range chunks {
			select {
			case ch <- audio:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (p *Provider) ListVoices(context.Context) ([]tts.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ListVoicesCount++
	if p.ListVoicesErr != nil {
		return nil, p.ListVoicesErr
	}
	return p.ListVoicesResult, nil
}

// Reset clears the recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
	p.ListVoicesCount = 0
}
