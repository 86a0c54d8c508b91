// Package mock provides a test double for the stt.Provider interface.
//
// Pre-populate Result (or Results for call-ordered responses) with the
// Transcript values the consumer should receive, then inspect TranscribeCalls
// to verify which audio was delivered.
package mock

import (
	"context"
	"sync"

	"github.com/vivavox/vivavox/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// PCM is a copy of the audio bytes that were passed to Transcribe.
	PCM []byte
	// Cfg is the Config passed to Transcribe.
	Cfg stt.Config
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Result is returned by every Transcribe call when Results is empty.
	Result stt.Transcript

	// Results, when non-empty, are consumed one per Transcribe call in order.
	// After exhaustion Transcribe falls back to Result.
	Results []stt.Transcript

	// Err, if non-nil, is returned as the error from every Transcribe call.
	Err error

	// TranscribeCalls records every call to Transcribe in order.
	TranscribeCalls []TranscribeCall

	next int
}

// Transcribe records the call and returns the next configured Transcript.
func (p *Provider) Transcribe(ctx context.Context, pcm []byte, cfg stt.Config) (stt.Transcript, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{Ctx: ctx, PCM: cp, Cfg: cfg})

	if p.Err != nil {
		return stt.Transcript{}, p.Err
	}
	if p.next < len(p.Results) {
		t := p.Results[p.next]
		p.next++
		return t, nil
	}
	return p.Result, nil
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.TranscribeCalls)
}

// ResetCalls clears all recorded calls and rewinds Results. Thread-safe.
func (p *Provider) ResetCalls() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranscribeCalls = nil
	p.next = 0
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)
