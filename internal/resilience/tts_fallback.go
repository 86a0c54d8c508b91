package resilience

import (
	"context"

	"github.com/vivavox/vivavox/pkg/provider/tts"
)

var _ tts.Provider = (*TTSFallback)(nil)

// TTSFallback is a [tts.Provider] that fails over across synthesis backends,
// each guarded by its own circuit breaker. It keeps question read-out alive
// when the hosted voice service rejects a request.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

// NewTTSFallback builds a chain with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback appends another provider to the end of the chain.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// Synthesize opens an audio chunk stream on the first healthy provider.
// Failover covers only the stream setup; once chunks flow, mid-stream errors
// belong to the caller.
func (f *TTSFallback) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (<-chan []byte, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) (<-chan []byte, error) {
		return p.Synthesize(ctx, text, voice)
	})
}

// ListVoices asks the first healthy provider for its voice catalogue.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) ([]tts.VoiceProfile, error) {
		return p.ListVoices(ctx)
	})
}
