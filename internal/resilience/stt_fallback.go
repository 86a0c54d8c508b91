package resilience

import (
	"context"

	"github.com/vivavox/vivavox/pkg/provider/stt"
)

var _ stt.Provider = (*STTFallback)(nil)

// STTFallback is an [stt.Provider] that fails over across transcription
// backends, each guarded by its own circuit breaker. A dropped transcription
// would lose the examinee's answer, so the whole utterance is retried
// against the next backend instead.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

// NewSTTFallback builds a chain with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback appends another provider to the end of the chain.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Transcribe sends the same captured audio to providers in chain order and
// returns the first successful transcript.
func (f *STTFallback) Transcribe(ctx context.Context, pcm []byte, cfg stt.Config) (stt.Transcript, error) {
	return ExecuteWithResult(f.group, func(p stt.Provider) (stt.Transcript, error) {
		return p.Transcribe(ctx, pcm, cfg)
	})
}
