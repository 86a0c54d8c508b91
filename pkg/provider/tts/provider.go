// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., ElevenLabs or a local
// Coqui instance) and presents a uniform streaming interface. The primary
// entry point is Synthesize, which accepts the text to speak and returns a
// channel of raw PCM audio bytes as they become available; the caller relays
// chunks to the candidate as they arrive and cancels the context to stop
// playback mid-utterance when the candidate barges in.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use. Multiple synthesis requests
// may run in parallel (one per active examination session).
type Provider interface {
	// Synthesize converts text into speech and returns a channel that emits raw
	// PCM audio byte slices as they are synthesised. Audio starts flowing before
	// the full utterance is rendered, so playback can begin with low latency.
	//
	// The returned audio channel is closed by the implementation when synthesis
	// completes or when ctx is cancelled. The caller must drain the audio
	// channel to avoid blocking the provider's internal goroutines.
	//
	// voice specifies the voice profile to use for synthesis. Providers should
	// return an error if the requested voice is not available.
	//
	// Returns a non-nil error only if the stream cannot be started. Errors
	// encountered during synthesis are signalled by closing the audio channel
	// early; callers should check ctx.Err() to distinguish cancellation from
	// provider errors.
	Synthesize(ctx context.Context, text string, voice VoiceProfile) (<-chan []byte, error)

	// ListVoices returns all voice profiles available from this provider. The
	// list reflects the provider's current catalogue and may change between
	// calls if the underlying service adds or removes voices.
	//
	// Returns an error if the provider cannot be reached or if ctx is cancelled
	// before the list is retrieved.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)
}
