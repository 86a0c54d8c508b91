// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a transcription service (e.g., a local Whisper server
// or Deepgram's prerecorded API) behind a single batch operation: the caller
// hands over one complete PCM utterance, already segmented upstream by the
// voice-activity detector, and receives the transcript for it.
//
// Implementations must be safe for concurrent use. Multiple utterances may be
// transcribed in parallel (one per connected candidate).
package stt

import "context"

// Config describes the audio format and recognition hints for a transcription
// request. All fields must be compatible with what the underlying provider
// supports; see each provider's documentation for valid ranges.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Common values: 16000
	// (STT-optimised mono), 24000 (browser capture downsampled).
	SampleRate int

	// Channels is the number of audio channels. 1 = mono (required by most STT
	// providers). Implementors may downmix multi-channel input internally.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en-US",
	// "de-DE"). An empty string lets the provider auto-detect the language,
	// if supported.
	Language string

	// Keywords is a list of vocabulary hints that increase recognition
	// probability for domain terms (drug names, statutes, aviation phraseology).
	// Providers without a boosting API ignore the list.
	Keywords []KeywordBoost
}

// Provider is the abstraction over any STT backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Transcribe converts one complete utterance of raw 16-bit signed
	// little-endian PCM audio into a Transcript. The pcm slice must match the
	// SampleRate and Channels declared in cfg.
	//
	// The call blocks until the provider responds or ctx is cancelled. An empty
	// utterance (or one the provider hears as silence) yields a Transcript with
	// empty Text and a nil error; errors are reserved for transport and
	// provider failures.
	Transcribe(ctx context.Context, pcm []byte, cfg Config) (Transcript, error)
}
