// Package vad defines the Engine interface for voice activity and barge-in
// detection backends.
//
// A VAD engine wraps a frame-level speech detector and surfaces it as a
// stateful, per-stream session. Each session maintains its own internal state
// (noise floor, hysteresis counters) so that multiple concurrent audio
// streams can be processed independently.
//
// VAD is synchronous by design: ProcessFrame returns immediately with a
// detection result, making it suitable for low-latency pipeline stages that
// gate STT input and interrupt active playback.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle should not be shared across goroutines unless the
// implementation explicitly documents thread safety for that type.
package vad

import "time"

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the
	// PCM frames passed to ProcessFrame. Common values: 16000, 24000, 48000.
	SampleRate int

	// EnergyThresholdDB is the fixed speech threshold in dBFS, used when
	// AdaptiveThreshold is false. Typical: -40.
	EnergyThresholdDB float64

	// Sensitivity controls the adaptive threshold's offset above the noise
	// floor. Range: [0.0, 1.0]. Higher values place the threshold closer to
	// the floor, detecting quieter speech at the cost of false positives.
	// Typical: 0.5.
	Sensitivity float64

	// MinSpeechDuration is how long energy must stay above the threshold
	// before a speech-start event is emitted. Shorter bursts (coughs, clicks)
	// produce no event.
	MinSpeechDuration time.Duration

	// MinSilenceDuration is how long energy must stay below the threshold
	// during active speech before a speech-end event is emitted. Shorter dips
	// (breaths, pauses between words) keep the segment open.
	MinSilenceDuration time.Duration

	// AdaptiveThreshold selects the noise-floor-relative threshold instead of
	// the fixed EnergyThresholdDB.
	AdaptiveThreshold bool

	// NoiseFloorWindow is the initial calibration window. While less audio
	// than this has been observed, the noise floor tracks the running average
	// of frame energy; afterwards it follows a slow exponential moving
	// average. Typical: 2s.
	NoiseFloorWindow time.Duration
}

// SessionHandle represents an active VAD session for a single audio stream.
// It is an interface so that test code can supply mock implementations
// without a live engine. Each session maintains its own detection state;
// Reset clears this state without closing the session.
//
// A SessionHandle should not be shared between goroutines unless the
// implementation explicitly guarantees concurrent safety.
type SessionHandle interface {
	// ProcessFrame analyses a single audio frame and returns the detection
	// result. The frame must be raw little-endian int16 PCM at the configured
	// SampleRate. Empty or misaligned frames yield a neutral result and a nil
	// error so that one corrupt frame cannot stall the stream.
	//
	// This method is designed to be called synchronously in the audio
	// pipeline loop; it must not block.
	ProcessFrame(frame []byte) (Result, error)

	// Reset clears all accumulated detection state (noise floor, hysteresis
	// counters) without closing the session. Use this when the audio stream
	// is interrupted or restarted to avoid stale state from the previous
	// segment affecting subsequent frames.
	Reset()

	// Close releases all resources associated with the session. After Close,
	// ProcessFrame and Reset must return errors or be no-ops. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions. It is the top-level interface
// implemented by each VAD backend.
//
// Implementations must be safe for concurrent use: multiple goroutines may
// call NewSession simultaneously to create independent sessions.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration. The
	// session is immediately ready to accept audio frames.
	//
	// Returns an error if the configuration is invalid (e.g., non-positive
	// sample rate or sensitivity out of range) or if the engine cannot
	// allocate resources for the session.
	NewSession(cfg Config) (SessionHandle, error)
}
