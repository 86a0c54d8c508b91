package vad

import "time"

// Result is the detection outcome for a single audio frame. Every frame
// yields a Result: the Event field carries state transitions while EnergyDB
// and ThresholdDB form a per-frame telemetry side channel that consumers can
// forward regardless of speech state.
type Result struct {
	// Event is the state transition triggered by this frame, or EventNone.
	Event EventType

	// Speaking reports whether the session is inside an active speech
	// segment after processing this frame.
	Speaking bool

	// EnergyDB is the frame energy in dBFS. Digitally silent frames report
	// the engine's floor sentinel rather than -Inf.
	EnergyDB float64

	// ThresholdDB is the threshold the frame was compared against. Under an
	// adaptive engine this moves with the noise floor.
	ThresholdDB float64

	// Confidence is a probability-like score (0.0–1.0) derived from how far
	// the frame energy sits above the threshold.
	Confidence float64

	// SegmentDuration is the length of the finished speech segment. Set only
	// when Event is EventSpeechEnd.
	SegmentDuration time.Duration
}

// EventType enumerates detection state transitions.
type EventType int

const (
	// EventNone indicates no state transition for this frame.
	EventNone EventType = iota

	// EventSpeechStart indicates sustained speech has just been confirmed.
	EventSpeechStart

	// EventSpeechEnd indicates an active speech segment has just ended.
	EventSpeechEnd
)

// String returns the wire-level name of the event type.
func (e EventType) String() string {
	switch e {
	case EventSpeechStart:
		return "speech_detected"
	case EventSpeechEnd:
		return "speech_ended"
	default:
		return "none"
	}
}
