package stt

import "time"

// Transcript is the recognised text for one complete utterance, the unit the
// exam engine scores as an answer.
type Transcript struct {
	Text string

	// Confidence in 0.0 to 1.0. Zero when the backend reports none; the
	// engine then asks the examinee to repeat instead of scoring.
	Confidence float64

	// Words carries per-word timing and confidence when the backend
	// supports it (Deepgram does, Whisper does not). Nil otherwise.
	Words []WordDetail

	// Duration of the spoken utterance.
	Duration time.Duration
}

// WordDetail is one word of a transcript with its timing inside the
// utterance.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// KeywordBoost raises recognition probability for a term. Sessions boost the
// expected-keyword list of the current question, which matters for domain
// vocabulary such as "troponin" or "mens rea" that general models mishear.
type KeywordBoost struct {
	Keyword string

	// Boost intensity on the backend's own scale.
	Boost float64
}
