// Package energy implements an energy-based vad.Engine with an adaptive
// noise floor and hysteresis.
//
// Each frame's RMS energy (in dBFS) is compared against a threshold that is
// either fixed or derived from a slowly moving noise-floor estimate. Two
// hysteresis timers keep the detector stable: speech must persist for
// MinSpeechDuration before a start event fires, and silence must persist for
// MinSilenceDuration before an active segment ends. All timing derives from
// sample counts, so detection is deterministic and independent of wall-clock
// scheduling.
package energy

import (
	"errors"
	"fmt"
	"time"

	"github.com/vivavox/vivavox/pkg/audio"
	"github.com/vivavox/vivavox/pkg/provider/vad"
)

// ErrSessionClosed is returned by ProcessFrame after the session has been
// closed.
var ErrSessionClosed = errors.New("energy: session closed")

const (
	// noiseFloorAlpha is the EMA coefficient applied to the noise floor once
	// the calibration window has elapsed.
	noiseFloorAlpha = 0.05

	// adaptiveOffsetDB is the maximum offset placed above the noise floor;
	// the configured sensitivity scales it down.
	adaptiveOffsetDB = 20.0

	// minAdaptiveThresholdDB is the lowest value the adaptive threshold can
	// take, so that a very quiet room cannot drive the threshold into the
	// noise of the codec itself.
	minAdaptiveThresholdDB = -60.0

	// confidenceSpanDB maps energy-over-threshold distance onto the [0,1]
	// confidence scale.
	confidenceSpanDB = 20.0

	// defaultNoiseFloorDB seeds the floor estimate before any audio has been
	// observed.
	defaultNoiseFloorDB = -60.0
)

// Engine creates energy-based detector sessions. The zero value is usable.
type Engine struct{}

// New returns a ready Engine.
func New() *Engine {
	return &Engine{}
}

// NewSession validates cfg and returns a detector session in the silence
// state with a freshly seeded noise floor.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("energy: sample rate must be positive, got %d", cfg.SampleRate)
	}
	if cfg.Sensitivity < 0 || cfg.Sensitivity > 1 {
		return nil, fmt.Errorf("energy: sensitivity must be in [0,1], got %g", cfg.Sensitivity)
	}
	if cfg.MinSpeechDuration < 0 || cfg.MinSilenceDuration < 0 {
		return nil, errors.New("energy: hysteresis durations must not be negative")
	}
	s := &session{cfg: cfg}
	s.resetState()
	return s, nil
}

var _ vad.Engine = (*Engine)(nil)

// ─── Session ───────────────────────────────────────────────────────────────

type detectorState int

const (
	stateSilence detectorState = iota
	statePending
	stateActive
)

// session holds the per-stream detector state. Not safe for concurrent use;
// each audio stream owns exactly one session.
type session struct {
	cfg    vad.Config
	closed bool

	state      detectorState
	noiseFloor float64

	// Calibration: simple running average until NoiseFloorWindow of audio
	// has been seen, EMA afterwards.
	calibSum   float64
	calibCount int

	totalSamples   int64 // all samples processed since creation/reset
	pendingSamples int64 // above-threshold run while confirming speech
	silenceSamples int64 // below-threshold run while in active speech
	segmentStart   int64 // sample index where the current segment began
}

// ProcessFrame classifies one frame of little-endian int16 PCM. Malformed
// frames (empty or odd length) yield a neutral result and a nil error.
func (s *session) ProcessFrame(frame []byte) (vad.Result, error) {
	if s.closed {
		return vad.Result{}, ErrSessionClosed
	}
	if len(frame) == 0 || len(frame)%2 != 0 {
		return vad.Result{
			EnergyDB:    audio.EnergyFloorDB,
			ThresholdDB: s.threshold(),
			Speaking:    s.state == stateActive,
		}, nil
	}

	frameSamples := int64(len(frame) / 2)
	energy := audio.EnergyDB(frame)

	// The floor only adapts outside active speech, so a long answer cannot
	// drag the threshold up after itself.
	if s.state != stateActive {
		s.updateNoiseFloor(energy)
	}
	threshold := s.threshold()
	s.totalSamples += frameSamples

	res := vad.Result{
		EnergyDB:    energy,
		ThresholdDB: threshold,
		Confidence:  confidence(energy, threshold),
	}
	above := energy > threshold

	switch s.state {
	case stateSilence:
		if above {
			s.state = statePending
			s.segmentStart = s.totalSamples - frameSamples
			s.pendingSamples = frameSamples
			s.maybeConfirmSpeech(&res)
		}
	case statePending:
		if above {
			s.pendingSamples += frameSamples
			s.maybeConfirmSpeech(&res)
		} else {
			// Short burst: revert without emitting anything.
			s.state = stateSilence
			s.pendingSamples = 0
		}
	case stateActive:
		if above {
			s.silenceSamples = 0
		} else {
			s.silenceSamples += frameSamples
			if s.samplesToDuration(s.silenceSamples) >= s.cfg.MinSilenceDuration {
				segment := s.totalSamples - s.silenceSamples - s.segmentStart
				s.state = stateSilence
				s.pendingSamples = 0
				s.silenceSamples = 0
				res.Event = vad.EventSpeechEnd
				res.SegmentDuration = s.samplesToDuration(segment)
			}
		}
	}

	res.Speaking = s.state == stateActive
	return res, nil
}

// Reset restores the silence state and the default noise floor without
// closing the session.
func (s *session) Reset() {
	if s.closed {
		return
	}
	s.resetState()
}

// Close marks the session closed. Safe to call multiple times.
func (s *session) Close() error {
	s.closed = true
	return nil
}

var _ vad.SessionHandle = (*session)(nil)

func (s *session) resetState() {
	s.state = stateSilence
	s.noiseFloor = defaultNoiseFloorDB
	s.calibSum = 0
	s.calibCount = 0
	s.totalSamples = 0
	s.pendingSamples = 0
	s.silenceSamples = 0
	s.segmentStart = 0
}

func (s *session) maybeConfirmSpeech(res *vad.Result) {
	if s.samplesToDuration(s.pendingSamples) >= s.cfg.MinSpeechDuration {
		s.state = stateActive
		s.silenceSamples = 0
		res.Event = vad.EventSpeechStart
	}
}

func (s *session) updateNoiseFloor(energy float64) {
	if s.totalSamples < s.durationToSamples(s.cfg.NoiseFloorWindow) {
		s.calibSum += energy
		s.calibCount++
		s.noiseFloor = s.calibSum / float64(s.calibCount)
		return
	}
	s.noiseFloor = noiseFloorAlpha*energy + (1-noiseFloorAlpha)*s.noiseFloor
}

func (s *session) threshold() float64 {
	if !s.cfg.AdaptiveThreshold {
		return s.cfg.EnergyThresholdDB
	}
	t := s.noiseFloor + (1-s.cfg.Sensitivity)*adaptiveOffsetDB
	if t < minAdaptiveThresholdDB {
		t = minAdaptiveThresholdDB
	}
	return t
}

func (s *session) samplesToDuration(n int64) time.Duration {
	return time.Duration(n) * time.Second / time.Duration(s.cfg.SampleRate)
}

func (s *session) durationToSamples(d time.Duration) int64 {
	return int64(d) * int64(s.cfg.SampleRate) / int64(time.Second)
}

func confidence(energy, threshold float64) float64 {
	c := (energy-threshold)/confidenceSpanDB + 0.5
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
