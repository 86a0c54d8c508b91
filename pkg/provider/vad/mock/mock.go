// Package mock provides scriptable doubles for the vad interfaces. A Session
// plays back a fixed sequence of Results, one per frame, so tests can drive
// an exam turn through speech start, speech, and speech end without real
// audio.
package mock

import (
	"sync"

	"github.com/vivavox/vivavox/pkg/provider/vad"
)

var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*Session)(nil)
)

// Engine implements vad.Engine. The zero value hands out fresh default
// Sessions; set Session to share one scripted session across calls.
type Engine struct {
	mu sync.Mutex

	// Session, when non-nil, is returned by every NewSession call.
	Session vad.SessionHandle

	// NewSessionErr, when non-nil, fails every NewSession call.
	NewSessionErr error

	// Configs records the Config of each NewSession call in order.
	Configs []vad.Config
}

func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Configs = append(e.Configs, cfg)
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	if e.Session != nil {
		return e.Session, nil
	}
	return &Session{}, nil
}

// Reset clears the recorded configs.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Configs = nil
}

// Session implements vad.SessionHandle with a scripted result sequence.
type Session struct {
	mu sync.Mutex

	// Results are returned by successive ProcessFrame calls in order. After
	// the script runs out, further calls return a zero Result.
	Results []vad.Result

	// ProcessFrameErr, when non-nil, accompanies every ProcessFrame result.
	ProcessFrameErr error

	// CloseErr is returned by Close.
	CloseErr error

	next int

	// Frames holds a copy of every frame passed to ProcessFrame, in order.
	Frames [][]byte

	// ResetCount and CloseCount count the respective calls.
	ResetCount int
	CloseCount int
}

func (s *Session) ProcessFrame(frame []byte) (vad.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Frames = append(s.Frames, append([]byte(nil), frame...))

	var res vad.Result
	if s.next < len(s.Results) {
		res = s.Results[s.next]
		s.next++
	}
	return res, s.ProcessFrameErr
}

func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResetCount++
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCount++
	return s.CloseErr
}

// Rewind clears all recorded calls and restarts the result script.
func (s *Session) Rewind() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Frames = nil
	s.ResetCount = 0
	s.CloseCount = 0
	s.next = 0
}
