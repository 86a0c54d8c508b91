package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vivavox/vivavox/internal/config"
	"github.com/vivavox/vivavox/internal/exam"
	"github.com/vivavox/vivavox/internal/store"
	"github.com/vivavox/vivavox/internal/stream"
	"github.com/vivavox/vivavox/pkg/audio"
	"github.com/vivavox/vivavox/pkg/provider/stt"
	sttmock "github.com/vivavox/vivavox/pkg/provider/stt/mock"
	"github.com/vivavox/vivavox/pkg/provider/tts"
	ttsmock "github.com/vivavox/vivavox/pkg/provider/tts/mock"
	"github.com/vivavox/vivavox/pkg/provider/vad"
	vadmock "github.com/vivavox/vivavox/pkg/provider/vad/mock"
)

// fakeClient is an in-process stream.Client that records everything the
// runner sends.
type fakeClient struct {
	mu    sync.Mutex
	sent  []any
	audio [][]byte
}

func (f *fakeClient) ID() string { return "test-conn" }

func (f *fakeClient) SendJSON(_ context.Context, v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, v)
	return nil
}

func (f *fakeClient) SendAudio(_ context.Context, pcm []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	f.audio = append(f.audio, cp)
	return nil
}

func (f *fakeClient) Close() error { return nil }

func (f *fakeClient) messages() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]any, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeClient) audioChunks() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.audio)
}

var _ stream.Client = (*fakeClient)(nil)

// waitFor polls cond until it holds or the deadline expires.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func testQuestions() *exam.Bank {
	bank := exam.NewBank()
	bank.Add(
		exam.Question{
			ID:             "med-1",
			CollegeType:    exam.CollegeMedical,
			ScenarioID:     "cardio",
			Number:         1,
			Text:           "Which enzyme indicates myocardial damage?",
			ExpectedAnswer: "Troponin is the primary marker.",
			Keywords:       []string{"troponin"},
		},
		exam.Question{
			ID:             "med-2",
			CollegeType:    exam.CollegeMedical,
			ScenarioID:     "cardio",
			Number:         2,
			Text:           "Name the first-line treatment.",
			ExpectedAnswer: "Aspirin is given first.",
			Keywords:       []string{"aspirin"},
		},
	)
	return bank
}

// newTestRunner builds a runner against in-memory capabilities. mutate may
// adjust the capability set or the config before assembly.
func newTestRunner(t *testing.T, mutate func(*Capabilities, *config.Config)) (*runner, *fakeClient, *store.Memory) {
	t.Helper()

	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Exam.EnableBargeIn = true

	mem := store.NewMemory()
	caps := Capabilities{
		Questions: testQuestions(),
		Evaluator: exam.NewKeywordEvaluator(),
		STT:       &sttmock.Provider{Result: stt.Transcript{Text: "it is troponin", Confidence: 0.9}},
		TTS:       &ttsmock.Provider{SynthesizeChunks: [][]byte{{1, 2}, {3, 4}}},
		Detector:  &vadmock.Engine{},
		Store:     mem,
	}
	if mutate != nil {
		mutate(&caps, cfg)
	}

	srv, err := New(cfg, caps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	client := &fakeClient{}
	run, err := newRunner(srv, client)
	if err != nil {
		t.Fatalf("newRunner() error: %v", err)
	}
	t.Cleanup(run.onDisconnect)
	return run, client, mem
}

func startTestSession(t *testing.T, run *runner, client *fakeClient) {
	t.Helper()
	run.startSession(stream.ClientMessage{
		Type:        stream.MessageTypeControl,
		Command:     stream.CommandStartSession,
		CollegeType: "medical",
		Candidate:   "Asha",
	})
	waitFor(t, func() bool {
		for _, m := range client.messages() {
			if _, ok := m.(QuestionMessage); ok {
				return true
			}
		}
		return false
	})
}

func TestRunner_StartSession(t *testing.T) {
	t.Parallel()

	run, client, mem := newTestRunner(t, nil)
	startTestSession(t, run, client)

	var started SessionStartedMessage
	found := false
	for _, m := range client.messages() {
		if s, ok := m.(SessionStartedMessage); ok {
			started = s
			found = true
		}
	}
	if !found {
		t.Fatal("no session_started message sent")
	}
	if started.Candidate != "Asha" {
		t.Errorf("Candidate = %q, want %q", started.Candidate, "Asha")
	}
	if started.CollegeType != exam.CollegeMedical {
		t.Errorf("CollegeType = %q, want medical", started.CollegeType)
	}
	if started.TotalQuestions != 2 {
		t.Errorf("TotalQuestions = %d, want 2", started.TotalQuestions)
	}

	rec, err := mem.GetSession(context.Background(), started.SessionCode)
	if err != nil {
		t.Fatalf("GetSession() error: %v", err)
	}
	if rec == nil {
		t.Fatal("session was not persisted")
	}
	if rec.Status != exam.StatusInProgress {
		t.Errorf("persisted status = %q, want in_progress", rec.Status)
	}
}

func TestRunner_StartSessionUnknownCollege(t *testing.T) {
	t.Parallel()

	run, client, _ := newTestRunner(t, nil)
	run.startSession(stream.ClientMessage{CollegeType: "astrology", Candidate: "Asha"})

	msgs := client.messages()
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(msgs))
	}
	errMsg, ok := msgs[0].(ErrorMessage)
	if !ok {
		t.Fatalf("message type = %T, want ErrorMessage", msgs[0])
	}
	if !strings.Contains(errMsg.Message, "astrology") {
		t.Errorf("error message %q should name the college type", errMsg.Message)
	}
}

func TestRunner_DoubleStartRejected(t *testing.T) {
	t.Parallel()

	run, client, _ := newTestRunner(t, nil)
	startTestSession(t, run, client)

	run.startSession(stream.ClientMessage{CollegeType: "medical", Candidate: "Noor"})

	waitFor(t, func() bool {
		for _, m := range client.messages() {
			if e, ok := m.(ErrorMessage); ok && strings.Contains(e.Message, "already active") {
				return true
			}
		}
		return false
	})
}

func TestRunner_TextAnswerFlow(t *testing.T) {
	t.Parallel()

	run, client, mem := newTestRunner(t, nil)
	startTestSession(t, run, client)

	run.onText(stream.ClientMessage{Type: stream.MessageTypeText, Text: "it is troponin"})

	// The next question follows the feedback, so waiting for it guarantees
	// the full turn has been delivered.
	waitFor(t, func() bool {
		n := 0
		for _, m := range client.messages() {
			if _, ok := m.(QuestionMessage); ok {
				n++
			}
		}
		return n == 2
	})

	var fb FeedbackMessage
	questions := 0
	for _, m := range client.messages() {
		switch v := m.(type) {
		case FeedbackMessage:
			fb = v
		case QuestionMessage:
			questions++
		}
	}
	if !fb.Correct {
		t.Errorf("feedback Correct = false, want true (feedback: %+v)", fb)
	}
	if fb.QuestionID != "med-1" {
		t.Errorf("feedback QuestionID = %q, want med-1", fb.QuestionID)
	}
	if questions != 2 {
		t.Errorf("question messages = %d, want 2 (first question plus the next)", questions)
	}

	answers, err := mem.Answers(context.Background(), run.session.Code())
	if err != nil {
		t.Fatalf("Answers() error: %v", err)
	}
	if len(answers) != 1 {
		t.Fatalf("persisted answers = %d, want 1", len(answers))
	}
	if answers[0].Text != "it is troponin" {
		t.Errorf("persisted answer text = %q", answers[0].Text)
	}
}

func TestRunner_CompletionProducesReport(t *testing.T) {
	t.Parallel()

	run, client, mem := newTestRunner(t, nil)
	startTestSession(t, run, client)

	run.onText(stream.ClientMessage{Type: stream.MessageTypeText, Text: "troponin"})
	waitFor(t, func() bool {
		run.mu.Lock()
		defer run.mu.Unlock()
		return !run.turnBusy
	})
	run.onText(stream.ClientMessage{Type: stream.MessageTypeText, Text: "aspirin"})

	waitFor(t, func() bool {
		for _, m := range client.messages() {
			if _, ok := m.(ReportMessage); ok {
				return true
			}
		}
		return false
	})

	var report ReportMessage
	var ended SessionEndedMessage
	for _, m := range client.messages() {
		switch v := m.(type) {
		case ReportMessage:
			report = v
		case SessionEndedMessage:
			ended = v
		}
	}
	if report.Report.TotalQuestions != 2 {
		t.Errorf("TotalQuestions = %d, want 2", report.Report.TotalQuestions)
	}
	if report.Report.TotalScore != 20 {
		t.Errorf("TotalScore = %d, want 20", report.Report.TotalScore)
	}
	if !report.Report.Passed {
		t.Error("report should be a pass")
	}
	if ended.Status != exam.StatusCompleted {
		t.Errorf("session_ended status = %q, want completed", ended.Status)
	}

	saved, err := mem.GetReport(context.Background(), report.Report.SessionCode)
	if err != nil {
		t.Fatalf("GetReport() error: %v", err)
	}
	if saved == nil {
		t.Fatal("report was not persisted")
	}
}

func TestRunner_VoiceAnswerFlow(t *testing.T) {
	t.Parallel()

	vadSession := &vadmock.Session{
		Results: []vad.Result{
			{Event: vad.EventSpeechStart, Speaking: true},
			{Speaking: true},
			{Event: vad.EventSpeechEnd, SegmentDuration: 3 * time.Second},
		},
	}
	var sttProv *sttmock.Provider
	run, client, _ := newTestRunner(t, func(caps *Capabilities, cfg *config.Config) {
		caps.Detector = &vadmock.Engine{Session: vadSession}
		sttProv = &sttmock.Provider{Result: stt.Transcript{Text: "troponin rises", Confidence: 0.8}}
		caps.STT = sttProv
	})
	startTestSession(t, run, client)

	frames := [][]byte{{10, 0, 10, 0}, {20, 0, 20, 0}, {0, 0, 0, 0}}
	for _, f := range frames {
		run.onAudio(testFrame(f))
	}

	waitFor(t, func() bool {
		for _, m := range client.messages() {
			if _, ok := m.(FeedbackMessage); ok {
				return true
			}
		}
		return false
	})

	var transcript TranscriptMessage
	for _, m := range client.messages() {
		if v, ok := m.(TranscriptMessage); ok {
			transcript = v
		}
	}
	if transcript.Text != "troponin rises" {
		t.Errorf("transcript text = %q, want %q", transcript.Text, "troponin rises")
	}

	if sttProv.CallCount() != 1 {
		t.Fatalf("Transcribe calls = %d, want 1", sttProv.CallCount())
	}
	// The segment must contain all three frames: the pre-roll seeded start,
	// the speech body and the closing frame.
	got := len(sttProv.TranscribeCalls[0].PCM)
	if got != 12 {
		t.Errorf("segment bytes = %d, want 12", got)
	}
}

func TestRunner_TranscriptionFailureKeepsQuestion(t *testing.T) {
	t.Parallel()

	run, client, _ := newTestRunner(t, func(caps *Capabilities, cfg *config.Config) {
		caps.STT = &sttmock.Provider{Err: errors.New("stt unavailable")}
	})
	startTestSession(t, run, client)

	run.finishSegment([]byte{1, 2}, time.Second)

	waitFor(t, func() bool {
		for _, m := range client.messages() {
			if e, ok := m.(ErrorMessage); ok && strings.Contains(e.Message, "transcribe") {
				return true
			}
		}
		return false
	})

	answered, total := run.session.Progress()
	if answered != 0 || total != 2 {
		t.Errorf("progress = %d/%d, want 0/2 after failed turn", answered, total)
	}
	if run.session.Status() != exam.StatusInProgress {
		t.Errorf("status = %q, want in_progress", run.session.Status())
	}
}

func TestRunner_BargeInCancelsPlayback(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	ttsProv := &ttsmock.Provider{
		SynthesizeChunks: [][]byte{{1}, {2}, {3}},
		Block:            block,
	}
	run, _, _ := newTestRunner(t, func(caps *Capabilities, cfg *config.Config) {
		caps.TTS = ttsProv
	})

	run.speak("a very long question")
	waitFor(t, func() bool { return run.playing.Load() == 1 })

	run.bargeIn("speech", -20)
	waitFor(t, func() bool { return run.playing.Load() == 0 })

	select {
	case <-ttsProv.SynthesizeCalls[0].Ctx.Done():
	default:
		t.Error("synthesis context should be cancelled after barge-in")
	}
}

// stallingTTS stalls inside Synthesize until its context is cancelled, the way
// a real backend still performing its handshake would.
type stallingTTS struct {
	entered chan struct{}
	ctx     context.Context // set before entered closes
}

func (s *stallingTTS) Synthesize(ctx context.Context, _ string, _ tts.VoiceProfile) (<-chan []byte, error) {
	s.ctx = ctx
	close(s.entered)
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *stallingTTS) ListVoices(context.Context) ([]tts.VoiceProfile, error) { return nil, nil }

func TestRunner_BargeInCancelsInFlightSynthesis(t *testing.T) {
	t.Parallel()

	ttsProv := &stallingTTS{entered: make(chan struct{})}
	run, client, _ := newTestRunner(t, func(caps *Capabilities, cfg *config.Config) {
		caps.TTS = ttsProv
	})

	run.speak("a question the backend has not finished dialing for")
	<-ttsProv.entered

	// No chunk has been delivered yet, so the playback counter is still
	// zero. The barge-in must cancel the synthesis call anyway.
	run.bargeIn("speech", -18)

	select {
	case <-ttsProv.ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("barge-in did not cancel the in-flight synthesis call")
	}
	if n := client.audioChunks(); n != 0 {
		t.Errorf("audio chunks delivered = %d, want 0", n)
	}
}

func TestRunner_BargeInWithoutPlaybackIsNoop(t *testing.T) {
	t.Parallel()

	run, client, _ := newTestRunner(t, nil)
	run.bargeIn("client", 0)

	if n := len(client.messages()); n != 0 {
		t.Errorf("messages = %d, want 0", n)
	}
}

func TestRunner_ClientBargeInDisabled(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	ttsProv := &ttsmock.Provider{
		SynthesizeChunks: [][]byte{{1}},
		Block:            block,
	}
	run, _, _ := newTestRunner(t, func(caps *Capabilities, cfg *config.Config) {
		caps.TTS = ttsProv
		cfg.Exam.EnableBargeIn = false
	})

	run.speak("a question that keeps playing")
	waitFor(t, func() bool { return run.playing.Load() == 1 })

	run.onBargeIn(stream.ClientMessage{Type: stream.MessageTypeBargeIn, Energy: -12})

	select {
	case <-ttsProv.SynthesizeCalls[0].Ctx.Done():
		t.Error("client barge-in cancelled playback although barge-in is disabled")
	default:
	}
	close(block)
}

func TestRunner_EndSessionTerminates(t *testing.T) {
	t.Parallel()

	run, client, mem := newTestRunner(t, nil)
	startTestSession(t, run, client)
	code := run.session.Code()

	run.endSession()

	waitFor(t, func() bool {
		for _, m := range client.messages() {
			if e, ok := m.(SessionEndedMessage); ok && e.Status == exam.StatusTerminated {
				return true
			}
		}
		return false
	})

	rec, err := mem.GetSession(context.Background(), code)
	if err != nil {
		t.Fatalf("GetSession() error: %v", err)
	}
	if rec.Status != exam.StatusTerminated {
		t.Errorf("persisted status = %q, want terminated", rec.Status)
	}
	if rec.TerminationReason != "ended by candidate" {
		t.Errorf("termination reason = %q", rec.TerminationReason)
	}
	report, err := mem.GetReport(context.Background(), code)
	if err != nil {
		t.Fatalf("GetReport() error: %v", err)
	}
	if report == nil {
		t.Fatal("partial report was not persisted")
	}
}

func TestRunner_DisconnectTerminatesSession(t *testing.T) {
	t.Parallel()

	run, client, mem := newTestRunner(t, nil)
	startTestSession(t, run, client)
	code := run.session.Code()

	run.onDisconnect()

	rec, err := mem.GetSession(context.Background(), code)
	if err != nil {
		t.Fatalf("GetSession() error: %v", err)
	}
	if rec.Status != exam.StatusTerminated {
		t.Errorf("persisted status = %q, want terminated", rec.Status)
	}
	if rec.TerminationReason != "client disconnected" {
		t.Errorf("termination reason = %q", rec.TerminationReason)
	}
}

func testFrame(pcm []byte) audio.AudioFrame {
	return audio.AudioFrame{Data: pcm}
}
