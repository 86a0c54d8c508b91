package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/vivavox/vivavox/internal/config"
	"github.com/vivavox/vivavox/internal/exam"
	"github.com/vivavox/vivavox/internal/observe"
	"github.com/vivavox/vivavox/internal/store"
	"github.com/vivavox/vivavox/internal/stream"
	"github.com/vivavox/vivavox/pkg/audio"
	"github.com/vivavox/vivavox/pkg/provider/stt"
	"github.com/vivavox/vivavox/pkg/provider/vad"
)

const (
	// defaultProviderTimeout bounds provider calls when the config leaves
	// provider_timeout at zero.
	defaultProviderTimeout = 30 * time.Second

	// persistTimeout bounds store writes that happen after the connection
	// context is gone, such as the terminated-on-disconnect record.
	persistTimeout = 5 * time.Second

	// retryPrompt is spoken when a voice answer cannot be transcribed. The
	// question index does not advance, so the candidate simply answers again.
	retryPrompt = "I did not catch that. Please repeat your answer."
)

// runner owns the exam pipeline of one websocket connection: its detector
// session, its exam session and the playback goroutine. All dispatcher
// handlers run on the connection's read loop; anything that performs
// provider or store I/O is pushed onto a background goroutine so barge-in
// frames keep flowing while a turn is in flight.
type runner struct {
	srv  *Server
	conn stream.Client
	log  *slog.Logger

	// detector is nil when no engine is configured.
	detector vad.SessionHandle

	// ctx outlives any single provider call and is cancelled on disconnect.
	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	session     *exam.Session
	sessionLive bool // active session counted in the ActiveSessions gauge
	startedAt   time.Time
	segment     []byte
	preroll     [][]byte
	turnBusy    bool

	playMu     sync.Mutex
	playCtx    context.Context
	playCancel context.CancelFunc

	// playing counts live playback goroutines. A cancelled pump may overlap
	// its successor briefly, so this is a counter rather than a flag.
	playing atomic.Int32

	providerTimeout time.Duration
	prerollFrames   int
}

// newRunner prepares the pipeline for one connection. The detector session
// is created eagerly so a misconfigured engine rejects the connection
// instead of failing on the first frame.
func newRunner(s *Server, conn stream.Client) (*runner, error) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := s.config()
	r := &runner{
		srv:             s,
		conn:            conn,
		log:             s.log.With("conn", conn.ID()),
		ctx:             ctx,
		cancel:          cancel,
		providerTimeout: cfg.ProviderTimeout,
		prerollFrames:   prerollFrameCount(cfg),
	}
	if r.providerTimeout <= 0 {
		r.providerTimeout = defaultProviderTimeout
	}

	if s.caps.Detector != nil {
		sess, err := s.caps.Detector.NewSession(detectorConfig(cfg))
		if err != nil {
			cancel()
			return nil, fmt.Errorf("app: create detector session: %w", err)
		}
		r.detector = sess
	}
	return r, nil
}

// bind subscribes the runner to the connection's event stream.
func (r *runner) bind(d *stream.Dispatcher) {
	d.Subscribe(stream.EventAudio, func(ev stream.Event) { r.onAudio(ev.Frame) })
	d.Subscribe(stream.EventControl, func(ev stream.Event) { r.onControl(ev.Message) })
	d.Subscribe(stream.EventText, func(ev stream.Event) { r.onText(ev.Message) })
	d.Subscribe(stream.EventBargeIn, func(ev stream.Event) { r.onBargeIn(ev.Message) })
	d.Subscribe(stream.EventDisconnect, func(stream.Event) { r.onDisconnect() })
}

// detectorConfig maps the configured detector knobs onto a VAD session.
func detectorConfig(cfg *config.Config) vad.Config {
	return vad.Config{
		SampleRate:         cfg.Audio.SampleRate,
		EnergyThresholdDB:  cfg.Detector.EnergyThresholdDB,
		Sensitivity:        cfg.Detector.Sensitivity,
		MinSpeechDuration:  cfg.Detector.MinSpeechDuration,
		MinSilenceDuration: cfg.Detector.MinSilenceDuration,
		AdaptiveThreshold:  cfg.Detector.AdaptiveThreshold,
		NoiseFloorWindow:   cfg.Detector.NoiseFloorWindow,
	}
}

// prerollFrameCount sizes the rolling pre-speech buffer so the hysteresis
// window that precedes a speech_detected event is not lost from the segment.
func prerollFrameCount(cfg *config.Config) int {
	frame := cfg.Audio.FrameDuration
	if frame <= 0 {
		frame = 20 * time.Millisecond
	}
	n := int(cfg.Detector.MinSpeechDuration/frame) + 2
	if n < 2 {
		n = 2
	}
	return n
}

// ─── Control and text events ─────────────────────────────────────────────────

func (r *runner) onControl(msg stream.ClientMessage) {
	r.srv.metrics.RecordStreamMessage(r.ctx, "inbound", msg.Type+"/"+msg.Command)
	switch msg.Command {
	case stream.CommandStartSession:
		go r.startSession(msg)
	case stream.CommandEndSession:
		go r.endSession()
	default:
		r.sendJSON(errorMessage(fmt.Sprintf("unknown command %q", msg.Command)))
	}
}

func (r *runner) onText(msg stream.ClientMessage) {
	r.srv.metrics.RecordStreamMessage(r.ctx, "inbound", msg.Type)
	if msg.Text == "" {
		r.sendJSON(errorMessage("empty text answer"))
		return
	}
	r.mu.Lock()
	if r.session == nil || r.turnBusy {
		busy := r.turnBusy
		r.mu.Unlock()
		if busy {
			r.sendJSON(errorMessage("an answer is already being evaluated"))
		} else {
			r.sendJSON(errorMessage("no active session"))
		}
		return
	}
	r.turnBusy = true
	r.mu.Unlock()

	go func() {
		defer r.clearTurn()
		r.submitAnswer(msg.Text, 0)
	}()
}

func (r *runner) onBargeIn(msg stream.ClientMessage) {
	r.srv.metrics.RecordStreamMessage(r.ctx, "inbound", stream.MessageTypeBargeIn)
	if !r.srv.config().Exam.EnableBargeIn {
		return
	}
	r.bargeIn("client", msg.Energy)
}

// startSession creates, initializes and persists a new exam session, then
// asks the first question.
func (r *runner) startSession(msg stream.ClientMessage) {
	college := exam.CollegeType(msg.CollegeType)
	if !college.Valid() {
		r.sendJSON(errorMessage(fmt.Sprintf("unknown college type %q", msg.CollegeType)))
		return
	}

	cfg := r.srv.config()
	session := exam.NewSession(r.srv.caps.Questions, r.srv.caps.Evaluator,
		exam.WithMaxTimePerQuestion(cfg.Exam.MaxTimePerQuestion),
		exam.WithQuestionLimit(cfg.Exam.TotalQuestions),
		exam.WithSessionLogger(r.log),
	)

	r.mu.Lock()
	if r.session != nil && !r.session.Status().Terminal() {
		code := r.session.Code()
		r.mu.Unlock()
		r.sendJSON(errorMessage(fmt.Sprintf("session %s is already active", code)))
		return
	}
	r.session = session
	r.mu.Unlock()

	initCtx, cancel := context.WithTimeout(r.ctx, r.providerTimeout)
	err := session.Initialize(initCtx, college, msg.Candidate)
	cancel()
	if err != nil {
		r.mu.Lock()
		r.session = nil
		r.mu.Unlock()
		r.log.Warn("app: session initialize failed", "college", college, "error", err)
		if errors.Is(err, exam.ErrNoQuestions) {
			r.sendJSON(errorMessage(fmt.Sprintf("no questions available for college type %q", college)))
		} else {
			r.sendJSON(errorMessage("could not start the examination, try again"))
		}
		return
	}

	question, ok := session.CurrentQuestion()
	if !ok {
		r.mu.Lock()
		r.session = nil
		r.mu.Unlock()
		r.sendJSON(errorMessage("could not start the examination, try again"))
		return
	}

	r.mu.Lock()
	r.sessionLive = true
	r.startedAt = time.Now()
	r.mu.Unlock()
	r.srv.metrics.ActiveSessions.Add(r.ctx, 1)
	r.persistSession(session, "")

	_, total := session.Progress()
	r.sendJSON(SessionStartedMessage{
		Type:           ServerTypeSessionStarted,
		SessionCode:    session.Code(),
		Candidate:      session.Candidate(),
		CollegeType:    session.CollegeType(),
		TotalQuestions: total,
	})
	r.log.Info("app: examination started",
		"code", session.Code(), "college", college, "candidate", msg.Candidate)

	r.askQuestion(session, question, "Welcome to your oral examination. First question: ")
}

// endSession finishes the active session on the candidate's request. A
// session with unanswered questions is terminated; its report covers what
// was answered so far.
func (r *runner) endSession() {
	r.mu.Lock()
	session := r.session
	r.mu.Unlock()
	if session == nil {
		r.sendJSON(errorMessage("no active session"))
		return
	}

	reason := ""
	if !session.Status().Terminal() {
		reason = "ended by candidate"
		session.Terminate(reason)
	}
	r.stopPlayback()
	r.closeOutSession(session, reason)

	r.mu.Lock()
	r.session = nil
	r.mu.Unlock()
}

// ─── Audio path ──────────────────────────────────────────────────────────────

// onAudio feeds one PCM frame through the detector and maintains the answer
// segment buffer. It runs synchronously on the read loop, so everything here
// must stay cheap.
func (r *runner) onAudio(frame audio.AudioFrame) {
	m := r.srv.metrics
	m.AudioFrames.Add(r.ctx, 1, metric.WithAttributes(observe.Attr("connection_id", r.conn.ID())))
	if r.detector == nil {
		return
	}

	start := time.Now()
	res, err := r.detector.ProcessFrame(frame.Data)
	m.DetectorFrameDuration.Record(r.ctx, time.Since(start).Seconds())
	if err != nil {
		r.log.Warn("app: detector error", "error", err)
		return
	}

	switch res.Event {
	case vad.EventSpeechStart:
		r.sendJSON(SpeechEventMessage{Type: ServerTypeSpeechStarted, EnergyDB: res.EnergyDB})
		if r.srv.config().Exam.EnableBargeIn {
			r.bargeIn("speech", res.EnergyDB)
		}
	case vad.EventSpeechEnd:
		r.sendJSON(SpeechEventMessage{Type: ServerTypeSpeechEnded, EnergyDB: res.EnergyDB})
		r.finishSegment(frame.Data, res.SegmentDuration)
		return
	}

	r.bufferFrame(frame.Data, res.Speaking)
}

// bufferFrame appends speech audio to the open segment. Outside speech it
// keeps a short rolling pre-roll so the onset of the next utterance is
// included once speech is confirmed.
func (r *runner) bufferFrame(pcm []byte, speaking bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !speaking {
		cp := make([]byte, len(pcm))
		copy(cp, pcm)
		r.preroll = append(r.preroll, cp)
		if len(r.preroll) > r.prerollFrames {
			r.preroll = r.preroll[1:]
		}
		return
	}

	if len(r.segment) == 0 {
		for _, f := range r.preroll {
			r.segment = append(r.segment, f...)
		}
		r.preroll = r.preroll[:0]
	}
	r.segment = append(r.segment, pcm...)
}

// finishSegment closes the answer segment and hands it to a background turn.
func (r *runner) finishSegment(lastFrame []byte, duration time.Duration) {
	r.mu.Lock()
	r.segment = append(r.segment, lastFrame...)
	segment := r.segment
	r.segment = nil
	r.preroll = r.preroll[:0]

	if r.session == nil || r.session.Status() != exam.StatusInProgress {
		r.mu.Unlock()
		return
	}
	if r.turnBusy {
		r.mu.Unlock()
		r.log.Warn("app: dropping speech segment, previous turn still in flight",
			"segment_bytes", len(segment))
		return
	}
	r.turnBusy = true
	r.mu.Unlock()

	go func() {
		defer r.clearTurn()
		r.answerTurn(segment, duration)
	}()
}

// answerTurn transcribes one finished speech segment and submits it as the
// answer to the current question. Provider failures cost only this turn.
func (r *runner) answerTurn(pcm []byte, duration time.Duration) {
	m := r.srv.metrics
	if r.srv.caps.STT == nil {
		r.sendJSON(errorMessage("voice answers are not available, send a text answer"))
		return
	}

	cfg := stt.Config{
		SampleRate: r.srv.config().Audio.SampleRate,
		Channels:   1,
		Keywords:   r.keywordBoosts(),
	}

	ctx, cancel := context.WithTimeout(r.ctx, r.providerTimeout)
	start := time.Now()
	transcript, err := r.srv.caps.STT.Transcribe(ctx, pcm, cfg)
	cancel()
	m.TranscriptionDuration.Record(r.ctx, time.Since(start).Seconds())
	if err != nil {
		m.RecordProviderError(r.ctx, "stt", "transcribe")
		r.log.Warn("app: transcription failed", "error", err)
		r.sendJSON(errorMessage("could not transcribe your answer"))
		r.speak(retryPrompt)
		return
	}
	if transcript.Text == "" {
		r.sendJSON(TranscriptMessage{Type: ServerTypeTranscript})
		r.speak(retryPrompt)
		return
	}

	r.sendJSON(TranscriptMessage{
		Type:       ServerTypeTranscript,
		Text:       transcript.Text,
		Confidence: transcript.Confidence,
	})
	r.submitAnswer(transcript.Text, duration)
}

// keywordBoosts derives recognition hints from the current question's
// expected keywords.
func (r *runner) keywordBoosts() []stt.KeywordBoost {
	r.mu.Lock()
	session := r.session
	r.mu.Unlock()
	if session == nil {
		return nil
	}
	question, ok := session.CurrentQuestion()
	if !ok {
		return nil
	}
	boosts := make([]stt.KeywordBoost, 0, len(question.Keywords))
	for _, kw := range question.Keywords {
		boosts = append(boosts, stt.KeywordBoost{Keyword: kw, Boost: 1})
	}
	return boosts
}

// submitAnswer evaluates the answer, persists it and moves the examination
// forward: feedback plus the next question, or the final report.
func (r *runner) submitAnswer(text string, duration time.Duration) {
	r.mu.Lock()
	session := r.session
	r.mu.Unlock()
	if session == nil {
		r.sendJSON(errorMessage("no active session"))
		return
	}

	m := r.srv.metrics
	ctx, cancel := context.WithTimeout(r.ctx, r.providerTimeout)
	start := time.Now()
	evaluation, err := session.SubmitAnswer(ctx, text, duration)
	cancel()
	m.EvaluationDuration.Record(r.ctx, time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, exam.ErrSessionNotActive) {
			r.sendJSON(errorMessage("the session is not accepting answers"))
			return
		}
		// The session did not advance; the candidate can answer again.
		m.RecordProviderError(r.ctx, "evaluator", "evaluate")
		r.log.Warn("app: evaluation failed", "code", session.Code(), "error", err)
		r.sendJSON(errorMessage("could not evaluate your answer"))
		r.speak(retryPrompt)
		return
	}

	m.RecordAnswerEvaluated(r.ctx, string(session.CollegeType()), evaluation.IsCorrect)
	r.persistAnswer(session, text, duration, evaluation)

	r.sendJSON(FeedbackMessage{
		Type:            ServerTypeFeedback,
		QuestionID:      evaluation.QuestionID,
		Score:           evaluation.Score,
		MatchScore:      evaluation.MatchScore,
		Correct:         evaluation.IsCorrect,
		Feedback:        evaluation.Feedback,
		MatchedKeywords: evaluation.MatchedKeywords,
		MissingKeywords: evaluation.MissingKeywords,
	})

	if next, ok := session.CurrentQuestion(); ok {
		r.askQuestion(session, next, evaluation.Feedback+" Next question: ")
		return
	}

	// CurrentQuestion reported false past the last index, so the session
	// just completed.
	r.stopPlayback()
	report := r.closeOutSession(session, "")
	r.speak(fmt.Sprintf("%s That concludes your examination. You scored %d out of %d. Grade %s.",
		evaluation.Feedback, report.TotalScore, report.MaxScore, report.Grade))
}

// askQuestion announces and speaks the current question. preamble is spoken
// before the question text but never shown in the JSON payload.
func (r *runner) askQuestion(session *exam.Session, q exam.Question, preamble string) {
	index, total := session.Progress()
	r.sendJSON(QuestionMessage{
		Type:       ServerTypeQuestion,
		QuestionID: q.ID,
		Number:     index + 1,
		Total:      total,
		Text:       q.Text,
	})
	r.srv.metrics.QuestionsAsked.Add(r.ctx, 1,
		metric.WithAttributes(observe.Attr("college", string(session.CollegeType()))))
	r.speak(preamble + q.Text)
}

// closeOutSession persists the terminal session state plus its report, sends
// both to the client and releases the ActiveSessions slot. It returns the
// report so callers can speak a closing line.
func (r *runner) closeOutSession(session *exam.Session, reason string) exam.Report {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	report := session.Report()
	r.persistSession(session, reason)
	if err := r.srv.caps.Store.SaveReport(ctx, report); err != nil {
		r.log.Error("app: persist report failed", "code", session.Code(), "error", err)
	}

	r.sendJSON(ReportMessage{Type: ServerTypeReport, Report: report})
	r.sendJSON(SessionEndedMessage{Type: ServerTypeSessionEnded, Status: session.Status(), Reason: reason})

	r.mu.Lock()
	wasLive := r.sessionLive
	r.sessionLive = false
	r.mu.Unlock()
	if wasLive {
		r.srv.metrics.ActiveSessions.Add(ctx, -1)
	}

	r.log.Info("app: examination finished",
		"code", session.Code(),
		"status", session.Status(),
		"score", report.TotalScore,
		"max_score", report.MaxScore,
		"grade", report.Grade,
	)
	return report
}

// ─── Playback and barge-in ───────────────────────────────────────────────────

// speak cancels any running playback and streams the synthesized utterance
// to the client.
func (r *runner) speak(text string) {
	if r.srv.caps.TTS == nil {
		return
	}
	r.stopPlayback()

	playCtx, cancel := context.WithCancel(r.ctx)
	r.playMu.Lock()
	r.playCtx = playCtx
	r.playCancel = cancel
	r.playMu.Unlock()

	go r.playback(playCtx, cancel, text)
}

// playback pumps synthesized audio chunks to the connection until the
// utterance finishes or the context is cancelled by a barge-in.
func (r *runner) playback(ctx context.Context, cancel context.CancelFunc, text string) {
	defer func() {
		cancel()
		// Release the handle so a later barge-in is a noop, unless speak
		// already replaced it with the next utterance's.
		r.playMu.Lock()
		if r.playCtx == ctx {
			r.playCtx = nil
			r.playCancel = nil
		}
		r.playMu.Unlock()
	}()
	m := r.srv.metrics

	start := time.Now()
	ch, err := r.srv.caps.TTS.Synthesize(ctx, text, r.srv.caps.Voice)
	if err != nil {
		m.RecordProviderError(r.ctx, "tts", "synthesize")
		r.log.Warn("app: synthesis failed", "error", err)
		return
	}

	r.playing.Add(1)
	defer r.playing.Add(-1)

	first := true
	for chunk := range ch {
		if first {
			m.SynthesisStartDuration.Record(r.ctx, time.Since(start).Seconds())
			first = false
		}
		if err := r.conn.SendAudio(ctx, chunk); err != nil {
			if ctx.Err() == nil {
				r.log.Warn("app: audio send failed", "error", err)
			}
			// The provider stops on ctx cancel; drain whatever it already
			// queued so its send never blocks.
			go audio.Drain(ch)
			return
		}
	}
}

// bargeIn cancels the current utterance so the candidate can speak over the
// examiner. The playback context is live from the moment speak hands the text
// to the provider, so cancelling here also aborts a synthesis call that is
// still dialing and has not delivered its first chunk. The question index is
// untouched.
func (r *runner) bargeIn(source string, energyDB float64) {
	start := time.Now()
	if !r.stopPlayback() {
		return
	}

	m := r.srv.metrics
	m.BargeIns.Add(r.ctx, 1, metric.WithAttributes(observe.Attr("source", source)))
	m.BargeInCancelDuration.Record(r.ctx, time.Since(start).Seconds())
	r.log.Debug("app: barge-in", "source", source, "energy_db", energyDB)
}

// stopPlayback cancels the current playback context and reports whether one
// was live.
func (r *runner) stopPlayback() bool {
	r.playMu.Lock()
	cancel := r.playCancel
	r.playCtx = nil
	r.playCancel = nil
	r.playMu.Unlock()
	if cancel == nil {
		return false
	}
	cancel()
	return true
}

// ─── Teardown and persistence helpers ────────────────────────────────────────

// onDisconnect releases everything the connection owned. A session still in
// progress is terminated and its partial report persisted.
func (r *runner) onDisconnect() {
	r.cancel()
	r.stopPlayback()

	r.mu.Lock()
	session := r.session
	r.session = nil
	r.mu.Unlock()

	if session != nil && !session.Status().Terminal() {
		session.Terminate("client disconnected")
		r.closeOutSession(session, "client disconnected")
	}

	if r.detector != nil {
		if err := r.detector.Close(); err != nil {
			r.log.Warn("app: detector close failed", "error", err)
		}
	}
	r.log.Info("app: candidate disconnected")
}

func (r *runner) clearTurn() {
	r.mu.Lock()
	r.turnBusy = false
	r.mu.Unlock()
}

// persistSession writes the session's lifecycle record. Persistence failures
// are logged; they never abort a running examination.
func (r *runner) persistSession(session *exam.Session, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	r.mu.Lock()
	startedAt := r.startedAt
	r.mu.Unlock()
	if startedAt.IsZero() {
		startedAt = time.Now()
	}

	rec := store.SessionRecord{
		Code:              session.Code(),
		Candidate:         session.Candidate(),
		CollegeType:       session.CollegeType(),
		Status:            session.Status(),
		StartedAt:         startedAt,
		TerminationReason: reason,
	}
	if session.Status().Terminal() {
		rec.EndedAt = time.Now()
	}
	if err := r.srv.caps.Store.SaveSession(ctx, rec); err != nil {
		r.log.Error("app: persist session failed", "code", session.Code(), "error", err)
	}
}

// persistAnswer writes one answered question with its evaluation.
func (r *runner) persistAnswer(session *exam.Session, text string, duration time.Duration, ev exam.Evaluation) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	maxTime := r.srv.config().Exam.MaxTimePerQuestion
	confidence := 1.0
	if maxTime > 0 && duration < maxTime {
		confidence = float64(duration) / float64(maxTime)
	}

	rec := store.AnswerRecord{
		SessionCode: session.Code(),
		QuestionID:  ev.QuestionID,
		Text:        text,
		Duration:    duration,
		Confidence:  confidence,
		SubmittedAt: time.Now(),
		Evaluation:  ev,
	}
	if err := r.srv.caps.Store.SaveAnswer(ctx, rec); err != nil {
		r.log.Error("app: persist answer failed", "code", session.Code(), "error", err)
	}
}

// sendJSON delivers a payload to the client, logging delivery failures.
func (r *runner) sendJSON(v any) {
	if err := r.conn.SendJSON(r.ctx, v); err != nil {
		r.log.Debug("app: send failed", "error", err)
		return
	}
	r.srv.metrics.RecordStreamMessage(r.ctx, "outbound", "json")
}
