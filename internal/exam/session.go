package exam

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrSessionNotActive is returned by SubmitAnswer when the session is
	// not in progress or every question has already been answered.
	ErrSessionNotActive = errors.New("exam: session not active")

	// ErrAlreadyInitialized is returned by Initialize on a session that has
	// already loaded its questions.
	ErrAlreadyInitialized = errors.New("exam: session already initialized")

	// ErrNoQuestions is returned by Initialize when the question source has
	// nothing for the requested college type.
	ErrNoQuestions = errors.New("exam: no questions available")

	// ErrUnknownCollegeType is returned by Initialize for an unrecognised
	// college type.
	ErrUnknownCollegeType = errors.New("exam: unknown college type")
)

const defaultMaxTimePerQuestion = 2 * time.Minute

// NewSessionCode mints a human-readable session code.
func NewSessionCode() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "VIVA-" + strings.ToUpper(hex[:12])
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithMaxTimePerQuestion sets the per-question speaking limit used for
// answer confidence. Default: 2 minutes.
func WithMaxTimePerQuestion(d time.Duration) SessionOption {
	return func(s *Session) { s.maxTimePerQuestion = d }
}

// WithQuestionLimit caps how many questions are requested from the source.
// Zero (the default) requests everything the source has.
func WithQuestionLimit(n int) SessionOption {
	return func(s *Session) { s.questionLimit = n }
}

// WithSessionLogger sets the session's logger. Defaults to slog.Default.
func WithSessionLogger(log *slog.Logger) SessionOption {
	return func(s *Session) { s.log = log }
}

// Session drives one candidate through an oral examination: question
// sequencing, answer evaluation and the final report. All methods are safe
// for concurrent use.
type Session struct {
	source    QuestionSource
	evaluator Evaluator
	log       *slog.Logger

	maxTimePerQuestion time.Duration
	questionLimit      int

	mu          sync.Mutex
	code        string
	candidate   string
	college     CollegeType
	status      Status
	questions   []Question
	index       int
	answers     []Answer
	evaluations []Evaluation
	startedAt   time.Time
	endedAt     time.Time
}

// NewSession creates a pending session. Questions are loaded by Initialize.
func NewSession(source QuestionSource, evaluator Evaluator, opts ...SessionOption) *Session {
	s := &Session{
		source:             source,
		evaluator:          evaluator,
		log:                slog.Default(),
		maxTimePerQuestion: defaultMaxTimePerQuestion,
		code:               NewSessionCode(),
		status:             StatusPending,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Code returns the session's unique code.
func (s *Session) Code() string { return s.code }

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Candidate returns the examinee's name.
func (s *Session) Candidate() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.candidate
}

// CollegeType returns the session's question domain.
func (s *Session) CollegeType() CollegeType {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.college
}

// Progress returns the zero-based index of the next question and the total
// question count.
func (s *Session) Progress() (answered, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index, len(s.questions)
}

// Initialize loads the question set for the given college type. The session
// stays pending until the first question is fetched.
func (s *Session) Initialize(ctx context.Context, college CollegeType, candidate string) error {
	if !college.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownCollegeType, college)
	}

	s.mu.Lock()
	if s.status != StatusPending || len(s.questions) > 0 {
		s.mu.Unlock()
		return ErrAlreadyInitialized
	}
	limit := s.questionLimit
	s.mu.Unlock()

	// Loading happens outside the lock so a slow source cannot block
	// concurrent status reads.
	questions, err := s.source.Questions(ctx, college, limit)
	if err != nil {
		return fmt.Errorf("exam: load questions: %w", err)
	}
	if len(questions) == 0 {
		return fmt.Errorf("%w: college type %q", ErrNoQuestions, college)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.college = college
	s.candidate = candidate
	s.questions = questions
	s.log.Info("exam: session initialized",
		"code", s.code,
		"college", college,
		"candidate", candidate,
		"questions", len(questions),
	)
	return nil
}

// CurrentQuestion returns the question awaiting an answer. The first call
// moves a pending session to in_progress; a call past the last question
// completes the session and reports ok=false.
func (s *Session) CurrentQuestion() (Question, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == StatusPending && len(s.questions) > 0 {
		s.status = StatusInProgress
		s.startedAt = time.Now()
	}
	if s.status != StatusInProgress {
		return Question{}, false
	}
	if s.index >= len(s.questions) {
		s.complete()
		return Question{}, false
	}
	return s.questions[s.index], true
}

// SubmitAnswer records and evaluates the answer to the current question,
// then advances to the next one. Returns ErrSessionNotActive outside
// in_progress or once every question is answered. On evaluation failure the
// session does not advance, so the turn can be retried or terminated by the
// caller.
func (s *Session) SubmitAnswer(ctx context.Context, text string, duration time.Duration) (Evaluation, error) {
	s.mu.Lock()
	if s.status != StatusInProgress || s.index >= len(s.questions) {
		s.mu.Unlock()
		return Evaluation{}, ErrSessionNotActive
	}
	question := s.questions[s.index]
	maxTime := s.maxTimePerQuestion
	s.mu.Unlock()

	confidence := 1.0
	if maxTime > 0 && duration < maxTime {
		confidence = float64(duration) / float64(maxTime)
	}
	answer := Answer{
		QuestionID:  question.ID,
		Text:        text,
		Duration:    duration,
		Confidence:  confidence,
		SubmittedAt: time.Now(),
	}

	evaluation, err := s.evaluator.EvaluateAnswer(ctx, question, answer)
	if err != nil {
		return Evaluation{}, fmt.Errorf("exam: evaluate answer: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusInProgress {
		// Terminated while the evaluation was in flight.
		return Evaluation{}, ErrSessionNotActive
	}
	s.answers = append(s.answers, answer)
	s.evaluations = append(s.evaluations, evaluation)
	s.index++
	s.log.Debug("exam: answer evaluated",
		"code", s.code,
		"question", question.ID,
		"match_score", evaluation.MatchScore,
		"score", evaluation.Score,
	)
	if s.index >= len(s.questions) {
		s.complete()
	}
	return evaluation, nil
}

// Terminate ends the session early. Completed sessions stay completed;
// terminating twice is a no-op.
func (s *Session) Terminate(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() {
		return
	}
	s.status = StatusTerminated
	s.endedAt = time.Now()
	s.log.Info("exam: session terminated", "code", s.code, "reason", reason)
}

// complete marks the session finished. Callers must hold s.mu.
func (s *Session) complete() {
	if s.status.Terminal() {
		return
	}
	s.status = StatusCompleted
	s.endedAt = time.Now()
	s.log.Info("exam: session completed", "code", s.code, "questions", len(s.questions))
}

// Report summarises the session so far. It can be called in any state; for
// live sessions the elapsed time runs up to now.
func (s *Session) Report() Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	correct := 0
	maxTotal := 0
	for _, q := range s.questions {
		maxTotal += maxScoreFor(q)
	}
	for _, ev := range s.evaluations {
		total += ev.Score
		if ev.IsCorrect {
			correct++
		}
	}

	var percentage float64
	if maxTotal > 0 {
		percentage = float64(total) / float64(maxTotal) * 100
	}

	var elapsed time.Duration
	switch {
	case s.startedAt.IsZero():
	case s.endedAt.IsZero():
		elapsed = time.Since(s.startedAt)
	default:
		elapsed = s.endedAt.Sub(s.startedAt)
	}

	evaluations := make([]Evaluation, len(s.evaluations))
	copy(evaluations, s.evaluations)

	return Report{
		SessionCode:    s.code,
		Candidate:      s.candidate,
		CollegeType:    s.college,
		TotalScore:     total,
		MaxScore:       maxTotal,
		Percentage:     percentage,
		CorrectAnswers: correct,
		TotalQuestions: len(s.questions),
		Grade:          gradeFor(percentage),
		Performance:    performanceFor(percentage),
		Passed:         percentage >= passPercentage,
		Elapsed:        elapsed,
		Evaluations:    evaluations,
	}
}
