// Package exam implements the oral examination domain: the per-candidate
// session state machine, answer evaluation, grading and the question bank.
package exam

import "time"

// CollegeType selects the question domain a session draws from.
type CollegeType string

const (
	CollegeMedical     CollegeType = "medical"
	CollegeLaw         CollegeType = "law"
	CollegeAviation    CollegeType = "aviation"
	CollegeAutomobile  CollegeType = "automobile"
	CollegeEngineering CollegeType = "engineering"
	CollegeManagement  CollegeType = "management"
)

// Valid reports whether c is a known college type.
func (c CollegeType) Valid() bool {
	switch c {
	case CollegeMedical, CollegeLaw, CollegeAviation, CollegeAutomobile,
		CollegeEngineering, CollegeManagement:
		return true
	}
	return false
}

// Status is the lifecycle state of a session. Transitions are one-way:
// pending -> in_progress -> completed, with terminated reachable from any
// non-terminal state. Completed and terminated are terminal.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusTerminated Status = "terminated"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusTerminated
}

// Question is one item of the question bank.
type Question struct {
	ID          string      `yaml:"id"`
	CollegeType CollegeType `yaml:"college_type"`

	// ScenarioID groups questions belonging to the same case study.
	ScenarioID string `yaml:"scenario_id"`

	// Number orders questions within a scenario.
	Number int `yaml:"number"`

	Text           string   `yaml:"text"`
	ExpectedAnswer string   `yaml:"expected_answer"`
	Keywords       []string `yaml:"keywords"`
	Difficulty     string   `yaml:"difficulty"`

	// MaxScore is the points awarded for a full keyword match. Zero means
	// the default of 10. Grading bands assume 10 points per question; a bank
	// that overrides this shifts what each grade and the pass mark require.
	MaxScore int `yaml:"max_score"`
}

// Answer records what the candidate said (or typed) for one question.
type Answer struct {
	QuestionID string

	// Text is the transcribed or typed answer.
	Text string

	// Duration is how long the candidate spoke.
	Duration time.Duration

	// Confidence scales with speaking time relative to the per-question
	// limit, capped at 1.
	Confidence float64

	SubmittedAt time.Time
}

// Evaluation is the scored outcome for one answer.
type Evaluation struct {
	QuestionID string

	// MatchScore is the fraction of expected keywords found, in [0,1].
	MatchScore float64

	// Score is the points awarded, floor(MatchScore * MaxScore).
	Score int

	// IsCorrect is true when MatchScore reaches the correctness threshold.
	IsCorrect bool

	MatchedKeywords []string
	MissingKeywords []string

	// Feedback is the examiner's spoken response, including the model answer.
	Feedback string
}

// Report summarises a finished session.
type Report struct {
	SessionCode    string        `json:"session_code"`
	Candidate      string        `json:"candidate"`
	CollegeType    CollegeType   `json:"college_type"`
	TotalScore     int           `json:"total_score"`
	MaxScore       int           `json:"max_score"`
	Percentage     float64       `json:"percentage"`
	CorrectAnswers int           `json:"correct_answers"`
	TotalQuestions int           `json:"total_questions"`
	Grade          string        `json:"grade"`
	Performance    string        `json:"performance"`
	Passed         bool          `json:"passed"`
	Elapsed        time.Duration `json:"elapsed"`
	Evaluations    []Evaluation  `json:"-"`
}
