package app

import "github.com/vivavox/vivavox/internal/exam"

// Server message type discriminators. Every JSON payload the server sends
// over a websocket carries one of these in its "type" field; raw synthesized
// audio goes out as binary frames instead.
const (
	ServerTypeSessionStarted = "session_started"
	ServerTypeQuestion       = "question"
	ServerTypeSpeechStarted  = "speech_started"
	ServerTypeSpeechEnded    = "speech_ended"
	ServerTypeTranscript     = "transcript"
	ServerTypeFeedback       = "feedback"
	ServerTypeReport         = "report"
	ServerTypeSessionEnded   = "session_ended"
	ServerTypeError          = "error"
)

// SessionStartedMessage acknowledges a successful start_session command.
type SessionStartedMessage struct {
	Type           string           `json:"type"`
	SessionCode    string           `json:"session_code"`
	Candidate      string           `json:"candidate"`
	CollegeType    exam.CollegeType `json:"college_type"`
	TotalQuestions int              `json:"total_questions"`
}

// QuestionMessage delivers the question text alongside its spoken rendition.
type QuestionMessage struct {
	Type       string `json:"type"`
	QuestionID string `json:"question_id"`

	// Number is the 1-based position of this question in the session.
	Number int    `json:"number"`
	Total  int    `json:"total"`
	Text   string `json:"text"`
}

// SpeechEventMessage notifies the client of a detector state transition so
// its UI can mirror the server-side segmentation.
type SpeechEventMessage struct {
	Type     string  `json:"type"`
	EnergyDB float64 `json:"energy_db"`
}

// TranscriptMessage echoes what the server heard before it is evaluated.
type TranscriptMessage struct {
	Type       string  `json:"type"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence,omitempty"`
}

// FeedbackMessage carries the evaluation of one answer.
type FeedbackMessage struct {
	Type            string   `json:"type"`
	QuestionID      string   `json:"question_id"`
	Score           int      `json:"score"`
	MatchScore      float64  `json:"match_score"`
	Correct         bool     `json:"correct"`
	Feedback        string   `json:"feedback"`
	MatchedKeywords []string `json:"matched_keywords,omitempty"`
	MissingKeywords []string `json:"missing_keywords,omitempty"`
}

// ReportMessage wraps the final session report.
type ReportMessage struct {
	Type   string      `json:"type"`
	Report exam.Report `json:"report"`
}

// SessionEndedMessage closes out a session with its terminal status.
type SessionEndedMessage struct {
	Type   string      `json:"type"`
	Status exam.Status `json:"status"`
	Reason string      `json:"reason,omitempty"`
}

// ErrorMessage reports a per-turn failure without closing the connection.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func errorMessage(msg string) ErrorMessage {
	return ErrorMessage{Type: ServerTypeError, Message: msg}
}
