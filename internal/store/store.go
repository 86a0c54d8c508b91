// Package store defines the persistence layer for examination sessions.
//
// The [Repository] interface covers everything the exam runner needs to
// persist: the session lifecycle record, each answered question with its
// evaluation, and the final report. [Memory] is the default in-process
// implementation; package store/postgres provides a PostgreSQL-backed one.
//
// Every implementation must be safe for concurrent use.
package store

import (
	"context"
	"time"

	"github.com/vivavox/vivavox/internal/exam"
)

// SessionRecord is the persisted lifecycle state of one examination session.
// It is written when the session starts and updated on every status change.
type SessionRecord struct {
	// Code is the unique session code handed to the candidate.
	Code string

	// Candidate is the display name of the person being examined.
	Candidate string

	CollegeType exam.CollegeType
	Status      exam.Status

	StartedAt time.Time

	// EndedAt is zero while the session is still running.
	EndedAt time.Time

	// TerminationReason is set only for terminated sessions.
	TerminationReason string
}

// AnswerRecord pairs a candidate's answer with its evaluation for storage.
type AnswerRecord struct {
	SessionCode string
	QuestionID  string

	// Text is the transcribed or typed answer.
	Text string

	// Duration is how long the candidate spoke.
	Duration time.Duration

	Confidence  float64
	SubmittedAt time.Time

	Evaluation exam.Evaluation
}

// Repository persists sessions, answers and reports.
//
// Save methods that act on a primary key (SaveSession, SaveReport) behave as
// upserts rather than returning an error on duplicates. Lookups of records
// that do not exist return (nil, nil) rather than an error.
type Repository interface {
	// SaveSession upserts the lifecycle record for a session.
	SaveSession(ctx context.Context, rec SessionRecord) error

	// GetSession retrieves a session by its code.
	// Returns (nil, nil) when no such session exists.
	GetSession(ctx context.Context, code string) (*SessionRecord, error)

	// SaveAnswer appends an answered question to the session's record.
	SaveAnswer(ctx context.Context, rec AnswerRecord) error

	// Answers returns all answers recorded for a session in submission order.
	// Returns an empty (non-nil) slice when the session has no answers.
	Answers(ctx context.Context, sessionCode string) ([]AnswerRecord, error)

	// SaveReport upserts the final report for a completed session.
	SaveReport(ctx context.Context, report exam.Report) error

	// GetReport retrieves the report for a session.
	// Returns (nil, nil) when no report has been saved.
	GetReport(ctx context.Context, sessionCode string) (*exam.Report, error)

	// ListReports returns reports for the given college type, most recent
	// first. An empty college matches all. limit caps the result count;
	// zero means no cap.
	ListReports(ctx context.Context, college exam.CollegeType, limit int) ([]exam.Report, error)
}
