package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/vivavox/vivavox/internal/exam"
	"github.com/vivavox/vivavox/internal/store"
)

var (
	_ store.Repository    = (*Store)(nil)
	_ exam.QuestionSource = (*Store)(nil)
)

// Store is the PostgreSQL-backed persistence layer. It implements both
// [store.Repository] for session data and [exam.QuestionSource] for serving
// the question bank from the questions table.
//
// All operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store, establishes a connection pool to the
// PostgreSQL database at dsn, registers pgvector types on every connection,
// and runs [Migrate] to ensure all required tables and extensions exist.
//
// embeddingDimensions must match the output dimension of the embedding model
// used to produce question embeddings (e.g., 1536 for OpenAI
// text-embedding-3-small). Changing this value after the first migration
// requires a manual schema change.
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so that vector columns
	// can be scanned into and inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close releases all connections held by the underlying connection pool.
// It should be called when the Store is no longer needed, typically via defer.
func (s *Store) Close() {
	s.pool.Close()
}

// SaveSession implements [store.Repository]. Saving an existing code replaces
// the record, which is how status transitions reach the database.
func (s *Store) SaveSession(ctx context.Context, rec store.SessionRecord) error {
	const q = `
		INSERT INTO sessions
		    (code, candidate, college_type, status, started_at, ended_at, termination_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (code) DO UPDATE SET
		    candidate          = EXCLUDED.candidate,
		    college_type       = EXCLUDED.college_type,
		    status             = EXCLUDED.status,
		    started_at         = EXCLUDED.started_at,
		    ended_at           = EXCLUDED.ended_at,
		    termination_reason = EXCLUDED.termination_reason`

	_, err := s.pool.Exec(ctx, q,
		rec.Code,
		rec.Candidate,
		string(rec.CollegeType),
		string(rec.Status),
		rec.StartedAt,
		rec.EndedAt,
		rec.TerminationReason,
	)
	if err != nil {
		return fmt.Errorf("postgres store: save session: %w", err)
	}
	return nil
}

// GetSession implements [store.Repository].
func (s *Store) GetSession(ctx context.Context, code string) (*store.SessionRecord, error) {
	const q = `
		SELECT code, candidate, college_type, status, started_at, ended_at, termination_reason
		FROM   sessions
		WHERE  code = $1`

	var (
		rec     store.SessionRecord
		college string
		status  string
	)
	err := s.pool.QueryRow(ctx, q, code).Scan(
		&rec.Code,
		&rec.Candidate,
		&college,
		&status,
		&rec.StartedAt,
		&rec.EndedAt,
		&rec.TerminationReason,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: get session: %w", err)
	}
	rec.CollegeType = exam.CollegeType(college)
	rec.Status = exam.Status(status)
	return &rec, nil
}

// SaveAnswer implements [store.Repository].
func (s *Store) SaveAnswer(ctx context.Context, rec store.AnswerRecord) error {
	const q = `
		INSERT INTO answers
		    (session_code, question_id, text, duration_ns, confidence, submitted_at,
		     match_score, score, is_correct, matched_keywords, missing_keywords, feedback)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := s.pool.Exec(ctx, q,
		rec.SessionCode,
		rec.QuestionID,
		rec.Text,
		rec.Duration.Nanoseconds(),
		rec.Confidence,
		rec.SubmittedAt,
		rec.Evaluation.MatchScore,
		rec.Evaluation.Score,
		rec.Evaluation.IsCorrect,
		rec.Evaluation.MatchedKeywords,
		rec.Evaluation.MissingKeywords,
		rec.Evaluation.Feedback,
	)
	if err != nil {
		return fmt.Errorf("postgres store: save answer: %w", err)
	}
	return nil
}

// Answers implements [store.Repository]. Answers are returned in submission
// order.
func (s *Store) Answers(ctx context.Context, sessionCode string) ([]store.AnswerRecord, error) {
	const q = `
		SELECT session_code, question_id, text, duration_ns, confidence, submitted_at,
		       match_score, score, is_correct, matched_keywords, missing_keywords, feedback
		FROM   answers
		WHERE  session_code = $1
		ORDER  BY id`

	rows, err := s.pool.Query(ctx, q, sessionCode)
	if err != nil {
		return nil, fmt.Errorf("postgres store: answers: %w", err)
	}

	recs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.AnswerRecord, error) {
		var (
			rec        store.AnswerRecord
			durationNS int64
		)
		if err := row.Scan(
			&rec.SessionCode,
			&rec.QuestionID,
			&rec.Text,
			&durationNS,
			&rec.Confidence,
			&rec.SubmittedAt,
			&rec.Evaluation.MatchScore,
			&rec.Evaluation.Score,
			&rec.Evaluation.IsCorrect,
			&rec.Evaluation.MatchedKeywords,
			&rec.Evaluation.MissingKeywords,
			&rec.Evaluation.Feedback,
		); err != nil {
			return store.AnswerRecord{}, err
		}
		rec.Duration = time.Duration(durationNS)
		rec.Evaluation.QuestionID = rec.QuestionID
		return rec, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan answers: %w", err)
	}
	if recs == nil {
		recs = []store.AnswerRecord{}
	}
	return recs, nil
}

// SaveReport implements [store.Repository].
func (s *Store) SaveReport(ctx context.Context, report exam.Report) error {
	const q = `
		INSERT INTO reports
		    (session_code, candidate, college_type, total_score, max_score, percentage,
		     correct_answers, total_questions, grade, performance, passed, elapsed_ns)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (session_code) DO UPDATE SET
		    candidate       = EXCLUDED.candidate,
		    college_type    = EXCLUDED.college_type,
		    total_score     = EXCLUDED.total_score,
		    max_score       = EXCLUDED.max_score,
		    percentage      = EXCLUDED.percentage,
		    correct_answers = EXCLUDED.correct_answers,
		    total_questions = EXCLUDED.total_questions,
		    grade           = EXCLUDED.grade,
		    performance     = EXCLUDED.performance,
		    passed          = EXCLUDED.passed,
		    elapsed_ns      = EXCLUDED.elapsed_ns`

	_, err := s.pool.Exec(ctx, q,
		report.SessionCode,
		report.Candidate,
		string(report.CollegeType),
		report.TotalScore,
		report.MaxScore,
		report.Percentage,
		report.CorrectAnswers,
		report.TotalQuestions,
		report.Grade,
		report.Performance,
		report.Passed,
		report.Elapsed.Nanoseconds(),
	)
	if err != nil {
		return fmt.Errorf("postgres store: save report: %w", err)
	}
	return nil
}

// GetReport implements [store.Repository].
func (s *Store) GetReport(ctx context.Context, sessionCode string) (*exam.Report, error) {
	const q = `
		SELECT session_code, candidate, college_type, total_score, max_score, percentage,
		       correct_answers, total_questions, grade, performance, passed, elapsed_ns
		FROM   reports
		WHERE  session_code = $1`

	rows, err := s.pool.Query(ctx, q, sessionCode)
	if err != nil {
		return nil, fmt.Errorf("postgres store: get report: %w", err)
	}
	reports, err := collectReports(rows)
	if err != nil {
		return nil, err
	}
	if len(reports) == 0 {
		return nil, nil
	}
	return &reports[0], nil
}

// ListReports implements [store.Repository]. Reports come back most recent
// first, by creation time.
func (s *Store) ListReports(ctx context.Context, college exam.CollegeType, limit int) ([]exam.Report, error) {
	args := []any{}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var conditions []string
	if college != "" {
		conditions = append(conditions, "college_type = "+next(string(college)))
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, "\n  AND ")
	}

	q := fmt.Sprintf(`
		SELECT session_code, candidate, college_type, total_score, max_score, percentage,
		       correct_answers, total_questions, grade, performance, passed, elapsed_ns
		FROM   reports
		%s
		ORDER  BY created_at DESC`, whereClause)

	if limit > 0 {
		q += "\nLIMIT " + next(limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list reports: %w", err)
	}
	return collectReports(rows)
}

// collectReports scans pgx rows into a slice of Report values.
func collectReports(rows pgx.Rows) ([]exam.Report, error) {
	reports, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (exam.Report, error) {
		var (
			r         exam.Report
			college   string
			elapsedNS int64
		)
		if err := row.Scan(
			&r.SessionCode,
			&r.Candidate,
			&college,
			&r.TotalScore,
			&r.MaxScore,
			&r.Percentage,
			&r.CorrectAnswers,
			&r.TotalQuestions,
			&r.Grade,
			&r.Performance,
			&r.Passed,
			&elapsedNS,
		); err != nil {
			return exam.Report{}, err
		}
		r.CollegeType = exam.CollegeType(college)
		r.Elapsed = time.Duration(elapsedNS)
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan reports: %w", err)
	}
	if reports == nil {
		reports = []exam.Report{}
	}
	return reports, nil
}
