package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/vivavox/vivavox/internal/exam"
)

// QuestionMatch pairs a stored question with its vector-space distance from a
// query embedding. Lower Distance means higher semantic similarity.
type QuestionMatch struct {
	Question exam.Question
	Distance float64
}

// SaveQuestion upserts a question into the bank. embedding may be nil when no
// embedding provider is configured; such questions are excluded from
// [Store.SimilarQuestions] results but still served by [Store.Questions].
func (s *Store) SaveQuestion(ctx context.Context, q exam.Question, embedding []float32) error {
	const query = `
		INSERT INTO questions
		    (id, college_type, scenario_id, number, text, expected_answer,
		     keywords, difficulty, max_score, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
		    college_type    = EXCLUDED.college_type,
		    scenario_id     = EXCLUDED.scenario_id,
		    number          = EXCLUDED.number,
		    text            = EXCLUDED.text,
		    expected_answer = EXCLUDED.expected_answer,
		    keywords        = EXCLUDED.keywords,
		    difficulty      = EXCLUDED.difficulty,
		    max_score       = EXCLUDED.max_score,
		    embedding       = EXCLUDED.embedding`

	var vec any
	if len(embedding) > 0 {
		vec = pgvector.NewVector(embedding)
	}

	_, err := s.pool.Exec(ctx, query,
		q.ID,
		string(q.CollegeType),
		q.ScenarioID,
		q.Number,
		q.Text,
		q.ExpectedAnswer,
		q.Keywords,
		q.Difficulty,
		q.MaxScore,
		vec,
	)
	if err != nil {
		return fmt.Errorf("postgres store: save question: %w", err)
	}
	return nil
}

// Questions implements [exam.QuestionSource]. Questions come back grouped by
// scenario and ordered within each scenario, the same order the YAML bank
// produces. limit caps the result count; zero means no cap.
func (s *Store) Questions(ctx context.Context, college exam.CollegeType, limit int) ([]exam.Question, error) {
	args := []any{string(college)}

	q := `
		SELECT id, college_type, scenario_id, number, text, expected_answer,
		       keywords, difficulty, max_score
		FROM   questions
		WHERE  college_type = $1
		ORDER  BY scenario_id, number`

	if limit > 0 {
		args = append(args, limit)
		q += fmt.Sprintf("\nLIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: questions: %w", err)
	}
	questions, err := pgx.CollectRows(rows, scanQuestion)
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan questions: %w", err)
	}
	if questions == nil {
		questions = []exam.Question{}
	}
	return questions, nil
}

// SimilarQuestions finds the topK stored questions whose embeddings are
// closest (cosine distance) to the supplied embedding, optionally restricted
// to one college type. The bank loader uses this to skip near-duplicates when
// importing new questions.
//
// Results are ordered by ascending distance (most similar first). Questions
// stored without an embedding never match.
func (s *Store) SimilarQuestions(ctx context.Context, embedding []float32, topK int, college exam.CollegeType) ([]QuestionMatch, error) {
	queryVec := pgvector.NewVector(embedding)

	args := []any{queryVec} // $1 = query vector
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{"embedding IS NOT NULL"}
	if college != "" {
		conditions = append(conditions, "college_type = "+next(string(college)))
	}

	args = append(args, topK)
	limitArg := fmt.Sprintf("$%d", len(args))

	q := fmt.Sprintf(`
		SELECT id, college_type, scenario_id, number, text, expected_answer,
		       keywords, difficulty, max_score,
		       embedding <=> $1 AS distance
		FROM   questions
		WHERE  %s
		ORDER  BY distance
		LIMIT  %s`, strings.Join(conditions, "\n  AND  "), limitArg)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: similar questions: %w", err)
	}

	matches, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (QuestionMatch, error) {
		var (
			m       QuestionMatch
			college string
		)
		if err := row.Scan(
			&m.Question.ID,
			&college,
			&m.Question.ScenarioID,
			&m.Question.Number,
			&m.Question.Text,
			&m.Question.ExpectedAnswer,
			&m.Question.Keywords,
			&m.Question.Difficulty,
			&m.Question.MaxScore,
			&m.Distance,
		); err != nil {
			return QuestionMatch{}, err
		}
		m.Question.CollegeType = exam.CollegeType(college)
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan similar questions: %w", err)
	}
	if matches == nil {
		matches = []QuestionMatch{}
	}
	return matches, nil
}

// scanQuestion scans one questions row (without the embedding column).
func scanQuestion(row pgx.CollectableRow) (exam.Question, error) {
	var (
		q       exam.Question
		college string
	)
	if err := row.Scan(
		&q.ID,
		&college,
		&q.ScenarioID,
		&q.Number,
		&q.Text,
		&q.ExpectedAnswer,
		&q.Keywords,
		&q.Difficulty,
		&q.MaxScore,
	); err != nil {
		return exam.Question{}, err
	}
	q.CollegeType = exam.CollegeType(college)
	return q, nil
}
