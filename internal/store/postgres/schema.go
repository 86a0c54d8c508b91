// Package postgres provides a PostgreSQL-backed implementation of the
// examination persistence layer.
//
// A single [pgxpool.Pool] backs all tables: session lifecycle records,
// answers with their evaluations, final reports, and the question bank with
// pgvector embeddings for near-duplicate detection. The pgvector extension
// must be available in the target database; [Migrate] installs it
// automatically via CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	st, err := postgres.NewStore(ctx, dsn, 1536)
//	if err != nil { … }
//	defer st.Close()
//
//	_ = st.SaveSession(ctx, rec)
//	questions, _ := st.Questions(ctx, exam.CollegeMedical, 10)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlSessions = `
CREATE TABLE IF NOT EXISTS sessions (
    code                TEXT         PRIMARY KEY,
    candidate           TEXT         NOT NULL DEFAULT '',
    college_type        TEXT         NOT NULL,
    status              TEXT         NOT NULL,
    started_at          TIMESTAMPTZ  NOT NULL,
    ended_at            TIMESTAMPTZ  NOT NULL DEFAULT '0001-01-01 00:00:00Z',
    termination_reason  TEXT         NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_sessions_college_type
    ON sessions (college_type);

CREATE INDEX IF NOT EXISTS idx_sessions_status
    ON sessions (status);
`

const ddlAnswers = `
CREATE TABLE IF NOT EXISTS answers (
    id                BIGSERIAL    PRIMARY KEY,
    session_code      TEXT         NOT NULL REFERENCES sessions (code) ON DELETE CASCADE,
    question_id       TEXT         NOT NULL,
    text              TEXT         NOT NULL,
    duration_ns       BIGINT       NOT NULL DEFAULT 0,
    confidence        DOUBLE PRECISION NOT NULL DEFAULT 0,
    submitted_at      TIMESTAMPTZ  NOT NULL DEFAULT now(),
    match_score       DOUBLE PRECISION NOT NULL DEFAULT 0,
    score             INTEGER      NOT NULL DEFAULT 0,
    is_correct        BOOLEAN      NOT NULL DEFAULT false,
    matched_keywords  TEXT[]       NOT NULL DEFAULT '{}',
    missing_keywords  TEXT[]       NOT NULL DEFAULT '{}',
    feedback          TEXT         NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_answers_session_code
    ON answers (session_code);
`

const ddlReports = `
CREATE TABLE IF NOT EXISTS reports (
    session_code     TEXT         PRIMARY KEY,
    candidate        TEXT         NOT NULL DEFAULT '',
    college_type     TEXT         NOT NULL,
    total_score      INTEGER      NOT NULL,
    max_score        INTEGER      NOT NULL,
    percentage       DOUBLE PRECISION NOT NULL,
    correct_answers  INTEGER      NOT NULL,
    total_questions  INTEGER      NOT NULL,
    grade            TEXT         NOT NULL,
    performance      TEXT         NOT NULL,
    passed           BOOLEAN      NOT NULL,
    elapsed_ns       BIGINT       NOT NULL DEFAULT 0,
    created_at       TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_reports_college_type
    ON reports (college_type);

CREATE INDEX IF NOT EXISTS idx_reports_created_at
    ON reports (created_at);
`

// ddlQuestions returns the question bank DDL with the embedding dimension
// substituted. The vector dimension is baked into the column type at schema
// creation time.
func ddlQuestions(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS questions (
    id               TEXT     PRIMARY KEY,
    college_type     TEXT     NOT NULL,
    scenario_id      TEXT     NOT NULL DEFAULT '',
    number           INTEGER  NOT NULL DEFAULT 0,
    text             TEXT     NOT NULL,
    expected_answer  TEXT     NOT NULL DEFAULT '',
    keywords         TEXT[]   NOT NULL DEFAULT '{}',
    difficulty       TEXT     NOT NULL DEFAULT '',
    max_score        INTEGER  NOT NULL DEFAULT 0,
    embedding        vector(%d)
);

CREATE INDEX IF NOT EXISTS idx_questions_college_type
    ON questions (college_type);

CREATE INDEX IF NOT EXISTS idx_questions_embedding
    ON questions USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures all required database tables and extensions
// exist. It is idempotent (CREATE TABLE IF NOT EXISTS / CREATE INDEX IF NOT
// EXISTS) and safe to call on every application start.
//
// embeddingDimensions must match the embedding model configured for the
// deployment (e.g., 1536 for OpenAI text-embedding-3-small). Changing this
// value after the first migration requires a manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	statements := []string{
		ddlSessions,
		ddlAnswers,
		ddlReports,
		ddlQuestions(embeddingDimensions),
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
