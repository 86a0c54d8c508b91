package exam

import (
	"context"
	"fmt"
	"math"
)

// Evaluator scores one answer against its question. Implementations must be
// safe for concurrent use.
type Evaluator interface {
	EvaluateAnswer(ctx context.Context, q Question, a Answer) (Evaluation, error)
}

// QuestionSource supplies the question set for a session. Implementations
// must be safe for concurrent use.
type QuestionSource interface {
	// Questions returns up to limit questions for the given college type,
	// ordered by scenario and question number. limit <= 0 means no limit.
	Questions(ctx context.Context, college CollegeType, limit int) ([]Question, error)
}

// Scoring thresholds shared by all evaluator implementations.
const (
	// correctThreshold is the match score at which an answer counts as
	// correct and receives affirming feedback.
	correctThreshold = 0.6

	// partialThreshold is the match score at which an answer receives
	// partial-credit feedback instead of corrective feedback.
	partialThreshold = 0.3

	// defaultMaxScore is the points for a full match when the question does
	// not set its own MaxScore.
	defaultMaxScore = 10
)

// maxScoreFor returns the question's point ceiling.
func maxScoreFor(q Question) int {
	if q.MaxScore > 0 {
		return q.MaxScore
	}
	return defaultMaxScore
}

// evaluationFor assembles an Evaluation from a match score in [0,1],
// applying the shared thresholds, point conversion and feedback bands.
func evaluationFor(q Question, matchScore float64, matched, missing []string) Evaluation {
	if matchScore < 0 {
		matchScore = 0
	} else if matchScore > 1 {
		matchScore = 1
	}
	return Evaluation{
		QuestionID:      q.ID,
		MatchScore:      matchScore,
		Score:           int(math.Floor(matchScore * float64(maxScoreFor(q)))),
		IsCorrect:       matchScore >= correctThreshold,
		MatchedKeywords: matched,
		MissingKeywords: missing,
		Feedback:        feedbackFor(q, matchScore),
	}
}

// feedbackFor returns the examiner's spoken feedback for a match score. The
// model answer is always included so the candidate hears the full expected
// response.
func feedbackFor(q Question, matchScore float64) string {
	switch {
	case matchScore >= correctThreshold:
		return fmt.Sprintf("That's exactly right. You've covered the key points. Let me explain: %s", q.ExpectedAnswer)
	case matchScore >= partialThreshold:
		return fmt.Sprintf("You're on the right track. However, you missed some important points. The complete answer is: %s", q.ExpectedAnswer)
	default:
		return fmt.Sprintf("Not quite. The correct approach is: %s", q.ExpectedAnswer)
	}
}
