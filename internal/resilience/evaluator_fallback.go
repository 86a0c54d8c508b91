package resilience

import (
	"context"

	"github.com/vivavox/vivavox/internal/exam"
)

// EvaluatorFallback implements [exam.Evaluator] with automatic failover across
// multiple evaluation backends. Each backend has its own circuit breaker; the
// typical chain is LLM judge first, semantic similarity second, keyword
// matching last. The keyword evaluator never touches the network, so the
// chain as a whole always produces a score.
type EvaluatorFallback struct {
	group *FallbackGroup[exam.Evaluator]
}

// Compile-time interface assertion.
var _ exam.Evaluator = (*EvaluatorFallback)(nil)

// NewEvaluatorFallback creates an [EvaluatorFallback] with primary as the
// preferred backend.
func NewEvaluatorFallback(primary exam.Evaluator, primaryName string, cfg FallbackConfig) *EvaluatorFallback {
	return &EvaluatorFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional evaluator as a fallback.
func (f *EvaluatorFallback) AddFallback(name string, evaluator exam.Evaluator) {
	f.group.AddFallback(name, evaluator)
}

// EvaluateAnswer scores the answer with the first healthy evaluator. If the
// primary fails, subsequent fallbacks are tried with the same answer.
func (f *EvaluatorFallback) EvaluateAnswer(ctx context.Context, q exam.Question, a exam.Answer) (exam.Evaluation, error) {
	return ExecuteWithResult(f.group, func(e exam.Evaluator) (exam.Evaluation, error) {
		return e.EvaluateAnswer(ctx, q, a)
	})
}
