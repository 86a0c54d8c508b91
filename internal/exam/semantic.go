package exam

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/vivavox/vivavox/pkg/provider/embeddings"
)

// SemanticEvaluator scores answers by embedding-space similarity to the
// expected answer. It tolerates paraphrased answers that mention none of the
// literal keywords, at the cost of a provider round trip per answer.
type SemanticEvaluator struct {
	provider embeddings.Provider
}

// NewSemanticEvaluator wraps an embeddings provider as an Evaluator.
func NewSemanticEvaluator(provider embeddings.Provider) *SemanticEvaluator {
	return &SemanticEvaluator{provider: provider}
}

// EvaluateAnswer embeds the candidate's answer and the expected answer in
// one batch and maps their cosine similarity onto the shared scoring scale.
func (e *SemanticEvaluator) EvaluateAnswer(ctx context.Context, q Question, a Answer) (Evaluation, error) {
	if q.ExpectedAnswer == "" {
		return Evaluation{}, errors.New("exam: semantic evaluate: question has no expected answer")
	}
	vecs, err := e.provider.EmbedBatch(ctx, []string{a.Text, q.ExpectedAnswer})
	if err != nil {
		return Evaluation{}, fmt.Errorf("exam: semantic evaluate: %w", err)
	}
	if len(vecs) != 2 {
		return Evaluation{}, fmt.Errorf("exam: semantic evaluate: got %d vectors, want 2", len(vecs))
	}

	score := CosineSimilarity(vecs[0], vecs[1])
	if score < 0 {
		score = 0
	}
	return evaluationFor(q, score, nil, nil), nil
}

var _ Evaluator = (*SemanticEvaluator)(nil)

// CosineSimilarity computes the cosine of the angle between two vectors.
// Mismatched lengths or zero vectors yield 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
