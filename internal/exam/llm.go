package exam

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vivavox/vivavox/pkg/provider/llm"
)

const evaluatorSystemPrompt = `You are a strict oral examiner. Given a question, the expected answer and the candidate's answer, judge how completely the candidate covered the expected points. Respond with JSON only: {"match_score": <0.0-1.0>, "matched_keywords": [...], "missing_keywords": [...]}.`

// LLMEvaluator asks a language model to grade the answer. The model returns
// a match score that is mapped onto the same point and feedback scale as the
// keyword evaluator, so the two can sit in one fallback chain.
type LLMEvaluator struct {
	provider llm.Provider
}

// NewLLMEvaluator wraps an LLM provider as an Evaluator.
func NewLLMEvaluator(provider llm.Provider) *LLMEvaluator {
	return &LLMEvaluator{provider: provider}
}

// EvaluateAnswer sends the question and answer to the model and parses its
// judgement. Errors from the provider or unparseable responses are returned
// so a fallback evaluator can take over.
func (e *LLMEvaluator) EvaluateAnswer(ctx context.Context, q Question, a Answer) (Evaluation, error) {
	prompt := fmt.Sprintf(
		"Question: %s\n\nExpected answer: %s\n\nExpected keywords: %s\n\nCandidate's answer: %s",
		q.Text, q.ExpectedAnswer, strings.Join(q.Keywords, ", "), a.Text,
	)
	resp, err := e.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: evaluatorSystemPrompt,
		Messages:     []llm.Message{{Role: "user", Content: prompt}},
		Temperature:  0.1,
		MaxTokens:    400,
	})
	if err != nil {
		return Evaluation{}, fmt.Errorf("exam: llm evaluate: %w", err)
	}

	judged, err := parseJudgement(resp.Content)
	if err != nil {
		return Evaluation{}, fmt.Errorf("exam: llm evaluate: %w", err)
	}
	return evaluationFor(q, judged.MatchScore, judged.MatchedKeywords, judged.MissingKeywords), nil
}

var _ Evaluator = (*LLMEvaluator)(nil)

type judgement struct {
	MatchScore      float64  `json:"match_score"`
	MatchedKeywords []string `json:"matched_keywords"`
	MissingKeywords []string `json:"missing_keywords"`
}

// parseJudgement extracts the JSON object from a model response, tolerating
// surrounding prose and markdown fences.
func parseJudgement(content string) (judgement, error) {
	start := strings.IndexByte(content, '{')
	end := strings.LastIndexByte(content, '}')
	if start == -1 || end <= start {
		return judgement{}, fmt.Errorf("no JSON object in response %q", content)
	}
	var j judgement
	if err := json.Unmarshal([]byte(content[start:end+1]), &j); err != nil {
		return judgement{}, fmt.Errorf("parse judgement: %w", err)
	}
	return j, nil
}
