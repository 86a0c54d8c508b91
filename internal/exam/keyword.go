package exam

import (
	"context"
	"strings"

	"github.com/antzucaro/matchr"
)

const defaultFuzzyThreshold = 0.85

// KeywordOption configures a KeywordEvaluator.
type KeywordOption func(*KeywordEvaluator)

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for a spoken word
// to count as an expected keyword. Default: 0.85.
func WithFuzzyThreshold(threshold float64) KeywordOption {
	return func(e *KeywordEvaluator) { e.fuzzyThreshold = threshold }
}

// KeywordEvaluator scores answers by the fraction of expected keywords they
// contain. Matching is case-insensitive and two-stage: exact substring
// first, then a fuzzy pass that tolerates transcription noise by combining
// Jaro-Winkler similarity with Double Metaphone phonetic equality.
//
// KeywordEvaluator is read-only after construction and safe for concurrent
// use. It never fails, which makes it the natural last entry of an
// evaluator fallback chain.
type KeywordEvaluator struct {
	fuzzyThreshold float64
}

// NewKeywordEvaluator returns a KeywordEvaluator with the supplied options.
func NewKeywordEvaluator(opts ...KeywordOption) *KeywordEvaluator {
	e := &KeywordEvaluator{fuzzyThreshold: defaultFuzzyThreshold}
	for _, o := range opts {
		o(e)
	}
	return e
}

// EvaluateAnswer scores a against q's keyword list. A question without
// keywords scores zero.
func (e *KeywordEvaluator) EvaluateAnswer(_ context.Context, q Question, a Answer) (Evaluation, error) {
	answer := strings.ToLower(a.Text)
	tokens := strings.Fields(answer)

	var matched, missing []string
	for _, kw := range q.Keywords {
		if e.keywordPresent(answer, tokens, strings.ToLower(strings.TrimSpace(kw))) {
			matched = append(matched, kw)
		} else {
			missing = append(missing, kw)
		}
	}

	var score float64
	if len(q.Keywords) > 0 {
		score = float64(len(matched)) / float64(len(q.Keywords))
	}
	return evaluationFor(q, score, matched, missing), nil
}

var _ Evaluator = (*KeywordEvaluator)(nil)

// keywordPresent checks one lowercased keyword against the full answer and
// its token list.
func (e *KeywordEvaluator) keywordPresent(answer string, tokens []string, kw string) bool {
	if kw == "" {
		return false
	}
	if strings.Contains(answer, kw) {
		return true
	}

	// Fuzzy pass: compare the keyword against every n-gram of the same
	// token count, so "krebs cycle" can match "crebs cycle" in a longer
	// answer.
	kwTokens := strings.Fields(kw)
	n := len(kwTokens)
	if n == 0 || n > len(tokens) {
		return false
	}
	for i := 0; i+n <= len(tokens); i++ {
		candidate := strings.Join(tokens[i:i+n], " ")
		if matchr.JaroWinkler(candidate, kw, false) >= e.fuzzyThreshold {
			return true
		}
		if n == 1 && phoneticEqual(candidate, kw) {
			return true
		}
	}
	return false
}

// phoneticEqual reports whether two words share a Double Metaphone code.
func phoneticEqual(a, b string) bool {
	ap, as := matchr.DoubleMetaphone(a)
	bp, bs := matchr.DoubleMetaphone(b)
	if ap == "" && as == "" {
		return false
	}
	return (ap != "" && (ap == bp || ap == bs)) || (as != "" && (as == bp || as == bs))
}
