package exam

import (
	"context"
	"strings"
	"testing"
)

func keywordQuestion(keywords ...string) Question {
	return Question{
		ID:             "q1",
		Text:           "Describe the initial management.",
		ExpectedAnswer: "The full model answer.",
		Keywords:       keywords,
	}
}

func TestKeywordScoring(t *testing.T) {
	eval := NewKeywordEvaluator()
	ctx := context.Background()

	tests := []struct {
		name        string
		keywords    []string
		answer      string
		wantScore   float64
		wantPoints  int
		wantCorrect bool
	}{
		{
			name:        "all keywords matched",
			keywords:    []string{"ecg", "troponin"},
			answer:      "I would order an ECG and serial troponin levels.",
			wantScore:   1,
			wantPoints:  10,
			wantCorrect: true,
		},
		{
			name:        "half matched",
			keywords:    []string{"ecg", "troponin"},
			answer:      "I would order an ECG first.",
			wantScore:   0.5,
			wantPoints:  5,
			wantCorrect: false,
		},
		{
			name:        "two of three floors to six points",
			keywords:    []string{"ecg", "troponin", "aspirin"},
			answer:      "ECG and troponin.",
			wantScore:   2.0 / 3.0,
			wantPoints:  6,
			wantCorrect: true,
		},
		{
			name:       "nothing matched",
			keywords:   []string{"ecg", "troponin"},
			answer:     "I have no idea.",
			wantScore:  0,
			wantPoints: 0,
		},
		{
			name:       "no keywords scores zero",
			keywords:   nil,
			answer:     "anything at all",
			wantScore:  0,
			wantPoints: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := eval.EvaluateAnswer(ctx, keywordQuestion(tt.keywords...), Answer{Text: tt.answer})
			if err != nil {
				t.Fatalf("EvaluateAnswer: %v", err)
			}
			if ev.MatchScore != tt.wantScore {
				t.Errorf("MatchScore = %g, want %g", ev.MatchScore, tt.wantScore)
			}
			if ev.Score != tt.wantPoints {
				t.Errorf("Score = %d, want %d", ev.Score, tt.wantPoints)
			}
			if ev.IsCorrect != tt.wantCorrect {
				t.Errorf("IsCorrect = %v, want %v", ev.IsCorrect, tt.wantCorrect)
			}
		})
	}
}

func TestKeywordMatchingIsCaseInsensitive(t *testing.T) {
	eval := NewKeywordEvaluator()
	ev, err := eval.EvaluateAnswer(context.Background(),
		keywordQuestion("Troponin"), Answer{Text: "serial TROPONIN measurements"})
	if err != nil {
		t.Fatalf("EvaluateAnswer: %v", err)
	}
	if ev.MatchScore != 1 {
		t.Errorf("MatchScore = %g, want 1", ev.MatchScore)
	}
}

func TestKeywordFuzzyMatching(t *testing.T) {
	eval := NewKeywordEvaluator()
	ctx := context.Background()

	// Transcription noise: one substituted character in a keyword.
	ev, err := eval.EvaluateAnswer(ctx,
		keywordQuestion("troponin"), Answer{Text: "check the troponen level"})
	if err != nil {
		t.Fatalf("EvaluateAnswer: %v", err)
	}
	if ev.MatchScore != 1 {
		t.Errorf("near-miss single word: MatchScore = %g, want 1", ev.MatchScore)
	}

	// Multi-word keyword against a noisy n-gram.
	ev, err = eval.EvaluateAnswer(ctx,
		keywordQuestion("krebs cycle"), Answer{Text: "energy comes from the crebs cycle here"})
	if err != nil {
		t.Fatalf("EvaluateAnswer: %v", err)
	}
	if ev.MatchScore != 1 {
		t.Errorf("near-miss bigram: MatchScore = %g, want 1", ev.MatchScore)
	}

	// Unrelated words must not fuzzy-match.
	ev, err = eval.EvaluateAnswer(ctx,
		keywordQuestion("troponin"), Answer{Text: "administer thrombolytics"})
	if err != nil {
		t.Fatalf("EvaluateAnswer: %v", err)
	}
	if ev.MatchScore != 0 {
		t.Errorf("unrelated word: MatchScore = %g, want 0", ev.MatchScore)
	}
}

func TestFeedbackBands(t *testing.T) {
	q := keywordQuestion("a", "b", "c", "d", "e")
	q.ExpectedAnswer = "the model answer"

	tests := []struct {
		score float64
		want  string
	}{
		{0.8, "That's exactly right."},
		{0.6, "That's exactly right."},
		{0.4, "You're on the right track."},
		{0.3, "You're on the right track."},
		{0.2, "Not quite."},
	}
	for _, tt := range tests {
		got := feedbackFor(q, tt.score)
		if !strings.HasPrefix(got, tt.want) {
			t.Errorf("feedbackFor(%g) = %q, want prefix %q", tt.score, got, tt.want)
		}
		if !strings.Contains(got, q.ExpectedAnswer) {
			t.Errorf("feedbackFor(%g) must include the model answer", tt.score)
		}
	}
}
