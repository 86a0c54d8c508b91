package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/vivavox/vivavox/pkg/provider/stt"
	sttmock "github.com/vivavox/vivavox/pkg/provider/stt/mock"
)

func TestSTTFallback_Transcribe_PrimarySuccess(t *testing.T) {
	primary := &sttmock.Provider{
		Result: stt.Transcript{Text: "from primary", Confidence: 0.9},
	}
	secondary := &sttmock.Provider{
		Result: stt.Transcript{Text: "from secondary"},
	}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	tr, err := fb.Transcribe(context.Background(), []byte{1, 2, 3, 4}, stt.Config{
		SampleRate: 16000,
		Channels:   1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.Text != "from primary" {
		t.Fatalf("text = %q, want 'from primary'", tr.Text)
	}
	if primary.CallCount() != 1 {
		t.Fatalf("primary called %d times, want 1", primary.CallCount())
	}
	if secondary.CallCount() != 0 {
		t.Fatalf("secondary called %d times, want 0", secondary.CallCount())
	}
}

func TestSTTFallback_Transcribe_Failover(t *testing.T) {
	primary := &sttmock.Provider{
		Err: errors.New("primary down"),
	}
	secondary := &sttmock.Provider{
		Result: stt.Transcript{Text: "from secondary"},
	}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	pcm := []byte{1, 2, 3, 4}
	tr, err := fb.Transcribe(context.Background(), pcm, stt.Config{SampleRate: 16000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.Text != "from secondary" {
		t.Fatalf("text = %q, want 'from secondary'", tr.Text)
	}
	// Fallback must receive the identical audio the primary failed on.
	if secondary.CallCount() != 1 {
		t.Fatalf("secondary called %d times, want 1", secondary.CallCount())
	}
	if got := secondary.TranscribeCalls[0].PCM; len(got) != len(pcm) {
		t.Fatalf("secondary got %d bytes, want %d", len(got), len(pcm))
	}
}

func TestSTTFallback_Transcribe_AllFail(t *testing.T) {
	primary := &sttmock.Provider{Err: errors.New("primary down")}
	secondary := &sttmock.Provider{Err: errors.New("secondary down")}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	_, err := fb.Transcribe(context.Background(), []byte{0, 0}, stt.Config{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}
