package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/vivavox/vivavox/pkg/provider/tts"
	ttsmock "github.com/vivavox/vivavox/pkg/provider/tts/mock"
)

// synthChain builds the synthesis chain used for question read-out, with
// elevenlabs as primary and a local coqui server as fallback.
func synthChain(elevenlabs, coqui *ttsmock.Provider) *TTSFallback {
	fb := NewTTSFallback(elevenlabs, "elevenlabs", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("coqui", coqui)
	return fb
}

// drainChunks collects every audio chunk from a synthesis channel.
func drainChunks(ch <-chan []byte) [][]byte {
	var chunks [][]byte
	for c := range ch {
		chunks = append(chunks, c)
	}
	return chunks
}

func TestTTSFallback_Synthesize(t *testing.T) {
	t.Run("primary streams", func(t *testing.T) {
		elevenlabs := &ttsmock.Provider{
			SynthesizeChunks: [][]byte{[]byte("audio1"), []byte("audio2")},
		}
		coqui := &ttsmock.Provider{
			SynthesizeChunks: [][]byte{[]byte("fallback-audio")},
		}
		fb := synthChain(elevenlabs, coqui)

		ch, err := fb.Synthesize(context.Background(), "next question", tts.VoiceProfile{ID: "v1", Name: "Examiner"})
		if err != nil {
			t.Fatalf("Synthesize: %v", err)
		}

		chunks := drainChunks(ch)
		if len(chunks) != 2 {
			t.Fatalf("got %d chunks, want 2", len(chunks))
		}
		if string(chunks[0]) != "audio1" {
			t.Errorf("chunk[0] = %q, want audio1", chunks[0])
		}
		if got := len(elevenlabs.SynthesizeCalls); got != 1 {
			t.Errorf("primary called %d times, want 1", got)
		}
		if got := len(coqui.SynthesizeCalls); got != 0 {
			t.Errorf("fallback called %d times, want 0", got)
		}
	})

	t.Run("failing primary falls through", func(t *testing.T) {
		elevenlabs := &ttsmock.Provider{SynthesizeErr: errors.New("quota exceeded")}
		coqui := &ttsmock.Provider{
			SynthesizeChunks: [][]byte{[]byte("fallback-audio")},
		}
		fb := synthChain(elevenlabs, coqui)

		ch, err := fb.Synthesize(context.Background(), "next question", tts.VoiceProfile{})
		if err != nil {
			t.Fatalf("Synthesize: %v", err)
		}

		chunks := drainChunks(ch)
		if len(chunks) != 1 || string(chunks[0]) != "fallback-audio" {
			t.Fatalf("chunks = %q, want [fallback-audio]", chunks)
		}
		if got := coqui.SynthesizeCalls[0].Text; got != "next question" {
			t.Errorf("fallback got text %q, want %q", got, "next question")
		}
	})

	t.Run("all providers down", func(t *testing.T) {
		elevenlabs := &ttsmock.Provider{SynthesizeErr: errors.New("quota exceeded")}
		coqui := &ttsmock.Provider{SynthesizeErr: errors.New("connection refused")}
		fb := synthChain(elevenlabs, coqui)

		_, err := fb.Synthesize(context.Background(), "next question", tts.VoiceProfile{})
		if !errors.Is(err, ErrAllFailed) {
			t.Fatalf("err = %v, want ErrAllFailed", err)
		}
	})
}

func TestTTSFallback_ListVoices(t *testing.T) {
	elevenlabs := &ttsmock.Provider{ListVoicesErr: errors.New("quota exceeded")}
	coqui := &ttsmock.Provider{
		ListVoicesResult: []tts.VoiceProfile{
			{ID: "v1", Name: "Alice"},
			{ID: "v2", Name: "Bob"},
		},
	}
	fb := synthChain(elevenlabs, coqui)

	voices, err := fb.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 2 {
		t.Fatalf("got %d voices, want 2", len(voices))
	}
	if voices[0].Name != "Alice" {
		t.Errorf("voices[0].Name = %q, want Alice", voices[0].Name)
	}
}
