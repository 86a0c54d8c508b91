package resilience

import (
	"errors"
	"testing"
	"time"
)

func newGroup(t *testing.T, cb CircuitBreakerConfig) *FallbackGroup[string] {
	t.Helper()
	fg := NewFallbackGroup("whisper", "whisper", FallbackConfig{CircuitBreaker: cb})
	fg.AddFallback("deepgram", "deepgram")
	return fg
}

func TestFallbackGroup_Execute(t *testing.T) {
	t.Run("primary wins when healthy", func(t *testing.T) {
		fg := newGroup(t, CircuitBreakerConfig{MaxFailures: 3})
		var used string
		if err := fg.Execute(func(v string) error { used = v; return nil }); err != nil {
			t.Fatalf("Execute() = %v", err)
		}
		if used != "whisper" {
			t.Fatalf("used = %q, want whisper", used)
		}
	})

	t.Run("failing primary falls through", func(t *testing.T) {
		fg := newGroup(t, CircuitBreakerConfig{MaxFailures: 3})
		var used string
		err := fg.Execute(func(v string) error {
			if v == "whisper" {
				return errProviderDown
			}
			used = v
			return nil
		})
		if err != nil {
			t.Fatalf("Execute() = %v", err)
		}
		if used != "deepgram" {
			t.Fatalf("used = %q, want deepgram", used)
		}
	})

	t.Run("whole chain failing yields ErrAllFailed", func(t *testing.T) {
		fg := newGroup(t, CircuitBreakerConfig{MaxFailures: 3})
		err := fg.Execute(func(string) error { return errProviderDown })
		if !errors.Is(err, ErrAllFailed) {
			t.Fatalf("Execute() = %v, want ErrAllFailed", err)
		}
	})

	t.Run("open breaker is skipped without a call", func(t *testing.T) {
		fg := newGroup(t, CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour})

		// Trip the primary's breaker.
		for i := 0; i < 2; i++ {
			_ = fg.Execute(func(v string) error {
				if v == "whisper" {
					return errProviderDown
				}
				return nil
			})
		}

		var calls []string
		if err := fg.Execute(func(v string) error { calls = append(calls, v); return nil }); err != nil {
			t.Fatalf("Execute() = %v", err)
		}
		if len(calls) != 1 || calls[0] != "deepgram" {
			t.Fatalf("calls = %v, want [deepgram]", calls)
		}
	})
}

func TestExecuteWithResult(t *testing.T) {
	t.Run("returns the primary's value", func(t *testing.T) {
		fg := newGroup(t, CircuitBreakerConfig{MaxFailures: 3})
		got, err := ExecuteWithResult(fg, func(v string) (string, error) {
			return "transcript from " + v, nil
		})
		if err != nil {
			t.Fatalf("ExecuteWithResult() = %v", err)
		}
		if got != "transcript from whisper" {
			t.Fatalf("got %q", got)
		}
	})

	t.Run("fails over to the next value", func(t *testing.T) {
		fg := newGroup(t, CircuitBreakerConfig{MaxFailures: 3})
		got, err := ExecuteWithResult(fg, func(v string) (string, error) {
			if v == "whisper" {
				return "", errProviderDown
			}
			return "transcript from " + v, nil
		})
		if err != nil {
			t.Fatalf("ExecuteWithResult() = %v", err)
		}
		if got != "transcript from deepgram" {
			t.Fatalf("got %q", got)
		}
	})

	t.Run("all failing wraps ErrAllFailed and the last error", func(t *testing.T) {
		fg := NewFallbackGroup("whisper", "whisper", FallbackConfig{})
		_, err := ExecuteWithResult(fg, func(string) (string, error) {
			return "", errProviderDown
		})
		if !errors.Is(err, ErrAllFailed) {
			t.Fatalf("err = %v, want ErrAllFailed", err)
		}
	})
}
