package anyllm

import (
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/vivavox/vivavox/pkg/provider/llm"
)

func TestNew(t *testing.T) {
	t.Run("empty provider name rejected", func(t *testing.T) {
		if _, err := New("", "gpt-4o"); err == nil {
			t.Fatal("expected error for empty providerName")
		}
	})

	t.Run("empty model rejected", func(t *testing.T) {
		if _, err := New("openai", ""); err == nil {
			t.Fatal("expected error for empty model")
		}
	})

	t.Run("unknown provider rejected", func(t *testing.T) {
		if _, err := New("fakecloud", "some-model", anyllmlib.WithAPIKey("dummy")); err == nil {
			t.Fatal("expected error for unsupported provider")
		}
	})

	t.Run("missing API key rejected", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "")
		if _, err := New("openai", "gpt-4o"); err == nil {
			t.Fatal("expected error for missing API key")
		}
	})

	t.Run("known backends construct", func(t *testing.T) {
		tests := []struct {
			provider string
			model    string
			opts     []anyllmlib.Option
		}{
			{"openai", "gpt-4o", []anyllmlib.Option{anyllmlib.WithAPIKey("sk-test")}},
			{"anthropic", "claude-3-5-sonnet-latest", []anyllmlib.Option{anyllmlib.WithAPIKey("sk-ant-test")}},
			{"ollama", "llama3", nil},
			{"llamacpp", "llama3", nil},
			{"llamafile", "llama3", nil},
		}
		for _, tt := range tests {
			t.Run(tt.provider, func(t *testing.T) {
				p, err := New(tt.provider, tt.model, tt.opts...)
				if err != nil {
					t.Fatalf("New(%q): %v", tt.provider, err)
				}
				if p.model != tt.model {
					t.Errorf("model = %q, want %q", p.model, tt.model)
				}
			})
		}
	})
}

func TestParams(t *testing.T) {
	p := &Provider{model: "gpt-4o"}

	t.Run("system prompt leads the conversation", func(t *testing.T) {
		got := p.params(llm.CompletionRequest{
			SystemPrompt: "You are a strict examiner.",
			Messages:     []llm.Message{{Role: "user", Content: "Describe the cardiac cycle."}},
		})
		if got.Model != "gpt-4o" {
			t.Errorf("model = %q", got.Model)
		}
		if len(got.Messages) != 2 {
			t.Fatalf("got %d messages, want 2", len(got.Messages))
		}
		if got.Messages[0].Role != anyllmlib.RoleSystem {
			t.Errorf("first role = %q, want system", got.Messages[0].Role)
		}
		if got.Messages[1].ContentString() != "Describe the cardiac cycle." {
			t.Errorf("user content = %q", got.Messages[1].ContentString())
		}
	})

	t.Run("sampling knobs only when set", func(t *testing.T) {
		got := p.params(llm.CompletionRequest{
			Messages: []llm.Message{{Role: "user", Content: "hi"}},
		})
		if got.Temperature != nil || got.MaxTokens != nil {
			t.Error("zero-value knobs should stay nil")
		}

		got = p.params(llm.CompletionRequest{
			Messages:    []llm.Message{{Role: "user", Content: "hi"}},
			Temperature: 0.2,
			MaxTokens:   512,
		})
		if got.Temperature == nil || *got.Temperature != 0.2 {
			t.Errorf("temperature = %v, want 0.2", got.Temperature)
		}
		if got.MaxTokens == nil || *got.MaxTokens != 512 {
			t.Errorf("maxTokens = %v, want 512", got.MaxTokens)
		}
	})

	t.Run("tool calls round-trip", func(t *testing.T) {
		got := p.params(llm.CompletionRequest{
			Messages: []llm.Message{
				{
					Role: "assistant",
					ToolCalls: []llm.ToolCall{
						{ID: "call_1", Name: "score_answer", Arguments: `{"points":7}`},
					},
				},
				{Role: "tool", Content: "recorded", ToolCallID: "call_1", Name: "score_answer"},
			},
			Tools: []llm.ToolDefinition{
				{Name: "score_answer", Description: "Record a score."},
			},
		})

		if len(got.Messages) != 2 {
			t.Fatalf("got %d messages, want 2", len(got.Messages))
		}
		tc := got.Messages[0].ToolCalls
		if len(tc) != 1 || tc[0].ID != "call_1" || tc[0].Function.Name != "score_answer" {
			t.Fatalf("assistant tool calls = %+v", tc)
		}
		if tc[0].Type != "function" {
			t.Errorf("tool call type = %q, want function", tc[0].Type)
		}
		if got.Messages[1].ToolCallID != "call_1" {
			t.Errorf("tool result ToolCallID = %q", got.Messages[1].ToolCallID)
		}
		if got.Messages[1].Name != "score_answer" {
			t.Errorf("tool result Name = %q", got.Messages[1].Name)
		}
		if len(got.Tools) != 1 || got.Tools[0].Function.Name != "score_answer" {
			t.Fatalf("tools = %+v", got.Tools)
		}
	})
}

func TestModelCapabilities(t *testing.T) {
	tests := []struct {
		model       string
		window      int
		maxOut      int
		vision      bool
		toolCalling bool
	}{
		{"gpt-4o", 128_000, 16_384, true, true},
		{"gpt-4o-mini", 128_000, 16_384, true, true},
		{"gpt-4-turbo", 128_000, 4_096, true, true},
		{"gpt-4", 8_192, 4_096, false, true},
		{"gpt-3.5-turbo", 16_385, 4_096, false, true},
		{"o1-mini", 128_000, 65_536, false, false},
		{"o1", 200_000, 100_000, true, true},
		{"claude-3-5-sonnet-latest", 200_000, 8_192, true, true},
		{"claude-3-haiku-20240307", 200_000, 8_192, true, true},
		{"claude-3-opus-20240229", 200_000, 4_096, true, true},
		{"claude-future-model", 200_000, 8_192, true, true},
		{"gemini-2.0-flash", 1_048_576, 8_192, true, true},
		{"gemini-1.5-pro", 2_097_152, 8_192, true, true},
		{"gemini-1.5-flash", 1_048_576, 8_192, true, true},
		{"gemini-pro", 128_000, 8_192, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			caps := modelCapabilities(tt.model)
			if caps.ContextWindow != tt.window {
				t.Errorf("ContextWindow = %d, want %d", caps.ContextWindow, tt.window)
			}
			if caps.MaxOutputTokens != tt.maxOut {
				t.Errorf("MaxOutputTokens = %d, want %d", caps.MaxOutputTokens, tt.maxOut)
			}
			if caps.SupportsVision != tt.vision {
				t.Errorf("SupportsVision = %v, want %v", caps.SupportsVision, tt.vision)
			}
			if caps.SupportsToolCalling != tt.toolCalling {
				t.Errorf("SupportsToolCalling = %v, want %v", caps.SupportsToolCalling, tt.toolCalling)
			}
			if !caps.SupportsStreaming {
				t.Error("SupportsStreaming should be true for all known models")
			}
		})
	}

	t.Run("unknown model gets defaults", func(t *testing.T) {
		caps := modelCapabilities("my-custom-model")
		if caps.ContextWindow <= 0 || caps.MaxOutputTokens <= 0 {
			t.Errorf("unknown model caps = %+v", caps)
		}
		if !caps.SupportsStreaming {
			t.Error("unknown model should default to streaming support")
		}
	})

	t.Run("matching ignores case", func(t *testing.T) {
		if modelCapabilities("GPT-4O").ContextWindow != modelCapabilities("gpt-4o").ContextWindow {
			t.Error("capability lookup should be case-insensitive")
		}
	})
}

func TestCountTokens(t *testing.T) {
	p := &Provider{model: "gpt-4o"}

	count, err := p.CountTokens(nil)
	if err != nil {
		t.Fatalf("CountTokens(nil): %v", err)
	}
	if count != 0 {
		t.Errorf("empty messages = %d tokens, want 0", count)
	}

	one, _ := p.CountTokens([]llm.Message{{Role: "user", Content: "Hello"}})
	if one <= 0 {
		t.Errorf("single message = %d tokens, want > 0", one)
	}
	two, _ := p.CountTokens([]llm.Message{
		{Role: "user", Content: "Hello"},
		{Role: "assistant", Content: "Hi there, how can I help?"},
	})
	if two <= one {
		t.Errorf("two messages should cost more than one: %d <= %d", two, one)
	}
}
