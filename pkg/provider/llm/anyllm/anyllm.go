// Package anyllm adapts github.com/mozilla-ai/any-llm-go to the llm.Provider
// interface, giving the answer evaluator one constructor for OpenAI,
// Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq and llama.cpp-style
// local servers.
package anyllm

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/vivavox/vivavox/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// backends maps the provider names accepted by New to any-llm-go
// constructors.
var backends = map[string]func(...anyllmlib.Option) (anyllmlib.Provider, error){
	"openai":    func(opts ...anyllmlib.Option) (anyllmlib.Provider, error) { return anyllmoai.New(opts...) },
	"anthropic": func(opts ...anyllmlib.Option) (anyllmlib.Provider, error) { return anthropic.New(opts...) },
	"gemini":    func(opts ...anyllmlib.Option) (anyllmlib.Provider, error) { return gemini.New(opts...) },
	"ollama":    func(opts ...anyllmlib.Option) (anyllmlib.Provider, error) { return ollama.New(opts...) },
	"deepseek":  func(opts ...anyllmlib.Option) (anyllmlib.Provider, error) { return deepseek.New(opts...) },
	"mistral":   func(opts ...anyllmlib.Option) (anyllmlib.Provider, error) { return mistral.New(opts...) },
	"groq":      func(opts ...anyllmlib.Option) (anyllmlib.Provider, error) { return groq.New(opts...) },
	"llamacpp":  func(opts ...anyllmlib.Option) (anyllmlib.Provider, error) { return llamacpp.New(opts...) },
	"llamafile": func(opts ...anyllmlib.Option) (anyllmlib.Provider, error) { return llamafile.New(opts...) },
}

// Provider wraps one any-llm-go backend and one model.
type Provider struct {
	backend anyllmlib.Provider
	model   string
}

// New builds a Provider for the named backend ("openai", "anthropic",
// "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp" or
// "llamafile") and model. Without an explicit anyllmlib.WithAPIKey option
// the backend reads its usual environment variable, OPENAI_API_KEY and so
// on.
func New(providerName string, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if providerName == "" {
		return nil, fmt.Errorf("anyllm: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	construct, ok := backends[strings.ToLower(providerName)]
	if !ok {
		return nil, fmt.Errorf("anyllm: unsupported provider %q; supported: %s", providerName, supportedNames())
	}
	backend, err := construct(opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}
	return &Provider{backend: backend, model: model}, nil
}

func supportedNames() string {
	names := make([]string, 0, len(backends))
	for n := range backends {
		names = append(names, n)
	}
	// Stable order for error messages.
	for i := 0; i < len(names); i++ {
		for j := i + 1; j < len(names); j++ {
			if names[j] < names[i] {
				names[i], names[j] = names[j], names[i]
			}
		}
	}
	return strings.Join(names, ", ")
}

// StreamCompletion starts a streaming completion and converts backend chunks
// as they arrive. Tool call fragments are stitched together by index and
// emitted with the final chunk.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	backendChunks, backendErrs := p.backend.CompletionStream(ctx, p.params(req))

	ch := make(chan llm.Chunk, 32)
	go func() {
		defer close(ch)

		partial := map[int]*llm.ToolCall{}

		for chunk := range backendChunks {
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]

			for i, tc := range choice.Delta.ToolCalls {
				call, ok := partial[i]
				if !ok {
					call = &llm.ToolCall{}
					partial[i] = call
				}
				if tc.ID != "" {
					call.ID = tc.ID
				}
				if tc.Function.Name != "" {
					call.Name = tc.Function.Name
				}
				call.Arguments += tc.Function.Arguments
			}

			out := llm.Chunk{
				Text:         choice.Delta.Content,
				FinishReason: choice.FinishReason,
			}
			if choice.FinishReason != "" && len(partial) > 0 {
				for i := 0; i < len(partial); i++ {
					if call, ok := partial[i]; ok {
						out.ToolCalls = append(out.ToolCalls, *call)
					}
				}
			}

			select {
			case ch <- out:
			case <-ctx.Done():
				return
			}
		}

		// The error channel resolves only after the chunk stream is drained.
		if err := <-backendErrs; err != nil {
			select {
			case ch <- llm.Chunk{FinishReason: "error", Text: err.Error()}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}

// Complete performs a blocking completion.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := p.backend.Completion(ctx, p.params(req))
	if err != nil {
		return nil, fmt.Errorf("anyllm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("anyllm: empty choices in response")
	}

	choice := resp.Choices[0]
	result := &llm.CompletionResponse{Content: choice.Message.ContentString()}
	if resp.Usage != nil {
		result.Usage = llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	for _, tc := range choice.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, llm.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return result, nil
}

// CountTokens approximates at four characters per token plus a fixed
// per-message overhead, which overshoots slightly for English prose.
// TODO: use tiktoken-go for exact per-model counts.
func (p *Provider) CountTokens(messages []llm.Message) (int, error) {
	total := 0
	for _, m := range messages {
		total += (len(m.Content)+3)/4 + 4
	}
	return total, nil
}

// Capabilities reports metadata for the configured model name.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	return modelCapabilities(p.model)
}

// params converts a CompletionRequest to any-llm-go CompletionParams.
func (p *Provider) params(req llm.CompletionRequest) anyllmlib.CompletionParams {
	var messages []anyllmlib.Message
	if req.SystemPrompt != "" {
		messages = append(messages, anyllmlib.Message{
			Role:    anyllmlib.RoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, m := range req.Messages {
		msg := anyllmlib.Message{
			Role:       m.Role,
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, anyllmlib.ToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: anyllmlib.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		messages = append(messages, msg)
	}

	params := anyllmlib.CompletionParams{
		Model:    p.model,
		Messages: messages,
	}
	if req.Temperature != 0 {
		t := req.Temperature
		params.Temperature = &t
	}
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		params.MaxTokens = &mt
	}
	for _, td := range req.Tools {
		params.Tools = append(params.Tools, anyllmlib.Tool{
			Type: "function",
			Function: anyllmlib.Function{
				Name:        td.Name,
				Description: td.Description,
				Parameters:  td.Parameters,
			},
		})
	}
	return params
}

// capabilityRule assigns capabilities to model names matching a prefix or
// substring. First match wins.
type capabilityRule struct {
	prefix    string
	substring string
	caps      llm.ModelCapabilities
}

var capabilityRules = []capabilityRule{
	{prefix: "gpt-4o", caps: llm.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 16_384, SupportsVision: true, SupportsToolCalling: true, SupportsStreaming: true}},
	{prefix: "gpt-4-turbo", caps: llm.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 4_096, SupportsVision: true, SupportsToolCalling: true, SupportsStreaming: true}},
	{prefix: "gpt-4", caps: llm.ModelCapabilities{ContextWindow: 8_192, MaxOutputTokens: 4_096, SupportsToolCalling: true, SupportsStreaming: true}},
	{prefix: "gpt-3.5-turbo", caps: llm.ModelCapabilities{ContextWindow: 16_385, MaxOutputTokens: 4_096, SupportsToolCalling: true, SupportsStreaming: true}},

	// o1-mini is the only o-series model without tool calling.
	{prefix: "o1-mini", caps: llm.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 65_536, SupportsStreaming: true}},
	{prefix: "o1", caps: llm.ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 100_000, SupportsVision: true, SupportsToolCalling: true, SupportsStreaming: true}},
	{prefix: "o3-mini", caps: llm.ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 100_000, SupportsToolCalling: true, SupportsStreaming: true}},
	{prefix: "o3", caps: llm.ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 100_000, SupportsVision: true, SupportsToolCalling: true, SupportsStreaming: true}},

	{substring: "claude-3-opus", caps: llm.ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 4_096, SupportsVision: true, SupportsToolCalling: true, SupportsStreaming: true}},
	{prefix: "claude", caps: llm.ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 8_192, SupportsVision: true, SupportsToolCalling: true, SupportsStreaming: true}},

	{substring: "gemini-1.5-pro", caps: llm.ModelCapabilities{ContextWindow: 2_097_152, MaxOutputTokens: 8_192, SupportsVision: true, SupportsToolCalling: true, SupportsStreaming: true}},
	{substring: "gemini-2.0-flash", caps: llm.ModelCapabilities{ContextWindow: 1_048_576, MaxOutputTokens: 8_192, SupportsVision: true, SupportsToolCalling: true, SupportsStreaming: true}},
	{substring: "gemini-1.5-flash", caps: llm.ModelCapabilities{ContextWindow: 1_048_576, MaxOutputTokens: 8_192, SupportsVision: true, SupportsToolCalling: true, SupportsStreaming: true}},
	{prefix: "gemini", caps: llm.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 8_192, SupportsVision: true, SupportsToolCalling: true, SupportsStreaming: true}},
}

// modelCapabilities resolves capabilities by model name. Unknown models get
// conservative defaults.
func modelCapabilities(model string) llm.ModelCapabilities {
	lower := strings.ToLower(model)
	for _, rule := range capabilityRules {
		if rule.prefix != "" && strings.HasPrefix(lower, rule.prefix) {
			return rule.caps
		}
		if rule.substring != "" && strings.Contains(lower, rule.substring) {
			return rule.caps
		}
	}
	return llm.ModelCapabilities{
		SupportsToolCalling: true,
		SupportsStreaming:   true,
		ContextWindow:       128_000,
		MaxOutputTokens:     4_096,
	}
}
