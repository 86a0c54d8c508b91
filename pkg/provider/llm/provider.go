// Package llm defines the interface over chat-completion backends.
//
// The answer evaluator sends grading prompts through this interface, whether
// the model behind it is a hosted API or a local Ollama instance. Channels
// returned by StreamCompletion are closed by the implementation when the
// stream ends or the context is cancelled.
//
// Implementations must be safe for concurrent use.
package llm

import "context"

// Usage holds the backend's token accounting. Counts are in the model's
// native token unit, so the same text can cost differently per provider.
type Usage struct {
	// PromptTokens covers the input messages and system prompt.
	PromptTokens int

	// CompletionTokens covers the generated response.
	CompletionTokens int

	// TotalTokens is the sum; some backends report it directly.
	TotalTokens int
}

// CompletionRequest carries one grading or conversation request. Messages
// must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation, normally ending with a user turn.
	Messages []Message

	// Tools offered to the model. Check Capabilities().SupportsToolCalling
	// before setting this; providers without tool support may error.
	Tools []ToolDefinition

	// Temperature in [0.0, 2.0]. The evaluator uses low values so verdicts
	// stay reproducible.
	Temperature float64

	// MaxTokens caps the completion length. Zero uses the provider default.
	MaxTokens int

	// SystemPrompt is injected ahead of the conversation. Providers without
	// a native system slot prepend it as a "system" role message.
	SystemPrompt string
}

// Chunk is one fragment of a streaming completion. Any combination of the
// fields may be set on a single chunk.
type Chunk struct {
	// Text is the incremental content, possibly empty.
	Text string

	// FinishReason is set on the final chunk: "stop", "length",
	// "tool_calls", or "error" for mid-stream failures.
	FinishReason string

	// ToolCalls the model is requesting, possibly spread across chunks.
	ToolCalls []ToolCall
}

// CompletionResponse is the non-streaming result.
type CompletionResponse struct {
	// Content is the assistant's full reply, empty when it answered only
	// with tool calls.
	Content string

	// ToolCalls requested by the model; executing them is the caller's job.
	ToolCalls []ToolCall

	// Usage is the token accounting for this exchange.
	Usage Usage
}

// Provider is the abstraction over any chat-completion backend. Methods must
// honor context cancellation promptly.
type Provider interface {
	// StreamCompletion starts generation and returns a channel of chunks,
	// closed when generation finishes or ctx is cancelled. Callers must
	// drain it. The error return is non-nil only when the stream could not
	// start; later failures arrive as a chunk with FinishReason "error".
	// A nil error guarantees a non-nil channel.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Complete waits for the whole response. Convenience for callers that
	// do not need incremental output.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates how many context-window tokens messages would
	// consume, used to bound evaluation prompts before sending. The
	// estimate may be approximate but should not undercount.
	CountTokens(messages []Message) (int, error)

	// Capabilities reports static model metadata, constant for the lifetime
	// of the Provider.
	Capabilities() ModelCapabilities
}
