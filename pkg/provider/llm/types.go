package llm

// Message is one entry in a completion conversation. The LLM evaluator sends
// a short system + user exchange; tool-role messages only appear when a
// caller executes requested tool calls and feeds the results back.
type Message struct {
	// Role is one of "system", "user", "assistant", or "tool".
	Role string

	// Content is the text content of the message.
	Content string

	// Name optionally labels the participant in multi-speaker contexts.
	Name string

	// ToolCalls holds tool invocations requested by an assistant message.
	ToolCalls []ToolCall

	// ToolCallID links a "tool" role message to the call it answers.
	ToolCallID string
}

// ToolCall is a single function invocation requested by the model.
type ToolCall struct {
	// ID is the provider-assigned identifier for this call.
	ID string

	// Name is the tool name.
	Name string

	// Arguments is the JSON-encoded argument object.
	Arguments string
}

// ToolDefinition describes a tool offered to the model in a request.
type ToolDefinition struct {
	// Name is the tool's unique identifier.
	Name string

	// Description tells the model what the tool does.
	Description string

	// Parameters is the JSON Schema of the tool's input.
	Parameters map[string]any
}

// ModelCapabilities is static metadata about the model behind a provider.
type ModelCapabilities struct {
	// ContextWindow is the maximum combined input and output token count.
	ContextWindow int

	// MaxOutputTokens caps a single completion.
	MaxOutputTokens int

	// SupportsToolCalling reports native function calling support.
	SupportsToolCalling bool

	// SupportsVision reports image input support.
	SupportsVision bool

	// SupportsStreaming reports incremental completion output support.
	SupportsStreaming bool
}
