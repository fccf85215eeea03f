// Package llms defines the provider-neutral request/response contract
// consumed by the agent turn loop. Concrete providers (openai, anthropic,
// ollama, groq, google, mistral) implement Provider; callers never touch
// a provider's native wire format.
package llms

// Role is one of the four neutral message roles.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// FinishReason normalizes every provider's stop signal into one of four
// values, per the mapping rule: native end/stop -> Stop; any tool/function
// signal -> ToolCalls; length cutoff -> Length.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishToolCalls FinishReason = "tool_calls"
	FinishLength    FinishReason = "length"
	FinishError     FinishReason = "error"
)

// ToolCall is a single function-call request emitted by a provider. ID is
// opaque and unique within one assistant turn; Arguments are decoded
// structured data, never a raw JSON string, at this layer.
type ToolCall struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	Arguments        map[string]any `json:"arguments"`
	ThoughtSignature []byte         `json:"thought_signature,omitempty"`
}

// Message is one entry of an agent's append-only history.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// ToolSchema is the provider-neutral "function tool" descriptor produced
// by tools.Registry.Schemas and consumed by every Provider adapter.
type ToolSchema struct {
	Type     string           `json:"type"`
	Function ToolSchemaFunc   `json:"function"`
}

type ToolSchemaFunc struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ProviderResponse is the normalized result of one create_completion call.
// Invariant: if ToolCalls is non-empty, FinishReason must be ToolCalls.
type ProviderResponse struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason FinishReason
	Raw          any
}

// StreamEventType tags a StreamEvent.
type StreamEventType string

const (
	StreamContent  StreamEventType = "content"
	StreamToolCall StreamEventType = "tool_call"
	StreamDone     StreamEventType = "done"
	StreamError    StreamEventType = "error"
)

// StreamEvent is one increment of a streaming completion.
type StreamEvent struct {
	Type         StreamEventType
	Content      string
	ToolCall     *ToolCall
	FinishReason FinishReason
	Err          error
}

// CompletionConfig carries the per-call model parameters an Agent passes
// down to a Provider; it mirrors config.AgentConfig's LLM-facing fields so
// providers never need the whole agent configuration.
type CompletionConfig struct {
	Model            string
	MaxTokens        int
	Temperature      float64
	TopP             float64
	FrequencyPenalty float64
	PresencePenalty  float64
}
