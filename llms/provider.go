package llms

import "context"

// Provider is the single operation every LLM backend must implement. The
// core orchestrator depends only on this interface — concrete adapters
// (openai.go, anthropic.go, ollama.go, groq/mistral via the OpenAI adapter,
// google.go) are external collaborators per the system's scope boundary.
type Provider interface {
	// CreateCompletion sends one turn's messages and returns a normalized
	// response. tools may be nil/empty, in which case the provider must
	// not emit tool calls.
	CreateCompletion(ctx context.Context, messages []Message, systemPrompt string, cfg CompletionConfig, tools []ToolSchema) (ProviderResponse, error)

	// CreateStreamingCompletion is the incremental variant; ch is closed
	// by the provider when the turn completes or errors.
	CreateStreamingCompletion(ctx context.Context, messages []Message, systemPrompt string, cfg CompletionConfig, tools []ToolSchema) (<-chan StreamEvent, error)

	// Name identifies the provider for logging. Config validation checks
	// the configured provider string, not Name.
	Name() string
}
