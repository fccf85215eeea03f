package llms

// NewGroqProvider returns an OpenAI-compatible client against Groq's
// hosted endpoint, the same base-URL-swap shortcut the teacher uses for
// custom OpenAI-compatible hosts.
func NewGroqProvider(apiKey string) *OpenAIProvider {
	return NewOpenAICompatibleProvider("groq", "https://api.groq.com/openai/v1", apiKey)
}

// NewMistralProvider returns an OpenAI-compatible client against
// Mistral's hosted endpoint.
func NewMistralProvider(apiKey string) *OpenAIProvider {
	return NewOpenAICompatibleProvider("mistral", "https://api.mistral.ai/v1", apiKey)
}
