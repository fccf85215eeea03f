package agency

import (
	"fmt"
	"os"

	"github.com/kadirpekel/agency/llms"
)

// RegisterDefaultFactories wires the six provider kinds spec §3 names
// into reg, each reading its API key (or host, for ollama) from the
// environment. Registered under the kind name itself so
// llms.Registry.GetOrCreate(spec.Config.Provider, spec.Config.Provider, ...)
// resolves every agent sharing a provider kind to one cached client.
func RegisterDefaultFactories(reg *llms.Registry) {
	reg.RegisterFactory("openai", func(llms.CompletionConfig) (llms.Provider, error) {
		key := os.Getenv("OPENAI_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("agency: OPENAI_API_KEY is not set")
		}
		return llms.NewOpenAIProvider(key), nil
	})
	reg.RegisterFactory("anthropic", func(llms.CompletionConfig) (llms.Provider, error) {
		key := os.Getenv("ANTHROPIC_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("agency: ANTHROPIC_API_KEY is not set")
		}
		return llms.NewAnthropicProvider(key), nil
	})
	reg.RegisterFactory("ollama", func(llms.CompletionConfig) (llms.Provider, error) {
		host := os.Getenv("OLLAMA_HOST")
		return llms.NewOllamaProvider(host), nil
	})
	reg.RegisterFactory("groq", func(llms.CompletionConfig) (llms.Provider, error) {
		key := os.Getenv("GROQ_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("agency: GROQ_API_KEY is not set")
		}
		return llms.NewGroqProvider(key), nil
	})
	reg.RegisterFactory("mistral", func(llms.CompletionConfig) (llms.Provider, error) {
		key := os.Getenv("MISTRAL_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("agency: MISTRAL_API_KEY is not set")
		}
		return llms.NewMistralProvider(key), nil
	})
	reg.RegisterFactory("google", func(llms.CompletionConfig) (llms.Provider, error) {
		key := os.Getenv("GOOGLE_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("agency: GOOGLE_API_KEY is not set")
		}
		return llms.NewGoogleProvider(key)
	})
}
