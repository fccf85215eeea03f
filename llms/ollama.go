package llms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OllamaProvider speaks Ollama's local /api/chat endpoint, which already
// mirrors the OpenAI tool-call message shape closely enough to reuse the
// openAIMessage/openAITool wire types.
type OllamaProvider struct {
	Host       string
	HTTPClient *http.Client
}

func NewOllamaProvider(host string) *OllamaProvider {
	if host == "" {
		host = "http://localhost:11434"
	}
	return &OllamaProvider{Host: host, HTTPClient: &http.Client{Timeout: 300 * time.Second}}
}

func (p *OllamaProvider) Name() string { return "ollama" }

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
	Tools    []openAITool    `json:"tools,omitempty"`
	Stream   bool            `json:"stream"`
	Options  ollamaOptions   `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	TopP        float64 `json:"top_p,omitempty"`
}

type ollamaResponse struct {
	Message    openAIMessage `json:"message"`
	Done       bool          `json:"done"`
	DoneReason string        `json:"done_reason"`
}

func (p *OllamaProvider) CreateCompletion(ctx context.Context, messages []Message, systemPrompt string, cfg CompletionConfig, tools []ToolSchema) (ProviderResponse, error) {
	msgs := make([]Message, 0, len(messages)+1)
	if systemPrompt != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: systemPrompt})
	}
	msgs = append(msgs, messages...)

	reqBody := ollamaRequest{
		Model:    cfg.Model,
		Messages: toOpenAIMessages(msgs),
		Tools:    toOpenAITools(tools),
		Stream:   false,
		Options:  ollamaOptions{Temperature: cfg.Temperature, TopP: cfg.TopP},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return ProviderResponse{}, fmt.Errorf("llms/ollama: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Host+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return ProviderResponse{}, fmt.Errorf("llms/ollama: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.HTTPClient.Do(httpReq)
	if err != nil {
		return ProviderResponse{}, fmt.Errorf("llms/ollama: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ProviderResponse{}, fmt.Errorf("llms/ollama: read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return ProviderResponse{}, fmt.Errorf("llms/ollama: http %d: %s", resp.StatusCode, string(body))
	}

	var parsed ollamaResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ProviderResponse{}, fmt.Errorf("llms/ollama: unmarshal response: %w", err)
	}

	toolCalls := make([]ToolCall, 0, len(parsed.Message.ToolCalls))
	for _, tc := range parsed.Message.ToolCalls {
		var args map[string]any
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		toolCalls = append(toolCalls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
	}

	reason := FinishStop
	if len(toolCalls) > 0 {
		reason = FinishToolCalls
	} else if parsed.DoneReason == "length" {
		reason = FinishLength
	}

	return ProviderResponse{Content: parsed.Message.Content, ToolCalls: toolCalls, FinishReason: reason, Raw: parsed}, nil
}

func (p *OllamaProvider) CreateStreamingCompletion(ctx context.Context, messages []Message, systemPrompt string, cfg CompletionConfig, tools []ToolSchema) (<-chan StreamEvent, error) {
	resp, err := p.CreateCompletion(ctx, messages, systemPrompt, cfg, tools)
	ch := make(chan StreamEvent, len(resp.ToolCalls)+2)
	if err != nil {
		ch <- StreamEvent{Type: StreamError, Err: err}
		close(ch)
		return ch, nil
	}
	if resp.Content != "" {
		ch <- StreamEvent{Type: StreamContent, Content: resp.Content}
	}
	for i := range resp.ToolCalls {
		tc := resp.ToolCalls[i]
		ch <- StreamEvent{Type: StreamToolCall, ToolCall: &tc}
	}
	ch <- StreamEvent{Type: StreamDone, FinishReason: resp.FinishReason}
	close(ch)
	return ch, nil
}
