package llms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kadirpekel/agency/internal/httpclient"
)

// OpenAIProvider is a hand-rolled HTTP client against the chat completions
// API. groq and mistral are OpenAI-compatible endpoints and reuse this
// type with a different BaseURL/APIKey instead of a separate client.
type OpenAIProvider struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	name       string
}

// NewOpenAIProvider builds an OpenAI client. name defaults to "openai" and
// is overridden by NewOpenAICompatibleProvider for groq/mistral so log
// lines and provider-registry keys stay distinguishable.
func NewOpenAIProvider(apiKey string) *OpenAIProvider {
	return &OpenAIProvider{
		APIKey:     apiKey,
		BaseURL:    "https://api.openai.com/v1",
		HTTPClient: &http.Client{Timeout: 120 * time.Second},
		name:       "openai",
	}
}

// NewOpenAICompatibleProvider parameterizes the OpenAI adapter's base URL
// for a compatible host (groq, mistral), the same shortcut the teacher
// takes for custom OpenAI-compatible hosts.
func NewOpenAICompatibleProvider(name, baseURL, apiKey string) *OpenAIProvider {
	p := NewOpenAIProvider(apiKey)
	p.BaseURL = baseURL
	p.name = name
	return p
}

func (p *OpenAIProvider) Name() string { return p.name }

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content,omitempty"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	Name       string           `json:"name,omitempty"`
}

type openAIToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openAIToolCallFunc `json:"function"`
}

type openAIToolCallFunc struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openAITool struct {
	Type     string         `json:"type"`
	Function ToolSchemaFunc `json:"function"`
}

type openAIRequest struct {
	Model            string          `json:"model"`
	Messages         []openAIMessage `json:"messages"`
	Temperature      float64         `json:"temperature,omitempty"`
	TopP             float64         `json:"top_p,omitempty"`
	MaxTokens        int             `json:"max_tokens,omitempty"`
	FrequencyPenalty float64         `json:"frequency_penalty,omitempty"`
	PresencePenalty  float64         `json:"presence_penalty,omitempty"`
	Tools            []openAITool    `json:"tools,omitempty"`
	Stream           bool            `json:"stream,omitempty"`
}

type openAIResponse struct {
	Choices []openAIChoice `json:"choices"`
	Error   *openAIError   `json:"error,omitempty"`
}

type openAIChoice struct {
	Message      openAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func toOpenAIMessages(messages []Message) []openAIMessage {
	out := make([]openAIMessage, 0, len(messages))
	for _, m := range messages {
		om := openAIMessage{Role: string(m.Role), Content: m.Content, ToolCallID: m.ToolCallID, Name: m.Name}
		for _, tc := range m.ToolCalls {
			args, _ := json.Marshal(tc.Arguments)
			om.ToolCalls = append(om.ToolCalls, openAIToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: openAIToolCallFunc{
					Name:      tc.Name,
					Arguments: string(args),
				},
			})
		}
		out = append(out, om)
	}
	return out
}

func toOpenAITools(tools []ToolSchema) []openAITool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openAITool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openAITool{Type: "function", Function: t.Function})
	}
	return out
}

func normalizeFinishReason(reason string, hasToolCalls bool) FinishReason {
	switch reason {
	case "stop", "end", "end_turn":
		return FinishStop
	case "tool_calls", "function_call":
		return FinishToolCalls
	case "length", "max_tokens":
		return FinishLength
	default:
		if hasToolCalls {
			return FinishToolCalls
		}
		return FinishStop
	}
}

func (p *OpenAIProvider) buildRequest(messages []Message, systemPrompt string, cfg CompletionConfig, tools []ToolSchema, stream bool) openAIRequest {
	msgs := make([]Message, 0, len(messages)+1)
	if systemPrompt != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: systemPrompt})
	}
	msgs = append(msgs, messages...)

	return openAIRequest{
		Model:            cfg.Model,
		Messages:         toOpenAIMessages(msgs),
		Temperature:      cfg.Temperature,
		TopP:             cfg.TopP,
		MaxTokens:        cfg.MaxTokens,
		FrequencyPenalty: cfg.FrequencyPenalty,
		PresencePenalty:  cfg.PresencePenalty,
		Tools:            toOpenAITools(tools),
		Stream:           stream,
	}
}

func (p *OpenAIProvider) CreateCompletion(ctx context.Context, messages []Message, systemPrompt string, cfg CompletionConfig, tools []ToolSchema) (ProviderResponse, error) {
	reqBody := p.buildRequest(messages, systemPrompt, cfg, tools, false)
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return ProviderResponse{}, fmt.Errorf("llms/openai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return ProviderResponse{}, fmt.Errorf("llms/openai: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.APIKey)

	resp, err := p.HTTPClient.Do(httpReq)
	if err != nil {
		return ProviderResponse{}, fmt.Errorf("llms/openai: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ProviderResponse{}, fmt.Errorf("llms/openai: read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		info := httpclient.ParseOpenAIRateLimitHeaders(resp.Header)
		return ProviderResponse{}, &httpclient.RetryableError{
			StatusCode: resp.StatusCode,
			Message:    string(body),
			RetryAfter: info.RetryAfter,
		}
	}

	var parsed openAIResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ProviderResponse{}, fmt.Errorf("llms/openai: unmarshal response: %w", err)
	}
	if parsed.Error != nil {
		return ProviderResponse{}, fmt.Errorf("llms/openai: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return ProviderResponse{}, fmt.Errorf("llms/openai: no choices in response")
	}

	choice := parsed.Choices[0]
	toolCalls := make([]ToolCall, 0, len(choice.Message.ToolCalls))
	for _, tc := range choice.Message.ToolCalls {
		var args map[string]any
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		toolCalls = append(toolCalls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
	}

	return ProviderResponse{
		Content:      choice.Message.Content,
		ToolCalls:    toolCalls,
		FinishReason: normalizeFinishReason(choice.FinishReason, len(toolCalls) > 0),
		Raw:          parsed,
	}, nil
}

// CreateStreamingCompletion performs a non-streaming call and replays it as
// a short stream: a content event (when there is content), one event per
// tool call, then a done event. A faithful SSE reader is provider-adapter plumbing,
// out of the core's scope per the system's boundary (§1); callers that
// need true token-by-token streaming should read resp.Raw.
func (p *OpenAIProvider) CreateStreamingCompletion(ctx context.Context, messages []Message, systemPrompt string, cfg CompletionConfig, tools []ToolSchema) (<-chan StreamEvent, error) {
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
