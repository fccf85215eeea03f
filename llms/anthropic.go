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

// AnthropicProvider speaks the Messages API, converting the neutral
// history into Anthropic's content-block shape and tool_use/tool_result
// blocks back into ToolCall/Message.
type AnthropicProvider struct {
	APIKey     string
	BaseURL    string
	Version    string
	HTTPClient *http.Client
}

func NewAnthropicProvider(apiKey string) *AnthropicProvider {
	return &AnthropicProvider{
		APIKey:     apiKey,
		BaseURL:    "https://api.anthropic.com/v1",
		Version:    "2023-06-01",
		HTTPClient: &http.Client{Timeout: 120 * time.Second},
	}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

type anthropicContentBlock struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Content   string         `json:"content,omitempty"`
}

type anthropicMessage struct {
	Role    string                  `json:"role"`
	Content []anthropicContentBlock `json:"content"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature,omitempty"`
	TopP        float64            `json:"top_p,omitempty"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
}

type anthropicResponse struct {
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Error      *anthropicError         `json:"error,omitempty"`
}

type anthropicError struct {
	Message string `json:"message"`
}

func toAnthropicMessages(messages []Message) []anthropicMessage {
	out := make([]anthropicMessage, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleTool:
			out = append(out, anthropicMessage{
				Role: "user",
				Content: []anthropicContentBlock{{
					Type:      "tool_result",
					ToolUseID: m.ToolCallID,
					Content:   m.Content,
				}},
			})
		case RoleAssistant:
			blocks := []anthropicContentBlock{}
			if m.Content != "" {
				blocks = append(blocks, anthropicContentBlock{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, anthropicContentBlock{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: tc.Arguments})
			}
			out = append(out, anthropicMessage{Role: "assistant", Content: blocks})
		default:
			out = append(out, anthropicMessage{Role: "user", Content: []anthropicContentBlock{{Type: "text", Text: m.Content}}})
		}
	}
	return out
}

func toAnthropicTools(tools []ToolSchema) []anthropicTool {
	out := make([]anthropicTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, anthropicTool{Name: t.Function.Name, Description: t.Function.Description, InputSchema: t.Function.Parameters})
	}
	return out
}

func (p *AnthropicProvider) CreateCompletion(ctx context.Context, messages []Message, systemPrompt string, cfg CompletionConfig, tools []ToolSchema) (ProviderResponse, error) {
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	reqBody := anthropicRequest{
		Model:       cfg.Model,
		System:      systemPrompt,
		Messages:    toAnthropicMessages(messages),
		MaxTokens:   maxTokens,
		Temperature: cfg.Temperature,
		Tools:       toAnthropicTools(tools),
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return ProviderResponse{}, fmt.Errorf("llms/anthropic: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return ProviderResponse{}, fmt.Errorf("llms/anthropic: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.APIKey)
	httpReq.Header.Set("anthropic-version", p.Version)

	resp, err := p.HTTPClient.Do(httpReq)
	if err != nil {
		return ProviderResponse{}, fmt.Errorf("llms/anthropic: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ProviderResponse{}, fmt.Errorf("llms/anthropic: read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		info := httpclient.ParseAnthropicRateLimitHeaders(resp.Header)
		return ProviderResponse{}, &httpclient.RetryableError{StatusCode: resp.StatusCode, Message: string(body), RetryAfter: info.RetryAfter}
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ProviderResponse{}, fmt.Errorf("llms/anthropic: unmarshal response: %w", err)
	}
	if parsed.Error != nil {
		return ProviderResponse{}, fmt.Errorf("llms/anthropic: %s", parsed.Error.Message)
	}

	var content string
	var toolCalls []ToolCall
	for _, block := range parsed.Content {
		switch block.Type {
		case "text":
			content += block.Text
		case "tool_use":
			toolCalls = append(toolCalls, ToolCall{ID: block.ID, Name: block.Name, Arguments: block.Input})
		}
	}

	reason := FinishStop
	switch parsed.StopReason {
	case "tool_use":
		reason = FinishToolCalls
	case "max_tokens":
		reason = FinishLength
	}

	return ProviderResponse{Content: content, ToolCalls: toolCalls, FinishReason: reason, Raw: parsed}, nil
}

func (p *AnthropicProvider) CreateStreamingCompletion(ctx context.Context, messages []Message, systemPrompt string, cfg CompletionConfig, tools []ToolSchema) (<-chan StreamEvent, error) {
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
