package llms

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/genai"
)

// GoogleProvider wraps the official google.golang.org/genai SDK, the same
// client the teacher's pkg/model/gemini provider uses, rather than a
// hand-rolled REST client: Gemini's function-call/thought-signature wire
// shapes are genai struct types, not plain JSON maps, so going through the
// SDK is the only way to round-trip ToolCall.ThoughtSignature correctly.
type GoogleProvider struct {
	client *genai.Client
}

// NewGoogleProvider constructs a genai.Client bound to apiKey. Client
// construction only validates the key shape and never calls the network,
// matching pkg/model/gemini.New's use of context.Background() here.
func NewGoogleProvider(apiKey string) (*GoogleProvider, error) {
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("llms/google: create client: %w", err)
	}
	return &GoogleProvider{client: client}, nil
}

func (p *GoogleProvider) Name() string { return "google" }

func toGoogleContents(messages []Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleTool:
			out = append(out, &genai.Content{
				Role: "user",
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{
						Name:     m.Name,
						Response: map[string]any{"result": m.Content},
					},
				}},
			})
		case RoleAssistant:
			var parts []*genai.Part
			if m.Content != "" {
				parts = append(parts, &genai.Part{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				parts = append(parts, &genai.Part{
					FunctionCall:     &genai.FunctionCall{Name: tc.Name, Args: tc.Arguments},
					ThoughtSignature: tc.ThoughtSignature,
				})
			}
			out = append(out, &genai.Content{Role: "model", Parts: parts})
		default:
			out = append(out, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: m.Content}}})
		}
	}
	return out
}

func toGoogleTools(tools []ToolSchema) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			Parameters:  toGenaiSchema(normalizeSchema(t.Function.Parameters)),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// normalizeSchema round-trips a schema built from invopop/jsonschema
// structs (whose nested "properties" values are *jsonschema.Schema, not
// plain maps) through encoding/json so toGenaiSchema's type assertions
// see ordinary map[string]any/[]any at every level, the same shape the
// teacher's toGenaiSchema expects from a parsed JSON schema document.
func normalizeSchema(schema map[string]any) map[string]any {
	if schema == nil {
		return nil
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

// toGenaiSchema converts the provider-neutral JSON-schema map (the shape
// tools.Registry.Schemas produces) to a genai.Schema, following
// pkg/model/gemini/gemini.go's toGenaiSchema field-by-field walk.
func toGenaiSchema(schema map[string]any) *genai.Schema {
	if schema == nil {
		return nil
	}
	s := &genai.Schema{}
	if t, ok := schema["type"].(string); ok {
		s.Type = genai.Type(t)
	}
	if desc, ok := schema["description"].(string); ok {
		s.Description = desc
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				s.Properties[name] = toGenaiSchema(propMap)
			}
		}
	}
	if required, ok := schema["required"].([]any); ok {
		for _, r := range required {
			if rs, ok := r.(string); ok {
				s.Required = append(s.Required, rs)
			}
		}
	}
	if items, ok := schema["items"].(map[string]any); ok {
		s.Items = toGenaiSchema(items)
	}
	return s
}

func (p *GoogleProvider) buildConfig(systemPrompt string, cfg CompletionConfig, tools []ToolSchema) *genai.GenerateContentConfig {
	gc := &genai.GenerateContentConfig{}
	if systemPrompt != "" {
		gc.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: systemPrompt}}, Role: "user"}
	}
	if cfg.Temperature > 0 {
		gc.Temperature = genai.Ptr(float32(cfg.Temperature))
	}
	if cfg.TopP > 0 {
		gc.TopP = genai.Ptr(float32(cfg.TopP))
	}
	if cfg.MaxTokens > 0 {
		gc.MaxOutputTokens = int32(cfg.MaxTokens)
	}
	if toolCfg := toGoogleTools(tools); toolCfg != nil {
		gc.Tools = toolCfg
	}
	return gc
}

func mapGoogleFinishReason(reason genai.FinishReason, hasToolCalls bool) FinishReason {
	switch reason {
	case genai.FinishReasonMaxTokens:
		return FinishLength
	case genai.FinishReasonStop, "":
		if hasToolCalls {
			return FinishToolCalls
		}
		return FinishStop
	default:
		return FinishStop
	}
}

func (p *GoogleProvider) CreateCompletion(ctx context.Context, messages []Message, systemPrompt string, cfg CompletionConfig, tools []ToolSchema) (ProviderResponse, error) {
	contents := toGoogleContents(messages)
	config := p.buildConfig(systemPrompt, cfg, tools)

	genResp, err := p.client.Models.GenerateContent(ctx, cfg.Model, contents, config)
	if err != nil {
		return ProviderResponse{}, fmt.Errorf("llms/google: generate content: %w", err)
	}
	return p.parseResponse(genResp)
}

func (p *GoogleProvider) parseResponse(genResp *genai.GenerateContentResponse) (ProviderResponse, error) {
	if len(genResp.Candidates) == 0 {
		return ProviderResponse{}, fmt.Errorf("llms/google: no candidates in response")
	}
	candidate := genResp.Candidates[0]

	var content string
	var toolCalls []ToolCall
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				content += part.Text
			}
			if part.FunctionCall != nil {
				toolCalls = append(toolCalls, ToolCall{
					Name:             part.FunctionCall.Name,
					Arguments:        part.FunctionCall.Args,
					ThoughtSignature: part.ThoughtSignature,
				})
			}
		}
	}

	toolCalls = EnsureToolCallIDs(toolCalls)
	reason := mapGoogleFinishReason(candidate.FinishReason, len(toolCalls) > 0)

	return ProviderResponse{Content: content, ToolCalls: toolCalls, FinishReason: reason, Raw: genResp}, nil
}

// CreateStreamingCompletion consumes the SDK's GenerateContentStream
// iterator and re-emits it as StreamEvents, collapsing partial text
// chunks into StreamContent deltas and surfacing function calls only once
// the stream completes (Gemini repeats in-progress function calls across
// chunks, so the accumulate-then-emit pattern from pkg/model/gemini's
// aggregator is overkill for this provider's simpler contract here: the
// Agent layer only needs the final ToolCalls, not incremental deltas).
func (p *GoogleProvider) CreateStreamingCompletion(ctx context.Context, messages []Message, systemPrompt string, cfg CompletionConfig, tools []ToolSchema) (<-chan StreamEvent, error) {
	contents := toGoogleContents(messages)
	config := p.buildConfig(systemPrompt, cfg, tools)

	ch := make(chan StreamEvent, 8)
	go func() {
		defer close(ch)

		var toolCalls []ToolCall
		var finishReason genai.FinishReason
		var sawResponse bool
		for genResp, err := range p.client.Models.GenerateContentStream(ctx, cfg.Model, contents, config) {
			if err != nil {
				ch <- StreamEvent{Type: StreamError, Err: fmt.Errorf("llms/google: stream: %w", err)}
				return
			}
			sawResponse = true
			if len(genResp.Candidates) == 0 {
				continue
			}
			candidate := genResp.Candidates[0]
			if candidate.FinishReason != "" {
				finishReason = candidate.FinishReason
			}
			if candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part.Text != "" {
					ch <- StreamEvent{Type: StreamContent, Content: part.Text}
				}
				if part.FunctionCall != nil {
					toolCalls = append(toolCalls, ToolCall{
						Name:             part.FunctionCall.Name,
						Arguments:        part.FunctionCall.Args,
						ThoughtSignature: part.ThoughtSignature,
					})
				}
			}
		}

		if !sawResponse {
			ch <- StreamEvent{Type: StreamError, Err: fmt.Errorf("llms/google: empty stream")}
			return
		}

		toolCalls = EnsureToolCallIDs(toolCalls)
		for i := range toolCalls {
			tc := toolCalls[i]
			ch <- StreamEvent{Type: StreamToolCall, ToolCall: &tc}
		}
		ch <- StreamEvent{Type: StreamDone, FinishReason: mapGoogleFinishReason(finishReason, len(toolCalls) > 0)}
	}()
	return ch, nil
}
