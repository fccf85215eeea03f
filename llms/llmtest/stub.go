// Package llmtest provides a scriptable llms.Provider stub for driving the
// Agent and Agency control loops in tests without a network dependency,
// mirroring the spec's end-to-end scenarios (S1-S6).
package llmtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/kadirpekel/agency/llms"
)

// Stub replays a fixed sequence of responses, one per call to
// CreateCompletion, looping on the last entry if calls exceed the script.
type Stub struct {
	mu        sync.Mutex
	Responses []llms.ProviderResponse
	calls     int
	Seen      [][]llms.Message
}

func New(responses ...llms.ProviderResponse) *Stub {
	return &Stub{Responses: responses}
}

func (s *Stub) Name() string { return "stub" }

func (s *Stub) CreateCompletion(_ context.Context, messages []llms.Message, _ string, _ llms.CompletionConfig, _ []llms.ToolSchema) (llms.ProviderResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.Responses) == 0 {
		return llms.ProviderResponse{}, fmt.Errorf("llmtest: stub has no scripted responses")
	}
	idx := s.calls
	if idx >= len(s.Responses) {
		idx = len(s.Responses) - 1
	}
	s.calls++

	snapshot := make([]llms.Message, len(messages))
	copy(snapshot, messages)
	s.Seen = append(s.Seen, snapshot)

	return s.Responses[idx], nil
}

func (s *Stub) CreateStreamingCompletion(ctx context.Context, messages []llms.Message, systemPrompt string, cfg llms.CompletionConfig, tools []llms.ToolSchema) (<-chan llms.StreamEvent, error) {
	resp, err := s.CreateCompletion(ctx, messages, systemPrompt, cfg, tools)
	ch := make(chan llms.StreamEvent, 2)
	if err != nil {
		ch <- llms.StreamEvent{Type: llms.StreamError, Err: err}
		close(ch)
		return ch, nil
	}
	ch <- llms.StreamEvent{Type: llms.StreamContent, Content: resp.Content, FinishReason: resp.FinishReason}
	ch <- llms.StreamEvent{Type: llms.StreamDone, FinishReason: resp.FinishReason}
	close(ch)
	return ch, nil
}

// CallCount reports how many times CreateCompletion has been invoked.
func (s *Stub) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
