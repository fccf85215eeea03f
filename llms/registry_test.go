package llms

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct{ name string }

func (f *fakeProvider) Name() string { return f.name }
func (f *fakeProvider) CreateCompletion(context.Context, []Message, string, CompletionConfig, []ToolSchema) (ProviderResponse, error) {
	return ProviderResponse{}, nil
}
func (f *fakeProvider) CreateStreamingCompletion(context.Context, []Message, string, CompletionConfig, []ToolSchema) (<-chan StreamEvent, error) {
	return nil, nil
}

func TestRegistry_GetOrCreate_ConstructsOnceAndCaches(t *testing.T) {
	reg := NewRegistry()
	calls := 0
	reg.RegisterFactory("stub-kind", func(CompletionConfig) (Provider, error) {
		calls++
		return &fakeProvider{name: "built"}, nil
	})

	p1, err := reg.GetOrCreate("agent-a", "stub-kind", CompletionConfig{})
	require.NoError(t, err)
	p2, err := reg.GetOrCreate("agent-a", "stub-kind", CompletionConfig{})
	require.NoError(t, err)

	assert.Same(t, p1, p2)
	assert.Equal(t, 1, calls)
}

func TestRegistry_GetOrCreate_UnknownKindErrors(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.GetOrCreate("agent-a", "missing-kind", CompletionConfig{})
	assert.Error(t, err)
}

func TestRegistry_GetOrCreate_ConcurrentCallsShareOneConstruction(t *testing.T) {
	reg := NewRegistry()
	var calls int
	var mu sync.Mutex
	reg.RegisterFactory("stub-kind", func(CompletionConfig) (Provider, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return &fakeProvider{name: "built"}, nil
	})

	var wg sync.WaitGroup
	providers := make([]Provider, 20)
	for i := 0; i < 20; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := reg.GetOrCreate("shared", "stub-kind", CompletionConfig{})
			require.NoError(t, err)
			providers[i] = p
		}()
	}
	wg.Wait()

	for _, p := range providers {
		assert.Same(t, providers[0], p)
	}
	assert.Equal(t, 1, calls)
}

func TestRegistry_RegisterProviderAndGetProvider(t *testing.T) {
	reg := NewRegistry()
	p := &fakeProvider{name: "pre-built"}
	require.NoError(t, reg.RegisterProvider("manual", p))

	got, ok := reg.GetProvider("manual")
	require.True(t, ok)
	assert.Same(t, p, got)
}
