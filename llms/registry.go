package llms

import (
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/kadirpekel/agency/registry"
)

// Factory builds a Provider from its config-provided model/provider id.
// Registered per provider kind (openai, anthropic, ...) at process startup.
type Factory func(cfg CompletionConfig) (Provider, error)

// Registry names and caches constructed Provider clients, collapsing
// concurrent first-use construction of the same named client with a
// singleflight group rather than a second lock.
type Registry struct {
	providers *registry.BaseRegistry[Provider]
	factories map[string]Factory
	group     singleflight.Group
}

func NewRegistry() *Registry {
	return &Registry{
		providers: registry.NewBaseRegistry[Provider](),
		factories: make(map[string]Factory),
	}
}

// RegisterFactory associates a provider kind (e.g. "openai") with a
// constructor, used by GetOrCreate to lazily build named clients.
func (r *Registry) RegisterFactory(kind string, f Factory) {
	r.factories[kind] = f
}

// RegisterProvider installs an already-constructed client under name.
func (r *Registry) RegisterProvider(name string, p Provider) error {
	return r.providers.Register(name, p)
}

func (r *Registry) GetProvider(name string) (Provider, bool) {
	return r.providers.Get(name)
}

// GetOrCreate returns the cached client for name, constructing it via the
// kind's factory on first use. Concurrent callers racing on the same name
// share one construction through the singleflight group.
func (r *Registry) GetOrCreate(name, kind string, cfg CompletionConfig) (Provider, error) {
	if p, ok := r.providers.Get(name); ok {
		return p, nil
	}

	v, err, _ := r.group.Do(name, func() (any, error) {
		if p, ok := r.providers.Get(name); ok {
			return p, nil
		}
		factory, ok := r.factories[kind]
		if !ok {
			return nil, fmt.Errorf("llms: no factory registered for provider kind %q", kind)
		}
		p, err := factory(cfg)
		if err != nil {
			return nil, fmt.Errorf("llms: constructing provider %q: %w", name, err)
		}
		if err := r.providers.Register(name, p); err != nil {
			return nil, err
		}
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Provider), nil
}
