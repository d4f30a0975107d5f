package llm

import "fmt"

// Registry resolves a provider name (as stored in a RoleConfig) to a live
// Provider instance. One Registry is built per process at startup from
// whichever provider credentials are configured.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry builds a Registry from the given providers, keyed by Name().
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

// Get returns the named provider.
func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("llm: no provider registered for %q", name)
	}
	return p, nil
}

// Resolve looks up the Provider for a RoleConfig in one call.
func (r *Registry) Resolve(cfg RoleConfig) (Provider, error) {
	return r.Get(cfg.Provider)
}
