package token

import (
	"sync"

	"xmlsecflow/pkg/helper/errors"
)

// Provider is a lazy factory that produces a Security Token by id. The
// registry memoizes whatever a provider returns the first time it is
// invoked.
type Provider func() (*Token, error)

// Registry is the per-document, string-keyed map from id to provider.
// It is not safe to share across documents processed concurrently; the
// concurrency model assigns one registry per document context.
type Registry struct {
	mu        sync.Mutex
	providers map[string]Provider
	produced  map[string]*Token
}

// NewRegistry creates an empty, per-document token provider registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: map[string]Provider{},
		produced:  map[string]*Token{},
	}
}

// Register installs a provider under id. It rejects a duplicate id
// only when the existing provider under that id has already produced a
// token; re-registering before first use (e.g. a security-header
// handler revising its own entry) is allowed.
func (r *Registry) Register(id string, p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, done := r.produced[id]; done {
		return errors.AlreadyExistsf("token provider %s already produced a token", id)
	}
	r.providers[id] = p
	return nil
}

// Resolve returns the token for id, invoking and memoizing its provider
// on first use.
func (r *Registry) Resolve(id string) (*Token, error) {
	r.mu.Lock()
	if t, ok := r.produced[id]; ok {
		r.mu.Unlock()
		return t, nil
	}
	p, ok := r.providers[id]
	r.mu.Unlock()
	if !ok {
		return nil, errors.NotFoundf("no token provider registered for id %s", id)
	}

	t, err := p()
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.produced[id] = t
	r.mu.Unlock()
	return t, nil
}

// Has reports whether id has a registered provider, without resolving it.
func (r *Registry) Has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.providers[id]
	return ok
}
