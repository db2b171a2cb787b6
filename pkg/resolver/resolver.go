// Package resolver implements reference resolution: matching a
// same-document reference against a live start-element as it streams
// by, and fetching external resources by URI through an ordered,
// scheme-gated registry of resolver implementations.
package resolver

import (
	"context"
	"io"
	"net/url"
	"strings"

	"xmlsecflow/pkg/helper/errors"
	"xmlsecflow/pkg/xmlevent"
)

// SameDocument matches a reference URI of the form "#id" against the
// stream of start-elements. This is the only way a same-document
// reference is matched — never by a post-parse index.
type SameDocument struct {
	fragment string
}

// NewSameDocument builds a resolver for a "#fragment" reference URI. A
// Reference with no URI is rejected by the caller before this is built;
// a non-fragment URI is not a same-document reference and NewSameDocument
// returns an error so callers route it to the external path instead.
func NewSameDocument(referenceURI string) (*SameDocument, error) {
	if !strings.HasPrefix(referenceURI, "#") {
		return nil, errors.InvalidInputf("not a same-document reference URI: %s", referenceURI)
	}
	frag := strings.TrimPrefix(referenceURI, "#")
	if frag == "" {
		return nil, errors.InvalidSecurityf("same-document reference has empty fragment")
	}
	return &SameDocument{fragment: frag}, nil
}

// Matches reports whether ev is the start-element this resolver targets.
func (s *SameDocument) Matches(ev xmlevent.Event) bool {
	if ev.Kind != xmlevent.StartElement {
		return false
	}
	id, ok := ev.ID()
	return ok && id == s.fragment
}

// Fragment returns the id this resolver is looking for.
func (s *SameDocument) Fragment() string {
	return s.fragment
}

// ExternalSpi is the two-method trait an external resolver implements:
// a URI-matching predicate and a fetch. Resolvers are plain values, so
// any type satisfying this interface can be registered.
type ExternalSpi interface {
	Matches(uri string) bool
	Resolve(ctx context.Context, uri string) (io.ReadCloser, error)
}

// ExternalRegistry is the ordered set of external resolvers; first
// match wins. Fetching is refused entirely unless AllowExternal is set,
// per secure-processing defaults.
type ExternalRegistry struct {
	resolvers     []ExternalSpi
	allowExternal bool
	limiter       Throttle
}

// Throttle bounds the rate of external fetches a single ExternalRegistry
// will perform, so a malicious document cannot turn reference resolution
// into an unbounded-fanout denial of service. See pkg/resolver/throttle.go
// for the golang.org/x/time/rate-backed implementation.
type Throttle interface {
	Wait(ctx context.Context) error
}

// NewExternalRegistry creates a registry. allowExternal gates every
// Resolve call; it is normally sourced from Configuration Limits.
func NewExternalRegistry(allowExternal bool, limiter Throttle) *ExternalRegistry {
	return &ExternalRegistry{allowExternal: allowExternal, limiter: limiter}
}

// Register appends a resolver to the end of the registry's match order.
func (r *ExternalRegistry) Register(s ExternalSpi) {
	r.resolvers = append(r.resolvers, s)
}

// Resolve fetches uri's content via the first matching resolver.
func (r *ExternalRegistry) Resolve(ctx context.Context, uri string) (io.ReadCloser, error) {
	if !r.allowExternal {
		return nil, errors.InvalidSecurityf("external reference resolution disabled: %s", uri)
	}
	u, err := url.Parse(uri)
	if err != nil || u.Scheme == "" {
		return nil, errors.InvalidInputf("external reference URI has no scheme: %s", uri)
	}
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, errors.Wrap(err, "external reference throttled")
		}
	}
	for _, s := range r.resolvers {
		if s.Matches(uri) {
			rc, err := s.Resolve(ctx, uri)
			if err != nil {
				return nil, errors.Wrap(err, "failed to resolve external reference %s", uri)
			}
			return rc, nil
		}
	}
	return nil, errors.NotFoundf("no external resolver matches URI: %s", uri)
}
