// Package token implements the security token model and its per-document
// provider registry: a uniform view over symmetric keys,
// asymmetric key pairs, certificate-bearing tokens, and key-transport
// wrapping relationships, plus the per-document registry that hands
// out tokens lazily by id.
package token

import (
	"context"
	"crypto"
	"crypto/dsa"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"sync/atomic"

	"xmlsecflow/pkg/algorithm"
	"xmlsecflow/pkg/helper/errors"
	"xmlsecflow/pkg/secevent"
)

// Usage names a declared key usage. Usages are additive and propagate
// transitively to a token's wrapping token.
type Usage string

const (
	UsageSignature         Usage = "signature"
	UsageEncryption        Usage = "encryption"
	UsageSymmetricKeyWrap  Usage = "symmetric-key-wrap"
	UsageAsymmetricKeyWrap Usage = "asymmetric-key-wrap"
)

// KeyMaterial holds whichever concrete key shape a token's resolver
// produced for one algorithm URI.
type KeyMaterial struct {
	Symmetric []byte
	Public    crypto.PublicKey
	Private   crypto.PrivateKey
}

// SecretResolver lazily produces the secret (symmetric or private) key
// material for a token, given the requesting algorithm and usage. It
// may consult a different token (the wrapping token), which is safe
// because the recursion guard is per-token.
type SecretResolver func(ctx context.Context, t *Token, algorithmURI string, usage Usage) (KeyMaterial, error)

// PublicResolver lazily produces public-key or certificate-chain
// material for a token.
type PublicResolver func(ctx context.Context, t *Token, algorithmURI string, usage Usage) (KeyMaterial, error)

// Kind tags a Token with the shape of its key material: symmetric key,
// X.509-bearing, EncryptedKey-derived, or directly user-supplied. One
// concrete struct with optional fields covers all four; behavior
// differences are a dispatch on the tag plus the optional resolvers.
type Kind string

const (
	KindSymmetric    Kind = "symmetric"
	KindX509         Kind = "x509"
	KindEncryptedKey Kind = "encrypted-key"
	KindUserSupplied Kind = "user-supplied"
)

// Token is the single concrete representation of a Security Token. It
// does not subclass by kind; capability is expressed by which fields
// and resolvers are populated.
type Token struct {
	ID           string
	Kind         Kind
	Asymmetric   bool
	Certificates []*x509.Certificate

	Wrapping *Token // key-transport wrapping token, nil if none

	usages  []Usage
	wrapped []*Token

	secretResolver SecretResolver
	publicResolver PublicResolver

	secretCache map[string]KeyMaterial
	publicCache map[string]KeyMaterial

	reg *algorithm.Registry
	bus *secevent.Bus

	guard atomic.Bool
}

// New creates a token. reg and bus may be nil only in tests that never
// call the key-fetch methods.
func New(id string, reg *algorithm.Registry, bus *secevent.Bus) *Token {
	return &Token{
		ID:          id,
		reg:         reg,
		bus:         bus,
		secretCache: map[string]KeyMaterial{},
		publicCache: map[string]KeyMaterial{},
	}
}

// SetWrapping sets the key-transport wrapping token and registers this
// token as one of the wrapping token's wrapped children.
func (t *Token) SetWrapping(wrapping *Token) {
	t.Wrapping = wrapping
	if wrapping != nil {
		wrapping.wrapped = append(wrapping.wrapped, t)
	}
}

// SetSecretResolver installs the lazy secret-key resolver.
func (t *Token) SetSecretResolver(r SecretResolver) {
	t.secretResolver = r
}

// SetPublicResolver installs the lazy public-key resolver.
func (t *Token) SetPublicResolver(r PublicResolver) {
	t.publicResolver = r
}

// SetSecretKey installs a precomputed symmetric key directly, bypassing
// the resolver. key must be non-nil: a nil key is rejected with an
// invalid-input error rather than silently becoming a no-op.
func (t *Token) SetSecretKey(algorithmURI string, key []byte) error {
	if key == nil {
		return errors.InvalidInputf("token %s: SetSecretKey called with nil key", t.ID)
	}
	t.secretCache[algorithmURI] = KeyMaterial{Symmetric: key}
	return nil
}

// SetPrivateKey installs a precomputed private key directly (e.g. one
// loaded from a key store by the host), bypassing the resolver.
func (t *Token) SetPrivateKey(algorithmURI string, key crypto.PrivateKey) error {
	if key == nil {
		return errors.InvalidInputf("token %s: SetPrivateKey called with nil key", t.ID)
	}
	t.secretCache[algorithmURI] = KeyMaterial{Private: key}
	return nil
}

// AddUsage declares a usage on this token and, transitively, on its
// wrapping token (and that token's wrapping token, and so on).
func (t *Token) AddUsage(u Usage) {
	for _, existing := range t.usages {
		if existing == u {
			return
		}
	}
	t.usages = append(t.usages, u)
	if t.Wrapping != nil {
		t.Wrapping.AddUsage(u)
	}
}

// Usages returns the declared usages in the order they were added.
func (t *Token) Usages() []Usage {
	return t.usages
}

// SecretKeyFor implements the secret-key-for(algorithm-uri, usage,
// correlation-id) operation from the token model: guard, resolve,
// measure, emit, release.
func (t *Token) SecretKeyFor(ctx context.Context, algorithmURI string, usage Usage, correlationID string) ([]byte, error) {
	if cached, ok := t.secretCache[algorithmURI]; ok {
		return cached.Symmetric, nil
	}
	if !t.guard.CompareAndSwap(false, true) {
		return nil, errors.RecursiveKeyReferencef("token %s: recursive key-fetch for %s", t.ID, algorithmURI)
	}
	defer t.guard.Store(false)

	if t.secretResolver == nil {
		return nil, errors.KeyResolutionFailedf("token %s: no secret resolver configured", t.ID)
	}
	km, err := t.secretResolver(ctx, t, algorithmURI, usage)
	if err != nil {
		return nil, err
	}
	t.secretCache[algorithmURI] = km
	t.emitAlgorithmUsed(algorithmURI, usage, correlationID, km)
	return km.Symmetric, nil
}

// PrivateKeyFor resolves the private key material a token holds for
// outbound signing (KeyMaterial.Private only), following the same
// guard/resolve/emit/release discipline as SecretKeyFor. It shares the
// secret-resolver and its cache with SecretKeyFor: a resolver for a
// signing token populates whichever of KeyMaterial.Symmetric or
// KeyMaterial.Private applies.
func (t *Token) PrivateKeyFor(ctx context.Context, algorithmURI string, usage Usage, correlationID string) (crypto.PrivateKey, error) {
	if cached, ok := t.secretCache[algorithmURI]; ok {
		return cached.Private, nil
	}
	if !t.guard.CompareAndSwap(false, true) {
		return nil, errors.RecursiveKeyReferencef("token %s: recursive key-fetch for %s", t.ID, algorithmURI)
	}
	defer t.guard.Store(false)

	if t.secretResolver == nil {
		return nil, errors.KeyResolutionFailedf("token %s: no secret resolver configured", t.ID)
	}
	km, err := t.secretResolver(ctx, t, algorithmURI, usage)
	if err != nil {
		return nil, err
	}
	t.secretCache[algorithmURI] = km
	t.emitAlgorithmUsed(algorithmURI, usage, correlationID, km)
	return km.Private, nil
}

// PublicKeyFor implements the public-key-for(...) operation, the
// public/certificate-bearing counterpart of SecretKeyFor.
func (t *Token) PublicKeyFor(ctx context.Context, algorithmURI string, usage Usage, correlationID string) (crypto.PublicKey, error) {
	if cached, ok := t.publicCache[algorithmURI]; ok {
		return cached.Public, nil
	}
	if !t.guard.CompareAndSwap(false, true) {
		return nil, errors.RecursiveKeyReferencef("token %s: recursive key-fetch for %s", t.ID, algorithmURI)
	}
	defer t.guard.Store(false)

	if t.publicResolver == nil {
		return nil, errors.KeyResolutionFailedf("token %s: no public resolver configured", t.ID)
	}
	km, err := t.publicResolver(ctx, t, algorithmURI, usage)
	if err != nil {
		return nil, err
	}
	t.publicCache[algorithmURI] = km
	t.emitAlgorithmUsed(algorithmURI, usage, correlationID, km)
	return km.Public, nil
}

func (t *Token) emitAlgorithmUsed(algorithmURI string, usage Usage, correlationID string, km KeyMaterial) {
	if t.bus == nil {
		return
	}
	bits := keyLengthBits(km)
	t.bus.Dispatch(secevent.Event{
		Kind:          secevent.AlgorithmUsed,
		CorrelationID: correlationID,
		AlgorithmURI:  algorithmURI,
		Usage:         string(usage),
		KeyLengthBits: bits,
	})
}

// keyLengthBits computes the correctly-measured key length per key
// shape: RSA modulus bit-length, DSA prime P bit-length, EC curve order
// bit-length, or encoded-octet length times eight for symmetric keys.
func keyLengthBits(km KeyMaterial) int {
	if km.Symmetric != nil {
		return len(km.Symmetric) * 8
	}
	switch pub := km.Public.(type) {
	case *rsa.PublicKey:
		return pub.N.BitLen()
	case *dsa.PublicKey:
		return pub.P.BitLen()
	case *ecdsa.PublicKey:
		return pub.Curve.Params().N.BitLen()
	}
	switch priv := km.Private.(type) {
	case *rsa.PrivateKey:
		return priv.N.BitLen()
	case *dsa.PrivateKey:
		return priv.P.BitLen()
	case *ecdsa.PrivateKey:
		return priv.Curve.Params().N.BitLen()
	}
	return 0
}
