// Package enckey implements the EncryptedKey handler: on
// encountering an <EncryptedKey> element, it registers a token provider
// that, on first key request, resolves the wrapping token, attempts to
// unwrap the session key, and — critically — never lets an unwrap
// failure propagate as a distinguishable error. Any exception during
// unwrap is replaced with a plausible-length random key, so a
// Bleichenbacher-style oracle can't read "unwrap failed" off the
// pipeline's error behavior before the downstream cipher integrity
// check (which will fail naturally) is even reached.
package enckey

import (
	"context"
	"crypto/rand"
	"io"

	"xmlsecflow/pkg/algorithm"
	"xmlsecflow/pkg/helper/errors"
	"xmlsecflow/pkg/helper/log"
	"xmlsecflow/pkg/secevent"
	"xmlsecflow/pkg/token"
)

// KeyInfoLocator is the opaque sub-record describing how an
// <EncryptedKey>'s KeyInfo identifies its wrapping token: by key name,
// by X.509 issuer+serial, by X.509 subject key identifier, or by X.509
// subject name. Resolution against a keystore/callback is delegated
// entirely to a WrappingTokenResolver; this component never looks a
// key up itself.
type KeyInfoLocator struct {
	KeyName          string
	X509IssuerName   string
	X509SerialNumber string
	X509SKI          []byte
	X509SubjectName  string
}

// OAEPParams is the RSA-OAEP parameter set read from an
// EncryptionMethod element: digest method (default SHA-1 when absent),
// MGF (default MGF1-SHA-1 when absent), and an optional P-source value.
type OAEPParams struct {
	DigestAlgorithmURI string
	MGFAlgorithmURI    string
	PSource            []byte
}

// DefaultOAEPParams fills in the two defaults used when an
// EncryptionMethod child is absent.
func DefaultOAEPParams() OAEPParams {
	return OAEPParams{
		DigestAlgorithmURI: algorithm.DigestSHA1,
		MGFAlgorithmURI:    algorithm.MGF1SHA1,
	}
}

// EncryptedKeyRecord is the parsed <EncryptedKey>: id, transport
// algorithm, the opaque KeyInfo locator used to find the wrapping
// token, the cipher-value bytes, OAEP parameters (meaningful only for
// RSA-OAEP variants), and an optional propagation reference list.
type EncryptedKeyRecord struct {
	ID                  string
	EncryptionMethodURI string
	KeyInfo             KeyInfoLocator
	CipherValue         []byte
	OAEP                OAEPParams
	ReferenceList       []string
}

// Unwrapper performs the actual decrypt of a wrapped session key,
// whatever holds the unwrapping key material: a local *token.Token
// (see TokenUnwrapper) or a cloud KMS client (see enckey/kmsresolver).
type Unwrapper interface {
	// IsAsymmetric reports whether the wrapping key is asymmetric,
	// selecting which usage (symmetric- vs asymmetric-key-wrap)
	// propagates to it.
	IsAsymmetric() bool
	// Unwrap decrypts cipherValue under the named key-transport
	// algorithm and OAEP parameters (ignored for non-OAEP transports),
	// returning the plaintext session key. usage is whichever of
	// UsageSymmetricKeyWrap/UsageAsymmetricKeyWrap matches
	// IsAsymmetric, passed through so a *token.Token-backed Unwrapper
	// can tag its own usage bookkeeping.
	Unwrap(ctx context.Context, methodURI string, oaep OAEPParams, cipherValue []byte, usage token.Usage, correlationID string) ([]byte, error)
}

// WrappingTokenResolver walks the configured key-identifier types to
// locate the Unwrapper backing an <EncryptedKey>'s KeyInfo. Resolution
// strategy (keystore lookup, callback prompt, cloud KMS alias mapping)
// is entirely the host's concern; this package only calls it.
type WrappingTokenResolver interface {
	ResolveWrapping(ctx context.Context, locator KeyInfoLocator) (Unwrapper, error)
}

// Handler registers and resolves EncryptedKey-backed session keys.
type Handler struct {
	reg      *algorithm.Registry
	bus      *secevent.Bus
	resolver WrappingTokenResolver
	logger   log.Logger
}

// NewHandler builds the handler. logger may be nil, in which case a
// basic stdout logger is used so the timing-mitigation warning is
// never silently dropped.
func NewHandler(reg *algorithm.Registry, bus *secevent.Bus, resolver WrappingTokenResolver, logger log.Logger) *Handler {
	if logger == nil {
		logger = log.NewBasicLogger(log.WarnLevel)
	}
	return &Handler{reg: reg, bus: bus, resolver: resolver, logger: logger}
}

// Register installs a token provider for rec.ID into providers. The
// provider builds its token lazily, matching the provider registry's
// lazy-factory contract.
func (h *Handler) Register(providers *token.Registry, rec EncryptedKeyRecord) error {
	return providers.Register(rec.ID, func() (*token.Token, error) {
		t := token.New(rec.ID, h.reg, h.bus)
		t.Kind = token.KindEncryptedKey
		t.SetSecretResolver(h.buildResolver(rec))
		return t, nil
	})
}

// buildResolver returns the lazy SecretResolver installed on the
// EncryptedKey token. The symmetric algorithm URI it receives at call
// time is whatever the downstream cipher needs — it is NOT the
// transport/wrap algorithm, which comes from rec.EncryptionMethodURI.
func (h *Handler) buildResolver(rec EncryptedKeyRecord) token.SecretResolver {
	return func(ctx context.Context, _ *token.Token, symmetricAlgorithmURI string, usage token.Usage) (token.KeyMaterial, error) {
		key, err := h.attemptUnwrap(ctx, rec)
		if err == nil {
			return token.KeyMaterial{Symmetric: key}, nil
		}

		bits, lerr := h.reg.KeyLengthBits(symmetricAlgorithmURI)
		if lerr != nil {
			// An unsupported symmetric algorithm is a real
			// configuration error, not an unwrap-timing concern — the
			// mitigation only hides whether unwrap itself succeeded.
			return token.KeyMaterial{}, lerr
		}

		h.logger.WithField("encrypted_key_id", rec.ID).WithError(err).Warn("EncryptedKey unwrap failed; synthesizing a random session key")
		random := make([]byte, bits/8)
		if _, rerr := io.ReadFull(rand.Reader, random); rerr != nil {
			return token.KeyMaterial{}, errors.Wrap(rerr, "failed to generate replacement session key")
		}
		return token.KeyMaterial{Symmetric: random}, nil
	}
}

// attemptUnwrap resolves the wrapping token, chooses the usage, and
// attempts the unwrap. Any failure at any of these steps is reported
// uniformly to the caller, which treats all of them identically.
func (h *Handler) attemptUnwrap(ctx context.Context, rec EncryptedKeyRecord) ([]byte, error) {
	unwrapper, err := h.resolver.ResolveWrapping(ctx, rec.KeyInfo)
	if err != nil {
		return nil, errors.KeyResolutionFailedf("resolving wrapping token for EncryptedKey %s: %v", rec.ID, err)
	}

	usage := token.UsageSymmetricKeyWrap
	if unwrapper.IsAsymmetric() {
		usage = token.UsageAsymmetricKeyWrap
	}

	oaep := rec.OAEP
	if oaep.DigestAlgorithmURI == "" {
		oaep.DigestAlgorithmURI = algorithm.DigestSHA1
	}
	if oaep.MGFAlgorithmURI == "" {
		oaep.MGFAlgorithmURI = algorithm.MGF1SHA1
	}

	return unwrapper.Unwrap(ctx, rec.EncryptionMethodURI, oaep, rec.CipherValue, usage, rec.ID)
}
