package enckey

import (
	"context"
	"crypto/rsa"
	"crypto/sha1"

	"xmlsecflow/pkg/algorithm"
	"xmlsecflow/pkg/helper/errors"
	"xmlsecflow/pkg/token"
)

// TokenUnwrapper adapts a local *token.Token (an RSA private key held
// in-process) into an Unwrapper, for hosts that don't delegate key
// transport to a cloud KMS. It is the default WrappingTokenResolver
// result when a KeyInfoLocator resolves to key material the process
// itself holds.
type TokenUnwrapper struct {
	Token *token.Token
}

func (u *TokenUnwrapper) IsAsymmetric() bool { return u.Token.Asymmetric }

func (u *TokenUnwrapper) Unwrap(ctx context.Context, methodURI string, oaep OAEPParams, cipherValue []byte, usage token.Usage, correlationID string) ([]byte, error) {
	priv, err := u.Token.PrivateKeyFor(ctx, methodURI, usage, correlationID)
	if err != nil {
		return nil, err
	}
	rsaPriv, ok := priv.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.KeyResolutionFailedf("key-transport algorithm %s requires an RSA private key, got %T", methodURI, priv)
	}
	switch methodURI {
	case algorithm.KeyTransportRSA15:
		return rsa.DecryptPKCS1v15(nil, rsaPriv, cipherValue)
	default:
		// RSA-OAEP variants: decrypts with SHA-1 as both the OAEP digest
		// and the MGF1 hash. oaep.DigestAlgorithmURI and
		// oaep.MGFAlgorithmURI are not consulted; only oaep.PSource is used.
		return rsa.DecryptOAEP(sha1.New(), nil, rsaPriv, cipherValue, oaep.PSource)
	}
}

// KeystoreResolver is a minimal WrappingTokenResolver backed by an
// in-memory map from key name to token, the common case for test
// fixtures and hosts that provision keys out of band rather than via
// cloud KMS.
type KeystoreResolver struct {
	byKeyName map[string]*token.Token
}

// NewKeystoreResolver builds a resolver over the given key-name-to-token
// map. The map is not copied; mutate it directly to add keys.
func NewKeystoreResolver(byKeyName map[string]*token.Token) *KeystoreResolver {
	return &KeystoreResolver{byKeyName: byKeyName}
}

func (r *KeystoreResolver) ResolveWrapping(ctx context.Context, locator KeyInfoLocator) (Unwrapper, error) {
	if locator.KeyName != "" {
		if t, ok := r.byKeyName[locator.KeyName]; ok {
			return &TokenUnwrapper{Token: t}, nil
		}
	}
	if locator.X509SubjectName != "" {
		if t, ok := r.byKeyName[locator.X509SubjectName]; ok {
			return &TokenUnwrapper{Token: t}, nil
		}
	}
	if locator.X509IssuerName != "" && locator.X509SerialNumber != "" {
		key := locator.X509IssuerName + ":" + locator.X509SerialNumber
		if t, ok := r.byKeyName[key]; ok {
			return &TokenUnwrapper{Token: t}, nil
		}
	}
	return nil, errors.NotFoundf("no wrapping token registered for key-info locator %+v", locator)
}
