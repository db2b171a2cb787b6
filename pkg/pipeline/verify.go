package pipeline

import (
	"context"

	"xmlsecflow/pkg/algorithm"
	"xmlsecflow/pkg/outbound"
	"xmlsecflow/pkg/token"
)

// TokenSignatureValueVerifier implements inbound.SignatureValueVerifier
// against one pre-configured verifying token. The caller hands the
// verifying key in directly, the same way a host supplies a decryption
// resolver to BeginInbound, rather than having this engine parse and
// trust an in-band KeyInfo pointer.
type TokenSignatureValueVerifier struct {
	reg   *algorithm.Registry
	token *token.Token
}

// NewTokenSignatureValueVerifier builds a verifier checking
// SignatureValue against verifyingToken's key material.
func NewTokenSignatureValueVerifier(reg *algorithm.Registry, verifyingToken *token.Token) *TokenSignatureValueVerifier {
	return &TokenSignatureValueVerifier{reg: reg, token: verifyingToken}
}

// VerifySignatureValue implements inbound.SignatureValueVerifier,
// dispatching on the signature algorithm's family via the same
// computation outbound uses to produce SignatureValue in the first
// place, so both directions agree on exactly one cryptographic check.
func (v *TokenSignatureValueVerifier) VerifySignatureValue(ctx context.Context, canonicalSignedInfo []byte, signatureAlgorithmURI string, signatureValue []byte) (bool, error) {
	desc, err := v.reg.Lookup(signatureAlgorithmURI)
	if err != nil {
		return false, err
	}

	var secretKey []byte
	var pubKey interface{}
	if desc.Family == algorithm.FamilyHMAC {
		secretKey, err = v.token.SecretKeyFor(ctx, signatureAlgorithmURI, token.UsageSignature, v.token.ID)
	} else {
		pubKey, err = v.token.PublicKeyFor(ctx, signatureAlgorithmURI, token.UsageSignature, v.token.ID)
	}
	if err != nil {
		return false, err
	}

	return outbound.VerifySignatureValue(desc, secretKey, pubKey, canonicalSignedInfo, signatureValue)
}
