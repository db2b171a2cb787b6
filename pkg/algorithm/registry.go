// Package algorithm provides the URI-to-algorithm mapping consulted
// throughout the streaming security pipeline. It is a read-mostly,
// process-wide table built once at startup; the host constructs
// exactly one Registry and shares it across every document.
package algorithm

import (
	"crypto"
	"fmt"

	"xmlsecflow/pkg/helper/errors"
)

// Family groups an algorithm URI's cryptographic category.
type Family string

const (
	FamilyDigest    Family = "digest"
	FamilyHMAC      Family = "hmac"
	FamilySignature Family = "signature"
	FamilyCipher    Family = "cipher"
	FamilyKeyWrap   Family = "key-wrap"
	FamilyCanon     Family = "canonicalization"
	FamilyTransform Family = "transform"
)

// Descriptor describes one registered algorithm URI.
type Descriptor struct {
	URI              string
	Family           Family
	NativeName       string // e.g. "SHA-256", "AES-256-CBC"
	KeyLengthBits    int    // 0 when not key-bearing (e.g. canonicalization, enveloped-signature)
	ProviderHint     string // e.g. "crypto/sha256", "crypto/aes"
	HashFunc         crypto.Hash
	RequiredKeyGroup string // symbolic name used when generating session keys, e.g. "AES-256"
}

// Well-known XML-DSig / XML-Enc / Exclusive-C14N algorithm URIs.
const (
	DigestSHA1   = "http://www.w3.org/2000/09/xmldsig#sha1"
	DigestSHA256 = "http://www.w3.org/2001/04/xmlenc#sha256"
	DigestSHA512 = "http://www.w3.org/2001/04/xmlenc#sha512"

	HMACSHA1 = "http://www.w3.org/2000/09/xmldsig#hmac-sha1"

	SignatureRSASHA1     = "http://www.w3.org/2000/09/xmldsig#rsa-sha1"
	SignatureRSASHA256   = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"
	SignatureDSASHA1     = "http://www.w3.org/2000/09/xmldsig#dsa-sha1"
	SignatureECDSASHA256 = "http://www.w3.org/2001/04/xmldsig-more#ecdsa-sha256"

	CanonC14N10OmitComments = "http://www.w3.org/TR/2001/REC-xml-c14n-20010315"
	CanonC14N10WithComments = "http://www.w3.org/TR/2001/REC-xml-c14n-20010315#WithComments"
	CanonExclusiveC14N      = "http://www.w3.org/2001/10/xml-exc-c14n#"
	CanonExclusiveC14NComm  = "http://www.w3.org/2001/10/xml-exc-c14n#WithComments"
	CanonC14N11             = "http://www.w3.org/2006/12/xml-c14n11"

	TransformEnveloped = "http://www.w3.org/2000/09/xmldsig#enveloped-signature"

	KeyTransportRSAOAEPMGF1P = "http://www.w3.org/2001/04/xmlenc#rsa-oaep-mgf1p"
	KeyTransportRSAOAEP      = "http://www.w3.org/2009/xmlenc11#rsa-oaep"
	KeyTransportRSA15        = "http://www.w3.org/2001/04/xmlenc#rsa-1_5"

	MGF1SHA1 = "http://www.w3.org/2009/xmlenc11#mgf1sha1"

	BlockCipherAES128CBC = "http://www.w3.org/2001/04/xmlenc#aes128-cbc"
	BlockCipherAES192CBC = "http://www.w3.org/2001/04/xmlenc#aes192-cbc"
	BlockCipherAES256CBC = "http://www.w3.org/2001/04/xmlenc#aes256-cbc"

	ManifestType = "http://www.w3.org/2000/09/xmldsig#Manifest"
)

// Registry is the immutable, process-wide algorithm table.
type Registry struct {
	byURI map[string]Descriptor
}

// NewRegistry builds the registry from the declarative table in this
// package. If the table were ever loaded from configuration instead, a
// failure here is fatal: the system refuses all signing/verification
// per the concurrency model's "process-wide state" rule.
func NewRegistry() (*Registry, error) {
	r := &Registry{byURI: make(map[string]Descriptor, len(builtinTable))}
	for _, d := range builtinTable {
		if _, dup := r.byURI[d.URI]; dup {
			return nil, errors.InvalidConfigurationf("duplicate algorithm URI in registry table: %s", d.URI)
		}
		r.byURI[d.URI] = d
	}
	return r, nil
}

// MustNewRegistry is NewRegistry, panicking on failure. Intended for use
// at process startup where a bad built-in table is a programmer error.
func MustNewRegistry() *Registry {
	r, err := NewRegistry()
	if err != nil {
		panic(err)
	}
	return r
}

// Lookup resolves an algorithm URI to its descriptor.
func (r *Registry) Lookup(uri string) (Descriptor, error) {
	d, ok := r.byURI[uri]
	if !ok {
		return Descriptor{}, errors.UnsupportedAlgorithmf("algorithm not registered: %s", uri)
	}
	return d, nil
}

// KeyLengthBits returns the exact bit length used both for session-key
// generation and for the EncryptedKey handler's timing-mitigation
// padding. Symmetric URIs without a key size are a configuration error.
func (r *Registry) KeyLengthBits(uri string) (int, error) {
	d, err := r.Lookup(uri)
	if err != nil {
		return 0, err
	}
	if d.KeyLengthBits == 0 {
		return 0, errors.UnsupportedAlgorithmf("algorithm %s has no defined key length", uri)
	}
	return d.KeyLengthBits, nil
}

// RequiredKeyFamily returns the symbolic key-generation family (e.g.
// "AES-256") for a symmetric algorithm URI, used when generating
// session keys for encryption.
func (r *Registry) RequiredKeyFamily(uri string) (string, error) {
	d, err := r.Lookup(uri)
	if err != nil {
		return "", err
	}
	if d.RequiredKeyGroup == "" {
		return "", errors.UnsupportedAlgorithmf("algorithm %s has no key-generation family", uri)
	}
	return d.RequiredKeyGroup, nil
}

var builtinTable = []Descriptor{
	{URI: DigestSHA1, Family: FamilyDigest, NativeName: "SHA-1", ProviderHint: "crypto/sha1", HashFunc: crypto.SHA1},
	{URI: DigestSHA256, Family: FamilyDigest, NativeName: "SHA-256", ProviderHint: "crypto/sha256", HashFunc: crypto.SHA256},
	{URI: DigestSHA512, Family: FamilyDigest, NativeName: "SHA-512", ProviderHint: "crypto/sha512", HashFunc: crypto.SHA512},

	{URI: HMACSHA1, Family: FamilyHMAC, NativeName: "HMAC-SHA1", ProviderHint: "crypto/hmac", HashFunc: crypto.SHA1},

	{URI: SignatureRSASHA1, Family: FamilySignature, NativeName: "RSA-SHA1", ProviderHint: "crypto/rsa", HashFunc: crypto.SHA1},
	{URI: SignatureRSASHA256, Family: FamilySignature, NativeName: "RSA-SHA256", ProviderHint: "crypto/rsa", HashFunc: crypto.SHA256},
	{URI: SignatureDSASHA1, Family: FamilySignature, NativeName: "DSA-SHA1", ProviderHint: "crypto/dsa", HashFunc: crypto.SHA1},
	{URI: SignatureECDSASHA256, Family: FamilySignature, NativeName: "ECDSA-SHA256", ProviderHint: "crypto/ecdsa", HashFunc: crypto.SHA256},

	{URI: CanonC14N10OmitComments, Family: FamilyCanon, NativeName: "Canonical-XML-1.0"},
	{URI: CanonC14N10WithComments, Family: FamilyCanon, NativeName: "Canonical-XML-1.0-WithComments"},
	{URI: CanonExclusiveC14N, Family: FamilyCanon, NativeName: "Exclusive-C14N"},
	{URI: CanonExclusiveC14NComm, Family: FamilyCanon, NativeName: "Exclusive-C14N-WithComments"},
	{URI: CanonC14N11, Family: FamilyCanon, NativeName: "Canonical-XML-1.1"},

	{URI: TransformEnveloped, Family: FamilyTransform, NativeName: "enveloped-signature"},

	{URI: KeyTransportRSAOAEPMGF1P, Family: FamilyKeyWrap, NativeName: "RSA-OAEP-MGF1P", ProviderHint: "crypto/rsa"},
	{URI: KeyTransportRSAOAEP, Family: FamilyKeyWrap, NativeName: "RSA-OAEP", ProviderHint: "crypto/rsa"},
	{URI: KeyTransportRSA15, Family: FamilyKeyWrap, NativeName: "RSA-1_5", ProviderHint: "crypto/rsa"},

	{URI: BlockCipherAES128CBC, Family: FamilyCipher, NativeName: "AES-128-CBC", ProviderHint: "crypto/aes", KeyLengthBits: 128, RequiredKeyGroup: "AES-128"},
	{URI: BlockCipherAES192CBC, Family: FamilyCipher, NativeName: "AES-192-CBC", ProviderHint: "crypto/aes", KeyLengthBits: 192, RequiredKeyGroup: "AES-192"},
	{URI: BlockCipherAES256CBC, Family: FamilyCipher, NativeName: "AES-256-CBC", ProviderHint: "crypto/aes", KeyLengthBits: 256, RequiredKeyGroup: "AES-256"},
}

// DefaultSignatureAlgorithmFor returns the default signature URI for a
// key kind, per the outbound SIGN parameter table: RSA -> rsa-sha1,
// DSA -> dsa-sha1, symmetric -> hmac-sha1.
func DefaultSignatureAlgorithmFor(keyKind string) (string, error) {
	switch keyKind {
	case "RSA":
		return SignatureRSASHA1, nil
	case "DSA":
		return SignatureDSASHA1, nil
	case "symmetric":
		return HMACSHA1, nil
	default:
		return "", fmt.Errorf("no default signature algorithm for key kind %q", keyKind)
	}
}
