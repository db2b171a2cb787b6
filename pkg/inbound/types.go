package inbound

import "xmlsecflow/pkg/canon"

// Reference is a parsed XML-DSig <Reference>: a URI, optional type URI,
// digest algorithm and expected digest bytes, and its declared
// transform chain.
type Reference struct {
	URI                string
	TypeURI            string
	DigestAlgorithmURI string
	DigestValue        []byte
	Transforms         []canon.TransformSpec
}

// SignedInfo is the parsed <SignedInfo>: its References in document
// order (sequence index equals reported reference index), the
// canonicalization algorithm applied to SignedInfo itself, and the
// signature algorithm used over its canonical form.
type SignedInfo struct {
	References                   []Reference
	CanonicalizationAlgorithmURI string
	SignatureAlgorithmURI        string
}

// Limits are the per-invocation secure-processing bounds. Exceeding any
// bound is fatal before any cryptographic work is attempted.
type Limits struct {
	MaxReferencesPerManifest  int
	MaxTransformsPerReference int
	AllowManifests            bool
	AllowExternalReferences   bool
}

// DefaultLimits returns conservative secure-processing defaults:
// manifests and external references both disabled.
func DefaultLimits() Limits {
	return Limits{
		MaxReferencesPerManifest:  10,
		MaxTransformsPerReference: 5,
		AllowManifests:            false,
		AllowExternalReferences:   false,
	}
}
