package inbound

import (
	"context"
	"crypto/sha1"
	"encoding/base64"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xmlsecflow/pkg/algorithm"
	"xmlsecflow/pkg/helper/buf"
	"xmlsecflow/pkg/helper/errors"
	"xmlsecflow/pkg/xmlio"
)

// digestOf computes the expected DigestValue for a subtree whose
// Canonical-XML 1.0 form is known.
func digestOf(canonical string) string {
	sum := sha1.Sum([]byte(canonical))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// drive pulls every event of doc through a chain with a security-header
// handler installed, returning the handler and the first error.
func drive(t *testing.T, doc string, limits Limits) (*SecurityHeaderHandler, error) {
	t.Helper()
	reg := algorithm.MustNewRegistry()
	chain := NewChain(xmlio.NewReader(strings.NewReader(doc)))
	header := NewSecurityHeaderHandler(context.Background(), chain, limits, reg, nil, nil, buf.NewManager(), nil)
	for {
		_, err := chain.Next()
		if err == io.EOF {
			return header, nil
		}
		if err != nil {
			return header, err
		}
	}
}

func signedDoc(references string) string {
	return `<root><data Id="x">hi</data><Signature xmlns="http://www.w3.org/2000/09/xmldsig#"><SignedInfo><CanonicalizationMethod Algorithm="http://www.w3.org/2001/10/xml-exc-c14n#"></CanonicalizationMethod><SignatureMethod Algorithm="http://www.w3.org/2000/09/xmldsig#hmac-sha1"></SignatureMethod>` +
		references +
		`</SignedInfo><SignatureValue>AAAA</SignatureValue></Signature></root>`
}

func reference(uri, typeURI, digestValue string) string {
	type_ := ""
	if typeURI != "" {
		type_ = ` Type="` + typeURI + `"`
	}
	return `<Reference URI="` + uri + `"` + type_ + `><DigestMethod Algorithm="http://www.w3.org/2000/09/xmldsig#sha1"></DigestMethod><DigestValue>` + digestValue + `</DigestValue></Reference>`
}

func TestVerifiesMatchingDigest(t *testing.T) {
	doc := signedDoc(reference("#x", "", digestOf(`<data Id="x">hi</data>`)))

	header, err := drive(t, doc, DefaultLimits())
	require.NoError(t, err)

	verified, statuses, ok := header.LastOutcome()
	require.True(t, ok)
	assert.True(t, verified)
	require.Len(t, statuses, 1)
	assert.Equal(t, "#x", statuses[0].URI)
	assert.True(t, statuses[0].Verified)
}

func TestReportsDigestMismatch(t *testing.T) {
	doc := signedDoc(reference("#x", "", digestOf(`<data Id="x">tampered</data>`)))

	header, err := drive(t, doc, DefaultLimits())
	require.NoError(t, err)

	verified, statuses, ok := header.LastOutcome()
	require.True(t, ok)
	assert.False(t, verified)
	require.Len(t, statuses, 1)
	assert.False(t, statuses[0].Verified)
}

func TestRejectsManifestReferenceWhenDisallowed(t *testing.T) {
	doc := signedDoc(reference("#x", algorithm.ManifestType, "AAAA"))

	header, err := drive(t, doc, DefaultLimits())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidSecurity))

	_, _, ok := header.LastOutcome()
	assert.False(t, ok, "no digest may be computed before the manifest rejection")
}

func TestAllowsManifestReferenceWhenConfigured(t *testing.T) {
	doc := signedDoc(reference("#x", algorithm.ManifestType, digestOf(`<data Id="x">hi</data>`)))

	limits := DefaultLimits()
	limits.AllowManifests = true
	header, err := drive(t, doc, limits)
	require.NoError(t, err)

	verified, _, ok := header.LastOutcome()
	require.True(t, ok)
	assert.True(t, verified)
}

func TestRejectsDuplicateIDElementBeforeSignature(t *testing.T) {
	// Two distinct elements carry Id="x" ahead of the signature; the
	// reference must not silently bind to the first one.
	doc := `<root><data Id="x">hi</data><data Id="x">again</data><Signature xmlns="http://www.w3.org/2000/09/xmldsig#"><SignedInfo><CanonicalizationMethod Algorithm="http://www.w3.org/2001/10/xml-exc-c14n#"></CanonicalizationMethod><SignatureMethod Algorithm="http://www.w3.org/2000/09/xmldsig#hmac-sha1"></SignatureMethod>` +
		reference("#x", "", digestOf(`<data Id="x">hi</data>`)) +
		`</SignedInfo><SignatureValue>AAAA</SignatureValue></Signature></root>`

	_, err := drive(t, doc, DefaultLimits())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDuplicateReference))
}

func TestRejectsDuplicateIDElementAfterSignature(t *testing.T) {
	// The second Id="x" carrier streams by after the verifier already
	// fired; the live match path must catch it too.
	doc := `<root><data Id="x">hi</data><Signature xmlns="http://www.w3.org/2000/09/xmldsig#"><SignedInfo><CanonicalizationMethod Algorithm="http://www.w3.org/2001/10/xml-exc-c14n#"></CanonicalizationMethod><SignatureMethod Algorithm="http://www.w3.org/2000/09/xmldsig#hmac-sha1"></SignatureMethod>` +
		reference("#x", "", digestOf(`<data Id="x">hi</data>`)) +
		`</SignedInfo><SignatureValue>AAAA</SignatureValue></Signature><data Id="x">again</data></root>`

	_, err := drive(t, doc, DefaultLimits())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDuplicateReference))
}

func TestRejectsDuplicateReference(t *testing.T) {
	doc := signedDoc(
		reference("#x", "", "AAAA") + reference("#x", "", "AAAA"))

	_, err := drive(t, doc, DefaultLimits())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDuplicateReference))
}

func TestRejectsReferenceCountOverLimit(t *testing.T) {
	doc := signedDoc(
		reference("#x", "", "AAAA") + reference("#y", "", "AAAA"))

	limits := DefaultLimits()
	limits.MaxReferencesPerManifest = 1
	header, err := drive(t, doc, limits)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrLimitExceeded))

	_, _, ok := header.LastOutcome()
	assert.False(t, ok, "no digest may be computed once the reference limit is exceeded")
}

func TestRejectsTransformCountOverLimit(t *testing.T) {
	ref := `<Reference URI="#x"><Transforms>` +
		`<Transform Algorithm="http://www.w3.org/2000/09/xmldsig#enveloped-signature"></Transform>` +
		`<Transform Algorithm="http://www.w3.org/2001/10/xml-exc-c14n#"></Transform>` +
		`</Transforms><DigestMethod Algorithm="http://www.w3.org/2000/09/xmldsig#sha1"></DigestMethod><DigestValue>AAAA</DigestValue></Reference>`
	doc := signedDoc(ref)

	limits := DefaultLimits()
	limits.MaxTransformsPerReference = 1
	_, err := drive(t, doc, limits)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrLimitExceeded))
}

func TestRejectsExternalReferenceWhenDisallowed(t *testing.T) {
	doc := signedDoc(reference("http://example/", "", "AAAA"))

	_, err := drive(t, doc, DefaultLimits())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidSecurity))
}

func TestFailsUnmatchedSameDocumentReference(t *testing.T) {
	doc := signedDoc(reference("#missing", "", "AAAA"))

	_, err := drive(t, doc, DefaultLimits())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrReferenceUnprocessed))
}

func TestFailsForwardReferenceAfterSignature(t *testing.T) {
	// The signed element streams by only after the Signature element has
	// closed; the reference is still pending at </Signature> and fails
	// as unprocessed rather than being matched later.
	doc := `<root><Signature xmlns="http://www.w3.org/2000/09/xmldsig#"><SignedInfo><CanonicalizationMethod Algorithm="http://www.w3.org/2001/10/xml-exc-c14n#"></CanonicalizationMethod><SignatureMethod Algorithm="http://www.w3.org/2000/09/xmldsig#hmac-sha1"></SignatureMethod>` +
		reference("#x", "", digestOf(`<data Id="x">hi</data>`)) +
		`</SignedInfo><SignatureValue>AAAA</SignatureValue></Signature><data Id="x">hi</data></root>`

	_, err := drive(t, doc, DefaultLimits())
	require.Error(t, err, "a reference still pending at </Signature> is unprocessed")
	assert.True(t, errors.Is(err, errors.ErrReferenceUnprocessed))
}

func TestVerifiesEnvelopedSignature(t *testing.T) {
	// An enveloped signature: the reference targets the root element
	// containing the Signature itself, relying on the enveloped-signature
	// transform (plus the implicit trailing c14n) to drop the Signature
	// subtree from the digested bytes.
	canonical := `<doc Id="d"><v>7</v></doc>`
	doc := `<doc Id="d"><v>7</v><Signature xmlns="http://www.w3.org/2000/09/xmldsig#"><SignedInfo><CanonicalizationMethod Algorithm="http://www.w3.org/2001/10/xml-exc-c14n#"></CanonicalizationMethod><SignatureMethod Algorithm="http://www.w3.org/2000/09/xmldsig#hmac-sha1"></SignatureMethod>` +
		`<Reference URI="#d"><Transforms><Transform Algorithm="http://www.w3.org/2000/09/xmldsig#enveloped-signature"></Transform></Transforms><DigestMethod Algorithm="http://www.w3.org/2000/09/xmldsig#sha1"></DigestMethod><DigestValue>` + digestOf(canonical) + `</DigestValue></Reference>` +
		`</SignedInfo><SignatureValue>AAAA</SignatureValue></Signature></doc>`

	header, err := drive(t, doc, DefaultLimits())
	require.NoError(t, err)

	verified, statuses, ok := header.LastOutcome()
	require.True(t, ok)
	assert.True(t, verified, "enveloped-signature must digest the document minus its Signature")
	require.Len(t, statuses, 1)
	assert.True(t, statuses[0].Verified)
}
