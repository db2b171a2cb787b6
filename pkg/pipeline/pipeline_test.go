package pipeline

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xmlsecflow/pkg/algorithm"
	"xmlsecflow/pkg/enckey"
	"xmlsecflow/pkg/inbound"
	"xmlsecflow/pkg/metrics"
	"xmlsecflow/pkg/outbound"
	"xmlsecflow/pkg/token"
	"xmlsecflow/pkg/xmlevent"
	"xmlsecflow/pkg/xmlio"
)

func matchID(id string) func(xmlevent.Event) bool {
	return func(ev xmlevent.Event) bool {
		if ev.Kind != xmlevent.StartElement {
			return false
		}
		got, ok := ev.ID()
		return ok && got == id
	}
}

func feed(t *testing.T, w *Writer, doc string) {
	t.Helper()
	r := xmlio.NewReader(strings.NewReader(doc))
	for {
		ev, err := r.Next()
		if err == io.EOF {
			require.NoError(t, w.Close())
			return
		}
		require.NoError(t, err)
		require.NoError(t, w.Write(ev))
	}
}

func drain(t *testing.T, r *Reader) string {
	t.Helper()
	var out bytes.Buffer
	w := xmlio.NewWriter(&out)
	for {
		ev, err := r.Next()
		if err == io.EOF {
			require.NoError(t, w.Close())
			return out.String()
		}
		require.NoError(t, err)
		require.NoError(t, w.Write(ev))
	}
}

func newSymmetricToken(t *testing.T, doc *DocumentContext, id string, secret []byte) *token.Token {
	t.Helper()
	tok := token.New(id, doc.Registry, doc.Bus)
	tok.Kind = token.KindSymmetric
	tok.SetSecretResolver(func(context.Context, *token.Token, string, token.Usage) (token.KeyMaterial, error) {
		return token.KeyMaterial{Symmetric: secret}, nil
	})
	return tok
}

func TestSignThenVerifyRoundTripHMAC(t *testing.T) {
	reg := algorithm.MustNewRegistry()
	secret := []byte("0123456789abcdef0123456789abcdef")
	ctx := context.Background()

	signDoc := NewDocumentContext(reg, nil)
	var signed bytes.Buffer
	w := BeginOutbound(ctx, signDoc, &signed, &SignOptions{
		Match: matchID("x"),
		Params: outbound.SignParams{
			SignatureAlgorithmURI:        algorithm.HMACSHA1,
			DigestAlgorithmURI:           algorithm.DigestSHA1,
			CanonicalizationAlgorithmURI: algorithm.CanonExclusiveC14N,
			KeyIdentifierType:            outbound.KeyIdentifierKeyName,
		},
		Signer: newSymmetricToken(t, signDoc, "hmac-key", secret),
	}, nil)
	feed(t, w, `<root><data Id="x">hello</data></root>`)

	require.Contains(t, signed.String(), "<Signature")
	require.Contains(t, signed.String(), "SignatureValue")

	verifyDoc := NewDocumentContext(reg, nil)
	r := BeginInbound(ctx, verifyDoc, bytes.NewReader(signed.Bytes()), VerifyOptions{
		Limits:         inbound.DefaultLimits(),
		VerifyingToken: newSymmetricToken(t, verifyDoc, "hmac-key", secret),
	})
	drain(t, r)

	verified, statuses, ok := r.LastOutcome()
	require.True(t, ok, "a Signature must have been processed")
	assert.True(t, verified)
	require.Len(t, statuses, 1)
	assert.Equal(t, "#x", statuses[0].URI)
	assert.True(t, statuses[0].Verified)
}

func TestSignThenVerifyRoundTripRSA(t *testing.T) {
	reg := algorithm.MustNewRegistry()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	ctx := context.Background()

	signDoc := NewDocumentContext(reg, nil)
	signer := token.New("rsa-signer", signDoc.Registry, signDoc.Bus)
	signer.Kind = token.KindX509
	signer.Asymmetric = true
	signer.SetSecretResolver(func(context.Context, *token.Token, string, token.Usage) (token.KeyMaterial, error) {
		return token.KeyMaterial{Private: priv}, nil
	})

	var signed bytes.Buffer
	w := BeginOutbound(ctx, signDoc, &signed, &SignOptions{
		Match: matchID("x"),
		Params: outbound.SignParams{
			SignatureAlgorithmURI:        algorithm.SignatureRSASHA256,
			DigestAlgorithmURI:           algorithm.DigestSHA256,
			CanonicalizationAlgorithmURI: algorithm.CanonExclusiveC14N,
			KeyIdentifierType:            outbound.KeyIdentifierKeyName,
		},
		Signer: signer,
	}, nil)
	feed(t, w, `<root><data Id="x">payload</data></root>`)

	verifyDoc := NewDocumentContext(reg, nil)
	verifying := token.New("rsa-verifier", verifyDoc.Registry, verifyDoc.Bus)
	verifying.Kind = token.KindX509
	verifying.Asymmetric = true
	verifying.SetPublicResolver(func(context.Context, *token.Token, string, token.Usage) (token.KeyMaterial, error) {
		return token.KeyMaterial{Public: &priv.PublicKey}, nil
	})

	r := BeginInbound(ctx, verifyDoc, bytes.NewReader(signed.Bytes()), VerifyOptions{
		Limits:         inbound.DefaultLimits(),
		VerifyingToken: verifying,
	})
	drain(t, r)

	verified, statuses, ok := r.LastOutcome()
	require.True(t, ok)
	assert.True(t, verified)
	require.Len(t, statuses, 1)
}

func TestMetricsRegistryReceivesBusEvents(t *testing.T) {
	reg := algorithm.MustNewRegistry()
	secret := []byte("0123456789abcdef0123456789abcdef")
	ctx := context.Background()

	signDoc := NewDocumentContext(reg, nil)
	var signed bytes.Buffer
	w := BeginOutbound(ctx, signDoc, &signed, &SignOptions{
		Match: matchID("x"),
		Params: outbound.SignParams{
			SignatureAlgorithmURI:        algorithm.HMACSHA1,
			DigestAlgorithmURI:           algorithm.DigestSHA1,
			CanonicalizationAlgorithmURI: algorithm.CanonExclusiveC14N,
			KeyIdentifierType:            outbound.KeyIdentifierKeyName,
		},
		Signer: newSymmetricToken(t, signDoc, "hmac-key", secret),
	}, nil)
	feed(t, w, `<root><data Id="x">hello</data></root>`)

	m := metrics.NewRegistry()
	verifyDoc := NewDocumentContext(reg, nil)
	verifyDoc.Metrics = m
	r := BeginInbound(ctx, verifyDoc, bytes.NewReader(signed.Bytes()), VerifyOptions{
		Limits:         inbound.DefaultLimits(),
		VerifyingToken: newSymmetricToken(t, verifyDoc, "hmac-key", secret),
	})
	drain(t, r)

	verified, _, ok := r.LastOutcome()
	require.True(t, ok)
	require.True(t, verified)

	families, err := m.GetRegistry().Gather()
	require.NoError(t, err)
	got := map[string]bool{}
	for _, fam := range families {
		for _, metric := range fam.GetMetric() {
			if c := metric.GetCounter(); c != nil && c.GetValue() > 0 {
				got[fam.GetName()] = true
			}
		}
	}
	assert.True(t, got["xmlsecflow_verification_outcomes_total"],
		"the verification outcome must land in the shared Prometheus registry")
	assert.True(t, got["xmlsecflow_algorithm_used_total"],
		"algorithm-used events must land in the shared Prometheus registry")
}

func TestTamperedDocumentFailsVerification(t *testing.T) {
	reg := algorithm.MustNewRegistry()
	secret := []byte("0123456789abcdef0123456789abcdef")
	ctx := context.Background()

	signDoc := NewDocumentContext(reg, nil)
	var signed bytes.Buffer
	w := BeginOutbound(ctx, signDoc, &signed, &SignOptions{
		Match: matchID("x"),
		Params: outbound.SignParams{
			SignatureAlgorithmURI:        algorithm.HMACSHA1,
			DigestAlgorithmURI:           algorithm.DigestSHA1,
			CanonicalizationAlgorithmURI: algorithm.CanonExclusiveC14N,
			KeyIdentifierType:            outbound.KeyIdentifierKeyName,
		},
		Signer: newSymmetricToken(t, signDoc, "hmac-key", secret),
	}, nil)
	feed(t, w, `<root><data Id="x">hello</data></root>`)

	tampered := strings.Replace(signed.String(), ">hello<", ">HELLO<", 1)

	verifyDoc := NewDocumentContext(reg, nil)
	r := BeginInbound(ctx, verifyDoc, strings.NewReader(tampered), VerifyOptions{
		Limits:         inbound.DefaultLimits(),
		VerifyingToken: newSymmetricToken(t, verifyDoc, "hmac-key", secret),
	})
	drain(t, r)

	verified, statuses, ok := r.LastOutcome()
	require.True(t, ok)
	assert.False(t, verified)
	require.Len(t, statuses, 1)
	assert.False(t, statuses[0].Verified)
}

func TestEncryptThenDecryptRoundTrip(t *testing.T) {
	reg := algorithm.MustNewRegistry()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	ctx := context.Background()

	encDoc := NewDocumentContext(reg, nil)
	transport := token.New("transport", encDoc.Registry, encDoc.Bus)
	transport.Kind = token.KindX509
	transport.Asymmetric = true
	transport.SetPublicResolver(func(context.Context, *token.Token, string, token.Usage) (token.KeyMaterial, error) {
		return token.KeyMaterial{Public: &priv.PublicKey}, nil
	})

	var encrypted bytes.Buffer
	w := BeginOutbound(ctx, encDoc, &encrypted, nil, &EncryptOptions{
		Match:     matchID("s"),
		Params:    outbound.EncryptParams{},
		Transport: transport,
	})
	feed(t, w, `<root><secret Id="s">top secret</secret></root>`)

	require.Contains(t, encrypted.String(), "EncryptedData")
	assert.NotContains(t, encrypted.String(), "top secret", "plaintext must not survive encryption")

	decDoc := NewDocumentContext(reg, nil)
	unwrapToken := token.New("transport", decDoc.Registry, decDoc.Bus)
	unwrapToken.Kind = token.KindX509
	unwrapToken.Asymmetric = true
	unwrapToken.SetSecretResolver(func(context.Context, *token.Token, string, token.Usage) (token.KeyMaterial, error) {
		return token.KeyMaterial{Private: priv}, nil
	})

	r := BeginInbound(ctx, decDoc, bytes.NewReader(encrypted.Bytes()), VerifyOptions{
		Limits:             inbound.DefaultLimits(),
		DecryptionResolver: enckey.NewKeystoreResolver(map[string]*token.Token{"transport": unwrapToken}),
	})
	plaintext := drain(t, r)

	assert.Equal(t, `<root><secret Id="s">top secret</secret></root>`, plaintext)
}

func TestDecryptWithWrongKeyFailsAtCipherIntegrity(t *testing.T) {
	reg := algorithm.MustNewRegistry()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	wrongPriv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	ctx := context.Background()

	encDoc := NewDocumentContext(reg, nil)
	transport := token.New("transport", encDoc.Registry, encDoc.Bus)
	transport.Kind = token.KindX509
	transport.Asymmetric = true
	transport.SetPublicResolver(func(context.Context, *token.Token, string, token.Usage) (token.KeyMaterial, error) {
		return token.KeyMaterial{Public: &priv.PublicKey}, nil
	})

	var encrypted bytes.Buffer
	w := BeginOutbound(ctx, encDoc, &encrypted, nil, &EncryptOptions{
		Match:     matchID("s"),
		Params:    outbound.EncryptParams{},
		Transport: transport,
	})
	feed(t, w, `<root><secret Id="s">top secret</secret></root>`)

	decDoc := NewDocumentContext(reg, nil)
	unwrapToken := token.New("transport", decDoc.Registry, decDoc.Bus)
	unwrapToken.Kind = token.KindX509
	unwrapToken.Asymmetric = true
	unwrapToken.SetSecretResolver(func(context.Context, *token.Token, string, token.Usage) (token.KeyMaterial, error) {
		return token.KeyMaterial{Private: wrongPriv}, nil
	})

	r := BeginInbound(ctx, decDoc, bytes.NewReader(encrypted.Bytes()), VerifyOptions{
		Limits:             inbound.DefaultLimits(),
		DecryptionResolver: enckey.NewKeystoreResolver(map[string]*token.Token{"transport": unwrapToken}),
	})

	// The mitigated unwrap hands back a random session key, so the
	// failure surfaces downstream: normally as a padding/parse error,
	// occasionally as syntactically valid garbage. Either way the
	// plaintext must not be recovered and no unwrap error may leak.
	var out bytes.Buffer
	ow := xmlio.NewWriter(&out)
	var lastErr error
	for {
		ev, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			lastErr = err
			break
		}
		require.NoError(t, ow.Write(ev))
	}
	if lastErr != nil {
		assert.NotContains(t, lastErr.Error(), "unwrap", "the error must not reveal that the unwrap itself failed")
	}
	assert.NotContains(t, out.String(), "top secret")
}
