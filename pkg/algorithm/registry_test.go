package algorithm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xmlsecflow/pkg/helper/errors"
)

func TestLookupKnownURI(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)

	d, err := reg.Lookup(DigestSHA256)
	require.NoError(t, err)
	assert.Equal(t, FamilyDigest, d.Family)
	assert.Equal(t, "SHA-256", d.NativeName)
}

func TestLookupUnknownURIFails(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)

	_, err = reg.Lookup("http://example.org/not-an-algorithm")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUnsupportedAlgorithm))
}

func TestKeyLengthBits(t *testing.T) {
	reg := MustNewRegistry()

	tests := []struct {
		uri  string
		bits int
	}{
		{BlockCipherAES128CBC, 128},
		{BlockCipherAES192CBC, 192},
		{BlockCipherAES256CBC, 256},
	}
	for _, tc := range tests {
		bits, err := reg.KeyLengthBits(tc.uri)
		require.NoError(t, err, tc.uri)
		assert.Equal(t, tc.bits, bits, tc.uri)
	}
}

func TestKeyLengthBitsRejectsNonKeyBearingURI(t *testing.T) {
	reg := MustNewRegistry()
	_, err := reg.KeyLengthBits(CanonC14N10OmitComments)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUnsupportedAlgorithm))
}

func TestRequiredKeyFamily(t *testing.T) {
	reg := MustNewRegistry()
	fam, err := reg.RequiredKeyFamily(BlockCipherAES256CBC)
	require.NoError(t, err)
	assert.Equal(t, "AES-256", fam)
}

func TestDefaultSignatureAlgorithmFor(t *testing.T) {
	tests := []struct {
		kind string
		uri  string
	}{
		{"RSA", SignatureRSASHA1},
		{"DSA", SignatureDSASHA1},
		{"symmetric", HMACSHA1},
	}
	for _, tc := range tests {
		uri, err := DefaultSignatureAlgorithmFor(tc.kind)
		require.NoError(t, err, tc.kind)
		assert.Equal(t, tc.uri, uri, tc.kind)
	}

	_, err := DefaultSignatureAlgorithmFor("Ed448")
	require.Error(t, err)
}
