package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xmlsecflow/pkg/outbound"
)

func TestDefaultsMatchParameterTable(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "http://www.w3.org/2001/04/xmlenc#rsa-oaep-mgf1p", cfg.Encrypt.KeyTransportURI)
	assert.Equal(t, "http://www.w3.org/2001/04/xmlenc#aes256-cbc", cfg.Encrypt.SymmetricURI)
	assert.Equal(t, "http://www.w3.org/2000/09/xmldsig#sha1", cfg.Sign.DigestAlgorithmURI)
	assert.Equal(t, "http://www.w3.org/2001/10/xml-exc-c14n#", cfg.Sign.CanonicalizationAlgorithmURI)
	assert.Equal(t, "issuer-serial", cfg.Sign.KeyIdentifierType)

	assert.False(t, cfg.Limits.AllowManifests)
	assert.False(t, cfg.Limits.AllowExternalReferences)
	assert.False(t, cfg.Resolver.AllowHTTP)
}

func TestLimitsConversion(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Limits.MaxReferencesPerManifest = 3
	cfg.Limits.AllowManifests = true

	limits := cfg.Limits.ToLimits()
	require.Equal(t, 3, limits.MaxReferencesPerManifest)
	assert.True(t, limits.AllowManifests)
	assert.False(t, limits.AllowExternalReferences)
}

func TestKeyIdentifierMapping(t *testing.T) {
	tests := []struct {
		in   string
		want outbound.KeyIdentifierType
	}{
		{"issuer-serial", outbound.KeyIdentifierX509IssuerSerial},
		{"subject-name", outbound.KeyIdentifierX509SubjectName},
		{"key-name", outbound.KeyIdentifierKeyName},
		{"anything-else", outbound.KeyIdentifierX509IssuerSerial},
	}
	for _, tc := range tests {
		cfg := SignConfig{KeyIdentifierType: tc.in}
		assert.Equal(t, tc.want, cfg.KeyIdentifier(), tc.in)
	}
}
