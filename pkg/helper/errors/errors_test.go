package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindConstructorsWrapTheirSentinel(t *testing.T) {
	tests := []struct {
		err      error
		sentinel error
	}{
		{LimitExceededf("%d refs", 11), ErrLimitExceeded},
		{UnsupportedAlgorithmf("uri %s", "x"), ErrUnsupportedAlgorithm},
		{DigestMismatchf("ref %d", 0), ErrDigestMismatch},
		{SignatureMismatchf("sig"), ErrSignatureMismatch},
		{RecursiveKeyReferencef("tok"), ErrRecursiveKeyReference},
		{ReferenceUnprocessedf("#x"), ErrReferenceUnprocessed},
		{DuplicateReferencef("#x"), ErrDuplicateReference},
		{KeyResolutionFailedf("key"), ErrKeyResolutionFailed},
		{TransformFailuref("chain"), ErrTransformFailure},
		{InvalidSecurityf("manifest"), ErrInvalidSecurity},
		{InvalidConfigurationf("dup"), ErrInvalidConfiguration},
		{MissingRequiredElementf("URI"), ErrMissingRequiredElem},
	}
	for _, tc := range tests {
		assert.True(t, Is(tc.err, tc.sentinel), tc.err.Error())
	}
}

func TestWrapPreservesSentinel(t *testing.T) {
	inner := DigestMismatchf("reference #x")
	outer := Wrap(inner, "verifying signature %s", "sig-1")
	require.Error(t, outer)
	assert.True(t, Is(outer, ErrDigestMismatch))
	assert.Contains(t, outer.Error(), "sig-1")
}

func TestWrapNilIsNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, "context"))
}
