package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryResolveMemoizes(t *testing.T) {
	reg := NewRegistry()
	calls := 0
	err := reg.Register("tok-1", func() (*Token, error) {
		calls++
		return New("tok-1", nil, nil), nil
	})
	require.NoError(t, err)

	a, err := reg.Resolve("tok-1")
	require.NoError(t, err)
	b, err := reg.Resolve("tok-1")
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.Equal(t, 1, calls)
}

func TestRegistryResolveUnknownID(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Resolve("missing")
	require.Error(t, err)
}

func TestRegistryRejectsReRegistrationAfterProduced(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("tok-1", func() (*Token, error) {
		return New("tok-1", nil, nil), nil
	}))
	_, err := reg.Resolve("tok-1")
	require.NoError(t, err)

	err = reg.Register("tok-1", func() (*Token, error) {
		return New("tok-1-replacement", nil, nil), nil
	})
	require.Error(t, err)
}

func TestRegistryAllowsReRegistrationBeforeProduced(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("tok-1", func() (*Token, error) {
		return New("first", nil, nil), nil
	}))
	require.NoError(t, reg.Register("tok-1", func() (*Token, error) {
		return New("second", nil, nil), nil
	}))

	got, err := reg.Resolve("tok-1")
	require.NoError(t, err)
	assert.Equal(t, "second", got.ID)
}

func TestRegistryHas(t *testing.T) {
	reg := NewRegistry()
	assert.False(t, reg.Has("tok-1"))
	require.NoError(t, reg.Register("tok-1", func() (*Token, error) { return New("tok-1", nil, nil), nil }))
	assert.True(t, reg.Has("tok-1"))
}
