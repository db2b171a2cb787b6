package digest

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xmlsecflow/pkg/helper/buf"
)

func TestSinkComputesStreamingDigest(t *testing.T) {
	mgr := buf.NewManager()
	s := NewSink(mgr, sha256.New())

	_, err := s.Write([]byte("hello "))
	require.NoError(t, err)
	_, err = s.Write([]byte("world"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	expected := sha256.Sum256([]byte("hello world"))
	assert.Equal(t, expected[:], s.Sum())
}

func TestSinkWriteAfterCloseFails(t *testing.T) {
	s := NewSink(buf.NewManager(), sha256.New())
	require.NoError(t, s.Close())

	_, err := s.Write([]byte("late"))
	require.Error(t, err)
}

func TestSinkCloseIsIdempotent(t *testing.T) {
	s := NewSink(buf.NewManager(), sha256.New())
	_, err := s.Write([]byte("data"))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	sum := s.Sum()
	require.NoError(t, s.Close())
	assert.Equal(t, sum, s.Sum())
}

func TestSinkEqual(t *testing.T) {
	s := NewSink(buf.NewManager(), sha256.New())
	_, err := s.Write([]byte("payload"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	expected := sha256.Sum256([]byte("payload"))
	assert.True(t, s.Equal(expected[:]))

	wrong := sha256.Sum256([]byte("other"))
	assert.False(t, s.Equal(wrong[:]))
	assert.False(t, s.Equal(expected[:15]), "length mismatch must not match")
}

func TestSinkFlushesLargeWrites(t *testing.T) {
	s := NewSink(buf.NewManager(), sha256.New())
	big := make([]byte, flushThreshold*3+17)
	for i := range big {
		big[i] = byte(i)
	}
	for i := 0; i < len(big); i += 100 {
		end := i + 100
		if end > len(big) {
			end = len(big)
		}
		_, err := s.Write(big[i:end])
		require.NoError(t, err)
	}
	require.NoError(t, s.Close())

	expected := sha256.Sum256(big)
	assert.Equal(t, expected[:], s.Sum())
}
