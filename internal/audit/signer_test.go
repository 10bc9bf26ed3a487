package audit

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSigner_SignAndVerify(t *testing.T) {
	s, err := NewSigner(strings.Repeat("k", 32))
	require.NoError(t, err)

	sig, err := s.Sign([]byte("payload"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sig, "hmac-sha256:"))

	assert.True(t, s.Verify([]byte("payload"), sig))
	assert.False(t, s.Verify([]byte("tampered"), sig))
}

func TestSigner_HexKey(t *testing.T) {
	hexKey := strings.Repeat("ab", 32) // 64 hex chars, 32 bytes decoded
	s, err := NewSigner(hexKey)
	require.NoError(t, err)

	sig, err := s.Sign([]byte("data"))
	require.NoError(t, err)
	assert.True(t, s.Verify([]byte("data"), sig))
}

func TestSigner_RejectsShortKeys(t *testing.T) {
	_, err := NewSigner("too-short")
	assert.Error(t, err)

	_, err = NewSigner(strings.Repeat("a", 31))
	assert.Error(t, err)
}

func TestSigner_DifferentKeysDiffer(t *testing.T) {
	s1, err := NewSigner(strings.Repeat("a", 32))
	require.NoError(t, err)
	s2, err := NewSigner(strings.Repeat("b", 32))
	require.NoError(t, err)

	sig, err := s1.Sign([]byte("data"))
	require.NoError(t, err)
	assert.False(t, s2.Verify([]byte("data"), sig))
}