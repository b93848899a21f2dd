package totp

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RFC 6238 appendix B, SHA1, 8 digits.
func TestRFC6238Vectors(t *testing.T) {
	m := New(Config{Digits: 8})
	secret := []byte("12345678901234567890")

	cases := map[int64]string{
		59:         "94287082",
		1111111109: "07081804",
		1234567890: "89005924",
		2000000000: "69279037",
	}
	for unix, want := range cases {
		got, err := m.Code(secret, time.Unix(unix, 0))
		require.NoError(t, err)
		assert.Equal(t, want, got, "t=%d", unix)
	}
}

func TestVerifyWindow(t *testing.T) {
	m := New(Config{Issuer: "gate", Skew: 1})
	raw, encoded, err := m.GenerateSecret()
	require.NoError(t, err)

	decoded, err := DecodeSecret(encoded)
	require.NoError(t, err)
	assert.Equal(t, raw, decoded)

	now := time.Unix(1_700_000_000, 0)
	code, err := m.Code(raw, now)
	require.NoError(t, err)

	ok, err := m.Verify(raw, code, now.Add(30*time.Second))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.Verify(raw, code, now.Add(5*time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = m.Verify(raw, "12a456", now)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestProvisionURI(t *testing.T) {
	m := New(Config{Issuer: "Gate"})
	uri := m.ProvisionURI("ABC", "t@example.com")
	assert.True(t, strings.HasPrefix(uri, "otpauth://totp/Gate:t@example.com?"))
	assert.Contains(t, uri, "secret=ABC")
	assert.Contains(t, uri, "digits=6")
	assert.Contains(t, uri, "period=30")
}
