package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hsManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		AccessTTL:     time.Hour,
		SigningMethod: MethodHS256,
		PrivateKey:    []byte("test-secret"),
		Issuer:        "gate-test",
	})
	require.NoError(t, err)
	return m
}

func TestMintAndParseRoundTrip(t *testing.T) {
	m := hsManager(t)
	claims := ProviderClaims{
		Email:        "t@example.com",
		AppMetadata:  map[string]any{"role": "teacher", "tenant_id": "school-1"},
		UserMetadata: map[string]any{"role": "admin"},
		AAL:          "aal1",
		AMR:          []AMREntry{{Method: "password", Timestamp: 1}},
		SessionID:    "s1",
	}
	claims.Subject = "user-1"

	token, err := m.Mint(claims)
	require.NoError(t, err)

	parsed, err := m.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", parsed.Subject)
	assert.Equal(t, "teacher", parsed.AppMetadata["role"])
	assert.Equal(t, "aal1", parsed.AAL)
	assert.True(t, parsed.HasMethod("password"))
	assert.False(t, parsed.HasMethod("totp"))
	assert.Equal(t, "gate-test", parsed.Issuer)
}

func TestParseRejectsTamperedAndExpired(t *testing.T) {
	m := hsManager(t)
	token, err := m.Mint(ProviderClaims{Email: "a@b.c"})
	require.NoError(t, err)

	_, err = m.Parse(token + "x")
	assert.ErrorIs(t, err, ErrTokenInvalid)

	other, err := NewManager(Config{AccessTTL: time.Hour, SigningMethod: MethodHS256, PrivateKey: []byte("other")})
	require.NoError(t, err)
	_, err = other.Parse(token)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	m.WithClock(func() time.Time { return time.Now().Add(2 * time.Hour) })
	_, err = m.Parse(token)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestEd25519(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	m, err := NewManager(Config{AccessTTL: time.Minute, SigningMethod: MethodEd25519, PrivateKey: priv, PublicKey: pub})
	require.NoError(t, err)

	token, err := m.Mint(ProviderClaims{AAL: "aal2"})
	require.NoError(t, err)
	parsed, err := m.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "aal2", parsed.AAL)

	verifyOnly, err := NewManager(Config{AccessTTL: time.Minute, SigningMethod: MethodEd25519, PublicKey: pub})
	require.NoError(t, err)
	_, err = verifyOnly.Parse(token)
	require.NoError(t, err)
	_, err = verifyOnly.Mint(ProviderClaims{})
	assert.Error(t, err)
}

func TestDecodeUnverified(t *testing.T) {
	m := hsManager(t)
	token, err := m.Mint(ProviderClaims{AAL: "aal2", AppMetadata: map[string]any{"role": "admin"}})
	require.NoError(t, err)

	claims, err := DecodeUnverified(token)
	require.NoError(t, err)
	assert.Equal(t, "aal2", claims.AAL)

	_, err = DecodeUnverified("not-a-token")
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestNewManagerValidation(t *testing.T) {
	_, err := NewManager(Config{SigningMethod: MethodHS256, PrivateKey: []byte("k")})
	assert.Error(t, err)
	_, err = NewManager(Config{AccessTTL: time.Minute, SigningMethod: MethodHS256})
	assert.Error(t, err)
	_, err = NewManager(Config{AccessTTL: time.Minute, SigningMethod: "rs512"})
	assert.Error(t, err)
	_, err = NewManager(Config{AccessTTL: time.Minute, SigningMethod: MethodEd25519})
	assert.Error(t, err)
}
