package auth_test

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	auth "github.com/goliatone/go-learner-auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSigningKey = "0123456789abcdef0123456789abcdef-test"

type tokenConfig struct {
	key    string
	issuer string
	ttl    time.Duration
}

func (c tokenConfig) GetSigningKey() string      { return c.key }
func (c tokenConfig) GetIssuer() string          { return c.issuer }
func (c tokenConfig) GetTokenTTL() time.Duration { return c.ttl }

func newTestTokenService(t *testing.T, now func() time.Time) *auth.TokenService {
	t.Helper()
	ts, err := auth.NewTokenService(
		tokenConfig{key: testSigningKey, issuer: "learnauth-test", ttl: time.Hour},
		auth.WithClock(now),
		auth.WithTokenLogger(&MockLogger{}),
	)
	require.NoError(t, err)
	return ts
}

func TestNewTokenService(t *testing.T) {
	t.Run("rejects a missing signing key", func(t *testing.T) {
		_, err := auth.NewTokenService(tokenConfig{issuer: "x"})
		var signingErr *auth.SigningError
		assert.ErrorAs(t, err, &signingErr)
	})

	t.Run("rejects a short signing key", func(t *testing.T) {
		_, err := auth.NewTokenService(tokenConfig{key: "too-short"})
		var signingErr *auth.SigningError
		assert.ErrorAs(t, err, &signingErr)
	})

	t.Run("falls back to the default ttl", func(t *testing.T) {
		ts, err := auth.NewTokenService(tokenConfig{key: testSigningKey})
		require.NoError(t, err)
		assert.Equal(t, auth.DefaultTokenTTL, ts.DefaultTTL())
	})
}

func TestTokenService_RoundTrip(t *testing.T) {
	ts := newTestTokenService(t, time.Now)

	claims := auth.SessionClaims{
		FirstName:          "Ada",
		LastName:           "Lovelace",
		SubscriptionStatus: auth.SubscriptionActive,
		Tier:               "premium",
		CourseAccess:       []string{"foundations", "advanced"},
		Metadata:           map[string]any{"learning_path": "leader"},
	}

	token, err := ts.Issue("ada@example.com", claims, 0)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	got, err := ts.Verify(token)
	require.NoError(t, err)

	assert.Equal(t, "ada@example.com", got.Subject())
	assert.Equal(t, "Ada", got.FirstName)
	assert.Equal(t, "Lovelace", got.LastName)
	assert.Equal(t, auth.SubscriptionActive, got.SubscriptionStatus)
	assert.Equal(t, "premium", got.Tier)
	assert.Equal(t, []string{"foundations", "advanced"}, got.CourseAccess)
	assert.Equal(t, "leader", got.Metadata["learning_path"])
	assert.Equal(t, "learnauth-test", got.Issuer)
	assert.NotEmpty(t, got.ID)
	assert.WithinDuration(t, got.IssuedAt().Add(time.Hour), got.Expires(), time.Second)
}

func TestTokenService_Issue(t *testing.T) {
	ts := newTestTokenService(t, time.Now)

	t.Run("requires a subject", func(t *testing.T) {
		_, err := ts.Issue("  ", auth.SessionClaims{}, time.Minute)
		var signingErr *auth.SigningError
		assert.ErrorAs(t, err, &signingErr)
	})

	t.Run("explicit ttl wins over the default", func(t *testing.T) {
		token, err := ts.Issue("a@example.com", auth.SessionClaims{}, 5*time.Minute)
		require.NoError(t, err)

		got, err := ts.Verify(token)
		require.NoError(t, err)
		assert.WithinDuration(t, got.IssuedAt().Add(5*time.Minute), got.Expires(), time.Second)
	})

	t.Run("registered claims on input are replaced", func(t *testing.T) {
		in := auth.SessionClaims{}
		in.RegisteredClaims.Subject = "mallory@example.com"
		in.RegisteredClaims.Issuer = "elsewhere"

		token, err := ts.Issue("a@example.com", in, 0)
		require.NoError(t, err)

		got, err := ts.Verify(token)
		require.NoError(t, err)
		assert.Equal(t, "a@example.com", got.Subject())
		assert.Equal(t, "learnauth-test", got.Issuer)
	})
}

func TestTokenService_Expired(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	ts := newTestTokenService(t, func() time.Time { return now })

	token, err := ts.Issue("a@example.com", auth.SessionClaims{}, time.Hour)
	require.NoError(t, err)

	now = now.Add(59 * time.Minute)
	_, err = ts.Verify(token)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = ts.Verify(token)
	require.Error(t, err)

	reason, ok := auth.TokenFailureOf(err)
	require.True(t, ok)
	assert.Equal(t, auth.TokenExpired, reason)
	assert.True(t, auth.IsTokenExpiredError(err))
	assert.ErrorIs(t, err, auth.ErrUnauthenticated)
}

func TestTokenService_TamperedSignature(t *testing.T) {
	ts := newTestTokenService(t, time.Now)

	token, err := ts.Issue("a@example.com", auth.SessionClaims{Tier: "premium"}, time.Hour)
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)

	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"
	sig := parts[2]

	for i := 0; i < len(sig); i++ {
		for _, r := range alphabet + "$" {
			if byte(r) == sig[i] {
				continue
			}

			forged := parts[0] + "." + parts[1] + "." + sig[:i] + string(r) + sig[i+1:]

			_, err := ts.Verify(forged)
			require.Error(t, err, "position %d %q", i, r)

			reason, ok := auth.TokenFailureOf(err)
			require.True(t, ok)
			require.Equal(t, auth.TokenSignatureMismatch, reason, "position %d %q", i, r)
		}
	}
}

func TestTokenService_TamperedSignatureBytes(t *testing.T) {
	ts := newTestTokenService(t, time.Now)

	token, err := ts.Issue("a@example.com", auth.SessionClaims{Tier: "premium"}, time.Hour)
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	require.NoError(t, err)

	for i := range sig {
		tampered := append([]byte(nil), sig...)
		tampered[i] ^= 0x01

		forged := parts[0] + "." + parts[1] + "." + base64.RawURLEncoding.EncodeToString(tampered)

		_, err := ts.Verify(forged)
		reason, ok := auth.TokenFailureOf(err)
		require.True(t, ok)
		assert.Equal(t, auth.TokenSignatureMismatch, reason, "byte %d", i)
	}
}

func TestTokenService_TamperedPayload(t *testing.T) {
	ts := newTestTokenService(t, time.Now)

	token, err := ts.Issue("a@example.com", auth.SessionClaims{Tier: "free"}, time.Hour)
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)

	upgraded := strings.Replace(string(payload), `"tier":"free"`, `"tier":"premium"`, 1)
	require.NotEqual(t, string(payload), upgraded)

	forged := parts[0] + "." + base64.RawURLEncoding.EncodeToString([]byte(upgraded)) + "." + parts[2]

	_, err = ts.Verify(forged)
	reason, ok := auth.TokenFailureOf(err)
	require.True(t, ok)
	assert.Equal(t, auth.TokenSignatureMismatch, reason)
}

func TestTokenService_WrongKeyAndAlgorithm(t *testing.T) {
	ts := newTestTokenService(t, time.Now)

	other, err := auth.NewTokenService(tokenConfig{
		key:    "ffffffffffffffffffffffffffffffff-other",
		issuer: "learnauth-test",
	})
	require.NoError(t, err)

	t.Run("different secret", func(t *testing.T) {
		token, err := other.Issue("a@example.com", auth.SessionClaims{}, time.Hour)
		require.NoError(t, err)

		_, err = ts.Verify(token)
		reason, _ := auth.TokenFailureOf(err)
		assert.Equal(t, auth.TokenSignatureMismatch, reason)
	})

	t.Run("alg none", func(t *testing.T) {
		claims := &auth.SessionClaims{}
		claims.RegisteredClaims = jwt.RegisteredClaims{
			Subject:   "a@example.com",
			Issuer:    "learnauth-test",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).
			SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = ts.Verify(token)
		reason, _ := auth.TokenFailureOf(err)
		assert.Equal(t, auth.TokenSignatureMismatch, reason)
	})

	t.Run("issuer mismatch is malformed", func(t *testing.T) {
		foreign, err := auth.NewTokenService(tokenConfig{key: testSigningKey, issuer: "someone-else"})
		require.NoError(t, err)

		token, err := foreign.Issue("a@example.com", auth.SessionClaims{}, time.Hour)
		require.NoError(t, err)

		_, err = ts.Verify(token)
		assert.True(t, auth.IsMalformedError(err))
	})
}

func TestTokenService_Malformed(t *testing.T) {
	ts := newTestTokenService(t, time.Now)

	cases := []struct {
		name  string
		token string
	}{
		{name: "empty", token: ""},
		{name: "whitespace", token: "   "},
		{name: "garbage", token: "definitely-not-a-token"},
		{name: "two segments", token: "abc.def"},
		{name: "bad base64", token: "a$b.c$d.e$f"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			claims, err := ts.Verify(tc.token)
			assert.Nil(t, claims)
			assert.True(t, auth.IsMalformedError(err), "got %v", err)
			assert.ErrorIs(t, err, auth.ErrUnauthenticated)
		})
	}
}
