package auth

import (
	"context"
	"time"

	"github.com/goliatone/go-router"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// CookieReader is the subset of router.Context needed to read cookies
type CookieReader interface {
	Cookies(key string, defaultValue ...string) string
}

// CookieWriter is the subset of router.Context needed to set cookies
type CookieWriter interface {
	Cookie(cookie *router.Cookie)
}

// TokenConfig holds the options the token codec is built from
type TokenConfig interface {
	GetSigningKey() string
	GetIssuer() string
	GetTokenTTL() time.Duration
}

// SessionConfig holds the transport level session options
type SessionConfig interface {
	GetCookieSecure() bool
	GetCookieDomain() string
	GetLegacyUntil() time.Time
}

// Issuer mints session credentials
type Issuer interface {
	Issue(subject string, claims SessionClaims, ttl time.Duration) (string, error)
	DefaultTTL() time.Duration
}

// Verifier validates session credentials
type Verifier interface {
	Verify(token string) (*SessionClaims, error)
}

// Codec issues and verifies session credentials
type Codec interface {
	Issuer
	Verifier
}

// ProfileStore is the narrow storage contract the core depends on
type ProfileStore interface {
	UpsertProfile(ctx context.Context, profile *Profile) (bool, *Profile, error)
	GetProfile(ctx context.Context, email string) (*Profile, error)
	UpdateMagicToken(ctx context.Context, email, hash string, expiresAt *time.Time) error
	RecentProfiles(ctx context.Context, sources []string, limit int) ([]*Profile, error)
	SetProfileActive(ctx context.Context, email string, active bool) error
}

// AuditLog records recent provisioning events for operators.
// Implementations must keep at most their capacity, newest first.
type AuditLog interface {
	Append(ctx context.Context, entry AuditEntry) error
	Snapshot(ctx context.Context) ([]AuditEntry, error)
	Clear(ctx context.Context) error
}

// Mailer delivers magic link messages. Delivery is best-effort.
type Mailer interface {
	SendMagicLink(ctx context.Context, msg MagicLinkMessage) error
}
