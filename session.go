package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/goliatone/go-router"
)

// SchemeKind tells the session store how to read a cookie
type SchemeKind int

const (
	// SchemeSigned cookies carry a credential issued by the token codec
	SchemeSigned SchemeKind = iota
	// SchemeIdentity cookies carry a plaintext email from older deployments
	SchemeIdentity
	// SchemeMarker cookies only tell client code a session exists
	SchemeMarker
)

func (k SchemeKind) String() string {
	switch k {
	case SchemeSigned:
		return "signed"
	case SchemeIdentity:
		return "identity"
	case SchemeMarker:
		return "marker"
	default:
		return fmt.Sprintf("scheme(%d)", int(k))
	}
}

// CookieScheme names a cookie and how its value is interpreted
type CookieScheme struct {
	Name string
	Kind SchemeKind
	// ClientReadable leaves HttpOnly off so browser code can see the cookie
	ClientReadable bool
}

// Default cookie names, current first
const (
	SessionCookieName       = "learn_session"
	LegacyServerCookieName  = "learn_auth_server"
	LegacyEmailCookieName   = "learn_auth_email"
	SessionMarkerCookieName = "learn_auth"
)

const markerValue = "1"

// DefaultCookieSchemes returns the cookie layout ordered current to oldest
func DefaultCookieSchemes() []CookieScheme {
	return []CookieScheme{
		{Name: SessionCookieName, Kind: SchemeSigned},
		{Name: LegacyServerCookieName, Kind: SchemeIdentity},
		{Name: LegacyEmailCookieName, Kind: SchemeIdentity},
		{Name: SessionMarkerCookieName, Kind: SchemeMarker, ClientReadable: true},
	}
}

// ResolvedSession is the identity found on a request
type ResolvedSession struct {
	Subject string
	Claims  *SessionClaims
	// Scheme is the cookie name the identity was read from
	Scheme string
	// Legacy is true when the identity came from an unsigned cookie
	Legacy bool
}

// SessionStore reads and writes the session cookies
type SessionStore struct {
	codec       Codec
	schemes     []CookieScheme
	extraNames  []string
	secure      bool
	domain      string
	legacyUntil time.Time
	upgrade     bool
	now         func() time.Time
	logger      Logger
}

// SessionStoreOption configures a SessionStore
type SessionStoreOption func(*SessionStore)

// WithCookieSchemes replaces the default cookie layout
func WithCookieSchemes(schemes ...CookieScheme) SessionStoreOption {
	return func(s *SessionStore) {
		if len(schemes) > 0 {
			s.schemes = append([]CookieScheme(nil), schemes...)
		}
	}
}

// WithExtraCookieNames adds names that Clear expires but nothing reads
func WithExtraCookieNames(names ...string) SessionStoreOption {
	return func(s *SessionStore) {
		s.extraNames = append(s.extraNames, names...)
	}
}

// WithLegacyUpgrade lets Refresh exchange a legacy identity cookie for a
// signed credential. Off by default, legacy cookies are read only.
func WithLegacyUpgrade(enabled bool) SessionStoreOption {
	return func(s *SessionStore) {
		s.upgrade = enabled
	}
}

// WithSessionClock sets the time source
func WithSessionClock(now func() time.Time) SessionStoreOption {
	return func(s *SessionStore) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSessionLogger sets the logger
func WithSessionLogger(logger Logger) SessionStoreOption {
	return func(s *SessionStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSessionStore creates a store that signs with codec
func NewSessionStore(codec Codec, cfg SessionConfig, opts ...SessionStoreOption) *SessionStore {
	s := &SessionStore{
		codec:   codec,
		schemes: DefaultCookieSchemes(),
		secure:  true,
		now:     time.Now,
	}

	if cfg != nil {
		s.secure = cfg.GetCookieSecure()
		s.domain = cfg.GetCookieDomain()
		s.legacyUntil = cfg.GetLegacyUntil()
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	s.logger = normalizeLogger(s.logger)

	return s
}

// Schemes returns the cookie layout in resolution order
func (s *SessionStore) Schemes() []CookieScheme {
	return append([]CookieScheme(nil), s.schemes...)
}

// UpgradesLegacy reports whether legacy identities may be upgraded
func (s *SessionStore) UpgradesLegacy() bool {
	return s.upgrade
}

// Establish issues a credential for subject and writes the session cookies.
// It returns the issued credential.
func (s *SessionStore) Establish(c CookieWriter, subject string, claims SessionClaims) (string, error) {
	ttl := s.codec.DefaultTTL()

	token, err := s.codec.Issue(subject, claims, ttl)
	if err != nil {
		return "", err
	}

	maxAge := int(ttl / time.Second)
	expires := s.now().Add(ttl)

	wroteSigned, wroteIdentity, wroteMarker := false, false, false
	for _, scheme := range s.schemes {
		var value string
		switch scheme.Kind {
		case SchemeSigned:
			if wroteSigned {
				continue
			}
			value, wroteSigned = token, true
		case SchemeIdentity:
			if wroteIdentity || !s.legacyAllowed() {
				continue
			}
			value, wroteIdentity = subject, true
		case SchemeMarker:
			if wroteMarker {
				continue
			}
			value, wroteMarker = markerValue, true
		default:
			continue
		}

		c.Cookie(s.cookie(scheme.Name, value, maxAge, expires, !scheme.ClientReadable))
	}

	return token, nil
}

// Resolve walks the schemes in order and returns the first identity found.
// A signed cookie that is present but invalid ends the walk with
// ErrUnauthenticated, older plaintext cookies are not consulted.
func (s *SessionStore) Resolve(c CookieReader) (*ResolvedSession, error) {
	for _, scheme := range s.schemes {
		value := strings.TrimSpace(c.Cookies(scheme.Name))
		if value == "" {
			continue
		}

		switch scheme.Kind {
		case SchemeSigned:
			claims, err := s.codec.Verify(value)
			if err != nil {
				s.logger.Debug("session credential rejected", "cookie", scheme.Name, "error", err)
				return nil, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
			}
			return &ResolvedSession{
				Subject: claims.Subject(),
				Claims:  claims,
				Scheme:  scheme.Name,
			}, nil

		case SchemeIdentity:
			if !s.legacyAllowed() {
				continue
			}

			email := NormalizeEmail(value)
			if err := validation.Validate(email, validation.Required, is.Email); err != nil {
				s.logger.Warn("ignoring legacy identity cookie", "cookie", scheme.Name, "error", err)
				continue
			}

			return &ResolvedSession{
				Subject: email,
				Scheme:  scheme.Name,
				Legacy:  true,
			}, nil
		}
	}

	return nil, ErrUnauthenticated
}

// Clear expires every cookie the store knows about. Calling it twice
// produces the same cookies.
func (s *SessionStore) Clear(c CookieWriter) {
	expired := time.Unix(0, 0).UTC()
	seen := map[string]bool{}

	write := func(name string, httpOnly bool) {
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		c.Cookie(s.cookie(name, "", -1, expired, httpOnly))
	}

	for _, scheme := range s.schemes {
		write(scheme.Name, !scheme.ClientReadable)
	}

	for _, name := range s.extraNames {
		write(name, true)
	}
}

// SessionContext is what Refresh needs from a request
type SessionContext interface {
	CookieReader
	CookieWriter
}

// Refresh resolves the current session and writes a newly issued credential.
// Legacy identities have no claims, callers pass them through claimsFor.
// They are rejected with ErrUnauthenticated unless WithLegacyUpgrade is set.
func (s *SessionStore) Refresh(c SessionContext, claimsFor func(subject string) (SessionClaims, error)) (*ResolvedSession, error) {
	current, err := s.Resolve(c)
	if err != nil {
		return nil, err
	}

	if current.Legacy && !s.upgrade {
		s.logger.Debug("legacy session upgrade disabled", "cookie", current.Scheme)
		return nil, fmt.Errorf("%w: legacy session upgrade disabled", ErrUnauthenticated)
	}

	var claims SessionClaims
	switch {
	case claimsFor != nil:
		if claims, err = claimsFor(current.Subject); err != nil {
			return nil, err
		}
	case current.Claims != nil:
		claims = *current.Claims
	}

	if _, err := s.Establish(c, current.Subject, claims); err != nil {
		return nil, err
	}

	return s.resolveFresh(current.Subject, claims)
}

func (s *SessionStore) resolveFresh(subject string, claims SessionClaims) (*ResolvedSession, error) {
	if len(s.schemes) == 0 {
		return nil, errors.New("no cookie schemes configured")
	}
	claims.RegisteredClaims.Subject = subject
	return &ResolvedSession{
		Subject: subject,
		Claims:  &claims,
		Scheme:  s.signedName(),
	}, nil
}

func (s *SessionStore) signedName() string {
	for _, scheme := range s.schemes {
		if scheme.Kind == SchemeSigned {
			return scheme.Name
		}
	}
	return ""
}

func (s *SessionStore) legacyAllowed() bool {
	return s.legacyUntil.IsZero() || s.now().Before(s.legacyUntil)
}

func (s *SessionStore) cookie(name, value string, maxAge int, expires time.Time, httpOnly bool) *router.Cookie {
	return &router.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   s.domain,
		MaxAge:   maxAge,
		Expires:  expires,
		Secure:   s.secure,
		HTTPOnly: httpOnly,
		SameSite: "Lax",
	}
}

// NormalizeEmail trims and lowercases an address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
