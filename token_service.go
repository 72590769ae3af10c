package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// MinSigningKeyLength is the shortest HS256 secret we accept
const MinSigningKeyLength = 32

// DefaultTokenTTL is used when the config does not provide one
const DefaultTokenTTL = 7 * 24 * time.Hour

// TokenService signs and verifies HS256 session credentials.
// It holds no mutable state and is safe for concurrent use.
type TokenService struct {
	signingKey []byte
	issuer     string
	ttl        time.Duration
	now        func() time.Time
	logger     Logger
}

var _ Codec = (*TokenService)(nil)

// TokenServiceOption configures a TokenService
type TokenServiceOption func(*TokenService)

// WithClock overrides the time source used for issuance and expiry
func WithClock(now func() time.Time) TokenServiceOption {
	return func(ts *TokenService) {
		if now != nil {
			ts.now = now
		}
	}
}

// WithTokenLogger sets the logger
func WithTokenLogger(logger Logger) TokenServiceOption {
	return func(ts *TokenService) {
		if logger != nil {
			ts.logger = logger
		}
	}
}

// NewTokenService creates a TokenService from cfg. It fails with a
// SigningError when the signing key is missing or too short.
func NewTokenService(cfg TokenConfig, opts ...TokenServiceOption) (*TokenService, error) {
	if cfg == nil {
		return nil, &SigningError{Reason: "token config is required"}
	}

	key := strings.TrimSpace(cfg.GetSigningKey())
	if key == "" {
		return nil, &SigningError{Reason: "signing key is not configured"}
	}

	if len(key) < MinSigningKeyLength {
		return nil, &SigningError{Reason: "signing key must be at least 32 bytes"}
	}

	ttl := cfg.GetTokenTTL()
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	ts := &TokenService{
		signingKey: []byte(key),
		issuer:     cfg.GetIssuer(),
		ttl:        ttl,
		now:        time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(ts)
		}
	}

	ts.logger = normalizeLogger(ts.logger)

	return ts, nil
}

// DefaultTTL returns the credential lifetime used when Issue gets ttl <= 0
func (ts *TokenService) DefaultTTL() time.Duration {
	return ts.ttl
}

// Issue signs claims for subject. Registered claims on the input are replaced.
func (ts *TokenService) Issue(subject string, claims SessionClaims, ttl time.Duration) (string, error) {
	if strings.TrimSpace(subject) == "" {
		return "", &SigningError{Reason: "subject is required"}
	}

	if ttl <= 0 {
		ttl = ts.ttl
	}

	now := ts.now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Issuer:    ts.issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims)

	signed, err := token.SignedString(ts.signingKey)
	if err != nil {
		return "", &SigningError{Reason: "failed to sign token", Err: err}
	}

	return signed, nil
}

// Verify parses raw and returns its claims when the signature matches and
// the credential has not expired. Failures are *TokenError values.
func (ts *TokenService) Verify(raw string) (*SessionClaims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ts.fail(TokenMalformed, errors.New("empty token"))
	}

	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(ts.now),
		jwt.WithExpirationRequired(),
		jwt.WithStrictDecoding(),
	}

	if ts.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.issuer))
	}

	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return ts.signingKey, nil
	}, parserOptions...)

	if err != nil {
		reason := classifyJWTError(err)
		if reason == TokenMalformed && headerAndPayloadDecode(raw) {
			// only the signature segment failed to decode
			reason = TokenSignatureMismatch
		}
		return nil, ts.fail(reason, err)
	}

	if !token.Valid || claims.Subject() == "" {
		return nil, ts.fail(TokenMalformed, errors.New("token has no subject"))
	}

	return claims, nil
}

func (ts *TokenService) fail(reason TokenFailure, err error) error {
	tokenVerifyFailures.WithLabelValues(string(reason)).Inc()
	return &TokenError{Reason: reason, Err: err}
}

func classifyJWTError(err error) TokenFailure {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable):
		return TokenSignatureMismatch
	case errors.Is(err, jwt.ErrTokenExpired):
		return TokenExpired
	default:
		return TokenMalformed
	}
}

func headerAndPayloadDecode(raw string) bool {
	parser := jwt.NewParser(jwt.WithStrictDecoding())
	_, parts, err := parser.ParseUnverified(raw, &SessionClaims{})
	return err == nil && len(parts) == 3
}
