package auth

import (
	"errors"
	"fmt"
)

// ErrUnauthenticated is returned when no usable session credential is present
var ErrUnauthenticated = errors.New("unauthenticated")

// ErrBadPayload is returned for webhook bodies that can never be processed
var ErrBadPayload = errors.New("bad webhook payload")

// ErrEmptyPayload is returned for webhook requests without a body
var ErrEmptyPayload = errors.New("empty webhook body")

// ErrProfileNotFound is returned by a ProfileStore when no profile has the email
var ErrProfileNotFound = errors.New("profile not found")

// ErrMagicLinkInvalid covers unknown, mismatched and expired magic links
var ErrMagicLinkInvalid = errors.New("magic link invalid or expired")

// ErrWebhookSignature is returned when a signed webhook does not verify
var ErrWebhookSignature = errors.New("webhook signature mismatch")

// ErrNoEmptyString is returned when hashing an empty value
var ErrNoEmptyString = errors.New("value must not be empty")

// TokenFailure is the reason a credential failed verification
type TokenFailure string

const (
	TokenMalformed         TokenFailure = "malformed"
	TokenSignatureMismatch TokenFailure = "signature_mismatch"
	TokenExpired           TokenFailure = "expired"
)

// TokenError describes a failed credential verification
type TokenError struct {
	Reason TokenFailure
	Err    error
}

func (e *TokenError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("token %s", e.Reason)
	}
	return fmt.Sprintf("token %s: %v", e.Reason, e.Err)
}

func (e *TokenError) Unwrap() error {
	return e.Err
}

// Is lets callers match on ErrUnauthenticated for any token failure
func (e *TokenError) Is(target error) bool {
	return target == ErrUnauthenticated
}

// TokenFailureOf returns the verification failure reason carried by err
func TokenFailureOf(err error) (TokenFailure, bool) {
	var tokenErr *TokenError
	if errors.As(err, &tokenErr) {
		return tokenErr.Reason, true
	}
	return "", false
}

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	reason, ok := TokenFailureOf(err)
	return ok && reason == TokenExpired
}

// IsMalformedError will check for malformed tokens
func IsMalformedError(err error) bool {
	reason, ok := TokenFailureOf(err)
	return ok && reason == TokenMalformed
}

// SigningError is returned when credentials cannot be signed, usually
// because the signing secret is missing. It is fatal at startup.
type SigningError struct {
	Reason string
	Err    error
}

func (e *SigningError) Error() string {
	if e.Err == nil {
		return "signing error: " + e.Reason
	}
	return fmt.Sprintf("signing error: %s: %v", e.Reason, e.Err)
}

func (e *SigningError) Unwrap() error {
	return e.Err
}

// ProvisionError is the only error class surfaced by the Provisioner.
// No partial state was committed when it is returned.
type ProvisionError struct {
	Email string
	Op    string
	Err   error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("provision %s for %s: %v", e.Op, e.Email, e.Err)
}

func (e *ProvisionError) Unwrap() error {
	return e.Err
}

// IsProvisionError reports whether err is a ProvisionError
func IsProvisionError(err error) bool {
	var provisionErr *ProvisionError
	return errors.As(err, &provisionErr)
}
