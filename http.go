package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/goliatone/go-router"
)

// SessionLocalsKey is where guards store the resolved session
const SessionLocalsKey = "learn_session"

// statusForError maps package errors to HTTP status codes
func statusForError(err error) int {
	var provisionErr *ProvisionError
	var signingErr *SigningError

	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrEmptyPayload):
		return http.StatusBadRequest
	case errors.Is(err, ErrBadPayload):
		// acknowledged so the sender stops retrying
		return http.StatusOK
	case errors.Is(err, ErrWebhookSignature):
		return http.StatusUnauthorized
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrMagicLinkInvalid):
		return http.StatusUnauthorized
	case errors.Is(err, ErrProfileNotFound):
		return http.StatusNotFound
	case errors.As(err, &provisionErr):
		return http.StatusServiceUnavailable
	case errors.As(err, &signingErr):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// publicError is the message sent to clients for err
func publicError(err error) string {
	var provisionErr *ProvisionError

	switch {
	case errors.Is(err, ErrEmptyPayload):
		return "empty body"
	case errors.Is(err, ErrWebhookSignature):
		return "invalid signature"
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrMagicLinkInvalid):
		return "magic link invalid or expired"
	case errors.Is(err, ErrProfileNotFound):
		return "not found"
	case errors.As(err, &provisionErr):
		return "temporarily unavailable"
	default:
		return "internal error"
	}
}

func errorResponse(ctx router.Context, err error) error {
	return ctx.JSON(statusForError(err), router.ViewContext{
		"success": false,
		"error":   publicError(err),
	})
}

// RequireSession resolves the session and stores it in the request locals.
// Requests without a valid session get 401.
func RequireSession(sessions *SessionStore, logger Logger) router.MiddlewareFunc {
	logger = normalizeLogger(logger)
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			session, err := sessions.Resolve(ctx)
			if err != nil {
				logger.Debug("session required", "method", ctx.Method(), "error", err)
				return errorResponse(ctx, err)
			}

			ctx.Locals(SessionLocalsKey, session)
			return next(ctx)
		}
	}
}

// AdminGuard allows only signed sessions whose subject is one of emails.
// Unauthenticated and legacy identity sessions get 401, other subjects get 403.
func AdminGuard(sessions *SessionStore, emails []string, logger Logger) router.MiddlewareFunc {
	logger = normalizeLogger(logger)

	allowed := make(map[string]struct{}, len(emails))
	for _, email := range emails {
		if email = NormalizeEmail(email); email != "" {
			allowed[email] = struct{}{}
		}
	}

	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			session, err := sessions.Resolve(ctx)
			if err != nil {
				return errorResponse(ctx, err)
			}

			if session.Legacy {
				logger.Warn("admin access with legacy cookie", "subject", session.Subject)
				return errorResponse(ctx, ErrUnauthenticated)
			}

			if _, ok := allowed[NormalizeEmail(session.Subject)]; !ok {
				logger.Warn("admin access denied", "subject", session.Subject)
				return ctx.JSON(http.StatusForbidden, router.ViewContext{
					"success": false,
					"error":   "forbidden",
				})
			}

			ctx.Locals(SessionLocalsKey, session)
			return next(ctx)
		}
	}
}

// SessionFromContext returns the session stored by RequireSession or AdminGuard
func SessionFromContext(ctx router.Context) (*ResolvedSession, bool) {
	session, ok := ctx.Locals(SessionLocalsKey).(*ResolvedSession)
	return session, ok && session != nil
}

func isHead(ctx router.Context) bool {
	return strings.EqualFold(ctx.Method(), http.MethodHead)
}
