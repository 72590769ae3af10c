package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

// RouteRegistrar captures the router methods used by the controller.
type RouteRegistrar interface {
	Get(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Post(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Delete(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Head(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
}

// ControllerRoutes holds the route paths
type ControllerRoutes struct {
	Webhook        string
	Session        string
	SessionRefresh string
	Logout         string
	MagicLink      string
	MagicExchange  string
	Health         string
	Liveness       string
	AdminLogs      string
}

// DefaultControllerRoutes returns the standard API layout
func DefaultControllerRoutes() *ControllerRoutes {
	return &ControllerRoutes{
		Webhook:        "/api/webhooks/membership",
		Session:        "/api/auth/session",
		SessionRefresh: "/api/auth/session/refresh",
		Logout:         "/api/auth/logout",
		MagicLink:      "/api/auth/magic-link",
		MagicExchange:  MagicLinkPath,
		Health:         "/api/health",
		Liveness:       "/health",
		AdminLogs:      "/api/admin/webhook-logs",
	}
}

// recentProfilesLimit is how many provisioned profiles the admin log view lists
const recentProfilesLimit = 10

// Controller serves the session, webhook, magic link and admin routes
type Controller struct {
	Debug         bool
	Logger        Logger
	Routes        *ControllerRoutes
	Sessions      *SessionStore
	Ingestor      *WebhookIngestor
	Provisioner   *Provisioner
	Profiles      ProfileStore
	AdminEmails   []string
	LoginRedirect string
	MagicRedirect string
	MagicFailure  string
	// WebhookMiddleware runs before the webhook handler, e.g. a rate limiter
	WebhookMiddleware []router.MiddlewareFunc
}

// ControllerOption configures a Controller
type ControllerOption func(*Controller) *Controller

// WithControllerLogger sets the logger
func WithControllerLogger(logger Logger) ControllerOption {
	return func(c *Controller) *Controller {
		c.Logger = logger
		return c
	}
}

// WithSessions sets the session store
func WithSessions(sessions *SessionStore) ControllerOption {
	return func(c *Controller) *Controller {
		c.Sessions = sessions
		return c
	}
}

// WithIngestor sets the webhook ingestor
func WithIngestor(ingestor *WebhookIngestor) ControllerOption {
	return func(c *Controller) *Controller {
		c.Ingestor = ingestor
		return c
	}
}

// WithProvisioner sets the provisioner
func WithProvisioner(provisioner *Provisioner) ControllerOption {
	return func(c *Controller) *Controller {
		c.Provisioner = provisioner
		return c
	}
}

// WithProfiles sets the profile store
func WithProfiles(profiles ProfileStore) ControllerOption {
	return func(c *Controller) *Controller {
		c.Profiles = profiles
		return c
	}
}

// WithAdminEmails sets who may read the webhook logs
func WithAdminEmails(emails ...string) ControllerOption {
	return func(c *Controller) *Controller {
		c.AdminEmails = append(c.AdminEmails, emails...)
		return c
	}
}

// WithMagicRedirects sets where the magic link exchange redirects to
func WithMagicRedirects(success, failure string) ControllerOption {
	return func(c *Controller) *Controller {
		if success != "" {
			c.MagicRedirect = success
		}
		if failure != "" {
			c.MagicFailure = failure
		}
		return c
	}
}

// WithWebhookMiddleware adds middleware to the webhook route
func WithWebhookMiddleware(mw ...router.MiddlewareFunc) ControllerOption {
	return func(c *Controller) *Controller {
		c.WebhookMiddleware = append(c.WebhookMiddleware, mw...)
		return c
	}
}

// WithDebug dumps request payloads to the logger
func WithDebug(debug bool) ControllerOption {
	return func(c *Controller) *Controller {
		c.Debug = debug
		return c
	}
}

// NewController creates a controller. It panics when a required
// collaborator is missing.
func NewController(opts ...ControllerOption) *Controller {
	c := &Controller{
		Routes:        DefaultControllerRoutes(),
		MagicRedirect: "/",
		MagicFailure:  "/login?error=magic_link",
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Sessions == nil {
		panic("Missing SessionStore in controller...")
	}

	if c.Ingestor == nil {
		panic("Missing WebhookIngestor in controller...")
	}

	if c.Provisioner == nil {
		panic("Missing Provisioner in controller...")
	}

	if c.Profiles == nil {
		panic("Missing ProfileStore in controller...")
	}

	c.Logger = normalizeLogger(c.Logger)

	return c
}

// RegisterRoutes registers every route on group
func (c *Controller) RegisterRoutes(group RouteRegistrar) {
	admin := AdminGuard(c.Sessions, c.AdminEmails, c.Logger)

	group.Post(c.Routes.Webhook, c.WebhookPost, c.WebhookMiddleware...)
	group.Get(c.Routes.Webhook, c.WebhookStatus)

	group.Get(c.Routes.Session, c.SessionShow)
	group.Post(c.Routes.SessionRefresh, c.SessionRefreshPost)
	group.Post(c.Routes.Logout, c.LogOut)
	group.Get(c.Routes.Logout, c.LogOut)

	group.Post(c.Routes.MagicLink, c.MagicLinkPost)
	group.Get(c.Routes.MagicExchange, c.MagicLinkExchange)

	group.Get(c.Routes.Health, Health)
	group.Head(c.Routes.Health, Health)
	if c.Routes.Liveness != "" && c.Routes.Liveness != c.Routes.Health {
		group.Get(c.Routes.Liveness, Health)
		group.Head(c.Routes.Liveness, Health)
	}

	group.Get(c.Routes.AdminLogs, c.AdminLogsIndex, admin)
	group.Delete(c.Routes.AdminLogs, c.AdminLogsClear, admin)
}

// WebhookPost runs the ingestion pipeline on the request body
func (c *Controller) WebhookPost(ctx router.Context) error {
	body := ctx.Body()

	if c.Debug {
		c.Logger.Debug("webhook received", "payload", print.MaybePrettyJSON(json.RawMessage(body)))
	}

	res, err := c.Ingestor.VerifyAndIngest(ctx.Context(), body, ctx.Header(WebhookSignatureHeader))

	switch {
	case err == nil:
		return ctx.JSON(http.StatusOK, router.ViewContext{
			"success": true,
			"created": res.Created,
			"tier":    res.Tier,
			"email":   res.Email,
		})
	case IsIgnorable(err):
		return ctx.JSON(http.StatusOK, router.ViewContext{
			"success": true,
			"ignored": true,
		})
	default:
		return errorResponse(ctx, err)
	}
}

// WebhookStatus reports the endpoint configuration
func (c *Controller) WebhookStatus(ctx router.Context) error {
	return ctx.JSON(http.StatusOK, router.ViewContext{
		"status":             "ready",
		"signature_required": c.Ingestor.RequiresSignature(),
		"tiers":              c.Ingestor.Rules(),
	})
}

// SessionShow returns the claims of the current session. A legacy identity
// cookie is upgraded to a signed session only when the store allows it,
// otherwise it is reported with no claims.
func (c *Controller) SessionShow(ctx router.Context) error {
	session, err := c.Sessions.Resolve(ctx)
	if err != nil {
		c.Logger.Info("session rejected", "error", err)
		return errorResponse(ctx, err)
	}

	claims := session.Claims
	if session.Legacy && c.Sessions.UpgradesLegacy() {
		fresh, err := c.claimsFor(ctx, session.Subject)
		if err != nil {
			c.Logger.Info("legacy session rejected", "subject", session.Subject, "error", err)
			return errorResponse(ctx, ErrUnauthenticated)
		}

		if _, err := c.Sessions.Establish(ctx, session.Subject, fresh); err != nil {
			c.Logger.Error("session upgrade failed", "subject", session.Subject, "error", err)
			return errorResponse(ctx, err)
		}
		sessionsEstablished.WithLabelValues("legacy_upgrade").Inc()
		claims = &fresh
	}

	return ctx.JSON(http.StatusOK, router.ViewContext{
		"authenticated": true,
		"subject":       session.Subject,
		"legacy":        session.Legacy,
		"claims":        claims,
	})
}

// SessionRefreshPost issues a new credential with the stored profile data
func (c *Controller) SessionRefreshPost(ctx router.Context) error {
	session, err := c.Sessions.Refresh(ctx, func(subject string) (SessionClaims, error) {
		return c.claimsFor(ctx, subject)
	})
	if err != nil {
		c.Logger.Info("session refresh rejected", "error", err)
		if errors.Is(err, ErrProfileNotFound) {
			err = ErrUnauthenticated
		}
		return errorResponse(ctx, err)
	}

	sessionsEstablished.WithLabelValues("refresh").Inc()

	return ctx.JSON(http.StatusOK, router.ViewContext{
		"authenticated": true,
		"subject":       session.Subject,
		"claims":        session.Claims,
	})
}

// LogOut expires every session cookie
func (c *Controller) LogOut(ctx router.Context) error {
	c.Sessions.Clear(ctx)
	return ctx.JSON(http.StatusOK, router.ViewContext{
		"success": true,
	})
}

// MagicLinkRequest payload
type MagicLinkRequest struct {
	Email string `json:"email" form:"email"`
}

// Validate will run validation rules
func (r MagicLinkRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Email,
			validation.Required,
			is.Email,
		),
	)
}

// MagicLinkPost sends a new magic link. The response does not reveal
// whether the email is known.
func (c *Controller) MagicLinkPost(ctx router.Context) error {
	payload := MagicLinkRequest{}
	if err := json.Unmarshal(ctx.Body(), &payload); err != nil {
		return ctx.JSON(http.StatusBadRequest, router.ViewContext{
			"success": false,
			"error":   "invalid request",
		})
	}

	if err := payload.Validate(); err != nil {
		return ctx.JSON(http.StatusBadRequest, router.ViewContext{
			"success":    false,
			"error":      "invalid request",
			"validation": err,
		})
	}

	if _, err := c.Provisioner.RequestMagicLink(ctx.Context(), payload.Email); err != nil {
		if errors.Is(err, ErrProfileNotFound) {
			c.Logger.Info("magic link requested for unknown email")
		} else {
			c.Logger.Error("magic link request failed", "error", err)
		}
	}

	return ctx.JSON(http.StatusOK, router.ViewContext{
		"success": true,
		"message": "If an account exists for that email, a sign in link is on its way.",
	})
}

// MagicLinkExchange trades a magic link for a session and redirects
func (c *Controller) MagicLinkExchange(ctx router.Context) error {
	email := ctx.Query("email", "")
	token := ctx.Query("token", "")

	profile, err := c.Provisioner.ExchangeMagicLink(ctx.Context(), email, token)
	if err != nil {
		if errors.Is(err, ErrMagicLinkInvalid) {
			c.Logger.Info("magic link rejected", "email", NormalizeEmail(email))
			return ctx.Redirect(c.MagicFailure, http.StatusSeeOther)
		}
		c.Logger.Error("magic link exchange failed", "error", err)
		return errorResponse(ctx, err)
	}

	claims := ClaimsFromProfile(profile, c.Provisioner.Rules())
	if _, err := c.Sessions.Establish(ctx, profile.Email, claims); err != nil {
		c.Logger.Error("session establish failed", "email", profile.Email, "error", err)
		return errorResponse(ctx, err)
	}
	sessionsEstablished.WithLabelValues("magic_link").Inc()

	return ctx.Redirect(c.MagicRedirect, http.StatusSeeOther)
}

// AdminLogsIndex returns the audit log and the newest webhook profiles
func (c *Controller) AdminLogsIndex(ctx router.Context) error {
	entries, err := c.Ingestor.Audit().Snapshot(ctx.Context())
	if err != nil {
		c.Logger.Error("audit snapshot failed", "error", err)
		return errorResponse(ctx, err)
	}

	recent, err := c.Profiles.RecentProfiles(ctx.Context(), []string{c.Ingestor.source}, recentProfilesLimit)
	if err != nil {
		c.Logger.Error("recent profiles failed", "error", err)
		return errorResponse(ctx, err)
	}

	return ctx.JSON(http.StatusOK, router.ViewContext{
		"logs":         entries,
		"count":        len(entries),
		"recent_users": recent,
		"generated_at": time.Now().UTC(),
	})
}

// AdminLogsClear empties the audit log. Profiles are not touched.
func (c *Controller) AdminLogsClear(ctx router.Context) error {
	if err := c.Ingestor.Audit().Clear(ctx.Context()); err != nil {
		c.Logger.Error("audit clear failed", "error", err)
		return errorResponse(ctx, err)
	}

	return ctx.JSON(http.StatusOK, router.ViewContext{
		"success": true,
		"message": "webhook logs cleared",
	})
}

func (c *Controller) claimsFor(ctx router.Context, subject string) (SessionClaims, error) {
	profile, err := c.Profiles.GetProfile(ctx.Context(), subject)
	if err != nil {
		return SessionClaims{}, fmt.Errorf("load profile: %w", err)
	}
	if !profile.IsActive {
		return SessionClaims{}, fmt.Errorf("%w: profile inactive", ErrUnauthenticated)
	}
	return ClaimsFromProfile(profile, c.Provisioner.Rules()), nil
}
