package auth

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// MagicLinkPath is the route that exchanges a magic link for a session
const MagicLinkPath = "/api/auth/magic"

// MagicLinkMessage is a sign in link addressed to a learner
type MagicLinkMessage struct {
	Email     string
	FirstName string
	Link      string
	ExpiresAt time.Time
	Welcome   bool
}

// LogMailer writes magic links to the logger instead of sending them.
// It is meant for local development. The token in the link is redacted
// unless RevealLinks is turned on.
type LogMailer struct {
	logger Logger
	reveal bool
}

var _ Mailer = (*LogMailer)(nil)

// NewLogMailer creates a LogMailer
func NewLogMailer(logger Logger) *LogMailer {
	return &LogMailer{logger: normalizeLogger(logger)}
}

// RevealLinks logs links with their live token. Only for local development.
func (m *LogMailer) RevealLinks(reveal bool) *LogMailer {
	m.reveal = reveal
	return m
}

func (m *LogMailer) SendMagicLink(_ context.Context, msg MagicLinkMessage) error {
	link := msg.Link
	if !m.reveal {
		link = RedactMagicLink(link)
	}
	m.logger.Info("magic link",
		"email", msg.Email,
		"link", link,
		"expires_at", msg.ExpiresAt.Format(time.RFC3339),
		"welcome", msg.Welcome,
	)
	return nil
}

// BuildMagicLink returns the absolute sign in link for email and token
func BuildMagicLink(baseURL, email, token string) (string, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}

	link := base.JoinPath(MagicLinkPath)
	q := url.Values{}
	q.Set("email", email)
	q.Set("token", token)
	link.RawQuery = q.Encode()

	return link.String(), nil
}

// RedactMagicLink replaces the token query value of link
func RedactMagicLink(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return "[invalid link]"
	}
	q := u.Query()
	if q.Has("token") {
		q.Set("token", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// WelcomeNotifier mails a magic link whenever an activity event carries a
// freshly generated token.
type WelcomeNotifier struct {
	mailer  Mailer
	baseURL string
	logger  Logger
}

var _ ActivitySink = (*WelcomeNotifier)(nil)

// NewWelcomeNotifier creates a notifier sending links rooted at baseURL
func NewWelcomeNotifier(mailer Mailer, baseURL string, logger Logger) *WelcomeNotifier {
	logger = normalizeLogger(logger)
	if mailer == nil {
		mailer = NewLogMailer(logger)
	}
	return &WelcomeNotifier{mailer: mailer, baseURL: baseURL, logger: logger}
}

func (n *WelcomeNotifier) Record(ctx context.Context, event ActivityEvent) error {
	if event.MagicToken == "" {
		return nil
	}

	switch event.EventType {
	case ActivityEventProfileCreated, ActivityEventMagicLinkRequested:
	default:
		return nil
	}

	link, err := BuildMagicLink(n.baseURL, event.Email, event.MagicToken)
	if err != nil {
		return err
	}

	msg := MagicLinkMessage{
		Email:     event.Email,
		FirstName: event.FirstName,
		Link:      link,
		Welcome:   event.EventType == ActivityEventProfileCreated,
	}
	if event.MagicExpiresAt != nil {
		msg.ExpiresAt = *event.MagicExpiresAt
	}

	if err := n.mailer.SendMagicLink(ctx, msg); err != nil {
		return fmt.Errorf("send magic link: %w", err)
	}
	return nil
}
