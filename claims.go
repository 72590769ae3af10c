package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Subscription statuses carried in claims and profiles
const (
	SubscriptionActive  = "active"
	SubscriptionTrial   = "trial"
	SubscriptionExpired = "expired"
)

// SessionClaims is the payload of a session credential
type SessionClaims struct {
	jwt.RegisteredClaims
	FirstName          string         `json:"first_name,omitempty"`
	LastName           string         `json:"last_name,omitempty"`
	SubscriptionStatus string         `json:"subscription_status,omitempty"`
	Tier               string         `json:"tier,omitempty"`
	CourseAccess       []string       `json:"course_access,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
}

// Subject returns the subject claim
func (c *SessionClaims) Subject() string {
	return c.RegisteredClaims.Subject
}

// Expires returns the expiration time
func (c *SessionClaims) Expires() time.Time {
	if c.RegisteredClaims.ExpiresAt != nil {
		return c.RegisteredClaims.ExpiresAt.Time
	}
	return time.Time{}
}

// IssuedAt returns the issued at time
func (c *SessionClaims) IssuedAt() time.Time {
	if c.RegisteredClaims.IssuedAt != nil {
		return c.RegisteredClaims.IssuedAt.Time
	}
	return time.Time{}
}

// HasCourse reports whether the claims grant access to course
func (c *SessionClaims) HasCourse(course string) bool {
	for _, c := range c.CourseAccess {
		if c == course {
			return true
		}
	}
	return false
}

// ClaimsFromProfile builds the session payload for a stored profile.
// Course access comes from the tier rule matching the profile tier.
func ClaimsFromProfile(profile *Profile, rules TierRules) SessionClaims {
	if profile == nil {
		return SessionClaims{}
	}

	claims := SessionClaims{
		FirstName:          profile.FirstName,
		LastName:           profile.LastName,
		SubscriptionStatus: profile.SubscriptionStatus,
		Tier:               profile.Tier,
	}

	if rule, ok := rules.Lookup(profile.Tier); ok && len(rule.Courses) > 0 {
		claims.CourseAccess = append([]string(nil), rule.Courses...)
	}

	if profile.LearningPath != "" {
		claims.Metadata = map[string]any{"learning_path": profile.LearningPath}
	}

	return claims
}
