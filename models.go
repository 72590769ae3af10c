package auth

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Profile sources
const (
	SourceWebhook   = "webhook"
	SourceMagicLink = "magic_link"
	SourceManual    = "manual"
)

// Profile is a learner account
type Profile struct {
	bun.BaseModel       `bun:"table:user_profiles,alias:up"`
	ID                  uuid.UUID  `bun:"id,pk,type:uuid" json:"id"`
	Email               string     `bun:"email,notnull,unique" json:"email"`
	FirstName           string     `bun:"first_name" json:"first_name,omitempty"`
	LastName            string     `bun:"last_name" json:"last_name,omitempty"`
	Tier                string     `bun:"subscription_tier,notnull" json:"subscription_tier"`
	TierLevel           int        `bun:"tier_level" json:"tier_level"`
	SubscriptionStatus  string     `bun:"subscription_status,notnull" json:"subscription_status"`
	IsActive            bool       `bun:"is_active,notnull" json:"is_active"`
	IsTrial             bool       `bun:"is_trial" json:"is_trial"`
	TrialEndsAt         *time.Time `bun:"trial_ends_at,nullzero" json:"trial_ends_at,omitempty"`
	LearningPath        string     `bun:"learning_path" json:"learning_path,omitempty"`
	CreatedVia          string     `bun:"created_via,notnull" json:"created_via"`
	UpdatedVia          string     `bun:"updated_via" json:"updated_via,omitempty"`
	MagicTokenHash      string     `bun:"magic_token_hash" json:"-"`
	MagicTokenExpiresAt *time.Time `bun:"magic_token_expires_at,nullzero" json:"-"`
	CreatedAt           time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt           time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at"`
}

// FullName joins first and last name
func (p *Profile) FullName() string {
	switch {
	case p.FirstName == "":
		return p.LastName
	case p.LastName == "":
		return p.FirstName
	default:
		return p.FirstName + " " + p.LastName
	}
}

// MagicTokenValid reports whether a stored magic token exists and is unexpired at now
func (p *Profile) MagicTokenValid(now time.Time) bool {
	if p.MagicTokenHash == "" || p.MagicTokenExpiresAt == nil {
		return false
	}
	return now.Before(*p.MagicTokenExpiresAt)
}
