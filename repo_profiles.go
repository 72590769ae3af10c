package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

// BunProfileStore stores profiles with bun
type BunProfileStore struct {
	db  *bun.DB
	now func() time.Time
}

var _ ProfileStore = (*BunProfileStore)(nil)

// ProfileStoreOption configures a BunProfileStore
type ProfileStoreOption func(*BunProfileStore)

// WithProfileClock sets the time source for created_at and updated_at
func WithProfileClock(now func() time.Time) ProfileStoreOption {
	return func(s *BunProfileStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewBunProfileStore creates a store on db
func NewBunProfileStore(db *bun.DB, opts ...ProfileStoreOption) *BunProfileStore {
	s := &BunProfileStore{db: db, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// UpsertProfile inserts profile or, when the email exists, updates the
// membership fields of the stored row. The magic token of an existing row
// is never changed here. Returns whether a row was created.
func (s *BunProfileStore) UpsertProfile(ctx context.Context, profile *Profile) (bool, *Profile, error) {
	var created bool
	var stored *Profile

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		created, stored, err = s.UpsertProfileTx(ctx, tx, profile)
		return err
	})
	if err != nil {
		return false, nil, err
	}
	return created, stored, nil
}

// UpsertProfileTx is UpsertProfile on tx
func (s *BunProfileStore) UpsertProfileTx(ctx context.Context, tx bun.IDB, profile *Profile) (bool, *Profile, error) {
	if profile == nil {
		return false, nil, errors.New("profile is required")
	}

	now := s.now().UTC()
	record := *profile
	record.Email = NormalizeEmail(record.Email)
	record.CreatedAt = now
	record.UpdatedAt = now

	res, err := tx.NewInsert().
		Model(&record).
		On("CONFLICT (email) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return false, nil, fmt.Errorf("insert profile: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return true, &record, nil
	}

	q := tx.NewUpdate().
		Model((*Profile)(nil)).
		Set("subscription_tier = ?", record.Tier).
		Set("tier_level = ?", record.TierLevel).
		Set("subscription_status = ?", record.SubscriptionStatus).
		Set("is_trial = ?", record.IsTrial).
		Set("updated_via = ?", record.UpdatedVia).
		Set("updated_at = ?", now).
		Where("email = ?", record.Email)

	// a running trial keeps its end date, right hand sides see the old row
	if record.IsTrial {
		q = q.Set("trial_ends_at = CASE WHEN is_trial AND trial_ends_at IS NOT NULL THEN trial_ends_at ELSE ? END", record.TrialEndsAt)
	} else {
		q = q.Set("trial_ends_at = NULL")
	}

	if record.FirstName != "" {
		q = q.Set("first_name = ?", record.FirstName)
	}
	if record.LastName != "" {
		q = q.Set("last_name = ?", record.LastName)
	}

	if _, err := q.Exec(ctx); err != nil {
		return false, nil, fmt.Errorf("update profile: %w", err)
	}

	stored, err := s.GetProfileTx(ctx, tx, record.Email)
	if err != nil {
		return false, nil, err
	}
	return false, stored, nil
}

// SetProfileActive flips the active flag of the profile for email
func (s *BunProfileStore) SetProfileActive(ctx context.Context, email string, active bool) error {
	res, err := s.db.NewUpdate().
		Model((*Profile)(nil)).
		Set("is_active = ?", active).
		Set("updated_at = ?", s.now().UTC()).
		Where("email = ?", NormalizeEmail(email)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("set profile active: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrProfileNotFound
	}
	return nil
}

// GetProfile returns the profile for email or ErrProfileNotFound
func (s *BunProfileStore) GetProfile(ctx context.Context, email string) (*Profile, error) {
	return s.GetProfileTx(ctx, s.db, email)
}

// GetProfileTx is GetProfile on tx
func (s *BunProfileStore) GetProfileTx(ctx context.Context, tx bun.IDB, email string) (*Profile, error) {
	record := &Profile{}
	err := tx.NewSelect().
		Model(record).
		Where("email = ?", NormalizeEmail(email)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return record, nil
}

// UpdateMagicToken stores a magic token hash. An empty hash removes it.
func (s *BunProfileStore) UpdateMagicToken(ctx context.Context, email, hash string, expiresAt *time.Time) error {
	res, err := s.db.NewUpdate().
		Model((*Profile)(nil)).
		Set("magic_token_hash = ?", hash).
		Set("magic_token_expires_at = ?", expiresAt).
		Set("updated_at = ?", s.now().UTC()).
		Where("email = ?", NormalizeEmail(email)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update magic token: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrProfileNotFound
	}
	return nil
}

// RecentProfiles lists the newest profiles created by any of sources
func (s *BunProfileStore) RecentProfiles(ctx context.Context, sources []string, limit int) ([]*Profile, error) {
	if limit <= 0 {
		limit = 10
	}

	records := []*Profile{}
	q := s.db.NewSelect().
		Model(&records).
		OrderExpr("created_at DESC").
		Limit(limit)

	if len(sources) > 0 {
		q = q.Where("created_via IN (?)", bun.In(sources))
	}

	if err := q.Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return []*Profile{}, nil
		}
		return nil, fmt.Errorf("recent profiles: %w", err)
	}
	return records, nil
}
