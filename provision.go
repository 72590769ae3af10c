package auth

import (
	"context"
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/goliatone/hashid/pkg/hashid"
)

// DefaultMagicLinkTTL is how long a magic link stays usable
const DefaultMagicLinkTTL = 24 * time.Hour

const defaultProvisionTimeout = 10 * time.Second

// ProvisionRequest describes the account a membership event asks for
type ProvisionRequest struct {
	Email     string
	FirstName string
	LastName  string
	Tier      string
	Source    string
	// Trial is set when the purchase was a trial order
	Trial bool
}

// ProfileResult is the outcome of a provisioning call. MagicToken holds the
// plaintext token only when one was generated by this call.
type ProfileResult struct {
	Profile        *Profile
	Created        bool
	MagicToken     string
	MagicExpiresAt *time.Time
}

// Provisioner creates or updates learner profiles
type Provisioner struct {
	store     ProfileStore
	rules     TierRules
	magicTTL  time.Duration
	singleUse bool
	timeout   time.Duration
	now       func() time.Time
	activity  ActivitySink
	logger    Logger
}

// ProvisionerOption configures a Provisioner
type ProvisionerOption func(*Provisioner)

// WithTierRules sets the tier table used for levels, trials and courses
func WithTierRules(rules TierRules) ProvisionerOption {
	return func(p *Provisioner) {
		p.rules = rules
	}
}

// WithMagicLinkTTL sets the magic link lifetime
func WithMagicLinkTTL(ttl time.Duration) ProvisionerOption {
	return func(p *Provisioner) {
		if ttl > 0 {
			p.magicTTL = ttl
		}
	}
}

// WithSingleUseMagicLinks makes exchanged links unusable afterwards
func WithSingleUseMagicLinks(single bool) ProvisionerOption {
	return func(p *Provisioner) {
		p.singleUse = single
	}
}

// WithProvisionTimeout bounds each storage call
func WithProvisionTimeout(timeout time.Duration) ProvisionerOption {
	return func(p *Provisioner) {
		if timeout > 0 {
			p.timeout = timeout
		}
	}
}

// WithProvisionerClock sets the time source
func WithProvisionerClock(now func() time.Time) ProvisionerOption {
	return func(p *Provisioner) {
		if now != nil {
			p.now = now
		}
	}
}

// WithActivitySink sets where profile events are sent
func WithActivitySink(sink ActivitySink) ProvisionerOption {
	return func(p *Provisioner) {
		p.activity = sink
	}
}

// WithProvisionerLogger sets the logger
func WithProvisionerLogger(logger Logger) ProvisionerOption {
	return func(p *Provisioner) {
		p.logger = logger
	}
}

// NewProvisioner creates a Provisioner backed by store
func NewProvisioner(store ProfileStore, opts ...ProvisionerOption) *Provisioner {
	p := &Provisioner{
		store:     store,
		rules:     DefaultTierRules(),
		magicTTL:  DefaultMagicLinkTTL,
		singleUse: true,
		timeout:   defaultProvisionTimeout,
		now:       time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}

	p.logger = normalizeLogger(p.logger)
	p.activity = normalizeActivitySink(p.activity)

	return p
}

// Rules returns the tier table
func (p *Provisioner) Rules() TierRules {
	return p.rules
}

// Provision creates the profile for req.Email or updates the existing one.
// A new profile gets a magic link token, an existing profile keeps its own.
// Every failure is a *ProvisionError and leaves no partial state.
func (p *Provisioner) Provision(ctx context.Context, req ProvisionRequest) (*ProfileResult, error) {
	select {
	case <-ctx.Done():
		return nil, &ProvisionError{Email: req.Email, Op: "provision", Err: ctx.Err()}
	default:
		return p.provision(ctx, req)
	}
}

func (p *Provisioner) provision(ctx context.Context, req ProvisionRequest) (*ProfileResult, error) {
	email := NormalizeEmail(req.Email)
	if err := validation.Validate(email, validation.Required, is.Email); err != nil {
		return nil, &ProvisionError{Email: email, Op: "validate", Err: errors.Join(ErrBadPayload, err)}
	}

	id, err := hashid.NewUUID(email)
	if err != nil {
		return nil, &ProvisionError{Email: email, Op: "id", Err: err}
	}

	token, hash, expiresAt, err := p.newMagicToken()
	if err != nil {
		return nil, &ProvisionError{Email: email, Op: "magic_token", Err: err}
	}

	source := req.Source
	if source == "" {
		source = SourceManual
	}

	tier := req.Tier
	if tier == "" {
		tier = p.rules.DefaultTier()
	}

	now := p.now().UTC()
	profile := &Profile{
		ID:                  id,
		Email:               email,
		FirstName:           SanitizeName(req.FirstName),
		LastName:            SanitizeName(req.LastName),
		Tier:                tier,
		SubscriptionStatus:  SubscriptionActive,
		IsActive:            true,
		CreatedVia:          source,
		UpdatedVia:          source,
		MagicTokenHash:      hash,
		MagicTokenExpiresAt: &expiresAt,
	}

	if rule, ok := p.rules.Lookup(tier); ok {
		profile.TierLevel = rule.Level
		if rule.TrialDays > 0 && req.Trial {
			trialEnds := now.Add(time.Duration(rule.TrialDays) * 24 * time.Hour)
			profile.IsTrial = true
			profile.SubscriptionStatus = SubscriptionTrial
			profile.TrialEndsAt = &trialEnds
		}
	}

	storeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	created, stored, err := p.store.UpsertProfile(storeCtx, profile)
	if err != nil {
		return nil, &ProvisionError{Email: email, Op: "upsert", Err: err}
	}

	result := &ProfileResult{Profile: stored, Created: created}
	eventType := ActivityEventProfileUpdated
	if created {
		result.MagicToken = token
		result.MagicExpiresAt = &expiresAt
		eventType = ActivityEventProfileCreated
	}

	p.logger.Info("profile provisioned",
		"email", email,
		"tier", tier,
		"created", created,
		"source", source,
	)

	p.record(ctx, ActivityEvent{
		EventType:      eventType,
		ProfileID:      stored.ID.String(),
		Email:          email,
		FirstName:      stored.FirstName,
		Tier:           stored.Tier,
		Source:         source,
		MagicToken:     result.MagicToken,
		MagicExpiresAt: result.MagicExpiresAt,
		OccurredAt:     now,
	})

	return result, nil
}

// RequestMagicLink replaces the magic token of an existing profile.
// It returns ErrProfileNotFound for unknown and inactive profiles.
func (p *Provisioner) RequestMagicLink(ctx context.Context, email string) (*ProfileResult, error) {
	email = NormalizeEmail(email)

	storeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	profile, err := p.store.GetProfile(storeCtx, email)
	if err != nil {
		if errors.Is(err, ErrProfileNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, &ProvisionError{Email: email, Op: "lookup", Err: err}
	}

	if !profile.IsActive {
		p.logger.Info("magic link refused for inactive profile", "email", email)
		return nil, ErrProfileNotFound
	}

	token, hash, expiresAt, err := p.newMagicToken()
	if err != nil {
		return nil, &ProvisionError{Email: email, Op: "magic_token", Err: err}
	}

	if err := p.store.UpdateMagicToken(storeCtx, email, hash, &expiresAt); err != nil {
		return nil, &ProvisionError{Email: email, Op: "magic_token", Err: err}
	}

	profile.MagicTokenHash = hash
	profile.MagicTokenExpiresAt = &expiresAt

	p.record(ctx, ActivityEvent{
		EventType:      ActivityEventMagicLinkRequested,
		ProfileID:      profile.ID.String(),
		Email:          email,
		FirstName:      profile.FirstName,
		Tier:           profile.Tier,
		MagicToken:     token,
		MagicExpiresAt: &expiresAt,
		OccurredAt:     p.now().UTC(),
	})

	return &ProfileResult{
		Profile:        profile,
		MagicToken:     token,
		MagicExpiresAt: &expiresAt,
	}, nil
}

// ExchangeMagicLink checks token against the stored hash for email and
// returns the profile. Unknown or inactive profiles, wrong tokens and
// expired tokens all return ErrMagicLinkInvalid.
func (p *Provisioner) ExchangeMagicLink(ctx context.Context, email, token string) (*Profile, error) {
	email = NormalizeEmail(email)
	if email == "" || token == "" {
		return nil, ErrMagicLinkInvalid
	}

	storeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	profile, err := p.store.GetProfile(storeCtx, email)
	if err != nil {
		if errors.Is(err, ErrProfileNotFound) {
			return nil, ErrMagicLinkInvalid
		}
		return nil, &ProvisionError{Email: email, Op: "lookup", Err: err}
	}

	if !profile.IsActive || !profile.MagicTokenValid(p.now()) {
		return nil, ErrMagicLinkInvalid
	}

	if err := CompareMagicToken(token, profile.MagicTokenHash); err != nil {
		if errors.Is(err, ErrMagicLinkInvalid) {
			return nil, err
		}
		return nil, &ProvisionError{Email: email, Op: "compare", Err: err}
	}

	if p.singleUse {
		if err := p.store.UpdateMagicToken(storeCtx, email, "", nil); err != nil {
			return nil, &ProvisionError{Email: email, Op: "consume", Err: err}
		}
		profile.MagicTokenHash = ""
		profile.MagicTokenExpiresAt = nil
	}

	p.record(ctx, ActivityEvent{
		EventType:  ActivityEventMagicLinkExchanged,
		ProfileID:  profile.ID.String(),
		Email:      email,
		Tier:       profile.Tier,
		OccurredAt: p.now().UTC(),
	})

	return profile, nil
}

// SetActive flips the active flag of the profile for email. Inactive
// profiles cannot request or exchange magic links, or refresh a session.
func (p *Provisioner) SetActive(ctx context.Context, email string, active bool) error {
	email = NormalizeEmail(email)

	storeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.store.SetProfileActive(storeCtx, email, active); err != nil {
		if errors.Is(err, ErrProfileNotFound) {
			return err
		}
		return &ProvisionError{Email: email, Op: "set_active", Err: err}
	}

	eventType := ActivityEventProfileDeactivated
	if active {
		eventType = ActivityEventProfileActivated
	}

	p.logger.Info("profile active flag changed", "email", email, "active", active)
	p.record(ctx, ActivityEvent{
		EventType:  eventType,
		Email:      email,
		OccurredAt: p.now().UTC(),
	})
	return nil
}

func (p *Provisioner) newMagicToken() (string, string, time.Time, error) {
	token, err := GenerateMagicToken()
	if err != nil {
		return "", "", time.Time{}, err
	}

	hash, err := HashMagicToken(token)
	if err != nil {
		return "", "", time.Time{}, err
	}

	return token, hash, p.now().UTC().Add(p.magicTTL), nil
}

func (p *Provisioner) record(ctx context.Context, event ActivityEvent) {
	if err := p.activity.Record(ctx, event); err != nil {
		p.logger.Warn("activity sink failed",
			"event", string(event.EventType),
			"email", event.Email,
			"error", err,
		)
	}
}
