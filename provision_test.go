package auth_test

import (
	"context"
	"sync"
	"testing"
	"time"

	auth "github.com/goliatone/go-learner-auth"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedEvents struct {
	mu     sync.Mutex
	events []auth.ActivityEvent
}

func (r *recordedEvents) sink() auth.ActivitySink {
	return auth.ActivitySinkFunc(func(_ context.Context, event auth.ActivityEvent) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, event)
		return nil
	})
}

func (r *recordedEvents) types() []auth.ActivityEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []auth.ActivityEventType{}
	for _, e := range r.events {
		out = append(out, e.EventType)
	}
	return out
}

func TestProvisioner_Provision(t *testing.T) {
	store := newMemProfileStore()
	events := &recordedEvents{}
	p := auth.NewProvisioner(store,
		auth.WithActivitySink(events.sink()),
		auth.WithProvisionerLogger(&MockLogger{}),
	)
	ctx := context.Background()

	res, err := p.Provision(ctx, auth.ProvisionRequest{
		Email:     " Ada@Example.com ",
		FirstName: "Ada",
		Tier:      "premium",
		Source:    auth.SourceWebhook,
	})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.NotEmpty(t, res.MagicToken)
	require.NotNil(t, res.MagicExpiresAt)
	assert.Equal(t, "ada@example.com", res.Profile.Email)
	assert.Equal(t, 10, res.Profile.TierLevel)

	id, err := hashid.NewUUID("ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, id, res.Profile.ID)

	require.NoError(t, auth.CompareMagicToken(res.MagicToken, res.Profile.MagicTokenHash))

	again, err := p.Provision(ctx, auth.ProvisionRequest{
		Email:  "ada@example.com",
		Tier:   "trial",
		Source: auth.SourceManual,
	})
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.Empty(t, again.MagicToken, "existing profiles keep their token")
	assert.Equal(t, "trial", again.Profile.Tier)
	assert.Equal(t, auth.SourceWebhook, again.Profile.CreatedVia)
	assert.Equal(t, auth.SourceManual, again.Profile.UpdatedVia)

	assert.Equal(t, []auth.ActivityEventType{
		auth.ActivityEventProfileCreated,
		auth.ActivityEventProfileUpdated,
	}, events.types())
}

func TestProvisioner_DefaultsTierAndSource(t *testing.T) {
	p := auth.NewProvisioner(newMemProfileStore(), auth.WithProvisionerLogger(&MockLogger{}))

	res, err := p.Provision(context.Background(), auth.ProvisionRequest{Email: "ada@example.com"})
	require.NoError(t, err)
	assert.Equal(t, auth.DefaultTier, res.Profile.Tier)
	assert.Equal(t, auth.SourceManual, res.Profile.CreatedVia)
}

func TestProvisioner_Errors(t *testing.T) {
	t.Run("storage failure", func(t *testing.T) {
		p := auth.NewProvisioner(failingProfileStore{}, auth.WithProvisionerLogger(&MockLogger{}))

		_, err := p.Provision(context.Background(), auth.ProvisionRequest{Email: "ada@example.com"})
		var provisionErr *auth.ProvisionError
		require.ErrorAs(t, err, &provisionErr)
		assert.Equal(t, "upsert", provisionErr.Op)
		assert.Equal(t, "ada@example.com", provisionErr.Email)
	})

	t.Run("invalid email", func(t *testing.T) {
		store := newMemProfileStore()
		p := auth.NewProvisioner(store, auth.WithProvisionerLogger(&MockLogger{}))

		_, err := p.Provision(context.Background(), auth.ProvisionRequest{Email: "nope"})
		assert.True(t, auth.IsProvisionError(err))
		assert.ErrorIs(t, err, auth.ErrBadPayload)
		assert.Equal(t, 0, store.count())
	})

	t.Run("cancelled context", func(t *testing.T) {
		store := newMemProfileStore()
		p := auth.NewProvisioner(store, auth.WithProvisionerLogger(&MockLogger{}))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := p.Provision(ctx, auth.ProvisionRequest{Email: "ada@example.com"})
		assert.True(t, auth.IsProvisionError(err))
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 0, store.count())
	})
}

func TestProvisioner_MagicLinkFlow(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	store := newMemProfileStore()
	events := &recordedEvents{}
	p := auth.NewProvisioner(store,
		auth.WithProvisionerClock(clock),
		auth.WithMagicLinkTTL(time.Hour),
		auth.WithActivitySink(events.sink()),
		auth.WithProvisionerLogger(&MockLogger{}),
	)
	ctx := context.Background()

	created, err := p.Provision(ctx, auth.ProvisionRequest{Email: "ada@example.com", Tier: "premium"})
	require.NoError(t, err)

	t.Run("unknown email", func(t *testing.T) {
		_, err := p.RequestMagicLink(ctx, "ghost@example.com")
		assert.ErrorIs(t, err, auth.ErrProfileNotFound)

		_, err = p.ExchangeMagicLink(ctx, "ghost@example.com", created.MagicToken)
		assert.ErrorIs(t, err, auth.ErrMagicLinkInvalid)
	})

	t.Run("wrong token", func(t *testing.T) {
		_, err := p.ExchangeMagicLink(ctx, "ada@example.com", "0000")
		assert.ErrorIs(t, err, auth.ErrMagicLinkInvalid)

		_, err = p.ExchangeMagicLink(ctx, "ada@example.com", "")
		assert.ErrorIs(t, err, auth.ErrMagicLinkInvalid)
	})

	t.Run("request replaces the token", func(t *testing.T) {
		res, err := p.RequestMagicLink(ctx, "ADA@example.com")
		require.NoError(t, err)
		assert.NotEqual(t, created.MagicToken, res.MagicToken)

		_, err = p.ExchangeMagicLink(ctx, "ada@example.com", created.MagicToken)
		assert.ErrorIs(t, err, auth.ErrMagicLinkInvalid, "the old token is gone")

		profile, err := p.ExchangeMagicLink(ctx, "ada@example.com", res.MagicToken)
		require.NoError(t, err)
		assert.Equal(t, "premium", profile.Tier)

		_, err = p.ExchangeMagicLink(ctx, "ada@example.com", res.MagicToken)
		assert.ErrorIs(t, err, auth.ErrMagicLinkInvalid, "tokens are single use")
	})

	t.Run("expired token", func(t *testing.T) {
		res, err := p.RequestMagicLink(ctx, "ada@example.com")
		require.NoError(t, err)

		now = now.Add(2 * time.Hour)

		_, err = p.ExchangeMagicLink(ctx, "ada@example.com", res.MagicToken)
		assert.ErrorIs(t, err, auth.ErrMagicLinkInvalid)
	})

	assert.Contains(t, events.types(), auth.ActivityEventMagicLinkRequested)
	assert.Contains(t, events.types(), auth.ActivityEventMagicLinkExchanged)
}

func TestProvisioner_InactiveProfile(t *testing.T) {
	store := newMemProfileStore()
	events := &recordedEvents{}
	p := auth.NewProvisioner(store,
		auth.WithActivitySink(events.sink()),
		auth.WithProvisionerLogger(&MockLogger{}),
	)
	ctx := context.Background()

	created, err := p.Provision(ctx, auth.ProvisionRequest{Email: "ada@example.com", Tier: "premium"})
	require.NoError(t, err)
	assert.True(t, created.Profile.IsActive)

	require.NoError(t, p.SetActive(ctx, "Ada@Example.com", false))
	assert.Contains(t, events.types(), auth.ActivityEventProfileDeactivated)

	_, err = p.ExchangeMagicLink(ctx, "ada@example.com", created.MagicToken)
	assert.ErrorIs(t, err, auth.ErrMagicLinkInvalid)

	_, err = p.RequestMagicLink(ctx, "ada@example.com")
	assert.ErrorIs(t, err, auth.ErrProfileNotFound)

	_, err = p.Provision(ctx, auth.ProvisionRequest{Email: "ada@example.com", Tier: "church_large"})
	require.NoError(t, err)
	profile, err := store.GetProfile(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.False(t, profile.IsActive, "webhook updates keep the flag")

	require.NoError(t, p.SetActive(ctx, "ada@example.com", true))
	profile, err = p.ExchangeMagicLink(ctx, "ada@example.com", created.MagicToken)
	require.NoError(t, err)
	assert.Equal(t, "church_large", profile.Tier)

	assert.ErrorIs(t, p.SetActive(ctx, "ghost@example.com", false), auth.ErrProfileNotFound)

	var provisionErr *auth.ProvisionError
	failing := auth.NewProvisioner(failingProfileStore{}, auth.WithProvisionerLogger(&MockLogger{}))
	assert.ErrorAs(t, failing.SetActive(ctx, "ada@example.com", false), &provisionErr)
}

func TestProvisioner_ReusableMagicLinks(t *testing.T) {
	p := auth.NewProvisioner(newMemProfileStore(),
		auth.WithSingleUseMagicLinks(false),
		auth.WithProvisionerLogger(&MockLogger{}),
	)
	ctx := context.Background()

	res, err := p.Provision(ctx, auth.ProvisionRequest{Email: "ada@example.com"})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := p.ExchangeMagicLink(ctx, "ada@example.com", res.MagicToken)
		require.NoError(t, err)
	}
}

func TestProvisioner_WelcomeNotifier(t *testing.T) {
	mailer := &recordingMailer{}
	notifier := auth.NewWelcomeNotifier(mailer, "https://learn.example.com", &MockLogger{})

	p := auth.NewProvisioner(newMemProfileStore(),
		auth.WithActivitySink(notifier),
		auth.WithProvisionerLogger(&MockLogger{}),
	)
	ctx := context.Background()

	res, err := p.Provision(ctx, auth.ProvisionRequest{Email: "ada@example.com", FirstName: "Ada"})
	require.NoError(t, err)

	_, err = p.Provision(ctx, auth.ProvisionRequest{Email: "ada@example.com"})
	require.NoError(t, err)

	sent := mailer.sent()
	require.Len(t, sent, 1, "updates send nothing")
	assert.True(t, sent[0].Welcome)
	assert.Equal(t, "ada@example.com", sent[0].Email)
	assert.Contains(t, sent[0].Link, "https://learn.example.com/api/auth/magic?")
	assert.Contains(t, sent[0].Link, "token="+res.MagicToken)

	_, err = p.RequestMagicLink(ctx, "ada@example.com")
	require.NoError(t, err)

	sent = mailer.sent()
	require.Len(t, sent, 2)
	assert.False(t, sent[1].Welcome)
}
