package auth_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	auth "github.com/goliatone/go-learner-auth"
	"github.com/goliatone/go-router"
)

// MockLogger records every call
type MockLogger struct {
	mu      sync.Mutex
	Entries []LogEntry
}

type LogEntry struct {
	Level string
	Msg   string
	Args  []any
}

func (m *MockLogger) Debug(msg string, args ...any) { m.log("debug", msg, args) }
func (m *MockLogger) Info(msg string, args ...any)  { m.log("info", msg, args) }
func (m *MockLogger) Warn(msg string, args ...any)  { m.log("warn", msg, args) }
func (m *MockLogger) Error(msg string, args ...any) { m.log("error", msg, args) }

func (m *MockLogger) log(level, msg string, args []any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Entries = append(m.Entries, LogEntry{Level: level, Msg: msg, Args: args})
}

// Messages returns the messages logged at level
func (m *MockLogger) Messages(level string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []string{}
	for _, e := range m.Entries {
		if e.Level == level {
			out = append(out, e.Msg)
		}
	}
	return out
}

// memProfileStore keeps profiles in a map with the same update rules as
// the bun store
type memProfileStore struct {
	mu       sync.Mutex
	profiles map[string]*auth.Profile
	seq      int
	upserts  int
	base     time.Time
}

func newMemProfileStore() *memProfileStore {
	return &memProfileStore{
		profiles: map[string]*auth.Profile{},
		base:     time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (s *memProfileStore) UpsertProfile(_ context.Context, profile *auth.Profile) (bool, *auth.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.upserts++
	s.seq++
	now := s.base.Add(time.Duration(s.seq) * time.Second)

	email := auth.NormalizeEmail(profile.Email)
	existing, ok := s.profiles[email]
	if !ok {
		record := *profile
		record.Email = email
		record.CreatedAt = now
		record.UpdatedAt = now
		s.profiles[email] = &record
		out := record
		return true, &out, nil
	}

	existing.Tier = profile.Tier
	existing.TierLevel = profile.TierLevel
	existing.SubscriptionStatus = profile.SubscriptionStatus
	switch {
	case !profile.IsTrial:
		existing.TrialEndsAt = nil
	case !existing.IsTrial || existing.TrialEndsAt == nil:
		existing.TrialEndsAt = profile.TrialEndsAt
	}
	existing.IsTrial = profile.IsTrial
	existing.UpdatedVia = profile.UpdatedVia
	existing.UpdatedAt = now
	if profile.FirstName != "" {
		existing.FirstName = profile.FirstName
	}
	if profile.LastName != "" {
		existing.LastName = profile.LastName
	}

	out := *existing
	return false, &out, nil
}

func (s *memProfileStore) GetProfile(_ context.Context, email string) (*auth.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[auth.NormalizeEmail(email)]
	if !ok {
		return nil, auth.ErrProfileNotFound
	}
	out := *p
	return &out, nil
}

func (s *memProfileStore) UpdateMagicToken(_ context.Context, email, hash string, expiresAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[auth.NormalizeEmail(email)]
	if !ok {
		return auth.ErrProfileNotFound
	}
	p.MagicTokenHash = hash
	p.MagicTokenExpiresAt = expiresAt
	return nil
}

func (s *memProfileStore) RecentProfiles(_ context.Context, sources []string, limit int) ([]*auth.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	allowed := map[string]bool{}
	for _, src := range sources {
		allowed[src] = true
	}

	out := []*auth.Profile{}
	for _, p := range s.profiles {
		if len(allowed) > 0 && !allowed[p.CreatedVia] {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memProfileStore) SetProfileActive(_ context.Context, email string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[auth.NormalizeEmail(email)]
	if !ok {
		return auth.ErrProfileNotFound
	}
	p.IsActive = active
	return nil
}

func (s *memProfileStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.profiles)
}

var errStoreDown = errors.New("store unavailable")

// failingProfileStore fails every call
type failingProfileStore struct{}

func (failingProfileStore) UpsertProfile(context.Context, *auth.Profile) (bool, *auth.Profile, error) {
	return false, nil, errStoreDown
}

func (failingProfileStore) GetProfile(context.Context, string) (*auth.Profile, error) {
	return nil, errStoreDown
}

func (failingProfileStore) UpdateMagicToken(context.Context, string, string, *time.Time) error {
	return errStoreDown
}

func (failingProfileStore) RecentProfiles(context.Context, []string, int) ([]*auth.Profile, error) {
	return nil, errStoreDown
}

func (failingProfileStore) SetProfileActive(context.Context, string, bool) error {
	return errStoreDown
}

// failingAuditLog rejects appends
type failingAuditLog struct {
	auth.AuditLog
}

func (failingAuditLog) Append(context.Context, auth.AuditEntry) error {
	return errors.New("audit unavailable")
}

// recordingMailer keeps sent messages
type recordingMailer struct {
	mu       sync.Mutex
	messages []auth.MagicLinkMessage
}

func (m *recordingMailer) SendMagicLink(_ context.Context, msg auth.MagicLinkMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return nil
}

func (m *recordingMailer) sent() []auth.MagicLinkMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]auth.MagicLinkMessage(nil), m.messages...)
}

// routerContext lets fakeContext embed router.Context while declaring its
// own Context method
type routerContext = router.Context

// fakeContext implements the parts of router.Context the handlers use.
// Calling anything else panics on the nil embedded interface.
type fakeContext struct {
	routerContext

	reqCtx  context.Context
	method  string
	body    []byte
	headers map[string]string
	query   map[string]string
	cookies map[string]string
	locals  map[any]any

	status         int
	jsonBody       any
	sent           string
	sentString     bool
	redirect       string
	redirectStatus int
	respHeaders    map[string]string
	setCookies     []*router.Cookie
}

func newFakeContext(method string) *fakeContext {
	return &fakeContext{
		reqCtx:      context.Background(),
		method:      method,
		headers:     map[string]string{},
		query:       map[string]string{},
		cookies:     map[string]string{},
		locals:      map[any]any{auth.ClientIPLocalsKey: "10.0.0.1"},
		respHeaders: map[string]string{},
	}
}

func (f *fakeContext) withBody(body string) *fakeContext {
	f.body = []byte(body)
	return f
}

func (f *fakeContext) withCookie(name, value string) *fakeContext {
	f.cookies[name] = value
	return f
}

// carry returns a new request with the cookies the response left set,
// the way a browser would.
func (f *fakeContext) carry(method string) *fakeContext {
	next := newFakeContext(method)
	for k, v := range f.cookies {
		next.cookies[k] = v
	}
	for _, c := range f.setCookies {
		if c.MaxAge < 0 || c.Value == "" {
			delete(next.cookies, c.Name)
			continue
		}
		next.cookies[c.Name] = c.Value
	}
	return next
}

func (f *fakeContext) Context() context.Context       { return f.reqCtx }
func (f *fakeContext) SetContext(ctx context.Context) { f.reqCtx = ctx }
func (f *fakeContext) Method() string                 { return f.method }
func (f *fakeContext) Body() []byte                   { return f.body }

func (f *fakeContext) Header(key string) string {
	for k, v := range f.headers {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

func (f *fakeContext) SetHeader(key, val string) router.Context {
	f.respHeaders[key] = val
	return f
}

func (f *fakeContext) Status(code int) router.Context {
	f.status = code
	return f
}

func (f *fakeContext) JSON(code int, val any) error {
	f.status = code
	f.jsonBody = val
	return nil
}

func (f *fakeContext) SendString(s string) error {
	if f.status == 0 {
		f.status = 200
	}
	f.sent = s
	f.sentString = true
	return nil
}

func (f *fakeContext) Redirect(path string, status ...int) error {
	f.redirect = path
	f.redirectStatus = 302
	if len(status) > 0 {
		f.redirectStatus = status[0]
	}
	f.status = f.redirectStatus
	return nil
}

func (f *fakeContext) Cookie(cookie *router.Cookie) {
	f.setCookies = append(f.setCookies, cookie)
}

func (f *fakeContext) Cookies(key string, defaultValue ...string) string {
	if v, ok := f.cookies[key]; ok {
		return v
	}
	if len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return ""
}

func (f *fakeContext) Query(key, defaultValue string) string {
	if v, ok := f.query[key]; ok {
		return v
	}
	return defaultValue
}

func (f *fakeContext) Locals(key any, value ...any) any {
	if len(value) > 0 {
		f.locals[key] = value[0]
		return value[0]
	}
	return f.locals[key]
}

// written returns the last cookie written with name
func (f *fakeContext) written(name string) *router.Cookie {
	for i := len(f.setCookies) - 1; i >= 0; i-- {
		if f.setCookies[i].Name == name {
			return f.setCookies[i]
		}
	}
	return nil
}

func (f *fakeContext) payload() router.ViewContext {
	body, ok := f.jsonBody.(router.ViewContext)
	if !ok {
		panic(fmt.Sprintf("unexpected json body %T", f.jsonBody))
	}
	return body
}
