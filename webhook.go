package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/goliatone/go-print"
)

// WebhookSignatureHeader carries the hex HMAC-SHA256 of the request body
const WebhookSignatureHeader = "X-Webhook-Signature"

const (
	unknownEventType  = "unknown"
	maxAuditedPayload = 8 << 10
)

// MembershipEvent is a webhook payload reduced to the fields we act on
type MembershipEvent struct {
	EventType string
	Email     string
	FirstName string
	LastName  string
	Tags      []string
	Trial     bool
}

// Validate implements validation.Validatable
func (e MembershipEvent) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Email, validation.Required, is.Email),
	)
}

type webhookField struct {
	Slug  string          `json:"slug"`
	Value json.RawMessage `json:"value"`
}

type webhookPerson struct {
	Email     string         `json:"email"`
	FirstName string         `json:"first_name"`
	LastName  string         `json:"last_name"`
	Tags      webhookTagList `json:"tags"`
	Fields    []webhookField `json:"fields"`
}

type webhookPayload struct {
	EventType string         `json:"event_type"`
	Type      string         `json:"type"`
	Email     string         `json:"email"`
	FirstName string         `json:"first_name"`
	LastName  string         `json:"last_name"`
	Tags      webhookTagList `json:"tags"`
	TagName   string         `json:"tag_name"`
	Tag       *struct {
		Name string `json:"name"`
	} `json:"tag"`
	Contact  *webhookPerson `json:"contact"`
	Customer *webhookPerson `json:"customer"`
	Order    *struct {
		IsTrial bool `json:"is_trial"`
	} `json:"order"`
}

// webhookTagList accepts tags as strings, {id,name} objects or a comma
// separated string.
type webhookTagList []string

func (l *webhookTagList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		for _, tag := range strings.Split(single, ",") {
			l.add(tag)
		}
		return nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("tags: %w", err)
	}

	for _, item := range items {
		var name string
		if err := json.Unmarshal(item, &name); err == nil {
			l.add(name)
			continue
		}

		var obj struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(item, &obj); err == nil {
			l.add(obj.Name)
		}
	}
	return nil
}

func (l *webhookTagList) add(tag string) {
	if tag = strings.TrimSpace(tag); tag != "" {
		*l = append(*l, tag)
	}
}

// ParseMembershipEvent decodes a webhook body. Any body that can never be
// processed returns an error wrapping ErrBadPayload.
func ParseMembershipEvent(raw []byte) (MembershipEvent, error) {
	var payload webhookPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return MembershipEvent{}, fmt.Errorf("%w: %w", ErrBadPayload, err)
	}

	event := MembershipEvent{
		EventType: firstNonEmpty(payload.EventType, payload.Type, unknownEventType),
		Trial:     payload.Order != nil && payload.Order.IsTrial,
	}

	people := []*webhookPerson{payload.Contact, payload.Customer}
	top := &webhookPerson{
		Email:     payload.Email,
		FirstName: payload.FirstName,
		LastName:  payload.LastName,
		Tags:      payload.Tags,
	}
	people = append(people, top)

	seen := map[string]bool{}
	addTag := func(tag string) {
		tag = strings.TrimSpace(tag)
		key := strings.ToLower(tag)
		if tag == "" || seen[key] {
			return
		}
		seen[key] = true
		event.Tags = append(event.Tags, tag)
	}

	for _, person := range people {
		if person == nil {
			continue
		}

		first, last := person.names()
		if event.Email == "" {
			event.Email = NormalizeEmail(person.Email)
		}
		if event.FirstName == "" {
			event.FirstName = first
		}
		if event.LastName == "" {
			event.LastName = last
		}
		for _, tag := range person.Tags {
			addTag(tag)
		}
	}

	addTag(payload.TagName)
	if payload.Tag != nil {
		addTag(payload.Tag.Name)
	}

	if event.Tags == nil {
		event.Tags = []string{}
	}

	if err := event.Validate(); err != nil {
		return event, fmt.Errorf("%w: %w", ErrBadPayload, err)
	}

	return event, nil
}

func (p *webhookPerson) names() (string, string) {
	first, last := strings.TrimSpace(p.FirstName), strings.TrimSpace(p.LastName)
	for _, f := range p.Fields {
		var value string
		if err := json.Unmarshal(f.Value, &value); err != nil {
			continue
		}
		switch strings.ToLower(f.Slug) {
		case "first_name":
			if first == "" {
				first = strings.TrimSpace(value)
			}
		case "surname", "last_name":
			if last == "" {
				last = strings.TrimSpace(value)
			}
		}
	}
	return first, last
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// IngestResult summarises a processed webhook
type IngestResult struct {
	Email   string
	Tier    string
	Created bool
	// Ignored is set for payloads that can never be processed
	Ignored bool
	Outcome AuditOutcome
	Entry   AuditEntry
	Profile *Profile
}

// WebhookIngestor runs membership events through tier detection,
// provisioning and auditing.
type WebhookIngestor struct {
	provisioner *Provisioner
	audit       AuditLog
	rules       TierRules
	source      string
	secret      []byte
	now         func() time.Time
	logger      Logger
}

// WebhookOption configures a WebhookIngestor
type WebhookOption func(*WebhookIngestor)

// WithWebhookSource sets the source recorded on provisioned profiles
func WithWebhookSource(source string) WebhookOption {
	return func(w *WebhookIngestor) {
		if source != "" {
			w.source = source
		}
	}
}

// WithWebhookSecret enables signature verification
func WithWebhookSecret(secret string) WebhookOption {
	return func(w *WebhookIngestor) {
		w.secret = []byte(secret)
	}
}

// WithWebhookClock sets the time source for audit entries and durations
func WithWebhookClock(now func() time.Time) WebhookOption {
	return func(w *WebhookIngestor) {
		if now != nil {
			w.now = now
		}
	}
}

// WithWebhookLogger sets the logger
func WithWebhookLogger(logger Logger) WebhookOption {
	return func(w *WebhookIngestor) {
		w.logger = logger
	}
}

// NewWebhookIngestor creates an ingestor. Tier detection uses the
// provisioner's tier table.
func NewWebhookIngestor(provisioner *Provisioner, audit AuditLog, opts ...WebhookOption) *WebhookIngestor {
	w := &WebhookIngestor{
		provisioner: provisioner,
		audit:       audit,
		rules:       provisioner.Rules(),
		source:      SourceWebhook,
		now:         time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}

	if w.audit == nil {
		w.audit = NewRingAuditLog(DefaultAuditCapacity)
	}
	w.logger = normalizeLogger(w.logger)

	return w
}

// RequiresSignature reports whether a secret is configured
func (w *WebhookIngestor) RequiresSignature() bool {
	return len(w.secret) > 0
}

// Rules returns the tier table used for detection
func (w *WebhookIngestor) Rules() TierRules {
	return w.rules
}

// Audit returns the audit log entries are written to
func (w *WebhookIngestor) Audit() AuditLog {
	return w.audit
}

// VerifyAndIngest checks signature when a secret is configured and then
// runs Ingest. A mismatch is audited as rejected and returns
// ErrWebhookSignature.
func (w *WebhookIngestor) VerifyAndIngest(ctx context.Context, raw []byte, signature string) (*IngestResult, error) {
	if w.RequiresSignature() {
		if err := VerifyWebhookSignature(w.secret, raw, signature); err != nil {
			started := w.now()
			entry := w.newEntry(raw, started)
			if event, perr := ParseMembershipEvent(raw); perr == nil || event.Email != "" {
				entry.EventType = event.EventType
				entry.Email = event.Email
				entry.Tags = event.Tags
			}
			entry.Outcome = AuditRejected
			entry = entry.WithError(err)

			result := &IngestResult{Email: entry.Email, Outcome: AuditRejected}
			w.finish(ctx, result, entry, started)
			return result, err
		}
	}

	return w.Ingest(ctx, raw)
}

// Ingest processes one webhook body. Exactly one audit entry is written for
// every call. Bodies that can never be processed return an error wrapping
// ErrBadPayload, storage failures return a *ProvisionError.
func (w *WebhookIngestor) Ingest(ctx context.Context, raw []byte) (*IngestResult, error) {
	started := w.now()
	entry := w.newEntry(raw, started)

	if len(bytes.TrimSpace(raw)) == 0 {
		entry.Outcome = AuditRejected
		entry = entry.WithError(ErrEmptyPayload)
		result := &IngestResult{Outcome: AuditRejected}
		w.finish(ctx, result, entry, started)
		return result, ErrEmptyPayload
	}

	event, err := ParseMembershipEvent(raw)
	if event.EventType != "" {
		entry.EventType = event.EventType
	}
	entry.Email = event.Email
	if event.Tags != nil {
		entry.Tags = event.Tags
	}

	if err != nil {
		w.logger.Warn("webhook payload ignored", "error", err)
		w.logger.Debug("webhook payload", "payload", print.MaybePrettyJSON(entry.RawPayload))

		entry.Outcome = AuditRejected
		entry = entry.WithError(err)
		result := &IngestResult{Email: event.Email, Ignored: true, Outcome: AuditRejected}
		w.finish(ctx, result, entry, started)
		return result, err
	}

	tier := w.rules.Detect(event.Tags)
	entry.DetectedTier = tier

	res, err := w.provisioner.Provision(ctx, ProvisionRequest{
		Email:     event.Email,
		FirstName: event.FirstName,
		LastName:  event.LastName,
		Tier:      tier,
		Source:    w.source,
		Trial:     event.Trial,
	})
	if err != nil {
		w.logger.Error("webhook provisioning failed", "email", event.Email, "tier", tier, "error", err)

		entry.Outcome = AuditFailed
		entry = entry.WithError(err)
		result := &IngestResult{Email: event.Email, Tier: tier, Outcome: AuditFailed}
		w.finish(ctx, result, entry, started)
		return result, err
	}

	entry.UserCreated = res.Created
	entry.Outcome = AuditUpdated
	if res.Created {
		entry.Outcome = AuditCreated
	}

	result := &IngestResult{
		Email:   event.Email,
		Tier:    tier,
		Created: res.Created,
		Outcome: entry.Outcome,
		Profile: res.Profile,
	}
	w.finish(ctx, result, entry, started)

	return result, nil
}

func (w *WebhookIngestor) newEntry(raw []byte, at time.Time) AuditEntry {
	entry := NewAuditEntry(unknownEventType, at)
	entry.RawPayload = auditPayload(raw)
	return entry
}

func (w *WebhookIngestor) finish(ctx context.Context, result *IngestResult, entry AuditEntry, started time.Time) {
	result.Entry = entry
	recordWebhook(entry.Outcome, w.now().Sub(started))

	// the audit write must not be cancelled with the request
	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()

	if err := w.audit.Append(auditCtx, entry); err != nil {
		auditAppendFailures.Inc()
		w.logger.Error("audit append failed", "entry", entry.ID, "error", err)
	}
}

func auditPayload(raw []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil
	}

	if len(trimmed) <= maxAuditedPayload && json.Valid(trimmed) {
		return json.RawMessage(append([]byte(nil), trimmed...))
	}

	if len(trimmed) > maxAuditedPayload {
		trimmed = trimmed[:maxAuditedPayload]
	}

	quoted, err := json.Marshal(string(trimmed))
	if err != nil {
		return nil
	}
	return quoted
}

// IsIgnorable reports whether err means the webhook should be acknowledged
// without retry
func IsIgnorable(err error) bool {
	return errors.Is(err, ErrBadPayload)
}
