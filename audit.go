package auth

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultAuditCapacity is the number of entries kept by the audit logs
const DefaultAuditCapacity = 50

// AuditOutcome is the result recorded for a webhook event
type AuditOutcome string

const (
	AuditCreated  AuditOutcome = "created"
	AuditUpdated  AuditOutcome = "updated"
	AuditRejected AuditOutcome = "rejected"
	AuditFailed   AuditOutcome = "failed"
)

// AuditEntry describes one processed webhook event
type AuditEntry struct {
	ID           string          `json:"id"`
	Timestamp    time.Time       `json:"timestamp"`
	EventType    string          `json:"event_type"`
	Email        string          `json:"email,omitempty"`
	Tags         []string        `json:"tags"`
	DetectedTier string          `json:"detected_tier,omitempty"`
	UserCreated  bool            `json:"user_created"`
	Outcome      AuditOutcome    `json:"outcome"`
	Error        *string         `json:"error"`
	RawPayload   json.RawMessage `json:"raw_payload,omitempty"`
}

// NewAuditEntry returns an entry with id and timestamp set
func NewAuditEntry(eventType string, now time.Time) AuditEntry {
	return AuditEntry{
		ID:        uuid.NewString(),
		Timestamp: now.UTC(),
		EventType: eventType,
		Tags:      []string{},
	}
}

// WithError sets the error message, nil clears it
func (e AuditEntry) WithError(err error) AuditEntry {
	if err == nil {
		e.Error = nil
		return e
	}
	msg := err.Error()
	e.Error = &msg
	return e
}

// RingAuditLog keeps the most recent entries in a fixed size ring.
// Entries live in process memory only and are lost on restart.
type RingAuditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
	head    int
	count   int
}

var _ AuditLog = (*RingAuditLog)(nil)

// NewRingAuditLog creates a ring holding capacity entries.
// A capacity <= 0 uses DefaultAuditCapacity.
func NewRingAuditLog(capacity int) *RingAuditLog {
	if capacity <= 0 {
		capacity = DefaultAuditCapacity
	}
	return &RingAuditLog{entries: make([]AuditEntry, capacity)}
}

// Capacity returns the maximum number of entries kept
func (r *RingAuditLog) Capacity() int {
	return len(r.entries)
}

// Append stores entry, overwriting the oldest one when full
func (r *RingAuditLog) Append(_ context.Context, entry AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[r.head] = entry
	r.head = (r.head + 1) % len(r.entries)
	if r.count < len(r.entries) {
		r.count++
	}
	return nil
}

// Snapshot returns a copy of the entries, newest first
func (r *RingAuditLog) Snapshot(_ context.Context) ([]AuditEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]AuditEntry, 0, r.count)
	size := len(r.entries)
	for i := 1; i <= r.count; i++ {
		out = append(out, r.entries[(r.head-i+size)%size])
	}
	return out, nil
}

// Clear drops every entry
func (r *RingAuditLog) Clear(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.entries {
		r.entries[i] = AuditEntry{}
	}
	r.head = 0
	r.count = 0
	return nil
}
