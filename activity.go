package auth

import (
	"context"
	"errors"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventProfileCreated     ActivityEventType = "profile.created"
	ActivityEventProfileUpdated     ActivityEventType = "profile.updated"
	ActivityEventMagicLinkRequested ActivityEventType = "magic_link.requested"
	ActivityEventMagicLinkExchanged ActivityEventType = "magic_link.exchanged"
	ActivityEventProfileActivated   ActivityEventType = "profile.activated"
	ActivityEventProfileDeactivated ActivityEventType = "profile.deactivated"
)

// ActivityEvent captures what happened to a profile.
// MagicToken is only set when a new plaintext token was generated.
type ActivityEvent struct {
	EventType      ActivityEventType
	ProfileID      string
	Email          string
	FirstName      string
	Tier           string
	Source         string
	MagicToken     string
	MagicExpiresAt *time.Time
	Metadata       map[string]any
	OccurredAt     time.Time
}

// ActivitySink consumes activity events. Delivery is best-effort, errors
// are logged by the caller and never fail the operation that emitted them.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

type activitySinks []ActivitySink

// CombineActivitySinks fans an event out to every sink
func CombineActivitySinks(sinks ...ActivitySink) ActivitySink {
	out := activitySinks{}
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}

	switch len(out) {
	case 0:
		return noopActivitySink{}
	case 1:
		return out[0]
	default:
		return out
	}
}

func (s activitySinks) Record(ctx context.Context, event ActivityEvent) error {
	var errs []error
	for _, sink := range s {
		if err := sink.Record(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
