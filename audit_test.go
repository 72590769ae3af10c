package auth_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	auth "github.com/goliatone/go-learner-auth"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entryFor(i int) auth.AuditEntry {
	e := auth.NewAuditEntry("membership.tag_added", time.Unix(int64(i), 0))
	e.Email = fmt.Sprintf("user%d@example.com", i)
	e.Outcome = auth.AuditCreated
	return e
}

func newRedisAuditLog(t *testing.T, capacity int) *auth.RedisAuditLog {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return auth.NewRedisAuditLog(client, "test:audit", capacity)
}

func TestAuditLogs_Bounded(t *testing.T) {
	logs := map[string]func(t *testing.T) auth.AuditLog{
		"ring":  func(t *testing.T) auth.AuditLog { return auth.NewRingAuditLog(0) },
		"redis": func(t *testing.T) auth.AuditLog { return newRedisAuditLog(t, 0) },
	}

	for name, build := range logs {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			log := build(t)

			for i := 1; i <= 51; i++ {
				require.NoError(t, log.Append(ctx, entryFor(i)))
			}

			entries, err := log.Snapshot(ctx)
			require.NoError(t, err)
			require.Len(t, entries, auth.DefaultAuditCapacity)

			assert.Equal(t, "user51@example.com", entries[0].Email)
			assert.Equal(t, "user2@example.com", entries[len(entries)-1].Email)
			for _, e := range entries {
				assert.NotEqual(t, "user1@example.com", e.Email)
			}
		})
	}
}

func TestAuditLogs_NewestFirstAndClear(t *testing.T) {
	logs := map[string]func(t *testing.T) auth.AuditLog{
		"ring":  func(t *testing.T) auth.AuditLog { return auth.NewRingAuditLog(5) },
		"redis": func(t *testing.T) auth.AuditLog { return newRedisAuditLog(t, 5) },
	}

	for name, build := range logs {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			log := build(t)

			empty, err := log.Snapshot(ctx)
			require.NoError(t, err)
			assert.Empty(t, empty)

			for i := 1; i <= 3; i++ {
				require.NoError(t, log.Append(ctx, entryFor(i)))
			}

			entries, err := log.Snapshot(ctx)
			require.NoError(t, err)
			require.Len(t, entries, 3)
			assert.Equal(t, "user3@example.com", entries[0].Email)
			assert.Equal(t, "user1@example.com", entries[2].Email)

			require.NoError(t, log.Clear(ctx))
			require.NoError(t, log.Clear(ctx))

			entries, err = log.Snapshot(ctx)
			require.NoError(t, err)
			assert.Empty(t, entries)

			require.NoError(t, log.Append(ctx, entryFor(9)))
			entries, err = log.Snapshot(ctx)
			require.NoError(t, err)
			require.Len(t, entries, 1)
			assert.Equal(t, "user9@example.com", entries[0].Email)
		})
	}
}

func TestRingAuditLog_SnapshotIsCopy(t *testing.T) {
	ctx := context.Background()
	log := auth.NewRingAuditLog(3)
	require.NoError(t, log.Append(ctx, entryFor(1)))

	entries, err := log.Snapshot(ctx)
	require.NoError(t, err)
	entries[0].Email = "changed@example.com"

	again, err := log.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "user1@example.com", again[0].Email)
}

func TestRingAuditLog_Concurrent(t *testing.T) {
	ctx := context.Background()
	log := auth.NewRingAuditLog(10)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = log.Append(ctx, entryFor(i))
			_, _ = log.Snapshot(ctx)
		}(i)
	}
	wg.Wait()

	entries, err := log.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 10)
	assert.Equal(t, 10, log.Capacity())
}

func TestRedisAuditLog_RoundTripsFields(t *testing.T) {
	ctx := context.Background()
	log := newRedisAuditLog(t, 5)

	entry := entryFor(7)
	entry.Tags = []string{"premium"}
	entry.DetectedTier = "premium"
	entry.UserCreated = true
	entry.RawPayload = []byte(`{"email":"user7@example.com"}`)
	entry = entry.WithError(errors.New("boom"))

	require.NoError(t, log.Append(ctx, entry))

	entries, err := log.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	got := entries[0]
	assert.Equal(t, entry.ID, got.ID)
	assert.True(t, entry.Timestamp.Equal(got.Timestamp))
	assert.Equal(t, []string{"premium"}, got.Tags)
	assert.True(t, got.UserCreated)
	require.NotNil(t, got.Error)
	assert.Equal(t, "boom", *got.Error)
	assert.JSONEq(t, `{"email":"user7@example.com"}`, string(got.RawPayload))
}
