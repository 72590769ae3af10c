package auth

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultAuditKey is the Redis list the audit log is stored in
const DefaultAuditKey = "learnauth:webhook_audit"

// RedisAuditLog keeps the most recent entries in a capped Redis list,
// newest at the head. Entries survive restarts and are shared by every
// process pointing at the same key.
type RedisAuditLog struct {
	client   redis.UniversalClient
	key      string
	capacity int
}

var _ AuditLog = (*RedisAuditLog)(nil)

// NewRedisAuditLog creates a log on key holding capacity entries
func NewRedisAuditLog(client redis.UniversalClient, key string, capacity int) *RedisAuditLog {
	if key == "" {
		key = DefaultAuditKey
	}
	if capacity <= 0 {
		capacity = DefaultAuditCapacity
	}
	return &RedisAuditLog{client: client, key: key, capacity: capacity}
}

// NewRedisAuditLogWithURL connects using a redis:// URL
func NewRedisAuditLogWithURL(url, key string, capacity int) (*RedisAuditLog, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisAuditLog(redis.NewClient(opts), key, capacity), nil
}

// Append pushes entry and trims the list in one transaction
func (r *RedisAuditLog) Append(ctx context.Context, entry AuditEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode audit entry: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, r.key, payload)
		pipe.LTrim(ctx, r.key, 0, int64(r.capacity-1))
		return nil
	})
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// Snapshot returns the stored entries, newest first
func (r *RedisAuditLog) Snapshot(ctx context.Context) ([]AuditEntry, error) {
	raw, err := r.client.LRange(ctx, r.key, 0, int64(r.capacity-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read audit entries: %w", err)
	}

	out := make([]AuditEntry, 0, len(raw))
	for _, item := range raw {
		var entry AuditEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			return nil, fmt.Errorf("decode audit entry: %w", err)
		}
		out = append(out, entry)
	}
	return out, nil
}

// Clear removes the list
func (r *RedisAuditLog) Clear(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("clear audit entries: %w", err)
	}
	return nil
}

// Ping checks the connection
func (r *RedisAuditLog) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the underlying client
func (r *RedisAuditLog) Close() error {
	return r.client.Close()
}
