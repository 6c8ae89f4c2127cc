// Package trigger deduplicates externally triggered jobs so that a cron
// hitting the job endpoint more than once a day enqueues one job.
package trigger

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// Guard grants a key at most once per ttl.
type Guard interface {
	// TryOnce reports true for the first caller of key within ttl.
	TryOnce(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Forget drops key so a later TryOnce can succeed again.
	Forget(ctx context.Context, key string) error
}

// RedisGuard implements Guard with SET NX.
type RedisGuard struct {
	client *redis.Client
	prefix string
}

// NewRedisGuard creates a RedisGuard on an existing client.
func NewRedisGuard(client *redis.Client) *RedisGuard {
	return &RedisGuard{client: client, prefix: "outreach:trigger:"}
}

// NewRedisGuardFromURL parses a redis:// URL and connects.
func NewRedisGuardFromURL(ctx context.Context, url string) (*RedisGuard, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, eris.Wrap(err, "trigger: parse redis url")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, eris.Wrap(err, "trigger: ping redis")
	}
	return NewRedisGuard(client), nil
}

// TryOnce implements Guard.
func (g *RedisGuard) TryOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := g.client.SetNX(ctx, g.prefix+key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, eris.Wrapf(err, "trigger: set %s", key)
	}
	return ok, nil
}

// Forget implements Guard.
func (g *RedisGuard) Forget(ctx context.Context, key string) error {
	return eris.Wrapf(g.client.Del(ctx, g.prefix+key).Err(), "trigger: del %s", key)
}

// Close closes the underlying client.
func (g *RedisGuard) Close() error {
	return g.client.Close()
}

// JobChecker is the store query StoreGuard relies on.
type JobChecker interface {
	HasJobSince(ctx context.Context, jobType string, since time.Time) (bool, error)
}

// StoreGuard answers TryOnce from the job table: the key is granted when no
// job of its type was created inside the window. Two concurrent callers can
// both pass; the unique index on the daily job's payload date then rejects
// the second enqueue with store.ErrConflict.
type StoreGuard struct {
	store   JobChecker
	jobType string
	now     func() time.Time
}

// NewStoreGuard creates a StoreGuard for one job type.
func NewStoreGuard(st JobChecker, jobType string) *StoreGuard {
	return &StoreGuard{store: st, jobType: jobType, now: time.Now}
}

// TryOnce implements Guard. The window is the UTC day when ttl is a day or
// longer, otherwise the last ttl.
func (g *StoreGuard) TryOnce(ctx context.Context, _ string, ttl time.Duration) (bool, error) {
	now := g.now().UTC()
	since := now.Add(-ttl)
	if ttl >= 24*time.Hour {
		since = now.Truncate(24 * time.Hour)
	}
	exists, err := g.store.HasJobSince(ctx, g.jobType, since)
	if err != nil {
		return false, eris.Wrapf(err, "trigger: check %s jobs", g.jobType)
	}
	return !exists, nil
}

// Forget implements Guard. The job table is the record, so there is nothing
// to drop.
func (g *StoreGuard) Forget(context.Context, string) error { return nil }
