// Package usercache is a read-through Redis cache in front of the durable
// user store.
//
// Reads never fail because of Redis: a broken cache degrades to a store
// lookup. Invalidation does fail loudly, since a stale entry could keep an
// old password digest alive.
//
// A reader that missed before a write may repopulate pre-write data after
// the invalidation. That window is accepted; no locking is used.
package usercache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"go-identity-service/internal/metrics"
	"go-identity-service/internal/model"
	"go-identity-service/internal/retry"
)

const (
	keyPrefix  = "user:"
	DefaultTTL = 12 * time.Hour
)

// Loader is the durable source of user records. It returns
// model.ErrUserNotFound for unknown usernames.
type Loader interface {
	GetByUsername(ctx context.Context, username string) (model.User, error)
}

type Options struct {
	TTL     time.Duration
	Retry   retry.Policy
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

type Cache struct {
	client  redis.Cmdable
	loader  Loader
	ttl     time.Duration
	retry   retry.Policy
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func New(client redis.Cmdable, loader Loader, opts Options) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Cache{
		client:  client,
		loader:  loader,
		ttl:     opts.TTL,
		retry:   opts.Retry,
		metrics: opts.Metrics,
		logger:  opts.Logger,
	}
}

func key(username string) string {
	return keyPrefix + model.UsernameKey(username)
}

// Get returns the user and whether it exists. Only loader failures are
// returned as errors.
func (c *Cache) Get(ctx context.Context, username string) (model.User, bool, error) {
	k := key(username)

	payload, err := c.client.Get(ctx, k).Bytes()
	switch {
	case err == nil:
		var u model.User
		decodeErr := json.Unmarshal(payload, &u)
		if decodeErr == nil {
			c.metrics.RecordCacheLookup("hit")
			return u, true, nil
		}
		c.logger.WarnContext(ctx, "discarding undecodable user cache entry", "key", k, "error", decodeErr)
		c.metrics.RecordCacheLookup("corrupt")
	case errors.Is(err, redis.Nil):
		c.metrics.RecordCacheLookup("miss")
	default:
		c.logger.WarnContext(ctx, "user cache read failed, using store", "key", k, "error", err)
		c.metrics.RecordCacheLookup("error")
	}

	u, err := retry.Do(ctx, c.retry, "user_lookup", func(ctx context.Context) (model.User, error) {
		return c.loader.GetByUsername(ctx, username)
	})
	if errors.Is(err, model.ErrUserNotFound) {
		return model.User{}, false, nil
	}
	if err != nil {
		return model.User{}, false, fmt.Errorf("load user: %w", err)
	}

	c.store(ctx, k, u)
	return u, true, nil
}

func (c *Cache) store(ctx context.Context, k string, u model.User) {
	payload, err := json.Marshal(u)
	if err != nil {
		c.logger.WarnContext(ctx, "encode user cache entry", "key", k, "error", err)
		return
	}

	if err := c.client.Set(ctx, k, payload, c.ttl).Err(); err != nil {
		c.logger.WarnContext(ctx, "user cache write failed", "key", k, "error", err)
	}
}

// Invalidate drops the cached entry for username. Every write path calls it
// before reporting success.
func (c *Cache) Invalidate(ctx context.Context, username string) error {
	k := key(username)
	return retry.Exec(ctx, c.retry, "user_invalidate", func(ctx context.Context) error {
		if err := c.client.Del(ctx, k).Err(); err != nil {
			return fmt.Errorf("%w: invalidate user cache: %v", model.ErrStorageUnavailable, err)
		}
		return nil
	})
}
