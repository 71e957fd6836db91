// Package rediscache shares the learned retry snapshot among workers through Redis.
package rediscache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/velmie/pipeline-outbox/retrylearn"
)

const (
	// DefaultKey is the Redis key holding the snapshot.
	DefaultKey = "pipeline:retrylearn:snapshot"
	// DefaultTTL expires snapshots nobody refreshes any more.
	DefaultTTL = 10 * time.Minute
)

// ErrClientRequired is returned when a nil client is provided.
var ErrClientRequired = errors.New("rediscache: redis client is required")

// Option configures a Cache.
type Option func(*Cache)

// WithKey sets the Redis key.
func WithKey(key string) Option {
	return func(c *Cache) {
		if key != "" {
			c.key = key
		}
	}
}

// WithTTL sets the key expiry.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// Cache implements retrylearn.Cache with a JSON encoded snapshot under one key.
type Cache struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

var _ retrylearn.Cache = (*Cache)(nil)

// New constructs a Cache.
func New(client redis.UniversalClient, opts ...Option) (*Cache, error) {
	if client == nil {
		return nil, ErrClientRequired
	}

	c := &Cache{client: client, key: DefaultKey, ttl: DefaultTTL}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Load implements retrylearn.Cache.
func (c *Cache) Load(ctx context.Context) (retrylearn.Snapshot, bool, error) {
	data, err := c.client.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return retrylearn.Snapshot{}, false, nil
	}
	if err != nil {
		return retrylearn.Snapshot{}, false, fmt.Errorf("rediscache: get %s: %w", c.key, err)
	}

	var snapshot retrylearn.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return retrylearn.Snapshot{}, false, fmt.Errorf("rediscache: decode snapshot: %w", err)
	}

	return snapshot, true, nil
}

// Store implements retrylearn.Cache.
func (c *Cache) Store(ctx context.Context, snapshot retrylearn.Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("rediscache: encode snapshot: %w", err)
	}
	if err := c.client.Set(ctx, c.key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("rediscache: set %s: %w", c.key, err)
	}

	return nil
}
