// Package cache provides a thin connected client for the external key-value
// store that the transfer-processing engine writes its documents to.
//
// The client carries no retry policy of its own. A failed operation surfaces
// as ErrCacheUnavailable and the caller decides whether to retry; for the
// sync engine that means aborting the current pass and letting the next
// scheduled pass try again.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ErrCacheUnavailable is returned for every operation attempted before
// Connect succeeds, after Disconnect, or when the transport fails.
var ErrCacheUnavailable = errors.New("cache unavailable")

// Config holds connection settings for the key-value store.
type Config struct {
	// Addr is the host:port of the store.
	Addr string
	// Password is optional.
	Password string
	// DB selects the logical database number.
	DB int
	// Logger for connection lifecycle and transport errors. A nil logger
	// falls back to the logrus standard logger.
	Logger logrus.FieldLogger
}

// Client is a single logical connection to the key-value store.
type Client struct {
	cfg Config
	log logrus.FieldLogger

	mu  sync.Mutex
	rdb *redis.Client
}

// NewClient creates an unconnected client. Call Connect before use.
func NewClient(cfg Config) *Client {
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Client{cfg: cfg, log: log.WithField("component", "cache")}
}

// Connect establishes the connection and verifies it with a ping.
// It fails fast if a connection already exists.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rdb != nil {
		return fmt.Errorf("cache client already connected to %s", c.cfg.Addr)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     c.cfg.Addr,
		Password: c.cfg.Password,
		DB:       c.cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		c.log.WithError(err).Error("cache connection failed")
		return fmt.Errorf("%w: connect %s: %v", ErrCacheUnavailable, c.cfg.Addr, err)
	}

	c.rdb = rdb
	c.log.WithField("addr", c.cfg.Addr).Info("cache connection ready")
	return nil
}

// Disconnect closes the connection. Safe to call when not connected.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rdb == nil {
		return nil
	}
	err := c.rdb.Close()
	c.rdb = nil
	if err != nil {
		return fmt.Errorf("failed to close cache connection: %w", err)
	}
	return nil
}

func (c *Client) conn() (*redis.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rdb == nil {
		return nil, fmt.Errorf("%w: not connected", ErrCacheUnavailable)
	}
	return c.rdb, nil
}

// Get fetches one key. The second return value is false when the key does
// not exist, which is not an error.
func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	rdb, err := c.conn()
	if err != nil {
		return "", false, err
	}
	val, err := rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		c.log.WithError(err).WithField("key", key).Error("cache get failed")
		return "", false, fmt.Errorf("%w: get %s: %v", ErrCacheUnavailable, key, err)
	}
	return val, true, nil
}

// Set writes one key. Used by non-core collaborators only; the sync engine
// never writes to the cache.
func (c *Client) Set(ctx context.Context, key, value string) error {
	rdb, err := c.conn()
	if err != nil {
		return err
	}
	if err := rdb.Set(ctx, key, value, 0).Err(); err != nil {
		c.log.WithError(err).WithField("key", key).Error("cache set failed")
		return fmt.Errorf("%w: set %s: %v", ErrCacheUnavailable, key, err)
	}
	return nil
}

// Del removes one key.
func (c *Client) Del(ctx context.Context, key string) error {
	rdb, err := c.conn()
	if err != nil {
		return err
	}
	if err := rdb.Del(ctx, key).Err(); err != nil {
		c.log.WithError(err).WithField("key", key).Error("cache del failed")
		return fmt.Errorf("%w: del %s: %v", ErrCacheUnavailable, key, err)
	}
	return nil
}

// Keys lists all keys matching a glob-style pattern.
func (c *Client) Keys(ctx context.Context, pattern string) ([]string, error) {
	rdb, err := c.conn()
	if err != nil {
		return nil, err
	}
	keys, err := rdb.Keys(ctx, pattern).Result()
	if err != nil {
		c.log.WithError(err).WithField("pattern", pattern).Error("cache keys failed")
		return nil, fmt.Errorf("%w: keys %s: %v", ErrCacheUnavailable, pattern, err)
	}
	return keys, nil
}
