// Package cache implements the ephemeral tier: a Redis-backed key/value store
// with per-entry TTLs. It is never the source of truth.
//
// A single client is created lazily on first use and shared by all callers.
// Before every operation the store pings the server; when the ping fails it
// keeps reconnecting with exponential backoff (capped delay, no attempt cap)
// until the caller's context gives up. go-redis' own per-command retries are
// disabled so this loop is the only retry policy at this layer.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

var (
	// ErrMiss is returned by Get when the key does not exist or has expired.
	ErrMiss = errors.New("cache miss")

	// ErrUnavailable is returned when no live connection could be
	// established before the context ended.
	ErrUnavailable = errors.New("cache unavailable")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("cache closed")
)

// Options configures a Store.
type Options struct {
	Addr     string
	Password string
	DB       int

	// DialTimeout bounds a single connection attempt.
	DialTimeout time.Duration
	// OpTimeout applies when the caller's context carries no deadline.
	OpTimeout time.Duration
	// MinBackoff is the first reconnect delay; it doubles up to MaxBackoff.
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

func (o Options) withDefaults() Options {
	if o.DialTimeout <= 0 {
		o.DialTimeout = 2 * time.Second
	}
	if o.OpTimeout <= 0 {
		o.OpTimeout = 2 * time.Second
	}
	if o.MinBackoff <= 0 {
		o.MinBackoff = 100 * time.Millisecond
	}
	if o.MaxBackoff < o.MinBackoff {
		o.MaxBackoff = max(3*time.Second, o.MinBackoff)
	}
	return o
}

// Store is a Redis-backed cache. It is safe for concurrent use.
type Store struct {
	opts Options

	mu     sync.Mutex
	client *redis.Client
	closed bool

	// sleep waits between reconnect attempts; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New returns a Store. No connection is made until the first operation.
func New(opts Options) *Store {
	return &Store{opts: opts.withDefaults(), sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// conn returns the shared client once it answers a ping, creating it on first
// use and reconnecting with exponential backoff while it does not.
func (s *Store) conn(ctx context.Context) (*redis.Client, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if s.client == nil {
		log.Info().Str("component", "cache").Str("addr", s.opts.Addr).Msg("connecting")
		s.client = redis.NewClient(&redis.Options{
			Addr:         s.opts.Addr,
			Password:     s.opts.Password,
			DB:           s.opts.DB,
			DialTimeout:  s.opts.DialTimeout,
			ReadTimeout:  s.opts.OpTimeout,
			WriteTimeout: s.opts.OpTimeout,
			MaxRetries:   -1,
		})
	}
	c := s.client
	s.mu.Unlock()

	delay := s.opts.MinBackoff
	for attempt := 1; ; attempt++ {
		err := c.Ping(ctx).Err()
		if err == nil {
			if attempt > 1 {
				log.Info().Str("component", "cache").Int("attempts", attempt).Msg("reconnected")
			}
			return c, nil
		}
		if errors.Is(err, redis.ErrClosed) {
			return nil, ErrClosed
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		log.Warn().Str("component", "cache").Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("reconnecting")
		if serr := s.sleep(ctx, delay); serr != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		delay *= 2
		if delay > s.opts.MaxBackoff {
			delay = s.opts.MaxBackoff
		}
	}
}

func (s *Store) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opts.OpTimeout)
}

// Ping ensures a live connection.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	_, err := s.conn(ctx)
	return err
}

// Set stores value under key for ttl. A ttl <= 0 stores without expiry.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	c, err := s.conn(ctx)
	if err != nil {
		return err
	}
	if ttl < 0 {
		ttl = 0
	}
	return c.Set(ctx, key, value, ttl).Err()
}

// Get returns the value stored under key, or ErrMiss.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	c, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	b, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	return b, err
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	c, err := s.conn(ctx)
	if err != nil {
		return err
	}
	return c.Del(ctx, key).Err()
}

// Close releases the shared client. Later operations return ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}
