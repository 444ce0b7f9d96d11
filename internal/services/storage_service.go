// Package services – StorageService
//
// This file implements the StorageService, which keeps applicant profiles and
// chat transcripts consistent across the durable store (system of record) and
// the cache (fast, TTL-bound, never authoritative).
//
// Writes go to the durable store first and then to the cache. The result of a
// write always reflects the durable store:
//
//	durable ok,   cache ok     -> success
//	durable ok,   cache failed -> retry cache (bounded), success either way
//	durable fail, cache any    -> retry durable (bounded); on recovery refresh
//	                              the cache, otherwise drop the cache entry this
//	                              write produced and fail
//
// Reads try the cache, fall back to the durable store and repopulate the
// cache on the way out. The whole read is retried with linear backoff and
// degrades to "no data" instead of returning store errors.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AppIeBanana/ZhaoSheng/internal/cache"
	"github.com/AppIeBanana/ZhaoSheng/internal/domain"
	"github.com/AppIeBanana/ZhaoSheng/internal/identity"
	"github.com/AppIeBanana/ZhaoSheng/internal/repo"
)

// DurableStore is the system of record. repo.Store and docstore.Store both
// satisfy it.
type DurableStore interface {
	// Ping reports whether the store can currently serve requests.
	Ping(ctx context.Context) error
	// UpsertProfile inserts or merges the profile keyed by its phone.
	UpsertProfile(ctx context.Context, p *domain.Profile) (*domain.Profile, error)
	// GetProfile returns repo.ErrNotFound when no profile exists.
	GetProfile(ctx context.Context, phone string) (*domain.Profile, error)
	// ProfileExists reports whether a profile exists for phone.
	ProfileExists(ctx context.Context, phone string) (bool, error)
	// UpsertTranscript replaces the message sequence stored for phone.
	UpsertTranscript(ctx context.Context, phone string, msgs []domain.Message) (*domain.Transcript, error)
	// GetTranscript returns repo.ErrNotFound when no transcript exists.
	GetTranscript(ctx context.Context, phone string) ([]domain.Message, error)
}

// CacheStore is the ephemeral tier. Get returns cache.ErrMiss on a miss.
type CacheStore interface {
	Ping(ctx context.Context) error
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// StorageConfig tunes TTLs, timeouts and retry budgets.
type StorageConfig struct {
	ProfileTTL    time.Duration
	TranscriptTTL time.Duration

	// Per-call timeouts. The cache is expected to answer faster.
	CacheTimeout   time.Duration
	DurableTimeout time.Duration

	// WriteRetries is the number of extra attempts for the failed side of a
	// write, spaced by WriteRetryDelay.
	WriteRetries    int
	WriteRetryDelay time.Duration

	// ReadAttempts bounds the read loop; attempt n waits n*ReadBackoff.
	ReadAttempts int
	ReadBackoff  time.Duration
}

// DefaultStorageConfig returns the production defaults.
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		ProfileTTL:      time.Hour,
		TranscriptTTL:   24 * time.Hour,
		CacheTimeout:    2 * time.Second,
		DurableTimeout:  5 * time.Second,
		WriteRetries:    2,
		WriteRetryDelay: time.Second,
		ReadAttempts:    3,
		ReadBackoff:     time.Second,
	}
}

// StorageService reconciles the durable store and the cache.
type StorageService struct {
	Durable DurableStore
	Cache   CacheStore
	Config  StorageConfig
	// Sleep waits between retries; tests replace it.
	Sleep Sleeper
	// Now stamps cache snapshots of writes the durable store did not accept.
	Now func() time.Time
}

// NewStorageService wires a StorageService with real sleeping and clock.
func NewStorageService(d DurableStore, c CacheStore, cfg StorageConfig) *StorageService {
	return &StorageService{
		Durable: d,
		Cache:   c,
		Config:  cfg,
		Sleep:   sleepCtx,
		Now:     func() time.Time { return time.Now().UTC() },
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

const (
	kindProfile    = "profile"
	kindTranscript = "transcript"
)

func tracer() trace.Tracer { return otel.Tracer("services/StorageService") }

//
// Writes
//

// SaveProfile upserts p keyed by its phone and returns the durable record.
// A nil error means the durable store holds the write.
func (s *StorageService) SaveProfile(ctx context.Context, p *domain.Profile) (*domain.Profile, error) {
	ctx, span := tracer().Start(ctx, "SaveProfile", trace.WithAttributes(attribute.String("storage.kind", kindProfile)))
	defer span.End()

	if p == nil || !identity.Valid(p.Phone) {
		writeOutcomes.WithLabelValues(kindProfile, "invalid").Inc()
		return nil, ErrInvalidIdentity
	}
	in := *p
	in.Phone = identity.Normalize(p.Phone)
	key := identity.Resolve(in.Phone)

	var rec *domain.Profile
	err := s.write(ctx, kindProfile, key, key.Profile(), s.Config.ProfileTTL,
		func(ctx context.Context) error {
			r, err := s.Durable.UpsertProfile(ctx, &in)
			if err == nil {
				rec = r
			}
			return err
		},
		func() any {
			if rec != nil {
				return rec
			}
			return &in
		},
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save failed")
		return nil, err
	}
	return rec, nil
}

// SaveTranscript replaces the transcript stored for phone with msgs.
func (s *StorageService) SaveTranscript(ctx context.Context, phone string, msgs []domain.Message) error {
	ctx, span := tracer().Start(ctx, "SaveTranscript", trace.WithAttributes(
		attribute.String("storage.kind", kindTranscript),
		attribute.Int("messages.count", len(msgs)),
	))
	defer span.End()

	if !identity.Valid(phone) {
		writeOutcomes.WithLabelValues(kindTranscript, "invalid").Inc()
		return ErrInvalidIdentity
	}
	key := identity.Resolve(phone)

	var stored []domain.Message
	err := s.write(ctx, kindTranscript, key, key.Transcript(), s.Config.TranscriptTTL,
		func(ctx context.Context) error {
			t, err := s.Durable.UpsertTranscript(ctx, key.Phone(), msgs)
			if err == nil {
				stored = []domain.Message(t.Messages)
			}
			return err
		},
		func() any {
			if stored != nil {
				return stored
			}
			return repo.StampMessages(msgs, s.now())
		},
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save failed")
	}
	return err
}

// write runs one reconciled write. upsert performs the durable call and
// snapshot returns the value to cache, which is the durable record once the
// durable store has accepted the write.
func (s *StorageService) write(
	ctx context.Context,
	kind string,
	key identity.Key,
	cacheKey string,
	ttl time.Duration,
	upsert func(context.Context) error,
	snapshot func() any,
) error {
	lg := log.With().Str("component", "storage").Str("kind", kind).Str("phone", identity.Mask(key.Phone())).Logger()

	derr := s.durableCall(ctx, "upsert", upsert)
	if isPermanent(derr) {
		writeOutcomes.WithLabelValues(kind, "failed").Inc()
		lg.Warn().Err(derr).Msg("durable write rejected")
		return fmt.Errorf("%w: %w", ErrWriteFailed, derr)
	}

	cached := s.cacheSet(ctx, cacheKey, snapshot(), ttl)

	if derr == nil {
		for i := 0; !cached && i < s.Config.WriteRetries; i++ {
			if s.sleep(ctx, s.Config.WriteRetryDelay) != nil {
				break
			}
			cached = s.cacheSet(ctx, cacheKey, snapshot(), ttl)
		}
		if !cached {
			writeOutcomes.WithLabelValues(kind, "ok_cache_failed").Inc()
			lg.Warn().Msg("cache write failed after retries; durable write succeeded")
			return nil
		}
		writeOutcomes.WithLabelValues(kind, "ok").Inc()
		return nil
	}

	for i := 0; derr != nil && i < s.Config.WriteRetries; i++ {
		lg.Warn().Err(derr).Int("attempt", i+1).Msg("durable write failed; retrying")
		if err := s.sleep(ctx, s.Config.WriteRetryDelay); err != nil {
			break
		}
		derr = s.durableCall(ctx, "upsert", upsert)
		if isPermanent(derr) {
			break
		}
	}

	// The caller may have gone away while retrying; the cache must still
	// be brought back in line with the durable store.
	settle := context.WithoutCancel(ctx)

	if derr == nil {
		// Replace the input snapshot with the durable record.
		if !s.cacheSet(settle, cacheKey, snapshot(), ttl) && cached {
			s.cacheDelete(settle, cacheKey)
		}
		writeOutcomes.WithLabelValues(kind, "recovered").Inc()
		lg.Info().Msg("durable write recovered")
		return nil
	}

	if cached && !s.cacheDelete(settle, cacheKey) {
		lg.Error().Msg("could not drop cache entry of failed write")
	}
	writeOutcomes.WithLabelValues(kind, "failed").Inc()
	lg.Error().Err(derr).Msg("durable write failed after retries")
	return fmt.Errorf("%w: %w", ErrWriteFailed, derr)
}

// isPermanent reports durable errors that retrying cannot fix.
func isPermanent(err error) bool {
	return err != nil && errors.Is(err, repo.ErrValidationFailed)
}

//
// Reads
//

// GetProfile returns the profile for phone, or nil when none exists or the
// stores could not be reached. Only ErrInvalidIdentity is returned as an
// error.
func (s *StorageService) GetProfile(ctx context.Context, phone string) (*domain.Profile, error) {
	ctx, span := tracer().Start(ctx, "GetProfile", trace.WithAttributes(attribute.String("storage.kind", kindProfile)))
	defer span.End()

	if !identity.Valid(phone) {
		return nil, ErrInvalidIdentity
	}
	key := identity.Resolve(phone)

	var out *domain.Profile
	src := s.read(ctx, kindProfile, key, key.Profile(), s.Config.ProfileTTL,
		func(b []byte) bool {
			var p domain.Profile
			if err := json.Unmarshal(b, &p); err != nil || p.Phone != key.Phone() {
				return false
			}
			out = &p
			return true
		},
		func(ctx context.Context) (any, error) {
			p, err := s.Durable.GetProfile(ctx, key.Phone())
			if err != nil {
				return nil, err
			}
			out = p
			return p, nil
		},
	)
	span.SetAttributes(attribute.String("storage.source", src))
	return out, nil
}

// GetTranscript returns the messages stored for phone in conversation order.
// The slice is empty, never nil, when there is nothing to return.
func (s *StorageService) GetTranscript(ctx context.Context, phone string) ([]domain.Message, error) {
	ctx, span := tracer().Start(ctx, "GetTranscript", trace.WithAttributes(attribute.String("storage.kind", kindTranscript)))
	defer span.End()

	if !identity.Valid(phone) {
		return []domain.Message{}, ErrInvalidIdentity
	}
	key := identity.Resolve(phone)

	out := []domain.Message{}
	src := s.read(ctx, kindTranscript, key, key.Transcript(), s.Config.TranscriptTTL,
		func(b []byte) bool {
			var msgs []domain.Message
			if err := json.Unmarshal(b, &msgs); err != nil || msgs == nil {
				return false
			}
			out = msgs
			return true
		},
		func(ctx context.Context) (any, error) {
			msgs, err := s.Durable.GetTranscript(ctx, key.Phone())
			if err != nil {
				return nil, err
			}
			if msgs == nil {
				msgs = []domain.Message{}
			}
			out = msgs
			return msgs, nil
		},
	)
	span.SetAttributes(attribute.String("storage.source", src))
	return out, nil
}

// read runs the cache-first read loop and returns the serving source:
// cache, durable, none or unavailable. decode reports whether a cached
// payload was usable; fetch returns repo.ErrNotFound when there is no record.
func (s *StorageService) read(
	ctx context.Context,
	kind string,
	key identity.Key,
	cacheKey string,
	ttl time.Duration,
	decode func([]byte) bool,
	fetch func(context.Context) (any, error),
) string {
	lg := log.With().Str("component", "storage").Str("kind", kind).Str("phone", identity.Mask(key.Phone())).Logger()

	attempts := s.Config.ReadAttempts
	if attempts < 1 {
		attempts = 1
	}
	src := "unavailable"
	for attempt := 1; ; attempt++ {
		if b, ok := s.cacheGet(ctx, lg, cacheKey); ok {
			if decode(b) {
				src = "cache"
				break
			}
			lg.Warn().Msg("discarding unreadable cache entry")
			s.cacheDelete(ctx, cacheKey)
		}

		var v any
		err := s.durableCall(ctx, "get", func(ctx context.Context) error {
			var err error
			v, err = fetch(ctx)
			return err
		})
		if errors.Is(err, repo.ErrNotFound) {
			src = "none"
			break
		}
		if err == nil {
			s.cacheSet(ctx, cacheKey, v, ttl)
			src = "durable"
			break
		}

		lg.Warn().Err(err).Int("attempt", attempt).Msg("durable read failed")
		if attempt >= attempts {
			break
		}
		if s.sleep(ctx, time.Duration(attempt)*s.Config.ReadBackoff) != nil {
			break
		}
	}
	readSources.WithLabelValues(kind, src).Inc()
	return src
}

//
// Cache maintenance and probes
//

// ClearCache drops the cached profile for phone. Durable data is untouched.
// The bool reports whether the cache accepted the delete.
func (s *StorageService) ClearCache(ctx context.Context, phone string) (bool, error) {
	ctx, span := tracer().Start(ctx, "ClearCache", trace.WithAttributes(attribute.String("storage.kind", kindProfile)))
	defer span.End()

	if !identity.Valid(phone) {
		return false, ErrInvalidIdentity
	}
	return s.cacheDelete(ctx, identity.Resolve(phone).Profile()), nil
}

// ProfileExists reports whether a profile is stored for phone. A cached
// profile answers without touching the durable store.
func (s *StorageService) ProfileExists(ctx context.Context, phone string) (bool, error) {
	ctx, span := tracer().Start(ctx, "ProfileExists")
	defer span.End()

	if !identity.Valid(phone) {
		return false, ErrInvalidIdentity
	}
	key := identity.Resolve(phone)
	if _, ok := s.cacheGet(ctx, log.Logger, key.Profile()); ok {
		return true, nil
	}
	var exists bool
	err := s.durableCall(ctx, "exists", func(ctx context.Context) error {
		var err error
		exists, err = s.Durable.ProfileExists(ctx, key.Phone())
		return err
	})
	if err != nil {
		span.RecordError(err)
		return false, err
	}
	return exists, nil
}

// HealthStatus reports the reachability of each tier.
type HealthStatus struct {
	CacheConnected   bool `json:"cacheConnected"`
	DurableConnected bool `json:"durableConnected"`
}

// Health probes both stores concurrently, each under its own timeout. One
// tier being down never cuts the other probe short; the first failure is
// logged.
func (s *StorageService) Health(ctx context.Context) HealthStatus {
	var st HealthStatus
	var g errgroup.Group
	g.Go(func() error {
		cctx, cancel := withTimeout(ctx, s.Config.CacheTimeout)
		defer cancel()
		if err := s.Cache.Ping(cctx); err != nil {
			return fmt.Errorf("cache: %w", err)
		}
		st.CacheConnected = true
		return nil
	})
	g.Go(func() error {
		dctx, cancel := withTimeout(ctx, s.Config.DurableTimeout)
		defer cancel()
		if err := s.Durable.Ping(dctx); err != nil {
			return fmt.Errorf("durable: %w", err)
		}
		st.DurableConnected = true
		return nil
	})
	if err := g.Wait(); err != nil {
		log.Warn().Err(err).Str("component", "storage").
			Bool("cache", st.CacheConnected).Bool("durable", st.DurableConnected).
			Msg("health probe failed")
	}
	return st
}

//
// Store call helpers
//

func (s *StorageService) durableCall(ctx context.Context, op string, fn func(context.Context) error) error {
	dctx, cancel := withTimeout(ctx, s.Config.DurableTimeout)
	defer cancel()
	err := fn(dctx)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		storeErrors.WithLabelValues("durable", op).Inc()
		err = repo.Classify(dctx, err)
	}
	return err
}

// cacheSet stores v as JSON. Failures are logged and reported as false.
func (s *StorageService) cacheSet(ctx context.Context, key string, v any, ttl time.Duration) bool {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("component", "storage").Msg("encode cache entry")
		return false
	}
	cctx, cancel := withTimeout(ctx, s.Config.CacheTimeout)
	defer cancel()
	if err := s.Cache.Set(cctx, key, b, ttl); err != nil {
		storeErrors.WithLabelValues("cache", "set").Inc()
		log.Debug().Err(err).Str("component", "storage").Msg("cache set failed")
		return false
	}
	return true
}

// cacheGet returns the cached bytes and true on a hit. Misses and errors are
// both reported as false; errors are logged.
func (s *StorageService) cacheGet(ctx context.Context, lg zerolog.Logger, key string) ([]byte, bool) {
	cctx, cancel := withTimeout(ctx, s.Config.CacheTimeout)
	defer cancel()
	b, err := s.Cache.Get(cctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			storeErrors.WithLabelValues("cache", "get").Inc()
			lg.Debug().Err(err).Msg("cache get failed")
		}
		return nil, false
	}
	return b, true
}

func (s *StorageService) cacheDelete(ctx context.Context, key string) bool {
	cctx, cancel := withTimeout(ctx, s.Config.CacheTimeout)
	defer cancel()
	if err := s.Cache.Delete(cctx, key); err != nil {
		storeErrors.WithLabelValues("cache", "delete").Inc()
		log.Debug().Err(err).Str("component", "storage").Msg("cache delete failed")
		return false
	}
	return true
}

func (s *StorageService) sleep(ctx context.Context, d time.Duration) error {
	if s.Sleep == nil {
		return sleepCtx(ctx, d)
	}
	return s.Sleep(ctx, d)
}

func (s *StorageService) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now()
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
