// Package session binds a browser session to the applicant phone it is
// currently working with, so requests that omit a phone can be resolved.
// Bindings live in the cache tier under identity.SessionKey and expire after
// a TTL; losing one only means the client must send the phone again.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/AppIeBanana/ZhaoSheng/internal/cache"
	"github.com/AppIeBanana/ZhaoSheng/internal/identity"
)

// DefaultTTL is how long a binding survives without being refreshed.
const DefaultTTL = 24 * time.Hour

var (
	// ErrNoSession is returned when the session id is empty.
	ErrNoSession = errors.New("session id is empty")
	// ErrInvalidPhone is returned when Bind is given a malformed phone.
	ErrInvalidPhone = errors.New("invalid phone")
)

// KV is the subset of the cache store used for bindings.
type KV interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Binding maps session ids to phones.
type Binding struct {
	kv  KV
	ttl time.Duration
}

// NewBinding returns a Binding over kv. A non-positive ttl selects DefaultTTL.
func NewBinding(kv KV, ttl time.Duration) *Binding {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Binding{kv: kv, ttl: ttl}
}

// Bind records phone as the active phone of sessionID and returns the
// normalized phone. Rebinding overwrites and refreshes the TTL.
func (b *Binding) Bind(ctx context.Context, sessionID, phone string) (string, error) {
	if strings.TrimSpace(sessionID) == "" {
		return "", ErrNoSession
	}
	if !identity.Valid(phone) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPhone, phone)
	}
	phone = identity.Normalize(phone)
	if err := b.kv.Set(ctx, identity.SessionKey(sessionID), []byte(phone), b.ttl); err != nil {
		return "", fmt.Errorf("bind session: %w", err)
	}
	return phone, nil
}

// Current returns the phone bound to sessionID. ok is false when there is no
// binding, the cache is unavailable, or the stored value is not a valid phone.
func (b *Binding) Current(ctx context.Context, sessionID string) (phone string, ok bool) {
	if strings.TrimSpace(sessionID) == "" {
		return "", false
	}
	raw, err := b.kv.Get(ctx, identity.SessionKey(sessionID))
	if err != nil {
		return "", false
	}
	phone = string(raw)
	if !identity.Valid(phone) {
		return "", false
	}
	return phone, true
}

// Unbind removes the binding for sessionID. Removing a missing binding is not
// an error.
func (b *Binding) Unbind(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrNoSession
	}
	err := b.kv.Delete(ctx, identity.SessionKey(sessionID))
	if err != nil && !errors.Is(err, cache.ErrMiss) {
		return fmt.Errorf("unbind session: %w", err)
	}
	return nil
}
