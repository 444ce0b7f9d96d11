// Package repo implements the durable tier for applicant profiles and chat
// transcripts, backed by GORM. This file provides Store, the system of record
// keyed strictly by phone number.
//
// Every write is a single INSERT ... ON CONFLICT(phone) DO UPDATE statement,
// so concurrent writers for the same phone can never create two rows. The
// row id and created_at are only taken from the insert branch; updated_at is
// refreshed on every write. Extension fields merge one level deep: a field
// named by the write is replaced verbatim, including an explicit null.
//
// Error semantics:
//   - Missing records return ErrNotFound.
//   - A handle that cannot be pinged returns ErrNotConnected before any query
//     is attempted.
//   - Deadline overruns return ErrTimeout; schema rejections return
//     ErrValidationFailed.
//
// Usage:
//
//	store := repo.NewStore(db)
//	rec, err := store.UpsertProfile(ctx, &domain.Profile{Phone: "13800001111"})
//	if errors.Is(err, repo.ErrNotConnected) {
//	    // retry later
//	}
package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/AppIeBanana/ZhaoSheng/internal/domain"
	"github.com/AppIeBanana/ZhaoSheng/internal/identity"
)

// Store is the GORM-backed durable store. It is safe for concurrent use.
type Store struct {
	db    *gorm.DB
	now   func() time.Time
	newID func() string
}

// NewStore wraps an opened GORM handle. The caller owns the handle's lifecycle.
func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:    db,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
}

// Ping reports whether the underlying connection is usable.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrNotConnected
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNotConnected, err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return fmt.Errorf("%w: %w", ErrNotConnected, err)
	}
	return nil
}

// profileMergeSet merges a write into an existing row: non-empty core fields
// overwrite, empty ones keep the stored value, and each incoming extension
// field replaces the stored value of that field as a whole. Stored fields the
// write does not name are kept.
func profileMergeSet(extra datatypes.JSONMap) (clause.Set, error) {
	set := clause.Set{
		keepIfEmpty("exam_type"),
		keepIfEmpty("user_type"),
		keepIfEmpty("province"),
		keepIfEmpty("ethnicity"),
		keepIfEmpty("score"),
		{Column: clause.Column{Name: "updated_at"}, Value: gorm.Expr("excluded.updated_at")},
	}
	if len(extra) == 0 {
		return set, nil
	}

	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sql strings.Builder
	sql.WriteString("json_set(COALESCE(users.extra, '{}')")
	args := make([]any, 0, 2*len(keys))
	for _, k := range keys {
		raw, err := json.Marshal(extra[k])
		if err != nil {
			return nil, fmt.Errorf("%w: field %q: %w", ErrValidationFailed, k, err)
		}
		sql.WriteString(", ?, json(?)")
		args = append(args, `$."`+k+`"`, string(raw))
	}
	sql.WriteString(")")
	return append(set, clause.Assignment{Column: clause.Column{Name: "extra"}, Value: gorm.Expr(sql.String(), args...)}), nil
}

func keepIfEmpty(col string) clause.Assignment {
	return clause.Assignment{
		Column: clause.Column{Name: col},
		Value:  gorm.Expr(fmt.Sprintf("CASE WHEN excluded.%[1]s <> '' THEN excluded.%[1]s ELSE users.%[1]s END", col)),
	}
}

// UpsertProfile inserts the profile for p.Phone or merges p into the existing
// one, and returns the stored record.
func (s *Store) UpsertProfile(ctx context.Context, p *domain.Profile) (*domain.Profile, error) {
	if err := ValidateProfile(p); err != nil {
		return nil, err
	}
	if err := s.Ping(ctx); err != nil {
		return nil, err
	}

	now := s.now()
	rec := *p
	rec.Phone = identity.Normalize(p.Phone)
	rec.ID = s.newID()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	rec.Extra = datatypes.JSONMap{}
	for k, v := range p.Extra {
		if !domain.IsCoreProfileKey(k) {
			rec.Extra[k] = v
		}
	}
	merge, err := profileMergeSet(rec.Extra)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "phone"}},
			DoUpdates: merge,
		}).
		Create(&rec).Error
	if err != nil {
		return nil, Classify(ctx, err)
	}
	return s.findProfile(ctx, rec.Phone)
}

// GetProfile returns the profile for phone, or ErrNotFound.
func (s *Store) GetProfile(ctx context.Context, phone string) (*domain.Profile, error) {
	if err := s.Ping(ctx); err != nil {
		return nil, err
	}
	return s.findProfile(ctx, identity.Normalize(phone))
}

// ProfileExists reports whether a profile row exists for phone.
func (s *Store) ProfileExists(ctx context.Context, phone string) (bool, error) {
	if err := s.Ping(ctx); err != nil {
		return false, err
	}
	var n int64
	err := s.db.WithContext(ctx).
		Model(&domain.Profile{}).
		Where("phone = ?", identity.Normalize(phone)).
		Count(&n).Error
	if err != nil {
		return false, Classify(ctx, err)
	}
	return n > 0, nil
}

func (s *Store) findProfile(ctx context.Context, phone string) (*domain.Profile, error) {
	var p domain.Profile
	if err := s.db.WithContext(ctx).Where("phone = ?", phone).First(&p).Error; err != nil {
		return nil, Classify(ctx, err)
	}
	return &p, nil
}

// UpsertTranscript replaces the full message sequence stored for phone.
// Messages without a timestamp are stamped with the write time.
func (s *Store) UpsertTranscript(ctx context.Context, phone string, msgs []domain.Message) (*domain.Transcript, error) {
	phone = identity.Normalize(phone)
	if err := ValidateTranscript(phone, msgs); err != nil {
		return nil, err
	}
	if err := s.Ping(ctx); err != nil {
		return nil, err
	}

	now := s.now()
	rec := domain.Transcript{
		ID:        s.newID(),
		Phone:     phone,
		Messages:  datatypes.JSONSlice[domain.Message](StampMessages(msgs, now)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "phone"}},
			DoUpdates: clause.AssignmentColumns([]string{"messages", "updated_at"}),
		}).
		Create(&rec).Error
	if err != nil {
		return nil, Classify(ctx, err)
	}

	var out domain.Transcript
	if err := s.db.WithContext(ctx).Where("phone = ?", phone).First(&out).Error; err != nil {
		return nil, Classify(ctx, err)
	}
	return &out, nil
}

// GetTranscript returns the stored messages for phone, or ErrNotFound.
func (s *Store) GetTranscript(ctx context.Context, phone string) ([]domain.Message, error) {
	if err := s.Ping(ctx); err != nil {
		return nil, err
	}
	var t domain.Transcript
	err := s.db.WithContext(ctx).
		Where("phone = ?", identity.Normalize(phone)).
		First(&t).Error
	if err != nil {
		return nil, Classify(ctx, err)
	}
	if t.Messages == nil {
		return []domain.Message{}, nil
	}
	return []domain.Message(t.Messages), nil
}

// StampMessages returns a copy of msgs in which every zero timestamp is
// replaced by now and every timestamp is in UTC.
func StampMessages(msgs []domain.Message, now time.Time) []domain.Message {
	out := make([]domain.Message, len(msgs))
	for i, m := range msgs {
		if m.Timestamp.IsZero() {
			m.Timestamp = now
		}
		m.Timestamp = m.Timestamp.UTC()
		out[i] = m
	}
	return out
}
