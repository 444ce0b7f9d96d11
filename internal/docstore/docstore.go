// Package docstore implements the durable tier on MongoDB. It honours the same
// contract as repo.Store: records are keyed strictly by phone, writes are
// single-document upserts, and every operation first checks the connection
// state and fails fast with repo.ErrNotConnected when it is not ready.
//
// Profiles live in the "users" collection as flat documents: the caller's
// fields (core and extension) sit at the top level next to phone, createdAt
// and updatedAt. Transcripts live in the "messages" collection, one document
// per phone.
//
// Open blocks until the deployment answers a ping. After that the connection
// state is a flag fed by the driver's server heartbeats, so the check before
// each operation costs no round trip.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/event"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/AppIeBanana/ZhaoSheng/internal/domain"
	"github.com/AppIeBanana/ZhaoSheng/internal/identity"
	"github.com/AppIeBanana/ZhaoSheng/internal/repo"
)

const (
	usersCollection    = "users"
	messagesCollection = "messages"
)

// Store is the MongoDB-backed durable store. It is safe for concurrent use.
type Store struct {
	client    *mongo.Client
	users     *mongo.Collection
	messages  *mongo.Collection
	connected atomic.Bool
	now       func() time.Time
}

// pingPrimary is the readiness round trip made by Open; replaced in tests.
var pingPrimary = func(ctx context.Context, c *mongo.Client) error {
	return c.Ping(ctx, readpref.Primary())
}

// Open connects to uri, binds the store to database and waits until the
// primary answers a ping, bounded by ctx and the server selection timeout.
// An unreachable deployment yields repo.ErrNotConnected.
func Open(ctx context.Context, uri, database string) (*Store, error) {
	s := &Store{now: func() time.Time { return time.Now().UTC() }}

	monitor := &event.ServerMonitor{
		ServerHeartbeatSucceeded: func(*event.ServerHeartbeatSucceededEvent) {
			s.connected.Store(true)
		},
		ServerHeartbeatFailed: func(e *event.ServerHeartbeatFailedEvent) {
			if s.connected.Swap(false) {
				log.Warn().Str("component", "docstore").Err(e.Failure).Msg("connection lost")
			}
		},
	}
	client, err := mongo.Connect(ctx, options.Client().
		ApplyURI(uri).
		SetServerMonitor(monitor).
		SetServerSelectionTimeout(5*time.Second))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	s.bind(client, database)
	if err := s.ready(ctx); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, err
	}
	return s, nil
}

func (s *Store) bind(client *mongo.Client, database string) {
	db := client.Database(database)
	s.client = client
	s.users = db.Collection(usersCollection)
	s.messages = db.Collection(messagesCollection)
}

// ready makes one round trip to the primary and marks the store connected on
// success, without waiting for the first heartbeat.
func (s *Store) ready(ctx context.Context) error {
	if err := pingPrimary(ctx, s.client); err != nil {
		return fmt.Errorf("%w: mongo ping: %w", repo.ErrNotConnected, err)
	}
	s.connected.Store(true)
	log.Info().Str("component", "docstore").Str("database", s.users.Database().Name()).Msg("connected")
	return nil
}

// EnsureIndexes creates the unique phone indexes the upserts rely on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	if err := s.Ping(ctx); err != nil {
		return err
	}
	idx := mongo.IndexModel{
		Keys:    bson.D{{Key: "phone", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("ux_phone"),
	}
	for _, c := range []*mongo.Collection{s.users, s.messages} {
		if _, err := c.Indexes().CreateOne(ctx, idx); err != nil {
			return fmt.Errorf("create index on %s: %w", c.Name(), classify(ctx, err))
		}
	}
	return nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}
	s.connected.Store(false)
	return s.client.Disconnect(ctx)
}

// Ping reports whether the last heartbeat succeeded.
func (s *Store) Ping(context.Context) error {
	if s == nil || s.client == nil || !s.connected.Load() {
		return repo.ErrNotConnected
	}
	return nil
}

// UpsertProfile inserts the profile for p.Phone or merges p into the existing
// document, and returns the stored record.
func (s *Store) UpsertProfile(ctx context.Context, p *domain.Profile) (*domain.Profile, error) {
	if err := validateProfile(p); err != nil {
		return nil, err
	}
	if err := s.Ping(ctx); err != nil {
		return nil, err
	}

	phone := identity.Normalize(p.Phone)
	filter := bson.M{"phone": phone}
	update := profileUpdate(p, s.now())
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var doc bson.M
	err := s.users.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if mongo.IsDuplicateKeyError(err) {
		// Two concurrent upserts raced on the insert; the loser now sees the
		// winner's document and takes the update branch.
		err = s.users.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	}
	if err != nil {
		return nil, classify(ctx, err)
	}
	return profileFromDoc(doc), nil
}

// GetProfile returns the profile for phone, or repo.ErrNotFound.
func (s *Store) GetProfile(ctx context.Context, phone string) (*domain.Profile, error) {
	if err := s.Ping(ctx); err != nil {
		return nil, err
	}
	var doc bson.M
	err := s.users.FindOne(ctx, bson.M{"phone": identity.Normalize(phone)}).Decode(&doc)
	if err != nil {
		return nil, classify(ctx, err)
	}
	return profileFromDoc(doc), nil
}

// ProfileExists reports whether a profile document exists for phone.
func (s *Store) ProfileExists(ctx context.Context, phone string) (bool, error) {
	if err := s.Ping(ctx); err != nil {
		return false, err
	}
	n, err := s.users.CountDocuments(ctx, bson.M{"phone": identity.Normalize(phone)}, options.Count().SetLimit(1))
	if err != nil {
		return false, classify(ctx, err)
	}
	return n > 0, nil
}

type messageDoc struct {
	Role      string    `bson:"role"`
	Content   string    `bson:"content"`
	Timestamp time.Time `bson:"timestamp"`
}

type transcriptDoc struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	Phone     string             `bson:"phone"`
	Messages  []messageDoc       `bson:"messages"`
	CreatedAt time.Time          `bson:"createdAt"`
	UpdatedAt time.Time          `bson:"updatedAt"`
}

// UpsertTranscript replaces the full message sequence stored for phone.
func (s *Store) UpsertTranscript(ctx context.Context, phone string, msgs []domain.Message) (*domain.Transcript, error) {
	phone = identity.Normalize(phone)
	if err := repo.ValidateTranscript(phone, msgs); err != nil {
		return nil, err
	}
	if err := s.Ping(ctx); err != nil {
		return nil, err
	}

	now := s.now()
	docs := make([]messageDoc, 0, len(msgs))
	for _, m := range repo.StampMessages(msgs, now) {
		docs = append(docs, messageDoc(m))
	}
	filter := bson.M{"phone": phone}
	update := bson.M{
		"$set":         bson.M{"messages": docs, "updatedAt": now},
		"$setOnInsert": bson.M{"createdAt": now},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var doc transcriptDoc
	err := s.messages.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if mongo.IsDuplicateKeyError(err) {
		err = s.messages.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	}
	if err != nil {
		return nil, classify(ctx, err)
	}
	return transcriptFromDoc(doc), nil
}

// GetTranscript returns the stored messages for phone, or repo.ErrNotFound.
func (s *Store) GetTranscript(ctx context.Context, phone string) ([]domain.Message, error) {
	if err := s.Ping(ctx); err != nil {
		return nil, err
	}
	var doc transcriptDoc
	err := s.messages.FindOne(ctx,
		bson.M{"phone": identity.Normalize(phone)},
		options.FindOne().SetProjection(bson.M{"messages": 1, "_id": 0}),
	).Decode(&doc)
	if err != nil {
		return nil, classify(ctx, err)
	}
	return transcriptFromDoc(doc).Messages, nil
}

// validateProfile adds document-store key rules to repo.ValidateProfile:
// extension keys may not start with '$' or contain '.'.
func validateProfile(p *domain.Profile) error {
	return repo.ValidateProfile(p)
}

// profileUpdate builds the upsert document: non-empty core fields and all
// extension fields are $set, createdAt only on insert. The phone comes from
// the filter on insert.
func profileUpdate(p *domain.Profile, now time.Time) bson.M {
	set := bson.M{}
	for k, v := range p.Extra {
		if !domain.IsCoreProfileKey(k) {
			set[k] = v
		}
	}
	for k, v := range map[string]string{
		"examType":  p.ExamType,
		"userType":  p.UserType,
		"province":  p.Province,
		"ethnicity": p.Ethnicity,
		"score":     p.Score,
	} {
		if v != "" {
			set[k] = v
		}
	}
	set["updatedAt"] = now
	return bson.M{
		"$set":         set,
		"$setOnInsert": bson.M{"createdAt": now},
	}
}

// profileFromDoc maps a flat users document onto a Profile.
func profileFromDoc(doc bson.M) *domain.Profile {
	p := &domain.Profile{}
	for k, v := range doc {
		switch k {
		case "_id":
			p.ID = idString(v)
		case "phone":
			p.Phone = str(v)
		case "examType":
			p.ExamType = str(v)
		case "userType":
			p.UserType = str(v)
		case "province":
			p.Province = str(v)
		case "ethnicity":
			p.Ethnicity = str(v)
		case "score":
			p.Score = str(v)
		case "createdAt":
			p.CreatedAt = timeOf(v)
		case "updatedAt":
			p.UpdatedAt = timeOf(v)
		default:
			if p.Extra == nil {
				p.Extra = map[string]any{}
			}
			p.Extra[k] = plain(v)
		}
	}
	return p
}

func transcriptFromDoc(doc transcriptDoc) *domain.Transcript {
	t := &domain.Transcript{
		Phone:     doc.Phone,
		CreatedAt: doc.CreatedAt.UTC(),
		UpdatedAt: doc.UpdatedAt.UTC(),
		Messages:  make([]domain.Message, 0, len(doc.Messages)),
	}
	if !doc.ID.IsZero() {
		t.ID = doc.ID.Hex()
	}
	for _, m := range doc.Messages {
		m.Timestamp = m.Timestamp.UTC()
		t.Messages = append(t.Messages, domain.Message(m))
	}
	return t
}

func idString(v any) string {
	if oid, ok := v.(primitive.ObjectID); ok {
		return oid.Hex()
	}
	return str(v)
}

func str(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

func timeOf(v any) time.Time {
	switch x := v.(type) {
	case primitive.DateTime:
		return x.Time().UTC()
	case time.Time:
		return x.UTC()
	}
	return time.Time{}
}

// plain converts driver container types into JSON-friendly values.
func plain(v any) any {
	switch x := v.(type) {
	case primitive.M:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = plain(e)
		}
		return out
	case primitive.D:
		out := make(map[string]any, len(x))
		for _, e := range x {
			out[e.Key] = plain(e.Value)
		}
		return out
	case primitive.A:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = plain(e)
		}
		return out
	case primitive.DateTime:
		return x.Time().UTC()
	case primitive.ObjectID:
		return x.Hex()
	}
	return v
}

// classify maps driver errors onto the repo taxonomy.
func classify(ctx context.Context, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return repo.ErrNotFound
	case mongo.IsTimeout(err):
		return fmt.Errorf("%w: %w", repo.ErrTimeout, err)
	case errors.Is(err, mongo.ErrClientDisconnected), mongo.IsNetworkError(err):
		return fmt.Errorf("%w: %w", repo.ErrNotConnected, err)
	}
	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			if e.Code == 121 { // DocumentValidationFailure
				return fmt.Errorf("%w: %w", repo.ErrValidationFailed, err)
			}
		}
	}
	return repo.Classify(ctx, err)
}
