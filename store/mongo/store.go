// Package mongo provides a MongoDB implementation of store.Store.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/rbaliyan/playermail/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Compile-time check
var _ store.Store = (*Store)(nil)

// Store implements store.Store using MongoDB.
type Store struct {
	client     *mongo.Client
	collection *mongo.Collection
	opts       *options
	connected  int32
	logger     *slog.Logger
}

// New creates a new MongoDB store with the provided client.
// Call Connect() to initialize the collection and indexes.
func New(client *mongo.Client, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{
		client: client,
		opts:   o,
		logger: o.logger,
	}
}

// Connect initializes the collection and indexes.
func (s *Store) Connect(ctx context.Context) error {
	if atomic.LoadInt32(&s.connected) == 1 {
		return store.ErrAlreadyConnected
	}

	if s.client == nil {
		return fmt.Errorf("mongo: client is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("mongo ping: %w", err)
	}

	s.collection = s.client.Database(s.opts.database).Collection(s.opts.collection)

	if !s.opts.skipIndexes {
		if err := s.ensureIndexes(ctx); err != nil {
			return fmt.Errorf("ensure indexes: %w", err)
		}
	}

	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}
	s.logger.Info("connected to MongoDB", "database", s.opts.database, "collection", s.opts.collection)
	return nil
}

// Close marks the store as disconnected.
// The caller is responsible for disconnecting the MongoDB client.
func (s *Store) Close(_ context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{Keys: bson.D{
			{Key: "receiver_id", Value: 1},
			{Key: "deleted_by_receiver", Value: 1},
			{Key: "sent_at", Value: -1},
		}},
		{Keys: bson.D{
			{Key: "sender_id", Value: 1},
			{Key: "deleted_by_sender", Value: 1},
			{Key: "sent_at", Value: -1},
		}},
		{Keys: bson.D{
			{Key: "deleted_by_sender", Value: 1},
			{Key: "deleted_by_receiver", Value: 1},
		}},
	}
	_, err := s.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}
	return nil
}

// document is the BSON shape of a store.Mail.
type document struct {
	ID                string    `bson:"_id"`
	SenderID          string    `bson:"sender_id"`
	SenderName        string    `bson:"sender_name"`
	ReceiverID        string    `bson:"receiver_id"`
	ReceiverName      string    `bson:"receiver_name"`
	Subject           string    `bson:"subject"`
	Body              string    `bson:"body"`
	Attachment        string    `bson:"attachment,omitempty"`
	Commands          []string  `bson:"commands,omitempty"`
	SentAt            time.Time `bson:"sent_at"`
	Read              bool      `bson:"is_read"`
	Claimed           bool      `bson:"claimed"`
	CommandsExecuted  bool      `bson:"commands_executed"`
	DeletedBySender   bool      `bson:"deleted_by_sender"`
	DeletedByReceiver bool      `bson:"deleted_by_receiver"`
}

func toDocument(m *store.Mail) document {
	return document{
		ID:                m.ID,
		SenderID:          m.SenderID,
		SenderName:        m.SenderName,
		ReceiverID:        m.ReceiverID,
		ReceiverName:      m.ReceiverName,
		Subject:           m.Subject,
		Body:              m.Body,
		Attachment:        m.Attachment,
		Commands:          m.Commands,
		SentAt:            m.SentAt.UTC(),
		Read:              m.Read,
		Claimed:           m.Claimed,
		CommandsExecuted:  m.CommandsExecuted,
		DeletedBySender:   m.DeletedBySender,
		DeletedByReceiver: m.DeletedByReceiver,
	}
}

func (d document) toMail() *store.Mail {
	var cmds []string
	if len(d.Commands) > 0 {
		cmds = d.Commands
	}
	return &store.Mail{
		ID:                d.ID,
		SenderID:          d.SenderID,
		SenderName:        d.SenderName,
		ReceiverID:        d.ReceiverID,
		ReceiverName:      d.ReceiverName,
		Subject:           d.Subject,
		Body:              d.Body,
		Attachment:        d.Attachment,
		Commands:          cmds,
		SentAt:            d.SentAt.UTC(),
		Read:              d.Read,
		Claimed:           d.Claimed,
		CommandsExecuted:  d.CommandsExecuted,
		DeletedBySender:   d.DeletedBySender,
		DeletedByReceiver: d.DeletedByReceiver,
	}
}

// Insert persists a new record.
func (s *Store) Insert(ctx context.Context, m *store.Mail) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if err := m.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if _, err := s.collection.InsertOne(ctx, toDocument(m)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return store.ErrDuplicateEntry
		}
		return fmt.Errorf("insert mail: %w", err)
	}
	return nil
}

// Update writes the record's lifecycle flags.
func (s *Store) Update(ctx context.Context, m *store.Mail) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if m.ID == "" {
		return store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	update := bson.M{"$set": bson.M{
		"is_read":             m.Read,
		"claimed":             m.Claimed,
		"commands_executed":   m.CommandsExecuted,
		"deleted_by_sender":   m.DeletedBySender,
		"deleted_by_receiver": m.DeletedByReceiver,
	}}
	res, err := s.collection.UpdateOne(ctx, bson.M{"_id": m.ID}, update)
	if err != nil {
		return fmt.Errorf("update mail: %w", err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Delete removes a record.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if id == "" {
		return store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	res, err := s.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete mail: %w", err)
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Get returns the record with the given ID.
func (s *Store) Get(ctx context.Context, id string) (*store.Mail, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var doc document
	if err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get mail: %w", err)
	}
	return doc.toMail(), nil
}

// Find returns matching records in the requested order.
func (s *Store) Find(ctx context.Context, filters []store.Filter, opts store.ListOptions) ([]*store.Mail, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	opts = opts.Normalize()

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	findOpts := mongoopts.Find().SetSort(bson.D{
		{Key: mongoField(opts.SortBy), Value: int(opts.SortOrder)},
		{Key: "_id", Value: 1},
	})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}

	cursor, err := s.collection.Find(ctx, buildFilter(filters), findOpts)
	if err != nil {
		return nil, fmt.Errorf("find mail: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []document
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode mail: %w", err)
	}
	out := make([]*store.Mail, len(docs))
	for i, d := range docs {
		out[i] = d.toMail()
	}
	return out, nil
}

// Count returns the number of matching records.
func (s *Store) Count(ctx context.Context, filters []store.Filter) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	n, err := s.collection.CountDocuments(ctx, buildFilter(filters))
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

// mongoField maps a storage key to its document field.
func mongoField(key string) string {
	if key == "id" {
		return "_id"
	}
	return key
}

func buildFilter(filters []store.Filter) bson.D {
	out := bson.D{}
	for _, f := range filters {
		key, ok := store.MailFieldKey(f.Key())
		if !ok {
			continue
		}
		field := mongoField(key)
		switch f.Operator() {
		case "eq", "":
			out = append(out, bson.E{Key: field, Value: f.Value()})
		case "ne", "gt", "gte", "lt", "lte":
			out = append(out, bson.E{Key: field, Value: bson.M{"$" + f.Operator(): f.Value()}})
		}
	}
	return out
}
