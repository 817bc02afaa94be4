// Package mongo provides a MongoDB implementation of store.Store and
// store.UserDirectory.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/rbaliyan/postman/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Compile-time checks
var (
	_ store.Store         = (*Store)(nil)
	_ store.UserDirectory = (*Store)(nil)
)

// Store implements store.Store using MongoDB.
type Store struct {
	client     *mongo.Client
	db         *mongo.Database
	collection *mongo.Collection
	users      *mongo.Collection
	opts       *options
	connected  int32
	logger     *slog.Logger
}

// New creates a new MongoDB store with the provided client.
// Call Connect() to initialize the collections and indexes.
func New(client *mongo.Client, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{
		client: client,
		opts:   o,
		logger: o.logger,
	}
}

// Connect initializes the database, collections, and indexes.
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

	s.db = s.client.Database(s.opts.database)
	s.collection = s.db.Collection(s.opts.collection)
	s.users = s.db.Collection(s.opts.usersCollection)

	if err := s.ensureIndexes(ctx); err != nil {
		return fmt.Errorf("ensure indexes: %w", err)
	}

	atomic.StoreInt32(&s.connected, 1)
	s.logger.Info("connected to MongoDB", "database", s.opts.database, "collection", s.opts.collection)
	return nil
}

// Close marks the store as disconnected.
// The caller is responsible for closing the MongoDB client.
func (s *Store) Close(_ context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

// ensureIndexes creates required indexes.
func (s *Store) ensureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{Keys: bson.D{
			bson.E{Key: "recipient_id", Value: 1},
			bson.E{Key: "sent_at", Value: -1},
		}},
		{Keys: bson.D{
			bson.E{Key: "sender_id", Value: 1},
			bson.E{Key: "sent_at", Value: -1},
		}},
		{Keys: bson.D{
			bson.E{Key: "thread_id", Value: 1},
			bson.E{Key: "sent_at", Value: 1},
		}},
		{Keys: bson.D{bson.E{Key: "parent_id", Value: 1}}},
	}
	if _, err := s.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return err
	}

	userIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{bson.E{Key: "username", Value: 1}},
			Options: mongoopts.Index().SetUnique(true).SetCollation(caseInsensitive),
		},
		{
			Keys:    bson.D{bson.E{Key: "email", Value: 1}},
			Options: mongoopts.Index().SetCollation(caseInsensitive),
		},
	}
	_, err := s.users.Indexes().CreateMany(ctx, userIndexes)
	return err
}

// caseInsensitive compares strings ignoring case.
var caseInsensitive = &mongoopts.Collation{Locale: "en", Strength: 2}

// checkConnected returns error if not connected.
func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}
	return nil
}

// =============================================================================
// Transactions
// =============================================================================

// WithTx runs fn inside a session transaction. Standalone servers without
// transaction support run fn without one.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	t := &txStore{s: s}
	session, err := s.client.StartSession()
	if err != nil {
		s.logger.Debug("sessions unsupported, running without transaction", "error", err)
		return fn(ctx, t)
	}
	defer session.EndSession(ctx)

	_, txErr := session.WithTransaction(ctx, func(sessCtx context.Context) (any, error) {
		return nil, fn(sessCtx, t)
	})
	if txErr != nil {
		if isTransactionNotSupported(txErr) {
			s.logger.Debug("transactions unsupported, running without transaction", "error", txErr)
			return fn(ctx, t)
		}
		return txErr
	}
	return nil
}

// isTransactionNotSupported checks if the error indicates transactions aren't supported.
func isTransactionNotSupported(err error) bool {
	if err == nil {
		return false
	}
	// 20: IllegalOperation (standalone), 263: OperationNotSupportedInTransaction
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Code == 263 || cmdErr.Code == 20
	}
	return false
}

// txStore is the store.Tx of a session. The session travels in the
// context handed to fn.
type txStore struct {
	s *Store
}

func (t *txStore) Get(ctx context.Context, id string) (*store.Message, error) {
	return t.s.get(ctx, id)
}

func (t *txStore) Insert(ctx context.Context, m *store.Message) error {
	return t.s.insert(ctx, m)
}

func (t *txStore) Save(ctx context.Context, m *store.Message) error {
	return t.s.save(ctx, m)
}

func (t *txStore) EarliestAcceptedReply(ctx context.Context, parentID, excludeID string) (*time.Time, error) {
	return t.s.earliestAcceptedReply(ctx, parentID, excludeID)
}
