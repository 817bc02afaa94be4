package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rbaliyan/postman/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Insert stores a new record and assigns m.ID.
func (s *Store) Insert(ctx context.Context, m *store.Message) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()
	return s.insert(ctx, m)
}

func (s *Store) insert(ctx context.Context, m *store.Message) error {
	doc := newMessageDoc(m)
	if doc.ID.IsZero() {
		doc.ID = bson.NewObjectID()
	}
	if _, err := s.collection.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s", store.ErrDuplicateEntry, doc.ID.Hex())
		}
		return fmt.Errorf("insert message: %w", err)
	}
	m.ID = doc.ID.Hex()
	return nil
}

// Save overwrites the mutable fields of an existing record.
func (s *Store) Save(ctx context.Context, m *store.Message) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()
	return s.save(ctx, m)
}

func (s *Store) save(ctx context.Context, m *store.Message) error {
	oid, err := bson.ObjectIDFromHex(m.ID)
	if err != nil {
		return store.ErrInvalidID
	}
	doc := newMessageDoc(m)
	result, err := s.collection.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": doc.mutableFields()})
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	if result.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

// EarliestAcceptedReply returns the send date of the oldest accepted
// direct reply to parentID, ignoring excludeID.
func (s *Store) EarliestAcceptedReply(ctx context.Context, parentID, excludeID string) (*time.Time, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()
	return s.earliestAcceptedReply(ctx, parentID, excludeID)
}

func (s *Store) earliestAcceptedReply(ctx context.Context, parentID, excludeID string) (*time.Time, error) {
	filter := bson.M{
		"parent_id":         parentID,
		"moderation_status": string(store.StatusAccepted),
	}
	if oid, err := bson.ObjectIDFromHex(excludeID); err == nil {
		filter["_id"] = bson.M{"$ne": oid}
	}
	findOpts := mongoopts.FindOne().
		SetSort(bson.D{bson.E{Key: "sent_at", Value: 1}}).
		SetProjection(bson.M{"sent_at": 1})

	var doc messageDoc
	if err := s.collection.FindOne(ctx, filter, findOpts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("earliest reply: %w", err)
	}
	t := doc.SentAt.UTC()
	return &t, nil
}

// =============================================================================
// Side updates
// =============================================================================

// SetArchived sets the archived flag of the scope's side.
func (s *Store) SetArchived(ctx context.Context, scope store.Scope, archived bool) (int64, error) {
	field := "recipient_archived"
	if scope.Role == store.RoleSender {
		field = "sender_archived"
	}
	return s.updateSide(ctx, scope, bson.M{field: archived}, nil)
}

// SetDeleted sets or clears the deletion date of the scope's side.
func (s *Store) SetDeleted(ctx context.Context, scope store.Scope, at *time.Time) (int64, error) {
	field := "recipient_deleted_at"
	if scope.Role == store.RoleSender {
		field = "sender_deleted_at"
	}
	return s.updateSide(ctx, scope, bson.M{field: at}, nil)
}

// SetRead sets the read date of unread recipient-side records.
func (s *Store) SetRead(ctx context.Context, scope store.Scope, at time.Time) (int64, error) {
	if scope.Role != store.RoleRecipient {
		return 0, nil
	}
	return s.updateSide(ctx, scope, bson.M{"read_at": at}, bson.M{"read_at": nil})
}

// updateSide applies set to every record of scope, narrowed by extra.
// It returns the number of matched records.
func (s *Store) updateSide(ctx context.Context, scope store.Scope, set, extra bson.M) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}
	if err := scope.Validate(); err != nil {
		return 0, err
	}
	filter, ok := scopeFilter(scope)
	if !ok {
		return 0, nil
	}
	for k, v := range extra {
		filter[k] = v
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	result, err := s.collection.UpdateMany(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return 0, fmt.Errorf("update messages: %w", err)
	}
	return result.MatchedCount, nil
}
