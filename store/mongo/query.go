package mongo

import (
	"context"
	"errors"
	"fmt"

	"github.com/rbaliyan/postman/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"
)

// sideFilter selects the records the user holds on one side, plus extra
// conditions. The recipient side only covers accepted records.
func sideFilter(role store.Role, userID string, extra bson.M) bson.M {
	f := bson.M{}
	if role == store.RoleSender {
		f["sender_id"] = userID
	} else {
		f["recipient_id"] = userID
		f["moderation_status"] = string(store.StatusAccepted)
	}
	for k, v := range extra {
		f[k] = v
	}
	return f
}

// queryFilter translates a folder query into a filter document.
func queryFilter(q store.Query) bson.M {
	u := q.UserID
	var f bson.M
	switch q.Folder {
	case store.FolderInbox:
		f = sideFilter(store.RoleRecipient, u, bson.M{"recipient_archived": false, "recipient_deleted_at": nil})
	case store.FolderSent:
		f = sideFilter(store.RoleSender, u, bson.M{"sender_archived": false, "sender_deleted_at": nil})
	case store.FolderArchives:
		f = bson.M{"$or": bson.A{
			sideFilter(store.RoleRecipient, u, bson.M{"recipient_archived": true, "recipient_deleted_at": nil}),
			sideFilter(store.RoleSender, u, bson.M{"sender_archived": true, "sender_deleted_at": nil}),
		}}
	case store.FolderTrash:
		f = bson.M{"$or": bson.A{
			sideFilter(store.RoleRecipient, u, bson.M{"recipient_deleted_at": bson.M{"$ne": nil}}),
			sideFilter(store.RoleSender, u, bson.M{"sender_deleted_at": bson.M{"$ne": nil}}),
		}}
	case store.FolderThread:
		f = bson.M{
			"thread_id": q.ThreadID,
			"$or": bson.A{
				sideFilter(store.RoleSender, u, bson.M{"sender_deleted_at": nil}),
				sideFilter(store.RoleRecipient, u, bson.M{"recipient_deleted_at": nil}),
			},
		}
	default:
		f = bson.M{"_id": bson.M{"$exists": false}}
	}
	if q.Unread {
		f["read_at"] = nil
	}
	return f
}

// scopeFilter translates a scope into a filter document. ok is false when
// the scope cannot match any record.
func scopeFilter(sc store.Scope) (bson.M, bool) {
	var sel bson.A
	if oid, err := bson.ObjectIDFromHex(sc.MessageID); err == nil {
		sel = append(sel, bson.M{"_id": oid})
	}
	if sc.ThreadID != "" {
		sel = append(sel, bson.M{"thread_id": sc.ThreadID})
	}
	if len(sel) == 0 {
		return nil, false
	}
	return sideFilter(sc.Role, sc.UserID, bson.M{"$or": sel}), true
}

func sortOrder(q store.Query) bson.D {
	dir := -1
	if q.Ascending() {
		dir = 1
	}
	return bson.D{
		bson.E{Key: "sent_at", Value: dir},
		bson.E{Key: "_id", Value: dir},
	}
}

// Get retrieves a message by ID.
func (s *Store) Get(ctx context.Context, id string) (*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()
	return s.get(ctx, id)
}

func (s *Store) get(ctx context.Context, id string) (*store.Message, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, store.ErrInvalidID
	}
	var doc messageDoc
	if err := s.collection.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	return docToMessage(&doc), nil
}

// Find returns a page of the messages matching the query.
func (s *Store) Find(ctx context.Context, q store.Query) (*store.MessageList, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	opts := store.NormalizeOptions(q.Options, 20, 0)
	filter := queryFilter(q)

	total, err := s.collection.CountDocuments(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}

	findOpts := mongoopts.Find().
		SetSort(sortOrder(q)).
		SetSkip(int64(opts.Offset)).
		SetLimit(int64(opts.Limit + 1))

	cursor, err := s.collection.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("find messages: %w", err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	var docs []messageDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}

	hasMore := len(docs) > opts.Limit
	if hasMore {
		docs = docs[:opts.Limit]
	}
	messages := make([]*store.Message, len(docs))
	for i := range docs {
		messages[i] = docToMessage(&docs[i])
	}
	return &store.MessageList{Messages: messages, Total: total, HasMore: hasMore}, nil
}

// Count returns the number of messages matching the query.
func (s *Store) Count(ctx context.Context, q store.Query) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}
	if err := q.Validate(); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	n, err := s.collection.CountDocuments(ctx, queryFilter(q))
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}
