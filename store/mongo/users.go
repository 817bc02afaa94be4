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

type userDoc struct {
	ID       string `bson:"_id"`
	Username string `bson:"username"`
	Email    string `bson:"email"`
	Active   bool   `bson:"is_active"`
}

// UserByID returns the user with the given ID.
func (s *Store) UserByID(ctx context.Context, id string) (*store.User, error) {
	return s.findUser(ctx, bson.M{"_id": id}, id)
}

// UserByUsername returns the user with the given username, ignoring case.
func (s *Store) UserByUsername(ctx context.Context, username string) (*store.User, error) {
	return s.findUser(ctx, bson.M{"username": username}, username)
}

// UserByEmail returns the user with the given email address, ignoring case.
func (s *Store) UserByEmail(ctx context.Context, email string) (*store.User, error) {
	return s.findUser(ctx, bson.M{"email": email}, email)
}

func (s *Store) findUser(ctx context.Context, filter bson.M, key string) (*store.User, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if key == "" {
		return nil, store.ErrNotFound
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var doc userDoc
	opts := mongoopts.FindOne().SetCollation(caseInsensitive)
	if err := s.users.FindOne(ctx, filter, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &store.User{ID: doc.ID, Username: doc.Username, Email: doc.Email, Active: doc.Active}, nil
}
