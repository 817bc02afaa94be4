// Package resolver provides store.UserDirectory implementations.
package resolver

import (
	"context"
	"strings"

	"github.com/rbaliyan/postman/store"
)

// Compile-time check
var _ store.UserDirectory = (*Static)(nil)

// Static is a map-based user directory for testing and simple deployments.
// Safe for concurrent use (read-only after creation).
type Static struct {
	byID       map[string]*store.User
	byUsername map[string]*store.User
	byEmail    map[string]*store.User
}

// NewStatic creates a Static directory from a list of users.
// Users are copied to prevent external mutation. Usernames and emails are
// matched case-insensitively; later entries win on collision.
func NewStatic(users ...store.User) *Static {
	s := &Static{
		byID:       make(map[string]*store.User, len(users)),
		byUsername: make(map[string]*store.User, len(users)),
		byEmail:    make(map[string]*store.User, len(users)),
	}
	for _, u := range users {
		u := u
		s.byID[u.ID] = &u
		if u.Username != "" {
			s.byUsername[strings.ToLower(u.Username)] = &u
		}
		if u.Email != "" {
			s.byEmail[strings.ToLower(u.Email)] = &u
		}
	}
	return s
}

// UserByID returns the user with the given ID.
func (s *Static) UserByID(_ context.Context, id string) (*store.User, error) {
	return lookup(s.byID, id)
}

// UserByUsername returns the user with the given username.
func (s *Static) UserByUsername(_ context.Context, username string) (*store.User, error) {
	return lookup(s.byUsername, strings.ToLower(username))
}

// UserByEmail returns the user with the given email address.
func (s *Static) UserByEmail(_ context.Context, email string) (*store.User, error) {
	return lookup(s.byEmail, strings.ToLower(email))
}

// Len returns the number of users.
func (s *Static) Len() int { return len(s.byID) }

func lookup(m map[string]*store.User, key string) (*store.User, error) {
	u, ok := m[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *u
	return &c, nil
}
