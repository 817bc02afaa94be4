package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/rbaliyan/postman/store"
)

func TestStatic(t *testing.T) {
	ctx := context.Background()
	users := []store.User{
		{ID: "1", Username: "Alice", Email: "Alice@Example.com", Active: true},
		{ID: "2", Username: "bob", Active: false},
	}
	s := NewStatic(users...)

	if s.Len() != 2 {
		t.Errorf("expected 2 users, got %d", s.Len())
	}

	tests := []struct {
		name   string
		lookup func() (*store.User, error)
		wantID string
	}{
		{"by id", func() (*store.User, error) { return s.UserByID(ctx, "1") }, "1"},
		{"by username ignoring case", func() (*store.User, error) { return s.UserByUsername(ctx, "ALICE") }, "1"},
		{"by email ignoring case", func() (*store.User, error) { return s.UserByEmail(ctx, "alice@example.com") }, "1"},
		{"inactive users resolve", func() (*store.User, error) { return s.UserByUsername(ctx, "bob") }, "2"},
		{"unknown id", func() (*store.User, error) { return s.UserByID(ctx, "9") }, ""},
		{"blank email never matches", func() (*store.User, error) { return s.UserByEmail(ctx, "") }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := tt.lookup()
			if tt.wantID == "" {
				if !errors.Is(err, store.ErrNotFound) {
					t.Errorf("expected ErrNotFound, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if u.ID != tt.wantID {
				t.Errorf("expected %s, got %s", tt.wantID, u.ID)
			}
		})
	}

	t.Run("returns copies", func(t *testing.T) {
		u, _ := s.UserByID(ctx, "1")
		u.Active = false
		again, _ := s.UserByID(ctx, "1")
		if !again.Active {
			t.Error("directory entries must not be mutable through lookups")
		}
		users[0].Username = "mallory"
		if _, err := s.UserByUsername(ctx, "alice"); err != nil {
			t.Error("directory must not share the input slice")
		}
	})
}
