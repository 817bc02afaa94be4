package postman

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestInbox(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t, WithDefaultQueryLimit(2), WithMaxQueryLimit(3))
	alice := svc.Client("1")
	bob := svc.Client("2")

	for i := 1; i <= 5; i++ {
		mustCompose(t, alice, fmt.Sprintf("Message %d", i), "Body", "bob")
	}

	t.Run("newest first with default limit", func(t *testing.T) {
		list, err := bob.Inbox(ctx, ListOptions{})
		if err != nil {
			t.Fatalf("inbox failed: %v", err)
		}
		if list.Total != 5 || len(list.Messages) != 2 || !list.HasMore {
			t.Fatalf("unexpected page: total=%d len=%d more=%v", list.Total, len(list.Messages), list.HasMore)
		}
		if list.Messages[0].Subject != "Message 5" || list.Messages[1].Subject != "Message 4" {
			t.Errorf("unexpected order: %q, %q", list.Messages[0].Subject, list.Messages[1].Subject)
		}
	})

	t.Run("offset and capped limit", func(t *testing.T) {
		list, err := bob.Inbox(ctx, ListOptions{Limit: 50, Offset: 3})
		if err != nil {
			t.Fatalf("inbox failed: %v", err)
		}
		if len(list.Messages) != 2 || list.HasMore {
			t.Fatalf("unexpected page: len=%d more=%v", len(list.Messages), list.HasMore)
		}
		if list.Messages[1].Subject != "Message 1" {
			t.Errorf("expected oldest last, got %q", list.Messages[1].Subject)
		}

		capped, err := bob.Inbox(ctx, ListOptions{Limit: 50})
		if err != nil {
			t.Fatalf("inbox failed: %v", err)
		}
		if len(capped.Messages) != 3 {
			t.Errorf("expected limit capped to 3, got %d", len(capped.Messages))
		}
	})

	t.Run("empty for the sender", func(t *testing.T) {
		assertTotal(t, alice.Inbox, 0)
		assertTotal(t, alice.Sent, 5)
	})
}

func TestThread(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t)
	alice := svc.Client("1")
	bob := svc.Client("2")

	root := mustCompose(t, alice, "Trip", "Where to?", "bob").Messages[0]
	r1, err := bob.Reply(ctx, root.ID, ReplyRequest{Body: "Mountains"})
	if err != nil {
		t.Fatalf("reply failed: %v", err)
	}
	if _, err := alice.Reply(ctx, r1.Messages[0].ID, ReplyRequest{Body: "Deal"}); err != nil {
		t.Fatalf("reply failed: %v", err)
	}

	t.Run("oldest first and marked read", func(t *testing.T) {
		list, err := bob.Thread(ctx, root.ID, ListOptions{})
		if err != nil {
			t.Fatalf("thread failed: %v", err)
		}
		if list.Total != 3 {
			t.Fatalf("expected 3 records, got %d", list.Total)
		}
		if list.Messages[0].ID != root.ID || list.Messages[1].ID != r1.Messages[0].ID {
			t.Error("thread should read top-down")
		}
		for _, m := range list.Messages {
			if m.RecipientID == "2" && m.ReadAt == nil {
				t.Errorf("record %s should be read after viewing the thread", m.ID)
			}
		}
		n, _ := bob.UnreadCount(ctx)
		if n != 0 {
			t.Errorf("expected 0 unread, got %d", n)
		}
		// alice has not opened the thread
		n, _ = alice.UnreadCount(ctx)
		if n != 1 {
			t.Errorf("expected 1 unread for alice, got %d", n)
		}
	})

	t.Run("deleted side is hidden", func(t *testing.T) {
		if err := alice.Delete(ctx, root.ID); err != nil {
			t.Fatalf("delete failed: %v", err)
		}
		list, err := alice.Thread(ctx, root.ID, ListOptions{})
		if err != nil {
			t.Fatalf("thread failed: %v", err)
		}
		if list.Total != 0 {
			t.Errorf("alice deleted the thread, got %d records", list.Total)
		}
		assertTotal(t, alice.Trash, 3)

		list, err = bob.Thread(ctx, root.ID, ListOptions{})
		if err != nil {
			t.Fatalf("thread failed: %v", err)
		}
		if list.Total != 3 {
			t.Errorf("bob keeps the thread, got %d", list.Total)
		}
	})

	t.Run("outsiders see nothing", func(t *testing.T) {
		list, err := svc.Client("3").Thread(ctx, root.ID, ListOptions{})
		if err != nil {
			t.Fatalf("thread failed: %v", err)
		}
		if list.Total != 0 {
			t.Errorf("expected empty thread, got %d", list.Total)
		}
	})

	t.Run("unknown and empty id", func(t *testing.T) {
		list, err := bob.Thread(ctx, "nope", ListOptions{})
		if err != nil || list.Total != 0 {
			t.Errorf("expected empty list, got %v %v", list, err)
		}
		if _, err := bob.Thread(ctx, "", ListOptions{}); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestGet(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t)
	m := mustCompose(t, svc.Client("1"), "Hi", "Hello", "bob").Messages[0]

	tests := []struct {
		name    string
		userID  string
		id      string
		wantErr error
	}{
		{"sender", "1", m.ID, nil},
		{"recipient", "2", m.ID, nil},
		{"stranger", "3", m.ID, ErrNotFound},
		{"unknown id", "1", "missing", ErrNotFound},
		{"empty id", "1", "", ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.Client(tt.userID).Get(ctx, tt.id)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.ID != m.ID {
				t.Errorf("expected %s, got %s", m.ID, got.ID)
			}
		})
	}
}
