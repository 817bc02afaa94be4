package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/rbaliyan/postman/store"
)

const (
	msgID    = "6f1c1a52-4a55-4d6b-9d7a-0f2f1f0c3a11"
	threadID = "0b8e6c0e-2c7a-4f3e-8a55-7c1f0d2b9e42"
)

func TestQueryWhere(t *testing.T) {
	tests := []struct {
		name     string
		q        store.Query
		contains []string
		args     []any
	}{
		{
			name:     "inbox",
			q:        store.Query{UserID: "2", Folder: store.FolderInbox},
			contains: []string{"recipient_id = $1 AND moderation_status = $2", "NOT recipient_archived", "recipient_deleted_at IS NULL"},
			args:     []any{"2", "accepted", "2"},
		},
		{
			name:     "sent",
			q:        store.Query{UserID: "1", Folder: store.FolderSent},
			contains: []string{"sender_id = $3 AND NOT sender_archived"},
			args:     []any{"1", "accepted", "1"},
		},
		{
			name:     "trash",
			q:        store.Query{UserID: "1", Folder: store.FolderTrash},
			contains: []string{"recipient_deleted_at IS NOT NULL) OR (", "sender_deleted_at IS NOT NULL"},
			args:     []any{"1", "accepted", "1"},
		},
		{
			name:     "thread",
			q:        store.Query{UserID: "1", Folder: store.FolderThread, ThreadID: threadID},
			contains: []string{"thread_id = $4 AND"},
			args:     []any{"1", "accepted", "1", threadID},
		},
		{
			name:     "unread",
			q:        store.Query{UserID: "2", Folder: store.FolderInbox, Unread: true},
			contains: []string{") AND read_at IS NULL"},
			args:     []any{"2", "accepted", "2"},
		},
		{
			name:     "unknown folder",
			q:        store.Query{UserID: "2", Folder: "drafts"},
			contains: []string{"FALSE"},
			args:     []any{"2", "accepted", "2"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cond, args := queryWhere(tt.q)
			for _, want := range tt.contains {
				if !strings.Contains(cond, want) {
					t.Errorf("condition %q lacks %q", cond, want)
				}
			}
			if !reflect.DeepEqual(args, tt.args) {
				t.Errorf("args = %v, want %v", args, tt.args)
			}
		})
	}
}

func TestScopeWhere(t *testing.T) {
	t.Run("message and thread", func(t *testing.T) {
		cond, b, ok := scopeWhere(store.Scope{UserID: "2", Role: store.RoleRecipient, MessageID: msgID, ThreadID: threadID})
		if !ok {
			t.Fatal("expected a condition")
		}
		want := "(id = $1 OR thread_id = $2) AND (recipient_id = $3 AND moderation_status = $4)"
		if cond != want {
			t.Errorf("cond = %q, want %q", cond, want)
		}
		if len(b.args) != 4 {
			t.Errorf("expected 4 args, got %d", len(b.args))
		}
	})

	t.Run("sender side", func(t *testing.T) {
		cond, _, ok := scopeWhere(store.Scope{UserID: "1", Role: store.RoleSender, MessageID: msgID})
		if !ok || cond != "(id = $1) AND sender_id = $2" {
			t.Errorf("unexpected cond %q ok=%v", cond, ok)
		}
	})

	t.Run("malformed ids match nothing", func(t *testing.T) {
		if _, _, ok := scopeWhere(store.Scope{UserID: "1", MessageID: "42", ThreadID: "nope"}); ok {
			t.Error("expected no condition")
		}
	})
}

func TestUpdateSideQuery(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	query, args, ok := updateSideQuery("postman_messages",
		store.Scope{UserID: "2", Role: store.RoleRecipient, MessageID: msgID}, "read_at", at, "read_at IS NULL")
	if !ok {
		t.Fatal("expected a statement")
	}
	want := "UPDATE postman_messages SET read_at = $4 WHERE (id = $1) AND (recipient_id = $2 AND moderation_status = $3) AND read_at IS NULL"
	if query != want {
		t.Errorf("query = %q, want %q", query, want)
	}
	if len(args) != 4 || args[3] != at {
		t.Errorf("unexpected args %v", args)
	}

	if _, _, ok := updateSideQuery("t", store.Scope{UserID: "2", MessageID: "bad"}, "read_at", at, ""); ok {
		t.Error("malformed id should yield no statement")
	}
}

func TestOrderBy(t *testing.T) {
	if got := orderBy(store.Query{Folder: store.FolderThread}); got != "sent_at ASC, id ASC" {
		t.Errorf("thread order = %q", got)
	}
	if got := orderBy(store.Query{Folder: store.FolderInbox}); got != "sent_at DESC, id DESC" {
		t.Errorf("folder order = %q", got)
	}
}

func TestRecordNulls(t *testing.T) {
	read := time.Date(2026, 1, 1, 10, 0, 0, 0, time.FixedZone("X", 3600))
	m := &store.Message{
		ID:               msgID,
		SenderID:         "1",
		Email:            "v@example.com",
		SentAt:           read,
		ReadAt:           &read,
		ModerationStatus: store.StatusAccepted,
	}
	r := toRecord(m)
	if r.RecipientID.Valid || r.ParentID.Valid || r.ThreadID.Valid {
		t.Error("empty IDs must be NULL")
	}
	if !r.SenderID.Valid || !r.ReadAt.Valid || r.RepliedAt.Valid {
		t.Error("unexpected validity")
	}

	back := r.toMessage()
	if back.RecipientID != "" || back.ReadAt == nil || back.ReadAt.Location() != time.UTC {
		t.Errorf("unexpected message: %+v", back)
	}
	if !back.ReadAt.Equal(read) || back.ModerationStatus != store.StatusAccepted {
		t.Error("values lost in conversion")
	}
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no rows", sql.ErrNoRows, store.ErrNotFound},
		{"unique violation", &pq.Error{Code: pgUniqueViolation}, store.ErrDuplicateEntry},
		{"serialization failure", fmt.Errorf("insert: %w", &pq.Error{Code: pgSerializationFailure}), store.ErrTransactionFailed},
		{"deadlock", &pq.Error{Code: pgDeadlockDetected}, store.ErrTransactionFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mapError(tt.err); !errors.Is(got, tt.want) {
				t.Errorf("mapError() = %v, want %v", got, tt.want)
			}
		})
	}

	other := &pq.Error{Code: "42P01"}
	if got := mapError(other); got != other {
		t.Errorf("unrelated errors pass through, got %v", got)
	}
}
