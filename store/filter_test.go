package store

import (
	"errors"
	"testing"
	"time"
)

func TestQueryValidate(t *testing.T) {
	tests := []struct {
		name    string
		q       Query
		wantErr bool
	}{
		{"inbox", Query{UserID: "1", Folder: FolderInbox}, false},
		{"thread", Query{UserID: "1", Folder: FolderThread, ThreadID: "t"}, false},
		{"missing user", Query{Folder: FolderInbox}, true},
		{"unknown folder", Query{UserID: "1", Folder: "drafts"}, true},
		{"thread without id", Query{UserID: "1", Folder: FolderThread}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.q.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrFilterInvalid) {
				t.Errorf("expected ErrFilterInvalid, got %v", err)
			}
		})
	}
}

func TestQueryMatches(t *testing.T) {
	now := time.Now()
	accepted := func(mut func(m *Message)) *Message {
		m := &Message{ID: "m", SenderID: "1", RecipientID: "2", ModerationStatus: StatusAccepted}
		if mut != nil {
			mut(m)
		}
		return m
	}

	tests := []struct {
		name   string
		q      Query
		m      *Message
		expect bool
	}{
		{"inbox receives accepted", Query{UserID: "2", Folder: FolderInbox}, accepted(nil), true},
		{"inbox hides pending", Query{UserID: "2", Folder: FolderInbox}, accepted(func(m *Message) { m.ModerationStatus = StatusPending }), false},
		{"inbox hides archived", Query{UserID: "2", Folder: FolderInbox}, accepted(func(m *Message) { m.RecipientArchived = true }), false},
		{"inbox hides deleted", Query{UserID: "2", Folder: FolderInbox}, accepted(func(m *Message) { m.RecipientDeletedAt = &now }), false},
		{"inbox ignores sender", Query{UserID: "1", Folder: FolderInbox}, accepted(nil), false},
		{"unread excludes read", Query{UserID: "2", Folder: FolderInbox, Unread: true}, accepted(func(m *Message) { m.ReadAt = &now }), false},
		{"sent shows pending", Query{UserID: "1", Folder: FolderSent}, accepted(func(m *Message) { m.ModerationStatus = StatusPending }), true},
		{"sent hides sender deleted", Query{UserID: "1", Folder: FolderSent}, accepted(func(m *Message) { m.SenderDeletedAt = &now }), false},
		{"archives sender side", Query{UserID: "1", Folder: FolderArchives}, accepted(func(m *Message) { m.SenderArchived = true }), true},
		{"archives not recipient side", Query{UserID: "2", Folder: FolderArchives}, accepted(func(m *Message) { m.SenderArchived = true }), false},
		{"trash recipient side", Query{UserID: "2", Folder: FolderTrash}, accepted(func(m *Message) { m.RecipientDeletedAt = &now }), true},
		{"trash hides rejected", Query{UserID: "2", Folder: FolderTrash}, accepted(func(m *Message) {
			m.ModerationStatus = StatusRejected
			m.RecipientDeletedAt = &now
		}), false},
		{"thread member", Query{UserID: "2", Folder: FolderThread, ThreadID: "t"}, accepted(func(m *Message) { m.ThreadID = "t" }), true},
		{"thread other", Query{UserID: "2", Folder: FolderThread, ThreadID: "x"}, accepted(func(m *Message) { m.ThreadID = "t" }), false},
		{"thread deleted side", Query{UserID: "1", Folder: FolderThread, ThreadID: "t"}, accepted(func(m *Message) {
			m.ThreadID = "t"
			m.SenderDeletedAt = &now
		}), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.q.Matches(tt.m); got != tt.expect {
				t.Errorf("Matches() = %v, want %v", got, tt.expect)
			}
		})
	}
}

func TestScopeMatches(t *testing.T) {
	m := &Message{ID: "m", SenderID: "1", RecipientID: "2", ThreadID: "t", ModerationStatus: StatusAccepted}
	pending := &Message{ID: "p", SenderID: "1", RecipientID: "2", ThreadID: "t", ModerationStatus: StatusPending}

	tests := []struct {
		name   string
		scope  Scope
		m      *Message
		expect bool
	}{
		{"recipient by id", Scope{UserID: "2", Role: RoleRecipient, MessageID: "m"}, m, true},
		{"recipient by thread", Scope{UserID: "2", Role: RoleRecipient, ThreadID: "t"}, m, true},
		{"recipient pending", Scope{UserID: "2", Role: RoleRecipient, MessageID: "p"}, pending, false},
		{"sender pending", Scope{UserID: "1", Role: RoleSender, MessageID: "p"}, pending, true},
		{"wrong side", Scope{UserID: "2", Role: RoleSender, MessageID: "m"}, m, false},
		{"other message", Scope{UserID: "2", Role: RoleRecipient, MessageID: "x"}, m, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.scope.Matches(tt.m); got != tt.expect {
				t.Errorf("Matches() = %v, want %v", got, tt.expect)
			}
		})
	}

	if err := (Scope{UserID: "1"}).Validate(); !errors.Is(err, ErrFilterInvalid) {
		t.Errorf("scope without selector: expected ErrFilterInvalid, got %v", err)
	}
	if RoleSender.String() != "sender" || RoleRecipient.String() != "recipient" {
		t.Error("unexpected role names")
	}
}

func TestNormalizeOptions(t *testing.T) {
	tests := []struct {
		in   ListOptions
		want ListOptions
	}{
		{ListOptions{}, ListOptions{Limit: 20}},
		{ListOptions{Limit: 500, Offset: 10}, ListOptions{Limit: 100, Offset: 10}},
		{ListOptions{Limit: 5, Offset: -3}, ListOptions{Limit: 5}},
	}
	for _, tt := range tests {
		if got := NormalizeOptions(tt.in, 20, 100); got != tt.want {
			t.Errorf("NormalizeOptions(%+v) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestMessageClone(t *testing.T) {
	now := time.Now()
	m := &Message{ID: "m", ReadAt: &now, ModerationStatus: StatusAccepted}
	c := m.Clone()
	*c.ReadAt = now.Add(time.Hour)
	if !m.ReadAt.Equal(now) {
		t.Error("clone must not share time pointers")
	}
	if (*Message)(nil).Clone() != nil {
		t.Error("nil clone should be nil")
	}
	if !m.IsAccepted() || m.IsPending() || m.IsRejected() || m.IsThreadRoot() {
		t.Error("unexpected status helpers")
	}
	if !StatusPending.IsValid() || ModerationStatus("x").IsValid() {
		t.Error("unexpected IsValid")
	}
}
