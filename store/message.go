package store

import (
	"time"
)

// ModerationStatus is the moderation state of a message record.
type ModerationStatus string

// Moderation status constants.
const (
	StatusPending  ModerationStatus = "pending"
	StatusAccepted ModerationStatus = "accepted"
	StatusRejected ModerationStatus = "rejected"
)

// IsValid reports whether s is one of the known statuses.
func (s ModerationStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusRejected:
		return true
	}
	return false
}

// MaxSubjectLength is the maximum subject length in characters.
const MaxSubjectLength = 120

// Message is one (sender, recipient) delivery of a logical message.
//
// A visitor (a party without an account) has an empty ID on its side and
// its address in Email. Only one side can be a visitor.
type Message struct {
	ID          string
	Subject     string
	Body        string
	SenderID    string
	RecipientID string
	Email       string

	SentAt    time.Time
	ReadAt    *time.Time
	RepliedAt *time.Time

	SenderArchived     bool
	RecipientArchived  bool
	SenderDeletedAt    *time.Time
	RecipientDeletedAt *time.Time

	ParentID string
	ThreadID string

	ModerationStatus ModerationStatus
	ModerationBy     string
	ModerationDate   *time.Time
	ModerationReason string
}

// IsPending reports whether the message awaits moderation.
func (m *Message) IsPending() bool { return m.ModerationStatus == StatusPending }

// IsAccepted reports whether the message passed moderation.
func (m *Message) IsAccepted() bool { return m.ModerationStatus == StatusAccepted }

// IsRejected reports whether the message was moderated out.
func (m *Message) IsRejected() bool { return m.ModerationStatus == StatusRejected }

// IsThreadRoot reports whether the message started a conversation.
func (m *Message) IsThreadRoot() bool { return m.ThreadID != "" && m.ThreadID == m.ID }

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	c.ReadAt = cloneTime(m.ReadAt)
	c.RepliedAt = cloneTime(m.RepliedAt)
	c.SenderDeletedAt = cloneTime(m.SenderDeletedAt)
	c.RecipientDeletedAt = cloneTime(m.RecipientDeletedAt)
	c.ModerationDate = cloneTime(m.ModerationDate)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// MessageList is a page of messages with the total number of matches.
type MessageList struct {
	Messages []*Message
	Total    int64
	HasMore  bool
}

// User is a registered account that can send and receive messages.
type User struct {
	ID       string
	Username string
	Email    string
	Active   bool
}
