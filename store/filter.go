package store

import (
	"fmt"
)

// ListOptions configures message listing.
type ListOptions struct {
	Limit  int
	Offset int
}

// Folder names a read view over message records.
type Folder string

// Folders. Every folder is scoped to a requesting user.
const (
	FolderInbox    Folder = "inbox"
	FolderSent     Folder = "sent"
	FolderArchives Folder = "archives"
	FolderTrash    Folder = "trash"
	FolderThread   Folder = "thread"
)

// IsValid reports whether f is a known folder.
func (f Folder) IsValid() bool {
	switch f {
	case FolderInbox, FolderSent, FolderArchives, FolderTrash, FolderThread:
		return true
	}
	return false
}

// Query selects the messages of one folder as seen by UserID.
type Query struct {
	UserID   string
	Folder   Folder
	ThreadID string // required for FolderThread
	Unread   bool   // only messages with no read date
	Options  ListOptions
}

// Validate checks that the query is complete.
func (q Query) Validate() error {
	if q.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrFilterInvalid)
	}
	if !q.Folder.IsValid() {
		return fmt.Errorf("%w: unknown folder %q", ErrFilterInvalid, q.Folder)
	}
	if q.Folder == FolderThread && q.ThreadID == "" {
		return fmt.Errorf("%w: thread id is required", ErrFilterInvalid)
	}
	return nil
}

// Ascending reports whether results are ordered oldest first.
// Threads read top-down, folders newest first.
func (q Query) Ascending() bool { return q.Folder == FolderThread }

// Matches evaluates the query against a single message.
// Backends that cannot push the query down use it directly; the others
// translate the same conditions into their query language.
func (q Query) Matches(m *Message) bool {
	if q.Unread && m.ReadAt != nil {
		return false
	}
	u := q.UserID
	asRecipient := m.RecipientID == u && m.IsAccepted()
	asSender := m.SenderID == u
	switch q.Folder {
	case FolderInbox:
		return asRecipient && !m.RecipientArchived && m.RecipientDeletedAt == nil
	case FolderSent:
		return asSender && !m.SenderArchived && m.SenderDeletedAt == nil
	case FolderArchives:
		return (asRecipient && m.RecipientArchived && m.RecipientDeletedAt == nil) ||
			(asSender && m.SenderArchived && m.SenderDeletedAt == nil)
	case FolderTrash:
		return (asRecipient && m.RecipientDeletedAt != nil) ||
			(asSender && m.SenderDeletedAt != nil)
	case FolderThread:
		if m.ThreadID != q.ThreadID {
			return false
		}
		return (asSender && m.SenderDeletedAt == nil) ||
			(asRecipient && m.RecipientDeletedAt == nil)
	}
	return false
}

// Role is the side of a message a user acts on.
type Role int

// Roles.
const (
	RoleRecipient Role = iota
	RoleSender
)

func (r Role) String() string {
	if r == RoleSender {
		return "sender"
	}
	return "recipient"
}

// Scope selects the messages a user can update on one side: the message
// MessageID, or any message of ThreadID when it is set. The recipient side
// only covers accepted messages.
type Scope struct {
	UserID    string
	Role      Role
	MessageID string
	ThreadID  string
}

// Validate checks that the scope selects something.
func (s Scope) Validate() error {
	if s.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrFilterInvalid)
	}
	if s.MessageID == "" && s.ThreadID == "" {
		return fmt.Errorf("%w: message or thread id is required", ErrFilterInvalid)
	}
	return nil
}

// Matches evaluates the scope against a single message.
func (s Scope) Matches(m *Message) bool {
	if m.ID != s.MessageID && (s.ThreadID == "" || m.ThreadID != s.ThreadID) {
		return false
	}
	if s.Role == RoleSender {
		return m.SenderID == s.UserID
	}
	return m.RecipientID == s.UserID && m.IsAccepted()
}

// NormalizeOptions applies the default and maximum page size.
func NormalizeOptions(opts ListOptions, def, max int) ListOptions {
	if opts.Limit <= 0 {
		opts.Limit = def
	}
	if max > 0 && opts.Limit > max {
		opts.Limit = max
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	return opts
}
