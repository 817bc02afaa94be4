// Package store provides interfaces and types for postman storage.
// Implementations are in store/memory, store/postgres and store/mongo.
//
// A logical message sent to N recipients is stored as N independent
// records. Folder views and party-side updates are expressed as a Query or
// a Scope so that every backend can push them down as a single statement.
//
// Multi-record writes that must succeed or fail together (the per-recipient
// fan-out of a compose) run inside WithTx, which maps to a database
// transaction (PostgreSQL) or a session transaction (MongoDB).
package store

import (
	"context"
	"time"
)

// Store is the storage interface for message records.
//
// All operations must be safe for concurrent use.
type Store interface {
	// Lifecycle
	Connect(ctx context.Context) error
	Close(ctx context.Context) error

	MessageReader
	MessageWriter
	SideUpdater

	// WithTx runs fn inside a transaction. Writes made through tx are
	// committed when fn returns nil and discarded otherwise.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// MessageReader provides read operations for messages.
type MessageReader interface {
	// Get retrieves a message by ID.
	// Returns ErrNotFound if the message doesn't exist.
	Get(ctx context.Context, id string) (*Message, error)

	// Find returns a page of the messages matching the query.
	Find(ctx context.Context, q Query) (*MessageList, error)

	// Count returns the number of messages matching the query.
	Count(ctx context.Context, q Query) (int64, error)
}

// MessageWriter provides record writes. It is also the surface available
// inside a transaction.
type MessageWriter interface {
	// Insert stores a new record and assigns m.ID.
	Insert(ctx context.Context, m *Message) error

	// Save overwrites the mutable fields of an existing record.
	// Returns ErrNotFound if the record doesn't exist.
	Save(ctx context.Context, m *Message) error

	// EarliestAcceptedReply returns the send date of the oldest accepted
	// direct reply to parentID, ignoring excludeID. Returns nil if none.
	EarliestAcceptedReply(ctx context.Context, parentID, excludeID string) (*time.Time, error)
}

// Tx is the view of a store inside WithTx.
type Tx interface {
	MessageWriter
	Get(ctx context.Context, id string) (*Message, error)
}

// SideUpdater applies bulk updates to one party's side of the records
// selected by a scope. Each method returns the number of matched records.
type SideUpdater interface {
	// SetArchived sets the archived flag of the scope's side.
	SetArchived(ctx context.Context, scope Scope, archived bool) (int64, error)

	// SetDeleted sets (or clears, when at is nil) the deletion date of the
	// scope's side.
	SetDeleted(ctx context.Context, scope Scope, at *time.Time) (int64, error)

	// SetRead sets the read date of unread records. Only the recipient side
	// carries a read date; a sender scope matches nothing.
	SetRead(ctx context.Context, scope Scope, at time.Time) (int64, error)
}

// UserDirectory resolves registered users.
// Lookups return ErrNotFound for unknown users.
type UserDirectory interface {
	UserByID(ctx context.Context, id string) (*User, error)
	UserByUsername(ctx context.Context, username string) (*User, error)
	UserByEmail(ctx context.Context, email string) (*User, error)
}
