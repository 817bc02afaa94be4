package postman

import (
	"context"
	"fmt"
	"time"

	"github.com/rbaliyan/postman/store"
	"go.opentelemetry.io/otel/attribute"
)

// Update operation names, used in spans and metrics.
const (
	opMarkRead  = "mark_read"
	opArchive   = "archive"
	opUnarchive = "unarchive"
	opDelete    = "delete"
	opUndelete  = "undelete"
)

// sideCounts is the number of records matched on each side.
type sideCounts struct {
	recipient int64
	sender    int64
}

func (c sideCounts) total() int64 { return c.recipient + c.sender }

// scopes returns the recipient and sender scopes of msg and its thread.
func (m *userMailbox) scopes(msg *Message) (store.Scope, store.Scope) {
	rs := store.Scope{UserID: m.userID, Role: store.RoleRecipient, MessageID: msg.ID, ThreadID: msg.ThreadID}
	ss := rs
	ss.Role = store.RoleSender
	return rs, ss
}

// bothSides runs fn for the recipient side, then the sender side.
func (m *userMailbox) bothSides(ctx context.Context, op string, msg *Message, fn func(store.Scope) (int64, error)) (c sideCounts, err error) {
	s := m.service
	start := time.Now()
	ctx, endSpan := s.otel.startSpan(ctx, "postman."+op,
		attribute.String("message_id", msg.ID),
	)
	defer func() {
		endSpan(err)
		s.otel.recordUpdate(ctx, time.Since(start), op, err)
	}()

	rs, ss := m.scopes(msg)
	if c.recipient, err = fn(rs); err != nil {
		return c, wrapStoreError(err)
	}
	if c.sender, err = fn(ss); err != nil {
		return c, wrapStoreError(err)
	}
	if c.total() == 0 {
		return c, fmt.Errorf("%w: %s %s", ErrNothingChanged, op, msg.ID)
	}
	return c, nil
}

// MarkRead sets the read date of the record if the user received it and has
// not read it yet. Marking a read or sent record is a no-op.
func (m *userMailbox) MarkRead(ctx context.Context, messageID string) (msg *Message, err error) {
	if err := m.checkAccess(); err != nil {
		return nil, err
	}
	msg, err = m.visible(ctx, messageID)
	if err != nil {
		return nil, err
	}

	s := m.service
	start := time.Now()
	ctx, endSpan := s.otel.startSpan(ctx, "postman."+opMarkRead,
		attribute.String("message_id", msg.ID),
	)
	defer func() {
		endSpan(err)
		s.otel.recordUpdate(ctx, time.Since(start), opMarkRead, err)
	}()

	now := s.opts.now()
	n, err := s.store.SetRead(ctx, store.Scope{UserID: m.userID, Role: store.RoleRecipient, MessageID: msg.ID}, now)
	if err != nil {
		return nil, wrapStoreError(err)
	}
	if n > 0 {
		publish(ctx, s, EventNameMessageRead, s.events.MessageRead, MessageReadEvent{
			MessageID: msg.ID,
			UserID:    m.userID,
			Count:     n,
			ReadAt:    now,
		})
	}
	return m.reload(ctx, msg)
}

// MarkArchived archives the record and its thread on every side the user
// holds.
func (m *userMailbox) MarkArchived(ctx context.Context, messageID string) (*Message, error) {
	return m.setArchived(ctx, messageID, true)
}

// Unarchive moves the record and its thread back out of the archives.
func (m *userMailbox) Unarchive(ctx context.Context, messageID string) (*Message, error) {
	return m.setArchived(ctx, messageID, false)
}

func (m *userMailbox) setArchived(ctx context.Context, messageID string, archived bool) (*Message, error) {
	if err := m.checkAccess(); err != nil {
		return nil, err
	}
	msg, err := m.visible(ctx, messageID)
	if err != nil {
		return nil, err
	}
	op := opArchive
	if !archived {
		op = opUnarchive
	}
	c, err := m.bothSides(ctx, op, msg, func(scope store.Scope) (int64, error) {
		return m.service.store.SetArchived(ctx, scope, archived)
	})
	if err != nil {
		return nil, err
	}
	publish(ctx, m.service, EventNameMessageArchived, m.service.events.MessageArchived, MessageArchivedEvent{
		MessageID: msg.ID,
		UserID:    m.userID,
		Archived:  archived,
		Count:     c.total(),
		At:        m.service.opts.now(),
	})
	return m.reload(ctx, msg)
}

// Delete moves the record and its thread to the user's trash.
func (m *userMailbox) Delete(ctx context.Context, messageID string) error {
	return m.setDeleted(ctx, messageID, true)
}

// Undelete restores the record and its thread from the user's trash.
func (m *userMailbox) Undelete(ctx context.Context, messageID string) error {
	return m.setDeleted(ctx, messageID, false)
}

func (m *userMailbox) setDeleted(ctx context.Context, messageID string, deleted bool) error {
	if err := m.checkAccess(); err != nil {
		return err
	}
	msg, err := m.visible(ctx, messageID)
	if err != nil {
		return err
	}
	now := m.service.opts.now()
	var at *time.Time
	op := opUndelete
	if deleted {
		at = &now
		op = opDelete
	}
	c, err := m.bothSides(ctx, op, msg, func(scope store.Scope) (int64, error) {
		return m.service.store.SetDeleted(ctx, scope, at)
	})
	if err != nil {
		return err
	}
	publish(ctx, m.service, EventNameMessageDeleted, m.service.events.MessageDeleted, MessageDeletedEvent{
		MessageID: msg.ID,
		UserID:    m.userID,
		Deleted:   deleted,
		Count:     c.total(),
		At:        now,
	})
	return nil
}

// reload returns the stored state of msg.
func (m *userMailbox) reload(ctx context.Context, msg *Message) (*Message, error) {
	fresh, err := m.service.store.Get(ctx, msg.ID)
	if err != nil {
		return nil, wrapStoreError(err)
	}
	return fresh, nil
}
