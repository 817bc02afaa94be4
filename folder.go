package postman

import (
	"context"
	"time"

	"github.com/rbaliyan/postman/store"
	"go.opentelemetry.io/otel/attribute"
)

// Inbox lists accepted, unarchived, undeleted records the user received.
func (m *userMailbox) Inbox(ctx context.Context, opts ListOptions) (*MessageList, error) {
	return m.list(ctx, store.Query{Folder: store.FolderInbox, Options: opts})
}

// Sent lists unarchived, undeleted records the user sent, whatever their
// moderation status.
func (m *userMailbox) Sent(ctx context.Context, opts ListOptions) (*MessageList, error) {
	return m.list(ctx, store.Query{Folder: store.FolderSent, Options: opts})
}

// Archives lists archived, undeleted records on either side.
func (m *userMailbox) Archives(ctx context.Context, opts ListOptions) (*MessageList, error) {
	return m.list(ctx, store.Query{Folder: store.FolderArchives, Options: opts})
}

// Trash lists deleted records on either side.
func (m *userMailbox) Trash(ctx context.Context, opts ListOptions) (*MessageList, error) {
	return m.list(ctx, store.Query{Folder: store.FolderTrash, Options: opts})
}

// Thread marks the thread read for the user, then lists its visible
// records oldest first. An unknown thread yields an empty list.
func (m *userMailbox) Thread(ctx context.Context, threadID string, opts ListOptions) (*MessageList, error) {
	if err := m.checkAccess(); err != nil {
		return nil, err
	}
	if threadID == "" {
		return nil, ErrNotFound
	}
	// Only the thread itself is selected; the message id never matches.
	scope := store.Scope{UserID: m.userID, Role: store.RoleRecipient, ThreadID: threadID}
	now := m.service.opts.now()
	n, err := m.service.store.SetRead(ctx, scope, now)
	if err != nil {
		return nil, wrapStoreError(err)
	}
	if n > 0 {
		publish(ctx, m.service, EventNameMessageRead, m.service.events.MessageRead, MessageReadEvent{
			ThreadID: threadID,
			UserID:   m.userID,
			Count:    n,
			ReadAt:   now,
		})
	}
	return m.list(ctx, store.Query{Folder: store.FolderThread, ThreadID: threadID, Options: opts})
}

// UnreadCount returns the number of unread inbox records.
func (m *userMailbox) UnreadCount(ctx context.Context) (int64, error) {
	if err := m.checkAccess(); err != nil {
		return 0, err
	}
	n, err := m.service.store.Count(ctx, store.Query{
		UserID: m.userID,
		Folder: store.FolderInbox,
		Unread: true,
	})
	if err != nil {
		return 0, wrapStoreError(err)
	}
	return n, nil
}

// Get returns a record the user sent or received.
func (m *userMailbox) Get(ctx context.Context, messageID string) (*Message, error) {
	if err := m.checkAccess(); err != nil {
		return nil, err
	}
	return m.visible(ctx, messageID)
}

func (m *userMailbox) list(ctx context.Context, q store.Query) (list *MessageList, err error) {
	if err := m.checkAccess(); err != nil {
		return nil, err
	}
	s := m.service
	q.UserID = m.userID
	q.Options = store.NormalizeOptions(q.Options, s.opts.defaultQueryLimit, s.opts.maxQueryLimit)

	start := time.Now()
	ctx, endSpan := s.otel.startSpan(ctx, "postman.list",
		attribute.String("folder", string(q.Folder)),
	)
	defer func() {
		endSpan(err)
		n := 0
		if list != nil {
			n = len(list.Messages)
		}
		s.otel.recordList(ctx, time.Since(start), string(q.Folder), n, err)
	}()

	list, err = s.store.Find(ctx, q)
	if err != nil {
		return nil, wrapStoreError(err)
	}
	return list, nil
}
