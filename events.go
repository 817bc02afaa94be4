package postman

import (
	"context"
	"fmt"
	"time"

	"github.com/rbaliyan/event/v3"
	"github.com/rbaliyan/postman/store"
)

// Event names for postman events.
const (
	EventNameMessageComposed  = "postman.message.composed"
	EventNameMessageRead      = "postman.message.read"
	EventNameMessageArchived  = "postman.message.archived"
	EventNameMessageDeleted   = "postman.message.deleted"
	EventNameMessageModerated = "postman.message.moderated"
)

// MessageComposedEvent is published for every record stored by a compose,
// reply, reply-all or forward.
type MessageComposedEvent struct {
	MessageID        string                 `json:"message_id"`
	SenderID         string                 `json:"sender_id,omitempty"`
	RecipientID      string                 `json:"recipient_id,omitempty"`
	ParentID         string                 `json:"parent_id,omitempty"`
	ThreadID         string                 `json:"thread_id,omitempty"`
	ModerationStatus store.ModerationStatus `json:"moderation_status"`
	SentAt           time.Time              `json:"sent_at"`
}

// MessageReadEvent is published when records are marked read.
type MessageReadEvent struct {
	MessageID string    `json:"message_id,omitempty"`
	ThreadID  string    `json:"thread_id,omitempty"`
	UserID    string    `json:"user_id"`
	Count     int64     `json:"count"`
	ReadAt    time.Time `json:"read_at"`
}

// MessageArchivedEvent is published when a user archives or unarchives a
// record and its thread.
type MessageArchivedEvent struct {
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	Archived  bool      `json:"archived"`
	Count     int64     `json:"count"`
	At        time.Time `json:"at"`
}

// MessageDeletedEvent is published when a user soft-deletes or restores a
// record and its thread.
type MessageDeletedEvent struct {
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	Deleted   bool      `json:"deleted"`
	Count     int64     `json:"count"`
	At        time.Time `json:"at"`
}

// MessageModeratedEvent is published after a manual moderation decision.
type MessageModeratedEvent struct {
	MessageID     string                 `json:"message_id"`
	ModeratorID   string                 `json:"moderator_id"`
	InitialStatus store.ModerationStatus `json:"initial_status"`
	Status        store.ModerationStatus `json:"status"`
	Reason        string                 `json:"reason,omitempty"`
	At            time.Time              `json:"at"`
}

// ServiceEvents provides access to per-service event instances.
// Each service creates its own events bound to its own event bus.
type ServiceEvents struct {
	MessageComposed  event.Event[MessageComposedEvent]
	MessageRead      event.Event[MessageReadEvent]
	MessageArchived  event.Event[MessageArchivedEvent]
	MessageDeleted   event.Event[MessageDeletedEvent]
	MessageModerated event.Event[MessageModeratedEvent]
}

// newServiceEvents creates per-service event instances with a unique name prefix.
func newServiceEvents(namePrefix string) *ServiceEvents {
	return &ServiceEvents{
		MessageComposed:  event.New[MessageComposedEvent](namePrefix + "." + EventNameMessageComposed),
		MessageRead:      event.New[MessageReadEvent](namePrefix + "." + EventNameMessageRead),
		MessageArchived:  event.New[MessageArchivedEvent](namePrefix + "." + EventNameMessageArchived),
		MessageDeleted:   event.New[MessageDeletedEvent](namePrefix + "." + EventNameMessageDeleted),
		MessageModerated: event.New[MessageModeratedEvent](namePrefix + "." + EventNameMessageModerated),
	}
}

// registerServiceEvents registers per-service events with the given bus.
func registerServiceEvents(ctx context.Context, bus *event.Bus, events *ServiceEvents) error {
	if err := event.Register(ctx, bus, events.MessageComposed); err != nil {
		return fmt.Errorf("register MessageComposed: %w", err)
	}
	if err := event.Register(ctx, bus, events.MessageRead); err != nil {
		return fmt.Errorf("register MessageRead: %w", err)
	}
	if err := event.Register(ctx, bus, events.MessageArchived); err != nil {
		return fmt.Errorf("register MessageArchived: %w", err)
	}
	if err := event.Register(ctx, bus, events.MessageDeleted); err != nil {
		return fmt.Errorf("register MessageDeleted: %w", err)
	}
	if err := event.Register(ctx, bus, events.MessageModerated); err != nil {
		return fmt.Errorf("register MessageModerated: %w", err)
	}
	return nil
}

// publish sends payload on ev. Failures are reported to the configured
// handler and never fail the calling operation.
func publish[T any](ctx context.Context, s *service, name string, ev event.Event[T], payload T) {
	if s.events == nil {
		return
	}
	if err := ev.Publish(ctx, payload); err != nil {
		s.opts.safeEventPublishFailure(name, err)
	}
}
