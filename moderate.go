package postman

import (
	"context"
	"fmt"

	"github.com/rbaliyan/postman/retry"
	"github.com/rbaliyan/postman/store"
	"go.opentelemetry.io/otel/attribute"
)

// Decision is a manual moderation verdict.
type Decision struct {
	Status      store.ModerationStatus
	ModeratorID string
	Reason      string
}

// Moderate applies d to a record. Leaving the rejected state brings the
// record back to the recipient; entering it hides it. The parent's reply
// date follows the change.
func (s *service) Moderate(ctx context.Context, messageID string, d Decision) (msg *Message, err error) {
	if !s.IsConnected() {
		return nil, ErrNotConnected
	}
	if !d.Status.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, d.Status)
	}
	if messageID == "" {
		return nil, ErrNotFound
	}

	ctx, endSpan := s.otel.startSpan(ctx, "postman.moderate",
		attribute.String("message_id", messageID),
		attribute.String("status", string(d.Status)),
	)
	defer func() { endSpan(err) }()

	now := s.opts.now()
	var initial store.ModerationStatus
	err = s.withTx(ctx, func(ctx context.Context, tx store.Tx) error {
		m, err := tx.Get(ctx, messageID)
		if err != nil {
			return err
		}
		initial = m.ModerationStatus
		m.ModerationStatus = d.Status
		if d.Status == store.StatusRejected {
			m.ModerationReason = d.Reason
		} else {
			m.ModerationReason = ""
		}
		cleanModeration(m, initial, d.ModeratorID, now)
		cleanForVisitor(m, now)
		if err := tx.Save(ctx, m); err != nil {
			return err
		}
		if err := updateParent(ctx, tx, m, initial); err != nil {
			return fmt.Errorf("update parent: %w", err)
		}
		msg = m
		return nil
	})
	if err != nil {
		return nil, wrapStoreError(err)
	}

	if initial == msg.ModerationStatus {
		return msg, nil
	}

	s.logger.Info("message moderated",
		"message_id", msg.ID,
		"from", initial,
		"to", msg.ModerationStatus,
		"moderator", d.ModeratorID,
	)
	publish(ctx, s, EventNameMessageModerated, s.events.MessageModerated, MessageModeratedEvent{
		MessageID:     msg.ID,
		ModeratorID:   d.ModeratorID,
		InitialStatus: initial,
		Status:        msg.ModerationStatus,
		Reason:        msg.ModerationReason,
		At:            now,
	})
	s.plugins.notify(ctx, Notification{
		Message:       msg,
		InitialStatus: initial,
		Sender:        s.party(ctx, msg.SenderID, msg.Email),
		Recipient:     s.party(ctx, msg.RecipientID, msg.Email),
		Moderated:     true,
	})
	return msg, nil
}

// party rebuilds one side of a stored record. A missing user falls back to
// a bare ID.
func (s *service) party(ctx context.Context, userID, email string) Party {
	if userID == "" {
		return VisitorParty(email)
	}
	u, err := s.directory.UserByID(ctx, userID)
	if err != nil {
		return UserParty(&store.User{ID: userID})
	}
	return UserParty(u)
}

// withTx runs fn in a store transaction, running it again on commit
// conflicts.
func (s *service) withTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	attempt := 0
	return retry.Do(ctx, s.opts.commitRetry, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			s.logger.Warn("retrying transaction", "attempt", attempt)
		}
		return s.store.WithTx(ctx, fn)
	})
}
