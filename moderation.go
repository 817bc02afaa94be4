package postman

import (
	"context"
	"strings"
	"time"

	"github.com/rbaliyan/postman/store"
)

// Rating is the verdict of an AutoModerator on a message.
//
// A rating of 0 rejects and 100 accepts, both immediately. Ratings in
// between are averaged with the other moderators' ratings.
type Rating struct {
	Percent int
	Reason  string
	voted   bool
}

// Abstain returns a rating that takes no part in the decision.
func Abstain() Rating { return Rating{} }

// Accept returns a rating that accepts the message.
func Accept() Rating { return Rating{Percent: 100, voted: true} }

// Reject returns a rating that rejects the message with reason.
func Reject(reason string) Rating { return Rating{Percent: 0, Reason: reason, voted: true} }

// Score returns a partial rating. reason is reported when the message is
// rejected and percent is below 50.
func Score(percent int, reason string) Rating {
	return Rating{Percent: percent, Reason: reason, voted: true}
}

// Abstained reports whether the rating takes no part in the decision.
func (r Rating) Abstained() bool { return !r.voted }

// AutoModerator rates a message before it is stored. The message has its
// recipient bound and must not be modified.
type AutoModerator func(ctx context.Context, m *store.Message) Rating

// autoModerate runs moderators in order and sets the moderation status of m.
// With no decision, fallback applies (pending leaves m untouched).
func autoModerate(ctx context.Context, m *store.Message, moderators []AutoModerator, fallback store.ModerationStatus) {
	var (
		decided  bool
		accept   bool
		reason   string
		percents []int
		reasons  []string
	)
	for _, mod := range moderators {
		r := mod(ctx, m)
		if r.Abstained() || r.Percent < 0 || r.Percent > 100 {
			continue
		}
		if r.Percent == 0 {
			decided, accept, reason = true, false, r.Reason
			break
		}
		if r.Percent == 100 {
			decided, accept = true, true
			break
		}
		percents = append(percents, r.Percent)
		reasons = append(reasons, r.Reason)
	}

	if !decided && len(percents) > 0 {
		sum := 0
		var parts []string
		for i, p := range percents {
			sum += p
			if p < 50 && strings.TrimSpace(reasons[i]) != "" {
				parts = append(parts, reasons[i])
			}
		}
		decided = true
		accept = float64(sum)/float64(len(percents)) >= 50
		reason = strings.Join(parts, ", ")
	}

	if !decided {
		switch fallback {
		case store.StatusAccepted:
			decided, accept = true, true
		case store.StatusRejected:
			decided, accept = true, false
		}
	}
	if !decided {
		return
	}
	if accept {
		m.ModerationStatus = store.StatusAccepted
		return
	}
	m.ModerationStatus = store.StatusRejected
	m.ModerationReason = reason
}

// cleanModeration keeps the moderation fields consistent after a status
// change from initial. A rejected message disappears from the recipient's
// view; leaving the rejected state brings it back.
func cleanModeration(m *store.Message, initial store.ModerationStatus, moderatorID string, now time.Time) {
	if m.ModerationStatus == initial {
		return
	}
	t := now
	m.ModerationDate = &t
	m.ModerationBy = moderatorID
	switch {
	case m.IsRejected():
		d := now
		m.RecipientDeletedAt = &d
	case initial == store.StatusRejected:
		m.RecipientDeletedAt = nil
	}
}

// cleanForVisitor marks the visitor's side read and deleted, since nobody
// can do it for them.
func cleanForVisitor(m *store.Message, now time.Time) {
	if m.SenderID == "" {
		if m.SenderDeletedAt == nil {
			t := now
			m.SenderDeletedAt = &t
		}
		return
	}
	if m.RecipientID != "" {
		return
	}
	if m.IsAccepted() {
		if m.ReadAt == nil {
			t := now
			m.ReadAt = &t
		}
		if m.RecipientDeletedAt == nil {
			t := now
			m.RecipientDeletedAt = &t
		}
		return
	}
	m.ReadAt = nil
	// a rejected message stays deleted
	if m.IsPending() {
		m.RecipientDeletedAt = nil
	}
}

// updateParent maintains the parent's reply date after m changed status
// from initial.
func updateParent(ctx context.Context, tx store.Tx, m *store.Message, initial store.ModerationStatus) error {
	if m.ParentID == "" || m.ModerationStatus == initial {
		return nil
	}
	switch {
	case m.IsAccepted():
		parent, err := tx.Get(ctx, m.ParentID)
		if err != nil {
			return err
		}
		if parent.RepliedAt != nil && !m.SentAt.Before(*parent.RepliedAt) {
			return nil
		}
		t := m.SentAt
		parent.RepliedAt = &t
		return tx.Save(ctx, parent)
	case initial == store.StatusAccepted:
		parent, err := tx.Get(ctx, m.ParentID)
		if err != nil {
			return err
		}
		if parent.RepliedAt == nil || !parent.RepliedAt.Equal(m.SentAt) {
			return nil
		}
		other, err := tx.EarliestAcceptedReply(ctx, parent.ID, m.ID)
		if err != nil {
			return err
		}
		parent.RepliedAt = other
		return tx.Save(ctx, parent)
	}
	return nil
}

// moderationSnapshot holds the fields reset between recipients.
type moderationSnapshot struct {
	status             store.ModerationStatus
	by                 string
	date               *time.Time
	reason             string
	senderDeletedAt    *time.Time
	recipientDeletedAt *time.Time
	readAt             *time.Time
}

func takeSnapshot(m *store.Message) moderationSnapshot {
	c := m.Clone()
	return moderationSnapshot{
		status:             c.ModerationStatus,
		by:                 c.ModerationBy,
		date:               c.ModerationDate,
		reason:             c.ModerationReason,
		senderDeletedAt:    c.SenderDeletedAt,
		recipientDeletedAt: c.RecipientDeletedAt,
		readAt:             c.ReadAt,
	}
}

func (s moderationSnapshot) restore(m *store.Message) {
	c := &store.Message{
		ModerationDate:     s.date,
		SenderDeletedAt:    s.senderDeletedAt,
		RecipientDeletedAt: s.recipientDeletedAt,
		ReadAt:             s.readAt,
	}
	c = c.Clone()
	m.ModerationStatus = s.status
	m.ModerationBy = s.by
	m.ModerationDate = c.ModerationDate
	m.ModerationReason = s.reason
	m.SenderDeletedAt = c.SenderDeletedAt
	m.RecipientDeletedAt = c.RecipientDeletedAt
	m.ReadAt = c.ReadAt
}
