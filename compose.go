package postman

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rbaliyan/postman/store"
	"go.opentelemetry.io/otel/attribute"
)

// Compose kinds, used in spans and metrics.
const (
	kindCompose  = "compose"
	kindReply    = "reply"
	kindReplyAll = "reply_all"
	kindForward  = "forward"
	kindVisitor  = "visitor"
)

// ComposeRequest is the input of a new message, a forward or a reply-all.
// Recipients are user IDs, usernames or email addresses.
type ComposeRequest struct {
	Subject    string
	Body       string
	Recipients []string
}

// ReplyRequest is the input of a plain reply. An empty subject defaults to
// the parent's subject prefixed with "Re: ".
type ReplyRequest struct {
	Subject string
	Body    string
}

// ComposeResult reports the records stored by one compose action.
type ComposeResult struct {
	// Accepted is false when at least one record was rejected by moderation.
	Accepted   bool
	Recipients []Party
	Messages   []*Message
}

// submission is a validated compose action.
type submission struct {
	kind       string
	sender     Party
	subject    string
	body       string
	recipients []Party
	parent     *Message
	// priority is moved to the front of recipients, once.
	priority *Party
}

// validateContent checks subject and body. A reply may leave the subject
// blank.
func validateContent(subject, body string, subjectRequired bool) *ValidationError {
	verr := &ValidationError{}
	if strings.TrimSpace(body) == "" {
		verr.Add(FieldBody, "This field is required.")
	}
	if subjectRequired && strings.TrimSpace(subject) == "" {
		verr.Add(FieldSubject, "This field is required.")
	}
	if n := utf8.RuneCountInString(subject); n > store.MaxSubjectLength {
		verr.Add(FieldSubject, fmt.Sprintf("Ensure this field has no more than %d characters.", store.MaxSubjectLength))
	}
	return verr
}

// prepare validates content and resolves the explicit recipients of a
// compose action. Field and recipient messages are reported together.
func (s *service) prepare(ctx context.Context, sender Party, req ComposeRequest) ([]Party, error) {
	verr := validateContent(req.Subject, req.Body, true)
	recipients, err := s.resolveRecipients(ctx, sender, req.Recipients)
	if err != nil {
		var ve *ValidationError
		if !errors.As(err, &ve) {
			return nil, err
		}
		verr.Merge(ve)
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	return recipients, nil
}

// Compose sends a new message to every recipient.
func (m *userMailbox) Compose(ctx context.Context, req ComposeRequest) (*ComposeResult, error) {
	if err := m.checkAccess(); err != nil {
		return nil, err
	}
	sender, err := m.self(ctx)
	if err != nil {
		return nil, err
	}
	recipients, err := m.service.prepare(ctx, sender, req)
	if err != nil {
		return nil, err
	}
	return m.service.create(ctx, &submission{
		kind:       kindCompose,
		sender:     sender,
		subject:    req.Subject,
		body:       req.Body,
		recipients: recipients,
	})
}

// Forward sends the content of req to new recipients. The forwarded record
// only has to be visible to the user; the new records start their own
// conversation.
func (m *userMailbox) Forward(ctx context.Context, messageID string, req ComposeRequest) (*ComposeResult, error) {
	if err := m.checkAccess(); err != nil {
		return nil, err
	}
	if _, err := m.visible(ctx, messageID); err != nil {
		return nil, err
	}
	sender, err := m.self(ctx)
	if err != nil {
		return nil, err
	}
	recipients, err := m.service.prepare(ctx, sender, req)
	if err != nil {
		return nil, err
	}
	return m.service.create(ctx, &submission{
		kind:       kindForward,
		sender:     sender,
		subject:    req.Subject,
		body:       req.Body,
		recipients: recipients,
	})
}

// Reply answers the sender of parentID, or its visitor address when the
// parent has no sender.
func (m *userMailbox) Reply(ctx context.Context, parentID string, req ReplyRequest) (*ComposeResult, error) {
	if err := m.checkAccess(); err != nil {
		return nil, err
	}
	parent, err := m.visible(ctx, parentID)
	if err != nil {
		return nil, err
	}
	sender, err := m.self(ctx)
	if err != nil {
		return nil, err
	}
	if err := validateContent(req.Subject, req.Body, false).OrNil(); err != nil {
		return nil, err
	}
	to, err := m.service.parentSender(ctx, parent)
	if err != nil {
		return nil, err
	}
	subject := req.Subject
	if strings.TrimSpace(subject) == "" {
		subject = FormatSubject(parent.Subject)
	}
	return m.service.create(ctx, &submission{
		kind:       kindReply,
		sender:     sender,
		subject:    subject,
		body:       req.Body,
		recipients: []Party{to},
		parent:     parent,
	})
}

// ReplyAll answers the sender of parentID and every recipient of req. The
// parent's sender comes first and is never written to twice.
func (m *userMailbox) ReplyAll(ctx context.Context, parentID string, req ComposeRequest) (*ComposeResult, error) {
	if err := m.checkAccess(); err != nil {
		return nil, err
	}
	parent, err := m.visible(ctx, parentID)
	if err != nil {
		return nil, err
	}
	sender, err := m.self(ctx)
	if err != nil {
		return nil, err
	}
	recipients, err := m.service.prepare(ctx, sender, req)
	if err != nil {
		return nil, err
	}
	sub := &submission{
		kind:       kindReplyAll,
		sender:     sender,
		subject:    req.Subject,
		body:       req.Body,
		recipients: recipients,
		parent:     parent,
	}
	// The user may be replying to their own message.
	if parent.SenderID != m.userID {
		to, err := m.service.parentSender(ctx, parent)
		if err != nil {
			return nil, err
		}
		sub.priority = &to
	}
	return m.service.create(ctx, sub)
}

// QuoteReply returns the prefilled reply form for parentID.
func (m *userMailbox) QuoteReply(ctx context.Context, parentID string) (*Quote, error) {
	if err := m.checkAccess(); err != nil {
		return nil, err
	}
	parent, err := m.visible(ctx, parentID)
	if err != nil {
		return nil, err
	}
	name := obfuscateEmail(parent.Email)
	if parent.SenderID != "" {
		name = parent.SenderID
		if u, err := m.service.directory.UserByID(ctx, parent.SenderID); err == nil {
			name = u.Username
		}
	}
	return &Quote{
		Subject: FormatSubject(parent.Subject),
		Body:    FormatBody(name, parent.Body),
	}, nil
}

// ComposeAsVisitor sends a message from an anonymous sender.
func (s *service) ComposeAsVisitor(ctx context.Context, email string, req ComposeRequest) (*ComposeResult, error) {
	if !s.IsConnected() {
		return nil, ErrNotConnected
	}
	email = strings.TrimSpace(email)
	sender := VisitorParty(email)

	verr := &ValidationError{}
	if email == "" {
		verr.Add(FieldEmail, "This field is required.")
	} else if !validEmail(email) {
		verr.Add(FieldEmail, "Enter a valid email address.")
	}
	recipients, err := s.prepare(ctx, sender, req)
	if err != nil {
		var ve *ValidationError
		if !errors.As(err, &ve) {
			return nil, err
		}
		verr.Merge(ve)
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	return s.create(ctx, &submission{
		kind:       kindVisitor,
		sender:     sender,
		subject:    req.Subject,
		body:       req.Body,
		recipients: recipients,
	})
}

// parentSender returns the party a reply to parent goes to.
func (s *service) parentSender(ctx context.Context, parent *Message) (Party, error) {
	if parent.SenderID == "" {
		if parent.Email == "" {
			return Party{}, NewValidationError(FieldRecipients, "The message has no sender to reply to.")
		}
		return VisitorParty(parent.Email), nil
	}
	u, err := s.directory.UserByID(ctx, parent.SenderID)
	if err != nil {
		if store.IsNotFound(err) {
			return Party{}, NewValidationError(FieldRecipients,
				fmt.Sprintf("Some usernames are unknown or no more active: %s.", parent.SenderID))
		}
		return Party{}, err
	}
	if !u.Active {
		return Party{}, NewValidationError(FieldRecipients,
			fmt.Sprintf("Some usernames are unknown or no more active: %s.", u.Username))
	}
	return UserParty(u), nil
}

// prioritize moves p to the front of recipients, dropping its other
// occurrences.
func prioritize(recipients []Party, p *Party) []Party {
	if p == nil {
		return recipients
	}
	out := make([]Party, 0, len(recipients)+1)
	out = append(out, *p)
	for _, r := range recipients {
		if !r.same(*p) {
			out = append(out, r)
		}
	}
	return out
}

// create stores one record per recipient of sub in a single transaction.
func (s *service) create(ctx context.Context, sub *submission) (result *ComposeResult, err error) {
	if err := s.composeSem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire compose slot: %w", err)
	}
	defer s.composeSem.Release(1)

	start := time.Now()
	ctx, endSpan := s.otel.startSpan(ctx, "postman.compose",
		attribute.String("kind", sub.kind),
		attribute.Int("recipients", len(sub.recipients)),
	)
	rejected := 0
	defer func() {
		endSpan(err)
		s.otel.recordCompose(ctx, time.Since(start), sub.kind, len(sub.recipients), rejected, err)
	}()

	parent := sub.parent
	if parent != nil && parent.ThreadID == "" {
		// First reply turns the parent into a conversation. Its reply date
		// waits for the moderation of the reply.
		parent.ThreadID = parent.ID
		if err := s.store.Save(ctx, parent); err != nil {
			return nil, fmt.Errorf("promote thread root: %w", wrapStoreError(err))
		}
	}

	now := s.opts.now()
	tmpl := &store.Message{
		Subject:          sub.subject,
		Body:             sub.body,
		SenderID:         sub.sender.ID(),
		SentAt:           now,
		ModerationStatus: store.StatusPending,
	}
	var senderEmail string
	if sub.sender.IsVisitor() {
		senderEmail = sub.sender.Email
	}
	tmpl.Email = senderEmail
	if parent != nil {
		tmpl.ParentID = parent.ID
		tmpl.ThreadID = parent.ThreadID
	}
	initial := tmpl.ModerationStatus
	snap := takeSnapshot(tmpl)
	recipients := prioritize(sub.recipients, sub.priority)

	var stored []*store.Message
	err = s.withTx(ctx, func(ctx context.Context, tx store.Tx) error {
		// A retried transaction starts over from the template.
		stored = stored[:0]
		for _, r := range recipients {
			snap.restore(tmpl)
			tmpl.Email = senderEmail
			tmpl.ID = ""
			tmpl.RecipientID = r.ID()
			if r.IsVisitor() {
				tmpl.Email = r.Email
			}
			autoModerate(ctx, tmpl, s.opts.autoModerators, s.opts.autoModerateAs)
			cleanModeration(tmpl, initial, "", now)
			cleanForVisitor(tmpl, now)
			if err := tx.Insert(ctx, tmpl); err != nil {
				return fmt.Errorf("insert message: %w", err)
			}
			if err := updateParent(ctx, tx, tmpl, initial); err != nil {
				return fmt.Errorf("update parent: %w", err)
			}
			stored = append(stored, tmpl.Clone())
		}
		return nil
	})
	if err != nil {
		s.logger.Error("compose failed", "kind", sub.kind, "error", err)
		return nil, wrapStoreError(err)
	}

	result = &ComposeResult{Accepted: true, Recipients: recipients, Messages: stored}
	for i, m := range stored {
		if m.IsRejected() {
			result.Accepted = false
			rejected++
		}
		publish(ctx, s, EventNameMessageComposed, s.events.MessageComposed, MessageComposedEvent{
			MessageID:        m.ID,
			SenderID:         m.SenderID,
			RecipientID:      m.RecipientID,
			ParentID:         m.ParentID,
			ThreadID:         m.ThreadID,
			ModerationStatus: m.ModerationStatus,
			SentAt:           m.SentAt,
		})
		s.plugins.notify(ctx, Notification{
			Message:       m,
			InitialStatus: initial,
			Sender:        sub.sender,
			Recipient:     recipients[i],
		})
	}

	s.logger.Debug("message composed",
		"kind", sub.kind,
		"records", len(stored),
		"accepted", result.Accepted,
	)
	return result, nil
}
