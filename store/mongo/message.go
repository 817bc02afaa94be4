package mongo

import (
	"time"

	"github.com/rbaliyan/postman/store"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// messageDoc is the document shape of a message record. Unset dates are
// stored as null so that equality with nil matches them.
type messageDoc struct {
	ID                 bson.ObjectID `bson:"_id,omitempty"`
	Subject            string        `bson:"subject"`
	Body               string        `bson:"body"`
	SenderID           string        `bson:"sender_id,omitempty"`
	RecipientID        string        `bson:"recipient_id,omitempty"`
	Email              string        `bson:"email,omitempty"`
	SentAt             time.Time     `bson:"sent_at"`
	ReadAt             *time.Time    `bson:"read_at"`
	RepliedAt          *time.Time    `bson:"replied_at"`
	SenderArchived     bool          `bson:"sender_archived"`
	RecipientArchived  bool          `bson:"recipient_archived"`
	SenderDeletedAt    *time.Time    `bson:"sender_deleted_at"`
	RecipientDeletedAt *time.Time    `bson:"recipient_deleted_at"`
	ParentID           string        `bson:"parent_id,omitempty"`
	ThreadID           string        `bson:"thread_id,omitempty"`
	ModerationStatus   string        `bson:"moderation_status"`
	ModerationBy       string        `bson:"moderation_by,omitempty"`
	ModerationDate     *time.Time    `bson:"moderation_date"`
	ModerationReason   string        `bson:"moderation_reason,omitempty"`
}

func newMessageDoc(m *store.Message) *messageDoc {
	doc := &messageDoc{
		Subject:            m.Subject,
		Body:               m.Body,
		SenderID:           m.SenderID,
		RecipientID:        m.RecipientID,
		Email:              m.Email,
		SentAt:             m.SentAt,
		ReadAt:             m.ReadAt,
		RepliedAt:          m.RepliedAt,
		SenderArchived:     m.SenderArchived,
		RecipientArchived:  m.RecipientArchived,
		SenderDeletedAt:    m.SenderDeletedAt,
		RecipientDeletedAt: m.RecipientDeletedAt,
		ParentID:           m.ParentID,
		ThreadID:           m.ThreadID,
		ModerationStatus:   string(m.ModerationStatus),
		ModerationBy:       m.ModerationBy,
		ModerationDate:     m.ModerationDate,
		ModerationReason:   m.ModerationReason,
	}
	if oid, err := bson.ObjectIDFromHex(m.ID); err == nil {
		doc.ID = oid
	}
	return doc
}

// mutableFields returns the $set document of a save.
func (d *messageDoc) mutableFields() bson.M {
	return bson.M{
		"subject":              d.Subject,
		"body":                 d.Body,
		"email":                d.Email,
		"read_at":              d.ReadAt,
		"replied_at":           d.RepliedAt,
		"sender_archived":      d.SenderArchived,
		"recipient_archived":   d.RecipientArchived,
		"sender_deleted_at":    d.SenderDeletedAt,
		"recipient_deleted_at": d.RecipientDeletedAt,
		"thread_id":            d.ThreadID,
		"moderation_status":    d.ModerationStatus,
		"moderation_by":        d.ModerationBy,
		"moderation_date":      d.ModerationDate,
		"moderation_reason":    d.ModerationReason,
	}
}

func docToMessage(d *messageDoc) *store.Message {
	return &store.Message{
		ID:                 d.ID.Hex(),
		Subject:            d.Subject,
		Body:               d.Body,
		SenderID:           d.SenderID,
		RecipientID:        d.RecipientID,
		Email:              d.Email,
		SentAt:             d.SentAt.UTC(),
		ReadAt:             utc(d.ReadAt),
		RepliedAt:          utc(d.RepliedAt),
		SenderArchived:     d.SenderArchived,
		RecipientArchived:  d.RecipientArchived,
		SenderDeletedAt:    utc(d.SenderDeletedAt),
		RecipientDeletedAt: utc(d.RecipientDeletedAt),
		ParentID:           d.ParentID,
		ThreadID:           d.ThreadID,
		ModerationStatus:   store.ModerationStatus(d.ModerationStatus),
		ModerationBy:       d.ModerationBy,
		ModerationDate:     utc(d.ModerationDate),
		ModerationReason:   d.ModerationReason,
	}
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
