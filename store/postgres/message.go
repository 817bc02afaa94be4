package postgres

import (
	"database/sql"
	"time"

	"github.com/rbaliyan/postman/store"
)

// messageColumns is the canonical column list of the message table, in the
// order of the record struct.
const messageColumns = `id, subject, body, sender_id, recipient_id, email,
       sent_at, read_at, replied_at,
       sender_archived, recipient_archived, sender_deleted_at, recipient_deleted_at,
       parent_id, thread_id,
       moderation_status, moderation_by, moderation_date, moderation_reason`

// record is the row shape of a message. Empty IDs and unset dates are NULL.
type record struct {
	ID                 string         `db:"id"`
	Subject            string         `db:"subject"`
	Body               string         `db:"body"`
	SenderID           sql.NullString `db:"sender_id"`
	RecipientID        sql.NullString `db:"recipient_id"`
	Email              string         `db:"email"`
	SentAt             time.Time      `db:"sent_at"`
	ReadAt             sql.NullTime   `db:"read_at"`
	RepliedAt          sql.NullTime   `db:"replied_at"`
	SenderArchived     bool           `db:"sender_archived"`
	RecipientArchived  bool           `db:"recipient_archived"`
	SenderDeletedAt    sql.NullTime   `db:"sender_deleted_at"`
	RecipientDeletedAt sql.NullTime   `db:"recipient_deleted_at"`
	ParentID           sql.NullString `db:"parent_id"`
	ThreadID           sql.NullString `db:"thread_id"`
	ModerationStatus   string         `db:"moderation_status"`
	ModerationBy       string         `db:"moderation_by"`
	ModerationDate     sql.NullTime   `db:"moderation_date"`
	ModerationReason   string         `db:"moderation_reason"`
}

func toRecord(m *store.Message) *record {
	return &record{
		ID:                 m.ID,
		Subject:            m.Subject,
		Body:               m.Body,
		SenderID:           nullString(m.SenderID),
		RecipientID:        nullString(m.RecipientID),
		Email:              m.Email,
		SentAt:             m.SentAt,
		ReadAt:             nullTime(m.ReadAt),
		RepliedAt:          nullTime(m.RepliedAt),
		SenderArchived:     m.SenderArchived,
		RecipientArchived:  m.RecipientArchived,
		SenderDeletedAt:    nullTime(m.SenderDeletedAt),
		RecipientDeletedAt: nullTime(m.RecipientDeletedAt),
		ParentID:           nullString(m.ParentID),
		ThreadID:           nullString(m.ThreadID),
		ModerationStatus:   string(m.ModerationStatus),
		ModerationBy:       m.ModerationBy,
		ModerationDate:     nullTime(m.ModerationDate),
		ModerationReason:   m.ModerationReason,
	}
}

func (r *record) toMessage() *store.Message {
	return &store.Message{
		ID:                 r.ID,
		Subject:            r.Subject,
		Body:               r.Body,
		SenderID:           r.SenderID.String,
		RecipientID:        r.RecipientID.String,
		Email:              r.Email,
		SentAt:             r.SentAt.UTC(),
		ReadAt:             timePtr(r.ReadAt),
		RepliedAt:          timePtr(r.RepliedAt),
		SenderArchived:     r.SenderArchived,
		RecipientArchived:  r.RecipientArchived,
		SenderDeletedAt:    timePtr(r.SenderDeletedAt),
		RecipientDeletedAt: timePtr(r.RecipientDeletedAt),
		ParentID:           r.ParentID.String,
		ThreadID:           r.ThreadID.String,
		ModerationStatus:   store.ModerationStatus(r.ModerationStatus),
		ModerationBy:       r.ModerationBy,
		ModerationDate:     timePtr(r.ModerationDate),
		ModerationReason:   r.ModerationReason,
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	u := t.Time.UTC()
	return &u
}
