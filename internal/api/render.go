package api

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/rbaliyan/postman"
	"github.com/rbaliyan/postman/store"
)

// Party kinds.
const (
	kindUser    = "user"
	kindVisitor = "visitor"
)

// partyJSON is one side of a record. A nil *partyJSON renders as null.
type partyJSON struct {
	Kind     string `json:"kind"`
	ID       string `json:"id,omitempty"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
}

// partyEncoders renders a party by kind.
var partyEncoders = map[string]func(p postman.Party) *partyJSON{
	kindUser: func(p postman.Party) *partyJSON {
		return &partyJSON{Kind: kindUser, ID: p.User.ID, Username: p.User.Username}
	},
	kindVisitor: func(p postman.Party) *partyJSON {
		return &partyJSON{Kind: kindVisitor, Email: p.Email}
	},
}

func partyKind(p postman.Party) string {
	if p.IsVisitor() {
		return kindVisitor
	}
	return kindUser
}

func encodeParty(p postman.Party) *partyJSON {
	if p.IsVisitor() && p.Email == "" {
		return nil
	}
	return partyEncoders[partyKind(p)](p)
}

type messageJSON struct {
	ID                 string     `json:"id"`
	Subject            string     `json:"subject"`
	Body               string     `json:"body"`
	Sender             *partyJSON `json:"sender"`
	Recipient          *partyJSON `json:"recipient"`
	Email              string     `json:"email"`
	SentAt             time.Time  `json:"sent_at"`
	ReadAt             *time.Time `json:"read_at"`
	RepliedAt          *time.Time `json:"replied_at"`
	SenderArchived     bool       `json:"sender_archived"`
	RecipientArchived  bool       `json:"recipient_archived"`
	SenderDeletedAt    *time.Time `json:"sender_deleted_at"`
	RecipientDeletedAt *time.Time `json:"recipient_deleted_at"`
	Parent             *string    `json:"parent"`
	Thread             *string    `json:"thread"`
}

type listJSON struct {
	Count   int64          `json:"count"`
	Limit   int            `json:"limit"`
	Offset  int            `json:"offset"`
	Results []*messageJSON `json:"results"`
}

type createdJSON struct {
	Accepted   bool           `json:"accepted"`
	Recipients []*partyJSON   `json:"recipients"`
	Messages   []*messageJSON `json:"messages"`
}

type quoteJSON struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// renderer turns records into JSON, looking each user up once.
type renderer struct {
	dir   store.UserDirectory
	users map[string]*store.User
}

func newRenderer(dir store.UserDirectory) *renderer {
	return &renderer{dir: dir, users: make(map[string]*store.User)}
}

func (r *renderer) user(ctx context.Context, id string) *store.User {
	if u, ok := r.users[id]; ok {
		return u
	}
	u, err := r.dir.UserByID(ctx, id)
	if err != nil {
		// The account is gone; keep the reference.
		u = &store.User{ID: id}
	}
	r.users[id] = u
	return u
}

// side returns the party holding one side of a record.
func (r *renderer) side(ctx context.Context, id, email string) postman.Party {
	if id != "" {
		return postman.UserParty(r.user(ctx, id))
	}
	return postman.VisitorParty(email)
}

func (r *renderer) message(ctx context.Context, m *store.Message) *messageJSON {
	out := &messageJSON{
		ID:                 m.ID,
		Subject:            m.Subject,
		Body:               m.Body,
		Email:              m.Email,
		SentAt:             m.SentAt,
		ReadAt:             m.ReadAt,
		RepliedAt:          m.RepliedAt,
		SenderArchived:     m.SenderArchived,
		RecipientArchived:  m.RecipientArchived,
		SenderDeletedAt:    m.SenderDeletedAt,
		RecipientDeletedAt: m.RecipientDeletedAt,
		Parent:             optional(m.ParentID),
		Thread:             optional(m.ThreadID),
	}
	out.Sender = encodeParty(r.side(ctx, m.SenderID, visitorEmail(m, m.SenderID)))
	out.Recipient = encodeParty(r.side(ctx, m.RecipientID, visitorEmail(m, m.RecipientID)))
	return out
}

func (r *renderer) messages(ctx context.Context, ms []*store.Message) []*messageJSON {
	out := make([]*messageJSON, len(ms))
	for i, m := range ms {
		out[i] = r.message(ctx, m)
	}
	return out
}

func (r *renderer) created(ctx context.Context, res *postman.ComposeResult) *createdJSON {
	recipients := make([]*partyJSON, 0, len(res.Recipients))
	for _, p := range res.Recipients {
		recipients = append(recipients, encodeParty(p))
	}
	return &createdJSON{
		Accepted:   res.Accepted,
		Recipients: recipients,
		Messages:   r.messages(ctx, res.Messages),
	}
}

// visitorEmail returns the record's email when the side with id is the
// visitor one.
func visitorEmail(m *store.Message, id string) string {
	if id != "" {
		return ""
	}
	return m.Email
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// idList accepts user identifiers given as JSON strings or numbers.
type idList []string

func (l *idList) UnmarshalJSON(b []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			out = append(out, s)
			continue
		}
		var n json.Number
		if err := json.Unmarshal(item, &n); err != nil {
			return err
		}
		if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
			return err
		}
		out = append(out, n.String())
	}
	*l = out
	return nil
}
