package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rbaliyan/postman/store"
)

// whereBuilder accumulates positional arguments for a statement.
type whereBuilder struct {
	args []any
}

// arg appends v and returns its placeholder.
func (b *whereBuilder) arg(v any) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

func validUUID(id string) bool {
	if id == "" {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

// sideCondition selects the records the user holds on one side.
// The recipient side only covers accepted records.
func sideCondition(b *whereBuilder, role store.Role, userID string) string {
	if role == store.RoleSender {
		return "sender_id = " + b.arg(userID)
	}
	return fmt.Sprintf("(recipient_id = %s AND moderation_status = %s)",
		b.arg(userID), b.arg(string(store.StatusAccepted)))
}

// queryWhere translates a folder query into a WHERE clause.
func queryWhere(q store.Query) (string, []any) {
	b := &whereBuilder{}
	r := sideCondition(b, store.RoleRecipient, q.UserID)
	s := sideCondition(b, store.RoleSender, q.UserID)

	var cond string
	switch q.Folder {
	case store.FolderInbox:
		cond = r + " AND NOT recipient_archived AND recipient_deleted_at IS NULL"
	case store.FolderSent:
		cond = s + " AND NOT sender_archived AND sender_deleted_at IS NULL"
	case store.FolderArchives:
		cond = fmt.Sprintf("(%s AND recipient_archived AND recipient_deleted_at IS NULL) OR (%s AND sender_archived AND sender_deleted_at IS NULL)", r, s)
	case store.FolderTrash:
		cond = fmt.Sprintf("(%s AND recipient_deleted_at IS NOT NULL) OR (%s AND sender_deleted_at IS NOT NULL)", r, s)
	case store.FolderThread:
		cond = fmt.Sprintf("thread_id = %s AND ((%s AND sender_deleted_at IS NULL) OR (%s AND recipient_deleted_at IS NULL))",
			b.arg(q.ThreadID), s, r)
	default:
		cond = "FALSE"
	}
	if q.Unread {
		cond = "(" + cond + ") AND read_at IS NULL"
	}
	return cond, b.args
}

// scopeWhere translates a scope into a WHERE clause. ok is false when the
// scope cannot match any record.
func scopeWhere(sc store.Scope) (cond string, b *whereBuilder, ok bool) {
	b = &whereBuilder{}
	var sel []string
	if validUUID(sc.MessageID) {
		sel = append(sel, "id = "+b.arg(sc.MessageID))
	}
	if validUUID(sc.ThreadID) {
		sel = append(sel, "thread_id = "+b.arg(sc.ThreadID))
	}
	if len(sel) == 0 {
		return "", nil, false
	}
	cond = "(" + strings.Join(sel, " OR ") + ") AND " + sideCondition(b, sc.Role, sc.UserID)
	return cond, b, true
}

func orderBy(q store.Query) string {
	if q.Ascending() {
		return "sent_at ASC, id ASC"
	}
	return "sent_at DESC, id DESC"
}

// Get retrieves a message by ID.
func (s *Store) Get(ctx context.Context, id string) (*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()
	return s.get(ctx, s.db, id)
}

func (s *Store) get(ctx context.Context, q sqlx.QueryerContext, id string) (*store.Message, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, store.ErrInvalidID
	}
	var rec record
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, messageColumns, s.opts.table)
	if err := sqlx.GetContext(ctx, q, &rec, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	return rec.toMessage(), nil
}

// Find returns a page of the messages matching the query.
func (s *Store) Find(ctx context.Context, q store.Query) (*store.MessageList, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if q.Folder == store.FolderThread && !validUUID(q.ThreadID) {
		return &store.MessageList{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	opts := store.NormalizeOptions(q.Options, 20, 0)
	where, args := queryWhere(q)

	var total int64
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s`, s.opts.table, where)
	if err := sqlx.GetContext(ctx, s.db, &total, countQuery, args...); err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE %s
		ORDER BY %s
		LIMIT $%d OFFSET $%d
	`, messageColumns, s.opts.table, where, orderBy(q), len(args)+1, len(args)+2)
	args = append(args, opts.Limit+1, opts.Offset)

	var recs []record
	if err := sqlx.SelectContext(ctx, s.db, &recs, query, args...); err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}

	hasMore := len(recs) > opts.Limit
	if hasMore {
		recs = recs[:opts.Limit]
	}
	messages := make([]*store.Message, len(recs))
	for i := range recs {
		messages[i] = recs[i].toMessage()
	}
	return &store.MessageList{Messages: messages, Total: total, HasMore: hasMore}, nil
}

// Count returns the number of messages matching the query.
func (s *Store) Count(ctx context.Context, q store.Query) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}
	if err := q.Validate(); err != nil {
		return 0, err
	}
	if q.Folder == store.FolderThread && !validUUID(q.ThreadID) {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	where, args := queryWhere(q)
	var total int64
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s`, s.opts.table, where)
	if err := sqlx.GetContext(ctx, s.db, &total, query, args...); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return total, nil
}
