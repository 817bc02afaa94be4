package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rbaliyan/postman/store"
)

// Insert stores a new record and assigns m.ID.
func (s *Store) Insert(ctx context.Context, m *store.Message) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()
	return s.insert(ctx, s.db, m)
}

func (s *Store) insert(ctx context.Context, e sqlx.ExtContext, m *store.Message) error {
	id := m.ID
	if id == "" {
		id = uuid.New().String()
	}
	rec := toRecord(m)
	rec.ID = id

	query := fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES (:id, :subject, :body, :sender_id, :recipient_id, :email,
		        :sent_at, :read_at, :replied_at,
		        :sender_archived, :recipient_archived, :sender_deleted_at, :recipient_deleted_at,
		        :parent_id, :thread_id,
		        :moderation_status, :moderation_by, :moderation_date, :moderation_reason)
	`, s.opts.table, messageColumns)
	if _, err := sqlx.NamedExecContext(ctx, e, query, rec); err != nil {
		return fmt.Errorf("insert message: %w", mapError(err))
	}
	m.ID = id
	return nil
}

// Save overwrites the mutable fields of an existing record.
func (s *Store) Save(ctx context.Context, m *store.Message) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()
	return s.save(ctx, s.db, m)
}

func (s *Store) save(ctx context.Context, e sqlx.ExtContext, m *store.Message) error {
	if _, err := uuid.Parse(m.ID); err != nil {
		return store.ErrInvalidID
	}
	query := fmt.Sprintf(`
		UPDATE %s SET
			subject = :subject, body = :body, email = :email,
			read_at = :read_at, replied_at = :replied_at,
			sender_archived = :sender_archived, recipient_archived = :recipient_archived,
			sender_deleted_at = :sender_deleted_at, recipient_deleted_at = :recipient_deleted_at,
			thread_id = :thread_id,
			moderation_status = :moderation_status, moderation_by = :moderation_by,
			moderation_date = :moderation_date, moderation_reason = :moderation_reason
		WHERE id = :id
	`, s.opts.table)
	result, err := sqlx.NamedExecContext(ctx, e, query, toRecord(m))
	if err != nil {
		return fmt.Errorf("save message: %w", mapError(err))
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return store.ErrNotFound
	}
	return nil
}

// EarliestAcceptedReply returns the send date of the oldest accepted
// direct reply to parentID, ignoring excludeID.
func (s *Store) EarliestAcceptedReply(ctx context.Context, parentID, excludeID string) (*time.Time, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()
	return s.earliestAcceptedReply(ctx, s.db, parentID, excludeID)
}

func (s *Store) earliestAcceptedReply(ctx context.Context, q sqlx.QueryerContext, parentID, excludeID string) (*time.Time, error) {
	if !validUUID(parentID) {
		return nil, nil
	}
	b := &whereBuilder{}
	where := fmt.Sprintf("parent_id = %s AND moderation_status = %s",
		b.arg(parentID), b.arg(string(store.StatusAccepted)))
	if validUUID(excludeID) {
		where += " AND id <> " + b.arg(excludeID)
	}
	query := fmt.Sprintf(`SELECT MIN(sent_at) FROM %s WHERE %s`, s.opts.table, where)

	var earliest sql.NullTime
	if err := sqlx.GetContext(ctx, q, &earliest, query, b.args...); err != nil {
		return nil, fmt.Errorf("earliest reply: %w", err)
	}
	return timePtr(earliest), nil
}

// =============================================================================
// Side updates
// =============================================================================

// SetArchived sets the archived flag of the scope's side.
func (s *Store) SetArchived(ctx context.Context, scope store.Scope, archived bool) (int64, error) {
	column := "recipient_archived"
	if scope.Role == store.RoleSender {
		column = "sender_archived"
	}
	return s.updateSide(ctx, scope, column, archived, "")
}

// SetDeleted sets or clears the deletion date of the scope's side.
func (s *Store) SetDeleted(ctx context.Context, scope store.Scope, at *time.Time) (int64, error) {
	column := "recipient_deleted_at"
	if scope.Role == store.RoleSender {
		column = "sender_deleted_at"
	}
	return s.updateSide(ctx, scope, column, nullTime(at), "")
}

// SetRead sets the read date of unread recipient-side records.
func (s *Store) SetRead(ctx context.Context, scope store.Scope, at time.Time) (int64, error) {
	if scope.Role != store.RoleRecipient {
		return 0, nil
	}
	return s.updateSide(ctx, scope, "read_at", at, "read_at IS NULL")
}

// updateSide sets column to value on every record of scope, optionally
// narrowed by extra.
func (s *Store) updateSide(ctx context.Context, scope store.Scope, column string, value any, extra string) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}
	if err := scope.Validate(); err != nil {
		return 0, err
	}
	query, args, ok := updateSideQuery(s.opts.table, scope, column, value, extra)
	if !ok {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", column, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return rows, nil
}

// updateSideQuery builds the UPDATE statement of a side update.
func updateSideQuery(table string, scope store.Scope, column string, value any, extra string) (string, []any, bool) {
	where, b, ok := scopeWhere(scope)
	if !ok {
		return "", nil, false
	}
	if extra != "" {
		where += " AND " + extra
	}
	query := fmt.Sprintf(`UPDATE %s SET %s = %s WHERE %s`, table, column, b.arg(value), where)
	return query, b.args, true
}

// =============================================================================
// Transactions
// =============================================================================

// WithTx runs fn inside a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(ctx, &txStore{s: s, tx: tx}); err != nil {
		return mapError(err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrTransactionFailed, err)
	}
	return nil
}

// txStore is the store.Tx of a database transaction.
type txStore struct {
	s  *Store
	tx *sqlx.Tx
}

func (t *txStore) Get(ctx context.Context, id string) (*store.Message, error) {
	return t.s.get(ctx, t.tx, id)
}

func (t *txStore) Insert(ctx context.Context, m *store.Message) error {
	return t.s.insert(ctx, t.tx, m)
}

func (t *txStore) Save(ctx context.Context, m *store.Message) error {
	return t.s.save(ctx, t.tx, m)
}

func (t *txStore) EarliestAcceptedReply(ctx context.Context, parentID, excludeID string) (*time.Time, error) {
	return t.s.earliestAcceptedReply(ctx, t.tx, parentID, excludeID)
}
