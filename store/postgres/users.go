package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/rbaliyan/postman/store"
)

type userRecord struct {
	ID       string `db:"id"`
	Username string `db:"username"`
	Email    string `db:"email"`
	Active   bool   `db:"is_active"`
}

// UserByID returns the user with the given ID.
func (s *Store) UserByID(ctx context.Context, id string) (*store.User, error) {
	return s.findUser(ctx, "CAST(id AS TEXT) = $1", id)
}

// UserByUsername returns the user with the given username, ignoring case.
func (s *Store) UserByUsername(ctx context.Context, username string) (*store.User, error) {
	return s.findUser(ctx, "LOWER(username) = LOWER($1)", username)
}

// UserByEmail returns the user with the given email address, ignoring case.
// Ambiguous addresses resolve to no user.
func (s *Store) UserByEmail(ctx context.Context, email string) (*store.User, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var recs []userRecord
	query := fmt.Sprintf(`SELECT id, username, email, is_active FROM %s WHERE LOWER(email) = LOWER($1) LIMIT 2`, s.opts.usersTable)
	if err := sqlx.SelectContext(ctx, s.db, &recs, query, email); err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if len(recs) != 1 {
		return nil, store.ErrNotFound
	}
	return recs[0].toUser(), nil
}

func (s *Store) findUser(ctx context.Context, cond string, arg string) (*store.User, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if arg == "" {
		return nil, store.ErrNotFound
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var rec userRecord
	query := fmt.Sprintf(`SELECT id, username, email, is_active FROM %s WHERE %s`, s.opts.usersTable, cond)
	if err := sqlx.GetContext(ctx, s.db, &rec, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return rec.toUser(), nil
}

func (r *userRecord) toUser() *store.User {
	return &store.User{ID: r.ID, Username: r.Username, Email: r.Email, Active: r.Active}
}
