package postman

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/rbaliyan/postman/store"
)

// Party is one side of an exchange: a registered user, or a visitor known
// only by an email address.
type Party struct {
	User  *store.User
	Email string
}

// UserParty returns the party of a registered user.
func UserParty(u *store.User) Party { return Party{User: u} }

// VisitorParty returns the party of a visitor.
func VisitorParty(email string) Party { return Party{Email: email} }

// IsVisitor reports whether the party has no account.
func (p Party) IsVisitor() bool { return p.User == nil }

// ID returns the user ID, or "" for a visitor.
func (p Party) ID() string {
	if p.User == nil {
		return ""
	}
	return p.User.ID
}

// Name returns the username, or the email address of a visitor.
func (p Party) Name() string {
	if p.User != nil {
		return p.User.Username
	}
	return p.Email
}

// Address returns the email address of the party.
func (p Party) Address() string {
	if p.User != nil {
		return p.User.Email
	}
	return p.Email
}

func (p Party) same(o Party) bool {
	if p.User != nil || o.User != nil {
		return p.User != nil && o.User != nil && p.User.ID == o.User.ID
	}
	return strings.EqualFold(p.Email, o.Email)
}

// Block is a filter verdict preventing an exchange. A nil *Block allows it.
// An empty reason names the user only.
type Block struct {
	Reason string
}

// Blocked returns a verdict with the given reason.
func Blocked(reason string) *Block { return &Block{Reason: reason} }

// UserFilter vets a resolved recipient on its own.
type UserFilter func(ctx context.Context, u *store.User) (*Block, error)

// ExchangeFilter vets whether sender may write to recipient, given the full
// list of candidate recipients. A returned *ValidationError is reported to
// the caller with the other validation messages; any other error aborts.
type ExchangeFilter func(ctx context.Context, sender Party, recipient *store.User, recipients []*store.User) (*Block, error)

// ChainExchangeFilters returns a filter that runs filters in order and
// stops at the first block or error.
func ChainExchangeFilters(filters ...ExchangeFilter) ExchangeFilter {
	return func(ctx context.Context, sender Party, recipient *store.User, recipients []*store.User) (*Block, error) {
		for _, f := range filters {
			if f == nil {
				continue
			}
			b, err := f(ctx, sender, recipient, recipients)
			if err != nil || b != nil {
				return b, err
			}
		}
		return nil, nil
	}
}

// RecipientField validates and resolves a recipient list in two passes:
// a cardinality check over the raw entries, then per-entry resolution.
type RecipientField struct {
	Min        int
	Max        int
	Directory  store.UserDirectory
	UserFilter UserFilter
}

// SplitRecipients splits a comma-separated list, dropping blank entries.
func SplitRecipients(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func normalizeEntries(entries []string) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e = strings.TrimSpace(e); e != "" {
			out = append(out, e)
		}
	}
	return out
}

// CheckCount runs the cardinality pass.
func (f *RecipientField) CheckCount(entries []string) *ValidationError {
	n := len(normalizeEntries(entries))
	switch {
	case f.Min > 0 && n < f.Min:
		return NewValidationError(FieldRecipients,
			fmt.Sprintf("Ensure this value has at least %d items (it has %d).", f.Min, n))
	case f.Max > 0 && n > f.Max:
		return NewValidationError(FieldRecipients,
			fmt.Sprintf("Ensure this value has at most %d items (it has %d).", f.Max, n))
	}
	return nil
}

// Resolve runs both passes and returns the users in input order.
// Duplicates are kept.
func (f *RecipientField) Resolve(ctx context.Context, entries []string) ([]*store.User, error) {
	entries = normalizeEntries(entries)
	if verr := f.CheckCount(entries); verr != nil {
		return nil, verr
	}

	users := make([]*store.User, 0, len(entries))
	var unknown []string
	for _, entry := range entries {
		u, err := f.lookup(ctx, entry)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				unknown = append(unknown, entry)
				continue
			}
			return nil, fmt.Errorf("resolve recipient %q: %w", entry, err)
		}
		if !u.Active {
			unknown = append(unknown, entry)
			continue
		}
		users = append(users, u)
	}
	if len(unknown) > 0 {
		return nil, NewValidationError(FieldRecipients,
			fmt.Sprintf("Some usernames are unknown or no more active: %s.", strings.Join(unknown, ", ")))
	}

	if f.UserFilter == nil {
		return users, nil
	}
	verr := &ValidationError{}
	var filtered []string
	kept := users[:0:0]
	for _, u := range users {
		b, err := f.UserFilter(ctx, u)
		if err != nil {
			var ve *ValidationError
			if errors.As(err, &ve) {
				verr.Merge(ve)
				continue
			}
			return nil, err
		}
		if b != nil {
			filtered = append(filtered, describeBlock(u, b))
			continue
		}
		kept = append(kept, u)
	}
	if len(filtered) > 0 {
		verr.Add(FieldRecipients, fmt.Sprintf("Some usernames are rejected: %s.", strings.Join(filtered, ", ")))
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	return kept, nil
}

// lookup resolves an entry as a user ID, then a username, then an email.
func (f *RecipientField) lookup(ctx context.Context, entry string) (*store.User, error) {
	u, err := f.Directory.UserByID(ctx, entry)
	if err == nil || !errors.Is(err, store.ErrNotFound) {
		return u, err
	}
	u, err = f.Directory.UserByUsername(ctx, entry)
	if err == nil || !errors.Is(err, store.ErrNotFound) {
		return u, err
	}
	if !validEmail(entry) {
		return nil, store.ErrNotFound
	}
	return f.Directory.UserByEmail(ctx, entry)
}

// validEmail reports whether s is a bare email address.
func validEmail(s string) bool {
	a, err := mail.ParseAddress(s)
	return err == nil && a.Address == s
}

func describeBlock(u *store.User, b *Block) string {
	if b.Reason == "" {
		return u.Username
	}
	return fmt.Sprintf("%s (%s)", u.Username, b.Reason)
}

// applyExchangeFilter vets every recipient against sender.
func applyExchangeFilter(ctx context.Context, filter ExchangeFilter, sender Party, recipients []*store.User) ([]*store.User, error) {
	if filter == nil {
		return recipients, nil
	}
	verr := &ValidationError{}
	var filtered []string
	kept := make([]*store.User, 0, len(recipients))
	for _, u := range recipients {
		b, err := filter(ctx, sender, u, recipients)
		if err != nil {
			var ve *ValidationError
			if errors.As(err, &ve) {
				verr.Merge(ve)
				continue
			}
			return nil, fmt.Errorf("exchange filter: %w", err)
		}
		if b != nil {
			filtered = append(filtered, describeBlock(u, b))
			continue
		}
		kept = append(kept, u)
	}
	if len(filtered) > 0 {
		verr.Add(FieldRecipients, fmt.Sprintf("Writing to some users is not possible: %s.", strings.Join(filtered, ", ")))
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	return kept, nil
}

// recipientField returns the field limits for a sender.
func (s *service) recipientField(sender Party) *RecipientField {
	limit := s.opts.maxRecipients
	switch {
	case sender.IsVisitor():
		limit = DefaultMaxVisitorRecipients
	case s.opts.disallowMultiRecipients:
		limit = 1
	}
	return &RecipientField{
		Min:        min(s.opts.minRecipients, limit),
		Max:        limit,
		Directory:  s.directory,
		UserFilter: s.opts.userFilter,
	}
}

// resolveRecipients validates entries for sender and applies the exchange filter.
func (s *service) resolveRecipients(ctx context.Context, sender Party, entries []string) ([]Party, error) {
	users, err := s.recipientField(sender).Resolve(ctx, entries)
	if err != nil {
		return nil, err
	}
	users, err = applyExchangeFilter(ctx, s.opts.exchangeFilter, sender, users)
	if err != nil {
		return nil, err
	}
	parties := make([]Party, len(users))
	for i, u := range users {
		parties[i] = UserParty(u)
	}
	return parties, nil
}
