// Package redisblock keeps per-user block lists in Redis and exposes them
// as a postman.ExchangeFilter.
//
// Each user owns one set holding the members they refuse messages from. A
// member is a user ID, or "email:<address>" for a visitor.
package redisblock

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rbaliyan/postman"
	"github.com/rbaliyan/postman/store"
	"github.com/redis/go-redis/v9"
)

// DefaultPrefix is the key prefix of the block sets.
const DefaultPrefix = "postman:blocks:"

// List is a Redis-backed block list.
type List struct {
	client redis.UniversalClient
	prefix string
	reason string
	logger *slog.Logger
}

// Option configures a List.
type Option func(*List)

// WithPrefix sets the key prefix.
func WithPrefix(p string) Option {
	return func(l *List) {
		if p != "" {
			l.prefix = p
		}
	}
}

// WithReason sets the reason reported for a blocked exchange.
// Default is no reason.
func WithReason(r string) Option {
	return func(l *List) {
		l.reason = r
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *List) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New returns a block list stored through client.
func New(client redis.UniversalClient, opts ...Option) *List {
	l := &List{
		client: client,
		prefix: DefaultPrefix,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *List) key(userID string) string {
	return l.prefix + userID
}

// Member returns the set member identifying a party.
func Member(p postman.Party) string {
	if p.IsVisitor() {
		return "email:" + strings.ToLower(p.Email)
	}
	return p.ID()
}

// Block makes userID refuse messages from p.
func (l *List) Block(ctx context.Context, userID string, p postman.Party) error {
	if err := l.client.SAdd(ctx, l.key(userID), Member(p)).Err(); err != nil {
		return fmt.Errorf("block: %w", err)
	}
	return nil
}

// Unblock removes p from the block list of userID.
func (l *List) Unblock(ctx context.Context, userID string, p postman.Party) error {
	if err := l.client.SRem(ctx, l.key(userID), Member(p)).Err(); err != nil {
		return fmt.Errorf("unblock: %w", err)
	}
	return nil
}

// IsBlocked reports whether userID refuses messages from p.
func (l *List) IsBlocked(ctx context.Context, userID string, p postman.Party) (bool, error) {
	ok, err := l.client.SIsMember(ctx, l.key(userID), Member(p)).Result()
	if err != nil {
		return false, fmt.Errorf("check block: %w", err)
	}
	return ok, nil
}

// Blocked returns the members userID refuses messages from.
func (l *List) Blocked(ctx context.Context, userID string) ([]string, error) {
	members, err := l.client.SMembers(ctx, l.key(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	return members, nil
}

// Filter returns an exchange filter rejecting recipients who blocked the
// sender. A user never blocks themselves.
func (l *List) Filter() postman.ExchangeFilter {
	return func(ctx context.Context, sender postman.Party, recipient *store.User, _ []*store.User) (*postman.Block, error) {
		if !sender.IsVisitor() && sender.ID() == recipient.ID {
			return nil, nil
		}
		blocked, err := l.IsBlocked(ctx, recipient.ID, sender)
		if err != nil {
			return nil, err
		}
		if !blocked {
			return nil, nil
		}
		l.logger.Debug("exchange blocked", "sender", Member(sender), "recipient", recipient.ID)
		return postman.Blocked(l.reason), nil
	}
}
