// Package kafka publishes moderation outcomes to a Kafka topic.
//
// The Notifier sends one JSON record per accepted or rejected message,
// keyed by recipient so that a consumer sees the records of one user in
// order. Writes go through a circuit breaker so that an unavailable broker
// does not slow every compose down.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rbaliyan/postman"
	"github.com/rbaliyan/postman/store"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"
)

// Compile-time check
var _ postman.Notifier = (*Notifier)(nil)

// Defaults.
const (
	DefaultTopic       = "postman.messages"
	DefaultMaxFailures = 5
	DefaultOpenTimeout = 30 * time.Second
)

// Writer is the subset of *kafkago.Writer used by the notifier.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Record is the JSON value of a published record.
type Record struct {
	MessageID        string                 `json:"message_id"`
	Subject          string                 `json:"subject"`
	SenderID         string                 `json:"sender_id,omitempty"`
	SenderName       string                 `json:"sender_name"`
	RecipientID      string                 `json:"recipient_id,omitempty"`
	RecipientName    string                 `json:"recipient_name"`
	Visitor          bool                   `json:"visitor"`
	ParentID         string                 `json:"parent_id,omitempty"`
	ThreadID         string                 `json:"thread_id,omitempty"`
	ModerationStatus store.ModerationStatus `json:"moderation_status"`
	ModerationReason string                 `json:"moderation_reason,omitempty"`
	Moderated        bool                   `json:"moderated"`
	SentAt           time.Time              `json:"sent_at"`
}

// Notifier is a postman.Notifier writing to Kafka.
type Notifier struct {
	writer  Writer
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

type options struct {
	topic       string
	maxFailures uint32
	openTimeout time.Duration
	logger      *slog.Logger
}

// Option configures a Notifier.
type Option func(*options)

// WithTopic sets the topic of a writer built by New. Default is "postman.messages".
func WithTopic(topic string) Option {
	return func(o *options) {
		if topic != "" {
			o.topic = topic
		}
	}
}

// WithMaxFailures sets the consecutive failures that open the breaker.
func WithMaxFailures(n uint32) Option {
	return func(o *options) {
		if n > 0 {
			o.maxFailures = n
		}
	}
}

// WithOpenTimeout sets how long the breaker stays open.
func WithOpenTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.openTimeout = d
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func newOptions(opts ...Option) *options {
	o := &options{
		topic:       DefaultTopic,
		maxFailures: DefaultMaxFailures,
		openTimeout: DefaultOpenTimeout,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// New returns a notifier writing to brokers.
func New(brokers []string, opts ...Option) *Notifier {
	o := newOptions(opts...)
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        o.topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return newNotifier(w, o)
}

// NewWithWriter returns a notifier using a custom writer.
func NewWithWriter(w Writer, opts ...Option) *Notifier {
	return newNotifier(w, newOptions(opts...))
}

func newNotifier(w Writer, o *options) *Notifier {
	logger := o.logger
	st := gobreaker.Settings{
		Name:        "kafka-notify",
		MaxRequests: 1,
		Timeout:     o.openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= o.maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("circuit breaker state", "name", name, "from", from.String(), "to", to.String())
		},
	}
	return &Notifier{
		writer:  w,
		breaker: gobreaker.NewCircuitBreaker(st),
		logger:  logger,
	}
}

// Name returns the plugin identifier.
func (n *Notifier) Name() string { return "kafka" }

// Init does nothing; the writer dials lazily.
func (n *Notifier) Init(_ context.Context) error { return nil }

// Close flushes and closes the writer.
func (n *Notifier) Close(_ context.Context) error {
	return n.writer.Close()
}

// Notify publishes the outcome of an accepted or rejected record.
// Pending records are skipped.
func (n *Notifier) Notify(ctx context.Context, note postman.Notification) error {
	m := note.Message
	if m == nil || m.IsPending() {
		return nil
	}
	value, err := json.Marshal(NewRecord(note))
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	msg := kafkago.Message{
		Key:   []byte(partitionKey(note)),
		Value: value,
		Time:  m.SentAt,
	}
	_, err = n.breaker.Execute(func() (interface{}, error) {
		return nil, n.writer.WriteMessages(ctx, msg)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		n.logger.Debug("kafka notification dropped", "message_id", m.ID, "error", err)
	}
	if err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

// NewRecord builds the published record of a notification.
func NewRecord(note postman.Notification) Record {
	m := note.Message
	return Record{
		MessageID:        m.ID,
		Subject:          m.Subject,
		SenderID:         m.SenderID,
		SenderName:       note.Sender.Name(),
		RecipientID:      m.RecipientID,
		RecipientName:    note.Recipient.Name(),
		Visitor:          note.Sender.IsVisitor() || note.Recipient.IsVisitor(),
		ParentID:         m.ParentID,
		ThreadID:         m.ThreadID,
		ModerationStatus: m.ModerationStatus,
		ModerationReason: m.ModerationReason,
		Moderated:        note.Moderated,
		SentAt:           m.SentAt,
	}
}

func partitionKey(note postman.Notification) string {
	if note.Message.RecipientID != "" {
		return note.Message.RecipientID
	}
	return "email:" + note.Recipient.Address()
}
