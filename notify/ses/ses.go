// Package ses emails parties about messages through AWS SES v2.
//
// Visitors have no mailbox to read, so the Notifier emails them:
// an accepted message to a visitor is delivered by email, and a visitor
// whose message was rejected is told why. Registered recipients can also
// be told about new messages with WithUserNotifications.
package ses

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/rbaliyan/postman"
)

// Compile-time check
var _ postman.Notifier = (*Notifier)(nil)

// SendEmailAPI is the interface for the SES v2 SendEmail operation.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// Config holds the settings of a Notifier built by New.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Sender          string
}

// Notifier is a postman.Notifier sending email.
type Notifier struct {
	sender      string
	client      SendEmailAPI
	notifyUsers bool
	siteName    string
	logger      *slog.Logger
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithUserNotifications also emails registered recipients of accepted
// messages.
func WithUserNotifications(enabled bool) Option {
	return func(n *Notifier) {
		n.notifyUsers = enabled
	}
}

// WithSiteName sets the name used in subjects. Default is "postman".
func WithSiteName(name string) Option {
	return func(n *Notifier) {
		if name != "" {
			n.siteName = name
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(n *Notifier) {
		if l != nil {
			n.logger = l
		}
	}
}

// New loads the AWS configuration and returns a notifier. Static
// credentials are used when both keys are set.
func New(ctx context.Context, cfg Config, opts ...Option) (*Notifier, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return NewWithClient(cfg.Sender, sesv2.NewFromConfig(awsCfg), opts...), nil
}

// NewWithClient returns a notifier using a custom client.
func NewWithClient(sender string, client SendEmailAPI, opts ...Option) *Notifier {
	n := &Notifier{
		sender:   sender,
		client:   client,
		siteName: "postman",
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Name returns the plugin identifier.
func (n *Notifier) Name() string { return "ses" }

// Init checks that a sender address is configured.
func (n *Notifier) Init(_ context.Context) error {
	if n.sender == "" {
		return fmt.Errorf("ses: sender address is required")
	}
	return nil
}

// Close does nothing.
func (n *Notifier) Close(_ context.Context) error { return nil }

// Notify emails the party concerned by the record, if any.
func (n *Notifier) Notify(ctx context.Context, note postman.Notification) error {
	e, ok := n.compose(note)
	if !ok {
		return nil
	}
	if _, err := n.client.SendEmail(ctx, buildInput(n.sender, e)); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	n.logger.Debug("email notification sent", "message_id", note.Message.ID, "to", e.to)
	return nil
}

type email struct {
	to      string
	subject string
	body    string
}

// compose picks the email of a notification. ok is false when nobody is
// to be told.
func (n *Notifier) compose(note postman.Notification) (email, bool) {
	m := note.Message
	if m == nil {
		return email{}, false
	}
	switch {
	case m.IsAccepted() && note.Recipient.IsVisitor():
		return email{
			to:      note.Recipient.Email,
			subject: fmt.Sprintf("[%s] %s", n.siteName, m.Subject),
			body:    fmt.Sprintf("%s wrote:\n\n%s\n", note.Sender.Name(), m.Body),
		}, true
	case m.IsRejected() && note.Sender.IsVisitor():
		var sb strings.Builder
		fmt.Fprintf(&sb, "Your message %q to %s has been rejected by the moderator.\n", m.Subject, note.Recipient.Name())
		if m.ModerationReason != "" {
			fmt.Fprintf(&sb, "Reason: %s\n", m.ModerationReason)
		}
		return email{
			to:      note.Sender.Email,
			subject: fmt.Sprintf("[%s] Message rejected", n.siteName),
			body:    sb.String(),
		}, true
	case m.IsAccepted() && n.notifyUsers && note.Recipient.Address() != "":
		return email{
			to:      note.Recipient.Address(),
			subject: fmt.Sprintf("[%s] New message from %s", n.siteName, note.Sender.Name()),
			body:    fmt.Sprintf("You have received a new message: %q.\n", m.Subject),
		}, true
	}
	return email{}, false
}

func buildInput(sender string, e email) *sesv2.SendEmailInput {
	return &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(sender),
		Destination: &types.Destination{
			ToAddresses: []string{e.to},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(e.subject),
					Charset: aws.String("UTF-8"),
				},
				Body: &types.Body{
					Text: &types.Content{
						Data:    aws.String(e.body),
						Charset: aws.String("UTF-8"),
					},
				},
			},
		},
	}
}
