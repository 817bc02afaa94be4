package ses

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/rbaliyan/postman"
	"github.com/rbaliyan/postman/store"
)

// mockSESClient implements SendEmailAPI for testing.
type mockSESClient struct {
	err       error
	callCount int
	lastInput *sesv2.SendEmailInput
}

func (m *mockSESClient) SendEmail(_ context.Context, params *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	m.callCount++
	m.lastInput = params
	if m.err != nil {
		return nil, m.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("test-message-id")}, nil
}

var (
	alice = &store.User{ID: "alice", Username: "alice", Email: "alice@example.com", Active: true}
	bob   = &store.User{ID: "bob", Username: "bob", Email: "bob@example.com", Active: true}
)

func TestNotify(t *testing.T) {
	tests := []struct {
		name        string
		opts        []Option
		note        postman.Notification
		wantTo      string
		wantSubject string
		wantBody    string
	}{
		{
			name: "accepted to visitor",
			note: postman.Notification{
				Message:   &store.Message{ID: "1", Subject: "hello", Body: "see you", SenderID: "alice", Email: "v@example.com", ModerationStatus: store.StatusAccepted},
				Sender:    postman.UserParty(alice),
				Recipient: postman.VisitorParty("v@example.com"),
			},
			wantTo:      "v@example.com",
			wantSubject: "[site] hello",
			wantBody:    "alice wrote:",
		},
		{
			name: "rejected from visitor",
			note: postman.Notification{
				Message:   &store.Message{ID: "2", Subject: "buy now", RecipientID: "bob", Email: "v@example.com", ModerationStatus: store.StatusRejected, ModerationReason: "spam"},
				Sender:    postman.VisitorParty("v@example.com"),
				Recipient: postman.UserParty(bob),
			},
			wantTo:      "v@example.com",
			wantSubject: "[site] Message rejected",
			wantBody:    "Reason: spam",
		},
		{
			name: "accepted to user with notifications",
			opts: []Option{WithUserNotifications(true)},
			note: postman.Notification{
				Message:   &store.Message{ID: "3", Subject: "lunch", SenderID: "alice", RecipientID: "bob", ModerationStatus: store.StatusAccepted},
				Sender:    postman.UserParty(alice),
				Recipient: postman.UserParty(bob),
			},
			wantTo:      "bob@example.com",
			wantSubject: "[site] New message from alice",
			wantBody:    `"lunch"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockSESClient{}
			n := NewWithClient("noreply@example.com", mock, append(tt.opts, WithSiteName("site"))...)
			if err := n.Notify(context.Background(), tt.note); err != nil {
				t.Fatalf("Notify failed: %v", err)
			}
			if mock.callCount != 1 {
				t.Fatalf("call count: got %d, want 1", mock.callCount)
			}
			in := mock.lastInput
			if got := *in.FromEmailAddress; got != "noreply@example.com" {
				t.Errorf("FromEmailAddress: got %q", got)
			}
			if got := in.Destination.ToAddresses; len(got) != 1 || got[0] != tt.wantTo {
				t.Errorf("ToAddresses: got %v, want %q", got, tt.wantTo)
			}
			if got := *in.Content.Simple.Subject.Data; got != tt.wantSubject {
				t.Errorf("Subject: got %q, want %q", got, tt.wantSubject)
			}
			if got := *in.Content.Simple.Body.Text.Data; !strings.Contains(got, tt.wantBody) {
				t.Errorf("Body %q does not contain %q", got, tt.wantBody)
			}
		})
	}
}

func TestNotifySkips(t *testing.T) {
	tests := []struct {
		name string
		note postman.Notification
	}{
		{
			name: "accepted between users",
			note: postman.Notification{
				Message:   &store.Message{SenderID: "alice", RecipientID: "bob", ModerationStatus: store.StatusAccepted},
				Sender:    postman.UserParty(alice),
				Recipient: postman.UserParty(bob),
			},
		},
		{
			name: "pending to visitor",
			note: postman.Notification{
				Message:   &store.Message{SenderID: "alice", Email: "v@example.com", ModerationStatus: store.StatusPending},
				Sender:    postman.UserParty(alice),
				Recipient: postman.VisitorParty("v@example.com"),
			},
		},
		{
			name: "rejected from user",
			note: postman.Notification{
				Message:   &store.Message{SenderID: "alice", RecipientID: "bob", ModerationStatus: store.StatusRejected},
				Sender:    postman.UserParty(alice),
				Recipient: postman.UserParty(bob),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockSESClient{}
			n := NewWithClient("noreply@example.com", mock)
			if err := n.Notify(context.Background(), tt.note); err != nil {
				t.Fatalf("Notify failed: %v", err)
			}
			if mock.callCount != 0 {
				t.Errorf("expected no email, got %d", mock.callCount)
			}
		})
	}
}

func TestNotifyError(t *testing.T) {
	mock := &mockSESClient{err: errors.New("throttled")}
	n := NewWithClient("noreply@example.com", mock)
	err := n.Notify(context.Background(), postman.Notification{
		Message:   &store.Message{SenderID: "alice", Email: "v@example.com", ModerationStatus: store.StatusAccepted},
		Sender:    postman.UserParty(alice),
		Recipient: postman.VisitorParty("v@example.com"),
	})
	if err == nil || !strings.Contains(err.Error(), "throttled") {
		t.Errorf("expected wrapped send error, got %v", err)
	}
}

func TestInit(t *testing.T) {
	if err := NewWithClient("", &mockSESClient{}).Init(context.Background()); err == nil {
		t.Error("expected error without sender")
	}
	n := NewWithClient("noreply@example.com", &mockSESClient{})
	if err := n.Init(context.Background()); err != nil {
		t.Errorf("Init failed: %v", err)
	}
	if n.Name() != "ses" {
		t.Errorf("Name() = %q", n.Name())
	}
}
