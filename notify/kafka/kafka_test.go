package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rbaliyan/postman"
	"github.com/rbaliyan/postman/store"
	kafkago "github.com/segmentio/kafka-go"
)

type fakeWriter struct {
	msgs   []kafkago.Message
	err    error
	calls  int
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	w.calls++
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func note(status store.ModerationStatus) postman.Notification {
	alice := &store.User{ID: "alice", Username: "alice", Email: "alice@example.com", Active: true}
	bob := &store.User{ID: "bob", Username: "bob", Email: "bob@example.com", Active: true}
	return postman.Notification{
		Message: &store.Message{
			ID:               "m1",
			Subject:          "hi",
			SenderID:         "alice",
			RecipientID:      "bob",
			ModerationStatus: status,
			SentAt:           time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		},
		InitialStatus: store.StatusPending,
		Sender:        postman.UserParty(alice),
		Recipient:     postman.UserParty(bob),
	}
}

func TestNotify(t *testing.T) {
	w := &fakeWriter{}
	n := NewWithWriter(w)

	if err := n.Notify(context.Background(), note(store.StatusAccepted)); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "bob" {
		t.Errorf("key = %q, want bob", msg.Key)
	}
	var rec Record
	if err := json.Unmarshal(msg.Value, &rec); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if rec.MessageID != "m1" || rec.SenderName != "alice" || rec.RecipientName != "bob" {
		t.Errorf("unexpected record: %+v", rec)
	}
	if rec.ModerationStatus != store.StatusAccepted || rec.Visitor {
		t.Errorf("unexpected status fields: %+v", rec)
	}
}

func TestNotifySkipsPending(t *testing.T) {
	w := &fakeWriter{}
	n := NewWithWriter(w)
	if err := n.Notify(context.Background(), note(store.StatusPending)); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	if w.calls != 0 {
		t.Errorf("expected no write for a pending record, got %d", w.calls)
	}
}

func TestNotifyVisitorKey(t *testing.T) {
	w := &fakeWriter{}
	n := NewWithWriter(w)
	nt := note(store.StatusRejected)
	nt.Message.RecipientID = ""
	nt.Message.Email = "v@example.com"
	nt.Recipient = postman.VisitorParty("v@example.com")

	if err := n.Notify(context.Background(), nt); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	if got := string(w.msgs[0].Key); got != "email:v@example.com" {
		t.Errorf("key = %q", got)
	}
	var rec Record
	if err := json.Unmarshal(w.msgs[0].Value, &rec); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if !rec.Visitor {
		t.Error("expected visitor flag")
	}
}

func TestNotifyBreakerOpens(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	n := NewWithWriter(w, WithMaxFailures(2), WithOpenTimeout(time.Minute))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := n.Notify(ctx, note(store.StatusAccepted)); err == nil {
			t.Fatal("expected write error")
		}
	}
	if err := n.Notify(ctx, note(store.StatusAccepted)); err == nil {
		t.Fatal("expected open breaker error")
	}
	if w.calls != 2 {
		t.Errorf("expected the open breaker to skip the writer, got %d calls", w.calls)
	}
}

func TestClose(t *testing.T) {
	w := &fakeWriter{}
	n := NewWithWriter(w)
	if n.Name() != "kafka" {
		t.Errorf("Name() = %q", n.Name())
	}
	if err := n.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !w.closed {
		t.Error("expected writer closed")
	}
}
