package postman

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/rbaliyan/postman/retry"
	"github.com/rbaliyan/postman/store"
	"github.com/rbaliyan/postman/store/memory"
)

// conflictingStore fails the first n transactions with a commit conflict
// after running fn, so that fn's writes are discarded.
type conflictingStore struct {
	*memory.Store
	failures atomic.Int32
	runs     atomic.Int32
}

func (s *conflictingStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.runs.Add(1)
	if s.failures.Add(-1) >= 0 {
		err := s.Store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			if err := fn(ctx, tx); err != nil {
				return err
			}
			return errDiscard
		})
		if errors.Is(err, errDiscard) {
			return fmt.Errorf("%w: simulated conflict", store.ErrTransactionFailed)
		}
		return err
	}
	return s.Store.WithTx(ctx, fn)
}

var errDiscard = errors.New("discard")

func TestCommitRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("compose retried after conflict", func(t *testing.T) {
		st := &conflictingStore{Store: memory.New()}
		st.failures.Store(1)
		svc := setupTestService(t, WithStore(st))

		res := mustCompose(t, svc.Client("1"), "Hi", "Hello", "bob", "carol")
		if len(res.Messages) != 2 {
			t.Fatalf("expected 2 records, got %d", len(res.Messages))
		}
		if st.runs.Load() != 2 {
			t.Errorf("expected 2 transaction runs, got %d", st.runs.Load())
		}
		assertTotal(t, svc.Client("2").Inbox, 1)
		assertTotal(t, svc.Client("1").Sent, 2)
	})

	t.Run("gives up when conflicts persist", func(t *testing.T) {
		st := &conflictingStore{Store: memory.New()}
		st.failures.Store(10)
		svc := setupTestService(t, WithStore(st), WithCommitRetries(1))

		_, err := svc.Client("1").Compose(ctx, ComposeRequest{Subject: "Hi", Body: "Hello", Recipients: []string{"bob"}})
		if !errors.Is(err, retry.ErrExhausted) || !errors.Is(err, store.ErrTransactionFailed) {
			t.Errorf("expected exhausted conflict, got %v", err)
		}
		if st.runs.Load() != 2 {
			t.Errorf("expected 2 transaction runs, got %d", st.runs.Load())
		}
		assertTotal(t, svc.Client("1").Sent, 0)
	})

	t.Run("moderation retried after conflict", func(t *testing.T) {
		st := &conflictingStore{Store: memory.New()}
		svc := setupTestService(t, WithStore(st))
		res := mustCompose(t, svc.Client("1"), "Hi", "Hello", "bob")

		st.failures.Store(1)
		msg, err := svc.Moderate(ctx, res.Messages[0].ID, Decision{Status: store.StatusRejected, ModeratorID: "3", Reason: "spam"})
		if err != nil {
			t.Fatalf("moderate failed: %v", err)
		}
		if msg.ModerationStatus != store.StatusRejected {
			t.Errorf("expected rejected, got %s", msg.ModerationStatus)
		}
		assertTotal(t, svc.Client("2").Inbox, 0)
	})
}
