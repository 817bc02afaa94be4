package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rbaliyan/postman/store"
)

func fastPolicy(attempts int) Policy {
	return Policy{Attempts: attempts, Backoff: time.Millisecond, MaxBackoff: time.Millisecond}
}

func TestDo(t *testing.T) {
	ctx := context.Background()
	conflict := fmt.Errorf("%w: record vanished", store.ErrTransactionFailed)

	t.Run("succeeds after conflicts", func(t *testing.T) {
		calls := 0
		err := Do(ctx, fastPolicy(3), func(context.Context) error {
			calls++
			if calls < 3 {
				return conflict
			}
			return nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if calls != 3 {
			t.Errorf("expected 3 calls, got %d", calls)
		}
	})

	t.Run("non-retryable returned unchanged", func(t *testing.T) {
		boom := errors.New("boom")
		calls := 0
		err := Do(ctx, fastPolicy(5), func(context.Context) error {
			calls++
			return boom
		})
		if err != boom {
			t.Errorf("expected boom, got %v", err)
		}
		if calls != 1 {
			t.Errorf("expected a single call, got %d", calls)
		}
	})

	t.Run("exhausted", func(t *testing.T) {
		calls := 0
		err := Do(ctx, fastPolicy(2), func(context.Context) error {
			calls++
			return conflict
		})
		if !errors.Is(err, ErrExhausted) || !errors.Is(err, store.ErrTransactionFailed) {
			t.Errorf("expected exhausted conflict, got %v", err)
		}
		var rerr *Error
		if !errors.As(err, &rerr) || rerr.Attempts != 2 || calls != 2 {
			t.Errorf("unexpected attempts: %v calls=%d", rerr, calls)
		}
	})

	t.Run("context cancelled while waiting", func(t *testing.T) {
		ctx, cancel := context.WithCancel(ctx)
		p := Policy{Attempts: 5, Backoff: time.Hour}
		err := Do(ctx, p, func(context.Context) error {
			cancel()
			return conflict
		})
		if !errors.Is(err, context.Canceled) || !errors.Is(err, ErrExhausted) {
			t.Errorf("expected cancellation, got %v", err)
		}
	})

	t.Run("custom classifier", func(t *testing.T) {
		transient := errors.New("transient")
		calls := 0
		p := fastPolicy(3)
		p.Retryable = func(err error) bool { return errors.Is(err, transient) }
		_ = Do(ctx, p, func(context.Context) error {
			calls++
			return transient
		})
		if calls != 3 {
			t.Errorf("expected 3 calls, got %d", calls)
		}
	})
}

func TestDelay(t *testing.T) {
	p := Policy{Attempts: 5, Backoff: 10 * time.Millisecond, MaxBackoff: 30 * time.Millisecond}.normalize()
	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond, 30 * time.Millisecond}
	for i, w := range want {
		if got := p.delay(i + 1); got != w {
			t.Errorf("delay(%d) = %v, want %v", i+1, got, w)
		}
	}

	p.Jitter = 0.5
	for i := 0; i < 20; i++ {
		if d := p.delay(1); d < 5*time.Millisecond || d > 15*time.Millisecond {
			t.Fatalf("jittered delay %v out of range", d)
		}
	}
}

func TestNormalize(t *testing.T) {
	p := Policy{Attempts: -1, Jitter: 3}.normalize()
	if p.Attempts != 1 || p.Jitter != 1 || p.Retryable == nil || p.MaxBackoff < p.Backoff {
		t.Errorf("unexpected normalized policy: %+v", p)
	}
	if d := DefaultPolicy(); d.Attempts != 3 || !d.Retryable(store.ErrTransactionFailed) || d.Retryable(store.ErrNotFound) {
		t.Errorf("unexpected default policy: %+v", d)
	}
}
