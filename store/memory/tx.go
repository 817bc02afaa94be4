package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rbaliyan/postman/store"
)

// tx buffers writes until the transaction function returns.
type tx struct {
	s       *Store
	pending map[string]*store.Message
	order   []string // insertion order of new records
	inserts map[string]bool
}

// WithTx runs fn with a buffered transaction. Buffered writes are applied
// atomically when fn returns nil and dropped otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	t := &tx{
		s:       s,
		pending: make(map[string]*store.Message),
		inserts: make(map[string]bool),
	}
	if err := fn(ctx, t); err != nil {
		return err
	}
	return t.commit()
}

func (t *tx) commit() error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for id := range t.pending {
		if !t.inserts[id] {
			if _, ok := t.s.messages[id]; !ok {
				return fmt.Errorf("%w: record %s vanished", store.ErrTransactionFailed, id)
			}
		}
	}
	for _, id := range t.order {
		t.s.insertLocked(t.pending[id])
	}
	for id, m := range t.pending {
		if t.inserts[id] {
			continue
		}
		t.s.messages[id].msg = m.Clone()
	}
	return nil
}

func (t *tx) Get(ctx context.Context, id string) (*store.Message, error) {
	if m, ok := t.pending[id]; ok {
		return m.Clone(), nil
	}
	return t.s.Get(ctx, id)
}

func (t *tx) Insert(_ context.Context, m *store.Message) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	t.pending[m.ID] = m.Clone()
	t.inserts[m.ID] = true
	t.order = append(t.order, m.ID)
	return nil
}

func (t *tx) Save(ctx context.Context, m *store.Message) error {
	if m.ID == "" {
		return store.ErrInvalidID
	}
	if _, ok := t.pending[m.ID]; !ok {
		if _, err := t.s.Get(ctx, m.ID); err != nil {
			return err
		}
	}
	t.pending[m.ID] = m.Clone()
	return nil
}

func (t *tx) EarliestAcceptedReply(_ context.Context, parentID, excludeID string) (*time.Time, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	return earliestReply(t.s.messages, t.pending, parentID, excludeID), nil
}
