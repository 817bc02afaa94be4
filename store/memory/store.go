// Package memory provides an in-memory Store implementation for testing.
// This store is not suitable for production use - data is not persisted.
package memory

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rbaliyan/postman/store"
)

// Compile-time check
var _ store.Store = (*Store)(nil)

// entry is a stored record plus its insertion sequence, used to break
// ties between records sent at the same instant.
type entry struct {
	msg *store.Message
	seq int64
}

// Store implements store.Store with in-memory storage.
// Thread-safe for concurrent use. Not suitable for production.
type Store struct {
	mu        sync.RWMutex
	messages  map[string]*entry
	seq       int64
	connected int32
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{messages: make(map[string]*entry)}
}

// Connect marks the store as connected.
func (s *Store) Connect(_ context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}
	return nil
}

// Close marks the store as disconnected.
func (s *Store) Close(_ context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}
	return nil
}

// =============================================================================
// Reads
// =============================================================================

// Get retrieves a message by ID.
func (s *Store) Get(_ context.Context, id string) (*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, store.ErrInvalidID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.messages[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return e.msg.Clone(), nil
}

// Find returns a page of the messages matching the query.
func (s *Store) Find(_ context.Context, q store.Query) (*store.MessageList, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	matched := s.match(q)
	sortEntries(matched, q.Ascending())

	total := int64(len(matched))
	start := min(q.Options.Offset, len(matched))
	end := len(matched)
	if q.Options.Limit > 0 && start+q.Options.Limit < end {
		end = start + q.Options.Limit
	}

	list := &store.MessageList{
		Messages: make([]*store.Message, 0, end-start),
		Total:    total,
		HasMore:  end < len(matched),
	}
	for _, e := range matched[start:end] {
		list.Messages = append(list.Messages, e.msg.Clone())
	}
	return list, nil
}

// Count returns the number of messages matching the query.
func (s *Store) Count(_ context.Context, q store.Query) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}
	if err := q.Validate(); err != nil {
		return 0, err
	}
	return int64(len(s.match(q))), nil
}

func (s *Store) match(q store.Query) []*entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*entry
	for _, e := range s.messages {
		if q.Matches(e.msg) {
			out = append(out, e)
		}
	}
	return out
}

func sortEntries(entries []*entry, ascending bool) {
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.msg.SentAt.Equal(b.msg.SentAt) {
			if ascending {
				return a.msg.SentAt.Before(b.msg.SentAt)
			}
			return a.msg.SentAt.After(b.msg.SentAt)
		}
		if ascending {
			return a.seq < b.seq
		}
		return a.seq > b.seq
	})
}

// =============================================================================
// Writes
// =============================================================================

// Insert stores a new record and assigns its ID.
func (s *Store) Insert(_ context.Context, m *store.Message) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertLocked(m)
	return nil
}

func (s *Store) insertLocked(m *store.Message) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	s.seq++
	s.messages[m.ID] = &entry{msg: m.Clone(), seq: s.seq}
}

// Save overwrites an existing record.
func (s *Store) Save(_ context.Context, m *store.Message) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if m.ID == "" {
		return store.ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.messages[m.ID]
	if !ok {
		return store.ErrNotFound
	}
	e.msg = m.Clone()
	return nil
}

// EarliestAcceptedReply returns the send date of the oldest accepted reply.
func (s *Store) EarliestAcceptedReply(_ context.Context, parentID, excludeID string) (*time.Time, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return earliestReply(s.messages, nil, parentID, excludeID), nil
}

// earliestReply scans committed entries, with pending overriding them.
func earliestReply(committed map[string]*entry, pending map[string]*store.Message, parentID, excludeID string) *time.Time {
	var earliest *time.Time
	consider := func(m *store.Message) {
		if m.ParentID != parentID || m.ID == excludeID || !m.IsAccepted() {
			return
		}
		if earliest == nil || m.SentAt.Before(*earliest) {
			t := m.SentAt
			earliest = &t
		}
	}
	for id, e := range committed {
		if _, shadowed := pending[id]; shadowed {
			continue
		}
		consider(e.msg)
	}
	for _, m := range pending {
		consider(m)
	}
	return earliest
}

// =============================================================================
// Side updates
// =============================================================================

// SetArchived sets the archived flag on the scope's side.
func (s *Store) SetArchived(_ context.Context, scope store.Scope, archived bool) (int64, error) {
	return s.updateSide(scope, func(m *store.Message) bool {
		if scope.Role == store.RoleSender {
			m.SenderArchived = archived
		} else {
			m.RecipientArchived = archived
		}
		return true
	})
}

// SetDeleted sets or clears the deletion date on the scope's side.
func (s *Store) SetDeleted(_ context.Context, scope store.Scope, at *time.Time) (int64, error) {
	return s.updateSide(scope, func(m *store.Message) bool {
		var v *time.Time
		if at != nil {
			t := *at
			v = &t
		}
		if scope.Role == store.RoleSender {
			m.SenderDeletedAt = v
		} else {
			m.RecipientDeletedAt = v
		}
		return true
	})
}

// SetRead marks unread recipient-side records as read.
func (s *Store) SetRead(_ context.Context, scope store.Scope, at time.Time) (int64, error) {
	if scope.Role != store.RoleRecipient {
		return 0, nil
	}
	return s.updateSide(scope, func(m *store.Message) bool {
		if m.ReadAt != nil {
			return false
		}
		t := at
		m.ReadAt = &t
		return true
	})
}

// updateSide applies fn to every record in scope. fn reports whether the
// record belongs to the update; only those are counted.
func (s *Store) updateSide(scope store.Scope, fn func(m *store.Message) bool) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}
	if err := scope.Validate(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, e := range s.messages {
		if !scope.Matches(e.msg) {
			continue
		}
		if fn(e.msg) {
			n++
		}
	}
	return n, nil
}
