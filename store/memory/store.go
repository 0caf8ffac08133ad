// Package memory provides an in-memory Store implementation for testing.
// This store is not suitable for production use - data is not persisted.
package memory

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rbaliyan/playermail/store"
)

// Compile-time check
var _ store.Store = (*Store)(nil)

// Store implements store.Store with in-memory storage.
// Thread-safe for concurrent use. Not suitable for production.
type Store struct {
	mails     sync.Map // map[string]*store.Mail
	mu        sync.Mutex
	connected int32
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{}
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

// Insert stores a copy of the record.
func (s *Store) Insert(_ context.Context, m *store.Mail) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if err := m.Validate(); err != nil {
		return err
	}
	if _, loaded := s.mails.LoadOrStore(m.ID, m.Clone()); loaded {
		return store.ErrDuplicateEntry
	}
	return nil
}

// Update replaces the stored copy of the record.
func (s *Store) Update(_ context.Context, m *store.Mail) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if m.ID == "" {
		return store.ErrInvalidID
	}
	// Serialize check-and-store so a concurrent Delete is not resurrected.
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.mails.Load(m.ID); !ok {
		return store.ErrNotFound
	}
	s.mails.Store(m.ID, m.Clone())
	return nil
}

// Delete removes the record.
func (s *Store) Delete(_ context.Context, id string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if id == "" {
		return store.ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, loaded := s.mails.LoadAndDelete(id); !loaded {
		return store.ErrNotFound
	}
	return nil
}

// Get returns a copy of the record.
func (s *Store) Get(_ context.Context, id string) (*store.Mail, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, store.ErrInvalidID
	}
	v, ok := s.mails.Load(id)
	if !ok {
		return nil, store.ErrNotFound
	}
	return v.(*store.Mail).Clone(), nil
}

// Find returns copies of matching records in the requested order.
func (s *Store) Find(_ context.Context, filters []store.Filter, opts store.ListOptions) ([]*store.Mail, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	var out []*store.Mail
	s.mails.Range(func(_, v any) bool {
		m := v.(*store.Mail)
		if store.MatchAll(m, filters) {
			out = append(out, m.Clone())
		}
		return true
	})
	return store.SortAndPage(out, opts), nil
}

// Count returns the number of matching records.
func (s *Store) Count(_ context.Context, filters []store.Filter) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}
	var n int64
	s.mails.Range(func(_, v any) bool {
		if store.MatchAll(v.(*store.Mail), filters) {
			n++
		}
		return true
	})
	return n, nil
}

// Len returns the number of stored records regardless of connection state.
func (s *Store) Len() int {
	n := 0
	s.mails.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
