// Package archive receives mail records right before they are hard-deleted.
//
// A Sink is best-effort from the service's point of view: an archive
// failure is logged and never blocks the delete.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sync"

	"github.com/rbaliyan/playermail/store"
)

// Sink stores a copy of a record that is about to be removed.
type Sink interface {
	Archive(ctx context.Context, m *store.Mail) error
}

// ContentType is the media type of archived records.
const ContentType = "application/json"

// Marshal encodes a record for archival.
func Marshal(m *store.Mail) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("archive: marshal %s: %w", m.ID, err)
	}
	return data, nil
}

// Key returns the object key for a record: <prefix>/<yyyy>/<mm>/<dd>/<id>.json,
// partitioned by the day the mail was sent.
func Key(prefix string, m *store.Mail) string {
	t := m.SentAt.UTC()
	return path.Join(prefix, t.Format("2006"), t.Format("01"), t.Format("02"), m.ID+".json")
}

// Memory keeps archived records in process.
type Memory struct {
	mu      sync.Mutex
	records []*store.Mail
}

var _ Sink = (*Memory)(nil)

// NewMemory creates an empty in-memory sink.
func NewMemory() *Memory {
	return &Memory{}
}

// Archive stores a copy of m.
func (s *Memory) Archive(_ context.Context, m *store.Mail) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, m.Clone())
	return nil
}

// Records returns copies of everything archived so far, oldest first.
func (s *Memory) Records() []*store.Mail {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*store.Mail, len(s.records))
	for i, m := range s.records {
		out[i] = m.Clone()
	}
	return out
}

// Len returns the number of archived records.
func (s *Memory) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
