// Package directory provides playermail.History implementations: an
// in-memory one for tests and single servers, and a Redis-backed one for
// networks where several servers share one mail database.
package directory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rbaliyan/playermail"
)

var (
	_ playermail.History         = (*Static)(nil)
	_ playermail.HistoryRecorder = (*Static)(nil)
)

// Static is a map-based player history. Names match case-insensitively,
// as they do on the game server. Safe for concurrent use.
type Static struct {
	mu     sync.RWMutex
	byID   map[string]playermail.Player
	byName map[string]string // lower-case name -> id
}

// NewStatic creates a Static history seeded with players.
func NewStatic(players ...playermail.Player) *Static {
	s := &Static{
		byID:   make(map[string]playermail.Player, len(players)),
		byName: make(map[string]string, len(players)),
	}
	for _, p := range players {
		s.remember(p)
	}
	return s
}

// Lookup returns the player who last connected under name.
func (s *Static) Lookup(_ context.Context, name string) (playermail.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byName[strings.ToLower(name)]
	if !ok {
		return playermail.Player{}, fmt.Errorf("%w: %s", playermail.ErrPlayerNotFound, name)
	}
	return s.byID[id], nil
}

// All returns every known player ordered by name.
func (s *Static) All(context.Context) ([]playermail.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]playermail.Player, 0, len(s.byID))
	for _, p := range s.byID {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Remember records p under its current name. A renamed player's old name
// stops resolving; a name taken over by another player moves to them.
func (s *Static) Remember(_ context.Context, p playermail.Player) error {
	if p.ID == "" || p.Name == "" {
		return playermail.ErrInvalidRequest
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remember(p)
	return nil
}

func (s *Static) remember(p playermail.Player) {
	if old, ok := s.byID[p.ID]; ok {
		key := strings.ToLower(old.Name)
		if s.byName[key] == p.ID {
			delete(s.byName, key)
		}
		if p.Email == "" {
			p.Email = old.Email
		}
	}
	s.byID[p.ID] = p
	s.byName[strings.ToLower(p.Name)] = p.ID
}
