package playermail

import (
	"context"
)

// PlayerJoined is called by the host when a player connects. A recording
// history learns the player's current name first.
func (s *service) PlayerJoined(ctx context.Context, p Player) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}
	if p.ID == "" {
		return 0, ErrInvalidRequest
	}
	if rec, ok := s.opts.history.(HistoryRecorder); ok {
		if p.LastSeen.IsZero() {
			p.LastSeen = s.now()
		}
		if err := rec.Remember(ctx, p); err != nil {
			s.logger.Warn("failed to remember player", "player", p.ID, "name", p.Name, "error", err)
		}
	}
	return s.NotifyUnread(ctx, p)
}

func (s *service) NotifyUnread(ctx context.Context, p Player) (int64, error) {
	n, err := s.UnreadCount(ctx, p.ID)
	if err != nil {
		return 0, err
	}
	if n == 0 || !s.opts.presence.IsOnline(p.ID) {
		return n, nil
	}

	v := s.vars()
	v.Player = p.Name
	v.Receiver = p.Name
	v.Count = n
	msg := Render(s.opts.templates.UnreadNotice, v)
	s.onGameThread("unread notice", func() {
		if err := s.opts.presence.Tell(p.ID, msg); err != nil {
			s.logger.Debug("unread notice failed", "player", p.ID, "error", err)
		}
	})
	return n, nil
}
