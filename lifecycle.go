package playermail

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rbaliyan/playermail/item"
	"github.com/rbaliyan/playermail/store"
	"go.opentelemetry.io/otel/attribute"
)

// OpenResult is what a viewer sees when opening a mail.
type OpenResult struct {
	Mail *store.Mail
	// Items previews the attachment. Empty when there is none or it is corrupt.
	Items []item.Stack
	// Claimable is true when the viewer is the receiver and the items are unclaimed.
	Claimable bool
	// CommandsRun is true when this open executed the attached commands.
	CommandsRun bool
}

// Open marks the mail read and runs its commands when the receiver views
// it. A sender viewing sent mail mutates nothing. Anyone else is refused.
func (s *service) Open(ctx context.Context, m *store.Mail, viewer Player) (*OpenResult, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, ErrInvalidRequest
	}
	isReceiver := viewer.ID == m.ReceiverID
	if !isReceiver && (m.IsSystem() || viewer.ID != m.SenderID) {
		return nil, ErrUnauthorized
	}

	res := &OpenResult{Mail: m}
	if isReceiver {
		if err := s.MarkAsRead(ctx, m); err != nil {
			return nil, err
		}
		if m.HasCommands() && !m.CommandsExecuted {
			switch err := s.ExecuteCommands(ctx, viewer, m); {
			case err == nil:
				res.CommandsRun = m.CommandsExecuted
			case errors.Is(err, ErrDispatcherRequired):
				s.logger.Warn("mail has commands but no dispatcher is configured", "mail_id", m.ID)
			default:
				return nil, err
			}
		}
		res.Claimable = m.Unclaimed()
	}
	res.Items = s.decodeItems(m)
	return res, nil
}

func (s *service) MarkAsRead(ctx context.Context, m *store.Mail) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if m == nil {
		return ErrInvalidRequest
	}
	if m.Read {
		return nil
	}

	start := time.Now()
	fresh, err := s.mutateRecord(ctx, m, func(fresh *store.Mail) bool {
		if fresh.Read {
			return false
		}
		fresh.Read = true
		return true
	})
	s.otel.recordUpdate(ctx, time.Since(start), "read", err)
	if err != nil || fresh == nil {
		return err
	}

	publish(ctx, s.opts, s.events.MailRead, "MailRead", MailReadEvent{
		MailID:     m.ID,
		ReceiverID: m.ReceiverID,
		ReadAt:     s.now(),
	})
	return nil
}

// ExecuteCommands persists CommandsExecuted before dispatching, so a
// command list runs at most once even across concurrent callers.
func (s *service) ExecuteCommands(ctx context.Context, actor Player, m *store.Mail) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if m == nil {
		return ErrInvalidRequest
	}
	if !m.HasCommands() || m.CommandsExecuted {
		return nil
	}
	if actor.ID != m.ReceiverID {
		return ErrUnauthorized
	}
	if s.opts.dispatcher == nil {
		return ErrDispatcherRequired
	}

	ctx, endSpan := s.otel.startSpan(ctx, "playermail.execute_commands",
		attribute.String("mail_id", m.ID),
		attribute.Int("commands", len(m.Commands)),
	)
	start := time.Now()

	fresh, err := s.mutateRecord(ctx, m, func(fresh *store.Mail) bool {
		if fresh.CommandsExecuted {
			return false
		}
		fresh.CommandsExecuted = true
		return true
	})
	endSpan(err)
	s.otel.recordUpdate(ctx, time.Since(start), "commands", err)
	if err != nil || fresh == nil {
		return err
	}

	lines := make([]string, len(fresh.Commands))
	for i, c := range fresh.Commands {
		lines[i] = strings.ReplaceAll(c, s.opts.playerPlaceholder, actor.Name)
	}
	s.onGameThread("commands", func() {
		s.dispatch(m.ID, actor, lines)
	})
	return nil
}

// dispatch runs each command, continuing past failures.
func (s *service) dispatch(mailID string, actor Player, lines []string) {
	for _, line := range lines {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("command panicked", "mail_id", mailID, "command", line, "panic", r)
				}
			}()
			var err error
			if cmd, ok := strings.CutPrefix(line, s.opts.consolePrefix); ok {
				err = s.opts.dispatcher.RunAsConsole(strings.TrimSpace(cmd))
			} else {
				err = s.opts.dispatcher.RunAsPlayer(actor.ID, line)
			}
			if err != nil {
				s.logger.Warn("command failed", "mail_id", mailID, "command", line, "error", err)
			}
		}()
	}
}

// ClaimItems persists Claimed before handing the items over. A corrupt
// payload yields zero items but still marks the mail claimed so it can
// be deleted.
func (s *service) ClaimItems(ctx context.Context, m *store.Mail, claimant Player) ([]item.Stack, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, ErrInvalidRequest
	}
	if claimant.ID != m.ReceiverID {
		return nil, ErrUnauthorized
	}
	if !m.HasAttachment() || m.Claimed {
		return nil, nil
	}
	if err := s.plugins.beforeClaim(ctx, m, claimant); err != nil {
		return nil, err
	}

	ctx, endSpan := s.otel.startSpan(ctx, "playermail.claim", attribute.String("mail_id", m.ID))
	start := time.Now()

	fresh, err := s.mutateRecord(ctx, m, func(fresh *store.Mail) bool {
		if fresh.Claimed || !fresh.HasAttachment() {
			return false
		}
		fresh.Claimed = true
		return true
	})
	endSpan(err)
	s.otel.recordUpdate(ctx, time.Since(start), "claim", err)
	if err != nil || fresh == nil {
		return nil, err
	}

	stacks := s.decodeItems(fresh)
	if len(stacks) > 0 && s.opts.inventory != nil {
		give := make([]item.Stack, len(stacks))
		for i, st := range stacks {
			give[i] = st.Clone()
		}
		s.onGameThread("give", func() {
			if err := s.opts.inventory.Give(claimant.ID, give); err != nil {
				s.logger.Error("failed to give claimed items",
					"mail_id", m.ID, "receiver", claimant.ID, "items", len(give), "error", err)
			}
		})
	}

	publish(ctx, s.opts, s.events.MailClaimed, "MailClaimed", MailClaimedEvent{
		MailID:     m.ID,
		ReceiverID: m.ReceiverID,
		Items:      len(stacks),
		ClaimedAt:  s.now(),
	})
	return stacks, nil
}

// mutateRecord re-reads the stored record under the record lock, applies
// mutate and persists it, so a stale caller copy never overwrites newer
// flags. It returns nil when mutate reports nothing to do. On error the
// caller's copy is left untouched.
func (s *service) mutateRecord(ctx context.Context, m *store.Mail, mutate func(*store.Mail) bool) (*store.Mail, error) {
	unlock := s.lockRecord(m.ID)
	defer unlock()

	fresh, err := s.store.Get(ctx, m.ID)
	if err != nil {
		return nil, mapStoreErr("reload mail", err)
	}
	if !mutate(fresh) {
		m.CopyFlags(fresh)
		return nil, nil
	}
	if err := s.store.Update(ctx, fresh); err != nil {
		return nil, mapStoreErr("update mail", err)
	}
	m.CopyFlags(fresh)
	return fresh, nil
}

// decodeItems returns the attachment's stacks, or nil when the payload is
// absent or unreadable.
func (s *service) decodeItems(m *store.Mail) []item.Stack {
	if !m.HasAttachment() {
		return nil
	}
	stacks, err := item.Decode(m.Attachment)
	if err != nil {
		s.logger.Warn("unreadable attachment", "mail_id", m.ID, "error", err)
		return nil
	}
	return stacks
}

// Delete soft-deletes from the actor's side. System mail has no sender
// side, so the receiver's delete finishes it. Once both sides have
// deleted, the record is archived and removed.
func (s *service) Delete(ctx context.Context, m *store.Mail, actorID string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if m == nil {
		return ErrInvalidRequest
	}
	isSender := !m.IsSystem() && actorID == m.SenderID
	isReceiver := actorID == m.ReceiverID
	if !isSender && !isReceiver {
		return ErrUnauthorized
	}

	ctx, endSpan := s.otel.startSpan(ctx, "playermail.delete",
		attribute.String("mail_id", m.ID),
		attribute.Bool("sender", isSender),
	)
	start := time.Now()
	var permanent bool
	var err error
	defer func() {
		endSpan(err)
		s.otel.recordDelete(ctx, time.Since(start), permanent, err)
	}()

	unlock := s.lockRecord(m.ID)
	defer unlock()

	fresh, gerr := s.store.Get(ctx, m.ID)
	if gerr != nil {
		err = mapStoreErr("reload mail", gerr)
		return err
	}
	if isSender {
		fresh.DeletedBySender = true
	}
	if isReceiver {
		fresh.DeletedByReceiver = true
		if fresh.IsSystem() {
			fresh.DeletedBySender = true
		}
	}

	if !fresh.Converged() {
		if uerr := s.store.Update(ctx, fresh); uerr != nil {
			err = mapStoreErr("delete mail", uerr)
			return err
		}
		m.CopyFlags(fresh)
		return nil
	}

	permanent = true
	if perr := s.purge(ctx, fresh, actorID); perr != nil {
		// Persisted flags hide the record from both views; Reconcile
		// finishes the removal.
		if uerr := s.store.Update(ctx, fresh); uerr != nil {
			err = perr
			return err
		}
		s.logger.Warn("hard delete deferred to reconcile", "mail_id", m.ID, "error", perr)
	}
	m.CopyFlags(fresh)
	return nil
}

// purge archives m (best effort) and removes it from the store.
func (s *service) purge(ctx context.Context, m *store.Mail, actorID string) error {
	archived := false
	if s.opts.archive != nil {
		if err := s.opts.archive.Archive(ctx, m); err != nil {
			s.logger.Warn("failed to archive mail", "mail_id", m.ID, "error", err)
		} else {
			archived = true
		}
	}

	if err := s.store.Delete(ctx, m.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return mapStoreErr("purge mail", err)
	}

	publish(ctx, s.opts, s.events.MailDeleted, "MailDeleted", MailDeletedEvent{
		MailID:    m.ID,
		ActorID:   actorID,
		Archived:  archived,
		DeletedAt: s.now(),
	})
	return nil
}

func (s *service) DeleteAllByReceiver(ctx context.Context, receiverID string) (int, error) {
	return s.deleteInbox(ctx, receiverID, false)
}

func (s *service) DeleteReadByReceiver(ctx context.Context, receiverID string) (int, error) {
	return s.deleteInbox(ctx, receiverID, true)
}

// deleteInbox deletes inbox mail, never touching unclaimed attachments.
// It keeps going past individual failures and returns how many it deleted.
func (s *service) deleteInbox(ctx context.Context, receiverID string, readOnly bool) (int, error) {
	mails, err := s.Inbox(ctx, receiverID)
	if err != nil {
		return 0, err
	}

	var errs []error
	deleted := 0
	for _, m := range mails {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if m.Unclaimed() || (readOnly && !m.Read) {
			continue
		}
		if err := s.Delete(ctx, m, receiverID); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", m.ID, err))
			continue
		}
		deleted++
	}
	return deleted, errors.Join(errs...)
}
