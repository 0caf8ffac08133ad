package playermail

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rbaliyan/playermail/item"
	"github.com/rbaliyan/playermail/store"
	"go.opentelemetry.io/otel/attribute"
)

// SendRequest describes one mail.
type SendRequest struct {
	// SenderID is the sender's identity. Ignored by SendSystem.
	SenderID string
	// SenderName is shown to the receiver. SendSystem defaults it to the
	// configured system sender name.
	SenderName string
	// ReceiverName is resolved to an identity, online players first.
	// Ignored by SendBatch.
	ReceiverName string
	Subject      string
	Body         string
	// Items are attached after dropping nil and air stacks.
	Items []*item.Stack
	// Commands run once when the receiver first opens the mail.
	Commands []string
}

// envelope is a validated request ready to be delivered to any receiver.
type envelope struct {
	kind       string
	senderID   string
	senderName string
	subject    string
	body       string
	attachment string
	items      int
	commands   []string
}

func (s *service) Send(ctx context.Context, req SendRequest) (*store.Mail, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if req.SenderID == "" {
		return nil, fmt.Errorf("%w: sender id is required", ErrInvalidRequest)
	}

	ctx, endSpan := s.otel.startSpan(ctx, "playermail.send",
		attribute.String("sender_id", req.SenderID),
		attribute.String("receiver", req.ReceiverName),
	)
	start := time.Now()
	var sendErr error
	defer func() {
		endSpan(sendErr)
		s.otel.recordSend(ctx, time.Since(start), "player", sendErr)
	}()

	if sendErr = s.limits.ValidateText(req.Subject, req.Body); sendErr != nil {
		return nil, sendErr
	}
	settle, err := s.cooldown.reserve(req.SenderID)
	if err != nil {
		sendErr = err
		s.otel.recordCooldown(ctx)
		return nil, sendErr
	}
	defer func() { settle(sendErr == nil) }()

	receiver, err := s.resolve(ctx, req.ReceiverName)
	if err != nil {
		sendErr = err
		return nil, sendErr
	}

	env, err := s.seal("player", req)
	if err != nil {
		sendErr = err
		return nil, sendErr
	}

	if sendErr = s.sendSem.Acquire(ctx, 1); sendErr != nil {
		return nil, sendErr
	}
	defer s.sendSem.Release(1)

	m, err := s.deliver(ctx, env, receiver)
	if err != nil {
		sendErr = err
		return nil, sendErr
	}
	return m, nil
}

func (s *service) SendSystem(ctx context.Context, req SendRequest) (*store.Mail, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	req.SenderID = ""
	if req.SenderName == "" {
		req.SenderName = s.opts.systemSenderName
	}

	ctx, endSpan := s.otel.startSpan(ctx, "playermail.send_system",
		attribute.String("receiver", req.ReceiverName),
	)
	start := time.Now()
	var sendErr error
	defer func() {
		endSpan(sendErr)
		s.otel.recordSend(ctx, time.Since(start), "system", sendErr)
	}()

	receiver, err := s.resolve(ctx, req.ReceiverName)
	if err != nil {
		sendErr = err
		return nil, sendErr
	}

	env, err := s.seal("system", req)
	if err != nil {
		sendErr = err
		return nil, sendErr
	}

	if sendErr = s.sendSem.Acquire(ctx, 1); sendErr != nil {
		return nil, sendErr
	}
	defer s.sendSem.Release(1)

	m, err := s.deliver(ctx, env, receiver)
	sendErr = err
	return m, err
}

// SendBatch validates req once, applies the sender cooldown once and
// delivers an independent record to each distinct receiver name.
// Per-name failures are reported in the result; see BatchResult.Err.
func (s *service) SendBatch(ctx context.Context, req SendRequest, receiverNames []string) (*BatchResult, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if req.SenderID == "" {
		return nil, fmt.Errorf("%w: sender id is required", ErrInvalidRequest)
	}
	names := dedupe(receiverNames)
	if len(names) == 0 {
		return nil, ErrNoRecipients
	}

	ctx, endSpan := s.otel.startSpan(ctx, "playermail.send_batch",
		attribute.String("sender_id", req.SenderID),
		attribute.Int("receiver_count", len(names)),
	)
	start := time.Now()
	var sendErr error
	defer func() {
		endSpan(sendErr)
		s.otel.recordSend(ctx, time.Since(start), "batch", sendErr)
	}()

	if sendErr = s.limits.ValidateText(req.Subject, req.Body); sendErr != nil {
		return nil, sendErr
	}
	settle, err := s.cooldown.reserve(req.SenderID)
	if err != nil {
		sendErr = err
		s.otel.recordCooldown(ctx)
		return nil, sendErr
	}
	delivered := false
	defer func() { settle(delivered) }()

	env, err := s.seal("batch", req)
	if err != nil {
		sendErr = err
		return nil, sendErr
	}

	if sendErr = s.sendSem.Acquire(ctx, 1); sendErr != nil {
		return nil, sendErr
	}
	defer s.sendSem.Release(1)

	result := &BatchResult{Results: make([]DeliveryResult, len(names))}
	for i, name := range names {
		result.Results[i].Receiver = name
		if err := ctx.Err(); err != nil {
			result.Results[i].Error = err
			continue
		}
		receiver, err := s.resolve(ctx, name)
		if err != nil {
			result.Results[i].Error = err
			continue
		}
		m, err := s.deliver(ctx, env, receiver)
		if err != nil {
			result.Results[i].Error = err
			continue
		}
		result.Results[i].Mail = m
	}

	delivered = result.SuccessCount() > 0
	sendErr = result.Err()
	return result, nil
}

// resolve finds the receiver: exact online name first, then history.
func (s *service) resolve(ctx context.Context, name string) (Player, error) {
	if name == "" {
		return Player{}, fmt.Errorf("%w: empty name", ErrPlayerNotFound)
	}
	if p, ok := s.opts.presence.Online(name); ok {
		return p, nil
	}
	p, err := s.opts.history.Lookup(ctx, name)
	if err != nil {
		if errors.Is(err, ErrPlayerNotFound) {
			return Player{}, fmt.Errorf("%w: %s", ErrPlayerNotFound, name)
		}
		return Player{}, fmt.Errorf("playermail: lookup %s: %w", name, err)
	}
	if p.ID == "" {
		return Player{}, fmt.Errorf("%w: %s", ErrPlayerNotFound, name)
	}
	return p, nil
}

// seal filters and encodes a request's attachments and commands once so
// every receiver gets an identical, independent payload.
func (s *service) seal(kind string, req SendRequest) (envelope, error) {
	stacks, err := s.limits.FilterItems(req.Items)
	if err != nil {
		return envelope{}, err
	}
	payload, err := item.Encode(stacks)
	if err != nil {
		return envelope{}, fmt.Errorf("playermail: encode items: %w", err)
	}
	return envelope{
		kind:       kind,
		senderID:   req.SenderID,
		senderName: req.SenderName,
		subject:    req.Subject,
		body:       req.Body,
		attachment: payload,
		items:      len(stacks),
		commands:   filterCommands(req.Commands),
	}, nil
}

// deliver stores one record for receiver and runs the post-send steps.
func (s *service) deliver(ctx context.Context, env envelope, receiver Player) (*store.Mail, error) {
	m := &store.Mail{
		ID:           uuid.NewString(),
		SenderID:     env.senderID,
		SenderName:   env.senderName,
		ReceiverID:   receiver.ID,
		ReceiverName: receiver.Name,
		Subject:      env.subject,
		Body:         env.body,
		Attachment:   env.attachment,
		SentAt:       s.now(),
	}
	if len(env.commands) > 0 {
		m.Commands = append([]string(nil), env.commands...)
	}

	if err := s.plugins.beforeSend(ctx, m); err != nil {
		return nil, err
	}
	if err := s.store.Insert(ctx, m); err != nil {
		return nil, mapStoreErr("insert mail", err)
	}

	s.logger.Debug("mail delivered",
		"mail_id", m.ID, "kind", env.kind,
		"sender", m.SenderName, "receiver", m.ReceiverName)

	s.notifyNewMail(m)
	publish(ctx, s.opts, s.events.MailSent, "MailSent", MailSentEvent{
		MailID:     m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Subject:    m.Subject,
		Items:      env.items,
		Commands:   len(m.Commands),
		SentAt:     m.SentAt,
	})
	s.plugins.afterSend(ctx, m)
	return m, nil
}

// notifyNewMail tells an online receiver about new mail. Failures are ignored.
func (s *service) notifyNewMail(m *store.Mail) {
	if !s.opts.presence.IsOnline(m.ReceiverID) {
		return
	}
	v := s.vars()
	v.Sender = m.SenderName
	v.Player = m.ReceiverName
	v.Receiver = m.ReceiverName
	msg := Render(s.opts.templates.NewMailNotice, v)
	s.onGameThread("notify", func() {
		if err := s.opts.presence.Tell(m.ReceiverID, msg); err != nil {
			s.logger.Debug("new mail notice failed", "receiver", m.ReceiverID, "error", err)
		}
	})
}

func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
