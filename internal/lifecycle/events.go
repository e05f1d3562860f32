package lifecycle

import (
	"context"
	"strings"
	"time"

	"github.com/wabot/wabot/internal/journal"
	"github.com/wabot/wabot/internal/session"
	"github.com/wabot/wabot/pkg/deadline"
)

const timestampLayout = "2006-01-02 15:04:05 MST"

// pump consumes one handle's event stream until Destroy closes it. Ready and
// Disconnected are forwarded to Run tagged with the handle id; everything
// else is handled here, in order.
func (m *Manager) pump(ctx context.Context, s session.Session) {
	log := m.log.With("handle", s.ID())
	defer func() {
		if r := recover(); r != nil {
			m.panicked("event pump", r)
		}
	}()
	for ev := range s.Events() {
		switch ev.Kind {
		case session.EventReady, session.EventDisconnected:
			m.forward(signal{handle: s.ID(), kind: ev.Kind, reason: ev.Reason})
		case session.EventQR:
			log.Info("QR code received, scan it with WhatsApp")
			if m.onQR != nil {
				m.onQR(ev.QR)
			}
		case session.EventAuthenticated:
			log.Info("Authenticated")
		case session.EventAuthFailure:
			log.Error("Authentication failure", "reason", ev.Reason)
		case session.EventMessageAck:
			if ev.Ack != nil {
				log.Debug("Message ack", "id", ev.Ack.MessageID, "level", ev.Ack.Level)
				m.metrics.Ack(ev.Ack.Level)
			}
		case session.EventMessage:
			if ev.Message == nil || !m.isCurrent(s) {
				continue
			}
			m.handleMessage(ctx, s, ev.Message)
		}
	}
	log.Debug("Event stream closed")
}

func (m *Manager) forward(sig signal) {
	select {
	case m.signals <- sig:
	case <-m.exited:
	case <-m.stopping:
	}
}

// handleMessage logs and journals an inbound message, then answers it with
// the first matching rule. Failures are logged and never propagated.
func (m *Manager) handleMessage(ctx context.Context, s session.Session, msg *session.Message) {
	if msg.FromMe {
		return
	}

	name := m.displayName(ctx, s, msg.From)
	at := msg.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	m.log.Info("Message received",
		"from", msg.From,
		"name", name,
		"chat", msg.Chat,
		"at", at.In(m.cfg.Location).Format(timestampLayout),
		"body", msg.Body,
		"media", msg.HasMedia,
	)
	m.metrics.Message(string(journal.Inbound))
	m.record(ctx, journal.Entry{
		Direction: journal.Inbound,
		Chat:      msg.Chat,
		Sender:    msg.From,
		Name:      name,
		Body:      msg.Body,
		MessageID: msg.ID,
		HasMedia:  msg.HasMedia,
		At:        at,
	})

	if strings.TrimSpace(msg.Body) == "" && !msg.HasMedia {
		m.log.Debug("Skipping empty message", "id", msg.ID)
		return
	}

	reply, rule, ok := m.rules.Match(msg.Body)
	if !ok {
		return
	}
	if _, err := m.SendText(ctx, msg.Chat, reply); err != nil {
		m.metrics.ReplyFailed()
		m.log.Warn("Failed to reply", "rule", rule, "chat", msg.Chat, "error", err)
		return
	}
	m.log.Info("Replied", "rule", rule, "chat", msg.Chat, "reply", reply)
}

// displayName resolves a contact name, falling back to the raw id.
func (m *Manager) displayName(ctx context.Context, s session.Session, id string) string {
	name, err := deadline.Value(ctx, "ContactName", m.cfg.SendTimeout, func(ctx context.Context) (string, error) {
		return s.ContactName(ctx, id)
	})
	if err != nil || name == "" {
		if err != nil {
			m.log.Debug("Contact name unavailable", "id", id, "error", err)
		}
		return id
	}
	return name
}

// Personal.AI order the ending
