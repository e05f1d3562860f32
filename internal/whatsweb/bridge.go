package whatsweb

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/wabot/wabot/internal/session"
)

const bindingName = "__wabotEmit"

// bridgeScript runs in every document. It polls for the QR code and the
// chat list, then hooks the web client's message and socket models and
// reports through the exposed binding.
var bridgeScript = fmt.Sprintf(`(() => {
  if (window.__wabotBridge) return;
  window.__wabotBridge = true;
  const emit = (ev) => { try { window.%[1]s(JSON.stringify(ev)); } catch (e) {} };
  const wid = (w) => (w ? (w._serialized || String(w)) : '');
  let lastQR = '';
  let ready = false;

  const hook = () => {
    if (typeof window.require !== 'function') return false;
    let col, sock;
    try {
      col = window.require('WAWebCollections');
      sock = window.require('WAWebSocketModel');
    } catch (e) {
      return false;
    }
    col.Msg.on('add', (m) => {
      if (!m || !m.isNewMsg || !m.id || m.id.fromMe) return;
      emit({kind: 'message', message: {
        id: m.id._serialized,
        from: wid(m.author || m.from),
        chat: wid(m.id.remote),
        body: m.body || '',
        hasMedia: !!(m.mediaData || m.mediaKey),
        fromMe: false,
        t: m.t || 0,
      }});
    });
    col.Msg.on('change:ack', (m, ack) => {
      if (m && m.id && m.id.fromMe) emit({kind: 'ack', ack: {id: m.id._serialized, level: ack}});
    });
    sock.Socket.on('change:state', (_s, state) => {
      if (['CONFLICT', 'UNPAIRED', 'UNLAUNCHED', 'UNPAIRED_IDLE'].includes(state)) {
        emit({kind: 'disconnected', reason: state});
      }
    });
    return true;
  };

  setInterval(() => {
    const ref = document.querySelector('div[data-ref]');
    const code = ref && ref.getAttribute('data-ref');
    if (code && code !== lastQR) {
      lastQR = code;
      emit({kind: 'qr', qr: code});
    }
    if (!ready && document.querySelector('#pane-side') && hook()) {
      ready = true;
      emit({kind: 'authenticated'});
      emit({kind: 'ready'});
    }
  }, 1000);
})();`, bindingName)

const openChatScript = `async (chatId) => {
  const req = window.require;
  let chat = req('WAWebCollections').Chat.get(chatId);
  if (!chat) {
    const wid = req('WAWebWidFactory').createWid(chatId);
    chat = (await req('WAWebFindChatAction').findOrCreateLatestChat(wid)).chat;
  }
  await req('WAWebCmd').Cmd.openChatBottom(chat);
  return true;
}`

const lastOutgoingScript = `() => {
  const els = document.querySelectorAll('#main [data-id^="true_"]');
  return els.length ? els[els.length - 1].getAttribute('data-id') : '';
}`

const contactNameScript = `(id) => {
  const c = window.require('WAWebCollections').Contact.get(id);
  return c ? (c.name || c.pushname || c.formattedName || '') : '';
}`

type bridgeMessage struct {
	ID       string `json:"id"`
	From     string `json:"from"`
	Chat     string `json:"chat"`
	Body     string `json:"body"`
	HasMedia bool   `json:"hasMedia"`
	FromMe   bool   `json:"fromMe"`
	T        int64  `json:"t"`
}

type bridgeEvent struct {
	Kind    string         `json:"kind"`
	QR      string         `json:"qr"`
	Reason  string         `json:"reason"`
	Message *bridgeMessage `json:"message"`
	Ack     *struct {
		ID    string `json:"id"`
		Level int    `json:"level"`
	} `json:"ack"`
}

// parseBridgeEvent decodes one payload sent by bridgeScript.
func parseBridgeEvent(raw string) (session.Event, error) {
	var be bridgeEvent
	if err := json.Unmarshal([]byte(raw), &be); err != nil {
		return session.Event{}, fmt.Errorf("decode bridge event: %w", err)
	}

	switch be.Kind {
	case "qr":
		return session.Event{Kind: session.EventQR, QR: be.QR}, nil
	case "authenticated":
		return session.Event{Kind: session.EventAuthenticated}, nil
	case "auth_failure":
		return session.Event{Kind: session.EventAuthFailure, Reason: be.Reason}, nil
	case "ready":
		return session.Event{Kind: session.EventReady}, nil
	case "disconnected":
		return session.Event{Kind: session.EventDisconnected, Reason: be.Reason}, nil
	case "message":
		if be.Message == nil {
			return session.Event{}, fmt.Errorf("message event without payload")
		}
		m := be.Message
		msg := &session.Message{
			ID:       m.ID,
			From:     m.From,
			Chat:     m.Chat,
			Body:     m.Body,
			HasMedia: m.HasMedia,
			FromMe:   m.FromMe,
		}
		if m.T > 0 {
			msg.Timestamp = time.Unix(m.T, 0)
		}
		if msg.Chat == "" {
			msg.Chat = msg.From
		}
		return session.Event{Kind: session.EventMessage, Message: msg}, nil
	case "ack":
		if be.Ack == nil {
			return session.Event{}, fmt.Errorf("ack event without payload")
		}
		return session.Event{Kind: session.EventMessageAck, Ack: &session.Ack{MessageID: be.Ack.ID, Level: be.Ack.Level}}, nil
	}
	return session.Event{}, fmt.Errorf("unknown bridge event %q", be.Kind)
}

// Personal.AI order the ending
