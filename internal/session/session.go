// Package session defines the capability the lifecycle manager needs from an
// automation session: initialize, destroy, send, and a stream of events.
package session

import (
	"context"
	"time"
)

// EventKind discriminates the Event union.
type EventKind int

const (
	EventQR EventKind = iota + 1
	EventAuthenticated
	EventAuthFailure
	EventReady
	EventDisconnected
	EventMessage
	EventMessageAck
)

var kindNames = map[EventKind]string{
	EventQR:            "qr",
	EventAuthenticated: "authenticated",
	EventAuthFailure:   "auth_failure",
	EventReady:         "ready",
	EventDisconnected:  "disconnected",
	EventMessage:       "message",
	EventMessageAck:    "message_ack",
}

func (k EventKind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "unknown"
}

// Event is a single notification from a session. Only the field matching
// Kind is populated.
type Event struct {
	Kind EventKind

	// QR carries the pairing payload for EventQR.
	QR string
	// Reason describes EventDisconnected and EventAuthFailure.
	Reason string
	// Message is set for EventMessage.
	Message *Message
	// Ack is set for EventMessageAck.
	Ack *Ack
}

// Message is an inbound chat message.
type Message struct {
	ID        string
	From      string // sender id (participant in groups)
	Chat      string // chat id the reply goes to
	Body      string
	HasMedia  bool
	FromMe    bool
	Timestamp time.Time
}

// Ack reports a delivery status change for a message we sent.
type Ack struct {
	MessageID string
	Level     int // -1 error, 0 pending, 1 server, 2 device, 3 read, 4 played
}

// Document is a file attachment for SendDocument.
type Document struct {
	Path     string
	Filename string
	Caption  string
}

// Session is one automation session handle. A handle is single-use: once
// destroyed it must not be initialized again.
type Session interface {
	// ID uniquely identifies this handle.
	ID() string
	// Events returns the handle's event stream. It is closed by Destroy.
	Events() <-chan Event
	// Initialize starts the session and blocks until it is authenticated
	// and ready or ctx ends.
	Initialize(ctx context.Context) error
	// Destroy tears the session down. Safe to call more than once.
	Destroy(ctx context.Context) error
	// SendText sends text to chatID and returns the platform message id.
	SendText(ctx context.Context, chatID, text string) (string, error)
	// SendDocument sends a file to chatID and returns the platform message id.
	SendDocument(ctx context.Context, chatID string, doc Document) (string, error)
	// ContactName resolves a display name for id.
	ContactName(ctx context.Context, id string) (string, error)
}

// Factory builds fresh, uninitialized handles.
type Factory interface {
	Create() Session
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func() Session

func (f FactoryFunc) Create() Session { return f() }

// Personal.AI order the ending
