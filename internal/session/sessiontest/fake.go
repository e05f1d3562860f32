// Package sessiontest provides an instrumented in-memory session for tests.
package sessiontest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/wabot/wabot/internal/session"
)

// ErrHang makes Initialize block until its context ends.
var ErrHang = errors.New("sessiontest: hang")

// Sent records one outbound call on a Fake.
type Sent struct {
	ChatID   string
	Text     string
	Document *session.Document
}

// Factory creates Fakes and counts creations, destructions and the peak
// number of simultaneously live handles.
type Factory struct {
	// InitErrors scripts the result of Initialize per created handle, in
	// creation order. Handles past the end of the slice initialize fine.
	InitErrors []error
	// SendErr, when set, is returned by every send on every handle.
	SendErr error
	// Names maps ids to display names for ContactName; missing ids fail.
	Names map[string]string
	// OnCreate, when set, is called with every new handle.
	OnCreate func(*Fake)

	mu        sync.Mutex
	handles   []*Fake
	destroyed int
	live      int
	maxLive   int
}

// Create implements session.Factory.
func (f *Factory) Create() session.Session {
	f.mu.Lock()
	n := len(f.handles)
	var initErr error
	if n < len(f.InitErrors) {
		initErr = f.InitErrors[n]
	}
	s := &Fake{
		id:      uuid.NewString(),
		events:  make(chan session.Event, 64),
		factory: f,
		initErr: initErr,
	}
	f.handles = append(f.handles, s)
	hook := f.OnCreate
	f.mu.Unlock()

	if hook != nil {
		hook(s)
	}
	return s
}

// Created returns how many handles were built.
func (f *Factory) Created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handles)
}

// Destroyed returns how many handles were destroyed.
func (f *Factory) Destroyed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.destroyed
}

// MaxLive returns the peak count of initialized, not yet destroyed handles.
func (f *Factory) MaxLive() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxLive
}

// Last returns the most recently created handle, or nil.
func (f *Factory) Last() *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.handles) == 0 {
		return nil
	}
	return f.handles[len(f.handles)-1]
}

func (f *Factory) markLive() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.live++
	if f.live > f.maxLive {
		f.maxLive = f.live
	}
}

func (f *Factory) markDestroyed(wasLive bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed++
	if wasLive {
		f.live--
	}
}

// Fake is an in-memory session.Session.
type Fake struct {
	id      string
	events  chan session.Event
	factory *Factory
	initErr error

	mu          sync.Mutex
	initialized bool
	destroyed   bool
	sent        []Sent
}

func (s *Fake) ID() string                   { return s.id }
func (s *Fake) Events() <-chan session.Event { return s.events }

// Initialize emits Authenticated and Ready and returns nil unless the
// factory scripted an error for this handle.
func (s *Fake) Initialize(ctx context.Context) error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return errors.New("sessiontest: initialize after destroy")
	}
	if s.initialized {
		s.mu.Unlock()
		return errors.New("sessiontest: initialize called twice")
	}
	s.initialized = true
	s.mu.Unlock()
	s.factory.markLive()

	switch {
	case errors.Is(s.initErr, ErrHang):
		<-ctx.Done()
		return ctx.Err()
	case s.initErr != nil:
		return s.initErr
	}
	s.Emit(session.Event{Kind: session.EventAuthenticated})
	s.Emit(session.Event{Kind: session.EventReady})
	return nil
}

// Destroy closes the event stream. Repeated calls are no-ops.
func (s *Fake) Destroy(ctx context.Context) error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return nil
	}
	s.destroyed = true
	wasLive := s.initialized
	close(s.events)
	s.mu.Unlock()

	s.factory.markDestroyed(wasLive)
	return nil
}

// Destroyed reports whether Destroy ran.
func (s *Fake) Destroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}

// Emit pushes ev to the stream. Events after Destroy are dropped.
func (s *Fake) Emit(ev session.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return
	}
	s.events <- ev
}

// Disconnect emits a Disconnected event.
func (s *Fake) Disconnect(reason string) {
	s.Emit(session.Event{Kind: session.EventDisconnected, Reason: reason})
}

// Deliver emits an inbound message.
func (s *Fake) Deliver(m session.Message) {
	s.Emit(session.Event{Kind: session.EventMessage, Message: &m})
}

func (s *Fake) SendText(ctx context.Context, chatID, text string) (string, error) {
	return s.record(Sent{ChatID: chatID, Text: text})
}

func (s *Fake) SendDocument(ctx context.Context, chatID string, doc session.Document) (string, error) {
	return s.record(Sent{ChatID: chatID, Text: doc.Caption, Document: &doc})
}

func (s *Fake) record(out Sent) (string, error) {
	if s.factory.SendErr != nil {
		return "", s.factory.SendErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return "", errors.New("sessiontest: send on destroyed session")
	}
	s.sent = append(s.sent, out)
	return fmt.Sprintf("true_%s_%d", out.ChatID, len(s.sent)), nil
}

// Sent returns a copy of everything sent through this handle.
func (s *Fake) Sent() []Sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Sent(nil), s.sent...)
}

func (s *Fake) ContactName(ctx context.Context, id string) (string, error) {
	if name, ok := s.factory.Names[id]; ok {
		return name, nil
	}
	return "", fmt.Errorf("sessiontest: no contact %s", id)
}

var _ session.Session = (*Fake)(nil)

// Personal.AI order the ending
