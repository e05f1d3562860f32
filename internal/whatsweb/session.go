package whatsweb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"

	"github.com/wabot/wabot/internal/session"
	"github.com/wabot/wabot/pkg/deadline"
	"github.com/wabot/wabot/pkg/logger"
)

const (
	composerSelector = `footer div[contenteditable="true"]`
	attachSelector   = `[data-icon="plus-rounded"], [data-icon="plus"], [data-icon="attach-menu-plus"], [data-icon="clip"]`
	fileSelector     = `input[type="file"][accept="*"]`
	captionSelector  = `div[aria-placeholder="Add a caption"], div[aria-label="Add a caption"]`
	sendSelector     = `[data-icon="send"], [aria-label="Send"]`

	elementTimeout = 15 * time.Second
	idPollInterval = 300 * time.Millisecond
	idPollAttempts = 10
)

var errClosed = errors.New("whatsweb: session destroyed")

// Session is one Chromium instance logged into WhatsApp Web.
type Session struct {
	id     string
	opts   Options
	log    logger.Logger
	events chan session.Event

	// ctx outlives Initialize and is cancelled by Destroy.
	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	launcher    *launcher.Launcher
	browser     *rod.Browser
	page        *rod.Page
	initialized bool
	closed      bool

	sendMu    sync.Mutex
	readyOnce sync.Once
	readyCh   chan struct{}
	lostOnce  sync.Once
}

func newSession(id string, opts Options) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:      id,
		opts:    opts,
		log:     opts.Logger.With("component", "whatsweb", "handle", id),
		events:  make(chan session.Event, 256),
		ctx:     ctx,
		cancel:  cancel,
		readyCh: make(chan struct{}),
	}
}

func (s *Session) ID() string                   { return s.id }
func (s *Session) Events() <-chan session.Event { return s.events }

// Initialize launches the browser, opens WhatsApp Web and waits until the
// chat list is loaded or ctx ends.
func (s *Session) Initialize(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errClosed
	}
	if s.initialized {
		s.mu.Unlock()
		return errors.New("whatsweb: initialize called twice")
	}
	s.initialized = true
	l := s.opts.Launcher().Context(s.ctx)
	s.launcher = l
	s.mu.Unlock()

	controlURL, err := deadline.Value(ctx, "LaunchBrowser", s.opts.StartTimeout, func(context.Context) (string, error) {
		return l.Launch()
	})
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL).Context(s.ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to browser: %w", err)
	}
	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return fmt.Errorf("open page: %w", err)
	}

	s.mu.Lock()
	s.browser = browser
	s.page = page
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return errClosed
	}

	if _, err := page.Expose(bindingName, s.onBridge); err != nil {
		return fmt.Errorf("expose bridge: %w", err)
	}
	if _, err := page.EvalOnNewDocument(bridgeScript); err != nil {
		return fmt.Errorf("install bridge: %w", err)
	}
	go s.watch(page)

	s.log.Info("Opening WhatsApp Web", "url", s.opts.URL)
	if err := page.Context(ctx).Navigate(s.opts.URL); err != nil {
		return fmt.Errorf("navigate: %w", err)
	}

	select {
	case <-s.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return errClosed
	}
}

// onBridge receives events from the page.
func (s *Session) onBridge(payload gson.JSON) (interface{}, error) {
	ev, err := parseBridgeEvent(payload.Str())
	if err != nil {
		s.log.Warn("Bad bridge event", "error", err)
		return nil, nil
	}
	if ev.Kind == session.EventReady {
		s.readyOnce.Do(func() { close(s.readyCh) })
	}
	s.emit(ev)
	return nil, nil
}

// watch reports renderer crashes and a lost browser connection.
func (s *Session) watch(page *rod.Page) {
	wait := page.Context(s.ctx).EachEvent(
		func(e *proto.InspectorTargetCrashed) bool {
			s.lost("renderer crashed")
			return true
		},
		func(e *proto.InspectorDetached) bool {
			s.lost("inspector detached: " + e.Reason)
			return true
		},
	)
	wait()
	if s.ctx.Err() == nil {
		s.lost("browser connection lost")
	}
}

func (s *Session) lost(reason string) {
	s.lostOnce.Do(func() {
		s.log.Warn("Session lost", "reason", reason)
		s.emit(session.Event{Kind: session.EventDisconnected, Reason: reason})
	})
}

func (s *Session) emit(ev session.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	default:
		s.log.Warn("Event dropped, consumer too slow", "kind", ev.Kind)
	}
}

// Destroy closes the browser, killing it if needed. The profile directory is
// kept so the next handle reuses the login.
func (s *Session) Destroy(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.events)
	browser, l := s.browser, s.launcher
	s.mu.Unlock()

	var err error
	if browser != nil {
		err = browser.Close()
	}
	if l != nil && (err != nil || browser == nil) {
		l.Kill()
	}
	s.cancel()
	if err != nil {
		return fmt.Errorf("close browser: %w", err)
	}
	return nil
}

func (s *Session) livePage(ctx context.Context) (*rod.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errClosed
	}
	select {
	case <-s.readyCh:
	default:
		return nil, errors.New("whatsweb: session not ready")
	}
	return s.page.Context(ctx), nil
}

// SendText opens chatID and submits text through the composer.
func (s *Session) SendText(ctx context.Context, chatID, text string) (string, error) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	page, err := s.livePage(ctx)
	if err != nil {
		return "", err
	}
	if err := openChat(page, chatID); err != nil {
		return "", err
	}
	before := lastOutgoing(page)

	composer, err := page.Timeout(elementTimeout).Element(composerSelector)
	if err != nil {
		return "", fmt.Errorf("find composer: %w", err)
	}
	if err := composer.Input(text); err != nil {
		return "", fmt.Errorf("type message: %w", err)
	}
	if err := page.Keyboard.Press(input.Enter); err != nil {
		return "", fmt.Errorf("submit message: %w", err)
	}
	return awaitOutgoing(ctx, page, before), nil
}

// SendDocument opens chatID and sends doc through the attachment menu.
func (s *Session) SendDocument(ctx context.Context, chatID string, doc session.Document) (string, error) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	path, err := filepath.Abs(doc.Path)
	if err != nil {
		return "", err
	}
	page, err := s.livePage(ctx)
	if err != nil {
		return "", err
	}
	if err := openChat(page, chatID); err != nil {
		return "", err
	}
	before := lastOutgoing(page)

	timed := page.Timeout(elementTimeout)
	attach, err := timed.Element(attachSelector)
	if err != nil {
		return "", fmt.Errorf("find attach button: %w", err)
	}
	if err := attach.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return "", fmt.Errorf("open attach menu: %w", err)
	}
	file, err := timed.Element(fileSelector)
	if err != nil {
		return "", fmt.Errorf("find file input: %w", err)
	}
	if err := file.SetFiles([]string{path}); err != nil {
		return "", fmt.Errorf("attach %s: %w", doc.Filename, err)
	}
	if doc.Caption != "" {
		if caption, err := timed.Element(captionSelector); err == nil {
			if err := caption.Input(doc.Caption); err != nil {
				s.log.Warn("Caption not typed", "error", err)
			}
		}
	}
	send, err := timed.Element(sendSelector)
	if err != nil {
		return "", fmt.Errorf("find send button: %w", err)
	}
	if err := send.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return "", fmt.Errorf("send document: %w", err)
	}
	return awaitOutgoing(ctx, page, before), nil
}

// ContactName asks the web client for the contact's display name.
func (s *Session) ContactName(ctx context.Context, id string) (string, error) {
	page, err := s.livePage(ctx)
	if err != nil {
		return "", err
	}
	res, err := page.Evaluate(rod.Eval(contactNameScript, id))
	if err != nil {
		return "", fmt.Errorf("resolve contact %s: %w", id, err)
	}
	return res.Value.Str(), nil
}

func openChat(page *rod.Page, chatID string) error {
	if _, err := page.Evaluate(rod.Eval(openChatScript, chatID).ByPromise()); err != nil {
		return fmt.Errorf("open chat %s: %w", chatID, err)
	}
	return nil
}

func lastOutgoing(page *rod.Page) string {
	res, err := page.Evaluate(rod.Eval(lastOutgoingScript))
	if err != nil {
		return ""
	}
	return res.Value.Str()
}

// awaitOutgoing polls for a new outgoing message id. An empty id means the
// message was submitted but did not show up in time.
func awaitOutgoing(ctx context.Context, page *rod.Page, before string) string {
	for i := 0; i < idPollAttempts; i++ {
		if id := lastOutgoing(page); id != "" && id != before {
			return id
		}
		select {
		case <-ctx.Done():
			return ""
		case <-time.After(idPollInterval):
		}
	}
	return ""
}

var _ session.Session = (*Session)(nil)

// Personal.AI order the ending
