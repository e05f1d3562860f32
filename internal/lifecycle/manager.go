// Package lifecycle owns the WhatsApp session handle and drives the
// connect, retry, reconnect and shutdown state machine around it.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wabot/wabot/internal/config"
	"github.com/wabot/wabot/internal/janitor"
	"github.com/wabot/wabot/internal/journal"
	"github.com/wabot/wabot/internal/monitor"
	"github.com/wabot/wabot/internal/rules"
	"github.com/wabot/wabot/internal/session"
	"github.com/wabot/wabot/pkg/consts"
	"github.com/wabot/wabot/pkg/deadline"
	werrors "github.com/wabot/wabot/pkg/errors"
	"github.com/wabot/wabot/pkg/fsm"
	"github.com/wabot/wabot/pkg/logger"
)

var errStopping = werrors.ErrShuttingDown

// Settings are the timing and storage parameters of the manager.
type Settings struct {
	AuthDir  string
	CacheDir string

	MaxRetries     int
	BaseDelay      time.Duration
	ReconnectDelay time.Duration
	SettleDelay    time.Duration
	InitTimeout    time.Duration
	DestroyTimeout time.Duration
	SendTimeout    time.Duration

	// Location is used to render message timestamps.
	Location *time.Location
}

// SettingsFromConfig extracts manager settings from the loaded config.
// An invalid timezone falls back to the local zone; Validate reports it.
func SettingsFromConfig(cfg *config.Config) Settings {
	loc, _ := cfg.Location()
	return Settings{
		AuthDir:        cfg.Session.AuthDir,
		CacheDir:       cfg.Session.CacheDir,
		MaxRetries:     cfg.Retry.MaxRetries,
		BaseDelay:      cfg.Retry.BaseDelay.D(),
		ReconnectDelay: cfg.Retry.ReconnectDelay.D(),
		SettleDelay:    cfg.Retry.SettleDelay.D(),
		InitTimeout:    cfg.Session.InitTimeout.D(),
		DestroyTimeout: cfg.Session.DestroyTimeout.D(),
		SendTimeout:    cfg.Session.ReplyTimeout.D(),
		Location:       loc,
	}
}

// Option customizes a Manager.
type Option func(*Manager)

// WithRules replaces the default reply rules.
func WithRules(r rules.Set) Option {
	return func(m *Manager) { m.rules = r }
}

// WithJournal records traffic to j.
func WithJournal(j journal.Journal) Option {
	return func(m *Manager) { m.journal = j }
}

// WithMetrics exports lifecycle and traffic metrics to mt.
func WithMetrics(mt *monitor.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithLogger sets the logger. Defaults to the global logger.
func WithLogger(l logger.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithQRHandler is called with every pairing QR payload.
func WithQRHandler(fn func(code string)) Option {
	return func(m *Manager) { m.onQR = fn }
}

// WithPanicHandler receives panics recovered in the manager's background
// goroutines. Without one the panic is re-raised.
func WithPanicHandler(fn func(err error)) Option {
	return func(m *Manager) { m.onPanic = fn }
}

// WithCleaner replaces the lock janitor run before each attempt.
func WithCleaner(fn func(dirs ...string)) Option {
	return func(m *Manager) { m.clean = fn }
}

type signal struct {
	handle string
	kind   session.EventKind
	reason string
}

// Manager owns the single session handle. Run performs every transition
// except the shutdown one, which may come from any goroutine.
type Manager struct {
	cfg     Settings
	factory session.Factory
	fsm     *fsm.StateMachine
	rules   rules.Set
	journal journal.Journal
	metrics *monitor.Metrics
	log     logger.Logger
	onQR    func(string)
	clean   func(dirs ...string)
	onPanic func(err error)

	mu       sync.RWMutex
	current  session.Session
	attempts int

	signals      chan signal
	exited       chan struct{}
	stopping     chan struct{}
	stopOnce     sync.Once
	shuttingDown atomic.Bool
}

// New builds a manager in the IDLE state.
func New(factory session.Factory, cfg Settings, opts ...Option) *Manager {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = consts.DefaultMaxRetries
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	m := &Manager{
		cfg:      cfg,
		factory:  factory,
		fsm:      fsm.New(fsm.State(consts.StateIdle)),
		rules:    rules.Default(),
		log:      logger.Log,
		signals:  make(chan signal, 16),
		exited:   make(chan struct{}),
		stopping: make(chan struct{}),
		clean: func(dirs ...string) {
			janitor.CleanAll(dirs...)
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.journal == nil {
		m.journal = journal.NewLog(m.log)
	}
	m.log = m.log.With("component", "lifecycle")
	m.setupFSM()
	return m
}

func (m *Manager) setupFSM() {
	st := func(s consts.LifecycleState) fsm.State { return fsm.State(s) }

	m.fsm.AddTransition(st(consts.StateIdle), st(consts.StateConnecting), consts.EventStart, nil)
	m.fsm.AddTransition(st(consts.StateConnecting), st(consts.StateReady), consts.EventReady, m.onReady)
	m.fsm.AddTransition(st(consts.StateConnecting), st(consts.StateConnecting), consts.EventRetry, nil)
	m.fsm.AddTransition(st(consts.StateConnecting), st(consts.StateFailed), consts.EventExhaust, nil)
	m.fsm.AddTransition(st(consts.StateReady), st(consts.StateDisconnected), consts.EventDisconnect, nil)
	m.fsm.AddTransition(st(consts.StateDisconnected), st(consts.StateConnecting), consts.EventReconnect, nil)
	m.fsm.AddTransition(st(consts.StateDisconnected), st(consts.StateFailed), consts.EventExhaust, nil)

	m.fsm.AddWildcard(st(consts.StateShuttingDown), consts.EventShutdown)
	m.fsm.SetTerminal(st(consts.StateShuttingDown), st(consts.StateFailed))

	m.fsm.Observe(func(from, to fsm.State, event fsm.Event) {
		m.log.Info("State transition", "from", from, "to", to, "event", event)
		m.metrics.SetState(consts.LifecycleState(to))
	})
}

// onReady grants a fresh retry budget.
func (m *Manager) onReady(fsm.Event, ...interface{}) error {
	m.mu.Lock()
	m.attempts = 0
	m.mu.Unlock()
	return nil
}

// State returns the current lifecycle state.
func (m *Manager) State() consts.LifecycleState {
	return consts.LifecycleState(m.fsm.Current())
}

// Ready reports whether outbound sends are permitted.
func (m *Manager) Ready() bool {
	return m.fsm.Is(fsm.State(consts.StateReady))
}

// Attempts returns the attempt counter since the last successful connect.
func (m *Manager) Attempts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.attempts
}

// HandleID returns the current handle's id, or "" when there is none.
func (m *Manager) HandleID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return ""
	}
	return m.current.ID()
}

// ShuttingDown reports whether BeginShutdown has been called.
func (m *Manager) ShuttingDown() bool {
	return m.shuttingDown.Load()
}

// Run connects and keeps the session connected until shutdown, context
// cancellation or retry exhaustion. It returns nil after a shutdown and an
// ErrRetriesExhausted-coded error when the retry budget is spent.
func (m *Manager) Run(ctx context.Context) error {
	defer close(m.exited)
	if err := m.fire(consts.EventStart); err != nil {
		return m.stopped(ctx, err)
	}

	for {
		if err := m.connect(ctx); err != nil {
			return m.stopped(ctx, err)
		}

		reason, err := m.awaitDisconnect(ctx)
		if err != nil {
			return m.stopped(ctx, err)
		}
		m.log.Warn("Session disconnected", "reason", reason)
		if err := m.fire(consts.EventDisconnect); err != nil {
			return m.stopped(ctx, err)
		}

		if m.Attempts() >= m.cfg.MaxRetries {
			_ = m.fire(consts.EventExhaust)
			return m.exhausted()
		}

		m.log.Info("Reconnecting", "delay", m.cfg.ReconnectDelay)
		if err := m.sleep(ctx, m.cfg.ReconnectDelay); err != nil {
			return m.stopped(ctx, err)
		}
		if err := m.fire(consts.EventReconnect); err != nil {
			return m.stopped(ctx, err)
		}
	}
}

// stopped maps the reason Run is leaving to its return value.
func (m *Manager) stopped(ctx context.Context, err error) error {
	if m.ShuttingDown() {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (m *Manager) exhausted() error {
	m.log.Error("Maximum connection attempts reached", "max_retries", m.cfg.MaxRetries)
	return werrors.New(werrors.ErrCodeRetriesExhausted, "Connect",
		fmt.Sprintf("gave up after %d attempts", m.cfg.MaxRetries), nil)
}

// connect runs attempts until one reaches READY or the budget is spent.
func (m *Manager) connect(ctx context.Context) error {
	for {
		if err := m.interrupted(ctx); err != nil {
			return err
		}

		m.mu.Lock()
		m.attempts++
		attempt := m.attempts
		m.mu.Unlock()

		m.log.Info("Connection attempt", "attempt", attempt, "max_retries", m.cfg.MaxRetries)
		err := m.attempt(ctx, attempt)
		if err == nil {
			m.metrics.Attempt("success")
			m.log.Info("Session ready", "attempt", attempt)
			return m.fire(consts.EventReady)
		}

		if errors.Is(err, errStopping) {
			return err
		}
		m.metrics.Attempt("failure")
		m.log.Error("Connection attempt failed", "attempt", attempt, "error", err)

		if err := m.interrupted(ctx); err != nil {
			return err
		}
		if attempt >= m.cfg.MaxRetries {
			_ = m.fire(consts.EventExhaust)
			return m.exhausted()
		}

		delay := Backoff(m.cfg.BaseDelay, attempt)
		m.log.Info("Retrying", "delay", delay, "next_attempt", attempt+1)
		if err := m.sleep(ctx, delay); err != nil {
			return err
		}
		if err := m.fire(consts.EventRetry); err != nil {
			return err
		}
	}
}

// attempt performs one connection attempt in strict order: clean locks,
// destroy the previous handle, settle, create, subscribe, initialize.
func (m *Manager) attempt(ctx context.Context, n int) error {
	m.clean(m.cfg.AuthDir, m.cfg.CacheDir)

	if err := m.DestroyCurrent(ctx); err != nil {
		m.log.Warn("Failed to destroy previous session", "error", err)
	}

	if err := m.sleep(ctx, m.cfg.SettleDelay); err != nil {
		return err
	}

	s := m.factory.Create()
	m.mu.Lock()
	// BeginShutdown sets the flag under mu, so either the new handle is
	// visible to DestroyCurrent or it is dropped here.
	if m.shuttingDown.Load() {
		m.mu.Unlock()
		if err := deadline.Do(ctx, "Destroy", m.cfg.DestroyTimeout, s.Destroy); err != nil {
			m.log.Warn("Failed to destroy session created during shutdown", "error", err)
		}
		return errStopping
	}
	m.current = s
	m.mu.Unlock()
	go m.pump(ctx, s)

	return m.initialize(ctx, s)
}

// initialize waits for s to report ready, bounded by the init timeout.
// Initialize returning nil is not enough on its own: the ready event is.
func (m *Manager) initialize(ctx context.Context, s session.Session) error {
	initCtx, cancel := ctx, context.CancelFunc(func() {})
	if m.cfg.InitTimeout > 0 {
		initCtx, cancel = context.WithTimeout(ctx, m.cfg.InitTimeout)
	}
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				err := m.panicked("initialize", r)
				done <- err
			}
		}()
		done <- deadline.Do(initCtx, "Initialize", m.cfg.InitTimeout, s.Initialize)
	}()

	for {
		select {
		case err := <-done:
			if err != nil {
				return werrors.New(werrors.ErrCodeSessionInit, "Initialize", "session failed to start", err)
			}
			done = nil
		case sig := <-m.signals:
			if sig.handle != s.ID() {
				continue
			}
			switch sig.kind {
			case session.EventReady:
				return nil
			case session.EventDisconnected:
				return werrors.New(werrors.ErrCodeSessionInit, "Initialize",
					"disconnected before ready: "+sig.reason, nil)
			}
		case <-initCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return werrors.New(werrors.ErrCodeTimeout, "Initialize",
				fmt.Sprintf("no ready event within %s", m.cfg.InitTimeout), nil)
		case <-m.stopping:
			return errStopping
		}
	}
}

// awaitDisconnect blocks while READY until the current handle disconnects.
func (m *Manager) awaitDisconnect(ctx context.Context) (string, error) {
	id := m.HandleID()
	for {
		select {
		case sig := <-m.signals:
			if sig.handle != id {
				continue
			}
			if sig.kind == session.EventDisconnected {
				return sig.reason, nil
			}
		case <-ctx.Done():
			return "", ctx.Err()
		case <-m.stopping:
			return "", errStopping
		}
	}
}

func (m *Manager) fire(event string) error {
	return m.fsm.Fire(fsm.Event(event))
}

// BeginShutdown marks the manager as shutting down. It is sticky and safe to
// call from any goroutine; no new attempt starts afterwards.
func (m *Manager) BeginShutdown() {
	m.mu.Lock()
	m.shuttingDown.Store(true)
	m.mu.Unlock()
	m.stopOnce.Do(func() { close(m.stopping) })
	if err := m.fire(consts.EventShutdown); err != nil {
		m.log.Debug("Shutdown transition skipped", "state", m.State(), "error", err)
	}
}

// DestroyCurrent detaches and destroys the current handle, bounded by the
// destroy timeout. It is a no-op when there is no handle.
func (m *Manager) DestroyCurrent(ctx context.Context) error {
	m.mu.Lock()
	s := m.current
	m.current = nil
	m.mu.Unlock()

	if s == nil {
		return nil
	}
	err := deadline.Do(ctx, "Destroy", m.cfg.DestroyTimeout, s.Destroy)
	if err != nil {
		return err
	}
	m.log.Debug("Session destroyed", "handle", s.ID())
	return nil
}

// panicked reports a recovered panic to the panic handler, or re-raises it
// when there is none.
func (m *Manager) panicked(where string, r any) error {
	err := fmt.Errorf("panic in %s: %v", where, r)
	m.log.Error("Recovered panic", "where", where, "panic", r)
	if m.onPanic == nil {
		panic(r)
	}
	m.onPanic(err)
	return err
}

func (m *Manager) isCurrent(s session.Session) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current == s
}

// readyHandle returns the current handle when sends are permitted.
func (m *Manager) readyHandle() session.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.Ready() {
		return nil
	}
	return m.current
}

// SendText sends text through the current handle. It fails with
// ErrNotReady without touching the handle unless the state is READY.
func (m *Manager) SendText(ctx context.Context, chatID, text string) (string, error) {
	return m.send(ctx, "SendText", chatID, text, false, func(ctx context.Context, s session.Session) (string, error) {
		return s.SendText(ctx, chatID, text)
	})
}

// SendDocument sends a file through the current handle.
func (m *Manager) SendDocument(ctx context.Context, chatID string, doc session.Document) (string, error) {
	return m.send(ctx, "SendDocument", chatID, doc.Caption, true, func(ctx context.Context, s session.Session) (string, error) {
		return s.SendDocument(ctx, chatID, doc)
	})
}

func (m *Manager) send(ctx context.Context, op, chatID, body string, media bool, fn func(context.Context, session.Session) (string, error)) (string, error) {
	s := m.readyHandle()
	if s == nil {
		return "", werrors.New(werrors.ErrCodeNotReady, op, "whatsapp session is not ready", nil)
	}

	id, err := deadline.Value(ctx, op, m.cfg.SendTimeout, func(ctx context.Context) (string, error) {
		return fn(ctx, s)
	})
	if err != nil {
		if errors.Is(err, werrors.ErrTimeout) {
			return "", err
		}
		return "", werrors.New(werrors.ErrCodeSendFailed, op, "send failed", err)
	}

	m.metrics.Message(string(journal.Outbound))
	m.record(ctx, journal.Entry{
		Direction: journal.Outbound,
		Chat:      chatID,
		Body:      body,
		MessageID: id,
		HasMedia:  media,
		At:        time.Now(),
	})
	return id, nil
}

func (m *Manager) record(ctx context.Context, e journal.Entry) {
	if err := m.journal.Record(ctx, e); err != nil {
		m.log.Warn("Failed to journal message", "direction", e.Direction, "error", err)
	}
}

// Personal.AI order the ending
