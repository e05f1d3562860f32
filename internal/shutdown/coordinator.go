// Package shutdown serializes process teardown: one sequence, whatever
// triggered it.
package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/wabot/wabot/pkg/consts"
	"github.com/wabot/wabot/pkg/deadline"
	"github.com/wabot/wabot/pkg/logger"
)

// Target is the session owner torn down on shutdown.
type Target interface {
	BeginShutdown()
	DestroyCurrent(ctx context.Context) error
}

type closer struct {
	name string
	fn   func(ctx context.Context) error
}

// Coordinator runs the shutdown sequence at most once.
type Coordinator struct {
	target  Target
	timeout time.Duration
	log     logger.Logger
	exit    func(code int)

	started atomic.Bool
	mu      sync.Mutex
	closers []closer
	done    chan struct{}
}

type Option func(*Coordinator)

// WithExit replaces os.Exit.
func WithExit(fn func(code int)) Option {
	return func(c *Coordinator) { c.exit = fn }
}

// WithLogger sets the logger. Defaults to the global logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

// New creates a coordinator that destroys target's session within timeout.
func New(target Target, timeout time.Duration, opts ...Option) *Coordinator {
	c := &Coordinator{
		target:  target,
		timeout: timeout,
		log:     logger.Log,
		exit:    os.Exit,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("component", "shutdown")
	return c
}

// OnClose registers fn to run during teardown, after the session is
// destroyed. Closers run in reverse registration order.
func (c *Coordinator) OnClose(name string, fn func(ctx context.Context) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closers = append(c.closers, closer{name: name, fn: fn})
}

// ShuttingDown reports whether a shutdown sequence has started.
func (c *Coordinator) ShuttingDown() bool {
	return c.started.Load()
}

// Done is closed once teardown has finished, right before exit is called.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Initiate runs the shutdown sequence and exits with code. Only the first
// call does anything; later calls log and return false.
func (c *Coordinator) Initiate(reason string, code int) bool {
	if !c.started.CompareAndSwap(false, true) {
		c.log.Info("Shutdown already in progress", "reason", reason)
		return false
	}
	c.log.Info("Shutting down", "reason", reason, "exit_code", code)

	c.target.BeginShutdown()

	ctx := context.Background()
	err := deadline.Do(ctx, "Shutdown", c.timeout, c.target.DestroyCurrent)
	if err != nil {
		c.log.Error("Session teardown failed", "error", err)
	} else {
		c.log.Info("Session closed")
	}

	c.mu.Lock()
	closers := append([]closer(nil), c.closers...)
	c.mu.Unlock()
	for i := len(closers) - 1; i >= 0; i-- {
		cl := closers[i]
		if err := deadline.Do(ctx, cl.name, c.timeout, cl.fn); err != nil {
			c.log.Warn("Close failed", "name", cl.name, "error", err)
		}
	}

	close(c.done)
	c.exit(code)
	return true
}

// Fatal shuts down with the fatal exit code.
func (c *Coordinator) Fatal(err error) {
	c.log.Error("Fatal error", "error", err)
	c.Initiate(fmt.Sprintf("fatal: %v", err), consts.ExitFatal)
}

// Recover turns a panic in the calling goroutine into a fatal shutdown.
// Use it as `defer c.Recover()`.
func (c *Coordinator) Recover() {
	if r := recover(); r != nil {
		c.Fatal(fmt.Errorf("panic: %v", r))
	}
}

// Watch starts listening for SIGINT and SIGTERM and initiates a graceful
// shutdown on the first one. Listening stops when ctx ends or stop is called.
func (c *Coordinator) Watch(ctx context.Context) (stop func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	wctx, cancel := context.WithCancel(ctx)
	go func() {
		defer signal.Stop(sigCh)
		for {
			select {
			case sig := <-sigCh:
				c.Initiate("signal "+sig.String(), consts.ExitOK)
			case <-wctx.Done():
				return
			}
		}
	}()
	return cancel
}

// Personal.AI order the ending
