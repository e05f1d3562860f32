package shutdown

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wabot/wabot/pkg/consts"
	"github.com/wabot/wabot/pkg/logger"
)

type fakeTarget struct {
	begun     atomic.Int32
	destroyed atomic.Int32
	hang      bool
	err       error
}

func (f *fakeTarget) BeginShutdown() { f.begun.Add(1) }

func (f *fakeTarget) DestroyCurrent(ctx context.Context) error {
	f.destroyed.Add(1)
	if f.hang {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.err
}

type exitRecorder struct {
	mu    sync.Mutex
	codes []int
}

func (e *exitRecorder) exit(code int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.codes = append(e.codes, code)
}

func (e *exitRecorder) Codes() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int(nil), e.codes...)
}

func newCoordinator(target Target, timeout time.Duration) (*Coordinator, *exitRecorder) {
	rec := &exitRecorder{}
	c := New(target, timeout, WithExit(rec.exit), WithLogger(logger.Nop()))
	return c, rec
}

func TestInitiate_IsIdempotent(t *testing.T) {
	target := &fakeTarget{}
	c, rec := newCoordinator(target, time.Second)

	assert.True(t, c.Initiate("test", consts.ExitOK))
	assert.False(t, c.Initiate("test again", consts.ExitFatal))

	assert.Equal(t, int32(1), target.begun.Load())
	assert.Equal(t, int32(1), target.destroyed.Load(), "teardown runs exactly once")
	assert.Equal(t, []int{consts.ExitOK}, rec.Codes())
	assert.True(t, c.ShuttingDown())

	select {
	case <-c.Done():
	default:
		t.Fatal("Done should be closed after teardown")
	}
}

func TestInitiate_HungTeardownStillExits(t *testing.T) {
	target := &fakeTarget{hang: true}
	c, rec := newCoordinator(target, 20*time.Millisecond)

	start := time.Now()
	c.Initiate("test", consts.ExitOK)

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, []int{consts.ExitOK}, rec.Codes())
}

func TestInitiate_TeardownErrorDoesNotBlockExit(t *testing.T) {
	target := &fakeTarget{err: errors.New("browser gone")}
	c, rec := newCoordinator(target, time.Second)

	c.Initiate("test", consts.ExitOK)
	assert.Equal(t, []int{consts.ExitOK}, rec.Codes())
}

func TestInitiate_ClosersRunInReverseAfterSession(t *testing.T) {
	target := &fakeTarget{}
	c, _ := newCoordinator(target, time.Second)

	var order []string
	c.OnClose("journal", func(context.Context) error {
		order = append(order, "journal")
		return nil
	})
	c.OnClose("http", func(context.Context) error {
		require.Equal(t, int32(1), target.destroyed.Load(), "session goes first")
		order = append(order, "http")
		return errors.New("already closed")
	})

	c.Initiate("test", consts.ExitOK)
	assert.Equal(t, []string{"http", "journal"}, order)
}

func TestFatal_UsesFatalCode(t *testing.T) {
	c, rec := newCoordinator(&fakeTarget{}, time.Second)
	c.Fatal(errors.New("boom"))
	assert.Equal(t, []int{consts.ExitFatal}, rec.Codes())
}

func TestRecover_TurnsPanicIntoFatal(t *testing.T) {
	c, rec := newCoordinator(&fakeTarget{}, time.Second)

	func() {
		defer c.Recover()
		panic("nil map")
	}()

	assert.Equal(t, []int{consts.ExitFatal}, rec.Codes())
}

func TestWatch_SignalInitiatesGracefulShutdown(t *testing.T) {
	target := &fakeTarget{}
	c, rec := newCoordinator(target, time.Second)

	stop := c.Watch(context.Background())
	defer stop()

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGTERM))

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("signal did not trigger shutdown")
	}
	assert.Eventually(t, func() bool { return len(rec.Codes()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{consts.ExitOK}, rec.Codes())
}

func TestWatch_StopDoesNotShutDown(t *testing.T) {
	c, rec := newCoordinator(&fakeTarget{}, time.Second)
	stop := c.Watch(context.Background())
	stop()

	time.Sleep(20 * time.Millisecond)
	assert.False(t, c.ShuttingDown())
	assert.Empty(t, rec.Codes())
}
