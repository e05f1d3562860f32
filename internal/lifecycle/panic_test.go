package lifecycle_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wabot/wabot/internal/lifecycle"
	"github.com/wabot/wabot/internal/session"
	"github.com/wabot/wabot/internal/session/sessiontest"
	"github.com/wabot/wabot/internal/shutdown"
	"github.com/wabot/wabot/pkg/consts"
	"github.com/wabot/wabot/pkg/logger"
)

const crashChildEnv = "WABOT_LIFECYCLE_CRASH_CHILD"

// runCrashingBot wires a manager to a real coordinator, delivers a message
// that makes a rule panic and reports how the process ends.
func runCrashingBot() {
	f := &sessiontest.Factory{}
	var coord *shutdown.Coordinator
	m := lifecycle.New(f, fastSettings(3),
		lifecycle.WithLogger(logger.Nop()),
		lifecycle.WithCleaner(func(...string) {}),
		lifecycle.WithRules(panickingRules()),
		lifecycle.WithPanicHandler(func(err error) { coord.Fatal(err) }))
	coord = shutdown.New(m, time.Second,
		shutdown.WithLogger(logger.Nop()),
		shutdown.WithExit(func(code int) {
			fmt.Printf("coordinator exit code=%d destroyed=%d\n", code, f.Destroyed())
			os.Exit(code)
		}))

	go func() { _ = m.Run(context.Background()) }()
	until := time.Now().Add(waitFor)
	for !m.Ready() && time.Now().Before(until) {
		time.Sleep(tick)
	}
	f.Last().Deliver(session.Message{ID: "m1", From: "51911@c.us", Chat: "51911@c.us", Body: "hola"})

	time.Sleep(waitFor)
	fmt.Println("still running")
	os.Exit(9)
}

func TestPanicInEventPumpRunsCoordinator(t *testing.T) {
	if os.Getenv(crashChildEnv) == "1" {
		runCrashingBot()
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=^TestPanicInEventPumpRunsCoordinator$")
	cmd.Env = append(os.Environ(), crashChildEnv+"=1")
	out, err := cmd.CombinedOutput()

	var exitErr *exec.ExitError
	require.True(t, errors.As(err, &exitErr), "child should exit non-zero: %v\n%s", err, out)
	assert.Equal(t, consts.ExitFatal, exitErr.ExitCode(), string(out))
	assert.Contains(t, string(out), "coordinator exit code=1 destroyed=1")
}
