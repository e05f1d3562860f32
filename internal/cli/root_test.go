package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wabot/wabot/internal/config"
	"github.com/wabot/wabot/internal/janitor"
	"github.com/wabot/wabot/internal/session"
	"github.com/wabot/wabot/internal/session/sessiontest"
	"github.com/wabot/wabot/pkg/consts"
)

func TestCommands(t *testing.T) {
	assert.Equal(t, "wabot", rootCmd.Name())

	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "clean-locks", "version"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func execute(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestVersion(t *testing.T) {
	SetVersion("1.2.3", "abc123", "2026-01-01")
	t.Cleanup(func() { SetVersion("dev", "none", "unknown") })

	code, out, _ := execute(t, "version")
	assert.Equal(t, consts.ExitOK, code)
	assert.Equal(t, "wabot 1.2.3 (commit abc123, built 2026-01-01)\n", out)
}

func TestCleanLocks(t *testing.T) {
	root := t.TempDir()
	auth := filepath.Join(root, "auth")
	cache := filepath.Join(root, "cache")
	require.NoError(t, os.MkdirAll(filepath.Join(auth, "Default"), 0o755))
	stale := filepath.Join(auth, "Default", "SingletonLock")
	require.NoError(t, os.Symlink("host-4242", stale))

	cfgPath := filepath.Join(root, "wabot.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf(
		"session:\n  auth_dir: %s\n  cache_dir: %s\n", auth, cache)), 0o644))

	code, out, stderr := execute(t, "clean-locks", "--config", cfgPath, "--env-file", filepath.Join(root, "missing.env"))
	require.Equal(t, consts.ExitOK, code, stderr)

	assert.Contains(t, out, auth+": removed "+stale)
	assert.Contains(t, out, cache+": created")
	_, err := os.Lstat(stale)
	assert.True(t, os.IsNotExist(err))
}

func TestBadConfigIsUsageError(t *testing.T) {
	root := t.TempDir()
	cfgPath := filepath.Join(root, "wabot.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("retry:\n  max_retries: 0\n"), 0o644))

	code, _, stderr := execute(t, "clean-locks", "--config", cfgPath, "--env-file", "")
	assert.Equal(t, consts.ExitUsage, code)
	assert.Contains(t, stderr, "max_retries")
}

func TestUnknownCommand(t *testing.T) {
	code, _, stderr := execute(t, "launch-rockets")
	assert.Equal(t, consts.ExitUsage, code)
	assert.Contains(t, stderr, "unknown command")
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	cfg.Session.AuthDir = filepath.Join(root, "auth")
	cfg.Session.CacheDir = filepath.Join(root, "cache")
	cfg.Session.InitTimeout = config.Duration(time.Second)
	cfg.Session.DestroyTimeout = config.Duration(time.Second)
	cfg.Retry.MaxRetries = 2
	cfg.Retry.BaseDelay = config.Duration(time.Millisecond)
	cfg.Retry.ReconnectDelay = config.Duration(time.Millisecond)
	cfg.Retry.SettleDelay = 0
	cfg.Server.Port = freePort(t)
	cfg.Journal.RedisURL = ""
	cfg.Observability.LogLevel = "error"
	cfg.Observability.MetricsEnabled = false
	return cfg
}

func useFactory(t *testing.T, f *sessiontest.Factory) {
	t.Helper()
	prev := newFactory
	newFactory = func(*config.Config) session.Factory { return f }
	t.Cleanup(func() { newFactory = prev })
}

func TestServe_ExhaustedRetries(t *testing.T) {
	cfg := testConfig(t)
	boom := errors.New("boom")
	f := &sessiontest.Factory{InitErrors: []error{boom, boom}}
	useFactory(t, f)

	assert.Equal(t, consts.ExitExhausted, serve(t.Context(), cfg))
	assert.Equal(t, 2, f.Created())
	assert.Equal(t, 2, f.Destroyed(), "the last failed handle is torn down too")

	// the instance lock was released on the way out
	inst, err := janitor.AcquireInstance(cfg.Session.AuthDir)
	require.NoError(t, err)
	require.NoError(t, inst.Close())
}

func TestServe_SecondInstanceRefused(t *testing.T) {
	cfg := testConfig(t)
	f := &sessiontest.Factory{}
	useFactory(t, f)

	inst, err := janitor.AcquireInstance(cfg.Session.AuthDir)
	require.NoError(t, err)
	defer inst.Close()

	assert.Equal(t, consts.ExitFatal, serve(t.Context(), cfg))
	assert.Zero(t, f.Created())
}

func TestServe_SignalShutsDownGracefully(t *testing.T) {
	cfg := testConfig(t)
	f := &sessiontest.Factory{}
	useFactory(t, f)

	codeCh := make(chan int, 1)
	go func() { codeCh <- serve(t.Context(), cfg) }()

	url := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var body struct {
			WhatsApp string `json:"whatsapp"`
		}
		return json.NewDecoder(resp.Body).Decode(&body) == nil && body.WhatsApp == "connected"
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGTERM))

	select {
	case code := <-codeCh:
		assert.Equal(t, consts.ExitOK, code)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after SIGTERM")
	}
	assert.Equal(t, f.Created(), f.Destroyed())
}
