package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/wabot/wabot/internal/config"
	"github.com/wabot/wabot/internal/console"
	"github.com/wabot/wabot/internal/gateway"
	"github.com/wabot/wabot/internal/janitor"
	"github.com/wabot/wabot/internal/journal"
	"github.com/wabot/wabot/internal/lifecycle"
	"github.com/wabot/wabot/internal/monitor"
	"github.com/wabot/wabot/internal/session"
	"github.com/wabot/wabot/internal/shutdown"
	"github.com/wabot/wabot/internal/whatsweb"
	"github.com/wabot/wabot/pkg/consts"
	werrors "github.com/wabot/wabot/pkg/errors"
	"github.com/wabot/wabot/pkg/logger"
)

// newFactory is swapped in tests.
var newFactory = func(cfg *config.Config) session.Factory {
	opts := whatsweb.OptionsFromConfig(cfg)
	opts.Logger = logger.Log
	return whatsweb.NewFactory(opts)
}

// serve wires every component and blocks until the process should exit,
// returning the exit code.
func serve(ctx context.Context, cfg *config.Config) int {
	if ctx == nil {
		ctx = context.Background()
	}
	logger.InitLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	log := logger.Log.With("component", "serve")
	log.Info("Booting wabot", "version", version, "auth_dir", cfg.Session.AuthDir, "port", cfg.Server.Port)

	inst, err := janitor.AcquireInstance(cfg.Session.AuthDir)
	if err != nil {
		log.Error("Cannot start", "error", err)
		return consts.ExitFatal
	}

	var metrics *monitor.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = monitor.New()
	}
	traffic := openJournal(ctx, cfg, log)

	qr := console.NewQRPrinter(os.Stdout)
	var coord *shutdown.Coordinator
	mgr := lifecycle.New(newFactory(cfg), lifecycle.SettingsFromConfig(cfg),
		lifecycle.WithJournal(traffic),
		lifecycle.WithMetrics(metrics),
		lifecycle.WithQRHandler(qr.Print),
		lifecycle.WithPanicHandler(func(err error) { coord.Fatal(err) }),
	)

	srv := gateway.NewServer(cfg.Server.Port, gateway.NewHandler(mgr, gateway.Options{
		PDFPath:       cfg.Server.PDFPath,
		RatePerSecond: cfg.Server.SendRatePerSecond,
		Burst:         cfg.Server.SendBurst,
		Metrics:       metrics,
	}))

	listeners := gateway.NewListeners(logger.Log)
	ln, err := listeners.Listen(srv.Addr)
	if err != nil {
		log.Error("Cannot serve HTTP API", "error", err)
		_ = traffic.Close()
		_ = inst.Close()
		return consts.ExitFatal
	}

	exitCh := make(chan int, 1)
	coord = shutdown.New(mgr, cfg.Session.DestroyTimeout.D(), shutdown.WithExit(func(code int) {
		exitCh <- code
	}))
	coord.OnClose("instance lock", func(context.Context) error { return inst.Close() })
	coord.OnClose("journal", func(context.Context) error { return traffic.Close() })
	coord.OnClose("listeners", func(context.Context) error { return listeners.Close() })
	coord.OnClose("http server", srv.Shutdown)

	stop := coord.Watch(ctx)
	defer stop()

	go func() {
		defer coord.Recover()
		log.Info("HTTP API listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			coord.Fatal(err)
		}
	}()

	runDone := make(chan error, 1)
	go func() {
		defer coord.Recover()
		runDone <- mgr.Run(ctx)
	}()

	select {
	case code := <-exitCh:
		return code
	case err := <-runDone:
		if err == nil {
			return <-exitCh
		}
		// Terminal failure skips the graceful sequence so the exit is
		// visible as a failure to whatever supervises the process. The
		// last handle is still torn down, best effort.
		log.Error("Giving up", "error", err)
		if derr := mgr.DestroyCurrent(context.Background()); derr != nil {
			log.Warn("Teardown of last session failed", "error", derr)
		}
		_ = srv.Close()
		_ = listeners.Close()
		_ = traffic.Close()
		_ = inst.Close()
		if errors.Is(err, werrors.ErrRetriesExhausted) {
			return consts.ExitExhausted
		}
		return consts.ExitFatal
	}
}

func openJournal(ctx context.Context, cfg *config.Config, log logger.Logger) journal.Journal {
	j := journal.Multi{journal.NewLog(logger.Log)}
	if cfg.Journal.RedisURL == "" {
		return j
	}

	rj, err := journal.NewRedis(cfg.Journal.RedisURL,
		journal.WithStream(cfg.Journal.RedisStream),
		journal.WithMaxLen(cfg.Journal.MaxLen),
	)
	if err != nil {
		log.Warn("Redis journal disabled", "error", err)
		return j
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rj.Ping(pingCtx); err != nil {
		log.Warn("Redis journal unreachable, continuing without it", "error", err)
		_ = rj.Close()
		return j
	}
	log.Info("Journaling traffic to Redis", "stream", cfg.Journal.RedisStream)
	return append(j, rj)
}

// Personal.AI order the ending
