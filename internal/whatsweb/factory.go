// Package whatsweb drives WhatsApp Web in a Chromium instance through the
// DevTools protocol and exposes it as a session.Session.
package whatsweb

import (
	"time"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/google/uuid"

	"github.com/wabot/wabot/internal/config"
	"github.com/wabot/wabot/internal/session"
	"github.com/wabot/wabot/pkg/consts"
	"github.com/wabot/wabot/pkg/logger"
)

// Options is the fixed launch configuration shared by every handle.
type Options struct {
	AuthDir    string
	CacheDir   string
	BrowserBin string
	Headless   bool
	URL        string
	// StartTimeout bounds the browser launch.
	StartTimeout time.Duration
	Logger       logger.Logger
}

// OptionsFromConfig builds launch options from the session config.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		AuthDir:      cfg.Session.AuthDir,
		CacheDir:     cfg.Session.CacheDir,
		BrowserBin:   cfg.Session.BrowserBin,
		Headless:     cfg.Session.Headless,
		URL:          cfg.Session.URL,
		StartTimeout: cfg.Session.InitTimeout.D(),
	}
}

// Launcher returns a launcher with the fixed flags: no sandbox, no
// background throttling, no /dev/shm, profile and cache in the configured
// directories.
func (o Options) Launcher() *launcher.Launcher {
	l := launcher.New().
		Headless(o.Headless).
		NoSandbox(true).
		Leakless(true).
		UserDataDir(o.AuthDir).
		Set(flags.Flag("disable-background-timer-throttling")).
		Set(flags.Flag("disable-backgrounding-occluded-windows")).
		Set(flags.Flag("disable-renderer-backgrounding")).
		Set(flags.Flag("disable-dev-shm-usage")).
		Set(flags.Flag("disable-gpu"))
	if o.CacheDir != "" {
		l = l.Set(flags.Flag("disk-cache-dir"), o.CacheDir)
	}
	if o.BrowserBin != "" {
		l = l.Bin(o.BrowserBin)
	}
	return l
}

// Factory creates WhatsApp Web sessions.
type Factory struct {
	opts Options
}

// NewFactory returns a factory for opts.
func NewFactory(opts Options) *Factory {
	if opts.URL == "" {
		opts.URL = consts.DefaultWebURL
	}
	if opts.Logger == nil {
		opts.Logger = logger.Log
	}
	return &Factory{opts: opts}
}

// Create builds an uninitialized handle. Nothing is launched until
// Initialize.
func (f *Factory) Create() session.Session {
	return newSession(uuid.NewString(), f.opts)
}

var _ session.Factory = (*Factory)(nil)

// Personal.AI order the ending
