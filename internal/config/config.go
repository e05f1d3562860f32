// Package config loads wabot settings from an optional YAML or TOML file,
// an optional .env file, and the process environment, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/wabot/wabot/pkg/consts"
	werrors "github.com/wabot/wabot/pkg/errors"
)

// Config is the root configuration.
type Config struct {
	Session       SessionConfig       `yaml:"session" toml:"session"`
	Retry         RetryConfig         `yaml:"retry" toml:"retry"`
	Server        ServerConfig        `yaml:"server" toml:"server"`
	Journal       JournalConfig       `yaml:"journal" toml:"journal"`
	Observability ObservabilityConfig `yaml:"observability" toml:"observability"`
}

type SessionConfig struct {
	AuthDir        string   `yaml:"auth_dir" toml:"auth_dir"`
	CacheDir       string   `yaml:"cache_dir" toml:"cache_dir"`
	BrowserBin     string   `yaml:"browser_bin" toml:"browser_bin"`
	Headless       bool     `yaml:"headless" toml:"headless"`
	URL            string   `yaml:"url" toml:"url"`
	InitTimeout    Duration `yaml:"init_timeout" toml:"init_timeout"`
	DestroyTimeout Duration `yaml:"destroy_timeout" toml:"destroy_timeout"`
	ReplyTimeout   Duration `yaml:"reply_timeout" toml:"reply_timeout"`
	Timezone       string   `yaml:"timezone" toml:"timezone"`
}

type RetryConfig struct {
	MaxRetries     int      `yaml:"max_retries" toml:"max_retries"`
	BaseDelay      Duration `yaml:"base_delay" toml:"base_delay"`
	ReconnectDelay Duration `yaml:"reconnect_delay" toml:"reconnect_delay"`
	SettleDelay    Duration `yaml:"settle_delay" toml:"settle_delay"`
}

type ServerConfig struct {
	Port              int     `yaml:"port" toml:"port"`
	PDFPath           string  `yaml:"pdf_path" toml:"pdf_path"`
	SendRatePerSecond float64 `yaml:"send_rate" toml:"send_rate"`
	SendBurst         int     `yaml:"send_burst" toml:"send_burst"`
}

type JournalConfig struct {
	RedisURL    string `yaml:"redis_url" toml:"redis_url"`
	RedisStream string `yaml:"redis_stream" toml:"redis_stream"`
	MaxLen      int64  `yaml:"max_len" toml:"max_len"`
}

type ObservabilityConfig struct {
	LogLevel       string `yaml:"log_level" toml:"log_level"`
	LogFormat      string `yaml:"log_format" toml:"log_format"`
	MetricsEnabled bool   `yaml:"metrics_enabled" toml:"metrics_enabled"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Session: SessionConfig{
			AuthDir:        consts.DefaultAuthDir,
			CacheDir:       consts.DefaultCacheDir,
			Headless:       true,
			URL:            consts.DefaultWebURL,
			InitTimeout:    Duration(consts.DefaultInitTimeout),
			DestroyTimeout: Duration(consts.DefaultDestroyTimeout),
			ReplyTimeout:   Duration(consts.DefaultReplyTimeout),
		},
		Retry: RetryConfig{
			MaxRetries:     consts.DefaultMaxRetries,
			BaseDelay:      Duration(consts.DefaultBaseRetryDelay),
			ReconnectDelay: Duration(consts.DefaultReconnectDelay),
			SettleDelay:    Duration(consts.DefaultSettleDelay),
		},
		Server: ServerConfig{
			Port:              consts.DefaultPort,
			PDFPath:           consts.DefaultPDFPath,
			SendRatePerSecond: consts.DefaultSendRate,
			SendBurst:         consts.DefaultSendBurst,
		},
		Journal: JournalConfig{
			RedisStream: consts.DefaultRedisStream,
			MaxLen:      10000,
		},
		Observability: ObservabilityConfig{
			LogLevel:       "info",
			LogFormat:      "auto",
			MetricsEnabled: true,
		},
	}
}

// Load builds a Config from defaults, then path (if set), then envFile (if
// it exists), then the environment.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, werrors.New(werrors.ErrCodeConfigInvalid, "LoadConfig", "reading "+path, err)
		}
	}

	if envFile != "" {
		// godotenv never overrides variables already set in the environment.
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, werrors.New(werrors.ErrCodeConfigInvalid, "LoadConfig", "reading "+envFile, err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return toml.Unmarshal(data, c)
	default:
		return yaml.Unmarshal(data, c)
	}
}

// ApplyEnv overrides fields from environment variables found by lookup.
// Millisecond variables take plain integers, as documented for the bot.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	ms := func(key string, dst *Duration) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = Duration(time.Duration(n) * time.Millisecond)
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	num(consts.EnvMaxRetries, &c.Retry.MaxRetries)
	ms(consts.EnvBaseRetryDelay, &c.Retry.BaseDelay)
	ms(consts.EnvReconnectDelay, &c.Retry.ReconnectDelay)
	ms(consts.EnvSettleDelay, &c.Retry.SettleDelay)
	ms(consts.EnvInitTimeout, &c.Session.InitTimeout)
	ms(consts.EnvDestroyTimeout, &c.Session.DestroyTimeout)
	str(consts.EnvAuthDir, &c.Session.AuthDir)
	str(consts.EnvCacheDir, &c.Session.CacheDir)
	str(consts.EnvBrowserBin, &c.Session.BrowserBin)
	flag(consts.EnvHeadless, &c.Session.Headless)
	str(consts.EnvTimezone, &c.Session.Timezone)
	num(consts.EnvPort, &c.Server.Port)
	str(consts.EnvPDFPath, &c.Server.PDFPath)
	num(consts.EnvSendBurst, &c.Server.SendBurst)
	if v, ok := lookup(consts.EnvSendRate); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", consts.EnvSendRate, err))
		} else {
			c.Server.SendRatePerSecond = f
		}
	}
	str(consts.EnvRedisURL, &c.Journal.RedisURL)
	str(consts.EnvRedisStream, &c.Journal.RedisStream)
	str(consts.EnvLogLevel, &c.Observability.LogLevel)
	str(consts.EnvLogFormat, &c.Observability.LogFormat)
	flag(consts.EnvMetrics, &c.Observability.MetricsEnabled)

	if len(errs) > 0 {
		return werrors.New(werrors.ErrCodeConfigInvalid, "ApplyEnv", "malformed environment", errors.Join(errs...))
	}
	return nil
}

// Validate rejects settings the lifecycle cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Retry.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("max_retries must be >= 1, got %d", c.Retry.MaxRetries))
	}
	for name, d := range map[string]Duration{
		"base_delay":      c.Retry.BaseDelay,
		"reconnect_delay": c.Retry.ReconnectDelay,
		"settle_delay":    c.Retry.SettleDelay,
		"init_timeout":    c.Session.InitTimeout,
		"destroy_timeout": c.Session.DestroyTimeout,
		"reply_timeout":   c.Session.ReplyTimeout,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("port out of range: %d", c.Server.Port))
	}
	if c.Server.SendRatePerSecond <= 0 || c.Server.SendBurst < 1 {
		errs = append(errs, errors.New("send_rate must be > 0 and send_burst >= 1"))
	}
	if c.Session.AuthDir == "" {
		errs = append(errs, errors.New("auth_dir is required"))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return werrors.New(werrors.ErrCodeConfigInvalid, "Validate", "invalid configuration", errors.Join(errs...))
	}
	return nil
}

// Location returns the zone used for message timestamps in logs.
func (c *Config) Location() (*time.Location, error) {
	if c.Session.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Session.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Session.Timezone, err)
	}
	return loc, nil
}

// Personal.AI order the ending
