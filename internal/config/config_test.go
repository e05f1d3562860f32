package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefault_MatchesDocumentedValues(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 5, cfg.Retry.MaxRetries)
	assert.Equal(t, 5*time.Second, cfg.Retry.BaseDelay.D())
	assert.Equal(t, 180*time.Second, cfg.Session.InitTimeout.D())
	assert.Equal(t, 5*time.Second, cfg.Session.DestroyTimeout.D())
	assert.Equal(t, 3000, cfg.Server.Port)
	require.NoError(t, cfg.Validate())
}

func TestApplyEnv_Overrides(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"MAX_RETRIES":      "7",
		"BASE_RETRY_DELAY": "250",
		"AUTH_DIR":         "/data/auth",
		"CACHE_DIR":        "/data/cache",
		"PORT":             "8080",
		"HEADLESS":         "false",
		"SEND_RATE":        "0.5",
	}))
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Retry.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.BaseDelay.D())
	assert.Equal(t, "/data/auth", cfg.Session.AuthDir)
	assert.Equal(t, "/data/cache", cfg.Session.CacheDir)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.False(t, cfg.Session.Headless)
	assert.Equal(t, 0.5, cfg.Server.SendRatePerSecond)
}

func TestApplyEnv_RejectsGarbage(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{"MAX_RETRIES": "many"}))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"zero retries":   func(c *Config) { c.Retry.MaxRetries = 0 },
		"negative delay": func(c *Config) { c.Retry.BaseDelay = -1 },
		"bad port":       func(c *Config) { c.Server.Port = 70000 },
		"bad timezone":   func(c *Config) { c.Session.Timezone = "Mars/Olympus" },
		"no auth dir":    func(c *Config) { c.Session.AuthDir = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wabot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
session:
  auth_dir: /srv/auth
  timezone: America/Lima
retry:
  max_retries: 3
  base_delay: 250ms
server:
  port: 4000
`), 0o644))

	cfg, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, "/srv/auth", cfg.Session.AuthDir)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.BaseDelay.D())
	assert.Equal(t, 4000, cfg.Server.Port)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "America/Lima", loc.String())
}

func TestLoad_TOMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wabot.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[retry]
max_retries = 2
base_delay = 1500
reconnect_delay = "3s"
`), 0o644))

	cfg, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Retry.MaxRetries)
	assert.Equal(t, 1500*time.Millisecond, cfg.Retry.BaseDelay.D())
	assert.Equal(t, 3*time.Second, cfg.Retry.ReconnectDelay.D())
}

func TestLoad_EnvFileAndEnvironment(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("REDIS_STREAM=from-dotenv\n"), 0o644))
	t.Setenv("PORT", "3100")
	t.Setenv("REDIS_STREAM", "")
	os.Unsetenv("REDIS_STREAM")

	cfg, err := Load("", envFile)
	require.NoError(t, err)
	assert.Equal(t, 3100, cfg.Server.Port)
	assert.Equal(t, "from-dotenv", cfg.Journal.RedisStream)
}

func TestLoad_MissingEnvFileIsFine(t *testing.T) {
	_, err := Load("", filepath.Join(t.TempDir(), "absent.env"))
	assert.NoError(t, err)
}

func TestLoad_MissingConfigFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), "")
	assert.Error(t, err)
}
