package consts

import "time"

// LifecycleState defines the connection lifecycle state of the WhatsApp session.
// Exactly one value is current at any instant.
type LifecycleState string

const (
	StateIdle         LifecycleState = "IDLE"
	StateConnecting   LifecycleState = "CONNECTING"    // Attempt in flight (janitor, create, initialize)
	StateReady        LifecycleState = "READY"         // Only state that permits outbound sends
	StateDisconnected LifecycleState = "DISCONNECTED"  // Waiting for the reconnect delay
	StateShuttingDown LifecycleState = "SHUTTING_DOWN" // Terminal: graceful exit
	StateFailed       LifecycleState = "FAILED"        // Terminal: retries exhausted
)

// AllStates lists every lifecycle state, in declaration order.
var AllStates = []LifecycleState{
	StateIdle,
	StateConnecting,
	StateReady,
	StateDisconnected,
	StateShuttingDown,
	StateFailed,
}

// Lifecycle events fed to the state machine.
const (
	EventStart      = "start"
	EventReady      = "ready"
	EventRetry      = "retry"
	EventExhaust    = "exhaust"
	EventDisconnect = "disconnect"
	EventReconnect  = "reconnect"
	EventShutdown   = "shutdown"
)

// Environment variables understood by the config loader.
const (
	EnvMaxRetries     = "MAX_RETRIES"
	EnvBaseRetryDelay = "BASE_RETRY_DELAY" // milliseconds
	EnvReconnectDelay = "RECONNECT_DELAY"  // milliseconds
	EnvSettleDelay    = "SETTLE_DELAY"     // milliseconds
	EnvInitTimeout    = "INIT_TIMEOUT"     // milliseconds
	EnvDestroyTimeout = "DESTROY_TIMEOUT"  // milliseconds
	EnvAuthDir        = "AUTH_DIR"
	EnvCacheDir       = "CACHE_DIR"
	EnvPort           = "PORT"
	EnvPDFPath        = "PDF_PATH"
	EnvBrowserBin     = "BROWSER_BIN"
	EnvHeadless       = "HEADLESS"
	EnvTimezone       = "TIMEZONE"
	EnvLogLevel       = "LOG_LEVEL"
	EnvLogFormat      = "LOG_FORMAT"
	EnvRedisURL       = "REDIS_URL"
	EnvRedisStream    = "REDIS_STREAM"
	EnvMetrics        = "METRICS_ENABLED"
	EnvSendRate       = "SEND_RATE"
	EnvSendBurst      = "SEND_BURST"

	// Socket activation, set by the service manager.
	EnvListenFDs     = "LISTEN_FDS"
	EnvListenPID     = "LISTEN_PID"
	EnvListenFDNames = "LISTEN_FDNAMES"
)

// Defaults.
const (
	DefaultMaxRetries     = 5
	DefaultBaseRetryDelay = 5 * time.Second
	DefaultReconnectDelay = 5 * time.Second
	DefaultSettleDelay    = 2 * time.Second
	DefaultInitTimeout    = 180 * time.Second
	DefaultDestroyTimeout = 5 * time.Second
	DefaultReplyTimeout   = 30 * time.Second
	DefaultAuthDir        = ".wwebjs_auth"
	DefaultCacheDir       = ".wwebjs_cache"
	DefaultPort           = 3000
	DefaultPDFPath        = "assets/document.pdf"
	DefaultRedisStream    = "wabot:traffic"
	DefaultSendRate       = 1.0
	DefaultSendBurst      = 5
	DefaultWebURL         = "https://web.whatsapp.com"
	InstanceLockName      = ".wabot.lock"
)

// Process exit codes.
const (
	ExitOK        = 0
	ExitFatal     = 1
	ExitUsage     = 2
	ExitExhausted = 3
)

// Chat identifier suffixes used by WhatsApp Web.
const (
	ContactSuffix = "@c.us"
	GroupSuffix   = "@g.us"
)

// Personal.AI order the ending
