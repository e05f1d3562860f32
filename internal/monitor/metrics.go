package monitor

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wabot/wabot/pkg/consts"
)

// Metrics holds the bot's Prometheus collectors on a private registry so
// tests can build as many instances as they like.
type Metrics struct {
	Registry *prometheus.Registry

	// ConnectAttempts counts connection attempts, partitioned by outcome.
	ConnectAttempts *prometheus.CounterVec
	// LifecycleState is a one-hot gauge over the lifecycle states.
	LifecycleState *prometheus.GaugeVec
	// Messages counts traffic, partitioned by direction (in/out).
	Messages *prometheus.CounterVec
	// ReplyErrors counts failed auto-replies.
	ReplyErrors prometheus.Counter
	// Acks counts delivery acknowledgements, partitioned by level.
	Acks *prometheus.CounterVec
	// SendDuration tracks API-initiated send latency in seconds.
	SendDuration *prometheus.HistogramVec
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		ConnectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wabot_connect_attempts_total",
			Help: "Total number of session connection attempts",
		}, []string{"outcome"}),
		LifecycleState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "wabot_lifecycle_state",
			Help: "Current lifecycle state (1 for the active state)",
		}, []string{"state"}),
		Messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wabot_messages_total",
			Help: "Messages seen by the bot",
		}, []string{"direction"}),
		ReplyErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wabot_reply_errors_total",
			Help: "Auto-replies that failed to send",
		}),
		Acks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wabot_acks_total",
			Help: "Delivery acknowledgements received",
		}, []string{"level"}),
		SendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wabot_send_duration_seconds",
			Help:    "Time taken by API-initiated sends",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
	}

	m.Registry.MustRegister(
		m.ConnectAttempts,
		m.LifecycleState,
		m.Messages,
		m.ReplyErrors,
		m.Acks,
		m.SendDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m.SetState(consts.StateIdle)
	return m
}

// SetState marks s as the only active lifecycle state.
func (m *Metrics) SetState(s consts.LifecycleState) {
	if m == nil {
		return
	}
	for _, st := range consts.AllStates {
		v := 0.0
		if st == s {
			v = 1
		}
		m.LifecycleState.WithLabelValues(string(st)).Set(v)
	}
}

// Attempt records the outcome of a connection attempt.
func (m *Metrics) Attempt(outcome string) {
	if m == nil {
		return
	}
	m.ConnectAttempts.WithLabelValues(outcome).Inc()
}

// Message counts one message in the given direction.
func (m *Metrics) Message(direction string) {
	if m == nil {
		return
	}
	m.Messages.WithLabelValues(direction).Inc()
}

// ReplyFailed counts a failed auto-reply.
func (m *Metrics) ReplyFailed() {
	if m == nil {
		return
	}
	m.ReplyErrors.Inc()
}

// Ack counts a delivery acknowledgement at the given level.
func (m *Metrics) Ack(level int) {
	if m == nil {
		return
	}
	m.Acks.WithLabelValues(strconv.Itoa(level)).Inc()
}

// ObserveSend records the latency of an API-initiated send.
func (m *Metrics) ObserveSend(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.SendDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// Personal.AI order the ending
