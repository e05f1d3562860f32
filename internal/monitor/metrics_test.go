package monitor

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/wabot/wabot/pkg/consts"
)

func TestMetrics_StateIsOneHot(t *testing.T) {
	m := New()
	m.SetState(consts.StateReady)

	if v := testutil.ToFloat64(m.LifecycleState.WithLabelValues(string(consts.StateReady))); v != 1 {
		t.Errorf("Expected READY=1, got %v", v)
	}
	if v := testutil.ToFloat64(m.LifecycleState.WithLabelValues(string(consts.StateIdle))); v != 0 {
		t.Errorf("Expected IDLE=0, got %v", v)
	}
}

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.Attempt("failure")
	m.Attempt("failure")
	m.Attempt("success")
	m.Message("in")
	m.ReplyFailed()

	if v := testutil.ToFloat64(m.ConnectAttempts.WithLabelValues("failure")); v != 2 {
		t.Errorf("Expected 2 failures, got %v", v)
	}
	if v := testutil.ToFloat64(m.ReplyErrors); v != 1 {
		t.Errorf("Expected 1 reply error, got %v", v)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	// Should not panic
	m.SetState(consts.StateFailed)
	m.Attempt("success")
	m.Message("out")
	m.ReplyFailed()
	m.Ack(3)
	m.ObserveSend("text", time.Second)
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.Message("out")

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `wabot_messages_total{direction="out"} 1`) {
		t.Errorf("Exposition missing message counter:\n%s", rr.Body.String())
	}
}
