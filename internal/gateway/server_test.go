package gateway_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wabot/wabot/internal/gateway"
	"github.com/wabot/wabot/internal/monitor"
	"github.com/wabot/wabot/internal/session"
	"github.com/wabot/wabot/pkg/consts"
	werrors "github.com/wabot/wabot/pkg/errors"
	"github.com/wabot/wabot/pkg/logger"
)

type call struct {
	chatID string
	text   string
	doc    *session.Document
}

type fakeBot struct {
	mu      sync.Mutex
	ready   bool
	sendErr error
	calls   []call
}

func (b *fakeBot) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ready
}

func (b *fakeBot) State() consts.LifecycleState {
	if b.Ready() {
		return consts.StateReady
	}
	return consts.StateConnecting
}

func (b *fakeBot) Attempts() int { return 2 }

func (b *fakeBot) SendText(_ context.Context, chatID, text string) (string, error) {
	return b.record(call{chatID: chatID, text: text})
}

func (b *fakeBot) SendDocument(_ context.Context, chatID string, doc session.Document) (string, error) {
	return b.record(call{chatID: chatID, text: doc.Caption, doc: &doc})
}

func (b *fakeBot) record(c call) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sendErr != nil {
		return "", b.sendErr
	}
	b.calls = append(b.calls, c)
	return "true_" + c.chatID + "_3EB0", nil
}

func (b *fakeBot) Calls() []call {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]call(nil), b.calls...)
}

func newHandler(bot gateway.Bot, opts gateway.Options) http.Handler {
	opts.Logger = logger.Nop()
	return gateway.NewHandler(bot, opts)
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	var resp map[string]any
	if rr.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp), rr.Body.String())
	}
	return rr, resp
}

func TestHealth(t *testing.T) {
	bot := &fakeBot{}
	h := newHandler(bot, gateway.Options{})

	rr, resp := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, "disconnected", resp["whatsapp"])
	assert.Equal(t, "CONNECTING", resp["state"])
	assert.Equal(t, float64(2), resp["attempts"])

	bot.ready = true
	_, resp = do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, "connected", resp["whatsapp"])
}

func TestSend(t *testing.T) {
	bot := &fakeBot{ready: true}
	h := newHandler(bot, gateway.Options{})

	rr, resp := do(t, h, http.MethodPost, "/send", `{"target":"+51 999-888-777","message":"hola"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, "51999888777@c.us", resp["to"])
	assert.Equal(t, "hola", resp["message"])
	assert.Equal(t, "true_51999888777@c.us_3EB0", resp["messageId"])
	assert.Equal(t, []call{{chatID: "51999888777@c.us", text: "hola"}}, bot.Calls())
}

func TestSend_Validation(t *testing.T) {
	bot := &fakeBot{ready: true}
	h := newHandler(bot, gateway.Options{})

	rr, resp := do(t, h, http.MethodPost, "/send", `{"target":"51999"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Missing required fields", resp["error"])

	rr, _ = do(t, h, http.MethodPost, "/send", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr, resp = do(t, h, http.MethodPost, "/send", `{"target":"abc","message":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Invalid target", resp["error"])
	assert.Empty(t, bot.Calls())
}

func TestSend_NotReady(t *testing.T) {
	bot := &fakeBot{}
	h := newHandler(bot, gateway.Options{})

	rr, resp := do(t, h, http.MethodPost, "/send", `{"target":"51999","message":"hola"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.NotEmpty(t, resp["error"])
	assert.Empty(t, bot.Calls(), "no delivery attempt while not ready")
}

func TestSend_Failures(t *testing.T) {
	bot := &fakeBot{ready: true, sendErr: errors.New("evaluation failed")}
	h := newHandler(bot, gateway.Options{})

	rr, resp := do(t, h, http.MethodPost, "/send", `{"target":"51999","message":"hola"}`)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "Failed to send message", resp["error"])
	assert.Equal(t, "evaluation failed", resp["details"])

	// the session dropped between the readiness check and the send
	bot.sendErr = werrors.New(werrors.ErrCodeNotReady, "SendText", "not ready", nil)
	rr, _ = do(t, h, http.MethodPost, "/send", `{"target":"51999","message":"hola"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestSendGroup(t *testing.T) {
	bot := &fakeBot{ready: true}
	h := newHandler(bot, gateway.Options{})

	rr, resp := do(t, h, http.MethodPost, "/send-group", `{"groupId":"120363025246125486@g.us","message":"hola grupo"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "120363025246125486@g.us", resp["to"])

	rr, _ = do(t, h, http.MethodPost, "/send-group", `{"message":"hola"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSendPDF(t *testing.T) {
	dir := t.TempDir()
	pdf := filepath.Join(dir, "document.pdf")
	require.NoError(t, os.WriteFile(pdf, []byte("%PDF-1.4"), 0o644))

	bot := &fakeBot{ready: true}
	h := newHandler(bot, gateway.Options{PDFPath: pdf})

	rr, resp := do(t, h, http.MethodPost, "/send-pdf", `{"target":"51999","caption":"catálogo"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "catálogo", resp["caption"])

	calls := bot.Calls()
	require.Len(t, calls, 1)
	require.NotNil(t, calls[0].doc)
	assert.Equal(t, "document.pdf", calls[0].doc.Filename)
	assert.Equal(t, pdf, calls[0].doc.Path)
}

func TestSendPDF_MissingFile(t *testing.T) {
	bot := &fakeBot{ready: true}
	h := newHandler(bot, gateway.Options{PDFPath: filepath.Join(t.TempDir(), "missing.pdf")})

	rr, resp := do(t, h, http.MethodPost, "/send-pdf", `{"target":"51999"}`)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "PDF file not found", resp["error"])
	assert.Empty(t, bot.Calls())
}

func TestNotFound_ListsEndpoints(t *testing.T) {
	h := newHandler(&fakeBot{}, gateway.Options{})

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/nope"},
		{http.MethodGet, "/send"},
	} {
		rr, resp := do(t, h, tc.method, tc.path, "")
		assert.Equal(t, http.StatusNotFound, rr.Code, tc.path)
		assert.Equal(t, "Not found", resp["error"])
		assert.Len(t, resp["endpoints"], len(gateway.Endpoints))
	}
}

func TestMetricsEndpoint(t *testing.T) {
	bot := &fakeBot{ready: true}
	h := newHandler(bot, gateway.Options{Metrics: monitor.New()})

	do(t, h, http.MethodPost, "/send", `{"target":"51999","message":"hola"}`)

	rr, _ := do(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `wabot_send_duration_seconds_count{kind="text"} 1`)

	h = newHandler(bot, gateway.Options{})
	rr, _ = do(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRateLimit_RejectsWhenRequestEnds(t *testing.T) {
	bot := &fakeBot{ready: true}
	h := newHandler(bot, gateway.Options{RatePerSecond: 0.001, Burst: 1})

	rr, _ := do(t, h, http.MethodPost, "/send", `{"target":"51999","message":"1"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodPost, "/send", strings.NewReader(`{"target":"51999","message":"2"}`)).WithContext(ctx)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Len(t, bot.Calls(), 1)
}

func TestNewServer(t *testing.T) {
	srv := gateway.NewServer(3000, http.NotFoundHandler())
	assert.Equal(t, ":3000", srv.Addr)
	assert.NotZero(t, srv.ReadHeaderTimeout)
}
