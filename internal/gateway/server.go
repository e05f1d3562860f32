// Package gateway is the HTTP API: health, outbound sends and metrics.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/wabot/wabot/internal/monitor"
	"github.com/wabot/wabot/internal/session"
	"github.com/wabot/wabot/pkg/consts"
	werrors "github.com/wabot/wabot/pkg/errors"
	"github.com/wabot/wabot/pkg/logger"
)

const maxBodyBytes = 1 << 20

// Bot is what the gateway needs from the lifecycle manager.
type Bot interface {
	Ready() bool
	State() consts.LifecycleState
	Attempts() int
	SendText(ctx context.Context, chatID, text string) (string, error)
	SendDocument(ctx context.Context, chatID string, doc session.Document) (string, error)
}

// Options configures the handler.
type Options struct {
	// PDFPath is the file attached by /send-pdf.
	PDFPath string
	// RatePerSecond and Burst bound outbound sends. A non-positive rate
	// disables limiting.
	RatePerSecond float64
	Burst         int
	// Metrics, when set, is exposed on /metrics and records send latency.
	Metrics *monitor.Metrics
	Logger  logger.Logger
}

// Endpoints lists the routes, as reported by the 404 handler.
var Endpoints = []string{
	"GET /health",
	"POST /send",
	"POST /send-group",
	"POST /send-pdf",
}

type server struct {
	bot     Bot
	opts    Options
	limiter *rate.Limiter
	log     logger.Logger
}

// NewHandler builds the API router around bot.
func NewHandler(bot Bot, opts Options) http.Handler {
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	burst := opts.Burst
	if burst < 1 {
		burst = 1
	}
	if opts.Logger == nil {
		opts.Logger = logger.Log
	}
	s := &server{
		bot:     bot,
		opts:    opts,
		limiter: rate.NewLimiter(limit, burst),
		log:     opts.Logger.With("component", "gateway"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.accessLog)
	r.Use(limitBody)

	r.Get("/health", s.health)
	r.Post("/send", s.send)
	r.Post("/send-group", s.sendGroup)
	r.Post("/send-pdf", s.sendPDF)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	r.NotFound(notFound)
	r.MethodNotAllowed(notFound)
	return r
}

// NewServer wraps handler in an http.Server listening on port.
func NewServer(port int, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}
}

type sendRequest struct {
	Target  string `json:"target"`
	GroupID string `json:"groupId"`
	Message string `json:"message"`
	Caption string `json:"caption"`
}

type sendResponse struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId"`
	To        string `json:"to"`
	Message   string `json:"message,omitempty"`
	Caption   string `json:"caption,omitempty"`
}

type errorResponse struct {
	Error     string   `json:"error"`
	Details   string   `json:"details,omitempty"`
	Endpoints []string `json:"endpoints,omitempty"`
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	status := "disconnected"
	if s.bot.Ready() {
		status = "connected"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"whatsapp": status,
		"state":    s.bot.State(),
		"attempts": s.bot.Attempts(),
	})
}

func (s *server) send(w http.ResponseWriter, r *http.Request) {
	req, ok := decode(w, r)
	if !ok {
		return
	}
	if req.Target == "" || req.Message == "" {
		writeError(w, http.StatusBadRequest, "Missing required fields", "target and message are required")
		return
	}
	s.deliverText(w, r, req, ResolveTarget)
}

func (s *server) sendGroup(w http.ResponseWriter, r *http.Request) {
	req, ok := decode(w, r)
	if !ok {
		return
	}
	if req.GroupID == "" || req.Message == "" {
		writeError(w, http.StatusBadRequest, "Missing required fields", "groupId and message are required")
		return
	}
	req.Target = req.GroupID
	s.deliverText(w, r, req, FormatGroupID)
}

func (s *server) deliverText(w http.ResponseWriter, r *http.Request, req sendRequest, resolve func(string) (string, error)) {
	if !s.bot.Ready() {
		writeNotReady(w)
		return
	}
	chatID, err := resolve(req.Target)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid target", err.Error())
		return
	}
	if !s.wait(w, r) {
		return
	}

	start := time.Now()
	id, err := s.bot.SendText(r.Context(), chatID, req.Message)
	s.opts.Metrics.ObserveSend("text", time.Since(start))
	if err != nil {
		s.sendFailed(w, chatID, err)
		return
	}
	writeJSON(w, http.StatusOK, sendResponse{Success: true, MessageID: id, To: chatID, Message: req.Message})
}

func (s *server) sendPDF(w http.ResponseWriter, r *http.Request) {
	req, ok := decode(w, r)
	if !ok {
		return
	}
	if req.Target == "" {
		writeError(w, http.StatusBadRequest, "Missing required fields", "target is required")
		return
	}
	if !s.bot.Ready() {
		writeNotReady(w)
		return
	}
	chatID, err := ResolveTarget(req.Target)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid target", err.Error())
		return
	}
	if _, err := os.Stat(s.opts.PDFPath); err != nil {
		s.log.Error("PDF not available", "path", s.opts.PDFPath, "error", err)
		writeError(w, http.StatusInternalServerError, "PDF file not found", s.opts.PDFPath)
		return
	}
	if !s.wait(w, r) {
		return
	}

	doc := session.Document{
		Path:     s.opts.PDFPath,
		Filename: filepath.Base(s.opts.PDFPath),
		Caption:  req.Caption,
	}
	start := time.Now()
	id, err := s.bot.SendDocument(r.Context(), chatID, doc)
	s.opts.Metrics.ObserveSend("document", time.Since(start))
	if err != nil {
		s.sendFailed(w, chatID, err)
		return
	}
	writeJSON(w, http.StatusOK, sendResponse{Success: true, MessageID: id, To: chatID, Caption: req.Caption})
}

// wait blocks on the send limiter and answers 429 if the request ends first.
func (s *server) wait(w http.ResponseWriter, r *http.Request) bool {
	if err := s.limiter.Wait(r.Context()); err != nil {
		writeError(w, http.StatusTooManyRequests, "Too many requests", err.Error())
		return false
	}
	return true
}

func (s *server) sendFailed(w http.ResponseWriter, chatID string, err error) {
	if errors.Is(err, werrors.ErrNotReady) {
		writeNotReady(w)
		return
	}
	s.log.Error("Send failed", "to", chatID, "error", err)
	writeError(w, http.StatusInternalServerError, "Failed to send message", err.Error())
}

func (s *server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("Request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		next.ServeHTTP(w, r)
	})
}

func decode(w http.ResponseWriter, r *http.Request) (sendRequest, bool) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return req, false
	}
	return req, true
}

func notFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, errorResponse{Error: "Not found", Endpoints: Endpoints})
}

func writeNotReady(w http.ResponseWriter) {
	writeError(w, http.StatusServiceUnavailable, "WhatsApp client not ready", "the session is connecting or reconnecting")
}

func writeError(w http.ResponseWriter, code int, msg, details string) {
	writeJSON(w, code, errorResponse{Error: msg, Details: details})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.Warn("Failed to encode response", "error", err)
	}
}

// Personal.AI order the ending
