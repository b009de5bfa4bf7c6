// Package httpapi exposes the widget's REST surface: the message
// endpoint guarded by the admission gate, history and session
// management, and operational probes.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sitechat/sitechat/internal/chat"
	"github.com/sitechat/sitechat/internal/config"
	"github.com/sitechat/sitechat/internal/notify"
	"github.com/sitechat/sitechat/internal/security"
	"github.com/sitechat/sitechat/internal/store"
	"github.com/sitechat/sitechat/internal/tracing"
)

// maxRequestBodySize caps the chat message payload.
const maxRequestBodySize = 1 << 20 // 1MB

// Server holds the wired application and its HTTP listener.
type Server struct {
	gate      *security.Gate
	orch      *chat.Orchestrator
	store     store.Store
	notifier  *notify.Notifier
	alerts    *notify.Dispatcher
	collector *tracing.Collector
	flood     *FloodLimiter

	maxMessageLength int
	corsOrigins      []string

	httpSrv *http.Server
}

// Options wires the server's collaborators.
type Options struct {
	Gate      *security.Gate
	Chat      *chat.Orchestrator
	Store     store.Store
	Notifier  *notify.Notifier
	Alerts    *notify.Dispatcher
	Collector *tracing.Collector
	Config    *config.Config
}

// New assembles the server. The listener is not started yet.
func New(opts Options) *Server {
	cfg := opts.Config
	s := &Server{
		gate:             opts.Gate,
		orch:             opts.Chat,
		store:            opts.Store,
		notifier:         opts.Notifier,
		alerts:           opts.Alerts,
		collector:        opts.Collector,
		flood:            NewFloodLimiter(cfg.Server.FloodPerSecond, cfg.Server.FloodBurst),
		maxMessageLength: cfg.Security.MaxMessageLength,
		corsOrigins:      cfg.Server.CORSOrigins,
	}
	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Routes builds the handler tree with middleware applied.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/chat/message", s.handleChatMessage)
	mux.HandleFunc("GET /api/chat/history/{session_id}", s.handleHistory)
	mux.HandleFunc("GET /api/chat/sessions", s.handleSessions)
	mux.HandleFunc("DELETE /api/chat/session/{session_id}", s.handleDeleteSession)
	mux.HandleFunc("GET /api/chat/security/status", s.handleSecurityStatus)
	mux.HandleFunc("POST /api/chat/alert", s.handleAlert)
	mux.HandleFunc("GET /api/chat/telegram/test", s.handleTelegramTest)
	mux.HandleFunc("POST /api/chat/telegram/send-test", s.handleTelegramSendTest)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleRoot)

	return s.cors(s.floodGuard(mux))
}

// ListenAndServe blocks until the listener stops.
func (s *Server) ListenAndServe() error {
	slog.Info("http.listening", "addr", s.httpSrv.Addr)
	return s.httpSrv.ListenAndServe()
}

// Shutdown stops the listener gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// cors answers preflight requests and stamps the allow-origin header.
// The widget is embedded on third-party pages, so "*" is the default.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", s.allowOrigin(origin))
			w.Header().Set("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Set("Access-Control-Max-Age", "86400")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) allowOrigin(origin string) string {
	if len(s.corsOrigins) == 0 {
		return "*"
	}
	for _, allowed := range s.corsOrigins {
		if allowed == "*" {
			return "*"
		}
		if strings.EqualFold(allowed, origin) {
			return origin
		}
	}
	// Not allowed: echo the first configured origin so the browser
	// blocks the response.
	return s.corsOrigins[0]
}

// floodGuard applies the coarse per-IP token bucket to every route.
func (s *Server) floodGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.flood.Allow(clientIP(r)) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("http.encode_failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// retryAfterSeconds rounds a duration up to whole seconds for the
// Retry-After header; a positive wait never reports zero.
func retryAfterSeconds(d time.Duration) string {
	secs := int64((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}
