package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sitechat/sitechat/internal/chat"
	"github.com/sitechat/sitechat/internal/knowledge"
	"github.com/sitechat/sitechat/internal/notify"
	"github.com/sitechat/sitechat/internal/security"
	"github.com/sitechat/sitechat/internal/store"
	"github.com/sitechat/sitechat/internal/tracing"
)

type chatMessageRequest struct {
	SessionID   string                 `json:"session_id"`
	Message     string                 `json:"message"`
	PageContext *knowledge.PageContext `json:"page_context"`
}

type chatMessageResponse struct {
	Reply     string `json:"reply"`
	SessionID string `json:"session_id"`
}

// handleChatMessage runs the full intake path: flood damping already
// happened in middleware, then the admission gate, then the chat
// orchestrator. Rejections never reveal which heuristic fired.
func (s *Server) handleChatMessage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req chatMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	if s.maxMessageLength > 0 && len(req.Message) > s.maxMessageLength {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("message exceeds %d characters", s.maxMessageLength))
		return
	}

	start := time.Now()
	identity := gateIdentity(r, req.SessionID)
	verdict, err := s.gate.Admit(identity, req.Message, start)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	s.recordAdmission(req.SessionID, verdict, start)

	if !verdict.Allowed {
		switch verdict.Reason {
		case security.ReasonRateLimited, security.ReasonBanned:
			w.Header().Set("Retry-After", retryAfterSeconds(verdict.RetryAfter))
			writeError(w, http.StatusTooManyRequests, "too many requests, slow down")
		default: // attack_detected
			writeError(w, http.StatusBadRequest, "message rejected")
		}
		return
	}

	var page knowledge.PageContext
	if req.PageContext != nil {
		page = *req.PageContext
	}
	reply, err := s.orch.Handle(r.Context(), chat.Request{
		SessionID: req.SessionID,
		Message:   req.Message,
		Page:      page,
	})
	if err != nil {
		slog.Error("http.chat_failed", "session", req.SessionID, "error", err)
		s.recordChat(req.SessionID, reply, start, err)
		writeError(w, http.StatusBadGateway, "assistant is temporarily unavailable")
		return
	}
	s.recordChat(req.SessionID, reply, start, nil)

	writeJSON(w, http.StatusOK, chatMessageResponse{
		Reply:     reply.Text,
		SessionID: reply.SessionID,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	msgs, err := s.store.Messages(r.Context(), sessionID, limit)
	if err != nil {
		slog.Error("http.history_failed", "session", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}

	type historyEntry struct {
		Role      string    `json:"role"`
		Content   string    `json:"content"`
		Timestamp time.Time `json:"timestamp"`
	}
	out := make([]historyEntry, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, historyEntry{Role: m.Role, Content: m.Content, Timestamp: m.CreatedAt})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"messages":   out,
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	ids, err := s.store.Sessions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": ids})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	if err := s.store.DeleteSession(r.Context(), sessionID); err != nil && !errors.Is(err, store.ErrSessionNotFound) {
		writeError(w, http.StatusInternalServerError, "failed to delete session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "session deleted"})
}

func (s *Server) handleSecurityStatus(w http.ResponseWriter, r *http.Request) {
	status := s.gate.Status(time.Now())
	resp := map[string]any{
		"tracked_identities": status.TrackedIdentities,
		"active_bans":        status.ActiveBans,
	}
	if s.collector != nil {
		resp["recorded_requests"] = s.collector.Total()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleAlert lets the widget raise an operator alert directly, e.g.
// from its feedback form.
func (s *Server) handleAlert(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req struct {
		Type      string `json:"type"`
		Message   string `json:"message"`
		SessionID string `json:"session_id"`
		PageURL   string `json:"page_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	if s.alerts == nil {
		writeError(w, http.StatusBadRequest, "alerts are not configured")
		return
	}
	s.alerts.Publish(notify.Alert{
		Type:      notify.AlertType(req.Type),
		Message:   req.Message,
		SessionID: req.SessionID,
		PageURL:   req.PageURL,
		Time:      time.Now(),
	})
	writeJSON(w, http.StatusOK, map[string]string{"message": "alert queued"})
}

func (s *Server) handleTelegramTest(w http.ResponseWriter, r *http.Request) {
	username, err := s.notifier.TestConnection(r.Context())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "bot_username": username})
}

func (s *Server) handleTelegramSendTest(w http.ResponseWriter, r *http.Request) {
	if s.notifier == nil {
		writeError(w, http.StatusBadRequest, "telegram is not configured")
		return
	}
	err := s.notifier.Send(r.Context(), notify.Alert{
		Type:    notify.AlertInfo,
		Message: "Test message from SiteChat. If you see this, alerts are working.",
		Time:    time.Now(),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to send test message")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "test message sent"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "sitechat",
		"docs":    "/api/chat",
	})
}

func (s *Server) recordAdmission(sessionID string, verdict security.Verdict, start time.Time) {
	if s.collector == nil {
		return
	}
	s.collector.Record(tracing.Span{
		Kind:      tracing.KindAdmission,
		SessionID: sessionID,
		Outcome:   string(verdict.Reason),
		Start:     start,
		Duration:  time.Since(start),
	})
}

func (s *Server) recordChat(sessionID string, reply chat.Reply, start time.Time, err error) {
	if s.collector == nil {
		return
	}
	span := tracing.Span{
		Kind:      tracing.KindChat,
		SessionID: sessionID,
		Outcome:   "ok",
		Model:     reply.Model,
		Start:     start,
		Duration:  time.Since(start),
	}
	if err != nil {
		span.Outcome = "error"
		span.Error = err.Error()
	}
	s.collector.Record(span)
}
