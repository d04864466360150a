// Package api 提供面向聊天自动化侧的 HTTP 控制接口
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/life-stream-dev/life-stream-go-screen-relay/internal/database"
	"github.com/life-stream-dev/life-stream-go-screen-relay/internal/logger"
	"github.com/life-stream-dev/life-stream-go-screen-relay/internal/relay"
	"github.com/life-stream-dev/life-stream-go-screen-relay/internal/server"
)

type Handler struct {
	relay *relay.Relay
	stats func() server.Stats
	store database.SessionStore
}

func NewHandler(r *relay.Relay, stats func() server.Stats, store database.SessionStore) *Handler {
	return &Handler{relay: r, stats: stats, store: store}
}

// Mux 注册全部控制接口路由
func (h *Handler) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/sessions", h.handleSessions)
	mux.HandleFunc("GET /api/sessions/history", h.handleSessionHistory)
	mux.HandleFunc("GET /api/sessions/{id}/state", h.handleSessionState)
	mux.HandleFunc("POST /api/screenshot", h.handleScreenshot)
	mux.HandleFunc("GET /api/stats", h.handleStats)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WarnF("Fail to write response, details: %v", err)
	}
}

type errorBody struct {
	Error string `json:"error"`
}

type sessionsBody struct {
	Sessions []string `json:"sessions"`
	Count    int      `json:"count"`
}

func (h *Handler) handleSessions(w http.ResponseWriter, _ *http.Request) {
	sessions := h.relay.ListConnectedSessions()
	writeJSON(w, http.StatusOK, sessionsBody{Sessions: sessions, Count: len(sessions)})
}

// handleSessionHistory 返回持久化的会话记录，含已离线的会话
func (h *Handler) handleSessionHistory(w http.ResponseWriter, _ *http.Request) {
	records, err := h.store.List()
	if err != nil {
		logger.ErrorF("Fail to list session records, details: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "failed to list session records"})
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) handleSessionState(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	state, ok := h.relay.DesktopState(sessionID)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no desktop state for session " + sessionID})
		return
	}
	writeJSON(w, http.StatusOK, state)
}

type screenshotRequest struct {
	SessionID      string  `json:"session_id"`
	TimeoutSeconds float64 `json:"timeout_seconds"`
}

func (h *Handler) handleScreenshot(w http.ResponseWriter, r *http.Request) {
	// 空请求体等价于默认目标和默认超时
	var req screenshotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body: " + err.Error()})
		return
	}

	timeout := time.Duration(req.TimeoutSeconds * float64(time.Second))
	result := h.relay.RequestScreenshot(req.SessionID, timeout)

	status := http.StatusOK
	if !result.Success {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, result)
}

func (h *Handler) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.stats())
}
