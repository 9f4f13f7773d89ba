package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"llm-chat/internal/httpx"
	"llm-chat/internal/logger"
	myMiddleware "llm-chat/internal/middleware"
)

var errUnauthorized = errors.New("unauthorized")

type Handler struct {
	service    *Service
	hub        *Hub
	log        *logger.Logger
	historyTTL time.Duration
	upgrader   *websocket.Upgrader
}

func NewHandler(service *Service, hub *Hub, historyTTL time.Duration, log *logger.Logger) *Handler {
	return &Handler{
		service:    service,
		hub:        hub,
		log:        log.With("component", "chat-http"),
		historyTTL: historyTTL,
		upgrader:   newUpgrader(nil),
	}
}

// AllowOrigins sets which browser origins may open the websocket.
func (h *Handler) AllowOrigins(origins []string) *Handler {
	h.upgrader = newUpgrader(origins)
	return h
}

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, ok := myMiddleware.UserID(r.Context())
	if !ok {
		httpx.RespondError(w, http.StatusUnauthorized, "unauthorized", errUnauthorized)
	}
	return id, ok
}

// GET /api/chat/history
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	res, err := h.service.History(r.Context(), userID, r.Header.Get("If-None-Match"))
	if err != nil {
		h.log.Error("history failed", "user_id", userID, "error", err)
		httpx.RespondErr(w, err)
		return
	}

	w.Header().Set("ETag", res.ETag)
	w.Header().Set("Cache-Control", "private, max-age="+strconv.Itoa(int(h.historyTTL.Seconds()))+", must-revalidate")
	w.Header().Set("Vary", "Authorization")
	if res.NotModified {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res.Payload)
}

// POST /api/chat/completions
func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req CompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, "invalid_request", err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		httpx.RespondError(w, http.StatusInternalServerError, "streaming_unsupported", errors.New("streaming unsupported"))
		return
	}

	relay, err := h.service.Prepare(r.Context(), userID, &req)
	if err != nil {
		var apiErr *httpx.Error
		if !errors.As(err, &apiErr) {
			h.log.Error("completion rejected", "user_id", userID, "error", err)
		}
		httpx.RespondErr(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	_ = h.service.Stream(r.Context(), relay, func(ev StreamEvent) error {
		return writeEvent(w, flusher, ev)
	})
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, ev StreamEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// DELETE /api/chat/history
func (h *Handler) DeleteAll(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteAll(r.Context(), userID); err != nil {
		h.log.Error("delete all failed", "user_id", userID, "error", err)
		httpx.RespondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /ws
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		Hub:    h.hub,
		Conn:   conn,
		Send:   make(chan []byte, 16),
		UserID: userID,
	}
	if !h.hub.register(client) {
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}
