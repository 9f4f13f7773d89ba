package user

import (
	"encoding/json"
	"errors"
	"net/http"

	"llm-chat/internal/httpx"
	"llm-chat/internal/logger"
)

type Handler struct {
	Service *Service
	log     *logger.Logger
}

func NewHandler(s *Service, log *logger.Logger) *Handler {
	return &Handler{Service: s, log: log.With("component", "user")}
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req Credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, "invalid_request", err)
		return
	}

	res, err := h.Service.Register(r.Context(), &req)
	switch {
	case errors.Is(err, ErrInvalidInput):
		httpx.RespondError(w, http.StatusBadRequest, "invalid_request", err)
		return
	case errors.Is(err, ErrUsernameTaken):
		httpx.RespondError(w, http.StatusConflict, "username_taken", err)
		return
	case err != nil:
		h.log.Error("register failed", "error", err)
		httpx.RespondErr(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, res)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req Credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, "invalid_request", err)
		return
	}

	res, err := h.Service.Login(r.Context(), &req)
	if err != nil {
		if !errors.Is(err, ErrInvalidCredentials) {
			h.log.Error("login failed", "error", err)
		}
		httpx.RespondError(w, http.StatusUnauthorized, "invalid_credentials", ErrInvalidCredentials)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, res)
}
