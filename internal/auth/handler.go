package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

type TokenRequest struct {
	ClientName   string `json:"client_name"`
	ClientSecret string `json:"client_secret"`
}

type Handler struct {
	svc Service
	log *slog.Logger
}

func NewHandler(svc Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log}
}

// Token exchanges client credentials for a bearer token.
func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.ClientName == "" || req.ClientSecret == "" {
		writeError(w, http.StatusBadRequest, "missing client_name or client_secret")
		return
	}
	tok, err := h.svc.IssueToken(r.Context(), req.ClientName, req.ClientSecret)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			h.log.Warn("token request rejected", "client", req.ClientName)
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		h.log.Error("issue token failed", "client", req.ClientName, "error", err)
		writeError(w, http.StatusInternalServerError, "token issue failed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(tok)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
