package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/xela07ax/pinch-bridge/internal/console/service"
	"github.com/xela07ax/pinch-bridge/internal/domain"
)

// maxLoginBody — логин-форма крошечная; все сверх лимита — мусор.
const maxLoginBody = 4 << 10

type AuthHandler struct {
	service *service.AuthService
}

func NewAuthHandler(s *service.AuthService) *AuthHandler {
	return &AuthHandler{service: s}
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxLoginBody)).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	resp, err := h.service.GenerateToken(r.Context(), strings.TrimSpace(req.Username), req.Password)
	if err != nil {
		// не уточняем, что именно неверно (логин или пароль) для защиты от перебора
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
