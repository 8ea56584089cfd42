package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/xela07ax/pinch-bridge/internal/console/service"
)

type GatewayHandler struct {
	service *service.GatewayService
}

func NewGatewayHandler(s *service.GatewayService) *GatewayHandler {
	return &GatewayHandler{service: s}
}

// Test — пробный вызов шлюза. Разомкнутая цепь дает 503 + Retry-After.
func (h *GatewayHandler) Test(w http.ResponseWriter, r *http.Request) {
	status := h.service.TestConnection(r.Context())

	code := http.StatusOK
	if !status.Reachable {
		code = http.StatusServiceUnavailable
		if status.RetryAfterSeconds > 0 {
			w.Header().Set("Retry-After", strconv.FormatInt(status.RetryAfterSeconds, 10))
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}
