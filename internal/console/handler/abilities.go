package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xela07ax/pinch-bridge/internal/console/service"
)

type AbilityHandler struct {
	service *service.AbilityService
}

func NewAbilityHandler(s *service.AbilityService) *AbilityHandler {
	return &AbilityHandler{service: s}
}

func (h *AbilityHandler) List(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.service.List(r.Context()))
}

// Disable / Enable — рантайм-выключатель способности (аналог kill-switch):
// мгновенно, без рестарта и без изменения конфига.
func (h *AbilityHandler) Disable(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, false)
}

func (h *AbilityHandler) Enable(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, true)
}

func (h *AbilityHandler) setEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	name := chi.URLParam(r, "name")
	if err := h.service.SetEnabled(r.Context(), name, enabled); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
