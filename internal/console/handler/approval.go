package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xela07ax/pinch-bridge/internal/console/service"
	"github.com/xela07ax/pinch-bridge/internal/domain"
)

type ApprovalHandler struct {
	service *service.ApprovalService
}

func NewApprovalHandler(s *service.ApprovalService) *ApprovalHandler {
	return &ApprovalHandler{service: s}
}

func (h *ApprovalHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.GetApprovals(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(list)
}

// Decide — approve (исполнить через конвейер) либо reject (снять).
// Ответ при approve — результат исполнения как есть: оператор видит,
// чем закончилась одобренная операция.
func (h *ApprovalHandler) Decide(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req domain.ApprovalDecision
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	// ReviewerID из контекста (авторизованный админ)
	reviewer, _ := r.Context().Value("user_id").(string)
	if reviewer == "" {
		http.Error(w, "reviewer is required", http.StatusBadRequest)
		return
	}

	result, err := h.service.DecideApproval(r.Context(), id, req.Approved, reviewer, req.Comment)
	if errors.Is(err, domain.ErrApprovalNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	if result == nil { // reject
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(result.Status)
	json.NewEncoder(w).Encode(result.Body)
}
