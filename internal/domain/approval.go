package domain

import (
	"errors"
	"time"
)

var (
	ErrApprovalNotFound = errors.New("approval request not found")
)

// ApprovalItem — запрос на ручное подтверждение способности (HITL).
// Живет в единой durable-очереди; повторная постановка эквивалентного
// запроса до решения не плодит дублей.
type ApprovalItem struct {
	ID      string                 `json:"id"` // UUID
	Ability string                 `json:"ability"`
	Params  map[string]interface{} `json:"params,omitempty"`
	TraceID string                 `json:"trace_id,omitempty"` // Сквозной идентификатор от шлюза

	QueuedBy string    `json:"queued_by"` // Кто поставил: agent / mcp / console
	QueuedAt time.Time `json:"queued_at"`
}

// ApprovalDecision — решение оператора из консоли.
type ApprovalDecision struct {
	Approved bool   `json:"approved"`
	Comment  string `json:"comment"`
}
