package domain

// UnifiedDashboard — сводка состояния моста для главного экрана консоли.
type UnifiedDashboard struct {
	Webhooks  WebhookStats  `json:"webhooks"`  // Исходящий трафик
	Budget    BudgetStats   `json:"budget"`    // Дневной бюджет записи
	Gateway   GatewayStats  `json:"gateway"`   // Соединение со шлюзом
	Approvals ApprovalStats `json:"approvals"` // HITL-очередь
}

type WebhookStats struct {
	SentToday   int64 `json:"sent_today"`
	FailedToday int64 `json:"failed_today"`
	PendingJobs int   `json:"pending_retries"`
}

type BudgetStats struct {
	Used int64 `json:"used"`
	Cap  int   `json:"cap"` // 0 — без лимита
}

type GatewayStats struct {
	Configured   bool   `json:"configured"`
	CircuitState string `json:"circuit_state"` // CLOSED / OPEN / HALF_OPEN
	RetryAfterMs int64  `json:"retry_after_ms,omitempty"`
}

type ApprovalStats struct {
	Pending int `json:"pending"`
}
