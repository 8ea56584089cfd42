package audit

import "time"

// Известные типы событий аудита. Список не закрытый — компоненты могут
// писать и ad hoc типы, но основные перечислены для grep-абельности.
const (
	EventWebhookSent        = "webhook_sent"
	EventWebhookFailed      = "webhook_failed"
	EventWebhookRateLimited = "webhook_rate_limited"
	EventWebhookRejected    = "webhook_url_rejected"
	EventCircuitOpened      = "circuit_opened"
	EventAbilityQueued      = "ability_queued"
	EventAbilityExecuted    = "ability_executed"
	EventAbilityFailed      = "ability_failed"
	EventAbilityApproved    = "ability_approved"
	EventAbilityRejected    = "ability_rejected"
	EventBudgetAlert        = "budget_alert"
	EventGovernanceRun      = "governance_triggered"
)

// Entry — неизменяемая запись журнала. Никто не читает журнал,
// чтобы принимать решения: это чистый след (pure record).
type Entry struct {
	ID        string                 `json:"id"`         // UUID записи
	EventType string                 `json:"event_type"` // короткий enum-подобный тип
	Source    string                 `json:"source"`     // подсистема-источник (dispatcher, hooks, breaker...)
	Message   string                 `json:"message"`    // человекочитаемый текст
	Context   map[string]interface{} `json:"context"`    // произвольный структурированный контекст
	CreatedAt time.Time              `json:"created_at"`
}

// RetentionDays — срок хранения записей; старше — выметаются плановой чисткой.
const RetentionDays = 90
