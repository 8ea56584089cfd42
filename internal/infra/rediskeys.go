package infra

import "fmt"

const (
	// RedisNamespace — базовый префикс для изоляции данных моста в Redis
	RedisNamespace = "pinch"
)

// Ключи разделяемого состояния (счетчики и предохранитель)
const (
	RedisKeyCircuitFailures = RedisNamespace + ":circuit:failures"
	RedisKeyCircuitOpenTill = RedisNamespace + ":circuit:open_until"
	RedisKeyApprovalQueue   = RedisNamespace + ":approvals:queue"
	RedisKeyJobQueue        = RedisNamespace + ":jobs:scheduled"
)

// RateKey — ключ fixed-window счетчика для субъекта (event name, user, IP-хэш)
func RateKey(subject string) string {
	return fmt.Sprintf("%s:rate:%s", RedisNamespace, subject)
}

// BudgetKey — дневной счетчик записывающих операций (UTC-сутки)
func BudgetKey(day string) string {
	return fmt.Sprintf("%s:budget:%s", RedisNamespace, day)
}

// BudgetAlertKey — одноразовый флаг «алерт за сегодня уже отправлен»
func BudgetAlertKey(day string) string {
	return fmt.Sprintf("%s:budget:%s:alerted", RedisNamespace, day)
}
