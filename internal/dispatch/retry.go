package dispatch

import "time"

// MaxRetries — предельное число ретраев после первой попытки.
// Итого не больше 5 отправок: 1 начальная + 4 по расписанию.
const MaxRetries = 4

// backoffTable: номер завершившейся неудачей попытки → пауза до следующей.
var backoffTable = [MaxRetries]time.Duration{
	5 * time.Minute,
	30 * time.Minute,
	2 * time.Hour,
	12 * time.Hour,
}

// retryDelay возвращает паузу перед попыткой attempt+1.
// ok == false — попытки исчерпаны, отказ терминальный.
func retryDelay(attempt int) (time.Duration, bool) {
	if attempt < 0 || attempt >= MaxRetries {
		return 0, false
	}
	return backoffTable[attempt], true
}

// RetryArgs — аргументы durable-задачи ретрая. Идентичность для дедупа —
// кортеж (event, message, data, attempt): конкурирующие отказы одной и той
// же отправки не плодят дублей в очереди.
type RetryArgs struct {
	Event   string                 `json:"event"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Attempt int                    `json:"attempt"`
}
