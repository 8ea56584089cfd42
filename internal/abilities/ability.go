// Package abilities — реестр операций, которые агент может исполнять на
// сайте: создание постов, модерация комментариев, чтение состояния. Именно
// здесь проходит граница полномочий: неизвестная или выключенная способность
// не исполняется никогда, write-способности считаются в дневной бюджет,
// а перечисленные в конфиге уходят на ручное подтверждение.
package abilities

import (
	"context"
	"fmt"
)

// Ошибки реестра. Хендлеры переводят их в ответы протокола.
var (
	ErrUnknown  = fmt.Errorf("abilities: unknown ability")
	ErrDisabled = fmt.Errorf("abilities: ability is disabled")
	ErrBadParam = fmt.Errorf("abilities: invalid parameters")
)

// HandlerFunc исполняет одну способность. params уже прошли JSON-декод,
// валидация обязательных полей — ответственность хендлера.
type HandlerFunc func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error)

// Ability — декларация одной операции.
type Ability struct {
	Name        string
	Description string
	// Write — модифицирует ли операция состояние сайта.
	// Write-исполнения расходуют дневной бюджет записи.
	Write   bool
	Handler HandlerFunc
}

// badParam оборачивает ErrBadParam с конкретикой по полю.
func badParam(field string) error {
	return fmt.Errorf("%w: missing or malformed %q", ErrBadParam, field)
}

// strParam достает обязательный непустой строковый параметр.
func strParam(params map[string]interface{}, key string) (string, error) {
	v, ok := params[key].(string)
	if !ok || v == "" {
		return "", badParam(key)
	}
	return v, nil
}

// numParam достает обязательный числовой параметр (JSON дает float64).
func numParam(params map[string]interface{}, key string) (int, error) {
	v, ok := params[key].(float64)
	if !ok {
		return 0, badParam(key)
	}
	return int(v), nil
}
