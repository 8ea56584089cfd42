package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound возвращается, когда ключа нет (или его TTL истек).
var ErrNotFound = errors.New("kv: key not found")

// Store — абстракция над разделяемым состоянием (Redis в проде, память в тестах).
// Предохранитель, rate-окна и дневной бюджет держат свои счетчики только здесь,
// без блокировок на уровне приложения: вся атомарность — на стороне стора.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	// Set пишет значение с TTL. ttl == 0 означает «без срока».
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX пишет только если ключа нет. Возвращает true, если запись произошла.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Incr атомарно увеличивает счетчик. Семантика fixed-window:
	// ПЕРВЫЙ инкремент создает ключ и ставит TTL, последующие TTL НЕ обновляют.
	// Именно это дает несползающее окно (граница фиксируется первым запросом).
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Del(ctx context.Context, key string) error
	// TTL возвращает остаток жизни ключа; ErrNotFound, если ключа нет.
	TTL(ctx context.Context, key string) (time.Duration, error)
}
