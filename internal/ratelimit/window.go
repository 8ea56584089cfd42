// Package ratelimit реализует fixed-window лимитеры на разделяемом KV-сторе.
//
// Окно НЕ сползает: границу фиксирует тот запрос, который первым поднял
// счетчик с нуля, и все запросы окна делят один и тот же срок истечения.
// Это O(1) состояния на субъект ценой возможных всплесков на стыке окон.
package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/xela07ax/pinch-bridge/internal/infra"
	"github.com/xela07ax/pinch-bridge/internal/kv"
)

// WindowSize — размер окна для минутных лимитов.
const WindowSize = 60 * time.Second

// Window — счетчик минутного окна, ключ = субъект (тип события, user, IP-хэш).
type Window struct {
	store kv.Store
	cap   int
}

func NewWindow(store kv.Store, cap int) *Window {
	return &Window{store: store, cap: cap}
}

// Cap возвращает настроенный потолок окна.
func (w *Window) Cap() int { return w.cap }

// AtCap проверяет, исчерпано ли окно субъекта, НЕ увеличивая счетчик.
// Используется диспетчером: инкремент происходит только после успешной отправки.
func (w *Window) AtCap(ctx context.Context, subject string) (bool, error) {
	if w.cap <= 0 {
		return false, nil
	}
	raw, err := w.store.Get(ctx, infra.RateKey(subject))
	if err != nil {
		if err == kv.ErrNotFound {
			return false, nil
		}
		return false, err
	}
	n, _ := strconv.ParseInt(raw, 10, 64)
	return n >= int64(w.cap), nil
}

// Incr увеличивает счетчик окна. Первый инкремент ставит TTL окна.
func (w *Window) Incr(ctx context.Context, subject string) error {
	_, err := w.store.Incr(ctx, infra.RateKey(subject), WindowSize)
	return err
}

// Allow — атомарный вариант «увеличь и сравни» для входящих запросов.
// Возвращает false, когда окно субъекта переполнено.
func (w *Window) Allow(ctx context.Context, subject string) (bool, error) {
	if w.cap <= 0 {
		return true, nil
	}
	n, err := w.store.Incr(ctx, infra.RateKey(subject), WindowSize)
	if err != nil {
		return false, err
	}
	return n <= int64(w.cap), nil
}

// RetryAfter — сколько ждать до конца текущего окна субъекта.
func (w *Window) RetryAfter(ctx context.Context, subject string) time.Duration {
	ttl, err := w.store.TTL(ctx, infra.RateKey(subject))
	if err != nil || ttl <= 0 {
		return WindowSize
	}
	return ttl
}
