package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/xela07ax/pinch-bridge/internal/infra"
	"github.com/xela07ax/pinch-bridge/internal/kv"
)

// Budget — дневной бюджет записывающих операций.
// Окно = календарные сутки UTC (midnight → midnight), та же fixed-window
// дисциплина, что и у минутных окон. cap == 0 означает «без лимита».
type Budget struct {
	store        kv.Store
	cap          int
	alertPercent int
	now          func() time.Time
}

func NewBudget(store kv.Store, cap, alertPercent int) *Budget {
	return &Budget{
		store:        store,
		cap:          cap,
		alertPercent: alertPercent,
		now:          time.Now,
	}
}

// WithClock подменяет часы (для тестов).
func (b *Budget) WithClock(now func() time.Time) *Budget {
	b.now = now
	return b
}

func (b *Budget) Cap() int { return b.cap }

func (b *Budget) day() string {
	return b.now().UTC().Format("2006-01-02")
}

// untilMidnight — TTL до конца текущих UTC-суток.
func (b *Budget) untilMidnight() time.Duration {
	now := b.now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
	return midnight.Sub(now)
}

// Used возвращает текущий расход за сегодня.
func (b *Budget) Used(ctx context.Context) (int64, error) {
	raw, err := b.store.Get(ctx, infra.BudgetKey(b.day()))
	if err != nil {
		if err == kv.ErrNotFound {
			return 0, nil
		}
		return 0, err
	}
	n, _ := strconv.ParseInt(raw, 10, 64)
	return n, nil
}

// Exhausted сообщает, выбран ли дневной лимит. Проверка ДО исполнения:
// операция, которая не прошла по бюджету, не исполняется вовсе.
func (b *Budget) Exhausted(ctx context.Context) (bool, error) {
	if b.cap <= 0 {
		return false, nil
	}
	used, err := b.Used(ctx)
	if err != nil {
		return false, err
	}
	return used >= int64(b.cap), nil
}

// Consume списывает одну операцию ПОСЛЕ успешного исполнения и сообщает,
// пересек ли расход порог алерта именно сейчас. Флаг «алерт уже отправлен»
// живет отдельным ключом до конца суток, так что ретраи в пределах дня
// не могут отправить алерт повторно.
func (b *Budget) Consume(ctx context.Context) (alertNow bool, err error) {
	day := b.day()
	used, err := b.store.Incr(ctx, infra.BudgetKey(day), b.untilMidnight())
	if err != nil {
		return false, err
	}

	if b.cap <= 0 || b.alertPercent <= 0 {
		return false, nil
	}
	threshold := int64(b.cap) * int64(b.alertPercent) / 100
	if used < threshold {
		return false, nil
	}

	// SetNX — одноразовый флаг: true только у первого пересекшего порог
	first, err := b.store.SetNX(ctx, infra.BudgetAlertKey(day), "1", b.untilMidnight())
	if err != nil {
		return false, err
	}
	return first, nil
}

// RetryAfter — сколько ждать до сброса бюджета (до полуночи UTC).
func (b *Budget) RetryAfter() time.Duration {
	return b.untilMidnight()
}
