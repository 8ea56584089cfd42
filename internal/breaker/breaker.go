// Package breaker реализует предохранитель для исходящего соединения со шлюзом.
//
// В отличие от библиотечных in-process реализаций, состояние живет в
// разделяемом KV-сторе: несколько воркеров/инстансов видят одну и ту же
// картину здоровья пира. Машина состояний:
//
//	CLOSED --(3 подряд ошибки)--> OPEN --(cooldown истек)--> HALF_OPEN
//	HALF_OPEN --(успех)--> CLOSED
//	HALF_OPEN --(ошибка)--> OPEN (cooldown взводится заново)
//
// Любой успех безусловно сбрасывает счетчик и закрывает цепь.
package breaker

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/pinch-bridge/internal/audit"
	"github.com/xela07ax/pinch-bridge/internal/infra"
	"github.com/xela07ax/pinch-bridge/internal/kv"
)

// State — текущее состояние цепи.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

const (
	// DefaultThreshold — сколько подряд ошибок открывает цепь.
	DefaultThreshold = 3
	// DefaultCooldown — пауза перед пробным запросом.
	DefaultCooldown = 60 * time.Second
)

type Breaker struct {
	store     kv.Store
	sink      audit.Sink
	logger    *zap.Logger
	threshold int
	cooldown  time.Duration
	now       func() time.Time
}

func New(store kv.Store, sink audit.Sink, logger *zap.Logger, threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Breaker{
		store:     store,
		sink:      sink,
		logger:    logger.Named("breaker"),
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// WithClock подменяет часы (для тестов).
func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	b.now = now
	return b
}

// State вычисляет текущее состояние по содержимому стора.
// Отсутствие ключей (включая истекший TTL) означает CLOSED —
// нетронутая цепь неявно возвращается в здоровое состояние.
func (b *Breaker) State(ctx context.Context) State {
	openUntil, err := b.openUntil(ctx)
	if err == nil {
		if b.now().Before(openUntil) {
			return StateOpen
		}
		// Cooldown истек, но ключ еще жив: цепь полуоткрыта для пробы
		return StateHalfOpen
	}
	return StateClosed
}

// Available сообщает, можно ли делать исходящий вызов.
// В OPEN возвращает true только после истечения cooldown — этот же вызов
// и есть переход в HALF_OPEN (проба, которая решит судьбу цепи).
func (b *Breaker) Available(ctx context.Context) bool {
	return b.State(ctx) != StateOpen
}

// RetryAfter возвращает, сколько секунд осталось до конца cooldown.
// 0 — цепь доступна прямо сейчас.
func (b *Breaker) RetryAfter(ctx context.Context) time.Duration {
	openUntil, err := b.openUntil(ctx)
	if err != nil {
		return 0
	}
	left := openUntil.Sub(b.now())
	if left < 0 {
		return 0
	}
	return left
}

// RecordSuccess безусловно закрывает цепь и обнуляет счетчик.
func (b *Breaker) RecordSuccess(ctx context.Context) {
	_ = b.store.Del(ctx, infra.RedisKeyCircuitFailures)
	_ = b.store.Del(ctx, infra.RedisKeyCircuitOpenTill)
}

// RecordFailure инкрементирует счетчик подряд идущих ошибок.
// TTL счетчика — 3×cooldown: одиночная старая ошибка не висит вечно.
// Достижение порога открывает цепь и оставляет след в аудите.
func (b *Breaker) RecordFailure(ctx context.Context) {
	// Провал пробы в HALF_OPEN открывает цепь заново без оглядки на
	// счетчик: тот взводился fixed-window и мог истечь за время cooldown.
	if b.State(ctx) == StateHalfOpen {
		b.open(ctx, int64(b.threshold))
		return
	}

	failures, err := b.store.Incr(ctx, infra.RedisKeyCircuitFailures, 3*b.cooldown)
	if err != nil {
		b.logger.Error("failed to record circuit failure", zap.Error(err))
		return
	}

	if failures < int64(b.threshold) {
		return
	}

	b.open(ctx, failures)
}

func (b *Breaker) open(ctx context.Context, failures int64) {
	openUntil := b.now().Add(b.cooldown)
	if err := b.store.Set(ctx, infra.RedisKeyCircuitOpenTill,
		strconv.FormatInt(openUntil.UnixMilli(), 10), 3*b.cooldown); err != nil {
		b.logger.Error("failed to open circuit", zap.Error(err))
		return
	}

	b.logger.Warn("circuit opened",
		zap.Int64("consecutive_failures", failures),
		zap.Time("open_until", openUntil),
	)
	b.sink.Insert(audit.EventCircuitOpened, "breaker", "gateway circuit opened after consecutive failures",
		map[string]interface{}{
			"failures":   failures,
			"open_until": openUntil.UTC().Format(time.RFC3339),
		})
}

func (b *Breaker) openUntil(ctx context.Context) (time.Time, error) {
	raw, err := b.store.Get(ctx, infra.RedisKeyCircuitOpenTill)
	if err != nil {
		return time.Time{}, err
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}
