package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xela07ax/pinch-bridge/internal/kv"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newStore() (*kv.MemoryStore, *clock) {
	c := &clock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	s := kv.NewMemoryStore()
	s.Now = c.now
	return s, c
}

// Окно фиксированное, не сползающее: запрос на 59-й секунде упирается в тот же
// потолок, запрос на 61-й открывает свежее окно.
func TestWindowFixedNotSliding(t *testing.T) {
	ctx := context.Background()
	store, c := newStore()
	w := NewWindow(store, 3)

	for i := 0; i < 3; i++ {
		ok, err := w.Allow(ctx, "user:7")
		require.NoError(t, err)
		require.True(t, ok)
	}

	c.advance(59 * time.Second)
	ok, err := w.Allow(ctx, "user:7")
	require.NoError(t, err)
	require.False(t, ok, "59s: окно еще то же, потолок выбран")

	c.advance(2 * time.Second)
	ok, err = w.Allow(ctx, "user:7")
	require.NoError(t, err)
	require.True(t, ok, "61s: окно истекло, счет заново")
}

func TestWindowAtCapDoesNotIncrement(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore()
	w := NewWindow(store, 2)

	at, err := w.AtCap(ctx, "test")
	require.NoError(t, err)
	require.False(t, at)

	require.NoError(t, w.Incr(ctx, "test"))
	require.NoError(t, w.Incr(ctx, "test"))

	at, err = w.AtCap(ctx, "test")
	require.NoError(t, err)
	require.True(t, at)

	// AtCap не трогал счетчик: ровно два инкремента в окне
	used, err := store.Get(ctx, "pinch:rate:test")
	require.NoError(t, err)
	require.Equal(t, "2", used)
}

func TestWindowSubjectsIndependent(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore()
	w := NewWindow(store, 1)

	ok, _ := w.Allow(ctx, "a")
	require.True(t, ok)
	ok, _ = w.Allow(ctx, "a")
	require.False(t, ok)

	ok, _ = w.Allow(ctx, "b")
	require.True(t, ok)
}

func TestWindowZeroCapUnlimited(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore()
	w := NewWindow(store, 0)

	for i := 0; i < 100; i++ {
		ok, err := w.Allow(ctx, "x")
		require.NoError(t, err)
		require.True(t, ok)
	}
}

func TestBudgetExhaustion(t *testing.T) {
	ctx := context.Background()
	store, c := newStore()
	b := NewBudget(store, 3, 0).WithClock(c.now)

	for i := 0; i < 3; i++ {
		ex, err := b.Exhausted(ctx)
		require.NoError(t, err)
		require.False(t, ex)
		_, err = b.Consume(ctx)
		require.NoError(t, err)
	}

	ex, err := b.Exhausted(ctx)
	require.NoError(t, err)
	require.True(t, ex)

	// Новые UTC-сутки — бюджет чистый
	c.advance(13 * time.Hour)
	ex, err = b.Exhausted(ctx)
	require.NoError(t, err)
	require.False(t, ex)
}

// Алерт по порогу стреляет один раз за сутки, ретраи его не повторяют.
func TestBudgetAlertOncePerDay(t *testing.T) {
	ctx := context.Background()
	store, c := newStore()
	b := NewBudget(store, 10, 80).WithClock(c.now)

	var alerts int
	for i := 0; i < 10; i++ {
		alertNow, err := b.Consume(ctx)
		require.NoError(t, err)
		if alertNow {
			alerts++
			// порог 80% от 10 — восьмая операция
			require.Equal(t, 7, i)
		}
	}
	require.Equal(t, 1, alerts)

	// На следующий день флаг сброшен вместе с бюджетом
	c.advance(24 * time.Hour)
	for i := 0; i < 8; i++ {
		alertNow, err := b.Consume(ctx)
		require.NoError(t, err)
		if i == 7 {
			require.True(t, alertNow)
		} else {
			require.False(t, alertNow)
		}
	}
}

func TestBudgetRetryAfterUntilMidnight(t *testing.T) {
	store, c := newStore()
	b := NewBudget(store, 5, 0).WithClock(c.now)

	// 12:00 UTC → до полуночи 12 часов
	require.Equal(t, 12*time.Hour, b.RetryAfter())
}
