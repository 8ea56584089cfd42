package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type retryArgs struct {
	Event   string                 `json:"event"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data"`
	Attempt int                    `json:"attempt"`
}

func TestMemberDeterministic(t *testing.T) {
	a := retryArgs{Event: "test", Message: "hi", Data: map[string]interface{}{"b": 2, "a": 1}, Attempt: 1}
	b := retryArgs{Event: "test", Message: "hi", Data: map[string]interface{}{"a": 1, "b": 2}, Attempt: 1}

	ma, err := member(HookWebhookRetry, a)
	require.NoError(t, err)
	mb, err := member(HookWebhookRetry, b)
	require.NoError(t, err)
	// Порядок ключей мапы не влияет: json.Marshal сортирует
	require.Equal(t, ma, mb)
}

func TestSplitMember(t *testing.T) {
	m, err := member(HookAuditCleanup, map[string]int{"days": 90})
	require.NoError(t, err)

	hook, args, ok := splitMember(m)
	require.True(t, ok)
	require.Equal(t, HookAuditCleanup, hook)
	require.JSONEq(t, `{"days":90}`, string(args))
}

func TestMemoryQueueDedup(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	args := retryArgs{Event: "test", Message: "hi", Attempt: 1}

	require.NoError(t, q.Schedule(ctx, HookWebhookRetry, time.Unix(100, 0), args))
	// Вторая постановка той же задачи — no-op
	require.NoError(t, q.Schedule(ctx, HookWebhookRetry, time.Unix(200, 0), args))

	pending := q.Pending(HookWebhookRetry)
	require.Len(t, pending, 1)
	require.Equal(t, time.Unix(100, 0), pending[0])

	ok, err := q.HasPending(ctx, HookWebhookRetry, args)
	require.NoError(t, err)
	require.True(t, ok)

	// Другой attempt — другая задача
	args.Attempt = 2
	ok, err = q.HasPending(ctx, HookWebhookRetry, args)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryQueueRunDue(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()

	require.NoError(t, q.Schedule(ctx, HookWebhookRetry, time.Unix(100, 0), retryArgs{Event: "a", Attempt: 1}))
	require.NoError(t, q.Schedule(ctx, HookWebhookRetry, time.Unix(500, 0), retryArgs{Event: "b", Attempt: 1}))

	var ran []string
	handlers := map[string]HandlerFunc{
		HookWebhookRetry: func(_ context.Context, raw json.RawMessage) error {
			var a retryArgs
			require.NoError(t, json.Unmarshal(raw, &a))
			ran = append(ran, a.Event)
			return nil
		},
	}

	require.NoError(t, q.RunDue(ctx, time.Unix(200, 0), handlers))
	require.Equal(t, []string{"a"}, ran)

	// Исполненная задача снята с очереди
	ok, _ := q.HasPending(ctx, HookWebhookRetry, retryArgs{Event: "a", Attempt: 1})
	require.False(t, ok)
	ok, _ = q.HasPending(ctx, HookWebhookRetry, retryArgs{Event: "b", Attempt: 1})
	require.True(t, ok)
}

func TestMemoryQueueUnscheduleAll(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	require.NoError(t, q.Schedule(ctx, HookWebhookRetry, time.Unix(100, 0), retryArgs{Event: "a"}))
	require.NoError(t, q.Schedule(ctx, HookAuditCleanup, time.Unix(100, 0), map[string]int{"days": 90}))

	require.NoError(t, q.UnscheduleAll(ctx, HookWebhookRetry))
	require.Empty(t, q.Pending(HookWebhookRetry))

	ok, _ := q.HasPending(ctx, HookAuditCleanup, map[string]int{"days": 90})
	require.True(t, ok)
}
