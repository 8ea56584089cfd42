// Package jobs реализует внешний durable-планировщик отложенных задач
// (ретраи вебхуков, плановая чистка аудита). Остальная система видит его
// как черный ящик с контрактом schedule / has_pending / unschedule_all.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Известные хуки задач.
const (
	HookWebhookRetry = "pinch_webhook_retry"
	HookAuditCleanup = "pinch_audit_cleanup"
)

// Queue — контракт durable-планировщика.
type Queue interface {
	// Schedule ставит задачу на runAt. Повторная постановка той же пары
	// (hook, args) до исполнения — no-op: ключ дедупликации выводится из
	// канонического JSON аргументов.
	Schedule(ctx context.Context, hook string, runAt time.Time, args interface{}) error
	// HasPending отвечает, висит ли уже такая же задача.
	HasPending(ctx context.Context, hook string, args interface{}) (bool, error)
	// UnscheduleAll снимает все задачи хука.
	UnscheduleAll(ctx context.Context, hook string) error
}

// member — сериализованная форма задачи в очереди.
// json.Marshal дает канонический вид (ключи мап сортируются), поэтому
// одинаковые аргументы всегда дают одинаковый member — это и есть дедуп.
func member(hook string, args interface{}) (string, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("jobs: failed to marshal args: %w", err)
	}
	return hook + "|" + string(raw), nil
}

// splitMember разбирает member обратно на хук и аргументы.
func splitMember(m string) (hook string, args json.RawMessage, ok bool) {
	for i := 0; i < len(m); i++ {
		if m[i] == '|' {
			return m[:i], json.RawMessage(m[i+1:]), true
		}
	}
	return "", nil, false
}
