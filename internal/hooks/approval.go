package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/xela07ax/pinch-bridge/internal/audit"
	"github.com/xela07ax/pinch-bridge/internal/domain"
	"github.com/xela07ax/pinch-bridge/internal/infra"
	"github.com/xela07ax/pinch-bridge/internal/kv"
)

// ApprovalQueue — durable HITL-очередь. Хранится единым JSON-документом:
// каждое изменение переписывает список целиком. Объемы здесь десятки,
// не тысячи, а единый документ дает атомарность remove-before-execute
// без транзакций.
type ApprovalQueue struct {
	store kv.Store
	sink  audit.Sink
	now   func() time.Time
}

func NewApprovalQueue(store kv.Store, sink audit.Sink) *ApprovalQueue {
	return &ApprovalQueue{store: store, sink: sink, now: time.Now}
}

func (q *ApprovalQueue) WithClock(now func() time.Time) *ApprovalQueue {
	q.now = now
	return q
}

func (q *ApprovalQueue) load(ctx context.Context) ([]domain.ApprovalItem, error) {
	raw, err := q.store.Get(ctx, infra.RedisKeyApprovalQueue)
	if err == kv.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("approvals: failed to load queue: %w", err)
	}
	var items []domain.ApprovalItem
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("approvals: corrupted queue document: %w", err)
	}
	return items, nil
}

func (q *ApprovalQueue) save(ctx context.Context, items []domain.ApprovalItem) error {
	if len(items) == 0 {
		return q.store.Del(ctx, infra.RedisKeyApprovalQueue)
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("approvals: failed to encode queue: %w", err)
	}
	return q.store.Set(ctx, infra.RedisKeyApprovalQueue, string(raw), 0)
}

// Queue ставит запрос на подтверждение. Эквивалентный запрос
// (та же способность + те же параметры), уже ожидающий решения,
// не дублируется — возвращается его id.
func (q *ApprovalQueue) Queue(ctx context.Context, ability string, params map[string]interface{}, traceID, queuedBy string) (string, error) {
	items, err := q.load(ctx)
	if err != nil {
		return "", err
	}

	fingerprint, _ := json.Marshal(map[string]interface{}{"a": ability, "p": params})
	for _, it := range items {
		existing, _ := json.Marshal(map[string]interface{}{"a": it.Ability, "p": it.Params})
		if string(existing) == string(fingerprint) {
			return it.ID, nil
		}
	}

	item := domain.ApprovalItem{
		ID:       uuid.New().String(),
		Ability:  ability,
		Params:   params,
		TraceID:  traceID,
		QueuedBy: queuedBy,
		QueuedAt: q.now(),
	}
	if err := q.save(ctx, append(items, item)); err != nil {
		return "", err
	}

	q.sink.Insert(audit.EventAbilityQueued, "approvals", "ability queued for manual approval",
		map[string]interface{}{"approval_id": item.ID, "ability": ability, "queued_by": queuedBy})
	return item.ID, nil
}

// Pending — текущая очередь (консоль, governance-отчеты).
func (q *ApprovalQueue) Pending(ctx context.Context) ([]domain.ApprovalItem, error) {
	return q.load(ctx)
}

// Take удаляет запрос из очереди и возвращает его. Вызывается ДО исполнения:
// если исполнение упадет, запрос не должен висеть и исполниться второй раз.
func (q *ApprovalQueue) Take(ctx context.Context, id string) (*domain.ApprovalItem, error) {
	items, err := q.load(ctx)
	if err != nil {
		return nil, err
	}
	for i, it := range items {
		if it.ID == id {
			rest := append(items[:i:i], items[i+1:]...)
			if err := q.save(ctx, rest); err != nil {
				return nil, err
			}
			found := it
			return &found, nil
		}
	}
	return nil, domain.ErrApprovalNotFound
}

// Reject снимает запрос без исполнения.
func (q *ApprovalQueue) Reject(ctx context.Context, id, reviewer, comment string) error {
	item, err := q.Take(ctx, id)
	if err != nil {
		return err
	}
	q.sink.Insert(audit.EventAbilityRejected, "approvals", "ability rejected by operator",
		map[string]interface{}{"approval_id": item.ID, "ability": item.Ability, "reviewer": reviewer, "comment": comment})
	return nil
}
