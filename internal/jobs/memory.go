package jobs

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

type memoryJob struct {
	Hook  string
	Args  json.RawMessage
	RunAt time.Time
}

// MemoryQueue — реализация Queue для тестов: та же семантика дедупа,
// задачи исполняются вручную через RunDue.
type MemoryQueue struct {
	mu   sync.Mutex
	jobs map[string]memoryJob // member -> job
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{jobs: make(map[string]memoryJob)}
}

func (q *MemoryQueue) Schedule(_ context.Context, hook string, runAt time.Time, args interface{}) error {
	m, err := member(hook, args)
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.jobs[m]; exists {
		return nil // дедуп: такая задача уже висит
	}
	raw, _ := json.Marshal(args)
	q.jobs[m] = memoryJob{Hook: hook, Args: raw, RunAt: runAt}
	return nil
}

func (q *MemoryQueue) HasPending(_ context.Context, hook string, args interface{}) (bool, error) {
	m, err := member(hook, args)
	if err != nil {
		return false, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.jobs[m]
	return ok, nil
}

func (q *MemoryQueue) UnscheduleAll(_ context.Context, hook string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for m, j := range q.jobs {
		if j.Hook == hook {
			delete(q.jobs, m)
		}
	}
	return nil
}

// Pending возвращает снятый с очереди список задач хука (для ассертов).
func (q *MemoryQueue) Pending(hook string) []time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []time.Time
	for _, j := range q.jobs {
		if j.Hook == hook {
			out = append(out, j.RunAt)
		}
	}
	return out
}

// PendingCount — зеркало метода RedisQueue для дашборда.
func (q *MemoryQueue) PendingCount(_ context.Context, hook string) (int, error) {
	return len(q.Pending(hook)), nil
}

// RunDue исполняет все задачи с RunAt <= now через переданный обработчик,
// снимая их с очереди до вызова (как ZREM-захват у RedisQueue).
func (q *MemoryQueue) RunDue(ctx context.Context, now time.Time, handlers map[string]HandlerFunc) error {
	q.mu.Lock()
	var due []memoryJob
	for m, j := range q.jobs {
		if !j.RunAt.After(now) {
			due = append(due, j)
			delete(q.jobs, m)
		}
	}
	q.mu.Unlock()

	for _, j := range due {
		if h, ok := handlers[j.Hook]; ok {
			if err := h(ctx, j.Args); err != nil {
				return err
			}
		}
	}
	return nil
}
