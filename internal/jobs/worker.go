package jobs

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// HandlerFunc исполняет одну задачу. Ошибка уходит в лог: планировщик
// не ретраит сам — логика повторов принадлежит владельцу хука.
type HandlerFunc func(ctx context.Context, args json.RawMessage) error

// Worker — поллер очереди: раз в tick забирает созревшие задачи
// и раздает их зарегистрированным обработчикам.
type Worker struct {
	queue    *RedisQueue
	handlers map[string]HandlerFunc
	logger   *zap.Logger
	tick     time.Duration
}

func NewWorker(queue *RedisQueue, logger *zap.Logger) *Worker {
	return &Worker{
		queue:    queue,
		handlers: make(map[string]HandlerFunc),
		logger:   logger.Named("jobs"),
		tick:     5 * time.Second,
	}
}

// Register привязывает обработчик к хуку. Вызывается до Run.
func (w *Worker) Register(hook string, h HandlerFunc) {
	w.handlers[hook] = h
}

// Run крутит цикл до отмены контекста.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()

	w.logger.Info("job worker started", zap.Duration("tick", w.tick))
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("job worker stopping by context...")
			return
		case <-ticker.C:
			w.drainDue(ctx)
		}
	}
}

func (w *Worker) drainDue(ctx context.Context) {
	claimed, err := w.queue.claimDue(ctx, time.Now(), 50)
	if err != nil {
		w.logger.Error("failed to claim due jobs", zap.Error(err))
		return
	}

	for _, m := range claimed {
		hook, args, ok := splitMember(m)
		if !ok {
			w.logger.Error("malformed job member", zap.String("member", m))
			continue
		}
		h, ok := w.handlers[hook]
		if !ok {
			w.logger.Warn("no handler for job hook", zap.String("hook", hook))
			continue
		}
		if err := h(ctx, args); err != nil {
			w.logger.Error("job handler failed", zap.String("hook", hook), zap.Error(err))
		}
	}
}
