package audit

/*
Файл recorder.go реализует асинхронный сборщик журнала аудита.

Ключевые особенности:
- Non-blocking Logging: запись уходит через неблокирующий канал, задержки
  Postgres не попадают в Hot Path ни диспетчера, ни входящего пайплайна.
- Batching: события копятся и пишутся пачкой (Bulk Insert) по таймеру
  или при достижении лимита.
- Drain Pattern: при остановке буфер вычитывается до конца — Final Flush
  через закрытие канала и sync.WaitGroup.
- Fire-and-forget: сбой вставки никогда не становится ошибкой вызывающего.
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Sink — контракт журнала для всех компонентов (Audit Sink boundary).
type Sink interface {
	Insert(eventType, source, message string, contextData map[string]interface{})
}

// StorageInterface определяет, куда физически сохраняются записи.
type StorageInterface interface {
	WriteBatch(ctx context.Context, entries []Entry) error
}

type Recorder struct {
	ch     chan Entry
	repo   StorageInterface
	logger *zap.Logger
	wg     sync.WaitGroup

	// Атомарный флаг (0 - открыт, 1 - закрыт): защита от Insert после Stop
	isClosed int32
}

func NewRecorder(repo StorageInterface, logger *zap.Logger) *Recorder {
	return &Recorder{
		ch:     make(chan Entry, 10000),
		repo:   repo,
		logger: logger.With(zap.String("mod", "audit")),
	}
}

func (r *Recorder) Start() {
	r.wg.Add(1)
	go r.worker()
}

// Stop запирает вход в канал и ждет, пока воркер всё допишет.
func (r *Recorder) Stop() {
	atomic.StoreInt32(&r.isClosed, 1)

	// Крошечная пауза, чтобы текущие Insert успели проскочить
	time.Sleep(10 * time.Millisecond)

	r.logger.Info("stopping audit recorder: closing channel and flushing buffer...")
	close(r.ch)
	r.wg.Wait()
	r.logger.Info("audit recorder stopped gracefully")
}

// Insert реализует Sink. Никогда не блокирует и не возвращает ошибок.
func (r *Recorder) Insert(eventType, source, message string, contextData map[string]interface{}) {
	entry := Entry{
		ID:        uuid.New().String(),
		EventType: eventType,
		Source:    source,
		Message:   message,
		Context:   contextData,
		CreatedAt: time.Now().UTC(),
	}

	if atomic.LoadInt32(&r.isClosed) == 1 {
		r.logger.Warn("audit entry dropped: recorder is stopping", zap.String("event_type", eventType))
		return
	}

	// Load Shedding: при переполнении буфера событие уходит хотя бы в zap
	select {
	case r.ch <- entry:
	default:
		r.logger.Error("audit_buffer_overflow",
			zap.String("event_type", entry.EventType),
			zap.String("source", entry.Source),
		)
	}
}

func (r *Recorder) worker() {
	defer r.wg.Done()

	batch := make([]Entry, 0, 100)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	flush := func() {
		if len(batch) > 0 {
			// Background: основной контекст на выходе может быть уже закрыт
			if err := r.repo.WriteBatch(context.Background(), batch); err != nil {
				r.logger.Error("audit flush failed", zap.Error(err))
			}
			batch = batch[:0]
		}
	}

	for {
		select {
		case entry, ok := <-r.ch:
			if !ok {
				// Канал закрыт в Stop(): вычитали остатки, финальный flush и выходим
				flush()
				r.logger.Info("audit worker finished")
				return
			}
			batch = append(batch, entry)
			if len(batch) >= 100 {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// NopSink — заглушка для тестов и для компонентов без журнала.
type NopSink struct{}

func (NopSink) Insert(string, string, string, map[string]interface{}) {}

// MemorySink копит записи в память; используется тестами для проверки,
// что компонент оставил (или не оставил) след.
type MemorySink struct {
	mu      sync.Mutex
	Entries []Entry
}

func (m *MemorySink) Insert(eventType, source, message string, contextData map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Entries = append(m.Entries, Entry{
		ID:        uuid.New().String(),
		EventType: eventType,
		Source:    source,
		Message:   message,
		Context:   contextData,
		CreatedAt: time.Now().UTC(),
	})
}

// ByType возвращает записи указанного типа.
func (m *MemorySink) ByType(eventType string) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Entry
	for _, e := range m.Entries {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}
