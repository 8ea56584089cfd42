// Package dispatch — исходящие уведомления о событиях сайта.
//
// Dispatch строит конверт, подписывает и шлет его в шлюз; при отказе ставит
// durable-ретрай с фиксированной таблицей бэкоффа. Ни один путь отказа не
// паникует и не роняет вызывающий код: сломанный шлюз не должен блокировать
// сохранение поста.
package dispatch

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/pinch-bridge/internal/audit"
	"github.com/xela07ax/pinch-bridge/internal/features"
	"github.com/xela07ax/pinch-bridge/internal/gateway"
	"github.com/xela07ax/pinch-bridge/internal/jobs"
	"github.com/xela07ax/pinch-bridge/internal/loopguard"
	"github.com/xela07ax/pinch-bridge/internal/metrics"
	"github.com/xela07ax/pinch-bridge/internal/ratelimit"
	"github.com/xela07ax/pinch-bridge/internal/signature"
)

const source = "dispatcher"

type Dispatcher struct {
	client        *gateway.Client
	window        *ratelimit.Window
	queue         jobs.Queue
	guard         *loopguard.Guard
	validator     *URLValidator
	sink          audit.Sink
	flags         *features.Flags
	metrics       *metrics.Metrics
	logger        *zap.Logger
	siteURL       string
	signingSecret string
	payloadFilter PayloadFilter
	now           func() time.Time
}

type Options struct {
	Client        *gateway.Client
	Window        *ratelimit.Window
	Queue         jobs.Queue
	Guard         *loopguard.Guard
	Validator     *URLValidator
	Sink          audit.Sink
	Flags         *features.Flags
	Metrics       *metrics.Metrics
	Logger        *zap.Logger
	SiteURL       string
	SigningSecret string
	// PayloadFilter — опциональная точка расширения перед отправкой.
	PayloadFilter PayloadFilter
}

func New(o Options) *Dispatcher {
	m := o.Metrics
	if m == nil {
		m = metrics.New(nil)
	}
	return &Dispatcher{
		client:        o.Client,
		window:        o.Window,
		queue:         o.Queue,
		guard:         o.Guard,
		validator:     o.Validator,
		sink:          o.Sink,
		flags:         o.Flags,
		metrics:       m,
		logger:        o.Logger.Named("dispatcher"),
		siteURL:       o.SiteURL,
		signingSecret: o.SigningSecret,
		payloadFilter: o.PayloadFilter,
		now:           time.Now,
	}
}

// WithClock подменяет часы (для тестов).
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// Dispatch отправляет одно уведомление. attempt == 0 — первая попытка
// (fire-and-forget), attempt >= 1 — блокирующий ретрай из очереди задач.
// false означает «не отправлено»; причина остается в аудите либо
// (для подавления петли и отсутствия конфига) сознательно нигде.
func (d *Dispatcher) Dispatch(ctx context.Context, event, message string, data map[string]interface{}, attempt int) bool {
	// 1. Подавление петли: пока исполняется входящая способность,
	// наружу не уходит ничего — иначе пинг-понг со шлюзом.
	if d.guard.Active() {
		d.metrics.WebhooksTotal.WithLabelValues(event, "suppressed").Inc()
		return false
	}

	// 2. Конфигурационный гейт: нет URL или токена — тихий no-op.
	if !d.client.Configured() {
		return false
	}

	// 3. Rate-окно исходящего канала. Переполнено — дроп, не отложка.
	atCap, err := d.window.AtCap(ctx, "outbound:"+event)
	if err != nil {
		d.logger.Error("rate check failed", zap.Error(err))
	}
	if atCap {
		d.metrics.WebhooksTotal.WithLabelValues(event, "rate_limited").Inc()
		d.sink.Insert(audit.EventWebhookRateLimited, source, "outbound webhook dropped by rate limit",
			map[string]interface{}{"event": event, "attempt": attempt})
		return false
	}

	// 4. Санитизация контента перед тем, как он попадет в промпт шлюза.
	if d.flags.Enabled(features.PromptSanitizer) {
		message = SanitizeText(message)
		data = SanitizeData(data)
	}

	// 5. Сборка конверта + внешний фильтр.
	payload := buildPayload(event, message, d.siteURL, data, d.now())
	if d.payloadFilter != nil {
		d.payloadFilter(payload)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		d.logger.Error("failed to marshal payload", zap.Error(err))
		return false
	}

	// 6. SSRF-проверка адреса назначения: при отказе даже не пытаемся слать.
	if err := d.validator.Validate(ctx, d.client.Endpoint()); err != nil {
		d.metrics.WebhooksTotal.WithLabelValues(event, "rejected").Inc()
		d.sink.Insert(audit.EventWebhookRejected, source, "gateway url failed ssrf validation",
			map[string]interface{}{"event": event, "error": err.Error()})
		return false
	}

	// 7. Подпись (фича-гейт).
	headers := map[string]string{}
	if d.flags.Enabled(features.WebhookSignatures) && d.signingSecret != "" {
		ts := d.now().Unix()
		headers["X-WP-Pinch-Signature"] = signature.Sign(d.signingSecret, ts, body)
		headers["X-WP-Pinch-Timestamp"] = strconv.FormatInt(ts, 10)
	}

	// 8. Отправка.
	if attempt == 0 {
		return d.sendAsync(ctx, event, message, data, body, headers)
	}
	return d.sendBlocking(ctx, event, message, data, body, headers, attempt)
}

// sendAsync — первая попытка. Транспортная ошибка видна и запускает ретраи;
// 4xx/5xx от пира здесь не детектится (принятая щель, см. блокирующий путь).
func (d *Dispatcher) sendAsync(ctx context.Context, event, message string, data map[string]interface{}, body []byte, headers map[string]string) bool {
	if err := d.client.SendAsync(ctx, body, headers); err != nil {
		d.logger.Warn("webhook send failed", zap.String("event", event), zap.Error(err))
		d.metrics.WebhooksTotal.WithLabelValues(event, "failed").Inc()
		d.sink.Insert(audit.EventWebhookFailed, source, "webhook transport failure",
			map[string]interface{}{"event": event, "attempt": 0, "error": err.Error()})
		d.scheduleRetry(ctx, event, message, data, 0)
		return false
	}

	d.metrics.WebhooksTotal.WithLabelValues(event, "sent").Inc()
	d.sink.Insert(audit.EventWebhookSent, source, "webhook dispatched",
		map[string]interface{}{"event": event, "attempt": 0})
	if err := d.window.Incr(ctx, "outbound:"+event); err != nil {
		d.logger.Error("failed to bump rate counter", zap.Error(err))
	}
	return true
}

// sendBlocking — путь ретраев: статус инспектируется, отказ планирует
// следующий ретрай, пока попытки не исчерпаны.
func (d *Dispatcher) sendBlocking(ctx context.Context, event, message string, data map[string]interface{}, body []byte, headers map[string]string, attempt int) bool {
	if err := d.client.Send(ctx, body, headers); err != nil {
		d.logger.Warn("webhook retry failed",
			zap.String("event", event), zap.Int("attempt", attempt), zap.Error(err))
		d.metrics.WebhooksTotal.WithLabelValues(event, "failed").Inc()
		d.sink.Insert(audit.EventWebhookFailed, source, "webhook retry failure",
			map[string]interface{}{"event": event, "attempt": attempt, "error": err.Error()})
		d.scheduleRetry(ctx, event, message, data, attempt)
		return false
	}

	d.metrics.WebhooksTotal.WithLabelValues(event, "sent").Inc()
	d.sink.Insert(audit.EventWebhookSent, source, "webhook delivered on retry",
		map[string]interface{}{"event": event, "attempt": attempt})
	if err := d.window.Incr(ctx, "outbound:"+event); err != nil {
		d.logger.Error("failed to bump rate counter", zap.Error(err))
	}
	return true
}

// scheduleRetry ставит durable-ретрай с дедупом: если эквивалентная задача
// (тот же event/message/data/attempt+1) уже висит — вторую не создаем.
// Это защита от дублей при гонке конкурирующих отказов.
func (d *Dispatcher) scheduleRetry(ctx context.Context, event, message string, data map[string]interface{}, failedAttempt int) {
	delay, ok := retryDelay(failedAttempt)
	if !ok {
		// Попытки исчерпаны: терминальный отказ, след только в аудите
		d.logger.Error("webhook permanently failed", zap.String("event", event))
		return
	}

	args := RetryArgs{Event: event, Message: message, Data: data, Attempt: failedAttempt + 1}
	pending, err := d.queue.HasPending(ctx, jobs.HookWebhookRetry, args)
	if err != nil {
		d.logger.Error("retry dedup check failed", zap.Error(err))
		return
	}
	if pending {
		return
	}

	if err := d.queue.Schedule(ctx, jobs.HookWebhookRetry, d.now().Add(delay), args); err != nil {
		d.logger.Error("failed to schedule retry", zap.Error(err))
		return
	}
	d.metrics.RetriesScheduled.WithLabelValues(event).Inc()
}

// RetryJobHandler — обработчик для durable-очереди: десериализует аргументы
// и заново входит в Dispatch с номером попытки.
func (d *Dispatcher) RetryJobHandler() jobs.HandlerFunc {
	return func(ctx context.Context, raw json.RawMessage) error {
		var args RetryArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			d.logger.Error("malformed retry args", zap.Error(err))
			return err
		}
		d.Dispatch(ctx, args.Event, args.Message, args.Data, args.Attempt)
		return nil
	}
}
