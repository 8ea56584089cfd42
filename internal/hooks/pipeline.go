package hooks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/pinch-bridge/internal/abilities"
	"github.com/xela07ax/pinch-bridge/internal/audit"
	"github.com/xela07ax/pinch-bridge/internal/dispatch"
	"github.com/xela07ax/pinch-bridge/internal/domain"
	"github.com/xela07ax/pinch-bridge/internal/features"
	"github.com/xela07ax/pinch-bridge/internal/ratelimit"
)

const source = "hooks"

// Notifier — исходящий диспетчер с точки зрения конвейера.
// Интерфейс нужен тестам: конвейер шлет governance-уведомления.
type Notifier interface {
	Dispatch(ctx context.Context, event, message string, data map[string]interface{}, attempt int) bool
}

// AuditPurger — плановая чистка журнала (governance-задача audit_cleanup).
type AuditPurger interface {
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Result — исход операции конвейера: HTTP-статус плюс тело.
// RetryAfter > 0 уходит клиенту заголовком.
type Result struct {
	Status     int
	Body       map[string]interface{}
	RetryAfter time.Duration
}

// Pipeline — конвейер входящих действий шлюза.
type Pipeline struct {
	registry  *abilities.Registry
	budget    *ratelimit.Budget
	approvals *ApprovalQueue
	identity  *Identity
	notifier  Notifier
	purger    AuditPurger
	sink      audit.Sink
	flags     *features.Flags
	logger    *zap.Logger
	now       func() time.Time
}

type PipelineOptions struct {
	Registry  *abilities.Registry
	Budget    *ratelimit.Budget
	Approvals *ApprovalQueue
	Identity  *Identity
	Notifier  Notifier
	Purger    AuditPurger
	Sink      audit.Sink
	Flags     *features.Flags
	Logger    *zap.Logger
}

func NewPipeline(o PipelineOptions) *Pipeline {
	return &Pipeline{
		registry:  o.Registry,
		budget:    o.Budget,
		approvals: o.Approvals,
		identity:  o.Identity,
		notifier:  o.Notifier,
		purger:    o.Purger,
		sink:      o.Sink,
		flags:     o.Flags,
		logger:    o.Logger.Named("hooks"),
		now:       time.Now,
	}
}

func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

// Handle — единая точка входа: action выбирает операцию.
func (p *Pipeline) Handle(ctx context.Context, req *domain.HookRequest) *Result {
	switch req.Action {
	case domain.ActionPing:
		return p.ping()
	case domain.ActionExecute:
		return p.executeAbility(ctx, req)
	case domain.ActionExecuteBatch:
		return p.executeBatch(ctx, req)
	case domain.ActionRunGovernance:
		return p.runGovernance(ctx, req)
	default:
		return &Result{
			Status: http.StatusBadRequest,
			Body:   map[string]interface{}{"error": fmt.Sprintf("unknown action %q", req.Action)},
		}
	}
}

func (p *Pipeline) ping() *Result {
	return &Result{
		Status: http.StatusOK,
		Body: map[string]interface{}{
			"status": "ok",
			"agent":  p.identity.AgentUser(),
			"time":   p.now().UTC().Format(time.RFC3339),
		},
	}
}

// executeAbility — путь одиночного исполнения:
// каталог → апрув → бюджет → исполнение под identity.
func (p *Pipeline) executeAbility(ctx context.Context, req *domain.HookRequest) *Result {
	if req.Ability == "" {
		return &Result{Status: http.StatusBadRequest, Body: map[string]interface{}{"error": "ability is required"}}
	}

	// Каталог первым: неизвестную способность не ставим даже на апрув.
	if _, err := p.registry.Lookup(req.Ability); err != nil {
		return abilityErrorResult(err)
	}

	// Ручное подтверждение: запрос не исполняется, а встает в очередь.
	if p.flags.Enabled(features.ApprovalWorkflow) && p.registry.RequiresApproval(req.Ability) {
		id, err := p.approvals.Queue(ctx, req.Ability, req.Params, req.TraceID, "agent")
		if err != nil {
			p.logger.Error("failed to queue approval", zap.Error(err))
			return internalError()
		}
		return &Result{
			Status: http.StatusAccepted,
			Body:   map[string]interface{}{"status": "queued", "approval_id": id},
		}
	}

	return p.execute(ctx, req.Ability, req.Params, req.TraceID)
}

// execute — общее ядро для прямого пути, батча и одобренных запросов.
func (p *Pipeline) execute(ctx context.Context, ability string, params map[string]interface{}, traceID string) *Result {
	isWrite := p.registry.IsWrite(ability)

	// Бюджет проверяется ДО исполнения: исчерпан — операция не стартует.
	if isWrite {
		exhausted, err := p.budget.Exhausted(ctx)
		if err != nil {
			p.logger.Error("budget check failed", zap.Error(err))
			return internalError()
		}
		if exhausted {
			return &Result{
				Status:     http.StatusTooManyRequests,
				Body:       map[string]interface{}{"error": "daily write budget exhausted"},
				RetryAfter: p.budget.RetryAfter(),
			}
		}
	}

	var result map[string]interface{}
	err := p.identity.RunAs(ctx, func(ctx context.Context) error {
		var execErr error
		result, execErr = p.registry.Execute(ctx, ability, params)
		return execErr
	})
	if err != nil {
		if errors.Is(err, abilities.ErrBadParam) {
			return abilityErrorResult(err)
		}
		p.sink.Insert(audit.EventAbilityFailed, source, "ability execution failed",
			map[string]interface{}{"ability": ability, "trace_id": traceID, "error": err.Error()})
		return &Result{
			Status: http.StatusUnprocessableEntity,
			Body:   map[string]interface{}{"error": fmt.Sprintf("ability %s failed: %v", ability, err)},
		}
	}

	p.sink.Insert(audit.EventAbilityExecuted, source, "ability executed",
		map[string]interface{}{"ability": ability, "trace_id": traceID, "write": isWrite})

	// Успешный write расходует бюджет; пересечение порога — одно
	// уведомление в сутки, уходит диспетчеру как governance_finding.
	if isWrite {
		alertNow, err := p.budget.Consume(ctx)
		if err != nil {
			p.logger.Error("budget consume failed", zap.Error(err))
		}
		if alertNow {
			p.raiseBudgetAlert(ctx)
		}
	}

	return &Result{Status: http.StatusOK, Body: map[string]interface{}{"result": result}}
}

func (p *Pipeline) raiseBudgetAlert(ctx context.Context) {
	used, _ := p.budget.Used(ctx)
	p.sink.Insert(audit.EventBudgetAlert, source, "daily write budget threshold crossed",
		map[string]interface{}{"used": used, "cap": p.budget.Cap()})
	p.notifier.Dispatch(ctx, dispatch.EventGovernanceFinding,
		fmt.Sprintf("Daily write budget alert: %d of %d writes used", used, p.budget.Cap()),
		map[string]interface{}{"used": used, "cap": p.budget.Cap()}, 0)
}

// executeBatch — сначала валидация формы ВСЕХ пунктов, потом последовательное
// исполнение с частичными результатами. Ошибка отдельного пункта (параметры,
// исполнение) не прерывает остальные; исчерпанный бюджет и отсутствующая
// способность — прерывают: уже исполненное остается, хвост не стартует.
func (p *Pipeline) executeBatch(ctx context.Context, req *domain.HookRequest) *Result {
	if len(req.Batch) == 0 {
		return &Result{Status: http.StatusBadRequest, Body: map[string]interface{}{"error": "batch is empty"}}
	}
	for i, item := range req.Batch {
		if item.Ability == "" {
			return &Result{
				Status: http.StatusBadRequest,
				Body:   map[string]interface{}{"error": fmt.Sprintf("batch item %d is missing ability", i)},
			}
		}
	}

	results := make([]domain.BatchResult, 0, len(req.Batch))
	for _, item := range req.Batch {
		res := p.executeAbility(ctx, &domain.HookRequest{
			Action:  domain.ActionExecute,
			Ability: item.Ability,
			Params:  item.Params,
			TraceID: req.TraceID,
		})
		br := domain.BatchResult{Ability: item.Ability}
		switch {
		case res.Status == http.StatusOK:
			br.OK = true
			if r, ok := res.Body["result"].(map[string]interface{}); ok {
				br.Result = r
			}
		case res.Status == http.StatusAccepted:
			br.OK = true
			br.Result = res.Body
		default:
			if msg, ok := res.Body["error"].(string); ok {
				br.Error = msg
			} else {
				br.Error = fmt.Sprintf("status %d", res.Status)
			}
		}
		results = append(results, br)

		// Фатальные исходы: дальше идти бессмысленно
		if res.Status == http.StatusTooManyRequests || res.Status == http.StatusNotFound {
			break
		}
	}

	return &Result{Status: http.StatusOK, Body: map[string]interface{}{"results": results}}
}

// ExecuteApproved исполняет одобренный оператором запрос.
// Инвариант: запрос снимается из очереди ДО исполнения — упавшее
// исполнение не оставляет его на повторное одобрение.
func (p *Pipeline) ExecuteApproved(ctx context.Context, approvalID, reviewer string) (*Result, error) {
	item, err := p.approvals.Take(ctx, approvalID)
	if err != nil {
		return nil, err
	}
	p.sink.Insert(audit.EventAbilityApproved, source, "ability approved by operator",
		map[string]interface{}{"approval_id": item.ID, "ability": item.Ability, "reviewer": reviewer})
	return p.execute(ctx, item.Ability, item.Params, item.TraceID), nil
}

// abilityErrorResult переводит типизированные ошибки реестра в протокольные
// статусы: нет такой способности — 404, отключена — 403, остальное — 422.
func abilityErrorResult(err error) *Result {
	status := http.StatusUnprocessableEntity
	switch {
	case errors.Is(err, abilities.ErrUnknown):
		status = http.StatusNotFound
	case errors.Is(err, abilities.ErrDisabled):
		status = http.StatusForbidden
	}
	return &Result{
		Status: status,
		Body:   map[string]interface{}{"error": err.Error()},
	}
}

func internalError() *Result {
	return &Result{
		Status: http.StatusInternalServerError,
		Body:   map[string]interface{}{"error": "internal error"},
	}
}
