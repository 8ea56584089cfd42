package hooks

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/pinch-bridge/internal/audit"
	"github.com/xela07ax/pinch-bridge/internal/domain"
)

// Известные governance-задачи.
const (
	TaskAuditCleanup   = "audit_cleanup"
	TaskBudgetReport   = "budget_report"
	TaskStaleApprovals = "stale_approvals_report"
)

// staleAfter — возраст, после которого неодобренный запрос считается
// зависшим: оператор либо не заметил, либо сознательно игнорирует.
const staleAfter = 48 * time.Hour

// runGovernance исполняет служебную задачу по имени.
// Шлюз дергает их по своему расписанию, cron на нашей стороне не нужен.
func (p *Pipeline) runGovernance(ctx context.Context, req *domain.HookRequest) *Result {
	var report map[string]interface{}
	var err error

	switch req.Task {
	case TaskAuditCleanup:
		report, err = p.auditCleanup(ctx)
	case TaskBudgetReport:
		report, err = p.budgetReport(ctx)
	case TaskStaleApprovals:
		report, err = p.staleApprovals(ctx)
	default:
		return &Result{
			Status: http.StatusNotFound,
			Body:   map[string]interface{}{"error": fmt.Sprintf("unknown governance task %q", req.Task)},
		}
	}

	if err != nil {
		p.logger.Error("governance task failed", zap.String("task", req.Task), zap.Error(err))
		return internalError()
	}

	p.sink.Insert(audit.EventGovernanceRun, source, "governance task completed",
		map[string]interface{}{"task": req.Task, "trace_id": req.TraceID})

	return &Result{
		Status: http.StatusOK,
		Body:   map[string]interface{}{"task": req.Task, "report": report},
	}
}

func (p *Pipeline) auditCleanup(ctx context.Context) (map[string]interface{}, error) {
	cutoff := p.now().AddDate(0, 0, -audit.RetentionDays)
	purged, err := p.purger.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"purged":         purged,
		"cutoff":         cutoff.UTC().Format(time.RFC3339),
		"retention_days": audit.RetentionDays,
	}, nil
}

func (p *Pipeline) budgetReport(ctx context.Context) (map[string]interface{}, error) {
	used, err := p.budget.Used(ctx)
	if err != nil {
		return nil, err
	}
	report := map[string]interface{}{
		"used": used,
		"cap":  p.budget.Cap(),
	}
	if p.budget.Cap() > 0 {
		report["remaining"] = int64(p.budget.Cap()) - used
		report["resets_in_seconds"] = int64(p.budget.RetryAfter().Seconds())
	}
	return report, nil
}

func (p *Pipeline) staleApprovals(ctx context.Context) (map[string]interface{}, error) {
	pending, err := p.approvals.Pending(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := p.now().Add(-staleAfter)
	stale := make([]map[string]interface{}, 0)
	for _, item := range pending {
		if item.QueuedAt.Before(cutoff) {
			stale = append(stale, map[string]interface{}{
				"approval_id": item.ID,
				"ability":     item.Ability,
				"queued_at":   item.QueuedAt.UTC().Format(time.RFC3339),
			})
		}
	}

	return map[string]interface{}{
		"pending": len(pending),
		"stale":   stale,
	}, nil
}
