package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/pinch-bridge/internal/audit"
	"github.com/xela07ax/pinch-bridge/internal/breaker"
	"github.com/xela07ax/pinch-bridge/internal/domain"
	"github.com/xela07ax/pinch-bridge/internal/gateway"
	"github.com/xela07ax/pinch-bridge/internal/hooks"
	"github.com/xela07ax/pinch-bridge/internal/jobs"
	"github.com/xela07ax/pinch-bridge/internal/ratelimit"
)

// AuditCounter — счетчики журнала для сводки.
type AuditCounter interface {
	CountSince(ctx context.Context, eventType string, since time.Time) (int64, error)
}

// RetryCounter — число висящих задач хука.
type RetryCounter interface {
	PendingCount(ctx context.Context, hook string) (int, error)
}

// DashboardService собирает единую сводку моста из живых подсистем.
// Ошибки отдельных источников не валят сводку: лучше частичная картина,
// чем пустой экран у оператора.
type DashboardService struct {
	counter   AuditCounter
	retries   RetryCounter
	approvals *hooks.ApprovalQueue
	budget    *ratelimit.Budget
	client    *gateway.Client
	cb        *breaker.Breaker
	logger    *zap.Logger
	now       func() time.Time
}

func NewDashboardService(
	counter AuditCounter,
	retries RetryCounter,
	approvals *hooks.ApprovalQueue,
	budget *ratelimit.Budget,
	client *gateway.Client,
	cb *breaker.Breaker,
	logger *zap.Logger,
) *DashboardService {
	return &DashboardService{
		counter:   counter,
		retries:   retries,
		approvals: approvals,
		budget:    budget,
		client:    client,
		cb:        cb,
		logger:    logger.Named("dashboard"),
		now:       time.Now,
	}
}

func (s *DashboardService) GetDashboard(ctx context.Context) (*domain.UnifiedDashboard, error) {
	dash := &domain.UnifiedDashboard{}
	midnight := s.now().UTC().Truncate(24 * time.Hour)

	if sent, err := s.counter.CountSince(ctx, audit.EventWebhookSent, midnight); err == nil {
		dash.Webhooks.SentToday = sent
	} else {
		s.logger.Warn("failed to count sent webhooks", zap.Error(err))
	}
	if failed, err := s.counter.CountSince(ctx, audit.EventWebhookFailed, midnight); err == nil {
		dash.Webhooks.FailedToday = failed
	}
	if pending, err := s.retries.PendingCount(ctx, jobs.HookWebhookRetry); err == nil {
		dash.Webhooks.PendingJobs = pending
	}

	if used, err := s.budget.Used(ctx); err == nil {
		dash.Budget.Used = used
	}
	dash.Budget.Cap = s.budget.Cap()

	dash.Gateway.Configured = s.client.Configured()
	dash.Gateway.CircuitState = string(s.cb.State(ctx))
	if retryAfter := s.cb.RetryAfter(ctx); retryAfter > 0 {
		dash.Gateway.RetryAfterMs = retryAfter.Milliseconds()
	}

	if items, err := s.approvals.Pending(ctx); err == nil {
		dash.Approvals.Pending = len(items)
	}

	return dash, nil
}
