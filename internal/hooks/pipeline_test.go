package hooks

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/pinch-bridge/internal/abilities"
	"github.com/xela07ax/pinch-bridge/internal/audit"
	"github.com/xela07ax/pinch-bridge/internal/domain"
	"github.com/xela07ax/pinch-bridge/internal/features"
	"github.com/xela07ax/pinch-bridge/internal/kv"
	"github.com/xela07ax/pinch-bridge/internal/loopguard"
	"github.com/xela07ax/pinch-bridge/internal/ratelimit"
)

// fakeNotifier протоколирует исходящие уведомления конвейера.
type fakeNotifier struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeNotifier) Dispatch(_ context.Context, event, _ string, _ map[string]interface{}, _ int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return true
}

type fakePurger struct {
	cutoff time.Time
	purged int64
	err    error
}

func (f *fakePurger) PurgeOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return f.purged, f.err
}

type pipelineRig struct {
	p         *Pipeline
	sink      *audit.MemorySink
	notifier  *fakeNotifier
	purger    *fakePurger
	approvals *ApprovalQueue
	registry  *abilities.Registry
	guard     *loopguard.Guard
	execErr   error // подставная ошибка исполнения write_thing
	now       time.Time
}

// newPipelineRig собирает конвейер с двумя способностями:
// write_thing (write) и read_thing (read-only).
func newPipelineRig(t *testing.T, budgetCap int, flags map[string]bool, approval ...string) *pipelineRig {
	t.Helper()

	rig := &pipelineRig{
		sink:     &audit.MemorySink{},
		notifier: &fakeNotifier{},
		purger:   &fakePurger{purged: 17},
		now:      time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	store := kv.NewMemoryStore()
	store.Now = func() time.Time { return rig.now }

	rig.registry = abilities.NewRegistry(approval)
	require.NoError(t, rig.registry.Register(&abilities.Ability{
		Name:  "write_thing",
		Write: true,
		Handler: func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
			if rig.execErr != nil {
				return nil, rig.execErr
			}
			return map[string]interface{}{"done": true, "actor": Actor(ctx)}, nil
		},
	}))
	require.NoError(t, rig.registry.Register(&abilities.Ability{
		Name: "read_thing",
		Handler: func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
			if _, ok := params["required"]; !ok {
				return nil, abilities.ErrBadParam
			}
			return map[string]interface{}{"value": 1}, nil
		},
	}))

	rig.guard = loopguard.New()
	rig.approvals = NewApprovalQueue(store, rig.sink).WithClock(func() time.Time { return rig.now })

	budget := ratelimit.NewBudget(store, budgetCap, 80).WithClock(func() time.Time { return rig.now })

	rig.p = NewPipeline(PipelineOptions{
		Registry:  rig.registry,
		Budget:    budget,
		Approvals: rig.approvals,
		Identity:  NewIdentity("svc-agent", rig.guard),
		Notifier:  rig.notifier,
		Purger:    rig.purger,
		Sink:      rig.sink,
		Flags:     features.New(flags),
		Logger:    zap.NewNop(),
	}).WithClock(func() time.Time { return rig.now })

	return rig
}

func TestPipelinePing(t *testing.T) {
	rig := newPipelineRig(t, 0, nil)

	res := rig.p.Handle(context.Background(), &domain.HookRequest{Action: domain.ActionPing})

	assert.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, "ok", res.Body["status"])
	assert.Equal(t, "svc-agent", res.Body["agent"])
}

func TestPipelineUnknownAction(t *testing.T) {
	rig := newPipelineRig(t, 0, nil)
	res := rig.p.Handle(context.Background(), &domain.HookRequest{Action: "self_destruct"})
	assert.Equal(t, http.StatusBadRequest, res.Status)
}

func TestExecuteUnknownAndDisabledAbility(t *testing.T) {
	rig := newPipelineRig(t, 0, nil)
	ctx := context.Background()

	res := rig.p.Handle(ctx, &domain.HookRequest{Action: domain.ActionExecute, Ability: "no_such"})
	assert.Equal(t, http.StatusNotFound, res.Status)

	rig.registry.Disable("read_thing")
	res = rig.p.Handle(ctx, &domain.HookRequest{Action: domain.ActionExecute, Ability: "read_thing"})
	assert.Equal(t, http.StatusForbidden, res.Status)
	assert.Empty(t, rig.sink.ByType(audit.EventAbilityExecuted), "disabled ability never executes")
}

func TestExecuteBadParams(t *testing.T) {
	rig := newPipelineRig(t, 0, nil)

	res := rig.p.Handle(context.Background(), &domain.HookRequest{
		Action: domain.ActionExecute, Ability: "read_thing", Params: map[string]interface{}{},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, res.Status)
}

func TestExecuteRunsUnderAgentIdentity(t *testing.T) {
	rig := newPipelineRig(t, 0, nil)

	res := rig.p.Handle(context.Background(), &domain.HookRequest{Action: domain.ActionExecute, Ability: "write_thing"})

	require.Equal(t, http.StatusOK, res.Status)
	result := res.Body["result"].(map[string]interface{})
	assert.Equal(t, "svc-agent", result["actor"])
	assert.False(t, rig.guard.Active(), "loop suppression released after execution")
	require.Len(t, rig.sink.ByType(audit.EventAbilityExecuted), 1)
}

func TestExecutionFailureReleasesGuardAndAudits(t *testing.T) {
	rig := newPipelineRig(t, 0, nil)
	rig.execErr = errors.New("site exploded")

	res := rig.p.Handle(context.Background(), &domain.HookRequest{Action: domain.ActionExecute, Ability: "write_thing"})

	assert.Equal(t, http.StatusUnprocessableEntity, res.Status)
	assert.False(t, rig.guard.Active())
	require.Len(t, rig.sink.ByType(audit.EventAbilityFailed), 1)
}

func TestApprovalRequiredQueuesInsteadOfExecuting(t *testing.T) {
	rig := newPipelineRig(t, 0, map[string]bool{features.ApprovalWorkflow: true}, "write_thing")
	ctx := context.Background()

	res := rig.p.Handle(ctx, &domain.HookRequest{Action: domain.ActionExecute, Ability: "write_thing"})

	require.Equal(t, http.StatusAccepted, res.Status)
	assert.Equal(t, "queued", res.Body["status"])
	assert.NotEmpty(t, res.Body["approval_id"])

	assert.Empty(t, rig.sink.ByType(audit.EventAbilityExecuted), "queued ability must not run")
	require.Len(t, rig.sink.ByType(audit.EventAbilityQueued), 1)

	pending, err := rig.approvals.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	// Повторный эквивалентный запрос не плодит дублей.
	res2 := rig.p.Handle(ctx, &domain.HookRequest{Action: domain.ActionExecute, Ability: "write_thing"})
	assert.Equal(t, res.Body["approval_id"], res2.Body["approval_id"])
	pending, _ = rig.approvals.Pending(ctx)
	assert.Len(t, pending, 1)
}

func TestApprovalListIgnoredWhenFeatureOff(t *testing.T) {
	rig := newPipelineRig(t, 0, nil, "write_thing")

	res := rig.p.Handle(context.Background(), &domain.HookRequest{Action: domain.ActionExecute, Ability: "write_thing"})

	assert.Equal(t, http.StatusOK, res.Status, "approval list is inert without the workflow feature")
}

func TestBudgetExhaustedRejectsBeforeExecution(t *testing.T) {
	rig := newPipelineRig(t, 2, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res := rig.p.Handle(ctx, &domain.HookRequest{Action: domain.ActionExecute, Ability: "write_thing"})
		require.Equal(t, http.StatusOK, res.Status)
	}

	res := rig.p.Handle(ctx, &domain.HookRequest{Action: domain.ActionExecute, Ability: "write_thing"})
	assert.Equal(t, http.StatusTooManyRequests, res.Status)
	assert.Positive(t, res.RetryAfter)
	assert.Len(t, rig.sink.ByType(audit.EventAbilityExecuted), 2, "third write never ran")

	// Read-способности бюджетом не ограничены.
	res = rig.p.Handle(ctx, &domain.HookRequest{
		Action: domain.ActionExecute, Ability: "read_thing", Params: map[string]interface{}{"required": true},
	})
	assert.Equal(t, http.StatusOK, res.Status)
}

func TestBudgetAlertFiresOnceAndNotifiesGateway(t *testing.T) {
	// cap 10, порог 80% — тревога на 8-м write, ровно один раз.
	rig := newPipelineRig(t, 10, nil)
	ctx := context.Background()

	for i := 0; i < 9; i++ {
		res := rig.p.Handle(ctx, &domain.HookRequest{Action: domain.ActionExecute, Ability: "write_thing"})
		require.Equal(t, http.StatusOK, res.Status)
	}

	assert.Len(t, rig.sink.ByType(audit.EventBudgetAlert), 1)
	assert.Equal(t, []string{"governance_finding"}, rig.notifier.events)
}

func TestBatchValidatesShapeBeforeRunningAnything(t *testing.T) {
	rig := newPipelineRig(t, 0, nil)

	res := rig.p.Handle(context.Background(), &domain.HookRequest{
		Action: domain.ActionExecuteBatch,
		Batch: []domain.BatchItem{
			{Ability: "write_thing"},
			{Ability: ""}, // сломанный пункт
		},
	})

	assert.Equal(t, http.StatusBadRequest, res.Status)
	assert.Empty(t, rig.sink.ByType(audit.EventAbilityExecuted), "malformed batch runs nothing")
}

func TestBatchSequentialPartialResults(t *testing.T) {
	rig := newPipelineRig(t, 0, nil)

	res := rig.p.Handle(context.Background(), &domain.HookRequest{
		Action: domain.ActionExecuteBatch,
		Batch: []domain.BatchItem{
			{Ability: "write_thing"},
			{Ability: "read_thing"}, // без required — ошибка параметров
			{Ability: "read_thing", Params: map[string]interface{}{"required": true}},
		},
	})

	require.Equal(t, http.StatusOK, res.Status)
	results := res.Body["results"].([]domain.BatchResult)
	require.Len(t, results, 3)
	assert.True(t, results[0].OK)
	assert.False(t, results[1].OK)
	assert.NotEmpty(t, results[1].Error)
	assert.True(t, results[2].OK, "failure of one item does not stop the rest")
}

// Исчерпанный бюджет — фатальный исход: исполненное остается,
// хвост батча не стартует вовсе.
func TestBatchAbortsOnBudgetRejection(t *testing.T) {
	rig := newPipelineRig(t, 1, nil)

	res := rig.p.Handle(context.Background(), &domain.HookRequest{
		Action: domain.ActionExecuteBatch,
		Batch: []domain.BatchItem{
			{Ability: "write_thing"},
			{Ability: "write_thing"},
			{Ability: "read_thing", Params: map[string]interface{}{"required": true}},
		},
	})

	require.Equal(t, http.StatusOK, res.Status)
	results := res.Body["results"].([]domain.BatchResult)
	require.Len(t, results, 2, "items after the budget rejection are not attempted")
	assert.True(t, results[0].OK)
	assert.False(t, results[1].OK)
	assert.NotEmpty(t, results[1].Error)
	require.Len(t, rig.sink.ByType(audit.EventAbilityExecuted), 1)
}

// Отсутствующая способность — тоже фатальный исход для батча.
func TestBatchAbortsOnUnknownAbility(t *testing.T) {
	rig := newPipelineRig(t, 0, nil)

	res := rig.p.Handle(context.Background(), &domain.HookRequest{
		Action: domain.ActionExecuteBatch,
		Batch: []domain.BatchItem{
			{Ability: "no_such"},
			{Ability: "write_thing"},
		},
	})

	require.Equal(t, http.StatusOK, res.Status)
	results := res.Body["results"].([]domain.BatchResult)
	require.Len(t, results, 1)
	assert.False(t, results[0].OK)
	assert.Empty(t, rig.sink.ByType(audit.EventAbilityExecuted))
}

func TestExecuteApprovedRemovesBeforeExecution(t *testing.T) {
	rig := newPipelineRig(t, 0, map[string]bool{features.ApprovalWorkflow: true}, "write_thing")
	ctx := context.Background()

	queued := rig.p.Handle(ctx, &domain.HookRequest{Action: domain.ActionExecute, Ability: "write_thing"})
	id := queued.Body["approval_id"].(string)

	// Исполнение падает, но запрос уже снят — второго одобрения не будет.
	rig.execErr = errors.New("site exploded")
	res, err := rig.p.ExecuteApproved(ctx, id, "admin")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, res.Status)

	pending, _ := rig.approvals.Pending(ctx)
	assert.Empty(t, pending, "failed execution must not requeue the approval")

	_, err = rig.p.ExecuteApproved(ctx, id, "admin")
	assert.ErrorIs(t, err, domain.ErrApprovalNotFound)
}

func TestRejectRemovesWithoutExecuting(t *testing.T) {
	rig := newPipelineRig(t, 0, map[string]bool{features.ApprovalWorkflow: true}, "write_thing")
	ctx := context.Background()

	queued := rig.p.Handle(ctx, &domain.HookRequest{Action: domain.ActionExecute, Ability: "write_thing"})
	id := queued.Body["approval_id"].(string)

	require.NoError(t, rig.approvals.Reject(ctx, id, "admin", "looks dangerous"))

	assert.Empty(t, rig.sink.ByType(audit.EventAbilityExecuted))
	require.Len(t, rig.sink.ByType(audit.EventAbilityRejected), 1)

	pending, _ := rig.approvals.Pending(ctx)
	assert.Empty(t, pending)
}

func TestGovernanceAuditCleanup(t *testing.T) {
	rig := newPipelineRig(t, 0, nil)

	res := rig.p.Handle(context.Background(), &domain.HookRequest{
		Action: domain.ActionRunGovernance, Task: TaskAuditCleanup,
	})

	require.Equal(t, http.StatusOK, res.Status)
	report := res.Body["report"].(map[string]interface{})
	assert.EqualValues(t, 17, report["purged"])
	assert.Equal(t, rig.now.AddDate(0, 0, -90), rig.purger.cutoff)
	require.Len(t, rig.sink.ByType(audit.EventGovernanceRun), 1)
}

func TestGovernanceBudgetReport(t *testing.T) {
	rig := newPipelineRig(t, 10, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		rig.p.Handle(ctx, &domain.HookRequest{Action: domain.ActionExecute, Ability: "write_thing"})
	}

	res := rig.p.Handle(ctx, &domain.HookRequest{Action: domain.ActionRunGovernance, Task: TaskBudgetReport})
	require.Equal(t, http.StatusOK, res.Status)
	report := res.Body["report"].(map[string]interface{})
	assert.EqualValues(t, 3, report["used"])
	assert.EqualValues(t, 7, report["remaining"])
}

func TestGovernanceStaleApprovals(t *testing.T) {
	rig := newPipelineRig(t, 0, map[string]bool{features.ApprovalWorkflow: true}, "write_thing")
	ctx := context.Background()

	rig.p.Handle(ctx, &domain.HookRequest{Action: domain.ActionExecute, Ability: "write_thing"})

	// Прошло трое суток — запрос завис.
	rig.now = rig.now.Add(72 * time.Hour)

	res := rig.p.Handle(ctx, &domain.HookRequest{Action: domain.ActionRunGovernance, Task: TaskStaleApprovals})
	require.Equal(t, http.StatusOK, res.Status)
	report := res.Body["report"].(map[string]interface{})
	assert.EqualValues(t, 1, report["pending"])
	assert.Len(t, report["stale"], 1)
}

func TestGovernanceUnknownTask(t *testing.T) {
	rig := newPipelineRig(t, 0, nil)
	res := rig.p.Handle(context.Background(), &domain.HookRequest{Action: domain.ActionRunGovernance, Task: "mine_bitcoin"})
	assert.Equal(t, http.StatusNotFound, res.Status)
}
