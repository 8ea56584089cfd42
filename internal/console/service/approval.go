package service

import (
	"context"
	"fmt"

	"github.com/xela07ax/pinch-bridge/internal/domain"
	"github.com/xela07ax/pinch-bridge/internal/hooks"
)

// ApprovalService — HITL-операции консоли поверх durable-очереди и конвейера.
type ApprovalService struct {
	queue    *hooks.ApprovalQueue
	pipeline *hooks.Pipeline
}

func NewApprovalService(queue *hooks.ApprovalQueue, pipeline *hooks.Pipeline) *ApprovalService {
	return &ApprovalService{queue: queue, pipeline: pipeline}
}

func (s *ApprovalService) GetApprovals(ctx context.Context) ([]domain.ApprovalItem, error) {
	items, err := s.queue.Pending(ctx)
	if err != nil {
		return nil, fmt.Errorf("approval_service: failed to load queue: %w", err)
	}
	if items == nil {
		items = []domain.ApprovalItem{} // [] вместо null в JSON
	}
	return items, nil
}

// DecideApproval — решение оператора. Approve исполняет способность через
// общий конвейер (снятие из очереди до исполнения), Reject просто снимает.
func (s *ApprovalService) DecideApproval(ctx context.Context, id string, approved bool, reviewer, comment string) (*hooks.Result, error) {
	if !approved {
		if err := s.queue.Reject(ctx, id, reviewer, comment); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return s.pipeline.ExecuteApproved(ctx, id, reviewer)
}
