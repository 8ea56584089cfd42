package service

import (
	"context"
	"fmt"

	"github.com/xela07ax/pinch-bridge/internal/audit"
)

// AuditLogProvider описывает контракт для чтения данных аудита.
type AuditLogProvider interface {
	FetchLogs(ctx context.Context, eventType, source string, limit int) ([]audit.Entry, error)
}

type AuditService struct {
	repo AuditLogProvider
}

func NewAuditService(repo AuditLogProvider) *AuditService {
	return &AuditService{
		repo: repo,
	}
}

const defaultLogLimit = 100

// FetchLogs запрашивает записи с фильтрацией.
// Логика фильтров (пустые строки или конкретные значения) живет в репозитории.
func (s *AuditService) FetchLogs(ctx context.Context, eventType, source string, limit int) ([]audit.Entry, error) {
	if limit <= 0 || limit > 1000 {
		limit = defaultLogLimit
	}
	logs, err := s.repo.FetchLogs(ctx, eventType, source, limit)
	if err != nil {
		return nil, fmt.Errorf("audit_service: failed to fetch logs: %w", err)
	}
	return logs, nil
}
