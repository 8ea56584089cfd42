package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xela07ax/pinch-bridge/internal/audit"
)

// AuditRepo — персистентный слой журнала аудита (таблица audit_log).
type AuditRepo struct {
	pool *pgxpool.Pool
}

func NewAuditRepo(ctx context.Context, connString string, maxConns, minConns int32) (*AuditRepo, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("postgres: invalid conn string: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if minConns > 0 {
		cfg.MinConns = minConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to create pool: %w", err)
	}
	return &AuditRepo{pool: pool}, nil
}

// Ping проверяет доступность базы при старте.
func (r *AuditRepo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *AuditRepo) Close() {
	r.pool.Close()
}

// WriteBatch сохраняет пачку записей за один запрос (Bulk Insert).
func (r *AuditRepo) WriteBatch(ctx context.Context, entries []audit.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	const numFields = 6
	var sb strings.Builder
	vals := make([]interface{}, 0, len(entries)*numFields)

	for i, e := range entries {
		p := i * numFields
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d)", p+1, p+2, p+3, p+4, p+5, p+6)

		contextJSON, _ := json.Marshal(e.Context)
		vals = append(vals, e.ID, e.EventType, e.Source, e.Message, contextJSON, e.CreatedAt)
	}

	query := fmt.Sprintf(
		"INSERT INTO audit_log (id, event_type, source, message, context, created_at) VALUES %s",
		sb.String(),
	)

	if _, err := r.pool.Exec(ctx, query, vals...); err != nil {
		return fmt.Errorf("postgres: failed to write audit batch: %w", err)
	}
	return nil
}

// FetchLogs отдает свежие записи с опциональными фильтрами по типу и источнику.
func (r *AuditRepo) FetchLogs(ctx context.Context, eventType, source string, limit int) ([]audit.Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `SELECT id, event_type, source, message, context, created_at FROM audit_log`
	var conds []string
	var args []interface{}

	if eventType != "" {
		args = append(args, eventType)
		conds = append(conds, fmt.Sprintf("event_type = $%d", len(args)))
	}
	if source != "" {
		args = append(args, source)
		conds = append(conds, fmt.Sprintf("source = $%d", len(args)))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query audit log: %w", err)
	}
	defer rows.Close()

	// Инициализируем пустой слайс, чтобы в JSON был [] вместо null
	results := make([]audit.Entry, 0)
	for rows.Next() {
		var e audit.Entry
		var contextJSON []byte
		if err := rows.Scan(&e.ID, &e.EventType, &e.Source, &e.Message, &contextJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan audit entry: %w", err)
		}
		if len(contextJSON) > 0 {
			_ = json.Unmarshal(contextJSON, &e.Context)
		}
		results = append(results, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}

	return results, nil
}

// CountSince — число событий типа eventType начиная с момента since.
// Дашборд консоли строит на этом сводку за сутки.
func (r *AuditRepo) CountSince(ctx context.Context, eventType string, since time.Time) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM audit_log WHERE event_type = $1 AND created_at >= $2`,
		eventType, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to count audit entries: %w", err)
	}
	return count, nil
}

// PurgeOlderThan выметает записи старше cutoff. Возвращает число удаленных.
// Вызывается плановой чисткой раз в сутки (retention 90 дней).
func (r *AuditRepo) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM audit_log WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to purge audit log: %w", err)
	}
	return tag.RowsAffected(), nil
}
