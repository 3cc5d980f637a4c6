package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xela07ax/purposegate/internal/audit"
	"github.com/xela07ax/purposegate/internal/infra"
)

// Схема таблицы аудита. Применяется при старте (CREATE IF NOT EXISTS), миграций у сервиса нет.
const auditSchema = `
CREATE TABLE IF NOT EXISTS decision_audit (
	id            UUID PRIMARY KEY,
	trace_id      TEXT        NOT NULL,
	transport     TEXT        NOT NULL,
	tool          TEXT        NOT NULL,
	caller_app_id TEXT        NOT NULL,
	purpose       TEXT        NOT NULL,
	allowed       BOOLEAN     NOT NULL,
	reason        TEXT        NOT NULL,
	error_type    TEXT        NOT NULL,
	duration_us   BIGINT      NOT NULL,
	ts            TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS decision_audit_ts_idx ON decision_audit (ts);`

var auditColumns = []string{
	"id", "trace_id", "transport", "tool", "caller_app_id", "purpose",
	"allowed", "reason", "error_type", "duration_us", "ts",
}

type AuditRepo struct {
	pool *pgxpool.Pool
}

// NewAuditRepo открывает пул, проверяет соединение и создает таблицу.
func NewAuditRepo(ctx context.Context, cfg infra.DatabaseConfig) (*AuditRepo, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, auditSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ensure schema: %w", err)
	}
	return &AuditRepo{pool: pool}, nil
}

func (r *AuditRepo) WriteBatch(ctx context.Context, events []audit.Event) error {
	if len(events) == 0 {
		return nil
	}
	query, args := buildInsert(events)
	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("postgres: insert %d audit events: %w", len(events), err)
	}
	return nil
}

func (r *AuditRepo) Close() {
	r.pool.Close()
}

// buildInsert динамически строит один multi-row INSERT на всю пачку
func buildInsert(events []audit.Event) (string, []any) {
	numFields := len(auditColumns)
	args := make([]any, 0, len(events)*numFields)

	var sb strings.Builder
	sb.WriteString("INSERT INTO decision_audit (")
	sb.WriteString(strings.Join(auditColumns, ", "))
	sb.WriteString(") VALUES ")

	for i, e := range events {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for j := 0; j < numFields; j++ {
			if j > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", i*numFields+j+1)
		}
		sb.WriteByte(')')

		args = append(args,
			e.ID, e.TraceID, e.Transport, e.ToolID, e.CallerAppID, e.Purpose,
			e.Allowed, e.Reason, e.ErrorType, e.DurationUs, e.Timestamp,
		)
	}
	// Повторная доставка пачки после таймаута не должна падать на PK
	sb.WriteString(" ON CONFLICT (id) DO NOTHING")
	return sb.String(), args
}
