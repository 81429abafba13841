package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditLog is one operational event stored in audit_logs. Stock events are
// raised by processes, not users, so entries carry the emitting source.
type AuditLog struct {
	Source   string
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

// AuditLogger writes records into audit_logs.
type AuditLogger struct {
	pool   *pgxpool.Pool
	source string
}

// NewAuditLogger returns an AuditLogger that stamps entries without a source
// with source.
func NewAuditLogger(pool *pgxpool.Pool, source string) *AuditLogger {
	return &AuditLogger{pool: pool, source: source}
}

// Record persists the log entry. A zero At means now.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil || l.pool == nil {
		return errors.New("audit logger not initialised")
	}
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	if log.Source == "" {
		log.Source = l.source
	}
	meta, err := json.Marshal(log.Meta)
	if err != nil {
		return err
	}
	_, err = l.pool.Exec(ctx, `
		INSERT INTO audit_logs (source, action, entity, entity_id, meta, occurred_at)
		VALUES (@source, @action, @entity, @entity_id, @meta, COALESCE(@occurred_at, NOW()))`,
		pgx.NamedArgs{
			"source":      log.Source,
			"action":      log.Action,
			"entity":      log.Entity,
			"entity_id":   log.EntityID,
			"meta":        meta,
			"occurred_at": pgtype.Timestamptz{Time: log.At, Valid: !log.At.IsZero()},
		})
	return err
}
