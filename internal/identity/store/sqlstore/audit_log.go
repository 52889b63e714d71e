package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anamul94/DietGuard/internal/identity/domain"
	"github.com/anamul94/DietGuard/internal/identity/store"
)

type auditLogRepo struct {
	q queries
}

func (r *auditLogRepo) Append(ctx context.Context, e domain.AuditEntry) error {
	var meta sql.NullString
	if len(e.Extra) > 0 {
		b, err := json.Marshal(e.Extra)
		if err != nil {
			return fmt.Errorf("marshal audit metadata: %w", err)
		}
		meta = sql.NullString{String: string(b), Valid: true}
	}
	_, err := r.q.exec(ctx, `
INSERT INTO audit_log (id, occurred_at, kind, actor_id, outcome, ip, user_agent, reason, request_id, metadata)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.OccurredAt.UTC(), string(e.Kind), mapOptionalString(e.ActorID), string(e.Outcome),
		e.IP, e.UserAgent, e.Reason, e.RequestID, meta)
	if r.q.d.uniqueViolation(err) {
		return store.ErrAlreadyExists
	}
	return err
}

func (r *auditLogRepo) List(ctx context.Context, f domain.AuditFilter) ([]domain.AuditEntry, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	var (
		where []string
		args  []any
	)
	if f.ActorID != "" {
		where = append(where, "actor_id = ?")
		args = append(args, f.ActorID)
	}
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(f.Kind))
	}
	query := `
SELECT id, occurred_at, kind, actor_id, outcome, ip, user_agent, reason, request_id, metadata
FROM audit_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += `
ORDER BY occurred_at DESC, id DESC
LIMIT ? OFFSET ?`
	args = append(args, limit, max(0, f.Offset))

	rows, err := r.q.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var (
			e             domain.AuditEntry
			kind, outcome string
			actor, meta   sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.OccurredAt, &kind, &actor, &outcome,
			&e.IP, &e.UserAgent, &e.Reason, &e.RequestID, &meta); err != nil {
			return nil, err
		}
		e.OccurredAt = e.OccurredAt.UTC()
		e.Kind = domain.AuditKind(kind)
		e.Outcome = domain.AuditOutcome(outcome)
		e.ActorID = mapNullStringPtr(actor)
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &e.Extra); err != nil {
				return nil, fmt.Errorf("unmarshal audit metadata: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
