package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PostgresLogger writes audit entries to PostgreSQL.
type PostgresLogger struct {
	db *sql.DB
}

// NewPostgresLogger creates an audit logger backed by PostgreSQL.
func NewPostgresLogger(db *sql.DB) *PostgresLogger {
	return &PostgresLogger{db: db}
}

func (l *PostgresLogger) Append(ctx context.Context, entry *Entry) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO audit_log (entity_type, entity_id, actor_type, actor_id, action, amount, reference,
			before_state, after_state, success, error_message, request_id, ip_address, description, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, '')::NUMERIC(20,2), $7, $8::JSONB, $9::JSONB, $10, $11, $12, $13, $14, NOW())
	`, entry.EntityType, entry.EntityID, entry.ActorType, entry.ActorID, entry.Action, entry.Amount,
		entry.Reference, orEmptyJSON(entry.BeforeState), orEmptyJSON(entry.AfterState),
		entry.Success, entry.ErrorMessage, entry.RequestID, entry.IPAddress, entry.Description)
	return err
}

func (l *PostgresLogger) Search(ctx context.Context, q Query) ([]*Entry, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	var conds []string
	var args []interface{}
	add := func(cond string, val interface{}) {
		args = append(args, val)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if q.EntityType != "" {
		add("entity_type = $%d", q.EntityType)
	}
	if q.EntityID != "" {
		add("entity_id = $%d", q.EntityID)
	}
	if q.ActorID != "" {
		add("actor_id = $%d", q.ActorID)
	}
	if q.Action != "" {
		add("action = $%d", q.Action)
	}
	if !q.From.IsZero() {
		add("created_at >= $%d", q.From)
	}
	if !q.To.IsZero() {
		add("created_at <= $%d", q.To)
	}

	query := `SELECT id, entity_type, entity_id, actor_type, COALESCE(actor_id, ''), action,
		COALESCE(amount::TEXT, ''), COALESCE(reference, ''),
		COALESCE(before_state::TEXT, '{}'), COALESCE(after_state::TEXT, '{}'),
		success, COALESCE(error_message, ''),
		COALESCE(request_id, ''), COALESCE(ip_address, ''), COALESCE(description, ''), created_at
		FROM audit_log`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		if err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &e.ActorType, &e.ActorID, &e.Action,
			&e.Amount, &e.Reference, &e.BeforeState, &e.AfterState,
			&e.Success, &e.ErrorMessage,
			&e.RequestID, &e.IPAddress, &e.Description, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func orEmptyJSON(s string) string {
	if s == "" {
		return "{}"
	}
	return s
}

var _ Logger = (*PostgresLogger)(nil)
