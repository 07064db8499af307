package dispute

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists dispute cases in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed case store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

const caseColumns = `id, escrow_id, transaction_id, COALESCE(order_id, ''), raised_by, raised_by_role, reason, evidence,
		     status, COALESCE(reviewed_by, ''), COALESCE(resolution, ''), COALESCE(resolution_note, ''),
		     COALESCE(refund_amount::TEXT, ''), COALESCE(resolved_by, ''),
		     resolved_at, closed_at, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, c *Case) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO dispute_cases (
			id, escrow_id, transaction_id, order_id, raised_by, raised_by_role, reason, evidence,
			status, reviewed_by, resolution, resolution_note,
			refund_amount, resolved_by,
			resolved_at, closed_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8,
			$9, NULLIF($10, ''), NULLIF($11, ''), NULLIF($12, ''),
			NULLIF($13, '')::NUMERIC(20,2), NULLIF($14, ''),
			$15, $16, $17, $18
		)`,
		c.ID, c.EscrowID, c.TransactionID, c.OrderID, c.RaisedBy, c.RaisedByRole, c.Reason, pq.Array(c.Evidence),
		string(c.Status), c.ReviewedBy, string(c.Resolution), c.ResolutionNote,
		c.RefundAmount, c.ResolvedBy,
		nullTime(c.ResolvedAt), nullTime(c.ClosedAt), c.CreatedAt, c.UpdatedAt,
	)
	if err != nil && isUniqueViolation(err) {
		return ErrDuplicateCase
	}
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Case, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM dispute_cases WHERE id = $1`, id)
	c, err := scanCase(row)
	if err == sql.ErrNoRows {
		return nil, ErrCaseNotFound
	}
	return c, err
}

func (p *PostgresStore) GetByEscrow(ctx context.Context, escrowID string) (*Case, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+caseColumns+` FROM dispute_cases WHERE escrow_id = $1`, escrowID)
	c, err := scanCase(row)
	if err == sql.ErrNoRows {
		return nil, ErrCaseNotFound
	}
	return c, err
}

func (p *PostgresStore) UpdateStatusFrom(ctx context.Context, c *Case, from []Status) error {
	fromStrs := make([]string, len(from))
	for i, f := range from {
		fromStrs[i] = string(f)
	}
	result, err := p.db.ExecContext(ctx, `
		UPDATE dispute_cases SET
			status = $2, reviewed_by = NULLIF($3, ''), resolution = NULLIF($4, ''),
			resolution_note = NULLIF($5, ''), refund_amount = NULLIF($6, '')::NUMERIC(20,2),
			resolved_by = NULLIF($7, ''), resolved_at = $8, closed_at = $9, updated_at = $10
		WHERE id = $1 AND status = ANY($11)`,
		c.ID, string(c.Status), c.ReviewedBy, string(c.Resolution),
		c.ResolutionNote, c.RefundAmount,
		c.ResolvedBy, nullTime(c.ResolvedAt), nullTime(c.ClosedAt), c.UpdatedAt,
		pq.Array(fromStrs),
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		var exists bool
		if err := p.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM dispute_cases WHERE id = $1)`, c.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrCaseNotFound
		}
		return ErrInvalidCaseState
	}
	return nil
}

func (p *PostgresStore) ListByStatus(ctx context.Context, status Status, limit int) ([]*Case, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+caseColumns+`
		FROM dispute_cases
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2`, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanCases(rows)
}

func (p *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Case, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+caseColumns+`
		FROM dispute_cases
		WHERE raised_by = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanCases(rows)
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanCase(s scanner) (*Case, error) {
	c := &Case{}
	var (
		status     string
		resolution string
		evidence   pq.StringArray
		resolvedAt sql.NullTime
		closedAt   sql.NullTime
	)

	err := s.Scan(
		&c.ID, &c.EscrowID, &c.TransactionID, &c.OrderID, &c.RaisedBy, &c.RaisedByRole, &c.Reason, &evidence,
		&status, &c.ReviewedBy, &resolution, &c.ResolutionNote,
		&c.RefundAmount, &c.ResolvedBy,
		&resolvedAt, &closedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Status = Status(status)
	c.Resolution = Resolution(resolution)
	c.Evidence = []string(evidence)
	if resolvedAt.Valid {
		c.ResolvedAt = &resolvedAt.Time
	}
	if closedAt.Valid {
		c.ClosedAt = &closedAt.Time
	}
	return c, nil
}

func scanCases(rows *sql.Rows) ([]*Case, error) {
	var result []*Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func isUniqueViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return false
}
