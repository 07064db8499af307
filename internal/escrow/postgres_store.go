package escrow

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists escrow data in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed escrow store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

const escrowColumns = `id, transaction_id, COALESCE(order_id, ''), farmer_id, transporter_id, amount, currency,
		       status, held_until, disputed_at, resolved_at,
		       dispute_reason, COALESCE(disputed_by, ''), resolution,
		       COALESCE(partial_release_amount::TEXT, ''), COALESCE(partial_refund_amount::TEXT, ''),
		       created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, e *Escrow) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO escrows (
			id, transaction_id, order_id, farmer_id, transporter_id, amount, currency,
			status, held_until, disputed_at, resolved_at,
			dispute_reason, disputed_by, resolution,
			partial_release_amount, partial_refund_amount,
			created_at, updated_at
		) VALUES (
			$1, $2, NULLIF($3, ''), $4, $5, $6::NUMERIC(20,2), $7,
			$8, $9, $10, $11,
			$12, NULLIF($13, ''), $14,
			NULLIF($15, '')::NUMERIC(20,2), NULLIF($16, '')::NUMERIC(20,2),
			$17, $18
		)`,
		e.ID, e.TransactionID, e.OrderID, e.FarmerID, e.TransporterID, e.Amount, e.Currency,
		string(e.Status), e.HeldUntil, nullTime(e.DisputedAt), nullTime(e.ResolvedAt),
		nullString(e.DisputeReason), e.DisputedBy, nullString(e.Resolution),
		e.PartialReleaseAmount, e.PartialRefundAmount,
		e.CreatedAt, e.UpdatedAt,
	)
	if err != nil && isUniqueViolation(err) {
		return ErrDuplicateEscrow
	}
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Escrow, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE id = $1`, id)
	e, err := scanEscrow(row)
	if err == sql.ErrNoRows {
		return nil, ErrEscrowNotFound
	}
	return e, err
}

func (p *PostgresStore) GetByTransaction(ctx context.Context, transactionID string) (*Escrow, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+escrowColumns+` FROM escrows WHERE transaction_id = $1`, transactionID)
	e, err := scanEscrow(row)
	if err == sql.ErrNoRows {
		return nil, ErrEscrowNotFound
	}
	return e, err
}

func (p *PostgresStore) UpdateStatusFrom(ctx context.Context, e *Escrow, from []Status) error {
	fromStrs := make([]string, len(from))
	for i, f := range from {
		fromStrs[i] = string(f)
	}
	result, err := p.db.ExecContext(ctx, `
		UPDATE escrows SET
			status = $2, disputed_at = $3, resolved_at = $4,
			dispute_reason = $5, disputed_by = NULLIF($6, ''), resolution = $7,
			partial_release_amount = NULLIF($8, '')::NUMERIC(20,2),
			partial_refund_amount = NULLIF($9, '')::NUMERIC(20,2),
			updated_at = $10
		WHERE id = $1 AND status = ANY($11)`,
		e.ID, string(e.Status), nullTime(e.DisputedAt), nullTime(e.ResolvedAt),
		nullString(e.DisputeReason), e.DisputedBy, nullString(e.Resolution),
		e.PartialReleaseAmount, e.PartialRefundAmount,
		e.UpdatedAt, pq.Array(fromStrs),
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
			`SELECT EXISTS(SELECT 1 FROM escrows WHERE id = $1)`, e.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrEscrowNotFound
		}
		return ErrInvalidEscrowState
	}
	return nil
}

func (p *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Escrow, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+escrowColumns+`
		FROM escrows
		WHERE farmer_id = $1 OR transporter_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanEscrows(rows)
}

func (p *PostgresStore) ListByStatus(ctx context.Context, status Status, limit int) ([]*Escrow, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+escrowColumns+`
		FROM escrows
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2`, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanEscrows(rows)
}

func (p *PostgresStore) ListExpired(ctx context.Context, before time.Time, limit int) ([]*Escrow, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+escrowColumns+`
		FROM escrows
		WHERE status = 'HELD'
		  AND held_until < $1
		ORDER BY held_until ASC
		LIMIT $2`, before, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanEscrows(rows)
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEscrow(s scanner) (*Escrow, error) {
	e := &Escrow{}
	var (
		status        string
		disputedAt    sql.NullTime
		resolvedAt    sql.NullTime
		disputeReason sql.NullString
		resolution    sql.NullString
	)

	err := s.Scan(
		&e.ID, &e.TransactionID, &e.OrderID, &e.FarmerID, &e.TransporterID, &e.Amount, &e.Currency,
		&status, &e.HeldUntil, &disputedAt, &resolvedAt,
		&disputeReason, &e.DisputedBy, &resolution,
		&e.PartialReleaseAmount, &e.PartialRefundAmount,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Status = Status(status)
	e.DisputeReason = disputeReason.String
	e.Resolution = resolution.String
	if disputedAt.Valid {
		e.DisputedAt = &disputedAt.Time
	}
	if resolvedAt.Valid {
		e.ResolvedAt = &resolvedAt.Time
	}
	return e, nil
}

func scanEscrows(rows *sql.Rows) ([]*Escrow, error) {
	var result []*Escrow
	for rows.Next() {
		e, err := scanEscrow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
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
