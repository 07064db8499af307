package receipt

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists receipts in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed receipt store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

const receiptColumns = `id, number, transaction_id, COALESCE(escrow_id, ''), farmer_id, transporter_id,
		        subtotal, platform_fee, tax, total, currency,
		        status, COALESCE(payload_hash, ''), COALESCE(signature, ''),
		        issued_at, paid_at, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, r *Receipt) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO receipts (
			id, number, transaction_id, escrow_id, farmer_id, transporter_id,
			subtotal, platform_fee, tax, total, currency,
			status, payload_hash, signature,
			issued_at, paid_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, NULLIF($4, ''), $5, $6,
			$7::NUMERIC(20,2), $8::NUMERIC(20,2), $9::NUMERIC(20,2), $10::NUMERIC(20,2), $11,
			$12, NULLIF($13, ''), NULLIF($14, ''),
			$15, $16, $17, $18
		)`,
		r.ID, r.Number, r.TransactionID, r.EscrowID, r.FarmerID, r.TransporterID,
		r.Subtotal, r.PlatformFee, r.Tax, r.Total, r.Currency,
		string(r.Status), r.PayloadHash, r.Signature,
		nullTime(r.IssuedAt), nullTime(r.PaidAt), r.CreatedAt, r.UpdatedAt,
	)
	if err != nil && isUniqueViolation(err) {
		return ErrDuplicateReceipt
	}
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Receipt, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE id = $1`, id)
	r, err := scanReceipt(row)
	if err == sql.ErrNoRows {
		return nil, ErrReceiptNotFound
	}
	return r, err
}

func (p *PostgresStore) GetByTransaction(ctx context.Context, transactionID string) (*Receipt, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+receiptColumns+` FROM receipts WHERE transaction_id = $1`, transactionID)
	r, err := scanReceipt(row)
	if err == sql.ErrNoRows {
		return nil, ErrReceiptNotFound
	}
	return r, err
}

func (p *PostgresStore) Update(ctx context.Context, r *Receipt) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE receipts SET
			status = $2, payload_hash = NULLIF($3, ''), signature = NULLIF($4, ''),
			issued_at = $5, paid_at = $6, updated_at = $7
		WHERE id = $1`,
		r.ID, string(r.Status), r.PayloadHash, r.Signature,
		nullTime(r.IssuedAt), nullTime(r.PaidAt), r.UpdatedAt,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrReceiptNotFound
	}
	return nil
}

func (p *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Receipt, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+receiptColumns+`
		FROM receipts
		WHERE farmer_id = $1 OR transporter_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Receipt
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanReceipt(s scanner) (*Receipt, error) {
	r := &Receipt{}
	var (
		status   string
		issuedAt sql.NullTime
		paidAt   sql.NullTime
	)

	err := s.Scan(
		&r.ID, &r.Number, &r.TransactionID, &r.EscrowID, &r.FarmerID, &r.TransporterID,
		&r.Subtotal, &r.PlatformFee, &r.Tax, &r.Total, &r.Currency,
		&status, &r.PayloadHash, &r.Signature,
		&issuedAt, &paidAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.Status = Status(status)
	if issuedAt.Valid {
		r.IssuedAt = &issuedAt.Time
	}
	if paidAt.Valid {
		r.PaidAt = &paidAt.Time
	}
	return r, nil
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
