package payment

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed transaction store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const transactionColumns = `id, farmer_id, transporter_id, order_id, COALESCE(crop_id, ''),
	amount, currency, payment_method,
	COALESCE(cargo_description, ''), COALESCE(pickup_location, ''), COALESCE(dropoff_location, ''),
	pickup_time, estimated_delivery_time, actual_delivery_time,
	status, COALESCE(status_reason, ''),
	payment_reference, tracking_number, COALESCE(provider_ref, ''),
	COALESCE(escrow_id, ''), COALESCE(receipt_id, ''),
	created_at, updated_at`

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(s scanner) (*Transaction, error) {
	t := &Transaction{}
	var pickup, estimated, actual sql.NullTime
	err := s.Scan(&t.ID, &t.FarmerID, &t.TransporterID, &t.OrderID, &t.CropID,
		&t.Amount, &t.Currency, &t.Method,
		&t.CargoDescription, &t.PickupLocation, &t.DropoffLocation,
		&pickup, &estimated, &actual,
		&t.Status, &t.StatusReason,
		&t.PaymentReference, &t.TrackingNumber, &t.ProviderRef,
		&t.EscrowID, &t.ReceiptID,
		&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if pickup.Valid {
		t.PickupTime = &pickup.Time
	}
	if estimated.Valid {
		t.EstimatedDelivery = &estimated.Time
	}
	if actual.Valid {
		t.ActualDelivery = &actual.Time
	}
	return t, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func (p *PostgresStore) Create(ctx context.Context, t *Transaction) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO transactions (id, farmer_id, transporter_id, order_id, crop_id,
			amount, currency, payment_method,
			cargo_description, pickup_location, dropoff_location,
			pickup_time, estimated_delivery_time,
			status, payment_reference, tracking_number,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''),
			$6::NUMERIC(20,2), $7, $8,
			NULLIF($9, ''), NULLIF($10, ''), NULLIF($11, ''),
			$12, $13,
			$14, $15, $16,
			NOW(), NOW())
	`, t.ID, t.FarmerID, t.TransporterID, t.OrderID, t.CropID,
		t.Amount, t.Currency, t.Method,
		t.CargoDescription, t.PickupLocation, t.DropoffLocation,
		nullTime(t.PickupTime), nullTime(t.EstimatedDelivery),
		t.Status, t.PaymentReference, t.TrackingNumber)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateReference
		}
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Transaction, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	t, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (p *PostgresStore) GetByReference(ctx context.Context, reference string) (*Transaction, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE payment_reference = $1 OR provider_ref = $1 OR tracking_number = $1
	`, reference)
	t, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (p *PostgresStore) Update(ctx context.Context, t *Transaction) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE transactions SET
			cargo_description = NULLIF($2, ''),
			pickup_location = NULLIF($3, ''),
			dropoff_location = NULLIF($4, ''),
			pickup_time = $5,
			estimated_delivery_time = $6,
			provider_ref = NULLIF($7, ''),
			updated_at = NOW()
		WHERE id = $1
	`, t.ID, t.CargoDescription, t.PickupLocation, t.DropoffLocation,
		nullTime(t.PickupTime), nullTime(t.EstimatedDelivery), t.ProviderRef)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

func (p *PostgresStore) SetStatusFrom(ctx context.Context, id string, from []Status, to Status, reason string) (*Transaction, error) {
	states := make([]string, len(from))
	for i, s := range from {
		states[i] = string(s)
	}

	row := p.db.QueryRowContext(ctx, `
		UPDATE transactions SET
			status = $3,
			status_reason = COALESCE(NULLIF($4, ''), status_reason),
			updated_at = NOW()
		WHERE id = $1 AND status = ANY($2)
		RETURNING `+transactionColumns+`
	`, id, pq.Array(states), to, reason)

	t, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		// Guard missed: not found, or wrong current state.
		cur, getErr := p.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return cur, ErrInvalidTransition
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (p *PostgresStore) SetDelivered(ctx context.Context, id string, at time.Time) (*Transaction, error) {
	row := p.db.QueryRowContext(ctx, `
		UPDATE transactions SET
			status = $3,
			actual_delivery_time = $2,
			updated_at = NOW()
		WHERE id = $1 AND status = $4
		RETURNING `+transactionColumns+`
	`, id, at, StatusDelivered, StatusInTransit)

	t, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		cur, getErr := p.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return cur, ErrInvalidTransition
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (p *PostgresStore) AttachEscrow(ctx context.Context, id, escrowID string) error {
	return p.attach(ctx, id, "escrow_id", escrowID)
}

func (p *PostgresStore) AttachReceipt(ctx context.Context, id, receiptID string) error {
	return p.attach(ctx, id, "receipt_id", receiptID)
}

func (p *PostgresStore) attach(ctx context.Context, id, column, value string) error {
	result, err := p.db.ExecContext(ctx,
		`UPDATE transactions SET `+column+` = $2, updated_at = NOW() WHERE id = $1`, id, value)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

func (p *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE farmer_id = $1 OR transporter_id = $1
		ORDER BY created_at DESC LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanTransactions(rows)
}

func (p *PostgresStore) ListByStatus(ctx context.Context, status Status, limit int) ([]*Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE status = $1
		ORDER BY created_at DESC LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanTransactions(rows)
}

func scanTransactions(rows *sql.Rows) ([]*Transaction, error) {
	var result []*Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func isUniqueViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "duplicate key")
}

var _ Store = (*PostgresStore)(nil)
