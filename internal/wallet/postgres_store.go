package wallet

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/isoko-rw/isoko/internal/idgen"
)

// PostgresStore implements Store with PostgreSQL.
//
// All movements run as serializable transactions. The schema carries
// CHECK constraints (balance >= 0, totals >= 0) as a backstop, but the
// store diagnoses guard failures itself to return precise sentinels.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed wallet store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const walletColumns = `user_id, balance, currency, total_earned, total_spent, total_refunded, status,
	COALESCE(momo_number, ''), COALESCE(airtel_number, ''), COALESCE(bank_account, ''),
	kyc_verified, kyc_verified_at, created_at, updated_at`

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanWallet(s scanner) (*Wallet, error) {
	w := &Wallet{}
	var kycAt sql.NullTime
	err := s.Scan(&w.UserID, &w.Balance, &w.Currency, &w.TotalEarned, &w.TotalSpent, &w.TotalRefunded,
		&w.Status, &w.MoMoNumber, &w.AirtelNumber, &w.BankAccount,
		&w.KYCVerified, &kycAt, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if kycAt.Valid {
		w.KYCVerifiedAt = &kycAt.Time
	}
	return w, nil
}

func (p *PostgresStore) Get(ctx context.Context, userID string) (*Wallet, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE user_id = $1`, userID)
	w, err := scanWallet(row)
	if err == sql.ErrNoRows {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (p *PostgresStore) Create(ctx context.Context, w *Wallet) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO wallets (user_id, balance, currency, total_earned, total_spent, total_refunded, status,
			momo_number, airtel_number, bank_account, kyc_verified, created_at, updated_at)
		VALUES ($1, $2::NUMERIC(20,2), $3, $4::NUMERIC(20,2), $5::NUMERIC(20,2), $6::NUMERIC(20,2), $7,
			NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''), $11, NOW(), NOW())
	`, w.UserID, w.Balance, w.Currency, w.TotalEarned, w.TotalSpent, w.TotalRefunded, w.Status,
		w.MoMoNumber, w.AirtelNumber, w.BankAccount, w.KYCVerified)
	if err != nil {
		return fmt.Errorf("failed to create wallet: %w", err)
	}
	return nil
}

func (p *PostgresStore) Credit(ctx context.Context, userID, amount string, kind Kind, reference, description string) error {
	var totalCol string
	switch kind {
	case KindEarned:
		totalCol = "total_earned"
	case KindRefunded:
		totalCol = "total_refunded"
	default:
		return ErrInvalidKind
	}

	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE wallets SET
			balance    = balance + $2::NUMERIC(20,2),
			`+totalCol+` = `+totalCol+` + $2::NUMERIC(20,2),
			updated_at = NOW()
		WHERE user_id = $1 AND status <> 'closed'
	`, userID, amount)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		var status Status
		if err := tx.QueryRowContext(ctx,
			`SELECT status FROM wallets WHERE user_id = $1`, userID).Scan(&status); err == sql.ErrNoRows {
			return ErrWalletNotFound
		} else if err != nil {
			return err
		}
		return ErrWalletClosed
	}

	if err := insertEntry(ctx, tx, userID, "credit", kind, amount, reference, description); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) Debit(ctx context.Context, userID, amount string, kind Kind, reference, description string) error {
	if kind != KindSpent {
		return ErrInvalidKind
	}

	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Status and balance guards live in the WHERE clause so the check
	// and the movement are one atomic step.
	result, err := tx.ExecContext(ctx, `
		UPDATE wallets SET
			balance     = balance - $2::NUMERIC(20,2),
			total_spent = total_spent + $2::NUMERIC(20,2),
			updated_at  = NOW()
		WHERE user_id = $1 AND status = 'active' AND balance >= $2::NUMERIC(20,2)
	`, userID, amount)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return p.diagnoseDebit(ctx, tx, userID)
	}

	if err := insertEntry(ctx, tx, userID, "debit", kind, amount, reference, description); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) Reverse(ctx context.Context, userID, amount string, kind Kind, reference, description string) error {
	var query string
	switch kind {
	case KindSpent:
		query = `
			UPDATE wallets SET
				balance     = balance + $2::NUMERIC(20,2),
				total_spent = total_spent - $2::NUMERIC(20,2),
				updated_at  = NOW()
			WHERE user_id = $1 AND total_spent >= $2::NUMERIC(20,2)`
	case KindEarned:
		query = `
			UPDATE wallets SET
				balance      = balance - $2::NUMERIC(20,2),
				total_earned = total_earned - $2::NUMERIC(20,2),
				updated_at   = NOW()
			WHERE user_id = $1 AND balance >= $2::NUMERIC(20,2) AND total_earned >= $2::NUMERIC(20,2)`
	case KindRefunded:
		query = `
			UPDATE wallets SET
				balance        = balance - $2::NUMERIC(20,2),
				total_refunded = total_refunded - $2::NUMERIC(20,2),
				updated_at     = NOW()
			WHERE user_id = $1 AND balance >= $2::NUMERIC(20,2) AND total_refunded >= $2::NUMERIC(20,2)`
	default:
		return ErrInvalidKind
	}

	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, query, userID, amount)
	if err != nil {
		return fmt.Errorf("failed to reverse movement: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT TRUE FROM wallets WHERE user_id = $1`, userID).Scan(&exists); err == sql.ErrNoRows {
			return ErrWalletNotFound
		}
		return ErrInvalidAmount
	}

	if err := insertEntry(ctx, tx, userID, "reversal", kind, amount, reference, description); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) SetStatus(ctx context.Context, userID string, status Status) error {
	result, err := p.db.ExecContext(ctx,
		`UPDATE wallets SET status = $2, updated_at = NOW() WHERE user_id = $1`, userID, status)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrWalletNotFound
	}
	return nil
}

func (p *PostgresStore) SetPayoutDetails(ctx context.Context, userID, momo, airtel, bank string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE wallets SET
			momo_number   = COALESCE(NULLIF($2, ''), momo_number),
			airtel_number = COALESCE(NULLIF($3, ''), airtel_number),
			bank_account  = COALESCE(NULLIF($4, ''), bank_account),
			updated_at    = NOW()
		WHERE user_id = $1
	`, userID, momo, airtel, bank)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrWalletNotFound
	}
	return nil
}

func (p *PostgresStore) SetKYCVerified(ctx context.Context, userID string, at time.Time) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE wallets SET kyc_verified = TRUE, kyc_verified_at = $2, updated_at = NOW()
		WHERE user_id = $1
	`, userID, at)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrWalletNotFound
	}
	return nil
}

func (p *PostgresStore) History(ctx context.Context, userID string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT id, user_id, direction, kind, amount, COALESCE(reference, ''), COALESCE(description, ''), created_at
		FROM wallet_entries WHERE user_id = $1
		ORDER BY created_at DESC LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		if err := rows.Scan(&e.ID, &e.UserID, &e.Direction, &e.Kind, &e.Amount,
			&e.Reference, &e.Description, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// diagnoseDebit works out why a guarded debit matched no rows.
func (p *PostgresStore) diagnoseDebit(ctx context.Context, tx *sql.Tx, userID string) error {
	var status Status
	err := tx.QueryRowContext(ctx,
		`SELECT status FROM wallets WHERE user_id = $1`, userID).Scan(&status)
	if err == sql.ErrNoRows {
		return ErrWalletNotFound
	}
	if err != nil {
		return err
	}
	switch status {
	case StatusFrozen:
		return ErrWalletFrozen
	case StatusClosed:
		return ErrWalletClosed
	}
	return ErrInsufficientBalance
}

func insertEntry(ctx context.Context, tx *sql.Tx, userID, direction string, kind Kind, amount, reference, description string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO wallet_entries (id, user_id, direction, kind, amount, reference, description, created_at)
		VALUES ($1, $2, $3, $4, $5::NUMERIC(20,2), NULLIF($6, ''), NULLIF($7, ''), NOW())
	`, idgen.WithPrefix("went_"), userID, direction, kind, amount, reference, description)
	if err != nil {
		return fmt.Errorf("failed to record entry: %w", err)
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
