package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/mishura/stylist/internal/models"
)

// PostgresPaymentRepository stores payments and credits settled ones.
type PostgresPaymentRepository struct {
	DB *sql.DB
}

// NewPostgresPaymentRepository creates a PostgresPaymentRepository using the provided *sql.DB.
func NewPostgresPaymentRepository(db *sql.DB) *PostgresPaymentRepository {
	return &PostgresPaymentRepository{DB: db}
}

// CreatePayment inserts p. A reused id gives ErrDuplicatePayment and an
// unknown user gives ErrUserNotFound.
func (r *PostgresPaymentRepository) CreatePayment(ctx context.Context, p models.Payment) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO payments (id, user_id, package_id, amount, stcoins, status, confirmation_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, p.ID, p.UserID, p.PackageID, p.Amount, p.Stcoins, p.Status, p.ConfirmationURL)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) {
			switch pqErr.Code {
			case pqUniqueViolation:
				return ErrDuplicatePayment
			case pqForeignKeyViolation:
				return ErrUserNotFound
			}
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

// GetPayment returns the payment or ErrPaymentNotFound.
func (r *PostgresPaymentRepository) GetPayment(ctx context.Context, id string) (*models.Payment, error) {
	p := models.Payment{ID: id}
	err := r.DB.QueryRowContext(ctx, `
		SELECT user_id, package_id, amount, stcoins, status, confirmation_url, created_at
		  FROM payments WHERE id = $1
	`, id).Scan(&p.UserID, &p.PackageID, &p.Amount, &p.Stcoins, &p.Status, &p.ConfirmationURL, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return &p, nil
}

// SettlePayment marks an open payment succeeded and credits its STcoins to the
// owner in one transaction. Settling an already succeeded payment is a no-op
// and reports credited=false; a canceled one gives ErrPaymentClosed.
func (r *PostgresPaymentRepository) SettlePayment(ctx context.Context, id string) (credited bool, err error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var (
		userID  string
		stcoins int
		status  models.PaymentStatus
	)
	err = tx.QueryRowContext(ctx, `
		SELECT user_id, stcoins, status FROM payments WHERE id = $1 FOR UPDATE
	`, id).Scan(&userID, &stcoins, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrPaymentNotFound
	}
	if err != nil {
		return false, fmt.Errorf("lock payment: %w", err)
	}
	switch {
	case status == models.PaymentSucceeded:
		return false, nil
	case !status.Open():
		return false, ErrPaymentClosed
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE payments SET status = $1, updated_at = NOW() WHERE id = $2
	`, models.PaymentSucceeded, id); err != nil {
		return false, fmt.Errorf("update payment: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE users SET balance = balance + $1, updated_at = NOW() WHERE id = $2
	`, stcoins, userID); err != nil {
		return false, fmt.Errorf("credit: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// CancelPayment cancels an open payment. Canceling twice is a no-op; a
// succeeded payment gives ErrPaymentClosed.
func (r *PostgresPaymentRepository) CancelPayment(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE payments SET status = $1, updated_at = NOW()
		 WHERE id = $2 AND status = ANY($3)
	`, models.PaymentCanceled, id, pq.Array([]string{string(models.PaymentCreated), string(models.PaymentPending)}))
	if err != nil {
		return fmt.Errorf("cancel payment: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	p, err := r.GetPayment(ctx, id)
	if err != nil {
		return err
	}
	if p.Status == models.PaymentCanceled {
		return nil
	}
	return ErrPaymentClosed
}
