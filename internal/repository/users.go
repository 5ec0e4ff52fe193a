// Package repository provides PostgreSQL persistence for accounts,
// consultations and payments.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mishura/stylist/internal/models"
)

// PostgresUserRepository stores users and their consultations.
type PostgresUserRepository struct {
	// DB is the database handle for executing queries and transactions.
	DB *sql.DB
}

// NewPostgresUserRepository creates a PostgresUserRepository using the provided *sql.DB.
func NewPostgresUserRepository(db *sql.DB) *PostgresUserRepository {
	return &PostgresUserRepository{DB: db}
}

// UpsertUser creates the user with startingBalance, or returns the stored
// account unchanged apart from a non-empty username. created reports whether
// the row was inserted by this call.
func (r *PostgresUserRepository) UpsertUser(ctx context.Context, id, username string, startingBalance int) (models.User, bool, error) {
	u := models.User{ID: id}
	var created bool
	err := r.DB.QueryRowContext(ctx, `
		INSERT INTO users (id, username, balance) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			username = CASE WHEN EXCLUDED.username <> '' THEN EXCLUDED.username ELSE users.username END,
			updated_at = NOW()
		RETURNING username, balance, consultations_used, (xmax = 0)
	`, id, username, startingBalance).Scan(&u.Username, &u.Balance, &u.ConsultationsUsed, &created)
	if err != nil {
		return models.User{}, false, fmt.Errorf("upsert user: %w", err)
	}
	return u, created, nil
}

// GetUser returns the user or ErrUserNotFound.
func (r *PostgresUserRepository) GetUser(ctx context.Context, id string) (*models.User, error) {
	u := models.User{ID: id}
	err := r.DB.QueryRowContext(ctx, `
		SELECT username, balance, consultations_used FROM users WHERE id = $1
	`, id).Scan(&u.Username, &u.Balance, &u.ConsultationsUsed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// History returns up to limit consultations of the user, newest first.
func (r *PostgresUserRepository) History(ctx context.Context, userID string, limit int) ([]models.Consultation, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, kind, occasion, preferences, advice, images_count, cost, created_at
		  FROM consultations
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	defer rows.Close()

	out := make([]models.Consultation, 0, limit)
	for rows.Next() {
		c := models.Consultation{UserID: userID}
		if err := rows.Scan(&c.ID, &c.Kind, &c.Occasion, &c.Preferences, &c.Advice, &c.ImagesCount, &c.Cost, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	return out, nil
}

// ChargeConsultation debits c.Cost from the user and stores c in one
// transaction, locking the user row. It returns the balance after the debit.
func (r *PostgresUserRepository) ChargeConsultation(ctx context.Context, c models.Consultation) (int, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var balance int
	err = tx.QueryRowContext(ctx, `SELECT balance FROM users WHERE id = $1 FOR UPDATE`, c.UserID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrUserNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("lock user: %w", err)
	}
	if balance < c.Cost {
		return 0, ErrInsufficientBalance
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE users SET balance = balance - $1, consultations_used = consultations_used + 1, updated_at = NOW()
		 WHERE id = $2
	`, c.Cost, c.UserID)
	if err != nil {
		return 0, fmt.Errorf("debit: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO consultations (id, user_id, kind, occasion, preferences, advice, images_count, cost, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, c.ID, c.UserID, c.Kind, c.Occasion, c.Preferences, c.Advice, c.ImagesCount, c.Cost, c.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("insert consultation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return balance - c.Cost, nil
}
