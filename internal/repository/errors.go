package repository

import "errors"

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrPaymentNotFound     = errors.New("payment not found")
	ErrPaymentClosed       = errors.New("payment is already closed")
	ErrDuplicatePayment    = errors.New("payment already exists")
)

// Postgres error codes checked by the repositories.
const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)
