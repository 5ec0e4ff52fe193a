// Package service provides the MISHURA business logic, delegating persistence
// to repository interfaces.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mishura/stylist/internal/models"
	"github.com/mishura/stylist/internal/repository"
)

var (
	// ErrInvalidRequest is returned for malformed input; the wrapped text is shown to the user.
	ErrInvalidRequest = errors.New("invalid request")
	ErrInvalidImage   = errors.New("invalid image")
	ErrInvalidPackage = errors.New("invalid package")
	ErrProvider       = errors.New("payment provider error")

	ErrUserNotFound        = repository.ErrUserNotFound
	ErrInsufficientBalance = repository.ErrInsufficientBalance
	ErrPaymentNotFound     = repository.ErrPaymentNotFound
	ErrPaymentClosed       = repository.ErrPaymentClosed
)

const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
	maxUserIDLen        = 128
)

// UserRepository defines the persistence operations needed for accounts.
type UserRepository interface {
	// UpsertUser creates the user or returns the stored one; created reports an insert.
	UpsertUser(ctx context.Context, id, username string, startingBalance int) (models.User, bool, error)
	// GetUser returns ErrUserNotFound for unknown ids.
	GetUser(ctx context.Context, id string) (*models.User, error)
	// History lists consultations newest first.
	History(ctx context.Context, userID string, limit int) ([]models.Consultation, error)
	// ChargeConsultation debits the cost and stores the consultation atomically.
	ChargeConsultation(ctx context.Context, c models.Consultation) (int, error)
}

// AccountService implements account initialization and reads.
type AccountService struct {
	repo            UserRepository
	startingBalance int
	cost            int
}

// NewAccountService constructs an AccountService. New users get startingBalance
// STcoins and every consultation costs cost.
func NewAccountService(repo UserRepository, startingBalance, cost int) *AccountService {
	return &AccountService{repo: repo, startingBalance: startingBalance, cost: cost}
}

// InitResult is what the client learns on start.
type InitResult struct {
	User             models.User
	IsNew            bool
	ConsultationCost int
}

// Init creates the user on first contact and returns the stored account otherwise.
func (s *AccountService) Init(ctx context.Context, userID, username string) (*InitResult, error) {
	if err := checkUserID(userID); err != nil {
		return nil, err
	}
	u, created, err := s.repo.UpsertUser(ctx, userID, strings.TrimSpace(username), s.startingBalance)
	if err != nil {
		return nil, err
	}
	return &InitResult{User: u, IsNew: created, ConsultationCost: s.cost}, nil
}

// Balance returns the user's current balance.
func (s *AccountService) Balance(ctx context.Context, userID string) (int, error) {
	if err := checkUserID(userID); err != nil {
		return 0, err
	}
	u, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	return u.Balance, nil
}

// History returns the latest consultations. limit <= 0 means the default and
// values above MaxHistoryLimit are capped.
func (s *AccountService) History(ctx context.Context, userID string, limit int) ([]models.Consultation, error) {
	if err := checkUserID(userID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	limit = min(limit, MaxHistoryLimit)
	if _, err := s.repo.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.repo.History(ctx, userID, limit)
}

// ConsultationCost is the price of one analysis in STcoins.
func (s *AccountService) ConsultationCost() int { return s.cost }

func checkUserID(id string) error {
	switch {
	case strings.TrimSpace(id) == "":
		return fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	case len(id) > maxUserIDLen:
		return fmt.Errorf("%w: user id is too long", ErrInvalidRequest)
	}
	return nil
}
