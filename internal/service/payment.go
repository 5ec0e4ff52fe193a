package service

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mishura/stylist/internal/models"
)

// PaymentRepository defines the persistence operations needed for payments.
type PaymentRepository interface {
	CreatePayment(ctx context.Context, p models.Payment) error
	GetPayment(ctx context.Context, id string) (*models.Payment, error)
	// SettlePayment credits the owner once; credited is false on repeats.
	SettlePayment(ctx context.Context, id string) (credited bool, err error)
	CancelPayment(ctx context.Context, id string) error
}

// Provider hosts the checkout page the user confirms a payment on.
type Provider interface {
	// Checkout registers p with the provider and returns the confirmation URL.
	Checkout(ctx context.Context, p models.Payment, returnURL string) (string, error)
}

// PaymentService sells STcoin packages.
type PaymentService struct {
	payments PaymentRepository
	users    UserRepository
	provider Provider
	catalog  map[string]models.Package
	log      *zap.Logger

	newID func() string
}

// NewPaymentService constructs a PaymentService selling the given catalog.
func NewPaymentService(payments PaymentRepository, users UserRepository, provider Provider, catalog map[string]models.Package, log *zap.Logger) *PaymentService {
	return &PaymentService{
		payments: payments,
		users:    users,
		provider: provider,
		catalog:  catalog,
		log:      log,
		newID:    uuid.NewString,
	}
}

// Packages returns a copy of the catalog.
func (s *PaymentService) Packages() map[string]models.Package {
	return maps.Clone(s.catalog)
}

// Create starts a purchase of packageID and returns the pending payment with
// its confirmation URL.
func (s *PaymentService) Create(ctx context.Context, userID, packageID, returnURL string) (*models.Payment, error) {
	if err := checkUserID(userID); err != nil {
		return nil, err
	}
	pkg, ok := s.catalog[packageID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPackage, packageID)
	}
	if returnURL != "" {
		if u, err := url.Parse(returnURL); err != nil || u.Scheme == "" {
			return nil, fmt.Errorf("%w: bad return url", ErrInvalidRequest)
		}
	}
	if _, err := s.users.GetUser(ctx, userID); err != nil {
		return nil, err
	}

	p := models.Payment{
		ID:        s.newID(),
		UserID:    userID,
		PackageID: pkg.ID,
		Amount:    pkg.Price,
		Stcoins:   pkg.Stcoins,
		Status:    models.PaymentPending,
	}
	confirmation, err := s.provider.Checkout(ctx, p, returnURL)
	if err != nil {
		s.log.Error("checkout failed", zap.String("payment", p.ID), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrProvider, err)
	}
	p.ConfirmationURL = confirmation

	if err := s.payments.CreatePayment(ctx, p); err != nil {
		return nil, err
	}
	s.log.Info("payment created",
		zap.String("payment", p.ID),
		zap.String("user", userID),
		zap.String("package", pkg.ID),
	)
	return &p, nil
}

// Status returns the payment status.
func (s *PaymentService) Status(ctx context.Context, paymentID string) (models.PaymentStatus, error) {
	if strings.TrimSpace(paymentID) == "" {
		return "", fmt.Errorf("%w: payment id is required", ErrInvalidRequest)
	}
	p, err := s.payments.GetPayment(ctx, paymentID)
	if err != nil {
		return "", err
	}
	return p.Status, nil
}

// Settle records a confirmed payment and credits the user exactly once.
func (s *PaymentService) Settle(ctx context.Context, paymentID string) error {
	credited, err := s.payments.SettlePayment(ctx, paymentID)
	if err != nil {
		return err
	}
	if credited {
		s.log.Info("payment settled", zap.String("payment", paymentID))
	} else {
		s.log.Debug("payment already settled", zap.String("payment", paymentID))
	}
	return nil
}

// Cancel records a canceled payment.
func (s *PaymentService) Cancel(ctx context.Context, paymentID string) error {
	if err := s.payments.CancelPayment(ctx, paymentID); err != nil {
		return err
	}
	s.log.Info("payment canceled", zap.String("payment", paymentID))
	return nil
}

// Provider event names delivered to the webhook.
const (
	EventPaymentSucceeded = "payment.succeeded"
	EventPaymentCanceled  = "payment.canceled"
)

// HandleEvent applies a provider notification. Unknown events are ignored.
func (s *PaymentService) HandleEvent(ctx context.Context, event, paymentID string) error {
	var err error
	switch event {
	case EventPaymentSucceeded:
		err = s.Settle(ctx, paymentID)
	case EventPaymentCanceled:
		err = s.Cancel(ctx, paymentID)
	default:
		s.log.Debug("ignoring payment event", zap.String("event", event))
		return nil
	}
	// a late cancel after success, or the reverse, is not an error for the provider
	if errors.Is(err, ErrPaymentClosed) {
		s.log.Warn("payment event for a closed payment", zap.String("event", event), zap.String("payment", paymentID))
		return nil
	}
	return err
}

// ErrNoProvider is returned by NoProvider.
var ErrNoProvider = errors.New("no payment provider configured")

// NoProvider refuses every checkout. It is used when the sandbox is off and
// no real provider is configured.
type NoProvider struct{}

// Checkout always fails with ErrNoProvider.
func (NoProvider) Checkout(context.Context, models.Payment, string) (string, error) {
	return "", ErrNoProvider
}

// SandboxProvider is a test-mode checkout served by this backend itself.
type SandboxProvider struct {
	// BaseURL is the public API base, e.g. https://host/api/v1.
	BaseURL string
}

// Checkout returns the sandbox confirmation page for p.
func (s SandboxProvider) Checkout(_ context.Context, p models.Payment, returnURL string) (string, error) {
	if s.BaseURL == "" {
		return "", errors.New("sandbox base url is not configured")
	}
	u := strings.TrimRight(s.BaseURL, "/") + "/payments/sandbox/" + url.PathEscape(p.ID)
	if returnURL != "" {
		u += "?return=" + url.QueryEscape(returnURL)
	}
	return u, nil
}
