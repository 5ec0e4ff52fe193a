package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/mishura/stylist/internal/client/account"
)

type packageWire struct {
	Name          string  `json:"name"`
	Price         float64 `json:"price"`
	Stcoins       int     `json:"stcoins"`
	Consultations int     `json:"consultations"`
	Description   string  `json:"description"`
	Popular       bool    `json:"popular"`
}

type packagesResponse struct {
	Packages map[string]packageWire `json:"packages"`
}

// Packages fetches the package catalog.
func (c *Client) Packages(ctx context.Context) (account.Catalog, error) {
	const op = "fetch packages"
	req, err := c.newJSONRequest(http.MethodGet, apiPackages, nil)
	if err != nil {
		return nil, &Error{Kind: KindServer, Op: op, Err: err}
	}

	ctx, cancel := c.bounded(ctx)
	defer cancel()

	var resp packagesResponse
	if err := c.call(ctx, op, req, KindPaymentProvider, &resp); err != nil {
		return nil, err
	}

	cat := make(account.Catalog, len(resp.Packages))
	for id, p := range resp.Packages {
		cat[id] = account.Package{
			ID:                      id,
			Name:                    p.Name,
			PriceFiat:               p.Price,
			StcoinAmount:            p.Stcoins,
			ConsultationsEquivalent: p.Consultations,
			Description:             p.Description,
			IsFeatured:              p.Popular,
		}
	}
	return cat, nil
}

type createPaymentRequest struct {
	UserID    string `json:"userId"`
	PackageID string `json:"packageId"`
	ReturnURL string `json:"returnUrl"`
}

type createPaymentResponse struct {
	PaymentID       string  `json:"paymentId"`
	Amount          float64 `json:"amount"`
	StcoinAmount    int     `json:"stcoinAmount"`
	ConfirmationURL string  `json:"confirmationUrl"`
	Status          string  `json:"status"`
}

// CreatePayment creates a payment intent for packageID.
// It fails with KindInvalidPackage for unknown packages and KindPaymentProvider otherwise.
func (c *Client) CreatePayment(ctx context.Context, userID, packageID, returnURL string) (*account.PaymentIntent, error) {
	const op = "create payment"
	req, err := c.newJSONRequest(http.MethodPost, apiPaymentCreate, createPaymentRequest{
		UserID:    userID,
		PackageID: packageID,
		ReturnURL: returnURL,
	})
	if err != nil {
		return nil, &Error{Kind: KindPaymentProvider, Op: op, Err: err}
	}

	ctx, cancel := c.bounded(ctx)
	defer cancel()

	var resp createPaymentResponse
	if err := c.call(ctx, op, req, KindPaymentProvider, &resp); err != nil {
		return nil, err
	}
	if resp.PaymentID == "" || resp.ConfirmationURL == "" {
		return nil, &Error{Kind: KindPaymentProvider, Op: op, Endpoint: req.URL.Path,
			Err: fmt.Errorf("invalid response: payment id or confirmation url missing")}
	}

	status, ok := parseStatus(resp.Status)
	if !ok {
		status = account.StatusCreated
	}
	return &account.PaymentIntent{
		ID:              resp.PaymentID,
		PackageID:       packageID,
		AmountFiat:      resp.Amount,
		StcoinAmount:    resp.StcoinAmount,
		ConfirmationURL: resp.ConfirmationURL,
		Status:          status,
	}, nil
}

type paymentStatusResponse struct {
	PaymentStatus string `json:"paymentStatus"`
}

// PaymentStatus reads the status of a payment. Safe to call repeatedly.
func (c *Client) PaymentStatus(ctx context.Context, paymentID string) (account.PaymentStatus, error) {
	const op = "payment status"
	req, err := c.newJSONRequest(http.MethodGet, fmt.Sprintf(apiPaymentStatus, url.PathEscape(paymentID)), nil)
	if err != nil {
		return "", &Error{Kind: KindPaymentProvider, Op: op, Err: err}
	}

	ctx, cancel := c.bounded(ctx)
	defer cancel()

	var resp paymentStatusResponse
	if err := c.call(ctx, op, req, KindPaymentProvider, &resp); err != nil {
		return "", err
	}
	status, ok := parseStatus(resp.PaymentStatus)
	if !ok {
		return "", &Error{Kind: KindServer, Op: op, Endpoint: req.URL.Path,
			Err: fmt.Errorf("invalid response: unknown status %q", resp.PaymentStatus)}
	}
	return status, nil
}

// parseStatus maps provider statuses onto the four client states.
func parseStatus(s string) (account.PaymentStatus, bool) {
	switch s {
	case "created":
		return account.StatusCreated, true
	case "pending", "waiting_for_capture":
		return account.StatusPending, true
	case "succeeded":
		return account.StatusSucceeded, true
	case "canceled", "cancelled":
		return account.StatusCanceled, true
	}
	return "", false
}
