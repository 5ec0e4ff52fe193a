package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/mishura/stylist/internal/client/account"
)

// InitResult is the outcome of InitializeUser.
type InitResult struct {
	Account account.UserAccount
	IsNew   bool
	// ConsultationCost is the backend price of one consultation, zero if not reported.
	ConsultationCost int
}

type initRequest struct {
	UserID    string `json:"userId"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
}

type initResponse struct {
	UserID            string `json:"userId"`
	Balance           *int   `json:"balance"`
	IsNewUser         bool   `json:"isNewUser"`
	ConsultationsUsed int    `json:"consultationsUsed"`
	ConsultationCost  int    `json:"consultationCost"`
}

// InitializeUser upserts the user and returns the current account.
func (c *Client) InitializeUser(ctx context.Context, id account.Identity) (*InitResult, error) {
	const op = "initialize user"
	if id.UserID == "" {
		return nil, Validation(op, "user id is required")
	}
	req, err := c.newJSONRequest(http.MethodPost, apiUserInit, initRequest{
		UserID:    id.UserID,
		Username:  id.Username,
		FirstName: id.FirstName,
		LastName:  id.LastName,
	})
	if err != nil {
		return nil, &Error{Kind: KindServer, Op: op, Err: err}
	}

	ctx, cancel := c.bounded(ctx)
	defer cancel()

	var resp initResponse
	if err := c.call(ctx, op, req, KindServer, &resp); err != nil {
		return nil, err
	}
	if resp.Balance == nil {
		return nil, &Error{Kind: KindServer, Op: op, Endpoint: req.URL.Path,
			Err: fmt.Errorf("invalid response: balance missing")}
	}
	userID := resp.UserID
	if userID == "" {
		userID = id.UserID
	}
	return &InitResult{
		Account: account.UserAccount{
			UserID:            userID,
			Balance:           *resp.Balance,
			ConsultationsUsed: resp.ConsultationsUsed,
		},
		IsNew:            resp.IsNewUser,
		ConsultationCost: resp.ConsultationCost,
	}, nil
}

type balanceResponse struct {
	Balance *int `json:"balance"`
}

// FetchBalance reads the current balance. It has no side effects on the server.
func (c *Client) FetchBalance(ctx context.Context, userID string) (int, error) {
	const op = "fetch balance"
	req, err := c.newJSONRequest(http.MethodGet, fmt.Sprintf(apiUserBalance, url.PathEscape(userID)), nil)
	if err != nil {
		return 0, &Error{Kind: KindServer, Op: op, Err: err}
	}

	ctx, cancel := c.bounded(ctx)
	defer cancel()

	var resp balanceResponse
	if err := c.call(ctx, op, req, KindServer, &resp); err != nil {
		return 0, err
	}
	if resp.Balance == nil {
		return 0, &Error{Kind: KindServer, Op: op, Endpoint: req.URL.Path,
			Err: fmt.Errorf("invalid response: balance missing")}
	}
	return *resp.Balance, nil
}

type historyResponse struct {
	Consultations []account.Consultation `json:"consultations"`
}

// FetchHistory returns up to limit consultations in the order the backend sent them,
// newest first.
func (c *Client) FetchHistory(ctx context.Context, userID string, limit int) ([]account.Consultation, error) {
	const op = "fetch history"
	path := fmt.Sprintf(apiUserHistory, url.PathEscape(userID))
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	req, err := c.newJSONRequest(http.MethodGet, path, nil)
	if err != nil {
		return nil, &Error{Kind: KindServer, Op: op, Err: err}
	}

	ctx, cancel := c.bounded(ctx)
	defer cancel()

	var resp historyResponse
	if err := c.call(ctx, op, req, KindServer, &resp); err != nil {
		return nil, err
	}
	if resp.Consultations == nil {
		return []account.Consultation{}, nil
	}
	return resp.Consultations, nil
}
