package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/mishura/stylist/internal/advisor"
	"github.com/mishura/stylist/internal/service"
)

// Error codes sent in the "code" field of error responses.
const (
	CodeInvalidRequest      = "INVALID_REQUEST"
	CodeInvalidImage        = "INVALID_IMAGE"
	CodeInvalidPackage      = "INVALID_PACKAGE"
	CodeInsufficientBalance = "INSUFFICIENT_BALANCE"
	CodeUserNotFound        = "USER_NOT_FOUND"
	CodePaymentNotFound     = "PAYMENT_NOT_FOUND"
	CodePaymentClosed       = "PAYMENT_CLOSED"
	CodeProvider            = "PAYMENT_PROVIDER_ERROR"
	CodeAIUnavailable       = "AI_UNAVAILABLE"
	CodeInternal            = "INTERNAL_ERROR"
	CodeForbidden           = "FORBIDDEN"
)

const peerMismatch = "client certificate does not match the user"

type errorResponse struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

var errorTable = []struct {
	err     error
	status  int
	code    string
	message string
}{
	{service.ErrInvalidRequest, http.StatusBadRequest, CodeInvalidRequest, ""},
	{service.ErrInvalidImage, http.StatusBadRequest, CodeInvalidImage, ""},
	{service.ErrInvalidPackage, http.StatusBadRequest, CodeInvalidPackage, "Unknown package."},
	{service.ErrInsufficientBalance, http.StatusPaymentRequired, CodeInsufficientBalance, "Not enough STcoins for a consultation. Top up your balance."},
	{service.ErrUserNotFound, http.StatusNotFound, CodeUserNotFound, "User not found. Initialize the account first."},
	{service.ErrPaymentNotFound, http.StatusNotFound, CodePaymentNotFound, "Payment not found."},
	{service.ErrPaymentClosed, http.StatusConflict, CodePaymentClosed, "Payment is already closed."},
	{service.ErrProvider, http.StatusBadGateway, CodeProvider, "Payment service is temporarily unavailable."},
	{advisor.ErrUnavailable, http.StatusServiceUnavailable, CodeAIUnavailable, "The stylist is temporarily unavailable. You were not charged."},
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Status: "error", Code: code, Message: message})
}

// writeServiceError maps a service error onto a status and code. Unknown
// errors are logged and reported as internal without details.
func writeServiceError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	for _, e := range errorTable {
		if !errors.Is(err, e.err) {
			continue
		}
		msg := e.message
		if msg == "" {
			// validation errors carry their own text after the sentinel
			msg = strings.TrimPrefix(err.Error(), e.err.Error()+": ")
		}
		writeError(w, e.status, e.code, msg)
		return
	}
	log.Error("request failed",
		zap.String("endpoint", r.URL.Path),
		zap.Int("status", http.StatusInternalServerError),
		zap.Error(err),
	)
	writeError(w, http.StatusInternalServerError, CodeInternal, "internal error")
}
