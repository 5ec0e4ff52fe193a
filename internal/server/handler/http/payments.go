package http

import (
	"context"
	"encoding/json"
	"html/template"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mishura/stylist/internal/middleware"
	"github.com/mishura/stylist/internal/models"
	"github.com/mishura/stylist/internal/service"
)

// PaymentService defines the payment operations required by the PaymentHandler.
type PaymentService interface {
	Packages() map[string]models.Package
	Create(ctx context.Context, userID, packageID, returnURL string) (*models.Payment, error)
	Status(ctx context.Context, paymentID string) (models.PaymentStatus, error)
	// HandleEvent applies a provider notification such as "payment.succeeded".
	HandleEvent(ctx context.Context, event, paymentID string) error
}

// PaymentHandler handles the package catalog, payment creation, status checks,
// provider webhooks and the sandbox checkout page.
type PaymentHandler struct {
	PaymentService PaymentService
	Log            *zap.Logger
	// SandboxEnabled mounts the test-mode checkout page.
	SandboxEnabled bool
}

// Packages handles GET /payments/packages.
func (h *PaymentHandler) Packages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "success",
		"packages": h.PaymentService.Packages(),
	})
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

// Create handles POST /payments/create.
func (h *PaymentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid body")
		return
	}
	if !middleware.PeerMatches(r, req.UserID) {
		writeError(w, http.StatusForbidden, CodeForbidden, peerMismatch)
		return
	}

	p, err := h.PaymentService.Create(r.Context(), req.UserID, req.PackageID, req.ReturnURL)
	if err != nil {
		writeServiceError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, createPaymentResponse{
		PaymentID:       p.ID,
		Amount:          p.Amount,
		StcoinAmount:    p.Stcoins,
		ConfirmationURL: p.ConfirmationURL,
		Status:          string(p.Status),
	})
}

// Status handles GET /payments/status/{paymentId}.
func (h *PaymentHandler) Status(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "paymentId")
	status, err := h.PaymentService.Status(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"paymentId":     id,
		"paymentStatus": string(status),
	})
}

type webhookRequest struct {
	Event  string `json:"event"`
	Object struct {
		ID string `json:"id"`
	} `json:"object"`
}

// Webhook handles POST /payments/webhook notifications from the provider.
func (h *PaymentHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Object.ID == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid notification")
		return
	}
	if err := h.PaymentService.HandleEvent(r.Context(), req.Event, req.Object.ID); err != nil {
		writeServiceError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

var sandboxPage = template.Must(template.New("sandbox").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>MISHURA test payment</title></head>
<body>
{{if .Done}}<p>{{.Done}}</p>{{else}}
<p>Test payment {{.ID}}</p>
<p><a href="{{.Confirm}}">Pay</a> | <a href="{{.Cancel}}">Cancel</a></p>
{{end}}
</body></html>
`))

type sandboxView struct {
	ID      string
	Confirm string
	Cancel  string
	Done    string
}

// Sandbox handles GET /payments/sandbox/{paymentId}. Without an outcome it
// shows the test checkout page; with outcome=succeeded or outcome=canceled it
// settles the payment the way the provider webhook would and sends the user
// back to the return URL when one was given.
func (h *PaymentHandler) Sandbox(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "paymentId")
	q := r.URL.Query()
	ret := q.Get("return")

	var event, done string
	switch q.Get("outcome") {
	case "":
		link := func(outcome string) string {
			v := url.Values{"outcome": {outcome}}
			if ret != "" {
				v.Set("return", ret)
			}
			return "?" + v.Encode()
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_ = sandboxPage.Execute(w, sandboxView{ID: id, Confirm: link("succeeded"), Cancel: link("canceled")})
		return
	case "succeeded":
		event, done = service.EventPaymentSucceeded, "Payment confirmed. You can return to MISHURA."
	case "canceled":
		event, done = service.EventPaymentCanceled, "Payment canceled."
	default:
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "unknown outcome")
		return
	}

	if _, err := h.PaymentService.Status(r.Context(), id); err != nil {
		writeServiceError(w, r, h.Log, err)
		return
	}
	if err := h.PaymentService.HandleEvent(r.Context(), event, id); err != nil {
		writeServiceError(w, r, h.Log, err)
		return
	}
	if u, err := url.Parse(ret); err == nil && (u.Scheme == "https" || u.Scheme == "http") {
		http.Redirect(w, r, u.String(), http.StatusSeeOther)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = sandboxPage.Execute(w, sandboxView{ID: id, Done: done})
}
