// Package http provides HTTP routing and handlers for the MISHURA API.
package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/mishura/stylist/internal/middleware"
)

// NewRouter constructs the HTTP handler that serves the MISHURA API.
//
// Routes, all under /api/v1 except /health:
//
//	POST /user/init                   → accountHandler.Init
//	GET  /user/{userId}/balance       → accountHandler.Balance
//	GET  /user/{userId}/history       → accountHandler.History
//	POST /analyze                     → analysisHandler.Analyze (multipart)
//	GET  /payments/packages           → paymentHandler.Packages
//	POST /payments/create             → paymentHandler.Create
//	GET  /payments/status/{paymentId} → paymentHandler.Status
//	POST /payments/webhook            → paymentHandler.Webhook
//	GET  /payments/sandbox/{paymentId} → paymentHandler.Sandbox (only with SandboxEnabled)
//
// JSON endpoints reject other content types; /analyze accepts only multipart/form-data.
func NewRouter(
	accountHandler *AccountHandler,
	analysisHandler *AnalysisHandler,
	paymentHandler *PaymentHandler,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	// Log each request and its metadata
	r.Use(middleware.WithRequestLogging(logger))
	r.Use(chiMiddleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	jsonOnly := chiMiddleware.AllowContentType("application/json")

	r.Route("/api/v1", func(r chi.Router) {
		r.With(jsonOnly).Post("/user/init", accountHandler.Init)
		r.Route("/user/{userId}", func(r chi.Router) {
			r.Use(middleware.UserIdentity)
			r.Get("/balance", accountHandler.Balance)
			r.Get("/history", accountHandler.History)
		})

		r.With(chiMiddleware.AllowContentType("multipart/form-data")).Post("/analyze", analysisHandler.Analyze)

		r.Route("/payments", func(r chi.Router) {
			r.Get("/packages", paymentHandler.Packages)
			r.With(jsonOnly).Post("/create", paymentHandler.Create)
			r.Get("/status/{paymentId}", paymentHandler.Status)
			r.With(jsonOnly).Post("/webhook", paymentHandler.Webhook)
			if paymentHandler.SandboxEnabled {
				r.Get("/sandbox/{paymentId}", paymentHandler.Sandbox)
			}
		})
	})

	return r
}
