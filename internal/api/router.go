/**
 * @description
 * This file sets up the HTTP router for the payment-service. It defines the
 * API endpoints, associates them with their corresponding handlers, and
 * applies middleware: admin routes behind JWKS-verified admin JWTs, internal
 * cron triggers behind the internal API key, webhook and checkout public.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// PaymentRoutes creates and returns the router for the payment service.
func PaymentRoutes(h *PaymentHandlers, jwksURL, internalAPIKey string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Public payment endpoints. The webhook is unauthenticated by design; its
	// safety comes from idempotency, not from the transport.
	r.Post("/checkout", h.CheckoutHandler)
	r.Post("/registrations/{registrationID}/payments", h.AdditionalPaymentHandler)
	r.Post("/webhooks/payment-completed", h.WebhookHandler)

	// Internal cron triggers for external schedulers.
	r.Group(func(r chi.Router) {
		r.Use(InternalAuthMiddleware(internalAPIKey))

		r.Post("/internal/cron/transaction-sync", h.cronHandler("transaction-sync", h.jobs.RunTransactionSync))
		r.Post("/internal/cron/gateway-sync", h.cronHandler("gateway-sync", h.jobs.RunGatewaySync))
		r.Post("/internal/cron/subscription-expiry", h.cronHandler("subscription-expiry", h.jobs.RunSubscriptionExpiry))
		r.Post("/internal/cron/abandoned-checkouts", h.cronHandler("abandoned-checkouts", h.jobs.RunAbandonedCheckoutCollection))
	})

	// Admin surface.
	r.Group(func(r chi.Router) {
		r.Use(AdminAuthMiddleware(jwksURL))

		r.Post("/admin/registrations/{registrationID}/recalculate", h.RecalculateRegistrationHandler)
		r.Post("/admin/registrations/recalculate-partial", h.RecalculateAllPartialHandler)
		r.Get("/admin/registrations/{registrationID}/ledger", h.LedgerHandler)
		r.Delete("/admin/registrations/{registrationID}", h.HardDeleteRegistrationHandler)
	})

	return r
}
