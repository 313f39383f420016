/**
 * @description
 * This file contains the HTTP handlers for the payment-service's API
 * endpoints. Handlers parse incoming requests, call the application service,
 * and map service errors to HTTP responses. Validation and conflict errors
 * surface to the caller; everything else is a 500 with the detail in logs.
 *
 * @dependencies
 * - encoding/json, errors, log, net/http: Standard Go libraries.
 * - github.com/go-chi/chi/v5: URL parameter extraction.
 * - internal/app, internal/domain, internal/store: Service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/daytradedak/payment-service/internal/app"
	"github.com/daytradedak/payment-service/internal/domain"
	"github.com/daytradedak/payment-service/internal/store"
)

// PaymentHandlers holds the application service and job runner that the
// handlers delegate to.
type PaymentHandlers struct {
	service *app.Service
	jobs    *app.Jobs
}

// NewPaymentHandlers creates a new instance of PaymentHandlers.
func NewPaymentHandlers(service *app.Service, jobs *app.Jobs) *PaymentHandlers {
	return &PaymentHandlers{service: service, jobs: jobs}
}

// CheckoutHandler handles checkout initiation requests.
func (h *PaymentHandlers) CheckoutHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	resp, err := h.service.InitiateCheckout(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, "checkout", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, resp)
}

// AdditionalPaymentHandler handles installment and final payment requests
// against an existing registration.
func (h *PaymentHandlers) AdditionalPaymentHandler(w http.ResponseWriter, r *http.Request) {
	registrationID, ok := h.registrationIDParam(w, r)
	if !ok {
		return
	}

	var req domain.AdditionalPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	resp, err := h.service.AddPayment(r.Context(), registrationID, req)
	if err != nil {
		h.writeServiceError(w, "additional_payment", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, resp)
}

// WebhookHandler handles the payment-completed notification from the
// gateway. Always idempotent: duplicates and unknown payment ids are 200s.
func (h *PaymentHandlers) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	var payload domain.WebhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	application, err := h.service.CompletePayment(r.Context(), payload)
	if err != nil {
		if errors.Is(err, app.ErrMissingPaymentID) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Printf("level=error component=api endpoint=webhook msg=\"payment completion failed\" payment_id=%s err=%v", payload.PaymentID, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to process payment notification")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "ok",
		"already_completed": application.AlreadyCompleted,
	})
}

// RecalculateRegistrationHandler recomputes one registration's balances.
func (h *PaymentHandlers) RecalculateRegistrationHandler(w http.ResponseWriter, r *http.Request) {
	registrationID, ok := h.registrationIDParam(w, r)
	if !ok {
		return
	}

	summary, corrected, err := h.service.RecalculateRegistration(r.Context(), registrationID)
	if err != nil {
		h.writeServiceError(w, "recalculate", err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"registration_id": registrationID,
		"corrected":       corrected,
		"summary":         summary,
	})
}

// RecalculateAllPartialHandler recomputes every installment-mode registration.
func (h *PaymentHandlers) RecalculateAllPartialHandler(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.RecalculateAllPartial(r.Context())
	if err != nil {
		log.Printf("level=error component=api endpoint=recalculate_partial msg=\"sweep failed\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Recalculation sweep failed")
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// LedgerHandler returns a registration together with its full payment ledger
// and history for admin inspection.
func (h *PaymentHandlers) LedgerHandler(w http.ResponseWriter, r *http.Request) {
	registrationID, ok := h.registrationIDParam(w, r)
	if !ok {
		return
	}

	view, err := h.service.GetLedger(r.Context(), registrationID)
	if err != nil {
		h.writeServiceError(w, "ledger", err)
		return
	}

	h.writeJSON(w, http.StatusOK, view)
}

// HardDeleteRegistrationHandler is the operator escape hatch: it removes a
// registration with its entire ledger and history, unconditionally.
func (h *PaymentHandlers) HardDeleteRegistrationHandler(w http.ResponseWriter, r *http.Request) {
	registrationID, ok := h.registrationIDParam(w, r)
	if !ok {
		return
	}

	subject, _ := AdminSubjectFromContext(r.Context())
	log.Printf("level=warn component=api endpoint=hard_delete msg=\"registration hard delete requested\" registration_id=%s admin=%s", registrationID, subject)

	if err := h.service.HardDeleteRegistration(r.Context(), registrationID); err != nil {
		h.writeServiceError(w, "hard_delete", err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// cronHandler adapts a job runner func to an HTTP trigger so external
// schedulers can invoke the sweeps on their own cadence.
func (h *PaymentHandlers) cronHandler(name string, run func()) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log.Printf("level=info component=api endpoint=cron msg=\"manual sweep trigger\" job=%s", name)
		run()
		h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "started", "job": name})
	}
}

func (h *PaymentHandlers) registrationIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	registrationID, err := uuid.Parse(chi.URLParam(r, "registrationID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid registration ID")
		return uuid.Nil, false
	}
	return registrationID, true
}

// writeServiceError maps service-layer sentinel errors to HTTP statuses.
// Validation errors are 422, conflicts are 409, lookups are 404; anything
// unmapped is a 500 with the detail logged, not leaked.
func (h *PaymentHandlers) writeServiceError(w http.ResponseWriter, endpoint string, err error) {
	switch {
	case errors.Is(err, app.ErrEmailRequired),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrAmountPrecision),
		errors.Is(err, domain.ErrAmountNotPositive):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrAmountBelowMinimum),
		errors.Is(err, app.ErrAmountBelowInstallment),
		errors.Is(err, app.ErrAmountExceedsBalance),
		errors.Is(err, app.ErrFinalPaymentMismatch),
		errors.Is(err, app.ErrPartialNotAllowed),
		errors.Is(err, app.ErrPaymentModeMismatch):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, app.ErrRegistrationConflict),
		errors.Is(err, app.ErrAlreadyFullyPaid),
		errors.Is(err, store.ErrDuplicatePaymentID):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrEventNotFound),
		errors.Is(err, store.ErrRegistrationNotFound),
		errors.Is(err, store.ErrPaymentNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	default:
		log.Printf("level=error component=api endpoint=%s msg=\"request failed\" err=%v", endpoint, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// writeJSON is a helper for writing JSON responses.
func (h *PaymentHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *PaymentHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
