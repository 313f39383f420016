/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface for events, registrations, and the payment ledger. It contains
 * all the SQL touching the `events`, `registrations`, `payments`, and
 * `payment_history` tables.
 *
 * @dependencies
 * - context, time, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/daytradedak/payment-service/internal/domain"
)

var (
	ErrEventNotFound        = errors.New("event not found")
	ErrRegistrationNotFound = errors.New("registration not found")
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrDuplicatePaymentID   = errors.New("payment id already exists")
	ErrSubscriptionNotFound = errors.New("subscription not found")
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const registrationColumns = `
	id, event_id, btrim(email), referral_code, payment_mode, status,
	total_amount, total_paid, remaining_balance, is_fully_paid,
	checkout_expires_at, next_payment_due, created_at, updated_at`

func scanRegistration(row pgx.Row) (*domain.Registration, error) {
	var reg domain.Registration
	err := row.Scan(
		&reg.ID, &reg.EventID, &reg.Email, &reg.ReferralCode, &reg.PaymentMode, &reg.Status,
		&reg.TotalAmount, &reg.TotalPaid, &reg.RemainingBalance, &reg.IsFullyPaid,
		&reg.CheckoutExpiresAt, &reg.NextPaymentDue, &reg.CreatedAt, &reg.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrRegistrationNotFound
		}
		return nil, err
	}
	return &reg, nil
}

const paymentColumns = `
	id, payment_id, stripe_payment_intent_id, stripe_session_id, stripe_subscription_id,
	registration_id, event_id, amount, currency, payment_type, status, previous_balance,
	new_balance, receipt_url, retry_count, processed_at, failed_at, refunded_at, created_at, updated_at`

func scanPayment(row pgx.Row) (*domain.PaymentRecord, error) {
	var p domain.PaymentRecord
	err := row.Scan(
		&p.ID, &p.PaymentID, &p.StripePaymentIntentID, &p.StripeSessionID, &p.StripeSubscriptionID,
		&p.RegistrationID, &p.EventID, &p.Amount, &p.Currency, &p.PaymentType, &p.Status, &p.PreviousBalance,
		&p.NewBalance, &p.ReceiptURL, &p.RetryCount, &p.ProcessedAt, &p.FailedAt, &p.RefundedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &p, nil
}

// FindEventByID retrieves the payment-relevant view of an event.
func (r *PostgresRepository) FindEventByID(ctx context.Context, eventID uuid.UUID) (*domain.Event, error) {
	var ev domain.Event
	query := `
		SELECT id, title, price, currency, min_deposit, min_deposit_percent, minimum_installment, allow_partial
		FROM events
		WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, eventID).Scan(
		&ev.ID, &ev.Title, &ev.Price, &ev.Currency,
		&ev.MinDeposit, &ev.MinDepositPercent, &ev.MinimumInstallment, &ev.AllowPartial,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrEventNotFound
		}
		return nil, err
	}
	return &ev, nil
}

// FindRegistrationByID retrieves a registration aggregate by its id.
func (r *PostgresRepository) FindRegistrationByID(ctx context.Context, registrationID uuid.UUID) (*domain.Registration, error) {
	query := `SELECT ` + registrationColumns + ` FROM registrations WHERE id = $1`
	return scanRegistration(r.db.QueryRow(ctx, query, registrationID))
}

// FindRegistrationByEventAndEmail retrieves the registration for an event+email
// pair. Emails are matched case-insensitively.
func (r *PostgresRepository) FindRegistrationByEventAndEmail(ctx context.Context, eventID uuid.UUID, email string) (*domain.Registration, error) {
	query := `SELECT ` + registrationColumns + ` FROM registrations WHERE event_id = $1 AND lower(btrim(email)) = lower(btrim($2))`
	return scanRegistration(r.db.QueryRow(ctx, query, eventID, email))
}

// CreateRegistration inserts a new registration aggregate.
func (r *PostgresRepository) CreateRegistration(ctx context.Context, reg *domain.Registration) error {
	query := `
		INSERT INTO registrations (
			id, event_id, email, referral_code, payment_mode, status,
			total_amount, total_paid, remaining_balance, is_fully_paid,
			checkout_expires_at, next_payment_due, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
		RETURNING created_at, updated_at
	`
	return r.db.QueryRow(ctx, query,
		reg.ID, reg.EventID, reg.Email, reg.ReferralCode, reg.PaymentMode, reg.Status,
		reg.TotalAmount, reg.TotalPaid, reg.RemainingBalance, reg.IsFullyPaid,
		reg.CheckoutExpiresAt, reg.NextPaymentDue,
	).Scan(&reg.CreatedAt, &reg.UpdatedAt)
}

// DeleteRegistrationIfUnpaid removes a registration and its pending payments,
// but only when no completed payment exists for it. The NOT EXISTS guard is
// the sole safety gate; aggregate flags are deliberately not trusted here.
func (r *PostgresRepository) DeleteRegistrationIfUnpaid(ctx context.Context, registrationID uuid.UUID) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	result, err := tx.Exec(ctx, `
		DELETE FROM registrations
		WHERE id = $1
		  AND NOT EXISTS (
			SELECT 1 FROM payments
			WHERE registration_id = $1 AND status = 'completed'
		  )
	`, registrationID)
	if err != nil {
		return false, err
	}
	if result.RowsAffected() == 0 {
		return false, nil
	}

	if _, err := tx.Exec(ctx, `
		DELETE FROM payments
		WHERE registration_id = $1 AND status IN ('pending', 'processing', 'failed', 'cancelled')
	`, registrationID); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// DeleteRegistrationCascade unconditionally removes a registration with its
// entire ledger and history. Operator escape hatch only.
func (r *PostgresRepository) DeleteRegistrationCascade(ctx context.Context, registrationID uuid.UUID) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM payment_history WHERE registration_id = $1`, registrationID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM payments WHERE registration_id = $1`, registrationID); err != nil {
		return err
	}
	result, err := tx.Exec(ctx, `DELETE FROM registrations WHERE id = $1`, registrationID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrRegistrationNotFound
	}

	return tx.Commit(ctx)
}

// ListExpiredUnpaidRegistrations returns pending registrations whose checkout
// window lapsed without any completed payment. Candidates for the collector.
func (r *PostgresRepository) ListExpiredUnpaidRegistrations(ctx context.Context, asOf time.Time, limit int) ([]domain.Registration, error) {
	query := `
		SELECT ` + registrationColumns + `
		FROM registrations reg
		WHERE reg.status = 'pending'
		  AND reg.total_paid = 0
		  AND reg.checkout_expires_at IS NOT NULL
		  AND reg.checkout_expires_at < $1
		  AND NOT EXISTS (
			SELECT 1 FROM payments p
			WHERE p.registration_id = reg.id AND p.status = 'completed'
		  )
		ORDER BY reg.checkout_expires_at
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, asOf, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var regs []domain.Registration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, err
		}
		regs = append(regs, *reg)
	}
	return regs, rows.Err()
}

// ListPartialRegistrationIDs returns the ids of all partial-mode registrations
// that are not yet fully paid. Input set for the bulk admin recalculation.
func (r *PostgresRepository) ListPartialRegistrationIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id FROM registrations
		WHERE payment_mode = 'partial' AND is_fully_paid = FALSE
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// OverwriteRegistrationBalances writes a recomputed aggregate summary.
func (r *PostgresRepository) OverwriteRegistrationBalances(ctx context.Context, registrationID uuid.UUID, summary domain.BalanceSummary, status string) error {
	result, err := r.db.Exec(ctx, `
		UPDATE registrations
		SET total_paid = $2, remaining_balance = $3, is_fully_paid = $4, status = $5, updated_at = NOW()
		WHERE id = $1
	`, registrationID, summary.TotalPaid, summary.RemainingBalance, summary.IsFullyPaid, status)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrRegistrationNotFound
	}
	return nil
}

// CreatePayment inserts a new ledger row. A duplicate payment id maps to
// ErrDuplicatePaymentID via the unique constraint.
func (r *PostgresRepository) CreatePayment(ctx context.Context, payment *domain.PaymentRecord) error {
	query := `
		INSERT INTO payments (
			id, payment_id, stripe_payment_intent_id, stripe_session_id, stripe_subscription_id,
			registration_id, event_id, amount, currency, payment_type, status, previous_balance,
			new_balance, receipt_url, retry_count, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NOW(), NOW())
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		payment.ID, payment.PaymentID, payment.StripePaymentIntentID, payment.StripeSessionID, payment.StripeSubscriptionID,
		payment.RegistrationID, payment.EventID, payment.Amount, payment.Currency, payment.PaymentType, payment.Status,
		payment.PreviousBalance, payment.NewBalance, payment.ReceiptURL, payment.RetryCount,
	).Scan(&payment.CreatedAt, &payment.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicatePaymentID
		}
		return err
	}
	return nil
}

// FindPaymentByPaymentID retrieves a ledger row by its idempotency key.
func (r *PostgresRepository) FindPaymentByPaymentID(ctx context.Context, paymentID string) (*domain.PaymentRecord, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE payment_id = $1`
	return scanPayment(r.db.QueryRow(ctx, query, paymentID))
}

func (r *PostgresRepository) listPayments(ctx context.Context, query string, args ...interface{}) ([]domain.PaymentRecord, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []domain.PaymentRecord
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

// ListPaymentsByRegistration retrieves the whole ledger for a registration.
func (r *PostgresRepository) ListPaymentsByRegistration(ctx context.Context, registrationID uuid.UUID) ([]domain.PaymentRecord, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE registration_id = $1 ORDER BY created_at`
	return r.listPayments(ctx, query, registrationID)
}

// ListCompletedPaymentsByRegistration retrieves only the completed ledger rows.
func (r *PostgresRepository) ListCompletedPaymentsByRegistration(ctx context.Context, registrationID uuid.UUID) ([]domain.PaymentRecord, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE registration_id = $1 AND status = 'completed' ORDER BY processed_at`
	return r.listPayments(ctx, query, registrationID)
}

// ListHistoryByRegistration retrieves the append-only payment history.
func (r *PostgresRepository) ListHistoryByRegistration(ctx context.Context, registrationID uuid.UUID) ([]domain.PaymentHistoryEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, registration_id, payment_id, amount, payment_type, stripe_payment_intent_id, receipt_url, recorded_at
		FROM payment_history
		WHERE registration_id = $1
		ORDER BY recorded_at
	`, registrationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.PaymentHistoryEntry
	for rows.Next() {
		var e domain.PaymentHistoryEntry
		if err := rows.Scan(&e.ID, &e.RegistrationID, &e.PaymentID, &e.Amount, &e.PaymentType, &e.StripePaymentIntentID, &e.ReceiptURL, &e.RecordedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ApplyPaymentCompletion transitions a payment to completed and brings the
// owning aggregate in line with the ledger, atomically. The conditional
// UPDATE is the concurrency guard: a concurrent redelivery of the same
// payment id matches zero rows and is reported as AlreadyCompleted.
func (r *PostgresRepository) ApplyPaymentCompletion(ctx context.Context, params ApplyPaymentCompletionParams) (*domain.PaymentApplication, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	reg, err := scanRegistration(tx.QueryRow(ctx, `
		SELECT `+registrationColumns+`
		FROM registrations
		WHERE id = (SELECT registration_id FROM payments WHERE payment_id = $1)
		FOR UPDATE
	`, params.PaymentID))
	if err != nil {
		if errors.Is(err, ErrRegistrationNotFound) {
			// Distinguish "payment unknown" from "registration missing".
			var exists bool
			if scanErr := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM payments WHERE payment_id = $1)`, params.PaymentID).Scan(&exists); scanErr == nil && !exists {
				return nil, ErrPaymentNotFound
			}
		}
		return nil, err
	}
	wasFullyPaid := reg.IsFullyPaid

	payment, err := scanPayment(tx.QueryRow(ctx, `
		UPDATE payments
		SET status = 'completed',
		    stripe_payment_intent_id = $2,
		    receipt_url = COALESCE($3, receipt_url),
		    previous_balance = $4,
		    processed_at = $5,
		    updated_at = NOW()
		WHERE payment_id = $1 AND status IN ('pending', 'processing')
		RETURNING `+paymentColumns,
		params.PaymentID, params.StripePaymentIntentID, params.ReceiptURL, reg.RemainingBalance, params.ProcessedAt))
	if err != nil {
		if !errors.Is(err, ErrPaymentNotFound) {
			return nil, err
		}
		// The payment exists (the registration lookup found it) but is no
		// longer pending: idempotent no-op.
		existing, findErr := r.FindPaymentByPaymentID(ctx, params.PaymentID)
		if findErr != nil {
			return nil, findErr
		}
		return &domain.PaymentApplication{Payment: existing, Registration: reg, AlreadyCompleted: true}, nil
	}

	ledger, err := listCompletedForUpdate(ctx, tx, reg.ID)
	if err != nil {
		return nil, err
	}
	summary := domain.RecomputeBalances(reg.TotalAmount, ledger)

	status := domain.RegistrationStatusConfirmed
	if _, err := tx.Exec(ctx, `
		UPDATE registrations
		SET total_paid = $2, remaining_balance = $3, is_fully_paid = $4, status = $5, updated_at = NOW()
		WHERE id = $1
	`, reg.ID, summary.TotalPaid, summary.RemainingBalance, summary.IsFullyPaid, status); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE payments SET new_balance = $2 WHERE id = $1
	`, payment.ID, summary.RemainingBalance); err != nil {
		return nil, err
	}
	payment.NewBalance = summary.RemainingBalance

	if _, err := tx.Exec(ctx, `
		INSERT INTO payment_history (
			id, registration_id, payment_id, amount, payment_type,
			stripe_payment_intent_id, receipt_url, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, uuid.New(), reg.ID, payment.PaymentID, payment.Amount, payment.PaymentType,
		payment.StripePaymentIntentID, payment.ReceiptURL, params.ProcessedAt); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	reg.TotalPaid = summary.TotalPaid
	reg.RemainingBalance = summary.RemainingBalance
	reg.IsFullyPaid = summary.IsFullyPaid
	reg.Status = status

	return &domain.PaymentApplication{
		Payment:        payment,
		Registration:   reg,
		FirstFullyPaid: summary.IsFullyPaid && !wasFullyPaid,
	}, nil
}

func listCompletedForUpdate(ctx context.Context, tx pgx.Tx, registrationID uuid.UUID) ([]domain.PaymentRecord, error) {
	rows, err := tx.Query(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE registration_id = $1 AND status = 'completed'
	`, registrationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []domain.PaymentRecord
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

// ListRecentCompletedSubscriptionPayments returns ledger rows completed since
// the cutoff that represent subscription billing, identified by the stripe
// subscription id recorded at charge time.
func (r *PostgresRepository) ListRecentCompletedSubscriptionPayments(ctx context.Context, since time.Time) ([]domain.PaymentRecord, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE status = 'completed'
		  AND processed_at >= $1
		  AND stripe_subscription_id IS NOT NULL
		ORDER BY processed_at
	`
	return r.listPayments(ctx, query, since)
}

// compile-time interface check
var _ Repository = (*PostgresRepository)(nil)
