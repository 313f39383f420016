/**
 * @description
 * PostgreSQL implementation of the subscription-side Repository methods:
 * users with gateway customer ids, per-user subscription entries, and the
 * append-only subscription history log.
 */

package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/daytradedak/payment-service/internal/domain"
)

const subscriptionColumns = `
	id, user_id, plan_id, stripe_subscription_id, status,
	current_period_end, expires_at, created_at, updated_at`

func scanSubscription(row pgx.Row) (*domain.SubscriptionEntry, error) {
	var sub domain.SubscriptionEntry
	err := row.Scan(
		&sub.ID, &sub.UserID, &sub.PlanID, &sub.StripeSubscriptionID, &sub.Status,
		&sub.CurrentPeriodEnd, &sub.ExpiresAt, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return &sub, nil
}

// ListUsersWithStripeCustomer pages through users that carry a gateway
// customer id, scoped to the configured region. Drives the batched
// authoritative gateway sync.
func (r *PostgresRepository) ListUsersWithStripeCustomer(ctx context.Context, region string, limit, offset int) ([]domain.User, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, email, stripe_customer_id, region
		FROM users
		WHERE stripe_customer_id IS NOT NULL
		  AND ($1 = '' OR region = $1)
		ORDER BY id
		LIMIT $2 OFFSET $3
	`, region, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Email, &u.StripeCustomerID, &u.Region); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// ListSubscriptionsByUser returns every subscription entry a user holds.
func (r *PostgresRepository) ListSubscriptionsByUser(ctx context.Context, userID uuid.UUID) ([]domain.SubscriptionEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE user_id = $1
		ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []domain.SubscriptionEntry
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

// FindSubscriptionByStripeID retrieves a subscription entry by its gateway id.
func (r *PostgresRepository) FindSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*domain.SubscriptionEntry, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE stripe_subscription_id = $1`
	return scanSubscription(r.db.QueryRow(ctx, query, stripeSubscriptionID))
}

// ListLapsedActiveSubscriptions returns entries still marked active whose term
// has lapsed. Candidates for the expiry enforcement sweep.
func (r *PostgresRepository) ListLapsedActiveSubscriptions(ctx context.Context, asOf time.Time, limit int) ([]domain.SubscriptionEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE status = 'active'
		  AND (
			(expires_at IS NOT NULL AND expires_at < $1)
			OR current_period_end < $1
		  )
		ORDER BY current_period_end
		LIMIT $2
	`, asOf, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []domain.SubscriptionEntry
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

// AdvanceSubscriptionPeriodEnd pushes current_period_end forward only when the
// stored value is older. The WHERE clause makes the advance atomic with
// respect to concurrent writers; callers fall back to a read-modify-write when
// zero rows match.
func (r *PostgresRepository) AdvanceSubscriptionPeriodEnd(ctx context.Context, subscriptionID uuid.UUID, newPeriodEnd time.Time) (bool, error) {
	result, err := r.db.Exec(ctx, `
		UPDATE subscriptions
		SET current_period_end = $2, updated_at = NOW()
		WHERE id = $1 AND current_period_end < $2
	`, subscriptionID, newPeriodEnd)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() > 0, nil
}

// UpdateSubscription overwrites a subscription entry's mutable fields.
func (r *PostgresRepository) UpdateSubscription(ctx context.Context, sub *domain.SubscriptionEntry) error {
	result, err := r.db.Exec(ctx, `
		UPDATE subscriptions
		SET status = $2, current_period_end = $3, expires_at = $4, updated_at = NOW()
		WHERE id = $1
	`, sub.ID, sub.Status, sub.CurrentPeriodEnd, sub.ExpiresAt)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// MarkSubscriptionExpired flips an entry to expired. Callers must have
// cancelled the upstream subscription first; this method only records the
// local consequence.
func (r *PostgresRepository) MarkSubscriptionExpired(ctx context.Context, subscriptionID uuid.UUID) error {
	result, err := r.db.Exec(ctx, `
		UPDATE subscriptions
		SET status = 'expired', updated_at = NOW()
		WHERE id = $1 AND status = 'active'
	`, subscriptionID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// AppendSubscriptionHistory writes one immutable audit row.
func (r *PostgresRepository) AppendSubscriptionHistory(ctx context.Context, entry *domain.SubscriptionHistoryEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	var metadata []byte
	if entry.Metadata != nil {
		encoded, err := json.Marshal(entry.Metadata)
		if err != nil {
			return err
		}
		metadata = encoded
	}
	return r.db.QueryRow(ctx, `
		INSERT INTO subscription_history (
			id, user_id, subscription_id, plan_id, action, price, effective_at, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		RETURNING created_at
	`, entry.ID, entry.UserID, entry.SubscriptionID, entry.PlanID, entry.Action,
		entry.Price, entry.EffectiveAt, metadata,
	).Scan(&entry.CreatedAt)
}
