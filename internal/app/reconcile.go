/**
 * @description
 * Reconciliation sweeps that keep local subscription state consistent with
 * the payment gateway. Three jobs live here:
 *
 * 1. SyncRecentSubscriptionPayments: extends local billing periods from
 *    recently completed subscription charges in the ledger.
 * 2. SyncGatewaySubscriptions: treats the gateway as authoritative and
 *    overwrites local entries that drifted, including resolving duplicate
 *    active entries for the same plan.
 * 3. EnforceSubscriptionExpiry: expires lapsed subscriptions, cancelling at
 *    the gateway before the local state flips so a cancel failure never
 *    strands a user with gateway billing but no access.
 *
 * All sweeps share the same failure posture: one bad item is logged and
 * skipped, the run continues, and the result counters report the damage.
 */

package app

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/daytradedak/payment-service/internal/domain"
	"github.com/daytradedak/payment-service/internal/store"
	"github.com/daytradedak/payment-service/pkg/stripegateway"
)

// transactionSyncWindow is how far back the recent-transaction sync looks.
const transactionSyncWindow = 24 * time.Hour

// SyncRecentSubscriptionPayments scans subscription charges completed in the
// last 24 hours and pushes each subscription's current_period_end forward by
// one month from the charge time. The advance is conditional in the store:
// stale or replayed charges never move the period end backwards.
func (s *Service) SyncRecentSubscriptionPayments(ctx context.Context) (*domain.TransactionSyncResult, error) {
	since := s.now().UTC().Add(-transactionSyncWindow)

	payments, err := s.repo.ListRecentCompletedSubscriptionPayments(ctx, since)
	if err != nil {
		return nil, err
	}

	result := &domain.TransactionSyncResult{}
	for _, payment := range payments {
		result.Scanned++
		if payment.StripeSubscriptionID == nil || payment.ProcessedAt == nil {
			continue
		}

		sub, err := s.repo.FindSubscriptionByStripeID(ctx, *payment.StripeSubscriptionID)
		if err != nil {
			if errors.Is(err, store.ErrSubscriptionNotFound) {
				log.Printf("level=warn component=service flow=txsync msg=\"charge references unknown subscription\" payment_id=%s stripe_subscription_id=%s",
					payment.PaymentID, *payment.StripeSubscriptionID)
				continue
			}
			result.Failed++
			log.Printf("level=error component=service flow=txsync msg=\"subscription lookup failed\" payment_id=%s err=%v", payment.PaymentID, err)
			continue
		}

		newPeriodEnd := payment.ProcessedAt.AddDate(0, 1, 0)
		advanced, err := s.repo.AdvanceSubscriptionPeriodEnd(ctx, sub.ID, newPeriodEnd)
		if err != nil {
			result.Failed++
			log.Printf("level=error component=service flow=txsync msg=\"period advance failed\" subscription_id=%s err=%v", sub.ID, err)
			continue
		}
		if !advanced && sub.Status == domain.SubscriptionStatusActive {
			// Stored period end is already at or past the derived one: a
			// stale or replayed charge, nothing to record.
			continue
		}
		if advanced {
			sub.CurrentPeriodEnd = newPeriodEnd
		}

		if sub.Status != domain.SubscriptionStatusActive {
			// A completed charge on a non-active entry means the local
			// status is stale: reactivate it. The period end keeps whichever
			// value is newer, so the advance guard above is never undone.
			sub.Status = domain.SubscriptionStatusActive
			sub.ExpiresAt = nil
			if err := s.repo.UpdateSubscription(ctx, sub); err != nil {
				result.Failed++
				log.Printf("level=error component=service flow=txsync msg=\"reactivation failed\" subscription_id=%s err=%v", sub.ID, err)
				continue
			}
			if !advanced {
				result.FallbackApplied++
			}
		}
		if advanced {
			result.Advanced++
		}

		s.appendSubscriptionHistory(ctx, sub, domain.SubscriptionActionRenewed, payment.Amount, *payment.ProcessedAt, map[string]interface{}{
			"payment_id":            payment.PaymentID,
			"new_period_end":        sub.CurrentPeriodEnd.Format(time.RFC3339),
			"stripe_payment_intent": derefString(payment.StripePaymentIntentID),
		})
	}

	log.Printf("level=info component=service flow=txsync msg=\"sweep finished\" scanned=%d advanced=%d fallback=%d failed=%d",
		result.Scanned, result.Advanced, result.FallbackApplied, result.Failed)

	return result, nil
}

// SyncGatewaySubscriptions walks every user with a gateway customer id, in
// pages, and reconciles their local subscription entries against the
// gateway's active list. The gateway wins every disagreement.
func (s *Service) SyncGatewaySubscriptions(ctx context.Context) (*domain.GatewaySyncResult, error) {
	result := &domain.GatewaySyncResult{}
	batch := s.opts.GatewaySyncBatch

	for offset := 0; ; offset += batch {
		users, err := s.repo.ListUsersWithStripeCustomer(ctx, s.opts.Region, batch, offset)
		if err != nil {
			return result, err
		}
		if len(users) == 0 {
			break
		}

		for _, user := range users {
			result.UsersScanned++
			if err := s.syncUserSubscriptions(ctx, user, result); err != nil {
				result.Failed++
				log.Printf("level=error component=service flow=gwsync msg=\"user sync failed\" user_id=%s err=%v", user.ID, err)
			}
		}

		if len(users) < batch {
			break
		}
	}

	log.Printf("level=info component=service flow=gwsync msg=\"sweep finished\" users=%d fixed=%d duplicates=%d failed=%d",
		result.UsersScanned, result.SubscriptionsFixed, result.DuplicatesResolved, result.Failed)

	return result, nil
}

func (s *Service) syncUserSubscriptions(ctx context.Context, user domain.User, result *domain.GatewaySyncResult) error {
	if user.StripeCustomerID == nil || *user.StripeCustomerID == "" {
		return nil
	}

	gatewaySubs, err := s.gateway.ListActiveSubscriptions(ctx, *user.StripeCustomerID)
	if err != nil {
		return err
	}

	localSubs, err := s.repo.ListSubscriptionsByUser(ctx, user.ID)
	if err != nil {
		return err
	}

	activeByGatewayID := make(map[string]stripegateway.Subscription, len(gatewaySubs))
	for _, gs := range gatewaySubs {
		activeByGatewayID[gs.ID] = gs
	}

	// Overwrite drifted local entries from the gateway truth, and expire
	// local-active entries the gateway no longer reports.
	seenActivePlan := make(map[string]bool)
	for i := range localSubs {
		local := &localSubs[i]

		gs, stillActive := activeByGatewayID[local.StripeSubscriptionID]
		if !stillActive {
			if local.Status == domain.SubscriptionStatusActive {
				if err := s.repo.MarkSubscriptionExpired(ctx, local.ID); err != nil {
					return err
				}
				result.SubscriptionsFixed++
				s.appendSubscriptionHistory(ctx, local, domain.SubscriptionActionExpired, 0, s.now().UTC(), map[string]interface{}{
					"reason": "not active at gateway",
				})
			}
			continue
		}

		// Duplicate active entries for one plan: the first wins, the rest
		// are cancelled at the gateway and expired locally.
		if local.Status == domain.SubscriptionStatusActive && seenActivePlan[local.PlanID] {
			if err := s.cancelAtGateway(ctx, local.StripeSubscriptionID); err != nil {
				return err
			}
			if err := s.repo.MarkSubscriptionExpired(ctx, local.ID); err != nil {
				return err
			}
			result.DuplicatesResolved++
			s.appendSubscriptionHistory(ctx, local, domain.SubscriptionActionExpired, 0, s.now().UTC(), map[string]interface{}{
				"reason": "duplicate active subscription for plan",
			})
			continue
		}

		changed := false
		if local.Status != domain.SubscriptionStatusActive {
			local.Status = domain.SubscriptionStatusActive
			local.ExpiresAt = nil
			changed = true
		}
		if !local.CurrentPeriodEnd.Equal(gs.CurrentPeriodEnd) {
			local.CurrentPeriodEnd = gs.CurrentPeriodEnd
			changed = true
		}
		if changed {
			if err := s.repo.UpdateSubscription(ctx, local); err != nil {
				return err
			}
			result.SubscriptionsFixed++
			s.appendSubscriptionHistory(ctx, local, domain.SubscriptionActionRenewed, 0, s.now().UTC(), map[string]interface{}{
				"reason":             "gateway overwrite",
				"current_period_end": local.CurrentPeriodEnd.Format(time.RFC3339),
			})
		}
		if local.Status == domain.SubscriptionStatusActive {
			seenActivePlan[local.PlanID] = true
		}
	}

	return nil
}

// EnforceSubscriptionExpiry expires subscriptions whose billing period has
// lapsed. The gateway cancel happens first: if it fails for any reason other
// than "already gone", the local entry stays active and the next run retries.
func (s *Service) EnforceSubscriptionExpiry(ctx context.Context) (*domain.ExpirySweepResult, error) {
	now := s.now().UTC()

	lapsed, err := s.repo.ListLapsedActiveSubscriptions(ctx, now, s.opts.ExpirySweepBatch)
	if err != nil {
		return nil, err
	}

	result := &domain.ExpirySweepResult{}
	for i := range lapsed {
		sub := &lapsed[i]
		result.Scanned++

		if err := s.cancelAtGateway(ctx, sub.StripeSubscriptionID); err != nil {
			result.CancelFailed++
			log.Printf("level=warn component=service flow=expiry msg=\"gateway cancel failed, subscription stays active\" subscription_id=%s stripe_subscription_id=%s err=%v",
				sub.ID, sub.StripeSubscriptionID, err)
			continue
		}

		if err := s.repo.MarkSubscriptionExpired(ctx, sub.ID); err != nil {
			result.CancelFailed++
			log.Printf("level=error component=service flow=expiry msg=\"local expire failed after gateway cancel\" subscription_id=%s err=%v", sub.ID, err)
			continue
		}

		result.Expired++
		s.appendSubscriptionHistory(ctx, sub, domain.SubscriptionActionExpired, 0, now, map[string]interface{}{
			"current_period_end": sub.CurrentPeriodEnd.Format(time.RFC3339),
		})
	}

	log.Printf("level=info component=service flow=expiry msg=\"sweep finished\" scanned=%d expired=%d cancel_failed=%d",
		result.Scanned, result.Expired, result.CancelFailed)

	return result, nil
}

// cancelAtGateway cancels a gateway subscription, treating "already gone"
// responses as success.
func (s *Service) cancelAtGateway(ctx context.Context, stripeSubscriptionID string) error {
	err := s.gateway.CancelSubscription(ctx, stripeSubscriptionID)
	if err == nil || stripegateway.IsNotFound(err) || stripegateway.IsAlreadyCanceled(err) {
		return nil
	}
	return err
}

// appendSubscriptionHistory records an audit entry. History is best-effort:
// a write failure is logged but never undoes the state change it describes.
func (s *Service) appendSubscriptionHistory(ctx context.Context, sub *domain.SubscriptionEntry, action string, price int64, effectiveAt time.Time, metadata map[string]interface{}) {
	entry := &domain.SubscriptionHistoryEntry{
		UserID:         sub.UserID,
		SubscriptionID: sub.ID,
		PlanID:         sub.PlanID,
		Action:         action,
		Price:          price,
		EffectiveAt:    effectiveAt,
		Metadata:       metadata,
	}
	if err := s.repo.AppendSubscriptionHistory(ctx, entry); err != nil {
		log.Printf("level=warn component=service flow=subscription msg=\"history append failed\" subscription_id=%s action=%s err=%v", sub.ID, action, err)
	}
}

func derefString(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
