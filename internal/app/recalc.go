/**
 * @description
 * Admin recalculation. Rebuilds a registration's paid/remaining aggregate
 * from its completed payment ledger and overwrites the stored values. The
 * ledger rows themselves are never touched and no notifications are emitted;
 * this is a repair tool, not a payment path.
 */

package app

import (
	"context"
	"log"

	"github.com/google/uuid"

	"github.com/daytradedak/payment-service/internal/domain"
)

// RecalculateRegistration recomputes one registration's balances from its
// completed payments and persists the corrected aggregate. Returns the
// summary alongside whether anything actually changed.
func (s *Service) RecalculateRegistration(ctx context.Context, registrationID uuid.UUID) (domain.BalanceSummary, bool, error) {
	reg, err := s.repo.FindRegistrationByID(ctx, registrationID)
	if err != nil {
		return domain.BalanceSummary{}, false, err
	}

	ledger, err := s.repo.ListCompletedPaymentsByRegistration(ctx, registrationID)
	if err != nil {
		return domain.BalanceSummary{}, false, err
	}

	summary := domain.RecomputeBalances(reg.TotalAmount, ledger)

	changed := summary.TotalPaid != reg.TotalPaid ||
		summary.RemainingBalance != reg.RemainingBalance ||
		summary.IsFullyPaid != reg.IsFullyPaid

	status := reg.Status
	if summary.TotalPaid > 0 && status == domain.RegistrationStatusPending {
		status = domain.RegistrationStatusConfirmed
	}
	if status != reg.Status {
		changed = true
	}

	if !changed {
		return summary, false, nil
	}

	if err := s.repo.OverwriteRegistrationBalances(ctx, registrationID, summary, status); err != nil {
		return domain.BalanceSummary{}, false, err
	}

	log.Printf("level=info component=service flow=recalc msg=\"registration balances corrected\" registration_id=%s total_paid=%s remaining=%s fully_paid=%t",
		registrationID, domain.FormatCents(summary.TotalPaid), domain.FormatCents(summary.RemainingBalance), summary.IsFullyPaid)

	return summary, true, nil
}

// RecalculateAllPartial sweeps every installment-mode registration and
// recomputes its aggregate. One bad registration does not stop the sweep.
func (s *Service) RecalculateAllPartial(ctx context.Context) (*domain.RecalculationResult, error) {
	ids, err := s.repo.ListPartialRegistrationIDs(ctx)
	if err != nil {
		return nil, err
	}

	result := &domain.RecalculationResult{}
	for _, id := range ids {
		result.Recalculated++
		_, corrected, err := s.RecalculateRegistration(ctx, id)
		if err != nil {
			result.Failed++
			log.Printf("level=error component=service flow=recalc msg=\"recalculation failed\" registration_id=%s err=%v", id, err)
			continue
		}
		if corrected {
			result.Corrected++
		}
	}

	log.Printf("level=info component=service flow=recalc msg=\"sweep finished\" scanned=%d corrected=%d failed=%d",
		result.Recalculated, result.Corrected, result.Failed)

	return result, nil
}
