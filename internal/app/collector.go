/**
 * @description
 * Abandoned-checkout collector. Pending registrations whose checkout window
 * has lapsed without a completed payment are deleted along with their
 * pending ledger rows. The delete is guarded in the store: a registration
 * that gained a completed payment between the scan and the delete is never
 * removed.
 */

package app

import (
	"context"
	"log"

	"github.com/daytradedak/payment-service/internal/domain"
)

// CollectAbandonedCheckouts removes expired unpaid registrations in one
// batched pass. A registration whose guarded delete is blocked (a payment
// completed mid-sweep) counts as skipped, not failed.
func (s *Service) CollectAbandonedCheckouts(ctx context.Context) (*domain.CollectorResult, error) {
	now := s.now().UTC()

	expired, err := s.repo.ListExpiredUnpaidRegistrations(ctx, now, s.opts.CollectorBatch)
	if err != nil {
		return nil, err
	}

	result := &domain.CollectorResult{}
	for _, reg := range expired {
		result.Scanned++

		deleted, err := s.repo.DeleteRegistrationIfUnpaid(ctx, reg.ID)
		if err != nil {
			result.Failed++
			log.Printf("level=error component=service flow=collector msg=\"delete failed\" registration_id=%s err=%v", reg.ID, err)
			continue
		}
		if !deleted {
			result.Skipped++
			log.Printf("level=info component=service flow=collector msg=\"registration paid mid-sweep, kept\" registration_id=%s", reg.ID)
			continue
		}

		result.Deleted++
		log.Printf("level=info component=service flow=collector msg=\"abandoned checkout collected\" registration_id=%s event_id=%s email=%s",
			reg.ID, reg.EventID, reg.Email)
	}

	log.Printf("level=info component=service flow=collector msg=\"sweep finished\" scanned=%d deleted=%d skipped=%d failed=%d",
		result.Scanned, result.Deleted, result.Skipped, result.Failed)

	return result, nil
}
