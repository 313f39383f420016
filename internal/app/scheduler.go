/**
 * @description
 * Cron wiring for the background sweeps. Jobs wraps each service sweep in a
 * parameterless func with its own logging; Scheduler registers them on the
 * configured cron expressions. The same sweeps are also reachable through
 * the internal HTTP endpoints for manual runs.
 */
package app

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/daytradedak/payment-service/internal/config"
)

// Jobs contains the scheduled task entry points.
type Jobs struct {
	service *Service
	logger  *slog.Logger
}

// NewJobs creates a new Jobs runner.
func NewJobs(service *Service, logger *slog.Logger) *Jobs {
	return &Jobs{service: service, logger: logger}
}

// RunTransactionSync extends subscription periods from recent charges.
func (j *Jobs) RunTransactionSync() {
	j.logger.Info("starting transaction sync job")
	ctx := context.Background()

	result, err := j.service.SyncRecentSubscriptionPayments(ctx)
	if err != nil {
		j.logger.Error("transaction sync job failed", "error", err)
		return
	}

	j.logger.Info("transaction sync job finished",
		"scanned", result.Scanned, "advanced", result.Advanced,
		"fallback", result.FallbackApplied, "failed", result.Failed)
}

// RunGatewaySync reconciles local subscriptions against the gateway.
func (j *Jobs) RunGatewaySync() {
	j.logger.Info("starting gateway sync job")
	ctx := context.Background()

	result, err := j.service.SyncGatewaySubscriptions(ctx)
	if err != nil {
		j.logger.Error("gateway sync job failed", "error", err)
		return
	}

	j.logger.Info("gateway sync job finished",
		"users_scanned", result.UsersScanned, "fixed", result.SubscriptionsFixed,
		"duplicates_resolved", result.DuplicatesResolved, "failed", result.Failed)
}

// RunSubscriptionExpiry expires lapsed subscriptions.
func (j *Jobs) RunSubscriptionExpiry() {
	j.logger.Info("starting subscription expiry job")
	ctx := context.Background()

	result, err := j.service.EnforceSubscriptionExpiry(ctx)
	if err != nil {
		j.logger.Error("subscription expiry job failed", "error", err)
		return
	}

	j.logger.Info("subscription expiry job finished",
		"scanned", result.Scanned, "expired", result.Expired, "cancel_failed", result.CancelFailed)
}

// RunAbandonedCheckoutCollection removes expired unpaid registrations.
func (j *Jobs) RunAbandonedCheckoutCollection() {
	j.logger.Info("starting abandoned checkout collection job")
	ctx := context.Background()

	result, err := j.service.CollectAbandonedCheckouts(ctx)
	if err != nil {
		j.logger.Error("abandoned checkout collection job failed", "error", err)
		return
	}

	j.logger.Info("abandoned checkout collection job finished",
		"scanned", result.Scanned, "deleted", result.Deleted,
		"skipped", result.Skipped, "failed", result.Failed)
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron   *cron.Cron
	jobs   *Jobs
	logger *slog.Logger
	config config.Config
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(jobs *Jobs, logger *slog.Logger, cfg config.Config) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Scheduler{
		cron:   c,
		jobs:   jobs,
		logger: logger,
		config: cfg,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() {
	if _, err := s.cron.AddFunc(s.config.TransactionSyncSchedule, s.jobs.RunTransactionSync); err != nil {
		s.logger.Error("failed to schedule transaction sync job", "error", err)
	} else {
		s.logger.Info("scheduled transaction sync job", "schedule", s.config.TransactionSyncSchedule)
	}

	if _, err := s.cron.AddFunc(s.config.GatewaySyncSchedule, s.jobs.RunGatewaySync); err != nil {
		s.logger.Error("failed to schedule gateway sync job", "error", err)
	} else {
		s.logger.Info("scheduled gateway sync job", "schedule", s.config.GatewaySyncSchedule)
	}

	if _, err := s.cron.AddFunc(s.config.SubscriptionExpirySchedule, s.jobs.RunSubscriptionExpiry); err != nil {
		s.logger.Error("failed to schedule subscription expiry job", "error", err)
	} else {
		s.logger.Info("scheduled subscription expiry job", "schedule", s.config.SubscriptionExpirySchedule)
	}

	if _, err := s.cron.AddFunc(s.config.AbandonedCheckoutSchedule, s.jobs.RunAbandonedCheckoutCollection); err != nil {
		s.logger.Error("failed to schedule abandoned checkout collection job", "error", err)
	} else {
		s.logger.Info("scheduled abandoned checkout collection job", "schedule", s.config.AbandonedCheckoutSchedule)
	}

	s.cron.Start()
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
