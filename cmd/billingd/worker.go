package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dmitrymomot/billingkit/pkg/billing"
	"github.com/dmitrymomot/billingkit/pkg/logger"
)

type workerConfig struct {
	// Cron schedules for the recurring batches. Defaults run charges at the
	// top of the hour and trial conversions at half past.
	ChargeSchedule string `env:"BILLING_CHARGE_SCHEDULE" envDefault:"0 * * * *"`
	TrialSchedule  string `env:"BILLING_TRIAL_SCHEDULE" envDefault:"30 * * * *"`

	// BatchTimeout bounds one full fan-out over all organisations.
	BatchTimeout time.Duration `env:"BILLING_BATCH_TIMEOUT" envDefault:"15m"`
}

// worker runs the scheduled billing batches. Each tick fans out over all
// organisations with stored subscriptions; a slow or failing organisation
// never blocks the others past its own report.
type worker struct {
	cron    *cron.Cron
	store   *billing.PGSubscriptionStore
	charges *billing.ChargeService
	trials  *billing.TrialConversionService
	timeout time.Duration
	log     *slog.Logger
}

func newWorker(
	cfg workerConfig,
	store *billing.PGSubscriptionStore,
	charges *billing.ChargeService,
	trials *billing.TrialConversionService,
	log *slog.Logger,
) (*worker, error) {
	w := &worker{
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cron.DiscardLogger),
		)),
		store:   store,
		charges: charges,
		trials:  trials,
		timeout: cfg.BatchTimeout,
		log:     log,
	}

	if _, err := w.cron.AddFunc(cfg.ChargeSchedule, w.runCharges); err != nil {
		return nil, err
	}
	if _, err := w.cron.AddFunc(cfg.TrialSchedule, w.runTrialConversions); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *worker) Start() {
	w.cron.Start()
	w.log.Info("billing worker started")
}

// Stop halts the scheduler and waits for a running batch to finish.
func (w *worker) Stop() {
	<-w.cron.Stop().Done()
	w.log.Info("billing worker stopped")
}

func (w *worker) runCharges() {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	orgIDs, err := w.store.OrganizationIDs(ctx)
	if err != nil {
		w.log.ErrorContext(ctx, "charge batch: list organisations", logger.Error(err))
		return
	}

	for _, orgID := range orgIDs {
		report, err := w.charges.ProcessCharges(ctx, orgID)
		if err != nil {
			w.log.ErrorContext(ctx, "charge batch failed",
				logger.OrganizationID(orgID),
				logger.Error(err),
			)
			continue
		}
		w.log.InfoContext(ctx, "charge batch finished",
			logger.OrganizationID(orgID),
			slog.Int("processed", report.Processed),
			slog.Int("succeeded", report.Succeeded),
			slog.Int("failed", report.Failed),
			slog.Int("skipped", report.Skipped),
		)
	}
}

func (w *worker) runTrialConversions() {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	orgIDs, err := w.store.OrganizationIDs(ctx)
	if err != nil {
		w.log.ErrorContext(ctx, "trial batch: list organisations", logger.Error(err))
		return
	}

	for _, orgID := range orgIDs {
		report, err := w.trials.ProcessTrialConversions(ctx, orgID)
		if err != nil {
			w.log.ErrorContext(ctx, "trial conversion batch failed",
				logger.OrganizationID(orgID),
				logger.Error(err),
			)
			continue
		}
		w.log.InfoContext(ctx, "trial conversion batch finished",
			logger.OrganizationID(orgID),
			slog.Int("processed", report.Processed),
			slog.Int("converted", report.Converted),
			slog.Int("past_due", report.MovedToPastDue),
			slog.Int("skipped", report.Skipped),
		)
	}
}
