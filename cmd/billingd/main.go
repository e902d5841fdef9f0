// billingd is the recurring billing worker. It runs the scheduled charge and
// trial-conversion batches and exposes a small admin API for manual
// lifecycle operations.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrymomot/billingkit/migrations"
	"github.com/dmitrymomot/billingkit/pkg/billing"
	"github.com/dmitrymomot/billingkit/pkg/config"
	"github.com/dmitrymomot/billingkit/pkg/httpserver"
	"github.com/dmitrymomot/billingkit/pkg/logger"
	"github.com/dmitrymomot/billingkit/pkg/pg"
	"github.com/dmitrymomot/billingkit/pkg/redis"
)

type appConfig struct {
	Logger  logger.Config
	HTTP    httpserver.Config
	PG      pg.Config
	Redis   redis.Config
	Billing billing.Config
	Paddle  billing.PaddleConfig
	Invoice billing.InvoiceConfig
	Worker  workerConfig
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var cfg appConfig
	config.MustLoad(&cfg)

	log := logger.FromConfig(cfg.Logger, logger.WithService("billingd"))
	logger.SetAsDefault(log)

	if err := run(ctx, cfg, log); err != nil {
		log.ErrorContext(ctx, "billingd stopped with error", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg appConfig, log *slog.Logger) error {
	pool, err := pg.Connect(ctx, cfg.PG)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pg.Migrate(ctx, pool, migrations.FS, log); err != nil {
		return err
	}

	rdb, err := redis.Connect(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()

	subscriptions := billing.NewPGSubscriptionStore(pool)
	history := billing.NewPGHistoryStore(pool)
	idempotency := billing.NewRedisIdempotencyStore(rdb,
		billing.WithIdempotencyTTL(cfg.Billing.IdempotencyTTL),
	)
	events := billing.NewRedisEventChannel(rdb)

	payments, err := billing.NewPaddlePaymentClient(cfg.Paddle)
	if err != nil {
		return err
	}

	var invoices billing.InvoiceClient
	if cfg.Invoice.BaseURL != "" {
		invoices, err = billing.NewHTTPInvoiceClient(cfg.Invoice)
		if err != nil {
			return err
		}
	} else {
		invoices = billing.NewNoopInvoiceClient(log)
	}

	scheduling := billing.NewSchedulingService(subscriptions)
	lifecycle := billing.NewLifecycleService(subscriptions, history, billing.DefaultCatalog(),
		billing.WithLifecycleEvents(events),
		billing.WithLifecycleLogger(log),
	)
	charges := billing.NewChargeService(subscriptions, scheduling, lifecycle, payments, invoices, idempotency,
		billing.WithChargeEvents(events),
		billing.WithChargeLogger(log),
		billing.WithMaxRetries(cfg.Billing.MaxChargeRetries),
	)
	trials := billing.NewTrialConversionService(scheduling, charges, lifecycle,
		billing.WithTrialEvents(events),
		billing.WithTrialLogger(log),
	)

	worker, err := newWorker(cfg.Worker, subscriptions, charges, trials, log)
	if err != nil {
		return err
	}
	worker.Start()
	defer worker.Stop()

	srv := httpserver.New(cfg.HTTP, httpserver.WithLogger(log))
	router := newAdminRouter(adminDeps{
		lifecycle:        lifecycle,
		subscriptions:    subscriptions,
		defaultTrialDays: cfg.Billing.DefaultTrialDays,
		log:              log,
		probes: []func(context.Context) error{
			pg.Healthcheck(pool),
			redis.Healthcheck(rdb),
		},
	})

	return srv.Run(ctx, router)
}
