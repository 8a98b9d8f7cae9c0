// Command subkit runs the subscription lifecycle service: the HTTP API,
// provider webhook ingress and the maintenance scheduler.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/subkit/pkg/config"
	"github.com/dmitrymomot/subkit/pkg/httpserver"
	"github.com/dmitrymomot/subkit/pkg/logger"
	mgo "github.com/dmitrymomot/subkit/pkg/mongo"
	"github.com/dmitrymomot/subkit/pkg/pg"
	rdb "github.com/dmitrymomot/subkit/pkg/redis"
	"github.com/dmitrymomot/subkit/pkg/scheduler"
	"github.com/dmitrymomot/subkit/pkg/subscription"
	"github.com/dmitrymomot/subkit/pkg/subscription/httpapi"
	"github.com/dmitrymomot/subkit/pkg/subscription/mongostore"
	"github.com/dmitrymomot/subkit/pkg/subscription/paddle"
	"github.com/dmitrymomot/subkit/pkg/subscription/pgstore"
	"github.com/dmitrymomot/subkit/pkg/subscription/razorpay"
	"github.com/dmitrymomot/subkit/pkg/subscription/redisledger"
)

type appConfig struct {
	Env             string `env:"APP_ENV" envDefault:"development"`
	Name            string `env:"APP_NAME" envDefault:"subkit"`
	LogLevel        string `env:"LOG_LEVEL"`
	BillingProvider string `env:"BILLING_PROVIDER" envDefault:"razorpay"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var app appConfig
	config.MustLoad(&app)

	log := logger.New(
		logger.WithEnvironment(app.Env, app.Name),
		logger.WithLevelName(app.LogLevel),
		logger.WithContextExtractors(httpapi.RequestIDExtractor),
	)
	logger.SetAsDefault(log)

	if err := run(ctx, app, log); err != nil {
		log.Error("subkit stopped with error", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, app appConfig, log *slog.Logger) error {
	var (
		subCfg   subscription.Config
		relCfg   subscription.ReliabilityConfig
		pgCfg    pg.Config
		redisCfg rdb.Config
		mongoCfg mgo.Config
		httpCfg  httpserver.Config
		apiCfg   httpapi.Config
	)
	if err := errors.Join(
		config.Load(&subCfg),
		config.Load(&relCfg),
		config.Load(&pgCfg),
		config.Load(&redisCfg),
		config.Load(&mongoCfg),
		config.Load(&httpCfg),
		config.Load(&apiCfg),
	); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := subscription.NewMetrics(reg)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	pool, err := pg.Connect(ctx, pgCfg)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := pgstore.Migrate(ctx, pool, pgCfg, log); err != nil {
		return err
	}
	store := pgstore.New(pool)
	checks := []httpserver.Check{{Name: "postgres", Fn: pg.Healthcheck(pool)}}

	var dlq subscription.DeadLetterQueue = pgstore.NewDeadLetterQueue(pool)
	if mongoCfg.Enabled() {
		client, err := mgo.New(ctx, mongoCfg)
		if err != nil {
			return err
		}
		defer func() { _ = client.Disconnect(context.WithoutCancel(ctx)) }()

		mongoDLQ := mongostore.NewDeadLetterQueue(client.Database(mongoCfg.Database))
		if err := mongoDLQ.EnsureIndexes(ctx); err != nil {
			return err
		}
		dlq = mongoDLQ
		checks = append(checks, httpserver.Check{Name: "mongo", Fn: mgo.Healthcheck(client)})
		log.InfoContext(ctx, "dead letters stored in mongo", slog.String("database", mongoCfg.Database))
	}

	reconcilerOpts := []subscription.ReconcilerOption{
		subscription.WithReconcilerLogger(log),
		subscription.WithReconcilerMetrics(metrics),
	}
	if redisCfg.Enabled() {
		client, err := rdb.Connect(ctx, redisCfg)
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()

		reconcilerOpts = append(reconcilerOpts, subscription.WithEventLedger(
			redisledger.New(client, redisledger.WithTTL(redisCfg.LedgerTTL)),
		))
		checks = append(checks, httpserver.Check{Name: "redis", Fn: rdb.Healthcheck(client)})
	}

	gateway, signatureHeader, eventIDHeader, err := newProvider(app.BillingProvider)
	if err != nil {
		return err
	}
	provider := subscription.NewReliableProvider(gateway, relCfg,
		subscription.WithReliabilityLogger(log),
		subscription.WithReliabilityMetrics(metrics),
	)

	plans, err := subCfg.PlanSource().Load(ctx)
	if err != nil {
		return errors.Join(subscription.ErrPlanSource, err)
	}
	svc, err := subscription.NewService(ctx, subscription.Plans(plans), provider, store,
		subscription.WithConfig(subCfg),
		subscription.WithLogger(log),
	)
	if err != nil {
		return err
	}
	reconciler := subscription.NewReconciler(store, provider, dlq,
		append(reconcilerOpts, subscription.WithReconcilerPlans(plans))...,
	)

	sched := scheduler.New(scheduler.WithLogger(log))
	maintenance := subscription.NewMaintenance(store, subCfg,
		subscription.WithMaintenanceLogger(log),
		subscription.WithReplayReconciler(reconciler),
	)
	if err := maintenance.Register(sched); err != nil {
		return err
	}

	handler := httpapi.New(svc, reconciler,
		httpapi.WithConfig(apiCfg),
		httpapi.WithLogger(log),
		httpapi.WithWebhookHeaders(signatureHeader, eventIDHeader),
		httpapi.WithGatherer(reg),
		httpapi.WithHealthChecks(checks...),
	)
	server := httpserver.NewFromConfig(httpCfg, httpserver.WithLogger(log))

	log.InfoContext(ctx, "subkit starting",
		slog.String("provider", app.BillingProvider),
		slog.Int("plans", len(plans)),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(ctx, handler)
	})
	g.Go(func() error {
		if err := sched.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	return g.Wait()
}

// newProvider builds the configured billing gateway and the webhook headers
// it signs with.
func newProvider(name string) (subscription.BillingProvider, string, string, error) {
	switch name {
	case "razorpay":
		var cfg razorpay.Config
		if err := config.Load(&cfg); err != nil {
			return nil, "", "", err
		}
		client, err := razorpay.New(cfg)
		if err != nil {
			return nil, "", "", err
		}
		return client, razorpay.SignatureHeader, razorpay.EventIDHeader, nil
	case "paddle":
		var cfg paddle.Config
		if err := config.Load(&cfg); err != nil {
			return nil, "", "", err
		}
		p, err := paddle.New(cfg)
		if err != nil {
			return nil, "", "", err
		}
		return p, paddle.SignatureHeader, "", nil
	default:
		return nil, "", "", fmt.Errorf("unknown BILLING_PROVIDER %q: want razorpay or paddle", name)
	}
}
