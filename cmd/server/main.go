package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/equilibra/platform/pkg/config"
	"github.com/equilibra/platform/pkg/email"
	"github.com/equilibra/platform/pkg/httpserver"
	"github.com/equilibra/platform/pkg/jwt"
	"github.com/equilibra/platform/pkg/logger"
	"github.com/equilibra/platform/pkg/pg"
	"github.com/equilibra/platform/pkg/ratelimiter"
	"github.com/equilibra/platform/pkg/redis"
	"github.com/equilibra/platform/pkg/requestid"
	"github.com/equilibra/platform/svc/billing"
	"github.com/equilibra/platform/svc/billing/asaas"
	"github.com/equilibra/platform/svc/billing/httpapi"
	"github.com/equilibra/platform/svc/billing/memstore"
	"github.com/equilibra/platform/svc/billing/mercadopago"
	"github.com/equilibra/platform/svc/billing/paddle"
	"github.com/equilibra/platform/svc/billing/pgstore"
	"github.com/equilibra/platform/svc/catalog"
	"github.com/equilibra/platform/svc/coupon"
	"github.com/equilibra/platform/svc/notify"
)

type appConfig struct {
	NotifyTimeout time.Duration `env:"NOTIFY_TIMEOUT" envDefault:"10s"`
}

// storage is what the service needs from a backing store.
type storage interface {
	billing.Store
	coupon.Store
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("server exited with error", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	if err := config.LoadEnvFiles("../.env", ".env"); err != nil {
		return err
	}

	logCfg, err := config.Load[logger.Config]()
	if err != nil {
		return err
	}
	log := logger.New(append(logger.FromConfig(logCfg),
		logger.WithContextExtractors(requestid.LoggerExtractor()))...)
	logger.SetAsDefault(log)

	app := config.MustLoad[appConfig]()
	cat, err := catalog.FromConfig(config.MustLoad[catalog.Config]())
	if err != nil {
		return err
	}
	log.InfoContext(ctx, "catalog loaded", slog.String("version", cat.Version()))

	var checks []httpserver.Check

	// Storage: Postgres when configured, in-memory otherwise.
	var (
		store     storage
		directory notify.Directory
	)
	pgCfg := config.MustLoad[pg.Config]()
	if pgCfg.Enabled() {
		pool, err := pg.Connect(ctx, pgCfg)
		if err != nil {
			return err
		}
		defer pool.Close()

		db := pg.OpenDB(pool)
		defer db.Close()
		if pgCfg.AutoMigrate {
			if err := pg.Migrate(ctx, db, pgstore.Migrations, pgstore.MigrationsDir, pgCfg, log); err != nil {
				return err
			}
		}
		s := pgstore.New(db)
		store, directory = s, s
		checks = append(checks, httpserver.Check{Name: "postgres", Fn: pg.Healthcheck(pool)})
	} else {
		log.WarnContext(ctx, "PG_CONN_URL not set, using in-memory storage")
		store, directory = memstore.New(), notify.NewMemoryDirectory()
	}

	// Coupon rate limiting: Redis when configured, in-memory otherwise.
	var limiterStore ratelimiter.Store
	redisCfg := config.MustLoad[redis.Config]()
	if redisCfg.Enabled() {
		client, err := redis.Connect(ctx, redisCfg)
		if err != nil {
			return err
		}
		defer client.Close()
		limiterStore = ratelimiter.NewRedisStore(client)
		checks = append(checks, httpserver.Check{Name: "redis", Fn: redis.Healthcheck(client)})
	} else {
		mem := ratelimiter.NewMemoryStore()
		defer mem.Close()
		limiterStore = mem
	}
	limiter, err := ratelimiter.NewBucket(limiterStore, config.MustLoad[ratelimiter.Config]())
	if err != nil {
		return err
	}

	providers, err := loadProviders()
	if err != nil {
		return err
	}
	if len(providers) == 0 {
		log.WarnContext(ctx, "no payment provider configured")
	}

	notifiers, closeNotifiers, err := loadNotifiers(directory, log)
	if err != nil {
		return err
	}
	defer closeNotifiers()

	tokens, err := jwt.New(config.MustLoad[jwt.Config]())
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := billing.NewMetrics(reg)

	coupons := coupon.NewService(store, coupon.WithLogger(log))
	reconciler := billing.NewReconciler(cat, store,
		billing.WithRedeemer(coupons),
		billing.WithNotifier(notifiers),
		billing.WithNotifyTimeout(app.NotifyTimeout),
		billing.WithMetrics(metrics),
		billing.WithLogger(log),
	)
	checkout := billing.NewCheckoutService(cat, coupons, store, config.MustLoad[billing.CheckoutConfig](),
		billing.WithProviders(providers...),
		billing.WithCheckoutMetrics(metrics),
		billing.WithCheckoutLogger(log),
	)

	router := httpapi.Router(httpapi.Options{
		Catalog:       cat,
		Providers:     providers,
		Reconciler:    reconciler,
		Checkout:      checkout,
		Coupons:       coupons,
		Subscriptions: billing.NewService(store, store),
		Tokens:        tokens,
		CouponLimiter: limiter,
		Metrics:       metrics,
		Gatherer:      reg,
		Health:        httpserver.HealthCheckHandler(log, checks...),
		Logger:        log,
	})

	srv := httpserver.NewFromConfig(config.MustLoad[httpserver.Config](),
		httpserver.WithLogger(log),
		httpserver.WithStartHook(func(addr string) {
			log.Info("billing server started", slog.String("addr", addr), slog.Any("providers", checkout.Providers()))
		}),
		httpserver.WithDrainHook(reconciler.Wait),
	)
	return srv.Run(ctx, router)
}

// loadProviders builds every provider whose credentials are present.
// Partially configured providers fail startup.
func loadProviders() ([]billing.Provider, error) {
	var providers []billing.Provider

	if cfg := config.MustLoad[paddle.Config](); cfg.Enabled() {
		p, err := paddle.New(cfg)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	if cfg := config.MustLoad[asaas.Config](); cfg.Enabled() {
		p, err := asaas.New(cfg)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	if cfg := config.MustLoad[mercadopago.Config](); cfg.Enabled() {
		p, err := mercadopago.New(cfg)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	return providers, nil
}

// loadNotifiers wires purchase email and, when brokers are set, the Kafka
// purchase topic.
func loadNotifiers(dir notify.Directory, log *slog.Logger) (billing.Notifier, func(), error) {
	sender, err := email.New(config.MustLoad[email.Config]())
	if err != nil {
		return nil, nil, err
	}
	multi := notify.Multi{notify.NewEmailNotifier(sender, dir, notify.WithLogger(log))}
	closeFn := func() {}

	if kcfg := config.MustLoad[notify.KafkaConfig](); kcfg.Enabled() {
		w := notify.NewKafkaWriter(kcfg)
		multi = append(multi, notify.NewKafkaNotifier(w))
		closeFn = func() {
			if err := w.Close(); err != nil {
				log.Error("failed to close kafka writer", logger.Error(err))
			}
		}
	}
	return multi, closeFn, nil
}
