package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"

	"github.com/robertarktes/venue-reservations/internal/adapters/crdb"
	"github.com/robertarktes/venue-reservations/internal/adapters/gateway"
	"github.com/robertarktes/venue-reservations/internal/adapters/memory"
	mongoadapter "github.com/robertarktes/venue-reservations/internal/adapters/mongo"
	"github.com/robertarktes/venue-reservations/internal/adapters/rabbit"
	redisadapter "github.com/robertarktes/venue-reservations/internal/adapters/redis"
	"github.com/robertarktes/venue-reservations/internal/booking"
	"github.com/robertarktes/venue-reservations/internal/config"
	"github.com/robertarktes/venue-reservations/internal/expiry"
	httphandler "github.com/robertarktes/venue-reservations/internal/http"
	"github.com/robertarktes/venue-reservations/internal/idempotency"
	"github.com/robertarktes/venue-reservations/internal/notify"
	"github.com/robertarktes/venue-reservations/internal/observability"
	"github.com/robertarktes/venue-reservations/internal/outbox"
	"github.com/robertarktes/venue-reservations/internal/payment"
	"github.com/robertarktes/venue-reservations/internal/rateLimit"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := observability.NewLoggerWithLevel(cfg.LogLevel).WithField("service", "api")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Error("api stopped")
		log.Fatal(err)
	}
	logger.Info("api exiting")
}

func run(ctx context.Context, cfg *config.Config, logger observability.Logger) error {
	shutdownOtel, err := observability.SetupOTel(ctx, cfg, "venue-api")
	if err != nil {
		return errors.Wrap(err, "setup otel")
	}
	defer shutdownOtel()

	publicKey, err := httphandler.ParsePublicKey(cfg.JWTPublicKey)
	if err != nil {
		return err
	}

	checks := map[string]httphandler.Checker{}

	// ledger, payment orders and outbox
	var (
		store    booking.Store
		orders   payment.OrderStore
		outboxes outbox.Store
		relay    bool
	)
	switch cfg.StoreDriver {
	case config.StoreMemory:
		logger.Warn("STORE_DRIVER=memory: bookings live in this process only")
		mem := memory.NewStore()
		store, orders, outboxes = mem, mem, memory.NewOutbox()
		relay = true
	default:
		pool, err := pgxpool.New(ctx, cfg.CRDBDSN)
		if err != nil {
			return errors.Wrap(err, "connect to crdb")
		}
		defer pool.Close()
		repo := crdb.NewRepository(pool)
		if err := repo.Migrate(ctx); err != nil {
			return err
		}
		store, orders, outboxes = repo, repo, repo
		checks["crdb"] = repo.Ping
	}

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return errors.Wrap(err, "connect to mongo")
	}
	defer mongoClient.Disconnect(context.Background())
	mongoDB := mongoClient.Database(cfg.MongoDB)
	checks["mongo"] = func(ctx context.Context) error { return mongoClient.Ping(ctx, nil) }

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	redisCache := redisadapter.NewCache(redisClient)
	checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }

	rabbitConn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		return errors.Wrap(err, "connect to rabbitmq")
	}
	defer rabbitConn.Close()
	rabbitPub, err := rabbit.NewPublisher(rabbitConn)
	if err != nil {
		return err
	}
	defer rabbitPub.Close()
	checks["rabbitmq"] = func(context.Context) error {
		if rabbitConn.IsClosed() {
			return errors.New("connection closed")
		}
		return nil
	}

	dispatcher := notify.NewDispatcher(logger, outbox.NewSpool(outboxes), notify.Options{},
		notify.NewRabbitSink(rabbitPub),
		mongoadapter.NewAuditLogger(mongoDB),
	)

	catalog := redisadapter.NewCachedCatalog(redisCache, mongoadapter.NewCatalogRepository(mongoDB, logger), cfg.CatalogTTL, logger)
	engine := booking.NewEngine(store, catalog, booking.Options{
		PaymentWindow: cfg.PaymentWindow,
		Location:      cfg.VenueTimezone,
		Currency:      cfg.Currency,
		Notifier:      dispatcher,
		Logger:        logger,
	})
	scheduler, err := expiry.NewScheduler(engine, logger, expiry.Options{
		SweepInterval: cfg.SweepInterval,
		SweepBatch:    cfg.SweepBatch,
	})
	if err != nil {
		return err
	}
	engine.SetTimer(scheduler)

	stripe := gateway.NewStripe(cfg.StripeSecretKey, cfg.StripePublishableKey, cfg.StripeWebhookSecret)
	payments := payment.NewCoordinator(engine, stripe, orders, cfg.GatewaySecret, cfg.GatewayTimeout, logger)

	var webhook httphandler.PaymentEvents
	if cfg.StripeWebhookSecret != "" {
		webhook = stripe
	}
	handlers := httphandler.NewHandlers(engine, payments, webhook, checks)
	router := httphandler.SetupRouter(handlers, logger, httphandler.RouterOptions{
		PublicKey: publicKey,
		Limiter:   rateLimit.NewRateLimiter(redisCache),
		Limits: httphandler.RateLimits{
			PerUser: cfg.RateLimitPerUser,
			PerIP:   cfg.RateLimitPerIP,
			Period:  cfg.RateLimitPeriod,
		},
		Idempotency: idempotency.NewIdempotency(redisadapter.NewIdempotency(redisClient), cfg.IdempotencyTTL),
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", cfg.HTTPAddr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "listen")
		}
		return nil
	})
	schedulerDone := make(chan struct{})
	g.Go(func() error {
		defer close(schedulerDone)
		return scheduler.Run(gctx)
	})
	if relay {
		g.Go(func() error {
			return outbox.NewPublisher(outboxes, rabbitPub, logger, outbox.Options{}).Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return shutdown(shutdownCtx, srv, schedulerDone, dispatcher, logger)
	})
	return g.Wait()
}

type shutdowner interface {
	Shutdown(ctx context.Context) error
}

type drainer interface {
	Close(ctx context.Context) error
}

// shutdown stops intake first and drains notifications last. Timers and the
// sweep keep notifying until the scheduler has stopped.
func shutdown(ctx context.Context, srv shutdowner, schedulerDone <-chan struct{}, notifications drainer, logger observability.Logger) error {
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("http shutdown")
	}
	select {
	case <-schedulerDone:
	case <-ctx.Done():
		logger.Warn("scheduler did not stop before the shutdown deadline")
	}
	return notifications.Close(ctx)
}
