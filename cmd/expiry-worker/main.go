package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/robertarktes/venue-reservations/internal/adapters/crdb"
	mongoadapter "github.com/robertarktes/venue-reservations/internal/adapters/mongo"
	"github.com/robertarktes/venue-reservations/internal/adapters/rabbit"
	redisadapter "github.com/robertarktes/venue-reservations/internal/adapters/redis"
	"github.com/robertarktes/venue-reservations/internal/booking"
	"github.com/robertarktes/venue-reservations/internal/config"
	"github.com/robertarktes/venue-reservations/internal/expiry"
	"github.com/robertarktes/venue-reservations/internal/notify"
	"github.com/robertarktes/venue-reservations/internal/observability"
	"github.com/robertarktes/venue-reservations/internal/outbox"
)

// The expiry worker runs only the persisted-deadline sweep. Per-booking
// timers live in the api processes that accept bookings.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.StoreDriver != config.StoreCRDB {
		log.Fatalf("expiry worker needs STORE_DRIVER=%s", config.StoreCRDB)
	}
	logger := observability.NewLoggerWithLevel(cfg.LogLevel).WithField("service", "expiry-worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Error("expiry worker stopped")
		log.Fatal(err)
	}
	logger.Info("expiry worker exiting")
}

func run(ctx context.Context, cfg *config.Config, logger observability.Logger) error {
	shutdownOtel, err := observability.SetupOTel(ctx, cfg, "venue-expiry-worker")
	if err != nil {
		return errors.Wrap(err, "setup otel")
	}
	defer shutdownOtel()

	pool, err := pgxpool.New(ctx, cfg.CRDBDSN)
	if err != nil {
		return errors.Wrap(err, "connect to crdb")
	}
	defer pool.Close()
	repo := crdb.NewRepository(pool)

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return errors.Wrap(err, "connect to mongo")
	}
	defer mongoClient.Disconnect(context.Background())
	mongoDB := mongoClient.Database(cfg.MongoDB)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		return errors.Wrap(err, "connect to rabbitmq")
	}
	defer conn.Close()
	rabbitPub, err := rabbit.NewPublisher(conn)
	if err != nil {
		return err
	}
	defer rabbitPub.Close()

	dispatcher := notify.NewDispatcher(logger, outbox.NewSpool(repo), notify.Options{},
		notify.NewRabbitSink(rabbitPub),
		mongoadapter.NewAuditLogger(mongoDB),
	)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := dispatcher.Close(closeCtx); err != nil {
			logger.WithError(err).Warn("drain notifications")
		}
	}()

	catalog := redisadapter.NewCachedCatalog(redisadapter.NewCache(redisClient), mongoadapter.NewCatalogRepository(mongoDB, logger), cfg.CatalogTTL, logger)
	engine := booking.NewEngine(repo, catalog, booking.Options{
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
	return scheduler.Run(ctx)
}
