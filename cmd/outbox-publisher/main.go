package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/robertarktes/venue-reservations/internal/adapters/crdb"
	"github.com/robertarktes/venue-reservations/internal/adapters/rabbit"
	"github.com/robertarktes/venue-reservations/internal/config"
	"github.com/robertarktes/venue-reservations/internal/observability"
	"github.com/robertarktes/venue-reservations/internal/outbox"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.StoreDriver != config.StoreCRDB {
		log.Fatalf("outbox publisher needs STORE_DRIVER=%s", config.StoreCRDB)
	}
	logger := observability.NewLoggerWithLevel(cfg.LogLevel).WithField("service", "outbox-publisher")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Error("outbox publisher stopped")
		log.Fatal(err)
	}
	logger.Info("outbox publisher exiting")
}

func run(ctx context.Context, cfg *config.Config, logger observability.Logger) error {
	shutdownOtel, err := observability.SetupOTel(ctx, cfg, "venue-outbox-publisher")
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

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		return errors.Wrap(err, "connect to rabbitmq")
	}
	defer conn.Close()
	pub, err := rabbit.NewPublisher(conn)
	if err != nil {
		return err
	}
	defer pub.Close()

	return outbox.NewPublisher(repo, pub, logger, outbox.Options{}).Run(ctx)
}
