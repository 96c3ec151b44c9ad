package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	mongoadapter "github.com/robertarktes/venue-reservations/internal/adapters/mongo"
	"github.com/robertarktes/venue-reservations/internal/adapters/rabbit"
	"github.com/robertarktes/venue-reservations/internal/config"
	"github.com/robertarktes/venue-reservations/internal/notify"
	"github.com/robertarktes/venue-reservations/internal/observability"
)

const (
	queue    = "notifications.q"
	binding  = "notification.#"
	prefetch = 16
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := observability.NewLoggerWithLevel(cfg.LogLevel).WithField("service", "notifier")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Error("notifier stopped")
		log.Fatal(err)
	}
	logger.Info("notifier exiting")
}

func run(ctx context.Context, cfg *config.Config, logger observability.Logger) error {
	shutdownOtel, err := observability.SetupOTel(ctx, cfg, "venue-notifier")
	if err != nil {
		return errors.Wrap(err, "setup otel")
	}
	defer shutdownOtel()

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return errors.Wrap(err, "connect to mongo")
	}
	defer mongoClient.Disconnect(context.Background())

	mailer, err := notify.NewSMTPMailer(notify.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.MailFrom,
	})
	if err != nil {
		return err
	}
	var texter notify.Texter
	if cfg.SNSEnabled {
		sns, err := notify.NewSNSTexter(ctx)
		if err != nil {
			return err
		}
		texter = sns
	}

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		return errors.Wrap(err, "connect to rabbitmq")
	}
	defer conn.Close()
	consumer, err := rabbit.NewConsumer(conn, queue, binding, prefetch)
	if err != nil {
		return err
	}
	defer consumer.Close()

	deliveries, err := consumer.Consume(ctx)
	if err != nil {
		return err
	}
	deliverer := notify.NewDeliverer(mongoadapter.NewContactDirectory(mongoClient.Database(cfg.MongoDB)), mailer, texter, logger)
	logger.WithField("queue", queue).Info("notifier consuming")
	return deliverer.Consume(ctx, deliveries)
}
