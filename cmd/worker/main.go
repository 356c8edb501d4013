package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joao-fontenele/threadline/internal/config"
	"github.com/joao-fontenele/threadline/internal/messaging"
	"github.com/joao-fontenele/threadline/internal/telemetry"
	"github.com/joao-fontenele/threadline/internal/worker"
)

func main() {
	config.LoadDotEnv()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "worker", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	brokers := config.SplitList(config.MustGetenv(logger, "KAFKA_BROKERS"))
	emailServiceURL := config.MustGetenv(logger, "EMAIL_SERVICE_URL")
	groupID := config.Getenv("KAFKA_GROUP_ID", "notification-worker")

	consumer := messaging.NewConsumer(brokers, messaging.OrderEventsTopic, groupID)
	defer func() { _ = consumer.Close() }()

	notificationHandler := worker.NewNotificationHandler(
		emailServiceURL,
		telemetry.NewHTTPClient(config.GetenvDuration("EMAIL_TIMEOUT", 10*time.Second)),
		logger,
	)

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		logger.Info("shutting down")
		cancel()
	}()

	logger.Info("starting notification worker", "brokers", brokers, "topic", messaging.OrderEventsTopic, "group_id", groupID)

	if err := consumer.Consume(ctx, notificationHandler.Handle); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("consumer stopped")
			return
		}
		logger.Error("consumer error", "error", err)
		os.Exit(1)
	}
}
