package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/joao-fontenele/threadline/internal/checkout"
	"github.com/joao-fontenele/threadline/internal/config"
	"github.com/joao-fontenele/threadline/internal/inventory"
	"github.com/joao-fontenele/threadline/internal/messaging"
	"github.com/joao-fontenele/threadline/internal/orders"
	"github.com/joao-fontenele/threadline/internal/payments"
	"github.com/joao-fontenele/threadline/internal/telemetry"
)

func main() {
	ctx := context.Background()
	config.LoadDotEnv()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "orders", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider("orders", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize meter provider", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(ctx) }()

	postgresURL := config.MustGetenv(logger, "POSTGRES_URL")
	redisAddr := config.MustGetenv(logger, "REDIS_ADDR")
	keyID := config.MustGetenv(logger, "RAZORPAY_KEY_ID")
	keySecret := config.MustGetenv(logger, "RAZORPAY_KEY_SECRET")
	webhookSecret := os.Getenv("RAZORPAY_WEBHOOK_SECRET")
	if webhookSecret == "" {
		logger.Warn("RAZORPAY_WEBHOOK_SECRET is not set, payment webhooks will be rejected")
	}

	policy, err := config.LoadPolicy(os.Getenv("STORE_POLICY_FILE"))
	if err != nil {
		logger.Error("failed to load store policy", "error", err)
		os.Exit(1)
	}

	db, err := telemetry.OpenDB("postgres", postgresURL, "storefront")
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	rdb := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: os.Getenv("REDIS_PASSWORD"),
	})
	defer func() { _ = rdb.Close() }()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}

	metrics, err := telemetry.NewOrderMetrics()
	if err != nil {
		logger.Error("failed to create order metrics", "error", err)
		os.Exit(1)
	}

	paymentClient := payments.NewClient(
		config.Getenv("RAZORPAY_BASE_URL", payments.DefaultBaseURL),
		keyID, keySecret, webhookSecret,
		telemetry.NewHTTPClient(config.GetenvDuration("RAZORPAY_TIMEOUT", 15*time.Second)),
	)

	orderRepo := orders.NewOrderRepository(db)
	sessions := checkout.NewRedisSessionStore(rdb,
		config.GetenvDuration("CHECKOUT_LOCK_TTL", 30*time.Second),
		config.GetenvDuration("CHECKOUT_LOCK_WAIT", 5*time.Second),
	)

	deps := checkout.Deps{
		Inventory: inventory.NewRepository(db),
		Gateway:   paymentClient,
		Orders:    orderRepo,
		Sessions:  sessions,
		Metrics:   metrics,
	}
	opts := []orders.Option{orders.WithMetrics(metrics)}

	if brokers := config.SplitList(os.Getenv("KAFKA_BROKERS")); len(brokers) > 0 {
		producer := messaging.NewProducer(brokers, messaging.OrderEventsTopic)
		defer func() { _ = producer.Close() }()
		deps.Events = producer
		opts = append(opts, orders.WithEvents(producer))
	} else {
		logger.Warn("KAFKA_BROKERS is not set, order events will not be published")
	}

	checkoutHandler := checkout.NewHandler(checkout.NewService(deps, policy, logger), logger)
	ordersHandler := orders.NewHandler(orders.NewService(orderRepo, paymentClient, policy, logger, opts...), logger)

	mux := http.NewServeMux()
	checkoutHandler.Register(mux)
	ordersHandler.Register(mux)
	mux.Handle("GET /metrics", metricsHandler)

	port := config.Getenv("PORT", "8081")

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      telemetry.NewHTTPHandler(mux, "orders"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("starting orders service", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
