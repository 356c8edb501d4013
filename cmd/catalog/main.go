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
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/joao-fontenele/threadline/internal/catalog"
	"github.com/joao-fontenele/threadline/internal/config"
	"github.com/joao-fontenele/threadline/internal/imagehost"
	"github.com/joao-fontenele/threadline/internal/inventory"
	"github.com/joao-fontenele/threadline/internal/telemetry"
)

func main() {
	ctx := context.Background()
	config.LoadDotEnv()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "catalog", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider("catalog", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize meter provider", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(ctx) }()

	postgresURL := config.MustGetenv(logger, "POSTGRES_URL")
	imageHostURL := config.MustGetenv(logger, "IMAGEHOST_URL")
	imageHostKey := config.MustGetenv(logger, "IMAGEHOST_API_KEY")

	db, err := telemetry.OpenDB("postgres", postgresURL, "storefront")
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	// gorm shares the instrumented pool.
	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		logger.Error("failed to open gorm", "error", err)
		os.Exit(1)
	}

	images := imagehost.NewClient(imageHostURL, imageHostKey,
		config.Getenv("IMAGEHOST_FOLDER", "products"),
		telemetry.NewHTTPClient(config.GetenvDuration("IMAGEHOST_TIMEOUT", 30*time.Second)),
	)

	svc := catalog.NewService(catalog.NewRepository(gdb), images, logger)
	catalogHandler := catalog.NewHandler(svc, logger)
	inventoryHandler := inventory.NewHandler(inventory.NewRepository(db), logger)

	mux := http.NewServeMux()
	catalogHandler.Register(mux)
	mux.HandleFunc("GET /variants", telemetry.WithHTTPRoute(inventoryHandler.HandleLookup))
	mux.Handle("GET /metrics", metricsHandler)

	port := config.Getenv("PORT", "8082")

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      telemetry.NewHTTPHandler(mux, "catalog"),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("starting catalog service", "port", port)
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
	svc.Drain()
}
