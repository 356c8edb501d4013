package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joao-fontenele/threadline/internal/config"
	"github.com/joao-fontenele/threadline/internal/gateway"
	"github.com/joao-fontenele/threadline/internal/telemetry"
)

func main() {
	ctx := context.Background()
	config.LoadDotEnv()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "gateway", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	port := config.Getenv("PORT", "8080")
	ordersServiceURL := config.MustGetenv(logger, "ORDERS_SERVICE_URL")
	catalogServiceURL := config.MustGetenv(logger, "CATALOG_SERVICE_URL")
	adminToken := config.MustGetenv(logger, "ADMIN_TOKEN")
	customerSecret := config.MustGetenv(logger, "CUSTOMER_TOKEN_SECRET")

	httpClient := telemetry.NewHTTPClient(config.GetenvDuration("UPSTREAM_TIMEOUT", 30*time.Second))

	handler := gateway.NewHandler(
		gateway.NewServiceProxy(ordersServiceURL, httpClient),
		gateway.NewServiceProxy(catalogServiceURL, httpClient),
		adminToken,
		customerSecret,
		logger,
	)

	mux := http.NewServeMux()
	handler.Register(mux)

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      telemetry.NewHTTPHandler(mux, "gateway"),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("starting gateway service", "port", port)
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
