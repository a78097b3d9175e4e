package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"

	httpadapter "github.com/couchcryptid/weather-alerts-service/internal/adapter/http"
	wsadapter "github.com/couchcryptid/weather-alerts-service/internal/adapter/websocket"
	"github.com/couchcryptid/weather-alerts-service/internal/config"
	"github.com/couchcryptid/weather-alerts-service/internal/observability"
	"github.com/couchcryptid/weather-alerts-service/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	client := worker.NewHTTPClient(cfg.FetchTimeout, cfg.FetchRetryMax, logger)
	fetchServer := wsadapter.NewFetchServer(client, logger, metrics)

	srv := httpadapter.NewServer(cfg.FetcherAddr, httpadapter.ReadinessChecks{}, logger)
	srv.Handle("GET /ws/fetch", fetchServer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()
	logger.Info("fetch worker ready", "timeout", cfg.FetchTimeout, "retry_max", cfg.FetchRetryMax)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	fetchServer.Close()

	logger.Info("shutdown complete")
}
