package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"

	httpadapter "github.com/couchcryptid/weather-alerts-service/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/weather-alerts-service/internal/adapter/kafka"
	"github.com/couchcryptid/weather-alerts-service/internal/adapter/mapbox"
	wsadapter "github.com/couchcryptid/weather-alerts-service/internal/adapter/websocket"
	"github.com/couchcryptid/weather-alerts-service/internal/bridge"
	"github.com/couchcryptid/weather-alerts-service/internal/config"
	"github.com/couchcryptid/weather-alerts-service/internal/domain"
	"github.com/couchcryptid/weather-alerts-service/internal/observability"
	"github.com/couchcryptid/weather-alerts-service/internal/pipeline"
	"github.com/couchcryptid/weather-alerts-service/internal/protocol"
	"github.com/couchcryptid/weather-alerts-service/internal/provider"
	"github.com/couchcryptid/weather-alerts-service/internal/scheduler"
	"github.com/couchcryptid/weather-alerts-service/internal/transport"
	"github.com/couchcryptid/weather-alerts-service/internal/worker"
)

// replyMargin is added to FETCH_TIMEOUT for the worker to emit its reply.
const replyMargin = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	checks := httpadapter.ReadinessChecks{}

	// Initialize geocoder (feature-flagged via MAPBOX_ENABLED / MAPBOX_TOKEN).
	var geocoder domain.Geocoder
	if cfg.MapboxEnabled {
		client := mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, metrics, logger)
		geocoder = mapbox.NewCachedGeocoder(client, cfg.MapboxCacheSize, metrics)
		metrics.GeocodeEnabled.Set(1)
		logger.Info("mapbox geocoding enabled", "cache_size", cfg.MapboxCacheSize, "timeout", cfg.MapboxTimeout)
	} else {
		logger.Info("mapbox geocoding disabled")
	}

	// Fetch worker: in-process behind a pipe, or remote over /ws/fetch.
	var (
		tr    bridge.Transport
		inbox <-chan protocol.Envelope
	)
	if cfg.FetcherURL == "" {
		presentation, workerEnd := transport.NewPipe(16, logger)
		defer presentation.Close()

		wk := worker.New(worker.NewHTTPClient(cfg.FetchTimeout, cfg.FetchRetryMax, logger), workerEnd, logger, metrics)
		wg.Add(1)
		go func() {
			defer wg.Done()
			wk.Serve(ctx, workerEnd.Messages(ctx))
		}()
		tr, inbox = presentation, presentation.Messages(ctx)
		logger.Info("fetch worker running in-process")
	} else {
		client := wsadapter.NewClient(cfg.FetcherURL, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := client.Run(ctx); err != nil {
				logger.Error("fetch worker client error", "error", err)
			}
		}()
		tr, inbox = client, client.Inbox()
		checks = append(checks, client)
		logger.Info("using remote fetch worker", "url", cfg.FetcherURL)
	}

	br := bridge.New(cfg.InstanceID, tr, logger, metrics)
	br.SetReplyTimeout(cfg.FetchTimeout + replyMargin)
	go br.Listen(ctx, inbox)

	registry := provider.NewDefaultRegistry(logger)
	p := registry.Initialize(cfg.Provider.Provider, cfg.Provider, provider.Deps{
		Fetcher:  br,
		Geocoder: geocoder,
		Logger:   logger,
	})

	hub := wsadapter.NewHub(logger, metrics)
	listeners := []pipeline.Listener{hub}

	var publisher *kafkaadapter.Publisher
	if cfg.KafkaEnabled {
		publisher = kafkaadapter.NewPublisher(cfg, logger)
		listeners = append(listeners, publisher)
		logger.Info("kafka publishing enabled", "topic", cfg.KafkaTopic)
	}

	sched := scheduler.New(cfg.Provider.UpdateInterval, cfg.Provider.InitialLoadDelay, nil, logger, metrics)
	pl := pipeline.New(p, sched, pipeline.Options{
		Type:              cfg.Provider.Type,
		MaxNumberOfAlerts: cfg.Provider.MaxNumberOfAlerts,
		Fallback:          cfg.Fallback,
	}, logger, metrics, listeners...)
	checks = append(httpadapter.ReadinessChecks{pl}, checks...)

	srv := httpadapter.NewServer(cfg.HTTPAddr, checks, logger)
	srv.Handle("GET /api/alerts", httpadapter.AlertsHandler(pl))
	srv.Handle("GET /ws/alerts", hub)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start fetch loop.
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := pl.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	hub.Close()

	if err := br.Stop(shutdownCtx); err != nil {
		logger.Debug("stop fetcher not delivered", "error", err)
	}
	br.Close()

	waitDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out waiting for background work")
	}

	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.Error("kafka publisher close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
