package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/overpitch/fire-risk-dashboard-sub000/internal/alert"
	httpapi "github.com/overpitch/fire-risk-dashboard-sub000/internal/api/http"
	"github.com/overpitch/fire-risk-dashboard-sub000/internal/cache"
	"github.com/overpitch/fire-risk-dashboard-sub000/internal/config"
	"github.com/overpitch/fire-risk-dashboard-sub000/internal/observability"
	"github.com/overpitch/fire-risk-dashboard-sub000/internal/refresh"
	"github.com/overpitch/fire-risk-dashboard-sub000/internal/scheduler"
	"github.com/overpitch/fire-risk-dashboard-sub000/internal/store"
	"github.com/overpitch/fire-risk-dashboard-sub000/internal/weather/providers"
)

func main() {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	loc, err := time.LoadLocation(cfg.TimezoneName)
	if err != nil {
		log.Fatalf("failed to load timezone %q: %v", cfg.TimezoneName, err)
	}

	// Snapshot cache, seeded from disk when a previous run left state behind.
	dataCache := cache.New(cache.Config{
		DataDir:       cfg.DataDir,
		Location:      loc,
		CriticalAfter: cfg.CriticalAfter,
		WaitTimeout:   cfg.WaitTimeout,
	}, logger, nil)

	history := store.NewHistory(cfg.HistorySize)
	dataCache.SetHistory(history)

	// Shared HTTP client for outbound provider calls.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}

	synoptic := providers.NewSynopticProvider(httpClient, cfg.SynopticAPIKey,
		[]string{cfg.Stations.Weather, cfg.Stations.Soil})
	synoptic.WithBaseURL(cfg.SynopticBaseURL)
	gusts := providers.NewWundergroundProvider(httpClient, cfg.WundergroundAPIKey, cfg.Stations.Gusts)
	gusts.WithBaseURL(cfg.WundergroundBaseURL)

	// Alert delivery is log-only until a real transport is configured.
	notifier := &alert.LogNotifier{Logger: logger}
	recipients := alert.StaticRecipients(cfg.AlertRecipients)

	coordinator := refresh.New(dataCache, synoptic, gusts, notifier, recipients, logger, metrics, refresh.Config{
		MaxRetries:   cfg.MaxRetries,
		RetryDelay:   cfg.RetryDelay,
		CycleTimeout: cfg.CycleTimeout,
		Interval:     cfg.RefreshInterval,
		Stations:     cfg.Stations,
		Thresholds:   cfg.Thresholds,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Warm the cache before serving, then keep it warm on the aligned cadence.
	go coordinator.Refresh(ctx, false)

	sched := scheduler.New(coordinator, cfg.AlignedMinutes, cfg.RefreshInterval, loc, logger)
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	// Basic app configuration
	app := fiber.New(fiber.Config{
		AppName:               "fire-risk-dashboard",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          30 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Centralized error response
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	// Global middleware
	app.Use(fiberlogger.New())
	app.Use(recover.New())

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	httpapi.RegisterRoutes(app, httpapi.Deps{
		Cache:       dataCache,
		History:     history,
		Refresher:   coordinator,
		Logger:      logger,
		StaleAfter:  cfg.StaleAfter,
		WaitTimeout: cfg.WaitTimeout,
	})

	go func() {
		logger.Info("server listening", "port", cfg.Port)
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Printf("fiber server stopped: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("error during shutdown: %v", err)
	}
}
