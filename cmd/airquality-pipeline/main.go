package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	httpapi "github.com/airnet-dev/airquality-pipeline/internal/api/http"
	"github.com/airnet-dev/airquality-pipeline/internal/aq"
	"github.com/airnet-dev/airquality-pipeline/internal/aq/providers"
	"github.com/airnet-dev/airquality-pipeline/internal/config"
	"github.com/airnet-dev/airquality-pipeline/internal/queue"
	"github.com/airnet-dev/airquality-pipeline/internal/scheduler"
	"github.com/airnet-dev/airquality-pipeline/internal/spatial"
	"github.com/airnet-dev/airquality-pipeline/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Shared HTTP client for outbound vendor calls.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}

	// In-memory monitor store with configured retention.
	memStore := store.NewMemoryStore(cfg.StoreMaxHistory, cfg.StoreMaxAge)

	// Spatial enrichment: reverse geocoding when a key is configured,
	// otherwise the built-in coarse lookup.
	var spatialSvc spatial.Service = spatial.CoarseService{}
	if cfg.GeocoderAPIKey != "" {
		spatialSvc = spatial.NewGeocoderService(cfg.GeocoderAPIKey)
	} else {
		log.Println("INFO: GEOCODER_API_KEY not set; using coarse built-in spatial lookup")
	}
	enricher := spatial.NewEnricher(spatialSvc)

	// Vendor providers with resilience (backoff + circuit breaker).
	var sources []aq.SynopticSource
	var history aq.TimeseriesSource

	if cfg.PurpleAirAPIKey != "" {
		pa := providers.NewPurpleAirProvider(httpClient, providers.PurpleAirConfig{
			APIKey: cfg.PurpleAirAPIKey,
			Bounds: cfg.BoundingBox,
		})
		sources = append(sources, pa)
		history = pa
	}
	if cfg.ClarityAPIKey != "" {
		sources = append(sources, providers.NewClarityProvider(httpClient, providers.ClarityConfig{
			APIKey: cfg.ClarityAPIKey,
			Format: cfg.ClarityFormat,
		}))
	}
	if len(sources) == 0 {
		log.Fatal("no vendor API keys configured; set PURPLEAIR_API_KEY and/or CLARITY_API_KEY")
	}

	// Optional Kafka publishing of refreshed readings.
	var publisher aq.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		producer := queue.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
		publisher = producer
	}

	// Core service orchestrating providers, enrichment, and store.
	service := aq.NewService(memStore, enricher, sources, history, publisher, aq.ServiceConfig{
		Parameter:      cfg.Parameter,
		ApplyQCMask:    true,
		StateCodes:     cfg.StateCodes,
		Counties:       cfg.Counties,
		ParallelChunks: cfg.ParallelChunks,
		RequestDelay:   cfg.RequestDelay,
	})

	// Scheduler that periodically refreshes and merges monitors.
	sched := scheduler.New(cfg.FetchInterval, service)
	if err := sched.Start(); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	app := fiber.New(fiber.Config{
		AppName:               "airquality-pipeline",
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
	app.Use(logger.New())
	app.Use(recover.New())

	// Basic health endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "airquality-pipeline",
		})
	})

	// API routes.
	httpapi.RegisterRoutes(app, service)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Printf("fiber server stopped: %v", err)
		}
	}()

	// Wait for termination signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("error during shutdown: %v", err)
	}
}
