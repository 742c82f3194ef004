package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	"updatehub/internal/api"
	"updatehub/internal/artifact"
	"updatehub/internal/auth"
	"updatehub/internal/catalog"
	"updatehub/internal/config"
	"updatehub/internal/delta"
	"updatehub/internal/logger"
	"updatehub/internal/models"
	"updatehub/internal/observability"
	"updatehub/internal/ratelimit"
	"updatehub/internal/realtime"
	"updatehub/internal/storage"
	"updatehub/internal/update"
	"updatehub/internal/version"
)

var configFile = flag.String("config", "", "Path to configuration file")

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	ver := version.GetInfo()

	// Initialize structured logging
	log, closer, err := logger.Setup(cfg.Logging, ver)
	if err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer.Close()
	}
	slog.SetDefault(log)

	// Initialize observability (OpenTelemetry)
	otelProvider, err := observability.Setup(cfg.Metrics, cfg.Observability, ver)
	if err != nil {
		slog.Error("Failed to initialize observability", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown observability", "error", err)
		}
	}()

	// Initialize storage
	storageInstance, err := storage.NewFactory().Create(cfg.Storage)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer storageInstance.Close()

	// Wrap storage with instrumentation if metrics are enabled
	var activeStorage storage.Storage = storageInstance
	if cfg.Metrics.Enabled {
		instrumented, err := observability.NewInstrumentedStorage(storageInstance)
		if err != nil {
			slog.Error("Failed to create instrumented storage", "error", err)
			os.Exit(1)
		}
		activeStorage = instrumented
	}

	// Artifact store and delta engine
	artifacts, err := artifact.NewStore(cfg.Artifacts)
	if err != nil {
		slog.Error("Failed to initialize artifact store", "error", err)
		os.Exit(1)
	}

	var deltas *delta.Engine
	var invalidator catalog.Invalidator
	if cfg.Delta.Enabled {
		deltas = delta.NewEngine(artifacts, cfg.Delta)
		invalidator = deltas
	}

	cat := catalog.NewService(activeStorage, invalidator, artifacts)

	// Background context for the long-running pieces
	runCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	// Authentication
	authenticator := auth.NewStaticAuthenticator(staticTokens(cfg))

	// Realtime notification channel
	var (
		registry  *realtime.Registry
		hub       *realtime.Hub
		wsHandler http.Handler
		notifier  update.Notifier
	)
	if cfg.Realtime.Enabled {
		registry = realtime.NewRegistry(cfg.Realtime, log)
		hub = realtime.NewHub(registry, log)
		wsHandler = realtime.NewHandler(registry, hub, authenticator, cfg.Security.EnableAuth, cfg.Realtime, log)
		notifier = hub
		go registry.Run(runCtx)

		if cfg.Metrics.Enabled {
			if err := observability.RegisterRealtimeMetrics(registry.Count, registry.DroppedEvents); err != nil {
				log.Warn("Failed to register realtime metrics", "error", err)
			}
		}
	}

	// Per-client download rate limiting
	var limiter ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		windowLimiter := ratelimit.NewWindowLimiter(cfg.RateLimit)
		defer windowLimiter.Close()
		limiter = windowLimiter

		if cfg.Metrics.Enabled {
			instrumented, err := observability.NewInstrumentedLimiter(windowLimiter)
			if err != nil {
				log.Error("Failed to instrument rate limiter", "error", err)
				os.Exit(1)
			}
			limiter = instrumented
		}
	}

	// Update coordinator
	updateService := update.NewService(cat, activeStorage, artifacts, deltas, limiter, notifier, cfg.Downloads, log)
	go updateService.RunReconciler(runCtx)

	// Initialize HTTP handlers
	handlers := api.NewHandlers(updateService, cat, activeStorage, registry, wsHandler, ver, log)

	// Setup routes with middleware
	routeOpts := []api.RouteOption{}
	if cfg.Observability.Tracing.Enabled {
		routeOpts = append(routeOpts, api.WithOTelMiddleware(cfg.Observability.ServiceName))
	}

	// Token-bucket limiting across the whole API surface
	if cfg.RateLimit.Enabled && cfg.RateLimit.RequestsPerMinute > 0 {
		buckets := ratelimit.NewBucketLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.BurstSize, cfg.RateLimit.CleanupInterval)
		defer buckets.Close()
		routeOpts = append(routeOpts, api.WithRateLimiter(ratelimit.Middleware(buckets)))
	}

	router := api.SetupRoutes(handlers, authenticator, cfg, routeOpts...)

	// Start metrics server if enabled
	var metricsServer *observability.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = observability.NewMetricsServer(cfg.Metrics, otelProvider)
		go func() {
			if err := metricsServer.Start(); err != nil && err != http.ErrServerClosed {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	go func() {
		slog.Info("Starting server", "addr", server.Addr, "version", ver.Version)

		var err error
		if cfg.Server.TLSEnabled {
			if cfg.Server.TLSCertFile == "" || cfg.Server.TLSKeyFile == "" {
				slog.Error("TLS is enabled but cert file or key file is not specified")
				os.Exit(1)
			}
			slog.Info("Starting HTTPS server with TLS")
			err = server.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			slog.Info("Starting HTTP server")
			err = server.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server")

	// Stop the sweepers and reconcilers first so they do not race shutdown.
	stopBackground()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			slog.Error("Metrics server forced to shutdown", "error", err)
		}
	}

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server shutdown complete")
}

// staticTokens converts the configured credentials into authenticator
// tokens.
func staticTokens(cfg *models.Config) []auth.StaticToken {
	tokens := make([]auth.StaticToken, 0, len(cfg.Security.Tokens))
	for _, t := range cfg.Security.Tokens {
		tokens = append(tokens, auth.StaticToken{
			Token:   t.Token,
			Subject: t.Subject,
			Roles:   t.Roles,
			Expires: t.Expires,
		})
	}
	return tokens
}
