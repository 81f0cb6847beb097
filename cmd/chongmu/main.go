package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"chongmu/internal/backend"
	"chongmu/internal/cache"
	"chongmu/internal/cli"
	"chongmu/internal/core"
	apphttp "chongmu/internal/http"
	applog "chongmu/internal/log"
	"chongmu/internal/services"
)

func main() {
	cfg := cli.LoadAndValidateConfig(applog.ComponentApp)
	logger := cli.SetupLogger(cfg, applog.ComponentApp)

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		cli.Fatal(logger, "Invalid backend configuration", err)
	}
	result, err := backend.NewFactory(logger.WithComponent(applog.ComponentBackend).Slog()).
		CreateBackend(context.Background(), backendCfg)
	if err != nil {
		cli.Fatal(logger, "Failed to initialize backend", err, "backend", cfg.DataBackend)
	}

	summaries := cache.NewLRUCache[core.Summary](cfg.SummaryCacheSize, cfg.SummaryCacheTTL)
	cacheManager := cache.NewManager(logger.WithComponent(applog.ComponentCache).Slog())
	cacheManager.Register(summaries)
	cacheManager.StartCleanup(cfg.SummaryCacheTTL)

	sessions := services.NewSessionService(result.Store,
		services.WithPublisher(result.Publisher()),
		services.WithSummaryCache(summaries),
		services.WithLogger(logger),
	)

	addr := cli.ListenAddr(cfg.Port)
	srv := apphttp.NewServer(addr, sessions, apphttp.Options{
		Logger:             logger,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		JWTSecret:          cfg.JWTSecret,
		Ready:              result.Ready,
	})

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(shutdownCtx context.Context) {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", applog.FieldError, err)
		}
		requests, limits, detections := srv.Metrics()
		logger.Info("Server totals",
			"requests", requests.TotalRequests,
			"server_errors", requests.ServerErrors,
			"avg_response_us", requests.AverageResponseTime,
			"rate_limited", limits.TotalHits,
			"suspicious_requests", detections.SuspiciousRequests,
			"invalid_ip_attempts", detections.InvalidIPAttempts)
		cacheManager.Stop()
		if err := result.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", applog.FieldError, err)
		}
	})

	logger.Info("Starting chongmu server",
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		"notifications", result.AMQP != nil,
		"auth", cfg.JWTSecret != "")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		cli.Fatal(logger, "Server error", err, "port", cfg.Port)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
