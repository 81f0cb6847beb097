package main

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"chongmu/internal/backend"
	"chongmu/internal/cli"
	"chongmu/internal/config"
	"chongmu/internal/export"
	"chongmu/internal/export/sheets"
	applog "chongmu/internal/log"
	"chongmu/internal/worker"
)

func main() {
	cfg := cli.LoadAndValidateConfig(applog.ComponentWorker)
	logger := cli.SetupLogger(cfg, applog.ComponentWorker)
	logger.Info("Starting chongmu-worker")

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		cli.Fatal(logger, "Invalid backend configuration", err)
	}
	if backendCfg.Type == backend.MemoryBackend {
		logger.Warn("Memory backend is not shared with the server; the worker only sees seeded sessions")
	}
	result, err := backend.NewFactory(logger.WithComponent(applog.ComponentBackend).Slog()).
		CreateBackend(context.Background(), backendCfg)
	if err != nil {
		cli.Fatal(logger, "Failed to initialize backend", err, "backend", cfg.DataBackend)
	}
	defer func() {
		if err := result.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", applog.FieldError, err)
		}
	}()

	exporter, err := newExporter(context.Background(), cfg, logger)
	if err != nil {
		cli.Fatal(logger, "Failed to initialize Google Sheets exporter", err)
	}

	summaryWorker := worker.NewSummaryWorker(result.Store, exporter, logger.Slog())

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, nil)
	g, gctx := errgroup.WithContext(ctx)

	if result.AMQP != nil {
		g.Go(func() error {
			return result.AMQP.ConsumeSessionChanged(gctx, summaryWorker.HandleSessionChanged)
		})
	} else {
		logger.Info("Skipping AMQP consumption - no broker configured, relying on periodic resync")
	}

	g.Go(func() error {
		return summaryWorker.RunResync(gctx, cfg.ResyncInterval)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker stopped with error", applog.FieldError, err)
		return
	}
	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker shutdown complete")
}

// newExporter picks Google Sheets when a spreadsheet is configured and
// falls back to logging summaries otherwise.
func newExporter(ctx context.Context, cfg *config.Config, logger *applog.Logger) (export.SummaryExporter, error) {
	if !cfg.SheetsEnabled() {
		logger.Info("Google Sheets disabled - no GOOGLE_SPREADSHEET_ID provided, logging summaries instead")
		return export.LogExporter{Logger: logger.WithComponent(applog.ComponentExport).Slog()}, nil
	}
	exp, err := sheets.New(ctx, sheets.Config{
		SpreadsheetID:   cfg.GoogleSpreadsheetID,
		CredentialsJSON: cfg.GoogleServiceAccountJSON,
		CredentialsFile: cfg.GoogleServiceAccountFile,
		SheetPrefix:     cfg.GoogleSheetPrefix,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("Google Sheets exporter initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	return exp, nil
}
