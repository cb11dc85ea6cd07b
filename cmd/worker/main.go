package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/finance-advisor/internal/app"
	"github.com/dvloznov/finance-advisor/internal/config"
	"github.com/dvloznov/finance-advisor/internal/indexer"
	"github.com/dvloznov/finance-advisor/internal/logger"
)

// The worker runs the dual-store reconciliation sweep on an interval. The
// ingestion queue is in-process, so ingestion workers live in the API server.
func main() {
	var (
		configPath = flag.String("config", os.Getenv("FINADVISOR_CONFIG"), "Path to config file (or set FINADVISOR_CONFIG env)")
		once       = flag.Bool("once", false, "Run a single sweep and exit")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log := logger.New()
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	// Initialize logger
	log := logger.NewWithConfig(cfg.Log.Level, cfg.Log.Format)

	// Create context that cancels on interrupt
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	application, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer application.Close()

	if *once {
		sweep(ctx, application.Reconciler)
		return
	}

	log.Info().
		Dur("interval", cfg.Reconcile.Interval).
		Bool("repair", cfg.Reconcile.Repair).
		Msg("Worker service started, reconciling dual-store writes")

	ticker := time.NewTicker(cfg.Reconcile.Interval)
	defer ticker.Stop()

	sweep(ctx, application.Reconciler)
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Worker service exited")
			return
		case <-ticker.C:
			sweep(ctx, application.Reconciler)
		}
	}
}

func sweep(ctx context.Context, r *indexer.Reconciler) {
	log := logger.FromContext(ctx)
	start := time.Now()

	report, err := r.Sweep(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Reconcile sweep failed")
		return
	}

	missing := 0
	for _, doc := range report.Documents {
		missing += len(doc.MissingVectors)
	}
	log.Info().
		Int("checked", report.Checked).
		Int("documents_with_orphans", len(report.Documents)).
		Int("missing_vectors", missing).
		Dur("duration", time.Since(start)).
		Msg("Reconcile sweep completed")
}
