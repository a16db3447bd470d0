package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dpmorr/llm-structured-extraction/constants"
	"github.com/dpmorr/llm-structured-extraction/internal/async"
	"github.com/dpmorr/llm-structured-extraction/internal/common"
	"github.com/dpmorr/llm-structured-extraction/internal/export"
	"github.com/dpmorr/llm-structured-extraction/internal/ingest"
	"github.com/dpmorr/llm-structured-extraction/internal/llm/registry"
	"github.com/dpmorr/llm-structured-extraction/internal/pipeline"
	"github.com/dpmorr/llm-structured-extraction/internal/repository"
	"github.com/dpmorr/llm-structured-extraction/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the extraction HTTP service and worker pool",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := common.LoadConfig(cfgFile)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		return serve(cfg)
	},
}

func serve(cfg *common.Config) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := repository.Open(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	resolver := registry.New(cfg.LLM, logger)
	fetcher := ingest.NewHTTPFetcher(cfg.Ingestion.BaseURL, cfg.Ingestion.Timeout, logger)
	controller := pipeline.NewController(logger, store, resolver, fetcher, cfg.Extraction)

	queue := async.NewQueue(logger, controller, cfg.Queue)
	queue.Start()

	// Jobs left pending by a previous process are re-enqueued; the queue
	// itself is not durable, the job table is.
	requeuePending(ctx, logger, store, queue)

	srv := server.New(logger, cfg, store, controller, queue, export.NewService(logger, store))
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutdown.start")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown.http", "error", err)
	}
	if err := queue.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown.queue", "error", err)
	}
	logger.Info("shutdown.done")
	return nil
}

func requeuePending(ctx context.Context, logger *slog.Logger, store repository.Store, queue *async.Queue) {
	pending := constants.JobStatusPending
	jobs, err := store.ListJobs(ctx, repository.JobFilter{Status: &pending})
	if err != nil {
		logger.Warn("requeue.list_failed", "error", err)
		return
	}
	for _, job := range jobs {
		if err := queue.Enqueue(job.ID); err != nil {
			logger.Warn("requeue.enqueue_failed", "job_id", job.ID, "error", err)
			return
		}
	}
	if len(jobs) > 0 {
		logger.Info("requeue.done", "jobs", len(jobs))
	}
}
