package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"studyguide-backend/internal/bootstrap"
	"studyguide-backend/internal/queue"
	"studyguide-backend/internal/shared/config"
	"studyguide-backend/internal/shared/telemetry"
	"studyguide-backend/internal/workerproc"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, config.Load()); err != nil {
		telemetry.Error("worker.fatal", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	if cfg.SQSQueueURL == "" {
		return fmt.Errorf("SQS_QUEUE_URL is required")
	}
	app, err := bootstrap.Build(cfg)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer app.Close()

	poller, err := newPoller(cfg, app.Queue, app.AnalysesService)
	if err != nil {
		return err
	}
	poller.Run(ctx)
	return nil
}

func newPoller(cfg config.Config, q queue.Client, processor workerproc.Processor) (*workerproc.Poller, error) {
	sqsQueue, ok := q.(*queue.SQSClient)
	if !ok || sqsQueue == nil {
		return nil, fmt.Errorf("worker requires an SQS queue, got %T", q)
	}
	return &workerproc.Poller{
		Client:          sqsQueue.Raw(),
		QueueURL:        sqsQueue.QueueURL(),
		Processor:       processor,
		Concurrency:     cfg.WorkerConcurrency,
		Visibility:      cfg.WorkerVisibility,
		ShutdownTimeout: cfg.WorkerShutdownTimeout,
	}, nil
}
