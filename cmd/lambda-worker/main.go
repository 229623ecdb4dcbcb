package main

// Build the Lambda handler binary:
//   GOOS=linux GOARCH=amd64 CGO_ENABLED=0 go build -o bootstrap ./cmd/lambda-worker

import (
	"context"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"studyguide-backend/internal/bootstrap"
	"studyguide-backend/internal/shared/config"
	"studyguide-backend/internal/shared/metrics"
	"studyguide-backend/internal/shared/telemetry"
	"studyguide-backend/internal/workerproc"
)

var (
	initOnce sync.Once
	initErr  error
	app      *bootstrap.App
)

func initApp() {
	cfg := config.Load()
	built, err := bootstrap.Build(cfg)
	if err != nil {
		initErr = err
		return
	}
	app = built
}

func handler(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	initOnce.Do(initApp)
	if initErr != nil {
		telemetry.Error("lambda_worker.bootstrap_failed", map[string]any{"error": initErr.Error()})
		failures := make([]events.SQSBatchItemFailure, 0, len(event.Records))
		for _, record := range event.Records {
			failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
		}
		return events.SQSEventResponse{BatchItemFailures: failures}, initErr
	}
	return handleBatch(ctx, app.AnalysesService, event), nil
}

// handleBatch reports retryable failures back to SQS. Messages that can never
// succeed are acknowledged so they do not cycle until the DLQ.
func handleBatch(ctx context.Context, processor workerproc.Processor, event events.SQSEvent) events.SQSEventResponse {
	failures := make([]events.SQSBatchItemFailure, 0)
	for _, record := range event.Records {
		metrics.IncAnalysisJobsReceived()
		err := workerproc.Handle(ctx, processor, record.Body)
		switch {
		case err == nil:
			metrics.IncAnalysisJobsProcessed()
		case workerproc.Unrecoverable(err):
			metrics.IncAnalysisJobsFailed()
			telemetry.Warn("lambda_worker.message_dropped", map[string]any{
				"message_id": record.MessageId,
				"error":      err.Error(),
			})
		default:
			metrics.IncAnalysisJobsFailed()
			telemetry.Error("lambda_worker.message_failed", map[string]any{
				"message_id": record.MessageId,
				"error":      err.Error(),
			})
			failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
		}
	}
	return events.SQSEventResponse{BatchItemFailures: failures}
}

func main() {
	lambda.Start(handler)
}
