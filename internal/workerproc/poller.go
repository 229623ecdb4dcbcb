package workerproc

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"studyguide-backend/internal/shared/metrics"
	"studyguide-backend/internal/shared/telemetry"
)

// SQSAPI is the slice of the SQS client the poller needs.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

const receiveCountAttr = "ApproximateReceiveCount"

// Poller long-polls an SQS queue and runs up to Concurrency analyses at once.
// Successful and unrecoverable messages are deleted; anything else is left
// to reappear after the visibility timeout.
type Poller struct {
	Client          SQSAPI
	QueueURL        string
	Processor       Processor
	Concurrency     int
	Visibility      time.Duration
	ShutdownTimeout time.Duration
}

// Run blocks until ctx is canceled, then waits up to ShutdownTimeout for
// in-flight jobs.
func (p *Poller) Run(ctx context.Context) {
	sem := make(chan struct{}, max(1, p.Concurrency))
	var wg sync.WaitGroup

	telemetry.Info("worker.started", map[string]any{
		"queue_url":          p.QueueURL,
		"concurrency":        cap(sem),
		"visibility_seconds": int(p.Visibility.Seconds()),
	})

	for ctx.Err() == nil {
		resp, err := p.Client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(p.QueueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     20,
			VisibilityTimeout:   int32(p.Visibility.Seconds()),
			AttributeNames:      []sqstypes.QueueAttributeName{receiveCountAttr},
		})
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				break
			}
			telemetry.Warn("worker.receive_failed", map[string]any{"error": err.Error()})
			continue
		}
		for _, m := range resp.Messages {
			select {
			case <-ctx.Done():
			case sem <- struct{}{}:
				metrics.IncAnalysisJobsReceived()
				wg.Add(1)
				go func(m sqstypes.Message) {
					defer wg.Done()
					defer func() { <-sem }()
					// in-flight jobs finish even after shutdown is requested
					p.handle(context.WithoutCancel(ctx), m)
				}(m)
			}
		}
	}

	p.drain(&wg)
}

func (p *Poller) drain(wg *sync.WaitGroup) {
	telemetry.Info("worker.draining", map[string]any{"timeout": p.ShutdownTimeout.String()})
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(p.ShutdownTimeout):
		telemetry.Warn("worker.shutdown_timeout", map[string]any{"timeout": p.ShutdownTimeout.String()})
	}
}

func (p *Poller) handle(ctx context.Context, m sqstypes.Message) {
	msg, meta, err := Parse(aws.ToString(m.Body))
	fields := func() map[string]any { return sqsFields(m, msg.AnalysisID, msg.RequestID) }
	if err != nil {
		telemetry.Error("worker.analysis.unrecoverable", meta.Fields(withError(fields(), err)))
		p.delete(ctx, m, fields)
		metrics.IncAnalysisJobsFailed()
		return
	}

	telemetry.Info("worker.analysis.received", fields())
	if err := Run(ctx, p.Processor, msg); err != nil {
		var pe *ProcessError
		if errors.As(err, &pe) {
			err = pe.Err
		}
		telemetry.Error("worker.analysis.failed", withError(fields(), err))
		metrics.IncAnalysisJobsFailed()
		return
	}
	if p.delete(ctx, m, fields) {
		telemetry.Info("worker.analysis.completed", fields())
		metrics.IncAnalysisJobsProcessed()
	}
}

func (p *Poller) delete(ctx context.Context, m sqstypes.Message, fields func() map[string]any) bool {
	receipt := aws.ToString(m.ReceiptHandle)
	if receipt == "" {
		telemetry.Error("worker.analysis.delete_failed", withError(fields(), errors.New("missing receipt handle")))
		return false
	}
	if _, err := p.Client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(p.QueueURL),
		ReceiptHandle: aws.String(receipt),
	}); err != nil {
		telemetry.Error("worker.analysis.delete_failed", withError(fields(), err))
		return false
	}
	return true
}

func sqsFields(m sqstypes.Message, analysisID, requestID string) map[string]any {
	fields := map[string]any{
		"analysis_id":    analysisID,
		"sqs_message_id": aws.ToString(m.MessageId),
		"receive_count":  receiveCount(m),
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	return fields
}

func withError(fields map[string]any, err error) map[string]any {
	fields["error"] = err.Error()
	return fields
}

func receiveCount(m sqstypes.Message) int {
	n, err := strconv.Atoi(m.Attributes[receiveCountAttr])
	if err != nil {
		return 0
	}
	return n
}
