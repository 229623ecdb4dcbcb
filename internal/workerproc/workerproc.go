// Package workerproc turns queue payloads into analysis runs. The long-lived
// SQS poller and the Lambda batch handler share it.
package workerproc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"studyguide-backend/internal/analyses"
	"studyguide-backend/internal/queue"
	"studyguide-backend/internal/shared/telemetry"
)

// Processor runs one queued analysis to a terminal state.
type Processor interface {
	ProcessAnalysis(ctx context.Context, analysisID string) error
}

var (
	ErrEmptyBody          = errors.New("empty message body")
	ErrMalformed          = errors.New("malformed message")
	ErrMissingAnalysisID  = errors.New("missing analysis id")
	ErrUnsupportedVersion = errors.New("unsupported message version")
	errNoProcessor        = errors.New("analysis service not configured")
)

// Meta fingerprints a payload for logs without echoing its content.
type Meta struct {
	BodyLen int
	BodySHA string
}

func metaOf(body string) Meta {
	if body == "" {
		return Meta{}
	}
	sum := sha256.Sum256([]byte(body))
	return Meta{BodyLen: len(body), BodySHA: hex.EncodeToString(sum[:])}
}

// Fields adds the fingerprint to a log record.
func (m Meta) Fields(fields map[string]any) map[string]any {
	fields["body_len"] = m.BodyLen
	if m.BodySHA != "" {
		fields["body_sha256"] = m.BodySHA
	}
	return fields
}

// MessageError is a payload that no amount of redelivery will fix. Msg holds
// whatever could be decoded.
type MessageError struct {
	Meta Meta
	Msg  queue.Message
	Err  error
}

func (e *MessageError) Error() string { return e.Err.Error() }
func (e *MessageError) Unwrap() error { return e.Err }

// ProcessError is a failure after the payload was accepted. Redelivery may
// succeed.
type ProcessError struct {
	Msg queue.Message
	Err error
}

func (e *ProcessError) Error() string { return "process analysis: " + e.Err.Error() }
func (e *ProcessError) Unwrap() error { return e.Err }

// Unrecoverable reports whether err came from a payload that should be
// dropped instead of retried.
func Unrecoverable(err error) bool {
	var me *MessageError
	return errors.As(err, &me)
}

// Parse decodes and validates a payload. Version 0 predates versioned
// payloads and has the same shape.
func Parse(body string) (queue.Message, Meta, error) {
	meta := metaOf(body)
	reject := func(msg queue.Message, err error) (queue.Message, Meta, error) {
		return msg, meta, &MessageError{Meta: meta, Msg: msg, Err: err}
	}
	if strings.TrimSpace(body) == "" {
		return reject(queue.Message{}, ErrEmptyBody)
	}
	msg, err := queue.DecodeMessage([]byte(body))
	if err != nil {
		return reject(queue.Message{}, fmt.Errorf("%w: %v", ErrMalformed, err))
	}
	if strings.TrimSpace(msg.AnalysisID) == "" {
		return reject(msg, ErrMissingAnalysisID)
	}
	if msg.Version > queue.MessageVersion {
		return reject(msg, fmt.Errorf("%w %d", ErrUnsupportedVersion, msg.Version))
	}
	return msg, meta, nil
}

// Run processes an already parsed message under its originating request id.
func Run(ctx context.Context, processor Processor, msg queue.Message) error {
	if processor == nil {
		return errNoProcessor
	}
	telemetry.Info("worker.message_started", map[string]any{
		"analysis_id":   msg.AnalysisID,
		"request_id":    msg.RequestID,
		"queue_wait_ms": msg.Age(time.Now()).Milliseconds(),
	})
	if err := processor.ProcessAnalysis(analyses.WithRequestID(ctx, msg.RequestID), msg.AnalysisID); err != nil {
		return &ProcessError{Msg: msg, Err: err}
	}
	return nil
}

// Handle parses body and runs it.
func Handle(ctx context.Context, processor Processor, body string) error {
	msg, _, err := Parse(body)
	if err != nil {
		return err
	}
	return Run(ctx, processor, msg)
}
