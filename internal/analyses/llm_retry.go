package analyses

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"studyguide-backend/internal/llm"
	"studyguide-backend/internal/shared/metrics"
	"studyguide-backend/internal/shared/telemetry"
)

const llmOpenAttempts = 3

var llmRetryBaseDelay = 300 * time.Millisecond

// openAnalysisStream retries opening the stream on transient errors. Once
// fragments flow there is no retry: a restarted stream would replay text the
// client has already seen.
func openAnalysisStream(ctx context.Context, streamer llm.Streamer, req llm.AnalysisRequest, analysisID string) (llm.Stream, error) {
	delay := llmRetryBaseDelay
	for attempt := 1; ; attempt++ {
		start := time.Now()
		stream, err := streamer.StreamAnalysis(ctx, req)
		if err == nil {
			metrics.ObserveLLMOpenMs(float64(time.Since(start).Microseconds()) / 1000.0)
			return stream, nil
		}
		if attempt >= llmOpenAttempts || !shouldRetryLLM(err) {
			return nil, err
		}
		telemetry.Warn("llm.retry", map[string]any{
			"request_id":  RequestIDFromContext(ctx),
			"analysis_id": analysisID,
			"attempt":     attempt,
			"error":       sanitizeError(err),
		})
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		delay *= 2
	}
}

func shouldRetryLLM(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	if isRateLimited(msg) {
		return true
	}
	if strings.Contains(msg, "http status 5") ||
		strings.Contains(msg, "server_error") ||
		strings.Contains(msg, "overloaded") ||
		strings.Contains(msg, "503") ||
		strings.Contains(msg, "529") {
		return true
	}
	if strings.Contains(msg, "timeout") {
		return true
	}
	if strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection closed") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "tls handshake timeout") ||
		strings.Contains(msg, "eof") {
		return true
	}

	return false
}

func isRateLimited(msg string) bool {
	return strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "rate_limit")
}
