package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

var (
	analysisStartedTotal   atomic.Uint64
	analysisCompletedTotal atomic.Uint64
	analysisFailedTotal    atomic.Uint64
	streamFragmentsTotal   atomic.Uint64
	chatTurnsTotal         atomic.Uint64
	chatFailedTotal        atomic.Uint64
	sseClients             atomic.Int64
	httpRequestsTotal      atomic.Uint64
	httpServerErrorsTotal  atomic.Uint64
	jobsReceivedTotal      atomic.Uint64
	jobsProcessedTotal     atomic.Uint64
	jobsFailedTotal        atomic.Uint64

	analysisDuration = newHistogram([]float64{100, 250, 500, 1000, 2000, 5000, 10000, 30000, 60000})
	firstFragment    = newHistogram([]float64{100, 250, 500, 1000, 2000, 5000, 10000, 30000})
	llmOpen          = newHistogram([]float64{50, 100, 250, 500, 1000, 2500, 5000, 10000})
	httpDuration     = newHistogram([]float64{5, 10, 25, 50, 100, 250, 500, 1000, 5000})
)

// IncHTTPRequest counts a finished request; 5xx responses are also counted separately.
func IncHTTPRequest(status int) {
	httpRequestsTotal.Add(1)
	if status >= 500 {
		httpServerErrorsTotal.Add(1)
	}
}

// ObserveHTTPDurationMs records handler latency. Event streams are excluded
// by the caller since their duration is the client's session length.
func ObserveHTTPDurationMs(value float64) {
	httpDuration.Observe(max(value, 0))
}

func IncAnalysisJobsReceived() {
	jobsReceivedTotal.Add(1)
}

func IncAnalysisJobsProcessed() {
	jobsProcessedTotal.Add(1)
}

func IncAnalysisJobsFailed() {
	jobsFailedTotal.Add(1)
}

// ObserveLLMOpenMs records how long the provider took to accept a stream request.
func ObserveLLMOpenMs(value float64) {
	if value < 0 {
		value = 0
	}
	llmOpen.Observe(value)
}

// IncAnalysisStarted increments the started counter.
func IncAnalysisStarted() {
	analysisStartedTotal.Add(1)
}

// IncAnalysisCompleted increments the completed counter.
func IncAnalysisCompleted() {
	analysisCompletedTotal.Add(1)
}

// IncAnalysisFailed increments the failed counter.
func IncAnalysisFailed() {
	analysisFailedTotal.Add(1)
}

// AddStreamFragments counts model output fragments fed to the reconstructor.
func AddStreamFragments(n int) {
	if n > 0 {
		streamFragmentsTotal.Add(uint64(n))
	}
}

func IncChatTurn() {
	chatTurnsTotal.Add(1)
}

func IncChatFailed() {
	chatFailedTotal.Add(1)
}

// SSEClientConnected tracks open event streams; call the returned func on disconnect.
func SSEClientConnected() func() {
	sseClients.Add(1)
	return func() { sseClients.Add(-1) }
}

// ObserveFirstFragmentMs records the time from stream open to the first fragment.
func ObserveFirstFragmentMs(value float64) {
	if value < 0 {
		value = 0
	}
	firstFragment.Observe(value)
}

// ObserveAnalysisDurationMs records an analysis duration in milliseconds.
func ObserveAnalysisDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	analysisDuration.Observe(value)
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.String(http.StatusOK, Render())
	}
}

// Render renders metrics in Prometheus text format.
func Render() string {
	var buf bytes.Buffer
	writeCounter(&buf, "http_requests_total", "Total HTTP requests served", httpRequestsTotal.Load())
	writeCounter(&buf, "http_server_errors_total", "HTTP responses with a 5xx status", httpServerErrorsTotal.Load())
	writeCounter(&buf, "analysis_started_total", "Total analyses started", analysisStartedTotal.Load())
	writeCounter(&buf, "analysis_completed_total", "Total analyses completed", analysisCompletedTotal.Load())
	writeCounter(&buf, "analysis_failed_total", "Total analyses failed", analysisFailedTotal.Load())
	writeCounter(&buf, "stream_fragments_total", "Model output fragments reconstructed", streamFragmentsTotal.Load())
	writeCounter(&buf, "chat_turns_total", "Tutor chat turns started", chatTurnsTotal.Load())
	writeCounter(&buf, "chat_failed_total", "Tutor chat turns failed", chatFailedTotal.Load())
	writeCounter(&buf, "analysis_jobs_received_total", "Queue jobs received by the worker", jobsReceivedTotal.Load())
	writeCounter(&buf, "analysis_jobs_processed_total", "Queue jobs processed successfully", jobsProcessedTotal.Load())
	writeCounter(&buf, "analysis_jobs_failed_total", "Queue jobs that failed processing", jobsFailedTotal.Load())
	writeGauge(&buf, "sse_clients", "Open server-sent event streams", sseClients.Load())
	writeHistogram(&buf, "http_request_duration_ms", "Non-streaming HTTP request latency in milliseconds", httpDuration.Snapshot())
	writeHistogram(&buf, "analysis_duration_ms", "Analysis duration in milliseconds", analysisDuration.Snapshot())
	writeHistogram(&buf, "llm_open_ms", "Time for the model provider to open a stream in milliseconds", llmOpen.Snapshot())
	writeHistogram(&buf, "stream_first_fragment_ms", "Time to first model fragment in milliseconds", firstFragment.Snapshot())
	return buf.String()
}

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type histogramSnapshot struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

func (h *histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[i]++
			return
		}
	}
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := histogramSnapshot{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
	return out
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func writeGauge(buf *bytes.Buffer, name, help string, value int64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s gauge\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func writeHistogram(buf *bytes.Buffer, name, help string, snap histogramSnapshot) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s histogram\n", name)
	var cumulative uint64
	for i, bound := range snap.buckets {
		cumulative += snap.counts[i]
		fmt.Fprintf(buf, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(bound), cumulative)
	}
	fmt.Fprintf(buf, "%s_bucket{le=\"+Inf\"} %d\n", name, snap.count)
	fmt.Fprintf(buf, "%s_sum %s\n", name, formatFloat(snap.sum))
	fmt.Fprintf(buf, "%s_count %d\n", name, snap.count)
}

func formatFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}
