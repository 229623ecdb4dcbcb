package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"studyguide-backend/internal/shared/metrics"
	"studyguide-backend/internal/shared/telemetry"
)

const analysisIDKey = "analysisId"

// SetAnalysisID tags the request log line with the analysis it touched.
func SetAnalysisID(c *gin.Context, id string) {
	c.Set(analysisIDKey, id)
}

// Logging emits one request.complete line per request. Health and metrics
// scrapes are only logged when they fail.
func Logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		elapsedMs := float64(time.Since(start).Microseconds()) / 1000.0
		status := c.Writer.Status()
		stream := strings.HasPrefix(c.Writer.Header().Get("Content-Type"), "text/event-stream")

		metrics.IncHTTPRequest(status)
		if !stream {
			metrics.ObserveHTTPDurationMs(elapsedMs)
		}
		if status < http.StatusInternalServerError && isHealthPath(c.Request.URL.Path) {
			return
		}

		fields := map[string]any{
			"request_id":  RequestIDFromContext(c),
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"route":       c.FullPath(),
			"status":      status,
			"duration_ms": elapsedMs,
			"stream":      stream,
			"client_ip":   c.ClientIP(),
			"user_agent":  c.Request.UserAgent(),
		}
		if userID := UserIDFromContext(c); userID != "" {
			fields["user_id"] = userID
			fields["is_guest"] = IsGuest(c)
		}
		if id := c.GetString(analysisIDKey); id != "" {
			fields["analysis_id"] = id
		}
		if len(c.Errors) > 0 {
			fields["errors"] = c.Errors.String()
		}
		logRequest(status, fields)
	}
}

func logRequest(status int, fields map[string]any) {
	switch {
	case status >= http.StatusInternalServerError:
		telemetry.Error("request.complete", fields)
	case status >= http.StatusBadRequest:
		telemetry.Warn("request.complete", fields)
	default:
		telemetry.Info("request.complete", fields)
	}
}

func isHealthPath(path string) bool {
	return path == "/metrics" || strings.HasSuffix(path, "/health")
}
