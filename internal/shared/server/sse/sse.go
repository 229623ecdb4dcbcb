package sse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"studyguide-backend/internal/shared/metrics"
)

// Writer emits `data: {"type":...,"data":...}` frames on a gin response.
type Writer struct {
	c      *gin.Context
	mu     sync.Mutex
	closed bool
	done   func()
}

// Start writes the event-stream headers. Call Close when the handler returns.
func Start(c *gin.Context) *Writer {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()
	return &Writer{c: c, done: metrics.SSEClientConnected()}
}

// Send marshals data and writes one event.
func (w *Writer) Send(eventType string, data any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	// rendered HTML travels in event data; keep it readable
	enc.SetEscapeHTML(false)
	if err := enc.Encode(data); err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}
	return w.SendRaw(eventType, bytes.TrimRight(buf.Bytes(), "\n"))
}

// SendRaw writes one event whose data is already JSON.
func (w *Writer) SendRaw(eventType string, data json.RawMessage) error {
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	if _, err := fmt.Fprintf(w.c.Writer, "data: %s\n\n", fmt.Sprintf(`{"type":%q,"data":%s}`, eventType, data)); err != nil {
		return err
	}
	w.c.Writer.Flush()
	return nil
}

// Heartbeat writes a comment line so idle proxies keep the connection open.
func (w *Writer) Heartbeat() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	if _, err := w.c.Writer.WriteString(": ping\n\n"); err != nil {
		return err
	}
	w.c.Writer.Flush()
	return nil
}

func (w *Writer) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	if w.done != nil {
		w.done()
	}
}
