package sse

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestWriterFramesEvents(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/events", nil)

	w := Start(c)
	if err := w.Send("snapshot", map[string]string{"summary": "hi"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := w.Heartbeat(); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	w.Close()
	if err := w.Send("late", nil); err != nil {
		t.Fatalf("send after close: %v", err)
	}

	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("unexpected content type %q", got)
	}
	body := rec.Body.String()
	want := "data: {\"type\":\"snapshot\",\"data\":{\"summary\":\"hi\"}}\n\n: ping\n\n"
	if body != want {
		t.Fatalf("unexpected body %q", body)
	}
	if strings.Contains(body, "late") {
		t.Fatalf("event written after close")
	}
}
