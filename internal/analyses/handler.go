package analyses

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"studyguide-backend/internal/documents"
	"studyguide-backend/internal/shared/server/middleware"
	"studyguide-backend/internal/shared/server/paging"
	"studyguide-backend/internal/shared/server/respond"
	"studyguide-backend/internal/shared/server/sse"
	"studyguide-backend/internal/shared/telemetry"
	"studyguide-backend/internal/studyguide"
	"studyguide-backend/internal/usage"
)

const defaultHeartbeat = 15 * time.Second

// Handler wires HTTP handlers to the analyses service.
type Handler struct {
	Svc       *Service
	Heartbeat time.Duration
	polls     *pollLimiter
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{
		Svc:       svc,
		Heartbeat: defaultHeartbeat,
		polls:     newPollLimiter(pollLimitWindow, nil),
	}
}

// RegisterRoutes attaches analysis routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/analyses", h.startAnalysis)
	rg.GET("/analyses", h.listAnalyses)
	rg.GET("/analyses/:id", h.getAnalysis)
	rg.GET("/analyses/:id/events", h.events)
}

type startRequest struct {
	DocumentIDs []string `json:"documentIds"`
	Title       string   `json:"title"`
}

func (h *Handler) startAnalysis(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}
	ctx := WithRequestID(c.Request.Context(), middleware.RequestIDFromContext(c))

	analysis, err := h.Svc.Create(ctx, middleware.UserIDFromContext(c), req.DocumentIDs, req.Title)
	if err != nil {
		switch {
		case errors.Is(err, usage.ErrLimitReached):
			respond.Error(c, http.StatusTooManyRequests, "limit_reached", "You've reached your weekly analysis limit.",
				[]respond.FieldIssue{{Field: "usage", Issue: "limit_reached"}})
		case errors.Is(err, documents.ErrInvalidInput):
			respond.Invalid(c, "documentIds", "invalid", "documentIds must list between 1 and 10 distinct documents")
		case errors.Is(err, documents.ErrNotFound):
			respond.Error(c, http.StatusNotFound, "not_found", "document not found", nil)
		case errors.Is(err, studyguide.ErrStreamBusy):
			respond.Error(c, http.StatusConflict, "stream_busy", "An analysis or tutor reply is already in progress.", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to start analysis", nil)
		}
		return
	}

	middleware.SetAnalysisID(c, analysis.ID)
	respond.Accepted(c, gin.H{
		"analysisId": analysis.ID,
		"status":     analysis.Status,
	})
}

func (h *Handler) getAnalysis(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	analysisID := c.Param("id")
	middleware.SetAnalysisID(c, analysisID)
	if !h.polls.Allow(userID, analysisID) {
		c.Header("Retry-After", strconv.Itoa(h.polls.RetryAfterSeconds()))
		respond.Error(c, http.StatusTooManyRequests, "rate_limited", "Polling too fast. Subscribe to the events feed instead.", nil)
		return
	}

	analysis, err := h.Svc.Get(c.Request.Context(), userID, analysisID)
	if err != nil {
		writeLookupError(c, err)
		return
	}
	respond.JSON(c, http.StatusOK, analysis)
}

func (h *Handler) listAnalyses(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)

	page := paging.FromQuery(c)
	analyses, err := h.Svc.List(c.Request.Context(), userID, page.Limit, page.Offset)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to list analyses", nil)
		return
	}

	resp := make([]gin.H, 0, len(analyses))
	for _, a := range analyses {
		resp = append(resp, gin.H{
			"analysisId":  a.ID,
			"title":       a.Title,
			"documentIds": a.DocumentIDs,
			"status":      a.Status,
			"fragments":   a.Fragments,
			"createdAt":   a.CreatedAt,
		})
	}

	respond.JSON(c, http.StatusOK, resp)
}

// events streams the analysis as server-sent events: a status event, then a
// snapshot per fragment, ending with complete, failed or canceled.
func (h *Handler) events(c *gin.Context) {
	ctx := c.Request.Context()
	userID := middleware.UserIDFromContext(c)
	analysisID := c.Param("id")
	middleware.SetAnalysisID(c, analysisID)

	if _, err := h.Svc.Get(ctx, userID, analysisID); err != nil {
		writeLookupError(c, err)
		return
	}
	feed, cancel, err := h.Svc.Subscribe(ctx, analysisID)
	if err != nil {
		respond.Error(c, http.StatusServiceUnavailable, "events_unavailable", "live updates are unavailable", nil)
		return
	}
	defer cancel()

	// read again after subscribing so a finish in between is not missed
	analysis, err := h.Svc.Get(ctx, userID, analysisID)
	if err != nil {
		writeLookupError(c, err)
		return
	}

	w := sse.Start(c)
	defer w.Close()

	if analysis.Terminal() {
		ev, err := TerminalEvent(analysis)
		if err == nil {
			_ = w.SendRaw(ev.Type, ev.Data)
		}
		return
	}
	_ = w.Send(EventStatus, statusPayload{AnalysisID: analysis.ID, Status: analysis.Status})
	if analysis.Result != nil && !analysis.Result.IsEmpty() {
		_ = w.Send(EventSnapshot, snapshotPayload{AnalysisID: analysis.ID, Fragments: analysis.Fragments, Result: *analysis.Result})
	}

	heartbeat := h.Heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Heartbeat(); err != nil {
				return
			}
		case ev, ok := <-feed:
			if !ok {
				return
			}
			if err := w.SendRaw(ev.Type, ev.Data); err != nil {
				telemetry.Warn("analysis.events_write_failed", map[string]any{
					"analysis_id": analysisID,
					"error":       err.Error(),
				})
				return
			}
			if IsTerminalEvent(ev.Type) {
				return
			}
		}
	}
}

func writeLookupError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrForbidden):
		respond.Error(c, http.StatusNotFound, "not_found", "analysis not found", nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to fetch analysis", nil)
	}
}
