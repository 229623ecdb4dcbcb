package session

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"studyguide-backend/internal/render"
	"studyguide-backend/internal/shared/server/middleware"
	"studyguide-backend/internal/shared/server/respond"
	"studyguide-backend/internal/shared/server/sse"
	"studyguide-backend/internal/studyguide"
)

// Handler exposes the session and its history.
type Handler struct {
	Svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/session", h.get)
	rg.POST("/session/reset", h.reset)
	rg.POST("/session/chat", h.chat)
	rg.GET("/history", h.listHistory)
	rg.GET("/history/:id", h.getEntry)
	rg.GET("/history/:id/rendered", h.getRendered)
	rg.POST("/history/:id/restore", h.restore)
	rg.DELETE("/history/:id", h.deleteEntry)
}

type sessionResponse struct {
	studyguide.Session
	Rendered *render.RenderedResult   `json:"rendered,omitempty"`
	ChatHTML []studyguide.ChatMessage `json:"chatHtml"`
}

func toResponse(s studyguide.Session) sessionResponse {
	resp := sessionResponse{Session: s, ChatHTML: render.Chat(s.Chat)}
	if s.Result != nil {
		rendered := render.Result(*s.Result)
		resp.Rendered = &rendered
	}
	return resp
}

func (h *Handler) get(c *gin.Context) {
	s, err := h.Svc.Get(c.Request.Context(), middleware.UserIDFromContext(c))
	if err != nil {
		writeError(c, err)
		return
	}
	respond.OK(c, toResponse(s))
}

func (h *Handler) reset(c *gin.Context) {
	s, err := h.Svc.Reset(c.Request.Context(), middleware.UserIDFromContext(c))
	if err != nil {
		writeError(c, err)
		return
	}
	respond.OK(c, toResponse(s))
}

type chatRequest struct {
	Question string `json:"question"`
}

// chat answers over SSE. Errors raised before the first delta are plain JSON
// errors; later ones arrive as an "error" event.
func (h *Handler) chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}

	var stream *sse.Writer
	defer func() {
		if stream != nil {
			stream.Close()
		}
	}()
	reply, err := h.Svc.Chat(c.Request.Context(), middleware.UserIDFromContext(c), req.Question, func(delta string) {
		if stream == nil {
			stream = sse.Start(c)
		}
		_ = stream.Send("delta", gin.H{"text": delta})
	})
	if err != nil {
		if stream == nil {
			if transitionError(err) {
				writeError(c, err)
			} else {
				respond.Error(c, http.StatusBadGateway, "chat_failed", studyguide.ChatFailedNotice, nil)
			}
			return
		}
		_ = stream.Send("error", gin.H{"code": "chat_failed", "message": studyguide.ChatFailedNotice})
		return
	}
	_ = stream.Send("done", gin.H{
		"message": reply,
		"html":    render.Markdown(reply.Content),
	})
}

func (h *Handler) listHistory(c *gin.Context) {
	entries, err := h.Svc.History(c.Request.Context(), middleware.UserIDFromContext(c))
	if err != nil {
		writeError(c, err)
		return
	}
	respond.OK(c, gin.H{"items": entries})
}

func (h *Handler) getEntry(c *gin.Context) {
	entry, err := h.Svc.GetEntry(c.Request.Context(), middleware.UserIDFromContext(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	respond.OK(c, entry)
}

func (h *Handler) getRendered(c *gin.Context) {
	entry, err := h.Svc.GetEntry(c.Request.Context(), middleware.UserIDFromContext(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	respond.OK(c, gin.H{
		"id":     entry.ID,
		"title":  entry.Title,
		"date":   entry.Date,
		"result": render.Result(entry.AnalysisResult),
	})
}

func (h *Handler) restore(c *gin.Context) {
	s, err := h.Svc.Restore(c.Request.Context(), middleware.UserIDFromContext(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	respond.OK(c, toResponse(s))
}

func (h *Handler) deleteEntry(c *gin.Context) {
	s, err := h.Svc.DeleteHistory(c.Request.Context(), middleware.UserIDFromContext(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	respond.OK(c, toResponse(s))
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, studyguide.ErrEmptyQuestion):
		respond.Error(c, http.StatusBadRequest, "validation_error", "question is required", nil)
	case errors.Is(err, studyguide.ErrNoResult):
		respond.Error(c, http.StatusConflict, "no_result", "there is no study guide to discuss yet", nil)
	case errors.Is(err, studyguide.ErrStreamBusy):
		respond.Error(c, http.StatusConflict, "stream_busy", "a response is still streaming", nil)
	case errors.Is(err, studyguide.ErrEntryNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "history entry not found", nil)
	case errors.Is(err, studyguide.ErrNoChatInFlight):
		respond.Error(c, http.StatusConflict, "chat_abandoned", "the session was reset", nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", "session unavailable", nil)
	}
}

func transitionError(err error) bool {
	for _, target := range []error{
		studyguide.ErrEmptyQuestion,
		studyguide.ErrNoResult,
		studyguide.ErrStreamBusy,
		studyguide.ErrEntryNotFound,
		studyguide.ErrNoChatInFlight,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
