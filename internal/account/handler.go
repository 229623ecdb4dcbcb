package account

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"studyguide-backend/internal/shared/server/middleware"
	"studyguide-backend/internal/shared/server/respond"
)

// Handler exposes POST /account/claim-guest. A signed-in caller names the
// guest id it used before login, either in X-Guest-Id or as {"guestId": ...}
// (the login redirect hands the UI that value as claimGuest).
type Handler struct {
	Svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/account/claim-guest", h.claimGuest)
}

type claimRequest struct {
	GuestID string `json:"guestId"`
}

func (h *Handler) claimGuest(c *gin.Context) {
	if h.Svc == nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "service unavailable", nil)
		return
	}
	owner := strings.TrimSpace(middleware.UserIDFromContext(c))
	if middleware.IsGuest(c) || owner == "" {
		respond.Error(c, http.StatusUnauthorized, "unauthorized", "login required", nil)
		return
	}

	raw := guestIDFrom(c)
	if raw == "" {
		respond.Invalid(c, "guestId", "required", "guest id is required")
		return
	}
	guest, err := uuid.Parse(raw)
	if err != nil {
		respond.Invalid(c, "guestId", "invalid", "invalid guest id")
		return
	}

	result, err := h.Svc.ClaimGuest(c.Request.Context(), middleware.GuestPrefix+guest.String(), owner)
	switch {
	case errors.Is(err, ErrMissingIdentity):
		respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
	case err != nil:
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to claim guest study data", nil)
	default:
		respond.JSON(c, http.StatusOK, result)
	}
}

func guestIDFrom(c *gin.Context) string {
	if v := strings.TrimSpace(c.GetHeader("X-Guest-Id")); v != "" {
		return v
	}
	if c.Request.ContentLength == 0 {
		return ""
	}
	var req claimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return ""
	}
	return strings.TrimSpace(req.GuestID)
}
