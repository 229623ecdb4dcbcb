package users

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"studyguide-backend/internal/shared/server/middleware"
	"studyguide-backend/internal/shared/server/respond"
)

type Handler struct {
	Svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/me", h.me)
}

// me describes the caller. Guests only have the id from their header; signed
// in users get their stored profile, or the token claims if it is missing.
func (h *Handler) me(c *gin.Context) {
	caller := middleware.IdentityFrom(c)
	userID := caller.UserID
	if userID == "" {
		respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
		return
	}
	if caller.Guest {
		respond.JSON(c, http.StatusOK, gin.H{"id": userID, "guest": true})
		return
	}

	fromToken := gin.H{
		"id":         userID,
		"guest":      false,
		"email":      caller.Email,
		"fullName":   caller.Name,
		"pictureUrl": caller.Picture,
	}
	if h.Svc == nil {
		respond.JSON(c, http.StatusOK, fromToken)
		return
	}
	user, err := h.Svc.GetByID(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			respond.JSON(c, http.StatusOK, fromToken)
			return
		}
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to load user", nil)
		return
	}
	respond.JSON(c, http.StatusOK, gin.H{
		"id":         user.ID,
		"guest":      false,
		"email":      user.Email,
		"fullName":   user.FullName,
		"pictureUrl": user.PictureURL,
		"createdAt":  user.CreatedAt,
	})
}
