package respond

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"studyguide-backend/internal/shared/telemetry"
)

// ErrorBody is the JSON error envelope every endpoint returns.
type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// FieldIssue names one rejected input.
type FieldIssue struct {
	Field string `json:"field"`
	Issue string `json:"issue"`
}

// Error aborts the request with the envelope. Server faults are logged as
// errors, client faults as warnings.
func Error(c *gin.Context, status int, code, message string, details any) {
	requestID := c.GetString("requestId")
	fields := map[string]any{
		"status":     status,
		"code":       code,
		"message":    message,
		"path":       c.Request.URL.Path,
		"method":     c.Request.Method,
		"request_id": requestID,
	}
	if userID := c.GetString("userId"); userID != "" {
		fields["user_id"] = userID
		fields["is_guest"] = c.GetBool("isGuest")
	}
	if status >= http.StatusInternalServerError {
		telemetry.Error("http.error", fields)
	} else {
		telemetry.Warn("http.error", fields)
	}

	c.AbortWithStatusJSON(status, ErrorResponse{
		Error: ErrorBody{
			Code:      code,
			Message:   message,
			Details:   details,
			RequestID: requestID,
		},
	})
}

// Invalid is a 400 validation_error naming the offending field.
func Invalid(c *gin.Context, field, issue, message string) {
	Error(c, http.StatusBadRequest, "validation_error", message, []FieldIssue{{Field: field, Issue: issue}})
}
