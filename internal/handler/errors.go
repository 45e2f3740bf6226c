package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"classbeacon/internal/attendance"
	"classbeacon/internal/auth"
	"classbeacon/internal/checkin"
	"classbeacon/internal/window"
)

// statusFor maps domain errors to HTTP statuses. Unknown errors get fallback.
func statusFor(err error, fallback int) int {
	switch {
	case errors.Is(err, checkin.ErrNotReady):
		return http.StatusPreconditionFailed
	case errors.Is(err, checkin.ErrSubmissionInProgress),
		errors.Is(err, checkin.ErrAlreadySubmitted),
		errors.Is(err, attendance.ErrDuplicateCheckIn),
		errors.Is(err, attendance.ErrDuplicateProfile),
		errors.Is(err, attendance.ErrDuplicateSubject):
		return http.StatusConflict
	case errors.Is(err, checkin.ErrSessionNotFound),
		errors.Is(err, attendance.ErrSubjectNotFound),
		errors.Is(err, attendance.ErrProfileNotFound):
		return http.StatusNotFound
	case errors.Is(err, window.ErrInvalidDuration),
		errors.Is(err, window.ErrDurationTooLong),
		errors.Is(err, attendance.ErrInvalidProfile),
		errors.Is(err, attendance.ErrInvalidSubject):
		return http.StatusBadRequest
	case errors.Is(err, attendance.ErrRefreshTokenInvalid),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrWrongUse):
		return http.StatusUnauthorized
	}
	return fallback
}

// fail writes err as JSON. Statuses at or above 500 hide the message.
func (h *Handler) fail(c *gin.Context, err error, fallback int, extra gin.H) {
	status := statusFor(err, fallback)
	body := gin.H{"error": err.Error()}
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
		body["error"] = http.StatusText(status)
	}
	var nr *checkin.NotReadyError
	if errors.As(err, &nr) {
		body["missing"] = nr.Missing
	}
	for k, v := range extra {
		body[k] = v
	}
	c.JSON(status, body)
}

// badRequest reports a binding failure, listing failed fields when the
// validator produced them.
func badRequest(c *gin.Context, err error) {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	fields := make(map[string]string, len(ve))
	for _, fe := range ve {
		fields[fe.Field()] = fe.Tag()
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "fields": fields})
}
