package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"classbeacon/internal/checkin"
)

// CreateSession starts a check-in session for the caller.
func (h *Handler) CreateSession(c *gin.Context) {
	v, err := h.sessions.Create(c.Request.Context(), subject(c))
	if err != nil {
		h.fail(c, err, http.StatusBadGateway, nil)
		return
	}
	c.JSON(http.StatusCreated, v)
}

// GetSession returns the caller's session.
func (h *Handler) GetSession(c *gin.Context) {
	v, err := h.sessions.Get(c.Request.Context(), c.Param("id"), subject(c))
	if err != nil {
		h.fail(c, err, http.StatusInternalServerError, nil)
		return
	}
	c.JSON(http.StatusOK, v)
}

// maxCameraBody bounds a camera request: a base64 frame at the default size
// limit plus room for the other fields.
const maxCameraBody = int64(checkin.DefaultMaxFrameBytes)*4/3 + 64<<10

type cameraRequest struct {
	Frame  string `json:"frame"`
	Denied bool   `json:"denied"`
	Error  string `json:"error" binding:"max=200"`
}

// AcquireCamera reports a camera acquisition. Camera failures come back as
// session state with 200.
func (h *Handler) AcquireCamera(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxCameraBody)
	var req cameraRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "camera frame is too large"})
			return
		}
		badRequest(c, err)
		return
	}
	v, err := h.sessions.AcquireCamera(c.Request.Context(), c.Param("id"), subject(c), checkin.CaptureRequest{
		Frame:  req.Frame,
		Denied: req.Denied,
		Error:  req.Error,
	})
	if err != nil {
		h.fail(c, err, http.StatusInternalServerError, nil)
		return
	}
	c.JSON(http.StatusOK, v)
}

// ToggleBeacon flips simulated beacon presence.
func (h *Handler) ToggleBeacon(c *gin.Context) {
	v, err := h.sessions.ToggleBeacon(c.Request.Context(), c.Param("id"), subject(c))
	if err != nil {
		h.fail(c, err, http.StatusInternalServerError, nil)
		return
	}
	c.JSON(http.StatusOK, v)
}

type selectSubjectRequest struct {
	SubjectID string `json:"subject_id"`
}

// SelectSubject changes the session's subject.
func (h *Handler) SelectSubject(c *gin.Context) {
	var req selectSubjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	v, err := h.sessions.SelectSubject(c.Request.Context(), c.Param("id"), subject(c), req.SubjectID)
	if err != nil {
		h.fail(c, err, http.StatusBadGateway, nil)
		return
	}
	c.JSON(http.StatusOK, v)
}

// Submit records attendance for the session.
func (h *Handler) Submit(c *gin.Context) {
	v, rec, err := h.sessions.Submit(c.Request.Context(), c.Param("id"), subject(c))
	if err != nil {
		var extra gin.H
		if !errors.Is(err, checkin.ErrSessionNotFound) {
			extra = gin.H{"session": v}
		}
		h.fail(c, err, http.StatusBadGateway, extra)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"record": rec, "session": v})
}
