package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// ListSubjects returns every subject ordered by name.
func (h *Handler) ListSubjects(c *gin.Context) {
	subjects, err := h.att.ListSubjects(c.Request.Context())
	if err != nil {
		h.fail(c, err, http.StatusBadGateway, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subjects": subjects})
}

type createSubjectRequest struct {
	Name string `json:"name" binding:"required"`
	Code string `json:"code" binding:"required,max=32"`
}

// CreateSubject adds a subject.
func (h *Handler) CreateSubject(c *gin.Context) {
	var req createSubjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	sub, err := h.att.CreateSubject(c.Request.Context(), req.Name, req.Code)
	if err != nil {
		h.fail(c, err, http.StatusBadGateway, nil)
		return
	}
	c.JSON(http.StatusCreated, sub)
}

// ListRecords pages through a subject's attendance records.
func (h *Handler) ListRecords(c *gin.Context) {
	limit, offset := 50, 0
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	records, err := h.att.ListRecords(c.Request.Context(), c.Param("id"), limit, offset)
	if err != nil {
		h.fail(c, err, http.StatusBadGateway, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records, "limit": limit, "offset": offset})
}
