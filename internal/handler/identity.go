package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"classbeacon/internal/attendance"
	"classbeacon/internal/auth"
)

type registerRequest struct {
	FullName  string `json:"full_name" binding:"required"`
	Email     string `json:"email" binding:"required,email"`
	StudentID string `json:"student_id"`
	Role      string `json:"role" binding:"required,oneof=student professor"`
}

type tokenResponse struct {
	AccessToken  string              `json:"access_token"`
	RefreshToken string              `json:"refresh_token"`
	ExpiresAt    int64               `json:"expires_at"`
	Profile      *attendance.Profile `json:"profile,omitempty"`
}

// RegisterIdentity creates a profile and returns tokens for it. An email that
// is already registered is rejected with 409.
func (h *Handler) RegisterIdentity(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	profile, err := h.att.RegisterProfile(c.Request.Context(), req.FullName, req.Email, req.StudentID, auth.Role(req.Role))
	if err != nil {
		h.fail(c, err, http.StatusInternalServerError, nil)
		return
	}
	resp, err := h.issueTokens(c, profile)
	if err != nil {
		h.fail(c, err, http.StatusInternalServerError, nil)
		return
	}
	resp.Profile = &profile
	c.JSON(http.StatusCreated, resp)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// Refresh rotates a refresh token into a new token pair.
func (h *Handler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	claims, err := h.issuer.ParseRefresh(req.RefreshToken)
	if err != nil {
		h.fail(c, err, http.StatusUnauthorized, nil)
		return
	}
	profile, err := h.att.RotateRefreshToken(c.Request.Context(), req.RefreshToken)
	if err != nil {
		h.fail(c, err, http.StatusInternalServerError, nil)
		return
	}
	if profile.ID != claims.Subject {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "refresh token subject mismatch"})
		return
	}
	resp, err := h.issueTokens(c, profile)
	if err != nil {
		h.fail(c, err, http.StatusInternalServerError, nil)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) issueTokens(c *gin.Context, profile attendance.Profile) (tokenResponse, error) {
	tokens, err := h.issuer.Issue(profile.ID, profile.Role)
	if err != nil {
		return tokenResponse{}, err
	}
	if err := h.att.SaveRefreshToken(c.Request.Context(), profile.ID, tokens.RefreshToken, tokens.RefreshExp); err != nil {
		return tokenResponse{}, err
	}
	return tokenResponse{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresAt:    tokens.AccessExp.Unix(),
	}, nil
}
