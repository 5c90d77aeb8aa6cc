package gateway

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Profile re-reads the signed-in user's profile.
func (h *Handler) Profile(c *gin.Context) {
	profile, err := h.account.LoadProfile(c.Request.Context(), mustToken(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

type UsernameRequest struct {
	Username string `json:"username"`
}

// UpdateUsername renames the account.
func (h *Handler) UpdateUsername(c *gin.Context) {
	var req UsernameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	name, err := h.account.UpdateUsername(c.Request.Context(), mustToken(c), req.Username)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"username": name})
}

type PasswordRequest struct {
	OldPassword     string `json:"oldPassword"`
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword"`
}

// UpdatePassword changes the password after local checks.
func (h *Handler) UpdatePassword(c *gin.Context) {
	var req PasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.account.UpdatePassword(c.Request.Context(), mustToken(c), req.OldPassword, req.NewPassword, req.ConfirmPassword)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DeleteAccount deletes the account and signs out.
func (h *Handler) DeleteAccount(c *gin.Context) {
	if err := h.account.DeleteAccount(c.Request.Context(), mustToken(c)); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ─────────────────────────────────────────────
// GET /api/v1/history
// ─────────────────────────────────────────────

// History returns recent submissions and aggregate stats.
func (h *Handler) History(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	ctx := c.Request.Context()

	entries, err := h.history.Recent(ctx, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
		return
	}
	stats, err := h.history.Stats(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"entries": entries, "stats": stats})
}
