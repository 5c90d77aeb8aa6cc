package gateway

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type SignupRequest struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// CurrentSession returns the auth state, refreshing tokens when needed.
func (h *Handler) CurrentSession(c *gin.Context) {
	c.JSON(http.StatusOK, h.sess.Current(c.Request.Context()))
}

// Login signs in with email and password.
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	auth, err := h.sess.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, auth)
}

// Signup creates an account and signs it in.
func (h *Handler) Signup(c *gin.Context) {
	var req SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	auth, err := h.sess.Signup(c.Request.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, auth)
}

// Logout signs out. Revocation failures are not reported.
func (h *Handler) Logout(c *gin.Context) {
	h.sess.Logout(c.Request.Context())
	c.Status(http.StatusNoContent)
}
