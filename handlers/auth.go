package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/daybook/daybook/backend/go-services/internal/config"
	"github.com/daybook/daybook/backend/go-services/internal/sessions"
	"github.com/daybook/daybook/backend/go-services/internal/users"
	"github.com/daybook/daybook/backend/go-services/pkg/logger"
	"github.com/daybook/daybook/backend/go-services/pkg/middleware"
)

// LoginRequest carries the sign-in credentials
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// AuthHandler holds dependencies for session endpoints
type AuthHandler struct {
	cfg         *config.Config
	usersSvc    *users.Service
	sessionsSvc *sessions.Service
}

func NewAuthHandler(cfg *config.Config, u *users.Service, s *sessions.Service) *AuthHandler {
	return &AuthHandler{cfg: cfg, usersSvc: u, sessionsSvc: s}
}

// Register routes under /auth
func (h *AuthHandler) Register(rg *gin.RouterGroup) {
	a := rg.Group("/auth")
	a.POST("/login", h.Login)
	a.POST("/logout", h.Logout)
	a.GET("/me", middleware.SessionAuth(h.sessionsSvc), h.Me)
}

// Login verifies credentials and issues a session cookie
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	u, err := h.usersSvc.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if err == users.ErrInvalidCredentials {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		logger.Errorf("login failed for %s: %v", req.Email, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}

	tok, err := h.sessionsSvc.CreateSession(c.Request.Context(), u.ID, h.cfg.Auth.SessionTTL)
	if err != nil {
		logger.Errorf("failed to create session: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
		return
	}

	h.setSessionCookie(c, tok, int(h.cfg.Auth.SessionTTL.Seconds()))
	c.JSON(http.StatusOK, gin.H{"user": u})
}

// Logout destroys the current session
func (h *AuthHandler) Logout(c *gin.Context) {
	if tok := middleware.ExtractToken(c); tok != "" {
		if err := h.sessionsSvc.Delete(c.Request.Context(), tok); err != nil {
			logger.Warnf("failed to delete session: %v", err)
		}
	}
	h.setSessionCookie(c, "", -1)
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// Me returns the authenticated user
func (h *AuthHandler) Me(c *gin.Context) {
	u, err := h.usersSvc.GetByID(c.Request.Context(), middleware.CurrentUserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "user lookup failed"})
		return
	}
	if u == nil {
		// session valid but user record gone: treat as unauthenticated
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u})
}

func (h *AuthHandler) setSessionCookie(c *gin.Context, value string, maxAge int) {
	secure := h.cfg.Server.Environment == "production"
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.SessionCookie, value, maxAge, "/", "", secure, true)
}
