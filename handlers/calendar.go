package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/daybook/daybook/backend/go-services/internal/calendar"
	"github.com/daybook/daybook/backend/go-services/internal/calendartokens"
	"github.com/daybook/daybook/backend/go-services/internal/config"
	"github.com/daybook/daybook/backend/go-services/internal/oauth"
	"github.com/daybook/daybook/backend/go-services/pkg/logger"
	"github.com/daybook/daybook/backend/go-services/pkg/metrics"
	"github.com/daybook/daybook/backend/go-services/pkg/middleware"
)

// Connector is the slice of the OAuth connector the handlers depend on
type Connector interface {
	Configured() bool
	BuildAuthorizationURL(ctx context.Context, userID string) (string, error)
	ExchangeCode(ctx context.Context, code, state string) (*oauth.Grant, error)
}

// EventLister lists upcoming events for an access token
type EventLister interface {
	UpcomingEvents(ctx context.Context, accessToken, calendarID string, max int64) ([]calendar.Event, error)
}

// CalendarHandler wires the calendar connection flow and its consumers
type CalendarHandler struct {
	cfg       *config.Config
	connector Connector
	manager   *calendartokens.Manager
	events    EventLister
	resolver  middleware.SessionResolver
}

func NewCalendarHandler(cfg *config.Config, conn Connector, m *calendartokens.Manager, ev EventLister, resolver middleware.SessionResolver) *CalendarHandler {
	return &CalendarHandler{cfg: cfg, connector: conn, manager: m, events: ev, resolver: resolver}
}

// Register routes under /auth/calendar and /api/v1/calendar
func (h *CalendarHandler) Register(rg *gin.RouterGroup) {
	auth := middleware.SessionAuth(h.resolver)

	a := rg.Group("/auth/calendar")
	a.GET("/connect", auth, h.Connect)
	a.GET("/callback", h.Callback)
	a.GET("/status", auth, h.Status)
	a.DELETE("", auth, h.Disconnect)

	api := rg.Group("/api/v1/calendar")
	api.GET("/events", auth, h.Events)
}

// Connect returns the provider consent URL for the signed-in user
func (h *CalendarHandler) Connect(c *gin.Context) {
	if !h.connector.Configured() {
		// never leak provider configuration details to the client
		logger.Error("calendar connect requested but the provider client is not configured")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "calendar integration unavailable"})
		return
	}
	url, err := h.connector.BuildAuthorizationURL(c.Request.Context(), middleware.CurrentUserID(c))
	if err != nil {
		logger.Errorf("failed to build authorization URL: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "calendar integration unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

// Callback is the provider redirect target. It never renders provider error
// text; the browser always ends up on the settings page.
func (h *CalendarHandler) Callback(c *gin.Context) {
	code := c.Query("code")
	state := c.Query("state")
	if code == "" || state == "" {
		h.redirectError(c)
		return
	}

	g, err := h.connector.ExchangeCode(c.Request.Context(), code, state)
	if err != nil {
		if errors.Is(err, oauth.ErrStateMismatch) {
			// possibly forged or replayed callback
			logger.Warnf("calendar callback state mismatch from %s", c.ClientIP())
			metrics.OAuthExchange.WithLabelValues("state_mismatch").Inc()
		} else {
			logger.Errorf("calendar code exchange failed: %v", err)
			metrics.OAuthExchange.WithLabelValues("provider_error").Inc()
		}
		h.redirectError(c)
		return
	}

	if err := h.manager.Connect(c.Request.Context(), g); err != nil {
		logger.Errorf("failed to persist calendar connection for user %s: %v", g.UserID, err)
		metrics.OAuthExchange.WithLabelValues("provider_error").Inc()
		h.redirectError(c)
		return
	}

	metrics.OAuthExchange.WithLabelValues("success").Inc()
	logger.Infof("calendar connected for user %s", g.UserID)
	c.Redirect(http.StatusFound, h.cfg.Server.FrontendURL+"/settings/calendar?connected=1")
}

// Status reports whether the user has a calendar connection. Cheap local
// read; no provider call.
func (h *CalendarHandler) Status(c *gin.Context) {
	connected, calendarID, err := h.manager.Status(c.Request.Context(), middleware.CurrentUserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "status lookup failed"})
		return
	}
	var calID interface{}
	if calendarID != "" {
		calID = calendarID
	}
	c.JSON(http.StatusOK, gin.H{"connected": connected, "calendarId": calID})
}

// Disconnect removes the stored calendar credential
func (h *CalendarHandler) Disconnect(c *gin.Context) {
	if err := h.manager.Disconnect(c.Request.Context(), middleware.CurrentUserID(c)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "disconnect failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

// Events lists the user's upcoming events through the lifecycle manager
func (h *CalendarHandler) Events(c *gin.Context) {
	userID := middleware.CurrentUserID(c)
	tok, err := h.manager.GetValidAccessToken(c.Request.Context(), userID)
	if err != nil {
		switch {
		case errors.Is(err, calendartokens.ErrNotConnected), errors.Is(err, calendartokens.ErrReauthRequired):
			c.JSON(http.StatusPreconditionFailed, gin.H{"error": "calendar_not_connected"})
		case oauth.IsTransient(err):
			c.Header("Retry-After", "5")
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "calendar temporarily unavailable"})
		default:
			logger.Errorf("failed to obtain access token for user %s: %v", userID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "calendar access failed"})
		}
		return
	}

	_, calendarID, err := h.manager.Status(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "calendar access failed"})
		return
	}

	events, err := h.events.UpcomingEvents(c.Request.Context(), tok, calendarID, 10)
	if err != nil {
		logger.Errorf("failed to list events for user %s: %v", userID, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "calendar provider error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (h *CalendarHandler) redirectError(c *gin.Context) {
	c.Redirect(http.StatusFound, h.cfg.Server.FrontendURL+"/settings/calendar?error=connection_failed")
}
