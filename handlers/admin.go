package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/daybook/daybook/backend/go-services/internal/models"
	"github.com/daybook/daybook/backend/go-services/internal/users"
	"github.com/daybook/daybook/backend/go-services/pkg/middleware"
)

// AdminHandler exposes the privileged administrative surface
type AdminHandler struct {
	usersSvc *users.Service
	resolver middleware.SessionResolver
}

func NewAdminHandler(u *users.Service, resolver middleware.SessionResolver) *AdminHandler {
	return &AdminHandler{usersSvc: u, resolver: resolver}
}

// Register routes under /api/v1/admin; every route goes through the same
// session + role guard chain.
func (h *AdminHandler) Register(rg *gin.RouterGroup) {
	a := rg.Group("/api/v1/admin",
		middleware.SessionAuth(h.resolver),
		middleware.RequireRole(h.usersSvc, models.RoleAdmin),
	)
	a.GET("/users", h.ListUsers)
}

// ListUsers returns all registered users
func (h *AdminHandler) ListUsers(c *gin.Context) {
	list, err := h.usersSvc.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "user listing failed"})
		return
	}
	if list == nil {
		list = []*models.User{}
	}
	c.JSON(http.StatusOK, gin.H{"users": list})
}
