package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/daybook/daybook/backend/go-services/internal/models"
	"github.com/daybook/daybook/backend/go-services/internal/sessions"
	"github.com/daybook/daybook/backend/go-services/internal/users"
)

// SessionCookie is the cookie carrying the opaque session token.
const SessionCookie = "daybook_session"

// context key for the authenticated user's ID
const ctxUserID = "userID"

// SessionResolver is the minimal interface the middleware depends on
type SessionResolver interface {
	Resolve(ctx context.Context, token string) (*sessions.Session, error)
}

// Authorizer checks a user's role; satisfied by *users.Service
type Authorizer interface {
	Authorize(ctx context.Context, id string, required models.Role) error
}

// ExtractToken pulls the session token from the cookie or, as a fallback,
// from an 'Authorization: Bearer <token>' header.
func ExtractToken(c *gin.Context) string {
	if tok, err := c.Cookie(SessionCookie); err == nil && tok != "" {
		return tok
	}
	auth := c.GetHeader("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// SessionAuth returns a Gin middleware that resolves the request's session
// token to a user ID. Unauthenticated requests are rejected at this boundary
// and never reach feature handlers.
func SessionAuth(resolver SessionResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := ExtractToken(c)
		if tok == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		sess, err := resolver.Resolve(c.Request.Context(), tok)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session lookup failed"})
			return
		}
		if sess == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired session"})
			return
		}
		c.Set(ctxUserID, sess.UserID)
		c.Next()
	}
}

// RequireRole returns a middleware enforcing an exact role match for the
// authenticated user. Must run after SessionAuth.
func RequireRole(authz Authorizer, required models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := CurrentUserID(c)
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		if err := authz.Authorize(c.Request.Context(), userID, required); err != nil {
			switch {
			case errors.Is(err, users.ErrUnauthenticated):
				// valid session but no user record: a trust violation, not a
				// role failure
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			case errors.Is(err, users.ErrForbidden):
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient permissions"})
			default:
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "authorization check failed"})
			}
			return
		}
		c.Next()
	}
}

// CurrentUserID returns the authenticated user's ID set by SessionAuth,
// or "" when the request is unauthenticated.
func CurrentUserID(c *gin.Context) string {
	return c.GetString(ctxUserID)
}
