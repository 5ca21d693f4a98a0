package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/perimeterd/perimeter/internal/auth"
	"github.com/perimeterd/perimeter/internal/enforce"
)

// sessionFrom pulls the session the enforcement pipeline stored in context.
func sessionFrom(c *gin.Context) auth.Session {
	if v, ok := c.Get(enforce.ContextSession); ok {
		if s, ok := v.(auth.Session); ok {
			return s
		}
	}
	return auth.Session{}
}

// RequireAuth rejects unauthenticated requests.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !sessionFrom(c).Authenticated {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		c.Next()
	}
}

// RequireAdmin rejects requests without the admin role. The perimeter
// already answers 404 for unauthenticated probes on admin paths; this is
// the handler-level check behind it.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !sessionFrom(c).IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin role required"})
			return
		}
		c.Next()
	}
}
