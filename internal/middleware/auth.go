package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/contentforge/core/internal/pkg/jwt"
	"github.com/contentforge/core/internal/pkg/response"
)

// ContextKeyUser is the gin context key the authenticated principal is set
// under; handlers read it for change attribution.
const ContextKeyUser = "user"

// Auth returns a middleware that enforces JWT authentication.
func Auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := jwt.Parse(extractToken(c))
		if err != nil {
			response.Unauthorized(c)
			return
		}
		c.Set(ContextKeyUser, claims.User)
		c.Next()
	}
}

// CurrentUser extracts the authenticated principal from context.
func CurrentUser(c *gin.Context) string {
	return c.GetString(ContextKeyUser)
}

func extractToken(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); auth != "" {
		return NormalizeToken(auth)
	}
	return NormalizeToken(c.Query("token"))
}

// NormalizeToken trims spaces and strips an optional Bearer prefix.
func NormalizeToken(raw string) string {
	token := strings.TrimSpace(raw)
	if strings.HasPrefix(strings.ToLower(token), "bearer ") {
		return strings.TrimSpace(token[7:])
	}
	return token
}
