package middlewares

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"marketplace-service/utils"
)

// AuthMiddleware requires a valid session token, read from the auth cookie or
// an Authorization bearer header, and stores userID and role on the context.
func AuthMiddleware(secret, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !authenticate(c, secret, cookieName) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			return
		}
		c.Next()
	}
}

// OptionalAuth sets the identity when a valid token is present and lets the
// request through either way.
func OptionalAuth(secret, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authenticate(c, secret, cookieName)
		c.Next()
	}
}

// RequireRole must run after AuthMiddleware.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString("role") != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Access denied"})
			return
		}
		c.Next()
	}
}

func authenticate(c *gin.Context, secret, cookieName string) bool {
	token := tokenFromRequest(c, cookieName)
	if token == "" {
		return false
	}
	claims, err := utils.ParseToken(token, secret)
	if err != nil {
		return false
	}
	c.Set("userID", claims.UserID)
	c.Set("role", claims.Role)
	return true
}

func tokenFromRequest(c *gin.Context, cookieName string) string {
	if cookie, err := c.Cookie(cookieName); err == nil && cookie != "" {
		return cookie
	}
	header := c.GetHeader("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}
