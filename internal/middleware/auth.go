package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/leaguechat/internal/auth"
	"github.com/lalith-99/leaguechat/internal/models"
)

// Context keys for storing claims in gin.Context.
const (
	ContextKeyUserID = "user_id"
	ContextKeyRole   = "role"
)

// AuthMiddleware validates the JWT and stores its claims on the context.
//
// The token is read from "Authorization: Bearer <token>". Browsers cannot
// set headers on a websocket upgrade, so a "token" query parameter is
// accepted as well.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing or malformed authorization, expected: Bearer <token>",
			})
			return
		}

		claims, err := auth.ParseToken(tokenString, secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid or expired token",
			})
			return
		}

		c.Set(ContextKeyUserID, claims.UserID)
		c.Set(ContextKeyRole, claims.Role)

		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		token := c.Query("token")
		return token, token != ""
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// GetUserID returns uuid.Nil when the middleware did not run.
func GetUserID(c *gin.Context) uuid.UUID {
	val, exists := c.Get(ContextKeyUserID)
	if !exists {
		return uuid.Nil
	}
	id, ok := val.(uuid.UUID)
	if !ok {
		return uuid.Nil
	}
	return id
}

// GetRole returns the empty role when the middleware did not run.
func GetRole(c *gin.Context) models.Role {
	val, exists := c.Get(ContextKeyRole)
	if !exists {
		return ""
	}
	role, ok := val.(models.Role)
	if !ok {
		return ""
	}
	return role
}
