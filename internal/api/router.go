package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/leaguechat/internal/middleware"
	"go.uber.org/zap"
)

// HealthFunc reports whether the backing store is reachable.
type HealthFunc func(ctx context.Context) error

type Handlers struct {
	Auth     *AuthHandler
	Users    *UserHandler
	Sessions *SessionHandler
}

// NewRouter registers every route. Health and login are public; everything
// else under /v1 requires a valid JWT.
func NewRouter(h Handlers, jwtSecret string, health HealthFunc, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))

	r.GET("/v1/health", func(c *gin.Context) {
		if health != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := health(ctx); err != nil {
				logger.Warn("health check failed", zap.Error(err))
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.POST("/v1/auth/login", h.Auth.Login)

	v1 := r.Group("/v1")
	v1.Use(middleware.AuthMiddleware(jwtSecret))
	v1.GET("/users/me", h.Users.GetMe)
	v1.GET("/navigation", h.Users.Navigation)
	v1.GET("/session", h.Sessions.Connect)

	return r
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
