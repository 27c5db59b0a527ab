package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/leaguechat/internal/middleware"
	"github.com/lalith-99/leaguechat/internal/navigation"
	"github.com/lalith-99/leaguechat/internal/repository"
	"go.uber.org/zap"
)

// UserHandler serves the signed-in user's profile and navigation.
type UserHandler struct {
	repo   repository.UserRepository
	menu   *navigation.Menu
	logger *zap.Logger
}

func NewUserHandler(repo repository.UserRepository, menu *navigation.Menu, logger *zap.Logger) *UserHandler {
	return &UserHandler{repo: repo, menu: menu, logger: logger}
}

// GetMe handles GET /v1/users/me
func (h *UserHandler) GetMe(c *gin.Context) {
	userID := middleware.GetUserID(c)

	user, err := h.repo.GetByID(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to get user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get user"})
		return
	}
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	c.JSON(http.StatusOK, user)
}

// Navigation handles GET /v1/navigation
//
// The role comes from the token, so the tab list follows whatever role the
// user signed in with.
func (h *UserHandler) Navigation(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"role": middleware.GetRole(c),
		"tabs": h.menu.VisibleTabs(middleware.GetRole(c)),
	})
}
