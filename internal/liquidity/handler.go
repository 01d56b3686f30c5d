package liquidity

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler exposes read-only position views.
type Handler struct {
	manager *Manager
}

func NewHandler(manager *Manager) *Handler {
	return &Handler{manager: manager}
}

func (h *Handler) GetUserPositions(c *gin.Context) {
	address := c.Param("address")
	if address == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "address required"})
		return
	}

	positions, err := h.manager.GetUserPositions(c.Request.Context(), address)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, positions)
}

func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/users/:address/positions", h.GetUserPositions)
}
