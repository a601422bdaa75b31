package handlers

import (
	"net/http"

	"github.com/alt-f6/znaniya-boost-bot/internal/cache"

	"github.com/gin-gonic/gin"
)

type CacheHandler struct {
	Cache *cache.MultiLevelCache
}

func NewCacheHandler(c *cache.MultiLevelCache) *CacheHandler {
	return &CacheHandler{Cache: c}
}

// GetCacheStats returns list cache statistics
// GET /cache/stats
func (h *CacheHandler) GetCacheStats(c *gin.Context) {
	if h.Cache == nil {
		c.JSON(http.StatusOK, gin.H{"status": "unavailable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"cache": h.Cache.Stats()})
}

// GetCacheHealth reports whether both cache levels answer
// GET /cache/health
func (h *CacheHandler) GetCacheHealth(c *gin.Context) {
	if h.Cache == nil {
		c.JSON(http.StatusOK, gin.H{"status": "unavailable", "healthy": false})
		return
	}

	if err := h.Cache.Health(); err != nil {
		c.JSON(http.StatusOK, gin.H{
			"status":  "degraded",
			"healthy": false,
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "healthy", "healthy": true})
}
