package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vzahanych/view-guard-meta/edge/livedetect/internal/service"
)

// handleHealth handles the health check endpoint
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "web-server",
	})
}

// handleStatus handles the system status endpoint
func (s *Server) handleStatus(c *gin.Context) {
	uptime := time.Since(s.startTime)

	health := "healthy"
	if s.GetStatus().GetStatus() != service.StatusRunning {
		health = "unhealthy"
	}

	response := gin.H{
		"status":         health,
		"uptime":         uptime.String(),
		"uptime_seconds": int64(uptime.Seconds()),
		"version":        s.version,
		"timestamp":      time.Now().Format(time.RFC3339),
	}
	if s.session != nil {
		snap := s.session.Snapshot()
		response["generation"] = snap.Generation
		response["paused"] = snap.Paused
	}

	c.JSON(http.StatusOK, response)
}

// handleListModels returns the selectable models and backends
func (s *Server) handleListModels(c *gin.Context) {
	if s.models == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Model catalog not available",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"models":   s.models.Models(),
		"backends": s.models.Backends(),
	})
}

// handleListCameras returns the configured sources and known devices
func (s *Server) handleListCameras(c *gin.Context) {
	if s.cameras == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Camera provider not available",
		})
		return
	}

	devices := s.cameras.Devices(false)
	c.JSON(http.StatusOK, gin.H{
		"sources": s.cameras.Status(),
		"devices": devices,
		"count":   len(devices),
	})
}

// handleDiscoverCameras runs a discovery pass and returns the devices found
func (s *Server) handleDiscoverCameras(c *gin.Context) {
	if s.cameras == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Camera provider not available",
		})
		return
	}

	devices := s.cameras.Devices(true)
	c.JSON(http.StatusOK, gin.H{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleHistory lists recent reconfiguration attempts
func (s *Server) handleHistory(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "History not available",
		})
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "limit must be between 1 and 1000",
			})
			return
		}
		limit = n
	}

	entries, err := s.history.ListHistory(c.Request.Context(), limit)
	if err != nil {
		s.LogError("Failed to list history", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list history: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"history": entries,
		"count":   len(entries),
	})
}
