package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/leadharvest/models"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// BrowserStatus reports on the shared browser.
type BrowserStatus interface {
	OpenSessions() int
	Uptime() time.Duration
}

// Health returns a handler for GET /api/v1/health.
//
// Reports "degraded" while more sessions are open than maxSessions.
func Health(sc BrowserStatus, jobs *JobStore, maxSessions int, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		open := sc.OpenSessions()

		status := "healthy"
		if maxSessions > 0 && open > maxSessions {
			status = "degraded"
		}

		c.JSON(http.StatusOK, models.HealthResponse{
			Status:     status,
			Uptime:        time.Since(startTime).Round(time.Second).String(),
			BrowserUptime: sc.Uptime().Round(time.Second).String(),
			ActiveRuns:    jobs.Running(),
			Sessions:      open,
			Version:       Version,
		})
	}
}
