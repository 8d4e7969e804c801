package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/leadharvest/cache"
	"github.com/use-agent/leadharvest/harvest"
	"github.com/use-agent/leadharvest/models"
)

// Extract returns a handler for POST /api/v1/extract. A classified
// failure is still a successful request; only an unusable browser is an
// error. With max_age_ms set, a recent successful record is served from cc.
func Extract(ext harvest.PageExtractor, cc *cache.Cache, textFormat string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		var req models.ExtractRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}

		key := cache.Key(req.URL, textFormat)
		if rec, ok := cc.Get(key, time.Duration(req.MaxAgeMs)*time.Millisecond); ok {
			rec.SearchResult = req.Entry()
			c.JSON(http.StatusOK, models.ExtractResponse{
				Success: true,
				Record:  rec,
				Cached:  true,
				Timing:  models.TimingInfo{TotalMs: time.Since(start).Milliseconds()},
			})
			return
		}

		rec, err := ext.Extract(c.Request.Context(), req.URL, req.Entry())
		timing := models.TimingInfo{TotalMs: time.Since(start).Milliseconds()}
		if err != nil {
			he := asHarvestError(err)
			c.JSON(mapErrorToStatus(he), models.ExtractResponse{Error: he.ToDetail(), Timing: timing})
			return
		}
		cc.Set(key, rec)

		c.JSON(http.StatusOK, models.ExtractResponse{
			Success: true,
			Record:  rec,
			Timing:  timing,
		})
	}
}
