package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/leadharvest/harvest"
	"github.com/use-agent/leadharvest/models"
)

// Search returns a handler for POST /api/v1/search. It runs only the
// search collector and returns the discovered entries.
func Search(search harvest.Searcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		var req models.SearchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		req.Defaults()

		coll, err := search.Collect(c.Request.Context(), req.Query, req.TargetCount)
		if err != nil {
			he := asHarvestError(err)
			c.JSON(mapErrorToStatus(he), models.SearchResponse{
				Error:  he.ToDetail(),
				Timing: models.TimingInfo{TotalMs: time.Since(start).Milliseconds()},
			})
			return
		}

		results := coll.Entries
		if results == nil {
			results = []models.SearchResultEntry{}
		}
		c.JSON(http.StatusOK, models.SearchResponse{
			Success:      true,
			Results:      results,
			PagesScraped: coll.PagesScraped,
			StopReason:   coll.StopReason,
			Timing:       models.TimingInfo{TotalMs: time.Since(start).Milliseconds()},
		})
	}
}
