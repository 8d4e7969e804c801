package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/use-agent/leadharvest/models"
)

var (
	SerpPagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadharvest_serp_pages_total",
			Help: "Search result pages parsed, by engine",
		},
		[]string{"engine"},
	)

	SerpStopsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadharvest_serp_stops_total",
			Help: "Search collections finished, by engine and stop reason",
		},
		[]string{"engine", "reason"},
	)

	ExtractionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadharvest_extractions_total",
			Help: "Page extractions finished, by status",
		},
		[]string{"status"},
	)

	ExtractionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leadharvest_extraction_duration_seconds",
			Help:    "Duration of page extractions in seconds",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"status"},
	)

	VisionCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadharvest_vision_calls_total",
			Help: "Vision fallback calls, by outcome",
		},
		[]string{"outcome"},
	)

	RunsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "leadharvest_runs_active",
			Help: "Harvest runs currently in progress",
		},
	)
)

// RecordExtraction updates the extraction metrics for a finished record.
func RecordExtraction(rec *models.PageExtractionRecord) {
	if rec == nil {
		return
	}
	status := string(rec.Status)
	ExtractionsTotal.WithLabelValues(status).Inc()
	ExtractionDuration.WithLabelValues(status).Observe(float64(rec.DurationMs) / 1000)
}
