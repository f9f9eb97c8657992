// Package metrics holds the Prometheus collectors of the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Upstream sources reported by UpstreamFallbacks.
const (
	SourcePrice    = "price"
	SourceIdentity = "identity"
	SourceEarnings = "earnings"
	SourceImage    = "image"
)

var (
	CardsRendered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moxie_cards_rendered_total",
			Help: "Total number of card images rendered",
		},
		[]string{"status"},
	)

	RenderDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "moxie_card_render_duration_seconds",
			Help:    "Duration of card rendering, including image downloads",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 4, 8},
		},
		[]string{"status"},
	)

	UpstreamFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moxie_upstream_fallbacks_total",
			Help: "Total number of upstream failures replaced by fallback values",
		},
		[]string{"source"},
	)

	FrameScreens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moxie_frame_screens_total",
			Help: "Total number of frame screens served",
		},
		[]string{"screen", "method"},
	)

	ReputationUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moxie_reputation_updates_total",
			Help: "Total number of reputation updates ingested",
		},
		[]string{"status"},
	)
)
