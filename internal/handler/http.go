// Package handler exposes the card, frame and price endpoints over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/moxie-stats/internal/domain"
	"github.com/moxie-stats/internal/service"
	"github.com/moxie-stats/internal/websocket"
)

// CardRenderer renders the card image of a query
type CardRenderer interface {
	RenderCard(ctx context.Context, q service.CardQuery) ([]byte, error)
}

// FrameBuilder builds frame screens and the landing page metadata
type FrameBuilder interface {
	Build(ctx context.Context, req service.FrameRequest) service.Frame
	Metadata(ctx context.Context, fid string) service.Metadata
}

// PriceSource returns the current price quote
type PriceSource interface {
	Quote(ctx context.Context) (domain.PriceQuote, error)
}

// Checker is a dependency probed by the readiness check
type Checker interface {
	Ping(ctx context.Context) error
}

// Handler provides the HTTP handlers of the service
type Handler struct {
	cards  CardRenderer
	frames FrameBuilder
	price  PriceSource
	hub    *websocket.Hub
	checks map[string]Checker
	log    zerolog.Logger
}

// NewHandler creates a new HTTP handler. hub may be nil, in which case the
// websocket endpoint is not routed.
func NewHandler(cards CardRenderer, frames FrameBuilder, price PriceSource, hub *websocket.Hub, log zerolog.Logger) *Handler {
	return &Handler{
		cards:  cards,
		frames: frames,
		price:  price,
		hub:    hub,
		checks: make(map[string]Checker),
		log:    log.With().Str("component", "http").Logger(),
	}
}

// AddReadinessCheck registers a dependency probed by /ready
func (h *Handler) AddReadinessCheck(name string, c Checker) {
	h.checks[name] = c
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.loggingMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))
	r.Use(middleware.Compress(5))

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/", h.LandingPage)
	r.Get("/frames", h.Frames)
	r.Post("/frames", h.Frames)

	r.Route("/api", func(r chi.Router) {
		r.Get("/og", h.CardImage)
		r.Get("/moxie-price", h.Price)
	})

	if h.hub != nil {
		r.Get("/ws", h.HandleWebSocket)
		r.Get("/ws/stats", h.GetWebSocketStats)
	}

	return r
}

// loggingMiddleware logs every request with its status and duration
func (h *Handler) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		h.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode response")
	}
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck pings every registered dependency
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	for name, c := range h.checks {
		if err := c.Ping(ctx); err != nil {
			h.log.Warn().Err(err).Str("dependency", name).Msg("Readiness check failed")
			h.writeError(w, http.StatusServiceUnavailable, fmt.Errorf("%s: %w", name, domain.ErrStoreUnavailable))
			return
		}
	}

	h.writeSuccess(w, map[string]string{"status": "ready"})
}

// Price returns the current token price. On failure the fallback quote is
// returned with a 500 status.
func (h *Handler) Price(w http.ResponseWriter, r *http.Request) {
	quote, err := h.price.Quote(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to fetch price")
		h.writeJSON(w, http.StatusInternalServerError, domain.FallbackPriceQuote())
		return
	}
	h.writeJSON(w, http.StatusOK, quote)
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.log, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]interface{}{
		"total_connections": h.hub.TotalConnections(),
	})
}
