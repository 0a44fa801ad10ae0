package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"spin-reward-engine/internal/database"
	"spin-reward-engine/internal/features"
	"spin-reward-engine/internal/inventory"
	"spin-reward-engine/internal/models"
	"spin-reward-engine/internal/service"
	"spin-reward-engine/internal/validation"
)

// Handler provides HTTP handlers for the API.
type Handler struct {
	engine      *service.Engine
	features    *features.Manager
	logger      zerolog.Logger
	maxBodySize int64
	maxSkew     time.Duration
	now         func() time.Time
}

// NewHandlerOptions holds options for creating a handler.
type NewHandlerOptions struct {
	MaxBodySize int64
	// MaxClockSkew bounds how far a caller-supplied requested_at may be from
	// the server clock.
	MaxClockSkew time.Duration
	Features     *features.Manager
	Logger       zerolog.Logger
}

// DefaultHandlerOptions returns default handler options.
func DefaultHandlerOptions() NewHandlerOptions {
	return NewHandlerOptions{
		MaxBodySize:  1 << 20,
		MaxClockSkew: time.Minute,
		Logger:       zerolog.Nop(),
	}
}

// NewHandler creates a new handler instance.
func NewHandler(engine *service.Engine) *Handler {
	return NewHandlerWithOptions(engine, DefaultHandlerOptions())
}

// NewHandlerWithOptions creates a new handler instance with custom options.
func NewHandlerWithOptions(engine *service.Engine, opts NewHandlerOptions) *Handler {
	return &Handler{
		engine:      engine,
		features:    opts.Features,
		logger:      opts.Logger,
		maxBodySize: opts.MaxBodySize,
		maxSkew:     opts.MaxClockSkew,
		now:         time.Now,
	}
}

// Routes mounts every endpoint on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/spins", func(r chi.Router) {
		r.Post("/", h.Spin)
		r.Post("/{history_id}/claim", h.Claim)
	})

	r.Route("/participants", func(r chi.Router) {
		r.Get("/{participant_id}/spin-stats", h.GetSpinStats)
		r.Get("/{participant_id}/spins", h.ListSpins)
	})

	if h.features != nil {
		r.Get("/features", h.ListFeatures)
		r.Put("/features/{name}", h.SetFeature)
	}

	r.Get("/health", h.Health)
}

type spinRequest struct {
	EventID       string `json:"event_id"`
	ParticipantID string `json:"participant_id"`
	LocationID    string `json:"location_id,omitempty"`
	RequestedAt   string `json:"requested_at,omitempty"`
}

// Spin handles POST /spins
func (h *Handler) Spin(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	var body spinRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		if errors.Is(err, io.EOF) {
			h.respondError(w, http.StatusBadRequest, "request body is required")
			return
		}
		h.respondError(w, http.StatusBadRequest, "invalid JSON in request body")
		return
	}

	requestedAt, err := validation.ValidateTimeString(validation.SanitizeString(body.RequestedAt), "requested_at")
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !requestedAt.IsZero() && h.maxSkew > 0 {
		if skew := h.now().Sub(requestedAt); skew > h.maxSkew || skew < -h.maxSkew {
			h.respondError(w, http.StatusBadRequest, "requested_at is too far from server time")
			return
		}
	}

	req := models.SpinRequest{
		EventID:       body.EventID,
		ParticipantID: body.ParticipantID,
		LocationID:    body.LocationID,
		RequestedAt:   requestedAt,
	}

	result, err := h.engine.Spin(r.Context(), req)
	if err != nil {
		var verr *validation.ValidationError
		switch {
		case errors.As(err, &verr):
			h.respondError(w, http.StatusBadRequest, verr.Error())
		case errors.Is(err, inventory.ErrInvariantViolation):
			h.respondError(w, http.StatusInternalServerError, "internal error")
		default:
			h.respondJSON(w, http.StatusServiceUnavailable, result)
		}
		return
	}

	h.respondJSON(w, http.StatusOK, result)
}

// GetSpinStats handles GET /participants/{participant_id}/spin-stats
func (h *Handler) GetSpinStats(w http.ResponseWriter, r *http.Request) {
	participantID := validation.SanitizeString(chi.URLParam(r, "participant_id"))

	now := h.now().UTC()
	if nowParam := r.URL.Query().Get("now"); nowParam != "" {
		parsed, err := validation.ValidateTimeString(validation.SanitizeString(nowParam), "now")
		if err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid 'now' parameter, must be RFC3339 format")
			return
		}
		now = parsed.UTC()
	}

	stats, err := h.engine.Stats(r.Context(), participantID, now)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, stats)
}

// ListSpins handles GET /participants/{participant_id}/spins
func (h *Handler) ListSpins(w http.ResponseWriter, r *http.Request) {
	participantID := validation.SanitizeString(chi.URLParam(r, "participant_id"))

	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			h.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	spins, err := h.engine.History(r.Context(), participantID, limit)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	if spins == nil {
		spins = []models.SpinHistory{}
	}

	h.respondJSON(w, http.StatusOK, spins)
}

// Claim handles POST /spins/{history_id}/claim
func (h *Handler) Claim(w http.ResponseWriter, r *http.Request) {
	historyID := chi.URLParam(r, "history_id")

	if err := h.engine.Claim(r.Context(), historyID); err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]any{"history_id": historyID, "claimed": true})
}

// ListFeatures handles GET /features
func (h *Handler) ListFeatures(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.features.List())
}

// SetFeature handles PUT /features/{name}
func (h *Handler) SetFeature(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	var body struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Enabled == nil {
		h.respondError(w, http.StatusBadRequest, "body must be {\"enabled\": true|false}")
		return
	}

	name := chi.URLParam(r, "name")
	if !h.features.Set(name, *body.Enabled) {
		h.respondError(w, http.StatusNotFound, "unknown feature "+name)
		return
	}
	h.logger.Info().Str("feature", name).Bool("enabled", *body.Enabled).Msg("feature flag changed")

	h.respondJSON(w, http.StatusOK, features.FeatureFlag{Name: name, Enabled: *body.Enabled})
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Ping(r.Context()); err != nil {
		h.logger.Error().Err(err).Msg("health check failed")
		h.respondError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	var verr *validation.ValidationError
	switch {
	case errors.As(err, &verr):
		h.respondError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, database.ErrNotFound):
		h.respondError(w, http.StatusNotFound, "not found")
	default:
		h.logger.Error().Err(err).Msg("request failed")
		h.respondError(w, http.StatusInternalServerError, "internal error")
	}
}

// respondJSON sends a JSON response with the given status code.
func (h *Handler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response with the given status code and message.
func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, models.ErrorResponse{Error: message})
}
