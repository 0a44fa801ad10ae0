package cache

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"spin-reward-engine/internal/models"
)

// GoldenHourSource loads an event's golden hours from the store.
type GoldenHourSource interface {
	ListGoldenHours(ctx context.Context, eventID string) ([]models.GoldenHour, error)
}

// Catalog is a read-through cache for golden hour schedules. Reward stock is
// never cached.
type Catalog struct {
	cache  Cache
	source GoldenHourSource
	ttl    time.Duration
	logger zerolog.Logger
}

func NewCatalog(c Cache, source GoldenHourSource, ttl time.Duration, logger zerolog.Logger) *Catalog {
	return &Catalog{cache: c, source: source, ttl: ttl, logger: logger}
}

func goldenHoursKey(eventID string) string {
	return "golden_hours:" + eventID
}

// ListGoldenHours returns the cached schedule, loading it on a miss. A broken
// cache falls back to the store and is logged, never returned.
func (c *Catalog) ListGoldenHours(ctx context.Context, eventID string) ([]models.GoldenHour, error) {
	key := goldenHoursKey(eventID)

	var hours []models.GoldenHour
	err := GetJSON(ctx, c.cache, key, &hours)
	if err == nil {
		return hours, nil
	}

	hours, loadErr := c.source.ListGoldenHours(ctx, eventID)
	if loadErr != nil {
		return nil, loadErr
	}
	if !errors.Is(err, ErrNotFound) {
		c.logger.Warn().Err(err).Str("event_id", eventID).Msg("golden hour cache read failed")
		return hours, nil
	}
	if err := SetJSON(ctx, c.cache, key, hours, c.ttl); err != nil {
		c.logger.Warn().Err(err).Str("event_id", eventID).Msg("golden hour cache write failed")
	}
	return hours, nil
}

// Invalidate drops an event's cached schedule.
func (c *Catalog) Invalidate(ctx context.Context, eventID string) error {
	return c.cache.Delete(ctx, goldenHoursKey(eventID))
}
