package service

import (
	"context"
	"fmt"

	"spin-reward-engine/internal/database"
	"spin-reward-engine/internal/models"
	"spin-reward-engine/internal/validation"
)

// maxCatalogRecords caps each section of a catalog load.
const maxCatalogRecords = 10000

// LoadCatalog validates every record and then upserts them, parents first,
// in one transaction. Nothing is written when any record is invalid or any
// write fails. A capped event without an
// explicit remaining budget starts with its full budget, and a location
// without a multiplier gets 1.0.
func (e *Engine) LoadCatalog(ctx context.Context, c models.Catalog) (models.CatalogSummary, error) {
	if err := validateCatalog(&c); err != nil {
		return models.CatalogSummary{}, err
	}

	var sum models.CatalogSummary
	touched := map[string]bool{}
	err := e.db.WithCatalogTx(ctx, func(tx *database.CatalogTx) error {
		for _, ev := range c.Events {
			if err := tx.UpsertEvent(ctx, ev); err != nil {
				return err
			}
			sum.Events++
		}
		for _, l := range c.Locations {
			if err := tx.UpsertLocation(ctx, l); err != nil {
				return err
			}
			sum.Locations++
		}
		for _, p := range c.Participants {
			if err := tx.UpsertParticipant(ctx, p); err != nil {
				return err
			}
			sum.Participants++
		}
		for _, r := range c.Rewards {
			if err := tx.UpsertReward(ctx, r); err != nil {
				return err
			}
			sum.Rewards++
		}
		for _, g := range c.GoldenHours {
			if err := tx.UpsertGoldenHour(ctx, g); err != nil {
				return err
			}
			touched[g.EventID] = true
			sum.GoldenHours++
		}
		return nil
	})
	if err != nil {
		return models.CatalogSummary{}, err
	}

	if e.catalog != nil {
		for eventID := range touched {
			if err := e.catalog.Invalidate(ctx, eventID); err != nil {
				e.logger.Warn().Err(err).Str("event_id", eventID).Msg("failed to invalidate golden hour cache")
			}
		}
	}

	e.logger.Info().
		Int("events", sum.Events).
		Int("locations", sum.Locations).
		Int("participants", sum.Participants).
		Int("rewards", sum.Rewards).
		Int("golden_hours", sum.GoldenHours).
		Msg("catalog loaded")
	return sum, nil
}

func validateCatalog(c *models.Catalog) error {
	for name, n := range map[string]int{
		"events":       len(c.Events),
		"locations":    len(c.Locations),
		"participants": len(c.Participants),
		"rewards":      len(c.Rewards),
		"golden_hours": len(c.GoldenHours),
	} {
		if n > maxCatalogRecords {
			return fmt.Errorf("cannot load more than %d %s at once", maxCatalogRecords, name)
		}
	}

	for i := range c.Events {
		ev := &c.Events[i]
		if ev.TotalSpins != nil && ev.RemainingSpins == nil {
			remaining := *ev.TotalSpins
			ev.RemainingSpins = &remaining
		}
		if err := validation.ValidateEvent(*ev); err != nil {
			return fmt.Errorf("invalid event at index %d: %w", i, err)
		}
	}
	for i := range c.Locations {
		l := &c.Locations[i]
		if l.WinProbabilityMultiplier == 0 {
			l.WinProbabilityMultiplier = 1
		}
		if err := validation.ValidateLocation(*l); err != nil {
			return fmt.Errorf("invalid location at index %d: %w", i, err)
		}
	}
	for i, p := range c.Participants {
		if err := validation.ValidateParticipant(p); err != nil {
			return fmt.Errorf("invalid participant at index %d: %w", i, err)
		}
	}
	for i, r := range c.Rewards {
		if err := validation.ValidateReward(r); err != nil {
			return fmt.Errorf("invalid reward at index %d: %w", i, err)
		}
	}
	for i, g := range c.GoldenHours {
		if err := validation.ValidateGoldenHour(g); err != nil {
			return fmt.Errorf("invalid golden hour at index %d: %w", i, err)
		}
	}
	return nil
}
