// Package probability turns candidate rewards into relative draw weights.
//
// effective = base probability × location multiplier × golden hour multiplier
//
// When several golden hours cover the same reward at once the multipliers are
// not multiplied together. StackMax keeps only the largest one.
package probability

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"spin-reward-engine/internal/models"
)

// StackingPolicy decides how simultaneously active golden hours combine.
type StackingPolicy string

const (
	// StackMax applies the largest active multiplier.
	StackMax StackingPolicy = "max"
	// StackDisabled ignores golden hours entirely.
	StackDisabled StackingPolicy = "disabled"
)

// ParseStackingPolicy parses a configured policy name.
func ParseStackingPolicy(s string) (StackingPolicy, error) {
	switch StackingPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", StackMax:
		return StackMax, nil
	case StackDisabled:
		return StackDisabled, nil
	default:
		return "", fmt.Errorf("unknown stacking policy %q", s)
	}
}

// Weight is the computed weight of one reward plus the factors behind it.
type Weight struct {
	RewardID             string  `json:"reward_id"`
	Base                 float64 `json:"base"`
	LocationMultiplier   float64 `json:"location_multiplier"`
	GoldenHourMultiplier float64 `json:"golden_hour_multiplier"`
	GoldenHourActive     bool    `json:"golden_hour_active"`
	Effective            float64 `json:"effective"`
}

// Weights maps reward id to its weight. Zero weights are kept for diagnostics.
type Weights map[string]Weight

// Drawable returns only the positive effective weights, ready for a draw.
func (w Weights) Drawable() map[string]float64 {
	out := make(map[string]float64, len(w))
	for id, wt := range w {
		if wt.Effective > 0 {
			out[id] = wt.Effective
		}
	}
	return out
}

// Without returns a copy lacking the given reward ids.
func (w Weights) Without(excluded map[string]bool) Weights {
	out := make(Weights, len(w))
	for id, wt := range w {
		if !excluded[id] {
			out[id] = wt
		}
	}
	return out
}

// Calculator computes weights in a fixed timezone.
type Calculator struct {
	loc      *time.Location
	stacking StackingPolicy
}

// NewCalculator creates a calculator. A nil location means UTC.
func NewCalculator(loc *time.Location, stacking StackingPolicy) *Calculator {
	if loc == nil {
		loc = time.UTC
	}
	if stacking == "" {
		stacking = StackMax
	}
	return &Calculator{loc: loc, stacking: stacking}
}

// ComputeWeights weighs every candidate. Candidates are expected to be
// pre-filtered with FilterCandidates.
func (c *Calculator) ComputeWeights(candidates []models.Reward, hours []models.GoldenHour, location *models.EventLocation, now time.Time) Weights {
	locMult := 1.0
	if location != nil {
		locMult = nonNegative(location.WinProbabilityMultiplier)
	}

	weights := make(Weights, len(candidates))
	for _, r := range candidates {
		gh, active := c.GoldenHourMultiplier(r.ID, hours, now)
		base := nonNegative(r.WinProbability)
		weights[r.ID] = Weight{
			RewardID:             r.ID,
			Base:                 base,
			LocationMultiplier:   locMult,
			GoldenHourMultiplier: gh,
			GoldenHourActive:     active,
			Effective:            base * locMult * gh,
		}
	}
	return weights
}

// GoldenHourMultiplier returns the multiplier for a reward at now and whether
// any golden hour covering it is running. The result is never below 1.
func (c *Calculator) GoldenHourMultiplier(rewardID string, hours []models.GoldenHour, now time.Time) (float64, bool) {
	if c.stacking == StackDisabled {
		return 1.0, false
	}

	mult := 1.0
	active := false
	for _, g := range hours {
		if !g.Active || (g.RewardID != nil && *g.RewardID != rewardID) {
			continue
		}
		if !WindowActive(g, now, c.loc) {
			continue
		}
		active = true
		mult = math.Max(mult, g.Multiplier)
	}
	return mult, active
}

// WindowActive reports whether now falls inside the golden hour's
// [start, end) window. Daily windows are read in loc; a daily window whose
// start is after its end runs across midnight and its weekday is the day it
// started on. A zero-length daily window never runs.
func WindowActive(g models.GoldenHour, now time.Time, loc *time.Location) bool {
	switch g.Kind {
	case models.GoldenHourAbsolute:
		if g.StartsAt == nil || g.EndsAt == nil {
			return false
		}
		return !now.Before(*g.StartsAt) && now.Before(*g.EndsAt)

	case models.GoldenHourDaily:
		local := now.In(loc)
		sec := local.Hour()*3600 + local.Minute()*60 + local.Second()
		day := local.Weekday()

		switch {
		case g.StartSecond < g.EndSecond:
			if sec < g.StartSecond || sec >= g.EndSecond {
				return false
			}
		case g.StartSecond > g.EndSecond:
			switch {
			case sec >= g.StartSecond:
			case sec < g.EndSecond:
				day = (day + 6) % 7
			default:
				return false
			}
		default:
			return false
		}
		return len(g.Weekdays) == 0 || slices.Contains(g.Weekdays, day)
	}
	return false
}

// FilterCandidates keeps rewards that can be drawn right now for the given
// location: active, in their validity window, in stock, and scoped to the
// location or its province. The input order is preserved.
func FilterCandidates(rewards []models.Reward, location *models.EventLocation, now time.Time) []models.Reward {
	out := make([]models.Reward, 0, len(rewards))
	for _, r := range rewards {
		if !r.Active || r.RemainingQuantity <= 0 {
			continue
		}
		if r.StartsAt != nil && now.Before(*r.StartsAt) {
			continue
		}
		if r.EndsAt != nil && now.After(*r.EndsAt) {
			continue
		}
		if !Applicable(r, location) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Applicable reports whether a reward's location/province scope admits the location.
func Applicable(r models.Reward, location *models.EventLocation) bool {
	if r.LocationID != nil && *r.LocationID != "" {
		if location == nil || location.ID != *r.LocationID {
			return false
		}
	}
	if len(r.Provinces) > 0 {
		if location == nil {
			return false
		}
		found := false
		for _, p := range r.Provinces {
			if strings.EqualFold(strings.TrimSpace(p), location.Province) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func nonNegative(f float64) float64 {
	if f < 0 || math.IsNaN(f) {
		return 0
	}
	return f
}
