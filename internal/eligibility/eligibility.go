package eligibility

import (
	"context"
	"errors"
	"time"

	"spin-reward-engine/internal/database"
	"spin-reward-engine/internal/models"
)

// Catalog reads the aggregates eligibility depends on.
type Catalog interface {
	GetEvent(ctx context.Context, id string) (models.Event, error)
	GetLocation(ctx context.Context, id string) (models.EventLocation, error)
	GetParticipant(ctx context.Context, id string) (models.Participant, error)
}

// SpinStats answers history questions. *history.Recorder implements it.
type SpinStats interface {
	GetStatsWithCooldown(ctx context.Context, participantID string, now time.Time, cooldown time.Duration) (models.Stats, error)
	LocationDailySpins(ctx context.Context, locationID string, now time.Time) (int, error)
	DefaultCooldown() time.Duration
}

// Result is the outcome of an evaluation. The loaded aggregates are returned
// so the caller does not read them twice.
type Result struct {
	Allowed           bool
	Reason            models.ReasonCode
	CooldownRemaining time.Duration
	Cooldown          time.Duration

	Event       models.Event
	Location    *models.EventLocation
	Participant models.Participant
	Stats       models.Stats
}

func reject(res Result, reason models.ReasonCode) (Result, error) {
	res.Allowed = false
	res.Reason = reason
	return res, nil
}

// Evaluator decides whether a participant may spin. It never writes.
type Evaluator struct {
	catalog Catalog
	stats   SpinStats
}

func NewEvaluator(catalog Catalog, stats SpinStats) *Evaluator {
	return &Evaluator{catalog: catalog, stats: stats}
}

// Evaluate runs the checks in order and stops at the first failure:
// event window, location, participant, spins left, daily/weekly/monthly
// quotas, cooldown. A missing record is a rejection; any other read error is
// returned as an error.
func (e *Evaluator) Evaluate(ctx context.Context, eventID, participantID, locationID string, now time.Time) (Result, error) {
	var res Result

	event, err := e.catalog.GetEvent(ctx, eventID)
	if errors.Is(err, database.ErrNotFound) {
		return reject(res, models.ReasonEventInactive)
	}
	if err != nil {
		return Result{}, err
	}
	res.Event = event
	switch {
	case !event.Active:
		return reject(res, models.ReasonEventInactive)
	case now.Before(event.StartsAt):
		return reject(res, models.ReasonEventNotStarted)
	case now.After(event.EndsAt):
		return reject(res, models.ReasonEventEnded)
	case event.RemainingSpins != nil && *event.RemainingSpins <= 0:
		return reject(res, models.ReasonEventBudgetExhausted)
	}

	if locationID != "" {
		loc, err := e.catalog.GetLocation(ctx, locationID)
		if errors.Is(err, database.ErrNotFound) {
			return reject(res, models.ReasonLocationInvalid)
		}
		if err != nil {
			return Result{}, err
		}
		if loc.EventID != event.ID || !loc.Active {
			return reject(res, models.ReasonLocationInvalid)
		}
		res.Location = &loc
	}

	p, err := e.catalog.GetParticipant(ctx, participantID)
	if errors.Is(err, database.ErrNotFound) {
		return reject(res, models.ReasonParticipantIneligible)
	}
	if err != nil {
		return Result{}, err
	}
	res.Participant = p
	if p.EventID != event.ID || !p.EligibleForSpin {
		return reject(res, models.ReasonParticipantIneligible)
	}
	if p.SpinsRemaining <= 0 {
		return reject(res, models.ReasonNoRemainingSpins)
	}

	res.Cooldown = e.stats.DefaultCooldown()
	if event.CooldownSeconds > 0 {
		res.Cooldown = time.Duration(event.CooldownSeconds) * time.Second
	}

	st, err := e.stats.GetStatsWithCooldown(ctx, p.ID, now, res.Cooldown)
	if err != nil {
		return Result{}, err
	}
	res.Stats = st

	if p.DailySpinLimit > 0 && st.DailySpins >= p.DailySpinLimit {
		return reject(res, models.ReasonQuotaExceeded)
	}
	if res.Location != nil && res.Location.DailySpinLimit > 0 {
		n, err := e.stats.LocationDailySpins(ctx, res.Location.ID, now)
		if err != nil {
			return Result{}, err
		}
		if n >= res.Location.DailySpinLimit {
			return reject(res, models.ReasonQuotaExceeded)
		}
	}
	if event.WeeklySpinLimit > 0 && st.WeeklySpins >= event.WeeklySpinLimit {
		return reject(res, models.ReasonQuotaExceeded)
	}
	if event.MonthlySpinLimit > 0 && st.MonthlySpins >= event.MonthlySpinLimit {
		return reject(res, models.ReasonQuotaExceeded)
	}

	if last := latest(st.LastSpinAt, p.LastSpinAt); last != nil && res.Cooldown > 0 {
		if left := last.Add(res.Cooldown).Sub(now); left > 0 {
			res.CooldownRemaining = left
			return reject(res, models.ReasonTimeConstraint)
		}
	}

	res.Allowed = true
	return res, nil
}

func latest(a, b *time.Time) *time.Time {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case b.After(*a):
		return b
	default:
		return a
	}
}
