// Package history records spin attempts and derives windowed statistics.
//
// Day, week and month boundaries are computed in one configured timezone.
// Weeks start on Monday.
package history

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"spin-reward-engine/internal/database"
	"spin-reward-engine/internal/models"
)

// Store is the persistence the recorder needs.
type Store interface {
	InsertSpinHistory(ctx context.Context, h models.SpinHistory) error
	CountSpins(ctx context.Context, q database.SpinCountQuery) (int, int, error)
	LastSpinAt(ctx context.Context, participantID string) (*time.Time, error)
}

// TxWriter writes a history row inside an open spin transaction.
type TxWriter interface {
	InsertSpinHistory(ctx context.Context, h models.SpinHistory) error
}

// Recorder writes history rows and answers stats queries.
type Recorder struct {
	store    Store
	loc      *time.Location
	cooldown time.Duration
}

// NewRecorder creates a recorder. cooldown is the default interval between
// spins; zero disables cooldowns.
func NewRecorder(store Store, loc *time.Location, cooldown time.Duration) *Recorder {
	if loc == nil {
		loc = time.UTC
	}
	return &Recorder{store: store, loc: loc, cooldown: cooldown}
}

// Location returns the timezone used for windows.
func (r *Recorder) Location() *time.Location { return r.loc }

// DefaultCooldown returns the configured cooldown.
func (r *Recorder) DefaultCooldown() time.Duration { return r.cooldown }

// Record writes one history row and returns its id.
func (r *Recorder) Record(ctx context.Context, h models.SpinHistory) (string, error) {
	h, err := prepare(h)
	if err != nil {
		return "", err
	}
	if err := r.store.InsertSpinHistory(ctx, h); err != nil {
		return "", err
	}
	return h.ID, nil
}

// RecordTx writes one history row through tx and returns its id.
func (r *Recorder) RecordTx(ctx context.Context, tx TxWriter, h models.SpinHistory) (string, error) {
	h, err := prepare(h)
	if err != nil {
		return "", err
	}
	if err := tx.InsertSpinHistory(ctx, h); err != nil {
		return "", err
	}
	return h.ID, nil
}

func prepare(h models.SpinHistory) (models.SpinHistory, error) {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	switch h.Outcome {
	case models.OutcomeWin:
		if h.RewardID == nil || !h.Won {
			return h, fmt.Errorf("history %s: win without reward", h.ID)
		}
	case models.OutcomeLose, models.OutcomeRejected:
		if h.Won || h.RewardID != nil {
			return h, fmt.Errorf("history %s: %s row carries a reward", h.ID, h.Outcome)
		}
	default:
		return h, fmt.Errorf("history %s: unknown outcome %q", h.ID, h.Outcome)
	}
	if h.Multiplier == 0 {
		h.Multiplier = 1
	}
	return h, nil
}

// GetStats returns the participant's counts using the default cooldown.
func (r *Recorder) GetStats(ctx context.Context, participantID string, now time.Time) (models.Stats, error) {
	return r.GetStatsWithCooldown(ctx, participantID, now, r.cooldown)
}

// GetStatsWithCooldown returns the participant's daily, weekly and monthly
// counts, last spin time and next eligible time for the given cooldown.
func (r *Recorder) GetStatsWithCooldown(ctx context.Context, participantID string, now time.Time, cooldown time.Duration) (models.Stats, error) {
	var st models.Stats
	var err error

	from, to := DayWindow(now, r.loc)
	if st.DailySpins, st.DailyWins, err = r.store.CountSpins(ctx, database.SpinCountQuery{ParticipantID: participantID, From: from, To: to}); err != nil {
		return models.Stats{}, err
	}
	from, to = WeekWindow(now, r.loc)
	if st.WeeklySpins, st.WeeklyWins, err = r.store.CountSpins(ctx, database.SpinCountQuery{ParticipantID: participantID, From: from, To: to}); err != nil {
		return models.Stats{}, err
	}
	from, to = MonthWindow(now, r.loc)
	if st.MonthlySpins, st.MonthlyWins, err = r.store.CountSpins(ctx, database.SpinCountQuery{ParticipantID: participantID, From: from, To: to}); err != nil {
		return models.Stats{}, err
	}

	if st.LastSpinAt, err = r.store.LastSpinAt(ctx, participantID); err != nil {
		return models.Stats{}, err
	}
	st.NextEligibleAt = NextEligible(st.LastSpinAt, cooldown)
	return st, nil
}

// LocationDailySpins counts today's completed spins at a location across all participants.
func (r *Recorder) LocationDailySpins(ctx context.Context, locationID string, now time.Time) (int, error) {
	from, to := DayWindow(now, r.loc)
	spins, _, err := r.store.CountSpins(ctx, database.SpinCountQuery{LocationID: locationID, From: from, To: to})
	return spins, err
}

// DayWindow returns [local midnight, next local midnight) around now.
func DayWindow(now time.Time, loc *time.Location) (time.Time, time.Time) {
	l := now.In(loc)
	from := time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, loc)
	return from, from.AddDate(0, 0, 1)
}

// WeekWindow returns the Monday-start week containing now.
func WeekWindow(now time.Time, loc *time.Location) (time.Time, time.Time) {
	day, _ := DayWindow(now, loc)
	offset := (int(day.Weekday()) + 6) % 7
	from := day.AddDate(0, 0, -offset)
	return from, from.AddDate(0, 0, 7)
}

// MonthWindow returns the calendar month containing now.
func MonthWindow(now time.Time, loc *time.Location) (time.Time, time.Time) {
	l := now.In(loc)
	from := time.Date(l.Year(), l.Month(), 1, 0, 0, 0, 0, loc)
	return from, from.AddDate(0, 1, 0)
}

// NextEligible is last + cooldown, or nil when there is no last spin or no cooldown.
func NextEligible(last *time.Time, cooldown time.Duration) *time.Time {
	if last == nil || cooldown <= 0 {
		return nil
	}
	next := last.Add(cooldown)
	return &next
}

// CooldownSeconds is the whole number of seconds left until last + cooldown,
// rounded up and never negative.
func CooldownSeconds(last time.Time, cooldown time.Duration, now time.Time) int64 {
	left := last.Add(cooldown).Sub(now)
	if left <= 0 {
		return 0
	}
	return int64(math.Ceil(left.Seconds()))
}
