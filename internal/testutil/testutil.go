// Package testutil builds throwaway databases and catalog fixtures for tests.
package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"spin-reward-engine/internal/database"
	"spin-reward-engine/internal/models"
)

// Now is the reference instant most fixtures are built around.
var Now = time.Date(2025, 10, 21, 10, 0, 0, 0, time.UTC)

// NewDB opens a fresh sqlite file in t's temp dir and closes it on cleanup.
func NewDB(t testing.TB) *database.DB {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "spin_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// Fixture is a seeded event with one location and one participant.
type Fixture struct {
	DB          *database.DB
	Event       models.Event
	Location    models.EventLocation
	Participant models.Participant
}

// Seed creates an active event around Now, a location and a participant
// with the given spins. Mutators run before the rows are written.
func Seed(t testing.TB, db *database.DB, spins int, mutate ...func(*Fixture)) *Fixture {
	t.Helper()
	f := &Fixture{DB: db}
	f.Event = models.Event{
		ID:       uuid.NewString(),
		Code:     "EV-" + uuid.NewString()[:8],
		Active:   true,
		StartsAt: Now.AddDate(0, 0, -10),
		EndsAt:   Now.AddDate(0, 0, 10),
	}
	f.Location = models.EventLocation{
		ID:                       uuid.NewString(),
		EventID:                  f.Event.ID,
		Name:                     "Central Plaza",
		Province:                 "Bangkok",
		WinProbabilityMultiplier: 1,
		Active:                   true,
	}
	f.Participant = models.Participant{
		ID:              uuid.NewString(),
		EventID:         f.Event.ID,
		SpinsRemaining:  spins,
		EligibleForSpin: true,
	}
	for _, m := range mutate {
		m(f)
	}

	ctx := context.Background()
	require.NoError(t, db.UpsertEvent(ctx, f.Event))
	require.NoError(t, db.UpsertLocation(ctx, f.Location))
	require.NoError(t, db.UpsertParticipant(ctx, f.Participant))
	return f
}

// AddParticipant adds another participant to the fixture's event.
func (f *Fixture) AddParticipant(t testing.TB, spins int) models.Participant {
	t.Helper()
	p := models.Participant{
		ID:              uuid.NewString(),
		EventID:         f.Event.ID,
		SpinsRemaining:  spins,
		EligibleForSpin: true,
	}
	require.NoError(t, f.DB.UpsertParticipant(context.Background(), p))
	return p
}

// AddReward adds an active reward with the given stock and probability.
func (f *Fixture) AddReward(t testing.TB, name string, quantity int, probability float64, mutate ...func(*models.Reward)) models.Reward {
	t.Helper()
	r := models.Reward{
		ID:                uuid.NewString(),
		EventID:           f.Event.ID,
		Name:              name,
		WinProbability:    probability,
		TotalQuantity:     quantity,
		RemainingQuantity: quantity,
		Value:             decimal.NewFromInt(100),
		Active:            true,
	}
	for _, m := range mutate {
		m(&r)
	}
	require.NoError(t, f.DB.UpsertReward(context.Background(), r))
	return r
}

// AddGoldenHour adds an active absolute golden hour.
func (f *Fixture) AddGoldenHour(t testing.TB, rewardID *string, start, end time.Time, multiplier float64) models.GoldenHour {
	t.Helper()
	g := models.GoldenHour{
		ID:         uuid.NewString(),
		EventID:    f.Event.ID,
		RewardID:   rewardID,
		Kind:       models.GoldenHourAbsolute,
		StartsAt:   &start,
		EndsAt:     &end,
		Multiplier: multiplier,
		Active:     true,
	}
	require.NoError(t, f.DB.UpsertGoldenHour(context.Background(), g))
	return g
}

// AddHistory writes a completed spin for the fixture participant.
func (f *Fixture) AddHistory(t testing.TB, participantID string, at time.Time, outcome models.SpinOutcome) models.SpinHistory {
	t.Helper()
	h := models.SpinHistory{
		ID:            uuid.NewString(),
		ParticipantID: participantID,
		EventID:       f.Event.ID,
		LocationID:    &f.Location.ID,
		SpunAt:        at,
		Multiplier:    1,
		ValueAwarded:  decimal.Zero,
		Outcome:       outcome,
	}
	if outcome == models.OutcomeWin {
		rid := "reward-" + uuid.NewString()[:8]
		h.RewardID = &rid
		h.Won = true
	}
	require.NoError(t, f.DB.InsertSpinHistory(context.Background(), h))
	return h
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }
