package eligibility_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spin-reward-engine/internal/eligibility"
	"spin-reward-engine/internal/history"
	"spin-reward-engine/internal/models"
	"spin-reward-engine/internal/testutil"
)

func newEvaluator(t *testing.T, spins int, cooldown time.Duration, mutate ...func(*testutil.Fixture)) (*eligibility.Evaluator, *testutil.Fixture) {
	t.Helper()
	db := testutil.NewDB(t)
	f := testutil.Seed(t, db, spins, mutate...)
	return eligibility.NewEvaluator(db, history.NewRecorder(db, time.UTC, cooldown)), f
}

func TestEvaluateAllowed(t *testing.T) {
	ev, f := newEvaluator(t, 3, time.Minute)

	res, err := ev.Evaluate(context.Background(), f.Event.ID, f.Participant.ID, f.Location.ID, testutil.Now)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, models.ReasonNone, res.Reason)
	assert.Equal(t, time.Minute, res.Cooldown)
	require.NotNil(t, res.Location)
	assert.Equal(t, f.Location.ID, res.Location.ID)
	assert.Equal(t, 3, res.Participant.SpinsRemaining)

	res, err = ev.Evaluate(context.Background(), f.Event.ID, f.Participant.ID, "", testutil.Now)
	require.NoError(t, err)
	assert.True(t, res.Allowed, "location is optional")
	assert.Nil(t, res.Location)
}

func TestEvaluateRejections(t *testing.T) {
	tests := []struct {
		name     string
		spins    int
		mutate   func(*testutil.Fixture)
		location func(*testutil.Fixture) string
		event    func(*testutil.Fixture) string
		history  func(*testing.T, *testutil.Fixture)
		now      time.Time
		want     models.ReasonCode
	}{
		{
			name:  "missing event",
			spins: 1,
			event: func(*testutil.Fixture) string { return "no-such-event" },
			want:  models.ReasonEventInactive,
		},
		{
			name:   "inactive event",
			spins:  1,
			mutate: func(f *testutil.Fixture) { f.Event.Active = false },
			want:   models.ReasonEventInactive,
		},
		{
			name:  "before start",
			spins: 1,
			now:   testutil.Now.AddDate(0, 0, -11),
			want:  models.ReasonEventNotStarted,
		},
		{
			name:  "after end",
			spins: 1,
			now:   testutil.Now.AddDate(0, 0, 11),
			want:  models.ReasonEventEnded,
		},
		{
			name:  "event budget exhausted",
			spins: 1,
			mutate: func(f *testutil.Fixture) {
				f.Event.TotalSpins = testutil.Ptr(10)
				f.Event.RemainingSpins = testutil.Ptr(0)
			},
			want: models.ReasonEventBudgetExhausted,
		},
		{
			name:     "unknown location",
			spins:    1,
			location: func(*testutil.Fixture) string { return "nowhere" },
			want:     models.ReasonLocationInvalid,
		},
		{
			name:   "inactive location",
			spins:  1,
			mutate: func(f *testutil.Fixture) { f.Location.Active = false },
			want:   models.ReasonLocationInvalid,
		},
		{
			name:   "ineligible participant",
			spins:  1,
			mutate: func(f *testutil.Fixture) { f.Participant.EligibleForSpin = false },
			want:   models.ReasonParticipantIneligible,
		},
		{
			name:  "no spins",
			spins: 0,
			want:  models.ReasonNoRemainingSpins,
		},
		{
			name:   "participant daily limit",
			spins:  5,
			mutate: func(f *testutil.Fixture) { f.Participant.DailySpinLimit = 2 },
			history: func(t *testing.T, f *testutil.Fixture) {
				f.AddHistory(t, f.Participant.ID, testutil.Now.Add(-time.Hour), models.OutcomeLose)
				f.AddHistory(t, f.Participant.ID, testutil.Now.Add(-2*time.Hour), models.OutcomeWin)
			},
			want: models.ReasonQuotaExceeded,
		},
		{
			name:   "location daily limit counts every participant",
			spins:  5,
			mutate: func(f *testutil.Fixture) { f.Location.DailySpinLimit = 1 },
			history: func(t *testing.T, f *testutil.Fixture) {
				other := f.AddParticipant(t, 1)
				f.AddHistory(t, other.ID, testutil.Now.Add(-time.Hour), models.OutcomeLose)
			},
			want: models.ReasonQuotaExceeded,
		},
		{
			name:   "weekly cap",
			spins:  5,
			mutate: func(f *testutil.Fixture) { f.Event.WeeklySpinLimit = 1 },
			history: func(t *testing.T, f *testutil.Fixture) {
				f.AddHistory(t, f.Participant.ID, testutil.Now.AddDate(0, 0, -1), models.OutcomeLose)
			},
			want: models.ReasonQuotaExceeded,
		},
		{
			name:   "monthly cap",
			spins:  5,
			mutate: func(f *testutil.Fixture) { f.Event.MonthlySpinLimit = 1 },
			history: func(t *testing.T, f *testutil.Fixture) {
				f.AddHistory(t, f.Participant.ID, testutil.Now.AddDate(0, 0, -5), models.OutcomeLose)
			},
			want: models.ReasonQuotaExceeded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mutate := func(*testutil.Fixture) {}
			if tt.mutate != nil {
				mutate = tt.mutate
			}
			ev, f := newEvaluator(t, tt.spins, 0, mutate)
			if tt.history != nil {
				tt.history(t, f)
			}

			eventID, locationID := f.Event.ID, f.Location.ID
			if tt.event != nil {
				eventID = tt.event(f)
			}
			if tt.location != nil {
				locationID = tt.location(f)
			}
			now := tt.now
			if now.IsZero() {
				now = testutil.Now
			}

			res, err := ev.Evaluate(context.Background(), eventID, f.Participant.ID, locationID, now)
			require.NoError(t, err)
			assert.False(t, res.Allowed)
			assert.Equal(t, tt.want, res.Reason)
		})
	}
}

func TestEvaluateParticipantOfOtherEvent(t *testing.T) {
	db := testutil.NewDB(t)
	a := testutil.Seed(t, db, 1)
	b := testutil.Seed(t, db, 1)
	ev := eligibility.NewEvaluator(db, history.NewRecorder(db, time.UTC, 0))

	res, err := ev.Evaluate(context.Background(), a.Event.ID, b.Participant.ID, "", testutil.Now)
	require.NoError(t, err)
	assert.Equal(t, models.ReasonParticipantIneligible, res.Reason)

	res, err = ev.Evaluate(context.Background(), a.Event.ID, a.Participant.ID, b.Location.ID, testutil.Now)
	require.NoError(t, err)
	assert.Equal(t, models.ReasonLocationInvalid, res.Reason, "location of another event")
}

func TestEvaluateCooldown(t *testing.T) {
	ev, f := newEvaluator(t, 5, 5*time.Minute)
	last := testutil.Now
	f.AddHistory(t, f.Participant.ID, last, models.OutcomeLose)

	res, err := ev.Evaluate(context.Background(), f.Event.ID, f.Participant.ID, "", last.Add(3*time.Minute))
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, models.ReasonTimeConstraint, res.Reason)
	assert.Equal(t, 2*time.Minute, res.CooldownRemaining)

	res, err = ev.Evaluate(context.Background(), f.Event.ID, f.Participant.ID, "", last.Add(6*time.Minute))
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Zero(t, res.CooldownRemaining)
}

func TestEvaluateEventCooldownOverride(t *testing.T) {
	ev, f := newEvaluator(t, 5, 5*time.Minute, func(f *testutil.Fixture) {
		f.Event.CooldownSeconds = 30
	})
	f.AddHistory(t, f.Participant.ID, testutil.Now, models.OutcomeLose)

	res, err := ev.Evaluate(context.Background(), f.Event.ID, f.Participant.ID, "", testutil.Now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 30*time.Second, res.Cooldown)
}

func TestEvaluateCooldownUsesParticipantLastSpin(t *testing.T) {
	ev, f := newEvaluator(t, 5, 5*time.Minute, func(f *testutil.Fixture) {
		f.Participant.LastSpinAt = testutil.Ptr(testutil.Now.Add(-time.Minute))
	})

	res, err := ev.Evaluate(context.Background(), f.Event.ID, f.Participant.ID, "", testutil.Now)
	require.NoError(t, err)
	assert.Equal(t, models.ReasonTimeConstraint, res.Reason)
	assert.Equal(t, 4*time.Minute, res.CooldownRemaining)
}

func TestEvaluateIsReadOnly(t *testing.T) {
	ev, f := newEvaluator(t, 1, 0)
	for i := 0; i < 3; i++ {
		res, err := ev.Evaluate(context.Background(), f.Event.ID, f.Participant.ID, f.Location.ID, testutil.Now)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}

	p, err := f.DB.GetParticipant(context.Background(), f.Participant.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, p.SpinsRemaining)
}

type brokenCatalog struct{}

var errDown = errors.New("store down")

func (brokenCatalog) GetEvent(context.Context, string) (models.Event, error) {
	return models.Event{}, errDown
}
func (brokenCatalog) GetLocation(context.Context, string) (models.EventLocation, error) {
	return models.EventLocation{}, errDown
}
func (brokenCatalog) GetParticipant(context.Context, string) (models.Participant, error) {
	return models.Participant{}, errDown
}

func TestEvaluateReturnsInfrastructureErrors(t *testing.T) {
	ev := eligibility.NewEvaluator(brokenCatalog{}, history.NewRecorder(nil, time.UTC, 0))
	_, err := ev.Evaluate(context.Background(), "ev", "p", "", testutil.Now)
	assert.ErrorIs(t, err, errDown)
}
