package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"spin-reward-engine/internal/cache"
	"spin-reward-engine/internal/clock"
	"spin-reward-engine/internal/database"
	"spin-reward-engine/internal/eligibility"
	"spin-reward-engine/internal/events"
	"spin-reward-engine/internal/features"
	"spin-reward-engine/internal/history"
	"spin-reward-engine/internal/inventory"
	"spin-reward-engine/internal/models"
	"spin-reward-engine/internal/probability"
	"spin-reward-engine/internal/selector"
	"spin-reward-engine/internal/tracing"
	"spin-reward-engine/internal/validation"
)

// DefaultTimeout bounds a whole spin call.
const DefaultTimeout = 500 * time.Millisecond

// ErrSystem marks a spin that failed on infrastructure. The accompanying
// result carries StatusSystemError.
var ErrSystem = errors.New("spin: system error")

// Options configures an Engine. Zero values fall back to defaults.
type Options struct {
	Clock      clock.Clock
	RNG        clock.RNG
	Location   *time.Location
	Cooldown   time.Duration
	MaxRetries int
	Timeout    time.Duration
	NoWin      selector.NoWinPolicy
	Stacking   probability.StackingPolicy

	// Cache backs the golden hour catalog when FeatureCacheEnabled is on.
	Cache    cache.Cache
	CacheTTL time.Duration

	Events   *events.Manager
	Features *features.Manager
	Tracer   *tracing.Tracer
	Logger   zerolog.Logger
}

// Engine runs spins end to end: eligibility, weighting, the draw, the
// transactional commit and the stats returned to the caller.
type Engine struct {
	db         *database.DB
	clock      clock.Clock
	rng        clock.RNG
	timeout    time.Duration
	noWin      selector.NoWinPolicy
	recorder   *history.Recorder
	evaluator  *eligibility.Evaluator
	calculator *probability.Calculator
	committer  *inventory.Committer
	catalog    *cache.Catalog
	events     *events.Manager
	features   *features.Manager
	tracer     *tracing.Tracer
	logger     zerolog.Logger
}

// NewEngine wires an engine over db.
func NewEngine(db *database.DB, opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	if opts.RNG == nil {
		opts.RNG = clock.NewRandomRNG()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.NoWin == "" {
		opts.NoWin = selector.NoWinGlobal
	}
	if opts.Tracer == nil {
		opts.Tracer = tracing.GetTracer()
	}
	if opts.Events == nil {
		opts.Events = events.NewManager(false, opts.Logger)
	}
	if opts.Features == nil {
		opts.Features = features.NewDefaultManager(features.Defaults{
			Cache:       true,
			EventHooks:  true,
			GoldenHours: true,
		})
	}

	recorder := history.NewRecorder(db, opts.Location, opts.Cooldown)
	e := &Engine{
		db:         db,
		clock:      opts.Clock,
		rng:        opts.RNG,
		timeout:    opts.Timeout,
		noWin:      opts.NoWin,
		recorder:   recorder,
		evaluator:  eligibility.NewEvaluator(db, recorder),
		calculator: probability.NewCalculator(opts.Location, opts.Stacking),
		committer:  inventory.NewCommitter(inventory.FromDB(db), recorder, opts.MaxRetries),
		events:     opts.Events,
		features:   opts.Features,
		tracer:     opts.Tracer,
		logger:     opts.Logger,
	}
	if opts.Cache != nil {
		ttl := opts.CacheTTL
		if ttl <= 0 {
			ttl = 30 * time.Second
		}
		e.catalog = cache.NewCatalog(opts.Cache, db, ttl, opts.Logger)
	}
	return e
}

// State is a step of a spin's lifecycle.
type State string

const (
	StateReceived        State = "RECEIVED"
	StateEligibleChecked State = "ELIGIBLE_CHECKED"
	StateRewardSelected  State = "REWARD_SELECTED"
	StateCommitted       State = "COMMITTED"
	StateRecorded        State = "RECORDED"
	StateReturned        State = "RETURNED"
	StateRejected        State = "REJECTED"
	StateSystemError     State = "SYSTEM_ERROR"
)

// spinRun carries one call through its states.
type spinRun struct {
	req    models.SpinRequest
	now    time.Time
	state  State
	span   trace.Span
	logger zerolog.Logger
}

func (r *spinRun) advance(s State) {
	r.state = s
	r.span.AddEvent(string(s))
	r.logger.Debug().Str("spin.state", string(s)).Msg("spin state")
}

// Spin runs one spin request.
//
// Rejections and sold-out draws come back as data with a typed status and a
// nil error. An infrastructure failure or timeout returns a StatusSystemError
// result together with an error wrapping ErrSystem. A broken counter returns
// an error wrapping inventory.ErrInvariantViolation.
func (e *Engine) Spin(ctx context.Context, req models.SpinRequest) (models.SpinResult, error) {
	if err := validation.ValidateSpinRequest(&req); err != nil {
		return models.SpinResult{}, err
	}

	now := req.RequestedAt
	if now.IsZero() {
		now = e.clock.Now()
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	ctx, span := e.tracer.StartSpan(ctx, "spin.Spin",
		trace.WithAttributes(tracing.SpinAttributes(req.EventID, req.ParticipantID, req.LocationID)...))
	defer span.End()

	run := &spinRun{
		req:  req,
		now:  now,
		span: span,
		logger: e.logger.With().
			Str("event_id", req.EventID).
			Str("participant_id", req.ParticipantID).
			Str("location_id", req.LocationID).
			Logger(),
	}
	run.advance(StateReceived)

	res, err := e.spin(ctx, run)
	span.SetAttributes(
		attribute.String("spin.state", string(run.state)),
		attribute.String("spin.status", string(res.Status)),
		attribute.Bool("spin.won", res.Won),
	)

	switch {
	case errors.Is(err, inventory.ErrInvariantViolation):
		tracing.RecordError(span, err)
		run.logger.Error().Err(err).Bool("alert", true).Str("spin.state", string(run.state)).Msg("spin invariant violated")
		return models.SpinResult{Status: models.StatusSystemError, Message: messageFor(models.StatusSystemError)}, err
	case err != nil:
		run.state = StateSystemError
		tracing.RecordError(span, err)
		run.logger.Error().Err(err).Str("spin.state", string(run.state)).Msg("spin failed")
		return models.SpinResult{Status: models.StatusSystemError, Message: messageFor(models.StatusSystemError)}, fmt.Errorf("%w: %w", ErrSystem, err)
	}

	if run.state != StateRejected {
		run.advance(StateReturned)
	}
	return res, nil
}

func (e *Engine) spin(ctx context.Context, run *spinRun) (models.SpinResult, error) {
	req := run.req

	elig, err := e.evaluate(ctx, req, run.now)
	if err != nil {
		return models.SpinResult{}, fmt.Errorf("eligibility: %w", err)
	}
	if !elig.Allowed {
		return e.reject(ctx, run, elig, elig.Reason)
	}
	run.advance(StateEligibleChecked)

	candidates, weights, err := e.weigh(ctx, req.EventID, elig.Location, run.now)
	if err != nil {
		return models.SpinResult{}, fmt.Errorf("weights: %w", err)
	}
	if len(candidates) == 0 {
		run.state = StateRejected
		run.logger.Debug().Msg("no reward candidates")
		return models.SpinResult{
			Status:            models.StatusRewardUnavailable,
			RemainingSpins:    elig.Participant.SpinsRemaining,
			MultiplierApplied: 1,
			Message:           messageFor(models.StatusRewardUnavailable),
			Stats:             &elig.Stats,
		}, nil
	}

	byID := make(map[string]models.Reward, len(candidates))
	for _, r := range candidates {
		byID[r.ID] = r
	}
	draw := func(w probability.Weights) *inventory.Selection {
		id, ok := selector.Select(w.Drawable(), e.rng, e.noWin)
		if !ok {
			return nil
		}
		return &inventory.Selection{Reward: byID[id], Weight: w[id]}
	}

	sel := draw(weights)
	run.advance(StateRewardSelected)
	if sel != nil {
		run.span.SetAttributes(attribute.String("spin.drawn_reward_id", sel.Reward.ID))
	}

	out := inventory.Outcome{
		EventID:       req.EventID,
		ParticipantID: req.ParticipantID,
		Now:           run.now,
		Selection:     sel,
		Quotas:        e.quotas(elig, run.now),
		Cooldown:      elig.Cooldown,
	}
	if req.LocationID != "" {
		loc := req.LocationID
		out.LocationID = &loc
	}

	commit, err := e.committer.Commit(ctx, out, func(excluded map[string]bool) *inventory.Selection {
		return draw(weights.Without(excluded))
	})
	if commit.Conflict && e.features.IsEnabled(features.FeatureEventHooksEnabled) {
		e.events.PublishRewardExhausted(ctx, req.EventID, commit.Exhausted)
	}
	switch {
	case errors.Is(err, inventory.ErrParticipantExhausted):
		return e.reject(ctx, run, elig, models.ReasonNoRemainingSpins)
	case errors.Is(err, inventory.ErrEventBudgetExhausted):
		return e.reject(ctx, run, elig, models.ReasonEventBudgetExhausted)
	case errors.Is(err, inventory.ErrQuotaExceeded):
		return e.reject(ctx, run, elig, models.ReasonQuotaExceeded)
	case errors.Is(err, inventory.ErrCooldownActive):
		var cd *inventory.CooldownError
		if errors.As(err, &cd) {
			elig.CooldownRemaining = cd.Remaining
		}
		return e.reject(ctx, run, elig, models.ReasonTimeConstraint)
	case err != nil:
		return models.SpinResult{}, fmt.Errorf("commit: %w", err)
	}
	run.advance(StateCommitted)
	run.advance(StateRecorded)

	res := models.SpinResult{
		Status:            models.StatusSuccess,
		RemainingSpins:    commit.RemainingSpins,
		MultiplierApplied: 1,
		HistoryID:         commit.HistoryID,
		CooldownSeconds:   history.CooldownSeconds(run.now, elig.Cooldown, run.now),
	}
	if s := commit.Selection; s != nil {
		id, name, value := s.Reward.ID, s.Reward.Name, s.Reward.Value
		res.Won = true
		res.RewardID = &id
		res.RewardName = &name
		res.RewardValue = &value
		res.IsGoldenHour = s.Weight.GoldenHourActive
		res.MultiplierApplied = s.Weight.LocationMultiplier * s.Weight.GoldenHourMultiplier
		res.Message = fmt.Sprintf("Congratulations! You won %s.", name)
	} else {
		res.Message = "No win this time. Better luck next spin!"
	}

	// The spin is committed; a stats failure is reported but does not undo it.
	st, err := e.recorder.GetStatsWithCooldown(context.WithoutCancel(ctx), req.ParticipantID, run.now, elig.Cooldown)
	if err != nil {
		run.logger.Warn().Err(err).Msg("failed to load stats after commit")
	} else {
		res.Stats = &st
	}

	run.logger.Info().
		Str("history_id", res.HistoryID).
		Bool("won", res.Won).
		Int("attempts", commit.Attempts).
		Int("remaining_spins", res.RemainingSpins).
		Msg("spin committed")

	if e.features.IsEnabled(features.FeatureEventHooksEnabled) {
		e.events.PublishSpinCompleted(ctx, events.SpinCompletedData{
			HistoryID:      res.HistoryID,
			EventID:        req.EventID,
			ParticipantID:  req.ParticipantID,
			LocationID:     out.LocationID,
			Won:            res.Won,
			RewardID:       res.RewardID,
			RewardValue:    res.RewardValue,
			GoldenHour:     res.IsGoldenHour,
			Multiplier:     res.MultiplierApplied,
			RemainingSpins: res.RemainingSpins,
			SpunAt:         run.now,
		})
	}
	return res, nil
}

func (e *Engine) evaluate(ctx context.Context, req models.SpinRequest, now time.Time) (eligibility.Result, error) {
	ctx, span := e.tracer.StartSpan(ctx, "spin.eligibility")
	defer span.End()

	res, err := e.evaluator.Evaluate(ctx, req.EventID, req.ParticipantID, req.LocationID, now)
	tracing.RecordError(span, err)
	span.SetAttributes(attribute.Bool("spin.allowed", res.Allowed), attribute.String("spin.reason", string(res.Reason)))
	return res, err
}

// weigh loads the drawable candidates and their weights.
func (e *Engine) weigh(ctx context.Context, eventID string, location *models.EventLocation, now time.Time) ([]models.Reward, probability.Weights, error) {
	ctx, span := e.tracer.StartSpan(ctx, "spin.weights")
	defer span.End()

	rewards, err := e.db.ListStockedRewards(ctx, eventID)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, nil, err
	}
	candidates := probability.FilterCandidates(rewards, location, now)
	if len(candidates) == 0 {
		return nil, nil, nil
	}

	var hours []models.GoldenHour
	if e.features.IsEnabled(features.FeatureGoldenHours) {
		if hours, err = e.goldenHours(ctx, eventID); err != nil {
			tracing.RecordError(span, err)
			return nil, nil, err
		}
	}

	weights := e.calculator.ComputeWeights(candidates, hours, location, now)
	span.SetAttributes(attribute.Int("spin.candidates", len(candidates)))
	return candidates, weights, nil
}

func (e *Engine) goldenHours(ctx context.Context, eventID string) ([]models.GoldenHour, error) {
	if e.catalog != nil && e.features.IsEnabled(features.FeatureCacheEnabled) {
		return e.catalog.ListGoldenHours(ctx, eventID)
	}
	return e.db.ListGoldenHours(ctx, eventID)
}

// reject builds the result for a refused spin, optionally writing an audit row.
// quotas are the spin caps the commit re-checks under its write lock.
func (e *Engine) quotas(elig eligibility.Result, now time.Time) []inventory.Quota {
	loc := e.recorder.Location()
	pid := elig.Participant.ID
	dayFrom, dayTo := history.DayWindow(now, loc)
	weekFrom, weekTo := history.WeekWindow(now, loc)
	monthFrom, monthTo := history.MonthWindow(now, loc)

	q := []inventory.Quota{
		{Query: database.SpinCountQuery{ParticipantID: pid, From: dayFrom, To: dayTo}, Max: elig.Participant.DailySpinLimit},
		{Query: database.SpinCountQuery{ParticipantID: pid, From: weekFrom, To: weekTo}, Max: elig.Event.WeeklySpinLimit},
		{Query: database.SpinCountQuery{ParticipantID: pid, From: monthFrom, To: monthTo}, Max: elig.Event.MonthlySpinLimit},
	}
	if l := elig.Location; l != nil {
		q = append(q, inventory.Quota{
			Query: database.SpinCountQuery{LocationID: l.ID, From: dayFrom, To: dayTo},
			Max:   l.DailySpinLimit,
		})
	}
	return q
}

func (e *Engine) reject(ctx context.Context, run *spinRun, elig eligibility.Result, reason models.ReasonCode) (models.SpinResult, error) {
	run.state = StateRejected
	status := models.StatusForReason(reason)
	run.span.SetAttributes(attribute.String("spin.reason", string(reason)))
	run.logger.Debug().Str("reason_code", string(reason)).Msg("spin rejected")

	res := models.SpinResult{
		Status:            status,
		ReasonCode:        reason,
		RemainingSpins:    elig.Participant.SpinsRemaining,
		MultiplierApplied: 1,
		Message:           messageFor(status),
	}
	if reason == models.ReasonNoRemainingSpins {
		res.RemainingSpins = 0
	}
	if reason == models.ReasonTimeConstraint {
		res.CooldownSeconds = int64(math.Ceil(elig.CooldownRemaining.Seconds()))
	}
	if elig.Participant.ID != "" {
		st := elig.Stats
		res.Stats = &st
	}

	if e.features.IsEnabled(features.FeatureRecordRejected) {
		h := models.SpinHistory{
			ParticipantID: run.req.ParticipantID,
			EventID:       run.req.EventID,
			SpunAt:        run.now,
			Outcome:       models.OutcomeRejected,
			ReasonCode:    reason,
		}
		if run.req.LocationID != "" {
			loc := run.req.LocationID
			h.LocationID = &loc
		}
		if _, err := e.recorder.Record(ctx, h); err != nil {
			run.logger.Warn().Err(err).Msg("failed to record rejected spin")
		}
	}

	if e.features.IsEnabled(features.FeatureEventHooksEnabled) {
		e.events.PublishSpinRejected(ctx, events.SpinRejectedData{
			EventID:       run.req.EventID,
			ParticipantID: run.req.ParticipantID,
			LocationID:    run.req.LocationID,
			Status:        status,
			Reason:        reason,
			RequestedAt:   run.now,
		})
	}
	return res, nil
}

func messageFor(status models.SpinStatus) string {
	switch status {
	case models.StatusIneligible:
		return "You are not eligible to spin for this event."
	case models.StatusNoRemainingSpins:
		return "You have no spins left."
	case models.StatusRewardUnavailable:
		return "No rewards are available right now."
	case models.StatusQuotaExceeded:
		return "Spin limit reached. Try again later."
	case models.StatusTimeConstraint:
		return "Please wait before spinning again."
	case models.StatusLocationInvalid:
		return "This location is not valid for the event."
	case models.StatusSystemError:
		return "Something went wrong. Please try again."
	default:
		return ""
	}
}

// Stats returns a participant's windowed spin counts at now, using the
// cooldown of the participant's event.
func (e *Engine) Stats(ctx context.Context, participantID string, now time.Time) (models.Stats, error) {
	participantID = validation.SanitizeString(participantID)
	if err := validation.ValidateID(participantID, "participant_id"); err != nil {
		return models.Stats{}, err
	}
	if now.IsZero() {
		now = e.clock.Now()
	}

	p, err := e.db.GetParticipant(ctx, participantID)
	if err != nil {
		return models.Stats{}, err
	}

	cooldown := e.recorder.DefaultCooldown()
	event, err := e.db.GetEvent(ctx, p.EventID)
	switch {
	case err == nil:
		if event.CooldownSeconds > 0 {
			cooldown = time.Duration(event.CooldownSeconds) * time.Second
		}
	case !errors.Is(err, database.ErrNotFound):
		return models.Stats{}, err
	}

	return e.recorder.GetStatsWithCooldown(ctx, participantID, now, cooldown)
}

// Claim marks a won spin as redeemed.
func (e *Engine) Claim(ctx context.Context, historyID string) error {
	historyID = validation.SanitizeString(historyID)
	if err := validation.ValidateUUID(historyID, "history_id"); err != nil {
		return err
	}
	return e.db.MarkClaimed(ctx, historyID)
}

// History lists a participant's most recent spins.
func (e *Engine) History(ctx context.Context, participantID string, limit int) ([]models.SpinHistory, error) {
	participantID = validation.SanitizeString(participantID)
	if err := validation.ValidateID(participantID, "participant_id"); err != nil {
		return nil, err
	}
	switch {
	case limit <= 0:
		limit = 20
	case limit > 100:
		limit = 100
	}
	return e.db.ListSpinHistory(ctx, participantID, limit)
}

// Ping checks the database.
func (e *Engine) Ping(ctx context.Context) error {
	return e.db.Ping(ctx)
}
