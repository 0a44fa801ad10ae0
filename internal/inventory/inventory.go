// Package inventory applies the consequences of a spin atomically.
//
// A commit first re-checks the participant's spin quotas and cooldown under
// the transaction's write lock, then takes one spin from the participant (and from a capped event
// budget), takes one unit of the drawn reward, and writes the history row, all
// inside one transaction. Every decrement is a conditional update; when the
// drawn reward sold out in the meantime the transaction is rolled back, the
// reward is excluded, and the draw is repeated a bounded number of times
// before falling back to no win.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"spin-reward-engine/internal/database"
	"spin-reward-engine/internal/history"
	"spin-reward-engine/internal/models"
	"spin-reward-engine/internal/probability"
)

var (
	// ErrParticipantExhausted means the participant's last spin was taken by a concurrent request.
	ErrParticipantExhausted = errors.New("inventory: participant has no spins left")
	// ErrEventBudgetExhausted means the event's spin budget ran out.
	ErrEventBudgetExhausted = errors.New("inventory: event spin budget exhausted")
	// ErrQuotaExceeded means a concurrent spin used up a spin quota.
	ErrQuotaExceeded = errors.New("inventory: spin quota exceeded")
	// ErrCooldownActive means a concurrent spin restarted the cooldown.
	// The returned error is a *CooldownError.
	ErrCooldownActive = errors.New("inventory: cooldown active")
	// ErrInvariantViolation means a counter left its legal range. It points at
	// a concurrency-control bug and must be escalated.
	ErrInvariantViolation = errors.New("inventory: invariant violation")
)

// CooldownError carries how long the participant still has to wait.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("%s: %s remaining", ErrCooldownActive, e.Remaining)
}

func (e *CooldownError) Unwrap() error { return ErrCooldownActive }

// DefaultMaxRetries bounds how many times a sold-out reward triggers a redraw.
const DefaultMaxRetries = 3

// Tx is the transactional surface a commit needs. *database.SpinTx implements it.
type Tx interface {
	CountSpins(ctx context.Context, q database.SpinCountQuery) (int, error)
	LastSpinAt(ctx context.Context, participantID string) (*time.Time, error)
	DecrementParticipantSpins(ctx context.Context, participantID string, now time.Time) (bool, error)
	DecrementEventBudget(ctx context.Context, eventID string) (bool, error)
	DecrementRewardQuantity(ctx context.Context, rewardID string) (bool, error)
	RewardStock(ctx context.Context, rewardID string) (int, int, error)
	ParticipantSpins(ctx context.Context, participantID string) (int, error)
	InsertSpinHistory(ctx context.Context, h models.SpinHistory) error
	Commit() error
	Rollback() error
}

// Store opens spin transactions.
type Store interface {
	BeginSpin(ctx context.Context) (Tx, error)
}

type dbStore struct{ db *database.DB }

// FromDB adapts the sqlite store.
func FromDB(db *database.DB) Store { return dbStore{db: db} }

func (s dbStore) BeginSpin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginSpin(ctx)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// HistoryWriter records the history row inside the commit.
type HistoryWriter interface {
	RecordTx(ctx context.Context, tx history.TxWriter, h models.SpinHistory) (string, error)
}

// Selection is a drawn reward and the weight it was drawn with.
type Selection struct {
	Reward models.Reward
	Weight probability.Weight
}

// Redraw repeats the draw without the excluded rewards. nil means no win.
type Redraw func(excluded map[string]bool) *Selection

// Quota caps the completed spins matched by Query. Max <= 0 is unlimited.
type Quota struct {
	Query database.SpinCountQuery
	Max   int
}

// Outcome is what to commit.
type Outcome struct {
	EventID       string
	ParticipantID string
	LocationID    *string
	Now           time.Time
	Selection     *Selection // nil = no win
	Quotas        []Quota
	Cooldown      time.Duration
}

// CommitResult describes what was applied.
type CommitResult struct {
	Applied        bool
	Conflict       bool     // at least one drawn reward sold out before commit
	Exhausted      []string // rewards that sold out, in the order they were hit
	Attempts       int
	Selection      *Selection // what was finally awarded, nil = no win
	HistoryID      string
	RemainingSpins int
}

// Committer applies spin outcomes.
type Committer struct {
	store      Store
	history    HistoryWriter
	maxRetries int
}

func NewCommitter(store Store, hist HistoryWriter, maxRetries int) *Committer {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Committer{store: store, history: hist, maxRetries: maxRetries}
}

// Commit applies out. ErrParticipantExhausted, ErrEventBudgetExhausted,
// ErrQuotaExceeded and ErrCooldownActive are normal races and leave nothing
// applied. ErrInvariantViolation and store
// errors are returned wrapped and leave nothing applied either.
func (c *Committer) Commit(ctx context.Context, out Outcome, redraw Redraw) (CommitResult, error) {
	res := CommitResult{}
	excluded := map[string]bool{}
	sel := out.Selection

	for {
		res.Attempts++
		applied, err := c.attempt(ctx, out, sel)
		if err != nil {
			return res, err
		}
		if applied.ok {
			res.Applied = true
			res.Selection = sel
			res.HistoryID = applied.historyID
			res.RemainingSpins = applied.remainingSpins
			return res, nil
		}

		res.Conflict = true
		res.Exhausted = append(res.Exhausted, sel.Reward.ID)
		excluded[sel.Reward.ID] = true

		if res.Attempts >= c.maxRetries || redraw == nil {
			sel = nil
		} else {
			sel = redraw(excluded)
		}
	}
}

type attemptResult struct {
	ok             bool // false = drawn reward sold out, retry
	historyID      string
	remainingSpins int
}

func (c *Committer) attempt(ctx context.Context, out Outcome, sel *Selection) (attemptResult, error) {
	tx, err := c.store.BeginSpin(ctx)
	if err != nil {
		return attemptResult{}, err
	}
	defer tx.Rollback()

	if err := checkLimits(ctx, tx, out); err != nil {
		return attemptResult{}, err
	}

	ok, err := tx.DecrementParticipantSpins(ctx, out.ParticipantID, out.Now)
	if err != nil {
		return attemptResult{}, err
	}
	if !ok {
		return attemptResult{}, ErrParticipantExhausted
	}

	ok, err = tx.DecrementEventBudget(ctx, out.EventID)
	if err != nil {
		return attemptResult{}, err
	}
	if !ok {
		return attemptResult{}, ErrEventBudgetExhausted
	}

	left, err := tx.ParticipantSpins(ctx, out.ParticipantID)
	if err != nil {
		return attemptResult{}, err
	}
	if left < 0 {
		return attemptResult{}, fmt.Errorf("%w: participant %s has %d spins", ErrInvariantViolation, out.ParticipantID, left)
	}

	h := models.SpinHistory{
		ParticipantID: out.ParticipantID,
		EventID:       out.EventID,
		LocationID:    out.LocationID,
		SpunAt:        out.Now,
		Multiplier:    1,
		ValueAwarded:  decimal.Zero,
		Outcome:       models.OutcomeLose,
	}

	if sel != nil {
		ok, err := tx.DecrementRewardQuantity(ctx, sel.Reward.ID)
		if err != nil {
			return attemptResult{}, err
		}
		if !ok {
			return attemptResult{ok: false}, tx.Rollback()
		}

		remaining, total, err := tx.RewardStock(ctx, sel.Reward.ID)
		if err != nil {
			return attemptResult{}, err
		}
		if remaining < 0 || remaining > total {
			return attemptResult{}, fmt.Errorf("%w: reward %s has %d of %d remaining", ErrInvariantViolation, sel.Reward.ID, remaining, total)
		}

		rewardID := sel.Reward.ID
		h.RewardID = &rewardID
		h.Won = true
		h.Outcome = models.OutcomeWin
		h.GoldenHour = sel.Weight.GoldenHourActive
		h.Multiplier = appliedMultiplier(sel.Weight)
		h.ValueAwarded = sel.Reward.Value
	}

	id, err := c.history.RecordTx(ctx, tx, h)
	if err != nil {
		return attemptResult{}, err
	}

	if err := tx.Commit(); err != nil {
		return attemptResult{}, err
	}
	return attemptResult{ok: true, historyID: id, remainingSpins: left}, nil
}

// checkLimits repeats the quota and cooldown checks eligibility made before
// the draw, this time with concurrent spins serialized behind the write lock.
func checkLimits(ctx context.Context, tx Tx, out Outcome) error {
	for _, q := range out.Quotas {
		if q.Max <= 0 {
			continue
		}
		n, err := tx.CountSpins(ctx, q.Query)
		if err != nil {
			return err
		}
		if n >= q.Max {
			return ErrQuotaExceeded
		}
	}

	if out.Cooldown <= 0 {
		return nil
	}
	last, err := tx.LastSpinAt(ctx, out.ParticipantID)
	if err != nil {
		return err
	}
	if last != nil {
		if left := last.Add(out.Cooldown).Sub(out.Now); left > 0 {
			return &CooldownError{Remaining: left}
		}
	}
	return nil
}

// appliedMultiplier is the location multiplier times the golden hour multiplier.
func appliedMultiplier(w probability.Weight) float64 {
	m := w.LocationMultiplier * w.GoldenHourMultiplier
	if m == 0 {
		return 1
	}
	return m
}
