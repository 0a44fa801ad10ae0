package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event is a campaign that owns locations, rewards and participants.
type Event struct {
	ID               string    `json:"id"` // uuid
	Code             string    `json:"code"`
	Active           bool      `json:"active"`
	StartsAt         time.Time `json:"starts_at"`
	EndsAt           time.Time `json:"ends_at"`
	TotalSpins       *int      `json:"total_spins,omitempty"`     // nil = uncapped
	RemainingSpins   *int      `json:"remaining_spins,omitempty"` // nil = uncapped
	WeeklySpinLimit  int       `json:"weekly_spin_limit"`         // per participant, 0 = none
	MonthlySpinLimit int       `json:"monthly_spin_limit"`        // per participant, 0 = none
	CooldownSeconds  int       `json:"cooldown_seconds"`          // 0 = use engine default
}

// EventLocation is a physical or logical place where spins happen.
type EventLocation struct {
	ID                       string  `json:"id"`
	EventID                  string  `json:"event_id"`
	Name                     string  `json:"name"`
	Province                 string  `json:"province"`
	DailySpinLimit           int     `json:"daily_spin_limit"` // location-wide, 0 = unlimited
	WinProbabilityMultiplier float64 `json:"win_probability_multiplier"`
	Active                   bool    `json:"active"`
}

// Participant is someone allowed to spin under an event.
type Participant struct {
	ID              string     `json:"id"`
	EventID         string     `json:"event_id"`
	LocationID      *string    `json:"location_id,omitempty"`
	SpinsRemaining  int        `json:"spins_remaining"`
	DailySpinLimit  int        `json:"daily_spin_limit"` // 0 = unlimited
	EligibleForSpin bool       `json:"eligible_for_spin"`
	LastSpinAt      *time.Time `json:"last_spin_at,omitempty"`
}

// Reward is an awardable prize with a limited stock.
type Reward struct {
	ID                string          `json:"id"`
	EventID           string          `json:"event_id"`
	LocationID        *string         `json:"location_id,omitempty"`
	Provinces         []string        `json:"provinces,omitempty"`
	Name              string          `json:"name"`
	WinProbability    float64         `json:"win_probability"`
	TotalQuantity     int             `json:"total_quantity"`
	RemainingQuantity int             `json:"remaining_quantity"`
	Value             decimal.Decimal `json:"value"`
	StartsAt          *time.Time      `json:"starts_at,omitempty"`
	EndsAt            *time.Time      `json:"ends_at,omitempty"`
	Active            bool            `json:"active"`
}

// GoldenHourKind tells how a golden hour window is expressed.
type GoldenHourKind string

const (
	// GoldenHourAbsolute is a fixed [StartsAt, EndsAt) timestamp window.
	GoldenHourAbsolute GoldenHourKind = "ABSOLUTE"
	// GoldenHourDaily is a [StartSecond, EndSecond) window repeated every day
	// (or only on Weekdays when set).
	GoldenHourDaily GoldenHourKind = "DAILY"
)

// GoldenHour boosts a reward's weight while it is running.
type GoldenHour struct {
	ID          string         `json:"id"`
	EventID     string         `json:"event_id"`
	RewardID    *string        `json:"reward_id,omitempty"` // nil = every reward of the event
	Kind        GoldenHourKind `json:"kind"`
	StartsAt    *time.Time     `json:"starts_at,omitempty"`
	EndsAt      *time.Time     `json:"ends_at,omitempty"`
	StartSecond int            `json:"start_second"` // seconds since local midnight
	EndSecond   int            `json:"end_second"`
	Weekdays    []time.Weekday `json:"weekdays,omitempty"`
	Multiplier  float64        `json:"multiplier"`
	Active      bool           `json:"active"`
}

// SpinOutcome classifies a history row.
type SpinOutcome string

const (
	OutcomeWin      SpinOutcome = "WIN"
	OutcomeLose     SpinOutcome = "LOSE"
	OutcomeRejected SpinOutcome = "REJECTED"
)

// SpinHistory is the immutable record of one spin attempt.
type SpinHistory struct {
	ID            string          `json:"id"`
	ParticipantID string          `json:"participant_id"`
	EventID       string          `json:"event_id"`
	LocationID    *string         `json:"location_id,omitempty"`
	RewardID      *string         `json:"reward_id,omitempty"`
	SpunAt        time.Time       `json:"spun_at"`
	Won           bool            `json:"won"`
	GoldenHour    bool            `json:"golden_hour"`
	Multiplier    float64         `json:"multiplier"`
	ValueAwarded  decimal.Decimal `json:"value_awarded"`
	Outcome       SpinOutcome     `json:"outcome"`
	ReasonCode    ReasonCode      `json:"reason_code,omitempty"`
	Claimed       bool            `json:"claimed"`
}

// ReasonCode explains why a spin was rejected.
type ReasonCode string

const (
	ReasonNone                  ReasonCode = ""
	ReasonEventInactive         ReasonCode = "EVENT_INACTIVE"
	ReasonEventNotStarted       ReasonCode = "EVENT_NOT_STARTED"
	ReasonEventEnded            ReasonCode = "EVENT_ENDED"
	ReasonEventBudgetExhausted  ReasonCode = "EVENT_BUDGET_EXHAUSTED"
	ReasonLocationInvalid       ReasonCode = "LOCATION_INVALID"
	ReasonParticipantIneligible ReasonCode = "PARTICIPANT_INELIGIBLE"
	ReasonNoRemainingSpins      ReasonCode = "NO_REMAINING_SPINS"
	ReasonQuotaExceeded         ReasonCode = "QUOTA_EXCEEDED"
	ReasonTimeConstraint        ReasonCode = "TIME_CONSTRAINT"
)

// SpinStatus is the caller-facing status of a spin.
type SpinStatus string

const (
	StatusSuccess           SpinStatus = "SUCCESS"
	StatusIneligible        SpinStatus = "INELIGIBLE"
	StatusNoRemainingSpins  SpinStatus = "NO_REMAINING_SPINS"
	StatusRewardUnavailable SpinStatus = "REWARD_UNAVAILABLE"
	StatusSystemError       SpinStatus = "SYSTEM_ERROR"
	StatusQuotaExceeded     SpinStatus = "QUOTA_EXCEEDED"
	StatusTimeConstraint    SpinStatus = "TIME_CONSTRAINT"
	StatusLocationInvalid   SpinStatus = "LOCATION_INVALID"
)

// StatusForReason maps an eligibility reason to the status returned to callers.
func StatusForReason(r ReasonCode) SpinStatus {
	switch r {
	case ReasonLocationInvalid:
		return StatusLocationInvalid
	case ReasonNoRemainingSpins, ReasonEventBudgetExhausted:
		return StatusNoRemainingSpins
	case ReasonQuotaExceeded:
		return StatusQuotaExceeded
	case ReasonTimeConstraint:
		return StatusTimeConstraint
	default:
		return StatusIneligible
	}
}

// Stats are windowed counts over a participant's spin history.
type Stats struct {
	DailySpins     int        `json:"daily_spins"`
	DailyWins      int        `json:"daily_wins"`
	WeeklySpins    int        `json:"weekly_spins"`
	WeeklyWins     int        `json:"weekly_wins"`
	MonthlySpins   int        `json:"monthly_spins"`
	MonthlyWins    int        `json:"monthly_wins"`
	LastSpinAt     *time.Time `json:"last_spin_at,omitempty"`
	NextEligibleAt *time.Time `json:"next_eligible_at,omitempty"`
}

// SpinRequest is what the request layer hands to the engine.
type SpinRequest struct {
	EventID       string    `json:"event_id"`
	ParticipantID string    `json:"participant_id"`
	LocationID    string    `json:"location_id,omitempty"`
	RequestedAt   time.Time `json:"requested_at,omitempty"`
}

// SpinResult is returned for every spin, accepted or not.
type SpinResult struct {
	Status            SpinStatus       `json:"status"`
	Won               bool             `json:"won"`
	RewardID          *string          `json:"reward_id,omitempty"`
	RewardName        *string          `json:"reward_name,omitempty"`
	RewardValue       *decimal.Decimal `json:"reward_value,omitempty"`
	RemainingSpins    int              `json:"remaining_spins"`
	IsGoldenHour      bool             `json:"is_golden_hour"`
	MultiplierApplied float64          `json:"multiplier_applied"`
	Message           string           `json:"message"`
	ReasonCode        ReasonCode       `json:"reason_code,omitempty"`
	CooldownSeconds   int64            `json:"cooldown_seconds"`
	HistoryID         string           `json:"history_id,omitempty"`
	Stats             *Stats           `json:"stats,omitempty"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Catalog is a bundle of configuration records loaded together.
type Catalog struct {
	Events       []Event         `json:"events"`
	Locations    []EventLocation `json:"locations"`
	Participants []Participant   `json:"participants"`
	Rewards      []Reward        `json:"rewards"`
	GoldenHours  []GoldenHour    `json:"golden_hours"`
}

// CatalogSummary counts what a catalog load wrote.
type CatalogSummary struct {
	Events       int `json:"events"`
	Locations    int `json:"locations"`
	Participants int `json:"participants"`
	Rewards      int `json:"rewards"`
	GoldenHours  int `json:"golden_hours"`
}
