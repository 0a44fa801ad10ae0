package validation

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"spin-reward-engine/internal/models"
)

var (
	uuidRegex = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[1-8][0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)
	idRegex   = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:-]{0,63}$`)
)

const maxEventDuration = 2 * 365 * 24 * time.Hour

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// ValidateSpinRequest checks and normalizes a spin request in place.
func ValidateSpinRequest(req *models.SpinRequest) error {
	req.EventID = SanitizeString(req.EventID)
	req.ParticipantID = SanitizeString(req.ParticipantID)
	req.LocationID = SanitizeString(req.LocationID)

	if err := ValidateID(req.EventID, "event_id"); err != nil {
		return err
	}
	if err := ValidateID(req.ParticipantID, "participant_id"); err != nil {
		return err
	}
	if req.LocationID != "" {
		if err := ValidateID(req.LocationID, "location_id"); err != nil {
			return err
		}
	}
	return nil
}

func ValidateEvent(e models.Event) error {
	if err := ValidateID(e.ID, "id"); err != nil {
		return err
	}
	if strings.TrimSpace(e.Code) == "" {
		return &ValidationError{Field: "code", Message: "is required"}
	}
	if e.StartsAt.IsZero() {
		return &ValidationError{Field: "starts_at", Message: "is required"}
	}
	if e.EndsAt.IsZero() {
		return &ValidationError{Field: "ends_at", Message: "is required"}
	}
	if !e.StartsAt.Before(e.EndsAt) {
		return &ValidationError{Field: "starts_at", Message: "must be before ends_at"}
	}
	if e.EndsAt.Sub(e.StartsAt) > maxEventDuration {
		return &ValidationError{Field: "ends_at", Message: "event duration cannot exceed 2 years"}
	}
	if e.TotalSpins != nil && *e.TotalSpins < 0 {
		return &ValidationError{Field: "total_spins", Message: "must be non-negative"}
	}
	if e.RemainingSpins != nil {
		if *e.RemainingSpins < 0 {
			return &ValidationError{Field: "remaining_spins", Message: "must be non-negative"}
		}
		if e.TotalSpins == nil || *e.RemainingSpins > *e.TotalSpins {
			return &ValidationError{Field: "remaining_spins", Message: "cannot exceed total_spins"}
		}
	}
	if e.WeeklySpinLimit < 0 {
		return &ValidationError{Field: "weekly_spin_limit", Message: "must be non-negative"}
	}
	if e.MonthlySpinLimit < 0 {
		return &ValidationError{Field: "monthly_spin_limit", Message: "must be non-negative"}
	}
	if e.CooldownSeconds < 0 {
		return &ValidationError{Field: "cooldown_seconds", Message: "must be non-negative"}
	}
	return nil
}

func ValidateLocation(l models.EventLocation) error {
	if err := ValidateID(l.ID, "id"); err != nil {
		return err
	}
	if err := ValidateID(l.EventID, "event_id"); err != nil {
		return err
	}
	if l.DailySpinLimit < 0 {
		return &ValidationError{Field: "daily_spin_limit", Message: "must be non-negative"}
	}
	if l.WinProbabilityMultiplier < 0 {
		return &ValidationError{Field: "win_probability_multiplier", Message: "must be non-negative"}
	}
	return nil
}

func ValidateParticipant(p models.Participant) error {
	if err := ValidateID(p.ID, "id"); err != nil {
		return err
	}
	if err := ValidateID(p.EventID, "event_id"); err != nil {
		return err
	}
	if p.LocationID != nil {
		if err := ValidateID(*p.LocationID, "location_id"); err != nil {
			return err
		}
	}
	if p.SpinsRemaining < 0 {
		return &ValidationError{Field: "spins_remaining", Message: "must be non-negative"}
	}
	if p.DailySpinLimit < 0 {
		return &ValidationError{Field: "daily_spin_limit", Message: "must be non-negative"}
	}
	return nil
}

func ValidateReward(r models.Reward) error {
	if err := ValidateID(r.ID, "id"); err != nil {
		return err
	}
	if err := ValidateID(r.EventID, "event_id"); err != nil {
		return err
	}
	if strings.TrimSpace(r.Name) == "" {
		return &ValidationError{Field: "name", Message: "is required"}
	}
	if r.WinProbability < 0 {
		return &ValidationError{Field: "win_probability", Message: "must be non-negative"}
	}
	if r.TotalQuantity < 0 {
		return &ValidationError{Field: "total_quantity", Message: "must be non-negative"}
	}
	if r.RemainingQuantity < 0 || r.RemainingQuantity > r.TotalQuantity {
		return &ValidationError{Field: "remaining_quantity", Message: "must be between 0 and total_quantity"}
	}
	if r.Value.IsNegative() {
		return &ValidationError{Field: "value", Message: "must be non-negative"}
	}
	if r.StartsAt != nil && r.EndsAt != nil && !r.StartsAt.Before(*r.EndsAt) {
		return &ValidationError{Field: "starts_at", Message: "must be before ends_at"}
	}

	seen := make(map[string]bool)
	for i, p := range r.Provinces {
		p = strings.ToLower(SanitizeString(p))
		if p == "" {
			return &ValidationError{Field: fmt.Sprintf("provinces[%d]", i), Message: "is empty"}
		}
		if seen[p] {
			return &ValidationError{Field: "provinces", Message: fmt.Sprintf("duplicate province: %s", p)}
		}
		seen[p] = true
	}
	return nil
}

func ValidateGoldenHour(g models.GoldenHour) error {
	if err := ValidateID(g.ID, "id"); err != nil {
		return err
	}
	if err := ValidateID(g.EventID, "event_id"); err != nil {
		return err
	}
	if g.RewardID != nil {
		if err := ValidateID(*g.RewardID, "reward_id"); err != nil {
			return err
		}
	}
	if g.Multiplier < 1 {
		return &ValidationError{Field: "multiplier", Message: "must be at least 1.0"}
	}

	switch g.Kind {
	case models.GoldenHourAbsolute:
		if g.StartsAt == nil || g.EndsAt == nil {
			return &ValidationError{Field: "starts_at", Message: "absolute windows need starts_at and ends_at"}
		}
		if !g.StartsAt.Before(*g.EndsAt) {
			return &ValidationError{Field: "starts_at", Message: "must be before ends_at"}
		}
	case models.GoldenHourDaily:
		if g.StartSecond < 0 || g.StartSecond >= 86400 {
			return &ValidationError{Field: "start_second", Message: "must be within a day"}
		}
		if g.EndSecond < 0 || g.EndSecond >= 86400 {
			return &ValidationError{Field: "end_second", Message: "must be within a day"}
		}
		if g.StartSecond == g.EndSecond {
			return &ValidationError{Field: "end_second", Message: "window must not be empty"}
		}
		for i, d := range g.Weekdays {
			if d < time.Sunday || d > time.Saturday {
				return &ValidationError{Field: fmt.Sprintf("weekdays[%d]", i), Message: "is not a weekday"}
			}
		}
	default:
		return &ValidationError{Field: "kind", Message: "must be ABSOLUTE or DAILY"}
	}
	return nil
}

func SanitizeString(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)

	return strings.TrimSpace(s)
}

// ValidateID accepts uuids and short slug-like catalog ids.
func ValidateID(id, fieldName string) error {
	if id == "" {
		return &ValidationError{Field: fieldName, Message: "is required"}
	}
	if !idRegex.MatchString(SanitizeString(id)) {
		return &ValidationError{Field: fieldName, Message: "must be 1-64 letters, digits, or _.:- characters"}
	}
	return nil
}

func ValidateUUID(id, fieldName string) error {
	if id == "" {
		return &ValidationError{
			Field:   fieldName,
			Message: "is required",
		}
	}

	id = SanitizeString(id)

	if !uuidRegex.MatchString(strings.ToLower(id)) {
		return &ValidationError{
			Field:   fieldName,
			Message: "must be a valid UUID",
		}
	}

	return nil
}

// ValidateTimeString parses an RFC3339 timestamp. Empty input yields the zero
// time so callers can fall back to the clock.
func ValidateTimeString(timeStr, fieldName string) (time.Time, error) {
	if timeStr == "" {
		return time.Time{}, nil
	}

	t, err := time.Parse(time.RFC3339Nano, timeStr)
	if err != nil {
		return time.Time{}, &ValidationError{
			Field:   fieldName,
			Message: "must be a valid RFC3339 timestamp",
		}
	}

	return t, nil
}
