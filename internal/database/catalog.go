package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"spin-reward-engine/internal/models"
)

type rowScanner interface {
	Scan(dest ...any) error
}

// CatalogTx writes catalog records inside one transaction.
type CatalogTx struct {
	tx *sql.Tx
}

// WithCatalogTx runs fn in a transaction and commits only when it returns
// nil, so a failed load leaves no partial catalog behind.
func (db *DB) WithCatalogTx(ctx context.Context, fn func(*CatalogTx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin catalog transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&CatalogTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit catalog transaction: %w", err)
	}
	return nil
}

func (t *CatalogTx) UpsertEvent(ctx context.Context, e models.Event) error {
	return upsertEvent(ctx, t.tx, e)
}

func (t *CatalogTx) UpsertLocation(ctx context.Context, l models.EventLocation) error {
	return upsertLocation(ctx, t.tx, l)
}

func (t *CatalogTx) UpsertParticipant(ctx context.Context, p models.Participant) error {
	return upsertParticipant(ctx, t.tx, p)
}

func (t *CatalogTx) UpsertReward(ctx context.Context, r models.Reward) error {
	return upsertReward(ctx, t.tx, r)
}

func (t *CatalogTx) UpsertGoldenHour(ctx context.Context, g models.GoldenHour) error {
	return upsertGoldenHour(ctx, t.tx, g)
}

// UpsertEvent creates or updates an event.
func (db *DB) UpsertEvent(ctx context.Context, e models.Event) error {
	return upsertEvent(ctx, db.conn, e)
}

func upsertEvent(ctx context.Context, ex execer, e models.Event) error {
	query := `INSERT INTO events (
		id, code, active, starts_at, ends_at, total_spins, remaining_spins,
		weekly_spin_limit, monthly_spin_limit, cooldown_seconds, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		code = excluded.code,
		active = excluded.active,
		starts_at = excluded.starts_at,
		ends_at = excluded.ends_at,
		total_spins = excluded.total_spins,
		remaining_spins = excluded.remaining_spins,
		weekly_spin_limit = excluded.weekly_spin_limit,
		monthly_spin_limit = excluded.monthly_spin_limit,
		cooldown_seconds = excluded.cooldown_seconds,
		updated_at = excluded.updated_at`

	_, err := ex.ExecContext(ctx, query,
		e.ID,
		e.Code,
		e.Active,
		formatTime(e.StartsAt),
		formatTime(e.EndsAt),
		nullInt(e.TotalSpins),
		nullInt(e.RemainingSpins),
		e.WeeklySpinLimit,
		e.MonthlySpinLimit,
		e.CooldownSeconds,
		formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert event: %w", err)
	}
	return nil
}

// GetEvent returns the event with the given id.
func (db *DB) GetEvent(ctx context.Context, id string) (models.Event, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT id, code, active, starts_at, ends_at,
		total_spins, remaining_spins, weekly_spin_limit, monthly_spin_limit, cooldown_seconds
		FROM events WHERE id = ?`, id)

	var e models.Event
	var startsAt, endsAt string
	var total, remaining sql.NullInt64
	err := row.Scan(&e.ID, &e.Code, &e.Active, &startsAt, &endsAt, &total, &remaining,
		&e.WeeklySpinLimit, &e.MonthlySpinLimit, &e.CooldownSeconds)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Event{}, fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Event{}, fmt.Errorf("failed to scan event: %w", err)
	}

	if e.StartsAt, err = parseTime(startsAt); err != nil {
		return models.Event{}, fmt.Errorf("failed to parse starts_at: %w", err)
	}
	if e.EndsAt, err = parseTime(endsAt); err != nil {
		return models.Event{}, fmt.Errorf("failed to parse ends_at: %w", err)
	}
	e.TotalSpins = intPtr(total)
	e.RemainingSpins = intPtr(remaining)
	return e, nil
}

// UpsertLocation creates or updates an event location.
func (db *DB) UpsertLocation(ctx context.Context, l models.EventLocation) error {
	return upsertLocation(ctx, db.conn, l)
}

func upsertLocation(ctx context.Context, ex execer, l models.EventLocation) error {
	query := `INSERT INTO event_locations (
		id, event_id, name, province, daily_spin_limit, win_probability_multiplier, active, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		event_id = excluded.event_id,
		name = excluded.name,
		province = excluded.province,
		daily_spin_limit = excluded.daily_spin_limit,
		win_probability_multiplier = excluded.win_probability_multiplier,
		active = excluded.active,
		updated_at = excluded.updated_at`

	_, err := ex.ExecContext(ctx, query,
		l.ID, l.EventID, l.Name, l.Province, l.DailySpinLimit,
		l.WinProbabilityMultiplier, l.Active, formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert location: %w", err)
	}
	return nil
}

// GetLocation returns the location with the given id.
func (db *DB) GetLocation(ctx context.Context, id string) (models.EventLocation, error) {
	var l models.EventLocation
	err := db.conn.QueryRowContext(ctx, `SELECT id, event_id, name, province, daily_spin_limit,
		win_probability_multiplier, active FROM event_locations WHERE id = ?`, id).
		Scan(&l.ID, &l.EventID, &l.Name, &l.Province, &l.DailySpinLimit, &l.WinProbabilityMultiplier, &l.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return models.EventLocation{}, fmt.Errorf("location %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.EventLocation{}, fmt.Errorf("failed to scan location: %w", err)
	}
	return l, nil
}

// UpsertParticipant creates or updates a participant.
func (db *DB) UpsertParticipant(ctx context.Context, p models.Participant) error {
	return upsertParticipant(ctx, db.conn, p)
}

func upsertParticipant(ctx context.Context, ex execer, p models.Participant) error {
	query := `INSERT INTO participants (
		id, event_id, location_id, spins_remaining, daily_spin_limit, eligible_for_spin, last_spin_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		event_id = excluded.event_id,
		location_id = excluded.location_id,
		spins_remaining = excluded.spins_remaining,
		daily_spin_limit = excluded.daily_spin_limit,
		eligible_for_spin = excluded.eligible_for_spin,
		last_spin_at = excluded.last_spin_at,
		updated_at = excluded.updated_at`

	_, err := ex.ExecContext(ctx, query,
		p.ID, p.EventID, nullString(p.LocationID), p.SpinsRemaining, p.DailySpinLimit,
		p.EligibleForSpin, nullTime(p.LastSpinAt), formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert participant: %w", err)
	}
	return nil
}

// GetParticipant returns the participant with the given id.
func (db *DB) GetParticipant(ctx context.Context, id string) (models.Participant, error) {
	return scanParticipant(db.conn.QueryRowContext(ctx, participantSelect, id), id)
}

const participantSelect = `SELECT id, event_id, location_id, spins_remaining, daily_spin_limit,
	eligible_for_spin, last_spin_at FROM participants WHERE id = ?`

func scanParticipant(row rowScanner, id string) (models.Participant, error) {
	var p models.Participant
	var locationID, lastSpin sql.NullString
	err := row.Scan(&p.ID, &p.EventID, &locationID, &p.SpinsRemaining, &p.DailySpinLimit,
		&p.EligibleForSpin, &lastSpin)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Participant{}, fmt.Errorf("participant %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Participant{}, fmt.Errorf("failed to scan participant: %w", err)
	}
	p.LocationID = stringPtr(locationID)
	if p.LastSpinAt, err = parseNullTime(lastSpin); err != nil {
		return models.Participant{}, fmt.Errorf("failed to parse last_spin_at: %w", err)
	}
	return p, nil
}

// UpsertReward creates or updates a reward.
func (db *DB) UpsertReward(ctx context.Context, r models.Reward) error {
	return upsertReward(ctx, db.conn, r)
}

func upsertReward(ctx context.Context, ex execer, r models.Reward) error {
	query := `INSERT INTO rewards (
		id, event_id, location_id, provinces, name, win_probability, total_quantity,
		remaining_quantity, value, starts_at, ends_at, active, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		event_id = excluded.event_id,
		location_id = excluded.location_id,
		provinces = excluded.provinces,
		name = excluded.name,
		win_probability = excluded.win_probability,
		total_quantity = excluded.total_quantity,
		remaining_quantity = excluded.remaining_quantity,
		value = excluded.value,
		starts_at = excluded.starts_at,
		ends_at = excluded.ends_at,
		active = excluded.active,
		updated_at = excluded.updated_at`

	_, err := ex.ExecContext(ctx, query,
		r.ID, r.EventID, nullString(r.LocationID), serializeList(r.Provinces), r.Name,
		r.WinProbability, r.TotalQuantity, r.RemainingQuantity, r.Value.String(),
		nullTime(r.StartsAt), nullTime(r.EndsAt), r.Active, formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert reward: %w", err)
	}
	return nil
}

const rewardColumns = `id, event_id, location_id, provinces, name, win_probability,
	total_quantity, remaining_quantity, value, starts_at, ends_at, active`

func scanReward(row rowScanner) (models.Reward, error) {
	var r models.Reward
	var locationID, startsAt, endsAt sql.NullString
	var provinces string
	err := row.Scan(&r.ID, &r.EventID, &locationID, &provinces, &r.Name, &r.WinProbability,
		&r.TotalQuantity, &r.RemainingQuantity, &r.Value, &startsAt, &endsAt, &r.Active)
	if err != nil {
		return models.Reward{}, err
	}
	r.LocationID = stringPtr(locationID)
	r.Provinces = deserializeStrings(provinces)
	if r.StartsAt, err = parseNullTime(startsAt); err != nil {
		return models.Reward{}, fmt.Errorf("failed to parse reward starts_at: %w", err)
	}
	if r.EndsAt, err = parseNullTime(endsAt); err != nil {
		return models.Reward{}, fmt.Errorf("failed to parse reward ends_at: %w", err)
	}
	return r, nil
}

// GetReward returns the reward with the given id.
func (db *DB) GetReward(ctx context.Context, id string) (models.Reward, error) {
	r, err := scanReward(db.conn.QueryRowContext(ctx, `SELECT `+rewardColumns+` FROM rewards WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Reward{}, fmt.Errorf("reward %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Reward{}, fmt.Errorf("failed to scan reward: %w", err)
	}
	return r, nil
}

// ListStockedRewards returns active rewards of an event that still have stock,
// ordered by id. Validity windows and location scoping are applied by the caller.
func (db *DB) ListStockedRewards(ctx context.Context, eventID string) ([]models.Reward, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT `+rewardColumns+` FROM rewards
		WHERE event_id = ? AND active = 1 AND remaining_quantity > 0
		ORDER BY id`, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rewards: %w", err)
	}
	defer rows.Close()

	var rewards []models.Reward
	for rows.Next() {
		r, err := scanReward(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reward: %w", err)
		}
		rewards = append(rewards, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rewards: %w", err)
	}
	return rewards, nil
}

// UpsertGoldenHour creates or updates a golden hour.
func (db *DB) UpsertGoldenHour(ctx context.Context, g models.GoldenHour) error {
	return upsertGoldenHour(ctx, db.conn, g)
}

func upsertGoldenHour(ctx context.Context, ex execer, g models.GoldenHour) error {
	query := `INSERT INTO golden_hours (
		id, event_id, reward_id, kind, starts_at, ends_at, start_second, end_second,
		weekdays, multiplier, active
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		event_id = excluded.event_id,
		reward_id = excluded.reward_id,
		kind = excluded.kind,
		starts_at = excluded.starts_at,
		ends_at = excluded.ends_at,
		start_second = excluded.start_second,
		end_second = excluded.end_second,
		weekdays = excluded.weekdays,
		multiplier = excluded.multiplier,
		active = excluded.active`

	_, err := ex.ExecContext(ctx, query,
		g.ID, g.EventID, nullString(g.RewardID), string(g.Kind), nullTime(g.StartsAt), nullTime(g.EndsAt),
		g.StartSecond, g.EndSecond, serializeList(g.Weekdays), g.Multiplier, g.Active,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert golden hour: %w", err)
	}
	return nil
}

// ListGoldenHours returns the active golden hours of an event.
func (db *DB) ListGoldenHours(ctx context.Context, eventID string) ([]models.GoldenHour, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT id, event_id, reward_id, kind, starts_at, ends_at,
		start_second, end_second, weekdays, multiplier, active
		FROM golden_hours WHERE event_id = ? AND active = 1 ORDER BY id`, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to query golden hours: %w", err)
	}
	defer rows.Close()

	var hours []models.GoldenHour
	for rows.Next() {
		var g models.GoldenHour
		var rewardID, startsAt, endsAt sql.NullString
		var kind, weekdays string
		if err := rows.Scan(&g.ID, &g.EventID, &rewardID, &kind, &startsAt, &endsAt,
			&g.StartSecond, &g.EndSecond, &weekdays, &g.Multiplier, &g.Active); err != nil {
			return nil, fmt.Errorf("failed to scan golden hour: %w", err)
		}
		g.Kind = models.GoldenHourKind(kind)
		g.RewardID = stringPtr(rewardID)
		if g.StartsAt, err = parseNullTime(startsAt); err != nil {
			return nil, fmt.Errorf("failed to parse golden hour starts_at: %w", err)
		}
		if g.EndsAt, err = parseNullTime(endsAt); err != nil {
			return nil, fmt.Errorf("failed to parse golden hour ends_at: %w", err)
		}
		if g.Weekdays, err = deserializeWeekdays(weekdays); err != nil {
			return nil, err
		}
		hours = append(hours, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating golden hours: %w", err)
	}
	return hours, nil
}
