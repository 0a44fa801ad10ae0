package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("database: record not found")

// timeLayout is fixed-width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// DB wraps the database connection and provides methods for data access.
type DB struct {
	conn *sql.DB
}

// NewDB creates a new database connection and initializes the schema.
//
// Write transactions take the sqlite write lock up front (_txlock=immediate)
// and wait on it for up to busyTimeout, so concurrent spins queue at the
// data layer instead of failing with SQLITE_BUSY.
func NewDB(dbPath string) (*DB, error) {
	dsn := dbPath + "?_foreign_keys=1&_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate"
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks that the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// initSchema creates the necessary tables if they don't exist.
func (db *DB) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			code TEXT NOT NULL UNIQUE,
			active INTEGER NOT NULL,
			starts_at TEXT NOT NULL,
			ends_at TEXT NOT NULL,
			total_spins INTEGER,
			remaining_spins INTEGER CHECK (remaining_spins IS NULL OR remaining_spins >= 0),
			weekly_spin_limit INTEGER NOT NULL DEFAULT 0,
			monthly_spin_limit INTEGER NOT NULL DEFAULT 0,
			cooldown_seconds INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS event_locations (
			id TEXT PRIMARY KEY,
			event_id TEXT NOT NULL REFERENCES events(id),
			name TEXT NOT NULL,
			province TEXT NOT NULL DEFAULT '',
			daily_spin_limit INTEGER NOT NULL DEFAULT 0,
			win_probability_multiplier REAL NOT NULL DEFAULT 1.0,
			active INTEGER NOT NULL,
			updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS participants (
			id TEXT PRIMARY KEY,
			event_id TEXT NOT NULL REFERENCES events(id),
			location_id TEXT REFERENCES event_locations(id),
			spins_remaining INTEGER NOT NULL,
			daily_spin_limit INTEGER NOT NULL DEFAULT 0,
			eligible_for_spin INTEGER NOT NULL,
			last_spin_at TEXT,
			updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS rewards (
			id TEXT PRIMARY KEY,
			event_id TEXT NOT NULL REFERENCES events(id),
			location_id TEXT REFERENCES event_locations(id),
			provinces TEXT NOT NULL DEFAULT '[]',
			name TEXT NOT NULL,
			win_probability REAL NOT NULL,
			total_quantity INTEGER NOT NULL,
			remaining_quantity INTEGER NOT NULL,
			value TEXT NOT NULL DEFAULT '0',
			starts_at TEXT,
			ends_at TEXT,
			active INTEGER NOT NULL,
			updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS golden_hours (
			id TEXT PRIMARY KEY,
			event_id TEXT NOT NULL REFERENCES events(id),
			reward_id TEXT REFERENCES rewards(id),
			kind TEXT NOT NULL,
			starts_at TEXT,
			ends_at TEXT,
			start_second INTEGER NOT NULL DEFAULT 0,
			end_second INTEGER NOT NULL DEFAULT 0,
			weekdays TEXT NOT NULL DEFAULT '[]',
			multiplier REAL NOT NULL,
			active INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS spin_history (
			id TEXT PRIMARY KEY,
			participant_id TEXT NOT NULL,
			event_id TEXT NOT NULL,
			location_id TEXT,
			reward_id TEXT,
			spun_at TEXT NOT NULL,
			won INTEGER NOT NULL,
			golden_hour INTEGER NOT NULL,
			multiplier REAL NOT NULL,
			value_awarded TEXT NOT NULL DEFAULT '0',
			outcome TEXT NOT NULL,
			reason_code TEXT NOT NULL DEFAULT '',
			claimed INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rewards_event ON rewards(event_id)`,
		`CREATE INDEX IF NOT EXISTS idx_golden_hours_event ON golden_hours(event_id)`,
		`CREATE INDEX IF NOT EXISTS idx_history_participant_spun_at ON spin_history(participant_id, spun_at)`,
		`CREATE INDEX IF NOT EXISTS idx_history_location_spun_at ON spin_history(location_id, spun_at)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return fmt.Errorf("failed to execute schema query: %w", err)
		}
	}

	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func intPtr(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	i := int(ni.Int64)
	return &i
}

// serializeList converts a slice to a JSON string.
func serializeList[T any](list []T) string {
	if len(list) == 0 {
		return "[]"
	}
	data, err := json.Marshal(list)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// deserializeStrings converts a serialized string list back to a slice.
// Comma-separated values are accepted for hand-edited rows.
func deserializeStrings(serialized string) []string {
	if serialized == "" || serialized == "[]" {
		return nil
	}

	var result []string
	if err := json.Unmarshal([]byte(serialized), &result); err == nil {
		return result
	}

	return strings.Split(serialized, ",")
}

func deserializeWeekdays(serialized string) ([]time.Weekday, error) {
	if serialized == "" || serialized == "[]" {
		return nil, nil
	}
	var result []time.Weekday
	if err := json.Unmarshal([]byte(serialized), &result); err != nil {
		return nil, fmt.Errorf("failed to parse weekdays %q: %w", serialized, err)
	}
	return result, nil
}
