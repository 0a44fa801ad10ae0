package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"spin-reward-engine/internal/models"
)

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const insertHistory = `INSERT INTO spin_history (
	id, participant_id, event_id, location_id, reward_id, spun_at, won, golden_hour,
	multiplier, value_awarded, outcome, reason_code, claimed
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`

func insertSpinHistory(ctx context.Context, ex execer, h models.SpinHistory) error {
	_, err := ex.ExecContext(ctx, insertHistory,
		h.ID, h.ParticipantID, h.EventID, nullString(h.LocationID), nullString(h.RewardID),
		formatTime(h.SpunAt), h.Won, h.GoldenHour, h.Multiplier, h.ValueAwarded.String(),
		string(h.Outcome), string(h.ReasonCode),
	)
	if err != nil {
		return fmt.Errorf("failed to insert spin history %s: %w", h.ID, err)
	}
	return nil
}

// InsertSpinHistory writes one history row outside any spin transaction.
func (db *DB) InsertSpinHistory(ctx context.Context, h models.SpinHistory) error {
	return insertSpinHistory(ctx, db.conn, h)
}

// SpinCountQuery selects completed spins inside [From, To).
// Exactly one of ParticipantID or LocationID should be set.
type SpinCountQuery struct {
	ParticipantID string
	LocationID    string
	From          time.Time
	To            time.Time
}

// CountSpins counts completed (won or lost) spins and wins in the window.
// Rejected attempts are never counted.
func (db *DB) CountSpins(ctx context.Context, q SpinCountQuery) (spins int, wins int, err error) {
	return countSpins(ctx, db.conn, q)
}

func countSpins(ctx context.Context, qr querier, q SpinCountQuery) (spins int, wins int, err error) {
	query := `SELECT COUNT(*), COALESCE(SUM(won), 0) FROM spin_history
		WHERE outcome IN ('WIN', 'LOSE') AND spun_at >= ? AND spun_at < ?`
	args := []any{formatTime(q.From), formatTime(q.To)}

	switch {
	case q.ParticipantID != "":
		query += " AND participant_id = ?"
		args = append(args, q.ParticipantID)
	case q.LocationID != "":
		query += " AND location_id = ?"
		args = append(args, q.LocationID)
	default:
		return 0, 0, fmt.Errorf("count spins: participant or location is required")
	}

	if err := qr.QueryRowContext(ctx, query, args...).Scan(&spins, &wins); err != nil {
		return 0, 0, fmt.Errorf("failed to count spins: %w", err)
	}
	return spins, wins, nil
}

// LastSpinAt returns the time of the participant's latest completed spin,
// or nil when there is none.
func (db *DB) LastSpinAt(ctx context.Context, participantID string) (*time.Time, error) {
	return lastSpinAt(ctx, db.conn, participantID)
}

func lastSpinAt(ctx context.Context, qr querier, participantID string) (*time.Time, error) {
	var last sql.NullString
	err := qr.QueryRowContext(ctx, `SELECT MAX(spun_at) FROM spin_history
		WHERE participant_id = ? AND outcome IN ('WIN', 'LOSE')`, participantID).Scan(&last)
	if err != nil {
		return nil, fmt.Errorf("failed to query last spin: %w", err)
	}
	t, err := parseNullTime(last)
	if err != nil {
		return nil, fmt.Errorf("failed to parse last spin: %w", err)
	}
	return t, nil
}

// ListSpinHistory returns the most recent history rows of a participant, newest first.
func (db *DB) ListSpinHistory(ctx context.Context, participantID string, limit int) ([]models.SpinHistory, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.conn.QueryContext(ctx, `SELECT id, participant_id, event_id, location_id, reward_id,
		spun_at, won, golden_hour, multiplier, value_awarded, outcome, reason_code, claimed
		FROM spin_history WHERE participant_id = ? ORDER BY spun_at DESC, id LIMIT ?`, participantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query spin history: %w", err)
	}
	defer rows.Close()

	var out []models.SpinHistory
	for rows.Next() {
		var h models.SpinHistory
		var locationID, rewardID sql.NullString
		var spunAt, outcome, reason string
		if err := rows.Scan(&h.ID, &h.ParticipantID, &h.EventID, &locationID, &rewardID, &spunAt,
			&h.Won, &h.GoldenHour, &h.Multiplier, &h.ValueAwarded, &outcome, &reason, &h.Claimed); err != nil {
			return nil, fmt.Errorf("failed to scan spin history: %w", err)
		}
		h.LocationID = stringPtr(locationID)
		h.RewardID = stringPtr(rewardID)
		h.Outcome = models.SpinOutcome(outcome)
		h.ReasonCode = models.ReasonCode(reason)
		if h.SpunAt, err = parseTime(spunAt); err != nil {
			return nil, fmt.Errorf("failed to parse spun_at: %w", err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating spin history: %w", err)
	}
	return out, nil
}

// CountRewardWins counts winning history rows for a reward.
func (db *DB) CountRewardWins(ctx context.Context, rewardID string) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM spin_history
		WHERE reward_id = ? AND outcome = 'WIN'`, rewardID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count reward wins: %w", err)
	}
	return n, nil
}

// MarkClaimed sets the claimed flag of a winning history row. It is the only
// update ever applied to spin_history.
func (db *DB) MarkClaimed(ctx context.Context, historyID string) error {
	res, err := db.conn.ExecContext(ctx, `UPDATE spin_history SET claimed = 1
		WHERE id = ? AND outcome = 'WIN'`, historyID)
	if err != nil {
		return fmt.Errorf("failed to mark claimed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("winning spin %s: %w", historyID, ErrNotFound)
	}
	return nil
}
