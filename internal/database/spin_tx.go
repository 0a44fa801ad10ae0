package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"spin-reward-engine/internal/models"
)

// SpinTx is one spin's write transaction. Every decrement is a conditional
// UPDATE whose affected-row count tells whether the guard held, so no value
// is ever read and written back from application memory.
type SpinTx struct {
	tx *sql.Tx
}

// BeginSpin starts a write transaction. With _txlock=immediate the write
// lock is taken here, which serializes concurrent commits per database.
func (db *DB) BeginSpin(ctx context.Context) (*SpinTx, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin spin transaction: %w", err)
	}
	return &SpinTx{tx: tx}, nil
}

// Commit commits the transaction.
func (t *SpinTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit spin transaction: %w", err)
	}
	return nil
}

// Rollback aborts the transaction. Rolling back a finished transaction is a no-op.
func (t *SpinTx) Rollback() error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

func affected(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

// CountSpins counts completed spins inside the transaction. Under the
// immediate write lock no other spin can land between this read and the
// decrements that follow it.
func (t *SpinTx) CountSpins(ctx context.Context, q SpinCountQuery) (int, error) {
	spins, _, err := countSpins(ctx, t.tx, q)
	return spins, err
}

// LastSpinAt returns the later of the participant's latest completed spin
// and its stamped last_spin_at, or nil when neither exists.
func (t *SpinTx) LastSpinAt(ctx context.Context, participantID string) (*time.Time, error) {
	last, err := lastSpinAt(ctx, t.tx, participantID)
	if err != nil {
		return nil, err
	}

	var stamped sql.NullString
	err = t.tx.QueryRowContext(ctx, `SELECT last_spin_at FROM participants WHERE id = ?`, participantID).Scan(&stamped)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to read participant last spin: %w", err)
	}
	st, err := parseNullTime(stamped)
	if err != nil {
		return nil, fmt.Errorf("failed to parse participant last spin: %w", err)
	}
	if st != nil && (last == nil || st.After(*last)) {
		return st, nil
	}
	return last, nil
}

// DecrementParticipantSpins takes one spin from the participant and stamps
// last_spin_at. It reports false when the participant had none left.
func (t *SpinTx) DecrementParticipantSpins(ctx context.Context, participantID string, now time.Time) (bool, error) {
	ok, err := affected(t.tx.ExecContext(ctx, `UPDATE participants
		SET spins_remaining = spins_remaining - 1, last_spin_at = ?
		WHERE id = ? AND spins_remaining > 0`, formatTime(now), participantID))
	if err != nil {
		return false, fmt.Errorf("failed to decrement participant spins: %w", err)
	}
	return ok, nil
}

// DecrementEventBudget takes one spin from a capped event budget. Uncapped
// events always succeed.
func (t *SpinTx) DecrementEventBudget(ctx context.Context, eventID string) (bool, error) {
	ok, err := affected(t.tx.ExecContext(ctx, `UPDATE events
		SET remaining_spins = CASE WHEN remaining_spins IS NULL THEN NULL ELSE remaining_spins - 1 END
		WHERE id = ? AND (remaining_spins IS NULL OR remaining_spins > 0)`, eventID))
	if err != nil {
		return false, fmt.Errorf("failed to decrement event budget: %w", err)
	}
	return ok, nil
}

// DecrementRewardQuantity takes one unit of stock. It reports false when the
// reward sold out (or was deactivated) after it was drawn.
func (t *SpinTx) DecrementRewardQuantity(ctx context.Context, rewardID string) (bool, error) {
	ok, err := affected(t.tx.ExecContext(ctx, `UPDATE rewards
		SET remaining_quantity = remaining_quantity - 1
		WHERE id = ? AND active = 1 AND remaining_quantity > 0`, rewardID))
	if err != nil {
		return false, fmt.Errorf("failed to decrement reward quantity: %w", err)
	}
	return ok, nil
}

// RewardStock reads a reward's counters inside the transaction.
func (t *SpinTx) RewardStock(ctx context.Context, rewardID string) (remaining, total int, err error) {
	err = t.tx.QueryRowContext(ctx, `SELECT remaining_quantity, total_quantity FROM rewards WHERE id = ?`, rewardID).
		Scan(&remaining, &total)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, fmt.Errorf("reward %s: %w", rewardID, ErrNotFound)
	}
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read reward stock: %w", err)
	}
	return remaining, total, nil
}

// ParticipantSpins reads the participant's spin counter inside the transaction.
func (t *SpinTx) ParticipantSpins(ctx context.Context, participantID string) (int, error) {
	var n int
	err := t.tx.QueryRowContext(ctx, `SELECT spins_remaining FROM participants WHERE id = ?`, participantID).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("participant %s: %w", participantID, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read participant spins: %w", err)
	}
	return n, nil
}

// InsertSpinHistory writes the history row as part of the spin transaction.
func (t *SpinTx) InsertSpinHistory(ctx context.Context, h models.SpinHistory) error {
	return insertSpinHistory(ctx, t.tx, h)
}
