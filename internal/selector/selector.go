// Package selector performs the weighted reward draw.
package selector

import (
	"fmt"
	"sort"
	"strings"

	"spin-reward-engine/internal/clock"
)

// NoWinPolicy fixes where the "no win" probability mass comes from.
type NoWinPolicy string

const (
	// NoWinGlobal treats weights as probabilities out of 1.0. When the
	// drawable weights sum to less than 1 the remainder is a no-win slice at
	// the end of the distribution; when they sum to 1 or more there is none.
	NoWinGlobal NoWinPolicy = "global"
	// NoWinNormalized normalizes among drawable rewards only, so a draw
	// always wins while any reward has positive weight.
	NoWinNormalized NoWinPolicy = "normalized"
)

// ParseNoWinPolicy parses a configured policy name.
func ParseNoWinPolicy(s string) (NoWinPolicy, error) {
	switch NoWinPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", NoWinGlobal:
		return NoWinGlobal, nil
	case NoWinNormalized:
		return NoWinNormalized, nil
	default:
		return "", fmt.Errorf("unknown no-win policy %q", s)
	}
}

// Select draws one reward id, or ok=false for no win.
//
// Rewards are walked in ascending id order with a running sum and the first
// one whose sum reaches r = rng.Float64() × denominator wins, so the same
// weights and the same random value always give the same reward. If the
// total positive weight is zero the RNG is not consulted.
func Select(weights map[string]float64, rng clock.RNG, policy NoWinPolicy) (string, bool) {
	ids := make([]string, 0, len(weights))
	total := 0.0
	for id, w := range weights {
		if w > 0 {
			ids = append(ids, id)
			total += w
		}
	}
	if total <= 0 {
		return "", false
	}
	sort.Strings(ids)

	denominator := total
	if policy != NoWinNormalized && total < 1 {
		denominator = 1
	}

	id, ok := Pick(ids, weights, rng.Float64()*denominator)
	if !ok && denominator == total {
		// r < total always; only float rounding in the running sum lands here
		return ids[len(ids)-1], true
	}
	return id, ok
}

// Pick walks ids in the given order and returns the first whose cumulative
// weight reaches r. A zero-weight id is never picked. r beyond the total
// weight is a no win.
func Pick(ids []string, weights map[string]float64, r float64) (string, bool) {
	sum := 0.0
	for _, id := range ids {
		w := weights[id]
		if w <= 0 {
			continue
		}
		sum += w
		if sum >= r {
			return id, true
		}
	}
	return "", false
}
