package selector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spin-reward-engine/internal/clock"
)

func TestSelectZeroTotalDoesNotDraw(t *testing.T) {
	tests := []struct {
		name    string
		weights map[string]float64
	}{
		{"nil", nil},
		{"empty", map[string]float64{}},
		{"all zero", map[string]float64{"a": 0, "b": 0}},
		{"negative", map[string]float64{"a": -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rng := clock.NewSequenceRNG(0.5)
			id, ok := Select(tt.weights, rng, NoWinGlobal)
			assert.False(t, ok)
			assert.Empty(t, id)
			assert.Equal(t, 0, rng.Calls(), "rng must not be consulted")
		})
	}
}

func TestSelectWalksIdsAscending(t *testing.T) {
	weights := map[string]float64{"c": 0.2, "a": 0.2, "b": 0.2}

	tests := []struct {
		r    float64
		want string
		ok   bool
	}{
		{0.0, "a", true},
		{0.19, "a", true},
		{0.2, "a", true},
		{0.21, "b", true},
		{0.59, "c", true},
		{0.61, "", false},
		{0.99, "", false},
	}
	for _, tt := range tests {
		id, ok := Select(weights, clock.NewSequenceRNG(tt.r), NoWinGlobal)
		assert.Equal(t, tt.ok, ok, "r=%v", tt.r)
		assert.Equal(t, tt.want, id, "r=%v", tt.r)
	}
}

func TestSelectNormalizedAlwaysWins(t *testing.T) {
	weights := map[string]float64{"a": 0.1, "b": 0.3}

	id, ok := Select(weights, clock.NewSequenceRNG(0.99), NoWinNormalized)
	require.True(t, ok)
	assert.Equal(t, "b", id)

	id, ok = Select(weights, clock.NewSequenceRNG(0.2), NoWinNormalized)
	require.True(t, ok)
	assert.Equal(t, "a", id, "0.2*0.4=0.08 falls in a's slice")
}

func TestSelectFullWeightDominates(t *testing.T) {
	weights := map[string]float64{"jackpot": 100}
	rng := clock.NewSeededRNG(1)
	for i := 0; i < 1000; i++ {
		id, ok := Select(weights, rng, NoWinGlobal)
		require.True(t, ok)
		require.Equal(t, "jackpot", id)
	}
}

func TestSelectIgnoresZeroWeightAtZeroDraw(t *testing.T) {
	weights := map[string]float64{"a": 0, "b": 0.5}
	id, ok := Select(weights, clock.NewSequenceRNG(0), NoWinGlobal)
	require.True(t, ok)
	assert.Equal(t, "b", id)
}

func TestSelectIsDeterministic(t *testing.T) {
	weights := map[string]float64{"a": 0.05, "b": 0.15, "c": 0.3}

	run := func() []string {
		rng := clock.NewSeededRNG(99)
		out := make([]string, 200)
		for i := range out {
			id, ok := Select(weights, rng, NoWinGlobal)
			if !ok {
				id = "-"
			}
			out[i] = id
		}
		return out
	}
	assert.Equal(t, run(), run())
}

func TestSelectDistribution(t *testing.T) {
	weights := map[string]float64{"a": 0.1, "b": 0.3}
	rng := clock.NewSeededRNG(2024)

	counts := map[string]int{}
	const n = 20000
	for i := 0; i < n; i++ {
		id, ok := Select(weights, rng, NoWinGlobal)
		if !ok {
			id = "none"
		}
		counts[id]++
	}
	assert.InDelta(t, 0.1, float64(counts["a"])/n, 0.02)
	assert.InDelta(t, 0.3, float64(counts["b"])/n, 0.02)
	assert.InDelta(t, 0.6, float64(counts["none"])/n, 0.02)
}

func TestParseNoWinPolicy(t *testing.T) {
	p, err := ParseNoWinPolicy("")
	require.NoError(t, err)
	assert.Equal(t, NoWinGlobal, p)

	p, err = ParseNoWinPolicy(" Normalized ")
	require.NoError(t, err)
	assert.Equal(t, NoWinNormalized, p)

	_, err = ParseNoWinPolicy("weighted")
	assert.Error(t, err)
}
