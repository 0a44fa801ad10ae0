package clock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeededRNGIsDeterministic(t *testing.T) {
	a := NewSeededRNG(42)
	b := NewSeededRNG(42)
	c := NewSeededRNG(43)

	var sameAsC int
	for i := 0; i < 100; i++ {
		va, vb, vc := a.Float64(), b.Float64(), c.Float64()
		require.Equal(t, va, vb)
		require.GreaterOrEqual(t, va, 0.0)
		require.Less(t, va, 1.0)
		if va == vc {
			sameAsC++
		}
	}
	assert.Less(t, sameAsC, 100, "different seeds should give different sequences")
}

func TestSeededRNGConcurrentUse(t *testing.T) {
	rng := NewSeededRNG(7)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				v := rng.Float64()
				if v < 0 || v >= 1 {
					t.Errorf("value out of range: %v", v)
				}
			}
		}()
	}
	wg.Wait()
}

func TestSequenceRNG(t *testing.T) {
	seq := NewSequenceRNG(0.1, 0.5)

	assert.Equal(t, 0.1, seq.Float64())
	assert.Equal(t, 0.5, seq.Float64())
	assert.Equal(t, 0.5, seq.Float64(), "last value repeats")
	assert.Equal(t, 3, seq.Calls())

	empty := NewSequenceRNG()
	assert.Equal(t, 0.0, empty.Float64())
}

func TestFixedClock(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewFixed(start)
	assert.Equal(t, start, c.Now())

	c.Advance(90 * time.Second)
	assert.Equal(t, start.Add(90*time.Second), c.Now())

	later := start.Add(24 * time.Hour)
	c.Set(later)
	assert.Equal(t, later, c.Now())
}
