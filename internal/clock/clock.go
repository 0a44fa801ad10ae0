// Package clock supplies the current time and the random source used by the
// spin engine. Both are swappable so tests can pin them.
package clock

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// RNG returns uniformly distributed values in [0, 1).
type RNG interface {
	Float64() float64
}

// System is the wall clock.
type System struct{}

func (System) Now() time.Time { return time.Now() }

// Fixed always returns the same instant. Set moves it.
type Fixed struct {
	mu sync.RWMutex
	t  time.Time
}

func NewFixed(t time.Time) *Fixed {
	return &Fixed{t: t}
}

func (f *Fixed) Now() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.t
}

func (f *Fixed) Set(t time.Time) {
	f.mu.Lock()
	f.t = t
	f.mu.Unlock()
}

func (f *Fixed) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

// lockedRNG makes a *rand.Rand safe for concurrent spins.
type lockedRNG struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewSeededRNG returns a PCG-backed generator. The same seed always yields
// the same sequence.
func NewSeededRNG(seed uint64) RNG {
	return &lockedRNG{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// NewRandomRNG seeds from the runtime's entropy source.
func NewRandomRNG() RNG {
	return NewSeededRNG(rand.Uint64())
}

func (l *lockedRNG) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

// SequenceRNG replays fixed values and counts how many were drawn.
type SequenceRNG struct {
	mu     sync.Mutex
	values []float64
	calls  int
}

func NewSequenceRNG(values ...float64) *SequenceRNG {
	return &SequenceRNG{values: values}
}

// Float64 returns the next value, repeating the last one once exhausted.
func (s *SequenceRNG) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var v float64
	if len(s.values) > 0 {
		i := s.calls
		if i >= len(s.values) {
			i = len(s.values) - 1
		}
		v = s.values[i]
	}
	s.calls++
	return v
}

// Calls reports how many draws were made.
func (s *SequenceRNG) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
