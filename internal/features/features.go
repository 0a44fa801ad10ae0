package features

import (
	"sort"
	"sync"
)

// FeatureFlag represents a feature flag configuration.
type FeatureFlag struct {
	Name        string `json:"name"`
	Enabled     bool   `json:"enabled"`
	Description string `json:"description"`
}

// Manager holds runtime toggles. Flags can be flipped while the engine runs.
type Manager struct {
	mu    sync.RWMutex
	flags map[string]*FeatureFlag
}

// NewManager creates a new feature flag manager.
func NewManager() *Manager {
	return &Manager{
		flags: make(map[string]*FeatureFlag),
	}
}

// Register registers a new feature flag.
func (m *Manager) Register(name string, enabled bool, description string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.flags[name] = &FeatureFlag{
		Name:        name,
		Enabled:     enabled,
		Description: description,
	}
}

// IsEnabled reports whether a flag is on. Unknown flags are off; a nil
// manager reports every flag off.
func (m *Manager) IsEnabled(name string) bool {
	if m == nil {
		return false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	flag, exists := m.flags[name]
	if !exists {
		return false
	}
	return flag.Enabled
}

// Set flips a registered flag. It reports false for unknown flags.
func (m *Manager) Set(name string, enabled bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	flag, exists := m.flags[name]
	if !exists {
		return false
	}
	flag.Enabled = enabled
	return true
}

// List returns a copy of every flag sorted by name.
func (m *Manager) List() []FeatureFlag {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]FeatureFlag, 0, len(m.flags))
	for _, v := range m.flags {
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

const (
	// FeatureCacheEnabled serves golden hour schedules from the catalog cache.
	FeatureCacheEnabled = "cache_enabled"
	// FeatureEventHooksEnabled publishes spin lifecycle events.
	FeatureEventHooksEnabled = "event_hooks_enabled"
	// FeatureGoldenHours applies golden hour multipliers to weights.
	FeatureGoldenHours = "golden_hours_enabled"
	// FeatureRecordRejected writes audit rows for rejected spins.
	FeatureRecordRejected = "record_rejected_spins"
)

// Defaults describes the initial state of the built-in flags.
type Defaults struct {
	Cache          bool
	EventHooks     bool
	GoldenHours    bool
	RecordRejected bool
}

// NewDefaultManager registers the built-in flags.
func NewDefaultManager(d Defaults) *Manager {
	m := NewManager()
	m.Register(FeatureCacheEnabled, d.Cache, "Serve golden hour schedules from the catalog cache")
	m.Register(FeatureEventHooksEnabled, d.EventHooks, "Publish spin lifecycle events")
	m.Register(FeatureGoldenHours, d.GoldenHours, "Apply golden hour multipliers")
	m.Register(FeatureRecordRejected, d.RecordRejected, "Record rejected spins in the history")
	return m
}
