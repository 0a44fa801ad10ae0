package features

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultManager(t *testing.T) {
	m := NewDefaultManager(Defaults{Cache: true, GoldenHours: true})

	assert.True(t, m.IsEnabled(FeatureCacheEnabled))
	assert.True(t, m.IsEnabled(FeatureGoldenHours))
	assert.False(t, m.IsEnabled(FeatureEventHooksEnabled))
	assert.False(t, m.IsEnabled(FeatureRecordRejected))
	assert.False(t, m.IsEnabled("unknown"))

	flags := m.List()
	assert.Len(t, flags, 4)
	for i := 1; i < len(flags); i++ {
		assert.Less(t, flags[i-1].Name, flags[i].Name)
	}
}

func TestSet(t *testing.T) {
	m := NewDefaultManager(Defaults{})

	assert.True(t, m.Set(FeatureRecordRejected, true))
	assert.True(t, m.IsEnabled(FeatureRecordRejected))
	assert.False(t, m.Set("unknown", true))
	assert.False(t, m.IsEnabled("unknown"))
}

func TestNilManager(t *testing.T) {
	var m *Manager
	assert.False(t, m.IsEnabled(FeatureGoldenHours))
}
