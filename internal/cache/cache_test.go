package cache

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spin-reward-engine/internal/models"
)

func newRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc, err := NewRedisCache(context.Background(), mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { rc.Close() })
	return rc, mr
}

func TestRedisCache(t *testing.T) {
	rc, mr := newRedis(t)
	ctx := context.Background()

	_, err := rc.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, rc.Set(ctx, "k", []byte("v"), time.Minute))
	got, err := rc.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
	assert.True(t, mr.Exists("spin:k"), "keys are namespaced")

	mr.FastForward(2 * time.Minute)
	_, err = rc.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, rc.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, rc.Set(ctx, "b", []byte("2"), time.Minute))
	require.NoError(t, rc.Delete(ctx, "a", "b"))
	assert.False(t, mr.Exists("spin:a"))
	assert.False(t, mr.Exists("spin:b"))
	require.NoError(t, rc.Delete(ctx))
}

func TestNewRedisCacheUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := NewRedisCache(ctx, addr, "", 0)
	assert.Error(t, err)
}

func TestMemoryCacheExpiry(t *testing.T) {
	m := NewMemoryCache()
	now := time.Date(2025, 10, 21, 10, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", []byte("v"), time.Minute))
	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	now = now.Add(time.Minute)
	_, err = m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound, "expiry is exclusive")

	require.NoError(t, m.Set(ctx, "k", []byte("v"), time.Minute))
	require.NoError(t, m.Delete(ctx, "k"))
	_, err = m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

type countingSource struct {
	mu    sync.Mutex
	calls int
	hours []models.GoldenHour
	err   error
}

func (s *countingSource) ListGoldenHours(context.Context, string) ([]models.GoldenHour, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.hours, s.err
}

type brokenCache struct{}

func (brokenCache) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("connection refused")
}
func (brokenCache) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("connection refused")
}
func (brokenCache) Delete(context.Context, ...string) error { return errors.New("connection refused") }

// writeOnlyBroken misses every read and fails every write.
type writeOnlyBroken struct{ brokenCache }

func (writeOnlyBroken) Get(context.Context, string) ([]byte, error) { return nil, ErrNotFound }

func TestCatalogLogsCacheFailures(t *testing.T) {
	src := &countingSource{}

	tests := []struct {
		name  string
		cache Cache
		msg   string
	}{
		{"write", writeOnlyBroken{}, "golden hour cache write failed"},
		{"read", brokenCache{}, "golden hour cache read failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			cat := NewCatalog(tt.cache, src, time.Minute, zerolog.New(&buf))

			_, err := cat.ListGoldenHours(context.Background(), "ev-1")
			require.NoError(t, err, "cache failures never fail the read")
			assert.Contains(t, buf.String(), tt.msg)
			assert.Contains(t, buf.String(), `"level":"warn"`)
			assert.Contains(t, buf.String(), `"event_id":"ev-1"`)
			assert.Contains(t, buf.String(), "connection refused")
		})
	}
}

func TestCatalogReadThrough(t *testing.T) {
	start := time.Date(2025, 10, 21, 18, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	src := &countingSource{hours: []models.GoldenHour{{
		ID: "gh-1", EventID: "ev-1", Kind: models.GoldenHourAbsolute,
		StartsAt: &start, EndsAt: &end, Multiplier: 2, Active: true,
	}}}

	for name, c := range map[string]Cache{
		"memory": NewMemoryCache(),
		"redis":  func() Cache { rc, _ := newRedis(t); return rc }(),
	} {
		t.Run(name, func(t *testing.T) {
			src.calls = 0
			cat := NewCatalog(c, src, time.Minute, zerolog.Nop())
			ctx := context.Background()

			for i := 0; i < 3; i++ {
				hours, err := cat.ListGoldenHours(ctx, "ev-1")
				require.NoError(t, err)
				require.Len(t, hours, 1)
				assert.True(t, hours[0].StartsAt.Equal(start))
				assert.Equal(t, 2.0, hours[0].Multiplier)
			}
			assert.Equal(t, 1, src.calls)

			require.NoError(t, cat.Invalidate(ctx, "ev-1"))
			_, err := cat.ListGoldenHours(ctx, "ev-1")
			require.NoError(t, err)
			assert.Equal(t, 2, src.calls)
		})
	}
}

func TestCatalogBrokenCacheFallsBack(t *testing.T) {
	src := &countingSource{}
	cat := NewCatalog(brokenCache{}, src, time.Minute, zerolog.Nop())

	for i := 0; i < 2; i++ {
		_, err := cat.ListGoldenHours(context.Background(), "ev-1")
		require.NoError(t, err)
	}
	assert.Equal(t, 2, src.calls)
}

func TestCatalogSourceError(t *testing.T) {
	boom := errors.New("db down")
	cat := NewCatalog(NewMemoryCache(), &countingSource{err: boom}, time.Minute, zerolog.Nop())

	_, err := cat.ListGoldenHours(context.Background(), "ev-1")
	assert.ErrorIs(t, err, boom)
}
