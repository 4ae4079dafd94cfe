package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aimux/gateway/provider"
)

func testConfig() Config {
	return Config{
		MaxEntries:       100,
		MaxBytes:         1 << 20,
		DefaultTTL:       time.Minute,
		MaxTTL:           time.Hour,
		ScanInterval:     time.Minute,
		HitRateThreshold: 0,
	}
}

func TestCache_PutGet_RoundTrips(t *testing.T) {
	c := New(testConfig())
	resp := provider.CanonicalResponse{Status: provider.StatusSuccess, ModelUsed: "m1"}

	c.Put("key1", resp, 0, 10)

	got, ok := c.Get("key1")
	require.True(t, ok)
	assert.Equal(t, "m1", got.ModelUsed)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Puts)
	assert.Equal(t, int64(1), stats.Hits)
}

func TestCache_Get_MissIncrementsCounter(t *testing.T) {
	c := New(testConfig())

	_, ok := c.Get("missing")
	assert.False(t, ok)
	assert.Equal(t, int64(1), c.Stats().Misses)
}

func TestCache_Get_ExpiredEntryIsEvicted(t *testing.T) {
	c := New(testConfig())
	resp := provider.CanonicalResponse{Status: provider.StatusSuccess}

	c.Put("key1", resp, time.Millisecond, 10)
	time.Sleep(5 * time.Millisecond)

	_, ok := c.Get("key1")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestCache_Put_OversizedEntryNotStored(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBytes = 100
	c := New(cfg)

	c.Put("key1", provider.CanonicalResponse{}, 0, 1000)

	_, ok := c.Get("key1")
	assert.False(t, ok)
}

func TestCache_Put_EvictsOldestWhenByteCapExceeded(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBytes = 150
	c := New(cfg)

	c.Put("a", provider.CanonicalResponse{}, 0, 100)
	c.Put("b", provider.CanonicalResponse{}, 0, 100)

	_, aStillThere := c.Get("a")
	_, bStillThere := c.Get("b")
	assert.False(t, aStillThere, "oldest entry should have been evicted to make room")
	assert.True(t, bStillThere)
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestCache_AdaptiveTTL_MultipliesAndCapsAtMaxTTL(t *testing.T) {
	cfg := testConfig()
	cfg.MaxTTL = 2 * time.Second
	cfg.AdaptiveTTLFactor = 10
	c := New(cfg)

	c.Put("key1", provider.CanonicalResponse{}, time.Second, 10)

	e := c.entries["key1"]
	require.NotNil(t, e)
	assert.Equal(t, cfg.MaxTTL, e.TTL)
}

func TestCache_Scan_RemovesExpiredEntries(t *testing.T) {
	c := New(testConfig())
	c.Put("stale", provider.CanonicalResponse{}, time.Millisecond, 10)
	c.Put("fresh", provider.CanonicalResponse{}, time.Hour, 10)
	time.Sleep(5 * time.Millisecond)

	removed := c.Scan()

	assert.Equal(t, 1, removed)
	_, freshOK := c.Get("fresh")
	assert.True(t, freshOK)
}

func TestCache_Scan_RemovesColdEntriesBelowHitRateThreshold(t *testing.T) {
	cfg := testConfig()
	cfg.HitRateThreshold = 1000 // impossibly high, any entry looks cold
	c := New(cfg)

	c.Put("cold", provider.CanonicalResponse{}, time.Hour, 10)
	c.entries["cold"].InsertedAt = time.Now().Add(-2 * time.Minute)

	removed := c.Scan()
	assert.Equal(t, 1, removed)
}

func TestCache_Invalidate_RemovesSingleEntry(t *testing.T) {
	c := New(testConfig())
	c.Put("key1", provider.CanonicalResponse{}, 0, 10)

	c.Invalidate("key1")

	_, ok := c.Get("key1")
	assert.False(t, ok)
}

func TestCache_Clear_RemovesAllEntries(t *testing.T) {
	c := New(testConfig())
	c.Put("key1", provider.CanonicalResponse{}, 0, 10)
	c.Put("key2", provider.CanonicalResponse{}, 0, 10)

	c.Clear()

	assert.Equal(t, 0, c.Len())
}
