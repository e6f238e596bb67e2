package upstream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateEnvelope(t *testing.T) {
	t.Run("Valid Threat Snapshot", func(t *testing.T) {
		err := ValidateEnvelope([]byte(`{"source":"threat","ts":1724222000123,"payload":{"count":3,"classification":"elevated","certainty":74}}`))
		assert.NoError(t, err)
	})

	t.Run("Unknown Source Rejected", func(t *testing.T) {
		err := ValidateEnvelope([]byte(`{"source":"astrology","ts":1,"payload":{}}`))
		assert.Error(t, err)
	})

	t.Run("Missing Required Payload Field", func(t *testing.T) {
		err := ValidateEnvelope([]byte(`{"source":"threat","ts":1,"payload":{"classification":"low"}}`))
		assert.Error(t, err)
	})

	t.Run("Out Of Range Probability", func(t *testing.T) {
		err := ValidateEnvelope([]byte(`{"source":"horizon","ts":1,"payload":{"probability":1.7,"direction":1}}`))
		assert.Error(t, err)
	})

	t.Run("Not JSON", func(t *testing.T) {
		err := ValidateEnvelope([]byte(`not json`))
		assert.Error(t, err)
	})
}

func TestSnapshotCache_PublishAndRead(t *testing.T) {
	cache := NewSnapshotCache(SourceHealth)

	_, ok := cache.Snapshot()
	assert.False(t, ok)

	err := cache.Publish([]byte(`{"source":"health","ts":1724222000123,"payload":{"score":92,"headroom":60}}`))
	require.NoError(t, err)

	snap, ok := cache.Snapshot()
	require.True(t, ok)
	assert.Equal(t, SourceHealth, snap.Source)
	assert.Equal(t, 92.0, snap.Field("score").Float())
	assert.Equal(t, int64(1724222000123), snap.ReportedAt.UnixMilli())
	assert.False(t, snap.ReceivedAt.IsZero())
}

func TestSnapshotCache_RejectsWrongSource(t *testing.T) {
	cache := NewSnapshotCache(SourceHealth)
	err := cache.Publish([]byte(`{"source":"threat","ts":1,"payload":{"count":0,"classification":"none"}}`))
	assert.Error(t, err)

	_, ok := cache.Snapshot()
	assert.False(t, ok)
}

func TestCacheSet_RoutesBySource(t *testing.T) {
	set := NewCacheSet()

	require.NoError(t, set.Publish([]byte(`{"source":"volatility","ts":5,"payload":{"percentile":42,"regime":"normal"}}`)))

	snap, ok := set.caches[SourceVolatility].Snapshot()
	require.True(t, ok)
	assert.Equal(t, 42.0, snap.Field("percentile").Float())

	err := set.Publish([]byte(`{"source":"nope","ts":5,"payload":{}}`))
	assert.Error(t, err)
}

func TestCacheSet_ProducersFixedOrder(t *testing.T) {
	set := NewCacheSet()
	producers := set.Producers()
	require.Len(t, producers, len(AllSources()))
	for i, id := range AllSources() {
		assert.Equal(t, id, producers[i].ID())
	}
}

func TestSnapshotAge(t *testing.T) {
	now := time.Now()
	snap := Snapshot{ReceivedAt: now.Add(-2 * time.Second)}
	assert.InDelta(t, 2.0, snap.Age(now).Seconds(), 0.01)
	assert.Equal(t, time.Duration(0), Snapshot{}.Age(now))
}
