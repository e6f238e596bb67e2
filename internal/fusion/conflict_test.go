package fusion

import (
	"testing"
	"time"

	"arbiter/internal/upstream"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDetector() *Detector {
	return NewDetector(DetectorParams{
		DirectionDelta:  1.2,
		ConvictionFloor: 60,
		HighConviction:  80,
		StaleWindow:     1500 * time.Millisecond,
	})
}

func findConflict(conflicts []Conflict, kind ConflictKind) *Conflict {
	for i := range conflicts {
		if conflicts[i].Kind == kind {
			return &conflicts[i]
		}
	}
	return nil
}

func TestDetect_DirectionalSplit(t *testing.T) {
	signals := []NormalizedSignal{
		sig(upstream.SourceMarketState, 80, 70, 0.8),
		sig(upstream.SourceHorizon, 80, 70, -0.7),
	}

	conflicts := newTestDetector().Detect(signals, Observations{}, false)
	c := findConflict(conflicts, ConflictDirection)
	require.NotNil(t, c)
	assert.Equal(t, SeverityModerate, c.Severity)
	assert.False(t, c.HumanReview)
	assert.ElementsMatch(t,
		[]upstream.SourceID{upstream.SourceMarketState, upstream.SourceHorizon}, c.Sources)
}

func TestDetect_HighConvictionSplitNeedsReview(t *testing.T) {
	signals := []NormalizedSignal{
		sig(upstream.SourceMarketState, 80, 90, 0.8),
		sig(upstream.SourceHorizon, 80, 85, -0.7),
	}

	conflicts := newTestDetector().Detect(signals, Observations{}, false)
	c := findConflict(conflicts, ConflictDirection)
	require.NotNil(t, c)
	assert.Equal(t, SeverityMajor, c.Severity)
	assert.True(t, c.HumanReview)
}

func TestDetect_MajorSplitEscalatesToBlockingUnderOverride(t *testing.T) {
	signals := []NormalizedSignal{
		sig(upstream.SourceMarketState, 80, 90, 0.8),
		sig(upstream.SourceHorizon, 80, 85, -0.7),
	}

	conflicts := newTestDetector().Detect(signals, Observations{}, true)
	c := findConflict(conflicts, ConflictDirection)
	require.NotNil(t, c)
	assert.Equal(t, SeverityBlocking, c.Severity)
}

func TestDetect_LowConvictionSplitIgnored(t *testing.T) {
	signals := []NormalizedSignal{
		sig(upstream.SourceMarketState, 80, 50, 0.8),
		sig(upstream.SourceHorizon, 80, 90, -0.7),
	}

	conflicts := newTestDetector().Detect(signals, Observations{}, false)
	assert.Nil(t, findConflict(conflicts, ConflictDirection))
}

func TestDetect_AggressivePostureInUnstableMarket(t *testing.T) {
	signals := []NormalizedSignal{
		sig(upstream.SourceMarketState, 30, 80, -0.2),
		sig(upstream.SourceHorizon, 85, 80, 0.7),
	}
	obs := Observations{MarketState: "critical"}

	conflicts := newTestDetector().Detect(signals, obs, false)
	c := findConflict(conflicts, ConflictState)
	require.NotNil(t, c)
	assert.Equal(t, SeverityMajor, c.Severity)
	assert.Contains(t, c.Detail, "critical")
}

func TestDetect_ScopeBeyondHeadroom(t *testing.T) {
	signals := []NormalizedSignal{
		sig(upstream.SourceHorizon, 80, 80, 0.6),
	}
	obs := Observations{HorizonScope: 60, HealthHeadroom: 50}

	conflicts := newTestDetector().Detect(signals, obs, false)
	c := findConflict(conflicts, ConflictResource)
	require.NotNil(t, c)
	assert.Equal(t, SeverityModerate, c.Severity)

	obs.HorizonScope = 90 // 超出余量 1.5 倍
	conflicts = newTestDetector().Detect(signals, obs, false)
	c = findConflict(conflicts, ConflictResource)
	require.NotNil(t, c)
	assert.Equal(t, SeverityMajor, c.Severity)
}

func TestDetect_SnapshotSkew(t *testing.T) {
	a := sig(upstream.SourceMarketState, 80, 80, 0.3)
	b := sig(upstream.SourceHealth, 80, 80, 0.2)
	b.Age = time.Second

	conflicts := newTestDetector().Detect([]NormalizedSignal{a, b}, Observations{}, false)
	c := findConflict(conflicts, ConflictTiming)
	require.NotNil(t, c)
	assert.Equal(t, SeverityMinor, c.Severity)
}

func TestDetect_UnavailableExecutionMode(t *testing.T) {
	signals := []NormalizedSignal{
		sig(upstream.SourceHorizon, 80, 80, 0.6),
	}
	obs := Observations{
		HorizonMode:  "parallel",
		Capabilities: map[string]bool{"parallel": false},
	}

	conflicts := newTestDetector().Detect(signals, obs, false)
	c := findConflict(conflicts, ConflictCapability)
	require.NotNil(t, c)
	assert.Equal(t, SeverityModerate, c.Severity)
	assert.Contains(t, c.Detail, "parallel")
}

func TestDetect_NeutralSignalsNeverConflict(t *testing.T) {
	a := sig(upstream.SourceMarketState, 50, 90, 0.9)
	a.Neutral = true
	b := sig(upstream.SourceHorizon, 50, 90, -0.9)
	b.Neutral = true

	conflicts := newTestDetector().Detect([]NormalizedSignal{a, b}, Observations{}, false)
	assert.Empty(t, conflicts)
}
