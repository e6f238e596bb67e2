package fusion

import (
	"testing"

	"arbiter/internal/upstream"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sig(id upstream.SourceID, value, conf, bias float64) NormalizedSignal {
	return NormalizedSignal{Source: id, Value: value, Confidence: conf, Bias: bias}
}

func testParams(weights map[string]float64) ResolverParams {
	return ResolverParams{
		Weights:         weights,
		PrimarySource:   upstream.SourceMarketState,
		ConflictPenalty: 8,
		PenaltyCap:      30,
		AgreementBonus:  5,
	}
}

func TestResolve_WeightedMeanWithPrimaryRespect(t *testing.T) {
	signals := []NormalizedSignal{
		sig(upstream.SourceMarketState, 80, 90, 0.5),
		sig(upstream.SourceHealth, 60, 70, 0.3),
	}
	params := testParams(map[string]float64{"market_state": 0.5, "health": 0.5})

	out := NewResolver().Resolve(signals, nil, Observations{VolatilityRegime: "calm"}, params)

	assert.InDelta(t, 70, out.Value, 0.001)
	assert.InDelta(t, 0.4, out.Bias, 0.001)
	// 无冲突且综合分过线，置信度吃到一致性加成。
	assert.InDelta(t, 85, out.Confidence, 0.001)
	assert.Equal(t, ActionBuy, out.Action)
	assert.Equal(t, "primary-respect", out.Rule)
	assert.Equal(t, "low", out.RiskLevel)
	assert.Equal(t, "calm", out.Volatility)
}

func TestResolve_PrimaryRespectFollowsBearishPrimary(t *testing.T) {
	signals := []NormalizedSignal{
		sig(upstream.SourceMarketState, 80, 95, -0.5),
		sig(upstream.SourceHealth, 80, 95, -0.4),
	}
	params := testParams(map[string]float64{"market_state": 0.5, "health": 0.5})

	out := NewResolver().Resolve(signals, nil, Observations{}, params)
	assert.Equal(t, ActionSell, out.Action)
	assert.Equal(t, "primary-respect", out.Rule)
}

func TestResolve_BullBandWithoutPrimary(t *testing.T) {
	signals := []NormalizedSignal{
		sig(upstream.SourceHealth, 90, 90, 0.8),
	}
	params := testParams(map[string]float64{"health": 1})

	out := NewResolver().Resolve(signals, nil, Observations{}, params)
	assert.Equal(t, ActionBuy, out.Action)
	assert.Equal(t, "bull-band", out.Rule)
}

func TestResolve_BearBandWithoutPrimary(t *testing.T) {
	signals := []NormalizedSignal{
		sig(upstream.SourceHealth, 90, 90, -0.8),
	}
	params := testParams(map[string]float64{"health": 1})

	out := NewResolver().Resolve(signals, nil, Observations{}, params)
	assert.Equal(t, ActionSell, out.Action)
	assert.Equal(t, "bear-band", out.Rule)
}

func TestResolve_MidBandHolds(t *testing.T) {
	signals := []NormalizedSignal{
		sig(upstream.SourceHealth, 55, 70, 0.1),
	}
	params := testParams(map[string]float64{"health": 1})

	out := NewResolver().Resolve(signals, nil, Observations{}, params)
	assert.Equal(t, ActionHold, out.Action)
	assert.Equal(t, "mid-band", out.Rule)
	assert.Equal(t, "medium", out.RiskLevel)
}

func TestResolve_FloorWaitOnLowValue(t *testing.T) {
	signals := []NormalizedSignal{
		sig(upstream.SourceHealth, 20, 90, 0.9),
	}
	params := testParams(map[string]float64{"health": 1})

	out := NewResolver().Resolve(signals, nil, Observations{}, params)
	assert.Equal(t, ActionWait, out.Action)
	assert.Equal(t, "floor-wait", out.Rule)
	assert.Equal(t, "critical", out.RiskLevel)
}

func TestResolve_ConflictPenaltyIsCapped(t *testing.T) {
	signals := []NormalizedSignal{
		sig(upstream.SourceHealth, 80, 80, 0.5),
	}
	params := testParams(map[string]float64{"health": 1})
	conflicts := make([]Conflict, 5)
	for i := range conflicts {
		conflicts[i] = Conflict{Kind: ConflictTiming, Severity: SeverityMinor}
	}

	out := NewResolver().Resolve(signals, conflicts, Observations{}, params)
	// 5×8=40 触顶到 30；有冲突时没有一致性加成。
	assert.InDelta(t, 50, out.Confidence, 0.001)
}

func TestResolve_BlockingConflictForcesWait(t *testing.T) {
	signals := []NormalizedSignal{
		sig(upstream.SourceHealth, 90, 90, 0.8),
	}
	params := testParams(map[string]float64{"health": 1})
	conflicts := []Conflict{{Kind: ConflictDirection, Severity: SeverityBlocking}}

	out := NewResolver().Resolve(signals, conflicts, Observations{}, params)
	assert.Equal(t, ActionWait, out.Action)
	assert.Equal(t, "blocking-conflict", out.Rule)
}

func TestResolve_StrongConsensusBuys(t *testing.T) {
	weights := map[string]float64{}
	var signals []NormalizedSignal
	for _, id := range []upstream.SourceID{
		upstream.SourceMarketState, upstream.SourceThreat, upstream.SourceVolatility,
		upstream.SourceCorrelation, upstream.SourceHorizon,
	} {
		weights[string(id)] = 0.2
		signals = append(signals, sig(id, 80, 80, 1))
	}

	out := NewResolver().Resolve(signals, nil, Observations{}, testParams(weights))
	assert.Equal(t, ActionBuy, out.Action)
	assert.Greater(t, out.Bias, 0.6)
	assert.GreaterOrEqual(t, out.Confidence, 80.0)
}

func TestResolve_OpposingConsensusHolds(t *testing.T) {
	signals := []NormalizedSignal{
		sig(upstream.SourceMarketState, 80, 85, 1),
		sig(upstream.SourceHorizon, 80, 85, -1),
	}
	params := testParams(map[string]float64{"market_state": 0.5, "horizon": 0.5})
	conflicts := NewDetector(DetectorParams{}).Detect(signals, Observations{}, false)

	out := NewResolver().Resolve(signals, conflicts, Observations{}, params)
	require.NotEmpty(t, conflicts)
	assert.InDelta(t, 0, out.Bias, 0.001)
	assert.Equal(t, ActionHold, out.Action)
	assert.Equal(t, "mid-band", out.Rule)
}

func TestResolve_UnknownVolatilityRegime(t *testing.T) {
	params := testParams(map[string]float64{"health": 1})
	out := NewResolver().Resolve(nil, nil, Observations{}, params)
	assert.Equal(t, "unknown", out.Volatility)
	assert.Equal(t, ActionWait, out.Action)
}
