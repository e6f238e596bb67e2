package riskmap

import (
	"testing"
	"time"

	"arbiter/internal/upstream"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findPocket(pockets []InstabilityPocket, kind PocketKind) *InstabilityPocket {
	for i := range pockets {
		if pockets[i].Kind == kind {
			return &pockets[i]
		}
	}
	return nil
}

func historyFromFused(values ...float64) *ScoreHistory {
	h := NewScoreHistory(16)
	for _, v := range values {
		h.Push(HistoryEntry{At: time.Now(), Fused: v})
	}
	return h
}

func TestDerivePockets_ShortHistoryIsQuiet(t *testing.T) {
	g := NewGenerator(testParams())
	in := calmInputs()
	in.History = historyFromFused(50, 52, 51)

	assert.Empty(t, g.derivePockets(in))
}

func TestDerivePockets_Oscillation(t *testing.T) {
	g := NewGenerator(testParams())
	in := calmInputs()
	in.History = historyFromFused(50, 70, 50, 70, 50, 70, 50, 70)

	p := findPocket(g.derivePockets(in), PocketOscillation)
	require.NotNil(t, p)
	assert.Contains(t, p.Detail, "flipped direction")
	assert.Greater(t, p.Radius, 0.0)
	assert.Greater(t, p.Recovery, time.Duration(0))
}

func TestDerivePockets_Drift(t *testing.T) {
	g := NewGenerator(testParams())
	in := calmInputs()
	in.History = historyFromFused(80, 76, 72, 68, 64, 60, 56)

	pockets := g.derivePockets(in)
	p := findPocket(pockets, PocketDrift)
	require.NotNil(t, p)
	assert.Contains(t, p.Detail, "drifted down")
	assert.Nil(t, findPocket(pockets, PocketOscillation))
}

func TestDerivePockets_CascadeAcrossSources(t *testing.T) {
	g := NewGenerator(testParams())
	h := NewScoreHistory(16)
	h.Push(HistoryEntry{Fused: 70, Scores: map[upstream.SourceID]float64{
		upstream.SourceMarketState: 80,
		upstream.SourceThreat:      75,
		upstream.SourceVolatility:  70,
		upstream.SourceHealth:      90,
	}})
	h.Push(HistoryEntry{Fused: 60})
	h.Push(HistoryEntry{Fused: 55})
	h.Push(HistoryEntry{Fused: 50, Scores: map[upstream.SourceID]float64{
		upstream.SourceMarketState: 55,
		upstream.SourceThreat:      50,
		upstream.SourceVolatility:  45,
		upstream.SourceHealth:      88,
	}})
	in := calmInputs()
	in.History = h

	p := findPocket(g.derivePockets(in), PocketCascade)
	require.NotNil(t, p)
	assert.Len(t, p.Sources, 3)
	assert.NotContains(t, p.Sources, upstream.SourceHealth)
}

func TestDerivePockets_ResonanceBetweenPhaseLockedSources(t *testing.T) {
	g := NewGenerator(testParams())
	h := NewScoreHistory(16)
	// market_state 与 threat 同步振荡，其余来源安静。
	vals := []float64{60, 75, 58, 76, 59, 74}
	for _, v := range vals {
		h.Push(HistoryEntry{Fused: 60, Scores: map[upstream.SourceID]float64{
			upstream.SourceMarketState: v,
			upstream.SourceThreat:      v + 2,
			upstream.SourceHealth:      90,
		}})
	}
	in := calmInputs()
	in.History = h

	p := findPocket(g.derivePockets(in), PocketResonance)
	require.NotNil(t, p)
	assert.ElementsMatch(t,
		[]upstream.SourceID{upstream.SourceMarketState, upstream.SourceThreat}, p.Sources)
}
