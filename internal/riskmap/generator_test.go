package riskmap

import (
	"testing"
	"time"

	"arbiter/internal/fusion"
	"arbiter/internal/upstream"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testParams() Params {
	return Params{
		Resolution:        4,
		TimeWeight:        0.25,
		ScopeWeight:       0.25,
		ImpactWeight:      0.25,
		ModeWeight:        0.25,
		ZoneSafe:          40,
		ZoneCaution:       60,
		ZoneUnstable:      85,
		ForbiddenShare:    0.2,
		BottleneckCeiling: 0.8,
		CadenceInterval:   110 * time.Millisecond,
	}
}

func calmObs() fusion.Observations {
	return fusion.Observations{
		MarketState:    "trending",
		ThreatClass:    "none",
		HealthScore:    95,
		HealthHeadroom: 80,
	}
}

func activeSignals() []fusion.NormalizedSignal {
	sources := upstream.AllSources()
	out := make([]fusion.NormalizedSignal, 0, len(sources))
	for _, id := range sources {
		out = append(out, fusion.NormalizedSignal{Source: id, Value: 70, Confidence: 80, Bias: 0.2})
	}
	return out
}

func calmInputs() Inputs {
	return Inputs{
		Signals: activeSignals(),
		Obs:     calmObs(),
		History: NewScoreHistory(16),
	}
}

func TestBuild_GridCoversAllCells(t *testing.T) {
	now := time.Now()
	m := NewGenerator(testParams()).Build(now, calmInputs())

	require.NotNil(t, m)
	assert.Equal(t, 4, m.Resolution)
	assert.Equal(t, 4*4*4*4, m.CellCount())
	assert.Equal(t, now, m.GeneratedAt)

	cells := 0
	for _, c := range m.ZoneCells {
		cells += c
	}
	assert.Equal(t, m.CellCount(), cells)
	assert.InDelta(t, 55, m.Composite, 0.5)
}

func TestBuild_CalmInputsStayOutOfForbidden(t *testing.T) {
	m := NewGenerator(testParams()).Build(time.Now(), calmInputs())

	assert.Equal(t, ZoneCaution, m.OverallZone)
	assert.Empty(t, m.Hazards)
	assert.Empty(t, m.Bottlenecks)
	// 禁区单元只在最角落出现，远低于占比阈值。
	share := float64(m.ZoneCells[ZoneForbidden]) / float64(m.CellCount())
	assert.Less(t, share, 0.05)
}

func TestBuild_SystemicStressForcesForbidden(t *testing.T) {
	in := calmInputs()
	in.Obs.MarketState = "critical"
	in.Obs.ThreatClass = "systemic"
	in.Obs.ThreatCount = 7
	in.Obs.HealthScore = 40

	m := NewGenerator(testParams()).Build(time.Now(), in)

	assert.Equal(t, ZoneForbidden, m.OverallZone)
	share := float64(m.ZoneCells[ZoneForbidden]) / float64(m.CellCount())
	assert.Greater(t, share, 0.2)

	kinds := map[HazardKind]HazardSeverity{}
	for _, h := range m.Hazards {
		kinds[h.Kind] = h.Severity
	}
	assert.Equal(t, HazardCritical, kinds[HazardStability])
	assert.Equal(t, HazardCritical, kinds[HazardCascade])
}

func TestBuild_CriticalHazardOnlyEscalatesZone(t *testing.T) {
	// 权重压低到让全图落在 SAFE，分区变化只能来自危险源升格。
	params := testParams()
	params.TimeWeight = 0.1
	params.ScopeWeight = 0.1
	params.ImpactWeight = 0.1
	params.ModeWeight = 0.1
	g := NewGenerator(params)

	in := calmInputs()
	base := g.Build(time.Now(), in)
	require.Equal(t, ZoneSafe, base.OverallZone)
	require.Empty(t, base.Hazards)

	// 余量见底制造一个 critical 资源危险源；单元评分不受影响。
	in.Obs.HealthHeadroom = 5
	m := g.Build(time.Now(), in)
	require.Len(t, m.Hazards, 1)
	require.Equal(t, HazardCritical, m.Hazards[0].Severity)

	assert.Equal(t, ZoneForbidden, m.OverallZone)
	assert.Equal(t, m.OverallZone, Stricter(base.OverallZone, m.OverallZone))
	assert.Equal(t, base.ZoneCells, m.ZoneCells)
}

func TestZoneFor_FixedCuts(t *testing.T) {
	g := NewGenerator(testParams())
	assert.Equal(t, ZoneSafe, g.zoneFor(10))
	assert.Equal(t, ZoneCaution, g.zoneFor(40))
	assert.Equal(t, ZoneUnstable, g.zoneFor(60))
	assert.Equal(t, ZoneForbidden, g.zoneFor(85))
	assert.Equal(t, ZoneForbidden, g.zoneFor(100))
}

func TestStricter(t *testing.T) {
	assert.Equal(t, ZoneForbidden, Stricter(ZoneSafe, ZoneForbidden))
	assert.Equal(t, ZoneUnstable, Stricter(ZoneUnstable, ZoneCaution))
	assert.Equal(t, ZoneSafe, Stricter(ZoneSafe, ZoneSafe))
}

func TestRegionContains_ModeFilter(t *testing.T) {
	r := Region{TimeMax: 100, ScopeMax: 100, ImpactMax: 100, Modes: []ExecutionMode{ModeParallel}}
	assert.True(t, r.Contains(Coordinate{Time: 50, Scope: 50, Impact: 50, Mode: ModeParallel}))
	assert.False(t, r.Contains(Coordinate{Time: 50, Scope: 50, Impact: 50, Mode: ModeSequential}))
	assert.False(t, r.Contains(Coordinate{Time: 101, Scope: 50, Impact: 50, Mode: ModeParallel}))
}

func TestDeriveHazards_HeadroomExhaustion(t *testing.T) {
	g := NewGenerator(testParams())
	in := calmInputs()
	in.Obs.HealthHeadroom = 20

	hazards := g.deriveHazards(in)
	require.Len(t, hazards, 1)
	assert.Equal(t, HazardResource, hazards[0].Kind)
	assert.Equal(t, HazardHigh, hazards[0].Severity)
	// 影响区间从余量水位起算，低 scope 不受波及。
	assert.Equal(t, 20.0, hazards[0].Region.ScopeMin)

	in.Obs.HealthHeadroom = 5
	hazards = g.deriveHazards(in)
	require.Len(t, hazards, 1)
	assert.Equal(t, HazardCritical, hazards[0].Severity)
}

func TestDeriveHazards_DegradedSourcesMarkTimingHazard(t *testing.T) {
	g := NewGenerator(testParams())
	in := calmInputs()
	in.Signals[0].Neutral = true
	in.Signals[1].Neutral = true

	hazards := g.deriveHazards(in)
	require.Len(t, hazards, 1)
	assert.Equal(t, HazardTiming, hazards[0].Kind)
	assert.Equal(t, HazardMedium, hazards[0].Severity)
	assert.Equal(t, 40.0, hazards[0].Region.TimeMax)

	in.Signals[2].Neutral = true
	in.Signals[3].Neutral = true
	hazards = g.deriveHazards(in)
	require.Len(t, hazards, 1)
	assert.Equal(t, HazardHigh, hazards[0].Severity)
}

func TestDeriveBottlenecks_QueuePressure(t *testing.T) {
	g := NewGenerator(testParams())
	in := calmInputs()
	in.Stats = CycleStats{QueueDepth: 200, QueueCap: 256}

	out := g.deriveBottlenecks(in)
	require.Len(t, out, 1)
	assert.Equal(t, BottleneckFlow, out[0].Kind)
	assert.InDelta(t, 200.0/256.0, out[0].Severity, 0.001)

	// 出现丢帧时水位视为满。
	in.Stats.DroppedCount = 3
	out = g.deriveBottlenecks(in)
	require.Len(t, out, 1)
	assert.Equal(t, 1.0, out[0].Severity)
}

func TestDeriveBottlenecks_DependencyDegradation(t *testing.T) {
	g := NewGenerator(testParams())
	in := calmInputs()
	in.Signals[0].Neutral = true
	in.Signals[1].Neutral = true

	out := g.deriveBottlenecks(in)
	require.Len(t, out, 1)
	assert.Equal(t, BottleneckDependency, out[0].Kind)
	assert.InDelta(t, 2.0/6.0, out[0].Severity, 0.001)
}

func TestDeriveStrains_ProjectedExhaustion(t *testing.T) {
	g := NewGenerator(testParams())
	now := time.Now()
	in := calmInputs()
	in.Obs.HealthHeadroom = 20
	in.Obs.HorizonScope = 60

	strains := g.deriveStrains(now, in)
	require.NotEmpty(t, strains)
	s := strains[0]
	assert.Equal(t, "execution-headroom", s.Resource)
	assert.Equal(t, 80.0, s.Current)
	assert.Equal(t, 110.0, s.Projected)
	require.NotNil(t, s.Exhaustion)
	assert.True(t, s.Exhaustion.After(now))
}

func TestDeriveStrains_ThreatBudget(t *testing.T) {
	g := NewGenerator(testParams())
	in := calmInputs()
	in.Obs.ThreatCount = 5

	strains := g.deriveStrains(time.Now(), in)
	require.Len(t, strains, 2)
	assert.Equal(t, "threat-budget", strains[1].Resource)
	assert.Equal(t, 5.0, strains[1].Current)
	assert.Equal(t, 8.0, strains[1].Capacity)
}

func TestScoreHistory_RingOverwrite(t *testing.T) {
	h := NewScoreHistory(8)
	for i := 0; i < 10; i++ {
		h.Push(HistoryEntry{Fused: float64(i)})
	}
	assert.Equal(t, 8, h.Len())
	recent := h.Recent(3)
	require.Len(t, recent, 3)
	// 升序：最旧在前。
	assert.Equal(t, 7.0, recent[0].Fused)
	assert.Equal(t, 9.0, recent[2].Fused)
}
