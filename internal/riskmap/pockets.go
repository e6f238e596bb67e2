package riskmap

import (
	"fmt"
	"time"

	"arbiter/internal/pkg/mathutil"
	"arbiter/internal/upstream"
)

// 中文说明：
// 不稳定带识别。从评分历史环形缓冲里找四类模式：
// - oscillation：融合分短窗内反复变向
// - drift：融合分单调滑落超过幅度阈值
// - cascade：多个来源在同窗内同时大幅下跌
// - resonance：两个来源的变向节奏锁相，互相放大
// 每个带给出中心坐标、半径与恢复时间估计（按节奏间隔外推）。

const (
	pocketWindow        = 12
	oscillationFlips    = 4
	driftRun            = 6
	driftDrop           = 15.0
	cascadeDrop         = 20.0
	cascadeMinSources   = 3
	resonancePhaseMatch = 0.8
)

// derivePockets 扫描历史窗口并返回识别出的全部不稳定带。
func (g *Generator) derivePockets(in Inputs) []InstabilityPocket {
	entries := in.History.Recent(pocketWindow)
	if len(entries) < 4 {
		return nil
	}
	var out []InstabilityPocket

	if p, ok := g.oscillationPocket(entries); ok {
		out = append(out, p)
	}
	if p, ok := g.driftPocket(entries); ok {
		out = append(out, p)
	}
	if p, ok := g.cascadePocket(entries); ok {
		out = append(out, p)
	}
	if p, ok := g.resonancePocket(entries); ok {
		out = append(out, p)
	}
	return out
}

// fusedDeltas 返回融合分的逐周期差分。
func fusedDeltas(entries []HistoryEntry) []float64 {
	out := make([]float64, 0, len(entries)-1)
	for i := 1; i < len(entries); i++ {
		out = append(out, entries[i].Fused-entries[i-1].Fused)
	}
	return out
}

func (g *Generator) oscillationPocket(entries []HistoryEntry) (InstabilityPocket, bool) {
	deltas := fusedDeltas(entries)
	flips := 0
	var amplitude float64
	for i := 1; i < len(deltas); i++ {
		if deltas[i]*deltas[i-1] < 0 {
			flips++
		}
		amplitude += mathutil.Abs(deltas[i])
	}
	if flips < oscillationFlips {
		return InstabilityPocket{}, false
	}
	last := entries[len(entries)-1]
	return InstabilityPocket{
		Kind:   PocketOscillation,
		Detail: fmt.Sprintf("fused score flipped direction %d times in %d cycles", flips, len(entries)),
		Center: Coordinate{Time: 50, Scope: 50, Impact: last.Fused, Mode: ModeParallel},
		Radius: mathutil.Clamp(amplitude/float64(len(deltas)), 1, 50),
		// 每次变向后至少需要再稳定同样长的窗口才可信。
		Recovery: time.Duration(len(entries)) * g.params.CadenceInterval,
	}, true
}

func (g *Generator) driftPocket(entries []HistoryEntry) (InstabilityPocket, bool) {
	run := 1
	bestRun := 1
	for i := 1; i < len(entries); i++ {
		if entries[i].Fused < entries[i-1].Fused {
			run++
		} else {
			run = 1
		}
		if run > bestRun {
			bestRun = run
		}
	}
	drop := entries[0].Fused - entries[len(entries)-1].Fused
	if bestRun < driftRun || drop < driftDrop {
		return InstabilityPocket{}, false
	}
	return InstabilityPocket{
		Kind:   PocketDrift,
		Detail: fmt.Sprintf("fused score drifted down %.0f points over %d cycles", drop, bestRun),
		Center: Coordinate{Time: 80, Scope: 50, Impact: entries[len(entries)-1].Fused, Mode: ModeSequential},
		Radius: mathutil.Clamp(drop, 1, 60),
		// 回补漂移幅度所需周期按每周期 2 分回升估计。
		Recovery: time.Duration(drop/2) * g.params.CadenceInterval,
	}, true
}

func (g *Generator) cascadePocket(entries []HistoryEntry) (InstabilityPocket, bool) {
	first, last := entries[0], entries[len(entries)-1]
	var dropped []upstream.SourceID
	for src, v0 := range first.Scores {
		v1, ok := last.Scores[src]
		if !ok {
			continue
		}
		if v0-v1 >= cascadeDrop {
			dropped = append(dropped, src)
		}
	}
	if len(dropped) < cascadeMinSources {
		return InstabilityPocket{}, false
	}
	return InstabilityPocket{
		Kind:     PocketCascade,
		Detail:   fmt.Sprintf("%d sources dropped %.0f+ points in the same window", len(dropped), cascadeDrop),
		Center:   Coordinate{Time: 30, Scope: 70, Impact: 70, Mode: ModeParallel},
		Radius:   30,
		Recovery: time.Duration(2*len(entries)) * g.params.CadenceInterval,
		Sources:  dropped,
	}, true
}

// resonancePocket 找两个来源的差分符号在窗口内高度一致的锁相振荡。
func (g *Generator) resonancePocket(entries []HistoryEntry) (InstabilityPocket, bool) {
	sources := upstream.AllSources()
	for i := 0; i < len(sources); i++ {
		for j := i + 1; j < len(sources); j++ {
			a, b := sources[i], sources[j]
			match, total, flips := phaseMatch(entries, a, b)
			if total < 4 || flips < 2 {
				continue
			}
			if float64(match)/float64(total) < resonancePhaseMatch {
				continue
			}
			return InstabilityPocket{
				Kind:     PocketResonance,
				Detail:   fmt.Sprintf("%s and %s oscillating phase-locked (%d/%d deltas aligned)", a, b, match, total),
				Center:   Coordinate{Time: 50, Scope: 50, Impact: 60, Mode: ModeConditional},
				Radius:   25,
				Recovery: time.Duration(2*len(entries)) * g.params.CadenceInterval,
				Sources:  []upstream.SourceID{a, b},
			}, true
		}
	}
	return InstabilityPocket{}, false
}

// phaseMatch 统计两个来源差分符号一致的次数、有效样本数与 a 的变向次数。
func phaseMatch(entries []HistoryEntry, a, b upstream.SourceID) (match, total, flips int) {
	var prevDeltaA float64
	for i := 1; i < len(entries); i++ {
		va0, ok1 := entries[i-1].Scores[a]
		va1, ok2 := entries[i].Scores[a]
		vb0, ok3 := entries[i-1].Scores[b]
		vb1, ok4 := entries[i].Scores[b]
		if !ok1 || !ok2 || !ok3 || !ok4 {
			continue
		}
		da, db := va1-va0, vb1-vb0
		if da == 0 || db == 0 {
			continue
		}
		total++
		if mathutil.Sign(da) == mathutil.Sign(db) {
			match++
		}
		if prevDeltaA != 0 && da*prevDeltaA < 0 {
			flips++
		}
		prevDeltaA = da
	}
	return match, total, flips
}
