package riskmap

import (
	"fmt"
	"time"

	"arbiter/internal/fusion"
	"arbiter/internal/pkg/mathutil"
)

// 中文说明：
// 危险源、瓶颈与资源压力投影的推导规则。全部是固定阈值的可解释规则，
// 与网格评分相互独立：危险源描述"哪里危险、为什么"，网格描述"多危险"。

const fullRegionMax = 100

// fullRegion 覆盖全部坐标的区间。
func fullRegion(modes ...ExecutionMode) Region {
	return Region{
		TimeMax:   fullRegionMax,
		ScopeMax:  fullRegionMax,
		ImpactMax: fullRegionMax,
		Modes:     modes,
	}
}

// deriveHazards 按固定规则推导危险源。
func (g *Generator) deriveHazards(in Inputs) []Hazard {
	var out []Hazard

	// resource：资源余量告急。余量越小，高 scope 区间越危险。
	if in.Obs.HealthHeadroom < 25 {
		sev := HazardHigh
		if in.Obs.HealthHeadroom < 10 {
			sev = HazardCritical
		}
		out = append(out, Hazard{
			Kind:     HazardResource,
			Severity: sev,
			Detail:   fmt.Sprintf("resource headroom down to %.0f", in.Obs.HealthHeadroom),
			Region: Region{
				TimeMax:   fullRegionMax,
				ScopeMin:  in.Obs.HealthHeadroom,
				ScopeMax:  fullRegionMax,
				ImpactMax: fullRegionMax,
			},
			Mitigation: "shrink requested scope or defer wide operations",
		})
	}

	// timing：多个来源退化为中性，时间轴前段不可信。
	if degraded := countNeutral(in.Signals); degraded >= 2 {
		sev := HazardMedium
		if degraded >= 4 {
			sev = HazardHigh
		}
		out = append(out, Hazard{
			Kind:     HazardTiming,
			Severity: sev,
			Detail:   fmt.Sprintf("%d upstream sources degraded to neutral", degraded),
			Region: Region{
				TimeMax:   40,
				ScopeMax:  fullRegionMax,
				ImpactMax: fullRegionMax,
			},
			Mitigation: "wait for upstream caches to refresh",
		})
	}

	// stability：市场状态不稳，高冲击区间升格。
	switch in.Obs.MarketState {
	case "unstable":
		out = append(out, Hazard{
			Kind:     HazardStability,
			Severity: HazardHigh,
			Detail:   "market state reported unstable",
			Region: Region{
				TimeMax:   fullRegionMax,
				ScopeMax:  fullRegionMax,
				ImpactMin: 50,
				ImpactMax: fullRegionMax,
			},
		})
	case "critical":
		out = append(out, Hazard{
			Kind:     HazardStability,
			Severity: HazardCritical,
			Detail:   "market state reported critical",
			Region:   fullRegion(),
		})
	}

	// cascade：系统性威胁叠加并行执行，连锁放大风险。
	if in.Obs.ThreatClass == "systemic" || in.Obs.ThreatCount >= 6 {
		sev := HazardHigh
		if in.Obs.ThreatClass == "systemic" {
			sev = HazardCritical
		}
		out = append(out, Hazard{
			Kind:     HazardCascade,
			Severity: sev,
			Detail: fmt.Sprintf("threat pressure (count=%d class=%s) can cascade across parallel paths",
				in.Obs.ThreatCount, in.Obs.ThreatClass),
			Region:     fullRegion(ModeParallel, ModeConditional),
			Mitigation: "restrict execution to sequential mode",
		})
	}

	return out
}

// deriveBottlenecks 推导流量/资源/依赖三类瓶颈，严重度 0-1。
func (g *Generator) deriveBottlenecks(in Inputs) []Bottleneck {
	var out []Bottleneck

	// flow：持久化队列水位与漏拍周期。
	if in.Stats.QueueCap > 0 {
		fill := float64(in.Stats.QueueDepth) / float64(in.Stats.QueueCap)
		if in.Stats.DroppedCount > 0 {
			fill = 1
		}
		if fill >= 0.5 {
			out = append(out, Bottleneck{
				Kind:     BottleneckFlow,
				Severity: mathutil.Clamp(fill, 0, 1),
				Detail: fmt.Sprintf("persist queue at %d/%d (dropped=%d)",
					in.Stats.QueueDepth, in.Stats.QueueCap, in.Stats.DroppedCount),
				Region: fullRegion(),
			})
		}
	}

	// resource：余量占用率。
	usage := (100 - in.Obs.HealthHeadroom) / 100
	if usage >= 0.7 {
		out = append(out, Bottleneck{
			Kind:     BottleneckResource,
			Severity: mathutil.Clamp(usage, 0, 1),
			Detail:   fmt.Sprintf("resource usage at %.0f%%", usage*100),
			Region: Region{
				TimeMax:   fullRegionMax,
				ScopeMin:  50,
				ScopeMax:  fullRegionMax,
				ImpactMax: fullRegionMax,
			},
		})
	}

	// dependency：中性来源占比，上游依赖不可用。
	if total := len(in.Signals); total > 0 {
		ratio := float64(countNeutral(in.Signals)) / float64(total)
		if ratio >= 0.3 {
			out = append(out, Bottleneck{
				Kind:     BottleneckDependency,
				Severity: mathutil.Clamp(ratio, 0, 1),
				Detail:   fmt.Sprintf("%.0f%% of upstream dependencies degraded", ratio*100),
				Region:   fullRegion(),
			})
		}
	}

	return out
}

// deriveStrains 产出资源压力投影。投影需求超出容量时给出耗尽时刻估计：
// 以当前用量到容量的差值除以投影增速线性外推。
func (g *Generator) deriveStrains(now time.Time, in Inputs) []ResourceStrain {
	capacity := 100.0
	current := mathutil.ClampScore(100 - in.Obs.HealthHeadroom)
	projected := current
	if in.Obs.HorizonScope > 0 {
		projected = mathutil.Clamp(current+in.Obs.HorizonScope*0.5, 0, 200)
	}
	strain := ResourceStrain{
		Resource:  "execution-headroom",
		Current:   current,
		Projected: projected,
		Capacity:  capacity,
	}
	if projected > capacity && projected > current {
		// 每个周期逼近投影值的 10%，据此估算触顶时间。
		stepsToCap := (capacity - current) / ((projected - current) * 0.1)
		if stepsToCap > 0 {
			at := now.Add(time.Duration(stepsToCap) * g.params.CadenceInterval)
			strain.Exhaustion = &at
		}
	}
	out := []ResourceStrain{strain}

	if in.Obs.ThreatCount > 0 {
		out = append(out, ResourceStrain{
			Resource:  "threat-budget",
			Current:   float64(in.Obs.ThreatCount),
			Projected: float64(in.Obs.ThreatCount) * 1.2,
			Capacity:  8,
		})
	}
	return out
}

func countNeutral(signals []fusion.NormalizedSignal) int {
	n := 0
	for _, sig := range signals {
		if sig.Neutral {
			n++
		}
	}
	return n
}
