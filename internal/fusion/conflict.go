package fusion

import (
	"fmt"
	"time"

	"arbiter/internal/pkg/mathutil"
	"arbiter/internal/upstream"
)

// 中文说明：
// 冲突检测器。规则全部固定且可解释，不做统计推断：
// - direction：两个非中性信号方向相反且分歧超阈值
// - state：激进姿态与 unstable/critical 市场状态并存
// - resource：预测视界请求的范围超出健康上报的资源余量
// - timing：两个高置信来源的快照时间差超窗
// - capability：请求的执行模式被健康能力掩码标记为不可用
// blocking 级别仅在安全否决已生效的周期内由 major 升格而来。

// DetectorParams 冲突判定阈值，取自当前调优快照。
type DetectorParams struct {
	DirectionDelta  float64
	ConvictionFloor float64
	HighConviction  float64
	StaleWindow     time.Duration
}

// Detector 按固定规则序扫描信号冲突。
type Detector struct {
	params DetectorParams
}

func NewDetector(params DetectorParams) *Detector {
	if params.DirectionDelta <= 0 {
		params.DirectionDelta = 1.2
	}
	if params.ConvictionFloor <= 0 {
		params.ConvictionFloor = 60
	}
	if params.HighConviction <= 0 {
		params.HighConviction = 80
	}
	if params.StaleWindow <= 0 {
		params.StaleWindow = 1500 * time.Millisecond
	}
	return &Detector{params: params}
}

// Detect 返回本周期全部冲突。overrideActive 表示安全否决已在本周期生效。
func (d *Detector) Detect(signals []NormalizedSignal, obs Observations, overrideActive bool) []Conflict {
	var conflicts []Conflict
	conflicts = append(conflicts, d.directionConflicts(signals, overrideActive)...)
	conflicts = append(conflicts, d.stateConflicts(signals, obs)...)
	conflicts = append(conflicts, d.resourceConflicts(signals, obs)...)
	conflicts = append(conflicts, d.timingConflicts(signals)...)
	conflicts = append(conflicts, d.capabilityConflicts(signals, obs)...)
	return conflicts
}

func (d *Detector) directionConflicts(signals []NormalizedSignal, overrideActive bool) []Conflict {
	var out []Conflict
	for i := 0; i < len(signals); i++ {
		for j := i + 1; j < len(signals); j++ {
			a, b := signals[i], signals[j]
			if a.Neutral || b.Neutral {
				continue
			}
			if a.Bias*b.Bias >= 0 {
				continue
			}
			delta := mathutil.Abs(a.Bias - b.Bias)
			if delta <= d.params.DirectionDelta {
				continue
			}
			if a.Confidence < d.params.ConvictionFloor || b.Confidence < d.params.ConvictionFloor {
				continue
			}
			severity := SeverityModerate
			review := false
			if a.Confidence >= d.params.HighConviction && b.Confidence >= d.params.HighConviction {
				// 两个高确信度的相反方向判断，权重无法调和。
				severity = SeverityMajor
				review = true
			}
			if overrideActive && severity == SeverityMajor {
				severity = SeverityBlocking
			}
			out = append(out, Conflict{
				Kind:        ConflictDirection,
				Sources:     []upstream.SourceID{a.Source, b.Source},
				Severity:    severity,
				Detail:      fmt.Sprintf("%s vs %s directional split (Δ%.2f)", a.Source, b.Source, delta),
				HumanReview: review,
			})
		}
	}
	return out
}

func (d *Detector) stateConflicts(signals []NormalizedSignal, obs Observations) []Conflict {
	if obs.MarketState != "unstable" && obs.MarketState != "critical" {
		return nil
	}
	var out []Conflict
	for _, sig := range signals {
		if sig.Neutral || sig.Source == upstream.SourceMarketState {
			continue
		}
		if mathutil.Abs(sig.Bias) < 0.5 || sig.Value < 70 {
			continue
		}
		out = append(out, Conflict{
			Kind:     ConflictState,
			Sources:  []upstream.SourceID{sig.Source, upstream.SourceMarketState},
			Severity: SeverityMajor,
			Detail:   fmt.Sprintf("%s requests aggressive posture while market is %s", sig.Source, obs.MarketState),
		})
	}
	return out
}

func (d *Detector) resourceConflicts(signals []NormalizedSignal, obs Observations) []Conflict {
	horizon := findSignal(signals, upstream.SourceHorizon)
	if horizon == nil || horizon.Neutral || obs.HorizonScope <= 0 {
		return nil
	}
	if obs.HorizonScope <= obs.HealthHeadroom {
		return nil
	}
	severity := SeverityModerate
	if obs.HealthHeadroom > 0 && obs.HorizonScope > obs.HealthHeadroom*1.5 {
		severity = SeverityMajor
	}
	return []Conflict{{
		Kind:     ConflictResource,
		Sources:  []upstream.SourceID{upstream.SourceHorizon, upstream.SourceHealth},
		Severity: severity,
		Detail: fmt.Sprintf("requested scope %.0f exceeds resource headroom %.0f",
			obs.HorizonScope, obs.HealthHeadroom),
	}}
}

func (d *Detector) timingConflicts(signals []NormalizedSignal) []Conflict {
	skewLimit := d.params.StaleWindow / 2
	var out []Conflict
	for i := 0; i < len(signals); i++ {
		for j := i + 1; j < len(signals); j++ {
			a, b := signals[i], signals[j]
			if a.Neutral || b.Neutral {
				continue
			}
			if a.Confidence < d.params.ConvictionFloor || b.Confidence < d.params.ConvictionFloor {
				continue
			}
			skew := a.Age - b.Age
			if skew < 0 {
				skew = -skew
			}
			if skew <= skewLimit {
				continue
			}
			out = append(out, Conflict{
				Kind:     ConflictTiming,
				Sources:  []upstream.SourceID{a.Source, b.Source},
				Severity: SeverityMinor,
				Detail:   fmt.Sprintf("%s and %s snapshots skewed by %s", a.Source, b.Source, skew.Round(time.Millisecond)),
			})
		}
	}
	return out
}

func (d *Detector) capabilityConflicts(signals []NormalizedSignal, obs Observations) []Conflict {
	if obs.HorizonMode == "" || obs.Capabilities == nil {
		return nil
	}
	horizon := findSignal(signals, upstream.SourceHorizon)
	if horizon == nil || horizon.Neutral {
		return nil
	}
	available, known := obs.Capabilities[obs.HorizonMode]
	if !known || available {
		return nil
	}
	return []Conflict{{
		Kind:     ConflictCapability,
		Sources:  []upstream.SourceID{upstream.SourceHorizon, upstream.SourceHealth},
		Severity: SeverityModerate,
		Detail:   fmt.Sprintf("requested execution mode %q flagged unavailable", obs.HorizonMode),
	}}
}

func findSignal(signals []NormalizedSignal, id upstream.SourceID) *NormalizedSignal {
	for i := range signals {
		if signals[i].Source == id {
			return &signals[i]
		}
	}
	return nil
}
