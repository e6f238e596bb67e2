package riskmap

import "fmt"

// 中文说明：
// 风险评估助手：把一张完成的风险图折算成放行/拦截裁定。
// FORBIDDEN 却找不到任何 critical 危险源时按系统性异常处理——
// 这类情况没有单点可修，标记 RequiresRewrite，不做自动恢复。

// Assessment 是对一张风险图的结论。
type Assessment struct {
	CanProceed      bool     `json:"can_proceed"`
	RequiresRewrite bool     `json:"requires_rewrite"`
	Reasons         []string `json:"reasons"`
	Recommendations []string `json:"recommendations,omitempty"`
}

// Assess 产出风险图的放行裁定。
func Assess(m *Map) Assessment {
	if m == nil {
		return Assessment{
			CanProceed: false,
			Reasons:    []string{"no risk map available"},
		}
	}
	a := Assessment{}

	switch m.OverallZone {
	case ZoneSafe, ZoneCaution:
		a.CanProceed = true
		a.Reasons = append(a.Reasons, fmt.Sprintf("overall zone %s", m.OverallZone))
	case ZoneUnstable:
		a.CanProceed = false
		a.Reasons = append(a.Reasons, "overall zone UNSTABLE: hold until pressure clears")
	case ZoneForbidden:
		a.CanProceed = false
		a.Reasons = append(a.Reasons, "overall zone FORBIDDEN")
		if !hasCriticalHazard(m) {
			// 整图禁止但无可归因的危险源：系统性异常。
			a.RequiresRewrite = true
			a.Reasons = append(a.Reasons, "no single attributable critical hazard: systemic anomaly")
		}
	}

	for _, h := range m.Hazards {
		if h.Severity != HazardCritical && h.Severity != HazardHigh {
			continue
		}
		a.Reasons = append(a.Reasons, fmt.Sprintf("%s hazard (%s): %s", h.Severity, h.Kind, h.Detail))
		if h.Mitigation != "" {
			a.Recommendations = append(a.Recommendations, h.Mitigation)
		}
	}
	for _, b := range m.Bottlenecks {
		if b.Severity >= 0.8 {
			a.Reasons = append(a.Reasons, fmt.Sprintf("severe %s bottleneck: %s", b.Kind, b.Detail))
		}
	}
	for _, p := range m.Pockets {
		a.Reasons = append(a.Reasons, fmt.Sprintf("%s pocket: %s (recovery ~%s)", p.Kind, p.Detail, p.Recovery))
	}
	for _, s := range m.Strains {
		if s.Exhaustion != nil {
			a.Reasons = append(a.Reasons, fmt.Sprintf("%s projected to exhaust at %s", s.Resource, s.Exhaustion.Format("15:04:05.000")))
			a.Recommendations = append(a.Recommendations, "reduce projected load before the exhaustion breakpoint")
		}
	}
	return a
}

func hasCriticalHazard(m *Map) bool {
	for _, h := range m.Hazards {
		if h.Severity == HazardCritical {
			return true
		}
	}
	return false
}
