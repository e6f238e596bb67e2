// Package safety 实现安全否决机关：一组不可协商的谓词，在任何融合
// 结果生效之前按固定顺序求值。首个命中的谓词独占裁决权——否决之间
// 不做加权，也不做融合。
package safety

import (
	"fmt"

	"arbiter/internal/fusion"
)

// Thresholds 是否决判定的阈值集合，取自当前调优快照。
type Thresholds struct {
	HealthFloor          float64
	ThreatCeiling        int
	AggregateRiskCeiling float64
	RootCauseConfidence  float64
}

// Override 描述一次否决裁决。Active 为 true 时完全取代融合动作：
// 最终动作只能取自 Permitted，置信度被强制压到 ConfidenceFloor。
type Override struct {
	Active          bool
	Authority       string
	Reason          string
	Permitted       []fusion.Action
	ConfidenceFloor float64
}

// Permits 判断动作是否在允许子集内；未生效的否决允许一切。
func (o Override) Permits(a fusion.Action) bool {
	if !o.Active {
		return true
	}
	for _, p := range o.Permitted {
		if p == a {
			return true
		}
	}
	return false
}

// Fallback 返回允许子集中最保守的动作。子集按保守程度升序声明，
// 因此首元素即兜底动作。
func (o Override) Fallback() fusion.Action {
	if len(o.Permitted) == 0 {
		return fusion.ActionWait
	}
	return o.Permitted[0]
}

// predicate 是一条否决谓词：命中时给出理由与允许动作子集。
type predicate struct {
	authority string
	permitted []fusion.Action
	match     func(obs fusion.Observations, th Thresholds) (string, bool)
}

// Authority 持有按声明顺序求值的谓词表。顺序即优先级，
// 前面的谓词命中后不再继续求值。
type Authority struct {
	predicates []predicate
}

func NewAuthority() *Authority {
	return &Authority{predicates: []predicate{
		{
			authority: "health-monitor",
			permitted: []fusion.Action{fusion.ActionWait},
			match: func(obs fusion.Observations, th Thresholds) (string, bool) {
				if obs.HealthScore >= th.HealthFloor {
					return "", false
				}
				return fmt.Sprintf("health critically low (%.0f)", obs.HealthScore), true
			},
		},
		{
			authority: "threat-detector",
			permitted: []fusion.Action{fusion.ActionWait},
			match: func(obs fusion.Observations, th Thresholds) (string, bool) {
				if obs.ThreatClass != "systemic" {
					return "", false
				}
				return "threat classification is systemic", true
			},
		},
		{
			authority: "threat-detector",
			permitted: []fusion.Action{fusion.ActionWait, fusion.ActionHold},
			match: func(obs fusion.Observations, th Thresholds) (string, bool) {
				if obs.ThreatCount < th.ThreatCeiling {
					return "", false
				}
				return fmt.Sprintf("threat count %d at ceiling %d", obs.ThreatCount, th.ThreatCeiling), true
			},
		},
		{
			authority: "risk-map",
			permitted: []fusion.Action{fusion.ActionWait, fusion.ActionHold},
			match: func(obs fusion.Observations, th Thresholds) (string, bool) {
				if obs.AggregateRisk < th.AggregateRiskCeiling {
					return "", false
				}
				return fmt.Sprintf("aggregate risk %.0f above critical ceiling %.0f", obs.AggregateRisk, th.AggregateRiskCeiling), true
			},
		},
		{
			authority: "root-cause",
			permitted: []fusion.Action{fusion.ActionWait},
			match: func(obs fusion.Observations, th Thresholds) (string, bool) {
				if !obs.RootCauseSystemic || obs.RootCauseConfidence < th.RootCauseConfidence {
					return "", false
				}
				detail := obs.RootCauseDetail
				if detail == "" {
					detail = "unspecified"
				}
				return fmt.Sprintf("root-cause subsystem reports systemic issue: %s", detail), true
			},
		},
	}}
}

// Evaluate 按固定顺序求值全部谓词，返回首个命中的否决。
// 未命中任何谓词时返回零值（Active=false）。
func (a *Authority) Evaluate(obs fusion.Observations, th Thresholds) Override {
	for _, p := range a.predicates {
		reason, fired := p.match(obs, th)
		if !fired {
			continue
		}
		return Override{
			Active:    true,
			Authority: p.authority,
			Reason:    reason,
			Permitted: append([]fusion.Action(nil), p.permitted...),
			// 否决状态下不允许表达信心：下游闸门据此一律拒绝放行。
			ConfidenceFloor: 0,
		}
	}
	return Override{}
}
