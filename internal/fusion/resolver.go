package fusion

import (
	"math"

	"arbiter/internal/logger"
	"arbiter/internal/pkg/mathutil"
	"arbiter/internal/upstream"
)

// 中文说明：
// 加权融合器。先对全部信号做权重归一均值，再按冲突数惩罚置信度，
// 最后走一张显式有序的动作判定表——前面的规则命中后，后面的规则
// 刻意不可达，优先级必须可审计。

// ResolverParams 融合与动作判定参数，取自当前调优快照。
type ResolverParams struct {
	Weights         map[string]float64
	PrimarySource   upstream.SourceID
	ConflictPenalty float64
	PenaltyCap      float64
	AgreementBonus  float64
}

// Resolver 把归一化信号与冲突列表融合为单一结果。
type Resolver struct{}

func NewResolver() *Resolver {
	return &Resolver{}
}

// ladderInput 是动作判定表的入参快照。
type ladderInput struct {
	value      float64
	bias       float64
	confidence float64
	primary    *NormalizedSignal
}

// rung 是动作判定表的一行：命名规则 + 判定条件 + 产出动作。
type rung struct {
	name string
	when func(in ladderInput) bool
	act  func(in ladderInput) Action
}

// actionLadder 按声明顺序求值，首个命中者胜出。
var actionLadder = []rung{
	{
		name: "floor-wait",
		when: func(in ladderInput) bool { return in.value < 25 },
		act:  func(ladderInput) Action { return ActionWait },
	},
	{
		name: "primary-respect",
		when: func(in ladderInput) bool {
			if in.primary == nil || in.primary.Neutral {
				return false
			}
			// 主信号与融合结果的分歧落在其自身置信带内时，尊重主信号。
			band := math.Max(0.15, 1-in.primary.Confidence/100)
			return mathutil.Abs(in.primary.Bias-in.bias) <= band
		},
		act: func(in ladderInput) Action { return directionAction(in.primary.Bias) },
	},
	{
		name: "bull-band",
		when: func(in ladderInput) bool { return in.value >= 70 && in.bias > 0.35 },
		act:  func(ladderInput) Action { return ActionBuy },
	},
	{
		name: "bear-band",
		when: func(in ladderInput) bool { return in.value >= 70 && in.bias < -0.35 },
		act:  func(ladderInput) Action { return ActionSell },
	},
	{
		name: "mid-band",
		when: func(in ladderInput) bool { return in.value >= 45 },
		act:  func(ladderInput) Action { return ActionHold },
	},
	{
		name: "default-wait",
		when: func(ladderInput) bool { return true },
		act:  func(ladderInput) Action { return ActionWait },
	},
}

// Resolve 产出本周期的融合结果。blocking 冲突在查表前直接判 WAIT。
func (r *Resolver) Resolve(signals []NormalizedSignal, conflicts []Conflict, obs Observations, params ResolverParams) FusedOutcome {
	weights, changed := mathutil.NormalizeWeights(params.Weights)
	if changed {
		logger.Warnf("fusion weights did not sum to 1, renormalized across %d sources", len(weights))
	}

	var sumW, value, confidence, bias float64
	for _, sig := range signals {
		w := weights[string(sig.Source)]
		if w <= 0 {
			continue
		}
		sumW += w
		value += w * sig.Value
		confidence += w * sig.Confidence
		bias += w * sig.Bias
	}
	if sumW > 0 {
		value /= sumW
		confidence /= sumW
		bias /= sumW
	}

	penalty := math.Min(params.PenaltyCap, params.ConflictPenalty*float64(len(conflicts)))
	confidence -= penalty
	if len(conflicts) == 0 && value >= 70 {
		confidence += params.AgreementBonus
	}

	out := FusedOutcome{
		Value:      mathutil.ClampScore(value),
		Confidence: mathutil.ClampScore(confidence),
		Bias:       mathutil.ClampUnit(bias),
		RiskLevel:  riskLevel(value),
		Volatility: volatilityStatus(obs.VolatilityRegime),
	}

	for _, c := range conflicts {
		if c.Severity == SeverityBlocking {
			out.Action = ActionWait
			out.Rule = "blocking-conflict"
			return out
		}
	}

	in := ladderInput{
		value:      out.Value,
		bias:       out.Bias,
		confidence: out.Confidence,
		primary:    findSignal(signals, params.PrimarySource),
	}
	for _, step := range actionLadder {
		if step.when(in) {
			out.Action = step.act(in)
			out.Rule = step.name
			return out
		}
	}
	// 不可达：default-wait 永真兜底。
	out.Action = ActionHold
	out.Rule = "fallthrough"
	return out
}

// directionAction 由偏向符号映射动作；零偏向按持平处理。
func directionAction(bias float64) Action {
	switch {
	case bias > 0:
		return ActionBuy
	case bias < 0:
		return ActionSell
	default:
		return ActionHold
	}
}

func riskLevel(value float64) string {
	switch {
	case value >= 70:
		return "low"
	case value >= 50:
		return "medium"
	case value >= 30:
		return "high"
	default:
		return "critical"
	}
}

func volatilityStatus(regime string) string {
	if regime == "" {
		return "unknown"
	}
	return regime
}
