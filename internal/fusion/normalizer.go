package fusion

import (
	"math"
	"sync"
	"time"

	"arbiter/internal/logger"
	"arbiter/internal/pkg/mathutil"
	"arbiter/internal/upstream"
)

// 中文说明：
// 归一化器。每个来源各有一条由契约固定的单调变换，把原生读数
// 映射到统一的 Value/Confidence/Bias 区间。缺失、过期或无法解析
// 的来源以中性默认值顶替并记录告警，绝不丢弃——权重核算必须稳定。

// 中性默认值：缺席来源的替身。
const (
	neutralValue      = 50
	neutralConfidence = 20
	neutralBias       = 0
)

// Normalizer 把各上游读数映射到统一评分区间。
type Normalizer struct {
	staleAfter time.Duration

	warnMu    sync.Mutex
	warnAt    map[upstream.SourceID]time.Time
	warnEvery time.Duration
}

func NewNormalizer(staleAfter time.Duration) *Normalizer {
	if staleAfter <= 0 {
		staleAfter = 1500 * time.Millisecond
	}
	return &Normalizer{
		staleAfter: staleAfter,
		warnAt:     make(map[upstream.SourceID]time.Time),
		warnEvery:  5 * time.Second,
	}
}

// Collect 轮询所有生产者并产出本周期的信号集与观测事实。
// 返回的信号按固定来源顺序排列，数量恒等于已知来源数。
func (n *Normalizer) Collect(now time.Time, producers []upstream.Producer) ([]NormalizedSignal, Observations) {
	byID := make(map[upstream.SourceID]upstream.Producer, len(producers))
	for _, p := range producers {
		if p == nil {
			continue
		}
		byID[p.ID()] = p
	}

	obs := Observations{
		HealthScore:    neutralValue,
		HealthHeadroom: neutralValue,
		Ages:           make(map[upstream.SourceID]time.Duration),
	}
	signals := make([]NormalizedSignal, 0, len(upstream.AllSources()))
	for _, id := range upstream.AllSources() {
		p, attached := byID[id]
		if !attached {
			signals = append(signals, n.neutral(id, 0, "unattached"))
			continue
		}
		snap, ok := p.Snapshot()
		if !ok {
			signals = append(signals, n.neutral(id, 0, "no snapshot yet"))
			continue
		}
		age := snap.Age(now)
		obs.Ages[id] = age
		if age > n.staleAfter {
			signals = append(signals, n.neutral(id, age, "stale"))
			continue
		}
		sig, usable := n.transform(id, snap, &obs)
		if !usable {
			signals = append(signals, n.neutral(id, age, "unparseable payload"))
			continue
		}
		sig.Age = age
		signals = append(signals, sig)
	}
	return signals, obs
}

// neutral 产出中性替代信号，并按节流间隔记录告警。
func (n *Normalizer) neutral(id upstream.SourceID, age time.Duration, why string) NormalizedSignal {
	n.warnMu.Lock()
	last := n.warnAt[id]
	throttled := time.Since(last) < n.warnEvery
	if !throttled {
		n.warnAt[id] = time.Now()
	}
	n.warnMu.Unlock()
	if !throttled {
		logger.Warnf("upstream %s degraded to neutral: %s", id, why)
	}
	return NormalizedSignal{
		Source:     id,
		Value:      neutralValue,
		Confidence: neutralConfidence,
		Bias:       neutralBias,
		Neutral:    true,
		Age:        age,
	}
}

// transform 按来源种类应用契约变换；返回 false 表示负载关键字段缺失。
func (n *Normalizer) transform(id upstream.SourceID, snap upstream.Snapshot, obs *Observations) (NormalizedSignal, bool) {
	sig := NormalizedSignal{Source: id}
	switch id {
	case upstream.SourceMarketState:
		state := snap.Field("state").String()
		value, known := marketStateValue(state)
		if !known {
			return sig, false
		}
		sig.Value = value
		sig.Bias = mathutil.ClampUnit(snap.Field("direction").Float())
		sig.Confidence = optionalScore(snap, "confidence")
		obs.MarketState = state

	case upstream.SourceThreat:
		count := int(snap.Field("count").Int())
		class := snap.Field("classification").String()
		surcharge, known := threatSurcharge(class)
		if !known {
			return sig, false
		}
		sig.Value = mathutil.ClampScore(100 - 10*float64(count) - surcharge)
		sig.Bias = -math.Min(1, float64(count)/6)
		sig.Confidence = optionalScore(snap, "certainty")
		obs.ThreatCount = count
		obs.ThreatClass = class

	case upstream.SourceVolatility:
		pct := snap.Field("percentile")
		if !pct.Exists() {
			return sig, false
		}
		regime := snap.Field("regime").String()
		sig.Value = mathutil.ClampScore(100 - pct.Float())
		sig.Bias = 0
		sig.Confidence = regimeConfidence(regime)
		obs.VolatilityRegime = regime

	case upstream.SourceCorrelation:
		avgField := snap.Field("average")
		if !avgField.Exists() {
			return sig, false
		}
		avg := mathutil.ClampUnit(avgField.Float())
		sig.Value = mathutil.ClampScore((1 - mathutil.Abs(avg)) * 100)
		sig.Bias = mathutil.ClampUnit(-avg * 0.5)
		// 样本广度越大越可信，两倍放大后封顶 100。
		if breadth := snap.Field("breadth"); breadth.Exists() {
			sig.Confidence = mathutil.ClampScore(2 * float64(breadth.Int()))
		} else {
			sig.Confidence = 50
		}

	case upstream.SourceHorizon:
		prob := snap.Field("probability")
		if !prob.Exists() {
			return sig, false
		}
		sig.Value = mathutil.ClampScore(prob.Float() * 100)
		sig.Bias = mathutil.Sign(snap.Field("direction").Float())
		sig.Confidence = optionalScore(snap, "confidence")
		obs.HorizonScope = mathutil.ClampScore(snap.Field("scope").Float())
		obs.HorizonMode = snap.Field("mode").String()

	case upstream.SourceHealth:
		score := snap.Field("score")
		if !score.Exists() {
			return sig, false
		}
		sig.Value = mathutil.ClampScore(score.Float())
		sig.Bias = 0
		sig.Confidence = 100 // 自报健康分，置信度恒满
		obs.HealthScore = sig.Value
		if headroom := snap.Field("headroom"); headroom.Exists() {
			obs.HealthHeadroom = mathutil.ClampScore(headroom.Float())
		}
		if caps := snap.Field("capabilities"); caps.Exists() {
			obs.Capabilities = make(map[string]bool)
			for mode, v := range caps.Map() {
				obs.Capabilities[mode] = v.Bool()
			}
		}
		if rc := snap.Field("root_cause"); rc.Exists() {
			obs.RootCauseSystemic = rc.Get("systemic").Bool()
			obs.RootCauseConfidence = mathutil.ClampScore(rc.Get("confidence").Float())
			obs.RootCauseDetail = rc.Get("detail").String()
		}

	default:
		return sig, false
	}

	sig.Value = mathutil.ClampScore(sig.Value)
	sig.Confidence = mathutil.ClampScore(sig.Confidence)
	sig.Bias = mathutil.ClampUnit(sig.Bias)
	return sig, true
}

// optionalScore 读取可选的 0-100 字段，未上报时按 50 处理。
func optionalScore(snap upstream.Snapshot, field string) float64 {
	f := snap.Field(field)
	if !f.Exists() {
		return 50
	}
	return mathutil.ClampScore(f.Float())
}

// marketStateValue 把市场状态类别映射到有利度评分。
func marketStateValue(state string) (float64, bool) {
	switch state {
	case "trending":
		return 85, true
	case "ranging":
		return 55, true
	case "choppy":
		return 45, true
	case "volatile":
		return 30, true
	case "unstable":
		return 15, true
	case "critical":
		return 5, true
	default:
		return 0, false
	}
}

// threatSurcharge 返回威胁分类的额外扣分。
func threatSurcharge(class string) (float64, bool) {
	switch class {
	case "none":
		return 0, true
	case "low":
		return 5, true
	case "elevated":
		return 15, true
	case "critical":
		return 30, true
	case "systemic":
		return 50, true
	default:
		return 0, false
	}
}

// regimeConfidence 由波动状态推导扫描器置信度。
func regimeConfidence(regime string) float64 {
	switch regime {
	case "calm":
		return 90
	case "normal":
		return 75
	case "elevated":
		return 55
	case "extreme":
		return 35
	default:
		return 50
	}
}
