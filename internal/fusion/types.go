package fusion

import (
	"time"

	"arbiter/internal/upstream"
)

// 中文说明：
// 信号融合相关基础类型。所有类型仅在单个决策周期内有效，
// 周期结束即作废，不跨周期复用。

// Action 是融合后的最终动作。
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
	ActionWait Action = "WAIT"
)

// NormalizedSignal 是统一量纲后的上游信号：
// Value/Confidence 限定在 [0,100]，Bias 限定在 [-1,1]。
// Neutral 表示该来源缺失或过期，由中性默认值顶替。
type NormalizedSignal struct {
	Source     upstream.SourceID
	Value      float64
	Confidence float64
	Bias       float64
	Neutral    bool
	Age        time.Duration
}

// ConflictKind 划分冲突的判定维度。
type ConflictKind string

const (
	ConflictDirection  ConflictKind = "direction"
	ConflictState      ConflictKind = "state"
	ConflictResource   ConflictKind = "resource"
	ConflictTiming     ConflictKind = "timing"
	ConflictCapability ConflictKind = "capability"
)

// Severity 是冲突严重级别。blocking 仅在安全否决已生效的周期内出现。
type Severity string

const (
	SeverityMinor    Severity = "minor"
	SeverityModerate Severity = "moderate"
	SeverityMajor    Severity = "major"
	SeverityBlocking Severity = "blocking"
)

// Conflict 记录一组信号间按固定规则判定出的矛盾。
type Conflict struct {
	Kind        ConflictKind
	Sources     []upstream.SourceID
	Severity    Severity
	Detail      string
	HumanReview bool
}

// FusedOutcome 是单个周期的融合结果，产出后不可变。
// Rule 记录最终命中的动作判定规则名，用于审计。
type FusedOutcome struct {
	Value      float64
	Confidence float64
	Bias       float64
	RiskLevel  string
	Volatility string
	Action     Action
	Rule       string
}

// Observations 是归一化过程中顺带提取的结构化事实，
// 供冲突检测与安全否决判定使用，避免各处重复解析负载。
type Observations struct {
	MarketState         string
	ThreatCount         int
	ThreatClass         string
	HorizonScope        float64
	HorizonMode         string
	HealthScore         float64
	HealthHeadroom      float64
	Capabilities        map[string]bool
	RootCauseSystemic   bool
	RootCauseConfidence float64
	RootCauseDetail     string
	VolatilityRegime    string
	// AggregateRisk 是上一周期风险图的综合分，由发射器注入。
	AggregateRisk float64
	Ages          map[upstream.SourceID]time.Duration
}
