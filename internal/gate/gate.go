// Package gate 实现执行闸门：融合决策生效前的最后一道检查。
// 闸门只消费决策帧，永远不回头修改它；拒绝放行时给出全部理由，
// 仓位核算一律走定点数，不碰浮点。
package gate

import (
	"fmt"
	"time"

	"arbiter/internal/config"
	"arbiter/internal/emitter"
	"arbiter/internal/fusion"
	"arbiter/internal/logger"
	"arbiter/internal/riskmap"

	"github.com/shopspring/decimal"
)

// Inputs 是调用方提供的执行环境事实。
type Inputs struct {
	// CapitalFraction 当前可动用资金占比 [0,1]，是放行仓位的硬上限；
	// 零值表示调用方未申报，不设上限。
	CapitalFraction decimal.Decimal
	// Volatility 当前波动率百分位 [0,100]，越高仓位压得越狠。
	Volatility decimal.Decimal
	// Liquidity 流动性允许的仓位占比上限；零值表示不限。
	Liquidity decimal.Decimal
	// RiskTier 当前聚合风险档位（low/medium/high/critical）。
	// critical 直接拒绝，high 仓位减半，其余不干预。
	RiskTier string
}

// Authorization 是一次闸门裁决。Fraction 是放行的仓位占比，
// 拒绝时恒为零。
type Authorization struct {
	Approved   bool            `json:"approved"`
	Action     fusion.Action   `json:"action"`
	Fraction   decimal.Decimal `json:"fraction"`
	Reasons    []string        `json:"reasons"`
	FrameSeq   uint64          `json:"frame_seq"`
	RiskZone   riskmap.Zone    `json:"risk_zone"`
	Confidence float64         `json:"confidence"`
	DecidedAt  time.Time       `json:"decided_at"`
}

// LedgerSink 把裁决写入审计台账。
type LedgerSink interface {
	RecordAuthorization(a Authorization) error
}

// Gate 按固定顺序求值拒绝条件，全部通过后才核算仓位。
type Gate struct {
	cfg        config.GateConfig
	staleAfter time.Duration
	ledger     LedgerSink
}

// Option 配置 Gate 的可选依赖。
type Option func(*Gate)

func WithLedger(s LedgerSink) Option {
	return func(g *Gate) { g.ledger = s }
}

func New(cfg config.GateConfig, staleAfter time.Duration, opts ...Option) *Gate {
	if staleAfter <= 0 {
		staleAfter = 1500 * time.Millisecond
	}
	g := &Gate{cfg: cfg, staleAfter: staleAfter}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Authorize 裁决一次执行请求。拒绝条件逐条累积，放行要求全部落空。
func (g *Gate) Authorize(now time.Time, frame *emitter.DecisionFrame, in Inputs) Authorization {
	a := Authorization{DecidedAt: now, Fraction: decimal.Zero}
	if frame == nil {
		a.Reasons = append(a.Reasons, "no decision frame available")
		return g.finish(a)
	}

	a.FrameSeq = frame.Seq
	a.Action = frame.Action
	a.RiskZone = frame.RiskZone
	a.Confidence = frame.Confidence

	if age := frame.Age(now); age > g.staleAfter {
		a.Reasons = append(a.Reasons, fmt.Sprintf("frame %d stale (%s > %s)", frame.Seq, age.Round(time.Millisecond), g.staleAfter))
	}
	if frame.Action == fusion.ActionWait || frame.Action == fusion.ActionHold {
		a.Reasons = append(a.Reasons, fmt.Sprintf("action %s does not authorize execution", frame.Action))
	}
	if frame.OverrideActive {
		a.Reasons = append(a.Reasons, fmt.Sprintf("safety override active [%s]", frame.Authority))
	}
	if frame.RiskZone == riskmap.ZoneForbidden {
		a.Reasons = append(a.Reasons, "risk zone FORBIDDEN")
	}
	if frame.Confidence < g.cfg.ConfidenceFloor {
		a.Reasons = append(a.Reasons, fmt.Sprintf("confidence %.1f below floor %.1f", frame.Confidence, g.cfg.ConfidenceFloor))
	}
	if in.RiskTier == "critical" {
		a.Reasons = append(a.Reasons, "aggregate risk tier critical refuses execution")
	}
	if len(a.Reasons) > 0 {
		return g.finish(a)
	}

	a.Approved = true
	a.Fraction = g.size(frame, in)
	a.Reasons = append(a.Reasons, fmt.Sprintf("sized %s of capital at confidence %.1f in zone %s", a.Fraction, frame.Confidence, frame.RiskZone))
	return g.finish(a)
}

// size 核算仓位占比：基准 × 置信度 × 分区系数 × 风险档位 × 波动压制，
// 再按流动性、可用资金与全局上限封顶。全程 decimal，最终保留 6 位。
func (g *Gate) size(frame *emitter.DecisionFrame, in Inputs) decimal.Decimal {
	frac := decimal.NewFromFloat(g.cfg.BaseFraction)
	frac = frac.Mul(decimal.NewFromFloat(frame.Confidence).Div(decimal.NewFromInt(100)))
	frac = frac.Mul(g.zoneMultiplier(frame.RiskZone))

	// 聚合风险 high 档减半；critical 在 Authorize 已整体拒绝。
	if in.RiskTier == "high" {
		frac = frac.Div(decimal.NewFromInt(2))
	}

	// 波动压制：百分位线性折算，100 分位砍半。
	if in.Volatility.IsPositive() {
		damp := decimal.NewFromInt(1).Sub(in.Volatility.Div(decimal.NewFromInt(200)))
		if damp.IsNegative() {
			damp = decimal.Zero
		}
		frac = frac.Mul(damp)
	}

	if in.Liquidity.IsPositive() && frac.GreaterThan(in.Liquidity) {
		frac = in.Liquidity
	}
	// 可用资金是硬上限：闸门永远不放行超出手头资金的仓位。
	if in.CapitalFraction.IsPositive() && frac.GreaterThan(in.CapitalFraction) {
		frac = in.CapitalFraction
	}
	if max := decimal.NewFromFloat(g.cfg.MaxFraction); frac.GreaterThan(max) {
		frac = max
	}
	if frac.IsNegative() {
		frac = decimal.Zero
	}
	return frac.Round(6)
}

func (g *Gate) zoneMultiplier(zone riskmap.Zone) decimal.Decimal {
	switch zone {
	case riskmap.ZoneSafe:
		return decimal.NewFromFloat(g.cfg.MultSafe)
	case riskmap.ZoneCaution:
		return decimal.NewFromFloat(g.cfg.MultCaution)
	case riskmap.ZoneUnstable:
		return decimal.NewFromFloat(g.cfg.MultUnstable)
	default:
		return decimal.Zero
	}
}

func (g *Gate) finish(a Authorization) Authorization {
	if g.ledger != nil {
		if err := g.ledger.RecordAuthorization(a); err != nil {
			logger.Errorf("record gate authorization failed: %v", err)
		}
	}
	return a
}
