package pipeline

import (
	"sync"
	"time"

	"arbiter/internal/fusion"
	"arbiter/internal/riskmap"
	"arbiter/internal/safety"
)

// TickContext 表示一次融合周期在管线中的上下文。
// 周期本身单线程，但同一 stage 内的中间件可以并行执行，
// 因此写入不相交字段时仍经由自身互斥锁保护。
type TickContext struct {
	TraceID   string
	Seq       uint64
	StartedAt time.Time

	mu        sync.RWMutex
	signals   []fusion.NormalizedSignal
	obs       fusion.Observations
	conflicts []fusion.Conflict
	override  safety.Override
	riskMap   *riskmap.Map
	outcome   fusion.FusedOutcome
	warnings  []string
}

// NewTickContext 初始化周期上下文。
func NewTickContext(traceID string, seq uint64, startedAt time.Time) *TickContext {
	if startedAt.IsZero() {
		startedAt = time.Now()
	}
	return &TickContext{
		TraceID:   traceID,
		Seq:       seq,
		StartedAt: startedAt,
	}
}

// SetSignals 写入本周期的归一化信号集与观测事实。
func (tc *TickContext) SetSignals(signals []fusion.NormalizedSignal, obs fusion.Observations) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.signals = signals
	tc.obs = obs
}

// Signals 返回信号集副本。
func (tc *TickContext) Signals() []fusion.NormalizedSignal {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	out := make([]fusion.NormalizedSignal, len(tc.signals))
	copy(out, tc.signals)
	return out
}

// Observations 返回观测事实。
func (tc *TickContext) Observations() fusion.Observations {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.obs
}

// SetAggregateRisk 注入上一周期风险图的综合分，供安全谓词使用。
func (tc *TickContext) SetAggregateRisk(score float64) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.obs.AggregateRisk = score
}

// SetOverride 记录安全否决裁决。
func (tc *TickContext) SetOverride(o safety.Override) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.override = o
}

// Override 返回安全否决裁决。
func (tc *TickContext) Override() safety.Override {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.override
}

// SetConflicts 记录冲突列表。
func (tc *TickContext) SetConflicts(conflicts []fusion.Conflict) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.conflicts = conflicts
}

// Conflicts 返回冲突列表副本。
func (tc *TickContext) Conflicts() []fusion.Conflict {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	out := make([]fusion.Conflict, len(tc.conflicts))
	copy(out, tc.conflicts)
	return out
}

// SetRiskMap 记录本周期的风险图。图本身产出后不可变，存指针即可。
func (tc *TickContext) SetRiskMap(m *riskmap.Map) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.riskMap = m
}

// RiskMap 返回本周期的风险图；可能为 nil（重建被熔断时）。
func (tc *TickContext) RiskMap() *riskmap.Map {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.riskMap
}

// SetOutcome 记录融合结果。
func (tc *TickContext) SetOutcome(out fusion.FusedOutcome) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.outcome = out
}

// Outcome 返回融合结果。
func (tc *TickContext) Outcome() fusion.FusedOutcome {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.outcome
}

// AddWarning 记录警告。
func (tc *TickContext) AddWarning(msg string) {
	if msg == "" {
		return
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.warnings = append(tc.warnings, msg)
}

// Warnings 返回警告列表副本。
func (tc *TickContext) Warnings() []string {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	out := make([]string, len(tc.warnings))
	copy(out, tc.warnings)
	return out
}
