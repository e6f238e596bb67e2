package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"arbiter/internal/config"
	"arbiter/internal/config/loader"
	"arbiter/internal/fusion"
	"arbiter/internal/gateway/notifier"
	"arbiter/internal/logger"
	"arbiter/internal/pipeline"
	"arbiter/internal/pkg/circuit"
	"arbiter/internal/riskmap"
	"arbiter/internal/safety"
	"arbiter/internal/scheduler"
	"arbiter/internal/upstream"

	"github.com/google/uuid"
)

// 中文说明：
// 决策帧发射器。单线程周期驱动整条融合管线：
//   归一化(0) → 安全否决(1) → {冲突检测 ∥ 风险图重建}(2) → 加权融合(3)
// 周期结束后组装决策帧并原子发布。帧序号严格连续；慢周期跳拍而非
// 积压；持久化与通知全部走异步队列，满了就丢并计数，绝不拖慢周期。

// FrameSink 接收已发布的决策帧用于持久化。
type FrameSink interface {
	Append(frame DecisionFrame) error
}

// OverrideSink 记录安全否决的生效与解除，用于事后审计台账。
type OverrideSink interface {
	RecordOverride(frame DecisionFrame, o safety.Override, engaged bool) error
}

// Emitter 是融合周期的所有者。除只读访问器外，全部可变状态
// 仅由周期线程触碰。
type Emitter struct {
	cfg       config.Config
	producers []upstream.Producer
	tuning    *loader.TuningLoader

	normalizer *fusion.Normalizer
	resolver   *fusion.Resolver
	authority  *safety.Authority
	breaker    *circuit.CircuitBreaker

	seq       uint64
	scoreHist *riskmap.ScoreHistory
	lastMap   atomic.Pointer[riskmap.Map]
	latest    atomic.Value // DecisionFrame

	histMu  sync.RWMutex
	history *frameRing

	persistCh chan DecisionFrame
	dropped   atomic.Uint64

	cadence *scheduler.Cadence

	frameSink    FrameSink
	overrideSink OverrideSink
	notify       notifier.TextNotifier

	// 否决边沿追踪：只在状态翻转时审计与通知。
	prevOverride safety.Override
}

// Option 配置 Emitter 的可选依赖。
type Option func(*Emitter)

func WithFrameSink(s FrameSink) Option {
	return func(e *Emitter) { e.frameSink = s }
}

func WithOverrideSink(s OverrideSink) Option {
	return func(e *Emitter) { e.overrideSink = s }
}

func WithNotifier(n notifier.TextNotifier) Option {
	return func(e *Emitter) { e.notify = n }
}

// WithStartSeq 设定起始序号（通常取帧日志里的最大序号），
// 保证进程重启后帧序仍然无缺口。
func WithStartSeq(seq uint64) Option {
	return func(e *Emitter) { e.seq = seq }
}

func New(cfg config.Config, producers []upstream.Producer, tuning *loader.TuningLoader, opts ...Option) *Emitter {
	e := &Emitter{
		cfg:        cfg,
		producers:  producers,
		tuning:     tuning,
		normalizer: fusion.NewNormalizer(time.Duration(cfg.Emitter.StaleAfterMS) * time.Millisecond),
		resolver:   fusion.NewResolver(),
		authority:  safety.NewAuthority(),
		breaker: circuit.NewCircuitBreaker("riskmap-rebuild",
			cfg.RiskMap.BreakerThreshold,
			time.Duration(cfg.RiskMap.BreakerCooldownSeconds)*time.Second),
		scoreHist: riskmap.NewScoreHistory(cfg.Emitter.HistorySize),
		history:   newFrameRing(cfg.Emitter.HistorySize),
		persistCh: make(chan DecisionFrame, cfg.Emitter.PersistQueue),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.breaker.SetStateChangeHandler(func(name string, from, to circuit.State) {
		logger.Warnf("CircuitBreaker %s state change: %s -> %s", name, from, to)
		e.sendText(fmt.Sprintf("⚡ breaker %s: %s → %s", name, from, to))
	})
	return e
}

// Run 启动持久化协程与节奏循环，阻塞直到 ctx 取消。
func (e *Emitter) Run(ctx context.Context) error {
	if e.tuning == nil {
		return fmt.Errorf("emitter requires a tuning loader")
	}
	go e.persistLoop(ctx)

	interval := time.Duration(e.tuning.Snapshot().Tuning.CadenceMS) * time.Millisecond
	e.cadence = scheduler.NewCadence(ctx, interval)
	e.cadence.RunImmediately = true
	e.cadence.Start(func(now time.Time) {
		e.Tick(now)
		// 节奏热更只在周期之间生效。
		if next := time.Duration(e.tuning.Snapshot().Tuning.CadenceMS) * time.Millisecond; next != e.cadence.Interval {
			logger.Infof("emitter cadence updated: %s -> %s", e.cadence.Interval, next)
			e.cadence.SetInterval(next)
		}
	})
	return ctx.Err()
}

// Tick 同步执行一个完整融合周期并发布决策帧。
// 正常由节奏循环驱动；回放与测试直接调用。
func (e *Emitter) Tick(now time.Time) DecisionFrame {
	snap := e.tuning.Snapshot()
	tc := pipeline.NewTickContext(uuid.NewString(), e.seq+1, now)
	frame := e.runCycle(tc, snap.Tuning, now)
	e.publish(tc, frame)
	return frame
}

// runCycle 跑完整条管线并组装帧。任何环节 panic 都被吸收为
// 防御帧：WAIT、零置信，周期照常翻页。
func (e *Emitter) runCycle(tc *pipeline.TickContext, t loader.Tuning, now time.Time) (frame DecisionFrame) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("fusion cycle %d panic: %v", tc.Seq, r)
			frame = e.defensiveFrame(tc, now)
		}
	}()

	p := pipeline.New("fusion",
		pipeline.Func{
			MetaInfo: pipeline.MiddlewareMeta{Name: "normalize", Stage: 0, Critical: true},
			Fn: func(_ context.Context, tc *pipeline.TickContext) error {
				signals, obs := e.normalizer.Collect(now, e.producers)
				tc.SetSignals(signals, obs)
				if m := e.lastMap.Load(); m != nil {
					tc.SetAggregateRisk(m.Composite)
				}
				return nil
			},
		},
		pipeline.Func{
			MetaInfo: pipeline.MiddlewareMeta{Name: "safety", Stage: 1, Critical: true},
			Fn: func(_ context.Context, tc *pipeline.TickContext) error {
				tc.SetOverride(e.authority.Evaluate(tc.Observations(), e.thresholds(t)))
				return nil
			},
		},
		pipeline.Func{
			MetaInfo: pipeline.MiddlewareMeta{Name: "conflicts", Stage: 2},
			Fn: func(_ context.Context, tc *pipeline.TickContext) error {
				det := fusion.NewDetector(e.detectorParams())
				tc.SetConflicts(det.Detect(tc.Signals(), tc.Observations(), tc.Override().Active))
				return nil
			},
		},
		pipeline.Func{
			MetaInfo: pipeline.MiddlewareMeta{Name: "riskmap", Stage: 2},
			Fn: func(_ context.Context, tc *pipeline.TickContext) error {
				e.rebuildRiskMap(tc, t, now)
				return nil
			},
		},
		pipeline.Func{
			MetaInfo: pipeline.MiddlewareMeta{Name: "resolve", Stage: 3, Critical: true},
			Fn: func(_ context.Context, tc *pipeline.TickContext) error {
				out := e.resolver.Resolve(tc.Signals(), tc.Conflicts(), tc.Observations(), e.resolverParams(t))
				tc.SetOutcome(out)
				return nil
			},
		},
	)
	if err := p.Run(context.Background(), tc); err != nil {
		logger.Errorf("fusion cycle %d failed: %v", tc.Seq, err)
		return e.defensiveFrame(tc, now)
	}
	return e.assemble(tc, now)
}

// rebuildRiskMap 在熔断器保护下重建风险图。重建失败或被熔断时
// 沿用上一张有效图并降级标记，绝不让周期空手而归。
func (e *Emitter) rebuildRiskMap(tc *pipeline.TickContext, t loader.Tuning, now time.Time) {
	if !e.breaker.Allow() {
		tc.AddWarning("risk map rebuild suppressed: breaker open, reusing last good map")
		tc.SetRiskMap(e.lastMap.Load())
		return
	}
	m, err := e.buildMap(tc, t, now)
	if err != nil {
		e.breaker.RecordFailure()
		logger.Errorf("risk map rebuild failed: %v", err)
		tc.AddWarning("risk map rebuild failed, reusing last good map")
		tc.SetRiskMap(e.lastMap.Load())
		return
	}
	e.breaker.RecordSuccess()
	e.lastMap.Store(m)
	tc.SetRiskMap(m)
}

// buildMap 把重建过程中的 panic 折算成错误，交给熔断器计数。
func (e *Emitter) buildMap(tc *pipeline.TickContext, t loader.Tuning, now time.Time) (m *riskmap.Map, err error) {
	defer func() {
		if r := recover(); r != nil {
			m = nil
			err = fmt.Errorf("rebuild panic: %v", r)
		}
	}()
	gen := riskmap.NewGenerator(e.riskParams(t))
	m = gen.Build(now, riskmap.Inputs{
		Signals: tc.Signals(),
		Obs:     tc.Observations(),
		History: e.scoreHist,
		Stats: riskmap.CycleStats{
			MissedCycles: e.cadence.Missed(),
			QueueDepth:   len(e.persistCh),
			QueueCap:     cap(e.persistCh),
			DroppedCount: e.dropped.Load(),
		},
	})
	return m, nil
}

// assemble 把周期产物折叠成最终决策帧。优先级自上而下：
// 安全否决 > 禁区钳制 > 融合动作。
func (e *Emitter) assemble(tc *pipeline.TickContext, now time.Time) DecisionFrame {
	out := tc.Outcome()
	o := tc.Override()

	frame := DecisionFrame{
		Seq:        tc.Seq,
		TraceID:    tc.TraceID,
		Timestamp:  now,
		Action:     out.Action,
		Confidence: out.Confidence,
		Fused:      out,
		Conflicts:  len(tc.Conflicts()),
		Missed:     e.cadence.Missed(),
		Reasons:    tc.Warnings(),
	}
	if out.Rule != "" {
		frame.Reasons = append(frame.Reasons, "rule: "+out.Rule)
	}

	if m := tc.RiskMap(); m != nil {
		frame.RiskZone = m.OverallZone
	} else {
		frame.RiskZone = riskmap.ZoneUnstable
		frame.Degraded = true
		frame.Reasons = append(frame.Reasons, "risk map unavailable, zone degraded to UNSTABLE")
	}

	if o.Active {
		frame.OverrideActive = true
		frame.Authority = o.Authority
		frame.Reasons = append(frame.Reasons, fmt.Sprintf("override[%s]: %s", o.Authority, o.Reason))
		if !o.Permits(frame.Action) {
			frame.Action = o.Fallback()
		}
		frame.Confidence = o.ConfidenceFloor
	}

	// 禁区内只允许按兵不动。
	if frame.RiskZone == riskmap.ZoneForbidden && frame.Action != fusion.ActionWait && frame.Action != fusion.ActionHold {
		frame.Action = fusion.ActionWait
		frame.Reasons = append(frame.Reasons, "forbidden zone clamps action to WAIT")
	}
	return frame
}

// defensiveFrame 是周期失败时的兜底产物：WAIT、零置信、原因固定。
func (e *Emitter) defensiveFrame(tc *pipeline.TickContext, now time.Time) DecisionFrame {
	zone := riskmap.ZoneUnstable
	if m := e.lastMap.Load(); m != nil {
		zone = riskmap.Stricter(zone, m.OverallZone)
	}
	return DecisionFrame{
		Seq:        tc.Seq,
		TraceID:    tc.TraceID,
		Timestamp:  now,
		Action:     fusion.ActionWait,
		Confidence: 0,
		RiskZone:   zone,
		Reasons:    []string{"internal fusion fault"},
		Degraded:   true,
		Missed:     e.cadence.Missed(),
		Fused: fusion.FusedOutcome{
			Action: fusion.ActionWait,
			Rule:   "defensive",
		},
	}
}

// publish 原子发布帧并处理历史、持久化与边沿事件。
func (e *Emitter) publish(tc *pipeline.TickContext, frame DecisionFrame) {
	e.seq = frame.Seq
	e.latest.Store(frame)

	e.histMu.Lock()
	e.history.push(frame)
	e.histMu.Unlock()

	scores := make(map[upstream.SourceID]float64)
	for _, sig := range tc.Signals() {
		scores[sig.Source] = sig.Value
	}
	e.scoreHist.Push(riskmap.HistoryEntry{
		At:     frame.Timestamp,
		Fused:  frame.Fused.Value,
		Bias:   frame.Fused.Bias,
		Scores: scores,
	})

	select {
	case e.persistCh <- frame:
	default:
		e.dropped.Add(1)
	}

	e.auditCycle(tc, frame)
}

// auditCycle 处理否决边沿与阻断冲突的审计日志和外部通知。
func (e *Emitter) auditCycle(tc *pipeline.TickContext, frame DecisionFrame) {
	o := tc.Override()
	prev := e.prevOverride
	switch {
	case o.Active && !prev.Active:
		permitted := make([]string, 0, len(o.Permitted))
		for _, a := range o.Permitted {
			permitted = append(permitted, string(a))
		}
		logger.LogOverrideEngaged(o.Authority, o.Reason, permitted, o.ConfidenceFloor, e.inputDump(tc))
		e.sendText(overrideMessage(frame, o, permitted).RenderMarkdown())
		if e.overrideSink != nil {
			if err := e.overrideSink.RecordOverride(frame, o, true); err != nil {
				logger.Errorf("record override failed: %v", err)
			}
		}
	case !o.Active && prev.Active:
		logger.LogOverrideReleased(prev.Authority, "all veto predicates clear")
		e.sendText(fmt.Sprintf("✅ override released [%s]", prev.Authority))
		if e.overrideSink != nil {
			if err := e.overrideSink.RecordOverride(frame, prev, false); err != nil {
				logger.Errorf("record override failed: %v", err)
			}
		}
	}
	e.prevOverride = o

	for _, c := range tc.Conflicts() {
		if c.Severity != fusion.SeverityBlocking {
			continue
		}
		sources := make([]string, 0, len(c.Sources))
		for _, s := range c.Sources {
			sources = append(sources, string(s))
		}
		logger.LogBlockingConflict(string(c.Kind), c.Detail, sources)
		e.sendText(fmt.Sprintf("⛔ blocking conflict (%s): %s", c.Kind, c.Detail))
	}
}

// overrideMessage 组装否决生效的结构化推送。
func overrideMessage(frame DecisionFrame, o safety.Override, permitted []string) notifier.StructuredMessage {
	msg := notifier.StructuredMessage{
		Icon:      "🛑",
		Title:     "安全否决生效",
		Timestamp: frame.Timestamp,
	}
	msg.AddSection("否决",
		"机构: "+o.Authority,
		"原因: "+o.Reason,
		"允许动作: "+strings.Join(permitted, ", "))
	msg.AddSection("当前帧",
		fmt.Sprintf("seq=%d action=%s zone=%s", frame.Seq, frame.Action, frame.RiskZone))
	return msg
}

// inputDump 序列化触发时刻的信号与观测，供审计输入回放。
func (e *Emitter) inputDump(tc *pipeline.TickContext) string {
	raw, err := json.Marshal(map[string]any{
		"signals":      tc.Signals(),
		"observations": tc.Observations(),
	})
	if err != nil {
		return ""
	}
	return string(raw)
}

func (e *Emitter) persistLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-e.persistCh:
			if e.frameSink == nil {
				continue
			}
			if err := e.frameSink.Append(frame); err != nil {
				logger.Errorf("persist frame %d failed: %v", frame.Seq, err)
			}
		}
	}
}

func (e *Emitter) sendText(text string) {
	if e.notify == nil {
		return
	}
	go func() {
		if err := e.notify.SendText(text); err != nil {
			logger.Errorf("notify failed: %v", err)
		}
	}()
}

// Latest 返回最近发布的帧；尚未发布时 ok 为 false。
func (e *Emitter) Latest() (DecisionFrame, bool) {
	v := e.latest.Load()
	if v == nil {
		return DecisionFrame{}, false
	}
	return v.(DecisionFrame), true
}

// Recent 返回最近 n 帧，最新在前。
func (e *Emitter) Recent(n int) []DecisionFrame {
	e.histMu.RLock()
	defer e.histMu.RUnlock()
	return e.history.recent(n)
}

// RiskMap 返回最近一张有效风险图；可能为 nil。
func (e *Emitter) RiskMap() *riskmap.Map {
	return e.lastMap.Load()
}

// Stats 是发射器运行指标的只读快照。
type Stats struct {
	Seq           uint64           `json:"seq"`
	MissedCycles  uint64           `json:"missed_cycles"`
	DroppedFrames uint64           `json:"dropped_frames"`
	QueueDepth    int              `json:"queue_depth"`
	QueueCap      int              `json:"queue_cap"`
	Breaker       circuit.Snapshot `json:"breaker"`
	TuningVersion int64            `json:"tuning_version"`
}

func (e *Emitter) Stats() Stats {
	s := Stats{
		MissedCycles:  e.cadence.Missed(),
		DroppedFrames: e.dropped.Load(),
		QueueDepth:    len(e.persistCh),
		QueueCap:      cap(e.persistCh),
		Breaker:       e.breaker.Snapshot(),
	}
	if f, ok := e.Latest(); ok {
		s.Seq = f.Seq
	}
	if e.tuning != nil {
		s.TuningVersion = e.tuning.Snapshot().Version
	}
	return s
}

// thresholds 把调优快照映射为安全否决阈值。
func (e *Emitter) thresholds(t loader.Tuning) safety.Thresholds {
	return safety.Thresholds{
		HealthFloor:          t.HealthFloor,
		ThreatCeiling:        t.ThreatCeiling,
		AggregateRiskCeiling: t.AggregateRiskCeiling,
		RootCauseConfidence:  t.RootCauseConfidence,
	}
}

// detectorParams 冲突阈值不在热更范围内，直接取静态配置。
func (e *Emitter) detectorParams() fusion.DetectorParams {
	return fusion.DetectorParams{
		DirectionDelta:  e.cfg.Fusion.DirectionDelta,
		ConvictionFloor: e.cfg.Fusion.ConvictionFloor,
		HighConviction:  e.cfg.Fusion.HighConviction,
		StaleWindow:     time.Duration(e.cfg.Emitter.StaleAfterMS) * time.Millisecond,
	}
}

func (e *Emitter) resolverParams(t loader.Tuning) fusion.ResolverParams {
	return fusion.ResolverParams{
		Weights:         t.Weights,
		PrimarySource:   upstream.SourceID(e.cfg.Fusion.PrimarySource),
		ConflictPenalty: t.ConflictPenalty,
		PenaltyCap:      t.PenaltyCap,
		AgreementBonus:  t.AgreementBonus,
	}
}

func (e *Emitter) riskParams(t loader.Tuning) riskmap.Params {
	return riskmap.Params{
		Resolution:        t.Resolution,
		TimeWeight:        e.cfg.RiskMap.TimeWeight,
		ScopeWeight:       e.cfg.RiskMap.ScopeWeight,
		ImpactWeight:      e.cfg.RiskMap.ImpactWeight,
		ModeWeight:        e.cfg.RiskMap.ModeWeight,
		ZoneSafe:          t.ZoneSafe,
		ZoneCaution:       t.ZoneCaution,
		ZoneUnstable:      t.ZoneUnstable,
		ForbiddenShare:    e.cfg.RiskMap.ForbiddenShare,
		BottleneckCeiling: e.cfg.RiskMap.BottleneckCeiling,
		CadenceInterval:   time.Duration(t.CadenceMS) * time.Millisecond,
	}
}
