package emitter

import (
	"time"

	"arbiter/internal/fusion"
	"arbiter/internal/riskmap"
)

// DecisionFrame 是一个融合周期对外的唯一产物。
// 帧只会被后续帧取代，绝不回头修改；Seq 严格单调递增且无缺口。
type DecisionFrame struct {
	Seq            uint64              `json:"seq"`
	TraceID        string              `json:"trace_id"`
	Timestamp      time.Time           `json:"ts"`
	Action         fusion.Action       `json:"action"`
	Confidence     float64             `json:"confidence"`
	RiskZone       riskmap.Zone        `json:"risk_zone"`
	Reasons        []string            `json:"reasons"`
	OverrideActive bool                `json:"override_active"`
	Authority      string              `json:"authority,omitempty"`
	Fused          fusion.FusedOutcome `json:"fused"`
	Conflicts      int                 `json:"conflicts"`
	Missed         uint64              `json:"missed_cycles"`
	Degraded       bool                `json:"degraded,omitempty"`
}

// Age 返回帧相对 now 的时长。
func (f DecisionFrame) Age(now time.Time) time.Duration {
	if f.Timestamp.IsZero() {
		return 0
	}
	return now.Sub(f.Timestamp)
}

// frameRing 是决策帧的固定容量环形缓冲，最旧的先淘汰。
// 只由发射周期写入，读取侧拿到按时间降序排列的副本。
type frameRing struct {
	frames []DecisionFrame
	head   int
	size   int
}

func newFrameRing(capacity int) *frameRing {
	if capacity < 16 {
		capacity = 16
	}
	return &frameRing{frames: make([]DecisionFrame, capacity)}
}

func (r *frameRing) push(f DecisionFrame) {
	r.frames[r.head] = f
	r.head = (r.head + 1) % len(r.frames)
	if r.size < len(r.frames) {
		r.size++
	}
}

// recent 返回最近 n 帧，最新的在前。
func (r *frameRing) recent(n int) []DecisionFrame {
	if r == nil || r.size == 0 || n <= 0 {
		return nil
	}
	if n > r.size {
		n = r.size
	}
	out := make([]DecisionFrame, 0, n)
	idx := r.head - 1
	for i := 0; i < n; i++ {
		if idx < 0 {
			idx += len(r.frames)
		}
		out = append(out, r.frames[idx])
		idx--
	}
	return out
}
