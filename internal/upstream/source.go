// Package upstream 定义上游分析子系统的快照契约与缓存。
// 每个生产者只暴露一个窄能力：同步、非阻塞地返回其最新快照。
package upstream

import (
	"time"

	"github.com/tidwall/gjson"
)

// SourceID 标识一个上游信号来源。
type SourceID string

const (
	SourceMarketState SourceID = "market_state"
	SourceThreat      SourceID = "threat"
	SourceVolatility  SourceID = "volatility"
	SourceCorrelation SourceID = "correlation"
	SourceHorizon     SourceID = "horizon"
	SourceHealth      SourceID = "health"
)

// AllSources 返回全部已知来源，顺序固定（遍历顺序决定融合的确定性）。
func AllSources() []SourceID {
	return []SourceID{
		SourceMarketState,
		SourceThreat,
		SourceVolatility,
		SourceCorrelation,
		SourceHorizon,
		SourceHealth,
	}
}

// KnownSource 判断 id 是否为受支持的来源。
func KnownSource(id SourceID) bool {
	switch id {
	case SourceMarketState, SourceThreat, SourceVolatility,
		SourceCorrelation, SourceHorizon, SourceHealth:
		return true
	default:
		return false
	}
}

// Snapshot 是一次上游读数：原始 JSON 负载加接收与上报时间戳。
type Snapshot struct {
	Source     SourceID
	ReceivedAt time.Time
	ReportedAt time.Time
	Payload    []byte
}

// Field 按路径提取负载字段（gjson 语法）。
func (s Snapshot) Field(path string) gjson.Result {
	return gjson.GetBytes(s.Payload, "payload."+path)
}

// Age 返回快照相对 now 的接收延迟。
func (s Snapshot) Age(now time.Time) time.Duration {
	if s.ReceivedAt.IsZero() {
		return 0
	}
	return now.Sub(s.ReceivedAt)
}

// Producer 是上游生产者契约：返回当前快照与其有效性。
// 实现必须同步且非阻塞；缺席或过期是合法的受理状态，不是错误。
type Producer interface {
	ID() SourceID
	Snapshot() (Snapshot, bool)
}
