package riskmap

import (
	"time"

	"arbiter/internal/upstream"
)

// 中文说明：
// 四维风险图的基础类型。网格覆盖 (time, scope, impact, mode) 四个维度，
// 每次重建产出一张全新的 Map，绝不原地修改。

// Zone 是风险分区，四档从宽松到禁止。
type Zone string

const (
	ZoneSafe      Zone = "SAFE"
	ZoneCaution   Zone = "CAUTION"
	ZoneUnstable  Zone = "UNSTABLE"
	ZoneForbidden Zone = "FORBIDDEN"
)

// rank 返回分区的严格程度序号，数值越大越严格。
func (z Zone) rank() int {
	switch z {
	case ZoneSafe:
		return 0
	case ZoneCaution:
		return 1
	case ZoneUnstable:
		return 2
	case ZoneForbidden:
		return 3
	default:
		return 1
	}
}

// Stricter 返回两个分区中更严格的一个。
func Stricter(a, b Zone) Zone {
	if a.rank() >= b.rank() {
		return a
	}
	return b
}

// ExecutionMode 是网格的第四维：下游执行编排方式。
type ExecutionMode string

const (
	ModeSequential  ExecutionMode = "sequential"
	ModeParallel    ExecutionMode = "parallel"
	ModeConditional ExecutionMode = "conditional"
	ModeFallback    ExecutionMode = "fallback"
)

// AllModes 返回固定顺序的全部执行模式。
func AllModes() []ExecutionMode {
	return []ExecutionMode{ModeSequential, ModeParallel, ModeConditional, ModeFallback}
}

// Coordinate 定位一个网格单元：三条 0-100 连续轴加一个执行模式。
type Coordinate struct {
	Time   float64       `json:"time"`
	Scope  float64       `json:"scope"`
	Impact float64       `json:"impact"`
	Mode   ExecutionMode `json:"mode"`
}

// Point 是一个已评分的网格单元。
type Point struct {
	Coordinate Coordinate `json:"coordinate"`
	Score      float64    `json:"score"`
	Zone       Zone       `json:"zone"`
	Hazards    []string   `json:"hazards,omitempty"`
}

// Region 描述风险构件影响的坐标子区间。Modes 为空表示全部模式受影响。
type Region struct {
	TimeMin, TimeMax     float64         `json:"-"`
	ScopeMin, ScopeMax   float64         `json:"-"`
	ImpactMin, ImpactMax float64         `json:"-"`
	Modes                []ExecutionMode `json:"modes,omitempty"`
}

// Contains 判断坐标是否落在区间内。
func (r Region) Contains(c Coordinate) bool {
	if c.Time < r.TimeMin || c.Time > r.TimeMax {
		return false
	}
	if c.Scope < r.ScopeMin || c.Scope > r.ScopeMax {
		return false
	}
	if c.Impact < r.ImpactMin || c.Impact > r.ImpactMax {
		return false
	}
	if len(r.Modes) == 0 {
		return true
	}
	for _, m := range r.Modes {
		if m == c.Mode {
			return true
		}
	}
	return false
}

// HazardKind 划分危险源类别。
type HazardKind string

const (
	HazardResource  HazardKind = "resource"
	HazardTiming    HazardKind = "timing"
	HazardStability HazardKind = "stability"
	HazardCascade   HazardKind = "cascade"
)

// HazardSeverity 是危险源严重级别。critical 会直接把整图判为 FORBIDDEN。
type HazardSeverity string

const (
	HazardLow      HazardSeverity = "low"
	HazardMedium   HazardSeverity = "medium"
	HazardHigh     HazardSeverity = "high"
	HazardCritical HazardSeverity = "critical"
)

// Hazard 是一个命名危险源，附带影响区间与可选的缓解建议。
type Hazard struct {
	Kind       HazardKind     `json:"kind"`
	Severity   HazardSeverity `json:"severity"`
	Detail     string         `json:"detail"`
	Region     Region         `json:"region"`
	Mitigation string         `json:"mitigation,omitempty"`
}

// BottleneckKind 划分瓶颈类别。
type BottleneckKind string

const (
	BottleneckFlow       BottleneckKind = "flow"
	BottleneckResource   BottleneckKind = "resource"
	BottleneckDependency BottleneckKind = "dependency"
)

// Bottleneck 描述一个流量/资源/依赖瓶颈，Severity 取值 0-1。
type Bottleneck struct {
	Kind     BottleneckKind `json:"kind"`
	Severity float64        `json:"severity"`
	Detail   string         `json:"detail"`
	Region   Region         `json:"region"`
}

// PocketKind 划分不稳定带类别。
type PocketKind string

const (
	PocketOscillation PocketKind = "oscillation"
	PocketDrift       PocketKind = "drift"
	PocketCascade     PocketKind = "cascade"
	PocketResonance   PocketKind = "resonance"
)

// InstabilityPocket 是从评分历史中识别出的局部不稳定带：
// 中心坐标、影响半径与恢复时间估计。
type InstabilityPocket struct {
	Kind     PocketKind    `json:"kind"`
	Detail   string        `json:"detail"`
	Center   Coordinate    `json:"center"`
	Radius   float64       `json:"radius"`
	Recovery time.Duration `json:"recovery_ns"`
	Sources  []upstream.SourceID `json:"sources,omitempty"`
}

// ResourceStrain 是资源压力投影：当前用量、投影用量与容量。
// 投影超出容量时 Exhaustion 给出估计的耗尽时刻。
type ResourceStrain struct {
	Resource   string     `json:"resource"`
	Current    float64    `json:"current"`
	Projected  float64    `json:"projected"`
	Capacity   float64    `json:"capacity"`
	Exhaustion *time.Time `json:"exhaustion,omitempty"`
}

// Map 是一次完整的风险图重建结果。Composite 是全图综合分，
// 供下一周期的安全否决谓词使用。
type Map struct {
	Points      []Point             `json:"-"`
	Hazards     []Hazard            `json:"hazards"`
	Bottlenecks []Bottleneck        `json:"bottlenecks"`
	Pockets     []InstabilityPocket `json:"pockets"`
	Strains     []ResourceStrain    `json:"strains"`
	OverallZone Zone                `json:"overall_zone"`
	Composite   float64             `json:"composite"`
	Resolution  int                 `json:"resolution"`
	GeneratedAt time.Time           `json:"generated_at"`
	ZoneCells   map[Zone]int        `json:"zone_cells"`
}

// CellCount 返回网格单元总数。
func (m *Map) CellCount() int {
	if m == nil {
		return 0
	}
	return len(m.Points)
}
