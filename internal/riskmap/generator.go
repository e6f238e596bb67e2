package riskmap

import (
	"fmt"
	"time"

	"arbiter/internal/fusion"
	"arbiter/internal/pkg/mathutil"
)

// 中文说明：
// 风险图生成器。按可配置分辨率在 (time, scope, impact) 三条连续轴与
// 四种执行模式上离散化出网格，逐格计算加权风险分并映射到分区；
// 再独立推导危险源、瓶颈、不稳定带与资源压力投影，最后按严格优先
// 规则得出整图分区。每次 Build 产出全新 Map。

// Params 是生成器参数，取自配置与当前调优快照。
type Params struct {
	Resolution   int
	TimeWeight   float64
	ScopeWeight  float64
	ImpactWeight float64
	ModeWeight   float64

	ZoneSafe     float64
	ZoneCaution  float64
	ZoneUnstable float64

	ForbiddenShare    float64
	BottleneckCeiling float64
	CadenceInterval   time.Duration
}

// CycleStats 是发射器侧的周期运行指标，用于流量瓶颈判定。
type CycleStats struct {
	MissedCycles uint64
	QueueDepth   int
	QueueCap     int
	DroppedCount uint64
}

// Inputs 汇集一次重建所需的全部事实。
type Inputs struct {
	Signals []fusion.NormalizedSignal
	Obs     fusion.Observations
	History *ScoreHistory
	Stats   CycleStats
}

// Generator 按固定规则构建风险图。
type Generator struct {
	params Params
}

func NewGenerator(params Params) *Generator {
	if params.Resolution < 4 {
		params.Resolution = 20
	}
	if params.Resolution > 40 {
		params.Resolution = 40
	}
	if params.TimeWeight <= 0 {
		params.TimeWeight = 0.25
	}
	if params.ScopeWeight <= 0 {
		params.ScopeWeight = 0.25
	}
	if params.ImpactWeight <= 0 {
		params.ImpactWeight = 0.25
	}
	if params.ModeWeight <= 0 {
		params.ModeWeight = 0.25
	}
	if params.ZoneSafe <= 0 {
		params.ZoneSafe = 40
	}
	if params.ZoneCaution <= params.ZoneSafe {
		params.ZoneCaution = 60
	}
	if params.ZoneUnstable <= params.ZoneCaution {
		params.ZoneUnstable = 85
	}
	if params.ForbiddenShare <= 0 || params.ForbiddenShare >= 1 {
		params.ForbiddenShare = 0.2
	}
	if params.BottleneckCeiling <= 0 || params.BottleneckCeiling > 1 {
		params.BottleneckCeiling = 0.8
	}
	if params.CadenceInterval <= 0 {
		params.CadenceInterval = 110 * time.Millisecond
	}
	return &Generator{params: params}
}

// modeWeight 返回执行模式的固定风险系数：并行最险，串行最稳。
func modeWeight(mode ExecutionMode) float64 {
	switch mode {
	case ModeParallel:
		return 1.0
	case ModeConditional:
		return 0.8
	case ModeFallback:
		return 0.6
	case ModeSequential:
		return 0.4
	default:
		return 0.8
	}
}

// severityAdjust 由系统整体状态推导 [1.0, 1.5] 的放大系数。
func severityAdjust(obs fusion.Observations) float64 {
	adj := 1.0
	switch obs.MarketState {
	case "volatile":
		adj += 0.10
	case "unstable":
		adj += 0.20
	case "critical":
		adj += 0.30
	}
	switch obs.ThreatClass {
	case "elevated":
		adj += 0.05
	case "critical":
		adj += 0.15
	case "systemic":
		adj += 0.25
	}
	if obs.HealthScore < 50 {
		adj += 0.10
	}
	return mathutil.Clamp(adj, 1.0, 1.5)
}

// Build 重建整张风险图。now 为本周期时间戳，注入以保证可复现。
func (g *Generator) Build(now time.Time, in Inputs) *Map {
	adj := severityAdjust(in.Obs)
	zone := g.zoneFor

	n := g.params.Resolution
	step := 100.0 / float64(n)
	modes := AllModes()
	points := make([]Point, 0, n*n*n*len(modes))
	zoneCells := map[Zone]int{}
	var total float64

	hazards := g.deriveHazards(in)
	bottlenecks := g.deriveBottlenecks(in)
	pockets := g.derivePockets(in)
	strains := g.deriveStrains(now, in)

	for ti := 0; ti < n; ti++ {
		t := (float64(ti) + 0.5) * step
		for si := 0; si < n; si++ {
			s := (float64(si) + 0.5) * step
			for ii := 0; ii < n; ii++ {
				imp := (float64(ii) + 0.5) * step
				base := g.params.TimeWeight*t/100 +
					g.params.ScopeWeight*s/100 +
					g.params.ImpactWeight*imp/100
				for _, mode := range modes {
					score := mathutil.ClampScore(100 * adj * (base + g.params.ModeWeight*modeWeight(mode)))
					coord := Coordinate{Time: t, Scope: s, Impact: imp, Mode: mode}
					p := Point{
						Coordinate: coord,
						Score:      score,
						Zone:       zone(score),
						Hazards:    localHazards(hazards, coord),
					}
					zoneCells[p.Zone]++
					total += score
					points = append(points, p)
				}
			}
		}
	}

	m := &Map{
		Points:      points,
		Hazards:     hazards,
		Bottlenecks: bottlenecks,
		Pockets:     pockets,
		Strains:     strains,
		Resolution:  n,
		GeneratedAt: now,
		ZoneCells:   zoneCells,
	}
	if len(points) > 0 {
		m.Composite = total / float64(len(points))
	}
	m.OverallZone = g.overallZone(m)
	return m
}

// zoneFor 按固定切点把评分映射到分区。
func (g *Generator) zoneFor(score float64) Zone {
	switch {
	case score < g.params.ZoneSafe:
		return ZoneSafe
	case score < g.params.ZoneCaution:
		return ZoneCaution
	case score < g.params.ZoneUnstable:
		return ZoneUnstable
	default:
		return ZoneForbidden
	}
}

// localHazards 列出覆盖该坐标的危险源名称。
func localHazards(hazards []Hazard, c Coordinate) []string {
	var out []string
	for _, h := range hazards {
		if h.Region.Contains(c) {
			out = append(out, fmt.Sprintf("%s/%s", h.Kind, h.Severity))
		}
	}
	return out
}

// overallZone 取以下规则中最严格者：
//  1. FORBIDDEN 单元占比超阈值 → FORBIDDEN
//  2. 存在 critical 危险源 → FORBIDDEN
//  3. 瓶颈严重度超上限 → 至少 UNSTABLE
//  4. 否则按单元多数票
func (g *Generator) overallZone(m *Map) Zone {
	result := g.majorityZone(m)

	for _, b := range m.Bottlenecks {
		if b.Severity > g.params.BottleneckCeiling {
			result = Stricter(result, ZoneUnstable)
		}
	}
	if m.CellCount() > 0 {
		share := float64(m.ZoneCells[ZoneForbidden]) / float64(m.CellCount())
		if share > g.params.ForbiddenShare {
			result = Stricter(result, ZoneForbidden)
		}
	}
	for _, h := range m.Hazards {
		if h.Severity == HazardCritical {
			result = Stricter(result, ZoneForbidden)
		}
	}
	return result
}

func (g *Generator) majorityZone(m *Map) Zone {
	best := ZoneSafe
	bestCount := -1
	for _, z := range []Zone{ZoneSafe, ZoneCaution, ZoneUnstable, ZoneForbidden} {
		if c := m.ZoneCells[z]; c > bestCount {
			best = z
			bestCount = c
		}
	}
	return best
}
