package loader

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"arbiter/internal/logger"
	"arbiter/internal/pkg/mathutil"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Tuning 是允许在运行期热更的调优参数子集：来源权重、安全阈值、
// 分区切点、网格分辨率与输出节奏。结构性配置（路径、端口等）不在此列。
type Tuning struct {
	CadenceMS            int                `mapstructure:"cadence_ms"`
	Weights              map[string]float64 `mapstructure:"weights"`
	HealthFloor          float64            `mapstructure:"health_floor"`
	ThreatCeiling        int                `mapstructure:"threat_ceiling"`
	AggregateRiskCeiling float64            `mapstructure:"aggregate_risk_ceiling"`
	RootCauseConfidence  float64            `mapstructure:"root_cause_confidence"`
	ZoneSafe             float64            `mapstructure:"zone_safe"`
	ZoneCaution          float64            `mapstructure:"zone_caution"`
	ZoneUnstable         float64            `mapstructure:"zone_unstable"`
	Resolution           int                `mapstructure:"resolution"`
	ConflictPenalty      float64            `mapstructure:"conflict_penalty"`
	PenaltyCap           float64            `mapstructure:"penalty_cap"`
	AgreementBonus       float64            `mapstructure:"agreement_bonus"`
}

// TuningSnapshot 对外暴露的只读快照，版本号随每次成功加载递增。
type TuningSnapshot struct {
	Version  int64
	LoadedAt time.Time
	Tuning   Tuning
}

// ChangeListener 在调优参数变更时被调用。
type ChangeListener func(TuningSnapshot)

// TuningLoader 从 YAML 文件加载调优参数并监听热更新。
// 文件值覆盖在 base 之上；解析或校验失败时保留上一个有效快照。
type TuningLoader struct {
	path string
	v    *viper.Viper
	base Tuning

	mu        sync.RWMutex
	snapshot  TuningSnapshot
	listeners []ChangeListener
}

// NewTuningLoader 读取调优文件并开始监听 FS 事件。path 为空时仅使用
// base 值，不监听任何文件。
func NewTuningLoader(path string, base Tuning) (*TuningLoader, error) {
	loader := &TuningLoader{path: strings.TrimSpace(path), base: cloneTuning(base)}
	if loader.path == "" {
		normalized, err := normalizeTuning(cloneTuning(base))
		if err != nil {
			return nil, err
		}
		loader.snapshot = TuningSnapshot{
			Version:  1,
			LoadedAt: time.Now(),
			Tuning:   normalized,
		}
		return loader, nil
	}
	v := viper.New()
	v.SetConfigFile(loader.path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read tuning config failed: %w", err)
	}
	loader.v = v
	if err := loader.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := loader.reload(); err != nil {
			logger.Errorf("tuning reload failed (%s): %v", evt.Name, err)
			return
		}
		loader.notify()
	})
	v.WatchConfig()
	return loader, nil
}

// Snapshot 返回当前调优快照（深拷贝）。
func (l *TuningLoader) Snapshot() TuningSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneSnapshot(l.snapshot)
}

// SnapshotJSON 以类型无关的形式暴露快照，供 HTTP 只读展示。
func (l *TuningLoader) SnapshotJSON() (int64, time.Time, any) {
	snap := l.Snapshot()
	return snap.Version, snap.LoadedAt, snap.Tuning
}

// Subscribe 注册监听器，并立即收到一次完整快照。
func (l *TuningLoader) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	snap := cloneSnapshot(l.snapshot)
	l.mu.Unlock()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("tuning listener panic: %v", r)
			}
		}()
		fn(snap)
	}()
}

func (l *TuningLoader) notify() {
	l.mu.RLock()
	snap := cloneSnapshot(l.snapshot)
	listeners := append([]ChangeListener(nil), l.listeners...)
	l.mu.RUnlock()
	for _, fn := range listeners {
		if fn == nil {
			continue
		}
		go func(cb ChangeListener) {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("tuning listener panic: %v", r)
				}
			}()
			cb(snap)
		}(fn)
	}
}

func (l *TuningLoader) reload() error {
	merged := cloneTuning(l.base)
	if err := l.v.Unmarshal(&merged); err != nil {
		return fmt.Errorf("parse tuning config failed: %w", err)
	}
	normalized, err := normalizeTuning(merged)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.snapshot = TuningSnapshot{
		Version:  l.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Tuning:   normalized,
	}
	version := l.snapshot.Version
	l.mu.Unlock()
	logger.Infof("Tuning loader reloaded v%d from %s", version, filepath.Base(l.path))
	return nil
}

// normalizeTuning 校验并归一调优值；权重表不足 1 时重归一并告警。
func normalizeTuning(t Tuning) (Tuning, error) {
	if t.CadenceMS < 100 || t.CadenceMS > 120 {
		return Tuning{}, fmt.Errorf("tuning cadence_ms must be in [100,120], got %d", t.CadenceMS)
	}
	if t.Resolution < 4 || t.Resolution > 40 {
		return Tuning{}, fmt.Errorf("tuning resolution must be in [4,40], got %d", t.Resolution)
	}
	if !(t.ZoneSafe < t.ZoneCaution && t.ZoneCaution < t.ZoneUnstable && t.ZoneUnstable <= 100) {
		return Tuning{}, fmt.Errorf("tuning zone cuts must satisfy safe < caution < unstable <= 100")
	}
	if len(t.Weights) == 0 {
		return Tuning{}, fmt.Errorf("tuning weights cannot be empty")
	}
	normalized, changed := mathutil.NormalizeWeights(t.Weights)
	if changed {
		logger.Warnf("tuning weights did not sum to 1, renormalized across %d sources", len(normalized))
	}
	t.Weights = normalized
	return t, nil
}

func cloneTuning(src Tuning) Tuning {
	dst := src
	if src.Weights != nil {
		dst.Weights = make(map[string]float64, len(src.Weights))
		for k, v := range src.Weights {
			dst.Weights[k] = v
		}
	}
	return dst
}

func cloneSnapshot(src TuningSnapshot) TuningSnapshot {
	return TuningSnapshot{
		Version:  src.Version,
		LoadedAt: src.LoadedAt,
		Tuning:   cloneTuning(src.Tuning),
	}
}
