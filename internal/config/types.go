package config

import "strings"

// Config 是 Arbiter 的主配置载体。
type Config struct {
	App     AppConfig     `toml:"app"`
	Emitter EmitterConfig `toml:"emitter"`
	Fusion  FusionConfig  `toml:"fusion"`
	Safety  SafetyConfig  `toml:"safety"`
	RiskMap RiskMapConfig `toml:"riskmap"`
	Gate    GateConfig    `toml:"gate"`
	Store   StoreConfig   `toml:"store"`
	Notify  NotifyConfig  `toml:"notify"`
	Tuning  TuningConfig  `toml:"tuning"`
}

type AppConfig struct {
	Env             string `toml:"env"`
	LogLevel        string `toml:"log_level"`
	LogFormat       string `toml:"log_format"`
	HTTPAddr        string `toml:"http_addr"`
	LogPath         string `toml:"log_path"`
	AuditLogPath    string `toml:"audit_log_path"`
	AuditDumpInputs bool   `toml:"audit_dump_inputs"`
}

// EmitterConfig 控制决策帧的输出节奏与缓冲尺寸。
type EmitterConfig struct {
	CadenceMS    int `toml:"cadence_ms"`
	StaleAfterMS int `toml:"stale_after_ms"`
	HistorySize  int `toml:"history_size"`
	PersistQueue int `toml:"persist_queue"`
}

// FusionConfig 配置信号融合：各来源权重与冲突惩罚参数。
type FusionConfig struct {
	Weights         map[string]float64 `toml:"weights"`
	PrimarySource   string             `toml:"primary_source"`
	DirectionDelta  float64            `toml:"direction_delta"`
	ConvictionFloor float64            `toml:"conviction_floor"`
	HighConviction  float64            `toml:"high_conviction"`
	ConflictPenalty float64            `toml:"conflict_penalty"`
	PenaltyCap      float64            `toml:"penalty_cap"`
	AgreementBonus  float64            `toml:"agreement_bonus"`
}

// SafetyConfig 是安全否决判定的阈值集合。
type SafetyConfig struct {
	HealthFloor          float64 `toml:"health_floor"`
	ThreatCeiling        int     `toml:"threat_ceiling"`
	AggregateRiskCeiling float64 `toml:"aggregate_risk_ceiling"`
	RootCauseConfidence  float64 `toml:"root_cause_confidence"`
}

// RiskMapConfig 控制四维风险网格的分辨率、轴权重与分区切点。
type RiskMapConfig struct {
	Resolution             int     `toml:"resolution"`
	TimeWeight             float64 `toml:"time_weight"`
	ScopeWeight            float64 `toml:"scope_weight"`
	ImpactWeight           float64 `toml:"impact_weight"`
	ModeWeight             float64 `toml:"mode_weight"`
	ZoneSafe               float64 `toml:"zone_safe"`
	ZoneCaution            float64 `toml:"zone_caution"`
	ZoneUnstable           float64 `toml:"zone_unstable"`
	ForbiddenShare         float64 `toml:"forbidden_share"`
	BottleneckCeiling      float64 `toml:"bottleneck_ceiling"`
	BreakerThreshold       int     `toml:"breaker_threshold"`
	BreakerCooldownSeconds int     `toml:"breaker_cooldown_seconds"`
}

// GateConfig 控制执行闸门的放行门槛与仓位上限。
type GateConfig struct {
	ConfidenceFloor float64 `toml:"confidence_floor"`
	BaseFraction    float64 `toml:"base_fraction"`
	MaxFraction     float64 `toml:"max_fraction"`
	MultSafe        float64 `toml:"mult_safe"`
	MultCaution     float64 `toml:"mult_caution"`
	MultUnstable    float64 `toml:"mult_unstable"`
}

type StoreConfig struct {
	FrameLogPath string `toml:"frame_log_path"`
	LedgerPath   string `toml:"ledger_path"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

// TuningConfig 指向可热更的调优文件；为空则只使用静态配置。
type TuningConfig struct {
	Path string `toml:"path"`
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
