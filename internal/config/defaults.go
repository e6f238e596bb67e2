package config

import "strings"

// 默认值常量
const (
	defaultAppEnv          = "dev"
	defaultAppLogLevel     = "info"
	defaultAppLogFormat    = "text"
	defaultAppHTTPAddr     = ":9992"
	defaultAppLogPath      = "/data/logs/arbiter.log"
	defaultAppAuditLogPath = "/data/logs/arbiter-audit.log"

	defaultEmitterCadenceMS = 110
	defaultEmitterStaleMS   = 1500
	defaultEmitterHistory   = 256
	defaultEmitterQueue     = 256

	defaultFusionPrimary         = "market_state"
	defaultFusionDirectionDelta  = 1.2
	defaultFusionConvictionFloor = 60
	defaultFusionHighConviction  = 80
	defaultFusionConflictPenalty = 8
	defaultFusionPenaltyCap      = 30
	defaultFusionAgreementBonus  = 5

	defaultSafetyHealthFloor   = 40
	defaultSafetyThreatCeiling = 8
	defaultSafetyRiskCeiling   = 85
	defaultSafetyRootCauseConf = 70

	defaultRiskMapResolution      = 20
	defaultRiskMapAxisWeight      = 0.25
	defaultRiskMapZoneSafe        = 40
	defaultRiskMapZoneCaution     = 60
	defaultRiskMapZoneUnstable    = 85
	defaultRiskMapForbiddenShare  = 0.2
	defaultRiskMapBottleneck      = 0.8
	defaultRiskMapBreakerHits     = 3
	defaultRiskMapBreakerCooldown = 30

	defaultGateConfidenceFloor = 35
	defaultGateBaseFraction    = 0.1
	defaultGateMaxFraction     = 0.25
	defaultGateMultSafe        = 1.0
	defaultGateMultCaution     = 0.6
	defaultGateMultUnstable    = 0.25

	defaultStoreFramePath  = "/data/arbiter/frames.db"
	defaultStoreLedgerPath = "/data/arbiter/ledger.db"

	defaultTuningPath = "configs/tuning.yaml"
)

// Default 返回全部字段取默认值的配置，不读任何文件。
func Default() Config {
	var c Config
	c.applyDefaults(keySet{})
	c.Tuning.Path = ""
	return c
}

// DefaultWeights 返回内置的来源权重表（总和为 1）。
func DefaultWeights() map[string]float64 {
	return map[string]float64{
		"market_state": 0.30,
		"threat":       0.20,
		"volatility":   0.15,
		"horizon":      0.15,
		"correlation":  0.10,
		"health":       0.10,
	}
}

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Emitter.applyDefaults(keys)
	c.Fusion.applyDefaults(keys)
	c.Safety.applyDefaults(keys)
	c.RiskMap.applyDefaults(keys)
	c.Gate.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.Tuning.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_format", &a.LogFormat, defaultAppLogFormat),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
		stringFieldDefault("app.audit_log_path", &a.AuditLogPath, defaultAppAuditLogPath),
	)
}

func (e *EmitterConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "emitter.cadence_ms",
			need:  func() bool { return e.CadenceMS <= 0 },
			apply: func() { e.CadenceMS = defaultEmitterCadenceMS },
		},
		fieldDefault{
			key:   "emitter.stale_after_ms",
			need:  func() bool { return e.StaleAfterMS <= 0 },
			apply: func() { e.StaleAfterMS = defaultEmitterStaleMS },
		},
		fieldDefault{
			key:   "emitter.history_size",
			need:  func() bool { return e.HistorySize <= 0 },
			apply: func() { e.HistorySize = defaultEmitterHistory },
		},
		fieldDefault{
			key:   "emitter.persist_queue",
			need:  func() bool { return e.PersistQueue <= 0 },
			apply: func() { e.PersistQueue = defaultEmitterQueue },
		},
	)
}

func (f *FusionConfig) applyDefaults(keys keySet) {
	if f == nil {
		return
	}
	if len(f.Weights) == 0 {
		f.Weights = DefaultWeights()
	}
	applyFieldDefaults(keys,
		stringFieldDefault("fusion.primary_source", &f.PrimarySource, defaultFusionPrimary),
		fieldDefault{
			key:   "fusion.direction_delta",
			need:  func() bool { return f.DirectionDelta <= 0 },
			apply: func() { f.DirectionDelta = defaultFusionDirectionDelta },
		},
		fieldDefault{
			key:   "fusion.conviction_floor",
			need:  func() bool { return f.ConvictionFloor <= 0 },
			apply: func() { f.ConvictionFloor = defaultFusionConvictionFloor },
		},
		fieldDefault{
			key:   "fusion.high_conviction",
			need:  func() bool { return f.HighConviction <= 0 },
			apply: func() { f.HighConviction = defaultFusionHighConviction },
		},
		fieldDefault{
			key:   "fusion.conflict_penalty",
			need:  func() bool { return f.ConflictPenalty <= 0 },
			apply: func() { f.ConflictPenalty = defaultFusionConflictPenalty },
		},
		fieldDefault{
			key:   "fusion.penalty_cap",
			need:  func() bool { return f.PenaltyCap <= 0 },
			apply: func() { f.PenaltyCap = defaultFusionPenaltyCap },
		},
		fieldDefault{
			key:   "fusion.agreement_bonus",
			need:  func() bool { return f.AgreementBonus <= 0 },
			apply: func() { f.AgreementBonus = defaultFusionAgreementBonus },
		},
	)
}

func (s *SafetyConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "safety.health_floor",
			need:  func() bool { return s.HealthFloor <= 0 },
			apply: func() { s.HealthFloor = defaultSafetyHealthFloor },
		},
		fieldDefault{
			key:   "safety.threat_ceiling",
			need:  func() bool { return s.ThreatCeiling <= 0 },
			apply: func() { s.ThreatCeiling = defaultSafetyThreatCeiling },
		},
		fieldDefault{
			key:   "safety.aggregate_risk_ceiling",
			need:  func() bool { return s.AggregateRiskCeiling <= 0 },
			apply: func() { s.AggregateRiskCeiling = defaultSafetyRiskCeiling },
		},
		fieldDefault{
			key:   "safety.root_cause_confidence",
			need:  func() bool { return s.RootCauseConfidence <= 0 },
			apply: func() { s.RootCauseConfidence = defaultSafetyRootCauseConf },
		},
	)
}

func (r *RiskMapConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "riskmap.resolution",
			need:  func() bool { return r.Resolution <= 0 },
			apply: func() { r.Resolution = defaultRiskMapResolution },
		},
		fieldDefault{
			key:   "riskmap.time_weight",
			need:  func() bool { return r.TimeWeight <= 0 },
			apply: func() { r.TimeWeight = defaultRiskMapAxisWeight },
		},
		fieldDefault{
			key:   "riskmap.scope_weight",
			need:  func() bool { return r.ScopeWeight <= 0 },
			apply: func() { r.ScopeWeight = defaultRiskMapAxisWeight },
		},
		fieldDefault{
			key:   "riskmap.impact_weight",
			need:  func() bool { return r.ImpactWeight <= 0 },
			apply: func() { r.ImpactWeight = defaultRiskMapAxisWeight },
		},
		fieldDefault{
			key:   "riskmap.mode_weight",
			need:  func() bool { return r.ModeWeight <= 0 },
			apply: func() { r.ModeWeight = defaultRiskMapAxisWeight },
		},
		fieldDefault{
			key:   "riskmap.zone_safe",
			need:  func() bool { return r.ZoneSafe <= 0 },
			apply: func() { r.ZoneSafe = defaultRiskMapZoneSafe },
		},
		fieldDefault{
			key:   "riskmap.zone_caution",
			need:  func() bool { return r.ZoneCaution <= 0 },
			apply: func() { r.ZoneCaution = defaultRiskMapZoneCaution },
		},
		fieldDefault{
			key:   "riskmap.zone_unstable",
			need:  func() bool { return r.ZoneUnstable <= 0 },
			apply: func() { r.ZoneUnstable = defaultRiskMapZoneUnstable },
		},
		fieldDefault{
			key:   "riskmap.forbidden_share",
			need:  func() bool { return r.ForbiddenShare <= 0 },
			apply: func() { r.ForbiddenShare = defaultRiskMapForbiddenShare },
		},
		fieldDefault{
			key:   "riskmap.bottleneck_ceiling",
			need:  func() bool { return r.BottleneckCeiling <= 0 },
			apply: func() { r.BottleneckCeiling = defaultRiskMapBottleneck },
		},
		fieldDefault{
			key:   "riskmap.breaker_threshold",
			need:  func() bool { return r.BreakerThreshold <= 0 },
			apply: func() { r.BreakerThreshold = defaultRiskMapBreakerHits },
		},
		fieldDefault{
			key:   "riskmap.breaker_cooldown_seconds",
			need:  func() bool { return r.BreakerCooldownSeconds <= 0 },
			apply: func() { r.BreakerCooldownSeconds = defaultRiskMapBreakerCooldown },
		},
	)
}

func (g *GateConfig) applyDefaults(keys keySet) {
	if g == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "gate.confidence_floor",
			need:  func() bool { return g.ConfidenceFloor <= 0 },
			apply: func() { g.ConfidenceFloor = defaultGateConfidenceFloor },
		},
		fieldDefault{
			key:   "gate.base_fraction",
			need:  func() bool { return g.BaseFraction <= 0 || g.BaseFraction > 1 },
			apply: func() { g.BaseFraction = defaultGateBaseFraction },
		},
		fieldDefault{
			key:   "gate.max_fraction",
			need:  func() bool { return g.MaxFraction <= 0 || g.MaxFraction > 1 },
			apply: func() { g.MaxFraction = defaultGateMaxFraction },
		},
		fieldDefault{
			key:   "gate.mult_safe",
			need:  func() bool { return g.MultSafe <= 0 },
			apply: func() { g.MultSafe = defaultGateMultSafe },
		},
		fieldDefault{
			key:   "gate.mult_caution",
			need:  func() bool { return g.MultCaution <= 0 },
			apply: func() { g.MultCaution = defaultGateMultCaution },
		},
		fieldDefault{
			key:   "gate.mult_unstable",
			need:  func() bool { return g.MultUnstable <= 0 },
			apply: func() { g.MultUnstable = defaultGateMultUnstable },
		},
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("store.frame_log_path", &s.FrameLogPath, defaultStoreFramePath),
		stringFieldDefault("store.ledger_path", &s.LedgerPath, defaultStoreLedgerPath),
	)
}

func (t *TuningConfig) applyDefaults(keys keySet) {
	if t == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("tuning.path", &t.Path, defaultTuningPath),
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
