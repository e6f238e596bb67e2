package config

import (
	"fmt"
	"strings"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Emitter.validate(); err != nil {
		return err
	}
	if err := c.Fusion.validate(); err != nil {
		return err
	}
	if err := c.Safety.validate(); err != nil {
		return err
	}
	if err := c.RiskMap.validate(); err != nil {
		return err
	}
	if err := c.Gate.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	return nil
}

func (e *EmitterConfig) validate() error {
	if e.CadenceMS < 100 || e.CadenceMS > 120 {
		return fmt.Errorf("emitter.cadence_ms must be in [100,120]")
	}
	if e.StaleAfterMS <= e.CadenceMS {
		return fmt.Errorf("emitter.stale_after_ms must exceed cadence_ms")
	}
	if e.HistorySize < 16 || e.HistorySize > 8192 {
		return fmt.Errorf("emitter.history_size must be in [16,8192]")
	}
	if e.PersistQueue < 16 {
		return fmt.Errorf("emitter.persist_queue must be >= 16")
	}
	return nil
}

func (f *FusionConfig) validate() error {
	if len(f.Weights) == 0 {
		return fmt.Errorf("fusion.weights requires at least one source")
	}
	for source, w := range f.Weights {
		if strings.TrimSpace(source) == "" {
			return fmt.Errorf("fusion.weights contains empty source id")
		}
		if w < 0 {
			return fmt.Errorf("fusion.weights.%s must be >= 0", source)
		}
	}
	if _, ok := f.Weights[f.PrimarySource]; !ok {
		return fmt.Errorf("fusion.primary_source %s has no weight entry", f.PrimarySource)
	}
	if f.DirectionDelta <= 0 || f.DirectionDelta > 2 {
		return fmt.Errorf("fusion.direction_delta must be in (0,2]")
	}
	if f.ConvictionFloor < 0 || f.ConvictionFloor > 100 {
		return fmt.Errorf("fusion.conviction_floor must be in [0,100]")
	}
	if f.HighConviction < f.ConvictionFloor || f.HighConviction > 100 {
		return fmt.Errorf("fusion.high_conviction must be in [conviction_floor,100]")
	}
	if f.PenaltyCap < f.ConflictPenalty {
		return fmt.Errorf("fusion.penalty_cap must be >= conflict_penalty")
	}
	return nil
}

func (s *SafetyConfig) validate() error {
	if s.HealthFloor < 0 || s.HealthFloor > 100 {
		return fmt.Errorf("safety.health_floor must be in [0,100]")
	}
	if s.ThreatCeiling < 1 {
		return fmt.Errorf("safety.threat_ceiling must be >= 1")
	}
	if s.AggregateRiskCeiling < 0 || s.AggregateRiskCeiling > 100 {
		return fmt.Errorf("safety.aggregate_risk_ceiling must be in [0,100]")
	}
	if s.RootCauseConfidence < 0 || s.RootCauseConfidence > 100 {
		return fmt.Errorf("safety.root_cause_confidence must be in [0,100]")
	}
	return nil
}

func (r *RiskMapConfig) validate() error {
	if r.Resolution < 4 || r.Resolution > 40 {
		return fmt.Errorf("riskmap.resolution must be in [4,40]")
	}
	if !(r.ZoneSafe < r.ZoneCaution && r.ZoneCaution < r.ZoneUnstable) {
		return fmt.Errorf("riskmap zone cuts must be strictly increasing (safe < caution < unstable)")
	}
	if r.ZoneUnstable > 100 {
		return fmt.Errorf("riskmap.zone_unstable must be <= 100")
	}
	if r.ForbiddenShare <= 0 || r.ForbiddenShare >= 1 {
		return fmt.Errorf("riskmap.forbidden_share must be in (0,1)")
	}
	if r.BottleneckCeiling <= 0 || r.BottleneckCeiling > 1 {
		return fmt.Errorf("riskmap.bottleneck_ceiling must be in (0,1]")
	}
	return nil
}

func (g *GateConfig) validate() error {
	if g.ConfidenceFloor < 0 || g.ConfidenceFloor > 100 {
		return fmt.Errorf("gate.confidence_floor must be in [0,100]")
	}
	if g.BaseFraction <= 0 || g.BaseFraction > 1 {
		return fmt.Errorf("gate.base_fraction must be in (0,1]")
	}
	if g.MaxFraction < g.BaseFraction || g.MaxFraction > 1 {
		return fmt.Errorf("gate.max_fraction must be in [base_fraction,1]")
	}
	if g.MultSafe <= 0 || g.MultSafe > 1 {
		return fmt.Errorf("gate.mult_safe must be in (0,1]")
	}
	if g.MultCaution <= 0 || g.MultCaution > g.MultSafe {
		return fmt.Errorf("gate.mult_caution must be in (0,mult_safe]")
	}
	if g.MultUnstable <= 0 || g.MultUnstable > g.MultCaution {
		return fmt.Errorf("gate.mult_unstable must be in (0,mult_caution]")
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if n.Telegram.Enabled {
		if n.Telegram.BotToken == "" || n.Telegram.ChatID == "" {
			return fmt.Errorf("telegram notification enabled but missing bot_token or chat_id")
		}
	}
	return nil
}
