package loader

import "arbiter/internal/config"

// BaseFrom 把静态配置折算成调优基线。调优文件里的值在此之上覆盖。
func BaseFrom(cfg config.Config) Tuning {
	weights := cfg.Fusion.Weights
	if len(weights) == 0 {
		weights = config.DefaultWeights()
	}
	return Tuning{
		CadenceMS:            cfg.Emitter.CadenceMS,
		Weights:              weights,
		HealthFloor:          cfg.Safety.HealthFloor,
		ThreatCeiling:        cfg.Safety.ThreatCeiling,
		AggregateRiskCeiling: cfg.Safety.AggregateRiskCeiling,
		RootCauseConfidence:  cfg.Safety.RootCauseConfidence,
		ZoneSafe:             cfg.RiskMap.ZoneSafe,
		ZoneCaution:          cfg.RiskMap.ZoneCaution,
		ZoneUnstable:         cfg.RiskMap.ZoneUnstable,
		Resolution:           cfg.RiskMap.Resolution,
		ConflictPenalty:      cfg.Fusion.ConflictPenalty,
		PenaltyCap:           cfg.Fusion.PenaltyCap,
		AgreementBonus:       cfg.Fusion.AgreementBonus,
	}
}
