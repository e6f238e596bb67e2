// Package model 定义审计台账的 GORM 模型。台账只追加：
// 放行裁决与否决事件落库后不再更新。
package model

import "gorm.io/datatypes"

// GateAuthorizationModel 是执行闸门的一次裁决记录。
type GateAuthorizationModel struct {
	ID         int64          `gorm:"column:id;primaryKey"`
	FrameSeq   uint64         `gorm:"column:frame_seq;index"`
	Approved   int            `gorm:"column:approved;index"`
	Action     string         `gorm:"column:action"`
	Fraction   string         `gorm:"column:fraction"`
	RiskZone   string         `gorm:"column:risk_zone"`
	Confidence float64        `gorm:"column:confidence"`
	Reasons    datatypes.JSON `gorm:"column:reasons;type:TEXT"`
	DecidedAt  int64          `gorm:"column:decided_at;index"`
	CreatedAt  int64          `gorm:"column:created_at"`
}

func (GateAuthorizationModel) TableName() string { return "gate_authorizations" }

// OverrideAuditModel 记录安全否决的生效与解除边沿。
type OverrideAuditModel struct {
	ID        int64          `gorm:"column:id;primaryKey"`
	FrameSeq  uint64         `gorm:"column:frame_seq;index"`
	TraceID   string         `gorm:"column:trace_id;index"`
	Engaged   int            `gorm:"column:engaged"`
	Authority string         `gorm:"column:authority;index"`
	Reason    string         `gorm:"column:reason"`
	Permitted datatypes.JSON `gorm:"column:permitted;type:TEXT"`
	CreatedAt int64          `gorm:"column:created_at;index"`
}

func (OverrideAuditModel) TableName() string { return "override_audits" }
