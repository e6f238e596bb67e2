// Package gormstore 用 GORM + SQLite 实现审计台账：闸门裁决与
// 否决边沿的只追加存储，供 HTTP 读接口与事后排查使用。
package gormstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"arbiter/internal/emitter"
	"arbiter/internal/gate"
	"arbiter/internal/safety"
	storemodel "arbiter/internal/store/model"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type gateAuthorizationModel = storemodel.GateAuthorizationModel
type overrideAuditModel = storemodel.OverrideAuditModel

// LedgerStore 持有审计台账的 GORM 连接。
type LedgerStore struct {
	db *gorm.DB
}

// NewLedgerStore 初始化 SQLite 台账并自动迁移模型。
func NewLedgerStore(path string) (*LedgerStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("ledger path 不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&gateAuthorizationModel{}, &overrideAuditModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL：留一点并行度给 HTTP 读，同时压低锁竞争。
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &LedgerStore{db: db}, nil
}

// Close 关闭底层连接。
func (s *LedgerStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SQLDB 暴露底层 *sql.DB，供共享连接场景使用。
func (s *LedgerStore) SQLDB() (*sql.DB, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("ledger store 未初始化")
	}
	return s.db.DB()
}

var (
	_ gate.LedgerSink      = (*LedgerStore)(nil)
	_ emitter.OverrideSink = (*LedgerStore)(nil)
)

// RecordAuthorization 落库一次闸门裁决。
func (s *LedgerStore) RecordAuthorization(a gate.Authorization) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("ledger store 未初始化")
	}
	reasons, _ := json.Marshal(a.Reasons)
	m := gateAuthorizationModel{
		FrameSeq:   a.FrameSeq,
		Approved:   boolToInt(a.Approved),
		Action:     string(a.Action),
		Fraction:   a.Fraction.String(),
		RiskZone:   string(a.RiskZone),
		Confidence: a.Confidence,
		Reasons:    datatypes.JSON(reasons),
		DecidedAt:  a.DecidedAt.UnixMilli(),
		CreatedAt:  time.Now().UnixMilli(),
	}
	return s.db.Create(&m).Error
}

// RecordOverride 落库一次否决边沿（生效或解除）。
func (s *LedgerStore) RecordOverride(frame emitter.DecisionFrame, o safety.Override, engaged bool) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("ledger store 未初始化")
	}
	permitted := make([]string, 0, len(o.Permitted))
	for _, a := range o.Permitted {
		permitted = append(permitted, string(a))
	}
	blob, _ := json.Marshal(permitted)
	m := overrideAuditModel{
		FrameSeq:  frame.Seq,
		TraceID:   frame.TraceID,
		Engaged:   boolToInt(engaged),
		Authority: o.Authority,
		Reason:    o.Reason,
		Permitted: datatypes.JSON(blob),
		CreatedAt: time.Now().UnixMilli(),
	}
	return s.db.Create(&m).Error
}

// AuthorizationRecord 是对外暴露的裁决记录。
type AuthorizationRecord struct {
	ID         int64     `json:"id"`
	FrameSeq   uint64    `json:"frame_seq"`
	Approved   bool      `json:"approved"`
	Action     string    `json:"action"`
	Fraction   string    `json:"fraction"`
	RiskZone   string    `json:"risk_zone"`
	Confidence float64   `json:"confidence"`
	Reasons    []string  `json:"reasons"`
	DecidedAt  time.Time `json:"decided_at"`
}

// RecentAuthorizations 返回最近 limit 条裁决，最新在前。
func (s *LedgerStore) RecentAuthorizations(ctx context.Context, limit int) ([]AuthorizationRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("ledger store 未初始化")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var models []gateAuthorizationModel
	if err := s.db.WithContext(ctx).
		Order("decided_at DESC, id DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]AuthorizationRecord, 0, len(models))
	for _, m := range models {
		rec := AuthorizationRecord{
			ID:         m.ID,
			FrameSeq:   m.FrameSeq,
			Approved:   m.Approved != 0,
			Action:     m.Action,
			Fraction:   m.Fraction,
			RiskZone:   m.RiskZone,
			Confidence: m.Confidence,
			DecidedAt:  time.UnixMilli(m.DecidedAt),
		}
		if len(m.Reasons) > 0 {
			_ = json.Unmarshal(m.Reasons, &rec.Reasons)
		}
		out = append(out, rec)
	}
	return out, nil
}

// OverrideAuditRecord 是对外暴露的否决边沿记录。
type OverrideAuditRecord struct {
	ID        int64     `json:"id"`
	FrameSeq  uint64    `json:"frame_seq"`
	TraceID   string    `json:"trace_id"`
	Engaged   bool      `json:"engaged"`
	Authority string    `json:"authority"`
	Reason    string    `json:"reason"`
	Permitted []string  `json:"permitted"`
	CreatedAt time.Time `json:"created_at"`
}

// RecentOverrides 返回最近 limit 条否决边沿，最新在前。
func (s *LedgerStore) RecentOverrides(ctx context.Context, limit int) ([]OverrideAuditRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("ledger store 未初始化")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var models []overrideAuditModel
	if err := s.db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]OverrideAuditRecord, 0, len(models))
	for _, m := range models {
		rec := OverrideAuditRecord{
			ID:        m.ID,
			FrameSeq:  m.FrameSeq,
			TraceID:   m.TraceID,
			Engaged:   m.Engaged != 0,
			Authority: m.Authority,
			Reason:    m.Reason,
			CreatedAt: time.UnixMilli(m.CreatedAt),
		}
		if len(m.Permitted) > 0 {
			_ = json.Unmarshal(m.Permitted, &rec.Permitted)
		}
		out = append(out, rec)
	}
	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
