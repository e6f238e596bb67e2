// Package framelog 持久化决策帧的只追加日志。帧一旦落盘绝不修改；
// 重启时用 LastSeq 续上序号，保证帧序无缺口。
package framelog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"arbiter/internal/emitter"
	"arbiter/internal/fusion"
	"arbiter/internal/riskmap"

	_ "modernc.org/sqlite"
)

// Store 管理决策帧日志的 SQLite 存储。
type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// New 初始化 SQLite 存储并建表。
func New(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("frame log path 不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, path: path}, nil
}

// Close 关闭底层 DB。
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS decision_frames (
			seq INTEGER PRIMARY KEY,
			trace_id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			action TEXT NOT NULL,
			confidence REAL NOT NULL,
			risk_zone TEXT NOT NULL,
			override_active INTEGER NOT NULL DEFAULT 0,
			authority TEXT,
			conflicts INTEGER NOT NULL DEFAULT 0,
			missed_cycles INTEGER NOT NULL DEFAULT 0,
			degraded INTEGER NOT NULL DEFAULT 0,
			reasons_json TEXT,
			fused_json TEXT,
			created_at INTEGER NOT NULL
		);
		`,
		`CREATE INDEX IF NOT EXISTS idx_decision_frames_ts ON decision_frames(ts DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_decision_frames_override ON decision_frames(override_active, ts DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Append 落盘一帧。同序号重复写入视为错误：帧只产出一次。
func (s *Store) Append(frame emitter.DecisionFrame) error {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return fmt.Errorf("frame log store 未初始化")
	}
	enc := func(v interface{}) string {
		if v == nil {
			return ""
		}
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
	_, err := db.Exec(`
		INSERT INTO decision_frames
			(seq, trace_id, ts, action, confidence, risk_zone, override_active,
			 authority, conflicts, missed_cycles, degraded, reasons_json, fused_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		frame.Seq,
		frame.TraceID,
		frame.Timestamp.UnixMilli(),
		string(frame.Action),
		frame.Confidence,
		string(frame.RiskZone),
		boolToInt(frame.OverrideActive),
		frame.Authority,
		frame.Conflicts,
		frame.Missed,
		boolToInt(frame.Degraded),
		enc(frame.Reasons),
		enc(frame.Fused),
		time.Now().UnixMilli(),
	)
	return err
}

// LastSeq 返回已落盘的最大帧序号；空表返回 0。
func (s *Store) LastSeq(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return 0, fmt.Errorf("frame log store 未初始化")
	}
	var seq sql.NullInt64
	if err := db.QueryRowContext(ctx, `SELECT MAX(seq) FROM decision_frames`).Scan(&seq); err != nil {
		return 0, err
	}
	if !seq.Valid || seq.Int64 < 0 {
		return 0, nil
	}
	return uint64(seq.Int64), nil
}

// Recent 返回最近 limit 帧，最新在前。
func (s *Store) Recent(ctx context.Context, limit int) ([]emitter.DecisionFrame, error) {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return nil, fmt.Errorf("frame log store 未初始化")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx, `SELECT seq, trace_id, ts, action, confidence, risk_zone,
		override_active, authority, conflicts, missed_cycles, degraded, reasons_json, fused_json
		FROM decision_frames ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []emitter.DecisionFrame
	for rows.Next() {
		frame, err := scanFrame(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, frame)
	}
	return list, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFrame(scanner rowScanner) (emitter.DecisionFrame, error) {
	var (
		frame     emitter.DecisionFrame
		ts        int64
		action    string
		zone      string
		override  int
		authority sql.NullString
		degraded  int
		reasons   sql.NullString
		fused     sql.NullString
	)
	if err := scanner.Scan(&frame.Seq, &frame.TraceID, &ts, &action, &frame.Confidence, &zone,
		&override, &authority, &frame.Conflicts, &frame.Missed, &degraded, &reasons, &fused); err != nil {
		return frame, err
	}
	frame.Timestamp = time.UnixMilli(ts)
	frame.Action = fusion.Action(action)
	frame.RiskZone = riskmap.Zone(zone)
	frame.OverrideActive = override != 0
	frame.Authority = authority.String
	frame.Degraded = degraded != 0
	if raw := reasons.String; raw != "" {
		_ = json.Unmarshal([]byte(raw), &frame.Reasons)
	}
	if raw := fused.String; raw != "" {
		_ = json.Unmarshal([]byte(raw), &frame.Fused)
	}
	return frame, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
