package riskmap

import (
	"time"

	"arbiter/internal/upstream"
)

// 中文说明：
// 评分历史环形缓冲。每个周期追加一条快照，容量固定，最旧的先淘汰。
// 只由所属周期写入，读取侧拿到的是按时间升序排列的副本。

// HistoryEntry 是一个周期的评分切片。
type HistoryEntry struct {
	At     time.Time
	Fused  float64
	Bias   float64
	Scores map[upstream.SourceID]float64
}

// ScoreHistory 是固定容量的评分环形缓冲。
type ScoreHistory struct {
	entries []HistoryEntry
	head    int
	size    int
}

func NewScoreHistory(capacity int) *ScoreHistory {
	if capacity < 8 {
		capacity = 8
	}
	return &ScoreHistory{entries: make([]HistoryEntry, capacity)}
}

// Push 追加一条记录，满了以后覆盖最旧的。
func (h *ScoreHistory) Push(e HistoryEntry) {
	if e.Scores != nil {
		scores := make(map[upstream.SourceID]float64, len(e.Scores))
		for k, v := range e.Scores {
			scores[k] = v
		}
		e.Scores = scores
	}
	h.entries[h.head] = e
	h.head = (h.head + 1) % len(h.entries)
	if h.size < len(h.entries) {
		h.size++
	}
}

// Len 返回当前记录数。
func (h *ScoreHistory) Len() int {
	if h == nil {
		return 0
	}
	return h.size
}

// Recent 返回最近 n 条记录，按时间升序。n 超出现有数量时返回全部。
func (h *ScoreHistory) Recent(n int) []HistoryEntry {
	if h == nil || h.size == 0 || n <= 0 {
		return nil
	}
	if n > h.size {
		n = h.size
	}
	out := make([]HistoryEntry, 0, n)
	start := h.head - n
	if start < 0 {
		start += len(h.entries)
	}
	for i := 0; i < n; i++ {
		out = append(out, h.entries[(start+i)%len(h.entries)])
	}
	return out
}
