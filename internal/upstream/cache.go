package upstream

import (
	"fmt"
	"sync/atomic"
	"time"

	"arbiter/internal/logger"

	"github.com/tidwall/gjson"
)

// SnapshotCache 持有单个来源的最新快照，发布与读取均无锁。
type SnapshotCache struct {
	source SourceID
	val    atomic.Value // Snapshot
}

func NewSnapshotCache(source SourceID) *SnapshotCache {
	return &SnapshotCache{source: source}
}

func (c *SnapshotCache) ID() SourceID {
	return c.source
}

// Publish 校验并存入一条快照。来源不匹配或契约违规的负载被整条拒收。
func (c *SnapshotCache) Publish(data []byte) error {
	if err := ValidateEnvelope(data); err != nil {
		return err
	}
	src := SourceID(gjson.GetBytes(data, "source").String())
	if src != c.source {
		return fmt.Errorf("snapshot source %s does not match cache %s", src, c.source)
	}
	reported := time.UnixMilli(gjson.GetBytes(data, "ts").Int())
	snap := Snapshot{
		Source:     c.source,
		ReceivedAt: time.Now(),
		ReportedAt: reported,
		Payload:    append([]byte(nil), data...),
	}
	c.val.Store(snap)
	return nil
}

// Snapshot 返回当前快照；从未发布过时第二个返回值为 false。
func (c *SnapshotCache) Snapshot() (Snapshot, bool) {
	v := c.val.Load()
	if v == nil {
		return Snapshot{}, false
	}
	return v.(Snapshot), true
}

// CacheSet 维护全部已知来源的快照缓存，并按 source 字段路由发布。
type CacheSet struct {
	caches map[SourceID]*SnapshotCache
	order  []SourceID
}

func NewCacheSet() *CacheSet {
	order := AllSources()
	caches := make(map[SourceID]*SnapshotCache, len(order))
	for _, id := range order {
		caches[id] = NewSnapshotCache(id)
	}
	return &CacheSet{caches: caches, order: order}
}

// Publish 将一条信封路由到对应来源的缓存。
func (s *CacheSet) Publish(data []byte) error {
	src := SourceID(gjson.GetBytes(data, "source").String())
	cache, ok := s.caches[src]
	if !ok {
		return fmt.Errorf("unknown snapshot source: %q", src)
	}
	if err := cache.Publish(data); err != nil {
		logger.Warnf("snapshot rejected for %s: %v", src, err)
		return err
	}
	return nil
}

// Producer 返回指定来源的生产者视图；未知来源返回 nil。
func (s *CacheSet) Producer(id SourceID) Producer {
	cache, ok := s.caches[id]
	if !ok {
		return nil
	}
	return cache
}

// Producers 以固定顺序返回全部生产者。
func (s *CacheSet) Producers() []Producer {
	out := make([]Producer, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.caches[id])
	}
	return out
}
