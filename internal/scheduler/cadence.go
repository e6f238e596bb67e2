package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"arbiter/internal/logger"
)

// 中文说明：
// 固定节奏调度器。每个 interval 触发一次 task；task 严格串行，
// 一次执行超过间隔时跳过下一拍（记入漏拍计数），绝不并发重叠。
// 周期间无取消语义：task 自己要保证不阻塞在网络或磁盘上。

type Cadence struct {
	Interval       time.Duration
	RunImmediately bool

	ctx    context.Context
	nowFn  func() time.Time
	missed atomic.Uint64
}

func NewCadence(ctx context.Context, interval time.Duration) *Cadence {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Cadence{
		Interval: interval,
		ctx:      ctx,
		nowFn:    time.Now,
	}
}

// Missed 返回累计漏拍数。
func (c *Cadence) Missed() uint64 {
	if c == nil {
		return 0
	}
	return c.missed.Load()
}

// SetInterval 调整节奏间隔，下一拍起生效。仅允许在 task 内部
// （即周期之间）调用，与单线程周期模型一致。
func (c *Cadence) SetInterval(interval time.Duration) {
	if c == nil || interval <= 0 {
		return
	}
	c.Interval = interval
}

// Start 阻塞运行调度循环，直到 ctx 取消。
func (c *Cadence) Start(task func(now time.Time)) {
	if c == nil {
		return
	}
	if task == nil {
		logger.Warnf("Cadence: task is nil, exit")
		return
	}
	if c.Interval <= 0 {
		logger.Warnf("Cadence: invalid interval=%s, exit", c.Interval)
		return
	}
	if c.nowFn == nil {
		c.nowFn = time.Now
	}

	logger.Infof("Cadence: started interval=%s run_immediately=%v", c.Interval, c.RunImmediately)

	if c.RunImmediately {
		task(c.nowFn())
	}

	timer := time.NewTimer(c.Interval)
	defer timer.Stop()
	for {
		select {
		case <-c.ctx.Done():
			logger.Infof("Cadence: ctx done, exit (missed=%d)", c.missed.Load())
			return
		case <-timer.C:
		}

		started := c.nowFn()
		task(started)
		elapsed := c.nowFn().Sub(started)

		wait := c.Interval - elapsed
		// 超拍：跳过被吃掉的拍子，对齐到下一个完整间隔。
		for wait <= 0 {
			c.missed.Add(1)
			wait += c.Interval
		}
		if skipped := c.missed.Load(); skipped > 0 && elapsed > c.Interval {
			logger.Warnf("Cadence: tick took %s (> interval %s), skipping beats (missed=%d)",
				elapsed.Round(time.Millisecond), c.Interval, skipped)
		}
		timer.Reset(wait)
	}
}
