package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mw(name string, stage int, critical bool, fn func(context.Context, *TickContext) error) Middleware {
	return Func{
		MetaInfo: MiddlewareMeta{Name: name, Stage: stage, Critical: critical},
		Fn:       fn,
	}
}

func newTC() *TickContext {
	return NewTickContext("trace", 1, time.Now())
}

func TestRun_StagesExecuteInOrder(t *testing.T) {
	var order []string
	record := func(name string) func(context.Context, *TickContext) error {
		return func(context.Context, *TickContext) error {
			order = append(order, name)
			return nil
		}
	}
	p := New("t",
		mw("third", 3, false, record("third")),
		mw("first", 0, false, record("first")),
		mw("second", 1, false, record("second")),
	)

	require.NoError(t, p.Run(context.Background(), newTC()))
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestRun_SameStageRunsConcurrently(t *testing.T) {
	var running atomic.Int32
	var peak atomic.Int32
	busy := func(context.Context, *TickContext) error {
		n := running.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return nil
	}
	p := New("t", mw("a", 1, false, busy), mw("b", 1, false, busy))

	require.NoError(t, p.Run(context.Background(), newTC()))
	assert.Equal(t, int32(2), peak.Load())
}

func TestRun_CriticalFailureStopsPipeline(t *testing.T) {
	boom := errors.New("boom")
	laterRan := false
	p := New("t",
		mw("fail", 0, true, func(context.Context, *TickContext) error { return boom }),
		mw("later", 1, false, func(context.Context, *TickContext) error {
			laterRan = true
			return nil
		}),
	)

	tc := newTC()
	err := p.Run(context.Background(), tc)
	require.Error(t, err)
	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, "fail", stageErr.Middleware)
	assert.True(t, stageErr.Critical)
	assert.ErrorIs(t, err, boom)
	assert.False(t, laterRan)
}

func TestRun_NonCriticalFailureBecomesWarning(t *testing.T) {
	p := New("t",
		mw("soft", 0, false, func(context.Context, *TickContext) error {
			return errors.New("degraded")
		}),
	)

	tc := newTC()
	require.NoError(t, p.Run(context.Background(), tc))
	warnings := tc.Warnings()
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "soft")
	assert.Contains(t, warnings[0], "degraded")
}

func TestRun_CriticalPanicBecomesStageError(t *testing.T) {
	p := New("t",
		mw("explode", 0, true, func(context.Context, *TickContext) error {
			panic("midway")
		}),
	)

	err := p.Run(context.Background(), newTC())
	require.Error(t, err)
	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, "explode", stageErr.Middleware)
	assert.Contains(t, stageErr.Err.Error(), "panic: midway")
}

func TestRun_NonCriticalPanicBecomesWarning(t *testing.T) {
	p := New("t",
		mw("explode", 0, false, func(context.Context, *TickContext) error {
			panic("midway")
		}),
	)

	tc := newTC()
	require.NoError(t, p.Run(context.Background(), tc))
	warnings := tc.Warnings()
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "panic: midway")
}

func TestRun_NilTickContextRejected(t *testing.T) {
	p := New("t")
	require.Error(t, p.Run(context.Background(), nil))
}
