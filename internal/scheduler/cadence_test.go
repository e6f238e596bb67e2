package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCadence_TicksSequentially(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := NewCadence(ctx, 5*time.Millisecond)

	var ticks int
	var inFlight int
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Start(func(time.Time) {
			inFlight++
			assert.Equal(t, 1, inFlight, "ticks must never overlap")
			ticks++
			inFlight--
			if ticks >= 5 {
				cancel()
			}
		})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("cadence did not complete")
	}
	assert.GreaterOrEqual(t, ticks, 5)
	assert.Equal(t, uint64(0), c.Missed())
}

func TestCadence_SlowTickSkipsBeat(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := NewCadence(ctx, 5*time.Millisecond)

	var ticks int
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Start(func(time.Time) {
			ticks++
			if ticks == 1 {
				time.Sleep(12 * time.Millisecond) // 吃掉两拍
			}
			if ticks >= 3 {
				cancel()
			}
		})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("cadence did not complete")
	}
	require.GreaterOrEqual(t, c.Missed(), uint64(1))
}

func TestCadence_RunImmediately(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := NewCadence(ctx, time.Hour)
	c.RunImmediately = true

	ran := make(chan struct{}, 1)
	go c.Start(func(time.Time) {
		ran <- struct{}{}
		cancel()
	})

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("immediate tick did not run")
	}
}
