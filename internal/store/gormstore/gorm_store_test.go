package gormstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"arbiter/internal/emitter"
	"arbiter/internal/fusion"
	"arbiter/internal/gate"
	"arbiter/internal/riskmap"
	"arbiter/internal/safety"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T) *LedgerStore {
	t.Helper()
	s, err := NewLedgerStore(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAuthorization_RoundTrips(t *testing.T) {
	s := newTestLedger(t)

	a := gate.Authorization{
		Approved:   true,
		Action:     fusion.ActionBuy,
		Fraction:   decimal.NewFromFloat(0.08),
		Reasons:    []string{"sized 0.08 of capital"},
		FrameSeq:   12,
		RiskZone:   riskmap.ZoneSafe,
		Confidence: 80,
		DecidedAt:  time.Now().Truncate(time.Millisecond),
	}
	require.NoError(t, s.RecordAuthorization(a))

	recs, err := s.RecentAuthorizations(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Approved)
	assert.Equal(t, "BUY", recs[0].Action)
	assert.Equal(t, "0.08", recs[0].Fraction)
	assert.Equal(t, uint64(12), recs[0].FrameSeq)
	assert.Equal(t, []string{"sized 0.08 of capital"}, recs[0].Reasons)
}

func TestRecordOverride_EngageAndRelease(t *testing.T) {
	s := newTestLedger(t)

	frame := emitter.DecisionFrame{Seq: 5, TraceID: "trace-x"}
	o := safety.Override{
		Active:    true,
		Authority: "threat-detector",
		Reason:    "threat classification is systemic",
		Permitted: []fusion.Action{fusion.ActionWait},
	}
	require.NoError(t, s.RecordOverride(frame, o, true))
	frame.Seq = 9
	require.NoError(t, s.RecordOverride(frame, o, false))

	recs, err := s.RecentOverrides(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	// 最新在前：解除事件排第一。
	assert.False(t, recs[0].Engaged)
	assert.Equal(t, uint64(9), recs[0].FrameSeq)
	assert.True(t, recs[1].Engaged)
	assert.Equal(t, []string{"WAIT"}, recs[1].Permitted)
	assert.Equal(t, "threat-detector", recs[1].Authority)
}

func TestRecentAuthorizations_OrderAndLimit(t *testing.T) {
	s := newTestLedger(t)
	base := time.Now()
	for i := 1; i <= 4; i++ {
		require.NoError(t, s.RecordAuthorization(gate.Authorization{
			FrameSeq:  uint64(i),
			Action:    fusion.ActionHold,
			Fraction:  decimal.Zero,
			DecidedAt: base.Add(time.Duration(i) * time.Millisecond),
		}))
	}
	recs, err := s.RecentAuthorizations(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, uint64(4), recs[0].FrameSeq)
	assert.Equal(t, uint64(3), recs[1].FrameSeq)
}
