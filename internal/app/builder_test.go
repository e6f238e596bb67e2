package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"arbiter/internal/config"
	"arbiter/internal/emitter"
	"arbiter/internal/store/framelog"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	dir := t.TempDir()
	cfg.Store.FrameLogPath = filepath.Join(dir, "frames.db")
	cfg.Store.LedgerPath = filepath.Join(dir, "ledger.db")
	return cfg
}

func TestBuild_WiresEmitterGateAndStores(t *testing.T) {
	cfg := testConfig(t)
	a, err := NewApp(&cfg)
	require.NoError(t, err)
	defer a.closeStores()

	require.NotNil(t, a.Emitter())
	require.NotNil(t, a.Gate())
	require.NotNil(t, a.Caches())
	require.NotNil(t, a.Summary)
	assert.Equal(t, cfg.Emitter.CadenceMS, a.Summary.Emitter.CadenceMS)
	assert.Len(t, a.Summary.Sources, 6)

	require.NoError(t, a.Caches().Publish(
		[]byte(`{"source":"health","ts":1,"payload":{"score":95,"headroom":80}}`)))
	frame := a.Emitter().Tick(time.Now())
	assert.Equal(t, uint64(1), frame.Seq)
}

func TestBuild_ResumesSequenceFromFrameLog(t *testing.T) {
	cfg := testConfig(t)

	log, err := framelog.New(cfg.Store.FrameLogPath)
	require.NoError(t, err)
	require.NoError(t, log.Append(emitter.DecisionFrame{
		Seq:       7,
		TraceID:   "seed",
		Timestamp: time.Now(),
		Action:    "HOLD",
		RiskZone:  "SAFE",
	}))
	require.NoError(t, log.Close())

	a, err := NewApp(&cfg)
	require.NoError(t, err)
	defer a.closeStores()

	assert.Equal(t, uint64(7), a.Summary.Emitter.StartSeq)
	frame := a.Emitter().Tick(time.Now())
	assert.Equal(t, uint64(8), frame.Seq)
}

func TestBuild_NilConfigRejected(t *testing.T) {
	_, err := NewApp(nil)
	require.Error(t, err)

	b := NewAppBuilder(nil)
	_, err = b.Build(context.Background())
	require.Error(t, err)
}
