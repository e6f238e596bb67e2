package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"arbiter/internal/config"
	"arbiter/internal/config/loader"
	"arbiter/internal/emitter"
	"arbiter/internal/gate"
	"arbiter/internal/upstream"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type staticProducer struct {
	id      upstream.SourceID
	payload string
}

func (p staticProducer) ID() upstream.SourceID { return p.id }

func (p staticProducer) Snapshot() (upstream.Snapshot, bool) {
	return upstream.Snapshot{
		Source:     p.id,
		ReceivedAt: time.Now(),
		Payload:    []byte(`{"source":"` + string(p.id) + `","ts":1,"payload":` + p.payload + `}`),
	}, true
}

func newTestServer(t *testing.T) (*Server, *emitter.Emitter) {
	t.Helper()
	cfg := config.Default()
	tuning, err := loader.NewTuningLoader("", loader.BaseFrom(cfg))
	require.NoError(t, err)
	producers := []upstream.Producer{
		staticProducer{id: upstream.SourceMarketState, payload: `{"state":"trending","direction":0.8,"confidence":90}`},
		staticProducer{id: upstream.SourceHealth, payload: `{"score":95,"headroom":80}`},
	}
	em := emitter.New(cfg, producers, tuning)
	srv, err := NewServer(ServerConfig{
		Addr:    ":0",
		Emitter: em,
		Gate:    gate.New(cfg.Gate, 1500*time.Millisecond),
		Tuning:  tuning,
	})
	require.NoError(t, err)
	return srv, em
}

func doGET(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doGET(t, srv, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLatestFrame_404BeforeFirstTick(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doGET(t, srv, "/api/v1/frames/latest")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLatestFrame_ReturnsEmittedFrame(t *testing.T) {
	srv, em := newTestServer(t)
	em.Tick(time.Now())

	rec := doGET(t, srv, "/api/v1/frames/latest")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Equal(t, int64(1), gjson.Get(body, "seq").Int())
	assert.NotEmpty(t, gjson.Get(body, "action").String())
}

func TestFrames_LimitValidation(t *testing.T) {
	srv, em := newTestServer(t)
	for i := 0; i < 3; i++ {
		em.Tick(time.Now())
	}

	rec := doGET(t, srv, "/api/v1/frames?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(2), gjson.Get(rec.Body.String(), "frames.#").Int())

	rec = doGET(t, srv, "/api/v1/frames?limit=9999")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRiskMap_SummaryAfterTick(t *testing.T) {
	srv, em := newTestServer(t)
	em.Tick(time.Now())

	rec := doGET(t, srv, "/api/v1/riskmap")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.NotEmpty(t, gjson.Get(body, "overall_zone").String())
	assert.Greater(t, gjson.Get(body, "composite").Float(), 0.0)
	assert.True(t, gjson.Get(body, "assessment").Exists())
}

func TestGatePreview_RunsAgainstLatestFrame(t *testing.T) {
	srv, em := newTestServer(t)
	em.Tick(time.Now())

	rec := doGET(t, srv, "/api/v1/gate/preview?volatility=30")
	require.Equal(t, http.StatusOK, rec.Code)

	var payload map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Contains(t, payload, "approved")
	assert.Contains(t, payload, "reasons")
}

func TestGatePreview_BadDecimalRejected(t *testing.T) {
	srv, _ := newTestServer(t)
	for _, path := range []string{
		"/api/v1/gate/preview?volatility=abc",
		"/api/v1/gate/preview?capital=abc",
	} {
		rec := doGET(t, srv, path)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestGatePreview_CriticalRiskTierDenies(t *testing.T) {
	srv, em := newTestServer(t)
	em.Tick(time.Now())

	rec := doGET(t, srv, "/api/v1/gate/preview?risk_tier=critical")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.False(t, gjson.Get(body, "approved").Bool())
	assert.Contains(t, body, "risk tier critical")
}

func TestGatePreview_CapitalCapsFraction(t *testing.T) {
	srv, em := newTestServer(t)
	em.Tick(time.Now())

	rec := doGET(t, srv, "/api/v1/gate/preview?capital=0.001")
	require.Equal(t, http.StatusOK, rec.Code)
	// 拒绝时 fraction 恒为零，放行时被手头资金封顶，两种情况都不越界。
	assert.LessOrEqual(t, gjson.Get(rec.Body.String(), "fraction").Float(), 0.001)
}

func TestStatsAndTuning(t *testing.T) {
	srv, em := newTestServer(t)
	em.Tick(time.Now())

	rec := doGET(t, srv, "/api/v1/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), gjson.Get(rec.Body.String(), "seq").Int())

	rec = doGET(t, srv, "/api/v1/tuning")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), gjson.Get(rec.Body.String(), "version").Int())
}
