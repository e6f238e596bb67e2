package replay

import (
	"os"
	"path/filepath"
	"testing"

	"arbiter/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScenario(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const healthyThenThreat = `
name: threat-escalation
description: 健康共识转为系统性威胁
steps:
  - name: healthy consensus
    publish:
      market_state: {state: trending, direction: 0.8, confidence: 90}
      threat: {count: 0, classification: none, certainty: 80}
      volatility: {percentile: 20, regime: calm}
      correlation: {average: 0.1, breadth: 30}
      horizon: {probability: 0.8, direction: 1, scope: 40, mode: sequential, confidence: 85}
      health: {score: 95, headroom: 80}
    expect:
      action: BUY
      override_active: false
      min_confidence: 50
  - name: systemic threat engages
    publish:
      threat: {count: 2, classification: systemic, certainty: 95}
    expect:
      action: WAIT
      override_active: true
      authority: threat-detector
      max_confidence: 0
`

func TestRun_ThreatEscalationScenario(t *testing.T) {
	path := writeScenario(t, healthyThenThreat)
	sc, err := Load(path)
	require.NoError(t, err)
	require.Len(t, sc.Steps, 2)

	summary, err := Run(sc, config.Default())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Failed, Render(summary))
	require.Len(t, summary.Results, 2)
	assert.Equal(t, uint64(1), summary.Results[0].Frame.Seq)
	assert.Equal(t, uint64(2), summary.Results[1].Frame.Seq)
}

func TestRun_MismatchIsReportedNotFatal(t *testing.T) {
	path := writeScenario(t, `
name: wrong-expectation
steps:
  - name: empty caches
    expect:
      action: BUY
`)
	sc, err := Load(path)
	require.NoError(t, err)

	summary, err := Run(sc, config.Default())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Results, 1)
	assert.False(t, summary.Results[0].Passed())
	assert.Contains(t, summary.Results[0].Mismatches[0], "action")
}

func TestRun_UnknownSourceFailsFast(t *testing.T) {
	path := writeScenario(t, `
name: bad-source
steps:
  - name: bogus
    publish:
      oracle: {foo: 1}
`)
	sc, err := Load(path)
	require.NoError(t, err)

	_, err = Run(sc, config.Default())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oracle")
}

func TestLoad_RejectsEmptyScenario(t *testing.T) {
	path := writeScenario(t, "name: empty\nsteps: []\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestRender_MarksFailedSteps(t *testing.T) {
	path := writeScenario(t, `
name: render-check
steps:
  - name: no publish
    expect:
      action: SELL
`)
	sc, err := Load(path)
	require.NoError(t, err)
	summary, err := Run(sc, config.Default())
	require.NoError(t, err)

	out := Render(summary)
	assert.Contains(t, out, "FAIL")
	assert.Contains(t, out, "0/1 steps passed")
}
