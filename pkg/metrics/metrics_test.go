package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersAllCollectors(t *testing.T) {
	m := New()
	require.NotNil(t, m.Registry())

	mfs, err := m.Registry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, mfs)
}

func TestRecordAgentLog(t *testing.T) {
	m := New()
	m.RecordAgentLog("discovery", "completed", 1.5)
	m.RecordAgentLog("discovery", "failed", 0)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.AgentLogsTotal.WithLabelValues("discovery", "completed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.AgentLogsTotal.WithLabelValues("discovery", "failed")))
}

func TestRecordMatch(t *testing.T) {
	m := New()
	m.RecordMatch(2, 15, 0.01)
	m.RecordMatch(0, 0, 0.001)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.TradesTotal.WithLabelValues()))
	assert.Equal(t, float64(15), testutil.ToFloat64(m.TradeVolume.WithLabelValues()))
}

func TestRecordForecastAndSession(t *testing.T) {
	m := New()
	m.RecordForecast("balanced", 0.7)
	m.RecordSession("completed", 42)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.ForecastsTotal.WithLabelValues("balanced")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SessionsTotal.WithLabelValues("completed")))
}

func TestRecordTraderSkipAndActiveRuns(t *testing.T) {
	m := New()
	m.RecordTraderSkip("noise")
	m.RecordTraderSkip("noise")
	m.SetActiveTradingRuns(3)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.TraderSkipsTotal.WithLabelValues("noise")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.ActiveTradingRuns))
}

func TestDefault_ReturnsSameInstance(t *testing.T) {
	assert.Same(t, Default(), Default())
}
