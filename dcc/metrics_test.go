package dcc

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetricsLifecycle(t *testing.T) {
	cfg := newFakeConfig()
	sink := &fakeSink{}
	e := NewEngine(cfg, sink)
	collector := e.NewMetrics()

	tr := newTransfer(FileRecv, cfg)
	tr.Size = 1000
	tr.Pos = 1000
	e.noteActive(tr)

	require.Equal(t, 1, int(testutil.ToFloat64(e.metrics.active)))
	require.Equal(t, 1, int(testutil.ToFloat64(e.metrics.started)))

	e.metrics.onTimeout()
	require.Equal(t, 1, int(testutil.ToFloat64(e.metrics.timeouts)))

	e.closeTransfer(tr, Done)
	require.Equal(t, 0, int(testutil.ToFloat64(e.metrics.active)))
	require.Equal(t, float64(1000), testutil.ToFloat64(e.metrics.bytes))

	require.NotNil(t, collector)
}
