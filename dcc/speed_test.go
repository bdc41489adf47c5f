package dcc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestRecomputeSpeedEnded checks the whole-transfer-average branch used
// when a Transfer reaches a terminal status (spec §4.9).
func TestRecomputeSpeedEnded(t *testing.T) {
	cfg := newFakeConfig()
	tr := newTransfer(FileRecv, cfg)
	tr.StartTransfer = time.Now().Add(-10 * time.Second)
	tr.Pos = 1000

	recomputeSpeed(tr, true)

	require.InDelta(t, 100.0, tr.BytesPerSec, 5)
	require.Equal(t, time.Duration(0), tr.ETA)
}

// TestRecomputeSpeedInProgress checks the instantaneous-rate branch and
// the ETA projection from the whole-transfer average.
func TestRecomputeSpeedInProgress(t *testing.T) {
	cfg := newFakeConfig()
	tr := newTransfer(FileRecv, cfg)
	now := time.Now()
	tr.StartTransfer = now.Add(-10 * time.Second)
	tr.LastCheckTime = now.Add(-2 * time.Second)
	tr.LastCheckPos = 300
	tr.Pos = 500
	tr.Size = 1000

	recomputeSpeed(tr, false)

	require.InDelta(t, 100.0, tr.BytesPerSec, 10)
	require.InDelta(t, 10*time.Second, tr.ETA, float64(2*time.Second))
	require.Equal(t, uint64(500), tr.LastCheckPos)
}

// TestRecomputeSpeedZeroProgress guards against divide-by-zero/negative
// ETA when nothing has moved yet.
func TestRecomputeSpeedZeroProgress(t *testing.T) {
	cfg := newFakeConfig()
	tr := newTransfer(FileRecv, cfg)
	tr.Size = 100

	recomputeSpeed(tr, false)

	require.Equal(t, float64(0), tr.BytesPerSec)
	require.Equal(t, time.Duration(0), tr.ETA)
}

// TestRecomputeSpeedNoETAOnceFull ensures a fully transferred file reports
// no ETA even mid-loop (ended=false but Pos == Size).
func TestRecomputeSpeedNoETAOnceFull(t *testing.T) {
	cfg := newFakeConfig()
	tr := newTransfer(FileRecv, cfg)
	tr.StartTransfer = time.Now().Add(-5 * time.Second)
	tr.Size = 100
	tr.Pos = 100

	recomputeSpeed(tr, false)

	require.Equal(t, time.Duration(0), tr.ETA)
}
