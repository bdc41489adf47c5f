package dcc

import "time"

// recomputeSpeed implements spec §4.9's speed/ETA recalculation. When
// ended is true (the transfer just reached a terminal status) bytes/sec
// is the whole-transfer average and eta is zero; otherwise bytes/sec is
// the instantaneous rate since the last recompute and eta projects from
// the whole-transfer average.
func recomputeSpeed(t *Transfer, ended bool) {
	now := time.Now()
	elapsedTotal := now.Sub(t.StartTransfer).Seconds()
	if elapsedTotal < 1 {
		elapsedTotal = 1
	}
	transferred := float64(0)
	if t.Pos > t.StartResume {
		transferred = float64(t.Pos - t.StartResume)
	}
	totalAvg := transferred / elapsedTotal

	if ended {
		t.BytesPerSec = totalAvg
		t.ETA = 0
		t.LastCheckTime = now
		t.LastCheckPos = t.Pos
		return
	}

	if t.Size > t.Pos && totalAvg > 0 {
		t.ETA = time.Duration(float64(t.Size-t.Pos)/totalAvg) * time.Second
	} else {
		t.ETA = 0
	}

	elapsedSinceCheck := now.Sub(t.LastCheckTime).Seconds()
	if elapsedSinceCheck < 1 {
		elapsedSinceCheck = 1
	}
	delta := float64(0)
	if t.Pos > t.LastCheckPos {
		delta = float64(t.Pos - t.LastCheckPos)
	}
	t.BytesPerSec = delta / elapsedSinceCheck

	t.LastCheckTime = now
	t.LastCheckPos = t.Pos
}
