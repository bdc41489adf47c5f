package dcc

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gocarina/gocsv"
)

// transferRecord is one row of the completed-transfer history (SPEC_FULL
// §2's domain-stack addition): kind, peer, size, duration, final status,
// one row per ended Transfer. Field tags follow gocsv's struct-tag
// convention.
type transferRecord struct {
	ID         string    `csv:"id"`
	Kind       string    `csv:"kind"`
	RemoteNick string    `csv:"remote_nick"`
	Filename   string    `csv:"filename"`
	Size       uint64    `csv:"size"`
	Pos        uint64    `csv:"pos"`
	Status     string    `csv:"status"`
	StartedAt  time.Time `csv:"started_at"`
	EndedAt    time.Time `csv:"ended_at"`
	DurationS  float64   `csv:"duration_seconds"`
}

// csvHistory appends one transferRecord per ended Transfer to an
// append-only CSV file. Grounded on m-lab-tcp-info/cmd/csvtool's
// gocsv.Marshal-based snapshot-to-CSV conversion — adapted here from "one
// batch Marshal of a whole archive" to "append one row per completed
// transfer", since the engine runs as a long-lived process rather than a
// one-shot converter.
type csvHistory struct {
	mu   sync.Mutex
	path string
}

// EnableHistory wires a CSV history file into e. Subsequent closeTransfer
// calls append one row per ended Transfer. The file is created with a
// header if it does not already exist.
func (e *Engine) EnableHistory(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		f, ferr := os.Create(path)
		if ferr != nil {
			return fmt.Errorf("dcc: create history file: %w", ferr)
		}
		defer f.Close()
		if werr := gocsv.Marshal([]*transferRecord{}, f); werr != nil {
			return fmt.Errorf("dcc: write history header: %w", werr)
		}
	}
	e.csv = &csvHistory{path: path}
	return nil
}

func (h *csvHistory) append(t *Transfer) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	f, err := os.OpenFile(h.path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	defer f.Close()

	rec := &transferRecord{
		ID:         t.ID.String(),
		Kind:       t.Kind.String(),
		RemoteNick: t.RemoteNick,
		Filename:   t.Filename,
		Size:       t.Size,
		Pos:        t.Pos,
		Status:     t.Status.String(),
		StartedAt:  t.StartTime,
		EndedAt:    time.Now(),
		DurationS:  time.Since(t.StartTransfer).Seconds(),
	}
	_ = gocsv.MarshalWithoutHeaders([]*transferRecord{rec}, f)
}
