package dcc

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gocarina/gocsv"
	"github.com/stretchr/testify/require"
)

func TestEnableHistoryCreatesHeaderOnce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "history.csv")

	cfg := newFakeConfig()
	sink := &fakeSink{}
	e := NewEngine(cfg, sink)

	require.NoError(t, e.EnableHistory(path))
	first, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(first), "id")

	// Re-enabling against an existing file must not truncate it.
	require.NoError(t, os.WriteFile(path, append(first, []byte("extra\n")...), 0644))
	require.NoError(t, e.EnableHistory(path))
	second, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(second), "extra")
}

func TestCloseTransferAppendsHistoryRow(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "history.csv")

	cfg := newFakeConfig()
	sink := &fakeSink{}
	e := NewEngine(cfg, sink)
	require.NoError(t, e.EnableHistory(path))

	tr := newTransfer(FileSend, cfg)
	tr.RemoteNick = "alice"
	tr.Filename = "report.csv"
	tr.Size = 500
	tr.Pos = 500

	e.closeTransfer(tr, Done)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var rows []*transferRecord
	require.NoError(t, gocsv.UnmarshalBytes(data, &rows))
	require.Len(t, rows, 1)
	require.Equal(t, "alice", rows[0].RemoteNick)
	require.Equal(t, "report.csv", rows[0].Filename)
	require.Equal(t, "done", rows[0].Status)
	require.Equal(t, uint64(500), rows[0].Pos)
}
