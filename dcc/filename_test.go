package dcc

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newEngineForFilenameTest(t *testing.T, cfg *fakeConfig) (*Engine, *fakeSink) {
	t.Helper()
	sink := &fakeSink{}
	e := NewEngine(cfg, sink)
	return e, sink
}

// TestFilenameResolverRename is scenario S2: a local collision with
// auto_resume off and auto_rename on produces a numeric-suffixed name,
// with no resume offset.
func TestFilenameResolverRename(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "alice.f")
	require.NoError(t, os.WriteFile(existing, make([]byte, 10), 0644))

	cfg := newFakeConfig()
	cfg.downloadPath = dir
	cfg.autoResume = false
	cfg.autoRename = true
	e, _ := newEngineForFilenameTest(t, cfg)

	tr := newTransfer(FileRecv, cfg)
	tr.RemoteNick = "alice"
	tr.Filename = "f"
	tr.Size = 100

	require.NoError(t, e.resolveFilename(tr))
	require.Equal(t, existing+".1", tr.LocalFilename)
	require.Equal(t, uint64(0), tr.StartResume)
	require.Equal(t, uint64(0), tr.Pos)
}

// TestFilenameResolverResume is scenario S3: a local collision with
// auto_resume on and the existing file smaller than the offered size
// resumes at the existing size.
func TestFilenameResolverResume(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "alice.f")
	require.NoError(t, os.WriteFile(existing, make([]byte, 40), 0644))

	cfg := newFakeConfig()
	cfg.downloadPath = dir
	cfg.autoResume = true
	e, _ := newEngineForFilenameTest(t, cfg)

	tr := newTransfer(FileRecv, cfg)
	tr.RemoteNick = "alice"
	tr.Filename = "f"
	tr.Size = 100

	require.NoError(t, e.resolveFilename(tr))
	require.Equal(t, existing, tr.LocalFilename)
	require.Equal(t, uint64(40), tr.StartResume)
	require.Equal(t, uint64(40), tr.Pos)
	require.Equal(t, uint64(40), tr.LastCheckPos)
}

// TestFilenameResolverNoCollision is the straightforward "path does not
// exist" branch of spec §4.1 step 3.
func TestFilenameResolverNoCollision(t *testing.T) {
	dir := t.TempDir()
	cfg := newFakeConfig()
	cfg.downloadPath = dir
	e, _ := newEngineForFilenameTest(t, cfg)

	tr := newTransfer(FileRecv, cfg)
	tr.RemoteNick = "bob"
	tr.Filename = "new.bin"
	tr.Size = 50

	require.NoError(t, e.resolveFilename(tr))
	require.Equal(t, filepath.Join(dir, "bob.new.bin"), tr.LocalFilename)
	require.Equal(t, uint64(0), tr.StartResume)
}

// TestFilenameResolverFailsWithoutRenameOrResume covers spec §4.1 step 5:
// a collision with both auto_resume and auto_rename unavailable fails the
// transfer.
func TestFilenameResolverFailsWithoutRenameOrResume(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "alice.f")
	require.NoError(t, os.WriteFile(existing, make([]byte, 100), 0644))

	cfg := newFakeConfig()
	cfg.downloadPath = dir
	cfg.autoResume = false
	cfg.autoRename = false
	e, _ := newEngineForFilenameTest(t, cfg)

	tr := newTransfer(FileRecv, cfg)
	tr.RemoteNick = "alice"
	tr.Filename = "f"
	tr.Size = 50 // smaller than existing, so resume wouldn't apply anyway

	require.Error(t, e.resolveFilename(tr))
}

// TestOpenRecvFileModes checks spec §6's filesystem contract: new files
// are O_CREAT|O_TRUNC|O_WRONLY, resumes are O_APPEND|O_WRONLY.
func TestOpenRecvFileModes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.bin")

	tr := &Transfer{LocalFilename: path}
	f, err := openRecvFile(tr)
	require.NoError(t, err)
	_, err = f.Write([]byte("hello"))
	require.NoError(t, err)
	f.Close()

	tr.StartResume = 5
	f2, err := openRecvFile(tr)
	require.NoError(t, err)
	_, err = f2.Write([]byte(" world"))
	require.NoError(t, err)
	f2.Close()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(data))
}
