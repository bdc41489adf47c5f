package dcc

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestCloseTransferIdempotent checks closeTransfer's sync.Once guard: a
// second call (e.g. a racing Done frame after a user Abort) must not
// panic or double-run the teardown side effects.
func TestCloseTransferIdempotent(t *testing.T) {
	cfg := newFakeConfig()
	sink := &fakeSink{}
	e := NewEngine(cfg, sink)

	client, server := net.Pipe()
	defer client.Close()

	tr := newTransfer(FileRecv, cfg)
	tr.DataSock = server
	tr.Kind = FileRecv

	e.closeTransfer(tr, Done)
	require.Equal(t, Done, tr.Status)

	e.closeTransfer(tr, Failed) // must be a no-op; status stays Done
	require.Equal(t, Done, tr.Status)
}

// TestCloseTransferRemovesZeroByteFile checks spec §4.10's cleanup rule:
// a Failed/Aborted transfer that never wrote any bytes has its local file
// unlinked.
func TestCloseTransferRemovesZeroByteFile(t *testing.T) {
	cfg := newFakeConfig()
	sink := &fakeSink{}
	e := NewEngine(cfg, sink)

	dir := t.TempDir()
	path := filepath.Join(dir, "partial.bin")
	f, err := os.Create(path)
	require.NoError(t, err)

	tr := newTransfer(FileRecv, cfg)
	tr.File = f
	tr.LocalFilename = path
	tr.Pos = 0

	e.closeTransfer(tr, Failed)

	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

// TestCloseTransferKeepsPartialFile checks the same rule's converse: any
// bytes already written means the file survives a failed transfer.
func TestCloseTransferKeepsPartialFile(t *testing.T) {
	cfg := newFakeConfig()
	sink := &fakeSink{}
	e := NewEngine(cfg, sink)

	dir := t.TempDir()
	path := filepath.Join(dir, "partial.bin")
	require.NoError(t, os.WriteFile(path, []byte("some bytes"), 0644))
	f, err := os.OpenFile(path, os.O_WRONLY, 0644)
	require.NoError(t, err)

	tr := newTransfer(FileRecv, cfg)
	tr.File = f
	tr.LocalFilename = path
	tr.Pos = 10

	e.closeTransfer(tr, Failed)

	_, err = os.Stat(path)
	require.NoError(t, err)
}

// TestCloseTransferNeverRemovesSendSourceFile checks the converse of the
// zero-byte-unlink rule for a FileSend: LocalFilename there is the user's
// own source file (AddOutgoingFile opens it read-only), so it must
// survive a Failed/Aborted close even at pos == 0 and even though the
// file on disk happens to be empty.
func TestCloseTransferNeverRemovesSendSourceFile(t *testing.T) {
	cfg := newFakeConfig()
	sink := &fakeSink{}
	e := NewEngine(cfg, sink)

	dir := t.TempDir()
	path := filepath.Join(dir, "source.bin")
	f, err := os.Create(path)
	require.NoError(t, err)

	tr := newTransfer(FileSend, cfg)
	tr.File = f
	tr.LocalFilename = path
	tr.Pos = 0

	e.closeTransfer(tr, Failed)

	_, err = os.Stat(path)
	require.NoError(t, err)
}

// TestFreeTransferRemovesFromRegistryAndTearsDownChat checks spec §4.10's
// Free operation: the last Transfer bound to a chat channel triggers
// TeardownChat, and the Transfer is unlinked from the Registry either way.
func TestFreeTransferRemovesFromRegistryAndTearsDownChat(t *testing.T) {
	cfg := newFakeConfig()
	sink := &fakeSink{}
	e := NewEngine(cfg, sink)

	var torndown []ChatChannelHandle
	e.TeardownChat = func(ch ChatChannelHandle) { torndown = append(torndown, ch) }

	ch := "chat-handle"
	tr := newTransfer(ChatRecv, cfg)
	tr.ChatChannel = ch
	tr.Status = Done
	e.Registry.add(tr)

	e.freeTransfer(tr)

	require.Equal(t, []ChatChannelHandle{ch}, torndown)
	_, ok := e.Registry.Get(tr.ID)
	require.False(t, ok)
}

// TestFreeTransferSkipsTeardownWhenChannelStillUsed ensures a shared chat
// channel with another live Transfer is left alone.
func TestFreeTransferSkipsTeardownWhenChannelStillUsed(t *testing.T) {
	cfg := newFakeConfig()
	sink := &fakeSink{}
	e := NewEngine(cfg, sink)

	called := false
	e.TeardownChat = func(ch ChatChannelHandle) { called = true }

	ch := "chat-handle"
	t1 := newTransfer(ChatRecv, cfg)
	t1.ChatChannel = ch
	t1.Status = Done
	e.Registry.add(t1)

	t2 := newTransfer(ChatSend, cfg)
	t2.ChatChannel = ch
	t2.Status = Active
	e.Registry.add(t2)

	e.freeTransfer(t1)

	require.False(t, called)
}

// TestAbortKillsWorkerAndFrees checks Abort's full sequence: worker kill
// (skipped here since no child is attached), close with Aborted, then
// free from the registry.
func TestAbortKillsWorkerAndFrees(t *testing.T) {
	cfg := newFakeConfig()
	sink := &fakeSink{}
	e := NewEngine(cfg, sink)

	tr := newTransfer(FileSend, cfg)
	e.Registry.add(tr)

	e.Abort(tr)

	require.Equal(t, Aborted, tr.Status)
	_, ok := e.Registry.Get(tr.ID)
	require.False(t, ok)
}
