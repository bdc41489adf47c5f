package dcc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestRegistryFindMatchesAllFourFields is open question 1 / spec §9
// bug-note 1: Find must require server, kind, status, AND port to match —
// not silently succeed on a partial match the way the original's
// assignment-instead-of-comparison bug did.
func TestRegistryFindMatchesAllFourFields(t *testing.T) {
	r := NewRegistry()
	cfg := newFakeConfig()

	srvA := "server-a"
	srvB := "server-b"

	t1 := newTransfer(FileSend, cfg)
	t1.Server = srvA
	t1.Status = Active
	t1.PeerPort = 5000
	r.add(t1)

	t2 := newTransfer(FileSend, cfg)
	t2.Server = srvA
	t2.Status = Active
	t2.PeerPort = 6000
	r.add(t2)

	// Same server/kind/status but different port must NOT match t1.
	got, ok := r.Find(srvA, FileSend, Active, 6000)
	require.True(t, ok)
	require.Equal(t, t2.ID, got.ID)

	// Different server, same kind/status/port must NOT match.
	_, ok = r.Find(srvB, FileSend, Active, 5000)
	require.False(t, ok)

	// Different status, same server/kind/port must NOT match.
	_, ok = r.Find(srvA, FileSend, Waiting, 5000)
	require.False(t, ok)

	// Different kind, same server/status/port must NOT match.
	_, ok = r.Find(srvA, ChatSend, Active, 5000)
	require.False(t, ok)

	got, ok = r.Find(srvA, FileSend, Active, 5000)
	require.True(t, ok)
	require.Equal(t, t1.ID, got.ID)
}

// TestRegistryPortInUseIgnoresEnded is testable property 4: a port held by
// a Transfer that has already reached a terminal status is free again.
func TestRegistryPortInUseIgnoresEnded(t *testing.T) {
	r := NewRegistry()
	cfg := newFakeConfig()

	t1 := newTransfer(FileRecv, cfg)
	t1.PeerPort = 7000
	t1.Status = Active
	r.add(t1)

	require.True(t, r.PortInUse(7000))

	t1.Status = Done
	require.False(t, r.PortInUse(7000))
}

func TestRegistryAddGetRemove(t *testing.T) {
	r := NewRegistry()
	cfg := newFakeConfig()

	t1 := newTransfer(FileRecv, cfg)
	t2 := newTransfer(FileSend, cfg)
	r.add(t1)
	r.add(t2)

	all := r.All()
	require.Len(t, all, 2)
	require.Equal(t, t2.ID, all[0].ID) // newest-first

	got, ok := r.Get(t1.ID)
	require.True(t, ok)
	require.Equal(t, t1, got)

	r.remove(t1.ID)
	_, ok = r.Get(t1.ID)
	require.False(t, ok)
	require.Len(t, r.All(), 1)
}

func TestRegistryChatChannelStillUsed(t *testing.T) {
	r := NewRegistry()
	cfg := newFakeConfig()
	ch := "channel-handle"

	t1 := newTransfer(ChatSend, cfg)
	t1.ChatChannel = ch
	t1.Status = Active
	r.add(t1)

	t2 := newTransfer(ChatRecv, cfg)
	t2.ChatChannel = ch
	t2.Status = Active
	r.add(t2)

	require.True(t, r.chatChannelStillUsed(t1.ID, ch))

	t2.Status = Done
	require.False(t, r.chatChannelStillUsed(t1.ID, ch))
}
