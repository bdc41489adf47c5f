package dcc

import (
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/rs/xid"
)

// ServerHandle and ChatChannelHandle are opaque references into the host's
// IRC object graph (spec §1's "Process-wide IRC server/channel object
// graph: modeled as opaque handles"). The engine never inspects them; it
// only threads them through to Sink calls and the AssociateChat callback.
type ServerHandle any
type ChatChannelHandle any

// childProc is the minimal handle onto a worker process the dcc package
// needs: its pid, the parent's read end of the status pipe (the write end
// goes to the child through cmd.ExtraFiles, see worker.go), and kill/wait
// hooks. Kept as its own type so Transfer doesn't need to import os/exec.
type childProc struct {
	pid       int
	statusRd  *os.File // parent's read end of the pipe; worker writes frames here
	kill      func() error
	wait      func() error
}

// Transfer is one DCC session: a file send/recv or a chat send/recv, with
// its full negotiated and in-flight state. Fields mirror spec §3.3
// one-for-one. A Transfer is mutated only by the Scheduler, the
// Offer/Accept Protocol, and Sink-triggered callbacks — never concurrently
// — except for the fields read by the status API, which takes
// Registry.mu before touching any Transfer reachable from the registry.
type Transfer struct {
	ID xid.ID

	Server      ServerHandle
	ChatChannel ChatChannelHandle

	Kind   TransferKind
	Status TransferStatus

	RemoteNick string
	PeerIPv4   uint32 // host order
	PeerPort   uint16

	ListenSock net.Listener
	DataSock   net.Conn

	File           *os.File
	Filename       string // remote-facing short name; "DCC chat" for chats
	LocalFilename  string
	FilenameSuffix int

	Size      uint64
	Pos       uint64
	Ack       uint64
	StartResume uint64
	Blocksize uint32
	FastSend  bool

	StartTime      time.Time
	StartTransfer  time.Time
	LastActivity   time.Time
	LastCheckTime  time.Time
	LastCheckPos   uint64
	BytesPerSec    float64
	ETA            time.Duration

	child *childProc

	// UnterminatedMessage buffers a partial DCC CHAT line across recv()
	// calls (spec §4.8).
	UnterminatedMessage string

	// chatSeq numbers emitted chat lines for deterministic transcript
	// replay (SPEC_FULL §3.3). Not part of the wire protocol.
	chatSeq uint64

	// activeCountedInMetrics tracks whether metricsCollector.onActive ran
	// for this Transfer, so onEnded decrements the active gauge exactly
	// once per matching increment — a Transfer that never reached Active
	// (e.g. a send that failed to bind, or a chat closed before the peer
	// connected) must not decrement a gauge it never incremented.
	activeCountedInMetrics bool

	closeOnce sync.Once
}

// newTransfer allocates a Transfer with spec §4.4 step 1 defaults:
// Waiting status, no sockets, zeroed counters, blocksize/fast_send from
// config.
func newTransfer(kind TransferKind, cfg Config) *Transfer {
	now := time.Now()
	return &Transfer{
		ID:            xid.New(),
		Kind:          kind,
		Status:        Waiting,
		Blocksize:     cfg.Blocksize(),
		FastSend:      cfg.FastSend(),
		StartTime:     now,
		LastActivity:  now,
		LastCheckTime: now,
	}
}

// Percent returns the fraction of Size transferred so far, in [0,1].
// SPEC_FULL §3.1 — additive instrumentation, not a protocol field.
func (t *Transfer) Percent() float64 {
	if t.Size == 0 {
		return 0
	}
	return float64(t.Pos) / float64(t.Size)
}

// checkInvariants validates spec §3.3/§8's always-true relations. Only the
// tests call it; the scheduler does not.
func (t *Transfer) checkInvariants() error {
	if t.Size > 0 && t.Pos > t.Size {
		return fmt.Errorf("dcc: invariant violated: pos %d > size %d", t.Pos, t.Size)
	}
	if t.Ack > t.Pos {
		return fmt.Errorf("dcc: invariant violated: ack %d > pos %d", t.Ack, t.Pos)
	}
	if t.StartResume > t.Pos {
		return fmt.Errorf("dcc: invariant violated: start_resume %d > pos %d", t.StartResume, t.Pos)
	}
	return nil
}
