package dcc

import (
	"io"
	"net"
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Handle implements the Scheduler (spec §4.6): a single non-blocking pass
// over every Transfer in the registry, advancing whichever ones have
// work ready. The host's outer event loop calls Handle on every
// iteration, the same role graceful_restarts/SocketHandoff/main.go's
// acceptLoop plays around its own accept() calls, generalized here from
// "one listener" to "poll every registered fd with a zero-timeout
// select-equivalent (unix.Poll)".
func (e *Engine) Handle() {
	for _, t := range e.Registry.All() {
		e.handleOne(t)
	}
}

func (e *Engine) handleOne(t *Transfer) {
	if t.Status.Ended() {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.Sink.Error(t, "internal error: %v", r)
			e.closeTransfer(t, Failed)
		}
	}()

	// 4.6.1 timeout check (file transfers only).
	if t.Kind.IsFile() {
		if to := e.Config.Timeout(); to > 0 && time.Now().After(t.LastActivity.Add(to)) {
			e.Sink.Error(t, "transfer timed out")
			if e.metrics != nil {
				e.metrics.onTimeout()
			}
			e.closeTransfer(t, Failed)
			return
		}
	}

	switch {
	case t.Status == Connecting && t.Kind == FileSend:
		e.acceptSend(t, false)
	case t.Status == Waiting && t.Kind == ChatSend:
		e.acceptSend(t, true)
	case t.Status == Active && (t.Kind == ChatRecv || t.Kind == ChatSend):
		if connReadable(t.DataSock) {
			e.chatReceive(t)
		}
	case t.Status == Active && t.Kind.IsFile():
		if t.child != nil && fileReadable(t.child.statusRd) {
			e.workerRead(t)
		}
	}
}

// acceptSend implements spec §4.6.2/§4.6.3: poll the listening socket for
// readability with a zero-timeout select-equivalent; on ready, accept,
// close the listener, capture the peer address, go Active, and (for
// chat) associate a chat channel.
func (e *Engine) acceptSend(t *Transfer, isChat bool) {
	ln, ok := t.ListenSock.(*net.TCPListener)
	if !ok || ln == nil {
		return
	}
	if !listenerReadable(ln) {
		return
	}

	conn, err := ln.Accept()
	_ = ln.Close()
	t.ListenSock = nil
	if err != nil {
		e.Sink.Error(t, "accept failed: %v", err)
		e.closeTransfer(t, Failed)
		return
	}

	t.DataSock = conn
	if tcp, ok := conn.RemoteAddr().(*net.TCPAddr); ok && tcp.IP != nil {
		if ip4 := tcp.IP.To4(); ip4 != nil {
			t.PeerIPv4 = ipv4ToUint32(ip4)
		}
	}

	if err := e.activate(t); err != nil {
		return
	}

	if isChat && e.AssociateChat != nil {
		ch, aerr := e.AssociateChat(t)
		if aerr != nil {
			e.Sink.Error(t, "chat association failed: %v", aerr)
			e.closeTransfer(t, Failed)
			return
		}
		t.ChatChannel = ch
	}
	e.Sink.Redraw(t)
}

// workerRead implements spec §4.7.3: read one 14-byte status frame from
// the worker's pipe, update position/activity/speed, and dispatch on the
// reported status. Pipe writes of frameLen bytes are atomic on a regular
// pipe (well under PIPE_BUF), so a single io.ReadFull call on an
// already-poll-confirmed-readable fd is sufficient.
func (e *Engine) workerRead(t *Transfer) {
	buf := make([]byte, frameLen)
	if _, err := io.ReadFull(t.child.statusRd, buf); err != nil {
		e.Sink.Error(t, "worker pipe closed unexpectedly")
		e.closeTransfer(t, Failed)
		return
	}
	frame, ferr := decodeFrame(buf)
	if ferr != nil {
		e.Sink.Error(t, "malformed worker frame: %v", ferr)
		e.closeTransfer(t, Failed)
		return
	}

	t.Pos = frame.Pos
	t.LastActivity = time.Now()
	recomputeSpeed(t, frame.Status.Ended())

	switch frame.Status {
	case Active:
		if info, derr := Diagnostics(t); derr == nil {
			e.Sink.Diagnostics(t, info)
		}
		e.Sink.Redraw(t)
	case Done:
		e.closeTransfer(t, Done)
	case Failed:
		e.Sink.Error(t, "%s", workerErrorMessage(frame.Err))
		e.closeTransfer(t, Failed)
	}
}

// workerErrorMessage maps a WorkerErrorCode to one of spec §4.7.3's six
// canned user messages.
func workerErrorMessage(c WorkerErrorCode) string {
	switch c {
	case WorkerReadLocal:
		return "error reading local file"
	case WorkerSendBlock:
		return "error sending data"
	case WorkerReadAck:
		return "error reading ack"
	case WorkerRecvBlock:
		return "error receiving data"
	case WorkerWriteLocal:
		return "error writing local file"
	default:
		return "unknown transfer error"
	}
}

// pollReadable runs a zero-timeout poll(2) for POLLIN on fd, the direct
// generalization of graceful_restarts/SocketHandoff/main.go's use of
// TCPListener.SyscallConn() to reach a raw fd, widened here from "FD
// passed across exec" to "poll any fd for read-readiness without
// blocking" (spec §4.6's "select with zero timeout").
func pollReadable(fd int) bool {
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, 0)
	if err != nil || n <= 0 {
		return false
	}
	return fds[0].Revents&unix.POLLIN != 0
}

func connReadable(conn net.Conn) bool {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return false
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return false
	}
	ready := false
	_ = raw.Control(func(fd uintptr) {
		ready = pollReadable(int(fd))
	})
	return ready
}

func listenerReadable(ln *net.TCPListener) bool {
	raw, err := ln.SyscallConn()
	if err != nil {
		return false
	}
	ready := false
	_ = raw.Control(func(fd uintptr) {
		ready = pollReadable(int(fd))
	})
	return ready
}

func fileReadable(f *os.File) bool {
	raw, err := f.SyscallConn()
	if err != nil {
		return false
	}
	ready := false
	_ = raw.Control(func(fd uintptr) {
		ready = pollReadable(int(fd))
	})
	return ready
}
