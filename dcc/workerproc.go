package dcc

import (
	"encoding/binary"
	"io"
	"net"
	"os"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// IsWorkerMode reports whether the current process was re-exec'd as a
// file-transfer worker (spawnWorker). cmd/dccd's main() checks this before
// doing anything else, exactly where
// graceful_restarts/SocketHandoff/main.go checks GRACEFUL_RESTART.
func IsWorkerMode() bool { return os.Getenv(envWorkerMode) != "" }

// RunWorker is the child-process entrypoint (spec §4.7): it reconstructs
// the data socket, local file, and status pipe from the inherited file
// descriptors and env vars, then runs the send or recv loop to
// completion. It never returns to an interactive caller — the convention
// (matching SocketHandoff's worker-style subprocess) is that main() calls
// RunWorker() and os.Exit()s with its return code.
func RunWorker() int {
	mode := os.Getenv(envWorkerMode)
	size, _ := strconv.ParseUint(os.Getenv(envWorkerSize), 10, 64)
	pos, _ := strconv.ParseUint(os.Getenv(envWorkerPos), 10, 64)
	ack, _ := strconv.ParseUint(os.Getenv(envWorkerAck), 10, 64)
	blocksize, _ := strconv.ParseUint(os.Getenv(envWorkerBlocksize), 10, 32)
	fastSend, _ := strconv.ParseBool(os.Getenv(envWorkerFastSend))
	if blocksize == 0 {
		blocksize = 65536
	}

	dataFile := os.NewFile(uintptr(workerDataFD), "dcc-data")
	conn, err := net.FileConn(dataFile)
	if err != nil {
		return 1
	}
	file := os.NewFile(uintptr(workerFileFD), "dcc-file")
	status := os.NewFile(uintptr(workerStatusFD), "dcc-status")

	w := &workerState{
		conn:      conn,
		file:      file,
		status:    status,
		size:      size,
		pos:       pos,
		ack:       ack,
		blocksize: uint32(blocksize),
		fastSend:  fastSend,
	}

	if mode == "recv" {
		w.runRecv()
	} else {
		w.runSend()
	}
	return 0
}

type workerState struct {
	conn      net.Conn
	file      *os.File
	status    *os.File
	size      uint64
	pos       uint64
	ack       uint64
	blocksize uint32
	fastSend  bool
}

func (w *workerState) emit(status TransferStatus, errc WorkerErrorCode) {
	frame := statusFrame{Status: status, Err: errc, Pos: w.pos}.encode()
	_, _ = w.status.Write(frame[:])
}

// peekAck implements spec §4.7.1 step 1: MSG_PEEK up to 4 bytes; only
// consume them once a full 4-byte ACK is available, so a partial ACK
// (1-3 bytes currently buffered) is left untouched for the next pass.
func peekAck(conn net.Conn) (uint32, bool, error) {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return 0, false, nil
	}
	raw, err := tc.SyscallConn()
	if err != nil {
		return 0, false, err
	}
	var n int
	var buf [4]byte
	var sysErr error
	ctlErr := raw.Read(func(fd uintptr) bool {
		n, _, sysErr = unix.Recvfrom(int(fd), buf[:], unix.MSG_PEEK|unix.MSG_DONTWAIT)
		return true
	})
	if ctlErr != nil {
		return 0, false, ctlErr
	}
	if sysErr != nil {
		if sysErr == unix.EAGAIN || sysErr == unix.EWOULDBLOCK {
			return 0, false, nil
		}
		return 0, false, sysErr
	}
	if n < 4 {
		return 0, false, nil
	}
	if _, err := io.ReadFull(conn, buf[:]); err != nil {
		return 0, false, err
	}
	return binary.BigEndian.Uint32(buf[:]), true, nil
}

// runSend implements the send-worker loop (spec §4.7.1).
func (w *workerState) runSend() {
	buf := make([]byte, w.blocksize)
	lastEmit := time.Now()

	for {
		if w.pos > w.ack {
			if ackVal, ok, err := peekAck(w.conn); err != nil {
				w.emit(Failed, WorkerReadAck)
				return
			} else if ok {
				w.ack = uint64(ackVal)
			}
		}
		if w.pos >= w.size && w.ack >= w.size {
			w.emit(Done, WorkerNoError)
			return
		}

		if w.pos < w.size && (w.fastSend || w.pos <= w.ack) {
			n, err := w.sendNextBlock(buf)
			if err != nil {
				if err == errWouldBlock {
					time.Sleep(time.Millisecond)
					continue
				}
				if err == errSendBlocked {
					w.emit(Failed, WorkerSendBlock)
					return
				}
				w.emit(Failed, WorkerReadLocal)
				return
			}
			w.pos += uint64(n)
			if time.Since(lastEmit) >= SpeedRecalcInterval {
				w.emit(Active, WorkerNoError)
				lastEmit = time.Now()
			}
		} else {
			time.Sleep(time.Millisecond)
		}
	}
}

var errWouldBlock = &workerErr{"would block"}
var errSendBlocked = &workerErr{"send blocked"}

type workerErr struct{ s string }

func (e *workerErr) Error() string { return e.s }

// sendNextBlock reads one block from the file at w.pos and writes it to
// the data socket, preferring sendfile(2) when possible.
//
// Grounded on sendfl/main.go: transferWithSendFile's
// SyscallConn().Write + syscall.Sendfile is the fast path, used whenever
// the data socket is a *net.TCPConn (it always is here); transferWithBuffer's
// plain file.Read/conn.Write loop is the portable fallback, used when
// sendfile is unavailable or reports it made no progress.
func (w *workerState) sendNextBlock(buf []byte) (int, error) {
	if tc, ok := w.conn.(*net.TCPConn); ok {
		if n, err, handled := w.sendfileBlock(tc); handled {
			return n, err
		}
	}
	if _, err := w.file.Seek(int64(w.pos), io.SeekStart); err != nil {
		return 0, err
	}
	n, err := w.file.Read(buf)
	if err != nil && err != io.EOF {
		return 0, err
	}
	if n < 1 {
		return 0, io.ErrUnexpectedEOF
	}
	m, err := w.conn.Write(buf[:n])
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return 0, errWouldBlock
		}
		return 0, errSendBlocked
	}
	return m, nil
}

// sendfileBlock attempts a zero-copy sendfile(2) of up to one blocksize
// worth of bytes starting at w.pos. handled=false tells the caller to fall
// back to the buffered path (e.g. non-Linux, or the rawConn call itself
// failed before any syscall ran).
func (w *workerState) sendfileBlock(tc *net.TCPConn) (n int, err error, handled bool) {
	raw, rcErr := tc.SyscallConn()
	if rcErr != nil {
		return 0, nil, false
	}
	remaining := w.size - w.pos
	chunk := uint64(w.blocksize)
	if remaining < chunk {
		chunk = remaining
	}
	if chunk == 0 {
		return 0, nil, false
	}
	off := int64(w.pos)
	var written int
	var sysErr error
	werr := raw.Write(func(fd uintptr) bool {
		written, sysErr = syscall.Sendfile(int(fd), int(w.file.Fd()), &off, int(chunk))
		return true
	})
	if werr != nil {
		return 0, nil, false
	}
	if sysErr != nil {
		if sysErr == syscall.EAGAIN {
			return 0, errWouldBlock, true
		}
		return 0, errSendBlocked, true
	}
	if written < 1 {
		return 0, nil, false
	}
	return written, nil, true
}

// runRecv implements the recv-worker loop (spec §4.7.2).
func (w *workerState) runRecv() {
	buf := make([]byte, w.blocksize)
	lastEmit := time.Now()

	for {
		n, err := w.conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				time.Sleep(time.Millisecond)
				continue
			}
			w.emit(Failed, WorkerRecvBlock)
			return
		}
		if n == 0 {
			w.emit(Failed, WorkerRecvBlock)
			return
		}
		if _, err := w.file.Write(buf[:n]); err != nil {
			w.emit(Failed, WorkerWriteLocal)
			return
		}
		w.pos += uint64(n)

		ackBuf := encodeAck(w.pos)
		_, _ = w.conn.Write(ackBuf[:]) // failure to send ACK is ignored, per spec §4.7.2 step 5

		if w.pos >= w.size {
			w.emit(Done, WorkerNoError)
			return
		}
		if time.Since(lastEmit) >= SpeedRecalcInterval {
			w.emit(Active, WorkerNoError)
			lastEmit = time.Now()
		}
	}
}
