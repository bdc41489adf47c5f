package dcc

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
)

// Worker-mode environment variables. Set by spawnWorker in the parent,
// read by RunWorker in the re-exec'd child. The dispatch shape —
// env-var-gated re-entry into the same binary, file descriptors handed
// across exec via cmd.ExtraFiles starting at fd 3 — is grounded directly
// on graceful_restarts/SocketHandoff/main.go's GRACEFUL_RESTART/GRACEFUL_FD
// dispatch in attemptGracefulRestart/main.
const (
	envWorkerMode      = "DCC_WORKER_MODE" // "send" | "recv"
	envWorkerSize      = "DCC_WORKER_SIZE"
	envWorkerPos       = "DCC_WORKER_POS"
	envWorkerAck       = "DCC_WORKER_ACK"
	envWorkerBlocksize = "DCC_WORKER_BLOCKSIZE"
	envWorkerFastSend  = "DCC_WORKER_FAST_SEND"

	workerDataFD   = 3 // cmd.ExtraFiles[0]
	workerFileFD   = 4 // cmd.ExtraFiles[1]
	workerStatusFD = 5 // cmd.ExtraFiles[2]
)

// spawnWorker implements spec §4.7/§9's "process fork -> worker task per
// transfer" redesign: re-exec the current binary with the data socket,
// local file, and a status pipe write-end passed across exec via
// ExtraFiles, and an environment variable telling the child which loop
// (send/recv) to run. This is architecturally identical to
// attemptGracefulRestart's listener-handoff, generalized from "hand off
// one listening socket" to "hand off a data socket + file + a private
// pipe the child alone writes to".
func (e *Engine) spawnWorker(t *Transfer) error {
	tc, ok := t.DataSock.(*net.TCPConn)
	if !ok {
		return newErr("spawn-worker", ErrForkFailed, fmt.Errorf("data socket is not a *net.TCPConn"))
	}
	dataFile, err := tc.File()
	if err != nil {
		return newErr("spawn-worker", ErrForkFailed, err)
	}

	statusR, statusW, err := os.Pipe()
	if err != nil {
		dataFile.Close()
		return newErr("spawn-worker", ErrPipeFailed, err)
	}

	mode := "send"
	if t.Kind == FileRecv {
		mode = "recv"
	}

	cmd := exec.Command(os.Args[0])
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(),
		envWorkerMode+"="+mode,
		envWorkerSize+"="+strconv.FormatUint(t.Size, 10),
		envWorkerPos+"="+strconv.FormatUint(t.Pos, 10),
		envWorkerAck+"="+strconv.FormatUint(t.Ack, 10),
		envWorkerBlocksize+"="+strconv.FormatUint(uint64(t.Blocksize), 10),
		envWorkerFastSend+"="+strconv.FormatBool(t.FastSend),
	)
	cmd.ExtraFiles = []*os.File{dataFile, t.File, statusW}

	if err := cmd.Start(); err != nil {
		dataFile.Close()
		statusR.Close()
		statusW.Close()
		return newErr("spawn-worker", ErrForkFailed, err)
	}

	// Parent no longer needs its copies of the fds the child now owns;
	// the child holds its own duplicates via ExtraFiles (same pattern as
	// attemptGracefulRestart closing lf/w after cmd.Start()).
	dataFile.Close()
	statusW.Close()

	proc := cmd.Process
	t.child = &childProc{
		pid:      proc.Pid,
		statusRd: statusR,
		kill:     proc.Kill,
		wait:     func() error { _, err := cmd.Process.Wait(); return err },
	}
	return nil
}

// killWorker implements spec §5's cancellation contract: SIGKILL then a
// synchronous waitpid, invoked unconditionally by closeTransfer (spec
// §4.10's "kill and reap the worker"). There are no cooperative cancel
// points in the worker; kill is the whole contract. Signaling a worker
// that has already exited on its own (the common Done/Failed-frame path)
// is a harmless no-op — the subsequent wait reaps the zombie either way.
func (t *Transfer) killWorker() {
	if t.child == nil {
		return
	}
	_ = t.child.kill()
	_ = t.child.wait()
	_ = t.child.statusRd.Close()
	t.child = nil
}
