package dcc

import "os"

// closeTransfer implements spec §4.10's close(status): set status, emit
// the final user-visible line for file transfers, kill and reap the
// worker, unlink a zero-byte local file left behind by a failed/aborted
// file-recv, recompute final speed, and close the data socket/file
// idempotently. The unlink only applies to receives: for a FileSend,
// LocalFilename is the user's own source file (AddOutgoingFile opens it
// read-only and never writes to it), so it must never be removed no
// matter how the send ends — matching irc-dcc.c's
// DCC_IS_RECV(ptr_dcc->type) guard. The worker is always killed (not
// merely reaped): a
// Failed transition can originate from the Scheduler's own timeout check
// (§4.6.1) while the worker is still blocked in a recv/send syscall with
// nothing arriving on either side, and waiting on it without first
// signaling it would hang the parent forever. When the worker has
// already exited on its own (the common Done/Failed-frame path), the
// kill is a harmless no-op and wait reaps the zombie immediately.
// sync.Once on Transfer.closeOnce makes repeated calls (e.g. a Done frame
// racing a user-triggered Abort) harmless.
func (e *Engine) closeTransfer(t *Transfer, status TransferStatus) {
	t.closeOnce.Do(func() {
		t.Status = status
		recomputeSpeed(t, true)
		if e.metrics != nil {
			e.metrics.onEnded(t)
		}
		if e.csv != nil {
			e.csv.append(t)
		}

		if t.Kind.IsFile() {
			if status == Done {
				e.Sink.Info(t, "file %q OK", t.Filename)
			} else {
				e.Sink.Info(t, "file %q FAILED", t.Filename)
			}
			t.killWorker()
		}

		if t.DataSock != nil {
			_ = t.DataSock.Close()
		}
		if t.ListenSock != nil {
			_ = t.ListenSock.Close()
		}
		if t.File != nil {
			_ = t.File.Close()
			if t.Kind.IsRecv() && (status == Failed || status == Aborted) && t.Pos == 0 {
				if fi, err := os.Stat(t.LocalFilename); err == nil && fi.Size() == 0 {
					_ = os.Remove(t.LocalFilename)
				}
			}
		}

		e.Sink.Redraw(t)
	})
}

// freeTransfer implements spec §4.10's free(): tear down the bound chat
// channel if this was its last user, then unlink the Transfer from the
// registry. Callers must have already closed the Transfer.
func (e *Engine) freeTransfer(t *Transfer) {
	if t.ChatChannel != nil && !e.Registry.chatChannelStillUsed(t.ID, t.ChatChannel) {
		if e.TeardownChat != nil {
			e.TeardownChat(t.ChatChannel)
		}
	}
	e.Registry.remove(t.ID)
}

// Abort is the user-facing cancellation entrypoint (spec §5's
// "Cancellation" paragraph): close with Aborted (which kills the worker),
// then free.
func (e *Engine) Abort(t *Transfer) {
	e.closeTransfer(t, Aborted)
	e.freeTransfer(t)
}
