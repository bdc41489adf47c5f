package dcc

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// resolveFilename implements the Filename Resolver (spec §4.1): compute
// the local filename for an incoming file, handling collisions via resume
// or numeric-suffix rename. Grounded on irc-dcc.c's
// dcc_file_resume/dcc_file_rename/dcc_file_is_resumable, rewritten with a
// uint64 size throughout (spec §9 bug-note 3). The upload path (send side)
// is expanded in AddOutgoingFile, with no Windows skip.
func (e *Engine) resolveFilename(t *Transfer) error {
	dataDir, err := os.UserHomeDir()
	if err != nil {
		dataDir = "."
	}
	dataDir = filepath.Join(dataDir, ".dcc")

	downloadPath := expandPath(e.Config.DownloadPath(), dataDir)
	candidate := joinOne(downloadPath, t.RemoteNick+"."+t.Filename)

	if _, err := os.Stat(candidate); os.IsNotExist(err) {
		t.LocalFilename = candidate
		return nil
	}

	if ok, resumeAt := e.tryResume(candidate, t.Size); ok {
		t.LocalFilename = candidate
		t.StartResume, t.Pos, t.LastCheckPos = resumeAt, resumeAt, resumeAt
		return nil
	}

	if !e.Config.AutoRename() {
		return fmt.Errorf("dcc: %q exists and auto_resume/auto_rename are both unavailable", candidate)
	}

	for suffix := 1; ; suffix++ {
		t.FilenameSuffix = suffix
		cand := fmt.Sprintf("%s.%d", candidate, suffix)
		if _, err := os.Stat(cand); os.IsNotExist(err) {
			t.LocalFilename = cand
			return nil
		}
		if ok, resumeAt := e.tryResume(cand, t.Size); ok {
			t.LocalFilename = cand
			t.StartResume, t.Pos, t.LastCheckPos = resumeAt, resumeAt, resumeAt
			return nil
		}
	}
}

// tryResume implements spec §4.1.1's resume eligibility check: auto_resume
// enabled, file writable, and its on-disk size strictly less than the
// offered size.
func (e *Engine) tryResume(path string, offeredSize uint64) (bool, uint64) {
	if !e.Config.AutoResume() {
		return false, 0
	}
	fi, err := os.Stat(path)
	if err != nil {
		return false, 0
	}
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return false, 0
	}
	f.Close()
	existing := uint64(fi.Size())
	if existing < offeredSize {
		return true, existing
	}
	return false, 0
}

// joinOne ensures a single path separator between dir and name (spec
// §4.1 step 2).
func joinOne(dir, name string) string {
	if dir == "" {
		return name
	}
	if dir[len(dir)-1] == '/' {
		return dir + name
	}
	return dir + "/" + name
}

// openRecvFile opens the local file for a receive-side Transfer per spec
// §6's filesystem contract: O_CREAT|O_TRUNC|O_WRONLY|O_NONBLOCK for a new
// file, O_APPEND|O_WRONLY|O_NONBLOCK when StartResume > 0. O_NONBLOCK is a
// no-op on a regular file but is part of the documented contract, so it's
// set regardless.
func openRecvFile(t *Transfer) (*os.File, error) {
	if t.StartResume > 0 {
		return os.OpenFile(t.LocalFilename, os.O_APPEND|os.O_WRONLY|unix.O_NONBLOCK, 0644)
	}
	return os.OpenFile(t.LocalFilename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY|unix.O_NONBLOCK, 0644)
}
