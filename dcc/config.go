package dcc

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultMaxBlocksize bounds the per-worker read/recv chunk size
// (DCC_MAX_BLOCKSIZE in the original). Blocksize requests above this are
// clamped.
const DefaultMaxBlocksize = 102400

// SpeedRecalcInterval is the minimum cadence at which progress frames are
// emitted and speed/ETA recomputed (spec §4.7, §4.9; SPEC_FULL §3.4).
const SpeedRecalcInterval = time.Second

// Config is the read-only typed view over dcc_* settings (spec §4's
// "Config View" external collaborator). The engine never mutates it and
// never assumes a particular backing store — EnvConfig below is one
// concrete implementation; a host embedding the engine in a full IRC
// client may supply its own (e.g. file- or flag-backed).
type Config interface {
	DownloadPath() string
	UploadPath() string
	AutoAcceptFiles() bool
	AutoAcceptChats() bool
	AutoResume() bool
	AutoRename() bool
	ConvertSpaces() bool
	FastSend() bool
	Blocksize() uint32
	Timeout() time.Duration
	PortRange() string // "" | "A-B" | "A"
	BindAddr() string  // "" means any interface
	OwnIP() string      // "" means "ask the OS"

	ProxyUse() bool
	ProxyAddress() string
	ProxyPort() int
}

// EnvConfig is the default Config implementation: every dcc_* key (spec
// §6) is read from an environment variable with a typed fallback, in the
// style of graceful_restarts/SocketHandoff/main.go's getenvInt/getenvDur
// helpers.
type EnvConfig struct{}

func getenvBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getenvDurSeconds(key string, def time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return def
}

func getenvStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (EnvConfig) DownloadPath() string   { return getenvStr("DCC_DOWNLOAD_PATH", "~/dcc") }
func (EnvConfig) UploadPath() string     { return getenvStr("DCC_UPLOAD_PATH", "~/dcc") }
func (EnvConfig) AutoAcceptFiles() bool  { return getenvBool("DCC_AUTO_ACCEPT_FILES", false) }
func (EnvConfig) AutoAcceptChats() bool  { return getenvBool("DCC_AUTO_ACCEPT_CHATS", false) }
func (EnvConfig) AutoResume() bool       { return getenvBool("DCC_AUTO_RESUME", true) }
func (EnvConfig) AutoRename() bool       { return getenvBool("DCC_AUTO_RENAME", true) }
func (EnvConfig) ConvertSpaces() bool    { return getenvBool("DCC_CONVERT_SPACES", false) }
func (EnvConfig) FastSend() bool         { return getenvBool("DCC_FAST_SEND", false) }
func (EnvConfig) BindAddr() string       { return getenvStr("DCC_BIND_ADDR", "") }
func (EnvConfig) OwnIP() string          { return getenvStr("DCC_OWN_IP", "") }
func (EnvConfig) ProxyUse() bool         { return getenvBool("PROXY_USE", false) }
func (EnvConfig) ProxyAddress() string   { return getenvStr("PROXY_ADDRESS", "") }
func (EnvConfig) ProxyPort() int         { return getenvInt("PROXY_PORT", 1080) }
func (EnvConfig) PortRange() string      { return getenvStr("DCC_PORT_RANGE", "") }

func (EnvConfig) Blocksize() uint32 {
	b := getenvInt("DCC_BLOCKSIZE", 65536)
	if b <= 0 {
		b = 1
	}
	if b > DefaultMaxBlocksize {
		b = DefaultMaxBlocksize
	}
	return uint32(b)
}

func (EnvConfig) Timeout() time.Duration {
	return getenvDurSeconds("DCC_TIMEOUT", 300*time.Second)
}
