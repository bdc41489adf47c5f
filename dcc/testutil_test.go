package dcc

import (
	"fmt"
	"time"
)

// fakeConfig is a fully in-memory Config for tests, avoiding the
// environment-variable indirection EnvConfig uses in production
// (spec §4's Config View is an external collaborator; tests supply their
// own trivial implementation rather than exercise EnvConfig's os.Getenv
// plumbing).
type fakeConfig struct {
	downloadPath    string
	uploadPath      string
	autoAcceptFiles bool
	autoAcceptChats bool
	autoResume      bool
	autoRename      bool
	convertSpaces   bool
	fastSend        bool
	blocksize       uint32
	timeout         time.Duration
	portRange       string
	bindAddr        string
	ownIP           string
	proxyUse        bool
	proxyAddress    string
	proxyPort       int
}

func (c *fakeConfig) DownloadPath() string    { return c.downloadPath }
func (c *fakeConfig) UploadPath() string      { return c.uploadPath }
func (c *fakeConfig) AutoAcceptFiles() bool   { return c.autoAcceptFiles }
func (c *fakeConfig) AutoAcceptChats() bool   { return c.autoAcceptChats }
func (c *fakeConfig) AutoResume() bool        { return c.autoResume }
func (c *fakeConfig) AutoRename() bool        { return c.autoRename }
func (c *fakeConfig) ConvertSpaces() bool     { return c.convertSpaces }
func (c *fakeConfig) FastSend() bool          { return c.fastSend }
func (c *fakeConfig) Blocksize() uint32       { return c.blocksize }
func (c *fakeConfig) Timeout() time.Duration  { return c.timeout }
func (c *fakeConfig) PortRange() string       { return c.portRange }
func (c *fakeConfig) BindAddr() string        { return c.bindAddr }
func (c *fakeConfig) OwnIP() string           { return c.ownIP }
func (c *fakeConfig) ProxyUse() bool          { return c.proxyUse }
func (c *fakeConfig) ProxyAddress() string    { return c.proxyAddress }
func (c *fakeConfig) ProxyPort() int          { return c.proxyPort }

func newFakeConfig() *fakeConfig {
	return &fakeConfig{
		downloadPath: "/tmp",
		uploadPath:   "/tmp",
		autoRename:   true,
		autoResume:   true,
		blocksize:    65536,
		timeout:      300 * time.Second,
		proxyPort:    1080,
	}
}

// recordedLine is one call captured by fakeSink.
type recordedLine struct {
	kind string // info|error|hotlist|redraw|chat|diagnostics
	text string
}

// fakeSink is an in-memory Sink recording every call for assertions,
// standing in for spec §4's Observer Sink external collaborator.
type fakeSink struct {
	lines []recordedLine
}

func (s *fakeSink) Info(t *Transfer, format string, args ...any) {
	s.lines = append(s.lines, recordedLine{"info", fmt.Sprintf(format, args...)})
}
func (s *fakeSink) Error(t *Transfer, format string, args ...any) {
	s.lines = append(s.lines, recordedLine{"error", fmt.Sprintf(format, args...)})
}
func (s *fakeSink) Hotlist(t *Transfer) { s.lines = append(s.lines, recordedLine{"hotlist", ""}) }
func (s *fakeSink) Redraw(t *Transfer)  { s.lines = append(s.lines, recordedLine{"redraw", ""}) }
func (s *fakeSink) ChatLine(t *Transfer, seq uint64, line string) {
	s.lines = append(s.lines, recordedLine{"chat", line})
}
func (s *fakeSink) Diagnostics(t *Transfer, info *TCPDiagnostics) {
	if info != nil {
		s.lines = append(s.lines, recordedLine{"diagnostics", fmt.Sprintf("rtt=%d", info.RTTMicros)})
	}
}
