package dcc

import (
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/xid"
	"golang.org/x/sys/unix"
)

// Engine is the host-owned value that replaces the original's global
// mutable dcc_list (spec §9's "global mutable dcc_list -> engine
// instance" redesign note): the Registry, Config view, and Sink are its
// fields, constructed once by the host process (cmd/dccd) and handed
// opaque ServerHandle/ChatChannelHandle values by the caller.
type Engine struct {
	Registry *Registry
	Config   Config
	Sink     Sink

	// AssociateChat is the UI callback invoked when a DCC CHAT transfer
	// goes Active (spec §4.6.3): it creates/binds a private-chat buffer
	// for the Transfer and returns its handle.
	AssociateChat func(t *Transfer) (ChatChannelHandle, error)
	// TeardownChat is invoked by Free (spec §4.10) when the last
	// Transfer bound to a chat channel is being freed.
	TeardownChat func(ch ChatChannelHandle)

	// Codec is the character-set encoder/decoder applied to DCC CHAT
	// text lines (spec §1's "Character-set conversion" external
	// collaborator).
	Codec Codec

	metrics *metricsCollector
	csv     *csvHistory
}

// NewEngine constructs an Engine. metrics/csv history are optional and
// wired in by cmd/dccd via NewMetrics/EnableHistory.
func NewEngine(cfg Config, sink Sink) *Engine {
	return &Engine{
		Registry: NewRegistry(),
		Config:   cfg,
		Sink:     sink,
		Codec:    IdentityCodec{},
	}
}

// Codec is the external character-set conversion collaborator (spec §1).
type Codec interface {
	Decode(b []byte) string
	Encode(s string) []byte
}

// IdentityCodec is a no-op Codec, suitable when the host's IRC stack has
// already normalized to UTF-8 before handing lines to the engine.
type IdentityCodec struct{}

func (IdentityCodec) Decode(b []byte) string { return string(b) }
func (IdentityCodec) Encode(s string) []byte { return []byte(s) }

// expandPath implements spec §4.1 step 1: "~" -> $HOME, then "%h" -> the
// application's data directory, applied to a configured path.
func expandPath(path, dataDir string) string {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = home + strings.TrimPrefix(path, "~")
		}
	}
	path = strings.ReplaceAll(path, "%h", dataDir)
	return path
}

// AddIncomingFile creates a Transfer for an inbound DCC SEND offer (spec
// §4.4's "add" operation, incoming-file branch). When the Filename
// Resolver (§4.1) finds a resumable local file, this does NOT connect
// even if auto-accept is on: per §4.3, the receiver must first send the
// returned DCC RESUME line and wait for the sender's DCC ACCEPT
// (delivered back to HandleAccept) before it is safe to open the file
// and dial out — the sender's own Transfer has to seek to the same
// offset first. The returned string is that DCC RESUME line, or empty
// when no resume negotiation is needed.
func (e *Engine) AddIncomingFile(server ServerHandle, nick, remoteName string, ip uint32, port uint16, size uint64) (*Transfer, string, error) {
	t := newTransfer(FileRecv, e.Config)
	t.Server = server
	t.RemoteNick = nick
	t.Filename = remoteName
	t.PeerIPv4 = ip
	t.PeerPort = port
	t.Size = size

	e.Registry.add(t)
	e.Sink.Info(t, "incoming file %q (%d bytes) from %s", remoteName, size, nick)

	if err := e.resolveFilename(t); err != nil {
		t.Status = Failed
		e.Sink.Error(t, "cannot determine local filename: %v", err)
		return t, "", err
	}

	if t.StartResume > 0 {
		// Connecting here means "handshake under way", matching spec §4.3's
		// DCC ACCEPT lookup (server, FileRecv, Connecting, port) — no dial
		// has happened yet, but the Transfer is no longer merely Waiting.
		t.Status = Connecting
		resume := BuildResume(quoteableName(t.Filename), port, t.StartResume, e.Config.ConvertSpaces())
		e.Sink.Info(t, "resuming %q at offset %d", t.Filename, t.StartResume)
		return t, resume, nil
	}

	if e.Config.AutoAcceptFiles() {
		if err := e.AcceptIncomingFile(t); err != nil {
			return t, "", err
		}
	}
	return t, "", nil
}

// AcceptIncomingFile performs spec §4.5's receive-side Connect (dialing
// the sender, possibly through a proxy) for a Transfer created by
// AddIncomingFile or accepted later by the UI.
func (e *Engine) AcceptIncomingFile(t *Transfer) error {
	return e.connectRecv(t)
}

// AcceptIncomingChat performs the same receive-side Connect for a Transfer
// created by AddIncomingChat when auto-accept was off and the UI accepts
// it later (status/control surface's "accept" route, SPEC_FULL §2).
func (e *Engine) AcceptIncomingChat(t *Transfer) error {
	return e.connectRecv(t)
}

// AddOutgoingFile creates and immediately connects a send-side Transfer
// (spec §4.4 step 3 "for sends, invoke Connect/Listen immediately"). A
// relative localPath is taken under the expanded upload path.
func (e *Engine) AddOutgoingFile(server ServerHandle, nick, localPath string) (*Transfer, string, error) {
	if !filepath.IsAbs(localPath) {
		dataDir, herr := os.UserHomeDir()
		if herr != nil {
			dataDir = "."
		}
		dataDir = filepath.Join(dataDir, ".dcc")
		localPath = joinOne(expandPath(e.Config.UploadPath(), dataDir), localPath)
	}

	// spec §6: files are opened O_RDONLY|O_NONBLOCK for sends; a no-op on
	// a regular file, but part of the documented contract.
	f, err := os.OpenFile(localPath, os.O_RDONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, "", newErr("add-outgoing-file", ErrCannotAccessFile, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, "", newErr("add-outgoing-file", ErrCannotAccessFile, err)
	}

	t := newTransfer(FileSend, e.Config)
	t.Server = server
	t.RemoteNick = nick
	t.File = f
	t.Filename = filepath.Base(localPath)
	t.LocalFilename = localPath
	t.Size = uint64(fi.Size())

	e.Registry.add(t)
	e.Sink.Info(t, "offering file %q (%d bytes) to %s", t.Filename, t.Size, nick)

	if err := e.listenSend(t); err != nil {
		t.Status = Failed
		e.Sink.Error(t, "cannot listen: %v", err)
		return t, "", err
	}

	ip := resolveOwnIP(e.Config.OwnIP(), t.ListenSock)
	port := listenPort(t.ListenSock)
	offer := BuildSendOffer(quoteableName(t.Filename), ip, port, t.Size, e.Config.ConvertSpaces())
	return t, offer, nil
}

// AddOutgoingChat creates and listens for an outgoing DCC CHAT (spec
// §4.4/§4.5, ChatSend branch).
func (e *Engine) AddOutgoingChat(server ServerHandle, nick string) (*Transfer, string, error) {
	t := newTransfer(ChatSend, e.Config)
	t.Server = server
	t.RemoteNick = nick
	t.Filename = "DCC chat"

	e.Registry.add(t)
	e.Sink.Info(t, "offering chat to %s", nick)

	if err := e.listenSend(t); err != nil {
		t.Status = Failed
		e.Sink.Error(t, "cannot listen: %v", err)
		return t, "", err
	}

	ip := resolveOwnIP(e.Config.OwnIP(), t.ListenSock)
	port := listenPort(t.ListenSock)
	return t, BuildChatOffer(ip, port), nil
}

// AddIncomingChat creates a Transfer for an inbound DCC CHAT offer.
func (e *Engine) AddIncomingChat(server ServerHandle, nick string, ip uint32, port uint16) (*Transfer, error) {
	t := newTransfer(ChatRecv, e.Config)
	t.Server = server
	t.RemoteNick = nick
	t.Filename = "DCC chat"
	t.PeerIPv4 = ip
	t.PeerPort = port

	e.Registry.add(t)
	e.Sink.Info(t, "incoming chat from %s", nick)

	if e.Config.AutoAcceptChats() {
		if err := e.connectRecv(t); err != nil {
			return t, err
		}
	}
	return t, nil
}

// HandleResume implements spec §4.3's sender-side DCC RESUME handling:
// locate the matching Connecting FileSend Transfer, adopt the requested
// offset, and reply with DCC ACCEPT.
func (e *Engine) HandleResume(server ServerHandle, name string, port uint16, pos uint64) (string, error) {
	t, ok := e.Registry.Find(server, FileSend, Connecting, port)
	if !ok {
		return "", newErr("handle-resume", ErrNotFound, nil)
	}
	t.Pos = pos
	t.Ack = pos
	t.StartResume = pos
	t.LastCheckPos = pos
	e.Sink.Info(t, "resume requested at offset %d", pos)
	return BuildAccept(quoteableName(name), port, pos, e.Config.ConvertSpaces()), nil
}

// HandleAccept implements spec §4.3's receiver-side DCC ACCEPT handling:
// locate the matching Connecting FileRecv Transfer, adopt the agreed
// offset, and begin the connect-and-receive path.
func (e *Engine) HandleAccept(server ServerHandle, name string, port uint16, pos uint64) error {
	t, ok := e.Registry.Find(server, FileRecv, Connecting, port)
	if !ok {
		return newErr("handle-accept", ErrNotFound, nil)
	}
	t.Pos = pos
	t.Ack = pos
	t.StartResume = pos
	t.LastCheckPos = pos
	return e.connectRecv(t)
}

// quoteableName is a pass-through placeholder kept distinct from the
// internal quoteName so call sites read naturally; quoting itself happens
// inside BuildSendOffer/BuildResume/BuildAccept.
func quoteableName(name string) string { return name }

func resolveOwnIP(configured string, ln net.Listener) uint32 {
	if configured != "" {
		if ip := net.ParseIP(configured).To4(); ip != nil {
			return ipv4ToUint32(ip)
		}
	}
	if ln != nil {
		if addr, ok := ln.Addr().(*net.TCPAddr); ok && addr.IP != nil && !addr.IP.IsUnspecified() {
			if ip := addr.IP.To4(); ip != nil {
				return ipv4ToUint32(ip)
			}
		}
	}
	return 0
}

func ipv4ToUint32(ip net.IP) uint32 {
	ip = ip.To4()
	return uint32(ip[0])<<24 | uint32(ip[1])<<16 | uint32(ip[2])<<8 | uint32(ip[3])
}

func uint32ToIPv4(v uint32) net.IP {
	return net.IPv4(byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func listenPort(ln net.Listener) uint16 {
	if ln == nil {
		return 0
	}
	if addr, ok := ln.Addr().(*net.TCPAddr); ok {
		return uint16(addr.Port)
	}
	return 0
}

// activate transitions t to Active, stamps StartTransfer, and — for file
// transfers — spawns the worker process (spec §4.6.2, §4.7).
func (e *Engine) activate(t *Transfer) error {
	t.Status = Active
	t.StartTransfer = time.Now()
	t.LastActivity = t.StartTransfer
	if t.Kind.IsFile() {
		if err := e.spawnWorker(t); err != nil {
			e.closeTransfer(t, Failed)
			return err
		}
	}
	e.noteActive(t)
	return nil
}

// noteActive marks t as counted in the active gauge exactly once, so
// onEnded (teardown.go) can decrement it exactly once regardless of which
// path (activate, or connectRecv's ChatRecv branch below) brought the
// Transfer to Active.
func (e *Engine) noteActive(t *Transfer) {
	t.activeCountedInMetrics = true
	if e.metrics != nil {
		e.metrics.onActive(t)
	}
}

// xidFromTransfer is a tiny helper used by tests.
func xidFromTransfer(t *Transfer) xid.ID { return t.ID }
