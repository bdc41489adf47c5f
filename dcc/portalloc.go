package dcc

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// bindListener implements the Port Allocator (spec §4.2): if a port range
// is configured, try each free port in turn (skipping ports already held
// by a non-ended Transfer); otherwise bind port 0 and let the kernel
// choose. Grounded on tcpqueue/server.go's net.Listen shape, generalized
// from "listen once on a fixed port" to "iterate a range, skip
// collisions, take the first bind that succeeds". The kernel-assigned
// port is read back afterwards by listenPort from ln.Addr().
func (r *Registry) bindListener(bindAddr, portRange string) (net.Listener, error) {
	if portRange == "" {
		ln, err := net.Listen("tcp", joinHostPort(bindAddr, "0"))
		if err != nil {
			return nil, newErr("bind-listener", ErrCannotBindAnyPort, err)
		}
		return ln, nil
	}

	lo, hi, err := parsePortRange(portRange)
	if err != nil {
		return nil, newErr("bind-listener", ErrCannotBindAnyPort, err)
	}
	for p := lo; p <= hi; p++ {
		if r.PortInUse(uint16(p)) {
			continue
		}
		ln, err := net.Listen("tcp", joinHostPort(bindAddr, strconv.Itoa(p)))
		if err == nil {
			return ln, nil
		}
	}
	return nil, newErr("bind-listener", ErrCannotBindAnyPort,
		fmt.Errorf("no free port in range %s", portRange))
}

func joinHostPort(bindAddr, port string) string {
	return net.JoinHostPort(bindAddr, port)
}

// parsePortRange parses spec §4.2/§6's dcc_port_range: "A-B" or a single
// port "A".
func parsePortRange(s string) (lo, hi int, err error) {
	parts := strings.SplitN(s, "-", 2)
	lo, err = strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, fmt.Errorf("dcc: bad port_range %q: %w", s, err)
	}
	if len(parts) == 1 {
		return lo, lo, nil
	}
	hi, err = strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, fmt.Errorf("dcc: bad port_range %q: %w", s, err)
	}
	return lo, hi, nil
}

// listenSend implements the send-side half of Connect/Listen (spec §4.5):
// bind via the Port Allocator, then transition ChatSend->Waiting or
// FileSend->Connecting. The listener is left in standard blocking mode;
// the Scheduler polls it for readiness with a zero-timeout select
// (scheduler.go) rather than relying on accept() blocking, so no
// non-blocking/listen/restore-blocking dance is needed in net's
// listener API (unlike the raw-socket original, net.Listener.Accept
// already returns promptly once the fd is marked non-blocking internally
// by the runtime; readiness is what we poll for).
func (e *Engine) listenSend(t *Transfer) error {
	ln, err := e.Registry.bindListener(e.Config.BindAddr(), e.Config.PortRange())
	if err != nil {
		return err
	}
	t.ListenSock = ln
	t.PeerPort = listenPort(ln)
	if t.Kind == ChatSend {
		t.Status = Waiting
	} else {
		t.Status = Connecting
	}
	return nil
}

// connectRecv implements the receive-side half of Connect/Listen (spec
// §4.5): optionally traverse a configured proxy, then dial the peer
// directly. Status transitions to Connecting before dialing and Active on
// success.
func (e *Engine) connectRecv(t *Transfer) error {
	t.Status = Connecting
	t.LastActivity = t.StartTime

	var conn net.Conn
	var err error
	if e.Config.ProxyUse() {
		conn, err = dialViaProxy(e.Config.ProxyAddress(), e.Config.ProxyPort(),
			uint32ToIPv4(t.PeerIPv4).String(), t.PeerPort, "")
		if err != nil {
			t.Status = Failed
			e.Sink.Error(t, "proxy connect failed: %v", err)
			return newErr("connect-recv", ErrProxyConnectFailed, err)
		}
	} else {
		addr := net.JoinHostPort(uint32ToIPv4(t.PeerIPv4).String(), strconv.Itoa(int(t.PeerPort)))
		conn, err = net.Dial("tcp", addr)
		if err != nil {
			t.Status = Failed
			e.Sink.Error(t, "connect failed: %v", err)
			return newErr("connect-recv", ErrCannotCreateSocket, err)
		}
	}

	t.DataSock = conn
	if t.Kind == ChatRecv {
		t.Status = Active
		t.StartTransfer = t.StartTime
		if e.AssociateChat != nil {
			ch, aerr := e.AssociateChat(t)
			if aerr != nil {
				e.Sink.Error(t, "chat association failed: %v", aerr)
				return newErr("connect-recv", ErrAssociationFailed, aerr)
			}
			t.ChatChannel = ch
		}
		e.noteActive(t)
		e.Sink.Redraw(t)
		return nil
	}

	// FileRecv: open the local file and activate the worker.
	f, ferr := openRecvFile(t)
	if ferr != nil {
		t.Status = Failed
		e.Sink.Error(t, "cannot open %q: %v", t.LocalFilename, ferr)
		return newErr("connect-recv", ErrCannotAccessFile, ferr)
	}
	t.File = f
	return e.activate(t)
}
