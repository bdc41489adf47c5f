package dcc

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// dialViaProxy implements the pass_proxy external collaborator (spec
// §4.5): connect to the configured proxy, then negotiate a CONNECT to the
// target, succeeding only if the proxy acknowledges.
//
// The wire shape — build one ASCII request line, send it, read one ASCII
// reply line, parse it with strings.Fields/fmt.Sscanf-style field
// validation — is grounded on proxyProto/server1.go's
// createPPV1Header/parsePPv1Header. The original HAProxy PROXY protocol
// is a *source*-announcement header sent by a client to a load balancer;
// here the same "single-line ASCII handshake" shape is adapted to a
// SOCKS4-style CONNECT request/reply, since spec §4.5 only specifies the
// pass_proxy contract (dial proxy, ask it to connect to target, succeed
// or fail), not a specific proxy wire protocol.
func dialViaProxy(proxyAddr string, proxyPort int, targetIP string, targetPort uint16, username string) (net.Conn, error) {
	addr := net.JoinHostPort(proxyAddr, strconv.Itoa(proxyPort))
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("dcc: proxy dial %s: %w", addr, err)
	}

	req := fmt.Sprintf("CONNECT %s %d %s\r\n", targetIP, targetPort, username)
	if _, err := conn.Write([]byte(req)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("dcc: proxy request: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	reply, err := bufio.NewReader(conn).ReadString('\n')
	conn.SetReadDeadline(time.Time{})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("dcc: proxy reply: %w", err)
	}
	reply = strings.TrimRight(reply, "\r\n")
	fields := strings.Fields(reply)
	if len(fields) == 0 || !strings.EqualFold(fields[0], "OK") {
		conn.Close()
		return nil, fmt.Errorf("dcc: proxy refused connect: %q", reply)
	}
	return conn, nil
}
