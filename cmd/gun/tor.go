package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/lightningnetwork/lnd/tor"
)

// defaultTorSOCKSAddr is the SOCKS5 port Tor's daemon listens on by
// default.
const defaultTorSOCKSAddr = "127.0.0.1:9050"

// isOnionHost reports whether host names a Tor hidden service, and that
// its service-id decodes to a v2 or v3 onion address length -- gun
// routes requests to such a host through the local Tor SOCKS proxy
// instead of attempting a DNS lookup, which .onion names never resolve
// through.
func isOnionHost(host string) bool {
	if !strings.HasSuffix(host, tor.OnionSuffix) {
		return false
	}
	serviceID := strings.TrimSuffix(host, tor.OnionSuffix)
	// lnd's onion base32 alphabet is lowercase.
	decoded, err := tor.Base32Encoding.DecodeString(strings.ToLower(serviceID))
	if err != nil {
		return false
	}
	switch len(decoded) {
	case tor.V2DecodedLen, tor.V3DecodedLen:
		return true
	default:
		return false
	}
}

// torTransport builds an http.RoundTripper that dials every connection
// through socksAddr using Tor's SOCKS5 proxy, for oracle and
// chain-backend requests whose host is a .onion service.
func torTransport(socksAddr string) http.RoundTripper {
	if socksAddr == "" {
		socksAddr = defaultTorSOCKSAddr
	}
	dialer := &socks5Dialer{proxyAddr: socksAddr}
	return &http.Transport{
		DialContext: dialer.DialContext,
	}
}

// socks5Dialer is a minimal client for the CONNECT subset of SOCKS5
// (RFC 1928) needed to reach a .onion address through Tor; gun pulls in
// no general-purpose SOCKS library since this is the only command it
// ever issues.
type socks5Dialer struct {
	proxyAddr string
}

func (d *socks5Dialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("split host/port: %w", err)
	}
	var port uint16
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return nil, fmt.Errorf("parse port %q: %w", portStr, err)
	}

	var d2 net.Dialer
	conn, err := d2.DialContext(ctx, "tcp", d.proxyAddr)
	if err != nil {
		return nil, fmt.Errorf("dial tor socks proxy %s: %w", d.proxyAddr, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(30 * time.Second))
	}

	// Greeting: version 5, one auth method, no authentication required.
	if _, err := conn.Write([]byte{0x05, 0x01, 0x00}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("socks greeting: %w", err)
	}
	reply := make([]byte, 2)
	if _, err := readFull(conn, reply); err != nil {
		conn.Close()
		return nil, fmt.Errorf("socks greeting reply: %w", err)
	}
	if reply[0] != 0x05 || reply[1] != 0x00 {
		conn.Close()
		return nil, fmt.Errorf("tor socks proxy rejected no-auth (method %d)", reply[1])
	}

	// CONNECT request, addressed by domain name so Tor itself resolves
	// .onion addresses -- this process never does.
	req := []byte{0x05, 0x01, 0x00, 0x03, byte(len(host))}
	req = append(req, []byte(host)...)
	var portBuf [2]byte
	binary.BigEndian.PutUint16(portBuf[:], port)
	req = append(req, portBuf[:]...)
	if _, err := conn.Write(req); err != nil {
		conn.Close()
		return nil, fmt.Errorf("socks connect request: %w", err)
	}

	head := make([]byte, 4)
	if _, err := readFull(conn, head); err != nil {
		conn.Close()
		return nil, fmt.Errorf("socks connect reply: %w", err)
	}
	if head[1] != 0x00 {
		conn.Close()
		return nil, fmt.Errorf("tor socks proxy refused connect, reply code %d", head[1])
	}

	var skip int
	switch head[3] {
	case 0x01: // IPv4
		skip = 4
	case 0x03: // domain name
		lenBuf := make([]byte, 1)
		if _, err := readFull(conn, lenBuf); err != nil {
			conn.Close()
			return nil, fmt.Errorf("socks connect reply domain length: %w", err)
		}
		skip = int(lenBuf[0])
	case 0x04: // IPv6
		skip = 16
	default:
		conn.Close()
		return nil, fmt.Errorf("unknown socks address type %d", head[3])
	}
	rest := make([]byte, skip+2) // bound address + port
	if _, err := readFull(conn, rest); err != nil {
		conn.Close()
		return nil, fmt.Errorf("socks connect reply bound address: %w", err)
	}

	conn.SetDeadline(time.Time{})
	return conn, nil
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
