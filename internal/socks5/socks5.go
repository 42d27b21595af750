// Package socks5 implements the SOCKS5 TCP core: the no-auth
// greeting, CONNECT, and UDP ASSOCIATE handling. BIND and every auth method
// other than no-auth are out of scope and answered with the matching
// SOCKS5 error reply.
package socks5

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/bridgelab/relaybridge/internal/accounting"
	"github.com/bridgelab/relaybridge/internal/limiter"
	"github.com/bridgelab/relaybridge/internal/logx"
	"github.com/bridgelab/relaybridge/internal/netutil"
	"github.com/bridgelab/relaybridge/internal/registry"
	"github.com/bridgelab/relaybridge/internal/transport"
)

var log = logx.New(logx.WithPrefix("socks5"))

const (
	ver5 = 0x05

	cmdConnect = 0x01
	cmdBind    = 0x02
	cmdUDP     = 0x03

	atypIPv4   = 0x01
	atypDomain = 0x03
	atypIPv6   = 0x04

	methodNoAuth       = 0x00
	methodNoAcceptable = 0xFF

	repSucceeded           = 0x00
	repGeneralFailure      = 0x01
	repNotAllowed          = 0x02
	repNetworkUnreachable  = 0x03
	repHostUnreachable     = 0x04
	repConnectionRefused   = 0x05
	repTTLExpired          = 0x06
	repCommandNotSupported = 0x07
	repAddrTypeUnsupported = 0x08
)

var errBadATyp = errors.New("socks5: unsupported address type")

// Server handles SOCKS5 connections. IfaceDiscover supplies the BND.ADDR
// published in a UDP ASSOCIATE reply; a nil func falls back to
// 0.0.0.0.
type Server struct {
	Registry      *registry.Registry
	Accountant    *accounting.Accountant
	IfaceDiscover func() string

	// Limits, when non-nil, shapes relay throughput engine-wide.
	Limits *limiter.Pair

	DialTimeout time.Duration // default 10s

	// UDPRelayPort is the fixed port (tcp_port+1) the shared UDP relay
	// listens on; see udp.go. Zero disables UDP ASSOCIATE (reports
	// repGeneralFailure).
	UDPRelayPort int
	UDPRelay     *Relay
}

type request struct {
	cmd    byte
	target string
}

// HandleConn serves one accepted client connection to completion. It takes
// ownership of c.
func (s *Server) HandleConn(ctx context.Context, c net.Conn) {
	if s.Registry != nil {
		s.Registry.Track(c, true)
		defer s.Registry.Untrack(c)
	}

	if !s.greet(c) {
		_ = c.Close()
		return
	}

	req, ok := s.readRequest(c)
	if !ok {
		_ = c.Close()
		return
	}

	dialTimeout := s.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}

	switch req.cmd {
	case cmdConnect:
		s.handleConnect(ctx, c, req.target, dialTimeout)
	case cmdUDP:
		s.handleUDPAssociate(ctx, c, req.target)
	default: // cmdBind and anything else
		log.Debugf("unsupported cmd=%d from=%s", req.cmd, c.RemoteAddr())
		reply(c, repCommandNotSupported, nil)
		_ = c.Close()
	}
}

func (s *Server) greet(c net.Conn) bool {
	var g [2]byte
	if _, err := io.ReadFull(c, g[:]); err != nil || g[0] != ver5 {
		log.Debugf("bad greeting from=%s err=%v", c.RemoteAddr(), err)
		return false
	}
	nm := int(g[1])
	if nm <= 0 {
		return false
	}
	methods := make([]byte, nm)
	if _, err := io.ReadFull(c, methods); err != nil {
		return false
	}
	for _, m := range methods {
		if m == methodNoAuth {
			_, _ = c.Write([]byte{ver5, methodNoAuth})
			return true
		}
	}
	log.Debugf("no acceptable method from=%s offered=%v", c.RemoteAddr(), methods)
	_, _ = c.Write([]byte{ver5, methodNoAcceptable})
	return false
}

func (s *Server) readRequest(c net.Conn) (request, bool) {
	var h [4]byte
	if _, err := io.ReadFull(c, h[:]); err != nil || h[0] != ver5 {
		log.Debugf("bad request head from=%s err=%v", c.RemoteAddr(), err)
		return request{}, false
	}
	cmd, atyp := h[1], h[3]

	target, err := readAddr(c, atyp)
	if err != nil {
		if errors.Is(err, errBadATyp) {
			reply(c, repAddrTypeUnsupported, nil)
		} else {
			reply(c, repGeneralFailure, nil)
		}
		return request{}, false
	}
	return request{cmd: cmd, target: target}, true
}

func readAddr(c net.Conn, atyp byte) (string, error) {
	switch atyp {
	case atypIPv4:
		var ip [4]byte
		if _, err := io.ReadFull(c, ip[:]); err != nil {
			return "", err
		}
		return joinPort(c, net.IP(ip[:]).String())
	case atypDomain:
		var l [1]byte
		if _, err := io.ReadFull(c, l[:]); err != nil {
			return "", err
		}
		host := make([]byte, int(l[0]))
		if _, err := io.ReadFull(c, host); err != nil {
			return "", err
		}
		return joinPort(c, netutil.NormalizeHost(string(host)))
	case atypIPv6:
		var ip [16]byte
		if _, err := io.ReadFull(c, ip[:]); err != nil {
			return "", err
		}
		return joinPort(c, net.IP(ip[:]).String())
	default:
		return "", errBadATyp
	}
}

func joinPort(c net.Conn, host string) (string, error) {
	var p [2]byte
	if _, err := io.ReadFull(c, p[:]); err != nil {
		return "", err
	}
	port := int(binary.BigEndian.Uint16(p[:]))
	return net.JoinHostPort(host, strconv.Itoa(port)), nil
}

func (s *Server) handleConnect(ctx context.Context, c net.Conn, target string, dialTimeout time.Duration) {
	dialer := net.Dialer{Timeout: dialTimeout}
	dst, err := dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		log.Warnf("CONNECT dial %s: %v", target, err)
		reply(c, repConnectionRefused, nil)
		_ = c.Close()
		return
	}
	if s.Registry != nil {
		s.Registry.Track(dst, false)
		defer s.Registry.Untrack(dst)
	}

	reply(c, repSucceeded, &net.TCPAddr{IP: net.IPv4zero, Port: 0})
	transport.Splice(ctx, s.Limits.WrapDownload(ctx, c), s.Limits.WrapUpload(ctx, dst), s.Accountant)
}

func (s *Server) handleUDPAssociate(ctx context.Context, c net.Conn, firstTarget string) {
	if s.UDPRelay == nil || s.UDPRelayPort == 0 {
		log.Warnf("UDP ASSOCIATE requested but no relay configured")
		reply(c, repGeneralFailure, nil)
		_ = c.Close()
		return
	}

	bindIP := net.IPv4zero
	if s.IfaceDiscover != nil {
		if ip := net.ParseIP(s.IfaceDiscover()); ip != nil {
			bindIP = ip
		}
	}
	reply(c, repSucceeded, &net.TCPAddr{IP: bindIP, Port: s.UDPRelayPort})
	log.Debugf("UDP associate bind=%s:%d first=%s", bindIP, s.UDPRelayPort, firstTarget)

	// The control connection stays open for the lifetime of the
	// association; its close (by the client or on error) is this
	// session's only signal to tear down.
	clientTCPAddr, _ := c.RemoteAddr().(*net.TCPAddr)
	tmp := make([]byte, 1)
	for {
		if _, err := c.Read(tmp); err != nil {
			break
		}
	}
	if clientTCPAddr != nil {
		s.UDPRelay.CloseClient(&net.UDPAddr{IP: clientTCPAddr.IP, Port: clientTCPAddr.Port})
	}
	_ = c.Close()
}

func reply(c net.Conn, rep byte, bind *net.TCPAddr) {
	_ = c.SetWriteDeadline(time.Now().Add(3 * time.Second))
	if bind == nil {
		_, _ = c.Write([]byte{ver5, rep, 0x00, atypIPv4, 0, 0, 0, 0, 0, 0})
		return
	}
	ip4 := bind.IP.To4()
	atyp := byte(atypIPv4)
	addr := []byte(ip4)
	if ip4 == nil {
		atyp = atypIPv6
		addr = []byte(bind.IP.To16())
	}
	port := make([]byte, 2)
	binary.BigEndian.PutUint16(port, uint16(bind.Port))
	out := make([]byte, 0, 4+len(addr)+2)
	out = append(out, ver5, rep, 0x00, atyp)
	out = append(out, addr...)
	out = append(out, port...)
	_, _ = c.Write(out)
}
