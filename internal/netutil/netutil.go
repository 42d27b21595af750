// Package netutil holds the small address/connection helpers shared by the
// forwarder, HTTP proxy and SOCKS5 components.
package netutil

import (
	"net"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/idna"
)

// SplitHostPortDefault parses "host:port", falling back to def when no port
// is present.
func SplitHostPortDefault(hostport string, def int) (host string, port int) {
	if strings.Contains(hostport, ":") {
		h, pStr, err := net.SplitHostPort(hostport)
		if err == nil {
			if n, e := strconv.Atoi(pStr); e == nil {
				return h, n
			}
		}
	}
	return hostport, def
}

// NormalizeHost lowercases host and converts internationalized domain
// names to their ASCII (punycode) form so they resolve the same way
// regardless of how the client encoded them. IP literals and hosts that
// fail IDNA mapping pass through unchanged.
func NormalizeHost(host string) string {
	if host == "" || net.ParseIP(host) != nil {
		return host
	}
	ascii, err := idna.Lookup.ToASCII(strings.ToLower(host))
	if err != nil {
		return host
	}
	return ascii
}

// CloseWriteIfTCP half-closes the write side of a TCP connection, letting
// the peer observe EOF while reads on this side keep working.
func CloseWriteIfTCP(c net.Conn) {
	if cw, ok := c.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
	}
}

// Nudge forces any in-flight blocking Read/Write on c to return immediately,
// used to wake pump goroutines on cancellation.
func Nudge(c net.Conn) {
	now := time.Now()
	_ = c.SetReadDeadline(now)
	_ = c.SetWriteDeadline(now)
}

// RemoteIPFromAddr extracts the bare IP from a net.Addr, independent of
// whether it's a TCPAddr, UDPAddr, or something else.
func RemoteIPFromAddr(a net.Addr) string {
	if a == nil {
		return ""
	}
	switch v := a.(type) {
	case *net.TCPAddr:
		return v.IP.String()
	case *net.UDPAddr:
		return v.IP.String()
	default:
		if ap, err := netip.ParseAddrPort(a.String()); err == nil {
			return ap.Addr().String()
		}
		if ad, err := netip.ParseAddr(a.String()); err == nil {
			return ad.String()
		}
		s := a.String()
		s = strings.TrimPrefix(s, "[")
		if i := strings.IndexByte(s, ']'); i >= 0 {
			return s[:i]
		}
		if i := strings.LastIndexByte(s, ':'); i > 0 {
			return s[:i]
		}
		return s
	}
}
