// Package iface implements local IPv4 discovery: finding the
// address of the host's preferred LAN interface so it can be published to
// the UI (e.g. as the BND.ADDR of a SOCKS5 UDP ASSOCIATE reply).
package iface

import (
	"strings"

	gnet "github.com/shirou/gopsutil/v3/net"

	stdnet "net"
)

// Sentinel is returned whenever no preferred interface can be found, or
// enumeration itself is unavailable. Discover never returns an error.
const Sentinel = "0.0.0.0"

// Discover returns the IPv4 address of the first interface, in enumeration
// order, whose name equals "en0" or begins with "bridge". It is
// non-blocking: interface enumeration failures are folded into Sentinel
// rather than surfaced as an error.
func Discover() string {
	ifaces, err := gnet.Interfaces()
	if err != nil {
		return Sentinel
	}
	return pick(ifaces)
}

func pick(ifaces []gnet.InterfaceStat) string {
	for _, inf := range ifaces {
		if inf.Name != "en0" && !strings.HasPrefix(inf.Name, "bridge") {
			continue
		}
		if ip := firstIPv4(inf.Addrs); ip != "" {
			return ip
		}
	}
	return Sentinel
}

func firstIPv4(addrs []gnet.InterfaceAddr) string {
	for _, a := range addrs {
		plain := a.Addr
		if i := strings.IndexByte(plain, '/'); i > 0 {
			plain = plain[:i]
		}
		ip := stdnet.ParseIP(plain)
		if ip != nil && ip.To4() != nil {
			return plain
		}
	}
	return ""
}
