package netutil

import (
	"net"
	"testing"
)

func TestSplitHostPortDefault(t *testing.T) {
	cases := []struct {
		in       string
		def      int
		wantHost string
		wantPort int
	}{
		{"example.com:8080", 80, "example.com", 8080},
		{"example.com", 80, "example.com", 80},
		{"127.0.0.1:443", 80, "127.0.0.1", 443},
		{"[::1]:53", 80, "::1", 53},
	}
	for _, c := range cases {
		h, p := SplitHostPortDefault(c.in, c.def)
		if h != c.wantHost || p != c.wantPort {
			t.Fatalf("SplitHostPortDefault(%q) = (%q, %d), want (%q, %d)", c.in, h, p, c.wantHost, c.wantPort)
		}
	}
}

func TestNormalizeHost(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Example.COM", "example.com"},
		{"bücher.example", "xn--bcher-kva.example"},
		{"127.0.0.1", "127.0.0.1"},
		{"::1", "::1"},
		{"", ""},
	}
	for _, c := range cases {
		if got := NormalizeHost(c.in); got != c.want {
			t.Fatalf("NormalizeHost(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestRemoteIPFromAddr(t *testing.T) {
	tcp := &net.TCPAddr{IP: net.ParseIP("10.1.2.3"), Port: 9}
	if got := RemoteIPFromAddr(tcp); got != "10.1.2.3" {
		t.Fatalf("tcp addr ip = %q", got)
	}
	udp := &net.UDPAddr{IP: net.ParseIP("10.1.2.4"), Port: 9}
	if got := RemoteIPFromAddr(udp); got != "10.1.2.4" {
		t.Fatalf("udp addr ip = %q", got)
	}
	if got := RemoteIPFromAddr(nil); got != "" {
		t.Fatalf("nil addr = %q, want empty", got)
	}
}
