package socks5

import (
	"bytes"
	"testing"
)

func TestParseDatagramIPv4(t *testing.T) {
	pkt := []byte{0x00, 0x00, 0x00, 0x01, 8, 8, 8, 8, 0x00, 0x35, 0xDE, 0xAD}
	dst, hdr, payload, err := parseDatagram(pkt)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if dst != "8.8.8.8:53" {
		t.Fatalf("dst = %q, want 8.8.8.8:53", dst)
	}
	if !bytes.Equal(hdr, []byte{0x01, 8, 8, 8, 8, 0x00, 0x35}) {
		t.Fatalf("hdr = %x", hdr)
	}
	if !bytes.Equal(payload, []byte{0xDE, 0xAD}) {
		t.Fatalf("payload = %x", payload)
	}
}

func TestParseDatagramDomain(t *testing.T) {
	pkt := []byte{0x00, 0x00, 0x00, 0x03, 0x0B}
	pkt = append(pkt, []byte("example.com")...)
	pkt = append(pkt, 0x00, 0x50, 0x01)
	dst, hdr, payload, err := parseDatagram(pkt)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if dst != "example.com:80" {
		t.Fatalf("dst = %q, want example.com:80", dst)
	}
	wantHdr := append([]byte{0x03, 0x0B}, []byte("example.com")...)
	wantHdr = append(wantHdr, 0x00, 0x50)
	if !bytes.Equal(hdr, wantHdr) {
		t.Fatalf("hdr = %x, want %x", hdr, wantHdr)
	}
	if !bytes.Equal(payload, []byte{0x01}) {
		t.Fatalf("payload = %x", payload)
	}
}

func TestParseDatagramFragmentDropped(t *testing.T) {
	pkt := []byte{0x00, 0x00, 0x01, 0x01, 8, 8, 8, 8, 0x00, 0x35}
	if _, _, _, err := parseDatagram(pkt); err == nil {
		t.Fatalf("expected error for FRAG != 0")
	}
}

func TestParseDatagramTruncated(t *testing.T) {
	cases := [][]byte{
		{},
		{0x00, 0x00, 0x00},
		{0x00, 0x00, 0x00, 0x01, 8, 8},
		{0x00, 0x00, 0x00, 0x03, 0x05, 'a', 'b'},
		{0x00, 0x00, 0x00, 0x04, 1, 2, 3, 4},
	}
	for i, pkt := range cases {
		if _, _, _, err := parseDatagram(pkt); err == nil {
			t.Fatalf("case %d: expected error for truncated packet %x", i, pkt)
		}
	}
}

func TestParseDatagramUnknownAType(t *testing.T) {
	pkt := []byte{0x00, 0x00, 0x00, 0x09, 8, 8, 8, 8, 0x00, 0x35}
	if _, _, _, err := parseDatagram(pkt); err == nil {
		t.Fatalf("expected error for unknown ATYP")
	}
}

func TestBuildDatagramEchoesRequestHeader(t *testing.T) {
	reqHdr := []byte{0x01, 8, 8, 8, 8, 0x00, 0x35}
	payload := []byte("dns answer bytes")
	pkt := buildDatagram(reqHdr, payload)

	want := append([]byte{0x00, 0x00, 0x00}, reqHdr...)
	want = append(want, payload...)
	if !bytes.Equal(pkt, want) {
		t.Fatalf("pkt = %x, want %x", pkt, want)
	}
}

func TestDomainRequestHeaderEchoedInReply(t *testing.T) {
	// A Domain-ATYP request's reply must carry the original domain
	// encoding, not a re-derived IPv4 header.
	req := []byte{0x00, 0x00, 0x00, 0x03, 0x0B}
	req = append(req, []byte("example.com")...)
	req = append(req, 0x00, 0x35, 0xAA)

	_, hdr, _, err := parseDatagram(req)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	reply := buildDatagram(hdr, []byte{0xBB})
	if reply[3] != atypDomain {
		t.Fatalf("reply ATYP = %#02x, want domain", reply[3])
	}
	if !bytes.Equal(reply[3:len(reply)-1], req[3:len(req)-1]) {
		t.Fatalf("reply header not echoed verbatim:\ngot  %x\nwant %x", reply[3:len(reply)-1], req[3:len(req)-1])
	}
	if reply[len(reply)-1] != 0xBB {
		t.Fatalf("reply payload = %#02x", reply[len(reply)-1])
	}
}
