package httpproxy

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/bridgelab/relaybridge/internal/accounting"
	"github.com/bridgelab/relaybridge/internal/registry"
)

func serve(t *testing.T) net.Conn {
	t.Helper()
	srv := &Server{
		Registry:   registry.New(),
		Accountant: accounting.New(nil),
	}
	client, server := net.Pipe()
	go srv.HandleConn(context.Background(), server)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func readStatusLine(t *testing.T, c net.Conn) string {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
	line, err := bufio.NewReader(c).ReadString('\n')
	if err != nil {
		t.Fatalf("read status line: %v", err)
	}
	return strings.TrimRight(line, "\r\n")
}

func TestConnectTunnels(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		_, _ = io.Copy(c, c)
	}()

	c := serve(t)
	req := "CONNECT " + ln.Addr().String() + " HTTP/1.1\r\nHost: " + ln.Addr().String() + "\r\n\r\n"
	if _, err := c.Write([]byte(req)); err != nil {
		t.Fatalf("write: %v", err)
	}

	br := bufio.NewReader(c)
	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
	line, err := br.ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.HasPrefix(line, "HTTP/1.1 200") {
		t.Fatalf("status = %q, want 200", line)
	}
	// Skip the blank line ending the reply head.
	if _, err := br.ReadString('\n'); err != nil {
		t.Fatalf("read: %v", err)
	}

	payload := []byte("opaque tunnel bytes")
	if _, err := c.Write(payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	got := make([]byte, len(payload))
	if _, err := io.ReadFull(br, got); err != nil {
		t.Fatalf("echo: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("echoed = %q, want %q", got, payload)
	}
}

func TestConnectDialFailure502(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	target := ln.Addr().String()
	_ = ln.Close()

	c := serve(t)
	if _, err := c.Write([]byte("CONNECT " + target + " HTTP/1.1\r\n\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if line := readStatusLine(t, c); !strings.HasPrefix(line, "HTTP/1.1 502") {
		t.Fatalf("status = %q, want 502", line)
	}
}

func TestPlainForwardSendsOriginalRequest(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	received := make(chan string, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		br := bufio.NewReader(c)
		var b strings.Builder
		for {
			line, err := br.ReadString('\n')
			if err != nil {
				return
			}
			b.WriteString(line)
			if line == "\r\n" {
				break
			}
		}
		received <- b.String()
		_, _ = io.WriteString(c, "HTTP/1.1 204 No Content\r\nContent-Length: 0\r\n\r\n")
	}()

	c := serve(t)
	// Headers deliberately out of alphabetical order, with a duplicate
	// and mixed casing: the upstream must see the head exactly as sent.
	req := "GET /path HTTP/1.1\r\n" +
		"x-zebra: last\r\n" +
		"Host: " + ln.Addr().String() + "\r\n" +
		"X-Probe: 1\r\n" +
		"X-Probe: 2\r\n" +
		"aCCept: */*\r\n" +
		"\r\n"
	if _, err := c.Write([]byte(req)); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case head := <-received:
		if head != req {
			t.Fatalf("upstream head not verbatim:\ngot  %q\nwant %q", head, req)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("upstream never got the request")
	}

	if line := readStatusLine(t, c); !strings.HasPrefix(line, "HTTP/1.1 204") {
		t.Fatalf("status = %q, want 204 relayed back", line)
	}
}

func TestMissingHost400(t *testing.T) {
	c := serve(t)
	if _, err := c.Write([]byte("GET / HTTP/1.1\r\n\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if line := readStatusLine(t, c); !strings.HasPrefix(line, "HTTP/1.1 400") {
		t.Fatalf("status = %q, want 400", line)
	}
}

func TestMalformedRequestLine400(t *testing.T) {
	c := serve(t)
	if _, err := c.Write([]byte("NONSENSE\r\n\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if line := readStatusLine(t, c); !strings.HasPrefix(line, "HTTP/1.1 400") {
		t.Fatalf("status = %q, want 400", line)
	}
}
