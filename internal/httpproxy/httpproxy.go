// Package httpproxy implements the HTTP proxy: CONNECT
// tunneling and plain absolute-form/Host-header forwarding, with no
// authentication, policy, or upstream chaining.
package httpproxy

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bridgelab/relaybridge/internal/accounting"
	"github.com/bridgelab/relaybridge/internal/limiter"
	"github.com/bridgelab/relaybridge/internal/logx"
	"github.com/bridgelab/relaybridge/internal/netutil"
	"github.com/bridgelab/relaybridge/internal/registry"
	"github.com/bridgelab/relaybridge/internal/transport"
)

var log = logx.New(logx.WithPrefix("httpproxy"))

// maxHeadBytes bounds the request line + headers this server will buffer
// before giving up and replying 400.
const maxHeadBytes = 8192

// Server handles both CONNECT tunnels and plain HTTP forwarding on the
// same listener.
type Server struct {
	Registry   *registry.Registry
	Accountant *accounting.Accountant

	// Limits, when non-nil, shapes relay throughput engine-wide.
	Limits *limiter.Pair

	DialTimeout time.Duration // default 10s
}

type header map[string]string

func (h header) Get(k string) string { return h[strings.ToLower(k)] }

// HandleConn serves one accepted client connection until the session ends.
// It takes ownership of c and always closes it (directly, or via the
// splice it starts).
func (s *Server) HandleConn(ctx context.Context, c net.Conn) {
	if s.Registry != nil {
		s.Registry.Track(c, true)
		defer s.Registry.Untrack(c)
	}

	// The request head is kept as raw bytes alongside the parsed form:
	// the plain-forward path must re-emit it upstream unchanged, byte for
	// byte, so it is never reconstructed from the parse.
	br := bufio.NewReaderSize(&limitedReader{r: c, max: maxHeadBytes}, maxHeadBytes)
	var rawHead bytes.Buffer
	reqLine, err := br.ReadString('\n')
	if err != nil {
		if err == io.ErrUnexpectedEOF {
			// The request line alone ran past maxHeadBytes.
			writeAndClose(c, http.StatusBadRequest, "Bad Request", "request head too large")
			return
		}
		_ = c.Close()
		return
	}
	rawHead.WriteString(reqLine)
	method, reqURI, proto, ok := parseRequestLine(reqLine)
	if !ok {
		writeAndClose(c, http.StatusBadRequest, "Bad Request", "invalid request line")
		return
	}
	hdrs, err := readHeaders(br, &rawHead)
	if err != nil {
		writeAndClose(c, http.StatusBadRequest, "Bad Request", "invalid headers")
		return
	}

	log.Debugf("%s %s %s from=%s", method, reqURI, proto, c.RemoteAddr())

	dialTimeout := s.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}

	if strings.EqualFold(method, "CONNECT") {
		s.handleConnect(ctx, c, reqURI, dialTimeout)
		return
	}
	s.handleForward(ctx, c, reqURI, hdrs, rawHead.Bytes(), br, dialTimeout)
}

func (s *Server) handleConnect(ctx context.Context, c net.Conn, reqURI string, dialTimeout time.Duration) {
	host, port := netutil.SplitHostPortDefault(reqURI, 443)
	if host == "" || port <= 0 || port > 65535 {
		writeAndClose(c, http.StatusBadRequest, "Bad Request", "invalid CONNECT host")
		return
	}
	target := net.JoinHostPort(netutil.NormalizeHost(host), strconv.Itoa(port))

	dialer := net.Dialer{Timeout: dialTimeout}
	dst, err := dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		log.Warnf("CONNECT dial %s: %v", target, err)
		writeAndClose(c, http.StatusBadGateway, "Bad Gateway", "dial target error")
		return
	}
	if s.Registry != nil {
		s.Registry.Track(dst, false)
		defer s.Registry.Untrack(dst)
	}

	if _, err := io.WriteString(c, "HTTP/1.1 200 Connection Established\r\n\r\n"); err != nil {
		_ = dst.Close()
		_ = c.Close()
		return
	}
	transport.Splice(ctx, s.Limits.WrapDownload(ctx, c), s.Limits.WrapUpload(ctx, dst), s.Accountant)
}

func (s *Server) handleForward(ctx context.Context, c net.Conn, reqURI string, hdrs header, rawHead []byte, br *bufio.Reader, dialTimeout time.Duration) {
	// The parse only picks the dial target; the bytes sent upstream are
	// rawHead, untouched.
	u, err := url.Parse(reqURI)
	var host string
	var port int
	if err == nil && u.Scheme != "" && u.Host != "" {
		host, port = netutil.SplitHostPortDefault(u.Host, 80)
	} else {
		h := hdrs.Get("host")
		if h == "" {
			writeAndClose(c, http.StatusBadRequest, "Bad Request", "missing Host")
			return
		}
		host, port = netutil.SplitHostPortDefault(h, 80)
	}
	if host == "" || port <= 0 || port > 65535 {
		writeAndClose(c, http.StatusBadRequest, "Bad Request", "invalid target host")
		return
	}
	target := net.JoinHostPort(netutil.NormalizeHost(host), strconv.Itoa(port))

	dialer := net.Dialer{Timeout: dialTimeout}
	dst, err := dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		log.Warnf("forward dial %s: %v", target, err)
		writeAndClose(c, http.StatusBadGateway, "Bad Gateway", "dial target error")
		return
	}
	if s.Registry != nil {
		s.Registry.Track(dst, false)
		defer s.Registry.Untrack(dst)
	}

	if err := forwardRawRequest(dst, rawHead, br); err != nil {
		_ = dst.Close()
		_ = c.Close()
		return
	}
	transport.Splice(ctx, s.Limits.WrapDownload(ctx, c), s.Limits.WrapUpload(ctx, dst), s.Accountant)
}

// forwardRawRequest replays the original request bytes upstream: the head
// exactly as the client sent it, then whatever body bytes were already
// buffered behind it.
func forwardRawRequest(dst net.Conn, rawHead []byte, br *bufio.Reader) error {
	if _, err := dst.Write(rawHead); err != nil {
		return err
	}
	if n := br.Buffered(); n > 0 {
		if _, err := io.CopyN(dst, br, int64(n)); err != nil {
			return err
		}
	}
	return nil
}

// readHeaders parses header lines for target selection while appending
// every line to raw byte for byte, blank terminator included.
func readHeaders(br *bufio.Reader, raw *bytes.Buffer) (header, error) {
	h := make(header)
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, err
		}
		raw.WriteString(line)
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			return h, nil
		}
		if i := strings.IndexByte(line, ':'); i > 0 {
			k := strings.ToLower(strings.TrimSpace(line[:i]))
			v := strings.TrimSpace(line[i+1:])
			h[k] = v
		}
	}
}

func parseRequestLine(s string) (method, reqURI, proto string, ok bool) {
	parts := strings.SplitN(strings.TrimSpace(s), " ", 3)
	if len(parts) != 3 {
		return
	}
	method, reqURI, proto = parts[0], parts[1], parts[2]
	if method == "" || reqURI == "" || !strings.HasPrefix(strings.ToUpper(proto), "HTTP/") {
		return "", "", "", false
	}
	return method, reqURI, proto, true
}

// writeAndClose sends an empty-bodied status reply and closes c; reason is
// only logged.
func writeAndClose(c net.Conn, code int, text, reason string) {
	log.Debugf("reply %d from=%s: %s", code, c.RemoteAddr(), reason)
	_ = c.SetWriteDeadline(time.Now().Add(3 * time.Second))
	_, _ = fmt.Fprintf(c, "HTTP/1.1 %d %s\r\nContent-Length: 0\r\n\r\n", code, text)
	_ = c.Close()
}

// limitedReader caps the number of bytes readable from r before returning
// io.ErrUnexpectedEOF, enforcing maxHeadBytes on the request head without
// touching the connection once body bytes start flowing (those are read
// directly by io.CopyN against the buffered reader afterward).
type limitedReader struct {
	r   io.Reader
	max int
	n   int
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.n >= l.max {
		return 0, io.ErrUnexpectedEOF
	}
	if len(p) > l.max-l.n {
		p = p[:l.max-l.n]
	}
	n, err := l.r.Read(p)
	l.n += n
	return n, err
}
