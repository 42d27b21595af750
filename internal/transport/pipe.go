// Package transport implements the one-direction byte pump: the two-goroutine
// relay every protocol component (forwarder, HTTP proxy, SOCKS5) uses once a
// session has a client side and a target side wired up.
package transport

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/bridgelab/relaybridge/internal/accounting"
	"github.com/bridgelab/relaybridge/internal/netutil"
)

const bufSize = 65536

func enableTCPKeepalive(c net.Conn, period time.Duration) {
	if tc, ok := c.(*net.TCPConn); ok {
		_ = tc.SetKeepAlive(true)
		if period > 0 {
			_ = tc.SetKeepAlivePeriod(period)
		}
		_ = tc.SetNoDelay(true)
	}
}

// countingWriter records every successful Write to acct under dir before
// returning control to io.CopyBuffer.
type countingWriter struct {
	io.Writer
	acct *accounting.Accountant
	dir  accounting.Direction
}

func (w *countingWriter) Write(p []byte) (int, error) {
	n, err := w.Writer.Write(p)
	if n > 0 && w.acct != nil {
		w.acct.Record(w.dir, n)
	}
	return n, err
}

// Pump copies bytes from src to dst until src returns EOF or an error,
// recording every byte written to acct under dir. On return it half-closes
// dst's write side (if it supports CloseWrite) and nudges dst, so the pump
// reading dst on Splice's other direction wakes up.
func Pump(ctx context.Context, src io.Reader, dst net.Conn, acct *accounting.Accountant, dir accounting.Direction) {
	w := &countingWriter{Writer: dst, acct: acct, dir: dir}
	buf := make([]byte, bufSize)
	_, _ = io.CopyBuffer(w, src, buf)
	netutil.CloseWriteIfTCP(dst)
	netutil.Nudge(dst)
}

// Splice runs the two directions of a relay session between left and
// right: left->right is tagged accounting.Upload, right->left is tagged
// accounting.Download. It blocks until both directions finish (both peers
// reached EOF/error) or ctx is cancelled, then closes both connections.
func Splice(ctx context.Context, left, right net.Conn, acct *accounting.Accountant) {
	spliceDirs(ctx, left, right, acct, accounting.Upload, accounting.Download)
}

// SpliceSingleCounter runs the same relay as Splice but records both
// directions under dir, for components (the TCP forwarder) that expose one
// forwarded-bytes counter instead of separate upload/download counters.
func SpliceSingleCounter(ctx context.Context, left, right net.Conn, acct *accounting.Accountant, dir accounting.Direction) {
	spliceDirs(ctx, left, right, acct, dir, dir)
}

func spliceDirs(ctx context.Context, left, right net.Conn, acct *accounting.Accountant, leftToRight, rightToLeft accounting.Direction) {
	enableTCPKeepalive(left, 30*time.Second)
	enableTCPKeepalive(right, 30*time.Second)

	var wg sync.WaitGroup
	wg.Add(2)
	done := make(chan struct{})

	go func() {
		select {
		case <-ctx.Done():
			netutil.Nudge(left)
			netutil.Nudge(right)
			time.AfterFunc(200*time.Millisecond, func() {
				_ = left.Close()
				_ = right.Close()
			})
		case <-done:
		}
	}()

	go func() {
		defer wg.Done()
		Pump(ctx, left, right, acct, leftToRight)
	}()
	go func() {
		defer wg.Done()
		Pump(ctx, right, left, acct, rightToLeft)
	}()

	wg.Wait()
	close(done)
	_ = left.Close()
	_ = right.Close()
}
