// Package forwarder implements the TCP forwarder: a plain
// listen-dial-splice relay between a local port and one fixed remote
// host:port, with no protocol parsing on either side.
package forwarder

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/bridgelab/relaybridge/internal/accounting"
	"github.com/bridgelab/relaybridge/internal/limiter"
	"github.com/bridgelab/relaybridge/internal/logx"
	"github.com/bridgelab/relaybridge/internal/registry"
	"github.com/bridgelab/relaybridge/internal/transport"
)

// ErrNotConfigured is returned by Start when RemoteHost is empty.
var ErrNotConfigured = errors.New("forwarder: remote host not configured")

var log = logx.New(logx.WithPrefix("forwarder"))

// Forwarder relays every connection accepted on LocalPort to
// RemoteHost:RemotePort.
type Forwarder struct {
	RemoteHost string
	RemotePort int
	LocalPort  int

	Registry   *registry.Registry
	Accountant *accounting.Accountant

	// Limits, when non-nil, shapes forwarded throughput. Both legs use
	// the upload shaper, matching the single forwarded-bytes counter.
	Limits *limiter.Pair

	DialTimeout time.Duration // default 10s

	mu sync.Mutex
	ln net.Listener
	wg sync.WaitGroup
}

// Start binds LocalPort and begins accepting connections. It blocks until
// ctx is cancelled, then waits for in-flight sessions to unwind and returns
// nil. If the listener fails first, Start returns that error at once
// without waiting for in-flight sessions.
func (f *Forwarder) Start(ctx context.Context) error {
	if f.RemoteHost == "" {
		return ErrNotConfigured
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", f.LocalPort))
	if err != nil {
		return fmt.Errorf("forwarder: listen :%d: %w", f.LocalPort, err)
	}
	f.mu.Lock()
	f.ln = ln
	f.mu.Unlock()

	log.Infof("forwarding :%d -> %s:%d", f.LocalPort, f.RemoteHost, f.RemotePort)

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	dialTimeout := f.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}

	for {
		c, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				f.wg.Wait()
				return nil
			default:
				log.Warnf("accept: %v", err)
				return err
			}
		}
		f.wg.Add(1)
		go f.handle(ctx, c, dialTimeout)
	}
}

func (f *Forwarder) handle(ctx context.Context, c net.Conn, dialTimeout time.Duration) {
	defer f.wg.Done()

	if f.Registry != nil {
		f.Registry.Track(c, true)
		defer f.Registry.Untrack(c)
	}

	dialer := net.Dialer{Timeout: dialTimeout}
	target := fmt.Sprintf("%s:%d", f.RemoteHost, f.RemotePort)
	dst, err := dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		log.Warnf("dial %s: %v", target, err)
		_ = c.Close()
		return
	}
	if f.Registry != nil {
		f.Registry.Track(dst, false)
		defer f.Registry.Untrack(dst)
	}

	// The spec preserves a single forwarded-bytes counter for this
	// component rather than splitting it by direction, so both legs of the
	// splice record under the same tag.
	transport.SpliceSingleCounter(ctx, f.Limits.WrapUpload(ctx, c), f.Limits.WrapUpload(ctx, dst), f.Accountant, accounting.Upload)
}
