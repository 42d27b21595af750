// Package engine implements the proxy supervisor: it owns the
// listener lifecycle, dispatches accepted connections to the configured
// protocol handler, and runs the TCP forwarder as an independent peer.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bridgelab/relaybridge/config"
	"github.com/bridgelab/relaybridge/internal/accounting"
	"github.com/bridgelab/relaybridge/internal/forwarder"
	"github.com/bridgelab/relaybridge/internal/httpproxy"
	"github.com/bridgelab/relaybridge/internal/iface"
	"github.com/bridgelab/relaybridge/internal/limiter"
	"github.com/bridgelab/relaybridge/internal/logx"
	"github.com/bridgelab/relaybridge/internal/registry"
	"github.com/bridgelab/relaybridge/internal/socks5"
)

var log = logx.New(logx.WithPrefix("engine"))

// Engine owns one proxy supervisor instance: a TCP listener dispatching to
// SOCKS5 or HTTP, the matching UDP relay when SOCKS5 is selected, and the
// independent TCP forwarder when configured.
type Engine struct {
	Config *config.Config

	Registry   *registry.Registry
	Accountant *accounting.Accountant
	Limits     *limiter.Pair

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	tcpLn net.Listener

	obsMu     sync.Mutex
	observers []func(accounting.Snapshot)
}

// New constructs an Engine for cfg, wiring a fresh Registry and Accountant.
// reg is the Prometheus registerer the Accountant publishes to; nil skips
// metrics registration.
func New(cfg *config.Config, reg prometheus.Registerer) *Engine {
	e := &Engine{
		Config:     cfg,
		Registry:   registry.New(),
		Accountant: accounting.New(reg),
		Limits:     limiter.NewPair(cfg.Limits.UploadKbps*1000/8, cfg.Limits.DownloadKbps*1000/8),
	}
	e.Accountant.OnTick = e.publish
	return e
}

// Observe registers fn to run on every 1Hz accounting tick. Observers
// must not block; they run on the ticker goroutine.
func (e *Engine) Observe(fn func(accounting.Snapshot)) {
	e.obsMu.Lock()
	e.observers = append(e.observers, fn)
	e.obsMu.Unlock()
}

func (e *Engine) publish(s accounting.Snapshot) {
	e.obsMu.Lock()
	obs := make([]func(accounting.Snapshot), len(e.observers))
	copy(obs, e.observers)
	e.obsMu.Unlock()
	for _, fn := range obs {
		fn(s)
	}
}

// IsRunning reports whether Start has succeeded without a matching Stop.
func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Status is the engine state published to the admin API.
type Status struct {
	Running   bool                `json:"running"`
	ProxyType string              `json:"proxy_type"`
	IPAddress string              `json:"ip_address"`
	TCPPort   int                 `json:"tcp_port"`
	UDPPort   int                 `json:"udp_port"`
	Clients   int                 `json:"clients"`
	Traffic   accounting.Snapshot `json:"traffic"`
}

// Status snapshots the observable outputs in one call.
func (e *Engine) Status() Status {
	return Status{
		Running:   e.IsRunning(),
		ProxyType: string(e.Config.ProxyType),
		IPAddress: iface.Discover(),
		TCPPort:   e.Config.TCPPort,
		UDPPort:   e.Config.UDPPort,
		Clients:   e.Registry.InboundCount(),
		Traffic:   e.Accountant.Snapshot(),
	}
}

// Start binds the configured listener(s) and begins serving. It is
// idempotent: calling Start while already running is a no-op.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}

	// Rebuilt on every start so limit changes made through the config
	// apply from the next Start.
	e.Limits = limiter.NewPair(e.Config.Limits.UploadKbps*1000/8, e.Config.Limits.DownloadKbps*1000/8)

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	tcpLn, err := net.Listen("tcp", fmt.Sprintf(":%d", e.Config.TCPPort))
	if err != nil {
		cancel()
		e.mu.Unlock()
		return fmt.Errorf("engine: listen tcp :%d: %w", e.Config.TCPPort, err)
	}
	e.tcpLn = tcpLn
	e.running = true
	e.mu.Unlock()

	log.Infof("%s proxy listening on :%d", strings.ToUpper(string(e.Config.ProxyType)), e.Config.TCPPort)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.Accountant.Start(runCtx)
	}()

	var udpRelay *socks5.Relay
	if e.Config.ProxyType == config.ProxySOCKS5 {
		udpRelay = socks5.NewRelay(e.Accountant)
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := udpRelay.Start(runCtx, e.Config.UDPPort); err != nil {
				log.Errorf("udp relay :%d: %v", e.Config.UDPPort, err)
			}
		}()
		log.Infof("SOCKS5 UDP relay listening on :%d", e.Config.UDPPort)
	}

	dispatch := e.dispatcher(udpRelay)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.acceptLoop(runCtx, tcpLn, dispatch)
	}()

	if e.Config.ForwarderEnabled() {
		fwd := &forwarder.Forwarder{
			RemoteHost: e.Config.Forwarder.RemoteHost,
			RemotePort: e.Config.Forwarder.RemotePort,
			LocalPort:  e.Config.Forwarder.LocalPort,
			Registry:   e.Registry,
			Accountant: e.Accountant,
			Limits:     e.Limits,
		}
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := fwd.Start(runCtx); err != nil && !errors.Is(err, forwarder.ErrNotConfigured) {
				log.Errorf("forwarder: %v", err)
			}
		}()
	}

	return nil
}

func (e *Engine) dispatcher(udpRelay *socks5.Relay) func(ctx context.Context, c net.Conn) {
	switch e.Config.ProxyType {
	case config.ProxyHTTP:
		srv := &httpproxy.Server{Registry: e.Registry, Accountant: e.Accountant, Limits: e.Limits}
		return srv.HandleConn
	default: // ProxySOCKS5
		srv := &socks5.Server{
			Registry:      e.Registry,
			Accountant:    e.Accountant,
			IfaceDiscover: iface.Discover,
			Limits:        e.Limits,
			UDPRelayPort:  e.Config.UDPPort,
			UDPRelay:      udpRelay,
		}
		return srv.HandleConn
	}
}

func (e *Engine) acceptLoop(ctx context.Context, ln net.Listener, dispatch func(context.Context, net.Conn)) {
	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			log.Warnf("accept: %v", err)
			return
		}
		go dispatch(ctx, c)
	}
}

// Stop cancels the listener(s) and forwarder, drains the connection
// registry, stops the 1Hz ticker, and resets counters for the next Start.
// It blocks until everything has unwound.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	cancel := e.cancel
	ln := e.tcpLn
	e.running = false
	e.mu.Unlock()

	cancel()
	if ln != nil {
		_ = ln.Close()
	}

	done := make(chan struct{})
	go func() { e.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		log.Warnf("forcing shutdown after timeout")
	}

	e.Registry.CloseAll()
	e.Accountant.Reset()
}
