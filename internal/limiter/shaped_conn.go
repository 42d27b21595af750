package limiter

import (
	"context"
	"net"

	"golang.org/x/time/rate"
)

// Pair holds the engine-wide shared shapers for the two relay
// directions. A nil *Pair disables shaping entirely.
type Pair struct {
	up   *rate.Limiter
	down *rate.Limiter
}

// NewPair builds a Pair from per-direction limits in bytes per second.
// Both zero (or negative) yields nil.
func NewPair(upBps, downBps int64) *Pair {
	if upBps <= 0 && downBps <= 0 {
		return nil
	}
	return &Pair{
		up:   MkShaper(upBps, upBps),
		down: MkShaper(downBps, downBps),
	}
}

// WrapUpload shapes writes on c with the shared upload limiter: wrap the
// outbound (target-facing) connection, whose writes carry client bytes
// toward the target.
func (p *Pair) WrapUpload(ctx context.Context, c net.Conn) net.Conn {
	if p == nil || p.up == nil {
		return c
	}
	return &shapedConn{Conn: c, ctx: ctx, shared: p.up}
}

// WrapDownload shapes writes on c with the shared download limiter: wrap
// the inbound (client-facing) connection, whose writes carry target bytes
// back to the client.
func (p *Pair) WrapDownload(ctx context.Context, c net.Conn) net.Conn {
	if p == nil || p.down == nil {
		return c
	}
	return &shapedConn{Conn: c, ctx: ctx, shared: p.down}
}

// shapedConn gates writes behind the shared limiter. Reads pass through:
// shaping one side's writes is enough, since every relayed byte is
// written exactly once in each direction.
type shapedConn struct {
	net.Conn
	ctx    context.Context
	per    *ByteLimiter
	shared *rate.Limiter
}

// CloseWrite forwards the half-close when the underlying transport
// supports it, so shaping doesn't cost relay sessions their EOF signal.
func (sc *shapedConn) CloseWrite() error {
	if cw, ok := sc.Conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return nil
}

func (sc *shapedConn) Write(b []byte) (int, error) {
	if err := WaitBeforeWrite(sc.ctx, len(b), sc.per, sc.shared); err != nil {
		return 0, err
	}
	return sc.Conn.Write(b)
}
