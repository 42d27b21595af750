// Package accounting implements the traffic accountant: a
// process-wide up/down byte counter pair with a 1Hz rate computation, and the
// one mutex the whole data plane shares.
package accounting

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Direction tags which counter a byte pump direction feeds.
type Direction int

const (
	Upload Direction = iota
	Download
)

// Snapshot is the observable state published once per second.
type Snapshot struct {
	UploadTotal   uint64  `json:"upload_total"`
	DownloadTotal uint64  `json:"download_total"`
	UploadMbps    float64 `json:"upload_mbps"`
	DownloadMbps  float64 `json:"download_mbps"`
}

// Accountant tracks cumulative and instantaneous traffic for one proxy-engine
// instance. The zero value is not usable; construct with New.
type Accountant struct {
	mu        sync.Mutex
	pendingUp int64
	pendingDn int64

	totalUp uint64 // atomic
	totalDn uint64 // atomic

	mbpsMu   sync.RWMutex
	upMbps   float64
	downMbps float64

	// OnTick, if set, is invoked after every 1Hz drain with the freshly
	// published snapshot. Upper layers (UI, metrics exporters) use this to
	// avoid polling. It must not block.
	OnTick func(Snapshot)

	upTotalGauge   prometheus.Gauge
	downTotalGauge prometheus.Gauge
	upRateGauge    prometheus.Gauge
	downRateGauge  prometheus.Gauge
}

// New constructs an Accountant and registers its gauges with reg. A nil
// registry skips Prometheus wiring entirely (useful in tests).
func New(reg prometheus.Registerer) *Accountant {
	a := &Accountant{
		upTotalGauge:   prometheus.NewGauge(prometheus.GaugeOpts{Name: "relaybridge_upload_bytes_total"}),
		downTotalGauge: prometheus.NewGauge(prometheus.GaugeOpts{Name: "relaybridge_download_bytes_total"}),
		upRateGauge:    prometheus.NewGauge(prometheus.GaugeOpts{Name: "relaybridge_upload_mbps"}),
		downRateGauge:  prometheus.NewGauge(prometheus.GaugeOpts{Name: "relaybridge_download_mbps"}),
	}
	if reg != nil {
		reg.MustRegister(a.upTotalGauge, a.downTotalGauge, a.upRateGauge, a.downRateGauge)
	}
	return a
}

// RecordUp adds n bytes to the pending upload delta. Safe to call from any
// data-plane goroutine; critical section is two integer additions at most.
func (a *Accountant) RecordUp(n int) {
	if n <= 0 {
		return
	}
	a.mu.Lock()
	a.pendingUp += int64(n)
	a.mu.Unlock()
}

// RecordDown adds n bytes to the pending download delta.
func (a *Accountant) RecordDown(n int) {
	if n <= 0 {
		return
	}
	a.mu.Lock()
	a.pendingDn += int64(n)
	a.mu.Unlock()
}

// Record routes n bytes to the counter named by dir; convenience for byte
// pumps that carry a direction tag rather than calling RecordUp/RecordDown
// directly.
func (a *Accountant) Record(dir Direction, n int) {
	if dir == Upload {
		a.RecordUp(n)
	} else {
		a.RecordDown(n)
	}
}

// Start runs the 1Hz drain-and-publish ticker until ctx is cancelled. The
// first tick fires one second after Start is called (engine-start phase).
// Run it in its own goroutine; it returns once ctx is done and the ticker is
// stopped.
func (a *Accountant) Start(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.tick()
		}
	}
}

func (a *Accountant) tick() {
	a.mu.Lock()
	upDelta := a.pendingUp
	dnDelta := a.pendingDn
	a.pendingUp = 0
	a.pendingDn = 0
	a.mu.Unlock()

	newUp := atomic.AddUint64(&a.totalUp, uint64(upDelta))
	newDn := atomic.AddUint64(&a.totalDn, uint64(dnDelta))

	// rate_mbps = delta_bytes * 8 / 1_000_000, computed from the drained
	// delta, not total-minus-last-total, so a Reset() zeroes rates cleanly.
	upMbps := float64(upDelta) * 8 / 1_000_000
	dnMbps := float64(dnDelta) * 8 / 1_000_000

	a.mbpsMu.Lock()
	a.upMbps = upMbps
	a.downMbps = dnMbps
	a.mbpsMu.Unlock()

	a.upTotalGauge.Set(float64(newUp))
	a.downTotalGauge.Set(float64(newDn))
	a.upRateGauge.Set(upMbps)
	a.downRateGauge.Set(dnMbps)

	if a.OnTick != nil {
		a.OnTick(Snapshot{
			UploadTotal:   newUp,
			DownloadTotal: newDn,
			UploadMbps:    upMbps,
			DownloadMbps:  dnMbps,
		})
	}
}

// Snapshot returns the last published totals and rates.
func (a *Accountant) Snapshot() Snapshot {
	a.mbpsMu.RLock()
	up, dn := a.upMbps, a.downMbps
	a.mbpsMu.RUnlock()
	return Snapshot{
		UploadTotal:   atomic.LoadUint64(&a.totalUp),
		DownloadTotal: atomic.LoadUint64(&a.totalDn),
		UploadMbps:    up,
		DownloadMbps:  dn,
	}
}

// Reset zeroes every counter and rate, for the next engine Start().
func (a *Accountant) Reset() {
	a.mu.Lock()
	a.pendingUp = 0
	a.pendingDn = 0
	a.mu.Unlock()

	atomic.StoreUint64(&a.totalUp, 0)
	atomic.StoreUint64(&a.totalDn, 0)

	a.mbpsMu.Lock()
	a.upMbps = 0
	a.downMbps = 0
	a.mbpsMu.Unlock()

	a.upTotalGauge.Set(0)
	a.downTotalGauge.Set(0)
	a.upRateGauge.Set(0)
	a.downRateGauge.Set(0)
}
