package bruteguard

import (
	"testing"
	"time"
)

// fakeClock lets tests step time without sleeping.
type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestGuard(cfg Config) (*Guard, *fakeClock) {
	g := New(cfg)
	clk := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	g.now = clk.now
	return g, clk
}

func TestAllowFreshAttempt(t *testing.T) {
	g, _ := newTestGuard(Config{})
	if ok, _ := g.Allow("10.0.0.1", "admin"); !ok {
		t.Fatalf("fresh attempt should be allowed")
	}
}

func TestBackoffAfterFailure(t *testing.T) {
	g, clk := newTestGuard(Config{BaseBackoff: 2 * time.Second})
	g.Fail("10.0.0.1", "admin")

	if ok, retry := g.Allow("10.0.0.1", "admin"); ok || retry <= 0 {
		t.Fatalf("expected backoff block, got ok=%v retry=%v", ok, retry)
	}

	clk.advance(3 * time.Second)
	if ok, _ := g.Allow("10.0.0.1", "admin"); !ok {
		t.Fatalf("expected allow after backoff expired")
	}
}

func TestBackoffDoubles(t *testing.T) {
	g, clk := newTestGuard(Config{BaseBackoff: time.Second, MaxBackoff: time.Minute})
	g.Fail("10.0.0.1", "admin")
	clk.advance(2 * time.Second) // past first backoff
	g.Fail("10.0.0.1", "admin")

	_, retry := g.Allow("10.0.0.1", "admin")
	if retry < 2*time.Second {
		t.Fatalf("second failure retry = %v, want >= 2s", retry)
	}
}

func TestCooldownAfterMaxFails(t *testing.T) {
	g, _ := newTestGuard(Config{MaxFails: 3, Cooldown: 10 * time.Minute, BaseBackoff: time.Millisecond})
	for i := 0; i < 3; i++ {
		g.Fail("10.0.0.1", "admin")
	}
	_, retry := g.Allow("10.0.0.1", "admin")
	if retry < 9*time.Minute {
		t.Fatalf("retry = %v, want ~cooldown", retry)
	}
}

func TestSuccessClearsUserKeys(t *testing.T) {
	g, clk := newTestGuard(Config{BaseBackoff: time.Minute})
	g.Fail("10.0.0.1", "admin")
	g.Success("10.0.0.1", "admin")

	// The user-scoped locks are gone; the bare-IP lock may persist, so
	// probe with a different source address.
	clk.advance(time.Millisecond)
	if ok, _ := g.Allow("10.0.0.2", "admin"); !ok {
		t.Fatalf("expected allow for cleared user from another ip")
	}
}

func TestWindowSoftResetsFailCount(t *testing.T) {
	g, clk := newTestGuard(Config{Window: time.Minute, MaxFails: 3, BaseBackoff: time.Second, Cooldown: time.Hour})
	g.Fail("10.0.0.1", "admin")
	g.Fail("10.0.0.1", "admin")

	clk.advance(2 * time.Minute) // outside the window; counts soft-reset
	g.Fail("10.0.0.1", "admin")

	// Three lifetime failures, but never three within the window: no
	// cooldown lock, only base backoff.
	_, retry := g.Allow("10.0.0.1", "admin")
	if retry > time.Minute {
		t.Fatalf("retry = %v, expected no cooldown lock", retry)
	}
}
