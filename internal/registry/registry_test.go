package registry

import (
	"net"
	"testing"
)

func TestTrackUntrack(t *testing.T) {
	r := New()
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	r.Track(a, true)
	r.Track(b, false)

	if got := r.InboundCount(); got != 1 {
		t.Fatalf("InboundCount() = %d, want 1", got)
	}
	if got := r.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2", got)
	}

	r.Untrack(a)
	if got := r.InboundCount(); got != 0 {
		t.Fatalf("InboundCount() after untrack = %d, want 0", got)
	}
	if got := r.Len(); got != 1 {
		t.Fatalf("Len() after untrack = %d, want 1", got)
	}
}

func TestUntrackUnknownConnIsNoop(t *testing.T) {
	r := New()
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	r.Untrack(a) // never tracked
	if got := r.Len(); got != 0 {
		t.Fatalf("Len() = %d, want 0", got)
	}
}

func TestCloseAllClosesAndEmpties(t *testing.T) {
	r := New()
	a1, a2 := net.Pipe()
	b1, b2 := net.Pipe()
	defer a2.Close()
	defer b2.Close()

	r.Track(a1, true)
	r.Track(b1, false)

	r.CloseAll()

	if got := r.Len(); got != 0 {
		t.Fatalf("Len() after CloseAll = %d, want 0", got)
	}

	buf := make([]byte, 1)
	if _, err := a1.Read(buf); err == nil {
		t.Fatal("expected a1 to be closed")
	}
	if _, err := b1.Read(buf); err == nil {
		t.Fatal("expected b1 to be closed")
	}
}

func TestCloseAllThenUntrackDoesNotPanic(t *testing.T) {
	r := New()
	a, b := net.Pipe()
	defer b.Close()
	r.Track(a, true)
	r.CloseAll()
	r.Untrack(a) // a no longer in the map; must not panic
}
