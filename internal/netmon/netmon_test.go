package netmon

import (
	"fmt"
	"net"
	"sync"
	"testing"
	"time"
)

// fakeDialer flips between reachable and unreachable under test control.
type fakeDialer struct {
	mu        sync.Mutex
	reachable bool
}

func (f *fakeDialer) dial(network, addr string, timeout time.Duration) (net.Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.reachable {
		return nil, fmt.Errorf("dial %s %s: connection refused", network, addr)
	}
	a, b := net.Pipe()
	go b.Close()
	return a, nil
}

func (f *fakeDialer) set(reachable bool) {
	f.mu.Lock()
	f.reachable = reachable
	f.mu.Unlock()
}

func testMonitor(t *testing.T, d *fakeDialer) *Monitor {
	t.Helper()
	mon, err := New(&Config{
		ProbeAddr: "203.0.113.1:443",
		Interval:  5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	mon.dial = d.dial
	return mon
}

func waitForTransition(t *testing.T, ch <-chan Transition) Transition {
	t.Helper()
	select {
	case tr, ok := <-ch:
		if !ok {
			t.Fatal("transitions channel closed unexpectedly")
		}
		return tr
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for transition")
	}
	return Transition{}
}

func TestMonitorEmitsFlipsOnly(t *testing.T) {
	dialer := &fakeDialer{reachable: true}
	mon := testMonitor(t, dialer)
	if err := mon.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer mon.Stop()

	// First probe always reports, so consumers learn the starting state.
	tr := waitForTransition(t, mon.Transitions())
	if !tr.Satisfied {
		t.Errorf("initial transition satisfied = false, want true")
	}
	if tr.At.IsZero() {
		t.Error("transition has zero timestamp")
	}
	if !mon.Satisfied() {
		t.Error("Satisfied() = false after satisfied probe")
	}

	// Steady state is silent.
	select {
	case tr := <-mon.Transitions():
		t.Errorf("unexpected transition without a flip: %+v", tr)
	case <-time.After(50 * time.Millisecond):
	}

	// Losing the path emits an unsatisfied transition.
	dialer.set(false)
	tr = waitForTransition(t, mon.Transitions())
	if tr.Satisfied {
		t.Error("transition after path loss still satisfied")
	}
	if mon.Satisfied() {
		t.Error("Satisfied() = true after failed probe")
	}

	// And recovery flips back.
	dialer.set(true)
	tr = waitForTransition(t, mon.Transitions())
	if !tr.Satisfied {
		t.Error("transition after recovery not satisfied")
	}
}

func TestMonitorStartsUnreachable(t *testing.T) {
	dialer := &fakeDialer{reachable: false}
	mon := testMonitor(t, dialer)
	if err := mon.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer mon.Stop()

	tr := waitForTransition(t, mon.Transitions())
	if tr.Satisfied {
		t.Error("initial transition satisfied = true on unreachable path")
	}
}

func TestMonitorStop(t *testing.T) {
	mon := testMonitor(t, &fakeDialer{reachable: true})
	if err := mon.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := mon.Start(); err == nil {
		t.Error("second Start should fail while running")
	}

	mon.Stop()
	// Stop is idempotent.
	mon.Stop()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-mon.Transitions():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("transitions channel never closed after Stop")
		}
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Error("expected error for nil config")
	}
	if _, err := New(&Config{}); err == nil {
		t.Error("expected error for empty probe address")
	}
}
