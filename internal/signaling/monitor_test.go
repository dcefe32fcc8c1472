package signaling

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wilsonzlin/aero/proxy/ayame-signaling/internal/metrics"
)

func TestMonitor_TimesOutWithoutPong(t *testing.T) {
	var pings atomic.Int32
	timedOut := make(chan struct{})
	m := newMonitor(10*time.Millisecond, func() { pings.Add(1) }, func() { close(timedOut) })
	m.Start()

	select {
	case <-timedOut:
	case <-time.After(testWait):
		t.Fatalf("monitor did not time out")
	}
	if got := pings.Load(); got != 1 {
		t.Fatalf("pings=%d, want 1", got)
	}
}

func TestMonitor_PongKeepsPeerAlive(t *testing.T) {
	var m *monitor
	var pings atomic.Int32
	timedOut := make(chan struct{})
	m = newMonitor(5*time.Millisecond, func() {
		pings.Add(1)
		m.PongReceived()
	}, func() { close(timedOut) })
	m.Start()
	defer m.Stop()

	select {
	case <-timedOut:
		t.Fatalf("monitor timed out although every ping was answered")
	case <-time.After(100 * time.Millisecond):
	}
	if got := pings.Load(); got < 5 {
		t.Fatalf("pings=%d, want at least 5", got)
	}
}

func TestMonitor_StopPreventsTimeout(t *testing.T) {
	timedOut := make(chan struct{})
	m := newMonitor(5*time.Millisecond, func() {}, func() { close(timedOut) })
	m.Start()
	m.Stop()
	m.Stop()

	select {
	case <-timedOut:
		t.Fatalf("stopped monitor timed out")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMonitor_StopBeforeStart(t *testing.T) {
	var pings atomic.Int32
	m := newMonitor(5*time.Millisecond, func() { pings.Add(1) }, func() {})
	m.Stop()
	m.Start()
	time.Sleep(20 * time.Millisecond)
	if got := pings.Load(); got != 0 {
		t.Fatalf("pings=%d, want 0", got)
	}
}

func TestConnection_PongTimeoutDisconnects(t *testing.T) {
	m := metrics.New()
	h := newTestHub(t, HubConfig{PingInterval: 20 * time.Millisecond, Metrics: m})
	a := mustRegister(t, h, "room")
	b := mustRegister(t, h, "room")

	// b answers every ping, a never does.
	go func() {
		for {
			select {
			case msg := <-b.frames:
				if msg.Type == MessageTypePing {
					h.HandleInbound(context.Background(), b, []byte(`{"type":"pong"}`))
				}
				if msg.Type == MessageTypeBye {
					b.frames <- msg
					return
				}
			case <-b.closeCh:
				return
			}
		}
	}()

	a.waitClosed(t)
	b.waitClosed(t)
	if got := m.Get(metrics.PongTimeout); got < 1 {
		t.Fatalf("pong timeouts=%d, want >= 1", got)
	}
	if _, ok := h.Room("room"); ok {
		t.Fatalf("room survived pong timeout")
	}
}

func TestConnection_PongKeepsConnectionRegistered(t *testing.T) {
	h := newTestHub(t, HubConfig{PingInterval: 10 * time.Millisecond})
	a := mustRegister(t, h, "room")

	deadline := time.After(150 * time.Millisecond)
	pings := 0
	for {
		select {
		case msg := <-a.frames:
			if msg.Type != MessageTypePing {
				t.Fatalf("unexpected frame %+v", msg)
			}
			pings++
			h.HandleInbound(context.Background(), a, []byte(`{"type":"pong"}`))
			continue
		case <-deadline:
		}
		break
	}
	if a.isClosed() || !h.Bound(a) {
		t.Fatalf("answered connection was disconnected")
	}
	if pings < 3 {
		t.Fatalf("pings=%d, want at least 3", pings)
	}
}
