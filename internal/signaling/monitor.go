package signaling

import (
	"sync"
	"sync/atomic"
	"time"
)

const DefaultPingInterval = 5 * time.Second

// monitor probes a peer with ping messages. A step that finds no pong since the
// previous step fires onTimeout once and stops.
type monitor struct {
	interval  time.Duration
	ping      func()
	onTimeout func()

	pong     atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
}

func newMonitor(interval time.Duration, ping, onTimeout func()) *monitor {
	if interval <= 0 {
		interval = DefaultPingInterval
	}
	return &monitor{
		interval:  interval,
		ping:      ping,
		onTimeout: onTimeout,
		stopCh:    make(chan struct{}),
	}
}

func (m *monitor) Start() {
	select {
	case <-m.stopCh:
		return
	default:
	}
	m.pong.Store(true)
	go m.run()
}

// Stop is idempotent and may be called from onTimeout.
func (m *monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

func (m *monitor) PongReceived() {
	m.pong.Store(true)
}

func (m *monitor) run() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		default:
		}

		if !m.pong.Swap(false) {
			m.Stop()
			m.onTimeout()
			return
		}
		m.ping()

		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
		}
	}
}
