package metrics

import "sync"

// Event counter names.
const (
	RegisterAccepted        = "register_accepted"
	RegisterRejectedFull    = "register_rejected_full"
	RegisterRejectedInvalid = "register_rejected_invalid"
	RegisterDropped         = "register_dropped"
	AuthnDenied             = "authn_webhook_denied"
	AuthnError              = "authn_webhook_error"
	DisconnectWebhookError  = "disconnect_webhook_error"
	MessageDecodeError      = "message_decode_error"
	MessageForwarded        = "message_forwarded"
	MessageDropped          = "message_dropped"
	MessageSendError        = "message_send_error"
	PongTimeout             = "pong_timeout"
	Disconnected            = "disconnected"
	RateLimited             = "rate_limited"
	BinaryFrameDropped      = "binary_frame_dropped"
)

// Gauge names.
const (
	Rooms       = "rooms"
	Connections = "connections"
)

// Metrics is a concurrency-safe registry of event counters and gauges.
type Metrics struct {
	mu       sync.Mutex
	counters map[string]uint64
	gauges   map[string]int64
}

func New() *Metrics {
	return &Metrics{
		counters: make(map[string]uint64),
		gauges:   make(map[string]int64),
	}
}

// Inc is a no-op on a nil receiver so components can run without metrics.
func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.counters[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[name]
}

func (m *Metrics) SetGauge(name string, v int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.gauges[name] = v
	m.mu.Unlock()
}

func (m *Metrics) Gauge(name string) int64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gauges[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.counters))
	for k, v := range m.counters {
		out[k] = v
	}
	return out
}

func (m *Metrics) GaugeSnapshot() map[string]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int64, len(m.gauges))
	for k, v := range m.gauges {
		out[k] = v
	}
	return out
}
