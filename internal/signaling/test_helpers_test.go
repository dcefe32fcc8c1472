package signaling

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wilsonzlin/aero/proxy/ayame-signaling/internal/webhook"
)

const testWait = 2 * time.Second

var socketSeq atomic.Int64

// fakeSocket records every frame written to it.
type fakeSocket struct {
	addr   string
	frames chan Message

	mu         sync.Mutex
	closed     bool
	closeCh    chan struct{}
	closeCalls int
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		addr:    fmt.Sprintf("192.0.2.1:%d", 40000+socketSeq.Add(1)),
		frames:  make(chan Message, 1024),
		closeCh: make(chan struct{}),
	}
}

func (s *fakeSocket) RemoteAddr() string { return s.addr }

func (s *fakeSocket) WriteText(data []byte, done func(error)) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		if done != nil {
			done(ErrSocketClosed)
		}
		return
	}
	msg, err := Decode(data)
	if err != nil {
		panic(fmt.Sprintf("server wrote undecodable frame %q: %v", data, err))
	}
	s.frames <- msg
	if done != nil {
		done(nil)
	}
}

func (s *fakeSocket) WriteClose(done func(error)) {
	s.mu.Lock()
	s.closeCalls++
	if !s.closed {
		s.closed = true
		close(s.closeCh)
	}
	s.mu.Unlock()
	if done != nil {
		done(nil)
	}
}

func (s *fakeSocket) next(t *testing.T) Message {
	t.Helper()
	select {
	case msg := <-s.frames:
		return msg
	case <-time.After(testWait):
		t.Fatalf("timed out waiting for frame on %s", s.addr)
		return Message{}
	}
}

// nextNonPing skips liveness probes.
func (s *fakeSocket) nextNonPing(t *testing.T) Message {
	t.Helper()
	for {
		msg := s.next(t)
		if msg.Type != MessageTypePing {
			return msg
		}
	}
}

// expectNoFrame fails if anything other than a ping arrives within d.
func (s *fakeSocket) expectNoFrame(t *testing.T, d time.Duration) {
	t.Helper()
	deadline := time.After(d)
	for {
		select {
		case msg := <-s.frames:
			if msg.Type == MessageTypePing {
				continue
			}
			t.Fatalf("unexpected frame on %s: %+v", s.addr, msg)
		case <-deadline:
			return
		}
	}
}

func (s *fakeSocket) waitClosed(t *testing.T) {
	t.Helper()
	select {
	case <-s.closeCh:
	case <-time.After(testWait):
		t.Fatalf("timed out waiting for close on %s", s.addr)
	}
}

func (s *fakeSocket) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeAuthn struct {
	mu   sync.Mutex
	resp webhook.AuthnResponse
	err  error
	reqs []webhook.AuthnRequest
}

func (a *fakeAuthn) Authenticate(ctx context.Context, req webhook.AuthnRequest) (webhook.AuthnResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reqs = append(a.reqs, req)
	return a.resp, a.err
}

func (a *fakeAuthn) set(resp webhook.AuthnResponse, err error) {
	a.mu.Lock()
	a.resp, a.err = resp, err
	a.mu.Unlock()
}

type fakeNotifier struct {
	reqs chan webhook.DisconnectRequest
	err  error
}

func (n *fakeNotifier) NotifyDisconnect(ctx context.Context, req webhook.DisconnectRequest) error {
	n.reqs <- req
	return n.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHub(t *testing.T, cfg HubConfig) *Hub {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = discardLogger()
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = time.Hour
	}
	h := NewHub(cfg)
	t.Cleanup(h.Close)
	return h
}

func registerFrame(roomID, clientID string) []byte {
	if clientID == "" {
		return []byte(fmt.Sprintf(`{"type":"register","roomId":%q}`, roomID))
	}
	return []byte(fmt.Sprintf(`{"type":"register","roomId":%q,"clientId":%q}`, roomID, clientID))
}

func mustRegister(t *testing.T, h *Hub, roomID string) *fakeSocket {
	t.Helper()
	s := newFakeSocket()
	h.HandleInbound(context.Background(), s, registerFrame(roomID, ""))
	msg := s.next(t)
	if msg.Type != MessageTypeAccept {
		t.Fatalf("register reply=%+v, want accept", msg)
	}
	return s
}
