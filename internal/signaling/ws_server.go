package signaling

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/wilsonzlin/aero/proxy/ayame-signaling/internal/metrics"
)

const (
	wsWriteWait = 5 * time.Second

	DefaultRegisterTimeout = 10 * time.Second
	DefaultMaxMessageBytes = int64(64 * 1024)
	DefaultSendQueueSize   = 256
)

type WebSocketConfig struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// CheckOrigin decides whether a browser Origin may open a socket. Nil
	// accepts every origin.
	CheckOrigin func(r *http.Request) bool

	// RegisterTimeout closes sockets that have not completed registration.
	RegisterTimeout time.Duration
	MaxMessageBytes int64
	// MaxMessagesPerSecond limits inbound frames per socket; zero disables
	// the limit.
	MaxMessagesPerSecond int
	SendQueueSize        int
}

// WebSocketServer accepts Ayame clients at the signaling endpoint and feeds
// their frames to a Hub.
type WebSocketServer struct {
	hub      *Hub
	cfg      WebSocketConfig
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func NewWebSocketServer(hub *Hub, cfg WebSocketConfig) *WebSocketServer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RegisterTimeout <= 0 {
		cfg.RegisterTimeout = DefaultRegisterTimeout
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = DefaultSendQueueSize
	}
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	return &WebSocketServer{
		hub: hub,
		cfg: cfg,
		log: cfg.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: checkOrigin,
		},
	}
}

func (s *WebSocketServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", "remote_addr", r.RemoteAddr, "err", err)
		return
	}
	sock := newWSSocket(conn, s.cfg.SendQueueSize)
	go sock.writePump()
	defer func() {
		s.hub.HandleDisconnect(sock)
		sock.WriteClose(nil)
		sock.wait(wsWriteWait)
		sock.shutdown()
	}()

	conn.SetReadLimit(s.cfg.MaxMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.RegisterTimeout))
	registered := false

	var limiter *rate.Limiter
	if s.cfg.MaxMessagesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.MaxMessagesPerSecond), s.cfg.MaxMessagesPerSecond)
	}
	ctx := r.Context()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			switch {
			case !registered && isTimeout(err):
				s.log.Info("closing socket that did not register in time", "remote_addr", sock.RemoteAddr())
				sock.closeWith(websocket.ClosePolicyViolation, "registration timeout")
			case errors.Is(err, websocket.ErrReadLimit):
				sock.closeWith(websocket.CloseMessageTooBig, "message too large")
			case websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
				s.log.Debug("websocket read failed", "remote_addr", sock.RemoteAddr(), "err", err)
			}
			return
		}
		if limiter != nil && !limiter.Allow() {
			s.log.Warn("signaling rate limit exceeded", "remote_addr", sock.RemoteAddr())
			s.cfg.Metrics.Inc(metrics.RateLimited)
			sock.closeWith(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
		if msgType != websocket.TextMessage {
			s.log.Error("dropping non-text frame", "remote_addr", sock.RemoteAddr(), "err", ErrInvalidJSON)
			s.cfg.Metrics.Inc(metrics.BinaryFrameDropped)
			continue
		}

		s.hub.HandleInbound(ctx, sock, data)

		if !registered && s.hub.Bound(sock) {
			registered = true
			_ = conn.SetReadDeadline(time.Time{})
		}
	}
}

type wsFrame struct {
	data  []byte
	close bool
	code  int
	text  string
	done  func(error)
}

// wsSocket adapts a gorilla connection to Socket. All writes go through a
// single writer goroutine so frames leave in the order they were queued.
type wsSocket struct {
	conn       *websocket.Conn
	remoteAddr string
	send       chan wsFrame

	closed    chan struct{}
	closeOnce sync.Once
	pumpDone  chan struct{}
}

func newWSSocket(conn *websocket.Conn, queueSize int) *wsSocket {
	return &wsSocket{
		conn:       conn,
		remoteAddr: conn.RemoteAddr().String(),
		send:       make(chan wsFrame, queueSize),
		closed:     make(chan struct{}),
		pumpDone:   make(chan struct{}),
	}
}

func (s *wsSocket) RemoteAddr() string { return s.remoteAddr }

func (s *wsSocket) WriteText(data []byte, done func(error)) {
	s.enqueue(wsFrame{data: data, done: done})
}

func (s *wsSocket) WriteClose(done func(error)) {
	s.enqueue(wsFrame{close: true, code: websocket.CloseNormalClosure, done: done})
}

func (s *wsSocket) closeWith(code int, text string) {
	s.enqueue(wsFrame{close: true, code: code, text: text})
}

func (s *wsSocket) enqueue(f wsFrame) {
	select {
	case <-s.closed:
		f.complete(ErrSocketClosed)
		return
	default:
	}
	select {
	case s.send <- f:
	case <-s.closed:
		f.complete(ErrSocketClosed)
	default:
		f.complete(ErrSendQueueFull)
	}
}

func (s *wsSocket) writePump() {
	defer close(s.pumpDone)
	defer s.shutdown()
	for {
		select {
		case f := <-s.send:
			if f.close {
				err := s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(f.code, f.text), time.Now().Add(wsWriteWait))
				f.complete(err)
				return
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			err := s.conn.WriteMessage(websocket.TextMessage, f.data)
			f.complete(err)
			if err != nil {
				return
			}
		case <-s.closed:
			return
		}
	}
}

// wait blocks until the writer has flushed a close frame or d elapses.
func (s *wsSocket) wait(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-s.pumpDone:
	case <-t.C:
	}
}

// shutdown releases the connection and fails every frame still queued.
func (s *wsSocket) shutdown() {
	s.closeOnce.Do(func() {
		close(s.closed)
		_ = s.conn.Close()
	})
	for {
		select {
		case f := <-s.send:
			f.complete(ErrSocketClosed)
		default:
			return
		}
	}
}

func (f wsFrame) complete(err error) {
	if f.done != nil {
		f.done(err)
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

var _ Socket = (*wsSocket)(nil)
