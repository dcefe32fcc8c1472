package signaling

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/wilsonzlin/aero/proxy/ayame-signaling/internal/metrics"
)

type ConnectionState int

const (
	ConnectionStateAvailable ConnectionState = iota
	ConnectionStateDisconnected
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionStateAvailable:
		return "available"
	case ConnectionStateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

const inboxSize = 64

// Connection is a socket that completed registration into a room.
type Connection struct {
	id       ConnectionID
	clientID string
	room     *room
	socket   Socket
	hub      *Hub
	log      *slog.Logger
	monitor  *monitor

	inbox chan Message
	done  chan struct{}

	mu    sync.Mutex
	state ConnectionState
}

func newConnection(h *Hub, id ConnectionID, clientID string, s Socket, log *slog.Logger) *Connection {
	c := &Connection{
		id:       id,
		clientID: clientID,
		socket:   s,
		hub:      h,
		log:      log,
		inbox:    make(chan Message, inboxSize),
		done:     make(chan struct{}),
	}
	c.monitor = newMonitor(h.pingInterval, func() {
		c.Send(NewPing(), nil)
	}, func() {
		c.log.Warn("pong timeout", "err", ErrPongTimeout)
		c.hub.metrics.Inc(metrics.PongTimeout)
		c.Disconnect(ErrPongTimeout)
	})
	return c
}

func (c *Connection) ID() ConnectionID { return c.id }
func (c *Connection) ClientID() string { return c.clientID }
func (c *Connection) RoomID() string   { return c.room.id }

func (c *Connection) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsRegistered reports whether the connection is still bound in the Hub.
func (c *Connection) IsRegistered() bool {
	return c.hub.isBound(c)
}

// Destination returns the other member of the room, or nil when alone.
func (c *Connection) Destination() *Connection {
	return c.hub.destination(c)
}

func (c *Connection) start() {
	go c.run()
	c.monitor.Start()
}

// Handle queues msg for processing. Messages of one connection are handled in
// arrival order.
func (c *Connection) Handle(msg Message) {
	select {
	case c.inbox <- msg:
	case <-c.done:
		c.log.Debug("dropping message for disconnected connection", "type", msg.Type)
	}
}

func (c *Connection) run() {
	for {
		select {
		case msg := <-c.inbox:
			c.handle(msg)
		case <-c.done:
			return
		}
	}
}

func (c *Connection) handle(msg Message) {
	switch msg.Type {
	case MessageTypeRegister:
		c.log.Error("register from an already registered connection")
	case MessageTypeOffer, MessageTypeAnswer, MessageTypeCandidate:
		if !c.IsRegistered() {
			c.log.Error("cannot forward message", "type", msg.Type, "err", ErrRegistrationIncomplete)
			return
		}
		dest := c.Destination()
		if dest == nil {
			c.log.Debug("no peer in room, dropping message", "type", msg.Type)
			c.hub.metrics.Inc(metrics.MessageDropped)
			return
		}
		c.hub.Forward(msg, dest)
	case MessageTypePong:
		c.monitor.PongReceived()
	default:
		c.log.Error("unexpected message", "type", msg.Type, "err", ErrInvalidMessageType)
	}
}

// Send encodes msg and queues it on the socket. Write failures are logged and
// reported to done when it is non-nil.
func (c *Connection) Send(msg Message, done func(error)) {
	data, err := Encode(msg)
	if err != nil {
		c.log.Error("failed to encode message", "type", msg.Type, "err", err)
		if done != nil {
			done(err)
		}
		return
	}
	c.sendEncoded(msg.Type, data, done)
}

func (c *Connection) sendEncoded(t MessageType, data []byte, done func(error)) {
	logMessage(c.log, "send", t)
	c.socket.WriteText(data, func(err error) {
		if err != nil {
			c.log.Warn("failed to send message", "type", t, "err", err)
			c.hub.metrics.Inc(metrics.MessageSendError)
		}
		if done != nil {
			done(err)
		}
	})
}

// Disconnect tears the connection down. Only the first call has an effect; it
// is safe to call concurrently from the transport, the liveness monitor and
// Hub.Close.
func (c *Connection) Disconnect(reason error) {
	c.mu.Lock()
	if c.state == ConnectionStateDisconnected {
		c.mu.Unlock()
		return
	}
	c.state = ConnectionStateDisconnected
	c.mu.Unlock()
	close(c.done)

	c.log.Info("disconnecting", "reason", reason)
	c.hub.metrics.Inc(metrics.Disconnected)
	c.monitor.Stop()

	// unregister sends bye to a peer that is still bound before removing the
	// room.
	peer := c.hub.unregister(c)

	c.socket.WriteClose(func(err error) {
		if err != nil && !errors.Is(err, ErrSocketClosed) {
			c.log.Debug("failed to write close frame", "err", err)
		}
	})
	c.hub.notifyDisconnect(c)

	if peer != nil {
		peer.Disconnect(ErrPeerLeft)
	}
}

// logMessage records every frame except pong, which would dominate the debug log.
func logMessage(log *slog.Logger, direction string, t MessageType) {
	if t == MessageTypePong {
		return
	}
	log.Debug("signaling message", "direction", direction, "type", t)
}
