package signaling

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/ayame-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/ayame-signaling/internal/webhook"
)

// Authenticator gates registration. *webhook.Client implements it.
type Authenticator interface {
	Authenticate(ctx context.Context, req webhook.AuthnRequest) (webhook.AuthnResponse, error)
}

// DisconnectNotifier is told about every departed connection. *webhook.Client
// implements it.
type DisconnectNotifier interface {
	NotifyDisconnect(ctx context.Context, req webhook.DisconnectRequest) error
}

// Statistics is a snapshot of the Hub tables.
type Statistics struct {
	Rooms       int `json:"rooms"`
	Connections int `json:"connections"`
}

type HubConfig struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// Authn, when set, must allow every register before it is admitted.
	Authn Authenticator
	// Disconnect, when set, is notified in the background after teardown.
	Disconnect DisconnectNotifier

	// PingInterval is the liveness probe period. Zero means DefaultPingInterval.
	PingInterval time.Duration

	// ICEServers returns the servers advertised in accept when the authn
	// webhook did not supply any.
	ICEServers func(id ConnectionID) []webrtc.ICEServer

	// OnStatistics is called after registrations and disconnections. Calls
	// never overlap, and a snapshot older than one already delivered is
	// skipped.
	OnStatistics func(Statistics)
}

// Hub is the process wide registry of rooms and connections. All table
// mutations happen under mu, which is never held across network I/O; socket
// writes only enqueue.
type Hub struct {
	log          *slog.Logger
	metrics      *metrics.Metrics
	authn        Authenticator
	notifier     DisconnectNotifier
	pingInterval time.Duration
	iceServers   func(ConnectionID) []webrtc.ICEServer
	onStatistics func(Statistics)

	mu       sync.Mutex
	rooms    map[string]*room
	conns    map[Socket]*Connection
	closed   bool
	statsSeq uint64

	// publishMu orders statistics delivery. Snapshots carry the sequence
	// number taken under mu; one older than the last delivered is dropped.
	publishMu    sync.Mutex
	publishedSeq uint64

	background sync.WaitGroup
}

func NewHub(cfg HubConfig) *Hub {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	return &Hub{
		log:          cfg.Logger,
		metrics:      cfg.Metrics,
		authn:        cfg.Authn,
		notifier:     cfg.Disconnect,
		pingInterval: cfg.PingInterval,
		iceServers:   cfg.ICEServers,
		onStatistics: cfg.OnStatistics,
		rooms:        make(map[string]*room),
		conns:        make(map[Socket]*Connection),
	}
}

// HandleInbound processes one text frame received on s. Calls for the same
// socket must not overlap; the registration path may block on the authn
// webhook.
func (h *Hub) HandleInbound(ctx context.Context, s Socket, data []byte) {
	msg, err := Decode(data)
	if err != nil {
		h.log.Error("failed to decode message", "remote_addr", s.RemoteAddr(), "err", err)
		h.metrics.Inc(metrics.MessageDecodeError)
		return
	}

	if conn := h.connection(s); conn != nil {
		logMessage(conn.log, "recv", msg.Type)
		conn.Handle(msg)
		return
	}

	if msg.Type != MessageTypeRegister {
		h.log.Warn("message from unregistered socket", "remote_addr", s.RemoteAddr(), "type", msg.Type)
		h.metrics.Inc(metrics.RegisterRejectedInvalid)
		h.reply(s, NewReject(ReasonInvalid))
		return
	}
	h.register(ctx, s, msg)
}

// HandleDisconnect tears down the connection bound to s, if any.
func (h *Hub) HandleDisconnect(s Socket) {
	if conn := h.connection(s); conn != nil {
		conn.Disconnect(ErrSocketClosed)
	}
}

// Forward queues msg on to's socket unless to has already left. Messages
// forwarded to one connection keep their order.
func (h *Hub) Forward(msg Message, to *Connection) {
	data, err := Encode(msg)
	if err != nil {
		h.log.Error("failed to encode forwarded message", "type", msg.Type, "err", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[to.socket] != to {
		to.log.Debug("destination left, dropping message", "type", msg.Type)
		h.metrics.Inc(metrics.MessageDropped)
		return
	}
	to.sendEncoded(msg.Type, data, nil)
	h.metrics.Inc(metrics.MessageForwarded)
}

func (h *Hub) register(ctx context.Context, s Socket, msg Message) {
	log := h.log.With("room_id", msg.RoomID, "remote_addr", s.RemoteAddr())
	if msg.RoomID == "" {
		log.Error("cannot register", "err", ErrMissingRoomID)
		h.metrics.Inc(metrics.RegisterDropped)
		return
	}

	id := NewConnectionID()
	clientID := msg.ClientID
	if clientID == "" {
		clientID = id.String()
	}
	log = log.With("connection_id", id.String(), "client_id", clientID)

	var (
		iceServers []webrtc.ICEServer
		authz      json.RawMessage
	)
	if h.authn != nil {
		signalingKey := msg.SignalingKey
		if signalingKey == "" {
			signalingKey = msg.Key
		}
		resp, err := h.authn.Authenticate(ctx, webhook.AuthnRequest{
			RoomID:        msg.RoomID,
			ClientID:      clientID,
			SignalingKey:  signalingKey,
			AuthnMetadata: msg.AuthnMetadata,
			AyameClient:   msg.AyameClient,
			Libwebrtc:     msg.Libwebrtc,
			Environment:   msg.Environment,
		})
		if err != nil {
			log.Error("authn webhook failed", "err", err)
			h.metrics.Inc(metrics.AuthnError)
			h.reply(s, NewReject(ReasonInternalServerError))
			return
		}
		if !resp.Allowed {
			reason := resp.Reason
			if reason == "" {
				reason = ReasonInternalServerError
			}
			log.Info("authn webhook denied registration", "reason", reason)
			h.metrics.Inc(metrics.AuthnDenied)
			h.reply(s, NewReject(reason))
			return
		}
		iceServers = resp.ICEServers
		authz = resp.AuthzMetadata
	}
	if len(iceServers) == 0 && h.iceServers != nil {
		iceServers = h.iceServers(id)
	}

	conn := newConnection(h, id, clientID, s, log)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		log.Warn("hub closed, dropping register")
		h.metrics.Inc(metrics.RegisterDropped)
		return
	}
	if _, bound := h.conns[s]; bound {
		h.mu.Unlock()
		log.Error("socket already registered")
		h.metrics.Inc(metrics.RegisterDropped)
		return
	}

	var (
		rm          = h.rooms[msg.RoomID]
		existClient bool
	)
	switch {
	case rm != nil && rm.isFull():
		h.mu.Unlock()
		log.Info("room is full", "err", ErrRoomFull)
		h.metrics.Inc(metrics.RegisterRejectedFull)
		h.reply(s, NewReject(ReasonFull))
		return
	case rm != nil && rm.isRegistered():
		if rm.state != RoomStateWaitRegisterTwo {
			state := rm.state
			h.mu.Unlock()
			log.Warn("room is not waiting for a second participant", "room_state", state)
			h.metrics.Inc(metrics.RegisterDropped)
			return
		}
		rm.add(conn)
		rm.state = RoomStateRegisterTwo
		existClient = true
	default:
		if rm == nil {
			rm = newRoom(msg.RoomID)
			h.rooms[rm.id] = rm
		}
		rm.add(conn)
		rm.state = RoomStateRegisterOne
	}
	conn.room = rm
	h.conns[s] = conn

	// Queue accept before any forwarded message can reach this socket.
	conn.Send(NewAccept(existClient, iceServers, authz), nil)
	if existClient {
		rm.state = RoomStateWaitOfferTwo
	} else {
		rm.state = RoomStateWaitRegisterTwo
	}
	state := rm.state
	stats, seq := h.snapshotLocked()
	h.mu.Unlock()

	conn.start()
	log.Info("registered", "exist_client", existClient, "room_state", state)
	h.metrics.Inc(metrics.RegisterAccepted)
	h.publish(stats, seq)
}

// unregister removes c and its room from the tables. A peer still bound in
// the room is sent bye, unbound and returned so the caller can tear it down.
// Calling unregister for a connection that is no longer bound is a no-op.
func (h *Hub) unregister(c *Connection) *Connection {
	h.mu.Lock()
	if h.conns[c.socket] != c {
		h.mu.Unlock()
		return nil
	}
	delete(h.conns, c.socket)

	rm := c.room
	rm.remove(c)
	var peer *Connection
	if len(rm.members) > 0 {
		peer = rm.members[0]
		if h.conns[peer.socket] == peer {
			peer.Send(NewBye(), nil)
			delete(h.conns, peer.socket)
		}
		rm.members = nil
	}
	if h.rooms[rm.id] == rm {
		delete(h.rooms, rm.id)
	}
	rm.state = RoomStateClosed
	stats, seq := h.snapshotLocked()
	h.mu.Unlock()

	c.log.Info("unregistered")
	h.publish(stats, seq)
	return peer
}

func (h *Hub) notifyDisconnect(c *Connection) {
	if h.notifier == nil {
		return
	}
	req := webhook.DisconnectRequest{
		RoomID:       c.RoomID(),
		ClientID:     c.clientID,
		ConnectionID: c.id.String(),
	}
	h.background.Add(1)
	go func() {
		defer h.background.Done()
		if err := h.notifier.NotifyDisconnect(context.Background(), req); err != nil {
			c.log.Error("disconnect webhook failed", "err", err)
			h.metrics.Inc(metrics.DisconnectWebhookError)
		}
	}()
}

// Close disconnects every connection and waits for pending disconnect
// notifications. Registrations arriving afterwards are dropped.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*Connection, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.Disconnect(ErrServerShutdown)
	}
	h.background.Wait()
}

func (h *Hub) Statistics() Statistics {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.statisticsLocked()
}

// Room returns a snapshot of the room registered under id.
func (h *Hub) Room(id string) (RoomInfo, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rm, ok := h.rooms[id]
	if !ok {
		return RoomInfo{}, false
	}
	return rm.info(), true
}

// Bound reports whether s has completed registration.
func (h *Hub) Bound(s Socket) bool {
	return h.connection(s) != nil
}

func (h *Hub) statisticsLocked() Statistics {
	return Statistics{Rooms: len(h.rooms), Connections: len(h.conns)}
}

// snapshotLocked returns the current statistics with a sequence number that
// orders them against every other snapshot.
func (h *Hub) snapshotLocked() (Statistics, uint64) {
	h.statsSeq++
	return h.statisticsLocked(), h.statsSeq
}

func (h *Hub) publish(stats Statistics, seq uint64) {
	h.publishMu.Lock()
	defer h.publishMu.Unlock()
	if seq < h.publishedSeq {
		return
	}
	h.publishedSeq = seq

	h.metrics.SetGauge(metrics.Rooms, int64(stats.Rooms))
	h.metrics.SetGauge(metrics.Connections, int64(stats.Connections))
	if h.onStatistics != nil {
		h.onStatistics(stats)
	}
}

func (h *Hub) connection(s Socket) *Connection {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conns[s]
}

func (h *Hub) isBound(c *Connection) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conns[c.socket] == c
}

func (h *Hub) destination(c *Connection) *Connection {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[c.socket] != c {
		return nil
	}
	return c.room.other(c)
}

func (h *Hub) reply(s Socket, msg Message) {
	data, err := Encode(msg)
	if err != nil {
		h.log.Error("failed to encode reply", "type", msg.Type, "err", err)
		return
	}
	s.WriteText(data, func(err error) {
		if err != nil {
			h.log.Warn("failed to send reply", "type", msg.Type, "remote_addr", s.RemoteAddr(), "err", err)
			h.metrics.Inc(metrics.MessageSendError)
		}
	})
}
