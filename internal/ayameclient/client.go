// Package ayameclient is a minimal Ayame signaling client used by the probe
// CLI and by end-to-end tests.
package ayameclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/ayame-signaling/internal/signaling"
)

const (
	dialTimeout  = 10 * time.Second
	writeTimeout = 5 * time.Second

	// AyameClientName is sent as ayameClient in register messages.
	AyameClientName = "aero-ayame-probe"
)

var ErrClosed = errors.New("ayameclient: connection closed")

// RejectedError is returned by Register when the server answers with reject.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("ayameclient: registration rejected: %s", e.Reason)
}

type Options struct {
	Header http.Header
	Logger *slog.Logger
	// MaxMessageBytes caps inbound frames; zero leaves gorilla's default.
	MaxMessageBytes int64
}

type Registration struct {
	RoomID        string
	ClientID      string
	SignalingKey  string
	AuthnMetadata json.RawMessage
	Environment   string
}

// Client owns one signaling WebSocket. Pings are answered automatically and
// never surface from Recv.
type Client struct {
	conn *websocket.Conn
	log  *slog.Logger

	writeMu sync.Mutex

	incoming chan signaling.Message
	done     chan struct{}

	errMu sync.Mutex
	err   error

	closeOnce sync.Once
}

func Dial(ctx context.Context, url string, opts Options) (*Client, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}

	conn, resp, err := dialer.DialContext(ctx, url, opts.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	if opts.MaxMessageBytes > 0 {
		conn.SetReadLimit(opts.MaxMessageBytes)
	}

	c := &Client{
		conn:     conn,
		log:      opts.Logger.With("url", url),
		incoming: make(chan signaling.Message, 64),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Register sends register and waits for accept or reject.
func (c *Client) Register(ctx context.Context, reg Registration) (signaling.Message, error) {
	err := c.Send(signaling.Message{
		Type:          signaling.MessageTypeRegister,
		RoomID:        reg.RoomID,
		ClientID:      reg.ClientID,
		SignalingKey:  reg.SignalingKey,
		AuthnMetadata: reg.AuthnMetadata,
		AyameClient:   AyameClientName,
		Environment:   reg.Environment,
	})
	if err != nil {
		return signaling.Message{}, err
	}

	for {
		msg, err := c.Recv(ctx)
		if err != nil {
			return signaling.Message{}, err
		}
		switch msg.Type {
		case signaling.MessageTypeAccept:
			return msg, nil
		case signaling.MessageTypeReject:
			return signaling.Message{}, &RejectedError{Reason: msg.Reason}
		default:
			c.log.Debug("ignoring message before accept", "type", msg.Type)
		}
	}
}

func (c *Client) Send(msg signaling.Message) error {
	data, err := signaling.Encode(msg)
	if err != nil {
		return err
	}
	return c.write(websocket.TextMessage, data)
}

// SendRaw writes data as a text frame without validating it.
func (c *Client) SendRaw(data []byte) error {
	return c.write(websocket.TextMessage, data)
}

func (c *Client) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(messageType, data)
}

// Recv returns the next non-ping message. After the socket closes it returns
// the read error, or ErrClosed after Close.
func (c *Client) Recv(ctx context.Context) (signaling.Message, error) {
	select {
	case <-ctx.Done():
		return signaling.Message{}, ctx.Err()
	case msg, ok := <-c.incoming:
		if !ok {
			return signaling.Message{}, c.Err()
		}
		return msg, nil
	}
}

// Err reports why the read side stopped, nil while it is running.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Done is closed once the socket is closed by either side.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close sends a normal closure frame and tears the socket down.
func (c *Client) Close() error {
	c.writeMu.Lock()
	select {
	case <-c.done:
	default:
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeTimeout),
		)
	}
	c.writeMu.Unlock()
	c.shutdown(ErrClosed)
	return nil
}

func (c *Client) readLoop() {
	defer close(c.incoming)
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			c.shutdown(err)
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		msg, err := signaling.Decode(data)
		if err != nil {
			c.log.Warn("dropping undecodable message", "err", err)
			continue
		}
		if msg.Type == signaling.MessageTypePing {
			if err := c.Send(signaling.NewPong()); err != nil {
				c.log.Debug("failed to send pong", "err", err)
			}
			continue
		}
		select {
		case c.incoming <- msg:
		case <-c.done:
			return
		}
	}
}

func (c *Client) shutdown(reason error) {
	c.closeOnce.Do(func() {
		c.errMu.Lock()
		c.err = reason
		c.errMu.Unlock()
		close(c.done)
		_ = c.conn.Close()
	})
}
