package signaling

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func newTestWSServer(t *testing.T, cfg WebSocketConfig) (*Hub, *httptest.Server) {
	t.Helper()
	h := newTestHub(t, HubConfig{})
	if cfg.Logger == nil {
		cfg.Logger = discardLogger()
	}
	ts := httptest.NewServer(NewWebSocketServer(h, cfg))
	t.Cleanup(ts.Close)
	return h, ts
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/signaling"
	c, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func readWS(t *testing.T, c *websocket.Conn) Message {
	t.Helper()
	for {
		_ = c.SetReadDeadline(time.Now().Add(testWait))
		_, data, err := c.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		msg, err := Decode(data)
		if err != nil {
			t.Fatalf("decode %q: %v", data, err)
		}
		if msg.Type == MessageTypePing {
			continue
		}
		return msg
	}
}

func writeWS(t *testing.T, c *websocket.Conn, data string) {
	t.Helper()
	if err := c.WriteMessage(websocket.TextMessage, []byte(data)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestWebSocketServer_OfferAnswerAndBye(t *testing.T) {
	h, ts := newTestWSServer(t, WebSocketConfig{})

	a := dialWS(t, ts)
	writeWS(t, a, `{"type":"register","roomId":"ws-room","clientId":"a"}`)
	if msg := readWS(t, a); msg.Type != MessageTypeAccept || *msg.IsExistClient {
		t.Fatalf("a accept=%+v", msg)
	}

	b := dialWS(t, ts)
	writeWS(t, b, `{"type":"register","roomId":"ws-room","clientId":"b"}`)
	if msg := readWS(t, b); msg.Type != MessageTypeAccept || !*msg.IsExistClient {
		t.Fatalf("b accept=%+v", msg)
	}

	writeWS(t, b, `{"type":"offer","sdp":"offer-sdp"}`)
	if msg := readWS(t, a); msg.Type != MessageTypeOffer || msg.SDP != "offer-sdp" {
		t.Fatalf("a received %+v, want offer", msg)
	}
	writeWS(t, a, `{"type":"answer","sdp":"answer-sdp"}`)
	if msg := readWS(t, b); msg.Type != MessageTypeAnswer || msg.SDP != "answer-sdp" {
		t.Fatalf("b received %+v, want answer", msg)
	}

	_ = a.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	_ = a.Close()

	if msg := readWS(t, b); msg.Type != MessageTypeBye {
		t.Fatalf("b received %+v, want bye", msg)
	}
	_ = b.SetReadDeadline(time.Now().Add(testWait))
	if _, _, err := b.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("b read after bye err=%v, want normal close", err)
	}

	deadline := time.Now().Add(testWait)
	for h.Statistics() != (Statistics{}) {
		if time.Now().After(deadline) {
			t.Fatalf("stats=%+v, want empty", h.Statistics())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWebSocketServer_BinaryFramesAreDropped(t *testing.T) {
	_, ts := newTestWSServer(t, WebSocketConfig{})
	c := dialWS(t, ts)

	if err := c.WriteMessage(websocket.BinaryMessage, []byte(`{"type":"register","roomId":"r"}`)); err != nil {
		t.Fatalf("write binary: %v", err)
	}
	writeWS(t, c, `{"type":"register","roomId":"r"}`)
	if msg := readWS(t, c); msg.Type != MessageTypeAccept {
		t.Fatalf("reply=%+v, want accept", msg)
	}
}

func TestWebSocketServer_ClosesSocketsThatNeverRegister(t *testing.T) {
	_, ts := newTestWSServer(t, WebSocketConfig{RegisterTimeout: 50 * time.Millisecond})
	c := dialWS(t, ts)

	_ = c.SetReadDeadline(time.Now().Add(testWait))
	_, _, err := c.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("err=%v, want policy violation close", err)
	}
}

func TestWebSocketServer_RateLimit(t *testing.T) {
	_, ts := newTestWSServer(t, WebSocketConfig{MaxMessagesPerSecond: 2})
	c := dialWS(t, ts)

	// Exactly one frame over the burst so the server has nothing unread when
	// it closes.
	for i := 0; i < 3; i++ {
		if err := c.WriteMessage(websocket.TextMessage, []byte(`{"type":"pong"}`)); err != nil {
			break
		}
	}
	_ = c.SetReadDeadline(time.Now().Add(testWait))
	for {
		_, _, err := c.ReadMessage()
		if err == nil {
			continue
		}
		if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
			t.Fatalf("err=%v, want policy violation close", err)
		}
		return
	}
}

func TestWebSocketServer_RejectsDisallowedOrigin(t *testing.T) {
	_, ts := newTestWSServer(t, WebSocketConfig{
		CheckOrigin: func(r *http.Request) bool { return r.Header.Get("Origin") == "https://ok.example" },
	})
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/signaling"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": []string{"https://evil.example"}})
	if err == nil {
		t.Fatalf("dial with disallowed origin succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("resp=%v, want 403", resp)
	}

	c, _, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": []string{"https://ok.example"}})
	if err != nil {
		t.Fatalf("dial with allowed origin: %v", err)
	}
	_ = c.Close()
}
