package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestAuthenticate_Allowed(t *testing.T) {
	var gotReq AuthnRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method=%s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content-type=%q, want application/json", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode: %v", err)
		}
		_, _ = io.WriteString(w, `{"allowed":true,"iceServers":[{"urls":["turn:t.example.com:3478"],"username":"u","credential":"p"}],"authzMetadata":{"role":"viewer"}}`)
	}))
	defer ts.Close()

	c := New(Config{AuthnURL: ts.URL})
	resp, err := c.Authenticate(context.Background(), AuthnRequest{
		RoomID:        "room",
		ClientID:      "client",
		SignalingKey:  "key",
		AuthnMetadata: json.RawMessage(`{"token":"abc"}`),
		AyameClient:   "sdk",
		Libwebrtc:     "lib",
		Environment:   "env",
	})
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if !resp.Allowed {
		t.Fatalf("allowed=false, want true")
	}
	if len(resp.ICEServers) != 1 || resp.ICEServers[0].URLs[0] != "turn:t.example.com:3478" || resp.ICEServers[0].Username != "u" {
		t.Fatalf("iceServers=%+v", resp.ICEServers)
	}
	if string(resp.AuthzMetadata) != `{"role":"viewer"}` {
		t.Fatalf("authzMetadata=%s", resp.AuthzMetadata)
	}
	if gotReq.RoomID != "room" || gotReq.ClientID != "client" || gotReq.SignalingKey != "key" || string(gotReq.AuthnMetadata) != `{"token":"abc"}` {
		t.Fatalf("request=%+v", gotReq)
	}
}

func TestAuthenticate_DeniedOrMissingAllowed(t *testing.T) {
	for body, wantReason := range map[string]string{
		`{"allowed":false,"reason":"quota"}`: "quota",
		`{"reason":"nope"}`:                  "nope",
		`{}`:                                 "",
	} {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, body)
		}))
		resp, err := New(Config{AuthnURL: ts.URL}).Authenticate(context.Background(), AuthnRequest{RoomID: "r"})
		ts.Close()
		if err != nil {
			t.Fatalf("body %s: Authenticate: %v", body, err)
		}
		if resp.Allowed || resp.Reason != wantReason {
			t.Fatalf("body %s: resp=%+v, want denied with reason %q", body, resp, wantReason)
		}
	}
}

func TestAuthenticate_Errors(t *testing.T) {
	t.Run("status", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", http.StatusForbidden)
		}))
		defer ts.Close()
		_, err := New(Config{AuthnURL: ts.URL}).Authenticate(context.Background(), AuthnRequest{})
		if !errors.Is(err, ErrUnexpectedStatus) {
			t.Fatalf("err=%v, want %v", err, ErrUnexpectedStatus)
		}
	})
	t.Run("body", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `not json`)
		}))
		defer ts.Close()
		_, err := New(Config{AuthnURL: ts.URL}).Authenticate(context.Background(), AuthnRequest{})
		if !errors.Is(err, ErrInvalidResponseBody) {
			t.Fatalf("err=%v, want %v", err, ErrInvalidResponseBody)
		}
	})
	t.Run("timeout", func(t *testing.T) {
		release := make(chan struct{})
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer ts.Close()
		defer close(release)

		start := time.Now()
		_, err := New(Config{AuthnURL: ts.URL, Timeout: 50 * time.Millisecond}).Authenticate(context.Background(), AuthnRequest{})
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("err=%v, want deadline exceeded", err)
		}
		if elapsed := time.Since(start); elapsed > 2*time.Second {
			t.Fatalf("Authenticate took %v", elapsed)
		}
	})
	t.Run("not configured", func(t *testing.T) {
		_, err := New(Config{}).Authenticate(context.Background(), AuthnRequest{})
		if !errors.Is(err, ErrNotConfigured) {
			t.Fatalf("err=%v, want %v", err, ErrNotConfigured)
		}
	})
}

func TestNotifyDisconnect(t *testing.T) {
	got := make(chan DisconnectRequest, 1)
	var status atomic.Int32
	status.Store(http.StatusOK)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req DisconnectRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		got <- req
		w.WriteHeader(int(status.Load()))
	}))
	defer ts.Close()

	c := New(Config{DisconnectURL: ts.URL})
	if c.AuthnEnabled() || !c.DisconnectEnabled() {
		t.Fatalf("enabled flags wrong: authn=%v disconnect=%v", c.AuthnEnabled(), c.DisconnectEnabled())
	}
	want := DisconnectRequest{RoomID: "room", ClientID: "client", ConnectionID: "CONN"}
	if err := c.NotifyDisconnect(context.Background(), want); err != nil {
		t.Fatalf("NotifyDisconnect: %v", err)
	}
	if req := <-got; req != want {
		t.Fatalf("req=%+v, want %+v", req, want)
	}

	status.Store(http.StatusInternalServerError)
	if err := c.NotifyDisconnect(context.Background(), want); !errors.Is(err, ErrUnexpectedStatus) {
		t.Fatalf("err=%v, want %v", err, ErrUnexpectedStatus)
	}
	<-got
}
