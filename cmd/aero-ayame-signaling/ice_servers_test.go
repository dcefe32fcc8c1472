package main

import (
	"io"
	"log/slog"
	"reflect"
	"strings"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/ayame-signaling/internal/config"
	"github.com/wilsonzlin/aero/proxy/ayame-signaling/internal/signaling"
)

func testICEServers() []webrtc.ICEServer {
	return []webrtc.ICEServer{
		{URLs: []string{"stun:stun.example.com:3478"}},
		{URLs: []string{"turn:turn.example.com:3478?transport=udp"}},
	}
}

func TestICEServersFunc_StaticWithoutTURNREST(t *testing.T) {
	cfg := config.Config{ICEServers: testICEServers()}
	fn, err := newICEServersFunc(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("newICEServersFunc: %v", err)
	}
	if got := fn(signaling.NewConnectionID()); !reflect.DeepEqual(got, cfg.ICEServers) {
		t.Fatalf("servers=%#v, want %#v", got, cfg.ICEServers)
	}
}

func TestICEServersFunc_TURNRESTBindsConnectionID(t *testing.T) {
	cfg := config.Config{
		ICEServers: testICEServers(),
		TURNREST: config.TurnRESTConfig{
			SharedSecret:   "secret",
			TTLSeconds:     60,
			UsernamePrefix: "ayame",
		},
	}
	fn, err := newICEServersFunc(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("newICEServersFunc: %v", err)
	}

	id := signaling.NewConnectionID()
	got := fn(id)
	if len(got) != 2 {
		t.Fatalf("len(servers)=%d, want 2", len(got))
	}
	if got[0].Username != "" || got[0].Credential != nil {
		t.Fatalf("stun server got credentials: %#v", got[0])
	}
	if !strings.HasSuffix(got[1].Username, ":ayame:"+id.String()) {
		t.Fatalf("turn username=%q, want suffix %q", got[1].Username, ":ayame:"+id.String())
	}
	if cred, ok := got[1].Credential.(string); !ok || cred == "" {
		t.Fatalf("turn credential=%#v, want non-empty string", got[1].Credential)
	}
	if cfg.ICEServers[1].Username != "" {
		t.Fatalf("static config was mutated: %#v", cfg.ICEServers[1])
	}
}

func TestICEServersFunc_InvalidTURNRESTConfig(t *testing.T) {
	cfg := config.Config{
		TURNREST: config.TurnRESTConfig{SharedSecret: "secret", TTLSeconds: 0, UsernamePrefix: "ayame"},
	}
	if _, err := newICEServersFunc(cfg, slog.Default()); err == nil {
		t.Fatalf("expected error for zero TTL")
	}
}

func TestWithoutTURN(t *testing.T) {
	got := withoutTURN(testICEServers())
	if len(got) != 1 || got[0].URLs[0] != "stun:stun.example.com:3478" {
		t.Fatalf("servers=%#v, want only the stun entry", got)
	}
}
