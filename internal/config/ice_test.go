package config

import (
	"reflect"
	"strings"
	"testing"
)

func TestParseICEServersJSON(t *testing.T) {
	t.Parallel()

	raw := `[
	  {"urls": "stun:stun.example.com:3478"},
	  {"urls": [" turn:turn.example.com:3478?transport=udp ", ""], "username": " user ", "credential": "pass"}
	]`

	servers, err := ParseICEServersJSON(raw, false)
	if err != nil {
		t.Fatalf("ParseICEServersJSON: %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("len(servers)=%d, want 2", len(servers))
	}
	if got := servers[0].URLs; !reflect.DeepEqual(got, []string{"stun:stun.example.com:3478"}) {
		t.Fatalf("stun urls=%#v", got)
	}
	if got := servers[1].URLs; !reflect.DeepEqual(got, []string{"turn:turn.example.com:3478?transport=udp"}) {
		t.Fatalf("turn urls=%#v, want trimmed single url", got)
	}
	if servers[1].Username != "user" {
		t.Fatalf("username=%q, want %q", servers[1].Username, "user")
	}
	if cred, ok := servers[1].Credential.(string); !ok || cred != "pass" {
		t.Fatalf("credential=%#v, want %q", servers[1].Credential, "pass")
	}
}

func TestParseICEServersJSON_Errors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		raw     string
		wantErr string
	}{
		{"not json", `{`, ""},
		{"missing urls", `[{"username":"u"}]`, "iceServers[0]: missing urls"},
		{"bad scheme", `[{"urls":"http://example.com"}]`, "unsupported url scheme"},
		{"turn without username", `[{"urls":"turn:t.example.com","credential":"c"}]`, "require username"},
		{"turn without credential", `[{"urls":"turns:t.example.com","username":"u"}]`, "require credential"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseICEServersJSON(tc.raw, false)
			if err == nil {
				t.Fatalf("expected error")
			}
			if tc.wantErr != "" && !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("err=%q, want substring %q", err, tc.wantErr)
			}
		})
	}
}

func TestParseICEServersJSON_AllowsTURNWithoutCredsForTURNREST(t *testing.T) {
	t.Parallel()

	servers, err := ParseICEServersJSON(`[{"urls":["turn:turn.example.com:3478"]}]`, true)
	if err != nil {
		t.Fatalf("ParseICEServersJSON: %v", err)
	}
	if len(servers) != 1 || servers[0].Username != "" || servers[0].Credential != nil {
		t.Fatalf("servers=%#v, want one TURN server without credentials", servers)
	}
}

func TestParseICEServersFromConvenienceEnv(t *testing.T) {
	t.Parallel()

	servers, err := ParseICEServersFromConvenienceEnv(
		"stun:a.example.com:3478, stun:b.example.com:3478",
		"turn:turn.example.com:3478?transport=udp",
		"user",
		"pass",
		false,
	)
	if err != nil {
		t.Fatalf("ParseICEServersFromConvenienceEnv: %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("len(servers)=%d, want 2", len(servers))
	}
	if got := servers[0].URLs; len(got) != 2 || got[1] != "stun:b.example.com:3478" {
		t.Fatalf("stun urls=%#v", got)
	}
	if servers[0].Username != "" || servers[0].Credential != nil {
		t.Fatalf("stun server has credentials: %#v", servers[0])
	}
	if servers[1].Username != "user" || servers[1].Credential != "pass" {
		t.Fatalf("turn server=%#v, want user/pass", servers[1])
	}
}

func TestParseICEServersFromConvenienceEnv_TURNCredentials(t *testing.T) {
	t.Parallel()

	_, err := ParseICEServersFromConvenienceEnv("", "turn:turn.example.com", "user", "", false)
	if err == nil || !strings.Contains(err.Error(), envTurnCredential) {
		t.Fatalf("err=%v, want mention of %s", err, envTurnCredential)
	}

	servers, err := ParseICEServersFromConvenienceEnv("", "turn:turn.example.com", "", "", true)
	if err != nil {
		t.Fatalf("with TURN REST: %v", err)
	}
	if len(servers) != 1 || servers[0].Credential != nil {
		t.Fatalf("servers=%#v, want one TURN server without credentials", servers)
	}
}

func TestParseICEServersFromValues(t *testing.T) {
	t.Parallel()

	t.Run("defaults when unset", func(t *testing.T) {
		servers, err := parseICEServersFromValues("", "", "", "", "", false)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if !reflect.DeepEqual(servers, DefaultICEServers()) {
			t.Fatalf("servers=%#v, want %#v", servers, DefaultICEServers())
		}
	})

	t.Run("json wins over convenience vars", func(t *testing.T) {
		servers, err := parseICEServersFromValues(`[{"urls":"stun:json.example.com"}]`, "stun:env.example.com", "", "", "", false)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if len(servers) != 1 || servers[0].URLs[0] != "stun:json.example.com" {
			t.Fatalf("servers=%#v, want the JSON list", servers)
		}
	})

	t.Run("json errors name the variable", func(t *testing.T) {
		_, err := parseICEServersFromValues(`[{"urls":"ftp://x"}]`, "", "", "", "", false)
		if err == nil || !strings.HasPrefix(err.Error(), envICEServersJSON) {
			t.Fatalf("err=%v, want prefix %s", err, envICEServersJSON)
		}
	})

	t.Run("empty json list is honoured", func(t *testing.T) {
		servers, err := parseICEServersFromValues(`[]`, "", "", "", "", false)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if len(servers) != 0 {
			t.Fatalf("servers=%#v, want none", servers)
		}
	})
}

func TestDefaultICEServers_ReturnsCopy(t *testing.T) {
	t.Parallel()

	a := DefaultICEServers()
	a[0].URLs[0] = "stun:mutated"
	if got := DefaultICEServers()[0].URLs[0]; got != DefaultSTUNURL {
		t.Fatalf("url=%q, want %q", got, DefaultSTUNURL)
	}
}
