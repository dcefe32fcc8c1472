package main

import (
	"log/slog"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/ayame-signaling/internal/config"
	"github.com/wilsonzlin/aero/proxy/ayame-signaling/internal/signaling"
	"github.com/wilsonzlin/aero/proxy/ayame-signaling/internal/turnrest"
)

// newICEServersFunc returns the per-connection ICE list advertised in accept.
//
// With TURN REST enabled, every TURN entry gets ephemeral credentials bound
// to the connection id. If signing fails the TURN entries are left out
// rather than advertised without credentials.
func newICEServersFunc(cfg config.Config, logger *slog.Logger) (func(signaling.ConnectionID) []webrtc.ICEServer, error) {
	static := cfg.ICEServers
	if !cfg.TURNREST.Enabled() {
		return func(signaling.ConnectionID) []webrtc.ICEServer { return static }, nil
	}

	gen, err := turnrest.NewGenerator(turnrest.Config{
		SharedSecret:   cfg.TURNREST.SharedSecret,
		TTLSeconds:     cfg.TURNREST.TTLSeconds,
		UsernamePrefix: cfg.TURNREST.UsernamePrefix,
	})
	if err != nil {
		return nil, err
	}

	return func(id signaling.ConnectionID) []webrtc.ICEServer {
		creds, err := gen.Generate(id.String())
		if err != nil {
			logger.Error("failed to generate TURN REST credentials", "connection_id", id.String(), "err", err)
			return withoutTURN(static)
		}
		return turnrest.Apply(static, creds)
	}, nil
}

func withoutTURN(servers []webrtc.ICEServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, server := range servers {
		if turnrest.HasTURNURL(server) {
			continue
		}
		out = append(out, server)
	}
	return out
}
