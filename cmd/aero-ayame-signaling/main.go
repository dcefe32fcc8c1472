package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/wilsonzlin/aero/proxy/ayame-signaling/internal/config"
	"github.com/wilsonzlin/aero/proxy/ayame-signaling/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/ayame-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/ayame-signaling/internal/origin"
	"github.com/wilsonzlin/aero/proxy/ayame-signaling/internal/signaling"
	"github.com/wilsonzlin/aero/proxy/ayame-signaling/internal/webhook"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting aero-ayame-signaling",
		"listen_addr", cfg.ListenAddr,
		"config_file", cfg.ConfigFile,
		"mode", cfg.Mode,
		"authn_webhook_host", safeURLHost(cfg.AuthnWebhookURL),
		"disconnect_webhook_host", safeURLHost(cfg.DisconnectWebhookURL),
		"ping_interval", cfg.PingInterval,
		"register_timeout", cfg.RegisterTimeout,
		"max_message_bytes", cfg.MaxMessageBytes,
		"max_messages_per_second", cfg.MaxMessagesPerSecond,
		"ice_servers", len(cfg.ICEServers),
		"turn_rest_enabled", cfg.TURNREST.Enabled(),
	)
	logStartupSecurityWarnings(logger, cfg)

	iceServers, err := newICEServersFunc(cfg, logger)
	if err != nil {
		logger.Error("failed to configure TURN REST credentials", "err", err)
		os.Exit(2)
	}
	origins, err := origin.NewPolicy(cfg.AllowedOrigins)
	if err != nil {
		logger.Error("invalid allowed origins", "err", err)
		os.Exit(2)
	}

	m := metrics.New()
	hooks := webhook.New(webhook.Config{
		AuthnURL:      cfg.AuthnWebhookURL,
		DisconnectURL: cfg.DisconnectWebhookURL,
		Timeout:       cfg.WebhookTimeout,
	})
	hubCfg := signaling.HubConfig{
		Logger:       logger,
		Metrics:      m,
		PingInterval: cfg.PingInterval,
		ICEServers:   iceServers,
		OnStatistics: func(s signaling.Statistics) {
			logger.Debug("room statistics", "rooms", s.Rooms, "connections", s.Connections)
		},
	}
	if hooks.AuthnEnabled() {
		hubCfg.Authn = hooks
	}
	if hooks.DisconnectEnabled() {
		hubCfg.Disconnect = hooks
	}
	hub := signaling.NewHub(hubCfg)

	ws := signaling.NewWebSocketServer(hub, signaling.WebSocketConfig{
		Logger:               logger,
		Metrics:              m,
		CheckOrigin:          origins.CheckRequest,
		RegisterTimeout:      cfg.RegisterTimeout,
		MaxMessageBytes:      cfg.MaxMessageBytes,
		MaxMessagesPerSecond: cfg.MaxMessagesPerSecond,
	})

	commit, built := resolveBuildInfo(buildCommit, buildTime)
	srv, err := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: built}, httpserver.Options{
		Signaling: ws,
		Rooms:     hub,
		Metrics:   m,
	})
	if err != nil {
		logger.Error("failed to configure http server", "err", err)
		os.Exit(2)
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		hub.Close()
		if err != nil && !errors.Is(err, httpserver.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Shutdown does not track hijacked signaling sockets; hub.Close tears
	// them down.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}
	hub.Close()

	if err := <-errCh; err != nil && !errors.Is(err, httpserver.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// ldflags values win; VCS stamps cover `go run` and dev builds.
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}

	return commit, buildTime
}
