package main

import (
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/wilsonzlin/aero/proxy/ayame-signaling/internal/config"
)

func logStartupSecurityWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if len(cfg.AllowedOrigins) == 0 {
		if cfg.Mode == config.ModeProd {
			logger.Warn("startup security warning: ALLOWED_ORIGINS is empty while --mode=prod (any browser origin may open a signaling socket)",
				"warning_code", "allowed_origins_unset_in_prod",
				"mode", cfg.Mode,
			)
		}
	} else if slices.Contains(cfg.AllowedOrigins, "*") {
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains '*' (allows any origin)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if cfg.AuthnWebhookURL == "" && cfg.Mode == config.ModeProd {
		logger.Warn("startup security warning: no authn webhook while --mode=prod (every register is accepted)",
			"warning_code", "authn_webhook_unset_in_prod",
			"mode", cfg.Mode,
		)
	}
	for name, raw := range map[string]string{
		"authn_webhook_url":      cfg.AuthnWebhookURL,
		"disconnect_webhook_url": cfg.DisconnectWebhookURL,
	} {
		if u, err := url.Parse(raw); err == nil && u.Scheme == "http" && !isLoopbackHost(u.Hostname()) {
			logger.Warn("startup security warning: webhook uses plain http to a non-loopback host (signaling keys and metadata travel unencrypted)",
				"warning_code", "webhook_plain_http",
				"webhook", name,
				"webhook_host", u.Host,
				"mode", cfg.Mode,
			)
		}
	}

	if cfg.Mode == config.ModeProd && cfg.MaxMessagesPerSecond <= 0 {
		logger.Warn("startup security warning: AYAME_MAX_MESSAGES_PER_SECOND is 0 (unlimited) while --mode=prod",
			"warning_code", "message_rate_unlimited_in_prod",
			"max_messages_per_second", cfg.MaxMessagesPerSecond,
			"mode", cfg.Mode,
		)
	}
	if cfg.MaxMessageBytes > 1<<20 { // 1MiB
		logger.Warn("startup security warning: AYAME_MAX_MESSAGE_BYTES is very large (SDP rarely exceeds a few KiB; increases per-message allocation risk)",
			"warning_code", "max_message_bytes_large",
			"max_message_bytes", cfg.MaxMessageBytes,
			"mode", cfg.Mode,
		)
	}
	if cfg.RegisterTimeout > 2*time.Minute {
		logger.Warn("startup security warning: AYAME_REGISTER_TIMEOUT is very large (unregistered sockets hold resources longer)",
			"warning_code", "register_timeout_large",
			"register_timeout", cfg.RegisterTimeout,
			"mode", cfg.Mode,
		)
	}

	if cfg.TURNREST.Enabled() && cfg.TURNREST.TTLSeconds > 24*60*60 {
		logger.Warn("startup security warning: TURN_REST_TTL_SECONDS exceeds one day (leaked TURN credentials stay valid longer)",
			"warning_code", "turn_rest_ttl_large",
			"turn_rest_ttl_seconds", cfg.TURNREST.TTLSeconds,
			"mode", cfg.Mode,
		)
	}
}

func isLoopbackHost(host string) bool {
	switch strings.ToLower(host) {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

func safeURLHost(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return u.Host
}
