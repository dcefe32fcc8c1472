package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	"gopkg.in/yaml.v3"

	"github.com/wilsonzlin/aero/proxy/ayame-signaling/internal/origin"
)

const (
	envVarConfigFile      = "AYAME_CONFIG_FILE"
	envVarListenAddr      = "AYAME_LISTEN_ADDR"
	envVarAllowedOrigins  = "ALLOWED_ORIGINS"
	envVarLogFormat       = "AYAME_LOG_FORMAT"
	envVarLogLevel        = "AYAME_LOG_LEVEL"
	envVarShutdownTimeout = "AYAME_SHUTDOWN_TIMEOUT"
	envVarMode            = "AYAME_MODE"

	// Webhooks.
	envVarAuthnWebhookURL      = "AYAME_AUTHN_WEBHOOK_URL"
	envVarDisconnectWebhookURL = "AYAME_DISCONNECT_WEBHOOK_URL"
	envVarWebhookTimeout       = "AYAME_WEBHOOK_TIMEOUT"

	// Signaling WebSocket hardening.
	envVarPingInterval         = "AYAME_PING_INTERVAL"
	envVarRegisterTimeout      = "AYAME_REGISTER_TIMEOUT"
	envVarMaxMessageBytes      = "AYAME_MAX_MESSAGE_BYTES"
	envVarMaxMessagesPerSecond = "AYAME_MAX_MESSAGES_PER_SECOND"

	// coturn TURN REST (ephemeral) credentials.
	envVarTURNRESTSharedSecret   = "TURN_REST_SHARED_SECRET"
	envVarTURNRESTTTLSeconds     = "TURN_REST_TTL_SECONDS"
	envVarTURNRESTUsernamePrefix = "TURN_REST_USERNAME_PREFIX"

	flagConfig = "config"

	// DefaultConfigFile is read when present and no path was configured.
	DefaultConfigFile = "ayame.yaml"

	DefaultListenAddr                = "0.0.0.0:3000"
	DefaultShutdown                  = 15 * time.Second
	DefaultMode                 Mode = ModeDev
	DefaultWebhookTimeout            = 5 * time.Second
	DefaultPingInterval              = 5 * time.Second
	DefaultRegisterTimeout           = 10 * time.Second
	DefaultMaxMessageBytes           = int64(64 * 1024)
	DefaultMaxMessagesPerSecond      = 50

	DefaultTURNRESTTTLSeconds     int64  = 3600
	DefaultTURNRESTUsernamePrefix string = "ayame"
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type TurnRESTConfig struct {
	SharedSecret   string
	TTLSeconds     int64
	UsernamePrefix string
}

func (c TurnRESTConfig) Enabled() bool {
	return strings.TrimSpace(c.SharedSecret) != ""
}

type Config struct {
	// ConfigFile is the YAML file that was loaded, empty when none was.
	ConfigFile      string
	ListenAddr      string
	AllowedOrigins  []string
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration
	Mode            Mode

	AuthnWebhookURL      string
	DisconnectWebhookURL string
	WebhookTimeout       time.Duration

	PingInterval         time.Duration
	RegisterTimeout      time.Duration
	MaxMessageBytes      int64
	MaxMessagesPerSecond int

	// ICEServers are advertised in accept messages when the authn webhook
	// does not return its own list.
	ICEServers []webrtc.ICEServer
	TURNREST   TurnRESTConfig
}

// fileConfig mirrors ayame.yaml. Pointers distinguish unset keys from zero
// values.
type fileConfig struct {
	ListenIPv4Address     *string  `yaml:"listen_ipv4_address"`
	ListenPortNumber      *int     `yaml:"listen_port_number"`
	AuthnWebhookURL       *string  `yaml:"authn_webhook_url"`
	DisconnectWebhookURL  *string  `yaml:"disconnect_webhook_url"`
	WebhookRequestTimeout *int     `yaml:"webhook_request_timeout"`
	Debug                 *bool    `yaml:"debug"`
	LogLevel              *string  `yaml:"log_level"`
	AllowedOrigins        []string `yaml:"allowed_origins"`
	PingIntervalSec       *int     `yaml:"ping_interval_sec"`
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	configFile, explicit := configFilePath(lookup, args)
	file, err := readFileConfig(configFile, explicit)
	if err != nil {
		return Config{}, err
	}
	if file == nil {
		configFile = ""
		file = &fileConfig{}
	}

	// File values replace built-in defaults; env values replace file values.
	listenAddr := DefaultListenAddr
	if file.ListenIPv4Address != nil || file.ListenPortNumber != nil {
		host, port, _ := net.SplitHostPort(DefaultListenAddr)
		if file.ListenIPv4Address != nil {
			host = *file.ListenIPv4Address
		}
		if file.ListenPortNumber != nil {
			port = strconv.Itoa(*file.ListenPortNumber)
		}
		listenAddr = net.JoinHostPort(host, port)
	}
	listenAddr = envOrDefault(lookup, envVarListenAddr, listenAddr)

	modeDefault := envOrDefault(lookup, envVarMode, string(DefaultMode))
	logFormatDefault := envOrDefault(lookup, envVarLogFormat, defaultLogFormatForMode(modeDefault))

	logLevelDefault := defaultLogLevelForMode(modeDefault)
	if file.Debug != nil && *file.Debug {
		logLevelDefault = "debug"
	}
	if file.LogLevel != nil && strings.TrimSpace(*file.LogLevel) != "" {
		logLevelDefault = *file.LogLevel
	}
	logLevelDefault = envOrDefault(lookup, envVarLogLevel, logLevelDefault)

	allowedOriginsStr := strings.Join(file.AllowedOrigins, ",")
	allowedOriginsStr = envOrDefault(lookup, envVarAllowedOrigins, allowedOriginsStr)

	authnWebhookURL := envOrDefault(lookup, envVarAuthnWebhookURL, derefOr(file.AuthnWebhookURL, ""))
	disconnectWebhookURL := envOrDefault(lookup, envVarDisconnectWebhookURL, derefOr(file.DisconnectWebhookURL, ""))

	webhookTimeout := DefaultWebhookTimeout
	if file.WebhookRequestTimeout != nil {
		webhookTimeout = time.Duration(*file.WebhookRequestTimeout) * time.Second
	}
	if webhookTimeout, err = envDurationOrDefault(lookup, envVarWebhookTimeout, webhookTimeout); err != nil {
		return Config{}, err
	}

	pingInterval := DefaultPingInterval
	if file.PingIntervalSec != nil {
		pingInterval = time.Duration(*file.PingIntervalSec) * time.Second
	}
	if pingInterval, err = envDurationOrDefault(lookup, envVarPingInterval, pingInterval); err != nil {
		return Config{}, err
	}

	registerTimeout, err := envDurationOrDefault(lookup, envVarRegisterTimeout, DefaultRegisterTimeout)
	if err != nil {
		return Config{}, err
	}
	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdown)
	if err != nil {
		return Config{}, err
	}

	maxMessageBytes := DefaultMaxMessageBytes
	if raw, ok := lookup(envVarMaxMessageBytes); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarMaxMessageBytes, raw, err)
		}
		maxMessageBytes = n
	}
	maxMessagesPerSecond, err := envIntOrDefault(lookup, envVarMaxMessagesPerSecond, DefaultMaxMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}

	iceServersJSON := envOrDefault(lookup, envICEServersJSON, "")
	stunURLs := envOrDefault(lookup, envStunURLs, "")
	turnURLs := envOrDefault(lookup, envTurnURLs, "")
	turnUsername := envOrDefault(lookup, envTurnUsername, "")
	turnCredential := envOrDefault(lookup, envTurnCredential, "")

	turnRESTSharedSecret := envOrDefault(lookup, envVarTURNRESTSharedSecret, "")
	turnRESTTTLSeconds := DefaultTURNRESTTTLSeconds
	if raw, ok := lookup(envVarTURNRESTTTLSeconds); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarTURNRESTTTLSeconds, raw, err)
		}
		turnRESTTTLSeconds = n
	}
	turnRESTUsernamePrefix := envOrDefault(lookup, envVarTURNRESTUsernamePrefix, DefaultTURNRESTUsernamePrefix)

	fs := flag.NewFlagSet("aero-ayame-signaling", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		modeStr      string
		logFormatStr string
		logLevelStr  string
		ignoredPath  string
	)

	fs.StringVar(&ignoredPath, flagConfig, configFile, "Path to ayame.yaml (env "+envVarConfigFile+")")
	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "HTTP listen address (host:port; env "+envVarListenAddr+")")
	fs.StringVar(&allowedOriginsStr, "allowed-origins", allowedOriginsStr, "Comma-separated list of allowed browser origins, * or self (env "+envVarAllowedOrigins+")")
	fs.StringVar(&modeStr, "mode", modeDefault, "Run mode: dev or prod")
	fs.StringVar(&logFormatStr, "log-format", logFormatDefault, "Log format: text or json")
	fs.StringVar(&logLevelStr, "log-level", logLevelDefault, "Log level: debug, info, warn, error")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (e.g. 15s)")
	fs.StringVar(&authnWebhookURL, "authn-webhook-url", authnWebhookURL, "Authentication webhook URL (env "+envVarAuthnWebhookURL+")")
	fs.StringVar(&disconnectWebhookURL, "disconnect-webhook-url", disconnectWebhookURL, "Disconnect webhook URL (env "+envVarDisconnectWebhookURL+")")
	fs.DurationVar(&webhookTimeout, "webhook-timeout", webhookTimeout, "Webhook request timeout (env "+envVarWebhookTimeout+")")
	fs.DurationVar(&pingInterval, "ping-interval", pingInterval, "Interval between application pings; a missing pong closes the connection (env "+envVarPingInterval+")")
	fs.DurationVar(&registerTimeout, "register-timeout", registerTimeout, "Close sockets that have not registered within this duration (env "+envVarRegisterTimeout+")")
	fs.Int64Var(&maxMessageBytes, "max-message-bytes", maxMessageBytes, "Max inbound signaling message size in bytes (env "+envVarMaxMessageBytes+")")
	fs.IntVar(&maxMessagesPerSecond, "max-messages-per-second", maxMessagesPerSecond, "Max inbound signaling messages per second per socket, 0 disables (env "+envVarMaxMessagesPerSecond+")")
	fs.StringVar(&iceServersJSON, "ice-servers-json", iceServersJSON, "ICE server JSON config ("+envICEServersJSON+")")
	fs.StringVar(&stunURLs, "stun-urls", stunURLs, "comma-separated STUN URLs ("+envStunURLs+")")
	fs.StringVar(&turnURLs, "turn-urls", turnURLs, "comma-separated TURN URLs ("+envTurnURLs+")")
	fs.StringVar(&turnUsername, "turn-username", turnUsername, "TURN username ("+envTurnUsername+")")
	fs.StringVar(&turnCredential, "turn-credential", turnCredential, "TURN credential ("+envTurnCredential+")")
	fs.StringVar(&turnRESTSharedSecret, "turn-rest-shared-secret", turnRESTSharedSecret, "TURN REST shared secret ("+envVarTURNRESTSharedSecret+")")
	fs.Int64Var(&turnRESTTTLSeconds, "turn-rest-ttl-seconds", turnRESTTTLSeconds, "TURN REST credential TTL seconds ("+envVarTURNRESTTTLSeconds+")")
	fs.StringVar(&turnRESTUsernamePrefix, "turn-rest-username-prefix", turnRESTUsernamePrefix, "TURN REST username prefix ("+envVarTURNRESTUsernamePrefix+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if fs.NArg() > 0 {
		return Config{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}
	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	if _, _, err := net.SplitHostPort(listenAddr); err != nil {
		return Config{}, fmt.Errorf("invalid %s/--listen-addr %q: %w", envVarListenAddr, listenAddr, err)
	}
	if shutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--shutdown-timeout must be > 0", envVarShutdownTimeout)
	}
	if webhookTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--webhook-timeout must be > 0", envVarWebhookTimeout)
	}
	if pingInterval <= 0 {
		return Config{}, fmt.Errorf("%s/--ping-interval must be > 0", envVarPingInterval)
	}
	if registerTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--register-timeout must be > 0", envVarRegisterTimeout)
	}
	if maxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("%s/--max-message-bytes must be > 0", envVarMaxMessageBytes)
	}
	if maxMessagesPerSecond < 0 {
		return Config{}, fmt.Errorf("%s/--max-messages-per-second must be >= 0", envVarMaxMessagesPerSecond)
	}

	authnWebhookURL, err = parseWebhookURL(authnWebhookURL)
	if err != nil {
		return Config{}, fmt.Errorf("invalid %s/--authn-webhook-url: %w", envVarAuthnWebhookURL, err)
	}
	disconnectWebhookURL, err = parseWebhookURL(disconnectWebhookURL)
	if err != nil {
		return Config{}, fmt.Errorf("invalid %s/--disconnect-webhook-url: %w", envVarDisconnectWebhookURL, err)
	}

	allowedOrigins, err := parseAllowedOrigins(allowedOriginsStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid %s/--allowed-origins: %w", envVarAllowedOrigins, err)
	}

	turnREST := TurnRESTConfig{
		SharedSecret:   turnRESTSharedSecret,
		TTLSeconds:     turnRESTTTLSeconds,
		UsernamePrefix: turnRESTUsernamePrefix,
	}
	if turnREST.Enabled() {
		if turnREST.TTLSeconds <= 0 {
			return Config{}, fmt.Errorf("%s/--turn-rest-ttl-seconds must be > 0", envVarTURNRESTTTLSeconds)
		}
		if turnREST.UsernamePrefix == "" || strings.Contains(turnREST.UsernamePrefix, ":") {
			return Config{}, fmt.Errorf("%s/--turn-rest-username-prefix must be non-empty and must not contain ':'", envVarTURNRESTUsernamePrefix)
		}
	}

	iceServers, err := parseICEServersFromValues(
		iceServersJSON,
		stunURLs,
		turnURLs,
		turnUsername,
		turnCredential,
		turnREST.Enabled(),
	)
	if err != nil {
		return Config{}, err
	}

	return Config{
		ConfigFile:      configFile,
		ListenAddr:      listenAddr,
		AllowedOrigins:  allowedOrigins,
		LogFormat:       logFormat,
		LogLevel:        level,
		ShutdownTimeout: shutdownTimeout,
		Mode:            mode,

		AuthnWebhookURL:      authnWebhookURL,
		DisconnectWebhookURL: disconnectWebhookURL,
		WebhookTimeout:       webhookTimeout,

		PingInterval:         pingInterval,
		RegisterTimeout:      registerTimeout,
		MaxMessageBytes:      maxMessageBytes,
		MaxMessagesPerSecond: maxMessagesPerSecond,

		ICEServers: iceServers,
		TURNREST:   turnREST,
	}, nil
}

// configFilePath finds the YAML path before the flag set is built, since
// file values become flag defaults. explicit is false for the implicit
// DefaultConfigFile.
func configFilePath(lookup func(string) (string, bool), args []string) (path string, explicit bool) {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			break
		}
		name := strings.TrimLeft(arg, "-")
		if len(arg)-len(name) == 0 || len(arg)-len(name) > 2 {
			continue
		}
		if value, ok := strings.CutPrefix(name, flagConfig+"="); ok {
			return value, true
		}
		if name == flagConfig && i+1 < len(args) {
			return args[i+1], true
		}
	}
	if v, ok := lookup(envVarConfigFile); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v), true
	}
	return DefaultConfigFile, false
}

// readFileConfig returns nil when an implicit config file does not exist.
func readFileConfig(path string, explicit bool) (*fileConfig, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return &cfg, nil
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func derefOr[T any](p *T, fallback T) T {
	if p == nil {
		return fallback
	}
	return *p
}

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}

// parseWebhookURL accepts an empty value, which disables the webhook.
func parseWebhookURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("expected absolute http(s) URL, got %q", raw)
	}
	return u.String(), nil
}

func parseAllowedOrigins(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var out []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if entry == "*" || entry == origin.Self || entry == "null" {
			out = append(out, entry)
			continue
		}
		normalizedOrigin, _, ok := origin.NormalizeHeader(entry)
		if !ok {
			return nil, fmt.Errorf("invalid origin %q (expected full origin like https://example.com)", entry)
		}
		out = append(out, normalizedOrigin)
	}
	return out, nil
}
