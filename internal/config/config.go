package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/screenshare-signaling/internal/domain"
	"github.com/wilsonzlin/aero/proxy/screenshare-signaling/internal/origin"
)

const (
	envVarListenAddr      = "AERO_SCREENSHARE_LISTEN_ADDR"
	envVarAllowedOrigins  = "ALLOWED_ORIGINS"
	envVarLogFormat       = "AERO_SCREENSHARE_LOG_FORMAT"
	envVarLogLevel        = "AERO_SCREENSHARE_LOG_LEVEL"
	envVarShutdownTimeout = "AERO_SCREENSHARE_SHUTDOWN_TIMEOUT"
	envVarMode            = "AERO_SCREENSHARE_MODE"

	envVarSignalingWSIdleTimeout        = "AERO_SCREENSHARE_SIGNALING_WS_IDLE_TIMEOUT"
	envVarSignalingWSPingInterval       = "AERO_SCREENSHARE_SIGNALING_WS_PING_INTERVAL"
	envVarMaxSignalingMessageBytes      = "AERO_SCREENSHARE_MAX_SIGNALING_MESSAGE_BYTES"
	envVarMaxSignalingMessagesPerSecond = "AERO_SCREENSHARE_MAX_SIGNALING_MESSAGES_PER_SECOND"
	envVarSignalingSendQueueLength      = "AERO_SCREENSHARE_SIGNALING_SEND_QUEUE_LENGTH"

	envVarRecordingsDir           = "AERO_SCREENSHARE_RECORDINGS_DIR"
	envVarDefaultRecordingQuality = "AERO_SCREENSHARE_DEFAULT_RECORDING_QUALITY"
	envVarCaptureQueueSize        = "AERO_SCREENSHARE_CAPTURE_QUEUE_SIZE"
	envVarCaptureTimeout          = "AERO_SCREENSHARE_CAPTURE_TIMEOUT"

	envVarAPIRequestsPerMinute = "AERO_SCREENSHARE_API_REQUESTS_PER_MINUTE"
)

const (
	DefaultListenAddr      = "127.0.0.1:8080"
	DefaultShutdownTimeout = 15 * time.Second
	DefaultMode            = ModeDev

	DefaultSignalingWSIdleTimeout        = 60 * time.Second
	DefaultSignalingWSPingInterval       = 20 * time.Second
	DefaultMaxSignalingMessageBytes      = 64 * 1024
	DefaultMaxSignalingMessagesPerSecond = 50
	DefaultSignalingSendQueueLength      = 64

	DefaultRecordingsDir    = "recordings"
	DefaultCaptureQueueSize = 64
	DefaultCaptureTimeout   = 10 * time.Second

	DefaultAPIRequestsPerMinute = 600
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

type Config struct {
	ListenAddr      string
	AllowedOrigins  []string
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration
	Mode            Mode

	// ICEServers is handed to browsers by /webrtc/ice.
	ICEServers []webrtc.ICEServer

	SignalingWSIdleTimeout        time.Duration
	SignalingWSPingInterval       time.Duration
	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int
	SignalingSendQueueLength      int

	RecordingsDir           string
	DefaultRecordingQuality domain.Quality
	CaptureQueueSize        int
	CaptureTimeout          time.Duration

	APIRequestsPerMinute int

	iceConfigErr error
}

// ICEConfigError reports a bad ICE server setting. It does not fail Load so
// the process can start and report not-ready instead.
func (c Config) ICEConfigError() error {
	return c.iceConfigErr
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	modeDefault := envOrDefault(lookup, envVarMode, string(DefaultMode))

	envLogFormat := envOrDefault(lookup, envVarLogFormat, "")
	logFormatDefault := envLogFormat
	if logFormatDefault == "" {
		logFormatDefault = defaultLogFormatForMode(modeDefault)
	}
	envLogLevel := envOrDefault(lookup, envVarLogLevel, "")
	logLevelDefault := envLogLevel
	if logLevelDefault == "" {
		logLevelDefault = defaultLogLevelForMode(modeDefault)
	}

	listenAddr := envOrDefault(lookup, envVarListenAddr, DefaultListenAddr)
	allowedOriginsStr := envOrDefault(lookup, envVarAllowedOrigins, "")
	recordingsDir := envOrDefault(lookup, envVarRecordingsDir, DefaultRecordingsDir)
	qualityStr := envOrDefault(lookup, envVarDefaultRecordingQuality, domain.DefaultQuality.String())
	ice := iceSources{
		json:           envOrDefault(lookup, envVarICEServersJSON, ""),
		stunURLs:       envOrDefault(lookup, envVarStunURLs, ""),
		turnURLs:       envOrDefault(lookup, envVarTurnURLs, ""),
		turnUsername:   envOrDefault(lookup, envVarTurnUsername, ""),
		turnCredential: envOrDefault(lookup, envVarTurnCredential, ""),
	}

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	wsIdleTimeout, err := envDurationOrDefault(lookup, envVarSignalingWSIdleTimeout, DefaultSignalingWSIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	wsPingInterval, err := envDurationOrDefault(lookup, envVarSignalingWSPingInterval, DefaultSignalingWSPingInterval)
	if err != nil {
		return Config{}, err
	}
	captureTimeout, err := envDurationOrDefault(lookup, envVarCaptureTimeout, DefaultCaptureTimeout)
	if err != nil {
		return Config{}, err
	}
	maxMessageBytes, err := envIntOrDefault(lookup, envVarMaxSignalingMessageBytes, DefaultMaxSignalingMessageBytes)
	if err != nil {
		return Config{}, err
	}
	maxMessagesPerSecond, err := envIntOrDefault(lookup, envVarMaxSignalingMessagesPerSecond, DefaultMaxSignalingMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}
	sendQueueLength, err := envIntOrDefault(lookup, envVarSignalingSendQueueLength, DefaultSignalingSendQueueLength)
	if err != nil {
		return Config{}, err
	}
	captureQueueSize, err := envIntOrDefault(lookup, envVarCaptureQueueSize, DefaultCaptureQueueSize)
	if err != nil {
		return Config{}, err
	}
	apiRequestsPerMinute, err := envIntOrDefault(lookup, envVarAPIRequestsPerMinute, DefaultAPIRequestsPerMinute)
	if err != nil {
		return Config{}, err
	}

	var (
		modeStr      string
		logFormatStr string
		logLevelStr  string
	)
	maxMessageBytes64 := int64(maxMessageBytes)

	fs := flag.NewFlagSet("aero-screenshare-signaling", flag.ContinueOnError)
	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "HTTP listen address (host:port)")
	fs.StringVar(&allowedOriginsStr, "allowed-origins", allowedOriginsStr, "Comma-separated list of allowed browser origins (env "+envVarAllowedOrigins+")")
	fs.StringVar(&modeStr, "mode", modeDefault, "Run mode: dev or prod")
	fs.StringVar(&logFormatStr, "log-format", logFormatDefault, "Log format: text or json")
	fs.StringVar(&logLevelStr, "log-level", logLevelDefault, "Log level: debug, info, warn, error")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (e.g. 15s)")
	fs.StringVar(&ice.json, "ice-servers-json", ice.json, "ICE server JSON config ("+envVarICEServersJSON+")")
	fs.StringVar(&ice.stunURLs, "stun-urls", ice.stunURLs, "comma-separated STUN URLs ("+envVarStunURLs+")")
	fs.StringVar(&ice.turnURLs, "turn-urls", ice.turnURLs, "comma-separated TURN URLs ("+envVarTurnURLs+")")
	fs.StringVar(&ice.turnUsername, "turn-username", ice.turnUsername, "TURN username ("+envVarTurnUsername+")")
	fs.StringVar(&ice.turnCredential, "turn-credential", ice.turnCredential, "TURN credential ("+envVarTurnCredential+")")
	fs.DurationVar(&wsIdleTimeout, "signaling-ws-idle-timeout", wsIdleTimeout, "Close idle signaling WebSocket connections after this duration (env "+envVarSignalingWSIdleTimeout+")")
	fs.DurationVar(&wsPingInterval, "signaling-ws-ping-interval", wsPingInterval, "Send ping frames on signaling WebSocket connections at this interval (must be < --signaling-ws-idle-timeout; env "+envVarSignalingWSPingInterval+")")
	fs.Int64Var(&maxMessageBytes64, "max-signaling-message-bytes", maxMessageBytes64, "Max inbound signaling WS message size in bytes (env "+envVarMaxSignalingMessageBytes+")")
	fs.IntVar(&maxMessagesPerSecond, "max-signaling-messages-per-second", maxMessagesPerSecond, "Max inbound signaling WS messages per second (env "+envVarMaxSignalingMessagesPerSecond+")")
	fs.IntVar(&sendQueueLength, "signaling-send-queue-length", sendQueueLength, "Outbound frames buffered per signaling WebSocket (env "+envVarSignalingSendQueueLength+")")
	fs.StringVar(&recordingsDir, "recordings-dir", recordingsDir, "Directory for recording files and .info sidecars (env "+envVarRecordingsDir+")")
	fs.StringVar(&qualityStr, "default-recording-quality", qualityStr, "Quality for recordings started by sharing: low, medium, standard, high, ultra_high (env "+envVarDefaultRecordingQuality+")")
	fs.IntVar(&captureQueueSize, "capture-queue-size", captureQueueSize, "Pending capture jobs before sharing fails fast (env "+envVarCaptureQueueSize+")")
	fs.DurationVar(&captureTimeout, "capture-timeout", captureTimeout, "Max time a single BeginCapture may take (env "+envVarCaptureTimeout+")")
	fs.IntVar(&apiRequestsPerMinute, "api-requests-per-minute", apiRequestsPerMinute, "Per-IP request limit for /api (0 = unlimited; env "+envVarAPIRequestsPerMinute+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	setFlags := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}
	if envLogFormat == "" && !setFlags["log-format"] {
		logFormatStr = defaultLogFormatForMode(string(mode))
	}
	if envLogLevel == "" && !setFlags["log-level"] {
		logLevelStr = defaultLogLevelForMode(string(mode))
	}
	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	allowedOrigins, err := parseAllowedOrigins(allowedOriginsStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid %s/--allowed-origins: %w", envVarAllowedOrigins, err)
	}
	quality, err := domain.ParseQuality(qualityStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid %s/--default-recording-quality: %w", envVarDefaultRecordingQuality, err)
	}

	if shutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--shutdown-timeout must be > 0", envVarShutdownTimeout)
	}
	if wsIdleTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--signaling-ws-idle-timeout must be > 0", envVarSignalingWSIdleTimeout)
	}
	if wsPingInterval <= 0 {
		return Config{}, fmt.Errorf("%s/--signaling-ws-ping-interval must be > 0", envVarSignalingWSPingInterval)
	}
	if wsPingInterval >= wsIdleTimeout {
		return Config{}, fmt.Errorf("%s/--signaling-ws-ping-interval must be < %s/--signaling-ws-idle-timeout", envVarSignalingWSPingInterval, envVarSignalingWSIdleTimeout)
	}
	if maxMessageBytes64 <= 0 {
		return Config{}, fmt.Errorf("%s/--max-signaling-message-bytes must be > 0", envVarMaxSignalingMessageBytes)
	}
	if maxMessagesPerSecond <= 0 {
		return Config{}, fmt.Errorf("%s/--max-signaling-messages-per-second must be > 0", envVarMaxSignalingMessagesPerSecond)
	}
	if sendQueueLength <= 0 {
		return Config{}, fmt.Errorf("%s/--signaling-send-queue-length must be > 0", envVarSignalingSendQueueLength)
	}
	if strings.TrimSpace(recordingsDir) == "" {
		return Config{}, fmt.Errorf("%s/--recordings-dir must not be empty", envVarRecordingsDir)
	}
	if captureQueueSize <= 0 {
		return Config{}, fmt.Errorf("%s/--capture-queue-size must be > 0", envVarCaptureQueueSize)
	}
	if captureTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--capture-timeout must be > 0", envVarCaptureTimeout)
	}
	if apiRequestsPerMinute < 0 {
		return Config{}, fmt.Errorf("%s/--api-requests-per-minute must be >= 0", envVarAPIRequestsPerMinute)
	}

	cfg := Config{
		ListenAddr:      listenAddr,
		AllowedOrigins:  allowedOrigins,
		LogFormat:       logFormat,
		LogLevel:        level,
		ShutdownTimeout: shutdownTimeout,
		Mode:            mode,

		SignalingWSIdleTimeout:        wsIdleTimeout,
		SignalingWSPingInterval:       wsPingInterval,
		MaxSignalingMessageBytes:      maxMessageBytes64,
		MaxSignalingMessagesPerSecond: maxMessagesPerSecond,
		SignalingSendQueueLength:      sendQueueLength,

		RecordingsDir:           strings.TrimSpace(recordingsDir),
		DefaultRecordingQuality: quality,
		CaptureQueueSize:        captureQueueSize,
		CaptureTimeout:          captureTimeout,

		APIRequestsPerMinute: apiRequestsPerMinute,
	}

	iceServers, err := ice.parse()
	if err != nil {
		cfg.iceConfigErr = err
	} else {
		cfg.ICEServers = iceServers
	}
	return cfg, nil
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

func parseAllowedOrigins(raw string) ([]string, error) {
	var out []string
	for _, entry := range splitCommaSeparated(raw) {
		if entry == "*" {
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
