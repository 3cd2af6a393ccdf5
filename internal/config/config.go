package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"campus_call/native/internal/domain"

	"github.com/joho/godotenv"
)

// Relay backends.
const (
	RelayWebsocket = "websocket"
	RelayRedis     = "redis"
)

var defaultSTUN = []string{"stun:stun.l.google.com:19302"}

// Config holds the application configuration.
type Config struct {
	APIBase       string
	Token         string
	ParticipantID domain.ParticipantID

	Relay         string
	SignalURL     string
	RedisAddr     string
	RedisPassword string

	ControlAddr string
	HistoryDB   string
	LogLevel    string

	ICEMode    string
	ICEServers []domain.ICEServer

	DisableAudio bool
	DisableVideo bool

	Recovery Recovery
}

// Recovery holds the transport recovery knobs. Zero values select the
// coordinator defaults.
type Recovery struct {
	Window          time.Duration
	MaxICERestarts  int
	MaxReinits      int
	DisconnectGrace time.Duration
	RestartTimeout  time.Duration
	HealthInterval  time.Duration
	StallThreshold  time.Duration
}

// Load reads configuration from a .env file (if present) and environment variables.
// Environment variables take precedence over .env values.
func Load() (*Config, error) {
	// godotenv.Load does not overwrite existing env vars
	_ = godotenv.Load()

	cfg := &Config{
		APIBase:       os.Getenv("CALL_API_BASE"),
		Token:         os.Getenv("CALL_TOKEN"),
		Relay:         getenv("CALL_RELAY", RelayWebsocket),
		SignalURL:     os.Getenv("CALL_SIGNAL_URL"),
		RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		ControlAddr:   getenv("CALL_CONTROL_ADDR", "127.0.0.1:8090"),
		HistoryDB:     os.Getenv("CALL_HISTORY_DB"),
		LogLevel:      getenv("CALL_LOG_LEVEL", "info"),
	}

	if cfg.APIBase == "" {
		return nil, fmt.Errorf("CALL_API_BASE environment variable is required")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("CALL_TOKEN environment variable is required")
	}

	id, err := domain.NewParticipantID(os.Getenv("CALL_TENANT"), os.Getenv("CALL_SESSION"), os.Getenv("CALL_ENTITY"))
	if err != nil {
		return nil, fmt.Errorf("CALL_TENANT, CALL_SESSION and CALL_ENTITY: %w", err)
	}
	cfg.ParticipantID = id

	switch cfg.Relay {
	case RelayWebsocket, RelayRedis:
	default:
		return nil, fmt.Errorf("CALL_RELAY must be %q or %q, got %q", RelayWebsocket, RelayRedis, cfg.Relay)
	}

	cfg.ICEMode, cfg.ICEServers = loadICEServers()

	if cfg.DisableAudio, err = boolEnv("CALL_DISABLE_AUDIO"); err != nil {
		return nil, err
	}
	if cfg.DisableVideo, err = boolEnv("CALL_DISABLE_VIDEO"); err != nil {
		return nil, err
	}

	if cfg.Recovery, err = loadRecovery(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadRecovery() (Recovery, error) {
	var (
		r   Recovery
		err error
	)
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"CALL_RECOVERY_WINDOW", &r.Window},
		{"CALL_DISCONNECT_GRACE", &r.DisconnectGrace},
		{"CALL_RESTART_TIMEOUT", &r.RestartTimeout},
		{"CALL_HEALTH_INTERVAL", &r.HealthInterval},
		{"CALL_STALL_THRESHOLD", &r.StallThreshold},
	}
	for _, d := range durations {
		if *d.dst, err = durationEnv(d.key); err != nil {
			return r, err
		}
	}
	if r.MaxICERestarts, err = intEnv("CALL_MAX_ICE_RESTARTS"); err != nil {
		return r, err
	}
	if r.MaxReinits, err = intEnv("CALL_MAX_REINITS"); err != nil {
		return r, err
	}
	return r, nil
}

// loadICEServers parses STUN/TURN configuration.
//
// Env vars:
// - STUN_URLS: comma-separated STUN URLs
// - TURN_URLS: comma-separated TURN URLs
// - TURN_USERNAME / TURN_PASSWORD: TURN credentials (if required)
// - ICE_MODE: stun-turn (default), turn-only, stun-only
func loadICEServers() (mode string, servers []domain.ICEServer) {
	mode = strings.TrimSpace(os.Getenv("ICE_MODE"))
	if mode == "" {
		mode = "stun-turn"
	}

	stunEnv := strings.TrimSpace(os.Getenv("STUN_URLS"))
	turnEnv := strings.TrimSpace(os.Getenv("TURN_URLS"))

	turnOnly := strings.EqualFold(mode, "turn-only")
	stunOnly := strings.EqualFold(mode, "stun-only")

	if !turnOnly {
		if urls := splitAndClean(stunEnv); len(urls) > 0 {
			servers = append(servers, domain.ICEServer{URLs: urls})
		} else {
			servers = append(servers, domain.ICEServer{URLs: defaultSTUN})
		}
	}

	if !stunOnly {
		if urls := splitAndClean(turnEnv); len(urls) > 0 {
			servers = append(servers, domain.ICEServer{
				URLs:       urls,
				Username:   strings.TrimSpace(os.Getenv("TURN_USERNAME")),
				Credential: strings.TrimSpace(os.Getenv("TURN_PASSWORD")),
			})
		}
	}

	if turnOnly && len(servers) == 0 {
		servers = append(servers, domain.ICEServer{URLs: defaultSTUN})
	}
	return mode, servers
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func boolEnv(key string) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func intEnv(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s: expected a non-negative integer, got %q", key, v)
	}
	return n, nil
}

func durationEnv(key string) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%s: expected a duration such as 30s, got %q", key, v)
	}
	return d, nil
}

func splitAndClean(csv string) []string {
	var out []string
	for _, p := range strings.Split(csv, ",") {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
