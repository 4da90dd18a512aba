package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port              int
	DBPath            string
	HistoryBackend    string // sqlite, memory or redis
	RedisAddr         string
	RequireAuth       bool
	ColorCount        int
	MaxHistory        int
	MaxNickChanges    int
	MinNickLength     int
	MaxNickLength     int
	MaxRoomNameLength int
	MaxMessageLength  int
	MaxFrameSize      int64 // bytes
	SendBuffer        int
	ReadTimeout       int // seconds
	WriteTimeout      int // seconds
	HistoryTimeout    int // milliseconds
	ShutdownTimeout   int // seconds
	AllowedOrigins    []string
	LogLevel          string
	LogFormat         string // console or json
	ControlSocket     string
}

func Default() *Config {
	return &Config{
		Port:              8080,
		DBPath:            "roomhub.db",
		HistoryBackend:    "sqlite",
		RedisAddr:         "localhost:6379",
		RequireAuth:       true,
		ColorCount:        10,
		MaxHistory:        50,
		MaxNickChanges:    3,
		MinNickLength:     2,
		MaxNickLength:     32,
		MaxRoomNameLength: 64,
		MaxMessageLength:  2000,
		MaxFrameSize:      8192,
		SendBuffer:        256,
		ReadTimeout:       60,
		WriteTimeout:      10,
		HistoryTimeout:    2000,
		ShutdownTimeout:   10,
		AllowedOrigins:    []string{"*"},
		LogLevel:          "info",
		LogFormat:         "console",
		ControlSocket:     "/tmp/roomhub.sock",
	}
}

// Load reads .env (if present) and then ROOMHUB_* environment variables on top of the defaults.
func Load() *Config {
	_ = godotenv.Load(".env")

	cfg := Default()

	if portStr := os.Getenv("ROOMHUB_PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil {
			cfg.Port = port
		}
	}

	if dbPath := os.Getenv("ROOMHUB_DB_PATH"); dbPath != "" {
		cfg.DBPath = dbPath
	}

	if backend := os.Getenv("ROOMHUB_HISTORY_BACKEND"); backend != "" {
		cfg.HistoryBackend = strings.ToLower(strings.TrimSpace(backend))
	}

	if addr := os.Getenv("ROOMHUB_REDIS_ADDR"); addr != "" {
		cfg.RedisAddr = addr
	}

	if auth := os.Getenv("ROOMHUB_REQUIRE_AUTH"); auth != "" {
		if v, err := strconv.ParseBool(auth); err == nil {
			cfg.RequireAuth = v
		}
	}

	intVars := map[string]*int{
		"ROOMHUB_COLOR_COUNT":          &cfg.ColorCount,
		"ROOMHUB_MAX_HISTORY":          &cfg.MaxHistory,
		"ROOMHUB_MAX_NICK_CHANGES":     &cfg.MaxNickChanges,
		"ROOMHUB_MIN_NICK_LENGTH":      &cfg.MinNickLength,
		"ROOMHUB_MAX_NICK_LENGTH":      &cfg.MaxNickLength,
		"ROOMHUB_MAX_ROOM_NAME_LENGTH": &cfg.MaxRoomNameLength,
		"ROOMHUB_MAX_MESSAGE_LENGTH":   &cfg.MaxMessageLength,
		"ROOMHUB_SEND_BUFFER":          &cfg.SendBuffer,
		"ROOMHUB_READ_TIMEOUT":         &cfg.ReadTimeout,
		"ROOMHUB_WRITE_TIMEOUT":        &cfg.WriteTimeout,
		"ROOMHUB_HISTORY_TIMEOUT":      &cfg.HistoryTimeout,
		"ROOMHUB_SHUTDOWN_TIMEOUT":     &cfg.ShutdownTimeout,
	}
	for key, dst := range intVars {
		if s := os.Getenv(key); s != "" {
			if v, err := strconv.Atoi(s); err == nil {
				*dst = v
			}
		}
	}

	if sizeStr := os.Getenv("ROOMHUB_MAX_FRAME_SIZE"); sizeStr != "" {
		if size, err := strconv.ParseInt(sizeStr, 10, 64); err == nil {
			cfg.MaxFrameSize = size
		}
	}

	if origins := os.Getenv("ROOMHUB_ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseList(origins)
	}

	if level := os.Getenv("ROOMHUB_LOG_LEVEL"); level != "" {
		cfg.LogLevel = strings.ToLower(level)
	}

	if format := os.Getenv("ROOMHUB_LOG_FORMAT"); format != "" {
		cfg.LogFormat = strings.ToLower(format)
	}

	if sock := os.Getenv("ROOMHUB_CONTROL_SOCKET"); sock != "" {
		cfg.ControlSocket = sock
	}

	cfg.Validate()
	return cfg
}

// Validate resets out-of-range values to their defaults.
func (c *Config) Validate() {
	def := Default()

	if c.Port < 0 || c.Port > 65535 {
		c.Port = def.Port
	}
	switch c.HistoryBackend {
	case "sqlite", "memory", "redis":
	default:
		c.HistoryBackend = def.HistoryBackend
	}

	positive := []struct {
		v   *int
		def int
	}{
		{&c.ColorCount, def.ColorCount},
		{&c.MaxHistory, def.MaxHistory},
		{&c.MinNickLength, def.MinNickLength},
		{&c.MaxNickLength, def.MaxNickLength},
		{&c.MaxRoomNameLength, def.MaxRoomNameLength},
		{&c.MaxMessageLength, def.MaxMessageLength},
		{&c.SendBuffer, def.SendBuffer},
		{&c.ReadTimeout, def.ReadTimeout},
		{&c.WriteTimeout, def.WriteTimeout},
		{&c.HistoryTimeout, def.HistoryTimeout},
		{&c.ShutdownTimeout, def.ShutdownTimeout},
	}
	for _, p := range positive {
		if *p.v <= 0 {
			*p.v = p.def
		}
	}

	// zero renames is a valid policy
	if c.MaxNickChanges < 0 {
		c.MaxNickChanges = def.MaxNickChanges
	}
	if c.MaxNickLength < c.MinNickLength {
		c.MaxNickLength = c.MinNickLength
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = def.MaxFrameSize
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = def.AllowedOrigins
	}
}

func (c *Config) ReadTimeoutDuration() time.Duration {
	return time.Duration(c.ReadTimeout) * time.Second
}

func (c *Config) WriteTimeoutDuration() time.Duration {
	return time.Duration(c.WriteTimeout) * time.Second
}

func (c *Config) HistoryTimeoutDuration() time.Duration {
	return time.Duration(c.HistoryTimeout) * time.Millisecond
}

func (c *Config) ShutdownTimeoutDuration() time.Duration {
	return time.Duration(c.ShutdownTimeout) * time.Second
}

func parseList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
