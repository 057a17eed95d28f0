// Package config resolves sandbox settings from a .env file, the
// environment and command-line flags, in increasing order of precedence.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Backends accepted by Config.Backend.
const (
	BackendMemory  = "memory"
	BackendLevelDB = "leveldb"
	BackendBadger  = "badger"
	BackendRedis   = "redis"
)

// Config holds the sandbox configuration.
type Config struct {
	HTTPAddr string
	RESPAddr string

	// Backend selection
	Backend   string
	DataDir   string
	RedisAddr string
	Seed      string

	// Fault injection for the HTTP API
	Latency time.Duration
	Fail    string

	LogLevel  string
	LogPretty bool

	// EventBuffer caps the in-memory event journal; 0 keeps everything.
	EventBuffer int
}

// Load reads .env (if present) and the environment, then applies flags
// parsed from args. args excludes the program name.
func Load(args []string) (*Config, error) {
	_ = godotenv.Load() // optional

	cfg := &Config{
		HTTPAddr:    getEnvOrDefault("HASHFIELD_HTTP_ADDR", ":8787"),
		RESPAddr:    getEnvOrDefault("HASHFIELD_RESP_ADDR", ":6380"),
		Backend:     getEnvOrDefault("HASHFIELD_BACKEND", BackendMemory),
		DataDir:     getEnvOrDefault("HASHFIELD_DATA_DIR", "data"),
		RedisAddr:   getEnvOrDefault("HASHFIELD_REDIS_ADDR", "localhost:6379"),
		Seed:        os.Getenv("HASHFIELD_SEED"),
		Latency:     getEnvDurationOrDefault("HASHFIELD_LATENCY", 0),
		Fail:        os.Getenv("HASHFIELD_FAIL"),
		LogLevel:    getEnvOrDefault("HASHFIELD_LOG_LEVEL", "info"),
		LogPretty:   getEnvBoolOrDefault("HASHFIELD_LOG_PRETTY", true),
		EventBuffer: getEnvIntOrDefault("HASHFIELD_EVENT_BUFFER", 10000),
	}

	fs := flag.NewFlagSet("r1-hashfield", flag.ContinueOnError)
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "listen address for the HTTP API")
	fs.StringVar(&cfg.RESPAddr, "resp-addr", cfg.RESPAddr, "listen address for the RESP API (empty disables it)")
	fs.StringVar(&cfg.Backend, "backend", cfg.Backend, "store backend: memory, leveldb, badger or redis")
	fs.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "data directory for leveldb and badger")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "redis server address")
	fs.StringVar(&cfg.Seed, "seed", cfg.Seed, "path to JSON seed file")
	fs.DurationVar(&cfg.Latency, "latency", cfg.Latency, "artificial latency to inject per HTTP request")
	fs.StringVar(&cfg.Fail, "fail", cfg.Fail, "failure injection (rate=<float>,code=<httpStatus>)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	fs.BoolVar(&cfg.LogPretty, "log-pretty", cfg.LogPretty, "human-readable console logs")
	fs.IntVar(&cfg.EventBuffer, "event-buffer", cfg.EventBuffer, "events kept for /events (0 = unbounded)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return fmt.Errorf("config: http address is required")
	}
	switch c.Backend {
	case BackendMemory:
	case BackendLevelDB, BackendBadger:
		if strings.TrimSpace(c.DataDir) == "" {
			return fmt.Errorf("config: data dir is required for %s backend", c.Backend)
		}
	case BackendRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			return fmt.Errorf("config: redis address is required for redis backend")
		}
	default:
		return fmt.Errorf("config: unknown backend %q (must be memory, leveldb, badger or redis)", c.Backend)
	}
	if c.Latency < 0 {
		return fmt.Errorf("config: latency must not be negative")
	}
	if c.EventBuffer < 0 {
		return fmt.Errorf("config: event buffer must not be negative")
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
