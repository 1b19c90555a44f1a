package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr string
	GRPCAddr string // empty disables the gRPC listener

	// DB
	Env    string // "dev" | "prod"
	Store  string // "sqlite" | "memory"
	DBPath string // e.g. "./data/portunus.db"

	// Door timings
	OpenLatency  time.Duration
	HoldDuration time.Duration
	CloseLatency time.Duration

	// Event log writes
	AppendRetries int
	RetryBackoff  time.Duration

	// Occupancy sweeper
	MaxDwellHours        int // 0 = never auto-close entries
	SweepIntervalMinutes int

	// Stats period boundaries ("today", "week") are computed in this zone.
	Location *time.Location

	NATSURL string // empty disables forwarding

	LogLevel  string
	LogFormat string // "json" | "text"

	RosterPath string // YAML roster imported at boot

	RateLimitPerSecond int
	RateBurst          int
}

// Load reads envFile into the process environment if it exists, then
// builds the config from the environment. Variables already set win over
// the file.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	}
	return FromEnv(), nil
}

func FromEnv() Config {
	env := strings.ToLower(getenvDefault("PORTUNUS_ENV", "dev"))
	if env != "dev" && env != "prod" {
		// fail-soft: treat unknown as dev
		env = "dev"
	}

	st := strings.ToLower(getenvDefault("PORTUNUS_STORE", "sqlite"))
	if st != "sqlite" && st != "memory" {
		st = "sqlite"
	}

	format := strings.ToLower(getenvDefault("PORTUNUS_LOG_FORMAT", "json"))
	if format != "json" && format != "text" {
		format = "json"
	}

	return Config{
		HTTPAddr: getenvDefault("PORTUNUS_HTTP_ADDR", ":8080"),
		GRPCAddr: getenvAllowEmpty("PORTUNUS_GRPC_ADDR", ":9090"),

		Env:    env,
		Store:  st,
		DBPath: getenvDefault("PORTUNUS_DB_PATH", "./data/portunus.db"),

		OpenLatency:  getenvDuration("PORTUNUS_DOOR_OPEN_LATENCY", 500*time.Millisecond),
		HoldDuration: getenvDuration("PORTUNUS_DOOR_HOLD", 3*time.Second),
		CloseLatency: getenvDuration("PORTUNUS_DOOR_CLOSE_LATENCY", time.Second),

		AppendRetries: getenvInt("PORTUNUS_APPEND_RETRIES", 3),
		RetryBackoff:  getenvDuration("PORTUNUS_RETRY_BACKOFF", 50*time.Millisecond),

		MaxDwellHours:        getenvInt("PORTUNUS_MAX_DWELL_HOURS", 0),
		SweepIntervalMinutes: getenvInt("PORTUNUS_SWEEP_INTERVAL_MINUTES", 15),

		Location: getenvLocation("PORTUNUS_TIMEZONE", time.UTC),

		NATSURL: strings.TrimSpace(os.Getenv("PORTUNUS_NATS_URL")),

		LogLevel:  getenvDefault("PORTUNUS_LOG_LEVEL", "info"),
		LogFormat: format,

		RosterPath: strings.TrimSpace(os.Getenv("PORTUNUS_ROSTER_PATH")),

		RateLimitPerSecond: getenvInt("PORTUNUS_RATE_LIMIT_PER_SECOND", 20),
		RateBurst:          getenvInt("PORTUNUS_RATE_BURST", 40),
	}
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

// getenvAllowEmpty returns def only when key is unset, so an explicit
// empty value can switch a listener off.
func getenvAllowEmpty(key, def string) string {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	return strings.TrimSpace(v)
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return def
	}
	return d
}

func getenvLocation(key string, def *time.Location) *time.Location {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	loc, err := time.LoadLocation(v)
	if err != nil {
		return def
	}
	return loc
}
