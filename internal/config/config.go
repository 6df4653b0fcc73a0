package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Inventory backends selectable with INVENTORY_BACKEND.
const (
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config holds application configuration derived from environment variables.
type Config struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// RedisAddrs lists Redis endpoints. More than one address selects the
	// cluster client, where hash-tagged keys spread records over slots.
	RedisAddrs       []string
	PostgresDSN      string
	InventoryBackend string
	// InventoryPartitions is the number of inventory partitions. The partition
	// keys themselves are fixed in code.
	InventoryPartitions int
	DebugTrace          bool
	ServiceName         string
	// Selection configuration
	ZoneFetchTimeout    time.Duration
	ProfileFetchTimeout time.Duration
	FrequencyWindow     time.Duration
	MaxAds              int
	ShuffleSeed         uint64
	// Campaign lifecycle configuration
	DeactivationMaxAttempts   int
	DeactivationRetryInterval time.Duration
	DeactivationConcurrency   int
	LifecycleChannel          string
	// Circuit breaker configuration for store calls
	BreakerFailureThreshold uint32
	BreakerOpenTimeout      time.Duration
	// Database connection pooling configuration
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	DBConnMaxIdleTime time.Duration
	// Tracing configuration
	TracingEnabled    bool
	TempoEndpoint     string
	TracingSampleRate float64
}

// Load parses environment variables and returns a Config populated with
// defaults when variables are absent.
func Load() Config {
	cfg := Config{}

	cfg.Port = getenv("PORT", "8787")
	cfg.ReadTimeout = envDuration("READ_TIMEOUT", 5*time.Second)
	cfg.WriteTimeout = envDuration("WRITE_TIMEOUT", 10*time.Second)
	cfg.RedisAddrs = envList("REDIS_ADDRS", []string{getenv("REDIS_ADDR", "localhost:6379")})
	cfg.PostgresDSN = getenv("POSTGRES_DSN", "postgres://postgres@127.0.0.1:5432/postgres?sslmode=disable")
	cfg.InventoryBackend = strings.ToLower(getenv("INVENTORY_BACKEND", BackendRedis))
	cfg.InventoryPartitions = envInt("INVENTORY_PARTITIONS", 16)
	cfg.DebugTrace = envBool("DEBUG_TRACE", false)
	cfg.ServiceName = getenv("SERVICE_NAME", "adselect")

	// Store calls sit on the request path, keep them tight
	cfg.ZoneFetchTimeout = envDuration("ZONE_FETCH_TIMEOUT", 50*time.Millisecond)
	cfg.ProfileFetchTimeout = envDuration("PROFILE_FETCH_TIMEOUT", 30*time.Millisecond)
	cfg.FrequencyWindow = envDuration("FREQUENCY_WINDOW", 24*time.Hour)
	cfg.MaxAds = envInt("MAX_ADS", 10)
	cfg.ShuffleSeed = uint64(envInt("SHUFFLE_SEED", 0))

	cfg.DeactivationMaxAttempts = envInt("DEACTIVATION_MAX_ATTEMPTS", 5)
	cfg.DeactivationRetryInterval = envDuration("DEACTIVATION_RETRY_INTERVAL", 200*time.Millisecond)
	cfg.DeactivationConcurrency = envInt("DEACTIVATION_CONCURRENCY", 8)
	cfg.LifecycleChannel = getenv("LIFECYCLE_CHANNEL", "campaign-lifecycle")

	cfg.BreakerFailureThreshold = uint32(envInt("BREAKER_FAILURE_THRESHOLD", 5))
	cfg.BreakerOpenTimeout = envDuration("BREAKER_OPEN_TIMEOUT", 2*time.Second)

	cfg.DBMaxOpenConns = envInt("DB_MAX_OPEN_CONNS", 25)
	cfg.DBMaxIdleConns = envInt("DB_MAX_IDLE_CONNS", 5)
	cfg.DBConnMaxLifetime = envDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	cfg.DBConnMaxIdleTime = envDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute)

	cfg.TracingEnabled = envBool("TRACING_ENABLED", false)
	cfg.TempoEndpoint = getenv("TEMPO_ENDPOINT", "tempo:4317")
	cfg.TracingSampleRate = envFloat("TRACING_SAMPLE_RATE", 1.0)

	return cfg
}

// getenv returns the value of the environment variable if set, otherwise def.
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envList splits a comma separated variable, dropping empty items.
func envList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

// envDuration parses an environment variable into a time.Duration.
// The value can be a duration string (e.g. "5s") or a number of seconds.
// If the variable is unset or invalid, def is returned.
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}

// envBool parses a boolean environment variable. Accepted values are those
// supported by strconv.ParseBool. When unset or invalid, def is returned.
func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return def
}

// envInt parses an integer environment variable. When unset or invalid, def is returned.
func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if i, err := strconv.Atoi(v); err == nil {
		return i
	}
	return def
}

// envFloat parses a float64 environment variable. When unset or invalid, def is returned.
func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return def
}
