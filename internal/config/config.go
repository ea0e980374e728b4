package config

import (
	"os"
	"strconv"
	"time"
)

// Config collects every tunable of the watcher. Values come from LCUWATCH_*
// environment variables; a .env file loaded at startup fills the environment
// first.
type Config struct {
	// LockfilePath pins the lockfile location, skipping discovery.
	LockfilePath string
	// Languages feeds the name database: a locale, a comma list, or "all".
	Languages string
	// CacheDir overrides where Data Dragon responses are cached.
	CacheDir string
	// ListenAddr is the status API address; empty disables the API
	// (set LCUWATCH_LISTEN=off, an empty variable falls back to the default).
	ListenAddr string
	LogLevel   string

	TickInterval time.Duration
	TickFallback time.Duration
	TickResample time.Duration

	ProbeAttempts int
	ProbeInterval time.Duration

	PingInterval     time.Duration
	PingTimeout      time.Duration
	ReconnectBackoff time.Duration

	// WatchLockfile enables the filesystem watcher next to polling.
	WatchLockfile bool
}

func FromEnv() Config {
	return Config{
		LockfilePath: getEnv("LCUWATCH_LOCKFILE", ""),
		Languages:    getEnv("LCUWATCH_LANGS", "en_US"),
		CacheDir:     getEnv("LCUWATCH_CACHE_DIR", ""),
		ListenAddr:   listenAddr(),
		LogLevel:     getEnv("LCUWATCH_LOG_LEVEL", "info"),

		TickInterval: getDuration("LCUWATCH_TICK_INTERVAL", time.Second),
		TickFallback: getDuration("LCUWATCH_TICK_FALLBACK", 0),
		TickResample: getDuration("LCUWATCH_TICK_RESAMPLE", 0),

		ProbeAttempts: getInt("LCUWATCH_PROBE_ATTEMPTS", 8),
		ProbeInterval: getDuration("LCUWATCH_PROBE_INTERVAL", 60*time.Millisecond),

		PingInterval:     getDuration("LCUWATCH_PING_INTERVAL", 20*time.Second),
		PingTimeout:      getDuration("LCUWATCH_PING_TIMEOUT", 10*time.Second),
		ReconnectBackoff: getDuration("LCUWATCH_RECONNECT_BACKOFF", time.Second),

		WatchLockfile: getBool("LCUWATCH_WATCH_LOCKFILE", true),
	}
}

func listenAddr() string {
	v := getEnv("LCUWATCH_LISTEN", "127.0.0.1:8090")
	if v == "off" {
		return ""
	}
	return v
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
