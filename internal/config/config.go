// Package config reads the process configuration from the environment.
// It is read exactly once at startup; nothing else in the codebase
// touches environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Defaults applied when the corresponding variable is unset.
const (
	DefaultTokenTTL       = time.Hour
	DefaultRequestTimeout = 120 * time.Second
	DefaultConnectTimeout = 30 * time.Second
	DefaultMaxAttempts    = 4
)

// Config holds everything knockon needs to talk to the graph server.
type Config struct {
	// ServerHost is the graph server base URL, e.g. https://graph.example.com.
	ServerHost string
	// Username and Password are the password-grant credentials.
	Username string
	Password string
	// Workspace is the materialized view name queried for impacts.
	Workspace string

	// DebugMode enables the sqlite diagnostics recorder.
	DebugMode bool
	// DebugDBPath is where the diagnostics database lives.
	DebugDBPath string

	// TokenTTL is the assumed credential lifetime when the login
	// response does not report one.
	TokenTTL       time.Duration
	RequestTimeout time.Duration
	ConnectTimeout time.Duration
	// MaxAttempts bounds the fetch retry loop (includes the first try).
	MaxAttempts int
}

// Load reads the environment into a Config. Missing required variables
// are reported together in one error.
func Load() (*Config, error) {
	cfg := &Config{
		ServerHost:     strings.TrimRight(os.Getenv("KNOCKON_SERVER_HOST"), "/"),
		Username:       os.Getenv("KNOCKON_USERNAME"),
		Password:       os.Getenv("KNOCKON_PASSWORD"),
		Workspace:      os.Getenv("KNOCKON_WORKSPACE_NAME"),
		DebugMode:      getBool("KNOCKON_DEBUG_MODE", false),
		DebugDBPath:    getString("KNOCKON_DEBUG_DB", defaultDebugDBPath()),
		TokenTTL:       getSeconds("KNOCKON_TOKEN_CACHE_TTL", DefaultTokenTTL),
		RequestTimeout: getSeconds("KNOCKON_REQUEST_TIMEOUT", DefaultRequestTimeout),
		ConnectTimeout: getSeconds("KNOCKON_CONNECT_TIMEOUT", DefaultConnectTimeout),
		MaxAttempts:    getInt("KNOCKON_MAX_ATTEMPTS", DefaultMaxAttempts),
	}

	var missing []string
	if cfg.ServerHost == "" {
		missing = append(missing, "KNOCKON_SERVER_HOST")
	}
	if cfg.Username == "" {
		missing = append(missing, "KNOCKON_USERNAME")
	}
	if cfg.Password == "" {
		missing = append(missing, "KNOCKON_PASSWORD")
	}
	if cfg.Workspace == "" {
		missing = append(missing, "KNOCKON_WORKSPACE_NAME")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	if cfg.MaxAttempts < 1 {
		return nil, fmt.Errorf("KNOCKON_MAX_ATTEMPTS must be at least 1, got %d", cfg.MaxAttempts)
	}

	return cfg, nil
}

// defaultDebugDBPath keeps diagnostics under the system temp directory
// so the server works without a writable working directory.
func defaultDebugDBPath() string {
	return filepath.Join(os.TempDir(), "knockon", "diagnostics.db")
}

func getString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(strings.ToLower(v))
	if err != nil {
		return fallback
	}
	return b
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

// getSeconds reads an integer number of seconds.
func getSeconds(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return time.Duration(n) * time.Second
}
