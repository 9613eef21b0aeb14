package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// TOMLConfig is the on-disk server configuration.
type TOMLConfig struct {
	Server ServerSection `toml:"server"`
	Limits LimitsSection `toml:"limits"`
}

type ServerSection struct {
	TCPPort      int    `toml:"tcp_port"`
	HTTPPort     int    `toml:"http_port"`     // WebSocket transport (/ws); 0 disables
	MetricsPort  int    `toml:"metrics_port"`  // /metrics and /health; 0 disables
	DatabasePath string `toml:"database_path"` // empty runs without snapshots

	SnapshotIntervalSeconds int `toml:"snapshot_interval_seconds"`
}

type LimitsSection struct {
	ServerHashCost     int `toml:"server_hash_cost"`
	PushTimeoutSeconds int `toml:"push_timeout_seconds"`
}

// DefaultTOMLConfig returns the default configuration.
func DefaultTOMLConfig() TOMLConfig {
	return TOMLConfig{
		Server: ServerSection{
			TCPPort:                 5252,
			HTTPPort:                8080,
			MetricsPort:             9090,
			DatabasePath:            "~/.chatserve/chatserve.db",
			SnapshotIntervalSeconds: 30,
		},
		Limits: LimitsSection{
			ServerHashCost:     12,
			PushTimeoutSeconds: 5,
		},
	}
}

// LoadConfig loads configuration from a TOML file, writing the defaults
// if the file does not exist, then applies CHATSERVE_* environment
// overrides.
func LoadConfig(path string) (TOMLConfig, error) {
	expanded, err := expandHome(path)
	if err != nil {
		return TOMLConfig{}, err
	}
	path = expanded

	if _, err := os.Stat(path); os.IsNotExist(err) {
		config := DefaultTOMLConfig()
		// Best effort: if the default config can't be written we still
		// run with defaults.
		writeDefaultConfig(path, config)
		return applyEnvOverrides(config), nil
	}

	var config TOMLConfig
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return TOMLConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}
	return applyEnvOverrides(config), nil
}

// Runtime converts the file config into the server's runtime Config.
func (c TOMLConfig) Runtime() (Config, error) {
	dbPath := c.Server.DatabasePath
	if dbPath != "" {
		expanded, err := expandHome(dbPath)
		if err != nil {
			return Config{}, err
		}
		dbPath = expanded
	}
	return Config{
		TCPAddr:          fmt.Sprintf(":%d", c.Server.TCPPort),
		HTTPAddr:         addrOrEmpty(c.Server.HTTPPort),
		MetricsAddr:      addrOrEmpty(c.Server.MetricsPort),
		DatabasePath:     dbPath,
		SnapshotInterval: time.Duration(c.Server.SnapshotIntervalSeconds) * time.Second,
		ServerHashCost:   c.Limits.ServerHashCost,
		PushTimeout:      time.Duration(c.Limits.PushTimeoutSeconds) * time.Second,
	}, nil
}

func addrOrEmpty(port int) string {
	if port <= 0 {
		return ""
	}
	return fmt.Sprintf(":%d", port)
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, path[2:]), nil
}

func writeDefaultConfig(path string, config TOMLConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(config)
}

// applyEnvOverrides applies CHATSERVE_SECTION_KEY environment variables,
// e.g. CHATSERVE_SERVER_TCP_PORT=7000.
func applyEnvOverrides(config TOMLConfig) TOMLConfig {
	if v, ok := envInt("CHATSERVE_SERVER_TCP_PORT"); ok {
		config.Server.TCPPort = v
	}
	if v, ok := envInt("CHATSERVE_SERVER_HTTP_PORT"); ok {
		config.Server.HTTPPort = v
	}
	if v, ok := envInt("CHATSERVE_SERVER_METRICS_PORT"); ok {
		config.Server.MetricsPort = v
	}
	if v := os.Getenv("CHATSERVE_SERVER_DATABASE_PATH"); v != "" {
		config.Server.DatabasePath = v
	}
	if v, ok := envInt("CHATSERVE_SERVER_SNAPSHOT_INTERVAL_SECONDS"); ok {
		config.Server.SnapshotIntervalSeconds = v
	}
	if v, ok := envInt("CHATSERVE_LIMITS_SERVER_HASH_COST"); ok {
		config.Limits.ServerHashCost = v
	}
	if v, ok := envInt("CHATSERVE_LIMITS_PUSH_TIMEOUT_SECONDS"); ok {
		config.Limits.PushTimeoutSeconds = v
	}
	return config
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
