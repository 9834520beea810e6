package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all graphflow configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	ListenAddr string `json:"listen_addr"`
	LogLevel   string `json:"log_level"`
	LogFormat  string `json:"log_format"`

	// Store is "libsql" or "memory". DBPath is used by libsql only.
	Store       string `json:"store"`
	DBPath      string `json:"db_path"`
	RunCapacity int    `json:"run_capacity"`

	PoolSize int `json:"pool_size"`
	MaxSteps int `json:"max_steps"`

	Scheduler         bool `json:"scheduler"`
	SchedulerInterval int  `json:"scheduler_interval_seconds"`

	// CatalogPath is a YAML file or directory of graphs and schedules
	// registered at startup.
	CatalogPath   string `json:"catalog_path"`
	DiagramBinDir string `json:"diagram_bin_dir"`
}

func defaultConfig() Config {
	dir := graphflowDir()
	return Config{
		ListenAddr:        ":4200",
		LogLevel:          "info",
		LogFormat:         "text",
		Store:             "libsql",
		DBPath:            filepath.Join(dir, "graphflow.db"),
		RunCapacity:       1000,
		PoolSize:          10,
		Scheduler:         true,
		SchedulerInterval: 60,
		DiagramBinDir:     filepath.Join(dir, "bin"),
	}
}

func graphflowDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".graphflow"
	}
	return filepath.Join(home, ".graphflow")
}

func settingsPath() string {
	return filepath.Join(graphflowDir(), "settings.json")
}

func loadConfig() (Config, error) {
	return loadConfigFrom(settingsPath(), os.Getenv)
}

// loadConfigFrom layers the settings file at path and then getenv over the
// defaults. A missing settings file is not an error; a malformed one is.
func loadConfigFrom(path string, getenv func(string) string) (Config, error) {
	cfg := defaultConfig()

	// Layer 2: settings.json.
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	// Layer 3: env vars override.
	strs := map[string]*string{
		"GRAPHFLOW_LISTEN_ADDR":     &cfg.ListenAddr,
		"GRAPHFLOW_LOG_LEVEL":       &cfg.LogLevel,
		"GRAPHFLOW_LOG_FORMAT":      &cfg.LogFormat,
		"GRAPHFLOW_STORE":           &cfg.Store,
		"GRAPHFLOW_DB_PATH":         &cfg.DBPath,
		"GRAPHFLOW_CATALOG":         &cfg.CatalogPath,
		"GRAPHFLOW_DIAGRAM_BIN_DIR": &cfg.DiagramBinDir,
	}
	for key, dst := range strs {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"GRAPHFLOW_RUN_CAPACITY":       &cfg.RunCapacity,
		"GRAPHFLOW_POOL_SIZE":          &cfg.PoolSize,
		"GRAPHFLOW_MAX_STEPS":          &cfg.MaxSteps,
		"GRAPHFLOW_SCHEDULER_INTERVAL": &cfg.SchedulerInterval,
	}
	for key, dst := range ints {
		v := getenv(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("%s: %q is not an integer", key, v)
		}
		*dst = n
	}

	if v := getenv("GRAPHFLOW_SCHEDULER"); v != "" {
		cfg.Scheduler = v == "true" || v == "1"
	}

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.Store {
	case "libsql", "memory":
	default:
		return fmt.Errorf("store must be libsql or memory, got %q", c.Store)
	}
	if c.PoolSize < 0 {
		return fmt.Errorf("pool_size must not be negative")
	}
	if c.Scheduler && c.SchedulerInterval <= 0 {
		return fmt.Errorf("scheduler_interval_seconds must be positive")
	}
	return nil
}

func (c Config) schedulerInterval() time.Duration {
	return time.Duration(c.SchedulerInterval) * time.Second
}

// dsn returns the libSQL data source name for DBPath.
func (c Config) dsn() string {
	return "file:" + c.DBPath
}
