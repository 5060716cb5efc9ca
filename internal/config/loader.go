package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load builds the configuration from, in order:
//  1. Built-in defaults
//  2. A YAML file (explicit path, ACTIONS_CONFIG, ./config.yaml, /etc/actionrunner/config.yaml)
//  3. A .env file in the working directory, if present
//  4. ACTIONS_* environment variables
//  5. Validation
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	if path := discoverConfigFile(configPath); path != "" {
		if err := loadYAMLFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return &cfg, nil
}

func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}
	if envPath := os.Getenv("ACTIONS_CONFIG"); envPath != "" {
		return envPath
	}
	for _, path := range []string{"config.yaml", "/etc/actionrunner/config.yaml"} {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// loadYAMLFile overlays the file onto cfg; absent keys keep their defaults.
func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func applyEnvOverrides(cfg *Config) error {
	strs := map[string]*string{
		"ACTIONS_LOG_LEVEL":     &cfg.Logging.Level,
		"ACTIONS_LOG_FORMAT":    &cfg.Logging.Format,
		"ACTIONS_SCRATCH_ROOT":  &cfg.Storage.ScratchRoot,
		"ACTIONS_PUBLIC_DIR":    &cfg.Storage.PublicDir,
		"ACTIONS_URL_PREFIX":    &cfg.Storage.URLPrefix,
		"ACTIONS_ENGINE":        &cfg.Execution.Engine,
		"ACTIONS_FALLBACK":      &cfg.Execution.Fallback,
		"ACTIONS_DOCKER_IMAGE":  &cfg.Execution.Docker.Image,
		"ACTIONS_MONITOR_URL":   &cfg.Monitor.URL,
		"ACTIONS_FEED_LANGUAGE": &cfg.Feed.CodeLanguage,
		"ACTIONS_FEED_TIMEZONE": &cfg.Feed.Timezone,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"PORT":                  &cfg.Server.Port,
		"ACTIONS_PORT":          &cfg.Server.Port,
		"ACTIONS_MONITOR_PORT":  &cfg.Server.MonitorPort,
		"ACTIONS_DOCKER_POOL":   &cfg.Execution.Docker.PoolSize,
		"ACTIONS_FEED_CAPACITY": &cfg.Feed.Capacity,
	}
	// ACTIONS_PORT wins over the generic PORT.
	for _, key := range []string{"PORT", "ACTIONS_PORT", "ACTIONS_MONITOR_PORT", "ACTIONS_DOCKER_POOL", "ACTIONS_FEED_CAPACITY"} {
		v, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s value %q: %w", key, v, err)
		}
		*ints[key] = n
	}

	if v, ok := os.LookupEnv("ACTIONS_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid ACTIONS_TIMEOUT value %q: %w", v, err)
		}
		cfg.Execution.Timeout = d
	}

	if v, ok := os.LookupEnv("ACTIONS_MODULES"); ok {
		cfg.Capabilities.Modules = splitList(v)
	}
	if v, ok := os.LookupEnv("ACTIONS_FILES"); ok {
		cfg.Capabilities.Files = splitList(v)
	}
	return nil
}

// splitList parses the comma separated lists used by the module and file settings.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
