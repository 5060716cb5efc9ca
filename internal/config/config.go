// Package config holds the static settings shared by the action host and the
// monitor feed. Settings are read once at startup and never change afterwards.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config is the full configuration tree. YAML keys mirror the field tags.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Logging      LoggingConfig      `yaml:"logging"`
	Storage      StorageConfig      `yaml:"storage"`
	Execution    ExecutionConfig    `yaml:"execution"`
	Capabilities CapabilitiesConfig `yaml:"capabilities"`
	Monitor      MonitorConfig      `yaml:"monitor"`
	Feed         FeedConfig         `yaml:"feed"`
}

type ServerConfig struct {
	Port        int `yaml:"port"`
	MonitorPort int `yaml:"monitor_port"`
}

type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is text or json.
	Format string `yaml:"format"`
}

// StorageConfig describes the two filesystem areas artifacts move between.
type StorageConfig struct {
	// ScratchRoot is where snippets write artifacts before publication.
	ScratchRoot string `yaml:"scratch_root"`
	// PublicDir backs the externally fetchable URLs.
	PublicDir string `yaml:"public_dir"`
	// URLPrefix is prepended to every published file name.
	URLPrefix string `yaml:"url_prefix"`
}

type ExecutionConfig struct {
	// Engine selects the execution backend: docker (python) or goja (javascript).
	Engine string `yaml:"engine"`
	// Fallback is the engine used when docker cannot be reached at startup.
	// Empty means the host refuses to start instead.
	Fallback string `yaml:"fallback"`
	// Timeout bounds one snippet run. Zero disables the bound.
	Timeout time.Duration `yaml:"timeout"`
	Docker  DockerConfig  `yaml:"docker"`
}

type DockerConfig struct {
	Image       string  `yaml:"image"`
	MemoryLimit int64   `yaml:"memory_limit"`
	CPULimit    float64 `yaml:"cpu_limit"`
	PoolSize    int     `yaml:"pool_size"`
	User        string  `yaml:"user"`
}

// CapabilitiesConfig lists what gets injected into every snippet's namespace.
type CapabilitiesConfig struct {
	Modules []string `yaml:"modules"`
	Files   []string `yaml:"files"`
}

// MonitorConfig configures the notifier that pings the monitor feed.
type MonitorConfig struct {
	// URL is the feed's base URL. Empty disables notifications.
	URL            string        `yaml:"url"`
	QueueSize      int           `yaml:"queue_size"`
	Workers        int           `yaml:"workers"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// FeedConfig configures the monitor feed process.
type FeedConfig struct {
	Capacity     int    `yaml:"capacity"`
	CodeLanguage string `yaml:"code_language"`
	CodeStyle    string `yaml:"code_style"`
	Timezone     string `yaml:"timezone"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:        8080,
			MonitorPort: 8300,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Storage: StorageConfig{
			ScratchRoot: "/tmp",
			PublicDir:   "data/files",
			URLPrefix:   "http://localhost:8080/files",
		},
		Execution: ExecutionConfig{
			Engine:  "docker",
			Timeout: 30 * time.Second,
			Docker: DockerConfig{
				Image:       "python:3.12-alpine",
				MemoryLimit: 128 * 1024 * 1024,
				CPULimit:    0.5,
				PoolSize:    3,
				User:        "nobody",
			},
		},
		Monitor: MonitorConfig{
			QueueSize:      256,
			Workers:        4,
			RequestTimeout: 10 * time.Second,
		},
		Feed: FeedConfig{
			Capacity:     10,
			CodeLanguage: "python",
			CodeStyle:    "colorful",
			Timezone:     "America/Los_Angeles",
		},
	}
}

// Validate checks the settings that would otherwise fail late at runtime.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Server.MonitorPort <= 0 || c.Server.MonitorPort > 65535 {
		return fmt.Errorf("server.monitor_port %d out of range", c.Server.MonitorPort)
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	if c.Storage.ScratchRoot == "" || !filepath.IsAbs(c.Storage.ScratchRoot) {
		return fmt.Errorf("storage.scratch_root must be an absolute path, got %q", c.Storage.ScratchRoot)
	}
	if c.Storage.PublicDir == "" {
		return fmt.Errorf("storage.public_dir is required")
	}
	if _, err := url.Parse(c.Storage.URLPrefix); err != nil || c.Storage.URLPrefix == "" {
		return fmt.Errorf("storage.url_prefix %q is not a valid url", c.Storage.URLPrefix)
	}
	switch c.Execution.Engine {
	case "docker", "goja":
	default:
		return fmt.Errorf("execution.engine must be docker or goja, got %q", c.Execution.Engine)
	}
	if c.Execution.Fallback != "" && c.Execution.Fallback != "goja" {
		return fmt.Errorf("execution.fallback must be empty or goja, got %q", c.Execution.Fallback)
	}
	if c.Execution.Timeout < 0 {
		return fmt.Errorf("execution.timeout must not be negative")
	}
	if c.Monitor.URL != "" {
		if _, err := url.ParseRequestURI(c.Monitor.URL); err != nil {
			return fmt.Errorf("monitor.url %q: %w", c.Monitor.URL, err)
		}
	}
	if c.Monitor.QueueSize <= 0 || c.Monitor.Workers <= 0 {
		return fmt.Errorf("monitor.queue_size and monitor.workers must be positive")
	}
	if c.Feed.Capacity <= 0 {
		return fmt.Errorf("feed.capacity must be positive, got %d", c.Feed.Capacity)
	}
	if _, err := time.LoadLocation(c.Feed.Timezone); err != nil {
		return fmt.Errorf("feed.timezone: %w", err)
	}
	return nil
}

// ParseLevel maps a configured verbosity to a slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("logging.level %q is not one of debug, info, warn, error", level)
	}
}

// NewLogger builds the process logger from the logging section.
func (c LoggingConfig) NewLogger() *slog.Logger {
	level, _ := ParseLevel(c.Level)
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
