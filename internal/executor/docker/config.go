package docker

import (
	"time"
)

// Config holds the configuration for Docker execution.
type Config struct {
	// Image is the Docker image to use for execution.
	Image string
	// MemoryLimit is the maximum amount of memory the container can use (in bytes).
	MemoryLimit int64
	// CPULimit is the number of CPUs the container can use.
	CPULimit float64
	// Timeout bounds a single snippet run. Zero leaves it to the caller's context.
	Timeout time.Duration
	// PoolSize is the number of pre-warmed containers to maintain.
	PoolSize int
	// User runs the snippet process inside the container.
	User string
	// ScratchRoot is bind-mounted read-write at the same path so that files a
	// snippet writes there are visible to the publisher on the host.
	ScratchRoot string
}

// DefaultConfig mirrors the defaults of the execution config section.
func DefaultConfig() Config {
	return Config{
		Image:       "python:3.12-alpine",
		MemoryLimit: 128 * 1024 * 1024,
		CPULimit:    0.5,
		Timeout:     30 * time.Second,
		PoolSize:    3,
		User:        "nobody",
		ScratchRoot: "/tmp",
	}
}
