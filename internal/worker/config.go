package worker

import (
	"fmt"
	"time"
)

// Config holds the configuration for the background maintenance worker.
type Config struct {
	// TaskTimeout is the maximum time a single task run is allowed to take.
	// If a run exceeds this timeout, its context is canceled and the run is
	// recorded as failed.
	// Default: 5 minutes
	TaskTimeout time.Duration

	// ShutdownTimeout is how long to wait for in-flight task runs to complete
	// during graceful shutdown. After this timeout, the worker stops even if
	// runs are still in progress.
	// Default: 30 seconds
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		TaskTimeout:     5 * time.Minute,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Validate checks if the configuration is valid.
// Returns an error if any values are invalid.
func (c Config) Validate() error {
	if c.TaskTimeout < 1*time.Second {
		return fmt.Errorf("task timeout must be at least 1 second, got %v", c.TaskTimeout)
	}
	if c.ShutdownTimeout < 1*time.Second {
		return fmt.Errorf("shutdown timeout must be at least 1 second, got %v", c.ShutdownTimeout)
	}
	return nil
}
