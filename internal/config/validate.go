package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var errs []error

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level: unknown level %q", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: must be text or json, got %q", c.Log.Format))
	}

	if c.Engine.Timeout <= 0 {
		errs = append(errs, errors.New("engine.timeout: must be positive"))
	}
	if c.Engine.MaxParallel < 1 {
		errs = append(errs, errors.New("engine.max_parallel: must be at least 1"))
	}
	if c.Engine.MaxDepth < 1 {
		errs = append(errs, errors.New("engine.max_depth: must be at least 1"))
	}
	if c.Scheduler.Debounce < 0 {
		errs = append(errs, errors.New("scheduler.debounce: must not be negative"))
	}
	if c.Writes.MaxRecords < 1 {
		errs = append(errs, errors.New("writes.max_records: must be at least 1"))
	}
	if c.Writes.MaxBatchSize < 1 {
		errs = append(errs, errors.New("writes.max_batch_size: must be at least 1"))
	}
	if c.Writes.FlushWindow <= 0 {
		errs = append(errs, errors.New("writes.flush_window: must be positive"))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port: %d out of range", c.Server.Port))
	}

	return errors.Join(errs...)
}
