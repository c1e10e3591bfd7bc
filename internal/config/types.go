// Package config loads bookcalc configuration from defaults, a project file,
// BOOKCALC_ environment variables and command-line flags.
package config

import "time"

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // text, json
}

// EngineConfig configures function execution and recompute.
type EngineConfig struct {
	Timeout     time.Duration `koanf:"timeout"`
	MaxParallel int           `koanf:"max_parallel"`
	MaxDepth    int           `koanf:"max_depth"`
	MaxSteps    uint64        `koanf:"max_steps"`
}

// SchedulerConfig configures the recompute debounce.
type SchedulerConfig struct {
	Debounce time.Duration `koanf:"debounce"`
}

// SessionConfig configures the local edit merge layer.
type SessionConfig struct {
	BlurGrace time.Duration `koanf:"blur_grace"`
}

// WritesConfig configures the pending write queue and store batches.
type WritesConfig struct {
	MaxRecords   int           `koanf:"max_records"`
	FlushWindow  time.Duration `koanf:"flush_window"`
	MaxBatchSize int           `koanf:"max_batch_size"`
	Retries      uint64        `koanf:"retries"`
	RetryBase    time.Duration `koanf:"retry_base"`
}

// AuditConfig configures version snapshots.
type AuditConfig struct {
	CompressThreshold int    `koanf:"compress_threshold"`
	UserID            string `koanf:"user_id"`
	UserName          string `koanf:"user_name"`
}

// ServerConfig holds configuration for the HTTP server.
type ServerConfig struct {
	Host  string `koanf:"host"`
	Port  int    `koanf:"port"`
	Watch bool   `koanf:"watch"`
}

// Config holds all bookcalc configuration options.
type Config struct {
	ColumnsPath  string          `koanf:"columns_path"`
	FunctionsDir string          `koanf:"functions_dir"`
	StatePath    string          `koanf:"state_path"`
	Log          LogConfig       `koanf:"log"`
	Engine       EngineConfig    `koanf:"engine"`
	Scheduler    SchedulerConfig `koanf:"scheduler"`
	Session      SessionConfig   `koanf:"session"`
	Writes       WritesConfig    `koanf:"writes"`
	Audit        AuditConfig     `koanf:"audit"`
	Server       ServerConfig    `koanf:"server"`

	// ProjectRoot is the directory relative paths are resolved against.
	ProjectRoot string `koanf:"-"`
	// ConfigFile is the config file that was loaded, if any.
	ConfigFile string `koanf:"-"`
}
