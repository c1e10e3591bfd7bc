package config

// Default configuration values.
const (
	DefaultColumnsPath  = "columns.yaml"
	DefaultFunctionsDir = "functions"
	DefaultStateFile    = ".bookcalc/state.db"
	DefaultPort         = 8790
)

// Defaults returns the default configuration as a flat koanf map.
func Defaults() map[string]any {
	return map[string]any{
		"columns_path":             DefaultColumnsPath,
		"functions_dir":            DefaultFunctionsDir,
		"state_path":               DefaultStateFile,
		"log.level":                "info",
		"log.format":               "text",
		"engine.timeout":           "10s",
		"engine.max_parallel":      8,
		"engine.max_depth":         32,
		"engine.max_steps":         10_000_000,
		"scheduler.debounce":       "100ms",
		"session.blur_grace":       "100ms",
		"writes.max_records":       50,
		"writes.flush_window":      "500ms",
		"writes.max_batch_size":    500,
		"writes.retries":           3,
		"writes.retry_base":        "50ms",
		"audit.compress_threshold": 10240,
		"audit.user_id":            "",
		"audit.user_name":          "",
		"server.host":              "127.0.0.1",
		"server.port":              DefaultPort,
		"server.watch":             true,
	}
}
