package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// ConfigFileName is the name of the config file.
const ConfigFileName = "bookcalc.yaml"

// ConfigFileNameAlt is the alternate name of the config file.
const ConfigFileNameAlt = "bookcalc.yml"

// EnvPrefix prefixes environment variable overrides.
const EnvPrefix = "BOOKCALC_"

// maxUpwardSearchLevels limits how far up the directory tree to search for config files.
const maxUpwardSearchLevels = 10

// sections are the nested config groups. BOOKCALC_ENGINE_MAX_DEPTH maps to
// engine.max_depth, the first underscore after a section name becomes a dot.
var sections = []string{"log", "engine", "scheduler", "session", "writes", "audit", "server"}

// flagKeys maps flag names whose config key differs from the snake_cased name.
var flagKeys = map[string]string{
	"state":      "state_path",
	"columns":    "columns_path",
	"functions":  "functions_dir",
	"log-level":  "log.level",
	"log-format": "log.format",
	"host":       "server.host",
	"port":       "server.port",
	"watch":      "server.watch",
	"timeout":    "engine.timeout",
}

// pathFlags are flags holding paths. Values given on the command line are
// relative to the working directory, not the project root.
var pathFlags = map[string]string{
	"columns_path":  "columns",
	"functions_dir": "functions",
	"state_path":    "state",
}

// Load loads configuration starting the project search in the working directory.
// Precedence (highest to lowest): flags > env vars > config file > defaults.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	return LoadFrom(cwd, cfgFile, flags)
}

// LoadFrom loads configuration for the project found at or above dir.
func LoadFrom(dir, cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	projectRoot := findProjectRootUpward(dir)
	if projectRoot == "" {
		projectRoot = dir
	}
	if cfgFile != "" {
		if abs, err := filepath.Abs(cfgFile); err == nil {
			cfgFile = abs
			projectRoot = filepath.Dir(abs)
		}
	} else {
		cfgFile = findConfigFile(projectRoot)
	}

	// 1. Defaults
	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config file
	if cfgFile != "" {
		if err := k.Load(file.Provider(cfgFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", cfgFile, err)
		}
	}

	// 3. Environment variables
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags, only those explicitly set
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			return flagKey(f.Name), posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
			WeaklyTypedInput: true,
			Result:           &cfg,
		},
	}); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.ProjectRoot = projectRoot
	cfg.ConfigFile = cfgFile

	cfg.ColumnsPath = resolvePath(cfg.ColumnsPath, "columns_path", projectRoot, flags)
	cfg.FunctionsDir = resolvePath(cfg.FunctionsDir, "functions_dir", projectRoot, flags)
	if cfg.StatePath != ":memory:" {
		cfg.StatePath = resolvePath(cfg.StatePath, "state_path", projectRoot, flags)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// envKey transforms BOOKCALC_WRITES_MAX_RECORDS into writes.max_records.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	for _, section := range sections {
		if strings.HasPrefix(key, section+"_") {
			return section + "." + strings.TrimPrefix(key, section+"_")
		}
	}
	return key
}

func flagKey(name string) string {
	if key, ok := flagKeys[name]; ok {
		return key
	}
	return strings.ReplaceAll(name, "-", "_")
}

// resolvePath makes p absolute. Paths from flags resolve against the working
// directory; everything else against the project root.
func resolvePath(p, key, projectRoot string, flags *pflag.FlagSet) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	if flags != nil {
		if name, ok := pathFlags[key]; ok && flags.Changed(name) {
			if abs, err := filepath.Abs(p); err == nil {
				return abs
			}
			return p
		}
	}
	return filepath.Join(projectRoot, p)
}

// findConfigFile returns the config file in dir, or "" if there is none.
func findConfigFile(dir string) string {
	for _, name := range []string{ConfigFileName, ConfigFileNameAlt} {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// findProjectRootUpward searches upward from startDir for a config file.
// Returns empty string if not found within maxUpwardSearchLevels.
func findProjectRootUpward(startDir string) string {
	dir := startDir
	for i := 0; i < maxUpwardSearchLevels; i++ {
		if findConfigFile(dir) != "" {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}
