package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/loykin/browserun/internal/adapter"
	"github.com/loykin/browserun/internal/launcher"
	"github.com/loykin/browserun/internal/logger"
	"github.com/loykin/browserun/internal/server"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables overriding config keys,
// e.g. BROWSERUN_CLIENT_PORT for client.port.
const EnvPrefix = "BROWSERUN"

// FileConfig is the top-level structure of a browserun config file. TOML, YAML
// and JSON are accepted.
type FileConfig struct {
	Env      []string `toml:"env" mapstructure:"env"`
	EnvFiles []string `toml:"env_files" mapstructure:"env_files"`

	Log    logger.Config        `toml:"log" mapstructure:"log"`
	Client server.ClientOptions `toml:"client" mapstructure:"client"`
	Proxy  server.ProxyOptions  `toml:"proxy" mapstructure:"proxy"`

	// Browsers accepts plain names ("firefox") as well as full tables.
	Browsers     []launcher.Browser `toml:"browsers" mapstructure:"browsers"`
	Adapter      adapter.Options    `toml:"adapter" mapstructure:"adapter"`
	AdapterDirs  []string           `toml:"adapter_dirs" mapstructure:"adapter_dirs"`
	Reporters    []string           `toml:"reporters" mapstructure:"reporters"`
	Once         bool               `toml:"once" mapstructure:"once"`
	ReadyTimeout time.Duration      `toml:"ready_timeout" mapstructure:"ready_timeout"`
	KillTimeout  time.Duration      `toml:"kill_timeout" mapstructure:"kill_timeout"`
	KillAttempts int                `toml:"kill_attempts" mapstructure:"kill_attempts"`

	History HistoryConfig `toml:"history" mapstructure:"history"`
	Metrics MetricsConfig `toml:"metrics" mapstructure:"metrics"`
}

// HistoryConfig enables recording of run results. See history.NewSinkFromDSN
// for the accepted DSN formats.
type HistoryConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

// MetricsConfig controls the browser resource sampler. The /metrics route is
// enabled through client.metrics.
type MetricsConfig struct {
	SampleInterval time.Duration `toml:"sample_interval" mapstructure:"sample_interval"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.color", false)
	v.SetDefault("log.file.dir", "")
	v.SetDefault("client.host", "localhost")
	v.SetDefault("client.port", 0)
	v.SetDefault("client.metrics", false)
	v.SetDefault("proxy.host", "localhost")
	v.SetDefault("proxy.port", 0)
	v.SetDefault("proxy.target", "")
	v.SetDefault("browsers", []string{})
	v.SetDefault("adapter.name", "mocha")
	v.SetDefault("adapter.module", "")
	v.SetDefault("adapter_dirs", []string{"node_modules"})
	v.SetDefault("reporters", []string{"dot"})
	v.SetDefault("once", false)
	v.SetDefault("ready_timeout", "10s")
	v.SetDefault("kill_timeout", "2s")
	v.SetDefault("kill_attempts", 0)
	v.SetDefault("history.dsn", "")
	v.SetDefault("metrics.sample_interval", "0s")
}

// New returns a viper instance with defaults and BROWSERUN_ env overrides set
// up. Callers may bind flags on it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	defaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path (when not empty) into v and decodes the result. Precedence
// is flags, then environment, then the file, then defaults.
func Load(v *viper.Viper, path string) (*FileConfig, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := fc.Validate(); err != nil {
		return nil, err
	}
	return &fc, nil
}

// LoadFile is Load on a fresh viper instance.
func LoadFile(path string) (*FileConfig, error) {
	return Load(New(), path)
}

func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		browserNameHook,
	)
}

var browserType = reflect.TypeOf(launcher.Browser{})

// browserNameHook turns a bare browser name into a Browser.
func browserNameHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to != browserType {
		return data, nil
	}
	return launcher.Browser{Name: data.(string)}, nil
}

// Validate checks the decoded configuration.
func (fc *FileConfig) Validate() error {
	for i, b := range fc.Browsers {
		if b.Name == "" {
			return fmt.Errorf("browser %d requires name", i)
		}
		if len(b.Command) == 0 && !launcher.IsBuiltin(b.Name) {
			return fmt.Errorf("browser %s is not built in and sets no command", b.Name)
		}
	}
	for _, r := range fc.Reporters {
		switch r {
		case "dot", "log":
		default:
			return fmt.Errorf("unknown reporter %q", r)
		}
	}
	if fc.KillAttempts < 0 {
		return fmt.Errorf("kill_attempts must not be negative")
	}
	if fc.ReadyTimeout < 0 || fc.KillTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	return nil
}

// BrowserEnv prepends the global env (env files first, then the env list) to
// each browser's own env, so per-browser values win.
func (fc *FileConfig) BrowserEnv() ([]launcher.Browser, error) {
	var global []string
	for _, p := range fc.EnvFiles {
		pairs, err := LoadEnvFile(p)
		if err != nil {
			return nil, err
		}
		global = append(global, pairs...)
	}
	global = append(global, fc.Env...)
	out := make([]launcher.Browser, len(fc.Browsers))
	for i, b := range fc.Browsers {
		if len(global) > 0 {
			b.Env = append(append([]string(nil), global...), b.Env...)
		}
		out[i] = b
	}
	return out, nil
}

// LoadEnvFile parses a simple .env file and returns a slice of "KEY=VALUE" entries.
func LoadEnvFile(path string) ([]string, error) {
	m, err := loadEnvFile(path)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out, nil
}

// loadEnvFile parses a simple .env file with KEY=VALUE lines (no export, no quotes). Lines starting with # are ignored.
func loadEnvFile(path string) (map[string]string, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			k := strings.TrimSpace(line[:i])
			v := strings.TrimSpace(line[i+1:])
			m[k] = v
		}
	}
	return m, nil
}
