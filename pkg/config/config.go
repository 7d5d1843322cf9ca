package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the CLI configuration, loaded from a YAML file with defaults
// applied for everything left unset.
type Config struct {
	// DataDir holds the framework database, the scanner checkpoint store
	// and, unless overridden, the workspace.
	DataDir string `yaml:"data_dir"`

	// WorkspaceDir is the preprocessing output root
	WorkspaceDir string `yaml:"workspace_dir"`

	ScanWorkers    int `yaml:"scan_workers"`
	ProcessWorkers int `yaml:"process_workers"`

	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`

	// MetricsAddr exposes Prometheus metrics when non-empty, e.g. ":9090"
	MetricsAddr string `yaml:"metrics_addr"`

	// Preprocess routes content types to preprocessing module ids; "*" is
	// the fallback.
	Preprocess map[string][]string `yaml:"preprocess"`

	Watch WatchConfig `yaml:"watch"`
}

// WatchConfig tunes the rescan trigger loop
type WatchConfig struct {
	// Debounce delays a rescan after the last file event
	Debounce time.Duration `yaml:"-"`

	// MaxBackoff caps the retry backoff after failed scans
	MaxBackoff time.Duration `yaml:"-"`
}

// UnmarshalYAML parses the duration fields from strings like "500ms"
func (w *WatchConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Debounce   string `yaml:"debounce"`
		MaxBackoff string `yaml:"max_backoff"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.Debounce != "" {
		debounce, err := time.ParseDuration(raw.Debounce)
		if err != nil {
			return fmt.Errorf("invalid watch.debounce: %w", err)
		}
		w.Debounce = debounce
	}
	if raw.MaxBackoff != "" {
		maxBackoff, err := time.ParseDuration(raw.MaxBackoff)
		if err != nil {
			return fmt.Errorf("invalid watch.max_backoff: %w", err)
		}
		w.MaxBackoff = maxBackoff
	}
	return nil
}

// Default returns the configuration used when no file is given
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads a YAML configuration file and applies defaults
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = ".knbase"
	}
	if c.WorkspaceDir == "" {
		c.WorkspaceDir = filepath.Join(c.DataDir, "preprocess")
	}
	if c.ScanWorkers < 1 {
		c.ScanWorkers = 2
	}
	if c.ProcessWorkers < 1 {
		c.ProcessWorkers = 4
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Preprocess == nil {
		c.Preprocess = map[string][]string{"*": {"passthrough"}}
	}
	if c.Watch.Debounce <= 0 {
		c.Watch.Debounce = 2 * time.Second
	}
	if c.Watch.MaxBackoff <= 0 {
		c.Watch.MaxBackoff = 5 * time.Minute
	}
}

// DBPath returns the framework database file
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "knbase.db")
}

// ScannerDBPath returns the file scanner checkpoint database file
func (c *Config) ScannerDBPath() string {
	return filepath.Join(c.DataDir, "scanner.db")
}
