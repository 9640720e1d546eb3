package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration wraps time.Duration so TOML files can use strings such as "1.5s".
type Duration struct {
	time.Duration
}

// UnmarshalText parses human readable duration strings.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText renders the duration in time.Duration notation.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type Config struct {
	DataDir     string  `toml:"DataDir"`
	Backend     string  `toml:"Backend"`
	Environment string  `toml:"Environment"`
	CatalogFile string  `toml:"CatalogFile"`
	Seed        bool    `toml:"Seed"`
	PointRate   float64 `toml:"PointRate"`

	Simulator SimulatorConfig `toml:"Simulator"`
	Alerts    AlertsConfig    `toml:"Alerts"`
	HTTP      HTTPConfig      `toml:"HTTP"`
	Journal   JournalConfig   `toml:"Journal"`
	Log       LogConfig       `toml:"Log"`
	Telemetry TelemetryConfig `toml:"Telemetry"`
	Pauses    Pauses          `toml:"Pauses"`
}

// SimulatorConfig bounds the artificial commit latency.
type SimulatorConfig struct {
	Latency Duration `toml:"Latency"`
	Jitter  Duration `toml:"Jitter"`
}

// AlertsConfig tunes the expiry scanner.
type AlertsConfig struct {
	UrgentDays int    `toml:"UrgentDays"`
	Schedule   string `toml:"Schedule"`
}

// HTTPConfig controls the local dashboard API.
type HTTPConfig struct {
	ListenAddress     string   `toml:"ListenAddress"`
	RequestsPerMinute int      `toml:"RequestsPerMinute"`
	Burst             int      `toml:"Burst"`
	AllowedOrigins    []string `toml:"AllowedOrigins"`
}

// JournalConfig locates the SQLite transaction journal.
type JournalConfig struct {
	Disabled bool   `toml:"Disabled"`
	Path     string `toml:"Path"`
}

type LogConfig struct {
	Level      string `toml:"Level"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

type TelemetryConfig struct {
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Headers  string `toml:"Headers"`
	Traces   bool   `toml:"Traces"`
	Metrics  bool   `toml:"Metrics"`
}

// Pauses lists feature modules that reject new transactions.
type Pauses struct {
	Modules []string `toml:"Modules"`
}

// IsPaused reports whether module is listed. Matching ignores case.
func (p Pauses) IsPaused(module string) bool {
	for _, m := range p.Modules {
		if strings.EqualFold(strings.TrimSpace(m), module) {
			return true
		}
	}
	return false
}

// Default returns the configuration written on first start.
func Default() *Config {
	return &Config{
		DataDir:     "./perq-data",
		Backend:     "file",
		Environment: "local",
		Seed:        true,
		PointRate:   0.25,
		Simulator: SimulatorConfig{
			Latency: Duration{1500 * time.Millisecond},
			Jitter:  Duration{500 * time.Millisecond},
		},
		Alerts: AlertsConfig{
			UrgentDays: 7,
			Schedule:   "@every 1m",
		},
		HTTP: HTTPConfig{
			ListenAddress:     "127.0.0.1:7080",
			RequestsPerMinute: 60,
			Burst:             10,
			AllowedOrigins:    []string{"localhost:*", "127.0.0.1:*"},
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Telemetry: TelemetryConfig{},
		Pauses:    Pauses{Modules: []string{}},
	}
}

// Load loads the configuration from the given path, writing the defaults
// there first when the file does not exist.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown field %s", path, undecoded[0].String())
	}
	applyDefaults(cfg)
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// JournalPath resolves the journal database file.
func (c *Config) JournalPath() string {
	if strings.TrimSpace(c.Journal.Path) != "" {
		return c.Journal.Path
	}
	return filepath.Join(c.DataDir, "journal.db")
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./perq-data"
	}
	if strings.TrimSpace(cfg.Backend) == "" {
		cfg.Backend = "file"
	}
	if cfg.PointRate == 0 {
		cfg.PointRate = 0.25
	}
	if cfg.Alerts.UrgentDays == 0 {
		cfg.Alerts.UrgentDays = 7
	}
	if strings.TrimSpace(cfg.Alerts.Schedule) == "" {
		cfg.Alerts.Schedule = "@every 1m"
	}
	if cfg.Pauses.Modules == nil {
		cfg.Pauses.Modules = []string{}
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path as TOML, creating parent directories.
func Save(path string, cfg *Config) error {
	return persist(path, cfg)
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
