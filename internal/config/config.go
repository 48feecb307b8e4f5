package config

import (
	"bytes"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"
)

const (
	// FileName is the config file inside the gnomato home directory.
	FileName = "config.yaml"
	// DBFileName is the default task store file inside the home directory.
	DBFileName = "gnomato.db"

	DefaultBusName       = "com.diegorubin.Gnomato"
	DefaultBusObjectPath = "/com/diegorubin/Gnomato"
	DefaultBusInterface  = "com.diegorubin.Gnomato"
)

// BusConfig controls the session-bus state publisher.
type BusConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Name       string `yaml:"name"`
	ObjectPath string `yaml:"object_path"`
	Interface  string `yaml:"interface"`
}

// TelemetryConfig controls OpenTelemetry export.
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"` // otlp-http, stdout or none
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	LogLevel string `yaml:"log_level"`
	// DBPath defaults to <home>/gnomato.db.
	DBPath string `yaml:"db_path"`

	Bus       BusConfig       `yaml:"bus"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// NeedsDefault is set when no config.yaml exists yet.
	NeedsDefault bool `yaml:"-"`
}

// Fingerprint returns a stable hash of the active config, logged on
// start-up and on every reload.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "log=%s|db=%s|bus=%t:%s:%s:%s|otel=%t:%s:%s",
		c.LogLevel, c.DBPath,
		c.Bus.Enabled, c.Bus.Name, c.Bus.ObjectPath, c.Bus.Interface,
		c.Telemetry.Enabled, c.Telemetry.Exporter, c.Telemetry.Endpoint)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}

func defaultConfig() Config {
	return Config{
		LogLevel: "info",
		Bus: BusConfig{
			Enabled:    true,
			Name:       DefaultBusName,
			ObjectPath: DefaultBusObjectPath,
			Interface:  DefaultBusInterface,
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			Exporter:    "otlp-http",
			ServiceName: "gnomato",
			SampleRate:  1.0,
		},
	}
}

// HomeDir returns $GNOMATO_HOME, or ~/.gnomato.
func HomeDir() string {
	if override := os.Getenv("GNOMATO_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".gnomato")
}

// ConfigPath returns the config file path under homeDir.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, FileName)
}

// Load reads config.yaml from HomeDir, applies env overrides and fills
// defaults. The home directory is created owner-only when missing.
func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o700); err != nil {
		return cfg, fmt.Errorf("create gnomato home: %w", err)
	}

	data, err := os.ReadFile(ConfigPath(cfg.HomeDir))
	if err != nil {
		if os.IsNotExist(err) {
			cfg.NeedsDefault = true
		} else {
			return cfg, fmt.Errorf("read %s: %w", FileName, err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", FileName, err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return cfg, err
	}
	normalize(&cfg)
	return cfg, nil
}

func normalize(cfg *Config) {
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = filepath.Join(cfg.HomeDir, DBFileName)
	} else if !filepath.IsAbs(cfg.DBPath) {
		cfg.DBPath = filepath.Join(cfg.HomeDir, cfg.DBPath)
	}
	if cfg.Bus.Name == "" {
		cfg.Bus.Name = DefaultBusName
	}
	if cfg.Bus.ObjectPath == "" {
		cfg.Bus.ObjectPath = DefaultBusObjectPath
	}
	if cfg.Bus.Interface == "" {
		cfg.Bus.Interface = DefaultBusInterface
	}
	if cfg.Telemetry.Exporter == "" {
		cfg.Telemetry.Exporter = "otlp-http"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "gnomato"
	}
	if cfg.Telemetry.SampleRate <= 0 || cfg.Telemetry.SampleRate > 1 {
		cfg.Telemetry.SampleRate = 1.0
	}
}

func applyEnvOverrides(cfg *Config) error {
	if raw := os.Getenv("GNOMATO_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("GNOMATO_DB_PATH"); raw != "" {
		cfg.DBPath = raw
	}
	if raw := os.Getenv("GNOMATO_BUS_ENABLED"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("GNOMATO_BUS_ENABLED: %w", err)
		}
		cfg.Bus.Enabled = v
	}
	return nil
}

// WriteDefault persists the default configuration to homeDir unless a
// config file already exists. The write is atomic.
func WriteDefault(homeDir string) (bool, error) {
	path := ConfigPath(homeDir)
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("stat %s: %w", FileName, err)
	}
	out, err := yaml.Marshal(defaultConfig())
	if err != nil {
		return false, fmt.Errorf("marshal %s: %w", FileName, err)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(out)); err != nil {
		return false, fmt.Errorf("write %s: %w", FileName, err)
	}
	return true, nil
}
