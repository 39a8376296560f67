// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"firestige.xyz/meshnode/internal/core"
)

// GlobalConfig is the top-level static configuration, mapped from the
// `meshnode:` root key in YAML.
type GlobalConfig struct {
	Node       NodeConfig       `mapstructure:"node"`
	Control    ControlConfig    `mapstructure:"control"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Dataplane  DataplaneConfig  `mapstructure:"dataplane"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Log        LogConfig        `mapstructure:"log"`
}

// NodeConfig contains node identification settings.
type NodeConfig struct {
	Hostname string            `mapstructure:"hostname"` // Empty = os.Hostname()
	Tags     map[string]string `mapstructure:"tags"`
}

// ControlConfig contains the local control channel settings.
type ControlConfig struct {
	Socket  string `mapstructure:"socket"`
	PIDFile string `mapstructure:"pid_file"`
}

// ClassifierConfig holds the engine construction options. These match the
// proxy deployment and do not change at runtime.
type ClassifierConfig struct {
	EnableIPv4 bool `mapstructure:"enable_ipv4"`
	EnableIPv6 bool `mapstructure:"enable_ipv6"`
	DNSCapture bool `mapstructure:"dns_capture"`
}

// DataplaneConfig controls the kernel attachment layer. Disabled, the daemon
// keeps only the user-space tables (useful for tests and dry runs).
type DataplaneConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// BPFFSPath is where identity maps are pinned.
	BPFFSPath string `mapstructure:"bpffs_path"`
	// ProgramPath is the compiled classifier object the loader pipeline
	// produced; empty skips TC attachment and only maintains the maps.
	ProgramPath string `mapstructure:"program_path"`
	// NetnsDir is where pod network namespaces are bind-mounted.
	NetnsDir string `mapstructure:"netns_dir"`
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string        `mapstructure:"level"`  // debug / info / warn / error
	Format string        `mapstructure:"format"` // json / text
	File   FileLogConfig `mapstructure:"file"`
}

// FileLogConfig configures optional rotated file output.
type FileLogConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// configRoot is the wrapper matching the YAML structure `meshnode: ...`.
type configRoot struct {
	Meshnode GlobalConfig `mapstructure:"meshnode"`
}

// Load loads configuration from file. Env vars override via the MESHNODE_
// prefix (key "meshnode.log.level" -> env "MESHNODE_LOG_LEVEL").
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Meshnode

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrConfigInvalid, err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("meshnode.control.socket", "/var/run/meshnode.sock")
	v.SetDefault("meshnode.control.pid_file", "/var/run/meshnode.pid")

	v.SetDefault("meshnode.classifier.enable_ipv4", true)
	v.SetDefault("meshnode.classifier.enable_ipv6", true)
	v.SetDefault("meshnode.classifier.dns_capture", false)

	v.SetDefault("meshnode.dataplane.enabled", false)
	v.SetDefault("meshnode.dataplane.bpffs_path", "/sys/fs/bpf/meshnode")
	v.SetDefault("meshnode.dataplane.netns_dir", "/var/run/netns")

	v.SetDefault("meshnode.metrics.enabled", true)
	v.SetDefault("meshnode.metrics.listen", ":9091")
	v.SetDefault("meshnode.metrics.path", "/metrics")

	v.SetDefault("meshnode.log.level", "info")
	v.SetDefault("meshnode.log.format", "json")
	v.SetDefault("meshnode.log.file.enabled", false)
	v.SetDefault("meshnode.log.file.path", "/var/log/meshnode/meshnode.log")
	v.SetDefault("meshnode.log.file.max_size_mb", 100)
	v.SetDefault("meshnode.log.file.max_age_days", 30)
	v.SetDefault("meshnode.log.file.max_backups", 5)
	v.SetDefault("meshnode.log.file.compress", true)
}

// ValidateAndApplyDefaults validates configuration and applies runtime
// defaults.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug/info/warn/error)", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("invalid log format: %s (must be json/text)", cfg.Log.Format)
	}

	if !cfg.Classifier.EnableIPv4 && !cfg.Classifier.EnableIPv6 {
		return fmt.Errorf("classifier: at least one of enable_ipv4/enable_ipv6 must be set")
	}

	if cfg.Node.Hostname == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("failed to get hostname: %w", err)
		}
		cfg.Node.Hostname = hostname
	}

	if cfg.Dataplane.Enabled && cfg.Dataplane.BPFFSPath == "" {
		return fmt.Errorf("dataplane.bpffs_path is required when dataplane.enabled=true")
	}

	return nil
}
