package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/CTAG07/shortcodes/pkg/shortcode"
	"github.com/CTAG07/shortcodes/pkg/templating"
	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"
)

// ServerConfig holds the configuration for the HTTP servers.
type ServerConfig struct {
	ServerAddr      string `json:"server_addr" yaml:"server_addr"`
	ApiAddr         string `json:"api_addr" yaml:"api_addr"`
	LogLevel        string `json:"log_level" yaml:"log_level"`
	DataDir         string `json:"data_dir" yaml:"data_dir"`
	DatabasePath    string `json:"database_path" yaml:"database_path"`
	TemplateDir     string `json:"template_dir" yaml:"template_dir"`
	MetricsExporter string `json:"metrics_exporter" yaml:"metrics_exporter"`
}

// CacheConfig holds the fragment cache settings. They are read once at startup.
type CacheConfig struct {
	Dir            string `json:"dir" yaml:"dir"`
	PurgeOnStart   bool   `json:"purge_on_start" yaml:"purge_on_start"`
	KeyFormat      string `json:"key_format" yaml:"key_format"`
	CoalesceMisses bool   `json:"coalesce_misses" yaml:"coalesce_misses"`
}

// ShortcodeConfig holds settings for the bundled shortcodes.
type ShortcodeConfig struct {
	// PublicBaseURL is the address browsers use to reach this server's public
	// routes. Client-side fetch scripts point at it.
	PublicBaseURL string `json:"public_base_url" yaml:"public_base_url"`

	// FetchTimeoutSec bounds server-side fetches made by the "remote" shortcode.
	FetchTimeoutSec int `json:"fetch_timeout_sec" yaml:"fetch_timeout_sec"`
}

// Config is the top-level configuration struct that aggregates all other configs.
type Config struct {
	Server     *ServerConfig              `json:"server_config" yaml:"server_config"`
	Cache      *CacheConfig               `json:"cache_config" yaml:"cache_config"`
	Templates  *templating.TemplateConfig `json:"template_config" yaml:"template_config"`
	Shortcodes *ShortcodeConfig           `json:"shortcode_config" yaml:"shortcode_config"`
}

// DefaultServerConfig creates a server configuration with default values.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ServerAddr:      "127.0.0.1:8080",
		ApiAddr:         "127.0.0.1:8081",
		LogLevel:        "info",
		DataDir:         "./data",
		DatabasePath:    "./data/shortcodes.db",
		TemplateDir:     "./data/templates",
		MetricsExporter: "prometheus",
	}
}

// DefaultCacheConfig creates a cache configuration with default values.
func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		Dir:            "./data/cache",
		PurgeOnStart:   false,
		KeyFormat:      shortcode.KeyFormatPairs.String(),
		CoalesceMisses: false,
	}
}

// DefaultShortcodeConfig creates a shortcode configuration with default values.
func DefaultShortcodeConfig() *ShortcodeConfig {
	return &ShortcodeConfig{
		PublicBaseURL:   "http://127.0.0.1:8080",
		FetchTimeoutSec: 10,
	}
}

// DefaultConfig returns a Config with every section set to its defaults.
func DefaultConfig() *Config {
	return &Config{
		Server:     DefaultServerConfig(),
		Cache:      DefaultCacheConfig(),
		Templates:  templating.DefaultConfig(),
		Shortcodes: DefaultShortcodeConfig(),
	}
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func marshalConfig(path string, config *Config) ([]byte, error) {
	if isYAML(path) {
		return yaml.Marshal(config)
	}
	return json.MarshalIndent(config, "", "  ")
}

// LoadConfig reads the configuration from a JSON or YAML file at the given path.
// If the file doesn't exist, it creates one with default values.
func LoadConfig(path string) (*Config, error) {
	// Initialize with default configurations
	config := DefaultConfig()

	file, err := os.ReadFile(path)
	if err != nil {
		// If the file doesn't exist, create it with the default config.
		if os.IsNotExist(err) {
			var data []byte
			data, err = marshalConfig(path, config)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal default config: %w", err)
			}
			if err = atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
				// Log a warning instead of failing, as the server can still run with defaults.
				fmt.Printf("warning: failed to write default config file: %v\n", err)
			}
			return config, nil
		}
		// For other errors (e.g., permission denied), return the error.
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if isYAML(path) {
		err = yaml.Unmarshal(file, config)
	} else {
		err = json.Unmarshal(file, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	config.fillDefaults()

	if err = config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// SaveConfig writes config to path atomically, in the format the extension implies.
func SaveConfig(path string, config *Config) error {
	data, err := marshalConfig(path, config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err = atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// fillDefaults restores sections a config file left out entirely.
func (c *Config) fillDefaults() {
	if c.Server == nil {
		c.Server = DefaultServerConfig()
	}
	if c.Cache == nil {
		c.Cache = DefaultCacheConfig()
	}
	if c.Templates == nil {
		c.Templates = templating.DefaultConfig()
	}
	if c.Shortcodes == nil {
		c.Shortcodes = DefaultShortcodeConfig()
	}
}

// validate rejects settings the engine or template manager cannot start with.
// Empty template fields are filled with their defaults.
func (c *Config) validate() error {
	if _, err := shortcode.ParseKeyFormat(c.Cache.KeyFormat); err != nil {
		return fmt.Errorf("invalid cache_config.key_format: %w", err)
	}
	if err := c.Templates.Normalize(); err != nil {
		return fmt.Errorf("invalid template_config: %w", err)
	}
	return nil
}
