// Package config loads the optional YAML config file. Flags in main override
// anything set here.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr              string   `yaml:"addr"`
	JournalPath       string   `yaml:"journal_path"`
	DeliverTimeout    Duration `yaml:"deliver_timeout"`
	VerifyTimeout     Duration `yaml:"verify_timeout"`
	DeliverRatePerSec int      `yaml:"deliver_rate_per_sec"`
	MaxInFlight       int      `yaml:"max_in_flight"`
	DefaultWebhookURL string   `yaml:"default_webhook_url"`
	LogLevel          string   `yaml:"log_level"`
}

func Default() Config {
	return Config{
		Addr:           ":8080",
		DeliverTimeout: Duration(30 * time.Second),
		VerifyTimeout:  Duration(10 * time.Second),
		MaxInFlight:    16,
		LogLevel:       "info",
	}
}

// Load returns the defaults overlaid with the YAML file at path. An empty
// path returns just the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Duration parses "30s"-style strings in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }
