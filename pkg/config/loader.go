package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/treestandk/wingman/pkg/telemetry"
)

// Default returns a configuration with every optional field at its
// default. Required credentials are left empty and must come from the
// file or the environment.
func Default() *Config {
	return &Config{
		Database:  DatabaseConfig{Path: "wingman.db"},
		UniFi:     UniFiConfig{Site: "default"},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// Load reads the YAML file at path, applies environment overrides for
// secrets, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets secrets come from the environment instead of
// the config file.
func applyEnvOverrides(cfg *Config) {
	set := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	set(&cfg.Domain, "WINGMAN_DOMAIN")
	set(&cfg.PublicIP, "WINGMAN_PUBLIC_IP")
	set(&cfg.Database.Path, "WINGMAN_DB_PATH")
	set(&cfg.Cloudflare.APIToken, "WINGMAN_CLOUDFLARE_API_TOKEN")
	set(&cfg.Cloudflare.ZoneID, "WINGMAN_CLOUDFLARE_ZONE_ID")
	set(&cfg.Proxy.Password, "WINGMAN_PROXY_PASSWORD")
	set(&cfg.UniFi.Password, "WINGMAN_UNIFI_PASSWORD")
	set(&cfg.Pterodactyl.APIKey, "WINGMAN_PTERODACTYL_API_KEY")
}

// Validate checks the configuration, including the telemetry section.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry configuration: %w", err)
	}
	return nil
}
