// Package config loads process configuration from an optional YAML file
// with environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the hosting-process configuration. The OAuth client id and
// secret are read by the auth packages directly from GOOGLE_CLIENT_ID /
// GOOGLE_CLIENT_SECRET and are intentionally not part of this struct.
type Config struct {
	Host           string        `yaml:"host"`
	Port           string        `yaml:"port"`
	DBPath         string        `yaml:"db_path"`
	AdminPassword  string        `yaml:"admin_password"`
	UpstreamBase   string        `yaml:"upstream_base"`
	Cooldown       time.Duration `yaml:"cooldown"`
	RefreshTimeout time.Duration `yaml:"refresh_timeout"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Host:           "127.0.0.1",
		Port:           "8085",
		DBPath:         "agpool.db",
		Cooldown:       time.Minute,
		RefreshTimeout: 30 * time.Second,
	}
}

// Load reads the YAML file at path (missing file is fine), expands
// ${VAR} references, then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// No config file; env + defaults apply.
		case err != nil:
			return Config{}, fmt.Errorf("read config: %w", err)
		default:
			expanded := os.ExpandEnv(string(data))
			if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	applyEnv(&cfg)

	if cfg.Cooldown <= 0 {
		cfg.Cooldown = time.Minute
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = 30 * time.Second
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("AGPOOL_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("AGPOOL_PORT"); v != "" {
		cfg.Port = v
	} else if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("AGPOOL_DB"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("AGPOOL_ADMIN_PASSWORD"); v != "" {
		cfg.AdminPassword = v
	}
	if v := os.Getenv("AGPOOL_UPSTREAM_BASE"); v != "" {
		cfg.UpstreamBase = v
	}
	if v := os.Getenv("AGPOOL_COOLDOWN"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cooldown = d
		}
	}
	if v := os.Getenv("AGPOOL_REFRESH_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.RefreshTimeout = d
		}
	}
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return c.Host + ":" + c.Port
}
