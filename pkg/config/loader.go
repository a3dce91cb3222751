package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file. Environment variable
// references in the file (${VAR} or $VAR) are expanded before parsing so
// secrets stay out of the file itself.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Schedule.IntervalSeconds == 0 {
		cfg.Schedule.IntervalSeconds = 600
	}

	if cfg.Pool.MinWorkers == 0 {
		cfg.Pool.MinWorkers = 20
	}
	if cfg.Pool.MaxWorkers == 0 {
		cfg.Pool.MaxWorkers = 100
	}
	if cfg.Pool.ShutdownGraceSeconds == 0 {
		cfg.Pool.ShutdownGraceSeconds = 300
	}

	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.InitialBackoffMs == 0 {
		cfg.Retry.InitialBackoffMs = 1000
	}
	if cfg.Retry.MaxBackoffMs == 0 {
		cfg.Retry.MaxBackoffMs = 10000
	}
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry.Multiplier = 2.0
	}

	if cfg.Breaker.ResetTimeoutSeconds == 0 {
		cfg.Breaker.ResetTimeoutSeconds = 60
	}
	if cfg.Breaker.ErrorRateThreshold == 0 {
		cfg.Breaker.ErrorRateThreshold = 0.20
	}
	if cfg.Breaker.MinSampleSize == 0 {
		cfg.Breaker.MinSampleSize = 10
	}

	for i := range cfg.Providers {
		if cfg.Providers[i].ReadTimeoutSeconds == 0 {
			cfg.Providers[i].ReadTimeoutSeconds = 60
		}
		if cfg.Providers[i].HealthTimeoutSeconds == 0 {
			cfg.Providers[i].HealthTimeoutSeconds = 5
		}
	}

	if cfg.Geocoder.TimeoutSeconds == 0 {
		cfg.Geocoder.TimeoutSeconds = 5
	}
	if cfg.Geocoder.CacheTTLSeconds == 0 {
		cfg.Geocoder.CacheTTLSeconds = 7 * 24 * 3600
	}
}

func validate(cfg *AppConfig) error {
	if len(cfg.Providers) == 0 {
		return fmt.Errorf("config: at least one provider is required")
	}
	seen := make(map[string]bool, len(cfg.Providers))
	for _, p := range cfg.Providers {
		if p.Name == "" {
			return fmt.Errorf("config: provider name is required")
		}
		if seen[p.Name] {
			return fmt.Errorf("config: duplicate provider name %q", p.Name)
		}
		seen[p.Name] = true
		if p.BaseURL == "" {
			return fmt.Errorf("config: provider %s: base_url is required", p.Name)
		}
		if p.ReadSize <= 0 {
			return fmt.Errorf("config: provider %s: read_size must be positive", p.Name)
		}
	}
	if cfg.Pool.MaxWorkers < cfg.Pool.MinWorkers {
		return fmt.Errorf("config: pool max_workers (%d) below min_workers (%d)",
			cfg.Pool.MaxWorkers, cfg.Pool.MinWorkers)
	}
	if cfg.Database.URL == "" {
		return fmt.Errorf("config: database url is required")
	}
	return nil
}
