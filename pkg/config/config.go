// Package config defines the application configuration and its YAML
// loader. Durations are expressed as integer seconds or milliseconds in
// the file and converted through accessor methods, so a config file never
// carries Go duration syntax.
package config

import "time"

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Logging   LoggingConfig    `yaml:"logging"`
	Server    ServerConfig     `yaml:"server"`
	Schedule  ScheduleConfig   `yaml:"schedule"`
	Pool      PoolConfig       `yaml:"pool"`
	Retry     RetryConfig      `yaml:"retry"`
	Breaker   BreakerConfig    `yaml:"breaker"`
	Providers []ProviderConfig `yaml:"providers"`
	Geocoder  GeocoderConfig   `yaml:"geocoder"`
	Redis     RedisConfig      `yaml:"redis"`
	Database  DatabaseConfig   `yaml:"database"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// ServerConfig holds the diagnostics HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// ScheduleConfig controls the update run cadence.
type ScheduleConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
}

// Interval returns the run interval as a duration.
func (c ScheduleConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// PoolConfig sizes the shared worker pool.
type PoolConfig struct {
	MinWorkers           int `yaml:"min_workers"`
	MaxWorkers           int `yaml:"max_workers"`
	ShutdownGraceSeconds int `yaml:"shutdown_grace_seconds"`
}

// ShutdownGrace returns the drain deadline as a duration.
func (c PoolConfig) ShutdownGrace() time.Duration {
	return time.Duration(c.ShutdownGraceSeconds) * time.Second
}

// RetryConfig controls transient-failure retries.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier"`
}

// InitialBackoff returns the first backoff delay as a duration.
func (c RetryConfig) InitialBackoff() time.Duration {
	return time.Duration(c.InitialBackoffMs) * time.Millisecond
}

// MaxBackoff returns the backoff ceiling as a duration.
func (c RetryConfig) MaxBackoff() time.Duration {
	return time.Duration(c.MaxBackoffMs) * time.Millisecond
}

// BreakerConfig controls circuit breaker defaults and per-provider
// overrides keyed by provider name.
type BreakerConfig struct {
	ResetTimeoutSeconds int                        `yaml:"reset_timeout_seconds"`
	ErrorRateThreshold  float64                    `yaml:"error_rate_threshold"`
	MinSampleSize       int                        `yaml:"min_sample_size"`
	Overrides           map[string]BreakerOverride `yaml:"overrides"`
}

// ResetTimeout returns the open-state cooldown as a duration.
func (c BreakerConfig) ResetTimeout() time.Duration {
	return time.Duration(c.ResetTimeoutSeconds) * time.Second
}

// BreakerOverride adjusts breaker settings for a single provider. Zero
// fields fall back to the defaults.
type BreakerOverride struct {
	ResetTimeoutSeconds int     `yaml:"reset_timeout_seconds"`
	ErrorRateThreshold  float64 `yaml:"error_rate_threshold"`
	MinSampleSize       int     `yaml:"min_sample_size"`
}

// ProviderConfig holds settings for one facility data provider.
type ProviderConfig struct {
	Name                 string `yaml:"name"`
	BaseURL              string `yaml:"base_url"`
	AuthToken            string `yaml:"auth_token"`
	ReadSize             int    `yaml:"read_size"`
	OffersCurrentParking bool   `yaml:"offers_current_parking"`
	ReadTimeoutSeconds   int    `yaml:"read_timeout_seconds"`
	HealthTimeoutSeconds int    `yaml:"health_timeout_seconds"`
}

// ReadTimeout returns the page read timeout as a duration.
func (c ProviderConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutSeconds) * time.Second
}

// HealthTimeout returns the health check timeout as a duration.
func (c ProviderConfig) HealthTimeout() time.Duration {
	return time.Duration(c.HealthTimeoutSeconds) * time.Second
}

// GeocoderConfig holds settings for the coordinate lookup service.
type GeocoderConfig struct {
	BaseURL         string `yaml:"base_url"`
	AuthKey         string `yaml:"auth_key"`
	TimeoutSeconds  int    `yaml:"timeout_seconds"`
	CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
}

// Timeout returns the lookup timeout as a duration.
func (c GeocoderConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// CacheTTL returns the cache entry lifetime as a duration.
func (c GeocoderConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// RedisConfig holds Redis connection settings for the geocode cache.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}
