package config

import (
	"fmt"
	"time"

	"github.com/rescuelink/service-dispatch/internal/common/config"
)

// Routing providers.
const (
	ProviderOSRM   = "osrm"
	ProviderGoogle = "google"
)

// ServiceConfig holds all configuration for the dispatch service.
type ServiceConfig struct {
	Port           string
	AppEnv         string
	DBConfig       config.DatabaseConfig
	JWTConfig      config.JWTConfig
	KafkaConfig    config.KafkaConfig
	RedisConfig    config.RedisConfig
	MQTTConfig     config.MQTTConfig
	RabbitMQConfig config.RabbitMQConfig
	Dispatch       DispatchConfig
}

// DispatchConfig tunes routing, selection and the background dispatch workers.
type DispatchConfig struct {
	RoutingProvider string
	OSRMURL         string
	GoogleAPIKey    string
	RouteTimeout    time.Duration
	RouteCacheTTL   time.Duration

	AttemptTimeout     time.Duration
	Concurrency        int
	MaxConflictRetries int
	MaxAttempts        int
	PositionMaxAge     time.Duration

	Workers       int
	QueueSize     int
	SweepInterval time.Duration
	RetryBackoff  time.Duration
}

// Load reads configuration from environment variables.
func Load() (*ServiceConfig, error) {
	v, err := config.Load("DISPATCH")
	if err != nil {
		return nil, err
	}

	v.SetDefault("ROUTING_PROVIDER", ProviderOSRM)
	v.SetDefault("OSRM_URL", "https://router.project-osrm.org")
	v.SetDefault("ROUTE_TIMEOUT", "2s")
	v.SetDefault("ROUTE_CACHE_TTL", "2m")
	v.SetDefault("ATTEMPT_TIMEOUT", "10s")
	v.SetDefault("CONCURRENCY", 8)
	v.SetDefault("MAX_CONFLICT_RETRIES", 2)
	v.SetDefault("MAX_ATTEMPTS", 20)
	v.SetDefault("POSITION_MAX_AGE", "0s")
	v.SetDefault("WORKERS", 4)
	v.SetDefault("QUEUE_SIZE", 256)
	v.SetDefault("SWEEP_INTERVAL", "15s")
	v.SetDefault("RETRY_BACKOFF", "20s")

	cfg := &ServiceConfig{
		Port:           config.GetServicePort(v, "SERVICE_PORT"),
		AppEnv:         config.GetAppEnv(v),
		DBConfig:       config.LoadDatabaseConfig(v, "DB_NAME"),
		JWTConfig:      config.LoadJWTConfig(v),
		KafkaConfig:    config.LoadKafkaConfig(v),
		RedisConfig:    config.LoadRedisConfig(v),
		MQTTConfig:     config.LoadMQTTConfig(v),
		RabbitMQConfig: config.LoadRabbitMQConfig(v),
		Dispatch: DispatchConfig{
			RoutingProvider:    v.GetString("ROUTING_PROVIDER"),
			OSRMURL:            v.GetString("OSRM_URL"),
			GoogleAPIKey:       v.GetString("GOOGLE_MAPS_API_KEY"),
			RouteTimeout:       v.GetDuration("ROUTE_TIMEOUT"),
			RouteCacheTTL:      v.GetDuration("ROUTE_CACHE_TTL"),
			AttemptTimeout:     v.GetDuration("ATTEMPT_TIMEOUT"),
			Concurrency:        v.GetInt("CONCURRENCY"),
			MaxConflictRetries: v.GetInt("MAX_CONFLICT_RETRIES"),
			MaxAttempts:        v.GetInt("MAX_ATTEMPTS"),
			PositionMaxAge:     v.GetDuration("POSITION_MAX_AGE"),
			Workers:            v.GetInt("WORKERS"),
			QueueSize:          v.GetInt("QUEUE_SIZE"),
			SweepInterval:      v.GetDuration("SWEEP_INTERVAL"),
			RetryBackoff:       v.GetDuration("RETRY_BACKOFF"),
		},
	}

	if err := cfg.Dispatch.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the dispatch pipeline cannot run with.
func (c DispatchConfig) Validate() error {
	switch c.RoutingProvider {
	case ProviderOSRM:
		if c.OSRMURL == "" {
			return fmt.Errorf("routing provider %q requires OSRM_URL", c.RoutingProvider)
		}
	case ProviderGoogle:
		if c.GoogleAPIKey == "" {
			return fmt.Errorf("routing provider %q requires GOOGLE_MAPS_API_KEY", c.RoutingProvider)
		}
	default:
		return fmt.Errorf("unknown routing provider %q", c.RoutingProvider)
	}
	if c.Workers < 1 || c.QueueSize < 1 || c.Concurrency < 1 {
		return fmt.Errorf("workers, queue size and concurrency must be positive")
	}
	if c.AttemptTimeout <= 0 || c.RouteTimeout <= 0 {
		return fmt.Errorf("attempt and route timeouts must be positive")
	}
	if c.MaxAttempts < 1 || c.MaxConflictRetries < 0 {
		return fmt.Errorf("invalid attempt limits")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval must be positive")
	}
	if c.RetryBackoff < 0 || c.PositionMaxAge < 0 || c.RouteCacheTTL < 0 {
		return fmt.Errorf("retry backoff, position max age and route cache ttl must not be negative")
	}
	return nil
}
