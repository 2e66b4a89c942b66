package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ProviderOSRM, cfg.Dispatch.RoutingProvider)
	assert.Equal(t, 10*time.Second, cfg.Dispatch.AttemptTimeout)
	assert.Equal(t, 20, cfg.Dispatch.MaxAttempts)
	assert.Zero(t, cfg.Dispatch.PositionMaxAge)
	assert.Equal(t, "dispatch", cfg.DBConfig.DBName)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DISPATCH_ROUTING_PROVIDER", "google")
	t.Setenv("DISPATCH_GOOGLE_MAPS_API_KEY", "key")
	t.Setenv("DISPATCH_WORKERS", "16")
	t.Setenv("DISPATCH_RETRY_BACKOFF", "45s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ProviderGoogle, cfg.Dispatch.RoutingProvider)
	assert.Equal(t, 16, cfg.Dispatch.Workers)
	assert.Equal(t, 45*time.Second, cfg.Dispatch.RetryBackoff)
}

func TestLoad_GoogleWithoutKey(t *testing.T) {
	t.Setenv("DISPATCH_ROUTING_PROVIDER", "google")

	_, err := Load()
	assert.Error(t, err)
}

func TestDispatchConfig_Validate(t *testing.T) {
	valid := DispatchConfig{
		RoutingProvider: ProviderOSRM,
		OSRMURL:         "http://osrm:5000",
		RouteTimeout:    time.Second,
		AttemptTimeout:  time.Second,
		Concurrency:     1,
		MaxAttempts:     1,
		Workers:         1,
		QueueSize:       1,
		SweepInterval:   time.Second,
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*DispatchConfig)
	}{
		{"unknown provider", func(c *DispatchConfig) { c.RoutingProvider = "here" }},
		{"no osrm url", func(c *DispatchConfig) { c.OSRMURL = "" }},
		{"zero workers", func(c *DispatchConfig) { c.Workers = 0 }},
		{"zero attempt timeout", func(c *DispatchConfig) { c.AttemptTimeout = 0 }},
		{"negative retries", func(c *DispatchConfig) { c.MaxConflictRetries = -1 }},
		{"zero sweep interval", func(c *DispatchConfig) { c.SweepInterval = 0 }},
		{"negative retry backoff", func(c *DispatchConfig) { c.RetryBackoff = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestLoad_ZeroSweepIntervalFailsAtStartup(t *testing.T) {
	t.Setenv("DISPATCH_SWEEP_INTERVAL", "0s")

	_, err := Load()
	assert.Error(t, err)
}
