package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_valid(t *testing.T) {
	cfg, err := Load("testdata/valid.yaml")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout, "default write timeout")
	assert.Equal(t, "https://auth.example.com", cfg.Identity.Issuer)
	assert.Equal(t, "TEST_JWT_SECRET", cfg.Identity.SecretEnv)
	assert.Len(t, cfg.Identity.Algorithms, 2)
	assert.Equal(t, "roles", cfg.Identity.ClaimPaths["roles"], "default roles claim path")
	assert.True(t, cfg.Onboarding.AutoInitialize)
	assert.Equal(t, 720*time.Hour, cfg.Onboarding.ExpectedDuration)
	assert.Equal(t, "postgres", cfg.Onboarding.Store.Driver)
	assert.Equal(t, 10, cfg.Onboarding.Store.MaxOpenConns)
	assert.Equal(t, "onboarding-events", cfg.Notifications.Channel)
	assert.Equal(t, 12*time.Hour, cfg.Idempotency.Store.DefaultTTL)
	assert.Equal(t, "debug", cfg.Observability.LogLevel)
}

func TestLoad_missing_file(t *testing.T) {
	_, err := Load("testdata/nonexistent.yaml")
	assert.Error(t, err)
}

func TestLoad_missing_identity(t *testing.T) {
	_, err := Load("testdata/missing_identity.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "identity.issuer is required")
}

func TestLoad_unsupported_driver(t *testing.T) {
	_, err := Load("testdata/bad_driver.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `onboarding.store.driver "sqlite"`)
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 5*time.Minute, cfg.Capability.Cache.TTL)
	assert.Equal(t, "info", cfg.Observability.LogLevel)
	assert.Equal(t, "memory", cfg.Onboarding.Store.Driver)
	assert.Equal(t, "log", cfg.Notifications.Driver)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PARTNERHUB_SERVER_PORT", "3000")
	t.Setenv("PARTNERHUB_IDENTITY_ISSUER", "https://env-issuer.com")
	t.Setenv("PARTNERHUB_IDENTITY_AUDIENCE", "env-audience")
	t.Setenv("PARTNERHUB_OBSERVABILITY_LOG_LEVEL", "error")
	t.Setenv("PARTNERHUB_ONBOARDING_AUTO_INITIALIZE", "false")
	t.Setenv("PARTNERHUB_NOTIFICATIONS_DRIVER", "log")

	cfg, err := Load("testdata/valid.yaml")
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "https://env-issuer.com", cfg.Identity.Issuer)
	assert.Equal(t, "env-audience", cfg.Identity.Audience)
	assert.Equal(t, "error", cfg.Observability.LogLevel)
	assert.False(t, cfg.Onboarding.AutoInitialize)
	assert.Equal(t, "log", cfg.Notifications.Driver)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Defaults()
		cfg.Identity.Issuer = "https://auth.example.com"
		cfg.Identity.Audience = "partnerhub"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults with identity", func(*Config) {}, ""},
		{"port zero", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"postgres without dsn env", func(c *Config) {
			c.Onboarding.Store.Driver = "postgres"
			c.Onboarding.Store.DSNEnv = ""
		}, "onboarding.store.dsn_env"},
		{"redis notifications without channel", func(c *Config) {
			c.Notifications.Driver = "redis"
			c.Notifications.Channel = ""
		}, "notifications.channel"},
		{"unknown notifier", func(c *Config) { c.Notifications.Driver = "kafka" }, "notifications.driver"},
		{"unknown idempotency driver", func(c *Config) { c.Idempotency.Store.Driver = "etcd" }, "idempotency.store.driver"},
		{"disabled idempotency ignores driver", func(c *Config) {
			c.Idempotency.Enabled = false
			c.Idempotency.Store.Driver = "etcd"
		}, ""},
		{"negative duration", func(c *Config) { c.Onboarding.ExpectedDuration = -time.Hour }, "expected_duration"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_env_priority_over_file(t *testing.T) {
	// File sets port 9090.
	t.Setenv("PARTNERHUB_SERVER_PORT", "5555")

	cfg, err := Load("testdata/valid.yaml")
	require.NoError(t, err)
	assert.Equal(t, 5555, cfg.Server.Port)
}
