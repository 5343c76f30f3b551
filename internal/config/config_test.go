package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8085, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:8085", cfg.Server.Addr())
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.False(t, cfg.Auth.Enabled)

	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, []string{"http://localhost:9200"}, cfg.Storage.Elasticsearch.Addresses)
	assert.Equal(t, "notifications", cfg.Storage.Elasticsearch.Index)
	assert.Equal(t, "localhost:6379", cfg.Storage.Redis.Addr)

	assert.False(t, cfg.Push.Enabled)
	assert.Equal(t, "noreply@example.com", cfg.Email.DefaultFrom)
	assert.Equal(t, "us-east-1", cfg.AWS.Region)
	assert.Equal(t, 5*time.Second, cfg.Audit.Timeout)

	assert.True(t, cfg.Sweeper.Enabled)
	assert.Equal(t, "0 3 * * *", cfg.Sweeper.Schedule)
	assert.Equal(t, 2160*time.Hour, cfg.Sweeper.TokenMaxAge)
}

func TestLoadExplicitFile(t *testing.T) {
	t.Run("missing file fails", func(t *testing.T) {
		_, err := Load("/nonexistent/config.yaml")
		assert.Error(t, err)
	})

	t.Run("file values override defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
storage:
  driver: external
auth:
  enabled: true
  jwt_secret: super-secret
`), 0o600))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 9090, cfg.Server.Port)
		assert.Equal(t, "external", cfg.Storage.Driver)
		assert.True(t, cfg.Auth.Enabled)
		// Untouched keys keep their defaults.
		assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout)
		assert.Equal(t, "notifications", cfg.Storage.Elasticsearch.Index)
	})

	t.Run("invalid values fail validation", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("storage:\n  driver: cassandra\n"), 0o600))
		_, err := Load(path)
		assert.Error(t, err)
	})
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("NOTIFY_SERVER_PORT", "9091")
	t.Setenv("NOTIFY_STORAGE_DRIVER", "external")
	t.Setenv("NOTIFY_LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9091, cfg.Server.Port)
	assert.Equal(t, "external", cfg.Storage.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func validConfig() *Config {
	cfg := &Config{}
	cfg.Server.Port = 8085
	cfg.Storage.Driver = "memory"
	return cfg
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	t.Run("port", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.Port = 0
		assert.Error(t, cfg.Validate())
		cfg.Server.Port = 70000
		assert.Error(t, cfg.Validate())
	})

	t.Run("storage driver", func(t *testing.T) {
		cfg := validConfig()
		cfg.Storage.Driver = "cassandra"
		assert.Error(t, cfg.Validate())
	})

	t.Run("sms provider", func(t *testing.T) {
		cfg := validConfig()
		cfg.SMS.Provider = "smoke-signals"
		assert.Error(t, cfg.Validate())
		cfg.SMS.Provider = "twilio"
		assert.NoError(t, cfg.Validate())
		cfg.SMS.Provider = "aws-sns"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("email provider", func(t *testing.T) {
		cfg := validConfig()
		cfg.Email.Provider = "postmark"
		assert.Error(t, cfg.Validate())
		cfg.Email.Provider = "ses"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("auth needs a secret", func(t *testing.T) {
		cfg := validConfig()
		cfg.Auth.Enabled = true
		assert.Error(t, cfg.Validate())
		cfg.Auth.JWTSecret = "s3cret"
		assert.NoError(t, cfg.Validate())
	})
}

func TestDumpMasksSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Auth.JWTSecret = "jwt-secret-value"
	cfg.Storage.Redis.Password = "redis-secret"
	cfg.SMS.Twilio.AuthToken = "twilio-secret"
	cfg.Email.SendGrid.APIKey = "sendgrid-secret"
	cfg.AWS.SecretAccessKey = "aws-secret"
	cfg.Audit.Token = "audit-secret"

	out, err := cfg.Dump()
	require.NoError(t, err)

	assert.Contains(t, out, "******")
	for _, secret := range []string{
		"jwt-secret-value", "redis-secret", "twilio-secret",
		"sendgrid-secret", "aws-secret", "audit-secret",
	} {
		assert.NotContains(t, out, secret)
	}
	// Unset secrets stay empty instead of a fake mask.
	assert.Contains(t, out, `password: ""`)
}
