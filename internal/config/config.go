// Package config loads the service configuration from a YAML file and
// NOTIFY_-prefixed environment variables, environment winning.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	Auth    AuthConfig    `mapstructure:"auth" yaml:"auth"`
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
	Push    PushConfig    `mapstructure:"push" yaml:"push"`
	SMS     SMSConfig     `mapstructure:"sms" yaml:"sms"`
	Email   EmailConfig   `mapstructure:"email" yaml:"email"`
	AWS     AWSConfig     `mapstructure:"aws" yaml:"aws"`
	Audit   AuditConfig   `mapstructure:"audit" yaml:"audit"`
	Tracing TracingConfig `mapstructure:"tracing" yaml:"tracing"`
	Sweeper SweeperConfig `mapstructure:"sweeper" yaml:"sweeper"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

type AuthConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	JWTSecret string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
}

// StorageConfig selects where rows live. The memory driver keeps
// everything in process and is meant for tests and local runs; external
// uses Elasticsearch for notifications and Redis for preferences and
// device tokens.
type StorageConfig struct {
	Driver        string              `mapstructure:"driver" yaml:"driver"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch" yaml:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis" yaml:"redis"`
}

type ElasticsearchConfig struct {
	Addresses []string `mapstructure:"addresses" yaml:"addresses"`
	Username  string   `mapstructure:"username" yaml:"username"`
	Password  string   `mapstructure:"password" yaml:"password"`
	Index     string   `mapstructure:"index" yaml:"index"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
}

type PushConfig struct {
	Enabled         bool   `mapstructure:"enabled" yaml:"enabled"`
	ProjectID       string `mapstructure:"project_id" yaml:"project_id"`
	CredentialsFile string `mapstructure:"credentials_file" yaml:"credentials_file"`
}

type SMSConfig struct {
	Provider string       `mapstructure:"provider" yaml:"provider"`
	Twilio   TwilioConfig `mapstructure:"twilio" yaml:"twilio"`
}

type TwilioConfig struct {
	AccountSID string `mapstructure:"account_sid" yaml:"account_sid"`
	AuthToken  string `mapstructure:"auth_token" yaml:"auth_token"`
	From       string `mapstructure:"from" yaml:"from"`
}

type EmailConfig struct {
	Provider    string            `mapstructure:"provider" yaml:"provider"`
	DefaultFrom string            `mapstructure:"default_from" yaml:"default_from"`
	FromName    string            `mapstructure:"from_name" yaml:"from_name"`
	SendGrid    SendGridConfig    `mapstructure:"sendgrid" yaml:"sendgrid"`
	Templates   map[string]string `mapstructure:"templates" yaml:"templates"`
}

type SendGridConfig struct {
	APIKey string `mapstructure:"api_key" yaml:"api_key"`
}

type AWSConfig struct {
	Region          string `mapstructure:"region" yaml:"region"`
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key"`
}

type AuditConfig struct {
	Endpoint string        `mapstructure:"endpoint" yaml:"endpoint"`
	Token    string        `mapstructure:"token" yaml:"token"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type TracingConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
}

// SweeperConfig drives the cron job that drops device tokens unused
// for longer than TokenMaxAge.
type SweeperConfig struct {
	Enabled     bool          `mapstructure:"enabled" yaml:"enabled"`
	Schedule    string        `mapstructure:"schedule" yaml:"schedule"`
	TokenMaxAge time.Duration `mapstructure:"token_max_age" yaml:"token_max_age"`
}

const envPrefix = "NOTIFY"

// Load reads the configuration. An empty path searches the working
// directory and /etc/notification-service for config.yaml; a missing
// file is fine, defaults and environment cover everything.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/notification-service")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8085)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("auth.enabled", false)

	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.elasticsearch.addresses", []string{"http://localhost:9200"})
	v.SetDefault("storage.elasticsearch.index", "notifications")
	v.SetDefault("storage.redis.addr", "localhost:6379")
	v.SetDefault("storage.redis.db", 0)

	v.SetDefault("push.enabled", false)

	v.SetDefault("email.default_from", "noreply@example.com")
	v.SetDefault("email.from_name", "Notifications")

	v.SetDefault("aws.region", "us-east-1")

	v.SetDefault("audit.timeout", "5s")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4317")

	v.SetDefault("sweeper.enabled", true)
	v.SetDefault("sweeper.schedule", "0 3 * * *")
	v.SetDefault("sweeper.token_max_age", "2160h")
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	switch c.Storage.Driver {
	case "memory", "external":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.SMS.Provider {
	case "", "twilio", "aws-sns":
	default:
		return fmt.Errorf("unknown sms provider %q", c.SMS.Provider)
	}
	switch c.Email.Provider {
	case "", "sendgrid", "ses":
	default:
		return fmt.Errorf("unknown email provider %q", c.Email.Provider)
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required when auth is enabled")
	}
	return nil
}

// Dump renders the effective configuration as YAML with secrets masked,
// for the config subcommand and startup logging.
func (c *Config) Dump() (string, error) {
	masked := *c
	masked.Auth.JWTSecret = mask(c.Auth.JWTSecret)
	masked.Storage.Elasticsearch.Password = mask(c.Storage.Elasticsearch.Password)
	masked.Storage.Redis.Password = mask(c.Storage.Redis.Password)
	masked.SMS.Twilio.AuthToken = mask(c.SMS.Twilio.AuthToken)
	masked.Email.SendGrid.APIKey = mask(c.Email.SendGrid.APIKey)
	masked.AWS.SecretAccessKey = mask(c.AWS.SecretAccessKey)
	masked.Audit.Token = mask(c.Audit.Token)

	out, err := yaml.Marshal(&masked)
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	return string(out), nil
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "******"
}
