package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database     DatabaseConfig     `yaml:"database"`
	Kafka        KafkaConfig        `yaml:"kafka"`
	Redis        RedisConfig        `yaml:"redis"`
	Provider     ProviderConfig     `yaml:"provider"`
	Webhook      WebhookConfig      `yaml:"webhook"`
	Sync         SyncConfig         `yaml:"sync"`
	HTTP         HTTPConfig         `yaml:"http"`
	InternalAuth InternalAuthConfig `yaml:"internal_auth"`
	Log          LogConfig          `yaml:"log"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password" env:"DATABASE_PASSWORD, overwrite"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

func (c DatabaseConfig) ConnString() string {
	ssl := c.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", c.Username, c.Password, c.Host, c.Port, c.DBName, ssl)
}

type KafkaConfig struct {
	Host                     string `yaml:"host"`
	Port                     int    `yaml:"port"`
	ShipmentUpdatedTopicName string `yaml:"shipment_updated_topic_name"`
	ConsumerGroup            string `yaml:"consumer_group"`
}

func (c KafkaConfig) Enabled() bool { return c.Host != "" }

func (c KafkaConfig) Broker() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

type RedisConfig struct {
	Host                    string `yaml:"host"`
	Port                    int    `yaml:"port"`
	ShipmentCacheTTLSeconds int    `yaml:"shipment_cache_ttl_seconds"`
	// SharedRateLimit enforces the provider budget across processes.
	SharedRateLimit bool `yaml:"shared_rate_limit"`
}

func (c RedisConfig) Enabled() bool { return c.Host != "" }

func (c RedisConfig) Addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

type ProviderConfig struct {
	// Mode is "http" for the real provider or "fake" for the local stand-in.
	Mode      string `yaml:"mode"`
	BaseURL   string `yaml:"base_url"`
	AppID     string `yaml:"app_id" env:"PROVIDER_APP_ID, overwrite"`
	AppSecret string `yaml:"app_secret" env:"PROVIDER_APP_SECRET, overwrite"`

	AuthTimeoutSeconds   int `yaml:"auth_timeout_seconds"`
	APITimeoutSeconds    int `yaml:"api_timeout_seconds"`
	BatchTimeoutSeconds  int `yaml:"batch_timeout_seconds"`
	TokenLifetimeSeconds int `yaml:"token_lifetime_seconds"`
	RefreshBufferSeconds int `yaml:"refresh_buffer_seconds"`

	RetryBaseMillis int `yaml:"retry_base_millis"`
	RetryMaxMillis  int `yaml:"retry_max_millis"`
	RetryAttempts   int `yaml:"retry_attempts"`

	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`
}

type WebhookConfig struct {
	Secret           string `yaml:"secret" env:"WEBHOOK_SECRET, overwrite"`
	ToleranceSeconds int    `yaml:"tolerance_seconds"`
	// CallbackBaseURL is the public base the provider pushes to.
	CallbackBaseURL string `yaml:"callback_base_url"`
}

type SyncConfig struct {
	StaleAfterSeconds int `yaml:"stale_after_seconds"`

	SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`
	SweepLimit           int `yaml:"sweep_limit"`
	BatchSize            int `yaml:"batch_size"`
	Concurrency          int `yaml:"concurrency"`
	LeaseSeconds         int `yaml:"lease_seconds"`

	// FullSweepAt is the local wall-clock time of the daily sweep, "HH:MM".
	FullSweepAt          string `yaml:"full_sweep_at"`
	FullSweepDelayMillis int    `yaml:"full_sweep_delay_millis"`

	ResubscribeIntervalSeconds int `yaml:"resubscribe_interval_seconds"`
	ResubscribeLimit           int `yaml:"resubscribe_limit"`
	ResubscribeDelayMillis     int `yaml:"resubscribe_delay_millis"`

	Timezone string `yaml:"timezone"`
}

type HTTPConfig struct {
	APIAddr             string   `yaml:"api_addr"`
	WorkerAddr          string   `yaml:"worker_addr"`
	SwaggerPath         string   `yaml:"swagger_path"`
	AllowedOrigins      []string `yaml:"allowed_origins"`
	LookupTimeoutMillis int      `yaml:"lookup_timeout_millis"`
}

type InternalAuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" env:"INTERNAL_JWT_SECRET, overwrite"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

func LoadConfig(filename string) (*Config, error) {
	return LoadConfigWith(context.Background(), filename, envconfig.OsLookuper())
}

// LoadConfigWith reads the YAML file and overlays secrets from lookuper.
// Set environment variables win over the file.
func LoadConfigWith(ctx context.Context, filename string, lookuper envconfig.Lookuper) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &config, Lookuper: lookuper}); err != nil {
		return nil, fmt.Errorf("failed to apply environment: %w", err)
	}
	return &config, nil
}

func Seconds(n int, def time.Duration) time.Duration {
	if n <= 0 {
		return def
	}
	return time.Duration(n) * time.Second
}

func Millis(n int, def time.Duration) time.Duration {
	if n <= 0 {
		return def
	}
	return time.Duration(n) * time.Millisecond
}

// ParseClock parses "HH:MM" into an offset from midnight.
func ParseClock(s string, def time.Duration) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// Public returns the settings safe to expose on ops endpoints.
func (c *Config) Public() map[string]any {
	return map[string]any{
		"provider": map[string]any{
			"mode":                  c.Provider.Mode,
			"base_url":              c.Provider.BaseURL,
			"rate_limit_per_minute": c.Provider.RateLimitPerMinute,
			"app_id_set":            c.Provider.AppID != "",
		},
		"webhook": map[string]any{
			"secret_set":        c.Webhook.Secret != "",
			"tolerance_seconds": c.Webhook.ToleranceSeconds,
			"callback_base_url": c.Webhook.CallbackBaseURL,
		},
		"sync":              c.Sync,
		"redis_enabled":     c.Redis.Enabled(),
		"kafka_enabled":     c.Kafka.Enabled(),
		"internal_auth_set": c.InternalAuth.JWTSecret != "",
		"log_level":         c.Log.Level,
	}
}
