package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/require"
)

const sample = `
database:
  host: "localhost"
  port: 5432
  username: "u"
  password: "p"
  name: "db"
kafka:
  host: "localhost"
  port: 9092
  shipment_updated_topic_name: "shipment.updated"
  consumer_group: "track-api"
redis:
  host: "localhost"
  port: 6379
  shipment_cache_ttl_seconds: 600
  shared_rate_limit: true
provider:
  mode: "http"
  app_id: "file-app"
  app_secret: "file-secret"
  rate_limit_per_minute: 100
webhook:
  secret: "from-file"
  callback_base_url: "https://sync.example.com"
sync:
  sweep_interval_seconds: 300
  full_sweep_at: "02:00"
http:
  api_addr: ":8080"
  allowed_origins: ["https://app.example.com"]
log:
  level: "debug"
`

func writeSample(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(p, []byte(sample), 0o600))
	return p
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfigWith(context.Background(), writeSample(t), envconfig.MapLookuper(nil))
	require.NoError(t, err)
	require.Equal(t, "u", cfg.Database.Username)
	require.Equal(t, "postgres://u:p@localhost:5432/db?sslmode=disable", cfg.Database.ConnString())
	require.Equal(t, "shipment.updated", cfg.Kafka.ShipmentUpdatedTopicName)
	require.Equal(t, "localhost:9092", cfg.Kafka.Broker())
	require.Equal(t, "localhost:6379", cfg.Redis.Addr())
	require.True(t, cfg.Redis.SharedRateLimit)
	require.Equal(t, "from-file", cfg.Webhook.Secret)
	require.Equal(t, []string{"https://app.example.com"}, cfg.HTTP.AllowedOrigins)
	require.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadConfig_EnvOverridesSecrets(t *testing.T) {
	cfg, err := LoadConfigWith(context.Background(), writeSample(t), envconfig.MapLookuper(map[string]string{
		"WEBHOOK_SECRET":      "from-env",
		"PROVIDER_APP_SECRET": "env-secret",
		"INTERNAL_JWT_SECRET": "jwt",
	}))
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.Webhook.Secret)
	require.Equal(t, "env-secret", cfg.Provider.AppSecret)
	require.Equal(t, "file-app", cfg.Provider.AppID)
	require.Equal(t, "jwt", cfg.InternalAuth.JWTSecret)
	require.Equal(t, "p", cfg.Database.Password)

	pub := cfg.Public()
	require.Equal(t, true, pub["internal_auth_set"])
	require.NotContains(t, pub, "jwt")
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestDurations(t *testing.T) {
	require.Equal(t, time.Hour, Seconds(0, time.Hour))
	require.Equal(t, 90*time.Second, Seconds(90, time.Hour))
	require.Equal(t, time.Second, Millis(-1, time.Second))
	require.Equal(t, 250*time.Millisecond, Millis(250, time.Second))

	d, err := ParseClock("02:30", 0)
	require.NoError(t, err)
	require.Equal(t, 2*time.Hour+30*time.Minute, d)

	d, err = ParseClock("", 2*time.Hour)
	require.NoError(t, err)
	require.Equal(t, 2*time.Hour, d)

	_, err = ParseClock("25:99", 0)
	require.Error(t, err)
}
