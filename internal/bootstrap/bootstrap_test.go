package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/BoxSync/config"
	"github.com/BearBump/BoxSync/internal/apperr"
	"github.com/BearBump/BoxSync/internal/cache/rediscache"
	"github.com/BearBump/BoxSync/internal/integrations/tracking/fake"
	"github.com/BearBump/BoxSync/internal/integrations/tracking/portunhttp"
	"github.com/BearBump/BoxSync/internal/models"
	"github.com/BearBump/BoxSync/internal/ratelimit"
	"github.com/BearBump/BoxSync/internal/services/subscriptions"
	"github.com/BearBump/BoxSync/internal/storage/memstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

var _ Store = (*memstore.Store)(nil)

func TestNewProvider_Mode(t *testing.T) {
	_, ok := NewProvider(&config.Config{Provider: config.ProviderConfig{Mode: "fake"}}, nil).(*fake.Client)
	require.True(t, ok)

	_, ok = NewProvider(&config.Config{Provider: config.ProviderConfig{Mode: "http", AppID: "a"}}, nil).(*portunhttp.Client)
	require.True(t, ok)
}

func TestNewLimiter_LocalOnly(t *testing.T) {
	l := NewLimiter(&config.Config{Provider: config.ProviderConfig{RateLimitPerMinute: 2}}, nil)
	_, ok := l.(*ratelimit.FixedWindow)
	require.True(t, ok)

	ctx := context.Background()
	require.NoError(t, l.Admit(ctx))
	require.NoError(t, l.Admit(ctx))
	require.ErrorIs(t, l.Admit(ctx), apperr.ErrRateLimited)
}

func TestNewLimiter_Shared(t *testing.T) {
	mr := miniredis.RunT(t)
	rl := rediscache.NewRateLimiter(mr.Addr())
	t.Cleanup(func() { _ = rl.Close() })

	cfg := &config.Config{Provider: config.ProviderConfig{RateLimitPerMinute: 3}}
	a, b := NewLimiter(cfg, rl), NewLimiter(cfg, rl)
	_, ok := a.(ratelimit.Chain)
	require.True(t, ok)

	ctx := context.Background()
	require.NoError(t, a.Admit(ctx))
	require.NoError(t, b.Admit(ctx))
	require.NoError(t, a.Admit(ctx))
	// each local window still has room; the shared one is spent
	require.ErrorIs(t, b.Admit(ctx), apperr.ErrRateLimited)
}

func TestNewCore_EndToEnd(t *testing.T) {
	st := memstore.New()
	core := NewCore(&config.Config{
		Webhook: config.WebhookConfig{CallbackBaseURL: "https://sync.example.com/"},
	}, Deps{Store: st, Provider: fake.New()})

	require.Equal(t, "https://sync.example.com/webhooks/4portun", core.Subscriptions.CallbackURL())

	ctx := context.Background()
	sub, err := core.Subscriptions.Subscribe(ctx, "MSCU1234567", subscriptions.SubscribeOptions{})
	require.NoError(t, err)
	require.True(t, sub.ExternalSubscribed)

	sh, err := core.Syncer.EnsureFresh(ctx, "MSCU1234567")
	require.NoError(t, err)
	require.NotEmpty(t, sh.CurrentNode)

	got, err := core.Shipments.Get(ctx, "MSCU1234567")
	require.NoError(t, err)
	require.Equal(t, sh.ID, got.ID)

	o, err := core.Lifecycle.CreateOrder(ctx, "SO-1")
	require.NoError(t, err)
	require.Equal(t, models.OrderPending, o.Status)
}

func TestOpenPostgresWithRetry_GivesUp(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()
	_, err := OpenPostgresWithRetry(ctx, "postgres://u:p@127.0.0.1:1/db?sslmode=disable&connect_timeout=1", 2*time.Second)
	require.Error(t, err)
}
