package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BearBump/BoxSync/internal/apperr"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestFixedWindow_Boundary(t *testing.T) {
	clk := &clock{t: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
	l := NewFixedWindow(100, time.Minute).WithClock(clk.Now)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		require.NoError(t, l.Admit(ctx), "admit %d", i)
	}
	err := l.Admit(ctx)
	require.ErrorIs(t, err, apperr.ErrRateLimited)
	require.Equal(t, 0, l.Remaining())

	clk.Advance(59 * time.Second)
	require.ErrorIs(t, l.Admit(ctx), apperr.ErrRateLimited)

	clk.Advance(time.Second)
	require.NoError(t, l.Admit(ctx))
	require.Equal(t, 99, l.Remaining())
}

func TestFixedWindow_ConcurrentAdmitsNeverExceedLimit(t *testing.T) {
	clk := &clock{t: time.Now()}
	l := NewFixedWindow(50, time.Minute).WithClock(clk.Now)

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Admit(context.Background()) == nil {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int64(50), admitted.Load())
}

func TestNewFixedWindow_Defaults(t *testing.T) {
	l := NewFixedWindow(0, 0)
	require.Equal(t, DefaultLimit, l.limit)
	require.Equal(t, DefaultWindow, l.window)
}

type rejectAll struct{ calls int }

func (r *rejectAll) Admit(ctx context.Context) error {
	r.calls++
	return apperr.New(apperr.KindRateLimited, "shared window full")
}

func TestChain_FirstRejectionWins(t *testing.T) {
	local := NewFixedWindow(1, time.Minute)
	shared := &rejectAll{}

	require.NoError(t, local.Admit(context.Background()))

	// local window is exhausted; shared is not consulted.
	err := Chain{local, nil, shared}.Admit(context.Background())
	require.ErrorIs(t, err, apperr.ErrRateLimited)
	require.Equal(t, 0, shared.calls)
}

func TestChain_RejectionRefundsEarlierLimiters(t *testing.T) {
	local := NewFixedWindow(5, time.Minute)
	shared := &rejectAll{}
	chain := Chain{local, shared}

	for i := 0; i < 10; i++ {
		require.ErrorIs(t, chain.Admit(context.Background()), apperr.ErrRateLimited)
	}
	require.Equal(t, 10, shared.calls)
	require.Equal(t, 5, local.Remaining())

	require.NoError(t, Chain{local}.Admit(context.Background()))
	require.Equal(t, 4, local.Remaining())
}
