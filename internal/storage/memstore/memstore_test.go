package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/BoxSync/internal/apperr"
	"github.com/BearBump/BoxSync/internal/models"
	"github.com/stretchr/testify/require"
)

func ptrTime(t time.Time) *time.Time { return &t }

func TestSubscriptions_ConflictAndNotFound(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.CreateSubscription(ctx, &models.Subscription{ID: "1", ContainerNo: "MSCU1234567"}))
	err := s.CreateSubscription(ctx, &models.Subscription{ID: "2", ContainerNo: "MSCU1234567"})
	require.ErrorIs(t, err, apperr.ErrConflict)

	_, err = s.GetSubscription(ctx, "NOPE0000000")
	require.ErrorIs(t, err, apperr.ErrNotFound)
	require.ErrorIs(t, s.DeleteSubscription(ctx, "NOPE0000000"), apperr.ErrNotFound)
	require.NoError(t, s.DeleteSubscription(ctx, "MSCU1234567"))
}

func TestClaimDueSubscriptions_OrdersAndLeases(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	subs := []*models.Subscription{
		{ID: "a", ContainerNo: "AAAU0000001", IsSubscribed: true, AutoSync: true, NextSyncAt: ptrTime(now.Add(-time.Minute))},
		{ID: "b", ContainerNo: "BBBU0000002", IsSubscribed: true, AutoSync: true},
		{ID: "c", ContainerNo: "CCCU0000003", IsSubscribed: true, AutoSync: true, NextSyncAt: ptrTime(now.Add(time.Hour))},
		{ID: "d", ContainerNo: "DDDU0000004", IsSubscribed: false, AutoSync: true},
		{ID: "e", ContainerNo: "EEEU0000005", IsSubscribed: true, AutoSync: false},
	}
	for _, sub := range subs {
		require.NoError(t, s.CreateSubscription(ctx, sub))
	}

	got, err := s.ClaimDueSubscriptions(ctx, now, 10, 2*time.Minute)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "BBBU0000002", got[0].ContainerNo)
	require.Equal(t, "AAAU0000001", got[1].ContainerNo)

	again, err := s.ClaimDueSubscriptions(ctx, now.Add(time.Minute), 10, 2*time.Minute)
	require.NoError(t, err)
	require.Empty(t, again)

	require.NoError(t, s.AdvanceSubscriptions(ctx, []string{"AAAU0000001"}, now))
	sub, err := s.GetSubscription(ctx, "AAAU0000001")
	require.NoError(t, err)
	require.Equal(t, now.Add(sub.SyncInterval()), *sub.NextSyncAt)
	require.Equal(t, now, *sub.LastSyncAt)
}

func TestListActiveSubscriptions_Pages(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, no := range []string{"CCCU0000003", "AAAU0000001", "BBBU0000002"} {
		require.NoError(t, s.CreateSubscription(ctx, &models.Subscription{ID: no, ContainerNo: no, IsSubscribed: true}))
	}

	page, err := s.ListActiveSubscriptions(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, "AAAU0000001", page[0].ContainerNo)

	page, err = s.ListActiveSubscriptions(ctx, page[1].ContainerNo, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, "CCCU0000003", page[0].ContainerNo)
}

func TestSyncLogs_NewestFirst(t *testing.T) {
	ctx := context.Background()
	s := New()
	for i, job := range []string{"sweep", "full_sweep", "sweep"} {
		require.NoError(t, s.InsertSyncLog(ctx, &models.SyncLog{ID: string(rune('a' + i)), Job: job}))
	}

	got, err := s.ListSyncLogs(ctx, "sweep", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "c", got[0].ID)

	got, err = s.ListSyncLogs(ctx, "", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestWindow(t *testing.T) {
	in := []int{1, 2, 3, 4}
	require.Equal(t, []int{2, 3}, window(in, 2, 1))
	require.Equal(t, []int{3, 4}, window(in, 0, 2))
	require.Nil(t, window(in, 2, 9))
}
