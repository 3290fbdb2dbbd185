package subscriptions

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/BoxSync/internal/apperr"
	"github.com/BearBump/BoxSync/internal/integrations/tracking"
	"github.com/BearBump/BoxSync/internal/models"
	"github.com/BearBump/BoxSync/internal/storage/memstore"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type providerMock struct {
	mock.Mock
}

func (m *providerMock) TrackOne(ctx context.Context, containerNo string) (*models.Snapshot, error) {
	args := m.Called(ctx, containerNo)
	s, _ := args.Get(0).(*models.Snapshot)
	return s, args.Error(1)
}

func (m *providerMock) TrackBatch(ctx context.Context, containerNos []string) ([]*models.Snapshot, error) {
	args := m.Called(ctx, containerNos)
	s, _ := args.Get(0).([]*models.Snapshot)
	return s, args.Error(1)
}

func (m *providerMock) TrackByBL(ctx context.Context, blNo string) ([]*models.Snapshot, error) {
	args := m.Called(ctx, blNo)
	s, _ := args.Get(0).([]*models.Snapshot)
	return s, args.Error(1)
}

func (m *providerMock) Subscribe(ctx context.Context, containerNo, callbackURL string) (tracking.SubscriptionHandle, error) {
	args := m.Called(ctx, containerNo, callbackURL)
	return args.Get(0).(tracking.SubscriptionHandle), args.Error(1)
}

func (m *providerMock) Unsubscribe(ctx context.Context, containerNo string) error {
	return m.Called(ctx, containerNo).Error(0)
}

const callback = "https://boxsync.example.com/webhooks/4portun"

type RegistrySuite struct {
	suite.Suite
	st  *memstore.Store
	pm  *providerMock
	reg *Registry
	now time.Time
}

func (s *RegistrySuite) SetupTest() {
	s.st = memstore.New()
	s.pm = &providerMock{}
	s.now = time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)
	s.reg = New(s.st, s.pm, "https://boxsync.example.com/").WithClock(func() time.Time { return s.now })
}

func (s *RegistrySuite) TestCallbackURL() {
	s.Equal(callback, s.reg.CallbackURL())
	s.Empty(New(s.st, s.pm, " ").CallbackURL())
}

func (s *RegistrySuite) TestSubscribe_DefaultsAndExternal() {
	s.pm.On("Subscribe", mock.Anything, "MSCU1234567", callback).
		Return(tracking.SubscriptionHandle{ExternalID: "ext-9"}, nil).Once()

	sub, err := s.reg.Subscribe(context.Background(), " MSCU1234567 ", SubscribeOptions{})
	s.Require().NoError(err)
	s.True(sub.IsSubscribed)
	s.True(sub.AutoSync)
	s.Equal(models.DefaultSyncIntervalSeconds, sub.SyncIntervalSeconds)
	s.Equal(s.now.Add(300*time.Second), *sub.NextSyncAt)
	s.True(sub.ExternalSubscribed)
	s.Equal("ext-9", *sub.ExternalSubID)

	stored, err := s.st.GetSubscription(context.Background(), "MSCU1234567")
	s.Require().NoError(err)
	s.True(stored.ExternalSubscribed)
	s.pm.AssertExpectations(s.T())
}

func (s *RegistrySuite) TestSubscribe_ConflictWhenActive() {
	s.pm.On("Subscribe", mock.Anything, mock.Anything, mock.Anything).
		Return(tracking.SubscriptionHandle{}, nil)

	_, err := s.reg.Subscribe(context.Background(), "C1", SubscribeOptions{})
	s.Require().NoError(err)
	_, err = s.reg.Subscribe(context.Background(), "C1", SubscribeOptions{})
	s.Require().ErrorIs(err, apperr.ErrConflict)
}

func (s *RegistrySuite) TestSubscribe_ProviderFailureKeepsLocalRow() {
	s.pm.On("Subscribe", mock.Anything, "C1", callback).
		Return(tracking.SubscriptionHandle{}, apperr.New(apperr.KindProviderError, "down")).Once()

	sub, err := s.reg.Subscribe(context.Background(), "C1", SubscribeOptions{SyncInterval: 600})
	s.Require().NoError(err)
	s.True(sub.IsSubscribed)
	s.False(sub.ExternalSubscribed)
	s.Equal(600, sub.SyncIntervalSeconds)

	stored, err := s.st.GetSubscription(context.Background(), "C1")
	s.Require().NoError(err)
	s.True(stored.IsSubscribed)
	s.False(stored.ExternalSubscribed)
}

func (s *RegistrySuite) TestSubscribe_InvalidInput() {
	_, err := s.reg.Subscribe(context.Background(), "", SubscribeOptions{})
	s.Require().ErrorIs(err, apperr.ErrInvalidInput)
	_, err = s.reg.Subscribe(context.Background(), "C1", SubscribeOptions{SyncInterval: -1})
	s.Require().ErrorIs(err, apperr.ErrInvalidInput)
}

func (s *RegistrySuite) TestUnsubscribe_MarksInactiveAndResubscribeReactivates() {
	s.pm.On("Subscribe", mock.Anything, "C1", callback).Return(tracking.SubscriptionHandle{ExternalID: "e"}, nil)
	s.pm.On("Unsubscribe", mock.Anything, "C1").Return(nil).Once()

	first, err := s.reg.Subscribe(context.Background(), "C1", SubscribeOptions{})
	s.Require().NoError(err)

	sub, err := s.reg.Unsubscribe(context.Background(), "C1")
	s.Require().NoError(err)
	s.False(sub.IsSubscribed)
	s.False(sub.ExternalSubscribed)
	s.NotNil(sub.UnsubscribedAt)

	again, err := s.reg.Unsubscribe(context.Background(), "C1")
	s.Require().NoError(err)
	s.False(again.IsSubscribed)

	re, err := s.reg.Subscribe(context.Background(), "C1", SubscribeOptions{})
	s.Require().NoError(err)
	s.Equal(first.ID, re.ID)
	s.True(re.IsSubscribed)
	s.Nil(re.UnsubscribedAt)
	s.pm.AssertNumberOfCalls(s.T(), "Unsubscribe", 1)
}

func (s *RegistrySuite) TestUnsubscribe_ProviderFailureStillDeactivates() {
	s.pm.On("Subscribe", mock.Anything, "C1", callback).Return(tracking.SubscriptionHandle{}, nil)
	s.pm.On("Unsubscribe", mock.Anything, "C1").Return(apperr.New(apperr.KindProviderError, "down"))

	_, err := s.reg.Subscribe(context.Background(), "C1", SubscribeOptions{})
	s.Require().NoError(err)
	sub, err := s.reg.Unsubscribe(context.Background(), "C1")
	s.Require().NoError(err)
	s.False(sub.IsSubscribed)
	s.True(sub.ExternalSubscribed)
}

func (s *RegistrySuite) TestUpdate_IntervalReschedules() {
	s.pm.On("Subscribe", mock.Anything, "C1", callback).Return(tracking.SubscriptionHandle{}, nil)
	_, err := s.reg.Subscribe(context.Background(), "C1", SubscribeOptions{})
	s.Require().NoError(err)

	s.now = s.now.Add(time.Minute)
	interval := 900
	off := false
	remark := "vip"
	sub, err := s.reg.Update(context.Background(), "C1", UpdateOptions{SyncInterval: &interval, AutoSync: &off, Remark: &remark})
	s.Require().NoError(err)
	s.Equal(900, sub.SyncIntervalSeconds)
	s.Equal(s.now.Add(900*time.Second), *sub.NextSyncAt)
	s.False(sub.AutoSync)
	s.Equal("vip", *sub.Remark)

	_, err = s.reg.Update(context.Background(), "missing", UpdateOptions{})
	s.Require().ErrorIs(err, apperr.ErrNotFound)
}

func (s *RegistrySuite) TestDeleteRemovesRow() {
	s.pm.On("Subscribe", mock.Anything, "C1", callback).Return(tracking.SubscriptionHandle{}, nil)
	s.pm.On("Unsubscribe", mock.Anything, "C1").Return(nil).Once()
	_, err := s.reg.Subscribe(context.Background(), "C1", SubscribeOptions{})
	s.Require().NoError(err)

	s.Require().NoError(s.reg.Delete(context.Background(), "C1"))
	_, err = s.reg.Get(context.Background(), "C1")
	s.Require().ErrorIs(err, apperr.ErrNotFound)
	s.pm.AssertExpectations(s.T())
}

func (s *RegistrySuite) TestListPaginates() {
	s.pm.On("Subscribe", mock.Anything, mock.Anything, callback).Return(tracking.SubscriptionHandle{}, nil)
	company := "acme"
	for _, no := range []string{"C1", "C2", "C3"} {
		_, err := s.reg.Subscribe(context.Background(), no, SubscribeOptions{CompanyID: &company})
		s.Require().NoError(err)
	}

	list, pg, err := s.reg.List(context.Background(), models.SubscriptionFilter{CompanyID: "acme"}, models.Page{Page: 2, PageSize: 2})
	s.Require().NoError(err)
	s.Len(list, 1)
	s.Equal(models.Pagination{Page: 2, PageSize: 2, Total: 3, TotalPages: 2}, pg)

	list, pg, err = s.reg.List(context.Background(), models.SubscriptionFilter{CompanyID: "other"}, models.Page{})
	s.Require().NoError(err)
	s.NotNil(list)
	s.Empty(list)
	s.Equal(int64(0), pg.TotalPages)
}

func (s *RegistrySuite) TestReconcileExternalState() {
	s.pm.On("Subscribe", mock.Anything, "C1", callback).Return(tracking.SubscriptionHandle{}, apperr.New(apperr.KindProviderError, "down")).Once()
	s.pm.On("Subscribe", mock.Anything, "C2", callback).Return(tracking.SubscriptionHandle{}, apperr.New(apperr.KindProviderError, "down")).Once()
	for _, no := range []string{"C1", "C2"} {
		_, err := s.reg.Subscribe(context.Background(), no, SubscribeOptions{})
		s.Require().NoError(err)
	}

	s.pm.On("Subscribe", mock.Anything, "C1", callback).Return(tracking.SubscriptionHandle{ExternalID: "x1"}, nil).Once()
	s.pm.On("Subscribe", mock.Anything, "C2", callback).Return(tracking.SubscriptionHandle{}, apperr.New(apperr.KindProviderError, "down")).Once()

	started := time.Now()
	rep, err := s.reg.WithResubscribe(10, 20*time.Millisecond).ReconcileExternalState(context.Background())
	s.Require().NoError(err)
	s.Equal(&ResubscribeReport{Attempted: 2, Succeeded: 1, Failed: 1}, rep)
	s.GreaterOrEqual(time.Since(started), 15*time.Millisecond)

	c1, _ := s.st.GetSubscription(context.Background(), "C1")
	s.True(c1.ExternalSubscribed)
	c2, _ := s.st.GetSubscription(context.Background(), "C2")
	s.False(c2.ExternalSubscribed)
}

func (s *RegistrySuite) TestApplyBatch() {
	s.pm.On("Subscribe", mock.Anything, mock.Anything, callback).Return(tracking.SubscriptionHandle{}, nil)
	s.pm.On("Unsubscribe", mock.Anything, mock.Anything).Return(nil)
	interval := 120

	res := s.reg.ApplyBatch(context.Background(), []BatchItem{
		{ContainerNo: "C1", Action: ActionSubscribe},
		{ContainerNo: "C1", Action: ActionSubscribe},
		{ContainerNo: "C1", Action: ActionUpdate, SyncInterval: &interval},
		{ContainerNo: "C9", Action: ActionUnsubscribe},
		{ContainerNo: "C1", Action: "pause"},
		{ContainerNo: "C1", Action: ActionUnsubscribe},
	})
	s.Require().Len(res, 6)
	s.Equal("success", res[0].Status)
	s.Equal("failed", res[1].Status)
	s.Contains(res[1].Message, "already subscribed")
	s.Equal("success", res[2].Status)
	s.Equal("failed", res[3].Status)
	s.Equal("failed", res[4].Status)
	s.Equal("success", res[5].Status)
}

func TestRegistrySuite(t *testing.T) {
	suite.Run(t, new(RegistrySuite))
}
