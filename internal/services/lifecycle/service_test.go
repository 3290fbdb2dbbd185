package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/BoxSync/internal/apperr"
	"github.com/BearBump/BoxSync/internal/models"
	"github.com/BearBump/BoxSync/internal/storage/memstore"
	"github.com/stretchr/testify/suite"
)

type ServiceSuite struct {
	suite.Suite
	ctx   context.Context
	store *memstore.Store
	svc   *Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = memstore.New()
	now := time.Date(2025, 8, 1, 10, 0, 0, 0, time.UTC)
	s.svc = New(s.store).WithClock(func() time.Time { return now })
}

func (s *ServiceSuite) TestOrderHappyPath() {
	o, err := s.svc.CreateOrder(s.ctx, "SO-1")
	s.Require().NoError(err)
	s.Require().Equal(models.OrderPending, o.Status)

	for _, to := range []string{models.OrderConfirmed, models.OrderProcessing, models.OrderCompleted} {
		res, err := s.svc.TransitionOrder(s.ctx, o.ID, TransitionRequest{To: to, OperatorID: "u1"})
		s.Require().NoError(err)
		s.Require().NotNil(res.Transition)
	}

	got, err := s.svc.GetOrder(s.ctx, o.ID)
	s.Require().NoError(err)
	s.Require().Equal(models.OrderCompleted, got.Status)

	hist, err := s.svc.OrderHistory(s.ctx, o.ID)
	s.Require().NoError(err)
	s.Require().Len(hist, 3)
	s.Require().Equal(models.OrderProcessing, hist[0].FromStatus)
	s.Require().Equal(models.OrderCompleted, hist[0].ToStatus)
	s.Require().Equal(models.OrderPending, hist[2].FromStatus)
}

func (s *ServiceSuite) TestDeniedTransitionWritesNothing() {
	o, err := s.svc.CreateOrder(s.ctx, "SO-2")
	s.Require().NoError(err)
	_, err = s.svc.TransitionOrder(s.ctx, o.ID, TransitionRequest{To: models.OrderConfirmed, OperatorID: "u1"})
	s.Require().NoError(err)
	_, err = s.svc.TransitionOrder(s.ctx, o.ID, TransitionRequest{To: models.OrderProcessing, OperatorID: "u1"})
	s.Require().NoError(err)

	_, err = s.svc.TransitionOrder(s.ctx, o.ID, TransitionRequest{To: models.OrderCancelled, OperatorID: "u1"})
	s.Require().ErrorIs(err, apperr.ErrInvalidTransition)

	got, _ := s.svc.GetOrder(s.ctx, o.ID)
	s.Require().Equal(models.OrderProcessing, got.Status)
	hist, _ := s.svc.OrderHistory(s.ctx, o.ID)
	s.Require().Len(hist, 2)
}

func (s *ServiceSuite) TestRejectRequiresReason() {
	o, err := s.svc.CreateOrder(s.ctx, "SO-3")
	s.Require().NoError(err)

	_, err = s.svc.TransitionOrder(s.ctx, o.ID, TransitionRequest{To: models.OrderRejected, OperatorID: "u1"})
	s.Require().ErrorIs(err, apperr.ErrInvalidTransition)

	res, err := s.svc.TransitionOrder(s.ctx, o.ID, TransitionRequest{To: "rejected", Reason: "no stock", OperatorID: "u1"})
	s.Require().NoError(err)
	s.Require().Equal(models.OrderRejected, res.ToStatus)
	s.Require().Empty(res.Available)

	hist, _ := s.svc.OrderHistory(s.ctx, o.ID)
	s.Require().Len(hist, 1)
	s.Require().NotNil(hist[0].Reason)
	s.Require().Equal("no stock", *hist[0].Reason)
	s.Require().Equal("u1", hist[0].OperatorID)
}

func (s *ServiceSuite) TestSelfTransitionIsNoop() {
	o, err := s.svc.CreateOrder(s.ctx, "SO-4")
	s.Require().NoError(err)

	res, err := s.svc.TransitionOrder(s.ctx, o.ID, TransitionRequest{To: models.OrderPending, OperatorID: "u1"})
	s.Require().NoError(err)
	s.Require().Nil(res.Transition)

	hist, _ := s.svc.OrderHistory(s.ctx, o.ID)
	s.Require().Empty(hist)
}

func (s *ServiceSuite) TestBillIssueSetsIssueDate() {
	b, err := s.svc.CreateBill(s.ctx, "INV-1", nil)
	s.Require().NoError(err)
	s.Require().Nil(b.IssueDate)

	_, err = s.svc.TransitionBill(s.ctx, b.ID, TransitionRequest{To: models.BillIssued, OperatorID: "u2"})
	s.Require().NoError(err)
	_, err = s.svc.TransitionBill(s.ctx, b.ID, TransitionRequest{To: models.BillOverdue, OperatorID: "u2"})
	s.Require().NoError(err)
	_, err = s.svc.TransitionBill(s.ctx, b.ID, TransitionRequest{To: models.BillPaid, OperatorID: "u2"})
	s.Require().NoError(err)

	got, err := s.svc.GetBill(s.ctx, b.ID)
	s.Require().NoError(err)
	s.Require().Equal(models.BillPaid, got.Status)
	s.Require().NotNil(got.IssueDate)

	_, err = s.svc.TransitionBill(s.ctx, b.ID, TransitionRequest{To: models.BillCancelled, OperatorID: "u2"})
	s.Require().ErrorIs(err, apperr.ErrInvalidTransition)
}

func (s *ServiceSuite) TestValidationAndLookupErrors() {
	_, err := s.svc.CreateOrder(s.ctx, " ")
	s.Require().ErrorIs(err, apperr.ErrInvalidInput)

	_, err = s.svc.CreateOrder(s.ctx, "SO-5")
	s.Require().NoError(err)
	_, err = s.svc.CreateOrder(s.ctx, "SO-5")
	s.Require().ErrorIs(err, apperr.ErrConflict)

	missing := "nope"
	_, err = s.svc.CreateBill(s.ctx, "INV-2", &missing)
	s.Require().ErrorIs(err, apperr.ErrNotFound)

	_, err = s.svc.TransitionOrder(s.ctx, "nope", TransitionRequest{To: models.OrderConfirmed, OperatorID: "u1"})
	s.Require().ErrorIs(err, apperr.ErrNotFound)

	_, err = s.svc.TransitionOrder(s.ctx, "nope", TransitionRequest{To: models.OrderConfirmed})
	s.Require().ErrorIs(err, apperr.ErrInvalidInput)

	_, err = s.svc.BillHistory(s.ctx, "nope")
	s.Require().ErrorIs(err, apperr.ErrNotFound)
}
