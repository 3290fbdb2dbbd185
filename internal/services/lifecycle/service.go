package lifecycle

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/BearBump/BoxSync/internal/apperr"
	"github.com/BearBump/BoxSync/internal/metrics"
	"github.com/BearBump/BoxSync/internal/models"
	"github.com/BearBump/BoxSync/internal/storage"
	"github.com/google/uuid"
)

type Repository interface {
	CreateOrder(ctx context.Context, o *models.Order) error
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	CreateBill(ctx context.Context, b *models.Bill) error
	GetBill(ctx context.Context, id string) (*models.Bill, error)
	WithStatusLock(ctx context.Context, entity, id string, fn func(tx storage.StatusTx) error) error
	ListTransitions(ctx context.Context, entity, id string) ([]*models.StatusTransition, error)
}

type Service struct {
	repo Repository
	now  func() time.Time
}

func New(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

type TransitionRequest struct {
	To         string `json:"toStatus" validate:"required"`
	Reason     string `json:"reason,omitempty"`
	OperatorID string `json:"operatorId" validate:"required"`
}

// TransitionResult carries the audit row, or nil when the request was a
// self-transition and nothing was written.
type TransitionResult struct {
	EntityID   string                   `json:"entityId"`
	FromStatus string                   `json:"fromStatus"`
	ToStatus   string                   `json:"toStatus"`
	Transition *models.StatusTransition `json:"transition,omitempty"`
	Available  []string                 `json:"availableTransitions"`
}

func (s *Service) CreateOrder(ctx context.Context, orderNo string) (*models.Order, error) {
	orderNo = strings.TrimSpace(orderNo)
	if orderNo == "" {
		return nil, apperr.New(apperr.KindInvalidInput, "orderNo is required")
	}
	now := s.now().UTC()
	o := &models.Order{ID: uuid.NewString(), OrderNo: orderNo, Status: models.OrderPending, CreatedAt: now, UpdatedAt: now}
	if err := s.repo.CreateOrder(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Service) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	return s.repo.GetOrder(ctx, id)
}

func (s *Service) CreateBill(ctx context.Context, billNo string, orderID *string) (*models.Bill, error) {
	billNo = strings.TrimSpace(billNo)
	if billNo == "" {
		return nil, apperr.New(apperr.KindInvalidInput, "billNo is required")
	}
	if orderID != nil {
		if _, err := s.repo.GetOrder(ctx, *orderID); err != nil {
			return nil, err
		}
	}
	now := s.now().UTC()
	b := &models.Bill{ID: uuid.NewString(), BillNo: billNo, OrderID: orderID, Status: models.BillDraft, CreatedAt: now, UpdatedAt: now}
	if err := s.repo.CreateBill(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Service) GetBill(ctx context.Context, id string) (*models.Bill, error) {
	return s.repo.GetBill(ctx, id)
}

func (s *Service) TransitionOrder(ctx context.Context, id string, req TransitionRequest) (*TransitionResult, error) {
	return s.transition(ctx, OrderMachine, id, req)
}

func (s *Service) TransitionBill(ctx context.Context, id string, req TransitionRequest) (*TransitionResult, error) {
	return s.transition(ctx, BillMachine, id, req)
}

func (s *Service) OrderHistory(ctx context.Context, id string) ([]*models.StatusTransition, error) {
	return s.history(ctx, models.EntityOrder, id)
}

func (s *Service) BillHistory(ctx context.Context, id string) ([]*models.StatusTransition, error) {
	return s.history(ctx, models.EntityBill, id)
}

// transition reads the status under the row lock, validates it and writes
// the new status together with exactly one audit row.
func (s *Service) transition(ctx context.Context, m *Machine, id string, req TransitionRequest) (*TransitionResult, error) {
	if strings.TrimSpace(req.OperatorID) == "" {
		return nil, apperr.New(apperr.KindInvalidInput, "operatorId is required")
	}
	to := strings.ToUpper(strings.TrimSpace(req.To))

	var res *TransitionResult
	err := s.repo.WithStatusLock(ctx, m.Entity(), id, func(tx storage.StatusTx) error {
		from, err := tx.GetStatus(ctx)
		if err != nil {
			return err
		}
		if err := m.ValidateTransition(from, to, req.Reason); err != nil {
			return err
		}
		res = &TransitionResult{EntityID: id, FromStatus: from, ToStatus: to}
		if from == to {
			return nil
		}
		if err := tx.SetStatus(ctx, to); err != nil {
			return err
		}
		t := &models.StatusTransition{
			ID:         uuid.NewString(),
			EntityType: m.Entity(),
			EntityID:   id,
			FromStatus: from,
			ToStatus:   to,
			OperatorID: req.OperatorID,
			CreatedAt:  s.now().UTC(),
		}
		if r := strings.TrimSpace(req.Reason); r != "" {
			t.Reason = &r
		}
		if err := tx.AppendTransition(ctx, t); err != nil {
			return err
		}
		res.Transition = t
		return nil
	})
	if err != nil {
		metrics.TransitionsTotal.WithLabelValues(m.Entity(), string(apperr.KindOf(err))).Inc()
		return nil, err
	}

	outcome := "applied"
	if res.Transition == nil {
		outcome = "noop"
	}
	metrics.TransitionsTotal.WithLabelValues(m.Entity(), outcome).Inc()
	slog.Info("status transition",
		"entity", m.Entity(), "id", id, "from", res.FromStatus, "to", res.ToStatus, "outcome", outcome, "operator", req.OperatorID)

	res.Available = m.AvailableTransitions(res.ToStatus)
	return res, nil
}

func (s *Service) history(ctx context.Context, entity, id string) ([]*models.StatusTransition, error) {
	var err error
	if entity == models.EntityOrder {
		_, err = s.repo.GetOrder(ctx, id)
	} else {
		_, err = s.repo.GetBill(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	list, err := s.repo.ListTransitions(ctx, entity, id)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []*models.StatusTransition{}
	}
	return list, nil
}
