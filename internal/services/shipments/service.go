// Package shipments is the read side of the shipment store: a cache-first
// view kept warm by ShipmentUpdated events.
package shipments

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/BearBump/BoxSync/internal/apperr"
	"github.com/BearBump/BoxSync/internal/broker/messages"
	"github.com/BearBump/BoxSync/internal/cache"
	"github.com/BearBump/BoxSync/internal/models"
	"github.com/pkg/errors"
)

// MaxLookup bounds one multi-container read.
const MaxLookup = 100

type Repository interface {
	GetShipment(ctx context.Context, containerNo string) (*models.Shipment, error)
	ListShipmentNodes(ctx context.Context, containerNo string, limit, offset int) ([]*models.ShipmentNode, error)
}

type Service struct {
	repo       Repository
	cache      cache.BytesCache
	currentTTL time.Duration
}

func New(repo Repository, c cache.BytesCache, currentTTL time.Duration) *Service {
	return &Service{repo: repo, cache: c, currentTTL: currentTTL}
}

func (s *Service) cacheEnabled() bool {
	return s.cache != nil && s.currentTTL > 0
}

// Get reads one shipment, cache first. Cache failures fall through to the
// store.
func (s *Service) Get(ctx context.Context, containerNo string) (*models.Shipment, error) {
	containerNo = strings.TrimSpace(containerNo)
	if containerNo == "" {
		return nil, apperr.New(apperr.KindInvalidInput, "containerNo is required")
	}
	if sh, ok := s.cached(ctx, containerNo); ok {
		return sh, nil
	}
	sh, err := s.repo.GetShipment(ctx, containerNo)
	if err != nil {
		return nil, err
	}
	s.store(ctx, sh)
	return sh, nil
}

// GetMany returns the known shipments among containerNos in request order.
// Unknown containers are skipped.
func (s *Service) GetMany(ctx context.Context, containerNos []string) ([]*models.Shipment, error) {
	if len(containerNos) > MaxLookup {
		return nil, apperr.New(apperr.KindInvalidInput, "at most %d containers per lookup", MaxLookup)
	}
	out := make([]*models.Shipment, 0, len(containerNos))
	seen := make(map[string]struct{}, len(containerNos))
	for _, no := range containerNos {
		no = strings.TrimSpace(no)
		if no == "" {
			continue
		}
		if _, ok := seen[no]; ok {
			continue
		}
		seen[no] = struct{}{}

		sh, err := s.Get(ctx, no)
		if errors.Is(err, apperr.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, sh)
	}
	return out, nil
}

// ListNodes returns a container's node history, newest first.
func (s *Service) ListNodes(ctx context.Context, containerNo string, limit, offset int) ([]*models.ShipmentNode, error) {
	containerNo = strings.TrimSpace(containerNo)
	if _, err := s.Get(ctx, containerNo); err != nil {
		return nil, err
	}
	nodes, err := s.repo.ListShipmentNodes(ctx, containerNo, limit, offset)
	if err != nil {
		return nil, err
	}
	if nodes == nil {
		nodes = []*models.ShipmentNode{}
	}
	return nodes, nil
}

// ApplyUpdate refreshes the cached view from a ShipmentUpdated event. An
// event older than the cached copy is ignored.
func (s *Service) ApplyUpdate(ctx context.Context, msg messages.ShipmentUpdated) error {
	if msg.ContainerNo == "" {
		return errors.New("container_no is required")
	}
	if !s.cacheEnabled() {
		return nil
	}
	if cur, ok := s.cached(ctx, msg.ContainerNo); ok && cur.UpdatedAt.After(msg.Shipment.UpdatedAt) {
		slog.Debug("skip stale shipment update", "container_no", msg.ContainerNo)
		return nil
	}
	sh := msg.Shipment
	if sh.ContainerNo == "" {
		fresh, err := s.repo.GetShipment(ctx, msg.ContainerNo)
		if err != nil {
			return err
		}
		sh = *fresh
	}
	b, err := json.Marshal(&sh)
	if err != nil {
		return errors.Wrap(err, "marshal shipment")
	}
	return s.cache.Set(ctx, cache.ShipmentKey(msg.ContainerNo), b, s.currentTTL)
}

func (s *Service) Invalidate(ctx context.Context, containerNo string) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Delete(ctx, cache.ShipmentKey(containerNo))
}

func (s *Service) cached(ctx context.Context, containerNo string) (*models.Shipment, bool) {
	if !s.cacheEnabled() {
		return nil, false
	}
	b, ok, err := s.cache.Get(ctx, cache.ShipmentKey(containerNo))
	if err != nil {
		slog.Warn("shipment cache get", "container_no", containerNo, "error", err.Error())
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var sh models.Shipment
	if json.Unmarshal(b, &sh) != nil {
		return nil, false
	}
	return &sh, true
}

func (s *Service) store(ctx context.Context, sh *models.Shipment) {
	if !s.cacheEnabled() {
		return
	}
	b, err := json.Marshal(sh)
	if err != nil {
		return
	}
	_ = s.cache.Set(ctx, cache.ShipmentKey(sh.ContainerNo), b, s.currentTTL)
}
