// Package memstore is an in-memory implementation of the pgsync method set.
// It backs service and handler tests; writes are not rolled back when a
// transaction callback fails.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BearBump/BoxSync/internal/apperr"
	"github.com/BearBump/BoxSync/internal/models"
	"github.com/BearBump/BoxSync/internal/storage"
)

type Store struct {
	mu sync.Mutex

	shipments     map[string]*models.Shipment // by container
	nodes         map[string][]*models.ShipmentNode
	subscriptions map[string]*models.Subscription // by container
	pushes        []*models.PushRecord
	syncLogs      []*models.SyncLog
	orders        map[string]*models.Order
	bills         map[string]*models.Bill
	transitions   []*models.StatusTransition

	rowLocks map[string]*sync.Mutex
}

func New() *Store {
	return &Store{
		shipments:     map[string]*models.Shipment{},
		nodes:         map[string][]*models.ShipmentNode{},
		subscriptions: map[string]*models.Subscription{},
		orders:        map[string]*models.Order{},
		bills:         map[string]*models.Bill{},
		rowLocks:      map[string]*sync.Mutex{},
	}
}

func (s *Store) lockRow(key string) func() {
	s.mu.Lock()
	m, ok := s.rowLocks[key]
	if !ok {
		m = &sync.Mutex{}
		s.rowLocks[key] = m
	}
	s.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// shipments

func (s *Store) WithShipmentLock(ctx context.Context, containerNo string, fn func(tx storage.ShipmentTx) error) error {
	defer s.lockRow("shipment:" + containerNo)()
	return fn(shipmentTx{s})
}

func (s *Store) GetShipment(ctx context.Context, containerNo string) (*models.Shipment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, ok := s.shipments[containerNo]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "shipment %s not found", containerNo)
	}
	cp := *sh
	return &cp, nil
}

// PutShipment stores a shipment as is. Tests use it to seed state.
func (s *Store) PutShipment(sh *models.Shipment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sh
	s.shipments[sh.ContainerNo] = &cp
}

func (s *Store) ListShipmentsByBL(ctx context.Context, blNo string) ([]*models.Shipment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Shipment
	for _, sh := range s.shipments {
		if sh.BLNo == blNo {
			cp := *sh
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContainerNo < out[j].ContainerNo })
	return out, nil
}

func (s *Store) ListShipmentNodes(ctx context.Context, containerNo string, limit, offset int) ([]*models.ShipmentNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, ok := s.shipments[containerNo]
	if !ok {
		return nil, nil
	}
	all := copyNodes(s.nodes[sh.ID])
	sort.SliceStable(all, func(i, j int) bool { return all[i].EventTime.After(all[j].EventTime) })
	return window(all, limit, offset), nil
}

type shipmentTx struct{ s *Store }

func (t shipmentTx) GetShipment(ctx context.Context, containerNo string) (*models.Shipment, error) {
	return t.s.GetShipment(ctx, containerNo)
}

func (t shipmentTx) InsertShipment(ctx context.Context, sh *models.Shipment) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, ok := t.s.shipments[sh.ContainerNo]; ok {
		return apperr.New(apperr.KindConflict, "shipment %s already exists", sh.ContainerNo)
	}
	cp := *sh
	t.s.shipments[sh.ContainerNo] = &cp
	return nil
}

func (t shipmentTx) UpdateShipment(ctx context.Context, sh *models.Shipment) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, ok := t.s.shipments[sh.ContainerNo]; !ok {
		return apperr.New(apperr.KindNotFound, "shipment %s not found", sh.ContainerNo)
	}
	cp := *sh
	t.s.shipments[sh.ContainerNo] = &cp
	return nil
}

func (t shipmentTx) ListNodes(ctx context.Context, shipmentID string) ([]*models.ShipmentNode, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return copyNodes(t.s.nodes[shipmentID]), nil
}

func (t shipmentTx) UpsertNode(ctx context.Context, n *models.ShipmentNode) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	cp := *n
	list := t.s.nodes[n.ShipmentID]
	for i, cur := range list {
		if cur.NodeCode == n.NodeCode && cur.EventTime.Equal(n.EventTime) {
			cp.ID, cp.Source, cp.CreatedAt = cur.ID, cur.Source, cur.CreatedAt
			list[i] = &cp
			return nil
		}
	}
	t.s.nodes[n.ShipmentID] = append(list, &cp)
	return nil
}

func (s *Store) NodeCount(containerNo string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, ok := s.shipments[containerNo]
	if !ok {
		return 0
	}
	return len(s.nodes[sh.ID])
}

// subscriptions

func (s *Store) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subscriptions[sub.ContainerNo]; ok {
		return apperr.New(apperr.KindConflict, "container %s already has a subscription", sub.ContainerNo)
	}
	cp := *sub
	s.linkShipment(&cp)
	s.subscriptions[sub.ContainerNo] = &cp
	return nil
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *models.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for no, cur := range s.subscriptions {
		if cur.ID == sub.ID {
			cp := *sub
			s.linkShipment(&cp)
			delete(s.subscriptions, no)
			s.subscriptions[cp.ContainerNo] = &cp
			return nil
		}
	}
	return apperr.New(apperr.KindNotFound, "subscription %s not found", sub.ContainerNo)
}

func (s *Store) linkShipment(sub *models.Subscription) {
	if sub.ShipmentID != nil {
		return
	}
	if sh, ok := s.shipments[sub.ContainerNo]; ok {
		id := sh.ID
		sub.ShipmentID = &id
	}
}

func (s *Store) GetSubscription(ctx context.Context, containerNo string) (*models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptions[containerNo]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "subscription %s not found", containerNo)
	}
	cp := *sub
	return &cp, nil
}

func (s *Store) DeleteSubscription(ctx context.Context, containerNo string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subscriptions[containerNo]; !ok {
		return apperr.New(apperr.KindNotFound, "subscription %s not found", containerNo)
	}
	delete(s.subscriptions, containerNo)
	return nil
}

func (s *Store) ListSubscriptions(ctx context.Context, f models.SubscriptionFilter, p models.Page) ([]*models.Subscription, int64, error) {
	p = p.Normalize()
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Subscription
	for _, sub := range s.sortedSubscriptions() {
		if f.ContainerNo != "" && !strings.Contains(strings.ToUpper(sub.ContainerNo), strings.ToUpper(f.ContainerNo)) {
			continue
		}
		if f.CompanyID != "" && (sub.CompanyID == nil || *sub.CompanyID != f.CompanyID) {
			continue
		}
		if f.IsSubscribed != nil && sub.IsSubscribed != *f.IsSubscribed {
			continue
		}
		if f.ExternalSubscribed != nil && sub.ExternalSubscribed != *f.ExternalSubscribed {
			continue
		}
		cp := *sub
		out = append(out, &cp)
	}
	return window(out, p.PageSize, p.Offset()), int64(len(out)), nil
}

func (s *Store) ClaimDueSubscriptions(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*models.Subscription
	for _, sub := range s.sortedSubscriptions() {
		if sub.IsSubscribed && sub.AutoSync && (sub.NextSyncAt == nil || !sub.NextSyncAt.After(now)) {
			due = append(due, sub)
		}
	}
	sort.SliceStable(due, func(i, j int) bool {
		a, b := due[i].NextSyncAt, due[j].NextSyncAt
		if a == nil || b == nil {
			return a == nil && b != nil
		}
		return a.Before(*b)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	leaseUntil := now.UTC().Add(lease)
	out := make([]*models.Subscription, 0, len(due))
	for _, sub := range due {
		sub.NextSyncAt = &leaseUntil
		cp := *sub
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) ListActiveSubscriptions(ctx context.Context, after string, limit int) ([]*models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Subscription
	for _, sub := range s.sortedSubscriptions() {
		if !sub.IsSubscribed || sub.ContainerNo <= after {
			continue
		}
		cp := *sub
		out = append(out, &cp)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) AdvanceSubscriptions(ctx context.Context, containerNos []string, syncedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, no := range containerNos {
		sub, ok := s.subscriptions[no]
		if !ok {
			continue
		}
		at := syncedAt.UTC()
		next := at.Add(sub.SyncInterval())
		sub.LastSyncAt = &at
		sub.NextSyncAt = &next
		sub.UpdatedAt = at
		s.linkShipment(sub)
	}
	return nil
}

func (s *Store) ListPendingExternal(ctx context.Context, limit int) ([]*models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Subscription
	for _, sub := range s.sortedSubscriptions() {
		if sub.IsSubscribed && !sub.ExternalSubscribed {
			cp := *sub
			out = append(out, &cp)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *Store) MarkExternalSubscribed(ctx context.Context, containerNo, externalID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptions[containerNo]
	if !ok {
		return apperr.New(apperr.KindNotFound, "subscription %s not found", containerNo)
	}
	sub.ExternalSubscribed = true
	sub.ExternalSubID = nil
	if externalID != "" {
		id := externalID
		sub.ExternalSubID = &id
	}
	sub.UpdatedAt = at
	return nil
}

func (s *Store) RecordPush(ctx context.Context, containerNo string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub, ok := s.subscriptions[containerNo]; ok {
		at := at.UTC()
		sub.TotalPushes++
		sub.LastPushAt = &at
		sub.LastSyncAt = &at
		sub.UpdatedAt = at
	}
	return nil
}

func (s *Store) sortedSubscriptions() []*models.Subscription {
	out := make([]*models.Subscription, 0, len(s.subscriptions))
	for _, sub := range s.subscriptions {
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContainerNo < out[j].ContainerNo })
	return out
}

// push records

func (s *Store) CreatePushRecord(ctx context.Context, r *models.PushRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.pushes = append(s.pushes, &cp)
	return nil
}

func (s *Store) FinalizePushRecord(ctx context.Context, id, status string, shipmentID, errMsg *string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.pushes {
		if r.ID != id {
			continue
		}
		if r.Status != models.PushStatusPending {
			break
		}
		at := at.UTC()
		r.Status = status
		if shipmentID != nil {
			r.ShipmentID = shipmentID
		}
		r.ErrorMessage = errMsg
		r.FinishedAt = &at
		return nil
	}
	return apperr.New(apperr.KindConflict, "push record %s is not pending", id)
}

func (s *Store) ListPushRecords(ctx context.Context, f models.PushRecordFilter, p models.Page) ([]*models.PushRecord, int64, error) {
	p = p.Normalize()
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.PushRecord
	for i := len(s.pushes) - 1; i >= 0; i-- {
		r := s.pushes[i]
		if f.ContainerNo != "" && r.ContainerNo != f.ContainerNo {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		if f.Source != "" && r.Source != f.Source {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	return window(out, p.PageSize, p.Offset()), int64(len(out)), nil
}

// sync logs

func (s *Store) InsertSyncLog(ctx context.Context, l *models.SyncLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *l
	s.syncLogs = append(s.syncLogs, &cp)
	return nil
}

func (s *Store) ListSyncLogs(ctx context.Context, job string, limit int) ([]*models.SyncLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.SyncLog
	for i := len(s.syncLogs) - 1; i >= 0; i-- {
		if job != "" && s.syncLogs[i].Job != job {
			continue
		}
		cp := *s.syncLogs[i]
		out = append(out, &cp)
	}
	return window(out, limit, 0), nil
}

// orders and bills

func (s *Store) CreateOrder(ctx context.Context, o *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cur := range s.orders {
		if cur.OrderNo == o.OrderNo {
			return apperr.New(apperr.KindConflict, "order %s already exists", o.OrderNo)
		}
	}
	cp := *o
	s.orders[o.ID] = &cp
	return nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "order %s not found", id)
	}
	cp := *o
	return &cp, nil
}

func (s *Store) CreateBill(ctx context.Context, b *models.Bill) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cur := range s.bills {
		if cur.BillNo == b.BillNo {
			return apperr.New(apperr.KindConflict, "bill %s already exists", b.BillNo)
		}
	}
	cp := *b
	s.bills[b.ID] = &cp
	return nil
}

func (s *Store) GetBill(ctx context.Context, id string) (*models.Bill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bills[id]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "bill %s not found", id)
	}
	cp := *b
	return &cp, nil
}

func (s *Store) WithStatusLock(ctx context.Context, entity, id string, fn func(tx storage.StatusTx) error) error {
	if entity != models.EntityOrder && entity != models.EntityBill {
		return apperr.New(apperr.KindInvalidInput, "unknown entity %q", entity)
	}
	defer s.lockRow(entity + ":" + id)()

	s.mu.Lock()
	var status string
	switch entity {
	case models.EntityOrder:
		o, ok := s.orders[id]
		if !ok {
			s.mu.Unlock()
			return apperr.New(apperr.KindNotFound, "order %s not found", id)
		}
		status = o.Status
	default:
		b, ok := s.bills[id]
		if !ok {
			s.mu.Unlock()
			return apperr.New(apperr.KindNotFound, "bill %s not found", id)
		}
		status = b.Status
	}
	s.mu.Unlock()

	return fn(&statusTx{s: s, entity: entity, id: id, status: status})
}

func (s *Store) ListTransitions(ctx context.Context, entity, id string) ([]*models.StatusTransition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.StatusTransition
	for i := len(s.transitions) - 1; i >= 0; i-- {
		t := s.transitions[i]
		if t.EntityType == entity && t.EntityID == id {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

type statusTx struct {
	s      *Store
	entity string
	id     string
	status string
}

func (t *statusTx) GetStatus(ctx context.Context) (string, error) { return t.status, nil }

func (t *statusTx) SetStatus(ctx context.Context, status string) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	now := time.Now().UTC()
	if t.entity == models.EntityOrder {
		o := t.s.orders[t.id]
		o.Status, o.UpdatedAt = status, now
	} else {
		b := t.s.bills[t.id]
		if status == models.BillIssued && b.IssueDate == nil {
			b.IssueDate = &now
		}
		b.Status, b.UpdatedAt = status, now
	}
	t.status = status
	return nil
}

func (t *statusTx) AppendTransition(ctx context.Context, tr *models.StatusTransition) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	cp := *tr
	t.s.transitions = append(t.s.transitions, &cp)
	return nil
}

func copyNodes(in []*models.ShipmentNode) []*models.ShipmentNode {
	out := make([]*models.ShipmentNode, 0, len(in))
	for _, n := range in {
		cp := *n
		out = append(out, &cp)
	}
	return out
}

func window[T any](in []T, limit, offset int) []T {
	if offset >= len(in) {
		return nil
	}
	in = in[offset:]
	if limit > 0 && len(in) > limit {
		in = in[:limit]
	}
	return in
}
