// Package reconciler is the single writer of shipment state. It merges a
// snapshot from any source into the shipment row and its node history.
package reconciler

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/BearBump/BoxSync/internal/apperr"
	"github.com/BearBump/BoxSync/internal/broker/messages"
	"github.com/BearBump/BoxSync/internal/cache"
	"github.com/BearBump/BoxSync/internal/metrics"
	"github.com/BearBump/BoxSync/internal/models"
	"github.com/BearBump/BoxSync/internal/storage"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type Repository interface {
	// WithShipmentLock runs fn in one transaction that holds a lock on the
	// container number across processes.
	WithShipmentLock(ctx context.Context, containerNo string, fn func(tx storage.ShipmentTx) error) error
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type AppliedResult struct {
	Shipment     *models.Shipment
	Created      bool
	Inserted     int
	Updated      int
	Unchanged    int
	PreviousNode string
	CurrentNode  string
}

// Changed reports whether the apply wrote anything besides sync bookkeeping.
func (r *AppliedResult) Changed() bool {
	return r.Created || r.Inserted > 0 || r.Updated > 0 || r.PreviousNode != r.CurrentNode
}

type Reconciler struct {
	repo  Repository
	locks *keyLock

	producer Producer
	topic    string

	cache    cache.BytesCache
	cacheTTL time.Duration

	now func() time.Time
}

func New(repo Repository) *Reconciler {
	return &Reconciler{
		repo:  repo,
		locks: newKeyLock(),
		topic: messages.DefaultShipmentUpdatedTopic,
		now:   time.Now,
	}
}

func (r *Reconciler) WithProducer(p Producer, topic string) *Reconciler {
	r.producer = p
	if topic != "" {
		r.topic = topic
	}
	return r
}

func (r *Reconciler) WithCache(c cache.BytesCache, ttl time.Duration) *Reconciler {
	r.cache = c
	r.cacheTTL = ttl
	return r
}

func (r *Reconciler) WithClock(now func() time.Time) *Reconciler {
	r.now = now
	return r
}

type nodeKey struct {
	code string
	at   int64
}

func keyOf(code string, at time.Time) nodeKey {
	return nodeKey{code: code, at: at.UnixMicro()}
}

// Apply merges snap into the shipment identified by containerNo. Events are
// upserted by (shipment, nodeCode, eventTime); currentNode is recomputed over
// the full history so late events never move it backwards. Calls for the same
// container are serialized.
func (r *Reconciler) Apply(ctx context.Context, containerNo string, snap *models.Snapshot, provenance string) (*AppliedResult, error) {
	containerNo = strings.TrimSpace(containerNo)
	if containerNo == "" {
		return nil, apperr.New(apperr.KindInvalidInput, "containerNo is required")
	}
	if snap == nil {
		snap = &models.Snapshot{ContainerNo: containerNo}
	}
	if snap.ContainerNo != "" && snap.ContainerNo != containerNo {
		return nil, apperr.New(apperr.KindInvalidInput, "snapshot is for %s, not %s", snap.ContainerNo, containerNo)
	}
	events, err := normalizeEvents(snap.Events)
	if err != nil {
		return nil, err
	}

	unlock := r.locks.Lock(containerNo)
	defer unlock()

	now := r.now().UTC()
	res := &AppliedResult{}
	err = r.repo.WithShipmentLock(ctx, containerNo, func(tx storage.ShipmentTx) error {
		sh, err := tx.GetShipment(ctx, containerNo)
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			sh = &models.Shipment{
				ID:          uuid.NewString(),
				ContainerNo: containerNo,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			mergeShipment(sh, snap)
			if err := tx.InsertShipment(ctx, sh); err != nil {
				return err
			}
			res.Created = true
		case err != nil:
			return err
		default:
			mergeShipment(sh, snap)
		}
		res.PreviousNode = sh.CurrentNode

		existing, err := tx.ListNodes(ctx, sh.ID)
		if err != nil {
			return err
		}
		byKey := make(map[nodeKey]*models.ShipmentNode, len(existing))
		for _, n := range existing {
			byKey[keyOf(n.NodeCode, n.EventTime)] = n
		}

		for _, ev := range events {
			n := toNode(sh.ID, ev, provenance, now)
			k := keyOf(n.NodeCode, n.EventTime)
			if cur, ok := byKey[k]; ok {
				if cur.SameFacts(n) {
					res.Unchanged++
					continue
				}
				n.ID = cur.ID
				n.Source = cur.Source
				n.CreatedAt = cur.CreatedAt
				if err := tx.UpsertNode(ctx, n); err != nil {
					return err
				}
				byKey[k] = n
				res.Updated++
				continue
			}
			if err := tx.UpsertNode(ctx, n); err != nil {
				return err
			}
			byKey[k] = n
			res.Inserted++
		}

		all := make([]*models.ShipmentNode, 0, len(byKey))
		for _, n := range byKey {
			all = append(all, n)
		}
		if latest := latestNode(all); latest != nil {
			sh.CurrentNode = latest.NodeCode
		}
		res.CurrentNode = sh.CurrentNode

		sh.LastSyncAt = &now
		sh.Provenance = provenance
		sh.UpdatedAt = now
		if err := tx.UpdateShipment(ctx, sh); err != nil {
			return err
		}
		res.Shipment = sh
		return nil
	})
	if err != nil {
		metrics.ReconcileTotal.WithLabelValues(provenance, "failed").Inc()
		if apperr.KindOf(err) != apperr.KindInternal {
			return nil, err
		}
		return nil, errors.Wrap(err, "reconcile shipment")
	}

	result := "unchanged"
	if res.Changed() {
		result = "applied"
	}
	metrics.ReconcileTotal.WithLabelValues(provenance, result).Inc()
	metrics.NodesUpsertedTotal.WithLabelValues("inserted").Add(float64(res.Inserted))
	metrics.NodesUpsertedTotal.WithLabelValues("updated").Add(float64(res.Updated))
	metrics.NodesUpsertedTotal.WithLabelValues("unchanged").Add(float64(res.Unchanged))

	r.afterApply(ctx, res, provenance, now)
	return res, nil
}

// afterApply refreshes the cache and announces the update. Both are best
// effort; the database is already committed.
func (r *Reconciler) afterApply(ctx context.Context, res *AppliedResult, provenance string, at time.Time) {
	sh := res.Shipment
	if r.cache != nil && r.cacheTTL > 0 {
		if b, err := json.Marshal(sh); err == nil {
			if err := r.cache.Set(ctx, cache.ShipmentKey(sh.ContainerNo), b, r.cacheTTL); err != nil {
				slog.Warn("cache shipment", "container_no", sh.ContainerNo, "error", err.Error())
			}
		}
	}
	if r.producer == nil {
		return
	}
	msg := messages.ShipmentUpdated{
		ContainerNo:  sh.ContainerNo,
		ShipmentID:   sh.ID,
		Provenance:   provenance,
		PreviousNode: res.PreviousNode,
		CurrentNode:  res.CurrentNode,
		Inserted:     res.Inserted,
		Updated:      res.Updated,
		Created:      res.Created,
		AppliedAt:    at,
		Shipment:     *sh,
	}
	b, err := json.Marshal(msg)
	if err != nil {
		slog.Error("marshal shipment updated", "container_no", sh.ContainerNo, "error", err.Error())
		return
	}
	if err := r.producer.Publish(ctx, r.topic, []byte(sh.ContainerNo), b); err != nil {
		slog.Warn("publish shipment updated", "container_no", sh.ContainerNo, "error", err.Error())
	}
}

// normalizeEvents validates events and collapses duplicates inside one
// snapshot, keeping the last occurrence of each key.
func normalizeEvents(in []models.SnapshotEvent) ([]models.SnapshotEvent, error) {
	out := make([]models.SnapshotEvent, 0, len(in))
	idx := make(map[nodeKey]int, len(in))
	for _, ev := range in {
		ev.NodeCode = strings.TrimSpace(ev.NodeCode)
		if ev.NodeCode == "" {
			return nil, apperr.New(apperr.KindInvalidInput, "event nodeCode is required")
		}
		if ev.EventTime.IsZero() {
			return nil, apperr.New(apperr.KindInvalidInput, "event %s has no eventTime", ev.NodeCode)
		}
		ev.EventTime = ev.EventTime.UTC().Truncate(time.Microsecond)
		k := keyOf(ev.NodeCode, ev.EventTime)
		if i, ok := idx[k]; ok {
			out[i] = ev
			continue
		}
		idx[k] = len(out)
		out = append(out, ev)
	}
	return out, nil
}

func toNode(shipmentID string, ev models.SnapshotEvent, source string, now time.Time) *models.ShipmentNode {
	return &models.ShipmentNode{
		ID:           uuid.NewString(),
		ShipmentID:   shipmentID,
		NodeCode:     ev.NodeCode,
		NodeName:     ev.NodeName,
		Location:     ev.Location,
		LocationCode: ev.LocationCode,
		EventTime:    ev.EventTime,
		Description:  ev.Description,
		Operator:     ev.Operator,
		VesselName:   ev.VesselName,
		VoyageNo:     ev.VoyageNo,
		Source:       source,
		RawData:      ev.Raw,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// latestNode picks the node with the greatest event time. Ties go to the
// node recorded last, then to the greater node code.
func latestNode(nodes []*models.ShipmentNode) *models.ShipmentNode {
	if len(nodes) == 0 {
		return nil
	}
	sorted := append([]*models.ShipmentNode(nil), nodes...)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if !a.EventTime.Equal(b.EventTime) {
			return a.EventTime.After(b.EventTime)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.NodeCode > b.NodeCode
	})
	return sorted[0]
}

// mergeShipment copies every non-empty snapshot field onto the shipment.
func mergeShipment(sh *models.Shipment, s *models.Snapshot) {
	setStr := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	setTime := func(dst **time.Time, v *time.Time) {
		if v != nil {
			t := v.UTC()
			*dst = &t
		}
	}
	setStr(&sh.ContainerType, s.ContainerType)
	setStr(&sh.BLNo, s.BLNo)
	setStr(&sh.BookingNo, s.BookingNo)
	setStr(&sh.CarrierCode, s.CarrierCode)
	setStr(&sh.CarrierName, s.CarrierName)
	setStr(&sh.OriginPort, s.OriginPort)
	setStr(&sh.DestinationPort, s.DestinationPort)
	setStr(&sh.Status, s.Status)
	setTime(&sh.ETD, s.ETD)
	setTime(&sh.ETA, s.ETA)
	setTime(&sh.ATD, s.ATD)
	setTime(&sh.ATA, s.ATA)
}
