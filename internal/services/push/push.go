// Package push records and applies tracking data that arrives without being
// pulled: provider webhooks and trusted internal systems.
package push

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/BearBump/BoxSync/internal/apperr"
	"github.com/BearBump/BoxSync/internal/codemap"
	"github.com/BearBump/BoxSync/internal/integrations/tracking"
	"github.com/BearBump/BoxSync/internal/metrics"
	"github.com/BearBump/BoxSync/internal/models"
	"github.com/BearBump/BoxSync/internal/services/reconciler"
	"github.com/google/uuid"
)

type Repository interface {
	CreatePushRecord(ctx context.Context, r *models.PushRecord) error
	FinalizePushRecord(ctx context.Context, id, status string, shipmentID, errMsg *string, at time.Time) error
	RecordPush(ctx context.Context, containerNo string, at time.Time) error
	ListPushRecords(ctx context.Context, f models.PushRecordFilter, p models.Page) ([]*models.PushRecord, int64, error)
}

type Reconciler interface {
	Apply(ctx context.Context, containerNo string, snap *models.Snapshot, provenance string) (*reconciler.AppliedResult, error)
}

// MaxContainersPerPush bounds one internal push request.
const MaxContainersPerPush = 100

// IsInternalSource reports whether source may be used on the internal push
// path.
func IsInternalSource(source string) bool {
	switch source {
	case models.ProvenanceProvider, models.ProvenanceManual, models.ProvenanceAPI:
		return true
	}
	return false
}

type Service struct {
	repo Repository
	rec  Reconciler
	now  func() time.Time
}

func New(repo Repository, rec Reconciler) *Service {
	return &Service{repo: repo, rec: rec, now: time.Now}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Inbound is one pushed container. When Err is set the snapshot could not be
// built and the attempt is recorded as failed without applying anything.
type Inbound struct {
	Source      string
	PushType    string
	ContainerNo string
	Snapshot    *models.Snapshot
	Payload     []byte
	Err         error
}

type Outcome struct {
	RecordID string
	Result   *reconciler.AppliedResult
}

// Receive writes a PENDING push record, reconciles the snapshot and
// finalizes the record with the outcome. The record exists even when the
// container was unknown or the apply failed.
func (s *Service) Receive(ctx context.Context, in Inbound) (*Outcome, error) {
	rec := &models.PushRecord{
		ID:          uuid.NewString(),
		ContainerNo: strings.TrimSpace(in.ContainerNo),
		Source:      in.Source,
		PushType:    in.PushType,
		Status:      models.PushStatusPending,
		CreatedAt:   s.now().UTC(),
	}
	switch {
	case json.Valid(in.Payload):
		rec.Payload = in.Payload
	case len(in.Payload) > 0:
		// keep the raw body for inspection, quoted so the column stays valid JSON
		raw, _ := json.Marshal(string(in.Payload))
		rec.Payload = raw
	}
	if err := s.repo.CreatePushRecord(ctx, rec); err != nil {
		return nil, err
	}
	out := &Outcome{RecordID: rec.ID}

	applyErr := in.Err
	if applyErr == nil {
		codemap.Normalize(in.Snapshot)
		out.Result, applyErr = s.rec.Apply(ctx, rec.ContainerNo, in.Snapshot, in.Source)
	}

	status := models.PushStatusSuccess
	var shipmentID, errMsg *string
	if applyErr != nil {
		status = models.PushStatusFailed
		msg := apperr.PublicMessage(applyErr)
		errMsg = &msg
	} else {
		id := out.Result.Shipment.ID
		shipmentID = &id
	}

	// the outcome must be recorded even if the caller went away
	fctx := context.WithoutCancel(ctx)
	at := s.now().UTC()
	if err := s.repo.FinalizePushRecord(fctx, rec.ID, status, shipmentID, errMsg, at); err != nil {
		slog.Error("finalize push record", "record_id", rec.ID, "error", err.Error())
	}
	if applyErr == nil {
		if err := s.repo.RecordPush(fctx, rec.ContainerNo, at); err != nil {
			slog.Warn("record push on subscription", "container_no", rec.ContainerNo, "error", err.Error())
		}
	}
	metrics.PushRecordsTotal.WithLabelValues(in.Source, status).Inc()

	if applyErr != nil {
		return out, applyErr
	}
	return out, nil
}

type ItemResult struct {
	ContainerNo string `json:"containerNo"`
	Status      string `json:"status"`
	Message     string `json:"message,omitempty"`
	RecordID    string `json:"recordId,omitempty"`
}

type Summary struct {
	Total   int          `json:"total"`
	Success int          `json:"success"`
	Failed  int          `json:"failed"`
	Records []ItemResult `json:"records"`
}

// PushContainers applies a batch from a trusted internal system. Items
// succeed or fail independently.
func (s *Service) PushContainers(ctx context.Context, source string, items []tracking.ContainerData) (*Summary, error) {
	if !IsInternalSource(source) {
		return nil, apperr.New(apperr.KindInvalidInput, "source must be one of provider, manual, api")
	}
	if len(items) == 0 {
		return nil, apperr.New(apperr.KindInvalidInput, "containers must not be empty")
	}
	if len(items) > MaxContainersPerPush {
		return nil, apperr.New(apperr.KindInvalidInput, "at most %d containers per push", MaxContainersPerPush)
	}

	sum := &Summary{Total: len(items), Records: make([]ItemResult, 0, len(items))}
	for _, it := range items {
		payload, _ := json.Marshal(it)
		snap, convErr := it.ToSnapshot()
		in := Inbound{
			Source:      source,
			PushType:    "container",
			ContainerNo: it.ContainerNo,
			Snapshot:    snap,
			Payload:     payload,
			Err:         convErr,
		}

		item := ItemResult{ContainerNo: strings.TrimSpace(it.ContainerNo), Status: models.PushStatusSuccess}
		out, err := s.Receive(ctx, in)
		if out != nil {
			item.RecordID = out.RecordID
		}
		if err != nil {
			item.Status = models.PushStatusFailed
			item.Message = apperr.PublicMessage(err)
			sum.Failed++
		} else {
			item.Message = "applied"
			sum.Success++
		}
		sum.Records = append(sum.Records, item)
	}
	return sum, nil
}

func (s *Service) ListRecords(ctx context.Context, f models.PushRecordFilter, p models.Page) ([]*models.PushRecord, models.Pagination, error) {
	p = p.Normalize()
	list, total, err := s.repo.ListPushRecords(ctx, f, p)
	if err != nil {
		return nil, models.Pagination{}, err
	}
	if list == nil {
		list = []*models.PushRecord{}
	}
	return list, models.NewPagination(p, total), nil
}
