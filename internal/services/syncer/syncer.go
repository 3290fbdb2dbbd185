// Package syncer pulls tracking data from the provider: on demand for stale
// shipments, and in scheduled sweeps over subscriptions.
package syncer

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/BoxSync/internal/apperr"
	"github.com/BearBump/BoxSync/internal/integrations/tracking"
	"github.com/BearBump/BoxSync/internal/metrics"
	"github.com/BearBump/BoxSync/internal/models"
	"github.com/BearBump/BoxSync/internal/services/reconciler"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

type Repository interface {
	GetShipment(ctx context.Context, containerNo string) (*models.Shipment, error)
	ListShipmentsByBL(ctx context.Context, blNo string) ([]*models.Shipment, error)
	ClaimDueSubscriptions(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.Subscription, error)
	ListActiveSubscriptions(ctx context.Context, after string, limit int) ([]*models.Subscription, error)
	AdvanceSubscriptions(ctx context.Context, containerNos []string, syncedAt time.Time) error
	InsertSyncLog(ctx context.Context, l *models.SyncLog) error
}

type Reconciler interface {
	Apply(ctx context.Context, containerNo string, snap *models.Snapshot, provenance string) (*reconciler.AppliedResult, error)
}

const (
	DefaultStaleAfter     = time.Hour
	DefaultSweepLimit     = 100
	DefaultLease          = 2 * time.Minute
	DefaultConcurrency    = 2
	DefaultFullSweepDelay = time.Second
)

type Syncer struct {
	repo     Repository
	provider tracking.Client
	rec      Reconciler

	staleAfter     time.Duration
	sweepLimit     int
	batchSize      int
	lease          time.Duration
	concurrency    int
	fullSweepDelay time.Duration

	now func() time.Time

	totalBatches atomic.Int64
	totalSynced  atomic.Int64
	totalFailed  atomic.Int64
	lastErrorMu  sync.Mutex
	lastError    string
}

func New(repo Repository, provider tracking.Client, rec Reconciler) *Syncer {
	return &Syncer{
		repo:           repo,
		provider:       provider,
		rec:            rec,
		staleAfter:     DefaultStaleAfter,
		sweepLimit:     DefaultSweepLimit,
		batchSize:      tracking.MaxBatchSize,
		lease:          DefaultLease,
		concurrency:    DefaultConcurrency,
		fullSweepDelay: DefaultFullSweepDelay,
		now:            time.Now,
	}
}

// WithSettings overrides the defaults; zero values keep them. Batch size is
// capped at tracking.MaxBatchSize.
func (s *Syncer) WithSettings(staleAfter time.Duration, sweepLimit, batchSize, concurrency int, lease, fullSweepDelay time.Duration) *Syncer {
	if staleAfter > 0 {
		s.staleAfter = staleAfter
	}
	if sweepLimit > 0 {
		s.sweepLimit = sweepLimit
	}
	if batchSize > 0 && batchSize <= tracking.MaxBatchSize {
		s.batchSize = batchSize
	}
	if concurrency > 0 {
		s.concurrency = concurrency
	}
	if lease > 0 {
		s.lease = lease
	}
	if fullSweepDelay > 0 {
		s.fullSweepDelay = fullSweepDelay
	}
	return s
}

func (s *Syncer) WithClock(now func() time.Time) *Syncer {
	s.now = now
	return s
}

// IsStale reports whether a shipment needs a pull.
func (s *Syncer) IsStale(sh *models.Shipment) bool {
	return sh.LastSyncAt == nil || s.now().Sub(*sh.LastSyncAt) > s.staleAfter
}

// EnsureFresh returns the shipment, pulling it first when it is missing or
// stale. A failed pull falls back to the local record; without one the
// result is NotFound.
func (s *Syncer) EnsureFresh(ctx context.Context, containerNo string) (*models.Shipment, error) {
	containerNo = strings.TrimSpace(containerNo)
	if containerNo == "" {
		return nil, apperr.New(apperr.KindInvalidInput, "containerNo is required")
	}

	local, err := s.repo.GetShipment(ctx, containerNo)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	if local != nil && !s.IsStale(local) {
		metrics.EnsureFreshTotal.WithLabelValues("fresh").Inc()
		return local, nil
	}

	started := s.now().UTC()
	sh, err := s.pull(ctx, containerNo)
	s.logOnDemand(ctx, containerNo, started, err)
	if err == nil {
		metrics.EnsureFreshTotal.WithLabelValues("refreshed").Inc()
		return sh, nil
	}

	if local != nil {
		slog.Warn("refresh failed, serving stale shipment",
			"container_no", containerNo, "last_sync_at", local.LastSyncAt, "error", err.Error())
		metrics.EnsureFreshTotal.WithLabelValues("stale").Inc()
		return local, nil
	}
	slog.Warn("refresh failed, no local shipment", "container_no", containerNo, "error", err.Error())
	metrics.EnsureFreshTotal.WithLabelValues("not_found").Inc()
	return nil, apperr.New(apperr.KindNotFound, "no tracking data for %s", containerNo)
}

// ForceSync pulls a container regardless of how fresh the local copy is.
// A failed pull is returned as is.
func (s *Syncer) ForceSync(ctx context.Context, containerNo string) (*models.Shipment, error) {
	containerNo = strings.TrimSpace(containerNo)
	if containerNo == "" {
		return nil, apperr.New(apperr.KindInvalidInput, "containerNo is required")
	}
	started := s.now().UTC()
	sh, err := s.pull(ctx, containerNo)
	s.logOnDemand(ctx, containerNo, started, err)
	if err != nil {
		metrics.EnsureFreshTotal.WithLabelValues("force_failed").Inc()
		return nil, err
	}
	metrics.EnsureFreshTotal.WithLabelValues("forced").Inc()
	return sh, nil
}

// TrackByBL pulls every container of a bill of lading and reconciles each
// one. When the pull fails or returns nothing usable, the shipments already
// stored under that bill are returned instead.
func (s *Syncer) TrackByBL(ctx context.Context, blNo string) ([]*models.Shipment, error) {
	blNo = strings.TrimSpace(blNo)
	if blNo == "" {
		return nil, apperr.New(apperr.KindInvalidInput, "blNo is required")
	}

	snaps, err := s.provider.TrackByBL(ctx, blNo)
	if err == nil {
		out := make([]*models.Shipment, 0, len(snaps))
		for _, snap := range snaps {
			if snap == nil || strings.TrimSpace(snap.ContainerNo) == "" {
				continue
			}
			if snap.BLNo == "" {
				snap.BLNo = blNo
			}
			res, aerr := s.rec.Apply(ctx, snap.ContainerNo, snap, models.ProvenancePull)
			if aerr != nil {
				slog.Error("reconcile", "bl_no", blNo, "container_no", snap.ContainerNo, "error", aerr.Error())
				continue
			}
			out = append(out, res.Shipment)
		}
		if len(out) > 0 {
			return out, nil
		}
	} else {
		slog.Warn("bill of lading pull failed, serving local shipments", "bl_no", blNo, "error", err.Error())
	}

	local, lerr := s.repo.ListShipmentsByBL(ctx, blNo)
	if lerr != nil {
		return nil, lerr
	}
	if len(local) == 0 {
		return nil, apperr.New(apperr.KindNotFound, "no tracking data for bill of lading %s", blNo)
	}
	return local, nil
}

func (s *Syncer) pull(ctx context.Context, containerNo string) (*models.Shipment, error) {
	snap, err := s.provider.TrackOne(ctx, containerNo)
	if err != nil {
		return nil, err
	}
	res, err := s.rec.Apply(ctx, containerNo, snap, models.ProvenancePull)
	if err != nil {
		return nil, err
	}
	return res.Shipment, nil
}

func (s *Syncer) logOnDemand(ctx context.Context, containerNo string, started time.Time, err error) {
	l := &models.SyncLog{
		ID:           uuid.NewString(),
		Job:          models.SyncJobOnDemand,
		BatchNo:      1,
		ContainerNos: []string{containerNo},
		Requested:    1,
		Succeeded:    1,
		StartedAt:    started,
		FinishedAt:   s.now().UTC(),
	}
	if err != nil {
		msg := apperr.PublicMessage(err)
		l.Succeeded, l.Failed, l.Error = 0, 1, &msg
	}
	if err := s.repo.InsertSyncLog(context.WithoutCancel(ctx), l); err != nil {
		slog.Warn("insert sync log", "job", l.Job, "error", err.Error())
	}
}

// Report summarizes one sweep run.
type Report struct {
	Job        string    `json:"job"`
	Batches    int       `json:"batches"`
	Requested  int       `json:"requested"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

func (r *Report) add(b batchResult) {
	r.Batches++
	r.Requested += b.requested
	r.Succeeded += b.succeeded
	r.Failed += b.failed
}

// Sweep claims up to sweepLimit due subscriptions and syncs them in batches
// of at most batchSize. Batches run concurrently up to the configured limit
// and fail independently. On cancellation batches already started finish;
// no new batch is started.
func (s *Syncer) Sweep(ctx context.Context) (*Report, error) {
	rep := &Report{Job: models.SyncJobSweep, StartedAt: s.now().UTC()}

	subs, err := s.repo.ClaimDueSubscriptions(ctx, rep.StartedAt, s.sweepLimit, s.lease)
	if err != nil {
		s.setLastError(err)
		return nil, errors.Wrap(err, "claim due subscriptions")
	}

	batches := chunk(containerNos(subs), s.batchSize)
	results := make([]batchResult, len(batches))

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, batch := range batches {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			results[i] = s.syncBatch(context.WithoutCancel(ctx), models.SyncJobSweep, i+1, batch)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		if r.requested > 0 {
			rep.add(r)
		}
	}
	rep.FinishedAt = s.now().UTC()
	slog.Info("sweep finished", "batches", rep.Batches, "requested", rep.Requested,
		"succeeded", rep.Succeeded, "failed", rep.Failed)
	return rep, nil
}

// FullSweep syncs every subscribed container regardless of nextSyncAt, one
// batch at a time with a fixed pause between batches.
func (s *Syncer) FullSweep(ctx context.Context) (*Report, error) {
	rep := &Report{Job: models.SyncJobFullSweep, StartedAt: s.now().UTC()}

	after := ""
	for batchNo := 1; ; batchNo++ {
		if batchNo > 1 {
			if err := sleep(ctx, s.fullSweepDelay); err != nil {
				break
			}
		}
		subs, err := s.repo.ListActiveSubscriptions(ctx, after, s.batchSize)
		if err != nil {
			s.setLastError(err)
			rep.FinishedAt = s.now().UTC()
			return rep, errors.Wrap(err, "list active subscriptions")
		}
		if len(subs) == 0 {
			break
		}
		after = subs[len(subs)-1].ContainerNo

		rep.add(s.syncBatch(context.WithoutCancel(ctx), models.SyncJobFullSweep, batchNo, containerNos(subs)))
		if len(subs) < s.batchSize {
			break
		}
	}

	rep.FinishedAt = s.now().UTC()
	slog.Info("full sweep finished", "batches", rep.Batches, "requested", rep.Requested,
		"succeeded", rep.Succeeded, "failed", rep.Failed)
	return rep, nil
}

type batchResult struct {
	requested int
	succeeded int
	failed    int
}

// syncBatch pulls one batch, reconciles every returned snapshot and advances
// the subscriptions that synced. It never returns an error; the outcome goes
// to the sync log.
func (s *Syncer) syncBatch(ctx context.Context, job string, batchNo int, nos []string) batchResult {
	started := s.now().UTC()
	res := batchResult{requested: len(nos)}
	var errs []string

	snaps, err := s.provider.TrackBatch(ctx, nos)
	if err != nil {
		res.failed = len(nos)
		errs = append(errs, apperr.PublicMessage(err))
		slog.Error("sync batch", "job", job, "batch", batchNo, "size", len(nos), "error", err.Error())
	} else {
		wanted := make(map[string]bool, len(nos))
		for _, no := range nos {
			wanted[no] = true
		}
		var synced []string
		for _, snap := range snaps {
			if snap == nil || !wanted[snap.ContainerNo] {
				continue
			}
			delete(wanted, snap.ContainerNo)
			if _, err := s.rec.Apply(ctx, snap.ContainerNo, snap, models.ProvenancePull); err != nil {
				res.failed++
				errs = append(errs, snap.ContainerNo+": "+apperr.PublicMessage(err))
				slog.Error("reconcile", "job", job, "container_no", snap.ContainerNo, "error", err.Error())
				continue
			}
			res.succeeded++
			synced = append(synced, snap.ContainerNo)
		}
		if len(wanted) > 0 {
			res.failed += len(wanted)
			errs = append(errs, "missing from provider response: "+strings.Join(sortedKeys(wanted), ","))
		}
		if err := s.repo.AdvanceSubscriptions(ctx, synced, s.now().UTC()); err != nil {
			errs = append(errs, "advance subscriptions failed")
			slog.Error("advance subscriptions", "job", job, "batch", batchNo, "error", err.Error())
		}
	}

	outcome := "ok"
	switch {
	case res.failed == res.requested:
		outcome = "failed"
	case res.failed > 0:
		outcome = "partial"
	}
	metrics.SyncBatchesTotal.WithLabelValues(job, outcome).Inc()
	s.totalBatches.Add(1)
	s.totalSynced.Add(int64(res.succeeded))
	s.totalFailed.Add(int64(res.failed))

	l := &models.SyncLog{
		ID:           uuid.NewString(),
		Job:          job,
		BatchNo:      batchNo,
		ContainerNos: nos,
		Requested:    res.requested,
		Succeeded:    res.succeeded,
		Failed:       res.failed,
		StartedAt:    started,
		FinishedAt:   s.now().UTC(),
	}
	if len(errs) > 0 {
		msg := strings.Join(errs, "; ")
		l.Error = &msg
		s.setLastError(errors.New(msg))
	}
	if err := s.repo.InsertSyncLog(ctx, l); err != nil {
		slog.Warn("insert sync log", "job", job, "batch", batchNo, "error", err.Error())
	}
	return res
}

type Stats struct {
	TotalBatches int64  `json:"totalBatches"`
	TotalSynced  int64  `json:"totalSynced"`
	TotalFailed  int64  `json:"totalFailed"`
	LastError    string `json:"lastError,omitempty"`
}

func (s *Syncer) Stats() Stats {
	st := Stats{
		TotalBatches: s.totalBatches.Load(),
		TotalSynced:  s.totalSynced.Load(),
		TotalFailed:  s.totalFailed.Load(),
	}
	s.lastErrorMu.Lock()
	st.LastError = s.lastError
	s.lastErrorMu.Unlock()
	return st
}

func (s *Syncer) setLastError(err error) {
	s.lastErrorMu.Lock()
	s.lastError = err.Error()
	s.lastErrorMu.Unlock()
}
