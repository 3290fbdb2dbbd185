// Package scheduler runs named jobs on fixed intervals or at a daily time of
// day, with manual triggers and per-job counters.
package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/BoxSync/internal/apperr"
	"github.com/BearBump/BoxSync/internal/metrics"
)

type JobFunc func(ctx context.Context) error

// Job fires every Interval, or once a day at DailyAt (offset from midnight in
// the scheduler's location) when Interval is zero.
type Job struct {
	Name       string
	Interval   time.Duration
	DailyAt    time.Duration
	RunOnStart bool
	Run        JobFunc
}

type Scheduler struct {
	loc  *time.Location
	now  func() time.Time
	jobs map[string]*jobState
}

type jobState struct {
	Job

	triggerCh chan struct{}

	lastStartUnixNano   atomic.Int64
	lastFinishUnixNano  atomic.Int64
	lastTriggerUnixNano atomic.Int64
	nextRunUnixNano     atomic.Int64
	runs                atomic.Int64
	failures            atomic.Int64
	running             atomic.Bool
	lastErrorMu         sync.Mutex
	lastError           string
}

func New() *Scheduler {
	return &Scheduler{loc: time.UTC, now: time.Now, jobs: map[string]*jobState{}}
}

func (s *Scheduler) WithLocation(loc *time.Location) *Scheduler {
	if loc != nil {
		s.loc = loc
	}
	return s
}

func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Add registers a job. It must be called before Run.
func (s *Scheduler) Add(j Job) *Scheduler {
	s.jobs[j.Name] = &jobState{Job: j, triggerCh: make(chan struct{}, 1)}
	return s
}

// Trigger asks a job to run now. Triggers coalesce while one is pending.
func (s *Scheduler) Trigger(name string) error {
	j, ok := s.jobs[name]
	if !ok {
		return apperr.New(apperr.KindNotFound, "unknown job %q", name)
	}
	j.lastTriggerUnixNano.Store(s.now().UTC().UnixNano())
	select {
	case j.triggerCh <- struct{}{}:
	default:
	}
	return nil
}

// Run drives every job until ctx is cancelled. A job that is running when
// ctx ends is allowed to return on its own.
func (s *Scheduler) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, j := range s.jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.loop(ctx, j)
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (s *Scheduler) loop(ctx context.Context, j *jobState) {
	if j.RunOnStart {
		s.runJob(ctx, j)
	}
	for {
		wait := s.nextDelay(j)
		j.nextRunUnixNano.Store(s.now().Add(wait).UTC().UnixNano())
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
			s.runJob(ctx, j)
		case <-j.triggerCh:
			t.Stop()
			s.runJob(ctx, j)
		}
	}
}

func (s *Scheduler) nextDelay(j *jobState) time.Duration {
	if j.Interval > 0 {
		return j.Interval
	}
	return NextDaily(s.now().In(s.loc), j.DailyAt).Sub(s.now())
}

// NextDaily returns the first instant strictly after now whose offset from
// local midnight equals at.
func NextDaily(now time.Time, at time.Duration) time.Time {
	y, m, d := now.Date()
	next := time.Date(y, m, d, 0, 0, 0, 0, now.Location()).Add(at)
	if !next.After(now) {
		next = time.Date(y, m, d+1, 0, 0, 0, 0, now.Location()).Add(at)
	}
	return next
}

func (s *Scheduler) runJob(ctx context.Context, j *jobState) {
	if ctx.Err() != nil {
		return
	}
	started := s.now()
	j.lastStartUnixNano.Store(started.UTC().UnixNano())
	j.running.Store(true)
	defer j.running.Store(false)

	err := j.Run(ctx)

	j.runs.Add(1)
	j.lastFinishUnixNano.Store(s.now().UTC().UnixNano())
	metrics.SyncJobDuration.WithLabelValues(j.Name).Observe(time.Since(started).Seconds())
	if err != nil {
		j.failures.Add(1)
		j.lastErrorMu.Lock()
		j.lastError = err.Error()
		j.lastErrorMu.Unlock()
		slog.Error("scheduled job failed", "job", j.Name, "error", err.Error())
	}
}

type Stats struct {
	Name          string     `json:"name"`
	Interval      string     `json:"interval,omitempty"`
	DailyAt       string     `json:"dailyAt,omitempty"`
	Running       bool       `json:"running"`
	Runs          int64      `json:"runs"`
	Failures      int64      `json:"failures"`
	LastStartAt   *time.Time `json:"lastStartAt,omitempty"`
	LastFinishAt  *time.Time `json:"lastFinishAt,omitempty"`
	LastTriggerAt *time.Time `json:"lastTriggerAt,omitempty"`
	NextRunAt     *time.Time `json:"nextRunAt,omitempty"`
	LastError     string     `json:"lastError,omitempty"`
}

// Stats returns one entry per job, sorted by name.
func (s *Scheduler) Stats() []Stats {
	out := make([]Stats, 0, len(s.jobs))
	for _, j := range s.jobs {
		st := Stats{
			Name:          j.Name,
			Running:       j.running.Load(),
			Runs:          j.runs.Load(),
			Failures:      j.failures.Load(),
			LastStartAt:   unixPtr(j.lastStartUnixNano.Load()),
			LastFinishAt:  unixPtr(j.lastFinishUnixNano.Load()),
			LastTriggerAt: unixPtr(j.lastTriggerUnixNano.Load()),
			NextRunAt:     unixPtr(j.nextRunUnixNano.Load()),
		}
		if j.Interval > 0 {
			st.Interval = j.Interval.String()
		} else {
			st.DailyAt = time.Time{}.Add(j.DailyAt).Format("15:04")
		}
		j.lastErrorMu.Lock()
		st.LastError = j.lastError
		j.lastErrorMu.Unlock()
		out = append(out, st)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}

// Jobs lists the registered job names.
func (s *Scheduler) Jobs() []string {
	out := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func unixPtr(n int64) *time.Time {
	if n <= 0 {
		return nil
	}
	t := time.Unix(0, n).UTC()
	return &t
}
