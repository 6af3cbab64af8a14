// Package scheduler runs the periodic jobs (§4.9): the quote loop
// (~5s), fast inventory sync (~10s), full reconciliation (hourly), and
// candidate refresh (daily). It enforces non-overlap per job via a
// process-wide lock, a cross-job global lock between the two inventory
// jobs, and cross-process mutual exclusion via advisory locks backed by
// the persistence layer. Grounded in the teacher's engine.go goroutine/
// WaitGroup/context-cancel shutdown idiom, generalized from one ad-hoc
// manageMarkets loop into a cron.Cron-driven job table.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// AdvisoryLocker is the cross-process mutual exclusion primitive, backed
// by the persistence layer's advisory_locks table (§6).
type AdvisoryLocker interface {
	TryAcquire(ctx context.Context, jobName string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, jobName string) error
}

// Job is one scheduled unit of work.
type Job struct {
	Name     string
	Cron     string
	Fn       func(ctx context.Context) error
	// GlobalGroup, if non-empty, serializes this job against every other
	// job sharing the same group (e.g. inventory sync and full sync must
	// never interleave).
	GlobalGroup string
}

// Scheduler owns the cron runtime and the lock bookkeeping.
type Scheduler struct {
	logger  *slog.Logger
	locker  AdvisoryLocker
	cron    *cron.Cron
	jobs    []Job

	mu       sync.Mutex
	running  map[string]bool // process-wide per-job lock
	groupMu  map[string]*sync.Mutex
}

// New builds a Scheduler. Cron cadences use the six-field parser with a
// leading seconds field (teacher's cadences are ad-hoc tickers; this generalizes to true cron
// specs per §6's `scan_interval`/`mm_interval`/etc. configuration table).
func New(logger *slog.Logger, locker AdvisoryLocker) *Scheduler {
	return &Scheduler{
		logger:  logger,
		locker:  locker,
		cron:    cron.New(cron.WithSeconds()),
		running: make(map[string]bool),
		groupMu: make(map[string]*sync.Mutex),
	}
}

// Register adds a job to the cron table. Call before Start.
func (s *Scheduler) Register(j Job) error {
	s.mu.Lock()
	if j.GlobalGroup != "" {
		if _, ok := s.groupMu[j.GlobalGroup]; !ok {
			s.groupMu[j.GlobalGroup] = &sync.Mutex{}
		}
	}
	s.mu.Unlock()

	s.jobs = append(s.jobs, j)
	_, err := s.cron.AddFunc(j.Cron, func() { s.runOnce(j) })
	return err
}

// runOnce enforces "if a job runs over its interval, the next tick is
// skipped — never queued" via the process-wide boolean lock, then the
// global group lock, then the cross-process advisory lock, in that
// order (cheapest checks first).
func (s *Scheduler) runOnce(j Job) {
	s.mu.Lock()
	if s.running[j.Name] {
		s.mu.Unlock()
		s.logger.Debug("skipping tick: job already running", "job", j.Name)
		return
	}
	s.running[j.Name] = true
	groupLock := s.groupMu[j.GlobalGroup]
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running[j.Name] = false
		s.mu.Unlock()
	}()

	if groupLock != nil {
		if !groupLock.TryLock() {
			s.logger.Debug("skipping tick: global group busy", "job", j.Name, "group", j.GlobalGroup)
			return
		}
		defer groupLock.Unlock()
	}

	ctx := context.Background()
	if s.locker != nil {
		acquired, err := s.locker.TryAcquire(ctx, j.Name, 5*time.Minute)
		if err != nil {
			s.logger.Error("advisory lock acquire failed", "job", j.Name, "error", err)
			return
		}
		if !acquired {
			s.logger.Debug("skipping tick: advisory lock held by another process", "job", j.Name)
			return
		}
		defer func() {
			if err := s.locker.Release(ctx, j.Name); err != nil {
				s.logger.Error("advisory lock release failed", "job", j.Name, "error", err)
			}
		}()
	}

	start := time.Now()
	if err := j.Fn(ctx); err != nil {
		s.logger.Error("job failed", "job", j.Name, "error", err, "elapsed", time.Since(start))
		return
	}
	s.logger.Debug("job completed", "job", j.Name, "elapsed", time.Since(start))
}

// RunOnceNow executes a registered job immediately and synchronously,
// bypassing the cron trigger but still honoring all three lock layers —
// used for the Control API's manual full-sync trigger and for the
// startup sequence's initial full sync.
func (s *Scheduler) RunOnceNow(name string) bool {
	for _, j := range s.jobs {
		if j.Name == name {
			s.runOnce(j)
			return true
		}
	}
	return false
}

// Start arms all registered cron schedules. Callers implement the rest
// of §4.9's startup sequence (one full sync, one candidate refresh,
// then Start, then push listener) themselves using RunOnceNow before
// calling Start.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop drains the cron scheduler, waiting for any job currently
// in-flight to finish (cron.Stop's documented behavior), implementing
// the "wait for in-flight jobs" half of §4.9's shutdown sequence.
func (s *Scheduler) Stop(ctx context.Context) {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out waiting for in-flight jobs")
	}
}
