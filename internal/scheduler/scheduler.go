// Package scheduler implements the bounded FIFO admission-controlled
// queue in front of the single-worker execution engine: admission,
// the dispatch loop, the expiry sweeper, and the worker heartbeat
// monitor.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/sammcj/batchserve/internal/apierrors"
	"github.com/sammcj/batchserve/internal/logging"
	"github.com/sammcj/batchserve/internal/store"
)

// Config mirrors the scheduler tunables spec section 4.3 names.
type Config struct {
	MaxQueueDepth          int
	MaxRequestsPerJob      int
	MaxTotalQueuedRequests int
	CompletionWindow       time.Duration
	HeartbeatInterval      time.Duration
	HeartbeatDeadMultiplier int
}

// Runner executes one admitted batch to completion (or cancellation).
// The worker package provides the concrete implementation; the
// scheduler depends only on this narrow interface so it never imports
// worker directly (worker imports scheduler's exported helper types
// instead, avoiding an import cycle).
type Runner interface {
	Run(ctx context.Context, batchID string) error
}

// Scheduler owns the admission-controlled FIFO queue and drives the
// single worker's dispatch loop, one job at a time, matching spec
// section 5's single-threaded worker loop concurrency model.
type Scheduler struct {
	cfg    Config
	store  store.MetadataStore
	runner Runner
	logger logging.Logger

	queue chan string // batch IDs, buffered to MaxQueueDepth

	mu            sync.Mutex
	queuedTotal   int // sum of request_counts.total across queued+running jobs
	cancelFns     map[string]context.CancelFunc

	heartbeat *HeartbeatMonitor
}

// New builds a Scheduler without its Runner set. The worker that will
// serve as the Runner typically needs this Scheduler's HeartbeatMonitor
// to report liveness into, so construction is two-phase: build the
// Scheduler, hand its Heartbeat() to the worker, then call SetRunner
// before Run.
func New(cfg Config, st store.MetadataStore, logger logging.Logger) *Scheduler {
	return &Scheduler{
		cfg:       cfg,
		store:     st,
		logger:    logger,
		queue:     make(chan string, cfg.MaxQueueDepth),
		cancelFns: make(map[string]context.CancelFunc),
		heartbeat: NewHeartbeatMonitor(cfg.HeartbeatInterval, cfg.HeartbeatDeadMultiplier, logger),
	}
}

// SetRunner binds the Runner that dispatch will invoke. Must be called
// before Run.
func (s *Scheduler) SetRunner(runner Runner) {
	s.runner = runner
}

// Admit enforces the admission algorithm from spec section 4.3: the
// queue depth and total-queued-requests caps are checked before a job
// is accepted, and a job exceeding MaxRequestsPerJob is rejected
// outright rather than silently truncated.
func (s *Scheduler) Admit(ctx context.Context, batchID string, requestCount int) error {
	if requestCount > s.cfg.MaxRequestsPerJob {
		return apierrors.InvalidRequest("batch has %d requests, exceeds max_requests_per_job=%d", requestCount, s.cfg.MaxRequestsPerJob)
	}

	s.mu.Lock()
	if len(s.queue) >= s.cfg.MaxQueueDepth {
		s.mu.Unlock()
		return apierrors.QueueFull("queue depth limit reached")
	}
	if s.queuedTotal+requestCount > s.cfg.MaxTotalQueuedRequests {
		s.mu.Unlock()
		return apierrors.QueueFull("total queued requests limit reached")
	}
	s.queuedTotal += requestCount
	s.mu.Unlock()

	select {
	case s.queue <- batchID:
		return nil
	default:
		s.mu.Lock()
		s.queuedTotal -= requestCount
		s.mu.Unlock()
		return apierrors.QueueFull("queue depth limit reached")
	}
}

// Release returns requestCount to the queued-requests budget once a
// job leaves the queue (dispatched, cancelled, or expired).
func (s *Scheduler) Release(requestCount int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queuedTotal -= requestCount
	if s.queuedTotal < 0 {
		s.queuedTotal = 0
	}
}

// Heartbeat returns the scheduler's worker heartbeat monitor, so the
// HTTP layer's health endpoint and the worker's liveness pulses can
// both reach the same instance without the scheduler importing worker
// or httpapi.
func (s *Scheduler) Heartbeat() *HeartbeatMonitor {
	return s.heartbeat
}

// Run starts the dispatch loop, expiry sweeper and heartbeat monitor.
// It blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.heartbeat.Start(ctx)
	go s.expirySweeper(ctx)
	s.dispatchLoop(ctx)
}

// dispatchLoop pulls one batch ID at a time off the queue and runs it
// to completion before pulling the next: the worker is single-threaded,
// so there is never more than one in-flight Run call.
func (s *Scheduler) dispatchLoop(ctx context.Context) {
	idle := time.NewTicker(s.cfg.HeartbeatInterval)
	defer idle.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case batchID := <-s.queue:
			s.dispatch(ctx, batchID)
		case <-idle.C:
			_, model, _, _ := s.heartbeat.Snapshot()
			s.heartbeat.Beat(WorkerIdle, model)
		}
	}
}

func (s *Scheduler) dispatch(ctx context.Context, batchID string) {
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancelFns[batchID] = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.cancelFns, batchID)
		s.mu.Unlock()
		cancel()
	}()

	if err := s.runner.Run(runCtx, batchID); err != nil {
		s.logger.Error(err, "batch run failed", "batch_id", batchID)
	}
	if b, err := s.store.GetBatch(ctx, batchID); err == nil {
		s.Release(b.RequestCounts.Total)
	}
}

// Cancel requests cancellation of a queued-or-running batch: moving its
// status to cancelling is the caller's (httpapi's) responsibility via
// the store's CAS transition; this only interrupts an in-flight Run
// call. Cancellation latency is bounded by the worker's per-chunk
// check, matching spec section 5's "cancellation latency = 1 chunk".
func (s *Scheduler) Cancel(batchID string) {
	s.mu.Lock()
	cancel, ok := s.cancelFns[batchID]
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

// expirySweeper periodically moves batches past their completion
// window into the expired state, polling at the heartbeat interval
// since spec.md does not name a separate expiry-check cadence.
func (s *Scheduler) expirySweeper(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepExpired(ctx)
		}
	}
}

func (s *Scheduler) sweepExpired(ctx context.Context) {
	expiring, err := s.store.FindExpiring(ctx, time.Now().UTC())
	if err != nil {
		s.logger.Error(err, "expiry sweep: find expiring batches failed")
		return
	}
	for _, b := range expiring {
		from := b.Status
		if err := s.store.TransitionBatch(ctx, b.ID, from, store.BatchStatusExpired, nil); err != nil {
			if err != store.ErrConflict {
				s.logger.Error(err, "expiry sweep: transition failed", "batch_id", b.ID)
			}
			continue
		}
		s.Cancel(b.ID)
		s.logger.Info("batch expired", "batch_id", b.ID)
	}
}

// ResumeAtStartup requeues every non-terminal batch the store reports
// as resumable (validating, in_progress, finalizing, cancelling), so a
// crash mid-batch picks back up and a batch stuck between validating
// and cancelling reaches the worker to be finalized, per spec section
// 4.3's startup resume step.
func (s *Scheduler) ResumeAtStartup(ctx context.Context) error {
	resumable, err := s.store.FindResumable(ctx)
	if err != nil {
		return err
	}
	for _, b := range resumable {
		s.logger.Info("resuming batch from startup", "batch_id", b.ID)
		if err := s.Admit(ctx, b.ID, b.RequestCounts.Total); err != nil {
			s.logger.Error(err, "failed to requeue resumable batch", "batch_id", b.ID)
		}
	}
	return nil
}
