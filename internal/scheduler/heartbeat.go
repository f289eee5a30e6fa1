package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/sammcj/batchserve/internal/logging"
)

// WorkerStatus is the worker state machine's current state, reported
// through Beat.
type WorkerStatus string

const (
	WorkerIdle      WorkerStatus = "idle"
	WorkerLoading   WorkerStatus = "loading"
	WorkerBusy      WorkerStatus = "busy"
	WorkerUnloading WorkerStatus = "unloading"
)

// HeartbeatMonitor tracks the single worker's liveness the same way
// this codebase's MCP client health monitor tracks a remote client:
// a ticking check against a last-seen timestamp, marking the subject
// dead after a run of missed checks rather than a single miss.
type HeartbeatMonitor struct {
	interval        time.Duration
	deadMultiplier  int
	logger          logging.Logger

	mu             sync.Mutex
	lastSeen       time.Time
	loadedModel    string
	status         WorkerStatus
	missedBeats    int
	dead           bool

	ticker *time.Ticker
}

func NewHeartbeatMonitor(interval time.Duration, deadMultiplier int, logger logging.Logger) *HeartbeatMonitor {
	if deadMultiplier < 1 {
		deadMultiplier = 3
	}
	return &HeartbeatMonitor{
		interval:       interval,
		deadMultiplier: deadMultiplier,
		logger:         logger,
		lastSeen:       time.Now(),
		status:         WorkerIdle,
	}
}

// Beat records a liveness pulse from the worker loop. Called once per
// chunk and once per idle tick.
func (m *HeartbeatMonitor) Beat(status WorkerStatus, loadedModel string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSeen = time.Now()
	m.status = status
	m.loadedModel = loadedModel
	m.missedBeats = 0
	if m.dead {
		m.logger.Info("worker recovered after being marked dead")
		m.dead = false
	}
}

// Snapshot returns the last recorded heartbeat state.
func (m *HeartbeatMonitor) Snapshot() (lastSeen time.Time, loadedModel string, status WorkerStatus, dead bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSeen, m.loadedModel, m.status, m.dead
}

// Start begins the periodic liveness check. It runs until ctx is done.
func (m *HeartbeatMonitor) Start(ctx context.Context) {
	m.ticker = time.NewTicker(m.interval)
	go func() {
		defer m.ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.ticker.C:
				m.check()
			}
		}
	}()
}

func (m *HeartbeatMonitor) check() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if time.Since(m.lastSeen) <= m.interval {
		return
	}
	m.missedBeats++
	if m.missedBeats >= m.deadMultiplier && !m.dead {
		m.dead = true
		m.logger.Warn("worker marked dead after missed heartbeats", "missed_beats", m.missedBeats)
	}
}
