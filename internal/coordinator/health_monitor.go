// Package coordinator implements the orchestration layer for the storage
// cluster. This file implements failure detection for registered nodes.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dreamware/torua/internal/cluster"
)

// maxHeartbeatHistory bounds the per-node ring buffer of heartbeat
// timestamps so long-lived clusters don't grow the history unbounded.
const maxHeartbeatHistory = 100

// nodeHealth tracks one node's liveness state and heartbeat history.
// Guarded by HealthMonitor.mu.
type nodeHealth struct {
	lastHeartbeatAt time.Time
	status          cluster.Status
	history         []time.Time // ring buffer, capped at maxHeartbeatHistory
}

func (h *nodeHealth) record(at time.Time) {
	h.lastHeartbeatAt = at
	h.history = append(h.history, at)
	if len(h.history) > maxHeartbeatHistory {
		h.history = h.history[len(h.history)-maxHeartbeatHistory:]
	}
}

// EventKind distinguishes the two failure-detector events.
type EventKind string

const (
	EventFailed    EventKind = "failed"
	EventRecovered EventKind = "recovered"
)

// Callback receives (kind, node_id) events from the monitor. It is invoked
// synchronously and without the monitor's lock held, so it may safely call
// back into the monitor or other coordinator state; a panic inside a
// callback is recovered and logged, and must not prevent the remaining
// callbacks or node checks from running.
type Callback func(kind EventKind, nodeID string)

// HealthMonitor implements the three-state failure detector described in
// the coordinator design: OFFLINE -> HEALTHY -> FAILED -> HEALTHY, driven
// both by HEARTBEAT receipt and by a periodic background sweep.
//
// Concurrency model: a single mutex guards the node map; callbacks are
// always invoked after the lock is released, never while held, so a
// callback that re-enters the monitor (e.g. to query status) cannot
// deadlock against the goroutine that triggered it.
type HealthMonitor struct {
	mu    sync.RWMutex
	nodes map[string]*nodeHealth

	callbacks []Callback
	onError   func(error)

	failureTimeout        time.Duration
	recoveryCheckInterval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHealthMonitor creates a monitor with the given failure timeout (how
// long without a heartbeat before a node is declared FAILED) and recovery
// check interval (how often the background sweep runs).
func NewHealthMonitor(failureTimeout, recoveryCheckInterval time.Duration) *HealthMonitor {
	return &HealthMonitor{
		nodes:                 make(map[string]*nodeHealth),
		failureTimeout:        failureTimeout,
		recoveryCheckInterval: recoveryCheckInterval,
		onError:               func(error) {},
	}
}

// OnError sets a handler for panics recovered from callbacks; defaults to
// a no-op. Tests can use this to assert a callback failure was observed.
func (m *HealthMonitor) OnError(f func(error)) {
	m.onError = f
}

// RegisterCallback adds a callback invoked on every FAILED/RECOVERED
// transition. Callbacks are invoked in registration order.
func (m *HealthMonitor) RegisterCallback(cb Callback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

// Start launches the periodic failure-check sweep in the background. It
// returns immediately; call Stop to shut it down.
func (m *HealthMonitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	ticker := time.NewTicker(m.recoveryCheckInterval)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.sweep(time.Now())
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels the background sweep and waits for it to exit.
func (m *HealthMonitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// ReceiveHeartbeat records a HEARTBEAT from nodeID. If the node was
// FAILED, it transitions to HEALTHY and a recovered event fires; an
// unseen or already-HEALTHY node simply has its timestamp recorded.
func (m *HealthMonitor) ReceiveHeartbeat(nodeID string, at time.Time) {
	m.mu.Lock()
	h, ok := m.nodes[nodeID]
	if !ok {
		h = &nodeHealth{status: cluster.StatusHealthy}
		m.nodes[nodeID] = h
	}
	h.record(at)

	wasFailed := h.status == cluster.StatusFailed
	h.status = cluster.StatusHealthy
	m.mu.Unlock()

	if wasFailed {
		m.dispatch(EventRecovered, nodeID)
	}
}

// sweep scans every known node and fails any HEALTHY node whose last
// heartbeat is older than failureTimeout.
func (m *HealthMonitor) sweep(now time.Time) {
	var toFail []string

	m.mu.Lock()
	for nodeID, h := range m.nodes {
		if h.status == cluster.StatusFailed {
			continue
		}
		if now.Sub(h.lastHeartbeatAt) > m.failureTimeout {
			h.status = cluster.StatusFailed
			toFail = append(toFail, nodeID)
		}
	}
	m.mu.Unlock()

	for _, nodeID := range toFail {
		m.dispatch(EventFailed, nodeID)
	}
}

// dispatch invokes every registered callback for one event, without the
// monitor's lock held. A panicking callback is recovered so it cannot
// prevent later callbacks or future transitions from running.
func (m *HealthMonitor) dispatch(kind EventKind, nodeID string) {
	m.mu.RLock()
	callbacks := make([]Callback, len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.mu.RUnlock()

	for _, cb := range callbacks {
		m.invoke(cb, kind, nodeID)
	}
}

func (m *HealthMonitor) invoke(cb Callback, kind EventKind, nodeID string) {
	defer func() {
		if r := recover(); r != nil {
			m.onError(fmt.Errorf("health monitor callback panicked: %v", r))
		}
	}()
	cb(kind, nodeID)
}

// Status returns a node's current status. OFFLINE is returned for node
// IDs the monitor has never received a heartbeat from.
func (m *HealthMonitor) Status(nodeID string) cluster.Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h, ok := m.nodes[nodeID]
	if !ok {
		return cluster.StatusOffline
	}
	return h.status
}

// History returns a copy of nodeID's heartbeat timestamp ring buffer,
// oldest first, capped at the last 100 heartbeats.
func (m *HealthMonitor) History(nodeID string) []time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h, ok := m.nodes[nodeID]
	if !ok {
		return nil
	}
	out := make([]time.Time, len(h.history))
	copy(out, h.history)
	return out
}

// Counts returns the number of nodes currently in each of the HEALTHY and
// FAILED states, for GET_STATUS aggregation.
func (m *HealthMonitor) Counts() (healthy, failed int) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, h := range m.nodes {
		switch h.status {
		case cluster.StatusHealthy:
			healthy++
		case cluster.StatusFailed:
			failed++
		}
	}
	return healthy, failed
}

// Forget removes a node from monitoring entirely, e.g. on operator
// decommission.
func (m *HealthMonitor) Forget(nodeID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.nodes, nodeID)
}
