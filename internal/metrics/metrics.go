// Package metrics provides application-level metrics collection.
// This is a lightweight metrics foundation using atomic counters.
// For production observability, consider integrating with Prometheus or similar.
package metrics

import (
	"sync/atomic"
	"time"
)

// Metrics holds application metrics using atomic counters for thread safety.
type Metrics struct {
	// Lifecycle metrics
	acquiresTotal atomic.Int64
	restartsTotal atomic.Int64
	stopsTotal    atomic.Int64

	// Persistence metrics
	savesTotal         atomic.Int64
	saveMirrorFailures atomic.Int64
	backupsTotal       atomic.Int64
	backupFailures     atomic.Int64

	// Sync metrics
	syncWaitsTotal   atomic.Int64
	syncTimeouts     atomic.Int64
	syncWaitNanos    atomic.Int64
	nodeDropsTotal   atomic.Int64

	// Delegate metrics
	delegateCalls  atomic.Int64
	delegateErrors atomic.Int64
	tokenRefreshes atomic.Int64
}

// Global is the global metrics instance.
// Use this for recording metrics throughout the application.
//
//nolint:gochecknoglobals // Intentional global for metrics access
var Global = &Metrics{}

// RecordAcquire records a wallet acquire and whether it restarted the
// instance.
func (m *Metrics) RecordAcquire(restarted bool) {
	m.acquiresTotal.Add(1)
	if restarted {
		m.restartsTotal.Add(1)
	}
}

// RecordStop records a wallet instance stop.
func (m *Metrics) RecordStop() {
	m.stopsTotal.Add(1)
}

// RecordSave records a completed save and whether the mirror write failed.
func (m *Metrics) RecordSave(mirrorFailed bool) {
	m.savesTotal.Add(1)
	if mirrorFailed {
		m.saveMirrorFailures.Add(1)
	}
}

// RecordBackup records a backup attempt.
func (m *Metrics) RecordBackup(err error) {
	m.backupsTotal.Add(1)
	if err != nil {
		m.backupFailures.Add(1)
	}
}

// RecordSyncWait records a sync wait with its duration and outcome.
func (m *Metrics) RecordSyncWait(duration time.Duration, timedOut bool) {
	m.syncWaitsTotal.Add(1)
	m.syncWaitNanos.Add(duration.Nanoseconds())
	if timedOut {
		m.syncTimeouts.Add(1)
	}
}

// RecordNodeDrop records a stalled-peer drop.
func (m *Metrics) RecordNodeDrop() {
	m.nodeDropsTotal.Add(1)
}

// RecordDelegateCall records a remote wallet delegate call.
func (m *Metrics) RecordDelegateCall(err error) {
	m.delegateCalls.Add(1)
	if err != nil {
		m.delegateErrors.Add(1)
	}
}

// RecordTokenRefresh records a bearer token exchange.
func (m *Metrics) RecordTokenRefresh() {
	m.tokenRefreshes.Add(1)
}

// Snapshot returns a point-in-time copy of all metrics.
type Snapshot struct {
	AcquiresTotal      int64
	RestartsTotal      int64
	StopsTotal         int64
	SavesTotal         int64
	SaveMirrorFailures int64
	BackupsTotal       int64
	BackupFailures     int64
	SyncWaitsTotal     int64
	SyncTimeouts       int64
	SyncWaitNanos      int64
	NodeDropsTotal     int64
	DelegateCalls      int64
	DelegateErrors     int64
	TokenRefreshes     int64
}

// Snapshot returns a point-in-time copy of all metrics.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		AcquiresTotal:      m.acquiresTotal.Load(),
		RestartsTotal:      m.restartsTotal.Load(),
		StopsTotal:         m.stopsTotal.Load(),
		SavesTotal:         m.savesTotal.Load(),
		SaveMirrorFailures: m.saveMirrorFailures.Load(),
		BackupsTotal:       m.backupsTotal.Load(),
		BackupFailures:     m.backupFailures.Load(),
		SyncWaitsTotal:     m.syncWaitsTotal.Load(),
		SyncTimeouts:       m.syncTimeouts.Load(),
		SyncWaitNanos:      m.syncWaitNanos.Load(),
		NodeDropsTotal:     m.nodeDropsTotal.Load(),
		DelegateCalls:      m.delegateCalls.Load(),
		DelegateErrors:     m.delegateErrors.Load(),
		TokenRefreshes:     m.tokenRefreshes.Load(),
	}
}

// AcquiresTotal returns the total number of wallet acquires.
func (m *Metrics) AcquiresTotal() int64 {
	return m.acquiresTotal.Load()
}

// RestartsTotal returns the total number of instance restarts.
func (m *Metrics) RestartsTotal() int64 {
	return m.restartsTotal.Load()
}

// SyncWaitAvgMs returns the average sync wait duration in milliseconds.
// Returns 0 if no waits have occurred.
func (m *Metrics) SyncWaitAvgMs() float64 {
	waits := m.syncWaitsTotal.Load()
	if waits == 0 {
		return 0
	}
	nanos := m.syncWaitNanos.Load()
	return float64(nanos) / float64(waits) / 1e6
}

// Reset resets all metrics to zero.
// Useful for testing.
func (m *Metrics) Reset() {
	m.acquiresTotal.Store(0)
	m.restartsTotal.Store(0)
	m.stopsTotal.Store(0)
	m.savesTotal.Store(0)
	m.saveMirrorFailures.Store(0)
	m.backupsTotal.Store(0)
	m.backupFailures.Store(0)
	m.syncWaitsTotal.Store(0)
	m.syncTimeouts.Store(0)
	m.syncWaitNanos.Store(0)
	m.nodeDropsTotal.Store(0)
	m.delegateCalls.Store(0)
	m.delegateErrors.Store(0)
	m.tokenRefreshes.Store(0)
}
