package transcode

import (
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"craftworker/metrics"
)

// Gate admits at most one job at a time. A second job is rejected, never queued.
type Gate interface {
	TryAcquire() bool
	Release()
	Busy() bool
}

// SemaphoreGate is a single-permit Gate.
type SemaphoreGate struct {
	sem  *semaphore.Weighted
	busy atomic.Bool
}

// NewGate creates an open gate.
func NewGate() *SemaphoreGate {
	return &SemaphoreGate{sem: semaphore.NewWeighted(1)}
}

// TryAcquire takes the permit if it is free.
func (g *SemaphoreGate) TryAcquire() bool {
	if !g.sem.TryAcquire(1) {
		return false
	}
	g.busy.Store(true)
	metrics.SetWorkerBusy(true)
	return true
}

// Release returns the permit.
func (g *SemaphoreGate) Release() {
	g.busy.Store(false)
	metrics.SetWorkerBusy(false)
	g.sem.Release(1)
}

// Busy reports whether a job holds the permit.
func (g *SemaphoreGate) Busy() bool {
	return g.busy.Load()
}
