package dispatch

import "sync"

// WorkerGauge is the admission-control counter for active supervisors.
// It is the only in-process shared mutable state besides the keyed store.
type WorkerGauge struct {
	mu     sync.Mutex
	active int
	max    int
}

func NewWorkerGauge(max int) *WorkerGauge {
	return &WorkerGauge{max: max}
}

func (g *WorkerGauge) Inc() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.active++
}

func (g *WorkerGauge) Dec() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.active--
}

func (g *WorkerGauge) Active() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

func (g *WorkerGauge) BelowCapacity() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active < g.max
}

func (g *WorkerGauge) Capacity() int {
	return g.max
}
