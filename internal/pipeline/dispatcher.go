package pipeline

import (
	"context"
	"sync"
)

// Dispatcher fans frontier work out to a pool of workers.
type Dispatcher struct {
	workers []*Worker
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(workers []*Worker) *Dispatcher {
	return &Dispatcher{workers: workers}
}

// Run starts all workers and blocks until they stop. Workers exit when the
// context finishes or the frontier closes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	wg.Wait()
}
