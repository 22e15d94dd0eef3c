// Package worker provides a bounded-concurrency task pool with a minimum
// spacing between dispatches, protecting external hosts from bursts.
package worker

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Pool runs batches of tasks under two constraints held simultaneously:
// at most size tasks in flight, and at least interval between consecutive
// dispatches.
type Pool struct {
	size int
	gate *rate.Limiter
}

func NewPool(size int, interval time.Duration) *Pool {
	return &Pool{
		size: size,
		gate: rate.NewLimiter(rate.Every(interval), 1),
	}
}

// Run executes every task and waits for all of them to settle. The
// returned slice has one entry per task, nil meaning success. A canceled
// context stops further dispatches; tasks that never ran report the
// context error. Already-running tasks are always awaited.
func (p *Pool) Run(ctx context.Context, tasks []func(context.Context) error) []error {
	var (
		wg   sync.WaitGroup
		sem  = make(chan struct{}, p.size)
		errs = make([]error, len(tasks))
	)

	for i, task := range tasks {
		if err := p.gate.Wait(ctx); err != nil {
			errs[i] = err
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			errs[i] = ctx.Err()
			continue
		}

		wg.Add(1)
		go func(i int, task func(context.Context) error) {
			defer wg.Done()
			defer func() { <-sem }()

			errs[i] = task(ctx)
		}(i, task)
	}

	wg.Wait()
	return errs
}
