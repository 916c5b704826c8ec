package dispatch

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Stats is a point-in-time view of admission control.
type Stats struct {
	Executing int64 `json:"executing"`
	Queued    int64 `json:"queued"`
	// Limit is the executing cap; 0 means unlimited.
	Limit int `json:"limit"`
}

// admission bounds the number of simultaneously executing workers. Waiters
// are admitted in FIFO order.
type admission struct {
	sem       *semaphore.Weighted
	limit     int
	executing atomic.Int64
	queued    atomic.Int64
}

func newAdmission(limit int) *admission {
	a := &admission{limit: limit}
	if limit > 0 {
		a.sem = semaphore.NewWeighted(int64(limit))
	}
	return a
}

// acquire blocks until a slot is free or ctx is done. The returned release
// func is idempotent.
func (a *admission) acquire(ctx context.Context) (func(), error) {
	if a.sem != nil {
		a.queued.Add(1)
		err := a.sem.Acquire(ctx, 1)
		a.queued.Add(-1)
		if err != nil {
			return nil, err
		}
	}
	a.executing.Add(1)

	var once sync.Once
	return func() {
		once.Do(func() {
			a.executing.Add(-1)
			if a.sem != nil {
				a.sem.Release(1)
			}
		})
	}, nil
}

func (a *admission) stats() Stats {
	return Stats{
		Executing: a.executing.Load(),
		Queued:    a.queued.Load(),
		Limit:     a.limit,
	}
}
