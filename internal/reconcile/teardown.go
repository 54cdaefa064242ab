package reconcile

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	xerrors "PluginHub/internal/errors"
	"PluginHub/internal/registry"
)

// TeardownQueue runs unit teardowns in the background. Submit never blocks
// the caller and a panicking teardown only produces a log line.
type TeardownQueue struct {
	pool    *ants.Pool
	timeout time.Duration
	log     *slog.Logger
	wg      sync.WaitGroup
}

// NewTeardownQueue creates a queue backed by workers goroutines.
func NewTeardownQueue(workers int, timeout time.Duration, log *slog.Logger) (*TeardownQueue, error) {
	q := &TeardownQueue{timeout: timeout, log: log}
	pool, err := ants.NewPool(workers,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(p any) {
			q.log.Error("unit teardown panicked", slog.Any("panic", p))
		}),
	)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "create teardown pool")
	}
	q.pool = pool
	return q, nil
}

// Submit schedules u for teardown.
func (q *TeardownQueue) Submit(u registry.ExecutionUnit) {
	q.wg.Add(1)
	task := func() {
		defer q.wg.Done()
		ctx := context.Background()
		if q.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, q.timeout)
			defer cancel()
		}
		u.Teardown(ctx)
	}
	if err := q.pool.Submit(task); err != nil {
		// Pool saturated or released: fall back to a bare goroutine.
		go func() {
			defer func() {
				if r := recover(); r != nil {
					q.log.Error("unit teardown panicked", slog.Any("panic", r))
				}
			}()
			task()
		}()
	}
}

// Wait blocks until every submitted teardown has returned or ctx is done.
func (q *TeardownQueue) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close waits for pending teardowns and releases the pool.
func (q *TeardownQueue) Close(ctx context.Context) error {
	err := q.Wait(ctx)
	q.pool.Release()
	return err
}
