package dispatch

import (
	"context"
	"time"

	"github.com/dogmatiq/dodeca/logging"
	"github.com/dogmatiq/linger"
	"github.com/procman/procman/internal/metrics"
	"github.com/procman/procman/internal/mlog"
	"golang.org/x/sync/errgroup"
)

// DefaultTimeout is the default time allowed for a dispatcher to respond to a
// single task.
const DefaultTimeout = 10 * time.Second

// Outcome is the result of dispatching a single task.
type Outcome struct {
	Task       Task
	Acceptance Acceptance

	// Err is the error returned by the dispatcher, if any. A task whose
	// dispatcher fails is deferred, it stays sent and is dispatched again when
	// its instance is tickled. Only an explicit rejection fails the task.
	Err error
}

// Pool dispatches batches of tasks concurrently.
type Pool struct {
	// Dispatcher is the dispatcher that tasks are handed to.
	Dispatcher Dispatcher

	// Semaphore limits the number of tasks dispatched at the same time.
	Semaphore Semaphore

	// Timeout is the time allowed for the dispatcher to respond to a single
	// task. If it is zero, DefaultTimeout is used.
	Timeout time.Duration

	// Logger is the target for log messages about dispatched tasks.
	// If it is nil, logging.DefaultLogger is used.
	Logger logging.Logger

	// Metrics records dispatch latency. It may be nil.
	Metrics *metrics.Metrics
}

// Dispatch hands each task to the dispatcher and returns their outcomes, in
// the same order as tasks.
//
// Dispatcher failures are reported as outcomes, not errors. An error is
// returned only if ctx is canceled before every task has been dispatched.
func (p *Pool) Dispatch(ctx context.Context, tasks []Task) ([]Outcome, error) {
	outcomes := make([]Outcome, len(tasks))
	g, gctx := errgroup.WithContext(ctx)

	for i, t := range tasks {
		if err := gctx.Err(); err != nil {
			_ = g.Wait()
			return nil, err
		}

		if err := p.Semaphore.Acquire(gctx); err != nil {
			_ = g.Wait()
			return nil, err
		}

		i, t := i, t
		g.Go(func() error {
			defer p.Semaphore.Release()
			outcomes[i] = p.dispatch(gctx, t)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return outcomes, nil
}

func (p *Pool) dispatch(ctx context.Context, t Task) Outcome {
	ctx, cancel := linger.ContextWithTimeout(ctx, p.Timeout, DefaultTimeout)
	defer cancel()

	start := time.Now()
	a, err := p.Dispatcher.Dispatch(ctx, t)

	o := Outcome{
		Task:       t,
		Acceptance: a,
		Err:        err,
	}

	if err != nil {
		o.Acceptance = Deferred
	}

	p.Metrics.Dispatched(o.Acceptance.String(), time.Since(start))

	mlog.LogDispatch(
		p.logger(),
		t.Instance,
		t.Node,
		t.NodeID,
		t.Endpoint,
		o.Acceptance,
		err,
	)

	return o
}

func (p *Pool) logger() logging.Logger {
	if p.Logger == nil {
		return logging.DefaultLogger
	}

	return p.Logger
}
