// Package hashpool implements C3: a fixed-size set of worker goroutines that
// run in genuine parallel to the coordinator, consuming hash tasks and
// producing (index, hash) results. Results fan in to a single channel so
// the coordinator can process them one at a time, restoring the
// single-consumer discipline the reorder buffer (C4) depends on.
package hashpool

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/quantarax/uploader/internal/digest"
	"github.com/quantarax/uploader/internal/observability"
	"github.com/quantarax/uploader/internal/planner"
	"github.com/quantarax/uploader/internal/taskqueue"
)

// Result is one (index, hash) pair produced by a worker. Order across
// Results() is not guaranteed; C4 restores it.
type Result struct {
	Index uint32
	Hash  string
	Range planner.Range
}

// RecommendedWorkerCount implements the spec's max(1, min(8, hardware
// parallelism)) heuristic.
func RecommendedWorkerCount() int {
	n := runtime.GOMAXPROCS(0)
	if n > 8 {
		n = 8
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Pool is the worker pool. It exclusively owns its workers for the
// engine's lifetime: no other component dequeues tasks or reads the result
// channel.
type Pool struct {
	queue       *taskqueue.Queue
	alg         digest.Algorithm
	workerCount int
	logger      *observability.Logger

	results chan Result
	errs    chan error
	errOnce sync.Once

	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}
}

// New constructs a pool. workerCount < 1 is coerced to 1 so a "single
// thread" debugging mode is always reachable by passing 1 explicitly.
func New(queue *taskqueue.Queue, alg digest.Algorithm, workerCount int, logger *observability.Logger) *Pool {
	if workerCount < 1 {
		workerCount = 1
	}
	if logger == nil {
		logger = observability.Noop()
	}
	return &Pool{
		queue:       queue,
		alg:         alg,
		workerCount: workerCount,
		logger:      logger,
		results:     make(chan Result, workerCount),
		errs:        make(chan error, 1),
		done:        make(chan struct{}),
	}
}

// Start spawns the worker goroutines. It returns immediately; use Results,
// Errs, and Wait to observe progress and completion.
func (p *Pool) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.runWorker(ctx, i)
	}

	go func() {
		p.wg.Wait()
		close(p.results)
		close(p.done)
	}()
}

func (p *Pool) runWorker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		task, ok := p.queue.Dequeue()
		if !ok {
			return
		}

		data, err := task.Blob.Read(task.Range.Start, task.Range.End)
		if err != nil {
			p.fail(fmt.Errorf("hashpool: worker %d failed reading chunk %d: %w", id, task.Index, err))
			return
		}

		hash := p.alg.Sum(data)
		p.logger.Debug().Uint32("chunk_index", task.Index).Str("hash", hash).Msg("chunk hashed")

		select {
		case p.results <- Result{Index: task.Index, Hash: hash, Range: task.Range}:
		case <-ctx.Done():
			return
		}
	}
}

// fail records the first worker error and terminates the pool. Only the
// first error wins; later ones are dropped (at most one QueueAborted-style
// signal per upload is the coordinator's job, but the pool itself must not
// block on a full errs channel).
func (p *Pool) fail(err error) {
	p.errOnce.Do(func() {
		p.errs <- err
		p.logger.Error().Err(err).Msg("worker pool aborting")
	})
	p.Terminate()
}

// Results returns the channel of hash results. It is closed once every
// worker has exited (queue drained, or the pool was terminated).
func (p *Pool) Results() <-chan Result { return p.results }

// Errs returns a channel that receives at most one error: the first worker
// failure.
func (p *Pool) Errs() <-chan error { return p.errs }

// Terminate stops all workers. Idempotent; safe to call after completion.
func (p *Pool) Terminate() {
	if p.cancel != nil {
		p.cancel()
	}
}

// Wait blocks until every worker has exited.
func (p *Pool) Wait() { <-p.done }
