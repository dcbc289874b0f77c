// Package uploadqueue implements C5: a bounded-concurrency consumer of
// hashed chunks that probes for dedup before uploading, fails fast on the
// first error, and drains exactly once per upload.
//
// Every state mutation (task status, stats, terminal transition) happens
// under the queue's mutex, which is the Go rendering of the spec's
// "coordinator plane, single-threaded cooperative": many goroutines may call
// in concurrently (one per in-flight chunk upload), but only one of them is
// ever inside the critical section mutating shared state at a time.
package uploadqueue

import (
	"context"
	"errors"
	"sync"

	"github.com/quantarax/uploader/internal/apiclient"
	"github.com/quantarax/uploader/internal/observability"
)

// Status is a task's lifecycle state.
type Status int

const (
	StatusPending Status = iota
	StatusInFlight
	StatusCompleted
	StatusFailed
)

// state is the queue's own terminal/non-terminal classification.
type state int

const (
	stateRunning state = iota
	stateCompleted
	stateAborted
)

// ErrTerminal is returned by AddChunkTask once the queue has reached a
// terminal state.
var ErrTerminal = errors.New("uploadqueue: queue is already terminal")

type task struct {
	index  uint32
	hash   string
	data   []byte
	size   uint64
	status Status
}

// Stats is the live, read-only view over queue progress (§3 QueueStats).
type Stats struct {
	TotalChunks     int
	Pending         int
	InFlight        int
	Completed       int
	Failed          int
	AllChunksHashed bool
}

// Queue is C5.
type Queue struct {
	mu sync.Mutex

	client      apiclient.Client
	token       string
	concurrency int
	logger      *observability.Logger

	tasks           []*task
	allChunksHashed bool
	state           state

	wg sync.WaitGroup

	bytesUploaded uint64

	onDrained  func()
	onAborted  func(err error)
	onProgress func(stats Stats, bytesUploaded uint64)
}

// New constructs an upload queue bound to one session token and a fixed
// concurrency cap K >= 1.
func New(client apiclient.Client, token string, concurrency int, logger *observability.Logger) *Queue {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = observability.Noop()
	}
	return &Queue{client: client, token: token, concurrency: concurrency, logger: logger}
}

// OnDrained registers the QueueDrained handler. Must be set before the
// first AddChunkTask/MarkAsCompleted call that could trigger it.
func (q *Queue) OnDrained(fn func()) { q.onDrained = fn }

// OnAborted registers the QueueAborted handler.
func (q *Queue) OnAborted(fn func(err error)) { q.onAborted = fn }

// OnProgress registers a handler fired after every task reaches Completed,
// with the queue's current stats and cumulative uploaded byte count.
func (q *Queue) OnProgress(fn func(stats Stats, bytesUploaded uint64)) { q.onProgress = fn }

// AddChunkTask appends a newly hashed chunk as a Pending upload task and
// runs the scheduler.
func (q *Queue) AddChunkTask(index uint32, hash string, data []byte) error {
	q.mu.Lock()
	if q.state != stateRunning {
		q.mu.Unlock()
		return ErrTerminal
	}
	q.tasks = append(q.tasks, &task{index: index, hash: hash, data: data, size: uint64(len(data)), status: StatusPending})
	q.mu.Unlock()

	q.schedule()
	return nil
}

// MarkAllChunksHashed records that C4 has finished emitting ChunkHashed and
// enables the drain check.
func (q *Queue) MarkAllChunksHashed() {
	q.mu.Lock()
	q.allChunksHashed = true
	q.mu.Unlock()
	q.checkDrain()
}

// MarkAsCompleted forces a terminal Completed state, used on file-level
// dedup: every non-terminal task becomes Completed and QueueDrained fires
// without waiting for the drain condition. It is a no-op (and fires
// nothing) once the queue is already terminal.
func (q *Queue) MarkAsCompleted() {
	q.mu.Lock()
	if q.state != stateRunning {
		q.mu.Unlock()
		return
	}
	for _, t := range q.tasks {
		t.status = StatusCompleted
	}
	q.allChunksHashed = true
	q.state = stateCompleted
	q.mu.Unlock()

	if q.onDrained != nil {
		q.onDrained()
	}
}

// Abort transitions the queue straight to Aborted, used by an external
// caller's Coordinator.Abort(). Idempotent.
func (q *Queue) Abort(err error) {
	q.mu.Lock()
	if q.state != stateRunning {
		q.mu.Unlock()
		return
	}
	q.state = stateAborted
	q.mu.Unlock()

	if q.onAborted != nil {
		q.onAborted(err)
	}
}

// Stats returns a snapshot of the current counts.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.statsLocked()
}

func (q *Queue) statsLocked() Stats {
	s := Stats{TotalChunks: len(q.tasks), AllChunksHashed: q.allChunksHashed}
	for _, t := range q.tasks {
		switch t.status {
		case StatusPending:
			s.Pending++
		case StatusInFlight:
			s.InFlight++
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		}
	}
	return s
}

// schedule starts as many Pending tasks as capacity allows, in insertion
// order. It may be called from many goroutines (AddChunkTask, and every
// task's completion); each iteration takes the lock for exactly one
// state transition, so the K-cap check and the flip to InFlight are atomic
// with respect to every other caller.
func (q *Queue) schedule() {
	for {
		q.mu.Lock()
		if q.state != stateRunning {
			q.mu.Unlock()
			return
		}
		inFlight := 0
		for _, t := range q.tasks {
			if t.status == StatusInFlight {
				inFlight++
			}
		}
		if inFlight >= q.concurrency {
			q.mu.Unlock()
			return
		}
		var next *task
		for _, t := range q.tasks {
			if t.status == StatusPending {
				next = t
				break
			}
		}
		if next == nil {
			q.mu.Unlock()
			return
		}
		next.status = StatusInFlight
		q.mu.Unlock()

		q.wg.Add(1)
		go q.process(next)
	}
}

// process runs the dedup probe, then the upload, for one task. It re-checks
// the terminal flag after each await, per §5's suspension-point discipline.
func (q *Queue) process(t *task) {
	defer q.wg.Done()

	if q.isTerminal() {
		return
	}

	ctx := context.Background()
	exists, err := q.client.CheckChunk(ctx, q.token, t.hash)
	if err != nil {
		q.failTask(t, err)
		return
	}
	if q.isTerminal() {
		return
	}

	if !exists {
		if err := q.client.UploadChunk(ctx, q.token, t.hash, t.index, t.data); err != nil {
			q.failTask(t, err)
			return
		}
	}

	q.completeTask(t)
}

func (q *Queue) isTerminal() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state != stateRunning
}

func (q *Queue) completeTask(t *task) {
	q.mu.Lock()
	if q.state != stateRunning {
		q.mu.Unlock()
		return
	}
	t.status = StatusCompleted
	q.bytesUploaded += t.size
	stats := q.statsLocked()
	bytesUploaded := q.bytesUploaded
	q.mu.Unlock()

	if q.onProgress != nil {
		q.onProgress(stats, bytesUploaded)
	}

	q.checkDrain()
	q.schedule()
}

// failTask transitions the failing task and the whole queue to a terminal
// Aborted state. Pending tasks are left as-is; the terminal flag forbids
// them from ever starting.
func (q *Queue) failTask(t *task, err error) {
	q.mu.Lock()
	if q.state != stateRunning {
		q.mu.Unlock()
		return
	}
	t.status = StatusFailed
	q.state = stateAborted
	q.mu.Unlock()

	q.logger.Error().Err(err).Uint32("chunk_index", t.index).Msg("chunk upload failed, aborting queue")
	if q.onAborted != nil {
		q.onAborted(err)
	}
}

// checkDrain emits QueueDrained exactly once, the moment every chunk has
// been accounted for and nothing is in flight or failed.
func (q *Queue) checkDrain() {
	q.mu.Lock()
	if q.state != stateRunning {
		q.mu.Unlock()
		return
	}
	s := q.statsLocked()
	drained := s.AllChunksHashed && s.Pending == 0 && s.InFlight == 0 && s.Failed == 0 && s.Completed == s.TotalChunks
	if !drained {
		q.mu.Unlock()
		return
	}
	q.state = stateCompleted
	q.mu.Unlock()

	if q.onDrained != nil {
		q.onDrained()
	}
}

// Wait blocks until every in-flight process() goroutine has returned. Used
// by tests and graceful shutdown to avoid leaking goroutines past an abort.
func (q *Queue) Wait() { q.wg.Wait() }
