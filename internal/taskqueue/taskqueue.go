// Package taskqueue implements C2: a finite FIFO of hash tasks seeded once
// from a chunk plan.
package taskqueue

import (
	"sync"

	"github.com/google/uuid"

	"github.com/quantarax/uploader/internal/planner"
)

// SliceRef is a lazy handle to the bytes of a chunk. It never copies the
// whole file; Read slices only the requested byte range.
type SliceRef interface {
	Read(start, end uint64) ([]byte, error)
}

// Task is one unit of hashing work.
type Task struct {
	TaskID string
	Index  uint32
	Range  planner.Range
	Blob   SliceRef
}

// Queue is a one-shot FIFO: every task is dequeued exactly once, never
// re-enqueued.
// Queue's Dequeue is called concurrently by every worker in the pool, so it
// guards the read head with a mutex; the queue itself is otherwise immutable
// after construction.
type Queue struct {
	mu    sync.Mutex
	tasks []Task
	head  int
	byIdx map[uint32]planner.Range
}

// New seeds a queue from a chunk plan and a blob reference.
func New(plan []planner.Range, blob SliceRef) *Queue {
	q := &Queue{
		tasks: make([]Task, 0, len(plan)),
		byIdx: make(map[uint32]planner.Range, len(plan)),
	}
	for _, r := range plan {
		q.tasks = append(q.tasks, Task{
			TaskID: uuid.NewString(),
			Index:  r.Index,
			Range:  r,
			Blob:   blob,
		})
		q.byIdx[r.Index] = r
	}
	return q
}

// Dequeue pops the next task, or returns ok=false when the queue is empty.
func (q *Queue) Dequeue() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.head >= len(q.tasks) {
		return Task{}, false
	}
	t := q.tasks[q.head]
	q.head++
	return t, true
}

// LookupByIndex returns the byte range planned for a chunk index.
func (q *Queue) LookupByIndex(index uint32) (planner.Range, bool) {
	r, ok := q.byIdx[index]
	return r, ok
}

// Len returns the total number of tasks this queue was seeded with.
func (q *Queue) Len() int { return len(q.tasks) }

// Remaining returns the number of tasks not yet dequeued.
func (q *Queue) Remaining() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks) - q.head
}
