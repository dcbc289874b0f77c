package taskqueue

import (
	"testing"

	"github.com/quantarax/uploader/internal/planner"
)

type fakeBlob struct{}

func (fakeBlob) Read(start, end uint64) ([]byte, error) { return make([]byte, end-start), nil }

func TestQueue_DequeuesInOrderExactlyOnce(t *testing.T) {
	plan, err := planner.Plan(250, 100)
	if err != nil {
		t.Fatal(err)
	}
	q := New(plan, fakeBlob{})

	if got := q.Len(); got != 3 {
		t.Fatalf("expected 3 tasks, got %d", got)
	}

	var seen []uint32
	for {
		task, ok := q.Dequeue()
		if !ok {
			break
		}
		seen = append(seen, task.Index)
	}

	if len(seen) != 3 {
		t.Fatalf("expected 3 dequeues, got %d", len(seen))
	}
	for i, idx := range seen {
		if idx != uint32(i) {
			t.Fatalf("expected FIFO order, got %v", seen)
		}
	}
	if _, ok := q.Dequeue(); ok {
		t.Fatal("expected queue to be empty after draining")
	}
	if r := q.Remaining(); r != 0 {
		t.Fatalf("expected 0 remaining, got %d", r)
	}
}

func TestQueue_LookupByIndex(t *testing.T) {
	plan, err := planner.Plan(250, 100)
	if err != nil {
		t.Fatal(err)
	}
	q := New(plan, fakeBlob{})

	r, ok := q.LookupByIndex(2)
	if !ok {
		t.Fatal("expected index 2 to exist")
	}
	if r.Start != 200 || r.End != 250 {
		t.Fatalf("unexpected range for last chunk: %+v", r)
	}

	if _, ok := q.LookupByIndex(99); ok {
		t.Fatal("expected lookup of an out-of-range index to fail")
	}
}

func TestQueue_ConcurrentDequeueNeverDuplicates(t *testing.T) {
	plan, err := planner.Plan(10000, 10)
	if err != nil {
		t.Fatal(err)
	}
	q := New(plan, fakeBlob{})

	results := make(chan uint32, q.Len())
	const workers = 8
	done := make(chan struct{})
	for i := 0; i < workers; i++ {
		go func() {
			for {
				task, ok := q.Dequeue()
				if !ok {
					done <- struct{}{}
					return
				}
				results <- task.Index
			}
		}()
	}
	for i := 0; i < workers; i++ {
		<-done
	}
	close(results)

	seen := make(map[uint32]bool)
	count := 0
	for idx := range results {
		if seen[idx] {
			t.Fatalf("index %d dequeued twice", idx)
		}
		seen[idx] = true
		count++
	}
	if count != q.Len() {
		t.Fatalf("expected every task dequeued exactly once, got %d of %d", count, q.Len())
	}
}
