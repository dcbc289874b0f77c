package uploadqueue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/quantarax/uploader/internal/apiclient"
)

func waitFor(t *testing.T, ch <-chan struct{}, msg string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal(msg)
	}
}

func TestQueue_AllChunksDedupStillDrains(t *testing.T) {
	client := apiclient.NewFake()
	client.ChunkExists["h0"] = true
	client.ChunkExists["h1"] = true

	q := New(client, "tok", 2, nil)
	drained := make(chan struct{})
	q.OnDrained(func() { close(drained) })
	q.OnAborted(func(err error) { t.Fatalf("unexpected abort: %v", err) })

	if err := q.AddChunkTask(0, "h0", []byte("a")); err != nil {
		t.Fatal(err)
	}
	if err := q.AddChunkTask(1, "h1", []byte("b")); err != nil {
		t.Fatal(err)
	}
	q.MarkAllChunksHashed()

	waitFor(t, drained, "expected QueueDrained")
	if client.UploadCallCount() != 0 {
		t.Fatalf("expected zero uploads on full dedup, got %d", client.UploadCallCount())
	}
}

func TestQueue_FailFast(t *testing.T) {
	client := apiclient.NewFake()
	client.FailUploadAtCall = 2 // second real upload fails

	q := New(client, "tok", 4, nil)
	var aborted atomic.Bool
	var abortErr error
	var mu sync.Mutex
	done := make(chan struct{})
	q.OnAborted(func(err error) {
		mu.Lock()
		abortErr = err
		mu.Unlock()
		aborted.Store(true)
		close(done)
	})
	q.OnDrained(func() { t.Fatal("did not expect QueueDrained after a failure") })

	for i := uint32(0); i < 4; i++ {
		if err := q.AddChunkTask(i, "h", []byte("x")); err != nil {
			t.Fatal(err)
		}
	}
	q.MarkAllChunksHashed()

	waitFor(t, done, "expected QueueAborted")
	q.Wait()

	if !aborted.Load() {
		t.Fatal("expected aborted flag set")
	}
	mu.Lock()
	if abortErr == nil {
		t.Fatal("expected non-nil abort error")
	}
	mu.Unlock()

	stats := q.Stats()
	if stats.Failed != 1 {
		t.Fatalf("expected exactly 1 failed task, got %d", stats.Failed)
	}
	// no task should ever be started after the abort.
	if err := q.AddChunkTask(99, "h99", []byte("y")); err != ErrTerminal {
		t.Fatalf("expected ErrTerminal on add after abort, got %v", err)
	}
}

// blockingClient lets the test observe the concurrency cap by holding
// CheckChunk open until released.
type blockingClient struct {
	*apiclient.Fake
	release chan struct{}
	active  atomic.Int32
	maxSeen atomic.Int32
}

func (b *blockingClient) CheckChunk(ctx context.Context, token, hash string) (bool, error) {
	n := b.active.Add(1)
	for {
		old := b.maxSeen.Load()
		if n <= old || b.maxSeen.CompareAndSwap(old, n) {
			break
		}
	}
	<-b.release
	b.active.Add(-1)
	return false, nil
}

func TestQueue_ConcurrencyCap(t *testing.T) {
	client := &blockingClient{Fake: apiclient.NewFake(), release: make(chan struct{})}
	const K = 3
	const N = 10
	q := New(client, "tok", K, nil)
	drained := make(chan struct{})
	q.OnDrained(func() { close(drained) })

	for i := uint32(0); i < N; i++ {
		if err := q.AddChunkTask(i, "h", []byte("x")); err != nil {
			t.Fatal(err)
		}
	}
	q.MarkAllChunksHashed()

	// let the first wave of CheckChunk calls pile up.
	time.Sleep(100 * time.Millisecond)
	if got := client.maxSeen.Load(); got > K {
		t.Fatalf("expected at most %d concurrent CheckChunk calls, saw %d", K, got)
	}
	if stats := q.Stats(); stats.InFlight > K {
		t.Fatalf("expected InFlight <= %d, got %d", K, stats.InFlight)
	}

	close(client.release)
	waitFor(t, drained, "expected QueueDrained")
}

func TestQueue_OnProgressFiresPerCompletion(t *testing.T) {
	client := apiclient.NewFake()
	q := New(client, "tok", 2, nil)
	drained := make(chan struct{})
	q.OnDrained(func() { close(drained) })

	var mu sync.Mutex
	var seenBytes []uint64
	q.OnProgress(func(stats Stats, bytesUploaded uint64) {
		mu.Lock()
		seenBytes = append(seenBytes, bytesUploaded)
		mu.Unlock()
	})

	if err := q.AddChunkTask(0, "h0", []byte("abcd")); err != nil {
		t.Fatal(err)
	}
	if err := q.AddChunkTask(1, "h1", []byte("xy")); err != nil {
		t.Fatal(err)
	}
	q.MarkAllChunksHashed()

	waitFor(t, drained, "expected QueueDrained")

	mu.Lock()
	defer mu.Unlock()
	if len(seenBytes) != 2 {
		t.Fatalf("expected OnProgress to fire once per completed task, got %d calls: %v", len(seenBytes), seenBytes)
	}
	if last := seenBytes[len(seenBytes)-1]; last != 6 {
		t.Fatalf("expected cumulative bytesUploaded of 6 after both chunks, got %d", last)
	}
}

func TestQueue_MarkAsCompletedForcesDrain(t *testing.T) {
	client := apiclient.NewFake()
	q := New(client, "tok", 2, nil)
	drained := make(chan struct{})
	q.OnDrained(func() { close(drained) })

	if err := q.AddChunkTask(0, "h0", []byte("a")); err != nil {
		t.Fatal(err)
	}
	q.MarkAsCompleted()

	waitFor(t, drained, "expected QueueDrained from MarkAsCompleted")
	stats := q.Stats()
	if stats.Completed != stats.TotalChunks || stats.Pending != 0 || stats.Failed != 0 {
		t.Fatalf("unexpected stats after forced completion: %+v", stats)
	}
	if err := q.AddChunkTask(1, "h1", []byte("b")); err != ErrTerminal {
		t.Fatalf("expected ErrTerminal after MarkAsCompleted, got %v", err)
	}
}
