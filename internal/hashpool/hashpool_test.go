package hashpool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/quantarax/uploader/internal/digest"
	"github.com/quantarax/uploader/internal/planner"
	"github.com/quantarax/uploader/internal/taskqueue"
)

type memBlob struct{ data []byte }

func (m memBlob) Read(start, end uint64) ([]byte, error) {
	return m.data[start:end], nil
}

type failingBlob struct{}

func (failingBlob) Read(start, end uint64) ([]byte, error) {
	return nil, errors.New("boom")
}

func TestPool_HashesAllChunks(t *testing.T) {
	data := make([]byte, 250)
	for i := range data {
		data[i] = byte(i)
	}
	ranges, err := planner.Plan(uint64(len(data)), 100)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	q := taskqueue.New(ranges, memBlob{data})
	alg, _ := digest.ByName("md5")
	pool := New(q, alg, 4, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pool.Start(ctx)

	got := map[uint32]string{}
	for r := range pool.Results() {
		got[r.Index] = r.Hash
	}
	pool.Wait()

	if len(got) != 3 {
		t.Fatalf("expected 3 results, got %d", len(got))
	}
	for _, r := range ranges {
		want := alg.Sum(data[r.Start:r.End])
		if got[r.Index] != want {
			t.Errorf("chunk %d: expected hash %s, got %s", r.Index, want, got[r.Index])
		}
	}
	select {
	case err := <-pool.Errs():
		t.Fatalf("unexpected error: %v", err)
	default:
	}
}

func TestPool_WorkerErrorAbortsAndTerminatesWorkers(t *testing.T) {
	ranges, err := planner.Plan(1000, 100)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	q := taskqueue.New(ranges, failingBlob{})
	alg, _ := digest.ByName("md5")
	pool := New(q, alg, 2, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pool.Start(ctx)

	for range pool.Results() {
		t.Fatal("expected no successful results")
	}
	pool.Wait()

	select {
	case err := <-pool.Errs():
		if err == nil {
			t.Fatal("expected non-nil error")
		}
	default:
		t.Fatal("expected an error on Errs()")
	}
}

func TestPool_SingleWorkerMode(t *testing.T) {
	ranges, _ := planner.Plan(30, 10)
	q := taskqueue.New(ranges, memBlob{make([]byte, 30)})
	alg, _ := digest.ByName("md5")
	pool := New(q, alg, 0, nil) // coerced to 1

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pool.Start(ctx)

	count := 0
	for range pool.Results() {
		count++
	}
	pool.Wait()
	if count != 3 {
		t.Fatalf("expected 3 results from single worker, got %d", count)
	}
}
