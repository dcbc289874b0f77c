package resultbuffer

import (
	"reflect"
	"testing"

	"github.com/quantarax/uploader/internal/digest"
	"github.com/quantarax/uploader/internal/planner"
)

func TestBuffer_OrdersOutOfOrderResults(t *testing.T) {
	alg, _ := digest.ByName("md5")
	b := New(3, alg)

	var order []uint32
	b.OnChunkHashed(func(e ChunkHashed) { order = append(order, e.Index) })

	allCount := 0
	b.OnAllChunksHashed(func() { allCount++ })

	var fileHash string
	fileCount := 0
	b.OnFileHashed(func(h string) { fileHash = h; fileCount++ })

	hashes := map[uint32]string{0: "h0", 1: "h1", 2: "h2"}
	b.AddResult(2, hashes[2], planner.Range{Index: 2})
	b.AddResult(0, hashes[0], planner.Range{Index: 0})
	b.AddResult(1, hashes[1], planner.Range{Index: 1})

	if !reflect.DeepEqual(order, []uint32{0, 1, 2}) {
		t.Fatalf("expected ascending order, got %v", order)
	}
	if allCount != 1 {
		t.Fatalf("expected AllChunksHashed once, got %d", allCount)
	}
	if fileCount != 1 {
		t.Fatalf("expected FileHashed once, got %d", fileCount)
	}
	want := digest.FileHash(alg, []string{"h0", "h1", "h2"})
	if fileHash != want {
		t.Fatalf("expected file hash %s, got %s", want, fileHash)
	}
}

func TestBuffer_EmptyFile(t *testing.T) {
	alg, _ := digest.ByName("md5")
	b := New(0, alg)

	chunkEvents := 0
	b.OnChunkHashed(func(ChunkHashed) { chunkEvents++ })
	allCount := 0
	b.OnAllChunksHashed(func() { allCount++ })
	var fileHash string
	b.OnFileHashed(func(h string) { fileHash = h })

	b.EmitEmpty()

	if chunkEvents != 0 {
		t.Fatalf("expected no ChunkHashed events, got %d", chunkEvents)
	}
	if allCount != 1 {
		t.Fatalf("expected AllChunksHashed once, got %d", allCount)
	}
	if fileHash != alg.Sum(nil) {
		t.Fatalf("expected empty-file hash, got %s", fileHash)
	}
}

func TestBuffer_EmitsExactlyOnce(t *testing.T) {
	alg, _ := digest.ByName("md5")
	b := New(1, alg)
	allCount, fileCount := 0, 0
	b.OnAllChunksHashed(func() { allCount++ })
	b.OnFileHashed(func(string) { fileCount++ })

	b.AddResult(0, "h0", planner.Range{Index: 0})
	b.emitTerminal() // defensive re-invocation must still be a no-op

	if allCount != 1 || fileCount != 1 {
		t.Fatalf("expected exactly-once emission, got all=%d file=%d", allCount, fileCount)
	}
}
