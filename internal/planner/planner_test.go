package planner

import "testing"

func TestPlan_InvalidChunkSize(t *testing.T) {
	if _, err := Plan(100, 0); err == nil {
		t.Fatal("expected error for zero chunk size")
	}
}

func TestPlan_EmptyFile(t *testing.T) {
	ranges, err := Plan(0, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ranges) != 0 {
		t.Fatalf("expected 0 ranges, got %d", len(ranges))
	}
}

func TestPlan_SingleChunk(t *testing.T) {
	ranges, err := Plan(10, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ranges) != 1 {
		t.Fatalf("expected 1 range, got %d", len(ranges))
	}
	if ranges[0] != (Range{Index: 0, Start: 0, End: 10}) {
		t.Fatalf("unexpected range: %+v", ranges[0])
	}
}

func TestPlan_ExactMultiple(t *testing.T) {
	ranges, err := Plan(200, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ranges) != 2 {
		t.Fatalf("expected 2 ranges, got %d", len(ranges))
	}
	if ranges[0] != (Range{0, 0, 100}) || ranges[1] != (Range{1, 100, 200}) {
		t.Fatalf("unexpected ranges: %+v", ranges)
	}
}

func TestPlan_NonMultiple(t *testing.T) {
	ranges, err := Plan(250, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ranges) != 3 {
		t.Fatalf("expected 3 ranges, got %d", len(ranges))
	}
	last := ranges[2]
	if last.Start != 200 || last.End != 250 || last.Size() != 50 {
		t.Fatalf("unexpected last range: %+v", last)
	}
}

func TestPlan_Totality(t *testing.T) {
	const fileSize, chunkSize = 1_234_567, 65536
	ranges, err := Plan(fileSize, chunkSize)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var covered uint64
	for i, r := range ranges {
		if uint32(i) != r.Index {
			t.Fatalf("ranges out of order at %d: %+v", i, r)
		}
		if i > 0 && r.Start != ranges[i-1].End {
			t.Fatalf("gap or overlap between chunk %d and %d", i-1, i)
		}
		if r.End <= r.Start {
			t.Fatalf("non-positive size at index %d", i)
		}
		covered += r.Size()
	}
	if covered != fileSize {
		t.Fatalf("expected total coverage %d, got %d", fileSize, covered)
	}
}
