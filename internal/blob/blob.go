// Package blob provides byte-range views over an input file so the engine
// never materializes the whole file in memory (SPEC_FULL.md §9).
package blob

import "os"

// FileBlob is a read-only, concurrency-safe byte-range view over an
// on-disk file. Multiple workers may call Read concurrently: os.File.ReadAt
// does not share a seek cursor, so no locking is required.
type FileBlob struct {
	f    *os.File
	size uint64
}

// Open opens path for range-reads and reports its size.
func Open(path string) (*FileBlob, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &FileBlob{f: f, size: uint64(info.Size())}, nil
}

// Size returns the file size in bytes.
func (b *FileBlob) Size() uint64 { return b.size }

// Read returns the bytes in [start, end). It allocates exactly end-start
// bytes, never more.
func (b *FileBlob) Read(start, end uint64) ([]byte, error) {
	buf := make([]byte, end-start)
	if _, err := b.f.ReadAt(buf, int64(start)); err != nil {
		return nil, err
	}
	return buf, nil
}

// Close releases the underlying file handle.
func (b *FileBlob) Close() error { return b.f.Close() }

// MemBlob is an in-memory SliceRef, useful for tests and for small inputs
// already resident in memory.
type MemBlob struct{ Data []byte }

func (m MemBlob) Size() uint64 { return uint64(len(m.Data)) }

func (m MemBlob) Read(start, end uint64) ([]byte, error) {
	out := make([]byte, end-start)
	copy(out, m.Data[start:end])
	return out, nil
}
