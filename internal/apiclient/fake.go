package apiclient

import (
	"context"
	"fmt"
	"sync"
)

// Fake is an in-memory Client used by the engine's own tests (and
// available to downstream embedders for theirs). It is not test-only code
// gated behind _test.go because uploadqueue and coordinator tests in other
// packages need a shared, importable double.
type Fake struct {
	mu sync.Mutex

	Token string

	// ChunkExists, keyed by hash, controls CheckChunk's dedup response.
	ChunkExists map[string]bool
	// FileExists, keyed by file hash, controls CheckFile's response.
	FileExists map[string]string // hash -> url, present means exists=true

	Uploaded []ChunkRef
	Merged   bool

	// FailUploadAtCall makes the Nth UploadChunk call (1-indexed) fail.
	FailUploadAtCall int
	uploadCalls      int

	// FailCheckChunkAtCall makes the Nth CheckChunk call (1-indexed) fail.
	FailCheckChunkAtCall int
	checkChunkCalls      int

	// FailCheckFileWithProtocolError makes CheckFile return a ProtocolError,
	// simulating a malformed server response (e.g. a missing "exists" field).
	FailCheckFileWithProtocolError bool

	MergeURL string
}

// NewFake constructs a Fake with no dedup hits and a fixed session token.
func NewFake() *Fake {
	return &Fake{
		Token:       "fake-token",
		ChunkExists: map[string]bool{},
		FileExists:  map[string]string{},
		MergeURL:    "https://example.test/files/merged",
	}
}

func (f *Fake) CreateSession(ctx context.Context, fileName, fileType string, fileSize uint64, chunksLength int) (string, error) {
	return f.Token, nil
}

func (f *Fake) CheckChunk(ctx context.Context, token, hash string) (bool, error) {
	f.mu.Lock()
	f.checkChunkCalls++
	call := f.checkChunkCalls
	f.mu.Unlock()

	if f.FailCheckChunkAtCall != 0 && call == f.FailCheckChunkAtCall {
		return false, &NetworkError{Err: fmt.Errorf("fake: checkChunk call %d failed", call)}
	}
	return f.ChunkExists[hash], nil
}

func (f *Fake) CheckFile(ctx context.Context, token, fileHash string) (bool, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailCheckFileWithProtocolError {
		return false, "", &ProtocolError{Msg: "fake: checkFile response missing exists field"}
	}
	url, ok := f.FileExists[fileHash]
	return ok, url, nil
}

func (f *Fake) UploadChunk(ctx context.Context, token, hash string, index uint32, data []byte) error {
	f.mu.Lock()
	f.uploadCalls++
	call := f.uploadCalls
	f.mu.Unlock()

	if f.FailUploadAtCall != 0 && call == f.FailUploadAtCall {
		return &NetworkError{Err: fmt.Errorf("fake: uploadChunk call %d failed", call)}
	}

	f.mu.Lock()
	f.Uploaded = append(f.Uploaded, ChunkRef{Index: index, Hash: hash})
	f.mu.Unlock()
	return nil
}

func (f *Fake) MergeFile(ctx context.Context, token, fileHash, fileName string, chunks []ChunkRef) (string, error) {
	f.mu.Lock()
	f.Merged = true
	f.mu.Unlock()
	return f.MergeURL, nil
}

// UploadCallCount returns the number of UploadChunk invocations so far.
func (f *Fake) UploadCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploadCalls
}
