// Package apiclient defines the ApiClient contract the engine treats as an
// external collaborator (§6), plus the error taxonomy (§7) transports must
// map onto.
package apiclient

import (
	"context"
	"errors"
)

// ChunkRef identifies one chunk of a file for the merge call.
type ChunkRef struct {
	Index uint32
	Hash  string
}

// Client is the four-operation contract the coordinator and upload queue
// drive. Concrete transports (HTTP/JSON+multipart, QUIC) live alongside this
// file; the core engine depends only on this interface.
type Client interface {
	// CreateSession starts an upload session and returns an opaque token.
	CreateSession(ctx context.Context, fileName, fileType string, fileSize uint64, chunksLength int) (token string, err error)

	// CheckChunk probes whether the server already holds a chunk with this
	// hash (dedup probe).
	CheckChunk(ctx context.Context, token, hash string) (exists bool, err error)

	// CheckFile probes whether the server already holds the whole file
	// (file-level dedup). url is only meaningful when exists is true.
	CheckFile(ctx context.Context, token, fileHash string) (exists bool, url string, err error)

	// UploadChunk uploads one chunk's bytes.
	UploadChunk(ctx context.Context, token, hash string, index uint32, data []byte) error

	// MergeFile finalizes the upload once every chunk is accounted for.
	MergeFile(ctx context.Context, token, fileHash, fileName string, chunks []ChunkRef) (url string, err error)
}

// Error kinds per §7. The core never silently retries; it surfaces the
// first error and stops.
var (
	ErrInvalidArgument = errors.New("apiclient: invalid argument")
	ErrNetwork         = errors.New("apiclient: network error")
	ErrProtocol        = errors.New("apiclient: protocol error")
)

// NetworkError wraps a transport-level failure (including timeouts).
type NetworkError struct{ Err error }

func (e *NetworkError) Error() string { return "network error: " + e.Err.Error() }
func (e *NetworkError) Unwrap() error { return e.Err }
func (e *NetworkError) Is(target error) bool { return target == ErrNetwork }

// ProtocolError wraps a malformed or unexpected server response shape, e.g.
// a missing "exists" field or an empty "url" where one is required.
type ProtocolError struct{ Msg string }

func (e *ProtocolError) Error() string       { return "protocol error: " + e.Msg }
func (e *ProtocolError) Is(target error) bool { return target == ErrProtocol }
