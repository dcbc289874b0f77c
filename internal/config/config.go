// Package config holds the engine's explicit options struct, adapted from
// the teacher's daemon/config package: a plain struct with a documented
// default constructor rather than a file-backed parser, since the engine has
// no daemon-wide settings file of its own.
package config

import "time"

// Options configures one Coordinator.Start call (SPEC_FULL.md §10).
type Options struct {
	// ChunkSize is the byte size of every chunk but the last. Must be > 0.
	ChunkSize uint64

	// HashAlgorithm selects the digest backend: "" or "md5" (default),
	// or "blake3".
	HashAlgorithm string

	// HashWorkerCount sets C3's parallelism. 0 selects
	// hashpool.RecommendedWorkerCount().
	HashWorkerCount int

	// UploadConcurrency is C5's hard concurrency cap K. Must be >= 1.
	UploadConcurrency int

	// EventBufferSize is carried in Options but not read by the
	// coordinator: its event bus is built in coordinator.New with a fixed
	// per-subscriber capacity of 32.
	EventBufferSize int

	// RequestTimeout is carried in Options but not applied by the
	// coordinator or the upload queue; apiclient calls are bounded only by
	// the transport's own limits (HTTPClient uses a 30s http.Client timeout).
	RequestTimeout time.Duration

	// FEC enables optional Reed-Solomon erasure coding of chunk payloads.
	// Nil disables it.
	FEC *FECOptions

	// EncryptionKey, if non-nil, AEAD-seals every chunk payload before
	// upload. Must be exactly 32 bytes (chacha20poly1305 key size).
	EncryptionKey []byte
}

// FECOptions configures internal/fec erasure coding.
type FECOptions struct {
	DataShards   int
	ParityShards int
}

// DefaultOptions returns the engine's out-of-the-box configuration: MD5
// chunk hashing, hardware-parallel hashing, a concurrency-4 upload queue,
// no FEC, no encryption.
func DefaultOptions() Options {
	return Options{
		ChunkSize:         4 << 20, // 4 MiB
		HashAlgorithm:     "md5",
		HashWorkerCount:   0, // resolved to hashpool.RecommendedWorkerCount()
		UploadConcurrency: 4,
		EventBufferSize:   32,
		RequestTimeout:    30 * time.Second,
	}
}
