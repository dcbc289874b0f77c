// Package fec provides optional Reed-Solomon erasure coding of chunk
// payloads, grounded on the teacher's internal/fec package. It is wired as
// an opt-in chunk transform (config.Options.FEC): when enabled, the
// coordinator encodes a chunk's bytes into a self-describing shard envelope
// before upload, and a downstream reader with the same Codec can recover
// the original bytes even after losing up to ParityShards shards.
package fec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/reedsolomon"
)

// ErrEnvelope is returned when an encoded envelope is truncated or
// otherwise malformed.
var ErrEnvelope = errors.New("fec: malformed envelope")

// Codec encodes and decodes one data+parity shard configuration.
type Codec struct {
	dataShards   int
	parityShards int
	enc          reedsolomon.Encoder
}

// New constructs a Codec for dataShards data shards and parityShards parity
// shards, tolerating the loss of up to parityShards shards.
func New(dataShards, parityShards int) (*Codec, error) {
	enc, err := reedsolomon.New(dataShards, parityShards)
	if err != nil {
		return nil, fmt.Errorf("fec: %w", err)
	}
	return &Codec{dataShards: dataShards, parityShards: parityShards, enc: enc}, nil
}

// Encode splits data into shards, computes parity, and serializes the whole
// set into one self-describing envelope.
func (c *Codec) Encode(data []byte) ([]byte, error) {
	shards, err := c.enc.Split(data)
	if err != nil {
		return nil, fmt.Errorf("fec: split: %w", err)
	}
	if err := c.enc.Encode(shards); err != nil {
		return nil, fmt.Errorf("fec: encode: %w", err)
	}

	var buf bytes.Buffer
	var header [8]byte
	binary.BigEndian.PutUint64(header[:], uint64(len(data)))
	buf.Write(header[:])

	var count [2]byte
	binary.BigEndian.PutUint16(count[:], uint16(len(shards)))
	buf.Write(count[:])

	for _, shard := range shards {
		var shardLen [4]byte
		binary.BigEndian.PutUint32(shardLen[:], uint32(len(shard)))
		buf.Write(shardLen[:])
		buf.Write(shard)
	}
	return buf.Bytes(), nil
}

// Decode reverses Encode, reconstructing missing or corrupted shards when
// possible before reassembling the original bytes.
func (c *Codec) Decode(envelope []byte) ([]byte, error) {
	if len(envelope) < 10 {
		return nil, ErrEnvelope
	}
	origLen := binary.BigEndian.Uint64(envelope[:8])
	shardCount := int(binary.BigEndian.Uint16(envelope[8:10]))
	rest := envelope[10:]

	shards := make([][]byte, shardCount)
	for i := 0; i < shardCount; i++ {
		if len(rest) < 4 {
			return nil, ErrEnvelope
		}
		l := int(binary.BigEndian.Uint32(rest[:4]))
		rest = rest[4:]
		if len(rest) < l {
			return nil, ErrEnvelope
		}
		if l > 0 {
			shards[i] = rest[:l]
		}
		rest = rest[l:]
	}

	ok, err := c.enc.Verify(shards)
	if err != nil || !ok {
		if err := c.enc.Reconstruct(shards); err != nil {
			return nil, fmt.Errorf("fec: reconstruct: %w", err)
		}
	}

	var out bytes.Buffer
	if err := c.enc.Join(&out, shards, int(origLen)); err != nil {
		return nil, fmt.Errorf("fec: join: %w", err)
	}
	return out.Bytes(), nil
}
