// Package history records each session's event stream in a boltdb/bolt
// database for the lifetime of the owning process, adapted from the
// teacher's use of boltdb as an embedded session store. It is explicitly not
// a resume-across-restart mechanism: Coordinator.Start calls Reset for the
// new session's own ID only, so that session starts with an empty log.
// Buckets recorded for earlier sessions are not removed and remain in the
// database file.
package history

import (
	"encoding/json"
	"encoding/binary"
	"fmt"

	"github.com/boltdb/bolt"

	"github.com/quantarax/uploader/internal/events"
)

var bucketName = []byte("sessions")

// Store persists per-session event logs in a single bolt database file.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the bolt database at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("history: open: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: init bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error { return s.db.Close() }

// Reset truncates any existing event log for sessionID. The coordinator
// calls this once at the start of every session so a reused session ID
// never sees stale history.
func (s *Store) Reset(sessionID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		parent := tx.Bucket(bucketName)
		if b := parent.Bucket([]byte(sessionID)); b != nil {
			if err := parent.DeleteBucket([]byte(sessionID)); err != nil {
				return err
			}
		}
		_, err := parent.CreateBucket([]byte(sessionID))
		return err
	})
}

// Append records one event under sessionID, keyed by a monotonically
// increasing sequence number so List replays them in emission order.
func (s *Store) Append(sessionID string, e events.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("history: marshal: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		parent := tx.Bucket(bucketName)
		b, err := parent.CreateBucketIfNotExists([]byte(sessionID))
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), payload)
	})
}

// List replays every recorded event for sessionID in emission order.
func (s *Store) List(sessionID string) ([]events.Event, error) {
	var out []events.Event
	err := s.db.View(func(tx *bolt.Tx) error {
		parent := tx.Bucket(bucketName)
		b := parent.Bucket([]byte(sessionID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var e events.Event
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			out = append(out, e)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	return out, nil
}

func seqKey(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}
