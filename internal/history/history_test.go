package history

import (
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/quantarax/uploader/internal/events"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history.db")
	store, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// TestStore_AppendListRoundTripsEachEventKind guards against the generic
// map[string]interface{} trap: every Payload* type must come back out of
// List as itself, not as an untyped map, so a caller's type switch on the
// replayed event behaves exactly like one on a live bus event.
func TestStore_AppendListRoundTripsEachEventKind(t *testing.T) {
	store := openTestStore(t)
	const sessionID = "sess-1"
	if err := store.Reset(sessionID); err != nil {
		t.Fatal(err)
	}

	now := time.Now().Truncate(time.Millisecond).UTC()
	want := []events.Event{
		{Kind: events.KindChunkHashed, SessionID: sessionID, Timestamp: now, Payload: events.PayloadChunkHashed{Index: 2, Hash: "abc", Size: 1024}},
		{Kind: events.KindAllChunksHashed, SessionID: sessionID, Timestamp: now},
		{Kind: events.KindFileHashed, SessionID: sessionID, Timestamp: now, Payload: events.PayloadFileHashed{FileHash: "filehash"}},
		{Kind: events.KindQueueDrained, SessionID: sessionID, Timestamp: now},
		{Kind: events.KindQueueAborted, SessionID: sessionID, Timestamp: now, Payload: events.PayloadQueueAborted{Message: "network error"}},
		{Kind: events.KindUploadProgress, SessionID: sessionID, Timestamp: now, Payload: events.PayloadUploadProgress{BytesHashed: 10, BytesUploaded: 5, ChunksCompleted: 1, TotalChunks: 4}},
		{Kind: events.KindCompleted, SessionID: sessionID, Timestamp: now, Payload: events.PayloadCompleted{URL: "https://example.test/f", FileHash: "filehash", Size: 2048, ChunkCount: 4, Duration: 3 * time.Second}},
		{Kind: events.KindFailed, SessionID: sessionID, Timestamp: now, Payload: events.PayloadFailed{Code: "NetworkError", Message: "boom", Retryable: true}},
	}

	for _, e := range want {
		if err := store.Append(sessionID, e); err != nil {
			t.Fatal(err)
		}
	}

	got, err := store.List(sessionID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(got))
	}
	for i, e := range got {
		if !reflect.DeepEqual(e, want[i]) {
			t.Fatalf("event %d: round trip mismatch\n got:  %#v\n want: %#v", i, e, want[i])
		}
	}

	// A type assertion against the replayed payload must succeed exactly
	// like it would against a live bus event.
	chunkHashed := got[0].Payload.(events.PayloadChunkHashed)
	if chunkHashed.Hash != "abc" {
		t.Fatalf("expected replayed PayloadChunkHashed.Hash %q, got %q", "abc", chunkHashed.Hash)
	}
	completed := got[6].Payload.(events.PayloadCompleted)
	if completed.ChunkCount != 4 {
		t.Fatalf("expected replayed PayloadCompleted.ChunkCount 4, got %d", completed.ChunkCount)
	}
}

func TestStore_ResetTruncatesPriorEvents(t *testing.T) {
	store := openTestStore(t)
	const sessionID = "sess-2"

	if err := store.Reset(sessionID); err != nil {
		t.Fatal(err)
	}
	if err := store.Append(sessionID, events.Event{Kind: events.KindChunkHashed, Payload: events.PayloadChunkHashed{Index: 0}}); err != nil {
		t.Fatal(err)
	}
	got, err := store.List(sessionID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 event before reset, got %d", len(got))
	}

	if err := store.Reset(sessionID); err != nil {
		t.Fatal(err)
	}
	got, err = store.List(sessionID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("expected Reset to truncate prior events, got %d remaining", len(got))
	}
}

func TestStore_ListUnknownSessionReturnsEmpty(t *testing.T) {
	store := openTestStore(t)
	got, err := store.List("does-not-exist")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no events for an unknown session, got %d", len(got))
	}
}
