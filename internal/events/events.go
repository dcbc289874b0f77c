// Package events is the engine's subscription bus, adapted from the
// teacher's daemon/service/events.go EventPublisher: a broadcast publisher
// with non-blocking per-subscriber delivery so one slow consumer can't stall
// the upload.
package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind classifies an emitted engine event. Names match SPEC_FULL.md §6's
// subscribable event vocabulary.
type Kind int

const (
	KindChunkHashed Kind = iota + 1
	KindAllChunksHashed
	KindFileHashed
	KindQueueDrained
	KindQueueAborted
	KindUploadProgress
	KindCompleted
	KindFailed
)

func (k Kind) String() string {
	switch k {
	case KindChunkHashed:
		return "ChunkHashed"
	case KindAllChunksHashed:
		return "AllChunksHashed"
	case KindFileHashed:
		return "FileHashed"
	case KindQueueDrained:
		return "QueueDrained"
	case KindQueueAborted:
		return "QueueAborted"
	case KindUploadProgress:
		return "UploadProgress"
	case KindCompleted:
		return "Completed"
	case KindFailed:
		return "Failed"
	default:
		return "UNKNOWN"
	}
}

// Event is one occurrence on the bus. Payload carries kind-specific data;
// see the Payload* types below.
type Event struct {
	Kind      Kind
	SessionID string
	Timestamp time.Time
	Payload   any
}

// PayloadChunkHashed is KindChunkHashed's payload.
type PayloadChunkHashed struct {
	Index uint32
	Hash  string
	Size  uint64
}

// PayloadFileHashed is KindFileHashed's payload.
type PayloadFileHashed struct {
	FileHash string
}

// PayloadUploadProgress is KindUploadProgress's payload — not specified by
// §6 beyond the event name; this shape fills that gap (SPEC_FULL.md §12).
type PayloadUploadProgress struct {
	BytesHashed     uint64
	BytesUploaded   uint64
	ChunksCompleted int
	TotalChunks     int
}

// PayloadCompleted is KindCompleted's payload.
type PayloadCompleted struct {
	URL        string
	FileHash   string
	Size       uint64
	ChunkCount int
	Duration   time.Duration
}

// PayloadFailed is KindFailed's payload.
type PayloadFailed struct {
	Code      string
	Message   string
	Retryable bool
}

// PayloadQueueAborted is KindQueueAborted's payload. Message carries the
// triggering error's text rather than the error itself, so the payload
// survives a JSON round trip through internal/history.
type PayloadQueueAborted struct {
	Message string
}

// eventWire is Event's JSON shape: Payload is held as raw bytes so
// UnmarshalJSON can pick the concrete Payload* type from Kind before
// decoding it, instead of landing in a generic map[string]interface{}.
type eventWire struct {
	Kind      Kind
	SessionID string
	Timestamp time.Time
	Payload   json.RawMessage
}

// MarshalJSON encodes Payload as plain data; the type information that lets
// UnmarshalJSON reconstruct it comes entirely from Kind.
func (e Event) MarshalJSON() ([]byte, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(eventWire{
		Kind:      e.Kind,
		SessionID: e.SessionID,
		Timestamp: e.Timestamp,
		Payload:   payload,
	})
}

// UnmarshalJSON decodes Payload into the concrete Payload* type that Kind
// names, so a replayed event supports the same type assertions a live
// event from the bus does.
func (e *Event) UnmarshalJSON(data []byte) error {
	var wire eventWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	e.Kind = wire.Kind
	e.SessionID = wire.SessionID
	e.Timestamp = wire.Timestamp

	if len(wire.Payload) == 0 || string(wire.Payload) == "null" {
		e.Payload = nil
		return nil
	}
	payload, err := unmarshalPayload(wire.Kind, wire.Payload)
	if err != nil {
		return err
	}
	e.Payload = payload
	return nil
}

// unmarshalPayload decodes raw into the Payload* type Kind names. Kinds
// with no payload (AllChunksHashed, QueueDrained) decode to a nil payload,
// matching how the coordinator publishes them; an unknown Kind is an error.
func unmarshalPayload(k Kind, raw json.RawMessage) (any, error) {
	switch k {
	case KindChunkHashed:
		var p PayloadChunkHashed
		err := json.Unmarshal(raw, &p)
		return p, err
	case KindFileHashed:
		var p PayloadFileHashed
		err := json.Unmarshal(raw, &p)
		return p, err
	case KindUploadProgress:
		var p PayloadUploadProgress
		err := json.Unmarshal(raw, &p)
		return p, err
	case KindCompleted:
		var p PayloadCompleted
		err := json.Unmarshal(raw, &p)
		return p, err
	case KindFailed:
		var p PayloadFailed
		err := json.Unmarshal(raw, &p)
		return p, err
	case KindQueueAborted:
		var p PayloadQueueAborted
		err := json.Unmarshal(raw, &p)
		return p, err
	case KindAllChunksHashed, KindQueueDrained:
		return nil, nil
	default:
		return nil, fmt.Errorf("events: unmarshal: unknown kind %d", k)
	}
}

// Subscription is an active listener on the bus.
type Subscription struct {
	id      string
	Channel chan Event
}

// Bus broadcasts events to every live subscription.
type Bus struct {
	mu            sync.RWMutex
	subscriptions map[string]*Subscription
	bufferSize    int
}

// NewBus constructs a bus whose per-subscriber channels buffer bufferSize
// events before slow-consumer protection kicks in.
func NewBus(bufferSize int) *Bus {
	if bufferSize < 1 {
		bufferSize = 32
	}
	return &Bus{subscriptions: make(map[string]*Subscription), bufferSize: bufferSize}
}

// Subscribe registers a new listener.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &Subscription{id: uuid.NewString(), Channel: make(chan Event, b.bufferSize)}
	b.subscriptions[sub.id] = sub
	return sub
}

// Unsubscribe removes and closes a subscription.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscriptions[sub.id]; ok {
		close(sub.Channel)
		delete(b.subscriptions, sub.id)
	}
}

// Publish broadcasts an event to every subscriber. Delivery is non-blocking:
// a full subscriber channel drops the event rather than stalling the engine.
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subscriptions {
		select {
		case sub.Channel <- e:
		default:
		}
	}
}
