// Package coordinator implements C6: the state machine that wires the
// planner, task queue, hash worker pool, reorder buffer, and upload queue
// into one upload session, drives the four-operation transport protocol,
// and republishes every component's callbacks as a single ordered event
// stream. It plays the role the teacher's daemon/manager/session.go and
// daemon/service/transfer.go play together: the former owns session
// lifecycle and identity, the latter drives one transfer end to end.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/quantarax/uploader/internal/apiclient"
	"github.com/quantarax/uploader/internal/config"
	"github.com/quantarax/uploader/internal/cryptoutil"
	"github.com/quantarax/uploader/internal/digest"
	"github.com/quantarax/uploader/internal/events"
	"github.com/quantarax/uploader/internal/fec"
	"github.com/quantarax/uploader/internal/hashpool"
	"github.com/quantarax/uploader/internal/observability"
	"github.com/quantarax/uploader/internal/planner"
	"github.com/quantarax/uploader/internal/resultbuffer"
	"github.com/quantarax/uploader/internal/taskqueue"
	"github.com/quantarax/uploader/internal/uploadqueue"
	"github.com/quantarax/uploader/internal/validation"
)

// State is a session's coarse lifecycle stage (spec §5).
type State int

const (
	StatePreparing State = iota
	StateUploading
	StateMerging
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePreparing:
		return "Preparing"
	case StateUploading:
		return "Uploading"
	case StateMerging:
		return "Merging"
	case StateCompleted:
		return "Completed"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// ErrUnknownSession is returned by session-scoped operations given an ID
// the coordinator has no record of.
var ErrUnknownSession = errors.New("coordinator: unknown session id")

// Blob is the lazy byte-range source an upload reads from; taskqueue.SliceRef
// is its minimal shape.
type Blob = taskqueue.SliceRef

// HistoryStore is the narrow interface the coordinator needs from
// internal/history, kept here to avoid every caller importing boltdb just to
// construct a Coordinator.
type HistoryStore interface {
	Reset(sessionID string) error
	Append(sessionID string, e events.Event) error
	List(sessionID string) ([]events.Event, error)
}

// Coordinator manages zero or more concurrent upload sessions against one
// apiclient.Client.
type Coordinator struct {
	client  apiclient.Client
	bus     *events.Bus
	logger  *observability.Logger
	metrics *observability.Metrics
	history HistoryStore

	mu       sync.Mutex
	sessions map[string]*session
}

// New constructs a Coordinator. logger, metrics, and history may be nil;
// sensible no-op defaults are substituted.
func New(client apiclient.Client, logger *observability.Logger, metrics *observability.Metrics, history HistoryStore) *Coordinator {
	if logger == nil {
		logger = observability.Noop()
	}
	if metrics == nil {
		metrics = observability.NoopMetrics()
	}
	return &Coordinator{
		client:   client,
		bus:      events.NewBus(32),
		logger:   logger,
		metrics:  metrics,
		history:  history,
		sessions: make(map[string]*session),
	}
}

// Subscribe registers a listener for every session's events. Filter on
// Event.SessionID to follow one upload.
func (c *Coordinator) Subscribe() *events.Subscription { return c.bus.Subscribe() }

// Unsubscribe removes a listener registered with Subscribe.
func (c *Coordinator) Unsubscribe(sub *events.Subscription) { c.bus.Unsubscribe(sub) }

// session holds everything one upload needs, guarded by its own mutex so
// many sessions can run concurrently under one Coordinator.
type session struct {
	mu sync.Mutex

	id       string
	fileName string
	fileType string
	fileSize uint64
	cfg      config.Options
	blob     Blob

	token       string
	alg         digest.Algorithm
	fec         *fec.Codec
	state       State
	fileHash    string
	finalURL    string
	dedup       bool
	chunks      []apiclient.ChunkRef
	startedAt   time.Time
	totalChunks int
	bytesHashed uint64

	queueDrained  bool
	fileHashKnown bool

	tq *taskqueue.Queue
	rb *resultbuffer.Buffer
	hp *hashpool.Pool
	uq *uploadqueue.Queue

	client  apiclient.Client
	bus     *events.Bus
	logger  *observability.Logger
	metrics *observability.Metrics
	history HistoryStore

	cancel context.CancelFunc

	ctx        context.Context
	span       trace.Span
	hashSpan   trace.Span
	uploadSpan trace.Span
}

// Start begins a new upload session: it validates arguments, plans chunks,
// opens a server session, and drives hashing and uploading to completion
// asynchronously. It returns the new session ID immediately; progress is
// observed via Subscribe or History.
func (c *Coordinator) Start(ctx context.Context, fileName, fileType string, fileSize uint64, blob Blob, opts config.Options) (string, error) {
	if err := validation.FileName(fileName); err != nil {
		return "", err
	}
	if err := validation.ChunkSize(opts.ChunkSize); err != nil {
		return "", err
	}
	if err := validation.Concurrency(opts.UploadConcurrency); err != nil {
		return "", err
	}
	if opts.HashWorkerCount != 0 {
		if err := validation.WorkerCount(opts.HashWorkerCount); err != nil {
			return "", err
		}
	}
	alg, err := digest.ByName(opts.HashAlgorithm)
	if err != nil {
		return "", err
	}

	plan, err := planner.Plan(fileSize, opts.ChunkSize)
	if err != nil {
		return "", err
	}

	var codec *fec.Codec
	if opts.FEC != nil {
		codec, err = fec.New(opts.FEC.DataShards, opts.FEC.ParityShards)
		if err != nil {
			return "", err
		}
	}

	id := uuid.NewString()
	ctx, span := observability.Tracer().Start(ctx, "upload.session", trace.WithAttributes(
		attribute.String("upload.file_name", fileName),
		attribute.Int64("upload.file_size", int64(fileSize)),
	))

	s := &session{
		id:          id,
		fileName:    fileName,
		fileType:    fileType,
		fileSize:    fileSize,
		cfg:         opts,
		blob:        blob,
		alg:         alg,
		fec:         codec,
		state:       StatePreparing,
		client:      c.client,
		bus:         c.bus,
		logger:      c.logger.WithSession(id),
		metrics:     c.metrics,
		history:     c.history,
		startedAt:   time.Now(),
		totalChunks: len(plan),
		ctx:         ctx,
		span:        span,
	}

	c.mu.Lock()
	c.sessions[id] = s
	c.mu.Unlock()

	if s.history != nil {
		if err := s.history.Reset(id); err != nil {
			s.logger.Warn().Err(err).Msg("failed to reset session history")
		}
	}

	c.metrics.UploadsStarted.Inc()
	c.metrics.ActiveUploads.Inc()

	token, err := c.client.CreateSession(ctx, fileName, fileType, fileSize, len(plan))
	if err != nil {
		s.failWith(fmt.Errorf("coordinator: create session: %w", err))
		return id, nil
	}
	s.token = token

	workerCount := opts.HashWorkerCount
	if workerCount == 0 {
		workerCount = hashpool.RecommendedWorkerCount()
	}

	s.tq = taskqueue.New(plan, blob)
	s.rb = resultbuffer.New(uint32(len(plan)), alg)
	s.uq = uploadqueue.New(c.client, token, opts.UploadConcurrency, s.logger)
	s.hp = hashpool.New(s.tq, alg, workerCount, s.logger)

	s.rb.OnChunkHashed(s.handleChunkHashed)
	s.rb.OnAllChunksHashed(s.handleAllChunksHashed)
	s.rb.OnFileHashed(s.handleFileHashed)
	s.uq.OnDrained(s.handleDrained)
	s.uq.OnAborted(s.handleAborted)
	s.uq.OnProgress(s.handleUploadProgress)

	s.mu.Lock()
	s.state = StateUploading
	s.mu.Unlock()

	poolCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	_, hashSpan := observability.Tracer().Start(s.ctx, "upload.hashing")
	s.hashSpan = hashSpan
	_, uploadSpan := observability.Tracer().Start(s.ctx, "upload.uploading")
	s.uploadSpan = uploadSpan

	if len(plan) == 0 {
		s.rb.EmitEmpty()
		return id, nil
	}

	s.hp.Start(poolCtx)
	go s.pumpResults()

	return id, nil
}

// pumpResults is the sole goroutine that calls AddResult, satisfying the
// reorder buffer's single-caller requirement.
func (s *session) pumpResults() {
	for {
		select {
		case res, ok := <-s.hp.Results():
			if !ok {
				// Workers exit (closing Results) right after a failure is
				// queued on Errs, so check it before giving up.
				select {
				case err := <-s.hp.Errs():
					if err != nil {
						s.failWith(fmt.Errorf("coordinator: hashing failed: %w", err))
					}
				default:
				}
				return
			}
			s.rb.AddResult(res.Index, res.Hash, res.Range)
		case err, ok := <-s.hp.Errs():
			if ok && err != nil {
				s.failWith(fmt.Errorf("coordinator: hashing failed: %w", err))
			}
			return
		}
	}
}

func (s *session) handleChunkHashed(ch resultbuffer.ChunkHashed) {
	s.mu.Lock()
	s.chunks = append(s.chunks, apiclient.ChunkRef{Index: ch.Index, Hash: ch.Hash})
	s.bytesHashed += ch.Range.Size()
	bytesHashed := s.bytesHashed
	s.mu.Unlock()

	s.publish(events.Event{
		Kind: events.KindChunkHashed,
		Payload: events.PayloadChunkHashed{
			Index: ch.Index,
			Hash:  ch.Hash,
			Size:  ch.Range.Size(),
		},
	})

	var completed, total int
	if s.uq != nil {
		stats := s.uq.Stats()
		completed, total = stats.Completed, stats.TotalChunks
	}
	s.publish(events.Event{Kind: events.KindUploadProgress, Payload: events.PayloadUploadProgress{
		BytesHashed:     bytesHashed,
		ChunksCompleted: completed,
		TotalChunks:     total,
	}})

	data, err := s.blob.Read(ch.Range.Start, ch.Range.End)
	if err != nil {
		s.failWith(fmt.Errorf("coordinator: re-reading chunk %d: %w", ch.Index, err))
		return
	}

	if s.fec != nil {
		data, err = s.fec.Encode(data)
		if err != nil {
			s.failWith(fmt.Errorf("coordinator: fec encode chunk %d: %w", ch.Index, err))
			return
		}
	}
	if s.cfg.EncryptionKey != nil {
		data, err = cryptoutil.Seal(s.cfg.EncryptionKey, ch.Index, data)
		if err != nil {
			s.failWith(fmt.Errorf("coordinator: sealing chunk %d: %w", ch.Index, err))
			return
		}
	}

	if err := s.uq.AddChunkTask(ch.Index, ch.Hash, data); err != nil {
		if !errors.Is(err, uploadqueue.ErrTerminal) {
			s.failWith(err)
		}
	}
}

func (s *session) handleAllChunksHashed() {
	if s.hashSpan != nil {
		s.hashSpan.SetStatus(codes.Ok, "")
		s.hashSpan.End()
	}
	s.publish(events.Event{Kind: events.KindAllChunksHashed})
	s.uq.MarkAllChunksHashed()
}

// handleUploadProgress republishes the upload queue's per-completion
// progress as UploadProgress, merging in the session's running hashed-bytes
// counter so subscribers see one consistent progress shape regardless of
// whether hashing or uploading is further along.
func (s *session) handleUploadProgress(stats uploadqueue.Stats, bytesUploaded uint64) {
	s.mu.Lock()
	bytesHashed := s.bytesHashed
	s.mu.Unlock()

	s.publish(events.Event{Kind: events.KindUploadProgress, Payload: events.PayloadUploadProgress{
		BytesHashed:     bytesHashed,
		BytesUploaded:   bytesUploaded,
		ChunksCompleted: stats.Completed,
		TotalChunks:     stats.TotalChunks,
	}})
}

func (s *session) handleFileHashed(fileHash string) {
	s.mu.Lock()
	s.fileHash = fileHash
	s.mu.Unlock()

	s.publish(events.Event{Kind: events.KindFileHashed, Payload: events.PayloadFileHashed{FileHash: fileHash}})

	exists, url, err := s.client.CheckFile(context.Background(), s.token, fileHash)
	if err != nil {
		s.failWith(fmt.Errorf("coordinator: check file: %w", err))
		return
	}

	s.mu.Lock()
	s.fileHashKnown = true
	if exists {
		s.dedup = true
		s.finalURL = url
	}
	s.mu.Unlock()

	if exists {
		// Forces every still-pending/in-flight chunk upload to a terminal
		// Completed state and fires QueueDrained, even if some chunks
		// hadn't finished their own dedup probe or upload yet. If the queue
		// had already drained on its own (e.g. the zero-chunk case) this is
		// a no-op and queueDrained is already set, so maybeFinish below is
		// what actually advances the session.
		s.uq.MarkAsCompleted()
	}
	s.maybeFinish()
}

// handleDrained fires once every chunk upload has reached a terminal state.
// It only marks the queue side of the rendezvous: merge/complete does not
// run until the file hash (and any file-level dedup decision) is also known,
// since the two signals arrive from independent goroutines and may race.
func (s *session) handleDrained() {
	if s.uploadSpan != nil {
		s.uploadSpan.SetStatus(codes.Ok, "")
		s.uploadSpan.End()
	}
	s.mu.Lock()
	s.queueDrained = true
	s.mu.Unlock()
	s.publish(events.Event{Kind: events.KindQueueDrained})
	s.maybeFinish()
}

// maybeFinish proceeds to merge (or dedup-short-circuited completion) only
// once both halves of the rendezvous — queue drained, file hash known — have
// landed, in whichever order they occurred.
func (s *session) maybeFinish() {
	s.mu.Lock()
	if s.state != StateUploading {
		s.mu.Unlock()
		return
	}
	if !s.queueDrained || !s.fileHashKnown {
		s.mu.Unlock()
		return
	}
	s.state = StateMerging
	dedup := s.dedup
	url := s.finalURL
	fileHash := s.fileHash
	fileName := s.fileName
	chunks := append([]apiclient.ChunkRef(nil), s.chunks...)
	s.mu.Unlock()

	if dedup {
		s.complete(url, fileHash)
		return
	}

	mergeCtx, mergeSpan := observability.Tracer().Start(s.ctx, "upload.merging")
	mergedURL, err := s.client.MergeFile(mergeCtx, s.token, fileHash, fileName, chunks)
	if err != nil {
		mergeSpan.RecordError(err)
		mergeSpan.SetStatus(codes.Error, err.Error())
		mergeSpan.End()
		s.failWith(fmt.Errorf("coordinator: merge: %w", err))
		return
	}
	mergeSpan.SetStatus(codes.Ok, "")
	mergeSpan.End()
	s.complete(mergedURL, fileHash)
}

func (s *session) handleAborted(err error) {
	s.failWith(fmt.Errorf("coordinator: upload queue aborted: %w", err))
}

func (s *session) complete(url, fileHash string) {
	s.mu.Lock()
	if s.state == StateCompleted || s.state == StateFailed {
		s.mu.Unlock()
		return
	}
	s.state = StateCompleted
	size := s.fileSize
	n := len(s.chunks)
	started := s.startedAt
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	s.metrics.ActiveUploads.Dec()
	s.metrics.UploadsComplete.Inc()
	duration := time.Since(started)
	s.metrics.UploadDuration.Observe(duration.Seconds())

	s.publish(events.Event{Kind: events.KindCompleted, Payload: events.PayloadCompleted{
		URL:        url,
		FileHash:   fileHash,
		Size:       size,
		ChunkCount: n,
		Duration:   duration,
	}})

	if s.span != nil {
		s.span.SetStatus(codes.Ok, "")
		s.span.End()
	}
}

// failWith transitions the session to Failed exactly once and publishes
// Failed. Later calls (from other components unwinding concurrently, or
// re-entrantly through the upload queue's abort callback) and calls on an
// already-terminal session are no-ops.
func (s *session) failWith(err error) {
	s.mu.Lock()
	if s.state == StateCompleted || s.state == StateFailed {
		s.mu.Unlock()
		return
	}
	s.state = StateFailed
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	if s.uq != nil {
		s.uq.Abort(err)
	}
	if s.hp != nil {
		s.hp.Terminate()
	}

	s.logger.Error().Err(err).Msg("upload failed")
	s.metrics.ActiveUploads.Dec()
	s.metrics.UploadsFailed.Inc()

	code, retryable := classifyFailure(err)

	s.publish(events.Event{Kind: events.KindQueueAborted, Payload: events.PayloadQueueAborted{Message: err.Error()}})
	s.publish(events.Event{Kind: events.KindFailed, Payload: events.PayloadFailed{
		Code:      code,
		Message:   err.Error(),
		Retryable: retryable,
	}})

	if s.hashSpan != nil {
		s.hashSpan.RecordError(err)
		s.hashSpan.SetStatus(codes.Error, err.Error())
		s.hashSpan.End()
	}
	if s.uploadSpan != nil {
		s.uploadSpan.RecordError(err)
		s.uploadSpan.SetStatus(codes.Error, err.Error())
		s.uploadSpan.End()
	}
	if s.span != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
		s.span.End()
	}
}

// classifyFailure maps a session error onto the §7 error taxonomy's
// code/retryable pair. NetworkError and ProtocolError are recognized by
// type since every apiclient transport wraps its failures that way; any
// other error reaching failWith originates from the hash worker pool or a
// chunk re-read/transform, which the taxonomy groups under WorkerError.
// InvalidArgument never reaches here — validation rejects it synchronously
// from Start before a session exists.
func classifyFailure(err error) (code string, retryable bool) {
	var netErr *apiclient.NetworkError
	if errors.As(err, &netErr) {
		return "NetworkError", true
	}
	var protoErr *apiclient.ProtocolError
	if errors.As(err, &protoErr) {
		return "ProtocolError", false
	}
	return "WorkerError", true
}

func (s *session) publish(e events.Event) {
	e.SessionID = s.id
	s.bus.Publish(e)
	if s.history != nil {
		if err := s.history.Append(s.id, e); err != nil {
			s.logger.Warn().Err(err).Msg("failed to append session history")
		}
	}
}

// Abort cancels a running session from outside, e.g. on user request or
// process shutdown. It is a no-op on an already-terminal session.
func (c *Coordinator) Abort(sessionID string) error {
	s, err := c.lookup(sessionID)
	if err != nil {
		return err
	}
	s.failWith(errors.New("coordinator: aborted by caller"))
	return nil
}

// State returns a session's current lifecycle stage.
func (c *Coordinator) State(sessionID string) (State, error) {
	s, err := c.lookup(sessionID)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, nil
}

// Stats returns the upload queue's live progress counters.
func (c *Coordinator) Stats(sessionID string) (uploadqueue.Stats, error) {
	s, err := c.lookup(sessionID)
	if err != nil {
		return uploadqueue.Stats{}, err
	}
	s.mu.Lock()
	uq := s.uq
	s.mu.Unlock()
	if uq == nil {
		return uploadqueue.Stats{}, nil
	}
	return uq.Stats(), nil
}

// History replays the recorded event log for sessionID, oldest first. It
// returns an empty slice (not an error) when the coordinator was built
// without a HistoryStore.
func (c *Coordinator) History(sessionID string) ([]events.Event, error) {
	if _, err := c.lookup(sessionID); err != nil {
		return nil, err
	}
	if c.history == nil {
		return nil, nil
	}
	return c.history.List(sessionID)
}

func (c *Coordinator) lookup(sessionID string) (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[sessionID]
	if !ok {
		return nil, ErrUnknownSession
	}
	return s, nil
}
