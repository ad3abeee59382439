package recording

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"spectator-recorder/internal/platform/metrics"
	"spectator-recorder/internal/spectator"
)

var (
	// ErrBootstrap wraps failures of the one-time version and metadata fetches.
	ErrBootstrap = errors.New("session bootstrap failed")

	// ErrPollRetriesExhausted is returned when a bounded RetryPolicy runs out.
	ErrPollRetriesExhausted = errors.New("chunk info poll retries exhausted")

	// ErrFinalize is returned when the completed session's snapshot cannot be written.
	ErrFinalize = errors.New("write finalization snapshot")
)

// Source is the remote side of a session. spectator.Client implements it.
type Source interface {
	Version(ctx context.Context, ep spectator.Endpoint) (string, error)
	Metadata(ctx context.Context, ep spectator.Endpoint, sessionID string) (*spectator.Metadata, error)
	LatestChunkInfo(ctx context.Context, ep spectator.Endpoint, sessionID string) (*spectator.ChunkInfo, error)
	Chunk(ctx context.Context, ep spectator.Endpoint, sessionID string, chunkID uint32) ([]byte, error)
	KeyFrame(ctx context.Context, ep spectator.Endpoint, sessionID string, keyFrameID uint32) ([]byte, error)
}

var _ Source = (*spectator.Client)(nil)

// State names the phase the controller is in; it is attached to log lines.
type State string

const (
	StateInit        State = "init"
	StatePolling     State = "polling"
	StateBackfilling State = "backfilling"
	StateDownloading State = "downloading"
	StateTerminal    State = "terminal"
)

// Controller drives one session from first contact to completion: it polls
// the latest chunk info, backfills gaps newest-first, stores the current
// chunk and keyframe, paces itself against the server, and writes the
// finalization snapshot once the final chunk is reported.
//
// A Controller runs a single session and is not safe for concurrent use.
type Controller struct {
	source      Source
	log         *slog.Logger
	metrics     *metrics.Metrics
	snapshots   SnapshotWriter
	retry       RetryPolicy
	pacePadding time.Duration
	limiter     *rate.Limiter
	resume      bool
	runID       string
	encKey      string
	onOutcome   func(Outcome)
	now         func() time.Time

	state      State
	record     *Record
	sessionLog *slog.Logger
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithLogger sets the controller's logger.
func WithLogger(log *slog.Logger) ControllerOption {
	return func(c *Controller) {
		if log != nil {
			c.log = log
		}
	}
}

// WithMetrics enables metric recording. Metrics may be nil.
func WithMetrics(m *metrics.Metrics) ControllerOption {
	return func(c *Controller) { c.metrics = m }
}

// WithSnapshotWriter sets where the finalization snapshot goes. Without one the
// snapshot is only logged.
func WithSnapshotWriter(w SnapshotWriter) ControllerOption {
	return func(c *Controller) { c.snapshots = w }
}

// WithRetryPolicy replaces the default poll retry policy.
func WithRetryPolicy(p RetryPolicy) ControllerOption {
	return func(c *Controller) { c.retry = p }
}

// WithPacePadding sets the pad added to the server's next-chunk estimate.
func WithPacePadding(d time.Duration) ControllerOption {
	return func(c *Controller) {
		if d >= 0 {
			c.pacePadding = d
		}
	}
}

// WithBackfillLimiter throttles backfill fetches. A nil limiter disables throttling.
func WithBackfillLimiter(l *rate.Limiter) ControllerOption {
	return func(c *Controller) { c.limiter = l }
}

// WithResume seeds the ledger from the sink's existing contents when the sink
// implements Inventory.
func WithResume(resume bool) ControllerOption {
	return func(c *Controller) { c.resume = resume }
}

// WithRunID tags the run's logs and snapshot.
func WithRunID(id string) ControllerOption {
	return func(c *Controller) { c.runID = id }
}

// WithEncryptionKey records an opaque key alongside the snapshot.
func WithEncryptionKey(key string) ControllerOption {
	return func(c *Controller) { c.encKey = key }
}

// WithOutcomeHook is called after every fetch-and-store attempt.
func WithOutcomeHook(fn func(Outcome)) ControllerOption {
	return func(c *Controller) { c.onOutcome = fn }
}

// NewController returns a Controller that reads from source.
func NewController(source Source, opts ...ControllerOption) *Controller {
	c := &Controller{
		source:      source,
		log:         slog.New(slog.DiscardHandler),
		retry:       DefaultRetryPolicy(),
		pacePadding: DefaultPacePadding,
		now:         time.Now,
		state:       StateInit,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Record returns the ledger of the current run, or nil before bootstrap succeeds.
func (c *Controller) Record() *Record {
	return c.record
}

// State returns the phase the controller is in.
func (c *Controller) State() State {
	return c.state
}

// Run ingests the session until its final chunk is stored or ctx is done.
// Only bootstrap failures (ErrBootstrap), an exhausted bounded retry policy,
// a failed snapshot write and cancellation end the run with an error; failed
// polls are retried and failed items are skipped.
func (c *Controller) Run(ctx context.Context, ep spectator.Endpoint, sessionID string, sink Sink) error {
	if sink == nil {
		return errors.New("recording: nil sink")
	}
	log := c.log.With(
		slog.String("platform_id", ep.PlatformID),
		slog.String("session_id", sessionID),
	)
	if c.runID != "" {
		log = log.With(slog.String("run_id", c.runID))
	}
	c.state = StateInit
	c.sessionLog = log

	version, err := c.source.Version(ctx, ep)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBootstrap, err)
	}
	record := NewRecord(version, ep, sessionID, sink)
	record.RunID = c.runID
	record.EncryptionKey = c.encKey

	md, err := c.source.Metadata(ctx, ep, sessionID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBootstrap, err)
	}
	record.SetMetadata(md)
	c.record = record

	log.Info("session bootstrapped",
		slog.String("protocol_version", version),
		slog.String("storage", sink.Describe()),
		slog.Int("final_chunk_id", int(record.FinalChunkID())),
		slog.Int("final_keyframe_id", int(record.FinalKeyFrameID())))

	if c.resume {
		chunks, keyFrames, err := record.Seed(ctx)
		if err != nil {
			log.Warn("resume from storage failed, starting with an empty ledger",
				slog.String("error", err.Error()))
		} else if chunks > 0 || keyFrames > 0 {
			log.Info("resumed ledger from storage",
				slog.Int("chunks", chunks),
				slog.Int("keyframes", keyFrames))
		}
	}

	return c.poll(ctx, record, log)
}

type cursors struct {
	chunk    uint32
	keyFrame uint32
}

// gap reports whether either reported id differs from what we expected next.
// A repeated report is a gap too, so ids that failed earlier get another pass.
func (cur cursors) gap(info *spectator.ChunkInfo) bool {
	return info.ChunkID != cur.chunk || info.KeyFrameID != cur.keyFrame
}

// advance moves both cursors to just past the reported ids.
func (cur *cursors) advance(info *spectator.ChunkInfo) {
	cur.chunk = info.ChunkID + 1
	cur.keyFrame = info.KeyFrameID + 1
}

func (c *Controller) poll(ctx context.Context, record *Record, log *slog.Logger) error {
	cur := cursors{chunk: 1, keyFrame: 1}
	failures := 0

	for {
		c.state = StatePolling
		if err := ctx.Err(); err != nil {
			return canceled(err)
		}

		info, err := c.source.LatestChunkInfo(ctx, record.Endpoint, record.SessionID)
		if c.metrics != nil {
			c.metrics.IncPolls()
		}
		if err != nil {
			if ctx.Err() != nil {
				return canceled(ctx.Err())
			}
			failures++
			if c.metrics != nil {
				c.metrics.IncPollFailures()
			}
			log.Warn("poll latest chunk info failed",
				slog.Int("attempt", failures),
				slog.Duration("retry_in", c.retry.Interval),
				slog.String("error", err.Error()))
			if c.retry.Exhausted(failures) {
				return fmt.Errorf("%w after %d attempts: %w", ErrPollRetriesExhausted, failures, err)
			}
			if err := sleepContext(ctx, c.retry.Interval); err != nil {
				return canceled(err)
			}
			continue
		}
		failures = 0
		record.ObserveChunkInfo(info)
		if c.metrics != nil {
			c.metrics.SetLastChunkID(info.ChunkID)
		}

		log.Debug("chunk info",
			slog.Int("chunk_id", int(info.ChunkID)),
			slog.Int("keyframe_id", int(info.KeyFrameID)),
			slog.Int("next_chunk_cursor", int(cur.chunk)),
			slog.Int("next_keyframe_cursor", int(cur.keyFrame)))

		if cur.gap(info) {
			if err := c.backfill(ctx, record, info, log); err != nil {
				return canceled(err)
			}
		}

		c.state = StateDownloading
		if info.ChunkID > 0 {
			c.FetchAndStore(ctx, record, KindChunk, info.ChunkID)
		}
		if info.KeyFrameID > 0 {
			c.FetchAndStore(ctx, record, KindKeyFrame, info.KeyFrameID)
		}
		cur.advance(info)

		if final := record.FinalChunkID(); final > 0 && info.ChunkID >= final {
			return c.finalize(ctx, record, log)
		}

		wait := info.NextAvailableIn() + c.pacePadding
		log.Debug("waiting for next chunk", slog.Duration("wait", wait))
		if err := sleepContext(ctx, wait); err != nil {
			return canceled(err)
		}
	}
}

// backfill walks every id below the reported ones, newest first, storing the
// ones the ledger lacks. A gap with nothing missing is not counted as a pass.
// Item failures are left for a later pass; only cancellation stops the walk.
func (c *Controller) backfill(ctx context.Context, record *Record, info *spectator.ChunkInfo, log *slog.Logger) error {
	chunks := record.MissingBelow(KindChunk, info.ChunkID)
	keyFrames := record.MissingBelow(KindKeyFrame, info.KeyFrameID)
	if len(chunks) == 0 && len(keyFrames) == 0 {
		return nil
	}

	c.state = StateBackfilling
	if c.metrics != nil {
		c.metrics.IncBackfillPasses()
	}
	log.Debug("gap detected, backfilling",
		slog.Int("chunk_id", int(info.ChunkID)),
		slog.Int("keyframe_id", int(info.KeyFrameID)),
		slog.Int("missing_chunks", len(chunks)),
		slog.Int("missing_keyframes", len(keyFrames)))

	var missed int
	walk := func(kind Kind, ids []uint32) error {
		for _, id := range ids {
			if c.limiter != nil {
				if err := c.limiter.Wait(ctx); err != nil {
					return err
				}
			}
			if o := c.FetchAndStore(ctx, record, kind, id); o.Status == Skipped {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				missed++
			}
		}
		return nil
	}
	if err := walk(KindChunk, chunks); err != nil {
		return err
	}
	if err := walk(KindKeyFrame, keyFrames); err != nil {
		return err
	}
	if missed > 0 {
		log.Info("backfill pass left ids missing", slog.Int("missing", missed))
	}
	return nil
}

// FetchAndStore fetches one chunk or keyframe and hands it to the record's
// sink. Ids the ledger already holds cost no network or storage calls. The id
// is marked stored only after the sink confirms the write.
func (c *Controller) FetchAndStore(ctx context.Context, record *Record, kind Kind, id uint32) Outcome {
	o := c.fetchAndStore(ctx, record, kind, id)
	log := c.sessionLog
	if log == nil {
		log = c.log.With(slog.String("session_id", record.SessionID))
	}
	switch o.Status {
	case Stored:
		if c.metrics != nil {
			c.metrics.IncItemsStored(string(kind))
		}
		log.Debug("stored", slog.String("kind", string(kind)), slog.Int("id", int(id)))
	case Skipped:
		if c.metrics != nil {
			c.metrics.IncItemsSkipped(string(kind))
		}
		log.Warn("skipped",
			slog.String("kind", string(kind)),
			slog.Int("id", int(id)),
			slog.String("error", o.Err.Error()))
	}
	if c.onOutcome != nil {
		c.onOutcome(o)
	}
	return o
}

func (c *Controller) fetchAndStore(ctx context.Context, record *Record, kind Kind, id uint32) Outcome {
	if !record.InRange(kind, id) {
		return skipped(kind, id, ErrOutOfRange)
	}
	if record.Has(kind, id) {
		return alreadyStored(kind, id)
	}

	var (
		data []byte
		err  error
	)
	switch kind {
	case KindKeyFrame:
		data, err = c.source.KeyFrame(ctx, record.Endpoint, record.SessionID, id)
	default:
		data, err = c.source.Chunk(ctx, record.Endpoint, record.SessionID, id)
	}
	if err != nil {
		return skipped(kind, id, err)
	}

	switch kind {
	case KindKeyFrame:
		err = record.sink.StoreKeyFrame(ctx, id, data)
	default:
		err = record.sink.StoreChunk(ctx, id, data)
	}
	if err != nil {
		return skipped(kind, id, fmt.Errorf("store: %w", err))
	}

	record.MarkStored(kind, id)
	return stored(kind, id)
}

func (c *Controller) finalize(ctx context.Context, record *Record, log *slog.Logger) error {
	c.state = StateTerminal
	snap := record.Snapshot(c.now())
	log.Info("final chunk reached",
		slog.Int("final_chunk_id", int(record.FinalChunkID())),
		slog.Int("chunks_stored", len(snap.Chunks)),
		slog.Int("keyframes_stored", len(snap.KeyFrames)))

	if c.snapshots != nil {
		if err := c.snapshots.WriteSnapshot(ctx, snap); err != nil {
			return fmt.Errorf("%w: %w", ErrFinalize, err)
		}
	}
	if c.metrics != nil {
		c.metrics.IncSessionsCompleted()
	}
	return nil
}

func canceled(err error) error {
	return fmt.Errorf("ingestion canceled: %w", err)
}
