package recording

import (
	"context"
	"fmt"
	"time"

	"spectator-recorder/internal/spectator"
)

// Record is the in-memory ledger of one session's ingestion progress. It is
// owned and mutated by a single Controller and is not safe for concurrent use.
type Record struct {
	RunID           string
	ProtocolVersion string
	Endpoint        spectator.Endpoint
	SessionID       string
	EncryptionKey   string
	Metadata        *spectator.Metadata

	chunks    *IDSet
	keyFrames *IDSet
	sink      Sink

	finalChunkID    uint32
	finalKeyFrameID uint32
}

// NewRecord returns an empty ledger for a session. The record takes ownership
// of sink.
func NewRecord(version string, ep spectator.Endpoint, sessionID string, sink Sink) *Record {
	return &Record{
		ProtocolVersion: version,
		Endpoint:        ep,
		SessionID:       sessionID,
		chunks:          NewIDSet(),
		keyFrames:       NewIDSet(),
		sink:            sink,
	}
}

// SetMetadata stores the session metadata and adopts any final ids it declares.
func (r *Record) SetMetadata(md *spectator.Metadata) {
	r.Metadata = md
	r.raiseBounds(md.FinalChunkID(), md.FinalKeyFrameID())
}

// ObserveChunkInfo adopts final ids announced by a chunk info report.
func (r *Record) ObserveChunkInfo(info *spectator.ChunkInfo) {
	r.raiseBounds(info.EndGameChunkID, info.EndGameKeyFrameID)
}

// raiseBounds adopts announced final ids. Bounds only grow, so ids already
// stored stay inside [1, final].
func (r *Record) raiseBounds(chunk, keyFrame uint32) {
	if chunk > r.finalChunkID {
		r.finalChunkID = chunk
	}
	if keyFrame > r.finalKeyFrameID {
		r.finalKeyFrameID = keyFrame
	}
}

// FinalChunkID returns the session's last chunk id, or 0 while unknown.
func (r *Record) FinalChunkID() uint32 {
	return r.finalChunkID
}

// FinalKeyFrameID returns the session's last keyframe id, or 0 while unknown.
func (r *Record) FinalKeyFrameID() uint32 {
	return r.finalKeyFrameID
}

// InRange reports whether id lies within [1, final] for its kind. An unknown
// final id leaves the range open above.
func (r *Record) InRange(kind Kind, id uint32) bool {
	if id == 0 {
		return false
	}
	bound := r.finalChunkID
	if kind == KindKeyFrame {
		bound = r.finalKeyFrameID
	}
	return bound == 0 || id <= bound
}

// Has reports whether id of the given kind is already durably stored.
func (r *Record) Has(kind Kind, id uint32) bool {
	return r.set(kind).Contains(id)
}

// MarkStored records a successful sink write. Callers must only call it after
// the sink confirmed the write.
func (r *Record) MarkStored(kind Kind, id uint32) {
	r.set(kind).Insert(id)
}

// MissingBelow returns the in-range ids below reported that the ledger lacks,
// newest first.
func (r *Record) MissingBelow(kind Kind, reported uint32) []uint32 {
	var ids []uint32
	for id := reported; id > 1; id-- {
		target := id - 1
		if r.InRange(kind, target) && !r.Has(kind, target) {
			ids = append(ids, target)
		}
	}
	return ids
}

// StoredChunkIDs returns the stored chunk ids in ascending order.
func (r *Record) StoredChunkIDs() []uint32 {
	return r.chunks.Sorted()
}

// StoredKeyFrameIDs returns the stored keyframe ids in ascending order.
func (r *Record) StoredKeyFrameIDs() []uint32 {
	return r.keyFrames.Sorted()
}

func (r *Record) set(kind Kind) *IDSet {
	if kind == KindKeyFrame {
		return r.keyFrames
	}
	return r.chunks
}

// Seed loads the ids the sink already holds into the ledger. It returns the
// number of chunk and keyframe ids adopted. Sinks that do not implement
// Inventory leave the ledger untouched.
func (r *Record) Seed(ctx context.Context) (chunks, keyFrames int, err error) {
	inv, ok := r.sink.(Inventory)
	if !ok {
		return 0, 0, nil
	}
	chunkIDs, err := inv.ChunkIDs(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("list stored chunks: %w", err)
	}
	keyFrameIDs, err := inv.KeyFrameIDs(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("list stored keyframes: %w", err)
	}
	for _, id := range chunkIDs {
		if r.InRange(KindChunk, id) && !r.chunks.Contains(id) {
			r.chunks.Insert(id)
			chunks++
		}
	}
	for _, id := range keyFrameIDs {
		if r.InRange(KindKeyFrame, id) && !r.keyFrames.Contains(id) {
			r.keyFrames.Insert(id)
			keyFrames++
		}
	}
	return chunks, keyFrames, nil
}

// Snapshot builds the finalization summary of the record.
func (r *Record) Snapshot(completedAt time.Time) *Snapshot {
	return &Snapshot{
		RunID:           r.RunID,
		ProtocolVersion: r.ProtocolVersion,
		Endpoint:        r.Endpoint,
		SessionID:       r.SessionID,
		EncryptionKey:   r.EncryptionKey,
		Metadata:        r.Metadata,
		KeyFrames:       r.keyFrames.Sorted(),
		Chunks:          r.chunks.Sorted(),
		Storage:         r.sink.Describe(),
		CompletedAt:     completedAt.UTC(),
	}
}
