package recording

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spectator-recorder/internal/spectator"
)

func TestIDSet(t *testing.T) {
	s := NewIDSet(5, 1, 3, 1)

	assert.Equal(t, 3, s.Len())
	assert.True(t, s.Contains(3))
	assert.False(t, s.Contains(2))

	s.Insert(2)
	s.Insert(2)
	assert.Equal(t, []uint32{1, 2, 3, 5}, s.Sorted())
	assert.NotNil(t, NewIDSet().Sorted())
}

func TestRecord_ledgerOnlyGrows(t *testing.T) {
	r := NewRecord("2.0.0", testEndpoint, "s-1", newMemSink())

	var seen []uint32
	for _, id := range []uint32{4, 2, 4, 9, 1} {
		r.MarkStored(KindChunk, id)
		got := r.StoredChunkIDs()
		for _, prev := range seen {
			assert.Contains(t, got, prev)
		}
		seen = got
	}
	assert.Equal(t, []uint32{1, 2, 4, 9}, r.StoredChunkIDs())
	assert.Empty(t, r.StoredKeyFrameIDs())
}

func TestRecord_bounds(t *testing.T) {
	r := NewRecord("2.0.0", testEndpoint, "s-1", newMemSink())

	assert.True(t, r.InRange(KindChunk, 1000), "unknown final leaves the range open")
	assert.False(t, r.InRange(KindChunk, 0))

	r.SetMetadata(metadataWithFinal(-1, -1))
	assert.Zero(t, r.FinalChunkID())

	r.ObserveChunkInfo(&spectator.ChunkInfo{ChunkID: 5, EndGameChunkID: 12})
	assert.Equal(t, uint32(12), r.FinalChunkID())
	assert.True(t, r.InRange(KindChunk, 12))
	assert.False(t, r.InRange(KindChunk, 13))
	assert.True(t, r.InRange(KindKeyFrame, 13))

	// A later report without an end id does not clear a known bound.
	r.ObserveChunkInfo(&spectator.ChunkInfo{ChunkID: 6})
	assert.Equal(t, uint32(12), r.FinalChunkID())
}

func TestRecord_boundsNeverShrink(t *testing.T) {
	r := NewRecord("2.0.0", testEndpoint, "s-1", newMemSink())
	r.SetMetadata(metadataWithFinal(10, 4))
	r.MarkStored(KindChunk, 10)
	r.MarkStored(KindKeyFrame, 4)

	r.ObserveChunkInfo(&spectator.ChunkInfo{ChunkID: 7, EndGameChunkID: 7, EndGameKeyFrameID: 2})

	assert.Equal(t, uint32(10), r.FinalChunkID())
	assert.Equal(t, uint32(4), r.FinalKeyFrameID())
	for _, id := range r.StoredChunkIDs() {
		assert.True(t, r.InRange(KindChunk, id), "stored chunk %d left the range", id)
	}
	for _, id := range r.StoredKeyFrameIDs() {
		assert.True(t, r.InRange(KindKeyFrame, id), "stored keyframe %d left the range", id)
	}
}

func TestRecord_missingBelow(t *testing.T) {
	r := NewRecord("2.0.0", testEndpoint, "s-1", newMemSink())
	r.SetMetadata(metadataWithFinal(4, -1))
	r.MarkStored(KindChunk, 1)
	r.MarkStored(KindChunk, 3)

	assert.Equal(t, []uint32{4, 2}, r.MissingBelow(KindChunk, 6))
	assert.Equal(t, []uint32{2}, r.MissingBelow(KindChunk, 3))
	assert.Empty(t, r.MissingBelow(KindChunk, 1))
	assert.Equal(t, []uint32{2, 1}, r.MissingBelow(KindKeyFrame, 3))
}

func TestRecord_seedWithoutInventory(t *testing.T) {
	r := NewRecord("2.0.0", testEndpoint, "s-1", newMemSink())
	chunks, keyFrames, err := r.Seed(context.Background())
	require.NoError(t, err)
	assert.Zero(t, chunks)
	assert.Zero(t, keyFrames)
}

func TestFileSnapshotWriter_roundTrip(t *testing.T) {
	dir := t.TempDir()
	w := NewFileSnapshotWriter(dir)

	sink := newMemSink()
	r := NewRecord("2.0.0", testEndpoint, "6654667050", sink)
	r.RunID = "run-1"
	r.SetMetadata(metadataWithFinal(3, 2))
	for _, id := range []uint32{3, 1, 2} {
		r.MarkStored(KindChunk, id)
	}
	r.MarkStored(KindKeyFrame, 1)

	completed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, w.WriteSnapshot(context.Background(), r.Snapshot(completed)))

	path := w.Path("KR", "6654667050")
	assert.Equal(t, filepath.Join(dir, "KR", "6654667050.json"), path)

	got, err := ReadSnapshot(path)
	require.NoError(t, err)
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, "2.0.0", got.ProtocolVersion)
	assert.Equal(t, testEndpoint, got.Endpoint)
	assert.Equal(t, []uint32{1, 2, 3}, got.Chunks)
	assert.Equal(t, []uint32{1}, got.KeyFrames)
	assert.Equal(t, "MemorySink", got.Storage)
	assert.True(t, completed.Equal(got.CompletedAt))
	require.NotNil(t, got.Metadata)
	assert.Equal(t, int32(3), got.Metadata.EndGameChunkID)

	entries, err := os.ReadDir(filepath.Join(dir, "KR"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files are left behind")
}

func TestFileSnapshotWriter_rejectsIncompleteSnapshot(t *testing.T) {
	w := NewFileSnapshotWriter(t.TempDir())
	err := w.WriteSnapshot(context.Background(), &Snapshot{SessionID: "1"})
	assert.Error(t, err)
}

func TestRetryPolicy(t *testing.T) {
	assert.False(t, DefaultRetryPolicy().Exhausted(1_000_000))
	p := RetryPolicy{MaxAttempts: 2}
	assert.False(t, p.Exhausted(1))
	assert.True(t, p.Exhausted(2))
}

func TestSleepContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, sleepContext(ctx, 0))
	require.NoError(t, sleepContext(ctx, time.Millisecond))
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
	assert.ErrorIs(t, sleepContext(ctx, 0), context.Canceled)
}
