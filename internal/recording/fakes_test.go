package recording

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"spectator-recorder/internal/platform/metrics"
	"spectator-recorder/internal/spectator"
)

var errScriptExhausted = errors.New("poll script exhausted")

type pollResult struct {
	info *spectator.ChunkInfo
	err  error
}

func info(chunkID, keyFrameID uint32) pollResult {
	return pollResult{info: &spectator.ChunkInfo{ChunkID: chunkID, KeyFrameID: keyFrameID}}
}

func finalInfo(chunkID, keyFrameID, endGameChunkID uint32) pollResult {
	return pollResult{info: &spectator.ChunkInfo{ChunkID: chunkID, KeyFrameID: keyFrameID, EndGameChunkID: endGameChunkID}}
}

func pollErr(msg string) pollResult {
	return pollResult{err: errors.New(msg)}
}

// fakeSource replays a scripted sequence of chunk info reports. Once the script
// runs out every poll fails, so a bounded retry policy ends runaway tests.
type fakeSource struct {
	mu sync.Mutex

	version     string
	versionErr  error
	metadata    *spectator.Metadata
	metadataErr error

	polls     []pollResult
	pollCalls int
	onPoll    func(call int)

	chunkErr    map[uint32]error
	keyFrameErr map[uint32]error

	chunkCalls    []uint32
	keyFrameCalls []uint32
}

func newFakeSource(md *spectator.Metadata, polls ...pollResult) *fakeSource {
	return &fakeSource{
		version:     "2.0.0",
		metadata:    md,
		polls:       polls,
		chunkErr:    map[uint32]error{},
		keyFrameErr: map[uint32]error{},
	}
}

func (f *fakeSource) Version(ctx context.Context, ep spectator.Endpoint) (string, error) {
	return f.version, f.versionErr
}

func (f *fakeSource) Metadata(ctx context.Context, ep spectator.Endpoint, sessionID string) (*spectator.Metadata, error) {
	if f.metadataErr != nil {
		return nil, f.metadataErr
	}
	return f.metadata, nil
}

func (f *fakeSource) LatestChunkInfo(ctx context.Context, ep spectator.Endpoint, sessionID string) (*spectator.ChunkInfo, error) {
	f.mu.Lock()
	call := f.pollCalls
	f.pollCalls++
	f.mu.Unlock()

	if f.onPoll != nil {
		f.onPoll(call)
	}
	if call >= len(f.polls) {
		return nil, errScriptExhausted
	}
	p := f.polls[call]
	if p.err != nil {
		return nil, p.err
	}
	out := *p.info
	return &out, nil
}

func (f *fakeSource) Chunk(ctx context.Context, ep spectator.Endpoint, sessionID string, chunkID uint32) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunkCalls = append(f.chunkCalls, chunkID)
	if err := f.chunkErr[chunkID]; err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("chunk-%d", chunkID)), nil
}

func (f *fakeSource) KeyFrame(ctx context.Context, ep spectator.Endpoint, sessionID string, keyFrameID uint32) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keyFrameCalls = append(f.keyFrameCalls, keyFrameID)
	if err := f.keyFrameErr[keyFrameID]; err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("keyframe-%d", keyFrameID)), nil
}

// memSink keeps payloads in memory and counts writes per id.
type memSink struct {
	mu sync.Mutex

	chunks    map[uint32][]byte
	keyFrames map[uint32][]byte

	chunkWrites    map[uint32]int
	keyFrameWrites map[uint32]int

	failChunk map[uint32]error
}

func newMemSink() *memSink {
	return &memSink{
		chunks:         map[uint32][]byte{},
		keyFrames:      map[uint32][]byte{},
		chunkWrites:    map[uint32]int{},
		keyFrameWrites: map[uint32]int{},
		failChunk:      map[uint32]error{},
	}
}

func (s *memSink) StoreChunk(ctx context.Context, id uint32, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failChunk[id]; err != nil {
		return err
	}
	s.chunks[id] = data
	s.chunkWrites[id]++
	return nil
}

func (s *memSink) StoreKeyFrame(ctx context.Context, id uint32, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keyFrames[id] = data
	s.keyFrameWrites[id]++
	return nil
}

func (s *memSink) Describe() string {
	return "MemorySink"
}

// inventorySink is a memSink that also reports what it holds.
type inventorySink struct {
	*memSink
	listErr error
}

func (s *inventorySink) ChunkIDs(ctx context.Context) ([]uint32, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return keys(s.chunks), nil
}

func (s *inventorySink) KeyFrameIDs(ctx context.Context) ([]uint32, error) {
	return keys(s.keyFrames), nil
}

func keys(m map[uint32][]byte) []uint32 {
	out := make([]uint32, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	return out
}

type memSnapshots struct {
	written []*Snapshot
	err     error
}

func (m *memSnapshots) WriteSnapshot(ctx context.Context, s *Snapshot) error {
	if m.err != nil {
		return m.err
	}
	m.written = append(m.written, s)
	return nil
}

func metadataWithFinal(chunk, keyFrame int32) *spectator.Metadata {
	return &spectator.Metadata{
		GameKey:           spectator.GameKey{GameID: 1, PlatformID: "KR"},
		ChunkTimeInterval: 30000,
		EndGameChunkID:    chunk,
		EndGameKeyFrameID: keyFrame,
	}
}

var testEndpoint = spectator.NewEndpoint("http://spectator.test", "KR")

// newTestController uses a zero-delay policy; MaxAttempts keeps a broken
// script from spinning forever.
func newTestController(src Source, opts ...ControllerOption) *Controller {
	base := []ControllerOption{
		WithRetryPolicy(RetryPolicy{Interval: 0, MaxAttempts: 20}),
		WithPacePadding(0),
	}
	return NewController(src, append(base, opts...)...)
}

func keysOf(m map[uint32]int) []uint32 {
	s := NewIDSet()
	for id := range m {
		s.Insert(id)
	}
	return s.Sorted()
}

func requireWrittenOnce(t *testing.T, writes map[uint32]int) {
	t.Helper()
	for id, n := range writes {
		require.Equalf(t, 1, n, "id %d written %d times", id, n)
	}
}

func metricValue(t *testing.T, m *metrics.Metrics, name string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	var total float64
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			if c := metric.GetCounter(); c != nil {
				total += c.GetValue()
			}
			if g := metric.GetGauge(); g != nil {
				total += g.GetValue()
			}
		}
	}
	return total
}
