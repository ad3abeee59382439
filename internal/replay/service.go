package replay

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"spectator-recorder/internal/recording"
	"spectator-recorder/internal/spectator"
	"spectator-recorder/internal/storage"
)

// ProtocolVersion is what the served version endpoint reports.
const ProtocolVersion = "2.0.0"

// DefaultChunkInterval is the chunk cadence advertised to clients.
const DefaultChunkInterval = 30 * time.Second

// keyFrameInterval is advertised in metadata only.
const keyFrameInterval = 60 * time.Second

const startTimeLayout = "Jan 2, 2006 3:04:05 PM"

// ErrInvalidID is returned for payload id 0.
var ErrInvalidID = errors.New("ids start at 1")

// Service turns repository state into spectator protocol responses.
type Service struct {
	repo          Repository
	chunkInterval time.Duration
	now           func() time.Time
}

// NewService returns a Service over repo. A chunkInterval <= 0 uses
// DefaultChunkInterval.
func NewService(repo Repository, chunkInterval time.Duration) *Service {
	if chunkInterval <= 0 {
		chunkInterval = DefaultChunkInterval
	}
	return &Service{repo: repo, chunkInterval: chunkInterval, now: time.Now}
}

// Version returns the served protocol version.
func (s *Service) Version() string {
	return ProtocolVersion
}

// Register records a chunk or keyframe for the session.
func (s *Service) Register(key SessionKey, kind recording.Kind, id uint32, data []byte) error {
	if id == 0 {
		return ErrInvalidID
	}
	return s.repo.Register(key, kind, id, data)
}

// EndSession marks the session ended; its last chunk becomes the final chunk.
func (s *Service) EndSession(key SessionKey) error {
	return s.repo.EndSession(key)
}

// Payload returns the bytes of a registered chunk or keyframe.
func (s *Service) Payload(key SessionKey, kind recording.Kind, id uint32) ([]byte, bool) {
	return s.repo.Payload(key, kind, id)
}

// Metadata builds the session metadata document. End ids stay -1 until the
// session is ended.
func (s *Service) Metadata(key SessionKey) (*spectator.Metadata, bool) {
	view, ok := s.repo.Snapshot(key)
	if !ok {
		return nil, false
	}
	gameID, _ := strconv.ParseUint(key.SessionID, 10, 64)
	md := &spectator.Metadata{
		GameKey:                   spectator.GameKey{GameID: gameID, PlatformID: key.PlatformID},
		ChunkTimeInterval:         uint32(s.chunkInterval.Milliseconds()),
		KeyFrameTimeInterval:      uint64(keyFrameInterval.Milliseconds()),
		StartTime:                 view.CreatedAt.Format(startTimeLayout),
		CreateTime:                view.CreatedAt.Format(startTimeLayout),
		GameEnded:                 view.Ended,
		LastChunkID:               view.LastChunkID(),
		LastKeyFrameID:            view.LastKeyFrameID(),
		EndStartupChunkID:         firstOr(view.ChunkIDs, 0),
		StartGameChunkID:          firstOr(view.ChunkIDs, 0),
		PendingAvailableChunks:    []spectator.PendingChunk{},
		PendingAvailableKeyFrames: []spectator.PendingKeyFrame{},
		EndGameChunkID:            -1,
		EndGameKeyFrameID:         -1,
	}
	if view.Ended {
		md.EndGameChunkID = int32(view.LastChunkID())
		md.EndGameKeyFrameID = int32(view.LastKeyFrameID())
	}
	return md, true
}

// LatestChunkInfo reports the highest registered chunk and keyframe. While
// the session is live, NextAvailableChunk estimates when the next chunk is due.
func (s *Service) LatestChunkInfo(key SessionKey) (*spectator.ChunkInfo, bool) {
	view, ok := s.repo.Snapshot(key)
	if !ok {
		return nil, false
	}
	chunkID := view.LastChunkID()
	info := &spectator.ChunkInfo{
		ChunkID:           chunkID,
		KeyFrameID:        view.LastKeyFrameID(),
		NextChunkID:       chunkID + 1,
		EndStartupChunkID: firstOr(view.ChunkIDs, 0),
		StartGameChunkID:  firstOr(view.ChunkIDs, 0),
		Duration:          uint32(s.chunkInterval.Milliseconds()),
	}

	var since time.Duration
	if !view.LastChunkAt.IsZero() {
		since = s.now().Sub(view.LastChunkAt)
		if since < 0 {
			since = 0
		}
		info.AvailableSince = uint64(since.Milliseconds())
	}

	if view.Ended {
		info.NextChunkID = chunkID
		info.EndGameChunkID = chunkID
		info.EndGameKeyFrameID = view.LastKeyFrameID()
		return info, true
	}
	if wait := s.chunkInterval - since; wait > 0 {
		info.NextAvailableChunk = uint32(wait.Milliseconds())
	}
	return info, true
}

// SeedRecording loads a disk recording at <root>/<platform>/<session> into
// the repository and optionally ends the session.
func (s *Service) SeedRecording(ctx context.Context, root string, key SessionKey, end bool) (chunks, keyFrames int, err error) {
	d, err := storage.OpenDisk(root, key.PlatformID, key.SessionID)
	if err != nil {
		return 0, 0, err
	}

	load := func(kind recording.Kind, list func(context.Context) ([]uint32, error), read func(uint32) ([]byte, error)) (int, error) {
		ids, err := list(ctx)
		if err != nil {
			return 0, err
		}
		for _, id := range ids {
			data, err := read(id)
			if err != nil {
				return 0, fmt.Errorf("read %s %d: %w", kind, id, err)
			}
			if err := s.Register(key, kind, id, data); err != nil {
				return 0, fmt.Errorf("register %s %d: %w", kind, id, err)
			}
		}
		return len(ids), nil
	}

	if chunks, err = load(recording.KindChunk, d.ChunkIDs, d.ReadChunk); err != nil {
		return 0, 0, err
	}
	if keyFrames, err = load(recording.KindKeyFrame, d.KeyFrameIDs, d.ReadKeyFrame); err != nil {
		return 0, 0, err
	}
	if end && chunks+keyFrames > 0 {
		if err := s.EndSession(key); err != nil {
			return 0, 0, err
		}
	}
	return chunks, keyFrames, nil
}

// SeedDir seeds every <platform>/<session> recording found under root and
// returns the seeded keys in order.
func (s *Service) SeedDir(ctx context.Context, root string, end bool) ([]SessionKey, error) {
	platforms, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read seed dir: %w", err)
	}
	var keys []SessionKey
	for _, p := range platforms {
		if !p.IsDir() {
			continue
		}
		sessions, err := os.ReadDir(filepath.Join(root, p.Name()))
		if err != nil {
			return nil, fmt.Errorf("read platform dir: %w", err)
		}
		for _, sess := range sessions {
			if !sess.IsDir() {
				continue
			}
			key := SessionKey{PlatformID: p.Name(), SessionID: sess.Name()}
			chunks, keyFrames, err := s.SeedRecording(ctx, root, key, end)
			if err != nil {
				return nil, fmt.Errorf("seed %s: %w", key, err)
			}
			if chunks+keyFrames > 0 {
				keys = append(keys, key)
			}
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys, nil
}

func firstOr(ids []uint32, fallback uint32) uint32 {
	if len(ids) == 0 {
		return fallback
	}
	return ids[0]
}
