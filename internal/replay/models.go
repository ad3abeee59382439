// Package replay serves recorded or hand-registered sessions over the
// spectator consumer protocol so the recorder can be exercised locally.
package replay

import "time"

// SessionKey identifies a served session.
type SessionKey struct {
	PlatformID string
	SessionID  string
}

func (k SessionKey) String() string {
	return k.PlatformID + "/" + k.SessionID
}

// Payload is one registered chunk or keyframe.
type Payload struct {
	ID   uint32
	Data []byte

	// ReceivedAt is when the payload was registered.
	ReceivedAt time.Time
}

// SessionState holds all in-memory state for one served session.
type SessionState struct {
	Key       SessionKey
	Chunks    map[uint32]Payload
	KeyFrames map[uint32]Payload
	Ended     bool
	CreatedAt time.Time
}

// SessionView is a read-only copy of a session's progress.
type SessionView struct {
	Key         SessionKey
	ChunkIDs    []uint32
	KeyFrameIDs []uint32
	Ended       bool
	CreatedAt   time.Time

	// LastChunkAt is when the newest chunk was registered; zero without chunks.
	LastChunkAt time.Time
}

// LastChunkID returns the highest registered chunk id, or 0.
func (v SessionView) LastChunkID() uint32 {
	return last(v.ChunkIDs)
}

// LastKeyFrameID returns the highest registered keyframe id, or 0.
func (v SessionView) LastKeyFrameID() uint32 {
	return last(v.KeyFrameIDs)
}

func last(ids []uint32) uint32 {
	if len(ids) == 0 {
		return 0
	}
	return ids[len(ids)-1]
}
