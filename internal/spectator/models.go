package spectator

import "time"

// GameKey identifies a session on its platform.
type GameKey struct {
	GameID     uint64 `json:"gameId"`
	PlatformID string `json:"platformId"`
}

// PendingChunk describes a chunk the server has announced but not yet served.
type PendingChunk struct {
	ChunkID      uint32 `json:"chunkId"`
	Duration     uint32 `json:"duration"`
	ReceivedTime string `json:"receivedTime"`
}

// PendingKeyFrame describes an announced keyframe and the chunk that follows it.
type PendingKeyFrame struct {
	KeyFrameID   uint32 `json:"keyFrameId"`
	ReceivedTime string `json:"receivedTime"`
	NextChunkID  uint32 `json:"nextChunkId"`
}

// Metadata is the descriptive payload fetched once when a session starts.
// End ids are negative or zero while the session is still live.
type Metadata struct {
	GameKey                   GameKey           `json:"gameKey"`
	GameServerAddress         string            `json:"gameServerAddress"`
	Port                      uint32            `json:"port"`
	EncryptionKey             string            `json:"encryptionKey"`
	ChunkTimeInterval         uint32            `json:"chunkTimeInterval"`
	StartTime                 string            `json:"startTime"`
	GameEnded                 bool              `json:"gameEnded"`
	LastChunkID               uint32            `json:"lastChunkId"`
	LastKeyFrameID            uint32            `json:"lastKeyFrameId"`
	EndStartupChunkID         uint32            `json:"endStartupChunkId"`
	DelayTime                 uint32            `json:"delayTime"`
	PendingAvailableChunks    []PendingChunk    `json:"pendingAvailableChunkInfo"`
	PendingAvailableKeyFrames []PendingKeyFrame `json:"pendingAvailableKeyFrameInfo"`
	KeyFrameTimeInterval      uint64            `json:"keyFrameTimeInterval"`
	DecodedEncryptionKey      string            `json:"decodedEncryptionKey"`
	StartGameChunkID          uint32            `json:"startGameChunkId"`
	GameLength                uint32            `json:"gameLength"`
	ClientAddedLag            uint32            `json:"clientAddedLag"`
	ClientBackFetchingEnabled bool              `json:"clientBackFetchingEnabled"`
	ClientBackFetchingFreq    uint32            `json:"clientBackFetchingFreq"`
	InterestScore             uint32            `json:"interestScore"`
	FeaturedGame              bool              `json:"featuredGame"`
	CreateTime                string            `json:"createTime"`
	EndGameChunkID            int32             `json:"endGameChunkId"`
	EndGameKeyFrameID         int32             `json:"endGameKeyFrameId"`
}

// FinalChunkID returns the declared last chunk id, or 0 when not yet known.
func (m *Metadata) FinalChunkID() uint32 {
	if m == nil || m.EndGameChunkID <= 0 {
		return 0
	}
	return uint32(m.EndGameChunkID)
}

// FinalKeyFrameID returns the declared last keyframe id, or 0 when not yet known.
func (m *Metadata) FinalKeyFrameID() uint32 {
	if m == nil || m.EndGameKeyFrameID <= 0 {
		return 0
	}
	return uint32(m.EndGameKeyFrameID)
}

// ChunkInfo is the snapshot returned by each poll of the latest chunk.
type ChunkInfo struct {
	ChunkID            uint32 `json:"chunkId"`
	AvailableSince     uint64 `json:"availableSince"`
	NextAvailableChunk uint32 `json:"nextAvailableChunk"`
	KeyFrameID         uint32 `json:"keyFrameId"`
	NextChunkID        uint32 `json:"nextChunkId"`
	EndStartupChunkID  uint32 `json:"endStartupChunkId"`
	StartGameChunkID   uint32 `json:"startGameChunkId"`
	EndGameChunkID     uint32 `json:"endGameChunkId"`
	EndGameKeyFrameID  uint32 `json:"endGameKeyFrameId,omitempty"`
	Duration           uint32 `json:"duration"`
}

// NextAvailableIn is how long the server expects to wait before the next chunk.
func (c ChunkInfo) NextAvailableIn() time.Duration {
	return time.Duration(c.NextAvailableChunk) * time.Millisecond
}
